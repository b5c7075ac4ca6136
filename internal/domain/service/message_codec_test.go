package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/runtime/internal/domain/entity"
)

func TestToParts_UserMessage(t *testing.T) {
	msg, err := ToParts(FlatMessage{Role: "user", Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, entity.RoleUser, msg.Role)
	require.Len(t, msg.Parts, 1)
	assert.Equal(t, entity.PartText, msg.Parts[0].Type)
	assert.Equal(t, "hello", msg.Parts[0].Text)
}

func TestToParts_UserMessageRequiresContent(t *testing.T) {
	_, err := ToParts(FlatMessage{Role: "user"})
	assert.ErrorIs(t, err, entity.ErrInvalidMessage)
}

func TestToParts_AssistantWithReasoningTextAndToolCalls(t *testing.T) {
	flat := FlatMessage{
		Role:      "assistant",
		Reasoning: "thinking it through",
		Content:   "here is the answer",
		ToolCalls: []FlatToolCall{{ID: "call_1", Name: "fs_read", Args: map[string]any{"path": "/x"}}},
	}
	msg, err := ToParts(flat)
	require.NoError(t, err)
	require.Len(t, msg.Parts, 3)
	assert.Equal(t, entity.PartReasoning, msg.Parts[0].Type)
	assert.Equal(t, entity.PartText, msg.Parts[1].Type)
	assert.Equal(t, entity.PartToolCall, msg.Parts[2].Type)
	assert.Equal(t, "call_1", msg.Parts[2].ToolCallID)
}

func TestToParts_AssistantWithNoContentIsInvalid(t *testing.T) {
	_, err := ToParts(FlatMessage{Role: "assistant"})
	assert.ErrorIs(t, err, entity.ErrInvalidMessage)
}

func TestToParts_ToolRequiresToolCallID(t *testing.T) {
	_, err := ToParts(FlatMessage{Role: "tool", Content: "result"})
	assert.ErrorIs(t, err, entity.ErrInvalidMessage)
}

func TestToParts_ToolWithObjectLookingContentDecodesJSON(t *testing.T) {
	msg, err := ToParts(FlatMessage{Role: "tool", ToolCallID: "call_1", Content: `{"ok":true}`})
	require.NoError(t, err)
	decoded, ok := msg.Parts[0].ToolResponse.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, decoded["ok"])
}

func TestToParts_ToolWithPlainStringContent(t *testing.T) {
	msg, err := ToParts(FlatMessage{Role: "tool", ToolCallID: "call_1", Content: "plain text"})
	require.NoError(t, err)
	assert.Equal(t, "plain text", msg.Parts[0].ToolResponse)
}

func TestToParts_UnknownRoleIsInvalid(t *testing.T) {
	_, err := ToParts(FlatMessage{Role: "bogus", Content: "x"})
	assert.ErrorIs(t, err, entity.ErrInvalidMessage)
}

func TestFromParts_UserMessage(t *testing.T) {
	msg := entity.Message{Role: entity.RoleUser, Parts: []entity.Part{{Type: entity.PartText, Text: "hi"}}}
	flat := FromParts(msg)
	assert.Equal(t, "user", flat.Role)
	assert.Equal(t, "hi", flat.Content)
}

func TestFromParts_ToolResponseObjectStringifies(t *testing.T) {
	msg := entity.Message{Role: entity.RoleTool, Parts: []entity.Part{{
		Type:            entity.PartToolCallResponse,
		ToolResponseFor: "call_1",
		ToolResponse:    map[string]any{"ok": true},
	}}}
	flat := FromParts(msg)
	assert.Equal(t, "call_1", flat.ToolCallID)
	assert.JSONEq(t, `{"ok":true}`, flat.Content)
}

func TestRoundTrip_AssistantWithToolCalls(t *testing.T) {
	original := FlatMessage{
		Role:      "assistant",
		Content:   "doing it",
		ToolCalls: []FlatToolCall{{ID: "call_1", Name: "fs_read", Args: map[string]any{"path": "/x"}}},
	}
	msg, err := ToParts(original)
	require.NoError(t, err)
	roundTripped := FromParts(msg)

	assert.Equal(t, original.Role, roundTripped.Role)
	assert.Equal(t, original.Content, roundTripped.Content)
	require.Len(t, roundTripped.ToolCalls, 1)
	assert.Equal(t, original.ToolCalls[0], roundTripped.ToolCalls[0])
}

func TestRoundTrip_ToolMessageWithPlainStringContent(t *testing.T) {
	original := FlatMessage{Role: "tool", ToolCallID: "call_1", Content: "a plain result"}
	msg, err := ToParts(original)
	require.NoError(t, err)
	roundTripped := FromParts(msg)
	assert.Equal(t, original, roundTripped)
}
