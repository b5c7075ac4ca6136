package service

import (
	"encoding/json"

	"github.com/agentforge/runtime/internal/domain/entity"
)

// FlatMessage is the legacy flat wire form accepted by older clients and by
// the REST surface's convenience endpoints (spec §4.3). Which fields are
// meaningful depends on Role: an assistant turn may carry Content and
// ToolCalls together; a tool turn carries ToolCallID and Content.
type FlatMessage struct {
	Role       string          `json:"role"`
	Content    string          `json:"content,omitempty"`
	Reasoning  string          `json:"reasoning,omitempty"`
	ToolCalls  []FlatToolCall  `json:"toolCalls,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
}

// FlatToolCall mirrors the chat-completions dialect's tool_calls entry.
type FlatToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToParts converts a flat message into the canonical parts form. Grounded
// on the teacher's message normalization helpers, generalized to the
// spec's five part kinds.
func ToParts(flat FlatMessage) (entity.Message, error) {
	role := entity.Role(flat.Role)
	if role == "" {
		return entity.Message{}, entity.ErrInvalidMessage
	}

	msg := entity.Message{Role: role}

	switch role {
	case entity.RoleTool:
		if flat.ToolCallID == "" {
			return entity.Message{}, entity.ErrInvalidMessage
		}
		msg.Parts = append(msg.Parts, entity.Part{
			Type:            entity.PartToolCallResponse,
			ToolResponseFor: flat.ToolCallID,
			ToolResponse:    stringifyIfObjectLooking(flat.Content),
		})

	case entity.RoleAssistant:
		if flat.Reasoning != "" {
			msg.Parts = append(msg.Parts, entity.Part{Type: entity.PartReasoning, Text: flat.Reasoning})
		}
		if flat.Content != "" {
			msg.Parts = append(msg.Parts, entity.Part{Type: entity.PartText, Text: flat.Content})
		}
		for _, tc := range flat.ToolCalls {
			msg.Parts = append(msg.Parts, entity.Part{
				Type:         entity.PartToolCall,
				ToolCallID:   tc.ID,
				ToolCallName: tc.Name,
				ToolCallArgs: tc.Args,
			})
		}
		if len(msg.Parts) == 0 {
			return entity.Message{}, entity.ErrInvalidMessage
		}

	case entity.RoleUser, entity.RoleSystem:
		if flat.Content == "" {
			return entity.Message{}, entity.ErrInvalidMessage
		}
		msg.Parts = append(msg.Parts, entity.Part{Type: entity.PartText, Text: flat.Content})

	default:
		return entity.Message{}, entity.ErrInvalidMessage
	}

	return msg, nil
}

// FromParts converts the canonical parts form back to the flat legacy form.
// Invariant 4 (spec §8): fromParts(toParts(m)) == m for every representable
// flat message.
func FromParts(msg entity.Message) FlatMessage {
	flat := FlatMessage{Role: string(msg.Role)}
	for _, p := range msg.Parts {
		switch p.Type {
		case entity.PartText:
			flat.Content = p.Text
		case entity.PartReasoning:
			flat.Reasoning = p.Text
		case entity.PartToolCall:
			flat.ToolCalls = append(flat.ToolCalls, FlatToolCall{ID: p.ToolCallID, Name: p.ToolCallName, Args: p.ToolCallArgs})
		case entity.PartToolCallResponse:
			flat.ToolCallID = p.ToolResponseFor
			flat.Content = responseToString(p.ToolResponse)
		}
	}
	return flat
}

// responseToString implements "objects stringify on the flat side" for
// tool-call responses (spec §4.3).
func responseToString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// stringifyIfObjectLooking is the inverse: a flat tool-response content
// string that is valid JSON object/array syntax is decoded back to its
// object form so the round trip preserves the original shape; plain
// strings pass through unchanged.
func stringifyIfObjectLooking(content string) any {
	if len(content) == 0 {
		return content
	}
	switch content[0] {
	case '{', '[':
		var v any
		if err := json.Unmarshal([]byte(content), &v); err == nil {
			return v
		}
	}
	return content
}
