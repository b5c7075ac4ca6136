package service

import (
	"github.com/agentforge/runtime/internal/domain/entity"
)

// Project folds an entire event log into a Projection. Pure function: no
// side effects, no I/O. Grounded on the replay-oriented shape of the
// teacher's state_machine.go mutation helpers, rewritten as a pure fold
// per spec §4.2 (the teacher mutates a live StateMachine in place; this
// keeps the same sequential event walk but makes it side-effect free).
func Project(events []entity.Event) entity.Projection {
	return ProjectUntil(events, ^uint64(0))
}

// ProjectUntil folds events with seq <= upTo.
func ProjectUntil(events []entity.Event, upTo uint64) entity.Projection {
	state := entity.Projection{Status: entity.StatusIdle}
	for _, e := range events {
		if e.Seq > upTo {
			break
		}
		state = Apply(state, e)
	}
	return state
}

// ProjectFromSnapshot resumes a fold from a cached Projection plus the
// events after snapshotSeq. Invariant 1 (spec §8) requires this produce the
// same state as Project(allEvents) starting from a prefix snapshot.
func ProjectFromSnapshot(snapshot entity.Projection, snapshotSeq uint64, tail []entity.Event) entity.Projection {
	state := snapshot
	for _, e := range tail {
		if e.Seq <= snapshotSeq {
			continue
		}
		state = Apply(state, e)
	}
	return state
}

// Apply is the single-event fold step. Unknown event types are identity
// transitions (spec §9 Design Notes: "tagged event unions ... unknown
// types remain valid").
func Apply(state entity.Projection, e entity.Event) entity.Projection {
	switch e.Type {
	case entity.EventAgentInvoked:
		state.Status = entity.StatusRunning

	case entity.EventAgentStep:
		if step, ok := e.Data["step"].(float64); ok {
			state.Step = int(step)
		}

	case entity.EventAgentPaused:
		state.Status = entity.StatusPaused
		if reason, ok := e.Data["reason"].(string); ok {
			state.LastError = reason
		}

	case entity.EventAgentResumed:
		state.Status = entity.StatusRunning

	case entity.EventAgentCompleted:
		state.Status = entity.StatusCompleted
		state.PendingToolCalls = nil

	case entity.EventAgentCanceled:
		state.Status = entity.StatusCanceled
		state.PendingToolCalls = nil

	case entity.EventAgentError:
		state.Status = entity.StatusError
		state.PendingToolCalls = nil
		if msg, ok := e.Data["message"].(string); ok {
			state.LastError = msg
		}

	case entity.EventInferenceDetails:
		state = applyInferenceDetails(state, e)

	case entity.EventUserMessage:
		if msg, ok := decodeMessage(e.Data["message"]); ok {
			state.Messages = appendIfNewTail(state.Messages, []entity.Message{msg})
		}

	case entity.EventToolFinish:
		toolCallID, _ := e.Data["toolCallId"].(string)
		state.PendingToolCalls = removeToolCall(state.PendingToolCalls, toolCallID)
		if msg, ok := toolResultMessage(e); ok {
			state.Messages = append(state.Messages, msg)
		}

	case entity.EventToolError:
		toolCallID, _ := e.Data["toolCallId"].(string)
		state.PendingToolCalls = removeToolCall(state.PendingToolCalls, toolCallID)
		if msg, ok := toolErrorMessage(e); ok {
			state.Messages = append(state.Messages, msg)
		}
	}

	if state.Status == entity.StatusCompleted || state.Status == entity.StatusCanceled {
		state.PendingToolCalls = nil
	}
	return state
}

// applyInferenceDetails captures one full model call: input messages (with
// the prior-tail already projected de-duplicated against), the single
// output message, token usage, and finish reason, plus the tool calls it
// introduces as pending.
func applyInferenceDetails(state entity.Projection, e entity.Event) entity.Projection {
	if input, ok := e.Data["input"].(map[string]any); ok {
		if rawMsgs, ok := input["messages"].([]any); ok {
			var msgs []entity.Message
			for _, rm := range rawMsgs {
				if m, ok := decodeMessage(rm); ok {
					msgs = append(msgs, m)
				}
			}
			state.Messages = appendIfNewTail(state.Messages, msgs)
		}
	}
	if output, ok := decodeMessage(e.Data["output"]); ok {
		state.Messages = append(state.Messages, output)
		for _, call := range output.ToolCalls() {
			state.PendingToolCalls = append(state.PendingToolCalls, call.ToolCallID)
		}
	}
	if usage, ok := e.Data["usage"].(map[string]any); ok {
		if in, ok := usage["inputTokens"].(float64); ok {
			state.TotalInputTokens += int64(in)
		}
		if out, ok := usage["outputTokens"].(float64); ok {
			state.TotalOutputTokens += int64(out)
		}
	}
	state.InferenceCount++
	return state
}

// appendIfNewTail implements the de-duplication rule from spec §4.2: an
// inference event's input.messages commonly repeats the projection's
// existing tail (the common case on turn N+1); only the new suffix is
// appended. Comparison is by structural equality of (role, parts), per
// invariant 2.
func appendIfNewTail(existing []entity.Message, incoming []entity.Message) []entity.Message {
	overlap := commonPrefixLen(existing, incoming)
	if overlap >= len(incoming) {
		return existing
	}
	return append(append([]entity.Message(nil), existing...), incoming[overlap:]...)
}

// commonPrefixLen finds the longest run such that incoming[:n] matches the
// tail of existing (existing[len(existing)-n:] == incoming[:n]).
func commonPrefixLen(existing, incoming []entity.Message) int {
	maxN := len(incoming)
	if len(existing) < maxN {
		maxN = len(existing)
	}
	for n := maxN; n > 0; n-- {
		tail := existing[len(existing)-n:]
		match := true
		for i := 0; i < n; i++ {
			if !tail[i].StructurallyEqual(incoming[i]) {
				match = false
				break
			}
		}
		if match {
			return n
		}
	}
	return 0
}

func removeToolCall(pending []string, id string) []string {
	if id == "" {
		return pending
	}
	out := pending[:0:0]
	for _, p := range pending {
		if p != id {
			out = append(out, p)
		}
	}
	return out
}

func toolResultMessage(e entity.Event) (entity.Message, bool) {
	toolCallID, _ := e.Data["toolCallId"].(string)
	if toolCallID == "" {
		return entity.Message{}, false
	}
	return entity.Message{
		Role: entity.RoleTool,
		Parts: []entity.Part{{
			Type:            entity.PartToolCallResponse,
			ToolResponseFor: toolCallID,
			ToolResponse:    e.Data["response"],
		}},
	}, true
}

func toolErrorMessage(e entity.Event) (entity.Message, bool) {
	toolCallID, _ := e.Data["toolCallId"].(string)
	if toolCallID == "" {
		return entity.Message{}, false
	}
	msg, _ := e.Data["message"].(string)
	return entity.Message{
		Role: entity.RoleTool,
		Parts: []entity.Part{{
			Type:            entity.PartToolCallResponse,
			ToolResponseFor: toolCallID,
			ToolResponse:    "Error: " + msg,
		}},
	}, true
}

// decodeMessage best-effort decodes a map[string]any (as stored in event
// JSON data) into an entity.Message.
func decodeMessage(v any) (entity.Message, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return entity.Message{}, false
	}
	role, _ := m["role"].(string)
	msg := entity.Message{Role: entity.Role(role)}
	if rawParts, ok := m["parts"].([]any); ok {
		for _, rp := range rawParts {
			pm, ok := rp.(map[string]any)
			if !ok {
				continue
			}
			part := entity.Part{Type: entity.PartType(stringField(pm, "type"))}
			switch part.Type {
			case entity.PartText, entity.PartReasoning:
				part.Text = stringField(pm, "text")
			case entity.PartToolCall:
				part.ToolCallID = stringField(pm, "toolCallId")
				part.ToolCallName = stringField(pm, "toolCallName")
				if args, ok := pm["toolCallArgs"].(map[string]any); ok {
					part.ToolCallArgs = args
				}
			case entity.PartToolCallResponse:
				part.ToolResponseFor = stringField(pm, "toolCallResponseFor")
				part.ToolResponse = pm["toolCallResponse"]
			case entity.PartMedia:
				part.MediaURL = stringField(pm, "mediaUrl")
				part.MediaKind = stringField(pm, "mediaKind")
			}
			msg.Parts = append(msg.Parts, part)
		}
	}
	if fr, ok := m["finishReason"].(string); ok {
		msg.FinishReason = fr
	}
	return msg, true
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
