package entity

// Role is the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType discriminates a Part's payload.
type PartType string

const (
	PartText             PartType = "text"
	PartReasoning        PartType = "reasoning"
	PartToolCall         PartType = "tool_call"
	PartToolCallResponse PartType = "tool_call_response"
	PartMedia            PartType = "media"
)

// Part is one element of a Message's structured "parts" form.
type Part struct {
	Type PartType `json:"type"`

	// text / reasoning
	Text string `json:"text,omitempty"`

	// tool_call
	ToolCallID   string         `json:"toolCallId,omitempty"`
	ToolCallName string         `json:"toolCallName,omitempty"`
	ToolCallArgs map[string]any `json:"toolCallArgs,omitempty"`

	// tool_call_response
	ToolResponseFor string `json:"toolCallResponseFor,omitempty"`
	ToolResponse    any    `json:"toolCallResponse,omitempty"`

	// media
	MediaURL  string `json:"mediaUrl,omitempty"`
	MediaKind string `json:"mediaKind,omitempty"`
}

// Message is the canonical parts-form representation used internally by
// the projection engine and the provider adaptor's request builder.
type Message struct {
	Role         Role    `json:"role"`
	Parts        []Part  `json:"parts"`
	FinishReason string  `json:"finishReason,omitempty"`
	TS           *int64  `json:"ts,omitempty"`
}

// TextContent concatenates every text part, matching the flat form's
// notion of a single content string.
func (m Message) TextContent() string {
	out := ""
	for _, p := range m.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// ToolCalls returns every tool_call part.
func (m Message) ToolCalls() []Part {
	var calls []Part
	for _, p := range m.Parts {
		if p.Type == PartToolCall {
			calls = append(calls, p)
		}
	}
	return calls
}

// StructurallyEqual reports whether two messages have the same role and an
// element-wise equal parts list, used by the projection engine to detect
// the repeated-input-message tail described in spec invariant 2.
func (m Message) StructurallyEqual(o Message) bool {
	if m.Role != o.Role || len(m.Parts) != len(o.Parts) {
		return false
	}
	for i := range m.Parts {
		if !partsEqual(m.Parts[i], o.Parts[i]) {
			return false
		}
	}
	return true
}

func partsEqual(a, b Part) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case PartText, PartReasoning:
		return a.Text == b.Text
	case PartToolCall:
		if a.ToolCallID != b.ToolCallID || a.ToolCallName != b.ToolCallName {
			return false
		}
		return mapsShallowEqual(a.ToolCallArgs, b.ToolCallArgs)
	case PartToolCallResponse:
		return a.ToolResponseFor == b.ToolResponseFor
	case PartMedia:
		return a.MediaURL == b.MediaURL && a.MediaKind == b.MediaKind
	}
	return false
}

func mapsShallowEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok || bv != v {
			return false
		}
	}
	return true
}
