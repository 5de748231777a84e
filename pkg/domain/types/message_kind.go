package types

import "fmt"

// Role is the speaker of a message as seen by the language model
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageKind is the discriminant of the message variant.
// Tool calls and tool results are assistant-role messages.
type MessageKind string

const (
	MessageKindUser              MessageKind = "user"
	MessageKindAssistantText     MessageKind = "assistant_text"
	MessageKindAssistantToolCall MessageKind = "assistant_tool_call"
	MessageKindToolResult        MessageKind = "tool_result"
)

// AllMessageKinds returns all valid message kinds
func AllMessageKinds() []MessageKind {
	return []MessageKind{
		MessageKindUser,
		MessageKindAssistantText,
		MessageKindAssistantToolCall,
		MessageKindToolResult,
	}
}

// IsValid checks if the message kind is valid
func (k MessageKind) IsValid() bool {
	switch k {
	case MessageKindUser,
		MessageKindAssistantText,
		MessageKindAssistantToolCall,
		MessageKindToolResult:
		return true
	default:
		return false
	}
}

// Role returns the speaker role of the message kind
func (k MessageKind) Role() Role {
	if k == MessageKindUser {
		return RoleUser
	}
	return RoleAssistant
}

// HasToolCallID reports whether messages of this kind must carry a tool call ID
func (k MessageKind) HasToolCallID() bool {
	return k == MessageKindAssistantToolCall || k == MessageKindToolResult
}

// String returns the string representation of the message kind
func (k MessageKind) String() string {
	return string(k)
}

// ParseMessageKind parses a string into a MessageKind
func ParseMessageKind(s string) (MessageKind, error) {
	kind := MessageKind(s)
	if !kind.IsValid() {
		return "", fmt.Errorf("invalid message kind: %s", s)
	}
	return kind, nil
}
