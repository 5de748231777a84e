package model

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hypomnema/pkg/domain/types"
)

// MessageID is a UUID v7 identifier. v7 IDs are time ordered, so they also break
// timestamp ties in insertion order.
type MessageID string

// NewMessageID generates a new UUID v7 MessageID
func NewMessageID() MessageID {
	return MessageID(uuid.Must(uuid.NewV7()).String())
}

// String returns the string representation of MessageID
func (id MessageID) String() string {
	return string(id)
}

// Message is one immutable turn of a conversation. Kind is the variant
// discriminant; ToolCallID and ToolName are only meaningful for tool calls and
// tool results.
type Message struct {
	ID           MessageID
	Kind         types.MessageKind
	Content      string
	ToolCallID   string
	ToolName     string
	Themes       []string
	EmbeddingRef string
	Timestamp    time.Time
}

// NewUserMessage creates a user message
func NewUserMessage(content string) *Message {
	return &Message{Kind: types.MessageKindUser, Content: content}
}

// NewAssistantMessage creates a plain assistant reply
func NewAssistantMessage(content string) *Message {
	return &Message{Kind: types.MessageKindAssistantText, Content: content}
}

// NewToolCallMessage creates an assistant message that invokes a tool.
// args is the JSON encoded argument object.
func NewToolCallMessage(toolCallID, toolName, args string) *Message {
	return &Message{
		Kind:       types.MessageKindAssistantToolCall,
		Content:    args,
		ToolCallID: toolCallID,
		ToolName:   toolName,
	}
}

// NewToolResultMessage creates the result message of a tool call
func NewToolResultMessage(toolCallID, toolName, output string) *Message {
	return &Message{
		Kind:       types.MessageKindToolResult,
		Content:    output,
		ToolCallID: toolCallID,
		ToolName:   toolName,
	}
}

// Role returns the speaker role
func (m *Message) Role() types.Role {
	return m.Kind.Role()
}

// IsToolCall reports whether the message invokes a tool
func (m *Message) IsToolCall() bool {
	return m.Kind == types.MessageKindAssistantToolCall
}

// Resolves reports whether m is the tool result answering call
func (m *Message) Resolves(call *Message) bool {
	return call != nil && call.IsToolCall() &&
		m.Kind == types.MessageKindToolResult &&
		m.ToolCallID == call.ToolCallID
}

// Validate checks the message before it is stored
func (m *Message) Validate() error {
	if !m.Kind.IsValid() {
		return goerr.New("invalid message kind", goerr.T(TagValidation), goerr.V("kind", m.Kind))
	}
	if m.Kind.HasToolCallID() && m.ToolCallID == "" {
		return goerr.New("tool call ID is required", goerr.T(TagValidation), goerr.V("kind", m.Kind))
	}
	if m.Kind != types.MessageKindAssistantToolCall && strings.TrimSpace(m.Content) == "" {
		return goerr.New("message content is empty", goerr.T(TagValidation), goerr.V("kind", m.Kind))
	}
	return nil
}

// Copy returns a deep copy of the message
func (m *Message) Copy() *Message {
	copied := *m
	if m.Themes != nil {
		copied.Themes = make([]string, len(m.Themes))
		copy(copied.Themes, m.Themes)
	}
	return &copied
}

// SortMessages orders messages oldest first by timestamp, breaking ties by ID
func SortMessages(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

// MessageThemes returns the union of themes carried by msgs
func MessageThemes(msgs []*Message) []string {
	lists := make([][]string, 0, len(msgs))
	for _, m := range msgs {
		lists = append(lists, m.Themes)
	}
	return UniqueThemes(lists...)
}
