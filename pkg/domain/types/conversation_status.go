package types

import "fmt"

// ConversationStatus represents the lifecycle status of a conversation session
type ConversationStatus string

const (
	ConversationStatusActive    ConversationStatus = "active"
	ConversationStatusCompleted ConversationStatus = "completed"
)

// AllConversationStatuses returns all valid conversation statuses
func AllConversationStatuses() []ConversationStatus {
	return []ConversationStatus{
		ConversationStatusActive,
		ConversationStatusCompleted,
	}
}

// IsValid checks if the conversation status is valid
func (s ConversationStatus) IsValid() bool {
	switch s {
	case ConversationStatusActive,
		ConversationStatusCompleted:
		return true
	default:
		return false
	}
}

// String returns the string representation of the conversation status
func (s ConversationStatus) String() string {
	return string(s)
}

// ParseConversationStatus parses a string into a ConversationStatus
func ParseConversationStatus(s string) (ConversationStatus, error) {
	status := ConversationStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid conversation status: %s", s)
	}
	return status, nil
}
