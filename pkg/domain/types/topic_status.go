package types

import "fmt"

// TopicStatus represents the status of a topic segment.
// A segment moves from active to completed exactly once.
type TopicStatus string

const (
	TopicStatusActive    TopicStatus = "active"
	TopicStatusCompleted TopicStatus = "completed"
)

// IsValid checks if the topic status is valid
func (s TopicStatus) IsValid() bool {
	switch s {
	case TopicStatusActive,
		TopicStatusCompleted:
		return true
	default:
		return false
	}
}

// String returns the string representation of the topic status
func (s TopicStatus) String() string {
	return string(s)
}

// ParseTopicStatus parses a string into a TopicStatus
func ParseTopicStatus(s string) (TopicStatus, error) {
	status := TopicStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid topic status: %s", s)
	}
	return status, nil
}
