package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/secmon-lab/hypomnema/pkg/domain/types"
)

// TopicID is a UUID-based identifier for TopicSegment
type TopicID string

// NewTopicID generates a new UUID v4 TopicID
func NewTopicID() TopicID {
	return TopicID(uuid.New().String())
}

// String returns the string representation of TopicID
func (id TopicID) String() string {
	return string(id)
}

// TopicSegment is a contiguous run of messages sharing a topic. At most one
// segment per conversation is active.
type TopicSegment struct {
	ID             TopicID
	ConversationID ConversationID
	StartMessageID MessageID
	EndMessageID   MessageID // empty while active
	Themes         []string
	MessageCount   int64
	Status         types.TopicStatus
	Timestamp      time.Time
	CompletedAt    time.Time
	Summary        string
}

// IsActive reports whether the segment is still open
func (s *TopicSegment) IsActive() bool {
	return s.Status == types.TopicStatusActive
}

// Copy returns a deep copy of the segment
func (s *TopicSegment) Copy() *TopicSegment {
	copied := *s
	if s.Themes != nil {
		copied.Themes = make([]string, len(s.Themes))
		copy(copied.Themes, s.Themes)
	}
	return &copied
}
