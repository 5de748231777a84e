package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hypomnema/pkg/domain/types"
)

// ConversationID is a UUID-based identifier for Conversation
type ConversationID string

// NewConversationID generates a new UUID v4 ConversationID
func NewConversationID() ConversationID {
	return ConversationID(uuid.New().String())
}

// String returns the string representation of ConversationID
func (id ConversationID) String() string {
	return string(id)
}

// Conversation is the metadata of one chat session.
// MessageCount equals the number of messages ever appended and never decreases.
type Conversation struct {
	ID             ConversationID
	UserID         string
	Status         types.ConversationStatus
	StartTime      time.Time
	LastActivity   time.Time
	MessageCount   int64
	CurrentTopicID TopicID
}

// Validate checks the decoded metadata is usable
func (c *Conversation) Validate() error {
	if c.ID == "" {
		return goerr.New("conversation ID is empty", goerr.T(TagCorrupted))
	}
	if !c.Status.IsValid() {
		return goerr.New("invalid conversation status", goerr.T(TagCorrupted), goerr.V("status", c.Status))
	}
	if c.StartTime.IsZero() {
		return goerr.New("conversation start time is missing", goerr.T(TagCorrupted))
	}
	if c.MessageCount < 0 {
		return goerr.New("negative message count", goerr.T(TagCorrupted), goerr.V("count", c.MessageCount))
	}
	return nil
}

// MetadataUpdate is a partial update of conversation metadata. Nil fields are left unchanged.
type MetadataUpdate struct {
	Status         *types.ConversationStatus
	LastActivity   *time.Time
	MessageCount   *int64
	CurrentTopicID *TopicID
}

// IsEmpty reports whether the update carries no field
func (u MetadataUpdate) IsEmpty() bool {
	return u.Status == nil && u.LastActivity == nil && u.MessageCount == nil && u.CurrentTopicID == nil
}

// Session is returned when a conversation session starts
type Session struct {
	Conversation *Conversation
	// ImmediateContext holds the most recent messages; empty for a new session
	ImmediateContext []*Message
	Topic            *TopicSegment
}

// NormalizeTime converts a timestamp to the representation used by the persistent
// store: UTC with microsecond precision. All writes go through it so that values
// read back compare equal to the values written.
func NormalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Microsecond)
}
