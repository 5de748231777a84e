package interfaces

import (
	"context"

	"github.com/secmon-lab/hypomnema/pkg/domain/model"
)

// TopicRepository defines the interface for topic segment persistence
type TopicRepository interface {
	// Create opens a new active segment. It fails with model.TagValidation when
	// the conversation already has an active segment.
	Create(ctx context.Context, conversationID model.ConversationID, seg *model.TopicSegment) (*model.TopicSegment, error)

	// Get retrieves a segment by ID
	Get(ctx context.Context, conversationID model.ConversationID, id model.TopicID) (*model.TopicSegment, error)

	// GetActive retrieves the active segment, tagged model.TagNotFound when there is none
	GetActive(ctx context.Context, conversationID model.ConversationID) (*model.TopicSegment, error)

	// Complete closes an active segment. Completing a completed segment fails with model.TagValidation.
	Complete(ctx context.Context, conversationID model.ConversationID, id model.TopicID, endMessageID model.MessageID, summary string) (*model.TopicSegment, error)

	// IncrementMessageCount adds one to the running count of a segment
	IncrementMessageCount(ctx context.Context, conversationID model.ConversationID, id model.TopicID) error

	// List returns all segments, oldest first
	List(ctx context.Context, conversationID model.ConversationID) ([]*model.TopicSegment, error)
}
