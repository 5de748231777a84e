package interfaces

import (
	"context"
	"time"

	"github.com/secmon-lab/hypomnema/pkg/domain/model"
)

// ConversationRepository defines the interface for conversation metadata persistence
type ConversationRepository interface {
	// Create stores a new conversation. ID is assigned when empty.
	Create(ctx context.Context, conv *model.Conversation) (*model.Conversation, error)

	// Get retrieves conversation metadata. A missing conversation is tagged
	// model.TagNotFound, an undecodable one model.TagCorrupted.
	Get(ctx context.Context, id model.ConversationID) (*model.Conversation, error)

	// Update merges the non-nil fields of update into the stored metadata
	Update(ctx context.Context, id model.ConversationID, update model.MetadataUpdate) (*model.Conversation, error)

	// IncrementMessageCount atomically adds one to the message counter, sets
	// LastActivity and returns the post-increment count
	IncrementMessageCount(ctx context.Context, id model.ConversationID, lastActivity time.Time) (int64, error)

	// ListByUser retrieves conversations of a user, newest first
	ListByUser(ctx context.Context, userID string, limit int) ([]*model.Conversation, error)
}
