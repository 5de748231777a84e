package interfaces

import (
	"context"

	"github.com/secmon-lab/hypomnema/pkg/domain/model"
)

// MessageRepository defines the interface for conversation message persistence.
// Messages are ordered by timestamp, ties broken by ID.
type MessageRepository interface {
	// Append stores a message under a conversation. ID and Timestamp are assigned when empty.
	Append(ctx context.Context, conversationID model.ConversationID, msg *model.Message) (*model.Message, error)

	// ListLatest returns up to limit most recent messages, newest first
	ListLatest(ctx context.Context, conversationID model.ConversationID, limit int) ([]*model.Message, error)

	// ListRange returns messages at positions [start, end), oldest first
	ListRange(ctx context.Context, conversationID model.ConversationID, start, end int) ([]*model.Message, error)
}
