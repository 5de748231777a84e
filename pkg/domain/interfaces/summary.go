package interfaces

import (
	"context"

	"github.com/secmon-lab/hypomnema/pkg/domain/model"
	"github.com/secmon-lab/hypomnema/pkg/domain/types"
)

// SummaryRepository defines the interface for conversation summary persistence.
// Summaries are immutable once created.
type SummaryRepository interface {
	// Create stores a new summary. ID and Timestamp are assigned when empty.
	Create(ctx context.Context, conversationID model.ConversationID, summary *model.Summary) (*model.Summary, error)

	// List returns all summaries of a conversation, newest first
	List(ctx context.Context, conversationID model.ConversationID) ([]*model.Summary, error)

	// ListByLevel returns up to limit summaries of the given level, newest first
	ListByLevel(ctx context.Context, conversationID model.ConversationID, level types.SummaryLevel, limit int) ([]*model.Summary, error)
}
