package usecase

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hypomnema/pkg/domain/interfaces"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
	"github.com/secmon-lab/hypomnema/pkg/domain/types"
	"github.com/secmon-lab/hypomnema/pkg/utils/logging"
)

// ConversationUseCase is the conversation store: session lifecycle, message
// history and metadata. It never updates the message counter on append;
// MessageProcessor owns that step.
type ConversationUseCase struct {
	repo interfaces.Repository
}

// NewConversationUseCase creates a new ConversationUseCase instance
func NewConversationUseCase(repo interfaces.Repository) *ConversationUseCase {
	return &ConversationUseCase{repo: repo}
}

// CreateSession starts a conversation for userID with an initial empty topic segment
func (uc *ConversationUseCase) CreateSession(ctx context.Context, userID string) (*model.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrEmptyUserID
	}

	conv, err := uc.repo.Conversation().Create(ctx, &model.Conversation{
		UserID: userID,
		Status: types.ConversationStatusActive,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create conversation", goerr.V(UserIDKey, userID))
	}

	topic, err := uc.repo.Topic().Create(ctx, conv.ID, &model.TopicSegment{Themes: []string{}})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create initial topic segment", goerr.V(model.ConversationIDKey, conv.ID))
	}

	conv, err = uc.repo.Conversation().Update(ctx, conv.ID, model.MetadataUpdate{CurrentTopicID: &topic.ID})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to set current topic", goerr.V(model.ConversationIDKey, topic.ConversationID))
	}

	logging.From(ctx).Info("conversation session created",
		"conversation_id", conv.ID,
		"user_id", userID,
		"topic_id", topic.ID,
	)

	return &model.Session{
		Conversation:     conv,
		ImmediateContext: []*model.Message{},
		Topic:            topic,
	}, nil
}

// AddMessage appends msg to the conversation history and returns the stored
// message with its assigned ID. Metadata is not touched.
func (uc *ConversationUseCase) AddMessage(ctx context.Context, conversationID model.ConversationID, msg *model.Message) (*model.Message, error) {
	stored, err := uc.repo.Message().Append(ctx, conversationID, msg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to add message", goerr.V(model.ConversationIDKey, conversationID))
	}
	return stored, nil
}

// GetLastMessages returns up to count most recent messages, newest first
func (uc *ConversationUseCase) GetLastMessages(ctx context.Context, conversationID model.ConversationID, count int) ([]*model.Message, error) {
	msgs, err := uc.repo.Message().ListLatest(ctx, conversationID, count)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get last messages",
			goerr.V(model.ConversationIDKey, conversationID),
			goerr.V("count", count))
	}
	return msgs, nil
}

// ImmediateContext returns up to count most recent messages in chronological order
func (uc *ConversationUseCase) ImmediateContext(ctx context.Context, conversationID model.ConversationID, count int) ([]*model.Message, error) {
	msgs, err := uc.GetLastMessages(ctx, conversationID, count)
	if err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// GetMessageRange returns the messages at positions [start, end), oldest first
func (uc *ConversationUseCase) GetMessageRange(ctx context.Context, conversationID model.ConversationID, start, end int) ([]*model.Message, error) {
	msgs, err := uc.repo.Message().ListRange(ctx, conversationID, start, end)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get message range",
			goerr.V(model.ConversationIDKey, conversationID),
			goerr.V("start", start),
			goerr.V("end", end))
	}
	return msgs, nil
}

// GetMetadata returns the conversation metadata. A missing conversation is
// tagged not-found and unreadable metadata corrupted.
func (uc *ConversationUseCase) GetMetadata(ctx context.Context, conversationID model.ConversationID) (*model.Conversation, error) {
	conv, err := uc.repo.Conversation().Get(ctx, conversationID)
	if err != nil {
		if model.IsNotFound(err) {
			return nil, goerr.Wrap(ErrConversationNotFound, "failed to get conversation metadata",
				goerr.T(model.TagNotFound),
				goerr.V(model.ConversationIDKey, conversationID))
		}
		return nil, goerr.Wrap(err, "failed to get conversation metadata", goerr.V(model.ConversationIDKey, conversationID))
	}
	return conv, nil
}

// UpdateMetadata merges the set fields of update into the conversation metadata
func (uc *ConversationUseCase) UpdateMetadata(ctx context.Context, conversationID model.ConversationID, update model.MetadataUpdate) (*model.Conversation, error) {
	if update.IsEmpty() {
		return uc.GetMetadata(ctx, conversationID)
	}
	if update.LastActivity != nil {
		normalized := model.NormalizeTime(*update.LastActivity)
		update.LastActivity = &normalized
	}

	conv, err := uc.repo.Conversation().Update(ctx, conversationID, update)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to update conversation metadata", goerr.V(model.ConversationIDKey, conversationID))
	}
	return conv, nil
}

// IncrementMessageCount atomically adds one to the message counter and returns the new count
func (uc *ConversationUseCase) IncrementMessageCount(ctx context.Context, conversationID model.ConversationID) (int64, error) {
	count, err := uc.repo.Conversation().IncrementMessageCount(ctx, conversationID, model.NormalizeTime(time.Now()))
	if err != nil {
		return 0, goerr.Wrap(err, "failed to increment message count", goerr.V(model.ConversationIDKey, conversationID))
	}
	return count, nil
}

// CompleteSession marks the conversation completed and closes its active topic segment
func (uc *ConversationUseCase) CompleteSession(ctx context.Context, conversationID model.ConversationID) (*model.Conversation, error) {
	if _, err := uc.GetMetadata(ctx, conversationID); err != nil {
		return nil, err
	}

	status := types.ConversationStatusCompleted
	now := time.Now()
	conv, err := uc.UpdateMetadata(ctx, conversationID, model.MetadataUpdate{
		Status:       &status,
		LastActivity: &now,
	})
	if err != nil {
		return nil, err
	}

	if err := uc.completeActiveTopic(ctx, conversationID); err != nil {
		return nil, err
	}

	logging.From(ctx).Info("conversation session completed",
		"conversation_id", conversationID,
		"message_count", conv.MessageCount,
	)
	return conv, nil
}

func (uc *ConversationUseCase) completeActiveTopic(ctx context.Context, conversationID model.ConversationID) error {
	active, err := uc.repo.Topic().GetActive(ctx, conversationID)
	if err != nil {
		if model.IsNotFound(err) {
			return nil
		}
		return goerr.Wrap(err, "failed to get active topic segment", goerr.V(model.ConversationIDKey, conversationID))
	}

	var endMessageID model.MessageID
	latest, err := uc.GetLastMessages(ctx, conversationID, 1)
	if err != nil {
		return err
	}
	if len(latest) > 0 {
		endMessageID = latest[0].ID
	}

	if _, err := uc.repo.Topic().Complete(ctx, conversationID, active.ID, endMessageID, ""); err != nil {
		return goerr.Wrap(err, "failed to complete active topic segment",
			goerr.V(model.ConversationIDKey, conversationID),
			goerr.V(model.TopicIDKey, active.ID))
	}
	return nil
}

// ListSessions returns up to limit conversations of userID, most recently active first
func (uc *ConversationUseCase) ListSessions(ctx context.Context, userID string, limit int) ([]*model.Conversation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrEmptyUserID
	}
	convs, err := uc.repo.Conversation().ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list conversations", goerr.V(UserIDKey, userID))
	}
	return convs, nil
}
