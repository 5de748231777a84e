package memory

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
)

type messageRepository struct {
	mu       sync.RWMutex
	messages map[model.ConversationID][]*model.Message
}

func newMessageRepository() *messageRepository {
	return &messageRepository{
		messages: make(map[model.ConversationID][]*model.Message),
	}
}

func (r *messageRepository) Append(ctx context.Context, conversationID model.ConversationID, msg *model.Message) (*model.Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid message", goerr.V(model.ConversationIDKey, conversationID))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	created := msg.Copy()
	if created.ID == "" {
		created.ID = model.NewMessageID()
	}
	if created.Timestamp.IsZero() {
		created.Timestamp = time.Now()
	}
	created.Timestamp = model.NormalizeTime(created.Timestamp)

	// re-appending the same ID is a no-op so that retried writes stay idempotent
	for _, m := range r.messages[conversationID] {
		if m.ID == created.ID {
			return m.Copy(), nil
		}
	}

	msgs := append(r.messages[conversationID], created)
	model.SortMessages(msgs)
	r.messages[conversationID] = msgs

	return created.Copy(), nil
}

func (r *messageRepository) ListLatest(ctx context.Context, conversationID model.ConversationID, limit int) ([]*model.Message, error) {
	if limit <= 0 {
		return []*model.Message{}, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	msgs := r.messages[conversationID]
	result := make([]*model.Message, 0, min(limit, len(msgs)))
	for i := len(msgs) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, msgs[i].Copy())
	}
	return result, nil
}

func (r *messageRepository) ListRange(ctx context.Context, conversationID model.ConversationID, start, end int) ([]*model.Message, error) {
	if start < 0 || end < start {
		return nil, goerr.New("invalid message range", goerr.T(model.TagValidation), goerr.V("start", start), goerr.V("end", end))
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	msgs := r.messages[conversationID]
	if start >= len(msgs) {
		return []*model.Message{}, nil
	}
	end = min(end, len(msgs))

	result := make([]*model.Message, 0, end-start)
	for _, m := range msgs[start:end] {
		result = append(result, m.Copy())
	}
	return result, nil
}
