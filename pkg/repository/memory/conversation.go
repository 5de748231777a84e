package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
	"github.com/secmon-lab/hypomnema/pkg/domain/types"
)

type conversationRepository struct {
	mu            sync.RWMutex
	conversations map[model.ConversationID]*model.Conversation
}

func newConversationRepository() *conversationRepository {
	return &conversationRepository{
		conversations: make(map[model.ConversationID]*model.Conversation),
	}
}

func copyConversation(c *model.Conversation) *model.Conversation {
	copied := *c
	return &copied
}

func (r *conversationRepository) Create(ctx context.Context, conv *model.Conversation) (*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	created := copyConversation(conv)
	if created.ID == "" {
		created.ID = model.NewConversationID()
	}
	if _, exists := r.conversations[created.ID]; exists {
		return nil, goerr.New("conversation already exists", goerr.T(model.TagValidation), goerr.V(model.ConversationIDKey, created.ID))
	}

	now := model.NormalizeTime(time.Now())
	if created.Status == "" {
		created.Status = types.ConversationStatusActive
	}
	if created.StartTime.IsZero() {
		created.StartTime = now
	}
	if created.LastActivity.IsZero() {
		created.LastActivity = created.StartTime
	}
	created.StartTime = model.NormalizeTime(created.StartTime)
	created.LastActivity = model.NormalizeTime(created.LastActivity)

	r.conversations[created.ID] = created
	return copyConversation(created), nil
}

func (r *conversationRepository) Get(ctx context.Context, id model.ConversationID) (*model.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conv, exists := r.conversations[id]
	if !exists {
		return nil, goerr.Wrap(ErrNotFound, "conversation not found", goerr.T(model.TagNotFound), goerr.V(model.ConversationIDKey, id))
	}
	if err := conv.Validate(); err != nil {
		return nil, goerr.Wrap(err, "stored conversation is corrupted", goerr.V(model.ConversationIDKey, id))
	}

	return copyConversation(conv), nil
}

func (r *conversationRepository) Update(ctx context.Context, id model.ConversationID, update model.MetadataUpdate) (*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, exists := r.conversations[id]
	if !exists {
		return nil, goerr.Wrap(ErrNotFound, "conversation not found", goerr.T(model.TagNotFound), goerr.V(model.ConversationIDKey, id))
	}

	if update.Status != nil {
		conv.Status = *update.Status
	}
	if update.LastActivity != nil {
		conv.LastActivity = model.NormalizeTime(*update.LastActivity)
	}
	if update.MessageCount != nil {
		conv.MessageCount = *update.MessageCount
	}
	if update.CurrentTopicID != nil {
		conv.CurrentTopicID = *update.CurrentTopicID
	}

	return copyConversation(conv), nil
}

func (r *conversationRepository) IncrementMessageCount(ctx context.Context, id model.ConversationID, lastActivity time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, exists := r.conversations[id]
	if !exists {
		return 0, goerr.Wrap(ErrNotFound, "conversation not found", goerr.T(model.TagNotFound), goerr.V(model.ConversationIDKey, id))
	}

	conv.MessageCount++
	conv.LastActivity = model.NormalizeTime(lastActivity)
	return conv.MessageCount, nil
}

func (r *conversationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*model.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*model.Conversation, 0)
	for _, c := range r.conversations {
		if c.UserID == userID {
			result = append(result, copyConversation(c))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].LastActivity.Equal(result[j].LastActivity) {
			return result[i].LastActivity.After(result[j].LastActivity)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
