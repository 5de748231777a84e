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

type topicRepository struct {
	mu     sync.RWMutex
	topics map[model.ConversationID]map[model.TopicID]*model.TopicSegment
}

func newTopicRepository() *topicRepository {
	return &topicRepository{
		topics: make(map[model.ConversationID]map[model.TopicID]*model.TopicSegment),
	}
}

func (r *topicRepository) activeLocked(conversationID model.ConversationID) *model.TopicSegment {
	for _, seg := range r.topics[conversationID] {
		if seg.IsActive() {
			return seg
		}
	}
	return nil
}

func (r *topicRepository) Create(ctx context.Context, conversationID model.ConversationID, seg *model.TopicSegment) (*model.TopicSegment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if active := r.activeLocked(conversationID); active != nil {
		return nil, goerr.New("conversation already has an active topic segment",
			goerr.T(model.TagValidation),
			goerr.V(model.ConversationIDKey, conversationID),
			goerr.V(model.TopicIDKey, active.ID))
	}

	created := seg.Copy()
	if created.ID == "" {
		created.ID = model.NewTopicID()
	}
	created.ConversationID = conversationID
	created.Status = types.TopicStatusActive
	created.EndMessageID = ""
	created.CompletedAt = time.Time{}
	if created.Timestamp.IsZero() {
		created.Timestamp = time.Now()
	}
	created.Timestamp = model.NormalizeTime(created.Timestamp)

	if _, exists := r.topics[conversationID]; !exists {
		r.topics[conversationID] = make(map[model.TopicID]*model.TopicSegment)
	}
	r.topics[conversationID][created.ID] = created

	return created.Copy(), nil
}

func (r *topicRepository) Get(ctx context.Context, conversationID model.ConversationID, id model.TopicID) (*model.TopicSegment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seg, exists := r.topics[conversationID][id]
	if !exists {
		return nil, goerr.Wrap(ErrNotFound, "topic segment not found", goerr.T(model.TagNotFound), goerr.V(model.TopicIDKey, id))
	}
	return seg.Copy(), nil
}

func (r *topicRepository) GetActive(ctx context.Context, conversationID model.ConversationID) (*model.TopicSegment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := r.activeLocked(conversationID)
	if active == nil {
		return nil, goerr.Wrap(ErrNotFound, "no active topic segment", goerr.T(model.TagNotFound), goerr.V(model.ConversationIDKey, conversationID))
	}
	return active.Copy(), nil
}

func (r *topicRepository) Complete(ctx context.Context, conversationID model.ConversationID, id model.TopicID, endMessageID model.MessageID, summary string) (*model.TopicSegment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seg, exists := r.topics[conversationID][id]
	if !exists {
		return nil, goerr.Wrap(ErrNotFound, "topic segment not found", goerr.T(model.TagNotFound), goerr.V(model.TopicIDKey, id))
	}
	if !seg.IsActive() {
		return nil, goerr.New("topic segment is already completed", goerr.T(model.TagValidation), goerr.V(model.TopicIDKey, id))
	}

	seg.Status = types.TopicStatusCompleted
	seg.EndMessageID = endMessageID
	seg.Summary = summary
	seg.CompletedAt = model.NormalizeTime(time.Now())

	return seg.Copy(), nil
}

func (r *topicRepository) IncrementMessageCount(ctx context.Context, conversationID model.ConversationID, id model.TopicID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seg, exists := r.topics[conversationID][id]
	if !exists {
		return goerr.Wrap(ErrNotFound, "topic segment not found", goerr.T(model.TagNotFound), goerr.V(model.TopicIDKey, id))
	}
	seg.MessageCount++
	return nil
}

func (r *topicRepository) List(ctx context.Context, conversationID model.ConversationID) ([]*model.TopicSegment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*model.TopicSegment, 0, len(r.topics[conversationID]))
	for _, seg := range r.topics[conversationID] {
		result = append(result, seg.Copy())
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Timestamp.Before(result[j].Timestamp)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}
