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

type summaryRepository struct {
	mu        sync.RWMutex
	summaries map[model.ConversationID][]*model.Summary
}

func newSummaryRepository() *summaryRepository {
	return &summaryRepository{
		summaries: make(map[model.ConversationID][]*model.Summary),
	}
}

func (r *summaryRepository) Create(ctx context.Context, conversationID model.ConversationID, summary *model.Summary) (*model.Summary, error) {
	if !summary.Level.IsValid() {
		return nil, goerr.New("invalid summary level", goerr.T(model.TagValidation), goerr.V("level", summary.Level))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	created := summary.Copy()
	if created.ID == "" {
		created.ID = model.NewSummaryID()
	}
	created.ConversationID = conversationID
	if created.Timestamp.IsZero() {
		created.Timestamp = time.Now()
	}
	created.Timestamp = model.NormalizeTime(created.Timestamp)

	r.summaries[conversationID] = append(r.summaries[conversationID], created)
	return created.Copy(), nil
}

func (r *summaryRepository) List(ctx context.Context, conversationID model.ConversationID) ([]*model.Summary, error) {
	return r.list(conversationID, "", 0), nil
}

func (r *summaryRepository) ListByLevel(ctx context.Context, conversationID model.ConversationID, level types.SummaryLevel, limit int) ([]*model.Summary, error) {
	return r.list(conversationID, level, limit), nil
}

func (r *summaryRepository) list(conversationID model.ConversationID, level types.SummaryLevel, limit int) []*model.Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.summaries[conversationID]
	result := make([]*model.Summary, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		if level != "" && stored[i].Level != level {
			continue
		}
		result = append(result, stored[i].Copy())
	}

	// Newest first; later insertion wins ties
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}
