package usecase

import (
	"context"
	"slices"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hypomnema/pkg/domain/interfaces"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
	"github.com/secmon-lab/hypomnema/pkg/domain/model/config"
	"github.com/secmon-lab/hypomnema/pkg/service/llm"
	"github.com/secmon-lab/hypomnema/pkg/utils/logging"
)

// TopicUseCase tracks topic segments. A conversation has at most one active
// segment; a segment is completed once and never reopened.
type TopicUseCase struct {
	repo interfaces.Repository
	llm  llm.Service
	cfg  config.MemoryConfig
}

// NewTopicUseCase creates a new TopicUseCase instance
func NewTopicUseCase(repo interfaces.Repository, llmService llm.Service, cfg config.MemoryConfig) *TopicUseCase {
	return &TopicUseCase{
		repo: repo,
		llm:  llmService,
		cfg:  cfg,
	}
}

// CreateTopicSegment opens a new active segment and makes it the conversation's current topic
func (uc *TopicUseCase) CreateTopicSegment(ctx context.Context, conversationID model.ConversationID, startMessageID model.MessageID, themes []string) (*model.TopicSegment, error) {
	seg, err := uc.repo.Topic().Create(ctx, conversationID, &model.TopicSegment{
		StartMessageID: startMessageID,
		Themes:         model.UniqueThemes(themes),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create topic segment", goerr.V(model.ConversationIDKey, conversationID))
	}

	if _, err := uc.repo.Conversation().Update(ctx, conversationID, model.MetadataUpdate{CurrentTopicID: &seg.ID}); err != nil {
		return nil, goerr.Wrap(err, "failed to set current topic",
			goerr.V(model.ConversationIDKey, conversationID),
			goerr.V(model.TopicIDKey, seg.ID))
	}

	return seg, nil
}

// CompleteTopicSegment closes an active segment. Completing it twice fails with a validation error.
func (uc *TopicUseCase) CompleteTopicSegment(ctx context.Context, conversationID model.ConversationID, topicID model.TopicID, endMessageID model.MessageID, summary string) (*model.TopicSegment, error) {
	seg, err := uc.repo.Topic().Complete(ctx, conversationID, topicID, endMessageID, summary)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to complete topic segment",
			goerr.V(model.ConversationIDKey, conversationID),
			goerr.V(model.TopicIDKey, topicID))
	}
	return seg, nil
}

// DetectTopicChange reports whether msg starts a new topic. It does when the
// current topic cannot be loaded or when the similarity between msg and the
// recent context window falls below the configured threshold.
func (uc *TopicUseCase) DetectTopicChange(ctx context.Context, conversationID model.ConversationID, msg *model.Message, currentTopicID model.TopicID) (bool, error) {
	if currentTopicID == "" {
		return true, nil
	}

	current, err := uc.repo.Topic().Get(ctx, conversationID, currentTopicID)
	if err != nil || !current.IsActive() {
		logging.From(ctx).Debug("current topic unavailable, treating as topic change",
			"conversation_id", conversationID,
			"topic_id", currentTopicID,
			"error", err,
		)
		return true, nil
	}

	window, err := uc.contextWindow(ctx, conversationID, msg.ID)
	if err != nil {
		return false, err
	}
	if window == "" {
		return false, nil
	}

	score, err := uc.llm.Similarity(ctx, msg.Content, window)
	if err != nil {
		return false, goerr.Wrap(err, "failed to compute topic similarity", goerr.V(model.ConversationIDKey, conversationID))
	}

	logging.From(ctx).Debug("topic similarity",
		"conversation_id", conversationID,
		"score", score,
		"threshold", uc.cfg.TopicChangeThreshold,
	)
	return score < uc.cfg.TopicChangeThreshold, nil
}

// contextWindow joins the most recent messages before exclude in chronological order
func (uc *TopicUseCase) contextWindow(ctx context.Context, conversationID model.ConversationID, exclude model.MessageID) (string, error) {
	latest, err := uc.repo.Message().ListLatest(ctx, conversationID, uc.cfg.TopicContextWindow+1)
	if err != nil {
		return "", goerr.Wrap(err, "failed to load topic context window", goerr.V(model.ConversationIDKey, conversationID))
	}

	var window []string
	for _, m := range latest {
		if m.ID == exclude || m.IsToolCall() {
			continue
		}
		if len(window) == uc.cfg.TopicContextWindow {
			break
		}
		window = append(window, m.Content)
	}
	slices.Reverse(window)

	return strings.Join(window, "\n"), nil
}

// SwitchTopic completes the current segment at the message preceding msg and
// opens a new segment starting at msg
func (uc *TopicUseCase) SwitchTopic(ctx context.Context, conversationID model.ConversationID, currentTopicID model.TopicID, msg *model.Message) (*model.TopicSegment, error) {
	if currentTopicID != "" {
		endMessageID, err := uc.previousMessageID(ctx, conversationID, msg.ID)
		if err != nil {
			return nil, err
		}
		if _, err := uc.CompleteTopicSegment(ctx, conversationID, currentTopicID, endMessageID, ""); err != nil && !model.IsNotFound(err) && !model.IsValidation(err) {
			return nil, err
		}
	}

	seg, err := uc.CreateTopicSegment(ctx, conversationID, msg.ID, msg.Themes)
	if err != nil {
		return nil, err
	}

	logging.From(ctx).Info("topic changed",
		"conversation_id", conversationID,
		"previous_topic_id", currentTopicID,
		"topic_id", seg.ID,
	)
	return seg, nil
}

func (uc *TopicUseCase) previousMessageID(ctx context.Context, conversationID model.ConversationID, current model.MessageID) (model.MessageID, error) {
	latest, err := uc.repo.Message().ListLatest(ctx, conversationID, 2)
	if err != nil {
		return "", goerr.Wrap(err, "failed to load previous message", goerr.V(model.ConversationIDKey, conversationID))
	}
	for _, m := range latest {
		if m.ID != current {
			return m.ID, nil
		}
	}
	return "", nil
}

// IncrementMessageCount adds one to the segment's running count. A missing segment is ignored.
func (uc *TopicUseCase) IncrementMessageCount(ctx context.Context, conversationID model.ConversationID, topicID model.TopicID) error {
	if err := uc.repo.Topic().IncrementMessageCount(ctx, conversationID, topicID); err != nil {
		if model.IsNotFound(err) {
			return nil
		}
		return goerr.Wrap(err, "failed to increment topic message count",
			goerr.V(model.ConversationIDKey, conversationID),
			goerr.V(model.TopicIDKey, topicID))
	}
	return nil
}

// GetActiveTopic returns the active segment, tagged not-found when there is none
func (uc *TopicUseCase) GetActiveTopic(ctx context.Context, conversationID model.ConversationID) (*model.TopicSegment, error) {
	seg, err := uc.repo.Topic().GetActive(ctx, conversationID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get active topic", goerr.V(model.ConversationIDKey, conversationID))
	}
	return seg, nil
}

// ListTopics returns every segment of the conversation, oldest first
func (uc *TopicUseCase) ListTopics(ctx context.Context, conversationID model.ConversationID) ([]*model.TopicSegment, error) {
	segs, err := uc.repo.Topic().List(ctx, conversationID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list topics", goerr.V(model.ConversationIDKey, conversationID))
	}
	return segs, nil
}
