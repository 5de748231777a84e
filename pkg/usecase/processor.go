package usecase

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
	"github.com/secmon-lab/hypomnema/pkg/domain/model/config"
	"github.com/secmon-lab/hypomnema/pkg/domain/types"
	"github.com/secmon-lab/hypomnema/pkg/service/worker"
	"github.com/secmon-lab/hypomnema/pkg/utils/errutil"
	"github.com/secmon-lab/hypomnema/pkg/utils/logging"
)

// PairErrorCode classifies a failed ProcessMessagePair call
type PairErrorCode string

const (
	PairErrorConversationNotFound PairErrorCode = "CONVERSATION_NOT_FOUND"
	PairErrorStorage              PairErrorCode = "STORAGE_ERROR"
	PairErrorInvalidMessage       PairErrorCode = "INVALID_MESSAGE"
)

// PairResult is the outcome of ProcessMessagePair. On failure Success is false,
// ErrorCode tells a missing conversation apart from a storage failure and Err
// carries the cause.
type PairResult struct {
	Success            bool
	UserMessageID      model.MessageID
	AssistantMessageID model.MessageID
	ErrorCode          PairErrorCode
	Err                error
}

// MessageProcessor is the single entry point for adding messages. It keeps
// the message counter consistent and schedules background summaries when the
// counter reaches a chunk boundary.
//
// Summary tasks for overlapping windows of one conversation may run
// concurrently; summaries are best-effort artifacts and are not serialized.
type MessageProcessor struct {
	conversations *ConversationUseCase
	summaries     *SummaryUseCase
	topics        *TopicUseCase
	cfg           config.MemoryConfig
	queue         *worker.SummaryQueue
}

// ProcessorOption is a functional option for MessageProcessor
type ProcessorOption func(*MessageProcessor)

// WithTopicTracking runs topic change detection on every stored user message
func WithTopicTracking(topics *TopicUseCase) ProcessorOption {
	return func(p *MessageProcessor) {
		p.topics = topics
	}
}

// NewMessageProcessor creates a new MessageProcessor. Start must be called
// before summaries are generated.
func NewMessageProcessor(conversations *ConversationUseCase, summaries *SummaryUseCase, cfg config.MemoryConfig, opts ...ProcessorOption) *MessageProcessor {
	p := &MessageProcessor{
		conversations: conversations,
		summaries:     summaries,
		cfg:           cfg,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.queue = worker.NewSummaryQueue(p.HandleSummaryTask, cfg.SummaryQueueSize, cfg.SummaryWorkers)
	return p
}

// Start launches the background summary workers
func (p *MessageProcessor) Start(ctx context.Context) error {
	return p.queue.Start(ctx)
}

// Stop waits for queued summary tasks to finish and stops the workers
func (p *MessageProcessor) Stop() {
	p.queue.Stop()
}

// ShouldGenerateSummary reports whether a post-increment message count closes a summary chunk
func (p *MessageProcessor) ShouldGenerateSummary(messageCount int64) bool {
	chunk := int64(p.cfg.SummaryChunkSize)
	return chunk > 0 && messageCount > 0 && messageCount%chunk == 0
}

// AddMessage stores msg, increments the conversation's message counter and
// schedules a summary when the new count closes a chunk. A missing
// conversation surfaces as a not-found error. Summary scheduling never fails
// the call.
func (p *MessageProcessor) AddMessage(ctx context.Context, conversationID model.ConversationID, msg *model.Message) (*model.Message, error) {
	if msg == nil {
		return nil, goerr.New("message is required", goerr.T(model.TagValidation))
	}
	if err := msg.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid message", goerr.V(model.ConversationIDKey, conversationID))
	}

	conv, err := retry(ctx, p.cfg, "get_metadata", func() (*model.Conversation, error) {
		return p.conversations.GetMetadata(ctx, conversationID)
	})
	if err != nil {
		return nil, err
	}

	// ID and timestamp are fixed before the first attempt so a retried append
	// rewrites the same message
	pending := msg.Copy()
	if pending.ID == "" {
		pending.ID = model.NewMessageID()
	}
	if pending.Timestamp.IsZero() {
		pending.Timestamp = model.NormalizeTime(time.Now())
	}

	stored, err := retry(ctx, p.cfg, "add_message", func() (*model.Message, error) {
		return p.conversations.AddMessage(ctx, conversationID, pending)
	})
	if err != nil {
		return nil, err
	}

	count, err := retry(ctx, p.cfg, "increment_message_count", func() (int64, error) {
		return p.conversations.IncrementMessageCount(ctx, conversationID)
	})
	if err != nil {
		return nil, err
	}

	logging.From(ctx).Debug("message added",
		"conversation_id", conversationID,
		"message_id", stored.ID,
		"kind", stored.Kind,
		"message_count", count,
	)

	if p.topics != nil {
		if err := p.trackTopic(ctx, conv.ID, stored); err != nil {
			_ = errutil.Handle(ctx, err, "failed to track topic")
		}
	}

	if p.ShouldGenerateSummary(count) {
		task := worker.SummaryTask{
			ConversationID: conversationID,
			UserID:         conv.UserID,
			MessageCount:   count,
		}
		if err := p.queue.Enqueue(ctx, task); err != nil {
			_ = errutil.Handle(ctx, goerr.Wrap(err, "failed to schedule summary",
				goerr.V(model.ConversationIDKey, conversationID),
				goerr.V(MessageCountKey, count)), "summary not scheduled")
		}
	}

	return stored, nil
}

// ProcessMessagePair adds a user message followed by an assistant message.
// Failures are returned as a structured result instead of an error.
func (p *MessageProcessor) ProcessMessagePair(ctx context.Context, conversationID model.ConversationID, userMsg, assistantMsg *model.Message) *PairResult {
	for _, m := range []*model.Message{userMsg, assistantMsg} {
		if m == nil {
			return pairFailure(goerr.New("message is required", goerr.T(model.TagValidation)))
		}
		if err := m.Validate(); err != nil {
			return pairFailure(err)
		}
	}

	result := &PairResult{}

	stored, err := p.AddMessage(ctx, conversationID, userMsg)
	if err != nil {
		return pairFailure(err)
	}
	result.UserMessageID = stored.ID

	stored, err = p.AddMessage(ctx, conversationID, assistantMsg)
	if err != nil {
		failed := pairFailure(err)
		failed.UserMessageID = result.UserMessageID
		return failed
	}
	result.AssistantMessageID = stored.ID
	result.Success = true

	return result
}

func pairFailure(err error) *PairResult {
	code := PairErrorStorage
	switch {
	case model.IsNotFound(err):
		code = PairErrorConversationNotFound
	case model.IsValidation(err):
		code = PairErrorInvalidMessage
	}
	return &PairResult{ErrorCode: code, Err: err}
}

// trackTopic runs topic change detection for user messages and counts the
// message against the active segment
func (p *MessageProcessor) trackTopic(ctx context.Context, conversationID model.ConversationID, msg *model.Message) error {
	active, err := p.topics.GetActiveTopic(ctx, conversationID)
	if err != nil && !model.IsNotFound(err) {
		return err
	}

	if msg.Kind == types.MessageKindUser {
		var currentID model.TopicID
		if active != nil {
			currentID = active.ID
		}

		changed, err := p.topics.DetectTopicChange(ctx, conversationID, msg, currentID)
		if err != nil {
			return err
		}
		if changed {
			if active, err = p.topics.SwitchTopic(ctx, conversationID, currentID, msg); err != nil {
				return err
			}
		}
	}

	if active == nil {
		return nil
	}
	return p.topics.IncrementMessageCount(ctx, conversationID, active.ID)
}

// HandleSummaryTask generates the recent summary for the chunk closed at
// task.MessageCount and, every GlobalSummaryInterval chunks, a global roll-up
func (p *MessageProcessor) HandleSummaryTask(ctx context.Context, task worker.SummaryTask) error {
	chunk := p.cfg.SummaryChunkSize
	if task.MessageCount < int64(chunk) {
		return goerr.New("message count does not close a chunk",
			goerr.T(model.TagValidation),
			goerr.V(model.ConversationIDKey, task.ConversationID),
			goerr.V(MessageCountKey, task.MessageCount))
	}

	start := int(task.MessageCount) - chunk
	end := int(task.MessageCount)

	// one extra position is read to close a dangling tool call
	msgs, err := retry(ctx, p.cfg, "get_message_range", func() ([]*model.Message, error) {
		return p.conversations.GetMessageRange(ctx, task.ConversationID, start, end+1)
	})
	if err != nil {
		return err
	}
	window := summaryWindow(msgs, chunk)
	if len(window) == 0 {
		return goerr.Wrap(ErrNoMessages, "summary window is empty",
			goerr.T(model.TagValidation),
			goerr.V(model.ConversationIDKey, task.ConversationID),
			goerr.V(MessageCountKey, task.MessageCount))
	}

	conv, err := retry(ctx, p.cfg, "get_metadata", func() (*model.Conversation, error) {
		return p.conversations.GetMetadata(ctx, task.ConversationID)
	})
	if err != nil {
		return err
	}
	var segmentIDs []string
	if conv.CurrentTopicID != "" {
		segmentIDs = append(segmentIDs, conv.CurrentTopicID.String())
	}

	themes := model.MessageThemes(window)
	summary, err := retry(ctx, p.cfg, "generate_recent_summary", func() (*model.Summary, error) {
		return p.summaries.generateRecent(ctx, task.ConversationID, window, themes, segmentIDs, start+1, start+len(window))
	})
	if err != nil {
		return err
	}

	logging.From(ctx).Info("recent summary generated",
		"conversation_id", task.ConversationID,
		"summary_id", summary.ID,
		"message_start", summary.MessageStart,
		"message_end", summary.MessageEnd,
	)

	if p.shouldRollUp(task.MessageCount) {
		return p.rollUp(ctx, task.ConversationID)
	}
	return nil
}

// summaryWindow trims msgs to the chunk, keeping one extra message when the
// chunk ends on a tool call that the extra message resolves
func summaryWindow(msgs []*model.Message, chunk int) []*model.Message {
	if len(msgs) <= chunk {
		return msgs
	}
	last := msgs[chunk-1]
	if last.IsToolCall() && msgs[chunk].Resolves(last) {
		return msgs[:chunk+1]
	}
	return msgs[:chunk]
}

func (p *MessageProcessor) shouldRollUp(messageCount int64) bool {
	interval := int64(p.cfg.GlobalSummaryInterval)
	if interval <= 0 {
		return false
	}
	chunks := messageCount / int64(p.cfg.SummaryChunkSize)
	return chunks > 0 && chunks%interval == 0
}

func (p *MessageProcessor) rollUp(ctx context.Context, conversationID model.ConversationID) error {
	recent, err := retry(ctx, p.cfg, "get_recent_summaries", func() ([]*model.Summary, error) {
		return p.summaries.GetSummariesByLevel(ctx, conversationID, types.SummaryLevelRecent, p.cfg.GlobalSummaryInterval)
	})
	if err != nil {
		return err
	}
	if len(recent) == 0 {
		return nil
	}

	global, err := retry(ctx, p.cfg, "generate_global_summary", func() (*model.Summary, error) {
		return p.summaries.GenerateGlobalSummary(ctx, conversationID, recent)
	})
	if err != nil {
		return err
	}

	logging.From(ctx).Info("global summary generated",
		"conversation_id", conversationID,
		"summary_id", global.ID,
		"sources", len(recent),
	)
	return nil
}
