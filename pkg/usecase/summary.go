package usecase

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"slices"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hypomnema/pkg/domain/interfaces"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
	"github.com/secmon-lab/hypomnema/pkg/domain/types"
	"github.com/secmon-lab/hypomnema/pkg/service/llm"
	"github.com/secmon-lab/hypomnema/pkg/service/vector"
	"github.com/secmon-lab/hypomnema/pkg/utils/errutil"
	"github.com/secmon-lab/hypomnema/pkg/utils/logging"
)

//go:embed prompt/recent_summary.md
var recentSummaryPromptTmpl string

//go:embed prompt/global_summary.md
var globalSummaryPromptTmpl string

var promptFuncs = template.FuncMap{
	"join": strings.Join,
	"inc":  func(i int) int { return i + 1 },
}

var (
	recentSummaryPrompt = template.Must(template.New("recent_summary").Funcs(promptFuncs).Parse(recentSummaryPromptTmpl))
	globalSummaryPrompt = template.Must(template.New("global_summary").Funcs(promptFuncs).Parse(globalSummaryPromptTmpl))
)

const summarySystemPrompt = "You write concise, faithful summaries of conversations. Never invent content that is not in the input."

// SummaryUseCase creates hierarchical conversation summaries. Summaries are
// immutable; a corrected summary is a new entity.
type SummaryUseCase struct {
	repo    interfaces.Repository
	llm     llm.Service
	vectors *vector.Service
}

// SummaryOption is a functional option for SummaryUseCase
type SummaryOption func(*SummaryUseCase)

// WithSummaryEmbedding embeds every created summary into the memory index
func WithSummaryEmbedding(vectors *vector.Service) SummaryOption {
	return func(uc *SummaryUseCase) {
		uc.vectors = vectors
	}
}

// NewSummaryUseCase creates a new SummaryUseCase instance
func NewSummaryUseCase(repo interfaces.Repository, llmService llm.Service, opts ...SummaryOption) *SummaryUseCase {
	uc := &SummaryUseCase{
		repo: repo,
		llm:  llmService,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// CreateSummary persists a new summary and returns it with its assigned ID
func (uc *SummaryUseCase) CreateSummary(ctx context.Context, conversationID model.ConversationID, level types.SummaryLevel, content string, themes []string, segmentIDs []string) (*model.Summary, error) {
	return uc.create(ctx, &model.Summary{
		ConversationID: conversationID,
		Level:          level,
		Content:        content,
		Themes:         themes,
		SegmentIDs:     segmentIDs,
	})
}

func (uc *SummaryUseCase) create(ctx context.Context, summary *model.Summary) (*model.Summary, error) {
	if !summary.Level.IsValid() {
		return nil, goerr.New("invalid summary level", goerr.T(model.TagValidation), goerr.V("level", summary.Level))
	}
	if strings.TrimSpace(summary.Content) == "" {
		return nil, goerr.Wrap(ErrEmptySummary, "failed to create summary",
			goerr.T(model.TagValidation),
			goerr.V(model.ConversationIDKey, summary.ConversationID))
	}
	summary.Themes = model.UniqueThemes(summary.Themes)

	created, err := uc.repo.Summary().Create(ctx, summary.ConversationID, summary)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create summary",
			goerr.V(model.ConversationIDKey, summary.ConversationID),
			goerr.V("level", summary.Level))
	}

	logging.From(ctx).Info("summary created",
		"conversation_id", created.ConversationID,
		"summary_id", created.ID,
		"level", created.Level,
		"themes", created.Themes,
	)

	if uc.vectors != nil {
		if err := uc.embed(ctx, created); err != nil {
			_ = errutil.Handle(ctx, err, "failed to embed summary")
		}
	}

	return created, nil
}

// embed upserts the summary into the memory index so later sessions of the same user can retrieve it
func (uc *SummaryUseCase) embed(ctx context.Context, summary *model.Summary) error {
	conv, err := uc.repo.Conversation().Get(ctx, summary.ConversationID)
	if err != nil {
		return goerr.Wrap(err, "failed to get conversation for summary embedding",
			goerr.V(model.ConversationIDKey, summary.ConversationID))
	}

	vectors, err := uc.llm.GenerateEmbeddings(ctx, []string{summary.Content})
	if err != nil {
		return goerr.Wrap(err, "failed to embed summary", goerr.V(model.SummaryIDKey, summary.ID))
	}
	if len(vectors) == 0 {
		return goerr.Wrap(ErrEmbeddingMissing, "failed to embed summary", goerr.V(model.SummaryIDKey, summary.ID))
	}

	entry := &model.VectorEntry{
		ID:     summary.ID.String(),
		Vector: vectors[0],
		Metadata: map[string]any{
			model.MetaContent:         summary.Content,
			model.MetaLevel:           summary.Level.String(),
			model.MetaThemes:          append([]string{}, summary.Themes...),
			model.MetaUserID:          conv.UserID,
			model.MetaSessionID:       summary.ConversationID.String(),
			model.MetaTimestamp:       model.NormalizeTime(summary.Timestamp),
			model.MetaSourceReference: fmt.Sprintf("conversation:%s/summary:%s", summary.ConversationID, summary.ID),
		},
	}

	if err := uc.vectors.UpsertVector(ctx, model.MemoryIndex, entry); err != nil {
		return goerr.Wrap(err, "failed to upsert summary vector", goerr.V(model.SummaryIDKey, summary.ID))
	}
	return nil
}

// GenerateRecentSummary summarizes a message batch into a "recent" summary.
// Themes are the union of themes and the themes carried by messages.
func (uc *SummaryUseCase) GenerateRecentSummary(ctx context.Context, conversationID model.ConversationID, messages []*model.Message, themes []string, segmentIDs []string) (*model.Summary, error) {
	return uc.generateRecent(ctx, conversationID, messages, themes, segmentIDs, 0, 0)
}

type recentSummaryPromptData struct {
	Themes []string
	Lines  []string
}

func (uc *SummaryUseCase) generateRecent(ctx context.Context, conversationID model.ConversationID, messages []*model.Message, themes []string, segmentIDs []string, start, end int) (*model.Summary, error) {
	if len(messages) == 0 {
		return nil, goerr.Wrap(ErrNoMessages, "failed to generate recent summary",
			goerr.T(model.TagValidation),
			goerr.V(model.ConversationIDKey, conversationID))
	}

	allThemes := model.UniqueThemes(themes, model.MessageThemes(messages))
	data := recentSummaryPromptData{Themes: allThemes}
	for _, m := range messages {
		data.Lines = append(data.Lines, transcriptLine(m))
	}

	var buf bytes.Buffer
	if err := recentSummaryPrompt.Execute(&buf, data); err != nil {
		return nil, goerr.Wrap(err, "failed to execute recent summary prompt template")
	}

	content, err := uc.llm.GenerateText(ctx, summarySystemPrompt, buf.String())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate recent summary", goerr.V(model.ConversationIDKey, conversationID))
	}

	return uc.create(ctx, &model.Summary{
		ConversationID: conversationID,
		Level:          types.SummaryLevelRecent,
		Content:        content,
		Themes:         allThemes,
		SegmentIDs:     segmentIDs,
		MessageStart:   start,
		MessageEnd:     end,
	})
}

type globalSummaryPromptData struct {
	Themes    []string
	Summaries []string
}

// GenerateGlobalSummary rolls prior summaries up into a "global" summary.
// Its themes are the set union of the inputs' themes.
func (uc *SummaryUseCase) GenerateGlobalSummary(ctx context.Context, conversationID model.ConversationID, summaries []*model.Summary) (*model.Summary, error) {
	if len(summaries) == 0 {
		return nil, goerr.Wrap(ErrNoSummaries, "failed to generate global summary",
			goerr.T(model.TagValidation),
			goerr.V(model.ConversationIDKey, conversationID))
	}

	// inputs arrive newest first from the repository; the prompt reads oldest first
	ordered := make([]*model.Summary, len(summaries))
	copy(ordered, summaries)
	if len(ordered) > 1 && ordered[0].Timestamp.After(ordered[len(ordered)-1].Timestamp) {
		slices.Reverse(ordered)
	}

	themeLists := make([][]string, 0, len(ordered))
	segmentIDs := make([]string, 0, len(ordered))
	data := globalSummaryPromptData{}
	for _, s := range ordered {
		themeLists = append(themeLists, s.Themes)
		segmentIDs = append(segmentIDs, s.ID.String())
		data.Summaries = append(data.Summaries, s.Content)
	}
	themes := model.UniqueThemes(themeLists...)
	data.Themes = themes

	var buf bytes.Buffer
	if err := globalSummaryPrompt.Execute(&buf, data); err != nil {
		return nil, goerr.Wrap(err, "failed to execute global summary prompt template")
	}

	content, err := uc.llm.GenerateText(ctx, summarySystemPrompt, buf.String())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate global summary", goerr.V(model.ConversationIDKey, conversationID))
	}

	return uc.create(ctx, &model.Summary{
		ConversationID: conversationID,
		Level:          types.SummaryLevelGlobal,
		Content:        content,
		Themes:         themes,
		SegmentIDs:     segmentIDs,
	})
}

// GetSummaries returns all summaries of a conversation, newest first
func (uc *SummaryUseCase) GetSummaries(ctx context.Context, conversationID model.ConversationID) ([]*model.Summary, error) {
	summaries, err := uc.repo.Summary().List(ctx, conversationID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get summaries", goerr.V(model.ConversationIDKey, conversationID))
	}
	return summaries, nil
}

// GetSummariesByLevel returns up to limit summaries of level, newest first
func (uc *SummaryUseCase) GetSummariesByLevel(ctx context.Context, conversationID model.ConversationID, level types.SummaryLevel, limit int) ([]*model.Summary, error) {
	summaries, err := uc.repo.Summary().ListByLevel(ctx, conversationID, level, limit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get summaries",
			goerr.V(model.ConversationIDKey, conversationID),
			goerr.V("level", level))
	}
	return summaries, nil
}

// transcriptLine renders one message for a summary or answer prompt
func transcriptLine(m *model.Message) string {
	switch m.Kind {
	case types.MessageKindUser:
		return "User: " + m.Content
	case types.MessageKindAssistantToolCall:
		return fmt.Sprintf("Assistant called tool %s with %s", m.ToolName, m.Content)
	case types.MessageKindToolResult:
		return fmt.Sprintf("Tool %s returned: %s", m.ToolName, m.Content)
	default:
		return "Assistant: " + m.Content
	}
}
