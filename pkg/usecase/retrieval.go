package usecase

import (
	"bytes"
	"context"
	_ "embed"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
	"github.com/secmon-lab/hypomnema/pkg/domain/model/config"
	"github.com/secmon-lab/hypomnema/pkg/service/llm"
	"github.com/secmon-lab/hypomnema/pkg/service/vector"
	"github.com/secmon-lab/hypomnema/pkg/utils/errutil"
	"github.com/secmon-lab/hypomnema/pkg/utils/logging"
)

//go:embed prompt/answer.md
var answerPromptTmpl string

var answerPrompt = template.Must(template.New("answer").Funcs(promptFuncs).Parse(answerPromptTmpl))

const answerSystemPrompt = `You are a thoughtful guide to the texts in your library.
Answer from the passages when they are relevant and cite them with their bracketed reference.
When the passages do not cover the question, say so and answer from the conversation instead.`

// Citation is a retrieved passage an answer was grounded on
type Citation struct {
	SourceReference string
	Content         string
	Score           float64
}

// Answer is the result of RetrievalUseCase.Answer
type Answer struct {
	Text               string
	Citations          []Citation
	Themes             []string
	UserMessageID      model.MessageID
	AssistantMessageID model.MessageID
}

// RetrievalUseCase answers questions from retrieved passages and conversation memory
type RetrievalUseCase struct {
	conversations *ConversationUseCase
	summaries     *SummaryUseCase
	processor     *MessageProcessor
	llm           llm.Service
	vectors       *vector.Service
	cfg           config.MemoryConfig
}

// NewRetrievalUseCase creates a new RetrievalUseCase instance
func NewRetrievalUseCase(conversations *ConversationUseCase, summaries *SummaryUseCase, processor *MessageProcessor, llmService llm.Service, vectors *vector.Service, cfg config.MemoryConfig) *RetrievalUseCase {
	return &RetrievalUseCase{
		conversations: conversations,
		summaries:     summaries,
		processor:     processor,
		llm:           llmService,
		vectors:       vectors,
		cfg:           cfg,
	}
}

type answerPromptData struct {
	Documents []Citation
	Memories  []string
	Summary   string
	History   []string
	Question  string
}

// Answer retrieves passages and memories relevant to question, generates an
// answer and stores the question and answer as a message pair
func (uc *RetrievalUseCase) Answer(ctx context.Context, conversationID model.ConversationID, userID, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	if _, err := uc.conversations.GetMetadata(ctx, conversationID); err != nil {
		return nil, err
	}

	var themes []string
	classification, err := uc.llm.ClassifyThemes(ctx, question)
	if err != nil {
		_ = errutil.Handle(ctx, err, "failed to classify question themes")
	} else {
		themes = classification.Themes
	}

	embeddings, err := uc.llm.GenerateEmbeddings(ctx, []string{question})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed question")
	}
	if len(embeddings) == 0 {
		return nil, ErrEmbeddingMissing
	}
	vec := embeddings[0]

	data := answerPromptData{Question: question}

	docs, err := uc.vectors.QueryVectors(ctx, model.DocumentIndex, vec, vector.QueryOptions{})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query documents", goerr.V(model.ConversationIDKey, conversationID))
	}
	for _, d := range docs {
		data.Documents = append(data.Documents, Citation{
			SourceReference: d.SourceReference(),
			Content:         d.Content(),
			Score:           d.Score,
		})
	}

	memories, err := uc.vectors.QueryVectors(ctx, model.MemoryIndex, vec, vector.QueryOptions{
		Filter: &model.VectorFilter{UserID: userID},
	})
	if err != nil {
		_ = errutil.Handle(ctx, err, "failed to query conversation memory")
	}
	for _, m := range memories {
		if model.MetadataString(m.Metadata, model.MetaSessionID) == conversationID.String() {
			continue
		}
		data.Memories = append(data.Memories, m.Content())
	}

	summaries, err := uc.summaries.GetSummaries(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if len(summaries) > 0 {
		data.Summary = summaries[0].Content
	}

	history, err := uc.conversations.ImmediateContext(ctx, conversationID, uc.cfg.ImmediateContextSize)
	if err != nil {
		return nil, err
	}
	for _, m := range history {
		data.History = append(data.History, transcriptLine(m))
	}

	var buf bytes.Buffer
	if err := answerPrompt.Execute(&buf, data); err != nil {
		return nil, goerr.Wrap(err, "failed to execute answer prompt template")
	}

	text, err := uc.llm.GenerateText(ctx, answerSystemPrompt, buf.String())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate answer", goerr.V(model.ConversationIDKey, conversationID))
	}

	userMsg := model.NewUserMessage(question)
	userMsg.Themes = themes
	assistantMsg := model.NewAssistantMessage(text)
	assistantMsg.Themes = themes

	result := uc.processor.ProcessMessagePair(ctx, conversationID, userMsg, assistantMsg)
	if !result.Success {
		return nil, goerr.Wrap(result.Err, "failed to store message pair",
			goerr.V(model.ConversationIDKey, conversationID),
			goerr.V("error_code", result.ErrorCode))
	}

	logging.From(ctx).Info("question answered",
		"conversation_id", conversationID,
		"documents", len(data.Documents),
		"memories", len(data.Memories),
		"themes", themes,
	)

	return &Answer{
		Text:               text,
		Citations:          data.Documents,
		Themes:             themes,
		UserMessageID:      result.UserMessageID,
		AssistantMessageID: result.AssistantMessageID,
	}, nil
}
