package usecase

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"strings"
	"sync"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/hypomnema/pkg/agent/tool"
	"github.com/secmon-lab/hypomnema/pkg/agent/tool/core"
	"github.com/secmon-lab/hypomnema/pkg/domain/interfaces"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
	"github.com/secmon-lab/hypomnema/pkg/domain/model/config"
	"github.com/secmon-lab/hypomnema/pkg/service/llm"
	"github.com/secmon-lab/hypomnema/pkg/service/vector"
	"github.com/secmon-lab/hypomnema/pkg/utils/errutil"
	"github.com/secmon-lab/hypomnema/pkg/utils/logging"
)

//go:embed prompt/agent.md
var agentPromptTmpl string

var agentPrompt = template.Must(template.New("agent").Funcs(promptFuncs).Parse(agentPromptTmpl))

// AgentUseCase answers questions with a tool-using agent. Every tool call and
// its result is stored in the conversation between the question and the answer.
type AgentUseCase struct {
	repo          interfaces.Repository
	conversations *ConversationUseCase
	summaries     *SummaryUseCase
	processor     *MessageProcessor
	llm           llm.Service
	llmClient     gollem.LLMClient
	vectors       *vector.Service
	cfg           config.MemoryConfig
}

// NewAgentUseCase creates a new AgentUseCase instance
func NewAgentUseCase(repo interfaces.Repository, conversations *ConversationUseCase, summaries *SummaryUseCase, processor *MessageProcessor, llmService llm.Service, llmClient gollem.LLMClient, vectors *vector.Service, cfg config.MemoryConfig) *AgentUseCase {
	return &AgentUseCase{
		repo:          repo,
		conversations: conversations,
		summaries:     summaries,
		processor:     processor,
		llm:           llmService,
		llmClient:     llmClient,
		vectors:       vectors,
		cfg:           cfg,
	}
}

type agentPromptData struct {
	Summary string
	History []string
}

// Answer stores question, lets the agent research it with the recall tools and
// stores the final answer
func (uc *AgentUseCase) Answer(ctx context.Context, conversationID model.ConversationID, userID, question string) (*Answer, error) {
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

	// the prompt is built before the question is stored so it is not repeated in the history
	systemPrompt, err := uc.buildSystemPrompt(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	userMsg := model.NewUserMessage(question)
	userMsg.Themes = themes
	storedUser, err := uc.processor.AddMessage(ctx, conversationID, userMsg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to store question")
	}

	rec := newToolRecorder(uc.processor, conversationID)
	tools := tool.Record(core.New(core.Deps{
		Repo:    uc.repo,
		LLM:     uc.llm,
		Vectors: uc.vectors,
	}, conversationID, userID), rec)

	logger := logging.From(ctx)
	agent := gollem.New(uc.llmClient,
		gollem.WithSystemPrompt(systemPrompt),
		gollem.WithTools(tools...),
		gollem.WithToolMiddleware(
			func(next gollem.ToolHandler) gollem.ToolHandler {
				return func(ctx context.Context, req *gollem.ToolExecRequest) (*gollem.ToolExecResponse, error) {
					logger.Debug("tool call", "conversation_id", conversationID, "tool", req.Tool.Name)
					resp, err := next(ctx, req)
					if resp != nil && resp.Error != nil {
						logger.Warn("tool failed", "tool", req.Tool.Name, "error", resp.Error.Error())
					}
					return resp, err
				}
			},
		),
	)

	resp, err := agent.Execute(ctx, gollem.Text(question))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to execute agent", goerr.V(model.ConversationIDKey, conversationID))
	}

	text := strings.TrimSpace(strings.Join(resp.Texts, "\n"))
	if text == "" {
		return nil, goerr.New("agent returned no answer", goerr.T(model.TagParse), goerr.V(model.ConversationIDKey, conversationID))
	}

	assistantMsg := model.NewAssistantMessage(text)
	assistantMsg.Themes = themes
	storedAssistant, err := uc.processor.AddMessage(ctx, conversationID, assistantMsg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to store answer")
	}

	citations := rec.Citations()
	logger.Info("question answered by agent",
		"conversation_id", conversationID,
		"tool_calls", rec.Calls(),
		"citations", len(citations),
		"themes", themes,
	)

	return &Answer{
		Text:               text,
		Citations:          citations,
		Themes:             themes,
		UserMessageID:      storedUser.ID,
		AssistantMessageID: storedAssistant.ID,
	}, nil
}

func (uc *AgentUseCase) buildSystemPrompt(ctx context.Context, conversationID model.ConversationID) (string, error) {
	var data agentPromptData

	summaries, err := uc.summaries.GetSummaries(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if len(summaries) > 0 {
		data.Summary = summaries[0].Content
	}

	history, err := uc.conversations.ImmediateContext(ctx, conversationID, uc.cfg.ImmediateContextSize)
	if err != nil {
		return "", err
	}
	for _, m := range history {
		data.History = append(data.History, transcriptLine(m))
	}

	var buf bytes.Buffer
	if err := agentPrompt.Execute(&buf, data); err != nil {
		return "", goerr.Wrap(err, "failed to execute agent prompt template")
	}
	return buf.String(), nil
}

// toolRecorder stores tool calls and results as conversation messages and
// collects the passages returned by document searches
type toolRecorder struct {
	processor      *MessageProcessor
	conversationID model.ConversationID

	mu        sync.Mutex
	calls     int
	citations []Citation
	seen      map[string]struct{}
}

func newToolRecorder(processor *MessageProcessor, conversationID model.ConversationID) *toolRecorder {
	return &toolRecorder{
		processor:      processor,
		conversationID: conversationID,
		seen:           make(map[string]struct{}),
	}
}

func (r *toolRecorder) RecordCall(ctx context.Context, callID, name string, args map[string]any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return goerr.Wrap(err, "failed to encode tool arguments", goerr.V("tool", name))
	}
	if _, err := r.processor.AddMessage(ctx, r.conversationID, model.NewToolCallMessage(callID, name, string(raw))); err != nil {
		return err
	}

	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return nil
}

func (r *toolRecorder) RecordResult(ctx context.Context, callID, name string, result map[string]any, runErr error) error {
	output := "error: "
	if runErr != nil {
		output += runErr.Error()
	} else {
		raw, err := json.Marshal(result)
		if err != nil {
			return goerr.Wrap(err, "failed to encode tool result", goerr.V("tool", name))
		}
		output = string(raw)
		if name == core.SearchDocumentsName {
			r.collect(result)
		}
	}

	_, err := r.processor.AddMessage(ctx, r.conversationID, model.NewToolResultMessage(callID, name, output))
	return err
}

func (r *toolRecorder) collect(result map[string]any) {
	docs, ok := result["documents"].([]map[string]any)
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range docs {
		ref, _ := d["source_reference"].(string)
		if ref == "" {
			continue
		}
		if _, ok := r.seen[ref]; ok {
			continue
		}
		r.seen[ref] = struct{}{}
		content, _ := d["content"].(string)
		score, _ := d["score"].(float64)
		r.citations = append(r.citations, Citation{SourceReference: ref, Content: content, Score: score})
	}
}

func (r *toolRecorder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *toolRecorder) Citations() []Citation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Citation(nil), r.citations...)
}
