package core

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/hypomnema/pkg/domain/interfaces"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
	"github.com/secmon-lab/hypomnema/pkg/service/llm"
	"github.com/secmon-lab/hypomnema/pkg/service/vector"
)

// Tool names exposed to the model
const (
	SearchDocumentsName = "core__search_documents"
	SearchMemoryName    = "core__search_memory"
	ListSummariesName   = "core__list_summaries"
	GetMessagesName     = "core__get_messages"
)

const (
	defaultLimit = 5
	maxLimit     = 20
	maxMessages  = 50
)

// Deps are the collaborators shared by the recall tools
type Deps struct {
	Repo    interfaces.Repository
	LLM     llm.Service
	Vectors *vector.Service
}

// New builds the recall tools for one conversation of userID
func New(deps Deps, conversationID model.ConversationID, userID string) []gollem.Tool {
	return []gollem.Tool{
		&searchDocumentsTool{deps: deps},
		&searchMemoryTool{deps: deps, conversationID: conversationID, userID: userID},
		&listSummariesTool{deps: deps, conversationID: conversationID},
		&getMessagesTool{deps: deps, conversationID: conversationID},
	}
}

func extractInt64(args map[string]any, key string) (int64, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("%s is required", key)
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("%s must be an integer, got %T", key, v)
	}
}

// limitArg returns the optional "limit" argument clamped to [1, maxLimit]
func limitArg(args map[string]any) int {
	limit := defaultLimit
	if v, err := extractInt64(args, "limit"); err == nil && v > 0 {
		limit = int(v)
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit
}

func embedQuery(ctx context.Context, svc llm.Service, query string) ([]float32, error) {
	embeddings, err := svc.GenerateEmbeddings(ctx, []string{query})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate embedding for search query", goerr.V("query", query))
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, goerr.New("embedding generation returned empty result", goerr.T(model.TagParse))
	}
	return embeddings[0], nil
}
