package core

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/hypomnema/pkg/agent/tool"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
	"github.com/secmon-lab/hypomnema/pkg/service/vector"
)

// searchDocumentsTool searches ingested document chunks by vector similarity
type searchDocumentsTool struct {
	deps Deps
}

func (t *searchDocumentsTool) Spec() gollem.ToolSpec {
	return gollem.ToolSpec{
		Name:        SearchDocumentsName,
		Description: "Search passages of the document library using semantic (vector) similarity. Each result carries a source reference to cite.",
		Parameters: map[string]*gollem.Parameter{
			"query": {
				Type:        gollem.TypeString,
				Description: "Search query text",
				Required:    true,
			},
			"limit": {
				Type:        gollem.TypeInteger,
				Description: "Maximum number of results to return (default: 5)",
				Required:    false,
			},
		},
	}
}

func (t *searchDocumentsTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	tool.Progress(ctx, fmt.Sprintf("Searching documents: %s", query))

	vec, err := embedQuery(ctx, t.deps.LLM, query)
	if err != nil {
		return nil, err
	}

	matches, err := t.deps.Vectors.QueryVectors(ctx, model.DocumentIndex, vec, vector.QueryOptions{TopK: limitArg(args)})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search documents", goerr.V("query", query))
	}

	items := make([]map[string]any, len(matches))
	for i, m := range matches {
		items[i] = map[string]any{
			"source_reference": m.SourceReference(),
			"content":          m.Content(),
			"score":            m.Score,
		}
	}

	return map[string]any{
		"documents": items,
		"count":     len(items),
	}, nil
}

// searchMemoryTool searches summaries of the user's other conversations
type searchMemoryTool struct {
	deps           Deps
	conversationID model.ConversationID
	userID         string
}

func (t *searchMemoryTool) Spec() gollem.ToolSpec {
	return gollem.ToolSpec{
		Name:        SearchMemoryName,
		Description: "Search summaries of the user's earlier conversations using semantic (vector) similarity. The current conversation is excluded.",
		Parameters: map[string]*gollem.Parameter{
			"query": {
				Type:        gollem.TypeString,
				Description: "Search query text",
				Required:    true,
			},
			"limit": {
				Type:        gollem.TypeInteger,
				Description: "Maximum number of results to return (default: 5)",
				Required:    false,
			},
		},
	}
}

func (t *searchMemoryTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	tool.Progress(ctx, fmt.Sprintf("Searching memory: %s", query))

	vec, err := embedQuery(ctx, t.deps.LLM, query)
	if err != nil {
		return nil, err
	}

	matches, err := t.deps.Vectors.QueryVectors(ctx, model.MemoryIndex, vec, vector.QueryOptions{
		TopK:   limitArg(args),
		Filter: &model.VectorFilter{UserID: t.userID},
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search memory",
			goerr.V("query", query),
			goerr.V("userID", t.userID))
	}

	items := make([]map[string]any, 0, len(matches))
	for _, m := range matches {
		sessionID := model.MetadataString(m.Metadata, model.MetaSessionID)
		if sessionID == t.conversationID.String() {
			continue
		}
		items = append(items, map[string]any{
			"content":    m.Content(),
			"session_id": sessionID,
			"level":      model.MetadataString(m.Metadata, model.MetaLevel),
			"score":      m.Score,
		})
	}

	return map[string]any{
		"memories": items,
		"count":    len(items),
	}, nil
}
