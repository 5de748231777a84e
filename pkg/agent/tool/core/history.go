package core

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/hypomnema/pkg/agent/tool"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
	"github.com/secmon-lab/hypomnema/pkg/domain/types"
)

// listSummariesTool lists summaries of the current conversation
type listSummariesTool struct {
	deps           Deps
	conversationID model.ConversationID
}

func (t *listSummariesTool) Spec() gollem.ToolSpec {
	return gollem.ToolSpec{
		Name:        ListSummariesName,
		Description: "List summaries of earlier parts of the current conversation, newest first. Use message_start and message_end to fetch the original messages.",
		Parameters: map[string]*gollem.Parameter{
			"level": {
				Type:        gollem.TypeString,
				Description: "Summary level: 'recent' (one chunk of messages) or 'global' (roll-up). Both when omitted.",
				Required:    false,
			},
			"limit": {
				Type:        gollem.TypeInteger,
				Description: "Maximum number of summaries to return (default: 5)",
				Required:    false,
			},
		},
	}
}

func (t *listSummariesTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	limit := limitArg(args)

	var summaries []*model.Summary
	if s, _ := args["level"].(string); s != "" {
		level, err := types.ParseSummaryLevel(s)
		if err != nil {
			return nil, err
		}
		tool.Progress(ctx, fmt.Sprintf("Listing %s summaries", level))
		summaries, err = t.deps.Repo.Summary().ListByLevel(ctx, t.conversationID, level, limit)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list summaries", goerr.V("level", level))
		}
	} else {
		tool.Progress(ctx, "Listing summaries")
		all, err := t.deps.Repo.Summary().List(ctx, t.conversationID)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list summaries")
		}
		if len(all) > limit {
			all = all[:limit]
		}
		summaries = all
	}

	items := make([]map[string]any, len(summaries))
	for i, s := range summaries {
		item := map[string]any{
			"level":   s.Level.String(),
			"content": s.Content,
			"themes":  s.Themes,
		}
		if s.Level == types.SummaryLevelRecent {
			item["message_start"] = s.MessageStart
			item["message_end"] = s.MessageEnd
		}
		items[i] = item
	}

	return map[string]any{
		"summaries": items,
		"count":     len(items),
	}, nil
}

// getMessagesTool reads a position range of the current conversation
type getMessagesTool struct {
	deps           Deps
	conversationID model.ConversationID
}

func (t *getMessagesTool) Spec() gollem.ToolSpec {
	return gollem.ToolSpec{
		Name:        GetMessagesName,
		Description: fmt.Sprintf("Get messages of the current conversation by 1-based position, start and end inclusive. At most %d messages are returned.", maxMessages),
		Parameters: map[string]*gollem.Parameter{
			"start": {
				Type:        gollem.TypeInteger,
				Description: "First message position (1-based)",
				Required:    true,
			},
			"end": {
				Type:        gollem.TypeInteger,
				Description: "Last message position (inclusive)",
				Required:    true,
			},
		},
	}
}

func (t *getMessagesTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	start, err := extractInt64(args, "start")
	if err != nil {
		return nil, err
	}
	end, err := extractInt64(args, "end")
	if err != nil {
		return nil, err
	}
	if start < 1 || end < start {
		return nil, fmt.Errorf("invalid range: start=%d end=%d", start, end)
	}
	if end-start+1 > maxMessages {
		end = start + maxMessages - 1
	}

	tool.Progress(ctx, fmt.Sprintf("Reading messages %d-%d", start, end))

	msgs, err := t.deps.Repo.Message().ListRange(ctx, t.conversationID, int(start-1), int(end))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list messages",
			goerr.V("start", start),
			goerr.V("end", end))
	}

	items := make([]map[string]any, len(msgs))
	for i, m := range msgs {
		item := map[string]any{
			"position": int(start) + i,
			"role":     string(m.Role()),
			"kind":     string(m.Kind),
			"content":  m.Content,
		}
		if m.ToolName != "" {
			item["tool_name"] = m.ToolName
		}
		items[i] = item
	}

	return map[string]any{
		"messages": items,
		"count":    len(items),
	}, nil
}
