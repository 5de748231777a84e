package tool

import (
	"context"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/hypomnema/pkg/utils/errutil"
)

// Recorder persists tool invocations of an agent run
type Recorder interface {
	RecordCall(ctx context.Context, callID, name string, args map[string]any) error
	RecordResult(ctx context.Context, callID, name string, result map[string]any, runErr error) error
}

// Record wraps tools so that every Run is recorded as a call followed by its result.
// Both records share one generated call ID.
func Record(tools []gollem.Tool, rec Recorder) []gollem.Tool {
	wrapped := make([]gollem.Tool, len(tools))
	for i, t := range tools {
		wrapped[i] = &recordedTool{Tool: t, rec: rec}
	}
	return wrapped
}

type recordedTool struct {
	gollem.Tool
	rec Recorder
}

func (t *recordedTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	callID := uuid.NewString()
	name := t.Spec().Name

	if err := t.rec.RecordCall(ctx, callID, name, args); err != nil {
		return nil, goerr.Wrap(err, "failed to record tool call", goerr.V("tool", name))
	}

	result, runErr := t.Tool.Run(ctx, args)

	// The call is already stored; an unrecorded result leaves it unresolved.
	if err := t.rec.RecordResult(ctx, callID, name, result, runErr); err != nil {
		_ = errutil.Handle(ctx, err, "failed to record tool result")
	}

	return result, runErr
}
