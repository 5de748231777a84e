package usecase

import (
	"context"

	"github.com/cenkalti/backoff/v4"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
	"github.com/secmon-lab/hypomnema/pkg/domain/model/config"
)

// SummaryWindow is exported for testing
var SummaryWindow = summaryWindow

// TranscriptLine is exported for testing
var TranscriptLine = transcriptLine

// ChunkID is exported for testing
func ChunkID(c *model.DocumentChunk) string {
	return chunkID(c)
}

// ToolRecorder is exported for testing
type ToolRecorder = toolRecorder

// NewToolRecorder is exported for testing
func NewToolRecorder(processor *MessageProcessor, conversationID model.ConversationID) *ToolRecorder {
	return newToolRecorder(processor, conversationID)
}

// Retry is exported for testing
func Retry(ctx context.Context, cfg config.MemoryConfig, fn func() (int, error), timer backoff.Timer) (int, error) {
	return retryWithTimer(ctx, cfg, "test", fn, timer)
}
