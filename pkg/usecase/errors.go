package usecase

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
)

// Sentinel errors for use case layer
var (
	// Not found errors
	ErrConversationNotFound = goerr.New("conversation not found", goerr.T(model.TagNotFound))

	// Validation errors
	ErrEmptyUserID      = goerr.New("user ID is required", goerr.T(model.TagValidation))
	ErrNoMessages       = goerr.New("no messages to summarize", goerr.T(model.TagValidation))
	ErrNoSummaries      = goerr.New("no summaries to roll up", goerr.T(model.TagValidation))
	ErrEmptySummary     = goerr.New("summary content is empty", goerr.T(model.TagValidation))
	ErrEmptyQuestion    = goerr.New("question is empty", goerr.T(model.TagValidation))
	ErrEmbeddingMissing = goerr.New("embedding service returned no vector", goerr.T(model.TagParse))
)

// Context keys for error values
const (
	UserIDKey       = "user_id"
	MessageCountKey = "message_count"
	SourceKey       = "source"
)
