package model

import (
	"github.com/m-mizutani/goerr/v2"
)

// Error kinds. Callers branch on them with goerr.HasTag.
var (
	// TagValidation marks malformed input. Never retried.
	TagValidation = goerr.NewTag("validation")
	// TagNotFound marks a missing conversation, topic, summary or index. Never retried.
	TagNotFound = goerr.NewTag("not_found")
	// TagCorrupted marks a record that exists but cannot be decoded.
	TagCorrupted = goerr.NewTag("corrupted")
	// TagStorage marks a transient persistent store failure.
	TagStorage = goerr.NewTag("storage")
	// TagConnection marks a vector index connection failure.
	TagConnection = goerr.NewTag("connection")
	// TagTimeout marks a vector index call that ran out of time.
	TagTimeout = goerr.NewTag("timeout")
	// TagOperation marks any other failed vector index call.
	TagOperation = goerr.NewTag("operation")
	// TagBatch marks an aggregated batch failure.
	TagBatch = goerr.NewTag("batch")
	// TagParse marks malformed language model output.
	TagParse = goerr.NewTag("parse")
	// TagRetryable is set on surfaced errors that a caller may retry later.
	TagRetryable = goerr.NewTag("retryable")
)

// Context keys for error values
const (
	ConversationIDKey = "conversation_id"
	MessageIDKey      = "message_id"
	TopicIDKey        = "topic_id"
	SummaryIDKey      = "summary_id"
	IndexNameKey      = "index_name"
	AttemptKey        = "attempt"
)

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool {
	return HasTag(err, TagValidation)
}

// IsNotFound reports whether err is a not-found error
func IsNotFound(err error) bool {
	return HasTag(err, TagNotFound)
}

// IsRetryable reports whether err was surfaced with the retryable flag
func IsRetryable(err error) bool {
	return HasTag(err, TagRetryable)
}

// HasTag reports whether any error in the chain of err carries tag
var HasTag = goerr.HasTag
