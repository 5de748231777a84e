package config

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// MemoryConfig tunes the conversation memory components
type MemoryConfig struct {
	// SummaryChunkSize is the number of messages covered by one recent summary
	SummaryChunkSize int
	// MaxRetries is the number of attempts for store and summary sub-operations
	MaxRetries int
	// RetryDelay is the fixed delay between those attempts
	RetryDelay time.Duration
	// TopicChangeThreshold is the similarity below which a message starts a new topic
	TopicChangeThreshold float64
	// TopicContextWindow is the number of recent messages compared against a new message
	TopicContextWindow int
	// GlobalSummaryInterval triggers a global roll-up every N recent summaries. Zero disables it.
	GlobalSummaryInterval int
	// ImmediateContextSize is the number of recent messages used to build prompts
	ImmediateContextSize int
	// SummaryQueueSize bounds the background summary queue
	SummaryQueueSize int
	// SummaryWorkers is the number of goroutines consuming the summary queue
	SummaryWorkers int
}

// DefaultMemoryConfig returns the reference configuration
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		SummaryChunkSize:      10,
		MaxRetries:            3,
		RetryDelay:            time.Second,
		TopicChangeThreshold:  0.7,
		TopicContextWindow:    3,
		GlobalSummaryInterval: 5,
		ImmediateContextSize:  6,
		SummaryQueueSize:      64,
		SummaryWorkers:        2,
	}
}

// Validate checks if the MemoryConfig is valid
func (c MemoryConfig) Validate() error {
	if c.SummaryChunkSize <= 0 {
		return goerr.New("summary chunk size must be positive", goerr.V("value", c.SummaryChunkSize))
	}
	if c.MaxRetries <= 0 {
		return goerr.New("max retries must be positive", goerr.V("value", c.MaxRetries))
	}
	if c.RetryDelay < 0 {
		return goerr.New("retry delay must not be negative", goerr.V("value", c.RetryDelay))
	}
	if c.TopicChangeThreshold < 0 || c.TopicChangeThreshold > 1 {
		return goerr.New("topic change threshold must be between 0 and 1", goerr.V("value", c.TopicChangeThreshold))
	}
	if c.TopicContextWindow <= 0 {
		return goerr.New("topic context window must be positive", goerr.V("value", c.TopicContextWindow))
	}
	if c.GlobalSummaryInterval < 0 {
		return goerr.New("global summary interval must not be negative", goerr.V("value", c.GlobalSummaryInterval))
	}
	if c.SummaryQueueSize <= 0 || c.SummaryWorkers <= 0 {
		return goerr.New("summary queue size and workers must be positive",
			goerr.V("queue_size", c.SummaryQueueSize),
			goerr.V("workers", c.SummaryWorkers))
	}
	return nil
}
