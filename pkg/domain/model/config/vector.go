package config

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// VectorIndex declares a named vector index and its fixed dimensionality
type VectorIndex struct {
	Name       string
	Dimensions int
}

// VectorConfig tunes the vector operations layer
type VectorConfig struct {
	Indexes []VectorIndex
	// MaxAttempts is the number of attempts per vector operation
	MaxAttempts int
	// Backoff is the delay before the second attempt; it doubles for each further attempt
	Backoff time.Duration
	// MaxBatchSize is the largest accepted batch
	MaxBatchSize int
	// BatchChunkSize is the number of entries sent per provider call
	BatchChunkSize int
	// BatchConcurrency bounds the number of chunks in flight
	BatchConcurrency int
	// ScoreThreshold drops query results scoring below it
	ScoreThreshold float64
	// DefaultTopK is used when a query does not set TopK
	DefaultTopK int
}

// DefaultVectorConfig returns the reference configuration
func DefaultVectorConfig(dimensions int) VectorConfig {
	return VectorConfig{
		Indexes: []VectorIndex{
			{Name: "documents", Dimensions: dimensions},
			{Name: "memory", Dimensions: dimensions},
		},
		MaxAttempts:      3,
		Backoff:          time.Second,
		MaxBatchSize:     100,
		BatchChunkSize:   20,
		BatchConcurrency: 3,
		ScoreThreshold:   0.7,
		DefaultTopK:      5,
	}
}

// Validate checks if the VectorConfig is valid
func (c VectorConfig) Validate() error {
	names := make(map[string]bool)
	for _, idx := range c.Indexes {
		if idx.Name == "" {
			return goerr.New("vector index name is required")
		}
		if idx.Dimensions <= 0 {
			return goerr.New("vector index dimensions must be positive", goerr.V("index", idx.Name), goerr.V("dimensions", idx.Dimensions))
		}
		if names[idx.Name] {
			return goerr.New("duplicate vector index", goerr.V("index", idx.Name))
		}
		names[idx.Name] = true
	}
	if c.MaxAttempts <= 0 {
		return goerr.New("max attempts must be positive", goerr.V("value", c.MaxAttempts))
	}
	if c.MaxBatchSize <= 0 || c.BatchChunkSize <= 0 || c.BatchConcurrency <= 0 {
		return goerr.New("batch size, chunk size and concurrency must be positive",
			goerr.V("max_batch_size", c.MaxBatchSize),
			goerr.V("chunk_size", c.BatchChunkSize),
			goerr.V("concurrency", c.BatchConcurrency))
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return goerr.New("score threshold must be between 0 and 1", goerr.V("value", c.ScoreThreshold))
	}
	return nil
}
