package vector

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
)

// QueryOptions controls a similarity query
type QueryOptions struct {
	// TopK is the number of neighbours requested from the index. Zero uses the configured default.
	TopK int
	// Filter restricts results by metadata
	Filter *model.VectorFilter
	// IncludeVector returns stored vectors with the matches
	IncludeVector bool
	// Threshold overrides the configured minimum score when set
	Threshold *float64
}

// BatchStats aggregates the outcome of a batch operation
type BatchStats struct {
	Total      int
	Processed  int
	Successful int
	Failed     int
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
}

// ChunkResult is the outcome of one batch chunk. Start and End are the input
// positions [Start, End) covered by the chunk.
type ChunkResult struct {
	Start int
	End   int
	Err   error
}

// BatchResult is returned by batch operations. A chunk failure does not abort
// sibling chunks; Success is true only when every chunk succeeded.
type BatchResult struct {
	Success bool
	Stats   BatchStats
	Chunks  []ChunkResult
	// FailedIndexes lists the input positions of items in failed chunks
	FailedIndexes []int
}

// Err returns an aggregated batch error, or nil when every chunk succeeded
func (r *BatchResult) Err() error {
	if r == nil || r.Success {
		return nil
	}

	var first error
	failedChunks := 0
	for _, c := range r.Chunks {
		if c.Err != nil {
			failedChunks++
			if first == nil {
				first = c.Err
			}
		}
	}

	return goerr.Wrap(first, "batch operation partially failed",
		goerr.T(model.TagBatch),
		goerr.V("failed_chunks", failedChunks),
		goerr.V("failed_items", r.Stats.Failed),
		goerr.V("total_items", r.Stats.Total))
}

// chunkRanges partitions n items into consecutive [start, end) ranges of at most size items
func chunkRanges(n, size int) [][2]int {
	ranges := make([][2]int, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		ranges = append(ranges, [2]int{start, min(start+size, n)})
	}
	return ranges
}
