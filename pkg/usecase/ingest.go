package usecase

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
	"github.com/secmon-lab/hypomnema/pkg/service/document"
	"github.com/secmon-lab/hypomnema/pkg/service/llm"
	"github.com/secmon-lab/hypomnema/pkg/service/vector"
	"github.com/secmon-lab/hypomnema/pkg/utils/logging"
	"golang.org/x/sync/errgroup"
)

const (
	// ingestConcurrency bounds concurrent theme classification and embedding calls
	ingestConcurrency = 3
	// embedBatchSize is the number of chunks embedded per request
	embedBatchSize = 20
)

// IngestResult reports the outcome of an ingestion run
type IngestResult struct {
	Documents int
	Chunks    int
	Upserted  int
	Failed    int
}

// IngestUseCase loads documents, chunks them and stores their embeddings in the documents index
type IngestUseCase struct {
	loader  *document.Loader
	chunker *document.Chunker
	llm     llm.Service
	vectors *vector.Service
}

// NewIngestUseCase creates a new IngestUseCase instance
func NewIngestUseCase(loader *document.Loader, chunker *document.Chunker, llmService llm.Service, vectors *vector.Service) *IngestUseCase {
	return &IngestUseCase{
		loader:  loader,
		chunker: chunker,
		llm:     llmService,
		vectors: vectors,
	}
}

// IngestDirectory ingests every supported document under source, a local
// directory or a gs://bucket/prefix URL. Chunk IDs are derived from the
// source path, so ingesting the same source again overwrites its entries.
func (uc *IngestUseCase) IngestDirectory(ctx context.Context, source string) (*IngestResult, error) {
	docs, err := uc.loader.Load(ctx, source)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load documents", goerr.V(SourceKey, source))
	}

	var chunks []*model.DocumentChunk
	for _, doc := range docs {
		chunks = append(chunks, uc.chunker.Chunk(doc)...)
	}

	result := &IngestResult{Documents: len(docs), Chunks: len(chunks)}
	if len(chunks) == 0 {
		logging.From(ctx).Warn("no document chunks to ingest", "source", source)
		return result, nil
	}

	if err := uc.classify(ctx, chunks); err != nil {
		return nil, err
	}

	entries, err := uc.embed(ctx, chunks)
	if err != nil {
		return nil, err
	}

	batchSize := uc.vectors.MaxBatchSize()
	for start := 0; start < len(entries); start += batchSize {
		end := min(start+batchSize, len(entries))
		batch, err := uc.vectors.UpsertBatch(ctx, model.DocumentIndex, entries[start:end])
		if err != nil {
			return nil, goerr.Wrap(err, "failed to upsert document chunks", goerr.V(SourceKey, source))
		}
		result.Upserted += batch.Stats.Successful
		result.Failed += batch.Stats.Failed
		if err := batch.Err(); err != nil {
			logging.From(ctx).Warn("document batch partially failed",
				"source", source,
				"failed_items", batch.Stats.Failed,
				"error", err,
			)
		}
	}

	logging.From(ctx).Info("documents ingested",
		"source", source,
		"documents", result.Documents,
		"chunks", result.Chunks,
		"upserted", result.Upserted,
		"failed", result.Failed,
	)
	return result, nil
}

// classify sets chunk themes. A classification failure leaves the chunk without themes.
func (uc *IngestUseCase) classify(ctx context.Context, chunks []*model.DocumentChunk) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(ingestConcurrency)

	for _, chunk := range chunks {
		eg.Go(func() error {
			classification, err := uc.llm.ClassifyThemes(ctx, chunk.Content)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logging.From(ctx).Warn("failed to classify chunk themes",
					"source", chunk.SourceFile,
					"index", chunk.Index,
					"error", err,
				)
				return nil
			}
			chunk.Metadata.Themes = classification.Themes
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return goerr.Wrap(err, "theme classification aborted")
	}
	return nil
}

func (uc *IngestUseCase) embed(ctx context.Context, chunks []*model.DocumentChunk) ([]*model.VectorEntry, error) {
	entries := make([]*model.VectorEntry, len(chunks))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(ingestConcurrency)

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := min(start+embedBatchSize, len(chunks))
		eg.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, c := range chunks[start:end] {
				texts = append(texts, c.Content)
			}

			vectors, err := uc.llm.GenerateEmbeddings(ctx, texts)
			if err != nil {
				return goerr.Wrap(err, "failed to embed document chunks", goerr.V("start", start), goerr.V("end", end))
			}

			if len(vectors) != len(texts) {
				return goerr.Wrap(ErrEmbeddingMissing, "embedding count mismatch",
					goerr.V("expected", len(texts)),
					goerr.V("actual", len(vectors)))
			}

			// each goroutine owns entries[start:end]
			for i, vec := range vectors {
				c := chunks[start+i]
				entries[start+i] = &model.VectorEntry{
					ID:       chunkID(c),
					Vector:   vec,
					Metadata: c.VectorMetadata(),
				}
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

func chunkID(c *model.DocumentChunk) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s#%d", c.SourceFile, c.Index))).String()
}
