package cli

import (
	"context"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hypomnema/pkg/cli/config"
	"github.com/secmon-lab/hypomnema/pkg/domain/interfaces"
	"github.com/secmon-lab/hypomnema/pkg/service/document"
	"github.com/secmon-lab/hypomnema/pkg/service/llm"
	"github.com/secmon-lab/hypomnema/pkg/service/vector"
	"github.com/secmon-lab/hypomnema/pkg/usecase"
	"github.com/secmon-lab/hypomnema/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// coreConfig groups the flags shared by commands that need the memory core
type coreConfig struct {
	app    config.App
	repo   config.Repository
	gemini config.Gemini
}

func (r *coreConfig) Flags() []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, r.app.Flags()...)
	flags = append(flags, r.repo.Flags()...)
	flags = append(flags, r.gemini.Flags()...)
	return flags
}

// core holds the wired memory core of one command invocation
type core struct {
	appCfg  *config.AppConfig
	repo    interfaces.Repository
	useCase *usecase.UseCases
	closers []func()
}

// newCore wires repository, language model, vector service and use cases.
// docsSource decides whether a Cloud Storage client is needed for ingestion.
func (r *coreConfig) newCore(ctx context.Context, docsSource string) (*core, error) {
	rt := &core{}

	appCfg, err := r.app.Configure(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load configuration")
	}
	rt.appCfg = appCfg

	llmClient, err := r.gemini.Configure(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to configure Gemini")
	}
	if llmClient == nil {
		return nil, goerr.New("gemini-project is required")
	}
	logging.From(ctx).Info("Gemini configured", "gemini", r.gemini.LogAttrs())

	llmService, err := llm.New(llmClient,
		llm.WithEmbeddingDimension(appCfg.Vector.Dimensions),
		llm.WithThemeConfig(appCfg.ToThemeConfig()),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create language model service")
	}

	repo, err := r.repo.Configure(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to initialize repository")
	}
	rt.repo = repo
	rt.closers = append(rt.closers, func() {
		if err := repo.Close(); err != nil {
			logging.From(ctx).Error("failed to close repository", "error", err.Error())
		}
	})

	vectors, err := vector.New(repo.Vector(), appCfg.ToVectorConfig())
	if err != nil {
		rt.Close()
		return nil, goerr.Wrap(err, "failed to create vector service")
	}

	var loaderOpts []document.LoaderOption
	if strings.HasPrefix(docsSource, "gs://") {
		gcs, err := storage.NewClient(ctx)
		if err != nil {
			rt.Close()
			return nil, goerr.Wrap(err, "failed to create cloud storage client", goerr.V("source", docsSource))
		}
		rt.closers = append(rt.closers, func() {
			if err := gcs.Close(); err != nil {
				logging.From(ctx).Error("failed to close cloud storage client", "error", err.Error())
			}
		})
		loaderOpts = append(loaderOpts, document.WithStorageClient(gcs))
	}

	rt.useCase = usecase.New(repo, llmService,
		usecase.WithMemoryConfig(appCfg.ToMemoryConfig()),
		usecase.WithVectors(vectors),
		usecase.WithDocumentLoader(document.NewLoader(loaderOpts...)),
		usecase.WithTopicDetection(appCfg.Memory.TopicDetection),
		usecase.WithAgentClient(llmClient),
	)

	logging.From(ctx).Info("Memory core ready", "config", appCfg)
	return rt, nil
}

// Close releases resources in reverse order of acquisition
func (rt *core) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
