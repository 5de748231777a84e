package cli

import (
	"context"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hypomnema/pkg/usecase"
	"github.com/secmon-lab/hypomnema/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdIngest() *cli.Command {
	var (
		coreCfg coreConfig
		docs    string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "docs",
			Aliases:     []string{"d"},
			Usage:       "Document directory or gs://bucket/prefix to ingest",
			Required:    true,
			Sources:     cli.EnvVars("HYPOMNEMA_DOCS"),
			Destination: &docs,
		},
	}
	flags = append(flags, coreCfg.Flags()...)

	return &cli.Command{
		Name:  "ingest",
		Usage: "Load, chunk, embed and index documents",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			rt, err := coreCfg.newCore(ctx, docs)
			if err != nil {
				return err
			}
			defer rt.Close()

			return runIngest(ctx, rt.useCase.Ingest, docs, os.Stdout)
		},
	}
}

func runIngest(ctx context.Context, ingest *usecase.IngestUseCase, source string, out io.Writer) error {
	logging.From(ctx).Info("Ingesting documents", "source", source)

	result, err := ingest.IngestDirectory(ctx, source)
	if err != nil {
		return goerr.Wrap(err, "failed to ingest documents", goerr.V(usecase.SourceKey, source))
	}

	c := color.New(color.FgGreen)
	if result.Failed > 0 {
		c = color.New(color.FgYellow)
	}
	_, _ = c.Fprintf(out, "ingested %d documents: %d chunks, %d indexed, %d failed\n",
		result.Documents, result.Chunks, result.Upserted, result.Failed)

	return nil
}
