package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	httpctrl "github.com/secmon-lab/hypomnema/pkg/controller/http"
	"github.com/secmon-lab/hypomnema/pkg/utils/async"
	"github.com/secmon-lab/hypomnema/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdServe() *cli.Command {
	var (
		coreCfg coreConfig
		addr    string
		timeout time.Duration
		docs    string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "HTTP server address",
			Value:       ":8080",
			Sources:     cli.EnvVars("HYPOMNEMA_ADDR"),
			Destination: &addr,
		},
		&cli.DurationFlag{
			Name:        "request-timeout",
			Usage:       "Timeout of one API request",
			Value:       2 * time.Minute,
			Sources:     cli.EnvVars("HYPOMNEMA_REQUEST_TIMEOUT"),
			Destination: &timeout,
		},
		&cli.StringFlag{
			Name:        "docs",
			Usage:       "Document directory or gs://bucket/prefix ingested in the background at startup",
			Sources:     cli.EnvVars("HYPOMNEMA_DOCS"),
			Destination: &docs,
		},
	}
	flags = append(flags, coreCfg.Flags()...)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start HTTP server",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			rt, err := coreCfg.newCore(ctx, docs)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.useCase.Processor.Start(ctx); err != nil {
				return goerr.Wrap(err, "failed to start message processor")
			}

			if docs != "" {
				async.Dispatch(ctx, func(ctx context.Context) error {
					return runIngest(ctx, rt.useCase.Ingest, docs, os.Stdout)
				})
			}

			server := &http.Server{
				Addr:              addr,
				Handler:           httpctrl.New(rt.useCase, httpctrl.WithRequestTimeout(timeout)),
				ReadHeaderTimeout: 30 * time.Second,
			}

			// Setup signal handling for graceful shutdown
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			errCh := make(chan error, 1)
			go func() {
				logging.From(ctx).Info("Starting HTTP server", "addr", addr)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- goerr.Wrap(err, "failed to start server")
				}
			}()

			select {
			case err := <-errCh:
				rt.useCase.Processor.Stop()
				return err
			case sig := <-sigCh:
				logging.From(ctx).Info("Received shutdown signal", "signal", sig)

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				if err := server.Shutdown(shutdownCtx); err != nil {
					return goerr.Wrap(err, "failed to shutdown server gracefully")
				}

				// Drain pending summary tasks after the last request finished
				rt.useCase.Processor.Stop()

				logging.From(ctx).Info("Server shutdown completed")
				return nil
			}
		},
	}
}
