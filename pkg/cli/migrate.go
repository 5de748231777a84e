package cli

import (
	"context"

	"github.com/m-mizutani/fireconf"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hypomnema/pkg/cli/config"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
	domainConfig "github.com/secmon-lab/hypomnema/pkg/domain/model/config"
	"github.com/secmon-lab/hypomnema/pkg/repository/firestore"
	"github.com/secmon-lab/hypomnema/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdMigrate() *cli.Command {
	var (
		appCfg  config.App
		repoCfg config.Repository
		dryRun  bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "dry-run",
			Usage:       "Preview changes without applying",
			Destination: &dryRun,
		},
	}
	flags = append(flags, appCfg.Flags()...)
	flags = append(flags, repoCfg.Flags()...)

	return &cli.Command{
		Name:    "migrate",
		Aliases: []string{"m"},
		Usage:   "Migrate Firestore indexes",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := logging.From(ctx)

			if repoCfg.ProjectID() == "" {
				return goerr.New("firestore-project-id is required")
			}

			cfg, err := appCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to load configuration")
			}

			logger.Info("Migrate configuration",
				"projectID", repoCfg.ProjectID(),
				"databaseID", repoCfg.DatabaseID(),
				"prefix", repoCfg.CollectionPrefix(),
				"dryRun", dryRun)

			indexConfig := getIndexConfig(repoCfg.CollectionPrefix(), cfg.ToVectorConfig())

			client, err := fireconf.NewClient(ctx, repoCfg.ProjectID(), repoCfg.DatabaseID())
			if err != nil {
				return goerr.Wrap(err, "failed to create fireconf client")
			}
			defer func() {
				if err := client.Close(); err != nil {
					logger.Error("failed to close fireconf client", "error", err.Error())
				}
			}()

			if dryRun {
				logger.Info("Dry run mode - previewing changes")
				plan, err := client.GetMigrationPlan(ctx, indexConfig)
				if err != nil {
					return goerr.Wrap(err, "failed to create migration plan")
				}

				if len(plan.Steps) == 0 {
					logger.Info("No changes required")
					return nil
				}

				for _, step := range plan.Steps {
					logger.Info("Migration step",
						"collection", step.Collection,
						"operation", step.Operation,
						"description", step.Description,
						"destructive", step.Destructive)
				}
				return nil
			}

			logger.Info("Applying migrations")
			if err := client.Migrate(ctx, indexConfig); err != nil {
				return goerr.Wrap(err, "failed to apply migrations")
			}
			logger.Info("Migrations applied successfully")
			return nil
		},
	}
}

// getIndexConfig returns the Firestore index configuration. Composite indexes
// of sub-collections (messages, summaries) are keyed by collection ID and
// apply under every conversation.
func getIndexConfig(prefix string, vectors domainConfig.VectorConfig) *fireconf.Config {
	collections := []fireconf.Collection{
		{
			Name: prefix + "conversations",
			Indexes: []fireconf.Index{
				// ListByUser: UserID ASC, LastActivity DESC
				{
					Fields: []fireconf.IndexField{
						{Path: "UserID", Order: fireconf.OrderAscending},
						{Path: "LastActivity", Order: fireconf.OrderDescending},
					},
				},
			},
		},
		{
			Name: "messages",
			Indexes: []fireconf.Index{
				// ListLatest
				{
					Fields: []fireconf.IndexField{
						{Path: "Timestamp", Order: fireconf.OrderDescending},
						{Path: "ID", Order: fireconf.OrderDescending},
					},
				},
				// ListRange
				{
					Fields: []fireconf.IndexField{
						{Path: "Timestamp", Order: fireconf.OrderAscending},
						{Path: "ID", Order: fireconf.OrderAscending},
					},
				},
			},
		},
		{
			Name: "summaries",
			Indexes: []fireconf.Index{
				// ListByLevel: Level ASC, Timestamp DESC
				{
					Fields: []fireconf.IndexField{
						{Path: "Level", Order: fireconf.OrderAscending},
						{Path: "Timestamp", Order: fireconf.OrderDescending},
					},
				},
			},
		},
	}

	for _, idx := range vectors.Indexes {
		vectorField := fireconf.IndexField{
			Path: "Embedding",
			Vector: &fireconf.VectorConfig{
				Dimension: idx.Dimensions,
			},
		}
		collections = append(collections, fireconf.Collection{
			Name: prefix + firestore.VectorCollectionName(idx.Name),
			Indexes: []fireconf.Index{
				{Fields: []fireconf.IndexField{vectorField}},
				// Query filtered by user
				{
					Fields: []fireconf.IndexField{
						{Path: "Metadata." + model.MetaUserID, Order: fireconf.OrderAscending},
						vectorField,
					},
				},
			},
		})
	}

	return &fireconf.Config{Collections: collections}
}
