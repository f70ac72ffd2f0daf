package cmd

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/backstage/services/shipment/config"
	"example.com/backstage/services/shipment/internal/database"
	"example.com/backstage/services/shipment/internal/mirror/mongostore"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Prepare mirror and search storage",
	Long: `Creates the mirror schema or indexes for the configured mirror driver and,
when search is enabled, the status note index.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := migrateMirror(ctx, cfg); err != nil {
		return err
	}

	if es := connectSearch(cfg.Elastic); es != nil {
		log.Info().Msg("Ensuring status note index...")
		if err := es.EnsureIndex(ctx); err != nil {
			return err
		}
	}

	log.Info().Msg("Migrations completed successfully")
	return nil
}

func migrateMirror(ctx context.Context, cfg config.Config) error {
	switch cfg.Mirror.Driver {
	case driverPostgres:
		log.Info().Msg("Connecting to database...")
		db, err := database.Connect(cfg.DB)
		if err != nil {
			return err
		}
		defer db.Close()

		log.Info().Msg("Running database migrations...")
		return database.AutoMigrate(db)

	case driverMongo:
		log.Info().Msg("Connecting to MongoDB...")
		client, err := mongostore.Connect(ctx, cfg.Mongo)
		if err != nil {
			return err
		}
		defer client.Disconnect(context.Background())

		log.Info().Msg("Ensuring mirror indexes...")
		store := mongostore.New(client.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection))
		return store.EnsureIndexes(ctx)
	}

	return errors.Errorf("unknown mirror driver %q", cfg.Mirror.Driver)
}
