package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/learning-progress/internal/platform/config"
	"github.com/example/learning-progress/internal/platform/db"
	"github.com/example/learning-progress/internal/platform/logging"
	progresscfg "github.com/example/learning-progress/services/progress/internal/config"
	"github.com/example/learning-progress/services/progress/internal/progress"
	"github.com/example/learning-progress/services/progress/internal/store"
	"github.com/example/learning-progress/services/progress/internal/terms"
)

var (
	databaseURL string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "progressctl",
	Short: "Operate on learner progress records",
	Long: `progressctl runs progress operations directly against the progress
database. It is meant for migrations, support, and local development.

DATABASE_URL (or --database-url) must point at the progress Postgres
database. A .env file in the working directory is loaded first.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := config.LoadDotEnv(); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
		if databaseURL == "" {
			databaseURL = os.Getenv("DATABASE_URL")
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Postgres DSN (default $DATABASE_URL)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(contentCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(playheadCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(uncompleteCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(tokenCmd)
}

// session holds what a command needs to talk to the progress database.
type session struct {
	pool    *pgxpool.Pool
	orch    *progress.Orchestrator
	catalog *store.PostgresCatalog
	log     *zap.Logger
}

func (s *session) Close() {
	s.pool.Close()
	_ = s.log.Sync()
}

func openSession(ctx context.Context) (*session, error) {
	log, err := logging.New(logLevel)
	if err != nil {
		return nil, err
	}
	pool, err := db.Open(ctx, databaseURL, db.Options{MaxConns: 2})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	catalog := store.NewPostgresCatalog(pool)
	orch := progress.NewOrchestrator(progress.Options{
		Store:           store.NewPostgresStore(pool),
		Content:         catalog,
		Terms:           terms.NewCached(terms.NewPostgresDictionary(pool), nil, log),
		Logger:          log,
		ViewedThreshold: progresscfg.Load().ViewedThreshold,
	})
	return &session{pool: pool, orch: orch, catalog: catalog, log: log}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
