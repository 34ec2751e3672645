package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/vetclinic/backend/internal/infrastructure/config"
	"github.com/vetclinic/backend/internal/infrastructure/logger"
	"github.com/vetclinic/backend/internal/infrastructure/persistence"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var version = "dev"

// cli carries what every subcommand needs. loadConfig and connect are
// swapped in tests.
type cli struct {
	configPath string
	logLevel   string
	log        *zap.Logger
	loadConfig func(path string) (*config.Config, error)
	connect    func(ctx context.Context, cfg *config.Config, log *zap.Logger) (*gorm.DB, func() error, error)
}

func newCLI() *cli {
	return &cli{
		log:        zap.NewNop(),
		loadConfig: config.LoadFile,
		connect:    connectDatabase,
	}
}

func connectDatabase(_ context.Context, cfg *config.Config, log *zap.Logger) (*gorm.DB, func() error, error) {
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		return nil, nil, err
	}
	return db.DB, db.Close, nil
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Maintenance commands for the clinic ledger",
		Long: `ledgerctl talks to the ledger database directly.

Configuration comes from config.toml (or --config), VET_ prefixed environment
variables and a .env file in the working directory.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log, err := logger.New(&logger.Config{Level: c.logLevel, Format: "console", Output: "stderr"})
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			c.log = log
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "Config file (default: ./config.toml)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	root.AddCommand(newReconcileCmd(c), newBalanceCmd(c))
	return root
}

// withDatabase loads configuration, opens the database and hands it to fn
func (c *cli) withDatabase(ctx context.Context, fn func(db *gorm.DB) error) error {
	cfg, err := c.loadConfig(c.configPath)
	if err != nil {
		return err
	}
	db, closeDB, err := c.connect(ctx, cfg, c.log)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer func() {
		if err := closeDB(); err != nil {
			c.log.Warn("Error closing database", zap.Error(err))
		}
	}()
	return fn(db)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
