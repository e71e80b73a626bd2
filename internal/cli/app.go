package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/jdziat/durable-queue/internal/config"
	"github.com/jdziat/durable-queue/pkg/metrics"
	"github.com/jdziat/durable-queue/pkg/queue"
	"github.com/jdziat/durable-queue/pkg/storage"
	pebblestore "github.com/jdziat/durable-queue/pkg/storage/pebble"
)

// SetupFunc registers handlers, middleware or drivers on the queue before
// a command runs.
type SetupFunc func(q *queue.Queue) error

// app holds what a command needs once the configuration is loaded.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	setup  []SetupFunc

	db     *gorm.DB
	store  *storage.GormStorage
	pebble *pebblestore.Driver
	queue  *queue.Queue
	stats  metrics.StatsStorage
}

// load reads the config file, the environment and the changed flags, in
// that order of precedence.
func (a *app) load(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	config.FromEnv(&cfg)

	flags := cmd.Flags()
	if flags.Changed("driver") {
		cfg.Database.Driver, _ = flags.GetString("driver")
	}
	if flags.Changed("dsn") {
		cfg.Database.DSN, _ = flags.GetString("dsn")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Log.Format, _ = flags.GetString("log-format")
	}
	if flags.Changed("pebble-dir") {
		cfg.Pebble.DataDir, _ = flags.GetString("pebble-dir")
	}
	if flags.Changed("pebble-queue") {
		cfg.Pebble.Queues, _ = flags.GetStringSlice("pebble-queue")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = cfg.Log.NewLogger(cmd.ErrOrStderr())
	slog.SetDefault(a.logger)
	return nil
}

// open connects the stores and builds the queue.
func (a *app) open(ctx context.Context) error {
	db, err := storage.Open(a.cfg.Database.Driver, a.cfg.Database.DSN, a.cfg.Database.PoolOptions()...)
	if err != nil {
		return err
	}
	a.db = db
	a.store = storage.NewGormStorage(db)
	if err := a.store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.stats = metrics.NewGormStatsStorage(db)
	if err := a.stats.MigrateStats(ctx); err != nil {
		return fmt.Errorf("migrate stats: %w", err)
	}

	a.queue = queue.New(a.store, queue.WithLogger(a.logger))
	if a.cfg.Pebble.Enabled() {
		opts, err := a.cfg.Pebble.Options()
		if err != nil {
			return err
		}
		a.pebble, err = pebblestore.Open(opts)
		if err != nil {
			return fmt.Errorf("open pebble: %w", err)
		}
		a.queue.RegisterDriver(pebblestore.DriverName, a.pebble)
	}
	for name, qc := range a.cfg.QueueConfigs() {
		if err := a.queue.Configure(name, qc); err != nil {
			return fmt.Errorf("queue %q: %w", name, err)
		}
	}
	for _, fn := range a.setup {
		if err := fn(a.queue); err != nil {
			return fmt.Errorf("setup: %w", err)
		}
	}
	return nil
}

func (a *app) close() error {
	var errs []error
	if a.pebble != nil {
		errs = append(errs, a.pebble.Close())
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}

// withQueue runs fn against an opened queue and closes it afterwards.
func (a *app) withQueue(cmd *cobra.Command, fn func(ctx context.Context, q *queue.Queue) error) error {
	ctx := cmd.Context()
	if err := a.open(ctx); err != nil {
		return errors.Join(err, a.close())
	}
	err := fn(ctx, a.queue)
	return errors.Join(err, a.close())
}
