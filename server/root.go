package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/meikuraledutech/buildgraph"
	"github.com/meikuraledutech/buildgraph/badger"
	"github.com/meikuraledutech/buildgraph/cache"
	"github.com/meikuraledutech/buildgraph/config"
	"github.com/meikuraledutech/buildgraph/memory"
	"github.com/meikuraledutech/buildgraph/postgres"
	"github.com/meikuraledutech/buildgraph/service"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:           "buildgraph",
	Short:         "Dependency-ordered build task resolution",
	Long:          "buildgraph stores build tasks and their prerequisites, detects dependency cycles and serves topologically sorted execution orders over HTTP or the command line.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configDir, "config", "c", ".", "directory searched for buildgraph.yaml")
}

// app bundles everything a command needs: resolved settings, the wired
// coordinator and the handles that must be closed on the way out.
type app struct {
	settings *config.Settings
	logger   *slog.Logger
	store    buildgraph.Store
	backend  *badger.Store
	pool     *pgxpool.Pool
	svc      *service.Service

	// ephemeral is set when the store loses its contents on exit, in
	// which case one-shot commands ingest the definition files first.
	ephemeral bool
}

// newApp loads settings and wires the store, cache and coordinator.
// Postgres is selected when database_url is set, the in-memory store
// otherwise. The cache lives in cache_dir, or in memory without one.
func newApp(ctx context.Context) (*app, error) {
	_ = godotenv.Load()

	settings, err := config.LoadFrom(configDir)
	if err != nil {
		return nil, err
	}
	logger := config.NewLogger(os.Stderr, settings.LogLevel, settings.LogFormat)

	a := &app{settings: settings, logger: logger}

	if settings.DatabaseURL != "" {
		poolCfg, err := pgxpool.ParseConfig(settings.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("buildgraph: parse database url: %w", err)
		}
		if settings.PoolMaxConns > 0 {
			poolCfg.MaxConns = settings.PoolMaxConns
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("buildgraph: connect: %w", err)
		}
		a.pool = pool
		a.store = postgres.New(pool)
		if err := a.store.Ping(ctx); err != nil {
			a.Close()
			return nil, err
		}
		logger.Info("using postgres store")
	} else {
		a.store = memory.New()
		a.ephemeral = true
		logger.Warn("database_url is not set, falling back to the in-memory store; data is lost on exit")
	}

	badgerCfg := badger.InMemoryConfig()
	if settings.CacheDir != "" {
		badgerCfg = badger.DefaultConfig()
		badgerCfg.Path = settings.CacheDir
	}
	badgerCfg.Logger = logger
	backend, err := badger.Open(badgerCfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.backend = backend

	a.svc = service.New(service.Config{
		Store:     a.store,
		Cache:     cache.New(backend, settings.CacheTTL, logger),
		Logger:    logger,
		StepDelay: settings.StepDelay,
	})
	return a, nil
}

// Close releases the cache and database handles.
func (a *app) Close() {
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.logger.Error("close cache", "error", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// loadDefinitions ingests the task and build definition files when they
// exist. Missing files are fine; malformed ones are not.
func (a *app) loadDefinitions(ctx context.Context) error {
	loader := config.NewOsLoader()

	tasks, err := loader.LoadTasks(a.settings.TasksPath())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	builds, err := loader.LoadBuilds(a.settings.BuildsPath())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if len(tasks) == 0 && len(builds) == 0 {
		return nil
	}

	nTasks, nBuilds, err := a.svc.ApplyDefinitions(ctx, tasks, builds)
	if err != nil {
		return err
	}
	a.logger.Info("definitions applied", "tasks", nTasks, "builds", nBuilds, "dir", a.settings.ConfigDir)
	return nil
}

// seedIfEphemeral loads definitions for one-shot commands running
// against the in-memory store, which starts empty.
func (a *app) seedIfEphemeral(ctx context.Context) error {
	if !a.ephemeral {
		return nil
	}
	return a.loadDefinitions(ctx)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
