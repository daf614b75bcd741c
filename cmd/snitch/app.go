package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sacharya/FleetDeploymentReporting/config"
	"github.com/sacharya/FleetDeploymentReporting/graph"
	"github.com/sacharya/FleetDeploymentReporting/graph/memory"
	"github.com/sacharya/FleetDeploymentReporting/graph/neo4jgraph"
	"github.com/sacharya/FleetDeploymentReporting/lock"
	"github.com/sacharya/FleetDeploymentReporting/runs"
	"github.com/sacharya/FleetDeploymentReporting/schema"
	"github.com/sacharya/FleetDeploymentReporting/telemetry"
)

// app holds what every command shares once the configuration is resolved.
type app struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	configPath string
	logLevel   string

	// openStore is replaced in tests.
	openStore func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (graph.Store, error)

	cfg      *config.Config
	logger   *slog.Logger
	reg      *schema.Registry
	store    graph.Store
	tel      *telemetry.Telemetry
	shutdown telemetry.ShutdownFunc
	catalog  *runs.RedisStore
}

func newApp() *app {
	return &app{
		in:        os.Stdin,
		out:       os.Stdout,
		errOut:    os.Stderr,
		openStore: openStore,
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (graph.Store, error) {
	if cfg.Store == config.StoreMemory {
		return memory.New(), nil
	}
	return neo4jgraph.Open(ctx, neo4jgraph.Config{
		URI:      cfg.Neo4j.URI,
		Username: cfg.Neo4j.Username,
		Password: cfg.Neo4j.Password,
		Database: cfg.Neo4j.Database,
		Logger:   logger,
	})
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.GetLevel()}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// setup resolves the configuration and builds the logger and telemetry. It
// does not touch the graph; commands call connect for that.
func (a *app) setup(ctx context.Context) error {
	cfg, err := config.Resolve(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg
	a.logger = newLogger(a.errOut, cfg.Log)

	if cfg.Schema != "" {
		a.reg, err = schema.Load(cfg.Schema)
	} else {
		a.reg = schema.Default()
	}
	if err != nil {
		return fmt.Errorf("failed to load schema: %w", err)
	}

	if cfg.Telemetry.Writer == nil {
		cfg.Telemetry.Writer = a.errOut
	}
	a.tel, a.shutdown, err = telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	return nil
}

// connect opens the graph store.
func (a *app) connect(ctx context.Context) error {
	store, err := a.openStore(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	a.store = store
	return nil
}

func (a *app) locker() *lock.Locker {
	return lock.New(a.store,
		lock.WithLease(a.cfg.Lock.GetLease()),
		lock.WithLogger(a.logger),
	)
}

// runStore returns the run catalog: Redis when configured, otherwise the run
// directories themselves.
func (a *app) runStore() (runs.Store, error) {
	dir := runs.NewDirStore(a.cfg.DataDir, a.logger)
	if a.cfg.Redis.URL == "" {
		return dir, nil
	}
	catalog, err := runs.NewRedisStore(runs.RedisOptions{
		URL:            a.cfg.Redis.URL,
		ConnectTimeout: a.cfg.Redis.GetConnectTimeout(),
	}, dir)
	if err != nil {
		return nil, err
	}
	a.catalog = catalog
	return catalog, nil
}

// close releases everything setup and connect opened.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close(ctx))
		a.store = nil
	}
	if a.catalog != nil {
		errs = append(errs, a.catalog.Close())
		a.catalog = nil
	}
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(ctx))
		a.shutdown = nil
	}
	return errors.Join(errs...)
}
