// Package app wires configuration loading, handler registration, registry
// freeze, the execution engine and the scheduler into one application
// instance with an isolated logger.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/vk/assetflow/internal/config"
	"github.com/vk/assetflow/internal/ctxlog"
	"github.com/vk/assetflow/internal/engine"
	"github.com/vk/assetflow/internal/registry"
	"github.com/vk/assetflow/internal/report"
	"github.com/vk/assetflow/internal/sched"
	"github.com/vk/assetflow/modules/csvsource"
	"github.com/vk/assetflow/modules/rowfilter"
)

// Config holds everything an App needs to run.
type Config struct {
	// ConfigPath is an .hcl file or a directory searched recursively.
	ConfigPath string
	LogLevel   string
	LogFormat  string
	// Workers bounds concurrent asset executions per run.
	Workers int
	// StatusPort enables the read-only HTTP status endpoint; 0 disables it.
	StatusPort int
	// TickInterval is the scheduler resolution; zero means one minute.
	TickInterval time.Duration
}

// App encapsulates the application's dependencies and lifecycle.
type App struct {
	cfg    *Config
	logger *slog.Logger

	registry  *registry.Registry
	graph     *registry.Graph
	engine    *engine.Engine
	scheduler *sched.Scheduler
	store     *report.Store
	model     *config.Model
}

// coreModules are the built-in handler packages registered when the caller
// provides none.
func coreModules() []registry.Module {
	return []registry.Module{
		&csvsource.Module{},
		&rowfilter.Module{},
	}
}

// New loads configuration, registers handlers and assets, freezes the
// registry and returns a ready App. Every configuration error surfaces here,
// before anything executes.
func New(outW io.Writer, cfg *Config, loader config.Loader, modules ...registry.Module) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)

	model, err := loader.Load(ctx, cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules()
	}
	for _, mod := range modules {
		if err := mod.Register(reg); err != nil {
			return nil, fmt.Errorf("failed to register module: %w", err)
		}
	}
	logger.Debug("Handler modules registered.", "count", len(modules))

	if err := reg.LoadModel(ctx, model); err != nil {
		return nil, err
	}
	graph, err := reg.Freeze()
	if err != nil {
		return nil, err
	}
	logger.Debug("Registry frozen.", "assets", graph.Len())

	eng := engine.New(graph, nil, cfg.Workers)
	store := report.NewStore()
	scheduler := sched.New(eng, store)
	if err := scheduler.LoadModel(model); err != nil {
		return nil, err
	}

	return &App{
		cfg:       cfg,
		logger:    logger,
		registry:  reg,
		graph:     graph,
		engine:    eng,
		scheduler: scheduler,
		store:     store,
		model:     model,
	}, nil
}

// Logger returns the application's isolated logger.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Graph returns the frozen asset graph.
func (a *App) Graph() *registry.Graph {
	return a.graph
}

// Engine returns the execution engine.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Scheduler returns the job scheduler.
func (a *App) Scheduler() *sched.Scheduler {
	return a.scheduler
}

// Store returns the run report store.
func (a *App) Store() *report.Store {
	return a.store
}

// RunAssets executes an ad hoc selection of assets and returns the sealed
// report.
func (a *App) RunAssets(ctx context.Context, names ...string) (*report.RunReport, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	rep, err := a.engine.Execute(ctx, engine.Request{Assets: names, Trigger: sched.TriggerManual})
	if err != nil {
		return nil, err
	}
	a.store.Add(rep)
	return rep, nil
}

// RunJob materializes a job immediately, optionally restricted to a subset
// of its assets.
func (a *App) RunJob(ctx context.Context, name string, subset ...string) (*report.RunReport, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	return a.scheduler.Materialize(ctx, name, subset...)
}

// Serve runs the scheduler loop (and the status endpoint, when enabled)
// until ctx is canceled, then waits for in-flight runs to finish.
func (a *App) Serve(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	if a.cfg.StatusPort > 0 {
		if err := a.startStatusServer(ctx, a.cfg.StatusPort); err != nil {
			return err
		}
	}

	a.scheduler.Start(ctx, a.cfg.TickInterval)
	a.scheduler.Wait()
	return nil
}
