package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/roach88/stockroom/internal/bus"
	"github.com/roach88/stockroom/internal/config"
	"github.com/roach88/stockroom/internal/logging"
	"github.com/roach88/stockroom/internal/query"
	"github.com/roach88/stockroom/internal/queue"
	"github.com/roach88/stockroom/internal/replica"
	"github.com/roach88/stockroom/internal/scheduler"
	"github.com/roach88/stockroom/internal/store"
	"github.com/roach88/stockroom/internal/transport"
)

// errNoEndpoint is returned by every backend call when no endpoint is
// configured. Local reads and queued edits still work.
var errNoEndpoint = &transport.ConfigError{Message: "no endpoint configured"}

// App is one session: the store, the replica feeding the query engine, the
// command queue applying edits to the replica, and the scheduler
// delivering the queue.
type App struct {
	Config    *config.Config
	Store     *store.Store
	Replica   *replica.Replica
	Engine    *query.Engine
	Queue     *queue.Queue
	Client    *transport.Client // nil without an endpoint
	Bus       *bus.Bus
	Relay     *bus.FileRelay // nil if the data directory cannot be watched
	Scheduler *scheduler.Scheduler
	Builder   *queue.Builder
	Armer     *scheduler.ArmFile

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logCloser io.Closer
}

type appOptions struct {
	startupSync bool
}

// openApp loads the configuration and wires a session. Failures are
// reported through f and returned as ExitErrors.
func openApp(cmd *cobra.Command, root *RootOptions, f *OutputFormatter, ao appOptions) (*App, error) {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return nil, fail(f, ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	if root.DataDir != "" {
		cfg.DataDir = root.DataDir
	}

	logCloser, err := logging.Setup(cmd.ErrOrStderr(), logging.Options{
		Level:      cfg.Log.Level,
		Verbose:    root.Verbose,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, fail(f, ExitCommandError, ErrCodeConfig, "failed to set up logging", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logCloser.Close()
		return nil, fail(f, ExitCommandError, ErrCodeStore, "failed to create data directory", err)
	}
	slog.Debug("opening store", "path", cfg.StorePath())
	st, err := store.Open(cfg.StorePath())
	if err != nil {
		logCloser.Close()
		return nil, fail(f, ExitCommandError, ErrCodeStore, "failed to open store", err)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	app := &App{
		Config:    cfg,
		Store:     st,
		Engine:    query.New(),
		Bus:       bus.New(),
		Armer:     scheduler.NewArmFile(cfg.DataDir),
		ctx:       ctx,
		cancel:    cancel,
		logCloser: logCloser,
	}
	app.Engine.Start(ctx)

	var source replica.DeltaSource
	var sender scheduler.Sender = unconfigured{}
	if cfg.Endpoint != "" {
		app.Client = newClient(cfg)
		source = app.Client
		sender = app.Client
	}
	app.Replica = replica.New(source,
		replica.WithCache(replica.NewCache(st)),
		replica.WithSink(app.Engine),
	)
	if _, err := app.Replica.Restore(ctx); err != nil {
		slog.Warn("cached inventory unavailable, starting empty", "error", err)
	}

	app.Queue = queue.New(st, app.Replica)
	app.Builder = queue.NewBuilder(actorName(cfg))

	if relay, err := bus.NewFileRelay(cfg.DataDir, app.Bus); err != nil {
		slog.Warn("cross-process notifications disabled", "error", err)
	} else {
		app.Relay = relay
	}

	opts := []scheduler.Option{
		scheduler.WithLock(cfg.LockPath()),
		scheduler.WithPollInterval(cfg.Sync.PollInterval),
		scheduler.WithDisplayInterval(cfg.Sync.DisplayInterval),
		scheduler.WithStartupSync(ao.startupSync),
	}
	if cfg.Sync.Background {
		opts = append(opts, scheduler.WithBackground(app.Armer))
	}
	if cfg.Sync.Probe && app.Client != nil {
		opts = append(opts, scheduler.WithConnectivity(scheduler.NewProbe(app.Client, cfg.Sync.ProbeTimeout)))
	}
	app.Scheduler = scheduler.New(app.Queue, sender, app.Bus, opts...)
	if err := app.Scheduler.Init(ctx); err != nil {
		app.Close()
		return nil, fail(f, ExitCommandError, ErrCodeStore, "failed to restore queue", err)
	}
	return app, nil
}

// Context is cancelled when the app closes.
func (a *App) Context() context.Context {
	return a.ctx
}

// Go runs fn in the background until the app closes. Close waits for it.
func (a *App) Go(fn func(ctx context.Context)) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn(a.ctx)
	}()
}

// Close releases everything openApp acquired.
func (a *App) Close() error {
	a.cancel()
	a.wg.Wait()
	a.Scheduler.Close()
	if a.Relay != nil {
		if err := a.Relay.Close(); err != nil {
			slog.Warn("error closing relay", "error", err)
		}
	}
	a.Bus.Close()
	a.Engine.Stop()

	var errs []error
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if err := a.logCloser.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close log: %w", err))
	}
	return errors.Join(errs...)
}

// requireBackend fails unless an endpoint is configured.
func (a *App) requireBackend(f *OutputFormatter) error {
	if a.Client == nil {
		return fail(f, ExitCommandError, ErrCodeConfig, "no endpoint configured", nil)
	}
	return nil
}

func newClient(cfg *config.Config) *transport.Client {
	retry := transport.DefaultRetryConfig()
	retry.MaxRetries = cfg.Transport.MaxRetries
	retry.InitialBackoff = cfg.Transport.InitialBackoff
	retry.Jitter = cfg.Transport.Jitter
	return transport.New(cfg.Endpoint,
		transport.WithHTTPClient(&http.Client{Timeout: cfg.Transport.Timeout}),
		transport.WithRetry(retry),
	)
}

func actorName(cfg *config.Config) string {
	if cfg.Actor != "" {
		return cfg.Actor
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

// unconfigured fails every submission so queued edits stay queued.
type unconfigured struct{}

func (unconfigured) SubmitBatch(context.Context, []queue.Command) (*transport.BatchResponse, error) {
	return nil, errNoEndpoint
}

// backendFailure maps a transport error onto an exit code.
func backendFailure(f *OutputFormatter, message string, err error) error {
	if transport.IsConfigError(err) {
		return fail(f, ExitCommandError, ErrCodeConfig, message, err)
	}
	return fail(f, ExitFailure, ErrCodeBackend, message, err)
}
