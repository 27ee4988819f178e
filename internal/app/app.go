// Package app wires together the store, tenant registry, feed client,
// refresh coordinator, scheduler and HTTP server into a single orchestrator.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/testimonials-cache/testimonials-cache/internal/clock"
	"github.com/testimonials-cache/testimonials-cache/internal/config"
	"github.com/testimonials-cache/testimonials-cache/internal/feed"
	"github.com/testimonials-cache/testimonials-cache/internal/health"
	"github.com/testimonials-cache/testimonials-cache/internal/metrics"
	"github.com/testimonials-cache/testimonials-cache/internal/refresh"
	"github.com/testimonials-cache/testimonials-cache/internal/registry"
	"github.com/testimonials-cache/testimonials-cache/internal/render"
	"github.com/testimonials-cache/testimonials-cache/internal/scheduler"
	"github.com/testimonials-cache/testimonials-cache/internal/server"
	"github.com/testimonials-cache/testimonials-cache/internal/snapshot"
	"github.com/testimonials-cache/testimonials-cache/internal/store"
)

// App is the main application orchestrator.
type App struct {
	config      *config.Config
	kv          store.Store
	sites       *registry.Registry
	snapshots   *snapshot.Store
	coordinator *refresh.Coordinator
	reporter    *health.Reporter
	scheduler   *scheduler.Scheduler
	queue       *scheduler.RefreshQueue
	server      *server.Server
	logger      *logrus.Entry
}

// New creates and initialises the application:
//  1. Opens the configured key-value store.
//  2. Loads the tenant registry.
//  3. Creates the feed client and refresh coordinator.
//  4. Creates the health reporter and metrics.
//  5. Creates the scheduler when a refresh interval is configured.
//  6. Creates the HTTP server.
func New(cfg *config.Config, logger *logrus.Entry) (*App, error) {
	return NewWithClock(cfg, clock.Real(), logger)
}

// NewWithClock is New with an injected clock.
func NewWithClock(cfg *config.Config, c clock.Clock, logger *logrus.Entry) (*App, error) {
	log := logger.WithField("component", "app")

	// --- 1. Store ---
	kv, err := OpenStore(cfg.Store, log)
	if err != nil {
		return nil, err
	}

	// --- 2. Registry ---
	siteMap, err := registry.Load(cfg.Registry.Path)
	if err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("loading registry: %w", err)
	}
	sites := registry.New(siteMap)
	log.WithFields(logrus.Fields{
		"path":  cfg.Registry.Path,
		"sites": sites.Len(),
	}).Info("registry loaded")

	// --- 3. Feed client and coordinator ---
	fetcher := feed.New(feed.Options{
		Timeout:      cfg.Feed.Timeout(),
		UserAgent:    cfg.Feed.UserAgent,
		MaxBodyBytes: cfg.Feed.MaxBodyBytes,
		RPS:          cfg.Feed.MaxRequestsPerSecond,
		Burst:        cfg.Feed.BurstRequestsPerSecond,
	}, logger)
	snapshots := snapshot.NewStore(kv)
	coord := refresh.NewCoordinator(sites, fetcher, snapshots, c, logger)

	// --- 4. Health and metrics ---
	reporter := health.NewReporter(snapshots, snapshot.NewFreshnessPolicy(c, cfg.Refresh.StaleAfter()))

	metricsRegistry := metrics.NewRegistry(logger)
	metricsRegistry.Register(metrics.NewSnapshotCollector(sites.Hosts, reporter, 10*time.Second, logger))
	extra := append(refresh.Collectors(), feed.Collectors()...)
	gatherer, err := metrics.NewGatherer(metricsRegistry, extra...)
	if err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	// --- 5. Scheduler ---
	sched := scheduler.NewScheduler(logger)
	var queue *scheduler.RefreshQueue
	if interval := cfg.Refresh.Interval(); interval > 0 {
		sched.AddTask(scheduler.RefreshAllTask(interval, sites.Hosts, coord.RefreshAll, logger))
		queue = scheduler.NewRefreshQueue(64, func(ctx context.Context, host string) {
			coord.Refresh(ctx, host)
		}, logger)
		sched.SetQueue(queue)
		log.WithField("interval", interval).Info("built-in refresh scheduler enabled")
	}

	// --- 6. HTTP server ---
	renderer, err := render.New(render.Brand{
		Name:          cfg.Page.BrandName,
		URL:           cfg.Page.BrandURL,
		LogoURL:       cfg.Page.LogoURL,
		StylesheetURL: cfg.Page.StylesheetURL,
	}, c)
	if err != nil {
		_ = kv.Close()
		return nil, err
	}
	srv := server.NewServer(cfg, server.Deps{
		Sites:     sites,
		Snapshots: snapshots,
		Health:    reporter,
		Refresher: coord,
		Renderer:  renderer,
		Gatherer:  gatherer,
	}, logger)

	return &App{
		config:      cfg,
		kv:          kv,
		sites:       sites,
		snapshots:   snapshots,
		coordinator: coord,
		reporter:    reporter,
		scheduler:   sched,
		queue:       queue,
		server:      srv,
		logger:      log,
	}, nil
}

// OpenStore opens the key-value backend selected by cfg.
func OpenStore(cfg config.StoreConfig, logger *logrus.Entry) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		rs, err := store.NewRedisStore(cfg.Redis.URL, store.RedisOptions{
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		if err != nil {
			return nil, fmt.Errorf("creating redis store: %w", err)
		}
		logger.Info("using Redis store")
		return rs, nil
	case config.BackendSQLite:
		ss, err := store.NewSQLiteStore(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("creating sqlite store: %w", err)
		}
		logger.WithField("path", cfg.SQLite.Path).Info("using SQLite store")
		return ss, nil
	default:
		logger.Info("using in-memory store")
		return store.NewMemoryStore(), nil
	}
}

// Sites returns the tenant registry.
func (a *App) Sites() *registry.Registry { return a.sites }

// Handler returns the HTTP handler, for tests.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Refresh runs one refresh cycle for host, bounded by the configured
// refresh timeout.
func (a *App) Refresh(ctx context.Context, host string) refresh.Outcome {
	ctx, cancel := context.WithTimeout(ctx, a.config.Refresh.Timeout())
	defer cancel()
	return a.coordinator.Refresh(ctx, host)
}

// Health reports host's health.
func (a *App) Health(ctx context.Context, host string) (health.Report, error) {
	return a.reporter.Report(ctx, host)
}

// Run starts the scheduler, registry watcher and HTTP server, then blocks
// until ctx is cancelled. On cancellation it performs a graceful shutdown.
func (a *App) Run(ctx context.Context) error {
	a.scheduler.Start(ctx)

	if a.config.Registry.Watch {
		go func() {
			if err := registry.Watch(ctx, a.config.Registry.Path, a.sites, a.onSitesAdded, a.logger); err != nil {
				a.logger.WithError(err).Error("registry watcher stopped")
			}
		}()
	}

	if err := a.server.Start(ctx); err != nil {
		a.scheduler.Stop()
		_ = a.kv.Close()
		return fmt.Errorf("starting server: %w", err)
	}

	a.server.SetReady(true)
	a.logger.Info("testimonials-cache is ready")

	<-ctx.Done()

	a.logger.Info("shutting down")

	a.server.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := a.server.Stop(shutdownCtx); err != nil {
		a.logger.WithError(err).Error("error during server shutdown")
	}

	a.scheduler.Stop()

	return a.Close()
}

// Close releases the store.
func (a *App) Close() error {
	if err := a.kv.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	return nil
}

// onSitesAdded queues an initial refresh for hosts that appeared on a
// registry reload. Without the built-in scheduler they wait for the
// external one.
func (a *App) onSitesAdded(hosts []string) {
	if a.queue == nil {
		a.logger.WithField("hosts", hosts).Info("new sites registered, awaiting external refresh")
		return
	}
	n := a.queue.EnqueueAll(hosts)
	a.logger.WithFields(logrus.Fields{"hosts": hosts, "queued": n}).Info("new sites queued for refresh")
}
