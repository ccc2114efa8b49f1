// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gateway provides the LedgerLocal sync gateway service.
//
// The gateway is the long-lived context between the finance app's
// views and the remote backend. It owns the tiered response cache and
// the durable mutation queue, intercepts every request the app issues,
// replays queued writes when connectivity returns, and pushes
// lifecycle events (online/offline, sync completion, updates,
// notifications) to open views over websockets.
//
// All mutable state (the three named tiers, the queue, the
// install/update flags) is constructed once here and passed
// explicitly to the components that need it; there are no ambient
// singletons.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jinterlante1206/LedgerLocal/services/gateway/cache"
	"github.com/jinterlante1206/LedgerLocal/services/gateway/connectivity"
	"github.com/jinterlante1206/LedgerLocal/services/gateway/intercept"
	"github.com/jinterlante1206/LedgerLocal/services/gateway/notify"
	"github.com/jinterlante1206/LedgerLocal/services/gateway/observability"
	"github.com/jinterlante1206/LedgerLocal/services/gateway/queue"
	"github.com/jinterlante1206/LedgerLocal/services/gateway/replay"
	"github.com/jinterlante1206/LedgerLocal/services/gateway/routes"
	storage "github.com/jinterlante1206/LedgerLocal/services/gateway/storage/badger"
	"github.com/jinterlante1206/LedgerLocal/services/gateway/update"
	"github.com/jinterlante1206/LedgerLocal/services/gateway/views"
)

// Config holds gateway configuration.
//
// All fields except UpstreamURL and ManifestPath have defaults applied
// by New().
type Config struct {
	// Port is the HTTP listen port. Default: 12310.
	Port int

	// UpstreamURL is the base URL of the finance backend. Required.
	UpstreamURL string

	// DataDir is the BadgerDB directory. Empty means in-memory (tests).
	DataDir string

	// ManifestPath is the local cache manifest YAML. Required.
	ManifestPath string

	// ProbeInterval is the connectivity poll interval. Default: 10s.
	ProbeInterval time.Duration

	// UpdateCheckInterval is the version poll interval. Default: 5m.
	UpdateCheckInterval time.Duration

	// SweepInterval is the dynamic-tier eviction interval. Default: 1h.
	SweepInterval time.Duration

	// SnapshotTimeout bounds view queue-snapshot replies. Default: 2s.
	SnapshotTimeout time.Duration

	// GinMode sets the Gin framework mode. Default: release.
	GinMode string
}

// Service is the assembled sync gateway.
//
// # Thread Safety
//
// Thread-safe after construction; all fields are read-only once New
// returns. Run blocks and should be called once.
type Service struct {
	config Config
	logger *slog.Logger
	router *gin.Engine

	db           *storage.DB
	tiers        *cache.TierManager
	queue        *queue.Store
	orchestrator *replay.Orchestrator
	monitor      *connectivity.Monitor
	checker      *update.Checker
	sweeper      *cache.Sweeper
	watcher      *cache.ManifestWatcher
	hub          *views.Hub
	metrics      *observability.Metrics

	httpServer *http.Server
	cancel     context.CancelFunc
}

// New constructs the gateway and performs the install phase.
//
// # Description
//
// Opens storage, loads the manifest, builds every component, registers
// routes, and populates the shell and static tiers so the app can boot
// offline from the first run. Shell population is attempted before New
// returns; per-URL failures are logged, not fatal.
//
// # Inputs
//
//   - cfg: Gateway configuration. UpstreamURL and ManifestPath are
//     required.
//   - logger: Structured logger. If nil, slog.Default() is used.
//
// # Outputs
//
//   - *Service: Ready to Run().
//   - error: Non-nil if storage, manifest, or wiring fails.
func New(cfg Config, logger *slog.Logger) (*Service, error) {
	if cfg.UpstreamURL == "" {
		return nil, fmt.Errorf("upstream url is required")
	}
	if cfg.ManifestPath == "" {
		return nil, fmt.Errorf("manifest path is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.GinMode == "" {
		cfg.GinMode = gin.ReleaseMode
	}
	if logger == nil {
		logger = slog.Default()
	}

	manifest, err := cache.LoadManifest(cfg.ManifestPath)
	if err != nil {
		return nil, err
	}

	dbCfg := storage.DefaultConfig()
	dbCfg.Path = cfg.DataDir
	dbCfg.Logger = logger
	if cfg.DataDir == "" {
		dbCfg = storage.InMemoryConfig()
	}
	db, err := storage.Open(dbCfg)
	if err != nil {
		return nil, err
	}

	metrics := observability.InitMetrics()

	tiers, err := cache.NewTierManager(db, nil, cfg.UpstreamURL, manifest, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	ctx := context.Background()
	store, err := queue.NewStore(ctx, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	hub := views.NewHub(cfg.SnapshotTimeout, metrics, logger)
	notifier := notify.NewService(hub, logger)

	monitor := connectivity.NewMonitor(
		connectivity.HealthProbe(nil, cfg.UpstreamURL),
		cfg.ProbeInterval,
		nil, // wired below, after the orchestrator exists
		metrics,
		logger,
	)

	orchestrator, err := replay.New(store, nil, cfg.UpstreamURL, monitor.Online, hub, metrics, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	interceptor, err := intercept.New(tiers, nil, cfg.UpstreamURL, metrics, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	manifestURL := cfg.UpstreamURL + "/precache-manifest.yaml"
	checker := update.NewChecker(tiers, nil, manifestURL, cfg.UpdateCheckInterval, hub, logger)

	sweeper := cache.NewSweeper(tiers, sweeperConfig(cfg), logger)

	svc := &Service{
		config:       cfg,
		logger:       logger,
		db:           db,
		tiers:        tiers,
		queue:        store,
		orchestrator: orchestrator,
		monitor:      monitor,
		checker:      checker,
		sweeper:      sweeper,
		hub:          hub,
		metrics:      metrics,
	}
	monitor.SetHandler(svc.onConnectivityChange)

	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())
	routes.SetupRoutes(router, routes.Deps{
		Queue:        store,
		Orchestrator: orchestrator,
		Checker:      checker,
		Notify:       notifier,
		Hub:          hub,
		Interceptor:  interceptor,
		Status:       svc,
	})
	svc.router = router

	// Install phase: shell first (must be attempted before install is
	// considered finished), then static best-effort.
	if err := tiers.EnsureShellPopulated(ctx); err != nil {
		logger.Warn("shell population interrupted", "error", err)
	}
	if err := tiers.EnsureStaticPopulated(ctx); err != nil {
		logger.Warn("static population interrupted", "error", err)
	}

	return svc, nil
}

// Run starts the background loops and the HTTP server, blocking until
// the server stops.
func (s *Service) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if err := s.monitor.Start(ctx); err != nil {
		return err
	}
	if err := s.checker.Start(ctx); err != nil {
		return err
	}
	if err := s.sweeper.Start(ctx); err != nil {
		return err
	}

	watcher, err := cache.NewManifestWatcher(s.config.ManifestPath, 0, s.checker.Offer, s.logger)
	if err != nil {
		// A missing watcher degrades to poll-only updates.
		s.logger.Warn("manifest watcher unavailable", "error", err)
	} else {
		s.watcher = watcher
	}

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
	}
	s.logger.Info("sync gateway listening",
		"port", s.config.Port,
		"upstream", s.config.UpstreamURL,
		"version", s.tiers.Manifest().Version,
	)
	err = s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the background loops and the HTTP server.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.monitor.Stop()
	s.checker.Stop()
	s.sweeper.Stop()
	if s.watcher != nil {
		s.watcher.Close()
	}
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	if closeErr := s.db.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Router returns the gin engine for integration tests.
func (s *Service) Router() *gin.Engine {
	return s.router
}

// onConnectivityChange bridges monitor transitions to the rest of the
// gateway: a restored connection immediately drains the queue, and
// finishes an install that ran while the upstream was unreachable.
func (s *Service) onConnectivityChange(online bool) {
	s.hub.OnlineChanged(online)
	if !online {
		return
	}
	go func() {
		ctx := context.Background()
		// A daemon first started offline has an empty shell tier and no
		// offline document to fall back to until this retry.
		if n, err := s.tiers.EntryCount(ctx, cache.TierShell); err == nil && n == 0 {
			if err := s.tiers.EnsureShellPopulated(ctx); err != nil {
				s.logger.Warn("shell population retry interrupted", "error", err)
			}
			if err := s.tiers.EnsureStaticPopulated(ctx); err != nil {
				s.logger.Warn("static population retry interrupted", "error", err)
			}
		}
		if _, err := s.orchestrator.Drain(ctx); err != nil {
			s.logger.Error("drain after reconnect failed", "error", err)
		}
	}()
}

func sweeperConfig(cfg Config) cache.SweeperConfig {
	sc := cache.DefaultSweeperConfig()
	if cfg.SweepInterval > 0 {
		sc.Interval = cfg.SweepInterval
	}
	return sc
}

// =============================================================================
// handlers.StatusProvider
// =============================================================================

// Online reports the monitor's last observed state.
func (s *Service) Online() bool {
	return s.monitor.Online()
}

// QueueDepth reports the persisted pending-mutation count.
func (s *Service) QueueDepth(c *gin.Context) (int, error) {
	return s.queue.Len(c)
}

// UpdateAvailable reports whether a new version is waiting.
func (s *Service) UpdateAvailable() (bool, string) {
	return s.checker.UpdateAvailable()
}

// ActiveVersion reports the active manifest version token.
func (s *Service) ActiveVersion() string {
	return s.tiers.Manifest().Version
}

// ConnectedViews reports the number of websocket-connected views.
func (s *Service) ConnectedViews() int {
	return s.hub.Count()
}
