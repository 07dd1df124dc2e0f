// Package server wires the stores, services and handlers together and owns
// the HTTP server lifecycle.
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → Server.New() creates:
//	  sqlite.DB, cache, metrics, tracer provider
//	  → ledger, drawer, clock
//	  → services → handlers → routes
//
// Everything is assembled here and nowhere else, so each layer only sees the
// interfaces it needs.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sakif/fortune-club/internal/auth"
	"github.com/sakif/fortune-club/internal/cache"
	"github.com/sakif/fortune-club/internal/config"
	"github.com/sakif/fortune-club/internal/cycle"
	"github.com/sakif/fortune-club/internal/handler"
	"github.com/sakif/fortune-club/internal/ledger"
	"github.com/sakif/fortune-club/internal/metrics"
	"github.com/sakif/fortune-club/internal/middleware"
	"github.com/sakif/fortune-club/internal/model"
	sqliteRepo "github.com/sakif/fortune-club/internal/repository/sqlite"
	"github.com/sakif/fortune-club/internal/reward"
	"github.com/sakif/fortune-club/internal/sampler"
	"github.com/sakif/fortune-club/internal/scheduler"
	"github.com/sakif/fortune-club/internal/service"
	"github.com/sakif/fortune-club/internal/tracing"
)

const (
	shutdownTimeout   = 30 * time.Second
	limiterSweepEvery = time.Minute
)

// Server holds the router and every resource that must be released on
// shutdown.
type Server struct {
	router *chi.Mux
	config config.Config
	logger *slog.Logger

	db        *sqliteRepo.DB
	cache     cache.Cache
	metrics   *metrics.Metrics
	scheduler *scheduler.Scheduler
	limiter   *middleware.RateLimiter
	tracing   tracing.ShutdownFunc
}

// New opens the stores and builds the full handler graph. On error every
// resource opened so far is released.
//
// RESOURCE MANAGEMENT:
// New opens things in order (database, cache, tracer) and a failure halfway
// must not leak the earlier ones. The deferred release runs only when err is
// set and skips whatever is still nil. The result is unnamed so that
// "return nil, err" cannot nil out s before the defer sees it.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *Server, err error) {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}
	defer func() {
		if err != nil {
			s.release(context.Background())
		}
	}()

	// === DATABASE ===
	s.db, err = sqliteRepo.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// === CONFIG CACHE ===
	// Redis when configured so several instances see the same config;
	// otherwise an in-process cache.
	if cfg.Redis.Addr != "" {
		// A Redis that is configured but unreachable is a startup error,
		// not a silent fallback: two instances with different caches would
		// disagree about the staff code.
		rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			Prefix:      "fortune-club:",
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		s.cache = rc
		logger.Info("using redis config cache", slog.String("addr", cfg.Redis.Addr))
	} else {
		s.cache = cache.NewMemoryCache()
	}

	// === OBSERVABILITY ===
	// Metrics are always on and served at /metrics. Tracing exports only
	// when an OTLP endpoint is set; otherwise Init installs a no-op.
	s.metrics = metrics.New()
	s.tracing, err = tracing.Init(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("initialising tracing: %w", err)
	}

	if err := s.setupRoutes(); err != nil {
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// setupRoutes builds the services and mounts the routes.
//
// ROUTE STRUCTURE:
//
//	POST /api/checkin                 check in at the door (rate limited)
//	GET  /api/checkin                 current cycle record       [patron]
//	PUT  /api/checkin/match           record the match          [patron]
//	GET  /api/checkin/candidates      others checked in          [patron]
//	POST /api/fortune                 open today's fortune       [patron]
//	GET  /api/coupons                 active coupons             [patron]
//	POST /api/coupons/use             mark a coupon used         [patron]
//	GET  /api/profile, PUT            profile                    [patron]
//	GET  /api/collection              collection view            [patron]
//	POST /api/profile/reset           wipe test account data     [patron]
//	GET  /api/config/public           geofence + coupon timer
//	POST /api/admin/login             staff login (rate limited)
//	/api/admin/...                    staff console              [admin]
//	GET  /healthz, GET /metrics
func (s *Server) setupRoutes() error {
	cfg := s.config

	// === SHARED COLLABORATORS ===
	// One token service, one clock and one drawer for the whole process.
	// Every service that needs "now" sees the same clock, so the cycle key
	// cannot differ between check-in and open within a request.
	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret)
	if err != nil {
		return err
	}

	clock := cycle.NewClock(cfg.Cycle.UTCOffsetMinutes, cfg.Cycle.RolloverHour)
	testIdentity := model.TestIdentity(cfg.Auth.TestHandlePrefix)
	drawer := reward.NewDrawer(sampler.NewSource(), sampler.ParseZeroPolicy(cfg.Draw.ZeroWeightPolicy))

	// === SERVICES ===
	// *sqliteRepo.DB satisfies every repository interface, so s.db is passed
	// for each one. The admin service doubles as the ConfigProvider the
	// patron services read their snapshot from.
	adminService := service.NewAdminService(service.AdminDeps{
		Configs:       s.db,
		Checkins:      s.db,
		DebugLogs:     s.db,
		Cache:         s.cache,
		CacheTTL:      cfg.Redis.CacheTTL,
		Clock:         clock,
		Tokens:        tokens,
		AdminPassword: cfg.Auth.AdminPassword,
		StaffCodes:    service.RandomStaffCode,
		Metrics:       s.metrics,
		Logger:        s.logger,
	})
	checkInService := service.NewCheckInService(service.CheckInDeps{
		Users:        s.db,
		Checkins:     s.db,
		Config:       adminService,
		Passwords:    auth.NewPasswordService(),
		Tokens:       tokens,
		Clock:        clock,
		TestIdentity: testIdentity,
		Metrics:      s.metrics,
		Logger:       s.logger,
	})
	// The ledger runs its transaction through s.db's RunInTx.
	fortuneService := service.NewFortuneService(service.FortuneDeps{
		Users:     s.db,
		Coupons:   s.db,
		DebugLogs: s.db,
		Config:    adminService,
		Ledger:    ledger.New(s.db, testIdentity),
		Drawer:    drawer,
		Clock:     clock,
		Metrics:   s.metrics,
		Logger:    s.logger,
	})
	couponService := service.NewCouponService(s.db, clock, s.metrics, s.logger)
	profileService := service.NewProfileService(s.db, clock, testIdentity, s.logger)

	// === HANDLERS ===
	checkInHandler := handler.NewCheckInHandler(checkInService, s.logger)
	fortuneHandler := handler.NewFortuneHandler(fortuneService, s.logger)
	couponHandler := handler.NewCouponHandler(couponService, s.logger)
	profileHandler := handler.NewProfileHandler(profileService, s.logger)
	adminHandler := handler.NewAdminHandler(adminService, s.logger)

	// === ROTATION AND LIMITS ===
	s.scheduler, err = scheduler.New(clock.Location(), cfg.Cycle.RolloverHour, adminService, s.logger)
	if err != nil {
		return err
	}
	s.limiter = middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, s.logger)

	// === GLOBAL MIDDLEWARE ===
	//
	// MIDDLEWARE ORDER MATTERS:
	// Each Use wraps everything registered after it, so the request passes
	// through them top to bottom:
	//
	//   RequestID  → id first, so every later log line can carry it
	//   RealIP     → before the logger and the rate limiter read RemoteAddr
	//   Recoverer  → a panic below becomes a 500, not a dropped connection
	//   Logger     → one line per request with status and duration
	//   Tracing    → server span around the handler
	//   Instrument → Prometheus counters and latency histogram
	//   CORS       → answers preflight before auth runs
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Tracing(cfg.Tracing.ServiceName))
	s.router.Use(s.metrics.Instrument)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Operational endpoints sit outside /api: no auth, no rate limit.
	s.router.Get("/healthz", handler.HandleHealth(s.db, s.logger))
	s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/config/public", adminHandler.HandlePublicConfig)

		// r.With applies middleware to a single route. Only the two routes
		// that take a guessable secret are rate limited.
		r.With(s.limiter.Handler).Post("/checkin", checkInHandler.HandleCheckIn)
		r.With(s.limiter.Handler).Post("/admin/login", adminHandler.HandleLogin)

		// GROUPS:
		// r.Group shares middleware across routes without adding a path
		// prefix. Everything inside needs a valid token; the handlers then
		// take the handle from the context.
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))

			r.Get("/checkin", checkInHandler.HandleCurrent)
			r.Put("/checkin/match", checkInHandler.HandleMatch)
			r.Get("/checkin/candidates", checkInHandler.HandleCandidates)
			r.Post("/fortune", fortuneHandler.HandleOpen)
			r.Get("/coupons", couponHandler.HandleList)
			r.Post("/coupons/use", couponHandler.HandleUse)
			r.Get("/profile", profileHandler.HandleGet)
			r.Put("/profile", profileHandler.HandleUpdate)
			r.Post("/profile/reset", profileHandler.HandleReset)
			r.Get("/collection", profileHandler.HandleCollection)
		})

		// r.Route does add the prefix: "/config" here is /api/admin/config.
		// POST /api/admin/login was registered above, outside this group,
		// so it stays reachable without a token.
		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireAdmin(tokens))

			r.Get("/config", adminHandler.HandleGetConfig)
			r.Put("/config", adminHandler.HandleUpdateConfig)
			r.Get("/checkins", adminHandler.HandleListCheckins)
			r.Get("/debug-logs", adminHandler.HandleDebugLogs)
			r.Post("/reset", adminHandler.HandleReset)
			r.Post("/rotate-code", adminHandler.HandleRotateCode)
		})
	})

	return nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until SIGINT or SIGTERM, then shuts down gracefully.
//
// GRACEFUL SHUTDOWN:
//
//	signal ──▶ srv.Shutdown: stop accepting, wait for in-flight requests
//	       ──▶ scheduler.Stop: wait for a rotation that is mid-run
//	       ──▶ tracing flush ──▶ redis close ──▶ sqlite close
//
// The database closes last because everything before it may still write.
// A fortune open that is mid-transaction when the signal arrives either
// commits or rolls back; it is never cut in half.
func (s *Server) Start() error {
	// NotifyContext cancels ctx on the first SIGINT or SIGTERM. stop
	// restores default signal handling, so a second Ctrl-C kills at once.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// TIMEOUTS:
	// Without them a slow client can hold a connection open forever.
	// WriteTimeout covers the handler too. An open stuck behind the write
	// lock past it loses its response, but the handler keeps running and its
	// transaction still commits or rolls back as a whole.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.scheduler.Start()
	s.limiter.StartCleanup(ctx, limiterSweepEvery)

	// ListenAndServe blocks, so it runs in a goroutine while this one waits
	// for either a listener error or a signal. The channel is buffered so
	// the goroutine never blocks on send if nobody is reading.
	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Server.Port),
			slog.String("database", s.config.Database.Path),
			slog.String("rotation", s.scheduler.Spec()),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-serverErrors:
		// ErrServerClosed is the normal result of Shutdown, not a failure.
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			serveErr = fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	// A fresh deadline for cleanup; the shutdown one may be spent already.
	releaseCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.release(releaseCtx)

	if serveErr == nil {
		s.logger.Info("server stopped gracefully")
	}
	return serveErr
}

// release stops background work and closes what New opened. Fields left nil
// by a failed New are skipped.
func (s *Server) release(ctx context.Context) {
	// cron's Stop returns a context that is done once a running job
	// finishes; a rotation is never cut off mid-save unless the deadline
	// passes first.
	if s.scheduler != nil {
		select {
		case <-s.scheduler.Stop().Done():
		case <-ctx.Done():
			s.logger.Warn("scheduler did not stop in time")
		}
	}
	if s.tracing != nil {
		if err := s.tracing(ctx); err != nil {
			s.logger.Warn("flushing traces", slog.String("error", err.Error()))
		}
	}
	// TYPE ASSERTION: only the Redis cache holds a connection to close.
	if rc, ok := s.cache.(*cache.RedisCache); ok {
		if err := rc.Close(); err != nil {
			s.logger.Warn("closing redis", slog.String("error", err.Error()))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("closing database", slog.String("error", err.Error()))
		}
	}
}
