// Package main is the entry point for the public auction API server. It wires
// the arbitration engine, the change stream and the background scheduler and
// serves bids, registrations, lot reads and the websocket feed.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/evetabi/auction/internal/api"
	"github.com/evetabi/auction/internal/cache"
	"github.com/evetabi/auction/internal/config"
	"github.com/evetabi/auction/internal/notify"
	"github.com/evetabi/auction/internal/payment"
	"github.com/evetabi/auction/internal/repository"
	"github.com/evetabi/auction/internal/scheduler"
	"github.com/evetabi/auction/internal/service"
	"github.com/evetabi/auction/internal/ws"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	"github.com/redis/go-redis/v9"
)

func main() {
	// ── 1. Logger ─────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting auction server", "env", cfg.Server.Env, "port", cfg.Server.Port)

	// ── 2. Database ───────────────────────────────────────────────────────────
	db, err := sqlx.Connect("postgres", cfg.DB.DSN)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	if err = db.Ping(); err != nil {
		logger.Error("database ping failed", "err", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	// ── 3. Migrations ─────────────────────────────────────────────────────────
	if err = runMigrations(db, "migrations"); err != nil {
		logger.Error("migrations failed", "err", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")

	// ── 4. Redis ──────────────────────────────────────────────────────────────
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Error("invalid REDIS_URL", "err", err)
		os.Exit(1)
	}
	redisOpts.PoolSize = cfg.Redis.PoolSize
	rdb := redis.NewClient(redisOpts)
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	pingCancel()
	if err != nil {
		logger.Error("redis ping failed", "err", err)
		os.Exit(1)
	}
	logger.Info("redis connected")

	// ── 5. Repositories ───────────────────────────────────────────────────────
	lotRepo := repository.NewLotRepository(db)
	bidRepo := repository.NewBidRepository(db)
	saleRepo := repository.NewSaleRepository(db)
	holdRepo := repository.NewHoldRepository(db)
	eventRepo := repository.NewEventRepository(db)
	registry := repository.NewRegistry(db, lotRepo, bidRepo, saleRepo)

	// ── 6. Settings snapshot ──────────────────────────────────────────────────
	settings, err := config.NewSettingsSource(cfg.Auction, logger)
	if err != nil {
		logger.Error("settings load failed", "err", err)
		os.Exit(1)
	}

	// ── 7. Payment gateway + saga ─────────────────────────────────────────────
	gateway := payment.NewClient(payment.ConfigFrom(cfg.Gateway), logger)
	saga := service.NewPaymentSaga(gateway, holdRepo, logger)

	// ── 8. Change stream, notifications, cache ────────────────────────────────
	stream := notify.NewChangeStream(rdb, cfg.Redis.ChangeChannel, logger)
	dispatcher := notify.NewRedisDispatcher(rdb, cfg.Redis.LeadershipStream, cfg.Redis.StreamMaxLen, logger)

	lotCache, err := cache.New(cfg.Auction.LotCacheSize, logger)
	if err != nil {
		logger.Error("lot cache init failed", "err", err)
		os.Exit(1)
	}
	stream.Attach(lotCache)

	// ── 9. Services (order matters for injection) ─────────────────────────────
	authSvc := service.NewAuthService(cfg.JWT)

	arbiter := service.NewArbitrationService(registry, eventRepo, saga, logger)
	arbiter.SetNotifier(dispatcher)
	arbiter.SetPublisher(stream)

	settlement := service.NewSettlementService(registry, saleRepo, eventRepo, saga,
		cfg.Auction.CloseBatchSize, cfg.Auction.CloseWorkers, logger)
	settlement.SetPublisher(stream)

	lotSvc := service.NewLotService(registry, lotRepo, eventRepo, lotCache, logger)
	lotSvc.SetPublisher(stream)

	registrations := service.NewRegistrationService(eventRepo, saga, logger)

	// ── 10. WebSocket Hub ─────────────────────────────────────────────────────
	hub := ws.NewHub(authSvc, cfg.Server.AllowedOrigins, logger)
	stream.Attach(hub)

	// ── 11. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go hub.Run(ctx)
	go func() {
		if err := stream.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("change stream stopped", "err", err)
			stop()
		}
	}()
	logger.Info("websocket hub and change stream started")

	// ── 12. Scheduler ─────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(settlement, lotSvc, saga, settings, cfg.Auction, logger)
	sched.Start(ctx)

	// ── 13. HTTP Router ───────────────────────────────────────────────────────
	router := api.SetupRouter(api.RouterDeps{
		Auth:      authSvc,
		Bids:      arbiter,
		Lots:      lotSvc,
		Registrar: registrations,
		Settings:  settings,
		Hub:       hub,
		Cfg:       cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop() // trigger graceful shutdown
		}
	}()

	// ── 14. Graceful shutdown ─────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}

	// Releases and notifications started by in-flight bids finish first.
	arbiter.Wait()
	saga.Wait()

	_ = rdb.Close()
	db.Close()
	logger.Info("server stopped cleanly")
}

// runMigrations reads all *.sql files from dir, sorted by name, and executes
// them sequentially.  Idempotent: SQL files should use IF NOT EXISTS / ON CONFLICT.
func runMigrations(db *sqlx.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("runMigrations: read dir %q: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("runMigrations: read %q: %w", f, err)
		}
		if _, err = db.Exec(string(data)); err != nil {
			return fmt.Errorf("runMigrations: exec %q: %w", f, err)
		}
		slog.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}
