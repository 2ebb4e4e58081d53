// Package main is the entry point for the auction back-office server. It
// exposes on-demand closing runs, flagged sales, hold reconciliation and
// settings to operators, behind an IP allowlist and role checks.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evetabi/auction/internal/backoffice"
	"github.com/evetabi/auction/internal/config"
	"github.com/evetabi/auction/internal/notify"
	"github.com/evetabi/auction/internal/payment"
	"github.com/evetabi/auction/internal/repository"
	"github.com/evetabi/auction/internal/service"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

func main() {
	// ── Logger ────────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting auction backoffice server",
		"env", cfg.Server.Env, "port", cfg.Server.BackofficePort)

	// ── Database ──────────────────────────────────────────────────────────────
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

	// ── Redis (closings publish lot changes) ──────────────────────────────────
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Error("invalid REDIS_URL", "err", err)
		os.Exit(1)
	}
	redisOpts.PoolSize = cfg.Redis.PoolSize
	rdb := redis.NewClient(redisOpts)

	// ── Repositories ──────────────────────────────────────────────────────────
	lotRepo := repository.NewLotRepository(db)
	bidRepo := repository.NewBidRepository(db)
	saleRepo := repository.NewSaleRepository(db)
	holdRepo := repository.NewHoldRepository(db)
	eventRepo := repository.NewEventRepository(db)
	registry := repository.NewRegistry(db, lotRepo, bidRepo, saleRepo)

	// ── Services ──────────────────────────────────────────────────────────────
	settings, err := config.NewSettingsSource(cfg.Auction, logger)
	if err != nil {
		logger.Error("settings load failed", "err", err)
		os.Exit(1)
	}
	authSvc := service.NewAuthService(cfg.JWT)
	gateway := payment.NewClient(payment.ConfigFrom(cfg.Gateway), logger)
	saga := service.NewPaymentSaga(gateway, holdRepo, logger)

	settlement := service.NewSettlementService(registry, saleRepo, eventRepo, saga,
		cfg.Auction.CloseBatchSize, cfg.Auction.CloseWorkers, logger)
	settlement.SetPublisher(notify.NewChangeStream(rdb, cfg.Redis.ChangeChannel, logger))

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Router ────────────────────────────────────────────────────────────────
	router := backoffice.SetupBackofficeRouter(backoffice.BackofficeDeps{
		Auth:     authSvc,
		Closer:   settlement,
		Sales:    settlement,
		Holds:    saga,
		Settings: settings,
		Lots:     lotRepo,
		Bids:     bidRepo,
		Gateway:  gateway,
		Cfg:      cfg,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.BackofficePort,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── Start ─────────────────────────────────────────────────────────────────
	go func() {
		logger.Info("backoffice http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("backoffice server error", "err", err)
			stop()
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("backoffice shutdown error", "err", err)
	}

	saga.Wait()
	_ = rdb.Close()
	db.Close()
	logger.Info("backoffice server stopped cleanly")
}
