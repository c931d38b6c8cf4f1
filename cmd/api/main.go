package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carecall-platform/internal/alert"
	"carecall-platform/internal/calls"
	"carecall-platform/internal/config"
	"carecall-platform/internal/dispatch"
	"carecall-platform/internal/events"
	"carecall-platform/internal/outcome"
	"carecall-platform/internal/patient"
	"carecall-platform/internal/provider"
	"carecall-platform/internal/schedule"
	"carecall-platform/pkg/logger"
	"carecall-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Persistence
	scheduleRepo := schedule.NewPGRepo(db)
	callRepo := calls.NewPGRepo(db)
	alertRepo := alert.NewPGRepo(db)
	directory := patient.NewPGDirectory(db)

	// Services
	providerClient := provider.NewHTTPClient(cfg.Provider)
	alertSvc := alert.NewService(alertRepo)
	scheduleSvc := schedule.NewService(scheduleRepo, callRepo, directory, log, cfg.Dispatch.ConflictHorizonDays)

	dispatcher := dispatch.NewDispatcher(callRepo, scheduleSvc, directory, providerClient, alertSvc, log, cfg.Dispatch.Workers)
	sink := events.NewRedisPublisher(rdb, events.DefaultChannel)
	processor := outcome.NewProcessor(callRepo, dispatcher, scheduleSvc, sink, log)

	// Only one replica runs a given tick; the lock TTL tracks the interval
	// so a crashed holder frees the slot by the next scan.
	tickLock := utils.NewRedisMutex(rdb, "carecall:dispatch:tick", cfg.Dispatch.TickInterval+30*time.Second)
	runner := dispatch.NewRunner(dispatcher, cfg.Dispatch.TickInterval, tickLock, log)
	go runner.Run(rootCtx)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		cfg:       cfg,
		schedules: scheduleSvc,
		alerts:    alertSvc,
		processor: processor,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
