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

	"github.com/Adeloyejoshual/Smart-talk-sub001/internal/auth"
	"github.com/Adeloyejoshual/Smart-talk-sub001/internal/billing"
	"github.com/Adeloyejoshual/Smart-talk-sub001/internal/call"
	"github.com/Adeloyejoshual/Smart-talk-sub001/internal/config"
	"github.com/Adeloyejoshual/Smart-talk-sub001/internal/history"
	"github.com/Adeloyejoshual/Smart-talk-sub001/internal/httpapi"
	"github.com/Adeloyejoshual/Smart-talk-sub001/internal/ledger"
	"github.com/Adeloyejoshual/Smart-talk-sub001/internal/signaling"
	"github.com/Adeloyejoshual/Smart-talk-sub001/pkg/logger"
	"github.com/Adeloyejoshual/Smart-talk-sub001/pkg/utils"

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

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	store := ledger.NewPostgresStore(db)
	records := history.NewPostgresRepo(db)

	hub := signaling.NewHub(log)

	policy := billing.Policy{RatePerSecond: cfg.Call.RatePerSecond}
	if cfg.Call.VideoRatePerSecond > 0 {
		policy.RateByCallType = map[string]billing.Amount{
			string(call.TypeVideo): cfg.Call.VideoRatePerSecond,
		}
	}

	engine := call.NewEngine(call.Options{
		Policy:              policy,
		BillingInterval:     cfg.Call.BillingInterval,
		MinimumStartBalance: cfg.Call.MinimumStartBalance,
		RingTimeout:         cfg.Call.RingTimeout,
		MaxLedgerFailures:   cfg.Call.MaxLedgerFailures,
	}, call.NewRegistry(), store, hub, log)
	engine.SetRecorder(records)

	// A participant whose last signaling connection drops is treated as
	// disconnected; any call they are in ends.
	hub.OnDetach(func(userID string) {
		engine.EndForParticipant(context.Background(), userID, call.ReasonDisconnect)
	})

	if cfg.Redis.Enabled {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		engine.SetGuard(call.NewRedisGuard(rdb, 0, log))
	} else {
		log.Warn("redis disabled, payer guard is per-instance only")
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	h := httpapi.Handlers{
		Auth:    authManager,
		Engine:  engine,
		Ledger:  store,
		History: history.NewService(records),
	}
	ws := &signaling.WSController{Hub: hub}

	registerRoutes(r, h, ws, auth.RequireAccessToken(authManager))

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
