// Package main is the entry point for the simulated investment engine API
// server. It wires the persistence backend, position manager, countdown
// scheduler and WebSocket hub, then serves HTTP until signalled.
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

	"github.com/evetabi/invest/internal/api"
	"github.com/evetabi/invest/internal/config"
	"github.com/evetabi/invest/internal/repository"
	"github.com/evetabi/invest/internal/scheduler"
	"github.com/evetabi/invest/internal/service"
	"github.com/evetabi/invest/internal/store"
	"github.com/evetabi/invest/internal/ws"
)

func main() {
	// ── 1. Config + logger ────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting invest server",
		"env", cfg.Server.Env, "port", cfg.Server.Port, "store", cfg.Store.Driver)

	// ── 2. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 3. Store ──────────────────────────────────────────────────────────────
	kv, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("store open failed", "driver", cfg.Store.Driver, "err", err)
		os.Exit(1)
	}
	defer kv.Close()
	logger.Info("store ready", "driver", cfg.Store.Driver)

	// ── 4. Repository + position manager ──────────────────────────────────────
	repo := repository.NewStateRepository(kv, cfg.Invest.StartingBalance)
	mgr := service.NewPositionManager(repo, service.SystemClock{}, cfg, logger)

	// ── 5. WebSocket hub + scheduler (injected before Load re-arms) ───────────
	hub := ws.NewHub(cfg.Origins(), logger)
	hub.SetStateSource(mgr)
	mgr.SetNotifier(hub)

	sched := scheduler.NewScheduler(mgr, cfg, logger)
	mgr.SetArmer(sched)

	go hub.Run(ctx)
	logger.Info("websocket hub started")
	sched.Start(ctx)

	// ── 6. Restore persisted state ────────────────────────────────────────────
	if err = mgr.Load(ctx); err != nil {
		logger.Error("state load failed", "err", err)
		os.Exit(1)
	}
	snap := mgr.Snapshot()
	logger.Info("state restored",
		"balance", snap.Balance, "active", snap.Active != nil, "history", len(snap.History))

	// ── 7. HTTP Router ────────────────────────────────────────────────────────
	router := api.SetupRouter(api.RouterDeps{
		Manager: mgr,
		Hub:     hub,
		Cfg:     cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── 8. Start server ───────────────────────────────────────────────────────
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
			stop() // trigger graceful shutdown
		}
	}()

	// ── 9. Graceful shutdown ──────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}

	// The deferred store close must not race an in-flight settlement.
	select {
	case <-sched.Done():
	case <-shutdownCtx.Done():
		logger.Warn("scheduler did not stop before shutdown deadline")
	}

	logger.Info("server stopped cleanly")
}
