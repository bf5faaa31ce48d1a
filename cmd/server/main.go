package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ShiningRay/exchange-engine/internal/adapter/pg"
	"github.com/ShiningRay/exchange-engine/internal/adapter/redisstore"
	httpapi "github.com/ShiningRay/exchange-engine/internal/api/http"
	"github.com/ShiningRay/exchange-engine/internal/config"
	"github.com/ShiningRay/exchange-engine/internal/core"
	"github.com/ShiningRay/exchange-engine/internal/logging"
	"github.com/ShiningRay/exchange-engine/internal/monitor"
	"github.com/ShiningRay/exchange-engine/internal/port"
	"github.com/ShiningRay/exchange-engine/internal/processor"
)

func main() {
	if err := run(); err != nil {
		log.Printf("startup failed: %v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// one pooled connection per symbol processor plus headroom for the API
	store, err := redisstore.New(ctx, cfg.RedisURL, cfg.RedisPoolSize)
	if err != nil {
		return err
	}
	defer store.Close()

	for _, pair := range cfg.TradingPairs {
		if err := store.SetAdd(ctx, core.SymbolRegistryKey, pair); err != nil {
			return err
		}
	}

	var archiver port.Archiver
	if cfg.ArchiveDatabaseURL != "" {
		pgArchiver, err := pg.NewArchiver(ctx, cfg.ArchiveDatabaseURL)
		if err != nil {
			return err
		}
		defer pgArchiver.Close()
		archiver = pgArchiver
	}

	mon := monitor.New(store, logger)
	mgr := processor.NewManager(processor.Config{
		Store:    store,
		Monitor:  mon,
		Archiver: archiver,
		OrderTTL: cfg.OrderTTL,
		Logger:   logger,
	})
	if err := mgr.Start(ctx); err != nil {
		return err
	}

	server := httpapi.NewServer(store, mon, logger, cfg.RateLimitInterval)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: server.Router()}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		mgr.Stop()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	mgr.Stop()
	logger.Info("stopped cleanly")
	return nil
}
