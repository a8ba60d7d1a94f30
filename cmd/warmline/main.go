package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/voicelane/warmline/internal/brain"
	"github.com/voicelane/warmline/internal/callsession"
	"github.com/voicelane/warmline/internal/config"
	"github.com/voicelane/warmline/internal/httpapi"
	"github.com/voicelane/warmline/internal/lookup"
	"github.com/voicelane/warmline/internal/observability"
	"github.com/voicelane/warmline/internal/telephony"
	"github.com/voicelane/warmline/internal/transfer"
)

func main() {
	seedDemo := flag.Bool("seed-demo", false, "seed demo contacts and competitor data, then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	store, err := lookup.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("lookup store init failed", zap.Error(err))
	}
	defer store.Close()

	if *seedDemo {
		if err := lookup.SeedDemo(ctx, store); err != nil {
			logger.Fatal("seed failed", zap.Error(err))
		}
		logger.Info("demo data seeded")
		return
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer, cfg.MetricsNamespace)
	store = lookup.Instrument(store, metrics.LookupDegradations)

	driver, err := telephony.New(ctx, telephony.Config{
		Provider:   cfg.TelephonyProvider,
		GatewayURL: cfg.TelephonyGatewayURL,
		AuthToken:  cfg.TelephonyAuthToken,
	}, logger)
	if err != nil {
		logger.Fatal("telephony driver init failed", zap.Error(err))
	}
	defer driver.Close()

	adapter, err := brain.New(brain.Config{
		Mode:    cfg.BrainMode,
		HTTPURL: cfg.BrainHTTPURL,
	})
	if err != nil {
		logger.Fatal("brain adapter init failed", zap.Error(err))
	}

	router := callsession.NewRouter(driver)
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	go router.Run(runCtx)

	manager := transfer.NewManager(driver, router, adapter, store, metrics, transfer.Settings{
		TrunkID:              cfg.TrunkID,
		CallerID:             cfg.CallerID,
		RepresentativeNumber: cfg.RepresentativeNumber,
		HoldMusicResource:    cfg.HoldMusicResource,
		DialTimeout:          cfg.DialTimeout,
		BriefingAckTimeout:   cfg.BriefingAckTimeout,
		HoldMaxWait:          cfg.HoldMaxWait,
		OnRepNoAnswer:        cfg.OnRepNoAnswer,
		CompanyName:          cfg.CompanyName,
		ProductName:          cfg.ProductName,
		LookupTimeout:        cfg.LookupTimeout,
		SessionRetention:     cfg.SessionRetention,
	}, logger)
	manager.SetExpireHook(func(_ transfer.Snapshot) {
		metrics.ExpiredSessions.Inc()
	})
	manager.StartJanitor(runCtx, time.Minute)

	api := httpapi.New(cfg, manager, logger)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
		_ = httpServer.Close()
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("session shutdown incomplete", zap.Error(err))
	}
	runCancel()

	logger.Info("shutdown complete")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
