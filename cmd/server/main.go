// Package main provides the entry point for the trade orchestrator service.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/admission"
	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/api"
	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/bus"
	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/config"
	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/contracts"
	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/orchestrator"
	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/reconcile"
	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/sizing"
	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to orchestrator.yaml")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error); overrides config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	level := cfg.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	logger := setupLogger(level)
	defer logger.Sync()

	logger.Info("starting trade orchestrator",
		zap.String("host", cfg.HTTP.Host),
		zap.Int("port", cfg.HTTP.Port),
		zap.String("busDriver", cfg.Bus.Driver),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var messageBus bus.Bus
	switch cfg.Bus.Driver {
	case "redis":
		messageBus = bus.NewRedisBus(logger, bus.RedisConfig{
			Addr:     cfg.Bus.RedisAddr,
			Password: cfg.Bus.RedisPassword,
			DB:       cfg.Bus.RedisDB,
		})
	default:
		messageBus = bus.NewMemoryBus(logger, bus.DefaultMemoryConfig())
	}

	table := contracts.NewTable()

	stateStore := store.New(logger, messageBus, cfg.Store.Namespace)

	resolver := sizing.NewResolver(logger, table, sizing.Config{
		AccountBalanceURL:  cfg.Sizing.AccountBalanceURL,
		FrontMonthURL:      cfg.Sizing.FrontMonthURL,
		Timeout:            cfg.Sizing.Timeout,
		MaxRetries:         cfg.Sizing.MaxRetries,
		BreakerMaxFailures: cfg.Sizing.BreakerMaxFailures,
		BreakerOpenTimeout: cfg.Sizing.BreakerOpenTimeout,
		DefaultRiskPct:     cfg.Sizing.DefaultRiskPct,
		MaxContracts:       cfg.Sizing.MaxContracts,
	})

	orc := orchestrator.New(logger, orchestrator.Config{
		Namespace:      cfg.Store.Namespace,
		TradingEnabled: cfg.Risk.TradingEnabled,
		AdmissionRules: admission.Rules{
			TradingEnabled:     cfg.Risk.TradingEnabled,
			MaxPositionSize:    decimal.NewFromInt(cfg.Risk.MaxPositionSize),
			DailyLossLimit:     decimal.NewFromFloat(cfg.Risk.DailyLossLimit),
			AllowReversal:      cfg.Risk.AllowReversal,
			ReconcileFreshness: cfg.Risk.ReconcileFreshness,
		},
		ReconcileConfig: reconcile.Config{
			PriceTolerancePoints:   cfg.Reconcile.PriceTolerancePoints,
			TimeToleranceSeconds:   cfg.Reconcile.TimeToleranceSeconds,
			BracketTolerancePoints: cfg.Reconcile.BracketTolerancePoints,
			SyncTimeout:            cfg.Reconcile.SyncTimeout,
		},
	}, messageBus, stateStore, table, resolver)

	wsHub := api.NewHub(logger)
	go wsHub.Run()

	httpServer := api.NewServer(logger, api.Config{Host: cfg.HTTP.Host, Port: cfg.HTTP.Port}, orc, wsHub)

	if err := orc.Start(ctx); err != nil {
		logger.Fatal("failed to start orchestrator", zap.Error(err))
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("trade orchestrator started successfully")

	<-sigChan
	logger.Info("shutdown signal received")

	cancel()

	orc.SetTradingEnabled(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("error during HTTP server shutdown", zap.Error(err))
	}

	if err := orc.Stop(context.Background()); err != nil {
		logger.Error("error stopping orchestrator", zap.Error(err))
	}

	logger.Info("trade orchestrator stopped")
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}

	return logger
}
