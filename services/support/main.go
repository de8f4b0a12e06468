// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/AleutianAI/DispatchGuard/pkg/logging"
	"github.com/AleutianAI/DispatchGuard/services/support/breaker"
	"github.com/AleutianAI/DispatchGuard/services/support/classify"
	"github.com/AleutianAI/DispatchGuard/services/support/config"
	"github.com/AleutianAI/DispatchGuard/services/support/conversation"
	"github.com/AleutianAI/DispatchGuard/services/support/degrade"
	"github.com/AleutianAI/DispatchGuard/services/support/featuregate"
	"github.com/AleutianAI/DispatchGuard/services/support/language"
	"github.com/AleutianAI/DispatchGuard/services/support/routes"
	"github.com/AleutianAI/DispatchGuard/services/support/session"
	storagebadger "github.com/AleutianAI/DispatchGuard/services/support/storage/badger"
	"github.com/AleutianAI/DispatchGuard/services/support/strikes"
)

func initTracer(cfg config.OtelConfig) (func(context.Context), error) {
	ctx := context.Background()

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = cfg.Endpoint
	}
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("dispatchguard-support")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func logLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func main() {
	configPath := flag.String("config", os.Getenv("DISPATCHGUARD_CONFIG"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("FATAL: could not load configuration: %v", err)
	}

	appLogger, err := logging.New(logging.Config{
		Level:   logLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.LogDir,
		Service: "dispatchguard-support",
		JSON:    cfg.Logging.JSON,
	})
	if err != nil {
		log.Fatalf("FATAL: could not initialize logging: %v", err)
	}
	defer appLogger.Close()
	slog.SetDefault(appLogger.Slog())
	logger := appLogger.Slog()

	if cfg.Otel.Enabled {
		cleanup, err := initTracer(cfg.Otel)
		if err != nil {
			log.Fatalf("FATAL: failed to setup the OTLP tracer: %v", err)
		}
		defer cleanup(context.Background())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Feature flags ---
	gate := featuregate.New(nil)
	if cfg.Flags.Path != "" {
		if flags, err := featuregate.LoadFile(cfg.Flags.Path); err != nil {
			logger.Warn("flags file unreadable, starting with all flags off",
				"path", cfg.Flags.Path, "error", err)
		} else {
			gate.Replace(flags)
		}
		go func() {
			if err := gate.Watch(ctx, cfg.Flags.Path); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("flag watcher stopped", "error", err)
			}
		}()
	}

	// --- Resilience layer ---
	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		FailureWindow:    cfg.Breaker.FailureWindow,
		Cooldown:         cfg.Breaker.Cooldown,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
	})
	controller := degrade.NewController(degrade.Config{
		ReducedTimeout:   cfg.Degradation.ReducedTimeout,
		MaxInFlight:      cfg.Degradation.MaxInFlight,
		AdmitRate:        rate.Limit(cfg.Degradation.AdmitRate),
		AdmitBurst:       cfg.Degradation.AdmitBurst,
		DeferredCapacity: cfg.Degradation.DeferredCapacity,
	}, breakers)

	// --- Strike ledger ---
	var strikeStore strikes.Store
	var stopGC chan struct{}
	if cfg.Strikes.InMemory {
		strikeStore = strikes.NewMemoryStore()
	} else {
		dbCfg := storagebadger.DefaultConfig()
		dbCfg.Path = logging.ExpandHome(cfg.Strikes.DataDir)
		dbCfg.Logger = logger
		db, err := storagebadger.Open(dbCfg)
		if err != nil {
			log.Fatalf("FATAL: could not open strike store: %v", err)
		}
		defer db.Close()
		stopGC = make(chan struct{})
		go storagebadger.RunGC(db, dbCfg, stopGC)
		defer close(stopGC)
		strikeStore = strikes.NewBadgerStore(db)
	}

	var notifier strikes.Notifier = strikes.NopNotifier{}
	if cfg.Strikes.BackofficeURL != "" {
		bo := strikes.NewBackofficeNotifier(cfg.Strikes.BackofficeURL, cfg.Strikes.QueueSize, logger)
		defer bo.Close()
		notifier = bo
	}
	ledger := strikes.NewLedger(strikeStore, strikes.Config{
		Window:       cfg.Strikes.StrikesWindow(),
		WatchedAt:    cfg.Strikes.WatchedAt,
		RestrictedAt: cfg.Strikes.RestrictedAt,
		SuspendedAt:  cfg.Strikes.SuspendedAt,
	}, notifier, logger)

	// --- Classifier ---
	var classifier classify.Client
	if mc, err := classify.NewOpenAIClient(classify.OpenAIConfig{
		Model:   cfg.Classifier.Model,
		Timeout: cfg.Classifier.Timeout,
	}, logger); err != nil {
		logger.Warn("model classifier unavailable, keyword fallback only", "error", err)
	} else {
		classifier = mc
	}

	// --- Conversation pipeline ---
	store := session.NewStore()
	orch := conversation.New(conversation.Deps{
		Store: store,
		Guard: session.NewGuard(session.GuardConfig{
			AmbiguityLimit: cfg.Guard.AmbiguityLimit,
			PendingTTL:     cfg.Guard.PendingTTL,
		}, language.DefaultVocabulary()),
		Resolver: language.NewResolver(language.Config{
			DefaultLanguage:  cfg.Language.Default,
			Hysteresis:       cfg.Language.Hysteresis,
			SwitchConfidence: cfg.Language.SwitchConfidence,
		}, gate),
		Gate:           gate,
		Classifier:     classifier,
		Breakers:       breakers,
		Controller:     controller,
		Ledger:         ledger,
		Executor:       newActionDispatcher(cfg.Strikes.BackofficeURL, breakers, logger),
		Logger:         logger,
		ResequenceWait: cfg.Guard.ResequenceWait,
	})

	go func() {
		err := orch.RunMaintenance(ctx, conversation.MaintenanceConfig{
			ReconcileInterval: cfg.Maintenance.ReconcileInterval,
			SweepInterval:     cfg.Maintenance.SweepInterval,
			MaxIdle:           cfg.Maintenance.SessionMaxIdle,
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("maintenance loops stopped", "error", err)
		}
	}()

	// --- HTTP server ---
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("dispatchguard-support"))
	routes.SetupRoutes(router, routes.Deps{
		Orchestrator:  orch,
		Store:         store,
		Ledger:        ledger,
		Gate:          gate,
		Breakers:      breakers,
		Controller:    controller,
		WebhookSecret: cfg.Server.WebhookSecret,
		FlagsPath:     cfg.Flags.Path,
	})

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: router}
	go func() {
		logger.Info("support agent listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("FATAL: server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
}
