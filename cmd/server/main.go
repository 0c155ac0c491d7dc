package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/admincore/admincore/internal/alert"
	"github.com/admincore/admincore/internal/api/middleware"
	"github.com/admincore/admincore/internal/api/rest"
	"github.com/admincore/admincore/internal/api/websocket"
	"github.com/admincore/admincore/internal/audit"
	"github.com/admincore/admincore/internal/auth"
	"github.com/admincore/admincore/internal/cache"
	"github.com/admincore/admincore/internal/config"
	"github.com/admincore/admincore/internal/gateway"
	"github.com/admincore/admincore/internal/hostprobe"
	"github.com/admincore/admincore/internal/models"
	"github.com/admincore/admincore/internal/notify"
	"github.com/admincore/admincore/internal/pkg/logger"
	"github.com/admincore/admincore/internal/pkg/tracing"
	"github.com/admincore/admincore/internal/report"
	"github.com/admincore/admincore/internal/repository"
)

// eventFanout persists security events through the audit sink and mirrors
// them onto the live event stream.
type eventFanout struct {
	sink *audit.Sink
	hub  *websocket.Hub
}

func (f *eventFanout) Record(e *models.SecurityEvent) {
	f.sink.Record(e)
	f.hub.BroadcastSecurityEvent(e)
}

func main() {
	log := logger.StdLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Error("configuration load failed", "error", err)
		os.Exit(1)
	}
	log.Info("configuration loaded", "port", cfg.Port, "db", cfg.DatabasePath)

	shutdownTracing, err := tracing.Init("admincore", cfg.OTLPEndpoint)
	if err != nil {
		log.Warn("tracing disabled", "error", err)
		shutdownTracing = func() {}
	}
	defer shutdownTracing()

	repo, err := repository.NewSQLiteRepository(cfg.DatabasePath)
	if err != nil {
		log.Error("database init failed", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	cacheStore := cache.NewStore()
	probe := hostprobe.New(repo, cacheStore, "/")

	sink := audit.NewSink(repo, log)
	sink.Start(ctx)

	wsHub := websocket.NewHub(ctx)
	go wsHub.Run()
	events := &eventFanout{sink: sink, hub: wsHub}

	var smtp *notify.SMTPConfig
	if cfg.SMTPHost != "" {
		smtp = &notify.SMTPConfig{
			Host: cfg.SMTPHost,
			Port: cfg.SMTPPort,
			From: cfg.SMTPFrom,
			User: cfg.SMTPUser,
			Pass: cfg.SMTPPass,
		}
	}
	dispatcher := notify.NewDispatcher(repo, smtp, nil, log, notify.Options{
		MaxRetries: cfg.NotifyMaxRetries,
	})

	latency := alert.NewLatencyWindow(5 * time.Minute)
	sampler := alert.NewSampler(probe, repo, latency)
	alertEngine := alert.NewEngine(repo, sampler, dispatcher, events, wsHub, nil, log,
		time.Duration(cfg.AlertReconcileSec)*time.Second)
	alertEngine.Start(ctx)

	sources := report.NewSources(repo, probe)
	reportEngine := report.NewEngine(repo, sources, cfg.ReportsDir, nil, log,
		time.Duration(cfg.ReportScanSec)*time.Second,
		time.Duration(cfg.RetentionSweepSec)*time.Second)
	reportEngine.Start(ctx)

	issuer := auth.NewTokenIssuer(cfg.JWTSecret, 24*time.Hour)
	signinSvc := auth.NewService(repo, events, issuer, nil, log)

	gw := gateway.New(repo, cacheStore, nil, events, nil, log, gateway.Options{
		AutoBlockThreshold: cfg.AutoBlockThreshold,
		AutoBlockDuration:  time.Duration(cfg.AutoBlockMinutes) * time.Minute,
		FailedWindow:       time.Duration(cfg.FailedWindowMin) * time.Minute,
	})

	handler := rest.NewHandler(repo, alertEngine, reportEngine, sampler, signinSvc, probe, cacheStore, cfg.BackupsDir)
	wsHandler := websocket.NewHandler(ctx, wsHub, log)

	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.StructuredLog)

	// Probes and metrics bypass auth and admission.
	rest.SetupHealthRoutes(router, handler)
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	secured := router.NewRoute().Subrouter()
	secured.Use(middleware.Bearer(issuer))
	secured.Use(middleware.Admission(gw, latency))
	secured.Use(middleware.AuditLog(repo))
	rest.SetupRoutes(secured, handler)
	secured.HandleFunc("/admin/events/stream", wsHandler.ServeWS).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID", "X-API-Key"},
		AllowCredentials: true,
	})
	root := otelhttp.NewHandler(c.Handler(router), "admincore")

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      root,
		ReadTimeout:  time.Duration(cfg.RequestTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.RequestTimeoutSec) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	alertEngine.Stop()
	reportEngine.Stop()
	wsHub.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutSec)*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced to shut down", "error", err)
	}

	// Drain queued audit events after the listener closes.
	sink.Stop()

	log.Info("server exited")
}
