package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/voxtable/voicebridge/internal/backend"
	"github.com/voxtable/voicebridge/internal/config"
	"github.com/voxtable/voicebridge/internal/httpapi"
	"github.com/voxtable/voicebridge/internal/observability"
	"github.com/voxtable/voicebridge/internal/realtime"
	"github.com/voxtable/voicebridge/internal/session"
	"github.com/voxtable/voicebridge/internal/telephony"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace, prometheus.DefaultRegisterer)

	api := backend.NewClient(cfg.BackendAPIURL, cfg.BackendAPIKey, cfg.OrgConfigTTL)
	dialer := realtime.NewDialer(realtime.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIRealtimeURL,
		Model:   cfg.OpenAIRealtimeModel,
		Voice:   cfg.OpenAIVoice,
	})

	registry := session.NewRegistry(api, session.SpeechDialFunc(
		func(ctx context.Context, opts realtime.SessionOptions, cb realtime.Callbacks) (session.SpeechConn, error) {
			return dialer.Dial(ctx, opts, cb)
		},
	), cfg.SessionIdleTimeout)

	registry.SetEventHook(func(event string) {
		metrics.SessionEvents.WithLabelValues(event).Inc()
		metrics.ActiveSessions.Set(float64(registry.ActiveCount()))
		if event == "speech_error" {
			metrics.RealtimeErrors.Inc()
		}
	})
	registry.SetToolHook(func(tool, outcome string) {
		metrics.ToolExecutions.WithLabelValues(tool, outcome).Inc()
		// Only outcomes that reached the collaborator count as submissions;
		// empty-order and missing-name refusals never leave the process.
		if tool == "confirm_order" {
			switch outcome {
			case "ok":
				metrics.OrderSubmissions.WithLabelValues("ok").Inc()
			case "submit_failed":
				metrics.OrderSubmissions.WithLabelValues("error").Inc()
			}
		}
	})

	bridge := telephony.NewBridge(registry, metrics, cfg.AllowAnyOrigin)
	server := httpapi.New(cfg, registry, bridge)

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: server.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	registry.StartSweeper(runCtx, cfg.SweepInterval)

	go func() {
		log.Printf("voicebridge listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	registry.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
