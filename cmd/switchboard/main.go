package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/switchboard/internal/ailink"
	"github.com/MikeSquared-Agency/switchboard/internal/api"
	"github.com/MikeSquared-Agency/switchboard/internal/config"
	"github.com/MikeSquared-Agency/switchboard/internal/finalize"
	"github.com/MikeSquared-Agency/switchboard/internal/gateway"
	"github.com/MikeSquared-Agency/switchboard/internal/notify"
	"github.com/MikeSquared-Agency/switchboard/internal/session"
	slackalert "github.com/MikeSquared-Agency/switchboard/internal/slack"
	"github.com/MikeSquared-Agency/switchboard/internal/store"
	"github.com/MikeSquared-Agency/switchboard/internal/summarize"
	"github.com/MikeSquared-Agency/switchboard/internal/transcript"
	"github.com/MikeSquared-Agency/switchboard/internal/urgency"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("switchboard starting",
		"port", cfg.Port,
		"realtime_model", cfg.RealtimeModel,
		"summary_model", cfg.SummaryModel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: Database. Every answered call needs a record, so no DB means
	// no service.
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database connected")

	// Step 2: Optional lifecycle event publisher.
	var publisher *notify.Publisher
	if cfg.NatsURL != "" {
		publisher, err = notify.New(cfg.NatsURL)
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		slog.Info("lifecycle events enabled", "nats_url", cfg.NatsURL)
	}

	// Step 3: Optional Slack alerter for urgent calls.
	var alerter *slackalert.Alerter
	if cfg.SlackBotToken != "" && cfg.SlackAlertChannel != "" {
		alerter = slackalert.NewAlerter(cfg.SlackBotToken, cfg.SlackAlertChannel)
		slog.Info("Slack urgent-call alerter enabled", "channel", cfg.SlackAlertChannel)
	}

	// Step 4: End-of-call summarization. Without a key, calls finalize
	// with empty summaries instead of failing.
	var summarizer summarize.Summarizer
	if cfg.GeminiAPIKey != "" {
		summarizer, err = summarize.NewGemini(ctx, cfg.GeminiAPIKey, cfg.SummaryModel, cfg.IntentLabels)
		if err != nil {
			slog.Error("failed to create summarizer", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("GEMINI_API_KEY not set, calls will finalize without summaries")
	}

	// Step 5: Call plumbing.
	registry := session.NewRegistry()
	detector := urgency.NewKeywordDetector(cfg.UrgencyKeywords)
	persister := transcript.NewPersister(db)
	finalizer := finalize.New(db, summarizer, eventPublisher(publisher), registry, cfg.IntentLabels, cfg.FinalizeGrace)

	dialer := ailink.NewDialer(ailink.Config{
		Voice:          cfg.Voice,
		SystemPrompt:   cfg.SystemPrompt,
		Greeting:       cfg.Greeting,
		AudioQueueSize: cfg.CallerAudioQueue,
		Credentials:    cfg.ResolveCredentials,
	})

	mediaStream := gateway.NewHandler(db, registry, dialer, detector, persister, finalizer,
		eventPublisher(publisher), urgentAlerter(alerter), gateway.Options{
			LinkOpenTimeout:   cfg.LinkOpenTimeout,
			OutboundQueueSize: cfg.OutboundFrameQueue,
		})

	// Step 6: HTTP surface.
	srv := api.NewServer(db, registry, mediaStream, cfg.Port)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("switchboard ready", "port", cfg.Port)

	// Wait for shutdown signal, then drain live calls.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	slog.Info("shutting down", "signal", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown error", "error", err)
	}

	// Finalize whatever calls are still live so their records settle.
	// A session still waiting on its link ends as no_answer, same as the
	// gateway's own exit paths.
	for _, sess := range registry.All() {
		status := sess.EndStatus()
		sess.BeginClosing()
		finalizer.Run(sess, status)
	}

	slog.Info("switchboard stopped")
}

// eventPublisher converts the optional concrete publisher into the
// interface the gateway and finalizer take, preserving nil-ness.
func eventPublisher(p *notify.Publisher) finalize.EventPublisher {
	if p == nil {
		return nil
	}
	return p
}

// urgentAlerter does the same for the Slack alerter.
func urgentAlerter(a *slackalert.Alerter) gateway.UrgentAlerter {
	if a == nil {
		return nil
	}
	return a
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
