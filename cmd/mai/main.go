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

	"github.com/joho/godotenv"

	"github.com/khoanguyen-dev/mai/internal/brain"
	"github.com/khoanguyen-dev/mai/internal/config"
	"github.com/khoanguyen-dev/mai/internal/confirm"
	"github.com/khoanguyen-dev/mai/internal/convlog"
	"github.com/khoanguyen-dev/mai/internal/httpapi"
	"github.com/khoanguyen-dev/mai/internal/observability"
	"github.com/khoanguyen-dev/mai/internal/orchestrator"
	"github.com/khoanguyen-dev/mai/internal/persist"
	"github.com/khoanguyen-dev/mai/internal/session"
	"github.com/khoanguyen-dev/mai/internal/speech"
	"github.com/khoanguyen-dev/mai/internal/syncqueue"
	"github.com/khoanguyen-dev/mai/internal/taskops"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("skipping .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	turns, err := convlog.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("conversation log init failed: %v", err)
	}
	defer turns.Close()

	adapter, err := brain.NewAdapter(brain.Config{
		Mode:    cfg.BrainMode,
		HTTPURL: cfg.BrainHTTPURL,
		Model:   cfg.BrainModel,
	})
	if err != nil {
		log.Fatalf("brain adapter init failed: %v", err)
	}
	if h, ok := adapter.(*brain.HTTPAdapter); ok {
		h.SetTimeout(cfg.BrainTimeout)
	}

	store := persist.NewClient(cfg.StoreBaseURL, cfg.StoreTimeout)
	executor := taskops.NewExecutor(store, cfg.OpRetryAttempts, cfg.OpRetryDelay)

	queue := syncqueue.New(
		syncqueue.DelivererFunc(func(ctx context.Context, job syncqueue.Job) error {
			return store.ProcessConversation(ctx, persist.ConversationRecord{
				ParsedResponse: job.Parsed,
				UserInput:      job.UserInput,
				UserID:         job.UserID,
				SessionID:      job.SessionID,
				Timestamp:      job.Timestamp,
			})
		}),
		syncqueue.Config{
			MaxAttempts: cfg.QueueMaxAttempts,
			RetryBase:   cfg.QueueRetryBase,
			RetryCap:    cfg.QueueRetryCap,
			JobGap:      cfg.QueueJobGap,
		},
		metrics,
	)

	synth := speech.New(speech.Config{
		Enabled:    cfg.AudioEnabled,
		OutputDir:  cfg.AudioOutputDir,
		TTSURL:     cfg.TTSURL,
		LipSyncCmd: cfg.LipSyncCmd,
	})

	engine := orchestrator.NewEngine(
		adapter,
		session.NewStore(cfg.MaxHistory, cfg.KeepRecent),
		confirm.NewStore(cfg.ConfirmationTTL),
		store,
		executor,
		queue,
		turns,
		synth,
		metrics,
	)

	api := httpapi.New(cfg, engine, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}
	queue.Close(10 * time.Second)

	log.Printf("shutdown complete")
}
