// Command ingest-worker consumes entry batches from NATS and runs them
// through the ingestion pipeline. Failed batches are retried a bounded number
// of times and then parked on the dead letter queue.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kbchat-ai/kbchat/engine/embed"
	"github.com/kbchat-ai/kbchat/engine/ingest"
	"github.com/kbchat-ai/kbchat/engine/semantic"
	"github.com/kbchat-ai/kbchat/pkg/natsutil"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	natsURL := envOr("NATS_URL", nats.DefaultURL)
	ollamaURL := envOr("OLLAMA_URL", "http://localhost:11434")
	embedModel := os.Getenv("EMBED_MODEL")
	qdrantAddr := envOr("QDRANT_URL", "localhost:6334")
	collection := envOr("QDRANT_COLLECTION", "documents_768")

	if err := run(natsURL, ollamaURL, embedModel, qdrantAddr, collection, logger); err != nil {
		logger.Error("worker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(natsURL, ollamaURL, embedModel, qdrantAddr, collection string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider := embed.NewOllama(ollamaURL, embedModel, 0)

	store, err := semantic.New(qdrantAddr, collection, provider.Dimensions())
	if err != nil {
		return err
	}
	defer store.Close()

	ensureCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := store.EnsureCollection(ensureCtx); err != nil {
		return err
	}

	nc, err := nats.Connect(natsURL)
	if err != nil {
		return err
	}
	defer nc.Drain()

	svc := ingest.New(provider, store, logger)

	sub, err := ingest.StartConsumer(nc, svc, logger)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	// Surface parked batches in the logs so someone notices them.
	dlqSub, err := natsutil.Subscribe(nc, ingest.DLQSubject, func(_ context.Context, msg ingest.DLQMessage) {
		logger.Error("batch parked on DLQ",
			"entries", len(msg.Batch.Entries),
			"retries", msg.Retries,
			"err", msg.Error,
		)
	})
	if err != nil {
		return err
	}
	defer dlqSub.Unsubscribe()

	logger.Info("ingest worker running",
		"subject", ingest.Subject, "provider", provider.Name(), "collection", collection)

	<-ctx.Done()
	logger.Info("shutdown signal received")
	return nil
}
