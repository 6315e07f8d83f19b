// Command ingest loads a CSV or XLSX knowledge-base file into the vector
// store, either directly through the ingestion pipeline or by publishing the
// batch to NATS for the ingest worker.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kbchat-ai/kbchat/engine/embed"
	"github.com/kbchat-ai/kbchat/engine/ingest"
	"github.com/kbchat-ai/kbchat/engine/semantic"
	"github.com/kbchat-ai/kbchat/pkg/natsutil"
)

func main() {
	var (
		file       = flag.String("file", "", "CSV/XLSX file to ingest (required)")
		providerN  = flag.String("provider", "ollama", "embedding provider: hosted or ollama")
		ollamaURL  = flag.String("ollama", "http://localhost:11434", "Ollama base URL")
		embedModel = flag.String("model", "", "embedding model (provider default if empty)")
		qdrantAddr = flag.String("qdrant", "localhost:6334", "Qdrant gRPC address")
		collection = flag.String("collection", "documents_768", "Qdrant collection name")
		natsURL    = flag.String("nats", "", "publish batch to NATS instead of ingesting directly")
		timeout    = flag.Duration("timeout", 5*time.Minute, "overall deadline")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: ingest -file data.csv [flags]")
		os.Exit(2)
	}

	if err := run(*file, *providerN, *ollamaURL, *embedModel, *qdrantAddr, *collection, *natsURL, *timeout, logger); err != nil {
		logger.Error("ingest failed", "err", err)
		os.Exit(1)
	}
}

func run(file, providerName, ollamaURL, embedModel, qdrantAddr, collection, natsURL string, timeout time.Duration, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	entries, err := ingest.ParseFile(filepath.Base(file), data)
	if err != nil {
		return err
	}
	logger.Info("parsed file", "file", file, "entries", len(entries))

	if natsURL != "" {
		nc, err := nats.Connect(natsURL)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
		if err := natsutil.Publish(ctx, nc, ingest.Subject, ingest.Batch{Entries: entries}); err != nil {
			return fmt.Errorf("publish batch: %w", err)
		}
		if err := nc.Flush(); err != nil {
			return err
		}
		logger.Info("batch published", "subject", ingest.Subject)
		return nil
	}

	provider, err := buildProvider(providerName, ollamaURL, embedModel)
	if err != nil {
		return err
	}

	store, err := semantic.New(qdrantAddr, collection, provider.Dimensions())
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.EnsureCollection(ctx); err != nil {
		return err
	}

	report, err := ingest.New(provider, store, logger).Run(ctx, entries)
	if err != nil {
		return err
	}
	logger.Info("done", "added", report.AddedCount, "duplicates", report.DuplicateCount)
	return nil
}

func buildProvider(name, ollamaURL, model string) (embed.Provider, error) {
	switch name {
	case "ollama":
		return embed.NewOllama(ollamaURL, model, 0), nil
	case "hosted":
		return embed.NewHosted(embed.HostedConfig{
			APIKey:     os.Getenv("EMBED_API_KEY"),
			BaseURL:    os.Getenv("EMBED_BASE_URL"),
			Model:      model,
			RatePerSec: 10,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
