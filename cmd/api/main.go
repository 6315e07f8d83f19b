// Package main implements the kbchat API server: streamed retrieval-augmented
// chat plus document ingestion over one vector collection.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kbchat-ai/kbchat/engine/chat"
	"github.com/kbchat-ai/kbchat/engine/embed"
	"github.com/kbchat-ai/kbchat/engine/ingest"
	"github.com/kbchat-ai/kbchat/engine/llm"
	"github.com/kbchat-ai/kbchat/engine/retrieval"
	"github.com/kbchat-ai/kbchat/engine/semantic"
	"github.com/kbchat-ai/kbchat/pkg/metrics"
	"github.com/kbchat-ai/kbchat/pkg/mid"
)

// Config holds all environment-based configuration. Provider and collection
// selection is runtime configuration; there is exactly one pipeline.
type Config struct {
	Port string

	LLMAPIKey      string
	LLMBaseURL     string
	LLMModel       string
	LLMTemperature float64

	// EmbedProvider selects "hosted" (OpenAI-compatible inference API) or
	// "ollama". Each pairs with its own collection and dimensionality.
	EmbedProvider string
	EmbedAPIKey   string
	EmbedBaseURL  string
	EmbedModel    string
	EmbedDims     int
	OllamaURL     string

	QdrantURL  string
	Collection string

	TopK           int
	Verify         bool
	Topic          string
	RequestTimeout time.Duration
	CORSOrigin     string
}

func loadConfig() Config {
	// Optional .env for local development; the file missing is fine.
	_ = godotenv.Load()

	cfg := Config{
		Port:           envOr("PORT", "8080"),
		LLMAPIKey:      os.Getenv("LLM_API_KEY"),
		LLMBaseURL:     envOr("LLM_BASE_URL", "https://api.groq.com/openai/v1"),
		LLMModel:       envOr("LLM_MODEL", llm.DefaultModel),
		LLMTemperature: envFloat("LLM_TEMPERATURE", 0.7),
		EmbedProvider:  envOr("EMBED_PROVIDER", "hosted"),
		EmbedAPIKey:    os.Getenv("EMBED_API_KEY"),
		EmbedBaseURL:   os.Getenv("EMBED_BASE_URL"),
		EmbedModel:     os.Getenv("EMBED_MODEL"),
		EmbedDims:      envInt("EMBED_DIMS", 0),
		OllamaURL:      envOr("OLLAMA_URL", "http://localhost:11434"),
		QdrantURL:      envOr("QDRANT_URL", "localhost:6334"),
		TopK:           envInt("TOP_K", retrieval.DefaultTopK),
		Verify:         envOr("VERIFY_ANSWERS", "") == "true",
		Topic:          envOr("CHAT_TOPIC", ""),
		RequestTimeout: envDuration("REQUEST_TIMEOUT", 90*time.Second),
		CORSOrigin:     envOr("CORS_ORIGIN", "*"),
	}

	// One collection per (provider, dimensionality) pair; never crossed.
	switch cfg.EmbedProvider {
	case "ollama":
		cfg.Collection = envOr("QDRANT_COLLECTION", "documents_768")
	default:
		cfg.Collection = envOr("QDRANT_COLLECTION", "documents")
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// buildProvider constructs the configured embedding provider. No fallback
// between providers: a misconfigured provider is a startup error, not a
// silent switch to different dimensionality.
func buildProvider(cfg Config) (embed.Provider, error) {
	switch cfg.EmbedProvider {
	case "ollama":
		return embed.NewOllama(cfg.OllamaURL, cfg.EmbedModel, cfg.EmbedDims), nil
	case "hosted":
		return embed.NewHosted(embed.HostedConfig{
			APIKey:     cfg.EmbedAPIKey,
			BaseURL:    cfg.EmbedBaseURL,
			Model:      cfg.EmbedModel,
			Dimensions: cfg.EmbedDims,
			RatePerSec: 10,
		})
	default:
		return nil, fmt.Errorf("unknown embed provider %q", cfg.EmbedProvider)
	}
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	store, err := semantic.New(cfg.QdrantURL, cfg.Collection, provider.Dimensions())
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer store.Close()

	ensureCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := store.EnsureCollection(ensureCtx); err != nil {
		return err
	}

	model, err := llm.New(llm.Config{
		APIKey:      cfg.LLMAPIKey,
		BaseURL:     cfg.LLMBaseURL,
		Model:       cfg.LLMModel,
		Temperature: cfg.LLMTemperature,
	})
	if err != nil {
		return err
	}

	retriever := retrieval.New(provider, store, cfg.TopK, logger)

	chatOpts := chat.DefaultOptions()
	chatOpts.Verify = cfg.Verify
	if cfg.Topic != "" {
		chatOpts.Topic = cfg.Topic
	}
	chatSvc := chat.New(model, retriever, chatOpts, logger)

	ingestSvc := ingest.New(provider, store, logger)

	met := metrics.New()
	api := &server{
		chat:     chatSvc,
		ingest:   ingestSvc,
		provider: provider,
		store:    store,
		logger:   logger,
		met:      newServerMetrics(met),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", api.handleHealth)
	mux.HandleFunc("POST /api/chat", api.handleChat)
	mux.HandleFunc("POST /api/ingest", api.handleIngest)
	mux.HandleFunc("GET /api/embeddings", api.handleEmbeddingProbe)
	mux.HandleFunc("GET /api/keepalive", api.handleKeepAlive)
	mux.Handle("GET /metrics", met.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.OTel("kbchat-api"),
		mid.CORS(cfg.CORSOrigin),
		mid.Deadline(cfg.RequestTimeout),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port,
			"provider", provider.Name(), "collection", cfg.Collection, "verify", cfg.Verify)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
