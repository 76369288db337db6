package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"model-router/internal/adapter/api"
	"model-router/internal/adapter/catalog"
	"model-router/internal/adapter/client"
	"model-router/internal/adapter/store"
	"model-router/internal/config"
	"model-router/internal/domain/entity"
	"model-router/internal/domain/repository"
	"model-router/internal/logging"
	"model-router/internal/prompts"
	"model-router/internal/usecase"

	"github.com/gofiber/fiber/v2"
	"github.com/qdrant/go-client/qdrant"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFile); err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	genaiClient, err := newGenAIClient(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init genai client: %v", err)
	}

	modelCatalog, err := buildCatalog(ctx, cfg, genaiClient)
	if err != nil {
		log.Fatalf("failed to build model catalog: %v", err)
	}

	promptTable := prompts.Default()
	if cfg.PromptsFile != "" {
		if promptTable, err = prompts.LoadFile(cfg.PromptsFile); err != nil {
			log.Fatalf("failed to load prompts: %v", err)
		}
		if err := promptTable.Watch(cfg.PromptsFile); err != nil {
			log.WithError(err).Warn("prompt hot reload disabled")
		}
		defer promptTable.Close()
	}
	log.WithField("models", len(promptTable.Models())).Info("prompt table loaded")

	deps := usecase.Collaborators{
		Catalog: modelCatalog,
		Prompts: promptTable,
	}

	var limiter repository.TokenLimiter
	if cfg.RedisAddr != "" {
		// Redis for session affinity and token quota
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		deps.Sessions = store.NewRedisSessionStore(rdb, store.DefaultSessionTTL)
		limiter = store.NewRedisLimiter(rdb, cfg.UserTokenLimit)
	}

	var embedder *client.Embedder
	if genaiClient != nil && cfg.QdrantHost != "" {
		// Qdrant for conversation memory
		qClient, err := qdrant.NewClient(&qdrant.Config{
			Host: cfg.QdrantHost,
			Port: cfg.QdrantPort,
		})
		if err != nil {
			log.Fatalf("failed to connect to qdrant: %v", err)
		}
		defer qClient.Close()

		embedder = client.NewEmbedderFromClient(genaiClient, cfg.EmbeddingModel, int(cfg.EmbeddingDim))
		memory := store.NewQdrantMemoryStore(qClient, cfg.QdrantCollection, embedder)
		if err := memory.InitCollection(ctx, cfg.EmbeddingDim); err != nil {
			log.Fatalf("failed to init qdrant collection: %v", err)
		}
		deps.Memory = memory
	}

	if cfg.SearchURL != "" {
		deps.Search = client.NewWebSearchClient(cfg.SearchURL, cfg.SearchAPIKey, nil)
	}

	opts := usecase.DefaultRouterOptions()
	if strategy, ok := entity.ParseStrategy(cfg.Strategy); ok {
		opts.Strategy = strategy
	} else {
		log.Warnf("unknown ROUTER_STRATEGY %q, using %s", cfg.Strategy, opts.Strategy)
	}
	opts.MaxRetries = cfg.MaxRetries
	opts.ProbeInterval = cfg.ProbeInterval

	router := usecase.NewEnhancedModelRouter(deps, opts)
	router.Start(ctx)
	defer router.Close()

	go warmUp(modelCatalog, embedder)

	app := fiber.New(fiber.Config{
		AppName: "Enhanced Model Router",
	})
	api.SetupRouter(app, api.NewChatHandler(router, limiter, modelCatalog))

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.WithError(err).Error("graceful shutdown failed")
		}
	}()

	log.Infof("Enhanced Model Router running on port %s (%d providers, strategy %s)", cfg.Port, len(modelCatalog.ProviderIDs()), opts.Strategy)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Errorf("server stopped: %v", err)
	}
}

// newGenAIClient returns nil when no Gemini credentials are configured.
func newGenAIClient(ctx context.Context, cfg *config.Config) (*genai.Client, error) {
	switch {
	case cfg.GeminiAPIKey != "":
		return genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.GeminiAPIKey,
			Backend: genai.BackendGeminiAPI,
		})
	case cfg.GCPProject != "":
		return genai.NewClient(ctx, &genai.ClientConfig{
			Project:  cfg.GCPProject,
			Location: cfg.GCPLocation,
			Backend:  genai.BackendVertexAI,
		})
	}
	return nil, nil
}

func buildCatalog(ctx context.Context, cfg *config.Config, genaiClient *genai.Client) (*catalog.Catalog, error) {
	file, err := catalog.LoadFile(cfg.ModelsFile)
	if err != nil {
		return nil, err
	}

	c := catalog.New(file.Models)
	for _, p := range file.Providers {
		if p.Disabled {
			continue
		}
		switch p.Type {
		case "gemini":
			if key := os.Getenv(p.APIKeyEnv); p.APIKeyEnv != "" && key != "" {
				gc, err := client.NewGeminiClient(ctx, p.ID, key)
				if err != nil {
					return nil, err
				}
				c.Register(gc)
				continue
			}
			if genaiClient == nil {
				log.Warnf("provider %s skipped: no GEMINI_API_KEY or GOOGLE_CLOUD_PROJECT", p.ID)
				continue
			}
			c.Register(client.NewGeminiClientFromClient(genaiClient, p.ID))
		case "openai":
			baseURL, apiKey := p.BaseURL, os.Getenv(p.APIKeyEnv)
			if baseURL == "" {
				baseURL = cfg.OpenAIBaseURL
			}
			if apiKey == "" && p.APIKeyEnv == "" {
				apiKey = cfg.OpenAIAPIKey
			}
			c.Register(client.NewOpenAIClient(p.ID, baseURL, apiKey, nil))
		default:
			return nil, fmt.Errorf("unknown provider type %q for provider %s", p.Type, p.ID)
		}
	}
	if len(c.ProviderIDs()) == 0 {
		log.Warn(entity.ErrNoProvidersConfigured.Error())
	}
	return c, nil
}

func warmUp(c *catalog.Catalog, embedder *client.Embedder) {
	warmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if embedder != nil {
		if _, err := embedder.CreateEmbedding(warmCtx, "warmup"); err != nil {
			log.WithError(err).Warn("[WARMER] embedder warm-up failed")
		}
	}

	health, err := c.ProviderHealth(warmCtx)
	if err != nil {
		log.WithError(err).Warn("[WARMER] provider warm-up failed")
		return
	}
	for id, ok := range health {
		if !ok {
			log.Warnf("[WARMER] provider %s is not reachable", id)
		}
	}
	log.Info("[WARMER] Pre-warm complete. Router is HOT.")
}
