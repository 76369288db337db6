package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	Port     string
	LogLevel string
	LogFile  string

	RedisAddr        string
	QdrantHost       string
	QdrantPort       int
	QdrantCollection string

	GeminiAPIKey  string
	GCPProject    string
	GCPLocation   string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	SearchURL     string
	SearchAPIKey  string

	Strategy       string
	MaxRetries     int
	ProbeInterval  time.Duration
	UserTokenLimit int

	EmbeddingModel string
	EmbeddingDim   uint64

	ModelsFile  string
	PromptsFile string
}

// Load reads .env.dev when present, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(".env.dev"); err != nil {
		log.Debug("no .env.dev file found, using system environment variables")
	}

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFile:          os.Getenv("LOG_FILE"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		QdrantHost:       os.Getenv("QDRANT_HOST"),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "router_memories"),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GCPProject:       os.Getenv("GOOGLE_CLOUD_PROJECT"),
		GCPLocation:      os.Getenv("GOOGLE_CLOUD_LOCATION"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		SearchURL:        os.Getenv("SEARCH_URL"),
		SearchAPIKey:     os.Getenv("SEARCH_API_KEY"),
		Strategy:         getEnv("ROUTER_STRATEGY", "performance-first"),
		EmbeddingModel:   getEnv("EMBEDDING_MODEL", "text-embedding-004"),
		ModelsFile:       getEnv("MODELS_FILE", "configs/models.yaml"),
		PromptsFile:      os.Getenv("PROMPTS_FILE"),
	}

	var err error
	if cfg.QdrantPort, err = getInt("QDRANT_PORT", 6334); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = getInt("ROUTER_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.UserTokenLimit, err = getInt("USER_TOKEN_LIMIT", 0); err != nil {
		return nil, err
	}
	dim, err := getInt("EMBEDDING_DIM", 768)
	if err != nil {
		return nil, err
	}
	if dim <= 0 {
		return nil, fmt.Errorf("EMBEDDING_DIM must be positive, got %d", dim)
	}
	cfg.EmbeddingDim = uint64(dim)

	if cfg.ProbeInterval, err = getDuration("HEALTH_PROBE_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
