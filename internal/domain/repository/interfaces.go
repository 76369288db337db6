package repository

import (
	"context"
	"iter"

	"model-router/internal/domain/entity"
)

// ModelProvider is a single LLM backend hosting one or more models.
type ModelProvider interface {
	ID() string
	GenerateText(ctx context.Context, req entity.ProviderRequest) (*entity.ProviderResponse, error)
	GenerateStream(ctx context.Context, req entity.ProviderRequest) iter.Seq2[entity.StreamDelta, error]
	// Ping is a cheap reachability check used by the health probe.
	Ping(ctx context.Context) error
}

// ModelCatalog is read-only reference data about models and the providers serving them.
type ModelCatalog interface {
	ModelByID(id string) (entity.ModelInfo, bool)
	Provider(providerID string) (ModelProvider, bool)
	ProviderIDs() []string
	Recommendations(ctx context.Context, filter entity.RecommendationFilter) ([]entity.Recommendation, error)
	ModelsByFilter(ctx context.Context, filter entity.ModelFilter) ([]entity.ModelInfo, error)
	ProviderHealth(ctx context.Context) (map[string]bool, error)
}

type MemoryStore interface {
	SearchRelevantMemories(ctx context.Context, userID, query string, topK int) ([]entity.Memory, error)
	StoreConversation(ctx context.Context, userID string, conv entity.Conversation) error
}

type WebSearcher interface {
	SearchWeb(ctx context.Context, query string, opts entity.SearchOptions) ([]entity.SearchResult, error)
}

// SessionStore remembers which provider last served a session.
type SessionStore interface {
	LastProvider(ctx context.Context, sessionKey string) (string, error)
	SetLastProvider(ctx context.Context, sessionKey, provider string) error
}

type TokenLimiter interface {
	CheckLimit(ctx context.Context, userID string) (bool, error)
	Increment(ctx context.Context, userID string, tokens int) error
}

type Embedder interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
}
