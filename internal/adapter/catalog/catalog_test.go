package catalog

import (
	"context"
	"errors"
	"iter"
	"testing"

	"model-router/internal/domain/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	id      string
	pingErr error
}

func (s stubProvider) ID() string { return s.id }

func (s stubProvider) GenerateText(context.Context, entity.ProviderRequest) (*entity.ProviderResponse, error) {
	return &entity.ProviderResponse{Content: "ok"}, nil
}

func (s stubProvider) GenerateStream(context.Context, entity.ProviderRequest) iter.Seq2[entity.StreamDelta, error] {
	return func(func(entity.StreamDelta, error) bool) {}
}

func (s stubProvider) Ping(context.Context) error { return s.pingErr }

func loadSample(t *testing.T) *Catalog {
	t.Helper()
	f, err := LoadFile("../../../configs/models.yaml")
	require.NoError(t, err)
	return New(f.Models, stubProvider{id: "google"}, stubProvider{id: "openai"}, stubProvider{id: "local"})
}

func ids(recs []entity.Recommendation) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Model.ID)
	}
	return out
}

func TestRecommendations(t *testing.T) {
	c := loadSample(t)

	tests := []struct {
		name    string
		filter  entity.RecommendationFilter
		first   string
		exclude []string
		only    []string
	}{
		{
			name:   "code on medium budget prefers capable free model",
			filter: entity.RecommendationFilter{Task: entity.TaskCode, Budget: entity.BudgetMedium},
			first:  "llama3.2",
		},
		{
			name:   "free budget",
			filter: entity.RecommendationFilter{Task: entity.TaskText, Budget: entity.BudgetFree},
			only:   []string{"llama3.2", "qwen2.5-coder"},
		},
		{
			name:    "multimodal needs the capability",
			filter:  entity.RecommendationFilter{Task: entity.TaskMultimodal, Budget: entity.BudgetHigh},
			exclude: []string{"llama3.2", "qwen2.5-coder"},
		},
		{
			name:    "long context",
			filter:  entity.RecommendationFilter{Task: entity.TaskText, Budget: entity.BudgetHigh, ContextLength: 100000},
			exclude: []string{"qwen2.5-coder"},
		},
		{
			name:    "low budget caps input price",
			filter:  entity.RecommendationFilter{Task: entity.TaskText, Budget: entity.BudgetLow},
			exclude: []string{"gpt-4o", "gemini-2.5-pro"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := c.Recommendations(context.Background(), tt.filter)
			require.NoError(t, err)
			require.NotEmpty(t, recs)
			got := ids(recs)
			if tt.first != "" {
				assert.Equal(t, tt.first, got[0])
			}
			for _, id := range tt.exclude {
				assert.NotContains(t, got, id)
			}
			if tt.only != nil {
				assert.ElementsMatch(t, tt.only, got)
			}
			for i := 1; i < len(recs); i++ {
				assert.GreaterOrEqual(t, recs[i-1].Score, recs[i].Score)
			}
		})
	}
}

func TestRecommendationsSpeedPreference(t *testing.T) {
	c := loadSample(t)

	fast, err := c.Recommendations(context.Background(), entity.RecommendationFilter{Task: entity.TaskText, Budget: entity.BudgetHigh, Speed: entity.PreferSpeed})
	require.NoError(t, err)
	quality, err := c.Recommendations(context.Background(), entity.RecommendationFilter{Task: entity.TaskText, Budget: entity.BudgetHigh, Speed: entity.PreferQuality})
	require.NoError(t, err)

	assert.Equal(t, "llama3.2", fast[0].Model.ID)
	assert.Equal(t, "gemini-2.5-pro", quality[0].Model.ID)
}

func TestModelsByFilter(t *testing.T) {
	c := New([]entity.ModelInfo{
		{ID: "a", Provider: "p1", Cost: entity.Pricing{Input: 0.01}, Capabilities: []string{"code"}},
		{ID: "b", Provider: "p1"},
		{ID: "c", Provider: "ghost"},
	}, stubProvider{id: "p1"})

	all, err := c.ModelsByFilter(context.Background(), entity.ModelFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2, "models of unregistered providers are hidden")

	free, err := c.ModelsByFilter(context.Background(), entity.ModelFilter{FreeOnly: true})
	require.NoError(t, err)
	require.Len(t, free, 1)
	assert.Equal(t, "b", free[0].ID)

	code, err := c.ModelsByFilter(context.Background(), entity.ModelFilter{Capability: "code"})
	require.NoError(t, err)
	require.Len(t, code, 1)
	assert.Equal(t, "a", code[0].ID)

	maxInput := 0.001
	cheap, err := c.ModelsByFilter(context.Background(), entity.ModelFilter{MaxInput: &maxInput})
	require.NoError(t, err)
	assert.Len(t, cheap, 1)

	_, ok := c.ModelByID("c")
	assert.True(t, ok, "lookup by id still works")
	assert.Len(t, c.Models(), 3)
}

func TestRegisterKeepsOrder(t *testing.T) {
	c := New(nil, stubProvider{id: "b"}, stubProvider{id: "a"})
	c.Register(stubProvider{id: "b"})
	assert.Equal(t, []string{"b", "a"}, c.ProviderIDs())

	_, ok := c.Provider("a")
	assert.True(t, ok)
	_, ok = c.Provider("missing")
	assert.False(t, ok)
}

func TestProviderHealth(t *testing.T) {
	c := New(nil, stubProvider{id: "up"}, stubProvider{id: "down", pingErr: errors.New("connection refused")})

	health, err := c.ProviderHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"up": true, "down": false}, health)
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{name: "valid", raw: "providers:\n  - id: p\n    type: openai\nmodels:\n  - id: m\n    provider: p\n    context-length: 4096\n"},
		{name: "missing provider", raw: "models:\n  - id: m\n", wantErr: "id and provider are required"},
		{name: "duplicate", raw: "models:\n  - id: m\n    provider: p\n  - id: m\n    provider: p\n", wantErr: "duplicate model id"},
		{name: "provider without id", raw: "providers:\n  - type: openai\n", wantErr: "id is required"},
		{name: "bad yaml", raw: "models: [", wantErr: "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse([]byte(tt.raw))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 4096, f.Models[0].ContextLength)
		})
	}
}
