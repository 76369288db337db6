package usecase

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"model-router/internal/domain/entity"
	"model-router/internal/domain/repository"
)

type fakeProvider struct {
	id string

	mu        sync.Mutex
	requests  []entity.ProviderRequest
	errs      map[string]error // by model id
	resps     map[string]*entity.ProviderResponse
	gate      chan struct{} // when set, GenerateText blocks until closed
	chunks    []string
	streamErr error
	pingErr   error
}

func newFakeProvider(id string) *fakeProvider {
	return &fakeProvider{
		id:    id,
		errs:  make(map[string]error),
		resps: make(map[string]*entity.ProviderResponse),
	}
}

func (p *fakeProvider) ID() string { return p.id }

func (p *fakeProvider) GenerateText(ctx context.Context, req entity.ProviderRequest) (*entity.ProviderResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	gate := p.gate
	err := p.errs[req.Model]
	resp := p.resps[req.Model]
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if resp != nil {
		return resp, nil
	}
	return &entity.ProviderResponse{
		Content: "answer from " + req.Model,
		Usage:   &entity.Usage{PromptTokens: 10, CompletionTokens: 5},
	}, nil
}

func (p *fakeProvider) GenerateStream(_ context.Context, req entity.ProviderRequest) iter.Seq2[entity.StreamDelta, error] {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	chunks, streamErr := p.chunks, p.streamErr
	p.mu.Unlock()

	return func(yield func(entity.StreamDelta, error) bool) {
		for _, c := range chunks {
			if !yield(entity.StreamDelta{Text: c}, nil) {
				return
			}
		}
		if streamErr != nil {
			yield(entity.StreamDelta{}, streamErr)
		}
	}
}

func (p *fakeProvider) Ping(context.Context) error { return p.pingErr }

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *fakeProvider) lastRequest() entity.ProviderRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[len(p.requests)-1]
}

func (p *fakeProvider) calledModels() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.requests))
	for _, r := range p.requests {
		out = append(out, r.Model)
	}
	return out
}

// fakeCatalog returns recommendations in the order of recs, or of models when recs is nil.
type fakeCatalog struct {
	models    []entity.ModelInfo
	providers map[string]repository.ModelProvider
	order     []string
	recs      []string
	recsErr   error
	health    map[string]bool

	mu          sync.Mutex
	healthCalls int
}

func newFakeCatalog(models ...entity.ModelInfo) *fakeCatalog {
	return &fakeCatalog{models: models, providers: make(map[string]repository.ModelProvider)}
}

func (c *fakeCatalog) register(p repository.ModelProvider) *fakeCatalog {
	c.providers[p.ID()] = p
	c.order = append(c.order, p.ID())
	return c
}

func (c *fakeCatalog) ModelByID(id string) (entity.ModelInfo, bool) {
	for _, m := range c.models {
		if m.ID == id {
			return m, true
		}
	}
	return entity.ModelInfo{}, false
}

func (c *fakeCatalog) Provider(id string) (repository.ModelProvider, bool) {
	p, ok := c.providers[id]
	return p, ok
}

func (c *fakeCatalog) ProviderIDs() []string { return c.order }

func (c *fakeCatalog) Recommendations(_ context.Context, _ entity.RecommendationFilter) ([]entity.Recommendation, error) {
	if c.recsErr != nil {
		return nil, c.recsErr
	}
	ids := c.recs
	if ids == nil {
		for _, m := range c.models {
			ids = append(ids, m.ID)
		}
	}
	out := make([]entity.Recommendation, 0, len(ids))
	for i, id := range ids {
		if m, ok := c.ModelByID(id); ok {
			out = append(out, entity.Recommendation{Model: m, Score: float64(len(ids) - i)})
		}
	}
	return out, nil
}

func (c *fakeCatalog) ModelsByFilter(_ context.Context, f entity.ModelFilter) ([]entity.ModelInfo, error) {
	var out []entity.ModelInfo
	for _, m := range c.models {
		if f.FreeOnly && !m.Cost.IsFree() {
			continue
		}
		if f.Provider != "" && m.Provider != f.Provider {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (c *fakeCatalog) ProviderHealth(context.Context) (map[string]bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthCalls++
	out := make(map[string]bool, len(c.health))
	for k, v := range c.health {
		out[k] = v
	}
	return out, nil
}

func (c *fakeCatalog) probes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthCalls
}

type fakeMemory struct {
	mu       sync.Mutex
	memories []entity.Memory
	err      error
	queries  []string
	stored   []entity.Conversation
}

func (m *fakeMemory) SearchRelevantMemories(_ context.Context, _ string, query string, topK int) ([]entity.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, query)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.memories) > topK {
		return m.memories[:topK], nil
	}
	return m.memories, nil
}

func (m *fakeMemory) StoreConversation(_ context.Context, _ string, conv entity.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored = append(m.stored, conv)
	return nil
}

func (m *fakeMemory) conversations() []entity.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]entity.Conversation(nil), m.stored...)
}

type fakeSearch struct {
	results []entity.SearchResult
	err     error
	query   string
	opts    entity.SearchOptions
}

func (s *fakeSearch) SearchWeb(_ context.Context, query string, opts entity.SearchOptions) ([]entity.SearchResult, error) {
	s.query, s.opts = query, opts
	return s.results, s.err
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var errTransient = errors.New("upstream timeout")

func model(id, provider string, input, output float64) entity.ModelInfo {
	return entity.ModelInfo{
		ID:            id,
		Provider:      provider,
		Cost:          entity.Pricing{Input: input, Output: output},
		ContextLength: 128000,
	}
}

func userRequest(text string) entity.GenerateRequest {
	return entity.GenerateRequest{Messages: []entity.Message{{Role: entity.RoleUser, Content: text}}}
}

func ptr[T any](v T) *T { return &v }
