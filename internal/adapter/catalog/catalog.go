// Package catalog is a static, YAML-backed model catalog and provider registry.
package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"model-router/internal/domain/entity"
	"model-router/internal/domain/repository"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPingTimeout = 5 * time.Second
	maxConcurrentPings = 10
)

// Upper bound on input cost per 1k tokens for each budget tier. High has no bound.
var budgetCaps = map[entity.BudgetTier]float64{
	entity.BudgetFree:   0,
	entity.BudgetLow:    0.0005,
	entity.BudgetMedium: 0.005,
}

type Catalog struct {
	mu        sync.RWMutex
	models    []entity.ModelInfo
	byID      map[string]entity.ModelInfo
	providers map[string]repository.ModelProvider
	order     []string

	pingTimeout time.Duration
}

// New builds a catalog. Models keep their order, which is the ranking used for ties.
func New(models []entity.ModelInfo, providers ...repository.ModelProvider) *Catalog {
	c := &Catalog{
		models:      append([]entity.ModelInfo(nil), models...),
		byID:        make(map[string]entity.ModelInfo, len(models)),
		providers:   make(map[string]repository.ModelProvider),
		pingTimeout: defaultPingTimeout,
	}
	for _, m := range models {
		c.byID[m.ID] = m
	}
	for _, p := range providers {
		c.Register(p)
	}
	return c
}

func (c *Catalog) Register(p repository.ModelProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.providers[p.ID()]; !ok {
		c.order = append(c.order, p.ID())
	}
	c.providers[p.ID()] = p
}

func (c *Catalog) ModelByID(id string) (entity.ModelInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.byID[id]
	return m, ok
}

func (c *Catalog) Provider(providerID string) (repository.ModelProvider, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.providers[providerID]
	return p, ok
}

// ProviderIDs lists registered providers in registration order.
func (c *Catalog) ProviderIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// ModelsByFilter returns matching models in catalog order. Models whose provider
// is not registered are left out.
func (c *Catalog) ModelsByFilter(_ context.Context, f entity.ModelFilter) ([]entity.ModelInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []entity.ModelInfo
	for _, m := range c.models {
		if _, ok := c.providers[m.Provider]; !ok {
			continue
		}
		if f.Provider != "" && m.Provider != f.Provider {
			continue
		}
		if f.Capability != "" && !m.HasCapability(f.Capability) {
			continue
		}
		if f.FreeOnly && !m.Cost.IsFree() {
			continue
		}
		if f.MaxInput != nil && m.Cost.Input > *f.MaxInput {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Recommendations ranks the models able to serve the filter, best first.
func (c *Catalog) Recommendations(ctx context.Context, f entity.RecommendationFilter) ([]entity.Recommendation, error) {
	models, err := c.ModelsByFilter(ctx, entity.ModelFilter{})
	if err != nil {
		return nil, err
	}

	var recs []entity.Recommendation
	for _, m := range models {
		if f.ContextLength > 0 && m.ContextLength > 0 && m.ContextLength < f.ContextLength {
			continue
		}
		if f.Task == entity.TaskMultimodal && !m.HasCapability(string(entity.TaskMultimodal)) && !m.HasCapability("vision") {
			continue
		}
		if limit, ok := budgetCaps[f.Budget]; ok && m.Cost.Input > limit {
			continue
		}
		recs = append(recs, entity.Recommendation{Model: m, Score: score(m, f)})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Score > recs[j].Score
	})
	return recs, nil
}

func score(m entity.ModelInfo, f entity.RecommendationFilter) float64 {
	s := 0.0
	if m.HasCapability(string(f.Task)) {
		s += 3
	}
	if m.HasCapability(string(entity.TaskText)) {
		s += 1
	}
	switch f.Speed {
	case entity.PreferSpeed:
		if m.HasCapability("fast") {
			s += 2
		}
	case entity.PreferQuality:
		if m.HasCapability("reasoning") {
			s += 2
		}
	default:
		if m.HasCapability("fast") || m.HasCapability("reasoning") {
			s += 0.5
		}
	}
	// Cheaper models win ties within a score band.
	s -= m.Cost.Input * 10
	return s
}

// ProviderHealth pings every registered provider concurrently.
func (c *Catalog) ProviderHealth(ctx context.Context) (map[string]bool, error) {
	c.mu.RLock()
	providers := make([]repository.ModelProvider, 0, len(c.order))
	for _, id := range c.order {
		providers = append(providers, c.providers[id])
	}
	c.mu.RUnlock()

	var mu sync.Mutex
	result := make(map[string]bool, len(providers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPings)
	for _, p := range providers {
		g.Go(func() error {
			pingCtx, cancel := context.WithTimeout(gctx, c.pingTimeout)
			defer cancel()
			err := p.Ping(pingCtx)
			if err != nil {
				log.WithError(err).WithField("provider", p.ID()).Debug("provider ping failed")
			}
			mu.Lock()
			result[p.ID()] = err == nil
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return result, nil
}

// Models returns every catalog entry in catalog order.
func (c *Catalog) Models() []entity.ModelInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]entity.ModelInfo(nil), c.models...)
}
