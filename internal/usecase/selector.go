package usecase

import (
	"context"
	"fmt"
	"slices"

	"model-router/internal/domain/entity"
	"model-router/internal/domain/repository"

	log "github.com/sirupsen/logrus"
)

var (
	creativeKeywords = []string{"story", "stories", "poem", "poems", "creative", "fiction", "lyrics", "imagine", "novel", "haiku", "song", "screenplay"}
	analysisKeywords = []string{"analyze", "analyse", "analysis", "compare", "evaluate", "assess", "summarize", "summarise", "explain why", "pros and cons", "review", "research"}
)

// ClassifyTask buckets a request by its last message. Attached images always mean multimodal.
func ClassifyTask(req entity.GenerateRequest) entity.TaskType {
	if len(req.Images) > 0 {
		return entity.TaskMultimodal
	}
	last, ok := req.LastMessage()
	if !ok {
		return entity.TaskText
	}
	text := last.Content
	switch {
	case IsCodeRequest(text):
		return entity.TaskCode
	case matchesKeyword(text, creativeKeywords):
		return entity.TaskCreative
	case matchesKeyword(text, analysisKeywords):
		return entity.TaskAnalysis
	default:
		return entity.TaskText
	}
}

// BudgetFor maps the caller's cost ceiling onto a tier. No ceiling means medium.
func BudgetFor(req entity.GenerateRequest) entity.BudgetTier {
	if req.Context == nil || req.Context.MaxCostPerRequest == nil {
		return entity.BudgetMedium
	}
	switch c := *req.Context.MaxCostPerRequest; {
	case c <= 0:
		return entity.BudgetFree
	case c <= 0.001:
		return entity.BudgetLow
	case c <= 0.01:
		return entity.BudgetMedium
	default:
		return entity.BudgetHigh
	}
}

func SpeedFor(req entity.GenerateRequest) entity.SpeedPreference {
	if req.Context == nil || req.Context.QualityOverSpeed == nil {
		return entity.PreferBalanced
	}
	if *req.Context.QualityOverSpeed {
		return entity.PreferQuality
	}
	return entity.PreferSpeed
}

// estimateTokens is a rough 4-characters-per-token estimate.
func estimateTokens(messages []entity.Message) int {
	n := 0
	for _, m := range messages {
		n += len(m.Content)
	}
	return n / 4
}

func recommendationFilter(req entity.GenerateRequest) entity.RecommendationFilter {
	return entity.RecommendationFilter{
		Task:          ClassifyTask(req),
		Budget:        BudgetFor(req),
		Speed:         SpeedFor(req),
		ContextLength: estimateTokens(req.Messages),
	}
}

// Selector picks the first model to attempt for a request.
type Selector struct {
	catalog  repository.ModelCatalog
	health   *HealthTracker
	sessions repository.SessionStore
	strategy entity.Strategy
}

func NewSelector(catalog repository.ModelCatalog, health *HealthTracker, sessions repository.SessionStore, strategy entity.Strategy) *Selector {
	if strategy == "" {
		strategy = entity.StrategyPerformanceFirst
	}
	return &Selector{catalog: catalog, health: health, sessions: sessions, strategy: strategy}
}

func (s *Selector) Strategy() entity.Strategy {
	return s.strategy
}

// Select returns the caller's model when it exists and its provider is healthy,
// otherwise the best filtered catalog recommendation.
func (s *Selector) Select(ctx context.Context, req entity.GenerateRequest) (entity.ModelInfo, error) {
	if req.Model != "" {
		if m, ok := s.catalog.ModelByID(req.Model); ok && s.health.IsHealthy(m.Provider) {
			return m, nil
		}
		log.WithField("model", req.Model).Info("requested model unavailable or unhealthy, selecting by task")
	}

	providers := s.catalog.ProviderIDs()
	all, err := s.catalog.ModelsByFilter(ctx, entity.ModelFilter{})
	if err != nil {
		return entity.ModelInfo{}, fmt.Errorf("failed to list catalog models: %w", err)
	}
	if len(providers) == 0 || len(all) == 0 {
		return entity.ModelInfo{}, entity.ErrNoProvidersConfigured
	}

	filter := recommendationFilter(req)
	recs, err := s.catalog.Recommendations(ctx, filter)
	if err != nil {
		return entity.ModelInfo{}, fmt.Errorf("failed to get model recommendations: %w", err)
	}

	var preferred []string
	var ceiling *float64
	if req.Context != nil {
		preferred = req.Context.PreferredProviders
		ceiling = req.Context.MaxCostPerRequest
	}

	diag := &entity.SelectionError{
		Task:            filter.Task,
		Budget:          filter.Budget,
		Providers:       len(providers),
		Recommendations: len(recs),
	}
	viable := make([]entity.ModelInfo, 0, len(recs))
	for _, rec := range recs {
		m := rec.Model
		healthy := s.health.IsHealthy(m.Provider)
		isPreferred := len(preferred) == 0 || slices.Contains(preferred, m.Provider)
		affordable := ceiling == nil || m.Cost.Input <= *ceiling
		if healthy {
			diag.Healthy++
		}
		if isPreferred {
			diag.Preferred++
		}
		if affordable {
			diag.Affordable++
		}
		if healthy && isPreferred && affordable {
			viable = append(viable, m)
		}
	}
	if len(viable) == 0 {
		return entity.ModelInfo{}, diag
	}

	return s.pick(ctx, req, viable), nil
}

func (s *Selector) pick(ctx context.Context, req entity.GenerateRequest, viable []entity.ModelInfo) entity.ModelInfo {
	switch s.strategy {
	case entity.StrategyCostOptimized:
		best := viable[0]
		for _, m := range viable[1:] {
			if m.Cost.Input < best.Cost.Input {
				best = m
			}
		}
		return best
	case entity.StrategyProviderDiversity:
		last := s.lastProvider(ctx, req)
		for _, m := range viable {
			if m.Provider != last {
				return m
			}
		}
		return viable[0]
	default:
		return viable[0]
	}
}

func (s *Selector) lastProvider(ctx context.Context, req entity.GenerateRequest) string {
	key := req.SessionKey()
	if key == "" || s.sessions == nil {
		return ""
	}
	p, err := s.sessions.LastProvider(ctx, key)
	if err != nil {
		log.WithError(err).WithField("session", key).Warn("failed to read last provider for session")
		return ""
	}
	return p
}
