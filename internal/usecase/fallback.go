package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"model-router/internal/domain/entity"
	"model-router/internal/domain/repository"
	"model-router/internal/metrics"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultMaxRetries     = 3
	DefaultAttemptTimeout = 60 * time.Second

	fallbackRecommendations = 3
	fallbackFreeModels      = 2
)

var errNoCandidates = errors.New("no candidate model could be resolved to a registered provider")

// ExecutionResult is the outcome of a successful fallback run.
type ExecutionResult struct {
	Response  *entity.ProviderResponse
	Model     entity.ModelInfo
	Usage     entity.Usage
	Cost      float64
	Attempted []string // models that failed before Model succeeded
	Latency   time.Duration
}

// FallbackExecutor tries candidate models strictly in order until one succeeds.
type FallbackExecutor struct {
	catalog        repository.ModelCatalog
	health         *HealthTracker
	maxRetries     int
	attemptTimeout time.Duration
}

func NewFallbackExecutor(catalog repository.ModelCatalog, health *HealthTracker, maxRetries int, attemptTimeout time.Duration) *FallbackExecutor {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	if attemptTimeout <= 0 {
		attemptTimeout = DefaultAttemptTimeout
	}
	return &FallbackExecutor{
		catalog:        catalog,
		health:         health,
		maxRetries:     maxRetries,
		attemptTimeout: attemptTimeout,
	}
}

// BuildFallbackList orders candidates: the caller's model, the caller's fallbacks,
// the selected model, top task recommendations, then free models. Models other
// than the selected one are left out while their provider is unhealthy.
// The list holds no duplicates and at most maxRetries+1 entries.
func (f *FallbackExecutor) BuildFallbackList(ctx context.Context, req entity.GenerateRequest, selected entity.ModelInfo) []string {
	limit := f.maxRetries + 1
	list := make([]string, 0, limit)
	add := func(id string) {
		if id == "" || len(list) >= limit || slices.Contains(list, id) {
			return
		}
		list = append(list, id)
	}

	addHealthy := func(id string) {
		if m, ok := f.catalog.ModelByID(id); ok && !f.health.IsHealthy(m.Provider) {
			return
		}
		add(id)
	}

	addHealthy(req.Model)
	for _, id := range req.FallbackModels {
		addHealthy(id)
	}
	add(selected.ID)

	if len(list) < limit {
		recs, err := f.catalog.Recommendations(ctx, recommendationFilter(req))
		if err != nil {
			log.WithError(err).Warn("failed to load recommendations for fallback list")
		}
		for i := 0; i < len(recs) && i < fallbackRecommendations; i++ {
			addHealthy(recs[i].Model.ID)
		}
	}

	if len(list) < limit {
		free, err := f.catalog.ModelsByFilter(ctx, entity.ModelFilter{FreeOnly: true})
		if err != nil {
			log.WithError(err).Warn("failed to load free models for fallback list")
		}
		added := 0
		for _, m := range free {
			if added == fallbackFreeModels {
				break
			}
			if n := len(list); !slices.Contains(list, m.ID) {
				addHealthy(m.ID)
				if len(list) > n {
					added++
				}
			}
		}
	}

	return list
}

// Execute attempts each candidate in order. Unknown models or providers are skipped.
// A non-retryable failure or a cancelled context ends the chain immediately.
func (f *FallbackExecutor) Execute(ctx context.Context, req entity.GenerateRequest, candidates []string) (*ExecutionResult, error) {
	var (
		attempted []string
		lastErr   error
	)

	for _, id := range candidates {
		model, ok := f.catalog.ModelByID(id)
		if !ok {
			log.WithField("model", id).Debug("fallback candidate not in catalog, skipping")
			continue
		}
		provider, ok := f.catalog.Provider(model.Provider)
		if !ok {
			log.WithFields(log.Fields{"model": id, "provider": model.Provider}).Debug("fallback candidate provider not registered, skipping")
			continue
		}

		start := time.Now()
		resp, err := f.attempt(ctx, provider, req, model)
		latency := time.Since(start)
		metrics.GenerationLatency.WithLabelValues(model.Provider).Observe(latency.Seconds())

		if err == nil {
			f.health.RecordSuccess(model.Provider, latency)
			usage := entity.Usage{}
			if resp.Usage != nil {
				usage = *resp.Usage
			}
			cost := model.Cost.Cost(usage)
			metrics.RequestCost.WithLabelValues(model.ID).Add(cost)
			return &ExecutionResult{
				Response:  resp,
				Model:     model,
				Usage:     usage,
				Cost:      cost,
				Attempted: attempted,
				Latency:   latency,
			}, nil
		}

		lastErr = err
		attempted = append(attempted, id)
		metrics.FallbackFailures.WithLabelValues(id, model.Provider).Inc()

		if ctxErr := ctx.Err(); ctxErr != nil {
			if !errors.Is(err, ctxErr) {
				err = fmt.Errorf("%w: %v", ctxErr, err)
			}
			return nil, &entity.FallbackError{Attempted: attempted, LastErr: err, Cancelled: true}
		}
		f.health.RecordFailure(model.Provider, err)

		if !entity.IsRetryable(err) {
			log.WithError(err).WithField("model", id).Warn("non-retryable generation failure, stopping fallback chain")
			return nil, &entity.FallbackError{Attempted: attempted, LastErr: err, Aborted: true}
		}
		log.WithError(err).WithField("model", id).Info("generation failed, trying next fallback model")
	}

	if lastErr == nil {
		lastErr = errNoCandidates
	}
	return nil, &entity.FallbackError{Attempted: attempted, LastErr: lastErr}
}

func (f *FallbackExecutor) attempt(ctx context.Context, provider repository.ModelProvider, req entity.GenerateRequest, model entity.ModelInfo) (*entity.ProviderResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.attemptTimeout)
	defer cancel()

	resp, err := provider.GenerateText(attemptCtx, toProviderRequest(req, model.ID))
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("%s returned an empty response", provider.ID())
	}
	return resp, nil
}

func toProviderRequest(req entity.GenerateRequest, model string) entity.ProviderRequest {
	messages := make([]entity.Message, len(req.Messages))
	copy(messages, req.Messages)
	return entity.ProviderRequest{
		Model:       model,
		Messages:    messages,
		Images:      req.Images,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
}
