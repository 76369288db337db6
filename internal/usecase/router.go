package usecase

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"model-router/internal/domain/entity"
	"model-router/internal/domain/repository"
	"model-router/internal/metrics"
	"model-router/internal/prompts"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultWriteBackTimeout = 5 * time.Second
	DefaultSharedTimeout    = 5 * time.Minute
)

// Collaborators are the router's external dependencies. Only Catalog is required.
type Collaborators struct {
	Catalog  repository.ModelCatalog
	Prompts  *prompts.Table
	Memory   repository.MemoryStore
	Search   repository.WebSearcher
	Sessions repository.SessionStore
}

// RouterOptions tunes the router. Start from DefaultRouterOptions; a zero
// MaxRetries means a single candidate per request.
type RouterOptions struct {
	Strategy         entity.Strategy
	MaxRetries       int
	AttemptTimeout   time.Duration
	CacheTTL         time.Duration
	CacheCapacity    int
	ProbeInterval    time.Duration
	WriteBackTimeout time.Duration
	// SharedTimeout bounds a deduplicated generation, which outlives any single caller.
	SharedTimeout time.Duration

	DisableDedup     bool
	DisableCacheRead bool

	// Now overrides the clock used by the cache and health tracker.
	Now func() time.Time
}

func DefaultRouterOptions() RouterOptions {
	return RouterOptions{
		Strategy:         entity.StrategyPerformanceFirst,
		MaxRetries:       DefaultMaxRetries,
		AttemptTimeout:   DefaultAttemptTimeout,
		CacheTTL:         DefaultCacheTTL,
		CacheCapacity:    DefaultCacheCapacity,
		ProbeInterval:    DefaultProbeInterval,
		WriteBackTimeout: DefaultWriteBackTimeout,
		SharedTimeout:    DefaultSharedTimeout,
	}
}

// EnhancedModelRouter routes generation requests across a pool of providers.
// All mutable state (health, cache, in-flight requests) belongs to the instance.
type EnhancedModelRouter struct {
	catalog  repository.ModelCatalog
	memory   repository.MemoryStore
	sessions repository.SessionStore

	pipeline *Pipeline
	selector *Selector
	executor *FallbackExecutor
	health   *HealthTracker
	cache    *ResponseCache
	inflight singleflight.Group

	opts RouterOptions
}

func NewEnhancedModelRouter(deps Collaborators, opts RouterOptions) *EnhancedModelRouter {
	if deps.Sessions == nil {
		deps.Sessions = NewMemorySessionStore()
	}
	if opts.WriteBackTimeout <= 0 {
		opts.WriteBackTimeout = DefaultWriteBackTimeout
	}
	if opts.SharedTimeout <= 0 {
		opts.SharedTimeout = DefaultSharedTimeout
	}

	health := NewHealthTracker(opts.Now)
	return &EnhancedModelRouter{
		catalog:  deps.Catalog,
		memory:   deps.Memory,
		sessions: deps.Sessions,
		pipeline: NewPipeline(deps.Prompts, deps.Memory, deps.Search),
		selector: NewSelector(deps.Catalog, health, deps.Sessions, opts.Strategy),
		executor: NewFallbackExecutor(deps.Catalog, health, opts.MaxRetries, opts.AttemptTimeout),
		health:   health,
		cache:    NewResponseCache(opts.CacheTTL, opts.CacheCapacity, opts.Now),
		opts:     opts,
	}
}

// Start launches the background health probe.
func (r *EnhancedModelRouter) Start(ctx context.Context) {
	log.WithFields(log.Fields{
		"strategy":  r.selector.Strategy(),
		"providers": len(r.catalog.ProviderIDs()),
	}).Info("router started")
	r.health.StartProbe(ctx, r.catalog, r.opts.ProbeInterval)
}

func (r *EnhancedModelRouter) Close() {
	r.health.Stop()
}

func (r *EnhancedModelRouter) Health() *HealthTracker {
	return r.health
}

func (r *EnhancedModelRouter) CacheStats() CacheStats {
	return r.cache.Stats()
}

// GenerateText answers req from the cache, from an identical in-flight request,
// or by running the pipeline, selection and fallback chain.
func (r *EnhancedModelRouter) GenerateText(ctx context.Context, req entity.GenerateRequest) (*entity.EnhancedGenerateResponse, error) {
	start := time.Now()
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: at least one message is required", entity.ErrInvalidRequest)
	}
	key := RequestFingerprint(req)

	if !r.opts.DisableCacheRead {
		if cached, ok := r.cache.Get(key); ok {
			cached.CacheHit = true
			cached.ProcessingTime = time.Since(start)
			metrics.RequestCount.WithLabelValues("text", "cache_hit").Inc()
			return cached, nil
		}
	}

	var (
		resp   *entity.EnhancedGenerateResponse
		err    error
		shared bool
	)
	if r.opts.DisableDedup {
		resp, err = r.generate(ctx, req, key)
	} else {
		resp, shared, err = r.generateShared(ctx, req, key)
	}
	if err != nil {
		metrics.RequestCount.WithLabelValues("text", "error").Inc()
		return nil, err
	}
	if shared {
		metrics.DedupShared.Inc()
	}

	resp.CacheHit = false
	resp.ProcessingTime = time.Since(start)
	metrics.RequestCount.WithLabelValues("text", "success").Inc()
	return resp, nil
}

// generateShared joins or starts the in-flight generation for key. The shared
// work runs detached from ctx so one caller leaving does not fail the others;
// each caller still stops waiting when its own ctx is done.
func (r *EnhancedModelRouter) generateShared(ctx context.Context, req entity.GenerateRequest, key string) (*entity.EnhancedGenerateResponse, bool, error) {
	ch := r.inflight.DoChan(key, func() (any, error) {
		sharedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.SharedTimeout)
		defer cancel()
		return r.generate(sharedCtx, req, key)
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		return res.Val.(*entity.EnhancedGenerateResponse).Clone(), res.Shared, nil
	}
}

func (r *EnhancedModelRouter) generate(ctx context.Context, req entity.GenerateRequest, key string) (*entity.EnhancedGenerateResponse, error) {
	logger := log.WithFields(log.Fields{"fingerprint": key, "requested_model": req.Model})

	enhanced, enrichment := r.pipeline.Enhance(ctx, req)

	selected, err := r.selector.Select(ctx, req)
	if err != nil {
		logger.WithError(err).Warn("model selection failed")
		return nil, err
	}

	candidates := r.executor.BuildFallbackList(ctx, req, selected)
	logger.Debugf("fallback chain: %s", strings.Join(candidates, " -> "))

	result, err := r.executor.Execute(ctx, enhanced, candidates)
	if err != nil {
		logger.WithError(err).Error("fallback chain exhausted")
		return nil, err
	}

	r.rememberProvider(ctx, req, result.Model.Provider)
	r.writeBack(ctx, req, result.Response.Content)

	resp := &entity.EnhancedGenerateResponse{
		Content:            result.Response.Content,
		ActualModel:        result.Model.ID,
		Provider:           result.Model.Provider,
		FallbacksAttempted: append([]string{}, result.Attempted...),
		Cost:               result.Cost,
		Usage:              result.Usage,
		ToolCalls:          result.Response.ToolCalls,
		Enrichment:         enrichment,
	}
	r.cache.Set(key, resp)

	logger.WithFields(log.Fields{
		"model":     resp.ActualModel,
		"provider":  resp.Provider,
		"fallbacks": len(resp.FallbacksAttempted),
		"cost":      resp.Cost,
	}).Info("generation completed")
	return resp, nil
}

// GenerateStream runs the same enhancement and selection as GenerateText and
// then streams from the selected model's provider. Errors are yielded, not swallowed.
func (r *EnhancedModelRouter) GenerateStream(ctx context.Context, req entity.GenerateRequest) (iter.Seq2[entity.StreamChunk, error], error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: at least one message is required", entity.ErrInvalidRequest)
	}

	enhanced, _ := r.pipeline.Enhance(ctx, req)

	selected, err := r.selector.Select(ctx, req)
	if err != nil {
		metrics.RequestCount.WithLabelValues("stream", "error").Inc()
		return nil, err
	}
	provider, ok := r.catalog.Provider(selected.Provider)
	if !ok {
		metrics.RequestCount.WithLabelValues("stream", "error").Inc()
		return nil, fmt.Errorf("%w: %s", entity.ErrProviderNotFound, selected.Provider)
	}

	preq := toProviderRequest(enhanced, selected.ID)
	return func(yield func(entity.StreamChunk, error) bool) {
		start := time.Now()
		var content strings.Builder
		for delta, err := range provider.GenerateStream(ctx, preq) {
			if err != nil {
				r.health.RecordFailure(selected.Provider, err)
				metrics.RequestCount.WithLabelValues("stream", "error").Inc()
				yield(entity.StreamChunk{Provider: selected.Provider, Model: selected.ID}, err)
				return
			}
			content.WriteString(delta.Text)
			chunk := entity.StreamChunk{
				Text:     delta.Text,
				Provider: selected.Provider,
				Model:    selected.ID,
				Metadata: delta.Metadata,
			}
			if !yield(chunk, nil) {
				return
			}
		}

		r.health.RecordSuccess(selected.Provider, time.Since(start))
		r.rememberProvider(ctx, req, selected.Provider)
		r.writeBack(ctx, req, content.String())
		metrics.RequestCount.WithLabelValues("stream", "success").Inc()
	}, nil
}

func (r *EnhancedModelRouter) rememberProvider(ctx context.Context, req entity.GenerateRequest, provider string) {
	key := req.SessionKey()
	if key == "" {
		return
	}
	if err := r.sessions.SetLastProvider(ctx, key, provider); err != nil {
		log.WithError(err).WithField("session", key).Warn("failed to record last provider")
	}
}

// writeBack appends the finished turn to the user's memory. Best effort.
func (r *EnhancedModelRouter) writeBack(ctx context.Context, req entity.GenerateRequest, answer string) {
	userID := req.UserID()
	if r.memory == nil || userID == "" {
		return
	}

	convID := req.Context.ConversationID
	if convID == "" {
		convID = uuid.NewString()
	}
	// Only the new turn is written; earlier turns were stored by earlier calls.
	var messages []entity.Message
	if last, ok := req.LastMessage(); ok && last.Role == entity.RoleUser {
		messages = append(messages, last)
	}
	messages = append(messages, entity.Message{Role: entity.RoleAssistant, Content: answer})

	wbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.WriteBackTimeout)
	defer cancel()
	if err := r.memory.StoreConversation(wbCtx, userID, entity.Conversation{ID: convID, Messages: messages}); err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("failed to store conversation in memory")
	}
}
