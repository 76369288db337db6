package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"model-router/internal/domain/repository"
	"model-router/internal/metrics"

	log "github.com/sirupsen/logrus"
)

const (
	// UnhealthyThreshold is the error count at which a provider is taken out of rotation.
	UnhealthyThreshold = 3

	DefaultProbeInterval = 5 * time.Minute

	latencyAlpha = 0.2
)

var errProbeFailed = errors.New("health probe reported provider down")

// ProviderHealth is the rolling health record of one provider.
type ProviderHealth struct {
	Provider    string        `json:"provider"`
	Healthy     bool          `json:"healthy"`
	ErrorCount  int           `json:"error_count"`
	LastChecked time.Time     `json:"last_checked"`
	AvgLatency  time.Duration `json:"avg_latency_ns"`
}

// HealthTracker keeps per-provider health owned by a single router instance.
type HealthTracker struct {
	mu       sync.RWMutex
	statuses map[string]*ProviderHealth
	now      func() time.Time

	probeMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewHealthTracker(now func() time.Time) *HealthTracker {
	if now == nil {
		now = time.Now
	}
	return &HealthTracker{
		statuses: make(map[string]*ProviderHealth),
		now:      now,
	}
}

// IsHealthy treats providers without a record as healthy.
func (h *HealthTracker) IsHealthy(provider string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st, ok := h.statuses[provider]
	return !ok || st.Healthy
}

// RecordSuccess decrements the error counter (never below zero) and marks the provider healthy.
// A zero latency leaves the rolling average untouched.
func (h *HealthTracker) RecordSuccess(provider string, latency time.Duration) {
	h.mu.Lock()
	st := h.entry(provider)
	if st.ErrorCount > 0 {
		st.ErrorCount--
	}
	st.Healthy = true
	st.LastChecked = h.now()
	if latency > 0 {
		if st.AvgLatency == 0 {
			st.AvgLatency = latency
		} else {
			st.AvgLatency = time.Duration(latencyAlpha*float64(latency) + (1-latencyAlpha)*float64(st.AvgLatency))
		}
	}
	h.mu.Unlock()

	metrics.ProviderHealthy.WithLabelValues(provider).Set(1)
}

// RecordFailure increments the error counter; the provider turns unhealthy at UnhealthyThreshold.
func (h *HealthTracker) RecordFailure(provider string, err error) {
	h.mu.Lock()
	st := h.entry(provider)
	st.ErrorCount++
	st.LastChecked = h.now()
	wasHealthy := st.Healthy
	if st.ErrorCount >= UnhealthyThreshold {
		st.Healthy = false
	}
	healthy, count := st.Healthy, st.ErrorCount
	h.mu.Unlock()

	if wasHealthy && !healthy {
		log.WithError(err).WithFields(log.Fields{
			"provider":    provider,
			"error_count": count,
		}).Warn("provider marked unhealthy")
	}
	if !healthy {
		metrics.ProviderHealthy.WithLabelValues(provider).Set(0)
	} else {
		metrics.ProviderHealthy.WithLabelValues(provider).Set(1)
	}
}

// Status returns a copy of the provider's record, or a healthy zero record if none exists.
func (h *HealthTracker) Status(provider string) ProviderHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if st, ok := h.statuses[provider]; ok {
		return *st
	}
	return ProviderHealth{Provider: provider, Healthy: true}
}

func (h *HealthTracker) Snapshot() map[string]ProviderHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]ProviderHealth, len(h.statuses))
	for k, v := range h.statuses {
		out[k] = *v
	}
	return out
}

// entry must be called with h.mu held.
func (h *HealthTracker) entry(provider string) *ProviderHealth {
	st, ok := h.statuses[provider]
	if !ok {
		st = &ProviderHealth{Provider: provider, Healthy: true}
		h.statuses[provider] = st
	}
	return st
}

// Probe queries the catalog's health snapshot once and feeds every result
// through the same path as organic successes and failures.
func (h *HealthTracker) Probe(ctx context.Context, catalog repository.ModelCatalog) {
	results, err := catalog.ProviderHealth(ctx)
	if err != nil {
		log.WithError(err).Warn("provider health probe failed")
		return
	}
	for provider, ok := range results {
		if ok {
			h.RecordSuccess(provider, 0)
		} else {
			h.RecordFailure(provider, errProbeFailed)
		}
	}
	log.Debugf("health probe checked %d providers", len(results))
}

// StartProbe runs Probe every interval until ctx is cancelled or Stop is called.
func (h *HealthTracker) StartProbe(ctx context.Context, catalog repository.ModelCatalog, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}

	h.probeMu.Lock()
	defer h.probeMu.Unlock()
	if h.cancel != nil {
		return
	}
	probeCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-probeCtx.Done():
				return
			case <-ticker.C:
				h.Probe(probeCtx, catalog)
			}
		}
	}(h.done)
}

// Stop cancels the probe loop and waits for it to exit.
func (h *HealthTracker) Stop() {
	h.probeMu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.probeMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Warn("health probe stop timed out waiting for loop")
	}
}
