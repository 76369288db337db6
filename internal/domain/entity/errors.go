package entity

import (
	"errors"
	"fmt"
	"strings"
)

// Standard domain errors
var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded: too many tokens used")
	ErrInvalidRequest    = errors.New("invalid request parameters")
	ErrProviderNotFound  = errors.New("provider not registered")

	// ErrNoProvidersConfigured means the catalog is empty, not that providers are down.
	ErrNoProvidersConfigured = errors.New("no providers configured: add at least one provider and model to the model catalog (MODELS_FILE) and set its API key")
)

// SelectionError is returned when candidates exist but none survives the
// health, preference and affordability filters.
type SelectionError struct {
	Task            TaskType
	Budget          BudgetTier
	Providers       int
	Recommendations int
	Healthy         int
	Preferred       int
	Affordable      int
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf(
		"no suitable model: 0 viable candidates for task %q (budget %s): providers configured=%d, recommendations=%d, passing health=%d, passing preference=%d, passing affordability=%d",
		e.Task, e.Budget, e.Providers, e.Recommendations, e.Healthy, e.Preferred, e.Affordable,
	)
}

// FallbackError is returned when every candidate in the fallback chain failed.
type FallbackError struct {
	Attempted []string
	LastErr   error
	// Aborted is set when a non-retryable failure stopped the chain early.
	Aborted bool
	// Cancelled is set when the caller's context ended the chain.
	Cancelled bool
}

func (e *FallbackError) Error() string {
	msg := "no error recorded"
	if e.LastErr != nil {
		msg = e.LastErr.Error()
	}
	prefix := "all models failed"
	switch {
	case e.Cancelled:
		prefix = "fallback stopped by caller context"
	case e.Aborted:
		prefix = "fallback aborted on non-retryable error"
	}
	return fmt.Sprintf("%s (attempted: %s): %s", prefix, strings.Join(e.Attempted, ", "), msg)
}

func (e *FallbackError) Unwrap() error {
	return e.LastErr
}

// ProviderError is a generation failure reported by a provider adapter.
type ProviderError struct {
	Provider   string
	Model      string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s/%s: status %d: %v", e.Provider, e.Model, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s/%s: %v", e.Provider, e.Model, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the fallback chain may continue after err.
// Errors that are not ProviderErrors are treated as transient.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return true
}

// RetryableStatus classifies an upstream HTTP status.
// Rate limits, timeouts, auth and server errors may succeed on another model;
// malformed requests will not.
func RetryableStatus(code int) bool {
	switch code {
	case 400, 413, 422:
		return false
	}
	return true
}
