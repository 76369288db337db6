package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthThreshold(t *testing.T) {
	h := NewHealthTracker(nil)

	h.RecordFailure("openai", errTransient)
	h.RecordFailure("openai", errTransient)
	assert.True(t, h.IsHealthy("openai"), "two failures stay healthy")

	h.RecordFailure("openai", errTransient)
	assert.False(t, h.IsHealthy("openai"), "third failure marks unhealthy")
	assert.Equal(t, 3, h.Status("openai").ErrorCount)

	h.RecordSuccess("openai", 0)
	st := h.Status("openai")
	assert.True(t, st.Healthy, "one success restores health")
	assert.Equal(t, 2, st.ErrorCount)
}

func TestHealthSuccessNeverGoesNegative(t *testing.T) {
	h := NewHealthTracker(nil)
	h.RecordSuccess("google", 0)
	h.RecordSuccess("google", 0)
	assert.Equal(t, 0, h.Status("google").ErrorCount)
}

func TestHealthUnknownProviderIsHealthy(t *testing.T) {
	h := NewHealthTracker(nil)
	assert.True(t, h.IsHealthy("never-seen"))
	st := h.Status("never-seen")
	assert.True(t, st.Healthy)
	assert.Zero(t, st.ErrorCount)
	assert.Empty(t, h.Snapshot())
}

func TestHealthLatencyAverage(t *testing.T) {
	clock := newFakeClock()
	h := NewHealthTracker(clock.Now)

	h.RecordSuccess("local", 100*time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, h.Status("local").AvgLatency)

	h.RecordSuccess("local", 200*time.Millisecond)
	assert.Equal(t, 120*time.Millisecond, h.Status("local").AvgLatency)

	h.RecordSuccess("local", 0)
	assert.Equal(t, 120*time.Millisecond, h.Status("local").AvgLatency)
	assert.Equal(t, clock.Now(), h.Status("local").LastChecked)
}

func TestHealthProbe(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.health = map[string]bool{"up": true, "down": false}
	h := NewHealthTracker(nil)

	for i := 0; i < UnhealthyThreshold; i++ {
		h.Probe(context.Background(), catalog)
	}

	assert.True(t, h.IsHealthy("up"))
	assert.False(t, h.IsHealthy("down"))
	assert.Len(t, h.Snapshot(), 2)
}

func TestHealthStartProbeAndStop(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.health = map[string]bool{"down": false}
	h := NewHealthTracker(nil)

	h.StartProbe(context.Background(), catalog, 5*time.Millisecond)
	h.StartProbe(context.Background(), catalog, 5*time.Millisecond) // second start is a no-op

	require.Eventually(t, func() bool { return !h.IsHealthy("down") }, 2*time.Second, 5*time.Millisecond)

	h.Stop()
	probes := catalog.probes()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, probes, catalog.probes(), "no probes after Stop")

	h.Stop()
}
