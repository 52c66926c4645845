package api

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/nidhogg/pastoralscape/internal/sim"
)

// Results caches completed run output in memory. It is registered with the
// runner as a sink.
type Results struct {
	cache *cache.Cache
}

// NewResults creates a result cache whose entries expire after ttl.
func NewResults(ttl time.Duration) *Results {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Results{cache: cache.New(ttl, ttl/2)}
}

// Name implements orchestrator.Sink.
func (r *Results) Name() string { return "cache" }

// Consume implements orchestrator.Sink.
func (r *Results) Consume(_ context.Context, out *sim.Output) error {
	r.cache.Set(out.RunID, out, cache.DefaultExpiration)
	return nil
}

// Get returns a cached run.
func (r *Results) Get(runID string) (*sim.Output, bool) {
	v, found := r.cache.Get(runID)
	if !found {
		return nil, false
	}
	out, ok := v.(*sim.Output)
	return out, ok
}

// Len returns the number of cached runs.
func (r *Results) Len() int {
	return r.cache.ItemCount()
}
