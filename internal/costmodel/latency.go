package costmodel

import (
	"math/rand/v2"
	"sync"
	"time"
)

// LatencySampler supplies the latency figure attached to each estimate.
type LatencySampler interface {
	SampleMs(receivedAt time.Time) float64
}

// RandomLatency is the placeholder used with the synthetic feed: a value in
// [2,7) ms that does not measure anything.
type RandomLatency struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomLatency returns a sampler seeded from seed.
func NewRandomLatency(seed uint64) *RandomLatency {
	return &RandomLatency{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// SampleMs ignores receivedAt.
func (r *RandomLatency) SampleMs(time.Time) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return 2 + r.rng.Float64()*5
}

// MeasuredLatency reports the wall time from ingestion to now.
type MeasuredLatency struct {
	Now func() time.Time
}

// SampleMs returns 0 when receivedAt is unknown.
func (m MeasuredLatency) SampleMs(receivedAt time.Time) float64 {
	if receivedAt.IsZero() {
		return 0
	}
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	d := now().Sub(receivedAt)
	if d < 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
