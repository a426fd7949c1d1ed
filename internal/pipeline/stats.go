package pipeline

import (
	"math"
	"sort"
	"time"

	"github.com/alanyoungcy/tradesim/internal/domain"
)

// DefaultWindowSize is the number of trailing latency samples kept for the
// windowed average and percentiles.
const DefaultWindowSize = 100

// Stats accumulates the counters of one session. It is owned by the pipeline
// loop and not safe for concurrent use.
type Stats struct {
	s      domain.PerformanceStats
	window []float64
	next   int
	filled int
}

// NewStats starts an empty session. MinLatencyMs starts at +Inf.
func NewStats(sessionID string, startedAt time.Time, windowSize int) *Stats {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Stats{
		s: domain.PerformanceStats{
			SessionID:    sessionID,
			StartedAt:    startedAt,
			MinLatencyMs: math.Inf(1),
		},
		window: make([]float64, windowSize),
	}
}

// RecordUpdate counts one snapshot with its latency. Non-finite or negative
// latencies count as 0.
func (st *Stats) RecordUpdate(latencyMs float64) {
	if !(latencyMs >= 0) || math.IsInf(latencyMs, 1) {
		latencyMs = 0
	}
	st.s.TotalUpdates++
	st.s.TotalLatencyMs += latencyMs
	st.s.MaxLatencyMs = math.Max(st.s.MaxLatencyMs, latencyMs)
	st.s.MinLatencyMs = math.Min(st.s.MinLatencyMs, latencyMs)

	st.window[st.next] = latencyMs
	st.next = (st.next + 1) % len(st.window)
	if st.filled < len(st.window) {
		st.filled++
	}
}

func (st *Stats) RecordError()     { st.s.ErrorCount++ }
func (st *Stats) RecordReconnect() { st.s.ReconnectCount++ }

// Snapshot returns the counters together with the window statistics.
func (st *Stats) Snapshot() domain.PerformanceStats {
	out := st.s
	out.WindowSize = st.filled
	if st.filled == 0 {
		return out
	}

	samples := make([]float64, st.filled)
	copy(samples, st.window[:st.filled])
	sort.Float64s(samples)

	var sum float64
	for _, v := range samples {
		sum += v
	}
	out.WindowAvgMs = sum / float64(len(samples))
	out.WindowP50Ms = percentile(samples, 50)
	out.WindowP99Ms = percentile(samples, 99)
	return out
}

// percentile uses the nearest-rank method on sorted samples.
func percentile(sorted []float64, p float64) float64 {
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
