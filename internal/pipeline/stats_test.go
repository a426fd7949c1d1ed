package pipeline

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStats_Initial(t *testing.T) {
	st := NewStats("s1", time.Unix(0, 0), 0)
	snap := st.Snapshot()
	assert.Equal(t, "s1", snap.SessionID)
	assert.True(t, math.IsInf(snap.MinLatencyMs, 1))
	assert.False(t, snap.HasMinLatency())
	assert.Zero(t, snap.AverageLatencyMs())
	assert.Zero(t, snap.WindowSize)
}

func TestStats_CountersNeverDecrease(t *testing.T) {
	st := NewStats("s", time.Now(), 10)
	prev := st.Snapshot()
	for i := 0; i < 50; i++ {
		switch i % 5 {
		case 3:
			st.RecordError()
		case 4:
			st.RecordReconnect()
		default:
			st.RecordUpdate(float64((i * 7) % 13))
		}
		cur := st.Snapshot()
		assert.GreaterOrEqual(t, cur.TotalUpdates, prev.TotalUpdates)
		assert.GreaterOrEqual(t, cur.TotalLatencyMs, prev.TotalLatencyMs)
		assert.GreaterOrEqual(t, cur.MaxLatencyMs, prev.MaxLatencyMs)
		assert.LessOrEqual(t, cur.MinLatencyMs, prev.MinLatencyMs)
		assert.GreaterOrEqual(t, cur.ErrorCount, prev.ErrorCount)
		assert.GreaterOrEqual(t, cur.ReconnectCount, prev.ReconnectCount)
		prev = cur
	}
	assert.Equal(t, int64(30), prev.TotalUpdates)
	assert.Equal(t, int64(10), prev.ErrorCount)
	assert.Equal(t, int64(10), prev.ReconnectCount)
}

func TestStats_Window(t *testing.T) {
	st := NewStats("s", time.Now(), DefaultWindowSize)
	for i := 1; i <= 150; i++ {
		st.RecordUpdate(float64(i))
	}
	snap := st.Snapshot()
	assert.Equal(t, int64(150), snap.TotalUpdates)
	assert.Equal(t, 100, snap.WindowSize)
	assert.Equal(t, 150.0, snap.MaxLatencyMs)
	assert.Equal(t, 1.0, snap.MinLatencyMs)
	assert.InDelta(t, 75.5, snap.AverageLatencyMs(), 1e-9)

	// Window holds 51..150.
	assert.InDelta(t, 100.5, snap.WindowAvgMs, 1e-9)
	assert.Equal(t, 100.0, snap.WindowP50Ms)
	assert.Equal(t, 149.0, snap.WindowP99Ms)
}

func TestStats_BadLatencyCountsAsZero(t *testing.T) {
	st := NewStats("s", time.Now(), 5)
	st.RecordUpdate(math.NaN())
	st.RecordUpdate(-3)
	st.RecordUpdate(math.Inf(1))
	snap := st.Snapshot()
	assert.Equal(t, int64(3), snap.TotalUpdates)
	assert.Zero(t, snap.TotalLatencyMs)
	assert.Zero(t, snap.MinLatencyMs)
}
