// Package telemetry exports pipeline state as Prometheus metrics.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/tradesim/internal/pipeline"
)

// UpdateFeed is the subscription side of the pipeline.
type UpdateFeed interface {
	Subscribe() (<-chan pipeline.Update, func())
}

// Collector turns pipeline updates into gauges, counters and a latency
// histogram on its own registry.
type Collector struct {
	reg *prometheus.Registry

	netCost      prometheus.Gauge
	slippage     prometheus.Gauge
	impact       prometheus.Gauge
	feesUSD      prometheus.Gauge
	makerPct     prometheus.Gauge
	connected    prometheus.Gauge
	sessionStats *prometheus.GaugeVec
	updates      prometheus.Counter
	recomputes   prometheus.Counter
	latency      prometheus.Histogram

	lastSeq      uint64
	lastComputed time.Time
	lastUpdates  int64
	lastSession  string
}

// NewCollector creates a Collector with Go runtime and process collectors
// registered next to the tradesim metrics.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		reg: reg,
		netCost: f.NewGauge(prometheus.GaugeOpts{
			Name: "tradesim_net_cost_pct",
			Help: "Latest estimated net cost as a percentage of notional",
		}),
		slippage: f.NewGauge(prometheus.GaugeOpts{
			Name: "tradesim_slippage_pct",
			Help: "Latest estimated slippage as a percentage",
		}),
		impact: f.NewGauge(prometheus.GaugeOpts{
			Name: "tradesim_market_impact_pct",
			Help: "Latest estimated market impact as a percentage",
		}),
		feesUSD: f.NewGauge(prometheus.GaugeOpts{
			Name: "tradesim_fees_usd",
			Help: "Latest estimated fees in quote currency",
		}),
		makerPct: f.NewGauge(prometheus.GaugeOpts{
			Name: "tradesim_maker_pct",
			Help: "Latest predicted maker share of the fill",
		}),
		connected: f.NewGauge(prometheus.GaugeOpts{
			Name: "tradesim_feed_connected",
			Help: "1 while the snapshot source is connected",
		}),
		sessionStats: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tradesim_session_count",
			Help: "Counters of the current feed session",
		}, []string{"counter"}),
		updates: f.NewCounter(prometheus.CounterOpts{
			Name: "tradesim_feed_updates_total",
			Help: "Snapshots processed across all sessions",
		}),
		recomputes: f.NewCounter(prometheus.CounterOpts{
			Name: "tradesim_recomputes_total",
			Help: "Estimates computed",
		}),
		latency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradesim_processing_latency_ms",
			Help:    "Per-estimate processing latency in milliseconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250},
		}),
	}
}

// Registry returns the registry the collector writes to.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// Run observes updates until ctx is cancelled.
func (c *Collector) Run(ctx context.Context, feed UpdateFeed) error {
	updates, cancel := feed.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-updates:
			c.Observe(u)
		}
	}
}

// Observe records one update. It must not be called concurrently.
func (c *Collector) Observe(u pipeline.Update) {
	if u.Seq != 0 && u.Seq <= c.lastSeq {
		return
	}
	c.lastSeq = u.Seq

	m := u.Metrics
	c.netCost.Set(m.NetCostPct)
	c.slippage.Set(m.SlippagePct)
	c.impact.Set(m.MarketImpactPct)
	c.feesUSD.Set(m.FeesUSD)
	c.makerPct.Set(m.MakerPct)
	if u.Status.Connected {
		c.connected.Set(1)
	} else {
		c.connected.Set(0)
	}

	if !m.ComputedAt.IsZero() && m.ComputedAt.After(c.lastComputed) {
		c.lastComputed = m.ComputedAt
		c.recomputes.Inc()
		c.latency.Observe(m.LatencyMs)
	}

	// Session counters restart at zero; only the growth within one session
	// is added to the lifetime counter.
	st := u.Stats
	if st.SessionID != c.lastSession {
		c.lastSession = st.SessionID
		c.lastUpdates = 0
	}
	if delta := st.TotalUpdates - c.lastUpdates; delta > 0 {
		c.updates.Add(float64(delta))
		c.lastUpdates = st.TotalUpdates
	}
	c.sessionStats.WithLabelValues("updates").Set(float64(st.TotalUpdates))
	c.sessionStats.WithLabelValues("errors").Set(float64(st.ErrorCount))
	c.sessionStats.WithLabelValues("reconnects").Set(float64(st.ReconnectCount))
}
