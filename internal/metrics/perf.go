// Package metrics tracks per-pipeline latency and throughput without
// storing call history: an exponential moving average, a sliding
// min/max window and P² percentile estimators.
package metrics

import (
	"sync"

	"edgesentry/internal/bounded"
	"edgesentry/internal/quantile"
)

type Snapshot struct {
	TotalInferences uint64  `json:"total_inferences"`
	EMALatencyMs    float64 `json:"ema_latency_ms"`
	WindowMinMs     float64 `json:"window_min_ms"`
	WindowMaxMs     float64 `json:"window_max_ms"`
	P95Ms           float64 `json:"p95_ms"`
	P99Ms           float64 `json:"p99_ms"`
}

type Tracker struct {
	mu     sync.Mutex
	total  uint64
	ema    float64
	alpha  float64
	window *bounded.Ring[float64]
	p95    *quantile.Estimator
	p99    *quantile.Estimator
}

func NewTracker(alpha float64, windowSize int) *Tracker {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.2
	}
	if windowSize <= 0 {
		windowSize = 128
	}
	return &Tracker{
		alpha:  alpha,
		window: bounded.NewRing[float64](windowSize),
		p95:    quantile.NewEstimator(0.95),
		p99:    quantile.NewEstimator(0.99),
	}
}

func (t *Tracker) Observe(latencyMs float64) {
	if latencyMs < 0 {
		return
	}
	t.mu.Lock()
	t.total++
	if t.total == 1 {
		t.ema = latencyMs
	} else {
		t.ema = t.alpha*latencyMs + (1-t.alpha)*t.ema
	}
	t.window.Push(latencyMs)
	t.mu.Unlock()
	t.p95.Update(latencyMs)
	t.p99.Update(latencyMs)
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	snap := Snapshot{
		TotalInferences: t.total,
		EMALatencyMs:    t.ema,
	}
	values := t.window.Snapshot()
	t.mu.Unlock()
	if len(values) > 0 {
		min, max := values[0], values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		snap.WindowMinMs = min
		snap.WindowMaxMs = max
	}
	snap.P95Ms = t.p95.Estimate()
	snap.P99Ms = t.p99.Estimate()
	return snap
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	t.total = 0
	t.ema = 0
	t.window.Clear()
	t.mu.Unlock()
	t.p95.Reset()
	t.p99.Reset()
}
