package quantile

import (
	"math"
	"sort"
	"testing"

	"edgesentry/internal/detrand"
)

func TestEstimateWarmup(t *testing.T) {
	e := NewEstimator(0.5)
	if e.Estimate() != 0 {
		t.Fatalf("empty estimator should report 0")
	}
	e.Update(3)
	e.Update(1)
	e.Update(2)
	got := e.Estimate()
	if got != 2 {
		t.Fatalf("warm-up median = %v, want 2", got)
	}
}

func TestP95UniformSample(t *testing.T) {
	e := NewEstimator(0.95)
	rng := detrand.New(42)
	samples := make([]float64, 0, 5000)
	for i := 0; i < 5000; i++ {
		v := rng.Float64() * 100
		samples = append(samples, v)
		e.Update(v)
	}
	sort.Float64s(samples)
	exact := samples[int(0.95*float64(len(samples)))]
	got := e.Estimate()
	if math.Abs(got-exact) > 5 {
		t.Fatalf("p95 estimate %v too far from exact %v", got, exact)
	}
}

func TestP99SkewedSample(t *testing.T) {
	e := NewEstimator(0.99)
	rng := detrand.New(7)
	samples := make([]float64, 0, 3000)
	for i := 0; i < 3000; i++ {
		// Squaring skews the distribution toward zero.
		u := rng.Float64()
		v := u * u * 50
		samples = append(samples, v)
		e.Update(v)
	}
	sort.Float64s(samples)
	exact := samples[int(0.99*float64(len(samples)))]
	got := e.Estimate()
	if math.Abs(got-exact) > 5 {
		t.Fatalf("p99 estimate %v too far from exact %v", got, exact)
	}
}

func TestConstantStream(t *testing.T) {
	e := NewEstimator(0.95)
	for i := 0; i < 100; i++ {
		e.Update(7)
	}
	if got := e.Estimate(); got != 7 {
		t.Fatalf("constant stream estimate = %v, want 7", got)
	}
}

func TestIgnoresNonFinite(t *testing.T) {
	e := NewEstimator(0.95)
	e.Update(math.NaN())
	e.Update(math.Inf(1))
	if e.Count() != 0 {
		t.Fatalf("non-finite samples should be dropped")
	}
}
