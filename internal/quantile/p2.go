// Package quantile implements the P² streaming quantile estimator: five
// height and position markers approximate a single target quantile in O(1)
// space, independent of how many samples have been observed.
package quantile

import (
	"math"
	"sort"
	"sync"
)

const markerCount = 5

type Estimator struct {
	mu        sync.Mutex
	p         float64
	count     int64
	warm      []float64
	heights   [markerCount]float64
	positions [markerCount]float64
	desired   [markerCount]float64
	increment [markerCount]float64
}

// NewEstimator tracks the target quantile p, clamped into (0,1).
func NewEstimator(p float64) *Estimator {
	if p <= 0 {
		p = 0.5
	}
	if p >= 1 {
		p = 0.99
	}
	return &Estimator{p: p, warm: make([]float64, 0, markerCount)}
}

func (e *Estimator) Quantile() float64 {
	return e.p
}

func (e *Estimator) Count() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

func (e *Estimator) Update(value float64) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.count++

	if e.count <= markerCount {
		e.warm = append(e.warm, value)
		if e.count == markerCount {
			e.initMarkers()
		}
		return
	}

	k := e.locateCell(value)
	for i := k + 1; i < markerCount; i++ {
		e.positions[i]++
	}
	for i := 0; i < markerCount; i++ {
		e.desired[i] += e.increment[i]
	}
	e.adjustInterior()
}

// Estimate returns the current approximation of the target quantile. During
// warm-up it is the empirical quantile of the buffered samples.
func (e *Estimator) Estimate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.count == 0 {
		return 0
	}
	if e.count < markerCount {
		buf := append([]float64(nil), e.warm...)
		sort.Float64s(buf)
		idx := int(math.Round(e.p * float64(len(buf)-1)))
		return buf[idx]
	}
	return e.heights[2]
}

func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.count = 0
	e.warm = e.warm[:0]
}

func (e *Estimator) initMarkers() {
	sort.Float64s(e.warm)
	for i := 0; i < markerCount; i++ {
		e.heights[i] = e.warm[i]
		e.positions[i] = float64(i + 1)
	}
	// Desired positions per Jain & Chlamtac with n = 5 observations:
	// 1, 1+2p, 1+4p, 3+2p, 5.
	e.desired = [markerCount]float64{1, 1 + 2*e.p, 1 + 4*e.p, 3 + 2*e.p, 5}
	e.increment = [markerCount]float64{0, e.p / 2, e.p, (1 + e.p) / 2, 1}
}

// locateCell clamps the value into the marker range and returns the index k
// of the cell [heights[k], heights[k+1]) containing it.
func (e *Estimator) locateCell(value float64) int {
	switch {
	case value < e.heights[0]:
		e.heights[0] = value
		return 0
	case value >= e.heights[markerCount-1]:
		e.heights[markerCount-1] = value
		return markerCount - 2
	default:
		for i := 0; i < markerCount-1; i++ {
			if value < e.heights[i+1] {
				return i
			}
		}
		return markerCount - 2
	}
}

func (e *Estimator) adjustInterior() {
	for i := 1; i < markerCount-1; i++ {
		d := e.desired[i] - e.positions[i]
		right := e.positions[i+1] - e.positions[i]
		left := e.positions[i-1] - e.positions[i]
		var sign float64
		switch {
		case d >= 1 && right > 1:
			sign = 1
		case d <= -1 && left < -1:
			sign = -1
		default:
			continue
		}
		h := e.parabolic(i, sign)
		if h <= e.heights[i-1] || h >= e.heights[i+1] {
			h = e.linear(i, sign)
		}
		e.heights[i] = h
		e.positions[i] += sign
	}
}

func (e *Estimator) parabolic(i int, sign float64) float64 {
	span := e.positions[i+1] - e.positions[i-1]
	if span == 0 {
		return e.heights[i]
	}
	rightGap := e.positions[i+1] - e.positions[i]
	leftGap := e.positions[i] - e.positions[i-1]
	if rightGap == 0 || leftGap == 0 {
		return e.heights[i]
	}
	a := (e.positions[i] - e.positions[i-1] + sign) * (e.heights[i+1] - e.heights[i]) / rightGap
	b := (e.positions[i+1] - e.positions[i] - sign) * (e.heights[i] - e.heights[i-1]) / leftGap
	return e.heights[i] + sign/span*(a+b)
}

func (e *Estimator) linear(i int, sign float64) float64 {
	j := i + int(sign)
	gap := e.positions[j] - e.positions[i]
	if gap == 0 {
		return e.heights[i]
	}
	return e.heights[i] + sign*(e.heights[j]-e.heights[i])/gap
}
