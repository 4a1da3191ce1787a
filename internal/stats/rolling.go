package stats

import (
	"math"
	"sort"
)

// RollingStats keeps the last capacity samples in arrival order.
type RollingStats struct {
	capacity int
	buf      []float64
}

func NewRollingStats(capacity int) *RollingStats {
	if capacity <= 0 {
		capacity = 1
	}
	return &RollingStats{capacity: capacity, buf: make([]float64, 0, capacity)}
}

// Push appends v, evicting the oldest sample when full. NaN and Inf are dropped.
func (r *RollingStats) Push(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	if len(r.buf) < r.capacity {
		r.buf = append(r.buf, v)
		return
	}
	copy(r.buf, r.buf[1:])
	r.buf[len(r.buf)-1] = v
}

func (r *RollingStats) Len() int {
	return len(r.buf)
}

func (r *RollingStats) Cap() int {
	return r.capacity
}

// Values returns a copy of the buffer, oldest first.
func (r *RollingStats) Values() []float64 {
	out := make([]float64, len(r.buf))
	copy(out, r.buf)
	return out
}

func (r *RollingStats) Last() (float64, bool) {
	if len(r.buf) == 0 {
		return 0, false
	}
	return r.buf[len(r.buf)-1], true
}

func (r *RollingStats) Mean() float64 {
	return Mean(r.buf)
}

// StdDev is the population standard deviation.
func (r *RollingStats) StdDev() float64 {
	return StdDev(r.buf)
}

func (r *RollingStats) Min() float64 {
	if len(r.buf) == 0 {
		return 0
	}
	m := r.buf[0]
	for _, v := range r.buf[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func (r *RollingStats) Max() float64 {
	if len(r.buf) == 0 {
		return 0
	}
	m := r.buf[0]
	for _, v := range r.buf[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// Spread is Max-Min.
func (r *RollingStats) Spread() float64 {
	return r.Max() - r.Min()
}

func (r *RollingStats) Median() float64 {
	return Median(r.buf)
}

// FractionBelow reports the share of samples strictly below threshold.
func (r *RollingStats) FractionBelow(threshold float64) float64 {
	if len(r.buf) == 0 {
		return 0
	}
	n := 0
	for _, v := range r.buf {
		if v < threshold {
			n++
		}
	}
	return float64(n) / float64(len(r.buf))
}

// Reset empties the buffer in place.
func (r *RollingStats) Reset() {
	r.buf = r.buf[:0]
}

func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the population standard deviation using Welford's update.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var n int
	var mean, m2 float64
	for _, v := range values {
		n++
		diff := v - mean
		mean += diff / float64(n)
		m2 += diff * (v - mean)
	}
	variance := m2 / float64(n)
	if variance < 0 {
		return 0
	}
	return math.Sqrt(variance)
}

func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
