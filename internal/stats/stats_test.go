package stats

import (
	"math"
	"testing"
)

func TestRollingStatsKeepsLastValuesInOrder(t *testing.T) {
	r := NewRollingStats(3)
	for i := 1; i <= 7; i++ {
		r.Push(float64(i))
		if r.Len() > 3 {
			t.Fatalf("len %d exceeds capacity", r.Len())
		}
	}
	got := r.Values()
	want := []float64{5, 6, 7}
	if len(got) != len(want) {
		t.Fatalf("values: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("values: got %v want %v", got, want)
		}
	}
}

func TestRollingStatsPartialFill(t *testing.T) {
	r := NewRollingStats(5)
	r.Push(2)
	r.Push(4)
	if r.Len() != 2 {
		t.Fatalf("len: %d", r.Len())
	}
	if r.Mean() != 3 {
		t.Fatalf("mean: %v", r.Mean())
	}
	if r.StdDev() != 1 {
		t.Fatalf("population std: %v", r.StdDev())
	}
}

func TestRollingStatsEmpty(t *testing.T) {
	r := NewRollingStats(4)
	if r.Mean() != 0 || r.StdDev() != 0 || r.Median() != 0 || r.Spread() != 0 {
		t.Fatalf("empty buffer should report zeros")
	}
	if _, ok := r.Last(); ok {
		t.Fatalf("empty buffer has no last value")
	}
}

func TestRollingStatsDropsNaN(t *testing.T) {
	r := NewRollingStats(4)
	r.Push(1)
	r.Push(math.NaN())
	r.Push(math.Inf(1))
	if r.Len() != 1 || math.IsNaN(r.Mean()) {
		t.Fatalf("non-finite samples must be dropped, got %v", r.Values())
	}
}

func TestMedianAndFractionBelow(t *testing.T) {
	r := NewRollingStats(10)
	for _, v := range []float64{30, 31, 29, 90, 30} {
		r.Push(v)
	}
	if r.Median() != 30 {
		t.Fatalf("median: %v", r.Median())
	}
	if got := r.FractionBelow(30); got != 0.2 {
		t.Fatalf("fraction below: %v", got)
	}
	if r.Spread() != 61 {
		t.Fatalf("spread: %v", r.Spread())
	}
	r.Push(40)
	if r.Median() != 30.5 {
		t.Fatalf("even median: %v", r.Median())
	}
}

func TestEMAFixedPoint(t *testing.T) {
	for _, alpha := range []float64{0.01, 0.12, 0.5, 1} {
		if got := EMA(42, 42, alpha); got != 42 {
			t.Fatalf("ema(x,x,%v) = %v", alpha, got)
		}
	}
}

func TestSmootherConvergesMonotonically(t *testing.T) {
	s := NewSmoother(0.15)
	s.Update(0)
	prevGap := 100.0
	for i := 0; i < 200; i++ {
		v := s.Update(100)
		gap := 100 - v
		if gap < 0 || gap > prevGap {
			t.Fatalf("step %d: gap %v after %v", i, gap, prevGap)
		}
		prevGap = gap
	}
	if prevGap > 0.01 {
		t.Fatalf("did not converge, gap %v", prevGap)
	}
}

func TestSmootherSeedsOnFirstUpdate(t *testing.T) {
	s := NewSmoother(0.2)
	if s.Primed() {
		t.Fatalf("new smoother should not be primed")
	}
	if got := s.Update(60); got != 60 {
		t.Fatalf("first update: %v", got)
	}
	if got := s.Update(70); math.Abs(got-62) > 1e-9 {
		t.Fatalf("second update: %v", got)
	}
}

func TestLabelHistoryTransitionRate(t *testing.T) {
	h := NewLabelHistory(4)
	if h.TransitionRate() != 0 {
		t.Fatalf("empty history rate")
	}
	for _, l := range []string{"happy", "happy", "sad", "sad", "happy"} {
		h.Push(l)
	}
	// retained: happy sad sad happy
	if got := h.TransitionRate(); math.Abs(got-2.0/3.0) > 1e-9 {
		t.Fatalf("rate: %v", got)
	}
}
