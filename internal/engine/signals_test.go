package engine

import (
	"errors"
	"math"
	"testing"
	"time"

	"facesignal/internal/config"
	"facesignal/internal/model"
	"facesignal/internal/stats"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func blinkRunRate(t *testing.T, fps int, seconds int) float64 {
	t.Helper()
	d := NewBlinkDetector(config.DefaultAnalysis().Blink)
	var r BlinkReading
	for i := 0; i <= fps*seconds; i++ {
		ts := t0.Add(time.Duration(i) * time.Second / time.Duration(fps))
		ear := 0.3
		if i%fps == fps/2 {
			ear = 0.1
		}
		r = d.Observe(ts, ear, 0.1)
	}
	return r.Rate
}

func TestBlinkRateIndependentOfFrameRate(t *testing.T) {
	for _, fps := range []int{10, 30} {
		if got := blinkRunRate(t, fps, 70); !approx(got, 60) {
			t.Fatalf("fps %d: rate %v want 60", fps, got)
		}
	}
}

func TestBlinkWindowEviction(t *testing.T) {
	cfg := config.DefaultAnalysis().Blink
	cfg.Window = time.Second
	d := NewBlinkDetector(cfg)
	d.Observe(t0, 0.3, 0)
	d.Observe(t0.Add(400*time.Millisecond), 0.1, 0)
	r := d.Observe(t0.Add(500*time.Millisecond), 0.3, 0)
	if r.Blinks != 1 {
		t.Fatalf("blinks: %d", r.Blinks)
	}
	r = d.Observe(t0.Add(time.Second), 0.3, 0)
	if d.Len() != 3 {
		t.Fatalf("expected frame at t0 evicted, len %d", d.Len())
	}
	if got := d.Rate(t0.Add(1400 * time.Millisecond)); got != 0 {
		t.Fatalf("blink should have slid out, rate %v", got)
	}
	if r.Elapsed != time.Second {
		t.Fatalf("elapsed: %v", r.Elapsed)
	}
}

func TestBlinkSustainedClosureCountsOnce(t *testing.T) {
	d := NewBlinkDetector(config.DefaultAnalysis().Blink)
	d.Observe(t0, 0.3, 0)
	var r BlinkReading
	for i := 1; i <= 20; i++ {
		r = d.Observe(t0.Add(time.Duration(i)*100*time.Millisecond), 0.05, 0)
	}
	if r.Blinks != 1 || r.EyeOpen {
		t.Fatalf("reading: %+v", r)
	}
}

func TestYawnCooldown(t *testing.T) {
	feed := func(d *BlinkDetector) int {
		var r BlinkReading
		for i := 0; i <= 10; i++ {
			r = d.Observe(t0.Add(time.Duration(i)*100*time.Millisecond), 0.3, 0.8)
		}
		r = d.Observe(t0.Add(5*time.Second), 0.3, 0.8)
		return r.YawnCount
	}

	cfg := config.DefaultAnalysis().Blink
	if got := feed(NewBlinkDetector(cfg)); got != 2 {
		t.Fatalf("with cooldown: %d yawns want 2", got)
	}
	cfg.YawnCooldown = 0
	if got := feed(NewBlinkDetector(cfg)); got != 12 {
		t.Fatalf("per-frame counting: %d yawns want 12", got)
	}
}

func TestEmotionFlipsAfterDecay(t *testing.T) {
	cfg := config.DefaultAnalysis().Emotion
	cfg.Decay = 0.9
	s := NewEmotionStabilizer(cfg)
	if got := s.Current(); got.Label != "neutral" || got.Score != cfg.Lower {
		t.Fatalf("initial: %+v", got)
	}
	if got := s.Observe("Happy", 1.0); got.Label != "happy" || got.Score != cfg.Upper {
		t.Fatalf("first: %+v", got)
	}
	want := []string{"happy", "happy", "neutral"}
	for i, label := range want {
		got := s.Observe("neutral", 0.3)
		if got.Label != label {
			t.Fatalf("neutral frame %d: got %s want %s", i+1, got.Label, label)
		}
	}
}

func TestEmotionTieGoesToFirstSeen(t *testing.T) {
	cfg := config.DefaultAnalysis().Emotion
	cfg.Decay = 1
	s := NewEmotionStabilizer(cfg)
	s.Observe("happy", 0.5)
	got := s.Observe("sad", 0.5)
	if got.Label != "happy" {
		t.Fatalf("tie: %+v", got)
	}
	if !approx(got.Score, 0.5+cfg.Offset) {
		t.Fatalf("score: %v", got.Score)
	}
}

func TestEmotionIgnoresEmptyLabel(t *testing.T) {
	s := NewEmotionStabilizer(config.DefaultAnalysis().Emotion)
	s.Observe("angry", 0.9)
	before := s.Weight("angry")
	got := s.Observe("  ", 1)
	if got.Label != "angry" || s.Weight("angry") != before {
		t.Fatalf("empty label changed state: %+v", got)
	}
}

func TestAgeRejectsOutlier(t *testing.T) {
	a := NewAgeStabilizer(config.DefaultAnalysis().Age, 45)
	var r model.AgeReading
	for i := 0; i < 4; i++ {
		r = a.Observe(30)
		if r.Confidence != ageConfidenceLow {
			t.Fatalf("confidence before 5 samples: %v", r.Confidence)
		}
	}
	r = a.Observe(90)
	if r.Age != 30 {
		t.Fatalf("outlier moved age to %d", r.Age)
	}
	if r.Confidence != ageConfidenceLow {
		t.Fatalf("wide spread confidence: %v", r.Confidence)
	}
}

func TestAgeConfidenceSteady(t *testing.T) {
	a := NewAgeStabilizer(config.DefaultAnalysis().Age, 45)
	var r model.AgeReading
	for i := 0; i < 10; i++ {
		r = a.Observe(27)
	}
	if r.Age != 27 || !approx(r.Confidence, 0.9) {
		t.Fatalf("reading: %+v", r)
	}
}

func TestEstimateAge(t *testing.T) {
	cfg := config.DefaultAnalysis().Age
	hint := 40.0
	if got := EstimateAge(&model.RawFeatures{AgeHint: &hint}, cfg); got != 40 {
		t.Fatalf("hint: %v", got)
	}
	if got := EstimateAge(&model.RawFeatures{}, cfg); got != 18 {
		t.Fatalf("no blendshapes: %v", got)
	}
	full := map[string]float64{}
	for _, k := range []string{"eyeSquintLeft", "eyeSquintRight", "browDownLeft", "browDownRight",
		"mouthFrownLeft", "mouthFrownRight", "cheekSquintLeft", "cheekSquintRight"} {
		full[k] = 1
	}
	if got := EstimateAge(&model.RawFeatures{Blendshapes: full}, cfg); got != 48 {
		t.Fatalf("saturated blendshapes: %v", got)
	}
}

func TestAttentionLevels(t *testing.T) {
	cfg := config.DefaultAnalysis().Attention
	a := NewAttentionEstimator(cfg)
	if got := a.Current(); got.Level != 50 || !got.GazingAway {
		t.Fatalf("initial: %+v", got)
	}
	r, instant := a.Observe(&model.RawFeatures{})
	if instant != 100 || r.Level != 99 || r.GazingAway {
		t.Fatalf("centered: %+v instant %v", r, instant)
	}
	r, instant = a.Observe(&model.RawFeatures{Gaze: map[string]float64{"left": 1}})
	if !approx(instant, 40) || !r.GazingAway {
		t.Fatalf("looking away: %+v instant %v", r, instant)
	}
	want := stats.EMA(40, 100, cfg.Alpha)
	if !approx(r.Level, want) {
		t.Fatalf("smoothed level %v want %v", r.Level, want)
	}
	fb := a.Fallback()
	if !approx(fb.Level, want) || !fb.GazingAway {
		t.Fatalf("fallback: %+v", fb)
	}
}

func TestAttentionHeadAndGaze(t *testing.T) {
	cfg := config.DefaultAnalysis().Attention
	a := NewAttentionEstimator(cfg)
	if got := a.HeadDeviation(model.HeadPose{Yaw: -30}); got != 0.5 {
		t.Fatalf("yaw deviation: %v", got)
	}
	if got := a.HeadDeviation(model.HeadPose{Yaw: 90, Pitch: 90}); got != 1 {
		t.Fatalf("clamped deviation: %v", got)
	}
	f := &model.RawFeatures{Blendshapes: map[string]float64{"eyeLookOutLeft": 0.7, "jawOpen": 0.9}}
	if got := GazeDeviation(f); got != 0.7 {
		t.Fatalf("blendshape gaze: %v", got)
	}
	if got := InstantAttention(0.5, 0.5, cfg); !approx(got, 50) {
		t.Fatalf("instant: %v", got)
	}
}

func earHistory(v float64, n int) *stats.RollingStats {
	h := stats.NewRollingStats(60)
	for i := 0; i < n; i++ {
		h.Push(v)
	}
	return h
}

func TestFatigueScoreAlert(t *testing.T) {
	in := FatigueInput{
		EAR:        0.3,
		EARHistory: earHistory(0.3, 10),
		Blink:      BlinkReading{Rate: 15, Elapsed: 20 * time.Second},
	}
	if got := FatigueScore(in, 0.2); !approx(got, 7.5) {
		t.Fatalf("alert score: %v", got)
	}
	in.Blink.Yawning = true
	in.Emotion = "Sad"
	if got := FatigueScore(in, 0.2); !approx(got, 27.5) {
		t.Fatalf("yawn+sad score: %v", got)
	}
}

func TestFatigueScoreDrowsy(t *testing.T) {
	in := FatigueInput{
		EAR:        0.05,
		EARHistory: earHistory(0.05, 10),
		Blink:      BlinkReading{Rate: 0, Elapsed: 20 * time.Second},
	}
	got := FatigueScore(in, 0.2)
	if !approx(got, 66.25) {
		t.Fatalf("drowsy score: %v", got)
	}
	cfg := config.DefaultAnalysis().Fatigue
	if lvl := FatigueLevelFor(got, cfg); lvl != model.FatigueMedium {
		t.Fatalf("level: %s", lvl)
	}
	if lvl := FatigueLevelFor(67, cfg); lvl != model.FatigueHigh {
		t.Fatalf("level at 67: %s", lvl)
	}
	if lvl := FatigueLevelFor(33.9, cfg); lvl != model.FatigueLow {
		t.Fatalf("level at 33.9: %s", lvl)
	}
}

func TestFatigueLowBlinkNeedsTime(t *testing.T) {
	in := FatigueInput{EAR: 0.3, EARHistory: earHistory(0.3, 5), Blink: BlinkReading{Rate: 0, Elapsed: 5 * time.Second}}
	if got := FatigueScore(in, 0.2); got != 0 {
		t.Fatalf("early low-blink penalty applied: %v", got)
	}
}

func TestFatigueFallbackKeepsRate(t *testing.T) {
	f := NewFatigueEstimator(config.DefaultAnalysis().Fatigue)
	f.Observe(FatigueInput{EAR: 0.3, EARHistory: earHistory(0.3, 3), Blink: BlinkReading{Rate: 12, YawnCount: 2}})
	fb := f.Fallback()
	if fb.Score != 35 || fb.Level != model.FatigueLow || fb.BlinkRate != 12 || fb.YawnCount != 2 {
		t.Fatalf("fallback: %+v", fb)
	}
}

type fakeTimer struct {
	fire    func()
	stopped bool
}

func (ft *fakeTimer) schedule(_ time.Duration, f func()) func() bool {
	ft.fire = f
	ft.stopped = false
	return func() bool {
		ft.stopped = true
		return true
	}
}

func TestCalibratorBuildsBaseline(t *testing.T) {
	ft := &fakeTimer{}
	c := NewCalibrator(time.Second, ft.schedule)
	var got *model.Baseline
	c.OnComplete(func(b *model.Baseline) { got = b })

	if !c.IsDefault() {
		t.Fatalf("expected default baseline before calibration")
	}
	c.Add(model.LiveMetrics{Attention: 10})
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Start(); !errors.Is(err, ErrCalibrationInProgress) {
		t.Fatalf("second start: %v", err)
	}
	for i := 0; i < 10; i++ {
		c.Add(model.LiveMetrics{Attention: 80, BlinkRate: float64(10 + i%2*2), Fatigue: 20})
	}
	ft.fire()

	if c.Active() {
		t.Fatalf("still calibrating")
	}
	b := c.Baseline()
	if got != b || b.Default {
		t.Fatalf("callback baseline mismatch")
	}
	if b.Attention.Mean != 80 || b.Attention.Std != 0.1 {
		t.Fatalf("attention stats: %+v", b.Attention)
	}
	if b.BlinkRate.Mean != 11 || math.Abs(b.BlinkRate.Std-1) > 1e-9 {
		t.Fatalf("blink stats: %+v", b.BlinkRate)
	}
}

func TestCalibratorCancel(t *testing.T) {
	ft := &fakeTimer{}
	c := NewCalibrator(time.Second, ft.schedule)
	if err := c.Cancel(); !errors.Is(err, ErrNoCalibration) {
		t.Fatalf("cancel idle: %v", err)
	}
	_ = c.Start()
	c.Add(model.LiveMetrics{Attention: 5})
	stale := ft.fire
	if err := c.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !ft.stopped {
		t.Fatalf("timer not stopped")
	}
	stale()
	if !c.IsDefault() || c.Active() {
		t.Fatalf("stale completion applied")
	}
	if err := c.Start(); err != nil {
		t.Fatalf("restart after cancel: %v", err)
	}
}

func TestCalibratorSetBaseline(t *testing.T) {
	c := NewCalibrator(time.Second, (&fakeTimer{}).schedule)
	c.SetBaseline(&model.Baseline{Attention: model.MetricStats{Mean: 60, Std: 5}})
	if c.IsDefault() || c.Baseline().Attention.Mean != 60 {
		t.Fatalf("restored baseline not active")
	}
	c.SetBaseline(nil)
	if !c.IsDefault() {
		t.Fatalf("nil should revert to default")
	}
}

func TestDeceptionZeroAtBaselineMean(t *testing.T) {
	d := NewDeceptionScorer(config.DefaultAnalysis().Deception.Weights)
	b := model.DefaultBaseline()
	m := model.LiveMetrics{
		Attention:         b.Attention.Mean,
		BlinkRate:         b.BlinkRate.Mean,
		Fatigue:           b.Fatigue.Mean,
		HeadMotion:        b.HeadMotion.Mean,
		EmotionVolatility: b.EmotionVolatility.Mean,
	}
	if got := d.Score(m, b); got != 0 {
		t.Fatalf("score at mean: %d", got)
	}
	if got := d.Score(m, nil); got != 0 {
		t.Fatalf("nil baseline: %d", got)
	}
}

func TestDeceptionSaturates(t *testing.T) {
	d := NewDeceptionScorer(config.DefaultAnalysis().Deception.Weights)
	m := model.LiveMetrics{Attention: 0, BlinkRate: 100, Fatigue: 100, HeadMotion: 100, EmotionVolatility: 1}
	bd := d.Breakdown(m, model.DefaultBaseline())
	if bd.Score != 100 || !bd.DefaultBaseline {
		t.Fatalf("breakdown: %+v", bd)
	}
}

func TestDeceptionMonotonic(t *testing.T) {
	d := NewDeceptionScorer(config.DefaultAnalysis().Deception.Weights)
	b := model.DefaultBaseline()
	prev := -1
	for _, att := range []float64{75, 70, 65, 60, 55, 50} {
		m := model.LiveMetrics{
			Attention:         att,
			BlinkRate:         b.BlinkRate.Mean,
			Fatigue:           b.Fatigue.Mean,
			HeadMotion:        b.HeadMotion.Mean,
			EmotionVolatility: b.EmotionVolatility.Mean,
		}
		got := d.Score(m, b)
		if got < prev {
			t.Fatalf("score dropped from %d to %d at attention %v", prev, got, att)
		}
		prev = got
	}
	if prev != 28 {
		t.Fatalf("attention-only saturation: %d want 28", prev)
	}
}

func TestZScoreFloor(t *testing.T) {
	if got := ZScore(1, model.MetricStats{Mean: 0, Std: 0}, 0.5); got != 2 {
		t.Fatalf("floored z: %v", got)
	}
	if got := NormalizeZ(3); got != 1 {
		t.Fatalf("normalize: %v", got)
	}
}
