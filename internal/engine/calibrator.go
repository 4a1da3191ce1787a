package engine

import (
	"errors"
	"sync"
	"time"

	"facesignal/internal/model"
	"facesignal/internal/stats"
)

var (
	ErrCalibrationInProgress = errors.New("calibration already in progress")
	ErrNoCalibration         = errors.New("no calibration in progress")
)

const baselineStdFloor = 0.1

// ScheduleFunc runs f once after d and returns a stop function reporting
// whether the call was prevented.
type ScheduleFunc func(d time.Duration, f func()) (stop func() bool)

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Calibrator runs Idle -> Calibrating -> Idle. The completion fires from a
// timer goroutine, so unlike the rest of a Session it guards its own state.
type Calibrator struct {
	mu       sync.Mutex
	duration time.Duration
	schedule ScheduleFunc
	now      func() time.Time

	active bool
	gen    uint64
	stop   func() bool

	attention  []float64
	blinkRate  []float64
	fatigue    []float64
	headMotion []float64
	volatility []float64

	baseline   *model.Baseline
	onComplete func(*model.Baseline)
}

func NewCalibrator(duration time.Duration, schedule ScheduleFunc) *Calibrator {
	if duration <= 0 {
		duration = 5 * time.Second
	}
	if schedule == nil {
		schedule = afterFunc
	}
	return &Calibrator{
		duration: duration,
		schedule: schedule,
		now:      time.Now,
		baseline: model.DefaultBaseline(),
	}
}

// OnComplete registers a callback receiving each new baseline. It runs on
// the timer goroutine with no locks held.
func (c *Calibrator) OnComplete(fn func(*model.Baseline)) {
	c.mu.Lock()
	c.onComplete = fn
	c.mu.Unlock()
}

func (c *Calibrator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return ErrCalibrationInProgress
	}
	c.clearSamples()
	c.active = true
	c.gen++
	gen := c.gen
	c.stop = c.schedule(c.duration, func() { c.complete(gen) })
	return nil
}

// Cancel stops a running session and discards its samples. The active
// baseline is left as it was.
func (c *Calibrator) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return ErrNoCalibration
	}
	if c.stop != nil {
		c.stop()
	}
	c.active = false
	c.stop = nil
	c.gen++
	c.clearSamples()
	return nil
}

func (c *Calibrator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Calibrator) Add(m model.LiveMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return
	}
	c.attention = append(c.attention, m.Attention)
	c.blinkRate = append(c.blinkRate, m.BlinkRate)
	c.fatigue = append(c.fatigue, m.Fatigue)
	c.headMotion = append(c.headMotion, m.HeadMotion)
	c.volatility = append(c.volatility, m.EmotionVolatility)
}

// Baseline returns the active baseline; the built-in default until a
// calibration completes.
func (c *Calibrator) Baseline() *model.Baseline {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseline
}

func (c *Calibrator) IsDefault() bool {
	return c.Baseline().Default
}

// SetBaseline installs a previously computed baseline, e.g. one restored
// from storage. A nil baseline reverts to the default.
func (c *Calibrator) SetBaseline(b *model.Baseline) {
	if b == nil {
		b = model.DefaultBaseline()
	}
	c.mu.Lock()
	c.baseline = b
	c.mu.Unlock()
}

func (c *Calibrator) complete(gen uint64) {
	c.mu.Lock()
	if !c.active || gen != c.gen {
		c.mu.Unlock()
		return
	}
	b := c.buildBaseline()
	c.baseline = b
	c.active = false
	c.stop = nil
	c.clearSamples()
	cb := c.onComplete
	c.mu.Unlock()
	if cb != nil {
		cb(b)
	}
}

func (c *Calibrator) buildBaseline() *model.Baseline {
	def := model.DefaultBaseline()
	return &model.Baseline{
		Attention:         reduceSamples(c.attention, def.Attention),
		BlinkRate:         reduceSamples(c.blinkRate, def.BlinkRate),
		Fatigue:           reduceSamples(c.fatigue, def.Fatigue),
		HeadMotion:        reduceSamples(c.headMotion, def.HeadMotion),
		EmotionVolatility: reduceSamples(c.volatility, def.EmotionVolatility),
		CreatedAt:         c.now().UTC(),
	}
}

func (c *Calibrator) clearSamples() {
	c.attention = c.attention[:0]
	c.blinkRate = c.blinkRate[:0]
	c.fatigue = c.fatigue[:0]
	c.headMotion = c.headMotion[:0]
	c.volatility = c.volatility[:0]
}

// reduceSamples keeps the fallback stats for a metric with no samples.
func reduceSamples(values []float64, fallback model.MetricStats) model.MetricStats {
	if len(values) == 0 {
		return fallback
	}
	std := stats.StdDev(values)
	if std == 0 {
		std = baselineStdFloor
	}
	return model.MetricStats{Mean: stats.Mean(values), Std: std}
}
