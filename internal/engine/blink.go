package engine

import (
	"time"

	"facesignal/internal/config"
)

type blinkEntry struct {
	ts      time.Time
	open    bool
	yawning bool
	blink   bool // open -> closed transition landed on this frame
}

type BlinkReading struct {
	EyeOpen   bool
	Yawning   bool
	Blinks    int
	Rate      float64 // blinks per minute
	YawnCount int
	Elapsed   time.Duration
}

// BlinkDetector counts open->closed eye transitions over a trailing time
// window. Retained frames always satisfy now-ts < window.
type BlinkDetector struct {
	earThreshold float64
	marThreshold float64
	window       time.Duration
	yawnCooldown time.Duration

	frames []blinkEntry
	head   int
	blinks int

	hasPrev  bool
	prevOpen bool
	first    time.Time

	yawns        int
	lastYawnSeen time.Time
}

func NewBlinkDetector(cfg config.BlinkConfig) *BlinkDetector {
	window := cfg.Window
	if window <= 0 {
		window = 60 * time.Second
	}
	return &BlinkDetector{
		earThreshold: cfg.EARThreshold,
		marThreshold: cfg.MARThreshold,
		window:       window,
		yawnCooldown: cfg.YawnCooldown,
		frames:       make([]blinkEntry, 0, 256),
	}
}

func (d *BlinkDetector) Observe(ts time.Time, ear, mar float64) BlinkReading {
	if d.first.IsZero() {
		d.first = ts
	}
	d.evict(ts)

	open := ear >= d.earThreshold
	entry := blinkEntry{ts: ts, open: open, yawning: mar > d.marThreshold}
	if d.hasPrev && d.prevOpen && !open {
		entry.blink = true
		d.blinks++
	}
	d.hasPrev = true
	d.prevOpen = open
	d.frames = append(d.frames, entry)

	if entry.yawning {
		if d.yawnCooldown <= 0 || d.lastYawnSeen.IsZero() || ts.Sub(d.lastYawnSeen) >= d.yawnCooldown {
			d.yawns++
		}
		d.lastYawnSeen = ts
	}

	return BlinkReading{
		EyeOpen:   open,
		Yawning:   entry.yawning,
		Blinks:    d.blinks,
		Rate:      d.rate(),
		YawnCount: d.yawns,
		Elapsed:   ts.Sub(d.first),
	}
}

// Rate slides the window to now without recording a frame.
func (d *BlinkDetector) Rate(now time.Time) float64 {
	d.evict(now)
	return d.rate()
}

func (d *BlinkDetector) Len() int {
	return len(d.frames) - d.head
}

func (d *BlinkDetector) YawnCount() int {
	return d.yawns
}

func (d *BlinkDetector) Reset() {
	d.frames = d.frames[:0]
	d.head = 0
	d.blinks = 0
	d.hasPrev = false
	d.prevOpen = false
	d.first = time.Time{}
	d.yawns = 0
	d.lastYawnSeen = time.Time{}
}

func (d *BlinkDetector) rate() float64 {
	return float64(d.blinks) * float64(time.Minute) / float64(d.window)
}

func (d *BlinkDetector) evict(now time.Time) {
	cutoff := now.Add(-d.window)
	for d.head < len(d.frames) {
		e := d.frames[d.head]
		if e.ts.After(cutoff) {
			break
		}
		if e.blink {
			d.blinks--
		}
		d.head++
	}
	if d.head > 0 && d.head*2 >= len(d.frames) {
		d.frames = append(d.frames[:0:0], d.frames[d.head:]...)
		d.head = 0
	}
}
