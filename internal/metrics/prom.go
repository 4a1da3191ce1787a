package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"facesignal/internal/model"
)

// Prometheus exports per-session gauges and global counters on its own
// registry so tests and multiple engines never collide on the default one.
type Prometheus struct {
	registry *prometheus.Registry

	attention *prometheus.GaugeVec
	fatigue   *prometheus.GaugeVec
	blinkRate *prometheus.GaugeVec
	deception *prometheus.GaugeVec
	frames    *prometheus.CounterVec
	alerts    *prometheus.CounterVec
	dropped   prometheus.Counter
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		attention: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "facesignal",
			Name:      "attention_level",
			Help:      "Smoothed attention level (0-100) per session.",
		}, []string{"session_id"}),
		fatigue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "facesignal",
			Name:      "fatigue_score",
			Help:      "Smoothed fatigue score (0-100) per session.",
		}, []string{"session_id"}),
		blinkRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "facesignal",
			Name:      "blink_rate_per_minute",
			Help:      "Blinks per minute over the trailing window.",
		}, []string{"session_id"}),
		deception: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "facesignal",
			Name:      "deception_estimate",
			Help:      "Baseline deviation estimate (0-100) per session.",
		}, []string{"session_id"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "facesignal",
			Name:      "frames_processed_total",
			Help:      "Frames analyzed, split by face presence.",
		}, []string{"face"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "facesignal",
			Name:      "alerts_total",
			Help:      "Alerts raised by type and severity.",
		}, []string{"alert_type", "severity"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "facesignal",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped because the engine queue was full.",
		}),
	}
	p.registry.MustRegister(p.attention, p.fatigue, p.blinkRate, p.deception, p.frames, p.alerts, p.dropped)
	return p
}

func (p *Prometheus) ObserveFrame(sessionID string, f model.AnalysisFrame) {
	if p == nil {
		return
	}
	face := "false"
	if f.FaceFound {
		face = "true"
	}
	p.frames.WithLabelValues(face).Inc()
	p.attention.WithLabelValues(sessionID).Set(f.Attention.Level)
	p.fatigue.WithLabelValues(sessionID).Set(f.Fatigue.Score)
	p.blinkRate.WithLabelValues(sessionID).Set(f.Fatigue.BlinkRate)
	p.deception.WithLabelValues(sessionID).Set(float64(f.Deception))
}

func (p *Prometheus) ObserveAlert(a model.Alert) {
	if p == nil {
		return
	}
	p.alerts.WithLabelValues(a.AlertType, a.Severity).Inc()
}

func (p *Prometheus) FrameDropped() {
	if p == nil {
		return
	}
	p.dropped.Inc()
}

// Forget removes the per-session gauges.
func (p *Prometheus) Forget(sessionID string) {
	if p == nil {
		return
	}
	for _, g := range []*prometheus.GaugeVec{p.attention, p.fatigue, p.blinkRate, p.deception} {
		g.DeleteLabelValues(sessionID)
	}
}

func (p *Prometheus) Reset() {
	if p == nil {
		return
	}
	for _, g := range []*prometheus.GaugeVec{p.attention, p.fatigue, p.blinkRate, p.deception} {
		g.Reset()
	}
}

func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
