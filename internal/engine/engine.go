package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"facesignal/internal/alerts"
	"facesignal/internal/config"
	"facesignal/internal/logging"
	"facesignal/internal/metrics"
	"facesignal/internal/model"
	"facesignal/internal/personality"
	"facesignal/internal/storage"
)

var ErrSessionNotFound = errors.New("session not found")

const (
	AlertFatigueHigh = "fatigue_high"
	AlertDeception   = "deception_elevated"
	AlertMicrosleep  = "microsleep"
)

type Engine struct {
	logger   *slog.Logger
	metrics  *metrics.Store
	prom     *metrics.Prometheus
	alerts   *alerts.Store
	store    storage.Store
	cfg      atomic.Value
	sessions map[string]*sessionState
	mu       sync.Mutex
	started  time.Time
	cooldown *Cooldown
	deDupe   *DedupeCache
	schedule ScheduleFunc
	now      func() time.Time
}

type sessionState struct {
	mu       sync.Mutex
	session  *Session
	created  time.Time
	lastSeen time.Time

	closedSince     time.Time
	microsleepFired bool
}

// SessionInfo is the listing view of one session.
type SessionInfo struct {
	ID              string    `json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	LastSeen        time.Time `json:"last_seen,omitempty"`
	Frames          int64     `json:"frames"`
	Calibrating     bool      `json:"calibrating"`
	DefaultBaseline bool      `json:"default_baseline"`
}

type SessionView struct {
	SessionInfo
	Frame       model.AnalysisFrame   `json:"frame"`
	Baseline    *model.Baseline       `json:"baseline"`
	Profile     *model.BigFiveProfile `json:"profile,omitempty"`
	Personality map[model.Trait]int   `json:"personality_percent,omitempty"`
}

type Option func(*Engine)

func WithPrometheus(p *metrics.Prometheus) Option {
	return func(e *Engine) { e.prom = p }
}

// WithTimer replaces the calibration timer of every session the engine creates.
func WithTimer(fn ScheduleFunc) Option {
	return func(e *Engine) { e.schedule = fn }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(cfg *config.Config, logger *slog.Logger, metricsStore *metrics.Store, alertsStore *alerts.Store, store storage.Store, opts ...Option) *Engine {
	e := &Engine{
		logger:   logger,
		metrics:  metricsStore,
		alerts:   alertsStore,
		store:    store,
		sessions: make(map[string]*sessionState),
		started:  time.Now().UTC(),
		cooldown: NewCooldown(),
		deDupe:   NewDedupeCache(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.Discard()
	}
	if e.metrics == nil {
		e.metrics = metrics.NewStore(cfg.Metrics.StoreLimit)
	}
	if e.alerts == nil {
		e.alerts = alerts.NewStore(cfg.Alerts.StoreLimit)
	}
	e.cfg.Store(cfg)
	return e
}

// UpdateConfig swaps the active config. Running sessions keep the analysis
// constants they were created with; ingest, alert and storage settings
// apply from the next frame.
func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (e *Engine) Started() time.Time {
	return e.started
}

func (e *Engine) Start(ctx context.Context, in <-chan model.FrameEvent) {
	go func() {
		for {
			select {
			case ev := <-in:
				e.ProcessFrame(ev)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// ProcessFrame analyzes one frame for its session, creating the session on
// first sight, and returns any alerts it raised.
func (e *Engine) ProcessFrame(ev model.FrameEvent) []model.Alert {
	cfg := e.config()
	now := e.now().UTC()
	parser := cfg.Ingest.Parser
	ev.Timestamp = clampTimestamp(ev.Timestamp, now, parser.MaxClockSkew, parser.MaxFutureSkew)

	id := ev.SessionID
	if id == "" {
		id = parser.DefaultSessionID
	}
	if id == "" {
		id = "default"
	}
	if parser.DedupeWindow > 0 && e.deDupe.Seen(id, ev.Timestamp, now, parser.DedupeWindow) {
		return nil
	}

	st := e.getSession(id, cfg)
	st.mu.Lock()
	frame := st.session.AnalyzeFrame(ev.Timestamp, ev.Face)
	frames := st.session.Frames()
	closedFor, microsleep := st.trackClosure(ev.Timestamp, ev.Face, cfg.Alerts)
	defaultBaseline := st.session.Baseline().Default
	st.lastSeen = now
	st.mu.Unlock()

	out := e.evaluate(cfg, id, frame, defaultBaseline, closedFor, microsleep)
	for _, a := range out {
		e.raise(a)
	}

	e.metrics.Update(id, frame, frames)
	e.prom.ObserveFrame(id, frame)
	if e.store != nil && cfg.Storage.SnapshotEvery > 0 && frames%int64(cfg.Storage.SnapshotEvery) == 0 {
		if err := e.store.SaveSnapshot(context.Background(), id, frame); err != nil {
			e.logger.Error("save snapshot failed", "session_id", id, "err", err)
		}
	}
	return out
}

// trackClosure measures how long the eyes have been continuously below the
// microsleep threshold. fire is true once per closure.
func (st *sessionState) trackClosure(ts time.Time, f *model.RawFeatures, cfg config.AlertsConfig) (time.Duration, bool) {
	if f != nil && f.EyesMissing {
		// neither extends nor ends a closure
		return 0, false
	}
	if f == nil || cfg.MicrosleepEAR <= 0 || f.EyeAspectRatio >= cfg.MicrosleepEAR {
		st.closedSince = time.Time{}
		st.microsleepFired = false
		return 0, false
	}
	if st.closedSince.IsZero() {
		st.closedSince = ts
	}
	closed := ts.Sub(st.closedSince)
	if closed >= cfg.MicrosleepDuration && !st.microsleepFired {
		st.microsleepFired = true
		return closed, true
	}
	return closed, false
}

func (e *Engine) evaluate(cfg *config.Config, id string, frame model.AnalysisFrame, defaultBaseline bool, closedFor time.Duration, microsleep bool) []model.Alert {
	var out []model.Alert
	ac := cfg.Alerts
	if frame.FaceFound && frame.Fatigue.Level == model.FatigueHigh &&
		e.cooldown.Allow(id, AlertFatigueHigh, frame.Timestamp, ac.Cooldown) {
		out = append(out, newAlert(id, AlertFatigueHigh, "high", frame.Fatigue.Score, frame, map[string]string{
			"blink_rate": strconv.FormatFloat(frame.Fatigue.BlinkRate, 'f', 1, 64),
			"yawn_count": strconv.Itoa(frame.Fatigue.YawnCount),
		}))
	}
	if ac.DeceptionThreshold > 0 && !frame.Calibrating && frame.Deception >= ac.DeceptionThreshold &&
		e.cooldown.Allow(id, AlertDeception, frame.Timestamp, ac.Cooldown) {
		baseline := "calibrated"
		if defaultBaseline {
			baseline = "default"
		}
		out = append(out, newAlert(id, AlertDeception, deceptionSeverity(frame.Deception),
			float64(frame.Deception), frame, map[string]string{"baseline": baseline}))
	}
	if microsleep && e.cooldown.Allow(id, AlertMicrosleep, frame.Timestamp, ac.Cooldown) {
		out = append(out, newAlert(id, AlertMicrosleep, "critical", closedFor.Seconds(), frame, map[string]string{
			"closed_for": closedFor.String(),
		}))
	}
	return out
}

func deceptionSeverity(score int) string {
	switch {
	case score >= 90:
		return "critical"
	case score >= 75:
		return "high"
	}
	return "medium"
}

func newAlert(id, alertType, severity string, score float64, frame model.AnalysisFrame, ctx map[string]string) model.Alert {
	if ctx == nil {
		ctx = make(map[string]string)
	}
	ctx["engine"] = "facesignal"
	return model.Alert{
		Timestamp: frame.Timestamp,
		SessionID: id,
		Severity:  severity,
		AlertType: alertType,
		Score:     score,
		Frame:     frame,
		Context:   ctx,
	}
}

func (e *Engine) raise(a model.Alert) {
	e.alerts.Add(a)
	e.prom.ObserveAlert(a)
	e.logger.Warn("alert triggered",
		"session_id", a.SessionID,
		"alert_type", a.AlertType,
		"severity", a.Severity,
		"score", a.Score,
	)
	if e.store != nil {
		if err := e.store.SaveAlert(context.Background(), a); err != nil {
			e.logger.Error("save alert failed", "session_id", a.SessionID, "err", err)
		}
	}
}

// CreateSession registers a new session under a random ID.
func (e *Engine) CreateSession() SessionInfo {
	id := uuid.NewString()
	st := e.getSession(id, e.config())
	return st.info(id)
}

func (e *Engine) lookup(id string) (*sessionState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.sessions[id]
	return st, ok
}

func (e *Engine) mustLookup(id string) (*sessionState, error) {
	st, ok := e.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return st, nil
}

func (e *Engine) getSession(id string, cfg *config.Config) *sessionState {
	if st, ok := e.lookup(id); ok {
		return st
	}
	s := NewSession(id, cfg.Analysis, WithScheduler(e.schedule))
	s.OnCalibrated(func(b *model.Baseline) { e.onCalibrated(id, b) })
	if e.store != nil {
		b, err := e.store.LatestBaseline(context.Background(), id)
		switch {
		case err == nil:
			s.RestoreBaseline(b)
			e.logger.Info("baseline restored", "session_id", id, "created_at", b.CreatedAt)
		case !errors.Is(err, storage.ErrNotFound):
			e.logger.Error("load baseline failed", "session_id", id, "err", err)
		}
	}
	now := e.now().UTC()
	st := &sessionState{session: s, created: now}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.sessions[id]; ok {
		return existing
	}
	e.sessions[id] = st
	e.logger.Info("session created", "session_id", id)
	return st
}

func (e *Engine) onCalibrated(id string, b *model.Baseline) {
	e.logger.Info("calibration complete",
		"session_id", id,
		"attention_mean", b.Attention.Mean,
		"blink_rate_mean", b.BlinkRate.Mean,
	)
	if e.store != nil {
		if err := e.store.SaveBaseline(context.Background(), id, *b); err != nil {
			e.logger.Error("save baseline failed", "session_id", id, "err", err)
		}
	}
}

func (e *Engine) StartCalibration(id string) error {
	st, err := e.mustLookup(id)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.session.StartCalibration(); err != nil {
		return err
	}
	e.logger.Info("calibration started", "session_id", id, "duration", e.config().Analysis.Calibration.Duration)
	return nil
}

func (e *Engine) CancelCalibration(id string) error {
	st, err := e.mustLookup(id)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.session.CancelCalibration()
}

func (e *Engine) Baseline(id string) (*model.Baseline, error) {
	st, err := e.mustLookup(id)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.session.Baseline(), nil
}

func (e *Engine) DeceptionEstimate(id string) (DeceptionBreakdown, error) {
	st, err := e.mustLookup(id)
	if err != nil {
		return DeceptionBreakdown{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.session.DeceptionBreakdown(), nil
}

func (e *Engine) SubmitPersonality(ctx context.Context, id string, answers []int) (model.BigFiveProfile, error) {
	st, err := e.mustLookup(id)
	if err != nil {
		return model.BigFiveProfile{}, err
	}
	st.mu.Lock()
	p, err := st.session.SubmitPersonalityAnswers(answers)
	st.mu.Unlock()
	if err != nil {
		return model.BigFiveProfile{}, err
	}
	if e.store != nil {
		if err := e.store.SaveProfile(ctx, id, p); err != nil {
			e.logger.Error("save profile failed", "session_id", id, "err", err)
		}
	}
	return p, nil
}

func (e *Engine) Session(id string) (SessionView, error) {
	st, err := e.mustLookup(id)
	if err != nil {
		return SessionView{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	view := SessionView{
		SessionInfo: st.info(id),
		Frame:       st.session.Frame(),
		Baseline:    st.session.Baseline(),
	}
	if p, ok := st.session.Profile(); ok {
		view.Profile = &p
		view.Personality = personality.Percents(p)
	}
	return view, nil
}

func (e *Engine) Sessions() []SessionInfo {
	e.mu.Lock()
	ids := make([]string, 0, len(e.sessions))
	states := make(map[string]*sessionState, len(e.sessions))
	for id, st := range e.sessions {
		ids = append(ids, id)
		states[id] = st
	}
	e.mu.Unlock()
	sort.Strings(ids)
	out := make([]SessionInfo, 0, len(ids))
	for _, id := range ids {
		st := states[id]
		st.mu.Lock()
		out = append(out, st.info(id))
		st.mu.Unlock()
	}
	return out
}

func (st *sessionState) info(id string) SessionInfo {
	return SessionInfo{
		ID:              id,
		CreatedAt:       st.created,
		LastSeen:        st.lastSeen,
		Frames:          st.session.Frames(),
		Calibrating:     st.session.Calibrating(),
		DefaultBaseline: st.session.Baseline().Default,
	}
}

// EndSession drops a session and everything tracked for it. A running
// calibration is cancelled.
func (e *Engine) EndSession(id string) error {
	e.mu.Lock()
	st, ok := e.sessions[id]
	delete(e.sessions, id)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	_ = st.session.CancelCalibration()
	e.cooldown.Forget(id)
	e.metrics.Remove(id)
	e.prom.Forget(id)
	e.logger.Info("session ended", "session_id", id)
	return nil
}

// Reset drops every session and the alert and dedupe state derived from them.
func (e *Engine) Reset() {
	e.mu.Lock()
	old := e.sessions
	e.sessions = make(map[string]*sessionState)
	e.mu.Unlock()
	for _, st := range old {
		_ = st.session.CancelCalibration()
	}
	e.cooldown.Clear()
	e.deDupe.Clear()
	e.prom.Reset()
}

func clampTimestamp(ts, now time.Time, maxPast, maxFuture time.Duration) time.Time {
	if ts.IsZero() {
		return now
	}
	if maxPast > 0 {
		if now.Sub(ts) > maxPast {
			return now
		}
	}
	if maxFuture > 0 {
		if ts.Sub(now) > maxFuture {
			return now
		}
	}
	return ts
}
