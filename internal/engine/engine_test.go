package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"facesignal/internal/alerts"
	"facesignal/internal/config"
	"facesignal/internal/metrics"
	"facesignal/internal/model"
	"facesignal/internal/storage"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Ingest.Parser.MaxClockSkew = 0
	cfg.Ingest.Parser.MaxFutureSkew = 0
	cfg.Ingest.Parser.DedupeWindow = 0
	cfg.Alerts.Cooldown = 30 * time.Second
	return cfg
}

func newEngineForTest(cfg *config.Config, ft *fakeTimer) *Engine {
	return NewEngine(cfg, nil, metrics.NewStore(100), alerts.NewStore(100), nil, WithTimer(ft.schedule))
}

func frameAt(session string, i int, face *model.RawFeatures) model.FrameEvent {
	return model.FrameEvent{
		SessionID: session,
		Timestamp: t0.Add(time.Duration(i) * 100 * time.Millisecond),
		Face:      face,
	}
}

func countType(list []model.Alert, alertType string) int {
	n := 0
	for _, a := range list {
		if a.AlertType == alertType {
			n++
		}
	}
	return n
}

func TestCalibratedSteadyFaceNoAlert(t *testing.T) {
	ft := &fakeTimer{}
	eng := newEngineForTest(testConfig(), ft)
	eng.ProcessFrame(frameAt("s1", 0, steadyFace()))
	if err := eng.StartCalibration("s1"); err != nil {
		t.Fatalf("start calibration: %v", err)
	}
	var raised []model.Alert
	for i := 1; i <= 20; i++ {
		raised = append(raised, eng.ProcessFrame(frameAt("s1", i, steadyFace()))...)
	}
	ft.fire()
	for i := 21; i <= 40; i++ {
		raised = append(raised, eng.ProcessFrame(frameAt("s1", i, steadyFace()))...)
	}
	// the frame before calibration started is scored against the default baseline
	if countType(raised, AlertDeception) != 0 || countType(raised, AlertFatigueHigh) != 0 {
		t.Fatalf("unexpected alerts: %+v", raised)
	}
	est, err := eng.DeceptionEstimate("s1")
	if err != nil || est.Score != 0 || est.DefaultBaseline {
		t.Fatalf("estimate: %+v %v", est, err)
	}
}

func TestDeceptionAlertAgainstDefaultBaseline(t *testing.T) {
	eng := newEngineForTest(testConfig(), &fakeTimer{})
	var raised []model.Alert
	for i := 0; i < 20; i++ {
		raised = append(raised, eng.ProcessFrame(frameAt("s1", i, steadyFace()))...)
	}
	if countType(raised, AlertDeception) != 1 {
		t.Fatalf("expected one deception alert under cooldown, got %+v", raised)
	}
	a := raised[0]
	if a.Context["baseline"] != "default" || a.SessionID != "s1" {
		t.Fatalf("alert: %+v", a)
	}
	if a.Severity != deceptionSeverity(int(a.Score)) {
		t.Fatalf("severity %s for score %v", a.Severity, a.Score)
	}
	if got := eng.alerts.ForSession("s1", 0); len(got) != 1 {
		t.Fatalf("alert not stored: %+v", got)
	}
}

func TestDeceptionSeverity(t *testing.T) {
	cases := map[int]string{60: "medium", 74: "medium", 75: "high", 89: "high", 90: "critical", 100: "critical"}
	for score, want := range cases {
		if got := deceptionSeverity(score); got != want {
			t.Fatalf("score %d: %s want %s", score, got, want)
		}
	}
}

func TestMicrosleepAlert(t *testing.T) {
	cfg := testConfig()
	cfg.Alerts.DeceptionThreshold = 0
	eng := newEngineForTest(cfg, &fakeTimer{})
	closed := steadyFace()
	closed.EyeAspectRatio = 0.05

	var raised []model.Alert
	for i := 0; i < 14; i++ {
		raised = append(raised, eng.ProcessFrame(frameAt("s1", i, closed))...)
	}
	if countType(raised, AlertMicrosleep) != 0 {
		t.Fatalf("microsleep fired before 1.5s")
	}
	for i := 14; i < 30; i++ {
		raised = append(raised, eng.ProcessFrame(frameAt("s1", i, closed))...)
	}
	if countType(raised, AlertMicrosleep) != 1 {
		t.Fatalf("expected one microsleep alert, got %+v", raised)
	}
}

func TestMicrosleepResetsWhenEyesOpen(t *testing.T) {
	cfg := testConfig()
	cfg.Alerts.DeceptionThreshold = 0
	cfg.Alerts.Cooldown = 0
	eng := newEngineForTest(cfg, &fakeTimer{})
	closed := steadyFace()
	closed.EyeAspectRatio = 0.05

	var raised []model.Alert
	for i := 0; i < 10; i++ {
		raised = append(raised, eng.ProcessFrame(frameAt("s1", i, closed))...)
	}
	raised = append(raised, eng.ProcessFrame(frameAt("s1", 10, steadyFace()))...)
	for i := 11; i < 21; i++ {
		raised = append(raised, eng.ProcessFrame(frameAt("s1", i, closed))...)
	}
	if countType(raised, AlertMicrosleep) != 0 {
		t.Fatalf("two 1s closures should not add up: %+v", raised)
	}
}

func TestFatigueHighAlert(t *testing.T) {
	cfg := testConfig()
	cfg.Alerts.DeceptionThreshold = 0
	eng := newEngineForTest(cfg, &fakeTimer{})
	drowsy := &model.RawFeatures{
		EyeAspectRatio:   0.05,
		MouthAspectRatio: 0.8,
		EmotionLabel:     "sad",
		EmotionScore:     0.9,
	}
	var raised []model.Alert
	for i := 0; i < 10; i++ {
		raised = append(raised, eng.ProcessFrame(frameAt("s1", i, drowsy))...)
	}
	if countType(raised, AlertFatigueHigh) != 1 {
		t.Fatalf("expected one fatigue alert, got %+v", raised)
	}
	snap, ok := eng.metrics.Get("s1")
	if !ok || snap.Frame.Fatigue.Level != model.FatigueHigh || snap.Frames != 10 {
		t.Fatalf("snapshot: %+v", snap)
	}
}

func TestNoFaceFrameNeverAlertsOnFatigue(t *testing.T) {
	cfg := testConfig()
	cfg.Alerts.DeceptionThreshold = 0
	eng := newEngineForTest(cfg, &fakeTimer{})
	for i := 0; i < 10; i++ {
		if got := eng.ProcessFrame(frameAt("s1", i, nil)); len(got) != 0 {
			t.Fatalf("no-face alerts: %+v", got)
		}
	}
	view, err := eng.Session("s1")
	if err != nil || view.Frame.FaceFound || view.Frame.Fatigue.Score != 35 {
		t.Fatalf("view: %+v %v", view, err)
	}
}

func TestDuplicateFrameSuppressed(t *testing.T) {
	cfg := testConfig()
	cfg.Ingest.Parser.DedupeWindow = time.Second
	eng := newEngineForTest(cfg, &fakeTimer{})
	ev := frameAt("s1", 0, steadyFace())
	eng.ProcessFrame(ev)
	eng.ProcessFrame(ev)
	eng.ProcessFrame(frameAt("s2", 0, steadyFace()))
	view, err := eng.Session("s1")
	if err != nil || view.Frames != 1 {
		t.Fatalf("duplicate analyzed: %+v %v", view.SessionInfo, err)
	}
	if len(eng.Sessions()) != 2 {
		t.Fatalf("sessions: %+v", eng.Sessions())
	}
}

func TestDefaultSessionID(t *testing.T) {
	eng := newEngineForTest(testConfig(), &fakeTimer{})
	eng.ProcessFrame(model.FrameEvent{Timestamp: t0})
	if _, err := eng.Session("default"); err != nil {
		t.Fatalf("default session: %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	eng := newEngineForTest(testConfig(), &fakeTimer{})
	info := eng.CreateSession()
	if _, err := uuid.Parse(info.ID); err != nil {
		t.Fatalf("session id %q: %v", info.ID, err)
	}
	if !info.DefaultBaseline || info.Frames != 0 {
		t.Fatalf("info: %+v", info)
	}
	if err := eng.StartCalibration(info.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := eng.StartCalibration(info.ID); !errors.Is(err, ErrCalibrationInProgress) {
		t.Fatalf("second start: %v", err)
	}
	if err := eng.CancelCalibration(info.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := eng.StartCalibration("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("missing session: %v", err)
	}
	p, err := eng.SubmitPersonality(context.Background(), info.ID, []int{3, 3, 3, 3, 3, 3, 3, 3, 3, 3})
	if err != nil || p.Openness != 3 {
		t.Fatalf("personality: %+v %v", p, err)
	}
	view, _ := eng.Session(info.ID)
	if view.Profile == nil || view.Personality[model.Openness] != 50 {
		t.Fatalf("view profile: %+v", view)
	}
	if err := eng.EndSession(info.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := eng.Session(info.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("ended session still present: %v", err)
	}
}

func TestBaselinePersistedAndRestored(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "engine.db")
	store, err := storage.NewSQLite(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	ft := &fakeTimer{}
	cfg := testConfig()
	eng := NewEngine(cfg, nil, nil, nil, store, WithTimer(ft.schedule))
	eng.ProcessFrame(frameAt("s1", 0, steadyFace()))
	if err := eng.StartCalibration("s1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 1; i <= 10; i++ {
		eng.ProcessFrame(frameAt("s1", i, steadyFace()))
	}
	ft.fire()

	restarted := NewEngine(cfg, nil, nil, nil, store, WithTimer(ft.schedule))
	restarted.ProcessFrame(frameAt("s1", 20, steadyFace()))
	b, err := restarted.Baseline("s1")
	if err != nil {
		t.Fatalf("baseline: %v", err)
	}
	if b.Default || b.Attention.Mean != 99 {
		t.Fatalf("baseline not restored: %+v", b)
	}
}

func TestResetClearsSessions(t *testing.T) {
	eng := newEngineForTest(testConfig(), &fakeTimer{})
	eng.ProcessFrame(frameAt("s1", 0, steadyFace()))
	eng.Reset()
	if len(eng.Sessions()) != 0 {
		t.Fatalf("sessions survived reset")
	}
}

func TestStartConsumesChannel(t *testing.T) {
	eng := newEngineForTest(testConfig(), &fakeTimer{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in := make(chan model.FrameEvent, 1)
	eng.Start(ctx, in)
	in <- frameAt("s1", 0, steadyFace())
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := eng.metrics.Get("s1"); ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("frame not processed")
}

func TestClampTimestamp(t *testing.T) {
	now := t0
	if got := clampTimestamp(time.Time{}, now, 0, 0); !got.Equal(now) {
		t.Fatalf("zero ts: %v", got)
	}
	if got := clampTimestamp(now.Add(-time.Hour), now, time.Minute, 0); !got.Equal(now) {
		t.Fatalf("stale ts: %v", got)
	}
	if got := clampTimestamp(now.Add(time.Hour), now, 0, time.Second); !got.Equal(now) {
		t.Fatalf("future ts: %v", got)
	}
	past := now.Add(-time.Second)
	if got := clampTimestamp(past, now, time.Minute, time.Second); !got.Equal(past) {
		t.Fatalf("in-range ts moved: %v", got)
	}
}

func TestCooldownUsesFrameTime(t *testing.T) {
	c := NewCooldown()
	if !c.Allow("s", "a", t0, time.Second) {
		t.Fatalf("first")
	}
	if c.Allow("s", "a", t0.Add(500*time.Millisecond), time.Second) {
		t.Fatalf("inside cooldown")
	}
	if !c.Allow("s", "b", t0.Add(500*time.Millisecond), time.Second) {
		t.Fatalf("keys should be independent")
	}
	if !c.Allow("s", "a", t0.Add(time.Second), time.Second) {
		t.Fatalf("after cooldown")
	}
	c.Forget("s")
	if !c.Allow("s", "a", t0.Add(1100*time.Millisecond), time.Second) {
		t.Fatalf("forget")
	}
}

func TestMissingEyesDoNotRaiseMicrosleep(t *testing.T) {
	eng := newEngineForTest(testConfig(), &fakeTimer{})
	var raised []model.Alert
	for i := 0; i < 30; i++ {
		raised = append(raised, eng.ProcessFrame(frameAt("s1", i, &model.RawFeatures{EyesMissing: true}))...)
	}
	if n := countType(raised, AlertMicrosleep); n != 0 {
		t.Fatalf("microsleep raised %d times without eye data", n)
	}
}
