package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"facesignal/internal/model"
)

func TestStoreKeepsLatestFrame(t *testing.T) {
	s := NewStore(10)
	s.Update("a", model.AnalysisFrame{Deception: 10}, 1)
	s.Update("a", model.AnalysisFrame{Deception: 20}, 2)
	snap, ok := s.Get("a")
	if !ok || snap.Frame.Deception != 20 || snap.Frames != 2 {
		t.Fatalf("snapshot: %+v", snap)
	}
	s.Update("", model.AnalysisFrame{}, 1)
	if s.Len() != 1 {
		t.Fatalf("empty session stored")
	}
}

func TestStoreEvictsOldest(t *testing.T) {
	s := NewStore(2)
	s.Update("a", model.AnalysisFrame{}, 1)
	time.Sleep(time.Millisecond)
	s.Update("b", model.AnalysisFrame{}, 1)
	time.Sleep(time.Millisecond)
	s.Update("c", model.AnalysisFrame{}, 1)
	if _, ok := s.Get("a"); ok {
		t.Fatalf("oldest session not evicted")
	}
	all := s.GetAll()
	if len(all) != 2 || all[0].SessionID != "b" || all[1].SessionID != "c" {
		t.Fatalf("sessions: %+v", all)
	}
}

func TestPrometheusExposition(t *testing.T) {
	p := NewPrometheus()
	p.ObserveFrame("s1", model.AnalysisFrame{
		FaceFound: true,
		Attention: model.AttentionReading{Level: 88},
		Deception: 42,
	})
	p.ObserveAlert(model.Alert{AlertType: "fatigue_high", Severity: "high"})
	p.FrameDropped()

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`facesignal_attention_level{session_id="s1"} 88`,
		`facesignal_deception_estimate{session_id="s1"} 42`,
		`facesignal_frames_processed_total{face="true"} 1`,
		`facesignal_alerts_total{alert_type="fatigue_high",severity="high"} 1`,
		`facesignal_frames_dropped_total 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in exposition:\n%s", want, body)
		}
	}

	p.Forget("s1")
	rec = httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if strings.Contains(rec.Body.String(), `session_id="s1"`) {
		t.Fatalf("gauges survived Forget")
	}
}

func TestNilPrometheusIsSafe(t *testing.T) {
	var p *Prometheus
	p.ObserveFrame("s", model.AnalysisFrame{})
	p.ObserveAlert(model.Alert{})
	p.FrameDropped()
	p.Forget("s")
	p.Reset()
}
