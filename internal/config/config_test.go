package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAMLKeepsDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", `
log_level: debug
analysis:
  emotion:
    decay: 0.9
    offset: 0.05
    lower: 0.3
    upper: 0.95
  blink:
    ear_threshold: 0.2
    mar_threshold: 0.5
    window: 30s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level: %s", cfg.LogLevel)
	}
	if cfg.Analysis.Emotion.Decay != 0.9 {
		t.Fatalf("decay: %v", cfg.Analysis.Emotion.Decay)
	}
	if cfg.Analysis.Blink.Window != 30*time.Second {
		t.Fatalf("blink window: %s", cfg.Analysis.Blink.Window)
	}
	if cfg.Analysis.Calibration.Duration != 5*time.Second {
		t.Fatalf("calibration default lost: %s", cfg.Analysis.Calibration.Duration)
	}
	if cfg.Analysis.History.EAR != 60 {
		t.Fatalf("ear history default lost: %d", cfg.Analysis.History.EAR)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{"api":{"enabled":true,"addr":":9999"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.Addr != ":9999" {
		t.Fatalf("api addr: %s", cfg.API.Addr)
	}
}

func TestLoadEmpty(t *testing.T) {
	path := writeFile(t, "config.yaml", "   \n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for empty config")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("FACESIGNAL_LOG_LEVEL", "warn")
	t.Setenv("FACESIGNAL_ANALYSIS_CALIBRATION_DURATION", "8s")
	t.Setenv("FACESIGNAL_INGEST_KAFKA_BROKERS", "a:9092,b:9092")
	path := writeFile(t, "config.yaml", "log_level: debug\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("env should override file, got %s", cfg.LogLevel)
	}
	if cfg.Analysis.Calibration.Duration != 8*time.Second {
		t.Fatalf("calibration duration: %s", cfg.Analysis.Calibration.Duration)
	}
	if len(cfg.Ingest.Kafka.Brokers) != 2 {
		t.Fatalf("brokers: %v", cfg.Ingest.Kafka.Brokers)
	}
}

func TestEnvOverrideBadValue(t *testing.T) {
	t.Setenv("FACESIGNAL_ALERTS_DECEPTION_THRESHOLD", "lots")
	path := writeFile(t, "config.yaml", "log_level: info\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env error, got %v", err)
	}
}

func TestValidateRejectsBadDecay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Analysis.Emotion.Decay = 1.2
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected decay validation error")
	}
}

func TestValidateKafka(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ingest.Kafka.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected kafka validation error")
	}
}

func TestDefaultWeightsSumToOne(t *testing.T) {
	w := DefaultAnalysis().Deception.Weights
	if diff := w.Sum() - 1; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("weights sum: %v", w.Sum())
	}
}

func TestSaveRoundTripYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := DefaultConfig()
	cfg.Alerts.DeceptionThreshold = 70
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Alerts.DeceptionThreshold != 70 {
		t.Fatalf("threshold: %d", loaded.Alerts.DeceptionThreshold)
	}
}
