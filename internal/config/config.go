package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel string         `json:"log_level" yaml:"log_level" env:"LOG_LEVEL"`
	Ingest   IngestConfig   `json:"ingest" yaml:"ingest" envPrefix:"INGEST_"`
	Analysis AnalysisConfig `json:"analysis" yaml:"analysis" envPrefix:"ANALYSIS_"`
	Alerts   AlertsConfig   `json:"alerts" yaml:"alerts" envPrefix:"ALERTS_"`
	API      APIConfig      `json:"api" yaml:"api" envPrefix:"API_"`
	Storage  StorageConfig  `json:"storage" yaml:"storage" envPrefix:"STORAGE_"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics" envPrefix:"METRICS_"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer" env:"CHANNEL_BUFFER"`
	REST          RESTConfig      `json:"rest" yaml:"rest" envPrefix:"REST_"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream" envPrefix:"TCP_"`
	UDP           UDPConfig       `json:"udp" yaml:"udp" envPrefix:"UDP_"`
	FileTail      FileTailConfig  `json:"file_tail" yaml:"file_tail" envPrefix:"FILE_TAIL_"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka" envPrefix:"KAFKA_"`
	Parser        ParserConfig    `json:"parser" yaml:"parser" envPrefix:"PARSER_"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Addr    string `json:"addr" yaml:"addr" env:"ADDR"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Addr    string `json:"addr" yaml:"addr" env:"ADDR"`
}

type UDPConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Addr    string `json:"addr" yaml:"addr" env:"ADDR"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled" env:"ENABLED"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end" env:"START_AT_END"`
	Files      []string `json:"files" yaml:"files" env:"FILES"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Brokers []string `json:"brokers" yaml:"brokers" env:"BROKERS"`
	Topic   string   `json:"topic" yaml:"topic" env:"TOPIC"`
	GroupID string   `json:"group_id" yaml:"group_id" env:"GROUP_ID"`
}

type ParserConfig struct {
	Timezone         string        `json:"timezone" yaml:"timezone" env:"TIMEZONE"`
	DefaultSessionID string        `json:"default_session_id" yaml:"default_session_id" env:"DEFAULT_SESSION_ID"`
	MaxClockSkew     time.Duration `json:"max_clock_skew" yaml:"max_clock_skew" env:"MAX_CLOCK_SKEW"`
	MaxFutureSkew    time.Duration `json:"max_future_skew" yaml:"max_future_skew" env:"MAX_FUTURE_SKEW"`
	DedupeWindow     time.Duration `json:"dedupe_window" yaml:"dedupe_window" env:"DEDUPE_WINDOW"`
}

// AnalysisConfig holds the tuning constants of the fusion core.
type AnalysisConfig struct {
	Blink       BlinkConfig       `json:"blink" yaml:"blink" envPrefix:"BLINK_"`
	Emotion     EmotionConfig     `json:"emotion" yaml:"emotion" envPrefix:"EMOTION_"`
	Age         AgeConfig         `json:"age" yaml:"age" envPrefix:"AGE_"`
	Attention   AttentionConfig   `json:"attention" yaml:"attention" envPrefix:"ATTENTION_"`
	Fatigue     FatigueConfig     `json:"fatigue" yaml:"fatigue" envPrefix:"FATIGUE_"`
	Calibration CalibrationConfig `json:"calibration" yaml:"calibration" envPrefix:"CALIBRATION_"`
	Deception   DeceptionConfig   `json:"deception" yaml:"deception" envPrefix:"DECEPTION_"`
	History     HistoryConfig     `json:"history" yaml:"history" envPrefix:"HISTORY_"`
}

type BlinkConfig struct {
	EARThreshold float64       `json:"ear_threshold" yaml:"ear_threshold" env:"EAR_THRESHOLD"`
	MARThreshold float64       `json:"mar_threshold" yaml:"mar_threshold" env:"MAR_THRESHOLD"`
	Window       time.Duration `json:"window" yaml:"window" env:"WINDOW"`
	YawnCooldown time.Duration `json:"yawn_cooldown" yaml:"yawn_cooldown" env:"YAWN_COOLDOWN"`
}

type EmotionConfig struct {
	Decay  float64 `json:"decay" yaml:"decay" env:"DECAY"`
	Offset float64 `json:"offset" yaml:"offset" env:"OFFSET"`
	Lower  float64 `json:"lower" yaml:"lower" env:"LOWER"`
	Upper  float64 `json:"upper" yaml:"upper" env:"UPPER"`
}

type AgeConfig struct {
	Alpha float64 `json:"alpha" yaml:"alpha" env:"ALPHA"`
	Min   float64 `json:"min" yaml:"min" env:"MIN"`
	Max   float64 `json:"max" yaml:"max" env:"MAX"`
}

type AttentionConfig struct {
	Alpha       float64 `json:"alpha" yaml:"alpha" env:"ALPHA"`
	GazeWeight  float64 `json:"gaze_weight" yaml:"gaze_weight" env:"GAZE_WEIGHT"`
	HeadWeight  float64 `json:"head_weight" yaml:"head_weight" env:"HEAD_WEIGHT"`
	YawRange    float64 `json:"yaw_range" yaml:"yaw_range" env:"YAW_RANGE"`
	PitchRange  float64 `json:"pitch_range" yaml:"pitch_range" env:"PITCH_RANGE"`
	AwayCutoff  float64 `json:"away_cutoff" yaml:"away_cutoff" env:"AWAY_CUTOFF"`
	MinLevel    float64 `json:"min_level" yaml:"min_level" env:"MIN_LEVEL"`
	MaxLevel    float64 `json:"max_level" yaml:"max_level" env:"MAX_LEVEL"`
	NoFaceLevel float64 `json:"no_face_level" yaml:"no_face_level" env:"NO_FACE_LEVEL"`
}

type FatigueConfig struct {
	Alpha           float64 `json:"alpha" yaml:"alpha" env:"ALPHA"`
	ClosedThreshold float64 `json:"closed_threshold" yaml:"closed_threshold" env:"CLOSED_THRESHOLD"`
	HighLevel       float64 `json:"high_level" yaml:"high_level" env:"HIGH_LEVEL"`
	MediumLevel     float64 `json:"medium_level" yaml:"medium_level" env:"MEDIUM_LEVEL"`
	NoFaceScore     float64 `json:"no_face_score" yaml:"no_face_score" env:"NO_FACE_SCORE"`
}

type CalibrationConfig struct {
	Duration time.Duration `json:"duration" yaml:"duration" env:"DURATION"`
}

type DeceptionConfig struct {
	Weights DeceptionWeights `json:"weights" yaml:"weights" envPrefix:"WEIGHT_"`
}

type DeceptionWeights struct {
	Attention         float64 `json:"attention" yaml:"attention" env:"ATTENTION"`
	BlinkRate         float64 `json:"blink_rate" yaml:"blink_rate" env:"BLINK_RATE"`
	Fatigue           float64 `json:"fatigue" yaml:"fatigue" env:"FATIGUE"`
	HeadMotion        float64 `json:"head_motion" yaml:"head_motion" env:"HEAD_MOTION"`
	EmotionVolatility float64 `json:"emotion_volatility" yaml:"emotion_volatility" env:"EMOTION_VOLATILITY"`
}

func (w DeceptionWeights) Sum() float64 {
	return w.Attention + w.BlinkRate + w.Fatigue + w.HeadMotion + w.EmotionVolatility
}

type HistoryConfig struct {
	Attention  int `json:"attention" yaml:"attention" env:"ATTENTION"`
	Fatigue    int `json:"fatigue" yaml:"fatigue" env:"FATIGUE"`
	BlinkRate  int `json:"blink_rate" yaml:"blink_rate" env:"BLINK_RATE"`
	HeadMotion int `json:"head_motion" yaml:"head_motion" env:"HEAD_MOTION"`
	Emotion    int `json:"emotion" yaml:"emotion" env:"EMOTION"`
	Age        int `json:"age" yaml:"age" env:"AGE"`
	EAR        int `json:"ear" yaml:"ear" env:"EAR"`
}

type AlertsConfig struct {
	StoreLimit         int           `json:"store_limit" yaml:"store_limit" env:"STORE_LIMIT"`
	Cooldown           time.Duration `json:"cooldown" yaml:"cooldown" env:"COOLDOWN"`
	DeceptionThreshold int           `json:"deception_threshold" yaml:"deception_threshold" env:"DECEPTION_THRESHOLD"`
	MicrosleepEAR      float64       `json:"microsleep_ear" yaml:"microsleep_ear" env:"MICROSLEEP_EAR"`
	MicrosleepDuration time.Duration `json:"microsleep_duration" yaml:"microsleep_duration" env:"MICROSLEEP_DURATION"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Addr    string `json:"addr" yaml:"addr" env:"ADDR"`
}

type StorageConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Driver        string `json:"driver" yaml:"driver" env:"DRIVER"`
	DSN           string `json:"dsn" yaml:"dsn" env:"DSN"`
	SnapshotEvery int    `json:"snapshot_every" yaml:"snapshot_every" env:"SNAPSHOT_EVERY"`
}

type MetricsConfig struct {
	StoreLimit int  `json:"store_limit" yaml:"store_limit" env:"STORE_LIMIT"`
	Prometheus bool `json:"prometheus" yaml:"prometheus" env:"PROMETHEUS"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9000"},
			UDP:           UDPConfig{Enabled: false, Addr: ":9001"},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:         KafkaConfig{Enabled: false},
			Parser: ParserConfig{
				Timezone:         "UTC",
				DefaultSessionID: "default",
				MaxFutureSkew:    2 * time.Second,
				DedupeWindow:     1 * time.Second,
			},
		},
		Analysis: DefaultAnalysis(),
		Alerts: AlertsConfig{
			StoreLimit:         1000,
			Cooldown:           30 * time.Second,
			DeceptionThreshold: 60,
			MicrosleepEAR:      0.10,
			MicrosleepDuration: 1500 * time.Millisecond,
		},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:facesignal.db?_pragma=busy_timeout(5000)", SnapshotEvery: 30},
		Metrics: MetricsConfig{StoreLimit: 5000, Prometheus: true},
	}
}

func DefaultAnalysis() AnalysisConfig {
	return AnalysisConfig{
		Blink: BlinkConfig{
			EARThreshold: 0.18,
			MARThreshold: 0.5,
			Window:       60 * time.Second,
			YawnCooldown: 3 * time.Second,
		},
		Emotion: EmotionConfig{Decay: 0.88, Offset: 0.08, Lower: 0.40, Upper: 0.97},
		Age:     AgeConfig{Alpha: 0.12, Min: 18, Max: 48},
		Attention: AttentionConfig{
			Alpha:       0.15,
			GazeWeight:  0.6,
			HeadWeight:  0.4,
			YawRange:    30,
			PitchRange:  20,
			AwayCutoff:  55,
			MinLevel:    20,
			MaxLevel:    99,
			NoFaceLevel: 50,
		},
		Fatigue: FatigueConfig{
			Alpha:           0.18,
			ClosedThreshold: 0.20,
			HighLevel:       67,
			MediumLevel:     34,
			NoFaceScore:     35,
		},
		Calibration: CalibrationConfig{Duration: 5 * time.Second},
		Deception: DeceptionConfig{Weights: DeceptionWeights{
			Attention:         0.28,
			BlinkRate:         0.22,
			Fatigue:           0.16,
			HeadMotion:        0.18,
			EmotionVolatility: 0.16,
		}},
		History: HistoryConfig{
			Attention:  30,
			Fatigue:    30,
			BlinkRate:  30,
			HeadMotion: 30,
			Emotion:    40,
			Age:        45,
			EAR:        60,
		},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from FACESIGNAL_* environment variables.
// Unset variables leave the current value alone.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "FACESIGNAL_"}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultAnalysis()
	a := &cfg.Analysis
	if a.Blink.Window <= 0 {
		a.Blink.Window = def.Blink.Window
	}
	if a.Calibration.Duration <= 0 {
		a.Calibration.Duration = def.Calibration.Duration
	}
	if a.Deception.Weights.Sum() <= 0 {
		a.Deception.Weights = def.Deception.Weights
	}
	h := &a.History
	for _, pair := range []struct {
		v   *int
		def int
	}{
		{&h.Attention, def.History.Attention},
		{&h.Fatigue, def.History.Fatigue},
		{&h.BlinkRate, def.History.BlinkRate},
		{&h.HeadMotion, def.History.HeadMotion},
		{&h.Emotion, def.History.Emotion},
		{&h.Age, def.History.Age},
		{&h.EAR, def.History.EAR},
	} {
		if *pair.v <= 0 {
			*pair.v = pair.def
		}
	}
	if cfg.Metrics.StoreLimit <= 0 {
		cfg.Metrics.StoreLimit = 5000
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = 1000
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Ingest.Parser.Timezone == "" {
		cfg.Ingest.Parser.Timezone = "UTC"
	}
	if cfg.Ingest.Parser.DefaultSessionID == "" {
		cfg.Ingest.Parser.DefaultSessionID = "default"
	}
	if cfg.Storage.SnapshotEvery <= 0 {
		cfg.Storage.SnapshotEvery = 30
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.UDP.Enabled && cfg.Ingest.UDP.Addr == "" {
		return errors.New("ingest.udp.addr required when ingest.udp.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	return ValidateAnalysis(cfg.Analysis)
}

func ValidateAnalysis(a AnalysisConfig) error {
	if a.Emotion.Decay <= 0 || a.Emotion.Decay >= 1 {
		return fmt.Errorf("analysis.emotion.decay must be in (0,1): %v", a.Emotion.Decay)
	}
	if a.Emotion.Lower > a.Emotion.Upper {
		return errors.New("analysis.emotion.lower must not exceed upper")
	}
	for name, alpha := range map[string]float64{
		"age":       a.Age.Alpha,
		"attention": a.Attention.Alpha,
		"fatigue":   a.Fatigue.Alpha,
	} {
		if alpha <= 0 || alpha > 1 {
			return fmt.Errorf("analysis.%s.alpha must be in (0,1]: %v", name, alpha)
		}
	}
	if a.Age.Min >= a.Age.Max {
		return errors.New("analysis.age.min must be below max")
	}
	if a.Attention.YawRange <= 0 || a.Attention.PitchRange <= 0 {
		return errors.New("analysis.attention yaw_range and pitch_range must be > 0")
	}
	if a.Fatigue.MediumLevel >= a.Fatigue.HighLevel {
		return errors.New("analysis.fatigue.medium_level must be below high_level")
	}
	if a.Blink.Window <= 0 {
		return fmt.Errorf("analysis.blink.window must be positive: %s", a.Blink.Window)
	}
	if a.Calibration.Duration <= 0 {
		return fmt.Errorf("analysis.calibration.duration must be positive: %s", a.Calibration.Duration)
	}
	if a.Deception.Weights.Sum() <= 0 {
		return errors.New("analysis.deception.weights must sum to > 0")
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config; Reload and Watch are no-ops.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
