package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"facesignal/internal/alerts"
	"facesignal/internal/config"
	"facesignal/internal/engine"
	"facesignal/internal/logging"
	"facesignal/internal/metrics"
	"facesignal/internal/model"
	"facesignal/internal/personality"
)

// EngineControl is the slice of the engine the API drives.
type EngineControl interface {
	Reset()
	UpdateConfig(cfg *config.Config)
	Started() time.Time
	CreateSession() engine.SessionInfo
	Sessions() []engine.SessionInfo
	Session(id string) (engine.SessionView, error)
	EndSession(id string) error
	StartCalibration(id string) error
	CancelCalibration(id string) error
	Baseline(id string) (*model.Baseline, error)
	DeceptionEstimate(id string) (engine.DeceptionBreakdown, error)
	SubmitPersonality(ctx context.Context, id string, answers []int) (model.BigFiveProfile, error)
}

type Server struct {
	cfg     *config.Manager
	metrics *metrics.Store
	alerts  *alerts.Store
	prom    *metrics.Prometheus
	engine  EngineControl
	logger  *slog.Logger
	version string
}

type statusResponse struct {
	Status     string              `json:"status"`
	Time       string              `json:"time"`
	Started    string              `json:"started"`
	Version    string              `json:"version"`
	ConfigPath string              `json:"config_path"`
	Sessions   int                 `json:"sessions"`
	Alerts     int                 `json:"alerts"`
	Ingest     ingestStatus        `json:"ingest"`
	API        apiStatus           `json:"api"`
	Thresholds config.AlertsConfig `json:"thresholds"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	UDP       bool `json:"udp"`
	FileTail  bool `json:"file_tail"`
	TCPStream bool `json:"tcp_stream"`
	Kafka     bool `json:"kafka"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

func New(cfg *config.Manager, metricsStore *metrics.Store, alertsStore *alerts.Store, prom *metrics.Prometheus, eng EngineControl, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{
		cfg:     cfg,
		metrics: metricsStore,
		alerts:  alertsStore,
		prom:    prom,
		engine:  eng,
		logger:  logger,
		version: version,
	}
}

func Start(ctx context.Context, s *Server) *http.Server {
	if s == nil || s.cfg == nil {
		return nil
	}
	current := s.cfg.Get().API
	if !current.Enabled {
		s.logger.Info("api disabled")
		return nil
	}
	s.logger.Info("api enabled", "addr", current.Addr)

	httpServer := &http.Server{Addr: current.Addr, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("api server error", "err", err)
		}
	}()
	return httpServer
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/sessions/", s.handleSession)
	mux.HandleFunc("/snapshots", s.handleSnapshots)
	mux.HandleFunc("/snapshots/", s.handleSnapshots)
	mux.HandleFunc("/alerts", s.handleAlerts)
	mux.HandleFunc("/config/alerts", s.handleAlertConfig)
	mux.HandleFunc("/personality/items", s.handlePersonalityItems)
	mux.HandleFunc("/admin/clear", s.handleClear)
	mux.HandleFunc("/admin/restart", s.handleRestart)
	if s.prom != nil {
		mux.Handle("/metrics", s.prom.Handler())
	}
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			UDP:       cfg.Ingest.UDP.Enabled,
			FileTail:  cfg.Ingest.FileTail.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
		},
		API:        apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		Thresholds: cfg.Alerts,
	}
	if s.engine != nil {
		resp.Started = s.engine.Started().Format(time.RFC3339Nano)
		resp.Sessions = len(s.engine.Sessions())
	}
	if s.alerts != nil {
		resp.Alerts = s.alerts.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list := s.engine.Sessions()
		writeJSON(w, http.StatusOK, map[string]any{
			"sessions": list,
			"count":    len(list),
		})
	case http.MethodPost:
		info := s.engine.CreateSession()
		writeJSON(w, http.StatusCreated, info)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleSession routes /sessions/{id} and its sub-resources.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/sessions/"), "/")
	if rest == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id, sub, _ := strings.Cut(rest, "/")
	switch sub {
	case "":
		s.handleSessionRoot(w, r, id)
	case "calibration":
		s.handleCalibration(w, r, id)
	case "baseline":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		b, err := s.engine.Baseline(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	case "deception":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		bd, err := s.engine.DeceptionEstimate(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, bd)
	case "personality":
		s.handlePersonality(w, r, id)
	case "alerts":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		list := s.alerts.ForSession(id, queryInt(r, "limit"))
		writeJSON(w, http.StatusOK, map[string]any{
			"alerts": list,
			"count":  len(list),
		})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) handleSessionRoot(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		view, err := s.engine.Session(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case http.MethodDelete:
		if err := s.engine.EndSession(id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCalibration(w http.ResponseWriter, r *http.Request, id string) {
	var err error
	switch r.Method {
	case http.MethodPost:
		err = s.engine.StartCalibration(id)
	case http.MethodDelete:
		err = s.engine.CancelCalibration(id)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	calibrating := r.Method == http.MethodPost
	status := http.StatusOK
	if calibrating {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]any{
		"session_id":  id,
		"calibrating": calibrating,
		"duration":    s.cfg.Get().Analysis.Calibration.Duration.String(),
	})
}

func (s *Server) handlePersonality(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		view, err := s.engine.Session(id)
		if err != nil {
			writeError(w, err)
			return
		}
		if view.Profile == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"profile": view.Profile,
			"percent": view.Personality,
		})
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var req struct {
			Answers []int `json:"answers"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		p, err := s.engine.SubmitPersonality(r.Context(), id, req.Answers)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"profile": p,
			"percent": personality.Percents(p),
		})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePersonalityItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": personality.Items})
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/snapshots")
	path = strings.TrimPrefix(path, "/")
	if path != "" {
		snap, ok := s.metrics.Get(path)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, snap)
		return
	}
	all := s.metrics.GetAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshots": all,
		"count":     len(all),
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := queryInt(r, "limit")
	sinceStr := r.URL.Query().Get("since")
	var list []model.Alert
	switch {
	case sinceStr != "":
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.alerts.Since(ts)
	case r.URL.Query().Get("session") != "":
		list = s.alerts.ForSession(r.URL.Query().Get("session"), limit)
	default:
		list = s.alerts.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

// handleAlertConfig reads or replaces the alert thresholds at runtime.
func (s *Server) handleAlertConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"alerts": s.cfg.Get().Alerts})
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		current := s.cfg.Get()
		next := *current
		if err := json.Unmarshal(body, &next.Alerts); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := config.Validate(&next); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		if err := s.cfg.Update(&next); err != nil {
			s.logger.Error("config update failed", "err", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if s.engine != nil {
			s.engine.UpdateConfig(&next)
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "alerts": next.Alerts})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.metrics.Clear()
		s.alerts.Clear()
	case "alerts":
		s.alerts.Clear()
	case "snapshots", "metrics":
		s.metrics.Clear()
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.engine != nil {
		s.engine.Reset()
	}
	s.metrics.Clear()
	s.alerts.Clear()
	s.logger.Info("engine state reset")
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func queryInt(r *http.Request, key string) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

// writeError maps engine errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrCalibrationInProgress), errors.Is(err, engine.ErrNoCalibration):
		status = http.StatusConflict
	case errors.Is(err, personality.ErrInvalidAnswerCount), errors.Is(err, personality.ErrAnswerOutOfRange):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
