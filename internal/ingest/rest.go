package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"
)

type RESTServer struct {
	pipeline *Pipeline
}

func StartREST(ctx context.Context, p *Pipeline) *http.Server {
	current := p.cfg.Get().Ingest.REST
	if !current.Enabled {
		p.logger.Info("rest ingest disabled")
		return nil
	}
	p.logger.Info("rest ingest enabled", "addr", current.Addr)
	httpServer := &http.Server{Addr: current.Addr, Handler: NewRESTHandler(p)}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("rest ingest server error", "err", err)
		}
	}()
	return httpServer
}

func NewRESTHandler(p *Pipeline) http.Handler {
	server := &RESTServer{pipeline: p}
	mux := http.NewServeMux()
	mux.HandleFunc("/frames", server.handleFrames)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// handleFrames accepts one frame object or an array of them.
func (s *RESTServer) handleFrames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	trim := bytes.TrimSpace(body)
	if len(trim) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var list []map[string]interface{}
	if trim[0] == '[' {
		if err := json.Unmarshal(trim, &list); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	} else {
		var obj map[string]interface{}
		if err := json.Unmarshal(trim, &obj); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = append(list, obj)
	}

	accepted := 0
	failed := 0
	for _, obj := range list {
		if err := s.processMap(r.Context(), obj); err != nil {
			failed++
			continue
		}
		accepted++
	}

	w.Header().Set("Content-Type", "application/json")
	if accepted == 0 {
		w.WriteHeader(http.StatusBadRequest)
	} else {
		w.WriteHeader(http.StatusAccepted)
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"accepted": accepted,
		"failed":   failed,
	})
}

func (s *RESTServer) processMap(ctx context.Context, obj map[string]interface{}) error {
	fields, err := ParseJSONMap(obj)
	if err != nil {
		s.pipeline.logger.Warn("rest frame decode error", "err", err)
		return err
	}
	fields.Raw = "rest"
	return s.pipeline.Fields(context.WithoutCancel(ctx), fields, "rest")
}
