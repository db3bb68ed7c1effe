// Package api exposes the operational HTTP surface: status, performance
// snapshots, recent alerts, direct interpretation and policy updates.
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

	"edgesentry/internal/alerts"
	"edgesentry/internal/config"
	"edgesentry/internal/model"
	"edgesentry/internal/pipeline"
)

// Interpreter is the pipeline surface the API needs.
type Interpreter interface {
	InterpretEvent(ctx context.Context, ev model.PerceptionEvent) (model.InterpretationResult, error)
	InterpretSequence(ctx context.Context, events []model.PerceptionEvent) ([]model.InterpretationResult, error)
	Perf() pipeline.PerfReport
	Reset()
	UpdateConfig(cfg *config.Config)
}

type Server struct {
	cfg     *config.Manager
	engine  Interpreter
	alerts  *alerts.Store
	logger  *slog.Logger
	version string
}

type statusResponse struct {
	Status     string       `json:"status"`
	Time       string       `json:"time"`
	Version    string       `json:"version"`
	Mode       string       `json:"mode"`
	ConfigPath string       `json:"config_path"`
	Ingest     ingestStatus `json:"ingest"`
	API        apiStatus    `json:"api"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	Syslog    bool `json:"syslog"`
	FileTail  bool `json:"file_tail"`
	TCPStream bool `json:"tcp_stream"`
	Kafka     bool `json:"kafka"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

func Start(ctx context.Context, cfg *config.Manager, engine Interpreter, alertsStore *alerts.Store, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:     cfg,
		engine:  engine,
		alerts:  alertsStore,
		logger:  logger,
		version: version,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/perf", server.handlePerf)
	mux.HandleFunc("/alerts", server.handleAlerts)
	mux.HandleFunc("/interpret", server.handleInterpret)
	mux.HandleFunc("/config/policy", server.handlePolicy)
	mux.HandleFunc("/admin/clear", server.handleClear)
	mux.HandleFunc("/admin/restart", server.handleRestart)

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
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
		Mode:       cfg.Mode,
		ConfigPath: s.cfg.Path(),
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			Syslog:    cfg.Ingest.Syslog.Enabled,
			FileTail:  cfg.Ingest.FileTail.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
		},
		API: apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePerf(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Perf())
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	sinceStr := r.URL.Query().Get("since")
	var list []alerts.Record
	if sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.alerts.Since(ts)
	} else {
		list = s.alerts.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

// handleInterpret runs one event, or a sequence when the body is a JSON
// array, through the pipeline and returns the full result.
func (s *Server) handleInterpret(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	trim := strings.TrimSpace(string(body))
	if trim == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if trim[0] == '[' {
		var events []model.PerceptionEvent
		if err := json.Unmarshal([]byte(trim), &events); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		results, err := s.engine.InterpretSequence(r.Context(), events)
		if err != nil {
			writeError(w, interpretStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"results": results,
			"count":   len(results),
		})
		return
	}

	var ev model.PerceptionEvent
	if err := json.Unmarshal([]byte(trim), &ev); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := s.engine.InterpretEvent(r.Context(), ev)
	if err != nil {
		writeError(w, interpretStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func interpretStatus(err error) int {
	if errors.Is(err, model.ErrValidation) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"policy": s.cfg.Get().Policy,
		})
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var policy config.PolicyConfig
		if err := json.Unmarshal(body, &policy); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		current := s.cfg.Get()
		next := *current
		next.Policy = policy
		if err := s.cfg.Update(&next); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if s.engine != nil {
			s.engine.UpdateConfig(&next)
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
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
		if s.engine != nil {
			s.engine.Reset()
		}
		if s.alerts != nil {
			s.alerts.Clear()
		}
	case "alerts":
		if s.alerts != nil {
			s.alerts.Clear()
		}
	case "state", "memory":
		if s.engine != nil {
			s.engine.Reset()
		}
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
	if s.alerts != nil {
		s.alerts.Clear()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
