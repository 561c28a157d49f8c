package httpctrl

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/Agrid-Dev/thermobrew/internal/controllers/wire"
	"github.com/Agrid-Dev/thermobrew/internal/logger"
	"github.com/Agrid-Dev/thermobrew/internal/ports"
)

const maxBodyBytes = 64 << 10

type Server struct {
	svc      ports.ConfigService
	status   ports.StatusSource
	srv      *http.Server
	deviceID string
	log      *logger.Logger
}

// New returns a runnable server. status may be nil, in which case /status
// is not served.
func New(svc ports.ConfigService, status ports.StatusSource, addr string, deviceID string, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	mux := http.NewServeMux()
	s := &Server{svc: svc, status: status, deviceID: deviceID, log: log}

	// Read and partial write share one path; other methods get a plain 404.
	mux.HandleFunc("/config", s.handleConfig)

	if status != nil {
		mux.HandleFunc("GET /status", s.handleStatus)
	}

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the routes, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// ---- DTOs ----

type statusDTO struct {
	DeviceID    string    `json:"deviceId"`
	Ticking     bool      `json:"ticking"`
	State       string    `json:"state"`
	StateCode   int       `json:"stateCode"`
	CurrentTemp float64   `json:"currentTemp"`
	LastTick    time.Time `json:"lastTick"`
	Ticks       uint64    `json:"ticks"`
}

// ---- Handlers ----

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, wire.ToDTO(s.svc.Get()))
	case http.MethodPost:
		s.handlePostConfig(w, r)
	default:
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("Method not allowed"))
	}
}

func (s *Server) handlePostConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.log.Warnw("read config body failed", "remote", r.RemoteAddr, "err", err)
		writeErr(w, http.StatusBadRequest, "invalid body")
		return
	}

	p, err := wire.DecodePatch(body)
	if err != nil {
		s.log.Warnw("malformed config update", "remote", r.RemoteAddr, "err", err)
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	snap := s.svc.Apply(p)
	s.log.Debugw("config updated", "remote", r.RemoteAddr, "config", snap)
	writeJSON(w, http.StatusOK, wire.ToDTO(snap))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.status.Status()
	writeJSON(w, http.StatusOK, statusDTO{
		DeviceID:    s.deviceID,
		Ticking:     st.Ticking,
		State:       st.State.String(),
		StateCode:   int(st.State),
		CurrentTemp: st.CurrentTemp,
		LastTick:    st.LastTick,
		Ticks:       st.Ticks,
	})
}

// ---- generic helpers ----

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
