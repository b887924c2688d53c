// Package server exposes the HTTP API: manual reschedule trigger,
// task and TimeMap CRUD with edit-time validation, the day agenda
// view, and scheduler settings.
package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"timeblock/internal/engine"
	"timeblock/internal/storage"
	"timeblock/pkg/logx"
)

// Options carries the wiring the handlers need.
type Options struct {
	Store  *storage.Store
	Engine *engine.Service
	Busy   engine.BusySource
	// Location sets the zone used for day boundaries in the agenda.
	Location *time.Location
	// Token enables bearer auth when non-empty. /health stays open.
	Token string
	// ReschedulePerMin rate-limits POST /api/reschedule; 0 keeps the
	// default of 6 per minute.
	ReschedulePerMin int
	Log              logx.Logger
}

type Server struct {
	store   *storage.Store
	engine  *engine.Service
	busy    engine.BusySource
	loc     *time.Location
	token   string
	limiter *rate.Limiter
	log     logx.Logger
	mux     *http.ServeMux
}

func New(opts Options) *Server {
	perMin := opts.ReschedulePerMin
	if perMin <= 0 {
		perMin = 6
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		store:   opts.Store,
		engine:  opts.Engine,
		busy:    opts.Busy,
		loc:     loc,
		token:   strings.TrimSpace(opts.Token),
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), perMin),
		log:     log,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("POST /api/reschedule", s.handleReschedule)

	s.mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	s.mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	s.mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	s.mux.HandleFunc("PUT /api/tasks/{id}", s.handleUpdateTask)
	s.mux.HandleFunc("DELETE /api/tasks/{id}", s.handleDeleteTask)
	s.mux.HandleFunc("POST /api/tasks/{id}/complete", s.handleCompleteOccurrence)

	s.mux.HandleFunc("GET /api/timemaps", s.handleListTimeMaps)
	s.mux.HandleFunc("POST /api/timemaps", s.handleCreateTimeMap)
	s.mux.HandleFunc("PUT /api/timemaps/{id}", s.handleUpdateTimeMap)
	s.mux.HandleFunc("DELETE /api/timemaps/{id}", s.handleDeleteTimeMap)

	s.mux.HandleFunc("GET /api/agenda", s.handleAgenda)

	s.mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	s.mux.HandleFunc("PUT /api/settings", s.handlePutSettings)
}

// Handler returns the routed handler, wrapped with bearer auth when a
// token is configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.token == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			h.ServeHTTP(w, r)
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !secureCompare(got, s.token) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		h.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleReschedule(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "reschedule rate limit exceeded")
		return
	}
	sum, err := s.engine.Run(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, sum)
	case err == engine.ErrRunInProgress:
		writeJSON(w, http.StatusConflict, sum)
	default:
		s.log.Error("manual reschedule failed", logx.Err(err))
		writeJSON(w, http.StatusServiceUnavailable, sum)
	}
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
