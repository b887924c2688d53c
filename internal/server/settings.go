package server

import (
	"net/http"
	"time"

	"timeblock/pkg/logx"
)

type settingsResponse struct {
	SchedulingHorizonDays int        `json:"schedulingHorizonDays"`
	LastRun               *time.Time `json:"lastRun,omitempty"`
}

type settingsRequest struct {
	SchedulingHorizonDays int `json:"schedulingHorizonDays"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	days, err := s.store.HorizonDays(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	resp := settingsResponse{SchedulingHorizonDays: days}
	if at, ok, err := s.store.LastRun(r.Context()); err == nil && ok {
		resp.LastRun = &at
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid settings payload: "+err.Error())
		return
	}
	if err := s.store.SetHorizonDays(r.Context(), req.SchedulingHorizonDays); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.log.Info("scheduling horizon updated", logx.Int("days", req.SchedulingHorizonDays))
	s.handleGetSettings(w, r)
}
