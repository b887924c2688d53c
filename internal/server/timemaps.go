package server

import (
	"errors"
	"net/http"
	"strings"

	"timeblock/internal/model"
	"timeblock/internal/storage"
	"timeblock/pkg/logx"
)

func (s *Server) handleListTimeMaps(w http.ResponseWriter, r *http.Request) {
	maps, err := s.store.ListTimeMaps(r.Context())
	if err != nil {
		s.log.Error("list timemaps failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	if maps == nil {
		maps = []model.TimeMap{}
	}
	writeJSON(w, http.StatusOK, maps)
}

func (s *Server) handleCreateTimeMap(w http.ResponseWriter, r *http.Request) {
	var m model.TimeMap
	if err := decodeJSON(r, &m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid timemap payload: "+err.Error())
		return
	}
	if strings.TrimSpace(m.ID) == "" {
		m.ID = newID()
	}
	if err := m.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.SaveTimeMap(r.Context(), &m); err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleUpdateTimeMap(w http.ResponseWriter, r *http.Request) {
	var m model.TimeMap
	if err := decodeJSON(r, &m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid timemap payload: "+err.Error())
		return
	}
	m.ID = r.PathValue("id")
	if err := m.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.SaveTimeMap(r.Context(), &m); err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleDeleteTimeMap removes the template. Tasks that still reference
// it keep the dangling id; the next run classifies them unscheduled.
func (s *Server) handleDeleteTimeMap(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteTimeMap(r.Context(), r.PathValue("id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "timemap not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
