package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"timeblock/internal/model"
	"timeblock/internal/storage"
	"timeblock/pkg/logx"
)

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks(r.Context())
	if err != nil {
		s.log.Error("list tasks failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetTask(r.Context(), r.PathValue("id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var t model.Task
	if err := decodeJSON(r, &t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid task payload: "+err.Error())
		return
	}
	if strings.TrimSpace(t.ID) == "" {
		t.ID = newID()
	} else if existing, err := s.store.GetTask(r.Context(), t.ID); err == nil && existing != nil {
		writeError(w, http.StatusConflict, fmt.Sprintf("task %s already exists", t.ID))
		return
	}

	// A fresh task starts with no derived scheduling state.
	t.ScheduleStatus = model.StatusUnscheduled
	t.ScheduledInstances = nil
	t.LastScheduledRun = nil

	if err := s.validateTaskEdit(r, &t); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.SaveTask(r.Context(), &t); err != nil {
		s.log.Error("save task failed", logx.String("task", t.ID), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := s.store.GetTask(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	var t model.Task
	if err := decodeJSON(r, &t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid task payload: "+err.Error())
		return
	}
	t.ID = id
	// Engine-owned fields cannot be edited through the API.
	t.ScheduleStatus = existing.ScheduleStatus
	t.ScheduledInstances = existing.ScheduledInstances
	t.LastScheduledRun = existing.LastScheduledRun
	t.CreatedAt = existing.CreatedAt

	if err := s.validateTaskEdit(r, &t); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.SaveTask(r.Context(), &t); err != nil {
		s.log.Error("save task failed", logx.String("task", id), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteTask(r.Context(), r.PathValue("id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCompleteOccurrence marks one occurrence day done. For a
// non-repeating task the whole task becomes completed; for a repeating
// task only that day is excluded from future placement.
func (s *Server) handleCompleteOccurrence(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetTask(r.Context(), r.PathValue("id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	day := time.Now().In(s.loc)
	if q := r.URL.Query().Get("day"); q != "" {
		day, err = time.ParseInLocation(model.DayKeyFormat, q, s.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "day must be YYYY-MM-DD")
			return
		}
	}

	if !t.IsOccurrenceCompleted(day) {
		t.CompletedOccurrences = append(t.CompletedOccurrences, model.DayKey(day))
	}
	if t.Repeat.IsNone() {
		t.ScheduleStatus = model.StatusCompleted
		t.ScheduledInstances = nil
	}
	if err := s.store.SaveTask(r.Context(), t); err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// validateTaskEdit runs the single-task invariants plus the relational
// ones that need the full task set: the parent must exist and the new
// edge must not close a cycle.
func (s *Server) validateTaskEdit(r *http.Request, t *model.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ParentID == "" {
		return nil
	}
	tasks, err := s.store.ListTasks(r.Context())
	if err != nil {
		return errors.New("storage error")
	}
	parents := make(map[string]string, len(tasks))
	found := false
	for _, other := range tasks {
		if other.ID != t.ID {
			parents[other.ID] = other.ParentID
		}
		if other.ID == t.ParentID {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("parent task %s does not exist", t.ParentID)
	}
	if model.WouldCycle(parents, t.ID, t.ParentID) {
		return errors.New("parent assignment would create a cycle")
	}
	return nil
}

func newID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
