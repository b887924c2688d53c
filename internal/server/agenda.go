package server

import (
	"net/http"
	"time"

	"timeblock/internal/layout"
	"timeblock/internal/model"
	"timeblock/pkg/logx"
)

// agendaResponse is one day's renderable view: placed task blocks and
// external busy blocks, with overlap columns assigned.
type agendaResponse struct {
	Day    string         `json:"day"`
	Events []layout.Event `json:"events"`
}

// handleAgenda returns the agenda for ?day=YYYY-MM-DD (default today).
func (s *Server) handleAgenda(w http.ResponseWriter, r *http.Request) {
	day := time.Now().In(s.loc)
	if q := r.URL.Query().Get("day"); q != "" {
		var err error
		day, err = time.ParseInLocation(model.DayKeyFormat, q, s.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "day must be YYYY-MM-DD")
			return
		}
	}
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, s.loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	tasks, err := s.store.ListTasks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	events := make([]layout.Event, 0)
	for _, t := range tasks {
		for _, in := range t.ScheduledInstances {
			if !in.End.After(dayStart) || !in.Start.Before(dayEnd) {
				continue
			}
			events = append(events, layout.Event{
				ID:    t.ID + ":" + in.Start.Format(time.RFC3339),
				Kind:  "task",
				Title: t.Title,
				Start: in.Start,
				End:   in.End,
			})
		}
	}

	if s.busy != nil {
		busy, err := s.busy.ListBusyIntervals(r.Context(), dayStart, dayEnd)
		if err != nil {
			// Same degradation rule as the engine: the agenda renders
			// without external blocks rather than failing.
			s.log.Warn("agenda busy lookup failed", logx.Err(err))
		}
		for _, b := range busy {
			if !b.End.After(dayStart) || !b.Start.Before(dayEnd) {
				continue
			}
			events = append(events, layout.Event{
				ID:    b.CalendarID + ":" + b.Start.Format(time.RFC3339),
				Kind:  "busy",
				Start: b.Start,
				End:   b.End,
			})
		}
	}

	resp := agendaResponse{
		Day:    model.DayKey(dayStart),
		Events: layout.Assign(events),
	}
	if resp.Events == nil {
		resp.Events = []layout.Event{}
	}
	writeJSON(w, http.StatusOK, resp)
}
