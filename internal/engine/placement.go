package engine

import (
	"sort"
	"time"

	"timeblock/internal/interval"
	"timeblock/internal/model"
	"timeblock/internal/recur"
)

// placeTask places all eligible occurrences of a leaf task and assigns
// its final status. Pieces are carved greedily from the front of each
// free interval, never smaller than the task's minimum block unless the
// piece exactly completes the remaining duration. Every carved piece is
// committed to the run arena immediately so later tasks see it as busy.
//
// earliest is an extra lower bound imposed by sequential subtask
// chains; for top-level units it is simply now.
func (r *run) placeTask(t *model.Task, earliest time.Time) (time.Time, bool) {
	occs := recur.Expand(t.Repeat, r.anchorFor(t), r.now, r.horizonEnd, t.CompletedOccurrences)
	if len(occs) == 0 {
		// Structurally outside the planning window this run.
		t.ScheduleStatus = model.StatusIgnored
		return time.Time{}, false
	}

	var lastEnd time.Time
	for i, occ := range occs {
		window := r.occurrenceWindow(t, occs, i, earliest)
		if window.Empty() {
			continue
		}
		placed := r.fillWindow(t, window, model.DayKey(occ))
		for _, inst := range placed {
			if inst.End.After(lastEnd) {
				lastEnd = inst.End
			}
		}
		t.ScheduledInstances = append(t.ScheduledInstances, placed...)
	}

	sort.Slice(t.ScheduledInstances, func(i, j int) bool {
		return t.ScheduledInstances[i].Start.Before(t.ScheduledInstances[j].Start)
	})

	if len(t.ScheduledInstances) == 0 {
		t.ScheduleStatus = model.StatusUnscheduled
		return time.Time{}, false
	}
	// Partial placement still counts: best-effort semantics. Any
	// remainder is dropped for this run, not retried with smaller
	// slices.
	t.ScheduleStatus = model.StatusScheduled
	return lastEnd, true
}

// anchorFor picks the date recurrence stepping starts from. A
// non-repeating task anchors at the first moment it may be placed; a
// repeating rule steps from its defined start.
func (r *run) anchorFor(t *model.Task) time.Time {
	if t.Repeat.IsNone() {
		anchor := r.now
		if t.StartFrom != nil && t.StartFrom.After(anchor) {
			anchor = *t.StartFrom
		}
		return anchor
	}
	if t.StartFrom != nil {
		return *t.StartFrom
	}
	if !t.CreatedAt.IsZero() {
		return t.CreatedAt
	}
	return r.now
}

// occurrenceWindow computes the eligible window for occurrence i:
// [max(now, startFrom, occurrence day, sequential bound),
//
//	min(deadline day end, horizonEnd, next occurrence day)).
//
// Bounding at the next occurrence keeps later occurrences of the same
// task from losing their room to an earlier one.
func (r *run) occurrenceWindow(t *model.Task, occs []time.Time, i int, earliest time.Time) interval.Span {
	start := r.now
	if t.StartFrom != nil && t.StartFrom.After(start) {
		start = *t.StartFrom
	}
	if occs[i].After(start) {
		start = occs[i]
	}
	if earliest.After(start) {
		start = earliest
	}

	end := r.horizonEnd
	if t.Deadline != nil {
		if de := endOfDay(*t.Deadline); de.Before(end) {
			end = de
		}
	}
	if i+1 < len(occs) && occs[i+1].Before(end) {
		end = occs[i+1]
	}
	return interval.Span{Start: start, End: end}
}

// fillWindow walks the window's days in ascending order and carves
// blocks for one occurrence until its duration is satisfied or the
// window is exhausted.
func (r *run) fillWindow(t *model.Task, window interval.Span, occurrenceID string) []model.Instance {
	remaining := t.DurationMin
	var placed []model.Instance

	for day := dayStart(window.Start); day.Before(window.End) && remaining > 0; day = day.AddDate(0, 0, 1) {
		dayFull := interval.Span{Start: day, End: day.AddDate(0, 0, 1)}
		busy := r.arena.BusyWithin(dayFull)
		for _, slot := range r.builder.SlotsForDay(t.TimeMapIDs, day, busy) {
			clipped := slot.Span.Clip(window)
			if clipped.Empty() {
				continue
			}
			take := clipped.Minutes()
			if take > remaining {
				take = remaining
			}
			// Never carve a piece smaller than the minimum block unless
			// it exactly completes the remaining duration.
			if take < t.MinBlockMin && take < remaining {
				continue
			}
			if take <= 0 {
				continue
			}
			inst := model.Instance{
				Start:        clipped.Start,
				End:          clipped.Start.Add(time.Duration(take) * time.Minute),
				TimeMapID:    slot.TimeMapID,
				OccurrenceID: occurrenceID,
			}
			placed = append(placed, inst)
			r.arena.Commit(interval.Span{Start: inst.Start, End: inst.End})
			remaining -= take
			if remaining == 0 {
				break
			}
		}
	}
	return placed
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return dayStart(t).AddDate(0, 0, 1)
}
