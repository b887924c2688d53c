package engine

import (
	"sort"
	"time"

	"timeblock/internal/availability"
	"timeblock/internal/model"
	logx "timeblock/pkg/logx"
)

type runInput struct {
	now        time.Time
	horizonEnd time.Time
	tasks      []model.Task
	timeMaps   []model.TimeMap
	busy       []model.BusyInterval
	log        logx.Logger
}

// run holds the mutable state of one scheduling computation. It lives
// for exactly one invocation and is discarded afterwards.
type run struct {
	runInput

	builder *availability.Builder
	arena   *availability.Arena

	byID     map[string]*model.Task
	parents  map[string]string
	children map[string][]*model.Task
	order    []string // evaluated task ids in snapshot order

	// skipped marks tasks excluded from placement with a final status
	// already assigned (structural errors, past deadlines, ...).
	skipped map[string]bool
}

// schedule evaluates every non-completed task against the horizon and
// returns the tasks with recomputed scheduleStatus and
// scheduledInstances. The computation is deterministic: identical
// snapshots (same now) produce identical placements.
func schedule(in runInput) []model.Task {
	r := &run{
		runInput: in,
		builder:  availability.NewBuilder(in.timeMaps),
		arena:    availability.NewArena(in.busy),
		byID:     map[string]*model.Task{},
		parents:  map[string]string{},
		children: map[string][]*model.Task{},
		skipped:  map[string]bool{},
	}

	for i := range in.tasks {
		t := in.tasks[i]
		if t.ScheduleStatus == model.StatusCompleted {
			continue
		}
		t.ScheduledInstances = nil
		cp := t
		r.byID[t.ID] = &cp
		r.order = append(r.order, t.ID)
	}
	for _, id := range r.order {
		t := r.byID[id]
		if t.ParentID != "" {
			r.parents[t.ID] = t.ParentID
		}
	}
	for _, id := range r.order {
		t := r.byID[id]
		if p, ok := r.byID[t.ParentID]; ok {
			r.children[p.ID] = append(r.children[p.ID], t)
		}
	}
	for _, kids := range r.children {
		sort.Slice(kids, func(i, j int) bool {
			if kids[i].Position != kids[j].Position {
				return kids[i].Position < kids[j].Position
			}
			return kids[i].ID < kids[j].ID
		})
	}

	r.preclassify()

	for _, t := range r.sortUnits(r.placementUnits()) {
		r.placeUnit(t, r.now)
	}

	r.deriveContainerStatuses()

	out := make([]model.Task, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.byID[id])
	}
	return out
}

// preclassify assigns final statuses to tasks that are structurally
// outside this run: broken parent chains, dangling TimeMap references,
// past deadlines, and startFrom beyond the horizon. These are excluded
// before sorting.
func (r *run) preclassify() {
	for _, id := range r.order {
		t := r.byID[id]

		if !model.AncestorWalkOK(r.parents, t.ID) {
			r.log.Warn("task has an unterminated parent chain; skipping",
				logx.String("task", t.ID))
			r.skip(t, model.StatusUnscheduled)
			continue
		}

		if r.isLeaf(t) {
			if len(t.TimeMapIDs) == 0 {
				r.skip(t, model.StatusUnscheduled)
				continue
			}
			dangling := false
			for _, tmID := range t.TimeMapIDs {
				if !r.builder.Has(tmID) {
					r.log.Warn("task references an unknown timemap; skipping",
						logx.String("task", t.ID), logx.String("timemap", tmID))
					dangling = true
					break
				}
			}
			if dangling {
				r.skip(t, model.StatusUnscheduled)
				continue
			}
		}

		if t.Deadline != nil && !endOfDay(*t.Deadline).After(r.now) {
			r.skip(t, model.StatusIgnored)
			continue
		}
		if t.StartFrom != nil && t.StartFrom.After(r.horizonEnd) {
			r.skip(t, model.StatusIgnored)
			continue
		}
	}

	// A skipped sequential container takes its whole subtree out of the
	// window: the children would otherwise never be evaluated.
	for _, id := range r.order {
		t := r.byID[id]
		if !r.skipped[id] || !r.isContainer(t) || t.SubtaskMode != model.SubtaskSequential {
			continue
		}
		r.skipSubtree(t, t.ScheduleStatus)
	}
}

func (r *run) skip(t *model.Task, status model.ScheduleStatus) {
	t.ScheduleStatus = status
	t.ScheduledInstances = nil
	r.skipped[t.ID] = true
}

func (r *run) skipSubtree(t *model.Task, status model.ScheduleStatus) {
	for _, c := range r.children[t.ID] {
		if !r.skipped[c.ID] {
			r.skip(c, status)
		}
		r.skipSubtree(c, status)
	}
}

func (r *run) isContainer(t *model.Task) bool { return len(r.children[t.ID]) > 0 }
func (r *run) isLeaf(t *model.Task) bool      { return !r.isContainer(t) }

// placementUnits selects the tasks that enter the global ordering:
// leaves and sequential containers, except those with a sequential
// ancestor anywhere above them (those are reached through the
// outermost chain's recursion, even across intervening parallel
// containers). Parallel containers are not placed themselves; their
// children are independent units and the container's status is
// derived afterwards.
func (r *run) placementUnits() []*model.Task {
	var units []*model.Task
	for _, id := range r.order {
		t := r.byID[id]
		if r.skipped[id] {
			continue
		}
		if r.underSequentialChain(t) {
			continue
		}
		if r.isContainer(t) && t.SubtaskMode != model.SubtaskSequential {
			continue // parallel container: children stand on their own
		}
		units = append(units, t)
	}
	return units
}

// underSequentialChain reports whether any ancestor of t is a
// sequential container. The walk terminates: tasks with an
// unterminated parent chain were skipped in preclassify and never
// reach unit selection.
func (r *run) underSequentialChain(t *model.Task) bool {
	for cur := t; ; {
		p, ok := r.byID[cur.ParentID]
		if !ok {
			return false
		}
		if p.SubtaskMode == model.SubtaskSequential {
			return true
		}
		cur = p
	}
}

// sortUnits imposes the total placement order: priority descending,
// then deadline ascending with nil deadlines last, then id ascending
// for full determinism.
func (r *run) sortUnits(units []*model.Task) []*model.Task {
	sort.SliceStable(units, func(i, j int) bool {
		a, b := units[i], units[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		switch {
		case a.Deadline == nil && b.Deadline != nil:
			return false
		case a.Deadline != nil && b.Deadline == nil:
			return true
		case a.Deadline != nil && b.Deadline != nil && !a.Deadline.Equal(*b.Deadline):
			return a.Deadline.Before(*b.Deadline)
		}
		return a.ID < b.ID
	})
	return units
}

// placeUnit places one unit: a leaf directly, a sequential container by
// threading each child's earliest start behind the previous child's
// last placed end, a parallel container by placing each child
// independently under the inherited constraint. Returns the unit's last
// placed end and whether anything was placed.
func (r *run) placeUnit(t *model.Task, earliest time.Time) (time.Time, bool) {
	if r.skipped[t.ID] {
		return time.Time{}, false
	}
	if r.isLeaf(t) {
		return r.placeTask(t, earliest)
	}

	kids := r.children[t.ID]
	switch t.SubtaskMode {
	case model.SubtaskSequential:
		cur := earliest
		any := false
		for _, c := range kids {
			end, placed := r.placeUnit(c, cur)
			if placed {
				any = true
				if end.After(cur) {
					cur = end
				}
			}
			// An unplaced child carries no end; the next child keeps the
			// constraint of the last child that did place.
		}
		return cur, any
	default: // parallel or unset
		var last time.Time
		any := false
		for _, c := range kids {
			end, placed := r.placeUnit(c, earliest)
			if placed {
				any = true
				if end.After(last) {
					last = end
				}
			}
		}
		return last, any
	}
}

// deriveContainerStatuses rolls child statuses up into containers:
// scheduled when any child is scheduled, ignored when every child is
// ignored, unscheduled otherwise. Deepest containers settle first.
func (r *run) deriveContainerStatuses() {
	done := map[string]bool{}
	var derive func(t *model.Task)
	derive = func(t *model.Task) {
		if done[t.ID] || r.skipped[t.ID] || r.isLeaf(t) {
			done[t.ID] = true
			return
		}
		done[t.ID] = true
		anyScheduled, allIgnored := false, true
		for _, c := range r.children[t.ID] {
			derive(c)
			if c.ScheduleStatus == model.StatusScheduled {
				anyScheduled = true
			}
			if c.ScheduleStatus != model.StatusIgnored {
				allIgnored = false
			}
		}
		switch {
		case anyScheduled:
			t.ScheduleStatus = model.StatusScheduled
		case allIgnored:
			t.ScheduleStatus = model.StatusIgnored
		default:
			t.ScheduleStatus = model.StatusUnscheduled
		}
		t.ScheduledInstances = nil
	}
	for _, id := range r.order {
		derive(r.byID[id])
	}
}
