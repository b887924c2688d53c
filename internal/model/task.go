package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ScheduleStatus is the engine-owned lifecycle state of a task.
// It is derived state: every scheduling run recomputes it from scratch.
type ScheduleStatus string

const (
	StatusUnscheduled ScheduleStatus = "unscheduled"
	StatusScheduled   ScheduleStatus = "scheduled"
	StatusIgnored     ScheduleStatus = "ignored"
	StatusCompleted   ScheduleStatus = "completed"
)

// SubtaskMode controls how a parent's children are placed.
type SubtaskMode string

const (
	// SubtaskParallel schedules children independently, each as if it
	// were a top-level task.
	SubtaskParallel SubtaskMode = "parallel"
	// SubtaskSequential forbids child n from starting before child n-1
	// has finished its last placed block.
	SubtaskSequential SubtaskMode = "sequential"
)

// DayKeyFormat is the local-calendar-day key used for completed
// occurrences. Completion is recorded per calendar day, not per exact
// timestamp.
const DayKeyFormat = "2006-01-02"

// DayKey returns the local calendar-day key for t.
func DayKey(t time.Time) string { return t.Format(DayKeyFormat) }

// Task is one unit of work the engine can place into time blocks.
type Task struct {
	ID    string `json:"id"`
	Title string `json:"title"`

	// DurationMin is total minutes of work; a multiple of 15, >= 15.
	DurationMin int `json:"durationMin"`
	// MinBlockMin is the smallest contiguous slice acceptable when the
	// task is split across sessions; <= DurationMin.
	MinBlockMin int `json:"minBlockMin"`
	// Priority sorts higher first.
	Priority int `json:"priority"`

	Deadline  *time.Time `json:"deadline,omitempty"`
	StartFrom *time.Time `json:"startFrom,omitempty"`

	// TimeMapIDs is the set of availability templates the task may be
	// placed into. A task with an empty set is unplaceable.
	TimeMapIDs []string `json:"timeMapIds"`

	Repeat Recurrence `json:"repeat"`

	// ParentID forms a forest; cycles are rejected at edit time.
	ParentID string `json:"subtaskParentId,omitempty"`
	// Position orders siblings under the same parent (declared child
	// order for sequential scheduling).
	Position int `json:"position"`
	// SubtaskMode is meaningful only on a task that has children.
	SubtaskMode SubtaskMode `json:"subtaskScheduleMode,omitempty"`

	// CompletedOccurrences holds DayKey entries already satisfied for a
	// repeating task; they are excluded from future placement.
	CompletedOccurrences []string `json:"completedOccurrences,omitempty"`

	ScheduleStatus     ScheduleStatus `json:"scheduleStatus"`
	ScheduledInstances []Instance     `json:"scheduledInstances"`
	LastScheduledRun   *time.Time     `json:"lastScheduledRun,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Instance is one concrete placed block for a task occurrence.
type Instance struct {
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	TimeMapID    string    `json:"timeMapId"`
	OccurrenceID string    `json:"occurrenceId"`
}

// Minutes returns the instance length in whole minutes.
func (i Instance) Minutes() int {
	return int(i.End.Sub(i.Start) / time.Minute)
}

// IsOccurrenceCompleted reports whether the occurrence on the given day
// has already been marked done.
func (t *Task) IsOccurrenceCompleted(day time.Time) bool {
	key := DayKey(day)
	for _, k := range t.CompletedOccurrences {
		if k == key {
			return true
		}
	}
	return false
}

// Validate enforces the edit-time invariants on the task itself.
// Relations to other tasks (parent cycles, TimeMap references) are
// validated where the full set is known.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("task id is required")
	}
	if t.DurationMin < 15 || t.DurationMin%15 != 0 {
		return fmt.Errorf("durationMin must be a multiple of 15 and >= 15, got %d", t.DurationMin)
	}
	if t.MinBlockMin <= 0 || t.MinBlockMin > t.DurationMin {
		return fmt.Errorf("minBlockMin must be in [1, durationMin], got %d", t.MinBlockMin)
	}
	if t.Priority <= 0 {
		return fmt.Errorf("priority must be a positive integer, got %d", t.Priority)
	}
	if t.StartFrom != nil && t.Deadline != nil && t.StartFrom.After(*t.Deadline) {
		return errors.New("startFrom must not be after deadline")
	}
	switch t.SubtaskMode {
	case "", SubtaskParallel, SubtaskSequential:
	default:
		return fmt.Errorf("unknown subtaskScheduleMode %q", t.SubtaskMode)
	}
	if err := t.Repeat.Validate(); err != nil {
		return fmt.Errorf("repeat: %w", err)
	}
	return nil
}

// maxAncestorDepth caps parent walks so a corrupted parent map can
// never loop the engine.
const maxAncestorDepth = 64

// WouldCycle reports whether setting taskID's parent to newParentID
// would introduce a cycle, given the current parent map (child -> parent).
func WouldCycle(parents map[string]string, taskID, newParentID string) bool {
	if newParentID == "" {
		return false
	}
	if newParentID == taskID {
		return true
	}
	cur := newParentID
	for depth := 0; depth < maxAncestorDepth; depth++ {
		p, ok := parents[cur]
		if !ok || p == "" {
			return false
		}
		if p == taskID {
			return true
		}
		cur = p
	}
	// Walk did not terminate: treat as structurally broken.
	return true
}

// AncestorWalkOK reports whether taskID's ancestor chain terminates
// within the depth cap. The engine uses it to skip structurally broken
// tasks instead of looping.
func AncestorWalkOK(parents map[string]string, taskID string) bool {
	cur := taskID
	for depth := 0; depth < maxAncestorDepth; depth++ {
		p, ok := parents[cur]
		if !ok || p == "" {
			return true
		}
		if p == taskID {
			return false
		}
		cur = p
	}
	return false
}
