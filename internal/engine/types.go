package engine

import (
	"context"
	"errors"
	"time"

	"timeblock/internal/model"
)

// ErrRunInProgress is returned when a reschedule is triggered while a
// run is already active. Runs never interleave: the per-run committed
// availability state is not safe to share.
var ErrRunInProgress = errors.New("scheduling run already in progress")

// TaskStore is the persistent task collection. ListTasks is called
// once for the pre-run snapshot; SaveTask once per evaluated task
// during write-back.
type TaskStore interface {
	ListTasks(ctx context.Context) ([]model.Task, error)
	SaveTask(ctx context.Context, t *model.Task) error
}

// TimeMapStore lists the availability templates.
type TimeMapStore interface {
	ListTimeMaps(ctx context.Context) ([]model.TimeMap, error)
}

// SettingsStore provides the global scheduling settings.
type SettingsStore interface {
	HorizonDays(ctx context.Context) (int, error)
	SetLastRun(ctx context.Context, at time.Time) error
}

// BusySource lists externally committed intervals for the horizon
// window. Failures degrade to "no external data"; they never abort a
// run.
type BusySource interface {
	ListBusyIntervals(ctx context.Context, timeMin, timeMax time.Time) ([]model.BusyInterval, error)
}

// Summary is the aggregate result of one run. A single task's failure
// to place never fails the run; infeasibility is the normal
// unscheduled outcome.
type Summary struct {
	OK          bool      `json:"ok"`
	Scheduled   int       `json:"scheduled"`
	Unscheduled int       `json:"unscheduled"`
	Ignored     int       `json:"ignored"`
	Placements  int       `json:"placements"`
	RanAt       time.Time `json:"ranAt"`
	Error       string    `json:"error,omitempty"`
}

const (
	defaultHorizonDays = 14
	minHorizonDays     = 1
	maxHorizonDays     = 90
)

// clampHorizonDays normalizes a stored horizon: zero and negative
// values mean the setting was never written and take the default;
// anything else clamps to the supported range.
func clampHorizonDays(d int) int {
	if d <= 0 {
		return defaultHorizonDays
	}
	if d < minHorizonDays {
		return minHorizonDays
	}
	if d > maxHorizonDays {
		return maxHorizonDays
	}
	return d
}
