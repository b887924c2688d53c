package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a task or TimeMap id does not exist.
var ErrNotFound = errors.New("not found")

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Settings keys. Derived run state and user-tunable knobs share one
// small key/value table.
const (
	keyHorizonDays = "horizon_days"
	keyLastRun     = "last_run"
)

const (
	defaultHorizonDays = 14
	minHorizonDays     = 1
	maxHorizonDays     = 90
)
