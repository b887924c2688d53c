// Package engine implements the auto-scheduling run: it packs every
// placeable task into concrete time blocks inside TimeMap availability
// within the rolling planning horizon, respecting externally committed
// calendar intervals. The whole horizon is repacked from scratch on
// every run; scheduledInstances and scheduleStatus are derived state
// fully owned by this package.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"timeblock/internal/model"
	logx "timeblock/pkg/logx"
)

// Service runs the scheduler. A run is a synchronous batch: one
// snapshot fetch, a pure in-memory computation, then an atomic-per-run
// write-back. Only one run may be in flight at a time.
type Service struct {
	tasks    TaskStore
	timeMaps TimeMapStore
	settings SettingsStore
	busy     BusySource
	log      logx.Logger

	// now is injectable so runs are reproducible in tests.
	now func() time.Time

	// onFinished, when set, observes every completed run (not runs
	// rejected by the single-flight gate).
	onFinished func(Summary)

	running atomic.Bool
}

func New(tasks TaskStore, timeMaps TimeMapStore, settings SettingsStore, busy BusySource, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		tasks:    tasks,
		timeMaps: timeMaps,
		settings: settings,
		busy:     busy,
		log:      log,
		now:      time.Now,
	}
}

// SetNow overrides the run clock. Intended for tests.
func (s *Service) SetNow(now func() time.Time) { s.now = now }

// SetOnRunFinished installs a completion observer. Must be called
// before the first run; the observer must not block.
func (s *Service) SetOnRunFinished(fn func(Summary)) { s.onFinished = fn }

// Running reports whether a run is currently in flight.
func (s *Service) Running() bool { return s.running.Load() }

// Run executes one full scheduling run and returns the aggregate
// summary. It returns ErrRunInProgress when called concurrently with an
// active run, and a store error when the snapshot or write-back fails
// (in which case no partial schedule is persisted).
func (s *Service) Run(ctx context.Context) (Summary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Summary{Error: ErrRunInProgress.Error()}, ErrRunInProgress
	}
	defer s.running.Store(false)

	started := time.Now()
	now := s.now()

	horizonDays, err := s.settings.HorizonDays(ctx)
	if err != nil {
		return s.finish(Summary{Error: err.Error()}), fmt.Errorf("read horizon: %w", err)
	}
	horizonDays = clampHorizonDays(horizonDays)
	horizonEnd := now.AddDate(0, 0, horizonDays)

	// Snapshot. The run computes against this one consistent view;
	// write-back is last-writer-wins per task.
	tasks, err := s.tasks.ListTasks(ctx)
	if err != nil {
		return s.finish(Summary{Error: err.Error()}), fmt.Errorf("list tasks: %w", err)
	}
	timeMaps, err := s.timeMaps.ListTimeMaps(ctx)
	if err != nil {
		return s.finish(Summary{Error: err.Error()}), fmt.Errorf("list timemaps: %w", err)
	}
	busy, err := s.busy.ListBusyIntervals(ctx, now, horizonEnd)
	if err != nil {
		// Degrade to "no external interval data" rather than aborting.
		s.log.Warn("external calendar unavailable; scheduling without busy intervals", logx.Err(err))
		busy = nil
	}

	s.log.Debug("run snapshot",
		logx.Int("tasks", len(tasks)),
		logx.Int("timemaps", len(timeMaps)),
		logx.Int("busy_intervals", len(busy)),
		logx.Int("horizon_days", horizonDays),
	)

	// Pure computation; nothing is persisted until it completes.
	results := schedule(runInput{
		now:        now,
		horizonEnd: horizonEnd,
		tasks:      tasks,
		timeMaps:   timeMaps,
		busy:       busy,
		log:        s.log,
	})

	// Write-back: the final, atomic-per-run step.
	sum := Summary{OK: true, RanAt: now}
	for i := range results {
		t := &results[i]
		t.LastScheduledRun = &now
		if err := s.tasks.SaveTask(ctx, t); err != nil {
			return s.finish(Summary{Error: err.Error()}), fmt.Errorf("save task %s: %w", t.ID, err)
		}
		switch t.ScheduleStatus {
		case model.StatusScheduled:
			sum.Scheduled++
		case model.StatusIgnored:
			sum.Ignored++
		default:
			sum.Unscheduled++
		}
		sum.Placements += len(t.ScheduledInstances)
	}
	if err := s.settings.SetLastRun(ctx, now); err != nil {
		s.log.Warn("failed to record last run timestamp", logx.Err(err))
	}

	s.log.Info("scheduling run finished",
		logx.Int("scheduled", sum.Scheduled),
		logx.Int("unscheduled", sum.Unscheduled),
		logx.Int("ignored", sum.Ignored),
		logx.Int("placements", sum.Placements),
		logx.Duration("took", time.Since(started)),
	)
	return s.finish(sum), nil
}

func (s *Service) finish(sum Summary) Summary {
	if s.onFinished != nil {
		s.onFinished(sum)
	}
	return sum
}
