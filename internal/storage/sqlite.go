// Package storage persists tasks, TimeMaps and scheduler settings in a
// single SQLite database file. Structured task fields that the engine
// treats as opaque collections (recurrence, timemap references,
// completed occurrences, scheduled instances) are stored as JSON
// columns; scheduled instances are derived state and rewritten
// wholesale on every run.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"timeblock/internal/model"
	logx "timeblock/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store is the SQLite-backed persistence layer. It satisfies the
// engine's TaskStore, TimeMapStore and SettingsStore interfaces.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" && !strings.Contains(cfg.Path, ":memory:") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &Store{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- tasks ----

const taskColumns = `id, title, duration_min, min_block_min, priority, deadline, start_from,
	time_map_ids, repeat, parent_id, position, subtask_mode, completed_occurrences,
	schedule_status, scheduled_instances, last_scheduled_run, created_at, updated_at`

func (s *Store) ListTasks(ctx context.Context) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetTask(ctx context.Context, id string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SaveTask upserts the task. Write-back after a run is last-writer-wins
// per task; the engine always recomputes from a fresh snapshot.
func (s *Store) SaveTask(ctx context.Context, t *model.Task) error {
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	timeMapIDs, err := json.Marshal(emptyIfNilStrings(t.TimeMapIDs))
	if err != nil {
		return err
	}
	repeat, err := json.Marshal(t.Repeat)
	if err != nil {
		return err
	}
	completed, err := json.Marshal(emptyIfNilStrings(t.CompletedOccurrences))
	if err != nil {
		return err
	}
	instances, err := json.Marshal(emptyIfNilInstances(t.ScheduledInstances))
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks(`+taskColumns+`)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title,
			duration_min=excluded.duration_min,
			min_block_min=excluded.min_block_min,
			priority=excluded.priority,
			deadline=excluded.deadline,
			start_from=excluded.start_from,
			time_map_ids=excluded.time_map_ids,
			repeat=excluded.repeat,
			parent_id=excluded.parent_id,
			position=excluded.position,
			subtask_mode=excluded.subtask_mode,
			completed_occurrences=excluded.completed_occurrences,
			schedule_status=excluded.schedule_status,
			scheduled_instances=excluded.scheduled_instances,
			last_scheduled_run=excluded.last_scheduled_run,
			updated_at=excluded.updated_at`,
		t.ID, t.Title, t.DurationMin, t.MinBlockMin, t.Priority,
		nullTime(t.Deadline), nullTime(t.StartFrom),
		string(timeMapIDs), string(repeat), t.ParentID, t.Position, string(t.SubtaskMode),
		string(completed), string(t.ScheduleStatus), string(instances),
		nullTime(t.LastScheduledRun),
		t.CreatedAt.Format(time.RFC3339Nano), t.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (model.Task, error) {
	var (
		t                                  model.Task
		deadline, startFrom, lastRun       sql.NullString
		timeMapIDs, repeat, completed, ins string
		mode, status                       string
		createdAt, updatedAt               string
	)
	err := row.Scan(&t.ID, &t.Title, &t.DurationMin, &t.MinBlockMin, &t.Priority,
		&deadline, &startFrom, &timeMapIDs, &repeat, &t.ParentID, &t.Position,
		&mode, &completed, &status, &ins, &lastRun, &createdAt, &updatedAt)
	if err != nil {
		return t, err
	}
	t.SubtaskMode = model.SubtaskMode(mode)
	t.ScheduleStatus = model.ScheduleStatus(status)
	if t.Deadline, err = parseNullTime(deadline); err != nil {
		return t, fmt.Errorf("task %s: deadline: %w", t.ID, err)
	}
	if t.StartFrom, err = parseNullTime(startFrom); err != nil {
		return t, fmt.Errorf("task %s: start_from: %w", t.ID, err)
	}
	if t.LastScheduledRun, err = parseNullTime(lastRun); err != nil {
		return t, fmt.Errorf("task %s: last_scheduled_run: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(timeMapIDs), &t.TimeMapIDs); err != nil {
		return t, fmt.Errorf("task %s: time_map_ids: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(repeat), &t.Repeat); err != nil {
		return t, fmt.Errorf("task %s: repeat: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(completed), &t.CompletedOccurrences); err != nil {
		return t, fmt.Errorf("task %s: completed_occurrences: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(ins), &t.ScheduledInstances); err != nil {
		return t, fmt.Errorf("task %s: scheduled_instances: %w", t.ID, err)
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return t, fmt.Errorf("task %s: created_at: %w", t.ID, err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return t, fmt.Errorf("task %s: updated_at: %w", t.ID, err)
	}
	return t, nil
}

// ---- timemaps ----

func (s *Store) ListTimeMaps(ctx context.Context) ([]model.TimeMap, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, color, rules FROM timemaps ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TimeMap
	for rows.Next() {
		var (
			m     model.TimeMap
			rules string
		)
		if err := rows.Scan(&m.ID, &m.Name, &m.Color, &rules); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(rules), &m.Rules); err != nil {
			return nil, fmt.Errorf("timemap %s: rules: %w", m.ID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) SaveTimeMap(ctx context.Context, m *model.TimeMap) error {
	rules, err := json.Marshal(m.Rules)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO timemaps(id, name, color, rules) VALUES(?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, color=excluded.color, rules=excluded.rules`,
		m.ID, m.Name, m.Color, string(rules))
	return err
}

func (s *Store) DeleteTimeMap(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM timemaps WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- settings ----

func (s *Store) HorizonDays(ctx context.Context) (int, error) {
	v, ok, err := s.getSetting(ctx, keyHorizonDays)
	if err != nil {
		return 0, err
	}
	if !ok {
		return defaultHorizonDays, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < minHorizonDays || n > maxHorizonDays {
		s.log.Warn("invalid horizon_days setting; using default", logx.String("value", v))
		return defaultHorizonDays, nil
	}
	return n, nil
}

// SeedHorizonDays writes the horizon only when no stored value exists
// yet, so a config-provided default never clobbers an API-set value.
func (s *Store) SeedHorizonDays(ctx context.Context, days int) error {
	if days < minHorizonDays || days > maxHorizonDays {
		return fmt.Errorf("horizon days must be in [%d,%d], got %d", minHorizonDays, maxHorizonDays, days)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings(key, value) VALUES(?,?)`,
		keyHorizonDays, strconv.Itoa(days))
	return err
}

func (s *Store) SetHorizonDays(ctx context.Context, days int) error {
	if days < minHorizonDays || days > maxHorizonDays {
		return fmt.Errorf("horizon days must be in [%d,%d], got %d", minHorizonDays, maxHorizonDays, days)
	}
	return s.putSetting(ctx, keyHorizonDays, strconv.Itoa(days))
}

func (s *Store) LastRun(ctx context.Context) (time.Time, bool, error) {
	v, ok, err := s.getSetting(ctx, keyLastRun)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	at, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false, nil
	}
	return at, true, nil
}

func (s *Store) SetLastRun(ctx context.Context, at time.Time) error {
	return s.putSetting(ctx, keyLastRun, at.Format(time.RFC3339Nano))
}

func (s *Store) getSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) putSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings(key, value) VALUES(?,?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	return err
}

// ---- helpers ----

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func emptyIfNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func emptyIfNilInstances(v []model.Instance) []model.Instance {
	if v == nil {
		return []model.Instance{}
	}
	return v
}
