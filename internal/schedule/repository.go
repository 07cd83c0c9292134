package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Repository persists schedules.
type Repository interface {
	List(ctx context.Context) ([]Schedule, error)
	Get(ctx context.Context, id string) (*Schedule, error)
	Create(ctx context.Context, s *Schedule) error
	Update(ctx context.Context, s *Schedule) error
	// SetFiredState records the last edge without touching anything else.
	SetFiredState(ctx context.Context, id string, state FiredState, enabled bool) error
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `SELECT id, name, action, type, targets, days, start_time, end_time, run_at,
	enabled, inverse_on_exit, last_fired_state, created_at, updated_at FROM schedules`

// List returns every schedule ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Schedule, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+" ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("querying schedules: %w", err)
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schedules: %w", err)
	}
	return out, nil
}

// Get returns one schedule.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Schedule, error) {
	s, err := scanSchedule(r.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	return s, err
}

// Create inserts a schedule.
func (r *SQLiteRepository) Create(ctx context.Context, s *Schedule) error {
	targets, days, err := encodeLists(s)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO schedules (id, name, action, type, targets, days, start_time, end_time, run_at,
			enabled, inverse_on_exit, last_fired_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Name, string(s.Action), string(s.Type), targets, days, s.Start, s.End, nullableTime(s.At),
		boolToInt(s.Enabled), boolToInt(s.InverseOnExit), string(s.LastFiredState),
		formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting schedule: %w", err)
	}
	return nil
}

// Update replaces a schedule's definition.
func (r *SQLiteRepository) Update(ctx context.Context, s *Schedule) error {
	targets, days, err := encodeLists(s)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE schedules SET name = ?, action = ?, type = ?, targets = ?, days = ?, start_time = ?,
			end_time = ?, run_at = ?, enabled = ?, inverse_on_exit = ?, last_fired_state = ?, updated_at = ?
		WHERE id = ?`,
		s.Name, string(s.Action), string(s.Type), targets, days, s.Start, s.End, nullableTime(s.At),
		boolToInt(s.Enabled), boolToInt(s.InverseOnExit), string(s.LastFiredState), formatTime(s.UpdatedAt),
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("updating schedule: %w", err)
	}
	return expectOne(result)
}

// SetFiredState records an evaluation edge.
func (r *SQLiteRepository) SetFiredState(ctx context.Context, id string, state FiredState, enabled bool) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE schedules SET last_fired_state = ?, enabled = ? WHERE id = ?",
		string(state), boolToInt(enabled), id)
	if err != nil {
		return fmt.Errorf("updating fired state: %w", err)
	}
	return expectOne(result)
}

// Delete removes a schedule.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM schedules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting schedule: %w", err)
	}
	return expectOne(result)
}

func expectOne(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var s Schedule
	var action, typ, targets, days, fired, createdAt, updatedAt string
	var runAt sql.NullString
	var enabled, inverse int
	err := row.Scan(&s.ID, &s.Name, &action, &typ, &targets, &days, &s.Start, &s.End, &runAt,
		&enabled, &inverse, &fired, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning schedule: %w", err)
	}

	s.Action = Action(action)
	s.Type = Type(typ)
	s.Enabled = enabled != 0
	s.InverseOnExit = inverse != 0
	s.LastFiredState = FiredState(fired)
	if err := json.Unmarshal([]byte(targets), &s.Targets); err != nil {
		return nil, fmt.Errorf("decoding targets of %s: %w", s.ID, err)
	}
	if err := json.Unmarshal([]byte(days), &s.Days); err != nil {
		return nil, fmt.Errorf("decoding days of %s: %w", s.ID, err)
	}
	if runAt.Valid {
		s.At, _ = time.Parse(time.RFC3339Nano, runAt.String) //nolint:errcheck // written by formatTime
	}
	s.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt) //nolint:errcheck // written by formatTime
	s.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt) //nolint:errcheck // written by formatTime
	return &s, nil
}

func encodeLists(s *Schedule) (targets, days string, err error) {
	t := s.Targets
	if t == nil {
		t = []Target{}
	}
	d := s.Days
	if d == nil {
		d = []Day{}
	}
	tb, err := json.Marshal(t)
	if err != nil {
		return "", "", fmt.Errorf("encoding targets: %w", err)
	}
	db, err := json.Marshal(d)
	if err != nil {
		return "", "", fmt.Errorf("encoding days: %w", err)
	}
	return string(tb), string(db), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
