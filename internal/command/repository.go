package command

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// timeLayout is fixed width so text comparison orders chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const (
	defaultConflictLimit = 100
	maxConflictLimit     = 1000
)

// Repository persists commands and conflict records.
type Repository interface {
	// SaveCommand inserts or updates a command row.
	SaveCommand(ctx context.Context, cmd Command) error

	// GetCommand returns a persisted command, or ErrCommandNotFound.
	GetCommand(ctx context.Context, id string) (*Command, error)

	// SaveConflict inserts a conflict record.
	SaveConflict(ctx context.Context, rec ConflictRecord) error

	// ListConflicts returns conflicts newest first.
	ListConflicts(ctx context.Context, filter ConflictFilter) ([]ConflictRecord, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// SaveCommand upserts a command.
func (r *SQLiteRepository) SaveCommand(ctx context.Context, cmd Command) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO commands (id, device_id, switch_id, desired, seq, source_kind, source_id,
			attempt, status, error, issued_at, sent_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			seq = excluded.seq,
			status = excluded.status,
			error = excluded.error,
			sent_at = excluded.sent_at,
			completed_at = excluded.completed_at`,
		cmd.ID, cmd.DeviceID, cmd.SwitchID, boolToInt(cmd.Desired), int64(cmd.Seq), //nolint:gosec // seq < 2^63
		string(cmd.Source.Kind), cmd.Source.ID, cmd.Attempt, string(cmd.Status), cmd.Error,
		formatTime(cmd.IssuedAt), nullableTime(cmd.SentAt), nullableTime(cmd.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("saving command %s: %w", cmd.ID, err)
	}
	return nil
}

// GetCommand loads one command by ID.
func (r *SQLiteRepository) GetCommand(ctx context.Context, id string) (*Command, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, device_id, switch_id, desired, seq, source_kind, source_id, attempt,
			status, error, issued_at, sent_at, completed_at
		FROM commands WHERE id = ?`, id)

	var cmd Command
	var desired int
	var seq int64
	var kind, status, issuedAt string
	var sentAt, completedAt sql.NullString
	err := row.Scan(&cmd.ID, &cmd.DeviceID, &cmd.SwitchID, &desired, &seq, &kind, &cmd.Source.ID,
		&cmd.Attempt, &status, &cmd.Error, &issuedAt, &sentAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCommandNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying command: %w", err)
	}
	cmd.Desired = desired != 0
	cmd.Seq = uint64(seq) //nolint:gosec // written from uint64
	cmd.Source.Kind = SourceKind(kind)
	cmd.Status = Status(status)
	cmd.IssuedAt, _ = time.Parse(time.RFC3339Nano, issuedAt) //nolint:errcheck // written by formatTime
	cmd.SentAt = parseNullTime(sentAt)
	cmd.CompletedAt = parseNullTime(completedAt)
	return &cmd, nil
}

// SaveConflict inserts a conflict record.
func (r *SQLiteRepository) SaveConflict(ctx context.Context, rec ConflictRecord) error {
	var pin sql.NullInt64
	if rec.PhysicalPin != nil {
		pin = sql.NullInt64{Int64: int64(*rec.PhysicalPin), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO conflicts (id, device_id, switch_id, command_id, type, remote_desired,
			manual_actual, resolution, response_ms, detected_by, physical_pin, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.DeviceID, rec.SwitchID, rec.CommandID, rec.Type,
		boolToInt(rec.RemoteDesired), boolToInt(rec.ManualActual), rec.Resolution,
		rec.ResponseTime.Milliseconds(), rec.DetectedBy, pin, formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving conflict: %w", err)
	}
	return nil
}

// ListConflicts returns conflicts matching filter, newest first
// (default 100, max 1000).
func (r *SQLiteRepository) ListConflicts(ctx context.Context, filter ConflictFilter) ([]ConflictRecord, error) {
	var where []string
	var args []any
	if filter.DeviceID != "" {
		where = append(where, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.SwitchID != "" {
		where = append(where, "switch_id = ?")
		args = append(args, filter.SwitchID)
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(filter.Since))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultConflictLimit
	}
	if limit > maxConflictLimit {
		limit = maxConflictLimit
	}

	query := `SELECT id, device_id, switch_id, command_id, type, remote_desired, manual_actual,
		resolution, response_ms, detected_by, physical_pin, created_at FROM conflicts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying conflicts: %w", err)
	}
	defer rows.Close()

	var out []ConflictRecord
	for rows.Next() {
		var rec ConflictRecord
		var remote, manual int
		var responseMs int64
		var pin sql.NullInt64
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.DeviceID, &rec.SwitchID, &rec.CommandID, &rec.Type,
			&remote, &manual, &rec.Resolution, &responseMs, &rec.DetectedBy, &pin, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning conflict: %w", err)
		}
		rec.RemoteDesired = remote != 0
		rec.ManualActual = manual != 0
		rec.ResponseTime = time.Duration(responseMs) * time.Millisecond
		if pin.Valid {
			p := int(pin.Int64)
			rec.PhysicalPin = &p
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt) //nolint:errcheck // written by formatTime
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conflicts: %w", err)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func parseNullTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
