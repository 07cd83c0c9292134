package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// History page sizes. Requests above MaxHistoryLimit are clamped.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// Repository persists devices and their switches.
// Implementations must be safe for concurrent use.
type Repository interface {
	// List returns every device with its switches in position order.
	List(ctx context.Context) ([]Device, error)

	// Get returns one device, or ErrDeviceNotFound.
	Get(ctx context.Context, id string) (*Device, error)

	// Save upserts a device and replaces its switch set.
	Save(ctx context.Context, d *Device) error

	// SaveSwitchState writes the state columns of one switch and appends a
	// history row, atomically.
	SaveSwitchState(ctx context.Context, deviceID string, sw Switch) error

	// UpdateStatus records a connectivity transition.
	UpdateStatus(ctx context.Context, id string, status Status, lastSeen time.Time) error

	// Delete removes a device, its switches and history. ErrDeviceNotFound if absent.
	Delete(ctx context.Context, id string) error

	// History returns recent switch changes for a device, newest first.
	History(ctx context.Context, deviceID string, limit int) ([]HistoryEntry, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// List returns every device with its switches.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, mac, name, status, secret_hash, last_seen, created_at, updated_at
		FROM devices
		ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	rows.Close()

	// Load switches after closing the device cursor: the pool has a single connection.
	for i := range devices {
		switches, err := r.switches(ctx, devices[i].ID)
		if err != nil {
			return nil, err
		}
		devices[i].Switches = switches
	}
	return devices, nil
}

// Get returns one device with its switches.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, mac, name, status, secret_hash, last_seen, created_at, updated_at
		FROM devices
		WHERE id = ?`, id)

	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device: %w", err)
	}

	d.Switches, err = r.switches(ctx, id)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Save upserts the device row and replaces its switch rows.
func (r *SQLiteRepository) Save(ctx context.Context, d *Device) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO devices (id, mac, name, status, secret_hash, last_seen, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			mac = excluded.mac,
			name = excluded.name,
			status = excluded.status,
			secret_hash = excluded.secret_hash,
			last_seen = excluded.last_seen,
			updated_at = excluded.updated_at`,
		d.ID, d.MAC, d.Name, string(d.Status), d.SecretHash,
		nullableTime(d.LastSeen), formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting device: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM switches WHERE device_id = ?", d.ID); err != nil {
		return fmt.Errorf("clearing switches: %w", err)
	}

	for i, sw := range d.Switches {
		var manualPin sql.NullInt64
		if sw.ManualPin != nil {
			manualPin = sql.NullInt64{Int64: int64(*sw.ManualPin), Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO switches (device_id, id, position, name, output_pin, manual_pin, manual_mode,
				state, last_update_seq, last_source, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, sw.ID, i, sw.Name, sw.OutputPin, manualPin, string(sw.ManualMode),
			boolToInt(sw.State), int64(sw.LastUpdateSeq), string(sw.LastSource), nullableTime(sw.UpdatedAt), //nolint:gosec // seq < 2^63
		)
		if err != nil {
			return fmt.Errorf("inserting switch %s: %w", sw.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing device: %w", err)
	}
	return nil
}

// SaveSwitchState updates one switch's state and appends to its history.
func (r *SQLiteRepository) SaveSwitchState(ctx context.Context, deviceID string, sw Switch) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	seq := int64(sw.LastUpdateSeq) //nolint:gosec // seq < 2^63
	result, err := tx.ExecContext(ctx, `
		UPDATE switches
		SET state = ?, last_update_seq = ?, last_source = ?, updated_at = ?
		WHERE device_id = ? AND id = ?`,
		boolToInt(sw.State), seq, string(sw.LastSource), formatTime(sw.UpdatedAt),
		deviceID, sw.ID,
	)
	if err != nil {
		return fmt.Errorf("updating switch state: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrSwitchNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO switch_history (device_id, switch_id, state, seq, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		deviceID, sw.ID, boolToInt(sw.State), seq, string(sw.LastSource), formatTime(sw.UpdatedAt),
	); err != nil {
		return fmt.Errorf("recording switch history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing switch state: %w", err)
	}
	return nil
}

// UpdateStatus records a connectivity transition.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id string, status Status, lastSeen time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE devices SET status = ?, last_seen = ?, updated_at = ? WHERE id = ?`,
		string(status), nullableTime(lastSeen), formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("updating device status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// Delete removes a device; switches and history cascade.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// History returns recent switch changes for a device (default 50, max 200).
func (r *SQLiteRepository) History(ctx context.Context, deviceID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, device_id, switch_id, state, seq, source, created_at
		FROM switch_history
		WHERE device_id = ?
		ORDER BY id DESC
		LIMIT ?`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying switch history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var e HistoryEntry
		var state int
		var seq int64
		var source, createdAt string
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.SwitchID, &state, &seq, &source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning switch history: %w", err)
		}
		e.State = state != 0
		e.Seq = uint64(seq) //nolint:gosec // written from uint64
		e.Source = Source(source)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt) //nolint:errcheck // written by formatTime
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating switch history: %w", err)
	}
	return entries, nil
}

func (r *SQLiteRepository) switches(ctx context.Context, deviceID string) ([]Switch, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, output_pin, manual_pin, manual_mode, state, last_update_seq, last_source, updated_at
		FROM switches
		WHERE device_id = ?
		ORDER BY position`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying switches: %w", err)
	}
	defer rows.Close()

	var out []Switch
	for rows.Next() {
		var sw Switch
		var manualPin sql.NullInt64
		var mode, source string
		var state int
		var seq int64
		var updatedAt sql.NullString
		if err := rows.Scan(&sw.ID, &sw.Name, &sw.OutputPin, &manualPin, &mode, &state, &seq, &source, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning switch: %w", err)
		}
		if manualPin.Valid {
			pin := int(manualPin.Int64)
			sw.ManualPin = &pin
		}
		sw.ManualMode = ManualMode(mode)
		sw.State = state != 0
		sw.LastUpdateSeq = uint64(seq) //nolint:gosec // written from uint64
		sw.LastSource = Source(source)
		sw.UpdatedAt = parseNullTime(updatedAt)
		out = append(out, sw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating switches: %w", err)
	}
	return out, nil
}

// rowScanner is implemented by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*Device, error) {
	var d Device
	var status string
	var lastSeen sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(&d.ID, &d.MAC, &d.Name, &status, &d.SecretHash, &lastSeen, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	d.Status = Status(status)
	d.LastSeen = parseNullTime(lastSeen)

	var err error
	if d.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &d, nil
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
