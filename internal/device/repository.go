package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Record, error)

	// List retrieves all devices.
	List(ctx context.Context) ([]Record, error)

	// ListByDriver retrieves all devices bound to a specific driver kind.
	ListByDriver(ctx context.Context, kind string) ([]Record, error)

	// ListByStatus retrieves all devices in a specific playback status.
	ListByStatus(ctx context.Context, status Status) ([]Record, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if a device with the same ID already exists.
	Create(ctx context.Context, rec *Record) error

	// Update modifies an existing device.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, rec *Record) error

	// Delete removes a device by ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error

	// UpdateScene updates only the playback fields of a device.
	// This is optimised for frequent updates from the scheduler.
	UpdateScene(ctx context.Context, id string, activeScene string, status Status, generation uint64) error

	// UpdateMetrics records a completed render cycle: last render time,
	// cumulative push count, error count and last frame duration.
	UpdateMetrics(ctx context.Context, id string, renderedAt time.Time, pushDelta, errorDelta int64, frameMS int64) error

	// ResetMetrics zeroes a device's counters. Used by hard reset.
	ResetMetrics(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, name, address, driver, width, height,
	supports_brightness, supports_power, brightness,
	default_scene, active_scene, status, generation, last_render_at,
	push_count, error_count, last_frame_ms, created_at, updated_at`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Record, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return rec, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Record, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY id`
	return r.queryRecords(ctx, query)
}

// ListByDriver retrieves all devices bound to a specific driver kind.
func (r *SQLiteRepository) ListByDriver(ctx context.Context, kind string) ([]Record, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE driver = ? ORDER BY id`
	return r.queryRecords(ctx, query, kind)
}

// ListByStatus retrieves all devices in a specific playback status.
func (r *SQLiteRepository) ListByStatus(ctx context.Context, status Status) ([]Record, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE status = ? ORDER BY id`
	return r.queryRecords(ctx, query, string(status))
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, rec *Record) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	query := `
		INSERT INTO devices (
			id, name, address, driver, width, height,
			supports_brightness, supports_power, brightness,
			default_scene, active_scene, status, generation, last_render_at,
			push_count, error_count, last_frame_ms, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.Name,
		rec.Address,
		rec.DriverKind,
		rec.Width,
		rec.Height,
		boolToInt(rec.SupportsBrightness),
		boolToInt(rec.SupportsPower),
		rec.Brightness,
		rec.DefaultScene,
		rec.ActiveScene,
		string(rec.Status),
		int64(rec.Generation),
		nullableTime(rec.LastRenderAt),
		rec.PushCount,
		rec.ErrorCount,
		rec.LastFrameMS,
		rec.CreatedAt.Format(time.RFC3339),
		rec.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	return nil
}

// Update modifies an existing device.
func (r *SQLiteRepository) Update(ctx context.Context, rec *Record) error {
	rec.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE devices SET
			name = ?, address = ?, driver = ?, width = ?, height = ?,
			supports_brightness = ?, supports_power = ?, brightness = ?,
			default_scene = ?, active_scene = ?, status = ?, generation = ?,
			last_render_at = ?, push_count = ?, error_count = ?, last_frame_ms = ?,
			updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		rec.Name,
		rec.Address,
		rec.DriverKind,
		rec.Width,
		rec.Height,
		boolToInt(rec.SupportsBrightness),
		boolToInt(rec.SupportsPower),
		rec.Brightness,
		rec.DefaultScene,
		rec.ActiveScene,
		string(rec.Status),
		int64(rec.Generation),
		nullableTime(rec.LastRenderAt),
		rec.PushCount,
		rec.ErrorCount,
		rec.LastFrameMS,
		rec.UpdatedAt.Format(time.RFC3339),
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}

	return requireRowsAffected(result)
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireRowsAffected(result)
}

// UpdateScene updates only the playback fields of a device.
func (r *SQLiteRepository) UpdateScene(ctx context.Context, id string, activeScene string, status Status, generation uint64) error {
	now := time.Now().UTC()
	query := `
		UPDATE devices
		SET active_scene = ?, status = ?, generation = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		activeScene,
		string(status),
		int64(generation),
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device scene: %w", err)
	}
	return requireRowsAffected(result)
}

// UpdateMetrics records a completed render cycle.
func (r *SQLiteRepository) UpdateMetrics(ctx context.Context, id string, renderedAt time.Time, pushDelta, errorDelta int64, frameMS int64) error {
	now := time.Now().UTC()
	query := `
		UPDATE devices
		SET last_render_at = ?,
		    push_count = push_count + ?,
		    error_count = error_count + ?,
		    last_frame_ms = ?,
		    updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		renderedAt.UTC().Format(time.RFC3339),
		pushDelta,
		errorDelta,
		frameMS,
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device metrics: %w", err)
	}
	return requireRowsAffected(result)
}

// ResetMetrics zeroes a device's counters.
func (r *SQLiteRepository) ResetMetrics(ctx context.Context, id string) error {
	now := time.Now().UTC()
	query := `
		UPDATE devices
		SET push_count = 0, error_count = 0, last_frame_ms = 0,
		    last_render_at = NULL, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, now.Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("resetting device metrics: %w", err)
	}
	return requireRowsAffected(result)
}

// queryRecords executes a query and returns a slice of device records.
func (r *SQLiteRepository) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return records, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord scans a row or rows result into a Record.
func scanRecord(scanner rowScanner) (*Record, error) {
	var rec Record
	var supportsBrightness, supportsPower int
	var generation int64
	var lastRenderAt sql.NullString
	var status string
	var createdAt, updatedAt string

	err := scanner.Scan(
		&rec.ID,
		&rec.Name,
		&rec.Address,
		&rec.DriverKind,
		&rec.Width,
		&rec.Height,
		&supportsBrightness,
		&supportsPower,
		&rec.Brightness,
		&rec.DefaultScene,
		&rec.ActiveScene,
		&status,
		&generation,
		&lastRenderAt,
		&rec.PushCount,
		&rec.ErrorCount,
		&rec.LastFrameMS,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.SupportsBrightness = supportsBrightness != 0
	rec.SupportsPower = supportsPower != 0
	rec.Status = Status(status)
	rec.Generation = uint64(generation)

	if lastRenderAt.Valid {
		t, err := time.Parse(time.RFC3339, lastRenderAt.String)
		if err == nil {
			rec.LastRenderAt = &t
		}
	}

	var parseErr error
	rec.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	rec.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &rec, nil
}

// requireRowsAffected converts a zero-row update into ErrDeviceNotFound.
func requireRowsAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
