package inventory

import (
	"context"
	"database/sql"
	"fmt"
)

// Repository defines the read-only interface over the admin backend's
// device store. This abstraction allows the runner to be tested with an
// in-memory implementation.
type Repository interface {
	// LoadAll returns a snapshot of every device record in inventory
	// iteration order. Changes in the store after the snapshot are not
	// observed during a run.
	LoadAll(ctx context.Context) ([]DeviceRecord, error)
}

// SQLiteRepository implements Repository against the admin backend's
// SQLite store, opened read-only by the caller.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open (read-only) SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// LoadAll returns all device records from the provisioning view.
//
// The admin backend maintains the `devices` view as a flat join of its
// normalised tables; this core consumes only the view and never writes.
func (r *SQLiteRepository) LoadAll(ctx context.Context) ([]DeviceRecord, error) {
	query := `
		SELECT mac, state, level, room, room_slug, position, position_slug,
			function, firmware, model, interlock, mode, target, extra,
			ha_device_class, hostname
		FROM devices
		ORDER BY rowid`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}
	defer rows.Close()

	var records []DeviceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadFailed, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}

	return records, nil
}

// scanRecord maps one row of the provisioning view into a DeviceRecord.
// Optional columns are NULLable in the store; NULL becomes the zero value.
func scanRecord(rows *sql.Rows) (DeviceRecord, error) {
	var (
		rec   DeviceRecord
		state sql.NullString
		level sql.NullInt64

		mac, room, roomSlug, position, positionSlug sql.NullString
		function, firmware, model                   sql.NullString
		interlock, mode, target, extra              sql.NullString
		haDeviceClass, hostname                     sql.NullString
	)

	err := rows.Scan(&mac, &state, &level, &room, &roomSlug, &position,
		&positionSlug, &function, &firmware, &model, &interlock, &mode,
		&target, &extra, &haDeviceClass, &hostname)
	if err != nil {
		return rec, err
	}

	rec = DeviceRecord{
		MAC:           mac.String,
		State:         State(state.String),
		Level:         int(level.Int64),
		Room:          room.String,
		RoomSlug:      roomSlug.String,
		Position:      position.String,
		PositionSlug:  positionSlug.String,
		Function:      function.String,
		Firmware:      firmware.String,
		Model:         model.String,
		Interlock:     interlock.String,
		Mode:          Mode(mode.String),
		Target:        target.String,
		Extra:         extra.String,
		HADeviceClass: haDeviceClass.String,
		Hostname:      hostname.String,
	}
	return rec, nil
}
