package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"recsync/internal/ledger/migrations"
	"recsync/internal/rec"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteLedger implements rec.Ledger on SQLite.
//
// Queries name their columns explicitly (never SELECT *) so the ledger
// tolerates additive schema columns owned by external migrations.
type SQLiteLedger struct {
	db    *sql.DB
	clock rec.Clock
	idgen rec.IDGenerator
	path  string
}

var _ rec.Ledger = (*SQLiteLedger)(nil)

// NewSQLiteLedger opens (or creates) the ledger at path and runs pending
// migrations. path can be ":memory:" for an in-memory ledger.
// clock and idgen may be nil, which selects the real implementations.
func NewSQLiteLedger(path string, clock rec.Clock, idgen rec.IDGenerator) (*SQLiteLedger, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating ledger: %w", err)
	}

	if clock == nil {
		clock = rec.RealClock{}
	}
	if idgen == nil {
		idgen = rec.UUIDGenerator{}
	}

	return &SQLiteLedger{db: db, clock: clock, idgen: idgen, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection with the PRAGMAs
// the ledger needs. Exported for tools and tests that need a raw handle.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	// SQLite defaults foreign keys to OFF for backward compatibility.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Close closes the underlying database.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// CheckMigrations verifies the database schema is up-to-date.
func (l *SQLiteLedger) CheckMigrations() error {
	return migrations.CheckStatus(l.db)
}

const recordingColumns = `id, device_name, file_path, size, duration_ms, date_recorded,
	on_device, on_local, sync_status, transcription_status, created_at, updated_at`

func scanRecording(row interface{ Scan(...any) error }) (*rec.Recording, error) {
	var (
		r          rec.Recording
		filePath   sql.NullString
		durationMS int64
		recorded   sql.NullTime
	)
	err := row.Scan(&r.ID, &r.DeviceName, &filePath, &r.Size, &durationMS, &recorded,
		&r.OnDevice, &r.OnLocal, &r.SyncStatus, &r.TranscriptionStatus, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.FilePath = filePath.String
	r.Duration = time.Duration(durationMS) * time.Millisecond
	if recorded.Valid {
		r.DateRecorded = recorded.Time
	}
	return &r, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// UpsertDeviceRecording creates or refreshes a recording from a device
// listing entry. Local fields are left alone on conflict.
func (l *SQLiteLedger) UpsertDeviceRecording(ctx context.Context, deviceName string, size int64, duration time.Duration, recorded time.Time) (*rec.Recording, error) {
	now := l.clock.Now()
	query := `INSERT INTO recordings
			(id, device_name, size, duration_ms, date_recorded, on_device, on_local, sync_status, transcription_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, 0, 'pending', 'pending', ?, ?)
		ON CONFLICT(device_name) DO UPDATE SET
			size = excluded.size,
			duration_ms = excluded.duration_ms,
			date_recorded = COALESCE(recordings.date_recorded, excluded.date_recorded),
			on_device = 1,
			updated_at = excluded.updated_at`
	_, err := l.db.ExecContext(ctx, query,
		l.idgen.New(), deviceName, size, duration.Milliseconds(), nullTime(recorded), now, now)
	if err != nil {
		return nil, fmt.Errorf("upserting recording %s: %w", deviceName, err)
	}
	return l.GetRecordingByDeviceName(ctx, deviceName)
}

// AdoptLocalRecording creates a local-only recording for an orphaned disk file.
func (l *SQLiteLedger) AdoptLocalRecording(ctx context.Context, deviceName, localPath string, size int64, recorded time.Time) (*rec.Recording, error) {
	now := l.clock.Now()
	query := `INSERT INTO recordings
			(id, device_name, file_path, size, date_recorded, on_device, on_local, sync_status, transcription_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, 1, 'synced', 'pending', ?, ?)
		ON CONFLICT(device_name) DO UPDATE SET
			file_path = excluded.file_path,
			size = excluded.size,
			on_local = 1,
			sync_status = 'synced',
			updated_at = excluded.updated_at`
	_, err := l.db.ExecContext(ctx, query,
		l.idgen.New(), deviceName, localPath, size, nullTime(recorded), now, now)
	if err != nil {
		return nil, fmt.Errorf("adopting recording %s: %w", deviceName, err)
	}
	return l.GetRecordingByDeviceName(ctx, deviceName)
}

func (l *SQLiteLedger) GetRecording(ctx context.Context, id string) (*rec.Recording, error) {
	query := `SELECT ` + recordingColumns + ` FROM recordings WHERE id = ?`
	r, err := scanRecording(l.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding recording %s: %w", id, err)
	}
	return r, nil
}

func (l *SQLiteLedger) GetRecordingByDeviceName(ctx context.Context, deviceName string) (*rec.Recording, error) {
	query := `SELECT ` + recordingColumns + ` FROM recordings WHERE device_name = ?`
	r, err := scanRecording(l.db.QueryRowContext(ctx, query, deviceName))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding recording by name %s: %w", deviceName, err)
	}
	return r, nil
}

func (l *SQLiteLedger) ListRecordings(ctx context.Context) ([]rec.Recording, error) {
	query := `SELECT ` + recordingColumns + ` FROM recordings ORDER BY device_name`
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing recordings: %w", err)
	}
	defer rows.Close()

	var out []rec.Recording
	for rows.Next() {
		r, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning recording: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing recordings: %w", err)
	}
	return out, nil
}

func (l *SQLiteLedger) MarkLocal(ctx context.Context, id, filePath string, size int64) error {
	query := `UPDATE recordings
		SET file_path = ?, size = ?, on_local = 1, sync_status = 'synced', updated_at = ?
		WHERE id = ?`
	return l.execOne(ctx, query, filePath, size, l.clock.Now(), id)
}

func (l *SQLiteLedger) ClearLocal(ctx context.Context, id string) error {
	query := `UPDATE recordings
		SET file_path = NULL, on_local = 0, updated_at = ?
		WHERE id = ?`
	return l.execOne(ctx, query, l.clock.Now(), id)
}

func (l *SQLiteLedger) SetOnDevice(ctx context.Context, id string, onDevice bool) error {
	query := `UPDATE recordings SET on_device = ?, updated_at = ? WHERE id = ?`
	return l.execOne(ctx, query, onDevice, l.clock.Now(), id)
}

func (l *SQLiteLedger) SetSyncStatus(ctx context.Context, id string, status rec.SyncStatus) error {
	query := `UPDATE recordings SET sync_status = ?, updated_at = ? WHERE id = ?`
	return l.execOne(ctx, query, string(status), l.clock.Now(), id)
}

func (l *SQLiteLedger) SetRecordingSize(ctx context.Context, id string, size int64) error {
	query := `UPDATE recordings SET size = ?, updated_at = ? WHERE id = ?`
	return l.execOne(ctx, query, size, l.clock.Now(), id)
}

func (l *SQLiteLedger) SetDateRecorded(ctx context.Context, id string, recorded time.Time) error {
	query := `UPDATE recordings SET date_recorded = ?, updated_at = ? WHERE id = ?`
	return l.execOne(ctx, query, nullTime(recorded), l.clock.Now(), id)
}

// ResetStuckStatuses is crash recovery: rows left in transcribing/processing
// by a dead process go back to pending.
func (l *SQLiteLedger) ResetStuckStatuses(ctx context.Context) (int64, error) {
	query := `UPDATE recordings
		SET transcription_status = 'pending', updated_at = ?
		WHERE transcription_status IN ('transcribing', 'processing')`
	res, err := l.db.ExecContext(ctx, query, l.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("resetting stuck statuses: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("resetting stuck statuses: %w", err)
	}
	return n, nil
}

func (l *SQLiteLedger) CreateSyncedFile(ctx context.Context, sf *rec.SyncedFile) error {
	if sf.ID == "" {
		sf.ID = l.idgen.New()
	}
	if sf.SyncedAt.IsZero() {
		sf.SyncedAt = l.clock.Now()
	}
	query := `INSERT INTO synced_files (id, local_name, original_name, local_path, size, synced_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(original_name) DO UPDATE SET
			local_name = excluded.local_name,
			local_path = excluded.local_path,
			size = excluded.size,
			synced_at = excluded.synced_at`
	_, err := l.db.ExecContext(ctx, query, sf.ID, sf.LocalName, sf.OriginalName, sf.LocalPath, sf.Size, sf.SyncedAt)
	if err != nil {
		return fmt.Errorf("recording synced file %s: %w", sf.OriginalName, err)
	}
	return nil
}

func (l *SQLiteLedger) DeleteSyncedFile(ctx context.Context, id string) error {
	query := `DELETE FROM synced_files WHERE id = ?`
	return l.execOne(ctx, query, id)
}

func (l *SQLiteLedger) ListSyncedFiles(ctx context.Context) ([]rec.SyncedFile, error) {
	query := `SELECT id, local_name, original_name, local_path, size, synced_at
		FROM synced_files ORDER BY local_name`
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing synced files: %w", err)
	}
	defer rows.Close()

	var out []rec.SyncedFile
	for rows.Next() {
		var sf rec.SyncedFile
		if err := rows.Scan(&sf.ID, &sf.LocalName, &sf.OriginalName, &sf.LocalPath, &sf.Size, &sf.SyncedAt); err != nil {
			return nil, fmt.Errorf("scanning synced file: %w", err)
		}
		out = append(out, sf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing synced files: %w", err)
	}
	return out, nil
}

func (l *SQLiteLedger) GetSyncedFileByOriginalName(ctx context.Context, originalName string) (*rec.SyncedFile, error) {
	query := `SELECT id, local_name, original_name, local_path, size, synced_at
		FROM synced_files WHERE original_name = ?`
	var sf rec.SyncedFile
	err := l.db.QueryRowContext(ctx, query, originalName).
		Scan(&sf.ID, &sf.LocalName, &sf.OriginalName, &sf.LocalPath, &sf.Size, &sf.SyncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding synced file %s: %w", originalName, err)
	}
	return &sf, nil
}

func (l *SQLiteLedger) SetSyncedFileSize(ctx context.Context, id string, size int64) error {
	query := `UPDATE synced_files SET size = ? WHERE id = ?`
	return l.execOne(ctx, query, size, id)
}

// execOne runs a statement expected to touch exactly one row.
func (l *SQLiteLedger) execOne(ctx context.Context, query string, args ...any) error {
	res, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("ledger update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger update: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("ledger update touched %d rows, want 1", n)
	}
	return nil
}
