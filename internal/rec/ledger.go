package rec

import (
	"context"
	"time"
)

// Ledger is the metadata store of record. It is the single source of truth
// and must be the last thing updated in any operation: transfer then record,
// never record then transfer. A crash mid-operation therefore leaves the
// ledger strictly behind reality, which the integrity engine detects.
type Ledger interface {
	// Recording operations.

	// UpsertDeviceRecording creates a recording on first observation of a
	// device listing entry, or refreshes its device-side fields. Local
	// fields (file_path, on_local) are never touched here.
	UpsertDeviceRecording(ctx context.Context, deviceName string, size int64, duration time.Duration, recorded time.Time) (*Recording, error)

	// AdoptLocalRecording creates a local-only recording for a file found
	// on disk with no device counterpart.
	AdoptLocalRecording(ctx context.Context, deviceName, localPath string, size int64, recorded time.Time) (*Recording, error)

	GetRecording(ctx context.Context, id string) (*Recording, error)
	GetRecordingByDeviceName(ctx context.Context, deviceName string) (*Recording, error)
	ListRecordings(ctx context.Context) ([]Recording, error)

	// MarkLocal records a verified local copy: sets file_path, on_local=1
	// and sync_status=synced.
	MarkLocal(ctx context.Context, id, filePath string, size int64) error

	// ClearLocal removes the local pointer: file_path=NULL, on_local=0.
	ClearLocal(ctx context.Context, id string) error

	SetOnDevice(ctx context.Context, id string, onDevice bool) error
	SetSyncStatus(ctx context.Context, id string, status SyncStatus) error
	SetRecordingSize(ctx context.Context, id string, size int64) error
	SetDateRecorded(ctx context.Context, id string, recorded time.Time) error

	// ResetStuckStatuses returns transcribing/processing rows to pending.
	// Run at startup for crash recovery.
	ResetStuckStatuses(ctx context.Context) (int64, error)

	// Synced-file operations.

	CreateSyncedFile(ctx context.Context, sf *SyncedFile) error
	DeleteSyncedFile(ctx context.Context, id string) error
	ListSyncedFiles(ctx context.Context) ([]SyncedFile, error)
	GetSyncedFileByOriginalName(ctx context.Context, originalName string) (*SyncedFile, error)
	SetSyncedFileSize(ctx context.Context, id string, size int64) error

	Close() error
}
