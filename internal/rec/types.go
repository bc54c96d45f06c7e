package rec

import "time"

// Location describes where a recording's bytes currently exist.
type Location string

const (
	LocationDeviceOnly Location = "device-only"
	LocationLocalOnly  Location = "local-only"
	LocationBoth       Location = "both"
)

// SyncStatus tracks a recording's progress through the download pipeline.
type SyncStatus string

const (
	SyncPending     SyncStatus = "pending"
	SyncDownloading SyncStatus = "downloading"
	SyncSynced      SyncStatus = "synced"
	SyncFailed      SyncStatus = "failed"
)

// TranscriptionStatus is owned by the external transcription pipeline; this
// core only resets stuck values during crash recovery.
type TranscriptionStatus string

const (
	TranscriptionPending      TranscriptionStatus = "pending"
	TranscriptionTranscribing TranscriptionStatus = "transcribing"
	TranscriptionProcessing   TranscriptionStatus = "processing"
	TranscriptionDone         TranscriptionStatus = "done"
	TranscriptionFailed       TranscriptionStatus = "failed"
)

// Recording is the canonical unit of captured audio in the ledger.
// FilePath is empty until the recording has a verified local copy.
type Recording struct {
	ID                  string
	DeviceName          string
	FilePath            string
	Size                int64
	Duration            time.Duration
	DateRecorded        time.Time // zero when the device name was unparseable
	OnDevice            bool
	OnLocal             bool
	SyncStatus          SyncStatus
	TranscriptionStatus TranscriptionStatus
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Location derives the tri-state location flag from the presence booleans.
func (r *Recording) Location() Location {
	switch {
	case r.OnDevice && r.OnLocal:
		return LocationBoth
	case r.OnLocal:
		return LocationLocalOnly
	default:
		return LocationDeviceOnly
	}
}

// SyncedFile binds a local file to its device origin.
type SyncedFile struct {
	ID           string
	LocalName    string
	OriginalName string
	LocalPath    string
	Size         int64
	SyncedAt     time.Time
}
