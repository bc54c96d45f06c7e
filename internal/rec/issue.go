package rec

import "time"

// IssueType classifies a detected inconsistency between device, disk and ledger.
type IssueType string

const (
	IssueOrphanedDownload   IssueType = "orphaned_download"
	IssueMissingFile        IssueType = "missing_file"
	IssueOrphanedFile       IssueType = "orphaned_file"
	IssueDateMismatch       IssueType = "date_mismatch"
	IssueSizeMismatch       IssueType = "size_mismatch"
	IssueIncompleteDownload IssueType = "incomplete_download"
)

// Severity ranks how urgently an issue needs attention.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// SuggestedAction is the recommended way to resolve an issue.
type SuggestedAction string

const (
	ActionDelete SuggestedAction = "delete"
	ActionRepair SuggestedAction = "repair"
	ActionIgnore SuggestedAction = "ignore"
	ActionManual SuggestedAction = "manual"
)

// IssueDetails is the tagged union of per-type issue payloads. Each variant
// carries only the fields its repair routine needs.
type IssueDetails interface {
	isIssueDetails()
}

// OrphanedDownloadDetails: the ledger points at a local file that is gone.
type OrphanedDownloadDetails struct {
	RecordingID string
	FilePath    string
	OnDevice    bool
}

// MissingFileDetails: a synced-file entry whose local file is gone.
type MissingFileDetails struct {
	SyncedFileID string
	LocalPath    string
	RecordingID  string // empty when no recording matches the entry
}

// OrphanedFileDetails: an audio file on disk that nothing tracks.
type OrphanedFileDetails struct {
	FilePath string
	Size     int64
	ModTime  time.Time
}

// ImplausibleDateDetails: a ledger date_recorded that is unparseable or
// outside the plausible range. Fallback is the row's created_at.
type ImplausibleDateDetails struct {
	RecordingID string
	Stored      time.Time // zero when unparseable
	Fallback    time.Time
}

// MtimeDriftDetails: a file whose on-disk mtime disagrees with the date
// encoded in its filename.
type MtimeDriftDetails struct {
	RecordingID string
	FilePath    string
	NameDate    time.Time
	ModTime     time.Time
	Drift       time.Duration
}

// SizeMismatchDetails: ledger size vs. actual disk size.
type SizeMismatchDetails struct {
	RecordingID  string
	SyncedFileID string
	FilePath     string
	LedgerSize   int64
	DiskSize     int64
}

// IncompleteDownloadDetails: a file too small to be a real recording, or a
// leftover partial transfer.
type IncompleteDownloadDetails struct {
	FilePath     string
	Size         int64
	RecordingID  string // empty for untracked partials
	SyncedFileID string // set when a synced-file entry tracks the file
	Partial      bool   // true for files under the partial-transfer prefix
}

func (OrphanedDownloadDetails) isIssueDetails()   {}
func (MissingFileDetails) isIssueDetails()        {}
func (OrphanedFileDetails) isIssueDetails()       {}
func (ImplausibleDateDetails) isIssueDetails()    {}
func (MtimeDriftDetails) isIssueDetails()         {}
func (SizeMismatchDetails) isIssueDetails()       {}
func (IncompleteDownloadDetails) isIssueDetails() {}

// IntegrityIssue is one detected inconsistency. Issues are created fresh on
// every scan; repairing consumes an issue id from the most recent report.
type IntegrityIssue struct {
	ID              string
	Type            IssueType
	Severity        Severity
	Description     string
	FilePath        string
	Filename        string
	RecordingID     string
	SuggestedAction SuggestedAction
	AutoRepairable  bool
	Details         IssueDetails
}

// IntegrityReport is the product of one full scan. A report with no issues
// is an empty (never nil) slice.
type IntegrityReport struct {
	ScannedAt time.Time
	Issues    []IntegrityIssue
}

// ByType groups the report's issues by issue type.
func (r *IntegrityReport) ByType() map[IssueType][]IntegrityIssue {
	out := make(map[IssueType][]IntegrityIssue)
	for _, is := range r.Issues {
		out[is.Type] = append(out[is.Type], is)
	}
	return out
}

// AutoRepairable returns the subset of issues that can be repaired without
// operator judgement.
func (r *IntegrityReport) AutoRepairable() []IntegrityIssue {
	var out []IntegrityIssue
	for _, is := range r.Issues {
		if is.AutoRepairable {
			out = append(out, is)
		}
	}
	return out
}

// RepairResult is the per-issue outcome of a repair attempt.
type RepairResult struct {
	IssueID string
	OK      bool
	Action  string
	Err     error
}
