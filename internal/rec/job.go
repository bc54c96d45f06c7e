package rec

// JobState is the download job state machine:
// queued -> in_progress -> {completed, failed, cancelled}.
type JobState string

const (
	JobQueued     JobState = "queued"
	JobInProgress JobState = "in_progress"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
	JobCancelled  JobState = "cancelled"
)

// Terminal reports whether the state is an end state.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// DownloadJob is a queue entry for one recording transfer. Jobs live in
// memory only; the ledger is updated when a job completes, never before.
type DownloadJob struct {
	RecordingID string
	DeviceName  string
	State       JobState
	BytesDone   int64
	BytesTotal  int64
	Attempts    int
	Err         error
}

// JobResult is the per-item outcome reported after a batch settles.
type JobResult struct {
	RecordingID string
	DeviceName  string
	State       JobState
	LocalPath   string
	Err         error
}

// BatchResult aggregates a batch of download jobs. It is always produced,
// even when zero items succeed.
type BatchResult struct {
	Succeeded int
	Failed    int
	Cancelled int
	Items     []JobResult
}

// Add records one settled job into the batch counts.
func (b *BatchResult) Add(r JobResult) {
	b.Items = append(b.Items, r)
	switch r.State {
	case JobCompleted:
		b.Succeeded++
	case JobCancelled:
		b.Cancelled++
	default:
		b.Failed++
	}
}
