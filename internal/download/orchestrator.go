// Package download turns a device file listing into verified local copies.
package download

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"recsync/internal/events"
	"recsync/internal/names"
	"recsync/internal/protocol"
	"recsync/internal/rec"
)

// PartialDir is the reserved directory for in-flight transfers. Files are
// written here and promoted into the recordings directory with an atomic
// rename, so a half-written file is never mistaken for a complete one.
const PartialDir = ".partial"

// DeviceClient is the slice of the device API the orchestrator needs.
type DeviceClient interface {
	ListFiles(ctx context.Context, progress func(found, total int)) ([]protocol.FileEntry, error)
	ReadFile(ctx context.Context, name string, w io.Writer, progress func(done int64)) (int64, error)
}

// Orchestrator drives downloads from the device into local storage.
// Queuing and bookkeeping are decoupled from the transfer itself; the
// command queue below serializes the actual wire traffic.
type Orchestrator struct {
	client DeviceClient
	ledger rec.Ledger
	bus    *events.Bus
	logger rec.Logger
	clock  rec.Clock
	dir    string

	mu       sync.Mutex
	jobs     map[string]*rec.DownloadJob // keyed by recording id
	order    []string                    // FIFO dispatch order of recording ids
	listing  []protocol.FileEntry
	listedAt time.Time
}

// NewOrchestrator wires an orchestrator. dir is the recordings directory.
func NewOrchestrator(client DeviceClient, ledger rec.Ledger, bus *events.Bus, logger rec.Logger, clock rec.Clock, dir string) *Orchestrator {
	return &Orchestrator{
		client: client,
		ledger: ledger,
		bus:    bus,
		logger: logger,
		clock:  clock,
		dir:    dir,
		jobs:   make(map[string]*rec.DownloadJob),
	}
}

// ListRecordings streams the paginated device listing, records every entry
// in the ledger, and returns the ledger view of what is on the device.
// progress, when non-nil, is invoked with (found, total) as pages arrive.
// When forceRefresh is false a previous listing from this process is reused.
func (o *Orchestrator) ListRecordings(ctx context.Context, progress func(found, total int), forceRefresh bool) ([]rec.Recording, error) {
	o.mu.Lock()
	cached := o.listing
	o.mu.Unlock()

	entries := cached
	if forceRefresh || entries == nil {
		fresh, err := o.client.ListFiles(ctx, progress)
		if err != nil {
			return nil, fmt.Errorf("listing device files: %w", err)
		}
		entries = fresh
		o.mu.Lock()
		o.listing = fresh
		o.listedAt = o.clock.Now()
		o.mu.Unlock()
	} else if progress != nil {
		progress(len(entries), len(entries))
	}

	present := make(map[string]bool, len(entries))
	var out []rec.Recording
	for _, e := range entries {
		present[e.Name] = true
		recorded := e.Recorded
		if ts, ok := names.Timestamp(e.Name); ok {
			// The name-embedded timestamp is the device's own view and
			// survives a wrong device clock; prefer it.
			recorded = ts
		}
		r, err := o.ledger.UpsertDeviceRecording(ctx, e.Name, e.Size, e.Duration, recorded)
		if err != nil {
			return nil, fmt.Errorf("recording listing entry %s: %w", e.Name, err)
		}
		out = append(out, *r)
	}

	// Recordings the device no longer reports are demoted to local-only.
	all, err := o.ledger.ListRecordings(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconciling listing: %w", err)
	}
	for _, r := range all {
		if r.OnDevice && !present[r.DeviceName] {
			if err := o.ledger.SetOnDevice(ctx, r.ID, false); err != nil {
				return nil, fmt.Errorf("demoting %s: %w", r.DeviceName, err)
			}
		}
	}

	return out, nil
}

// FilesToSync filters out recordings that already have a local counterpart:
// already on_local, tracked in synced_files by exact device filename, or
// tracked under a normalized equivalent (renamed extension).
func (o *Orchestrator) FilesToSync(ctx context.Context, recordings []rec.Recording) ([]rec.Recording, error) {
	synced, err := o.ledger.ListSyncedFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading synced files: %w", err)
	}

	exact := make(map[string]bool, len(synced))
	normalized := make(map[string]bool, len(synced)*2)
	for _, sf := range synced {
		exact[sf.OriginalName] = true
		normalized[names.Normalize(sf.OriginalName)] = true
		normalized[names.Normalize(sf.LocalName)] = true
	}

	var out []rec.Recording
	for _, r := range recordings {
		if r.OnLocal || exact[r.DeviceName] || normalized[names.Normalize(r.DeviceName)] {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// QueueDownloads creates one job per recording. Enqueuing a recording that
// is already queued or in progress is a no-op. Returns the number of jobs
// newly queued.
func (o *Orchestrator) QueueDownloads(recordings []rec.Recording) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	queued := 0
	for _, r := range recordings {
		if j, ok := o.jobs[r.ID]; ok && !j.State.Terminal() {
			continue
		}
		o.jobs[r.ID] = &rec.DownloadJob{
			RecordingID: r.ID,
			DeviceName:  r.DeviceName,
			State:       rec.JobQueued,
			BytesTotal:  r.Size,
		}
		o.order = append(o.order, r.ID)
		queued++
	}
	return queued
}

// Jobs returns a snapshot of the current job table.
func (o *Orchestrator) Jobs() []rec.DownloadJob {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]rec.DownloadJob, 0, len(o.jobs))
	for _, j := range o.jobs {
		out = append(out, *j)
	}
	return out
}

// Run executes all queued jobs and reports the batch outcome. Item failures
// are isolated: one file's failure never blocks sibling downloads. A context
// cancellation stops dispatching new jobs but lets the in-flight transfer
// finish or fail naturally; already-queued jobs settle as cancelled.
// Terminal jobs are removed from the table after their result is reported.
func (o *Orchestrator) Run(ctx context.Context) rec.BatchResult {
	var result rec.BatchResult

	for {
		job := o.nextQueued()
		if job == nil {
			break
		}

		if ctx.Err() != nil {
			o.settle(job, rec.JobCancelled, "", rec.ErrDownloadCancelled, &result)
			continue
		}

		o.setState(job, rec.JobInProgress)
		// The transfer itself is never interrupted mid-flight; the wire
		// protocol has no cancel primitive.
		localPath, err := o.runJob(context.WithoutCancel(ctx), job)
		if err != nil {
			o.logger.Warn("download failed", "file", job.DeviceName, "err", err)
			o.settle(job, rec.JobFailed, "", err, &result)
			continue
		}
		o.settle(job, rec.JobCompleted, localPath, nil, &result)
	}

	o.logger.Info("download batch settled",
		"succeeded", result.Succeeded, "failed", result.Failed, "cancelled", result.Cancelled)
	return result
}

func (o *Orchestrator) nextQueued() *rec.DownloadJob {
	o.mu.Lock()
	defer o.mu.Unlock()
	for len(o.order) > 0 {
		j, ok := o.jobs[o.order[0]]
		if ok && j.State == rec.JobQueued {
			return j
		}
		o.order = o.order[1:]
	}
	return nil
}

func (o *Orchestrator) setState(job *rec.DownloadJob, s rec.JobState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	job.State = s
}

// settle moves a job to a terminal state, reports it into the batch result,
// publishes the consumer event, and drops the job from the table.
func (o *Orchestrator) settle(job *rec.DownloadJob, s rec.JobState, localPath string, err error, result *rec.BatchResult) {
	o.mu.Lock()
	job.State = s
	job.Err = err
	delete(o.jobs, job.RecordingID)
	o.mu.Unlock()

	result.Add(rec.JobResult{
		RecordingID: job.RecordingID,
		DeviceName:  job.DeviceName,
		State:       s,
		LocalPath:   localPath,
		Err:         err,
	})

	payload := events.DownloadPayload{
		RecordingID: job.RecordingID,
		DeviceName:  job.DeviceName,
		LocalPath:   localPath,
		Size:        job.BytesDone,
	}
	evType := events.DownloadCompleted
	if s != rec.JobCompleted {
		evType = events.DownloadFailed
		if err != nil {
			payload.Error = err.Error()
		}
	}
	o.bus.Publish(events.Event{Type: evType, Payload: payload})
}

// runJob transfers one recording: device -> temp file -> size check ->
// atomic rename -> ledger. The ledger is updated last, so a crash at any
// point leaves it describing a state strictly behind reality. On failure the
// partial temp file is left for the integrity engine to classify.
func (o *Orchestrator) runJob(ctx context.Context, job *rec.DownloadJob) (string, error) {
	job.Attempts++

	partialDir := filepath.Join(o.dir, PartialDir)
	if err := os.MkdirAll(partialDir, 0755); err != nil {
		return "", fmt.Errorf("%w: %v", rec.ErrWriteFailed, err)
	}

	localName := names.LocalName(job.DeviceName)
	tmpPath := filepath.Join(partialDir, localName+".part")

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", rec.ErrWriteFailed, err)
	}

	written, err := o.client.ReadFile(ctx, job.DeviceName, f, func(done int64) {
		o.mu.Lock()
		job.BytesDone = done
		o.mu.Unlock()
	})
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("%w: %v", rec.ErrWriteFailed, cerr)
	}
	if err != nil {
		return "", fmt.Errorf("transferring %s: %w", job.DeviceName, err)
	}
	if written != job.BytesTotal {
		return "", fmt.Errorf("%s: got %d bytes, device reported %d: %w",
			job.DeviceName, written, job.BytesTotal, rec.ErrSizeMismatch)
	}

	finalPath, err := o.promote(tmpPath, localName)
	if err != nil {
		return "", err
	}

	// Stamp the file with the recording's own timestamp so the filename
	// date and the mtime agree from the start.
	if ts, ok := names.Timestamp(localName); ok {
		if err := os.Chtimes(finalPath, o.clock.Now(), ts); err != nil {
			o.logger.Warn("could not set file timestamp", "path", finalPath, "err", err)
		}
	}

	if err := o.ledger.MarkLocal(ctx, job.RecordingID, finalPath, written); err != nil {
		return "", fmt.Errorf("recording local copy of %s: %w", job.DeviceName, err)
	}
	if err := o.ledger.CreateSyncedFile(ctx, &rec.SyncedFile{
		LocalName:    filepath.Base(finalPath),
		OriginalName: job.DeviceName,
		LocalPath:    finalPath,
		Size:         written,
		SyncedAt:     o.clock.Now(),
	}); err != nil {
		return "", fmt.Errorf("tracking local copy of %s: %w", job.DeviceName, err)
	}

	o.logger.Info("downloaded", "file", job.DeviceName, "path", finalPath, "bytes", written)
	return finalPath, nil
}

// promote renames a verified temp file into the recordings directory,
// picking a numbered variant if the canonical name is taken.
func (o *Orchestrator) promote(tmpPath, localName string) (string, error) {
	ext := filepath.Ext(localName)
	base := localName[:len(localName)-len(ext)]

	finalPath := filepath.Join(o.dir, localName)
	for i := 1; ; i++ {
		if _, err := os.Stat(finalPath); os.IsNotExist(err) {
			break
		}
		finalPath = filepath.Join(o.dir, fmt.Sprintf("%s-%d%s", base, i, ext))
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("promoting %s: %w: %v", localName, rec.ErrWriteFailed, err)
	}
	return finalPath, nil
}
