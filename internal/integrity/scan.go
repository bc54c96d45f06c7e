// Package integrity detects and repairs divergence between the device
// listing, the filesystem, and the ledger.
package integrity

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"recsync/internal/config"
	"recsync/internal/download"
	"recsync/internal/events"
	"recsync/internal/names"
	"recsync/internal/rec"
)

// audioExts are the extensions the scanner treats as recordings.
var audioExts = map[string]bool{
	".wav":  true,
	".hda":  true,
	".mp3":  true,
	".m4a":  true,
	".flac": true,
}

// Engine runs the startup check and the on-demand full scan, and repairs
// issues from the most recent report. Reports are not merged across scans:
// every RunFullScan starts fresh.
type Engine struct {
	ledger rec.Ledger
	bus    *events.Bus
	logger rec.Logger
	clock  rec.Clock
	idgen  rec.IDGenerator
	dir    string
	policy config.IntegrityConfig

	mu         sync.Mutex
	lastReport *rec.IntegrityReport
}

// NewEngine wires an integrity engine for the given recordings directory.
func NewEngine(ledger rec.Ledger, bus *events.Bus, logger rec.Logger, clock rec.Clock, idgen rec.IDGenerator, dir string, policy config.IntegrityConfig) *Engine {
	return &Engine{
		ledger: ledger,
		bus:    bus,
		logger: logger,
		clock:  clock,
		idgen:  idgen,
		dir:    dir,
		policy: policy,
	}
}

// LastReport returns the most recent scan report, or nil before any scan.
func (e *Engine) LastReport() *rec.IntegrityReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastReport
}

// RunFullScan compares device/disk/ledger state and produces a complete
// report. A clean state yields an empty (never nil) issue list.
func (e *Engine) RunFullScan(ctx context.Context) (*rec.IntegrityReport, error) {
	report := &rec.IntegrityReport{
		ScannedAt: e.clock.Now(),
		Issues:    []rec.IntegrityIssue{},
	}

	recordings, err := e.ledger.ListRecordings(ctx)
	if err != nil {
		return nil, fmt.Errorf("full scan: %w", err)
	}
	synced, err := e.ledger.ListSyncedFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("full scan: %w", err)
	}

	e.checkOrphanedDownloads(recordings, report)
	e.checkMissingFiles(recordings, synced, report)
	if err := e.checkDiskFiles(recordings, synced, report); err != nil {
		return nil, err
	}
	e.checkRecordedDates(recordings, report)
	e.checkPartials(report)

	e.mu.Lock()
	e.lastReport = report
	e.mu.Unlock()

	byType := make(map[string]int)
	for _, is := range report.Issues {
		byType[string(is.Type)]++
	}
	e.bus.Publish(events.Event{
		Type:    events.ScanCompleted,
		Payload: events.ScanPayload{IssueCount: len(report.Issues), ByType: byType},
	})
	e.logger.Info("full scan complete", "issues", len(report.Issues))

	return report, nil
}

// checkOrphanedDownloads flags recordings whose file_path points at nothing.
func (e *Engine) checkOrphanedDownloads(recordings []rec.Recording, report *rec.IntegrityReport) {
	for _, r := range recordings {
		if r.FilePath == "" {
			continue
		}
		if _, err := os.Stat(r.FilePath); err == nil {
			continue
		}
		report.Issues = append(report.Issues, rec.IntegrityIssue{
			ID:              e.idgen.New(),
			Type:            rec.IssueOrphanedDownload,
			Severity:        rec.SeverityMedium,
			Description:     fmt.Sprintf("%s points at %s, which does not exist", r.DeviceName, r.FilePath),
			FilePath:        r.FilePath,
			Filename:        r.DeviceName,
			RecordingID:     r.ID,
			SuggestedAction: rec.ActionRepair,
			AutoRepairable:  true,
			Details: rec.OrphanedDownloadDetails{
				RecordingID: r.ID,
				FilePath:    r.FilePath,
				OnDevice:    r.OnDevice,
			},
		})
	}
}

// checkMissingFiles flags synced-file entries whose local file is gone.
func (e *Engine) checkMissingFiles(recordings []rec.Recording, synced []rec.SyncedFile, report *rec.IntegrityReport) {
	for _, sf := range synced {
		if _, err := os.Stat(sf.LocalPath); err == nil {
			continue
		}
		recordingID := ""
		for _, r := range recordings {
			if names.SameRecording(r.DeviceName, sf.OriginalName) {
				recordingID = r.ID
				break
			}
		}
		report.Issues = append(report.Issues, rec.IntegrityIssue{
			ID:              e.idgen.New(),
			Type:            rec.IssueMissingFile,
			Severity:        rec.SeverityMedium,
			Description:     fmt.Sprintf("tracked file %s is missing from disk", sf.LocalName),
			FilePath:        sf.LocalPath,
			Filename:        sf.LocalName,
			RecordingID:     recordingID,
			SuggestedAction: rec.ActionRepair,
			AutoRepairable:  true,
			Details: rec.MissingFileDetails{
				SyncedFileID: sf.ID,
				LocalPath:    sf.LocalPath,
				RecordingID:  recordingID,
			},
		})
	}
}

// checkDiskFiles walks the recordings directory and classifies each audio
// file: incomplete, orphaned, size-mismatched, or mtime-drifted.
func (e *Engine) checkDiskFiles(recordings []rec.Recording, synced []rec.SyncedFile, report *rec.IntegrityReport) error {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("scanning %s: %w", e.dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !audioExts[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue // raced with deletion
		}
		e.classifyDiskFile(name, info, recordings, synced, report)
	}
	return nil
}

func (e *Engine) classifyDiskFile(name string, info fs.FileInfo, recordings []rec.Recording, synced []rec.SyncedFile, report *rec.IntegrityReport) {
	path := filepath.Join(e.dir, name)

	var trackedSynced *rec.SyncedFile
	for i := range synced {
		if synced[i].LocalName == name || names.SameRecording(synced[i].LocalName, name) {
			trackedSynced = &synced[i]
			break
		}
	}
	var trackedRec *rec.Recording
	for i := range recordings {
		if filepath.Base(recordings[i].FilePath) == name || names.SameRecording(recordings[i].DeviceName, name) {
			trackedRec = &recordings[i]
			break
		}
	}

	// Too small to be a real recording: headers only, or nothing at all.
	if info.Size() < e.policy.MinAudioBytes {
		details := rec.IncompleteDownloadDetails{FilePath: path, Size: info.Size()}
		recordingID := ""
		if trackedRec != nil {
			recordingID = trackedRec.ID
			details.RecordingID = trackedRec.ID
		}
		if trackedSynced != nil {
			details.SyncedFileID = trackedSynced.ID
		}
		report.Issues = append(report.Issues, rec.IntegrityIssue{
			ID:              e.idgen.New(),
			Type:            rec.IssueIncompleteDownload,
			Severity:        rec.SeverityHigh,
			Description:     fmt.Sprintf("%s is %d bytes, below the %d byte minimum for a real recording", name, info.Size(), e.policy.MinAudioBytes),
			FilePath:        path,
			Filename:        name,
			RecordingID:     recordingID,
			SuggestedAction: rec.ActionDelete,
			AutoRepairable:  true,
			Details:         details,
		})
		return
	}

	if trackedSynced == nil && trackedRec == nil {
		report.Issues = append(report.Issues, rec.IntegrityIssue{
			ID:              e.idgen.New(),
			Type:            rec.IssueOrphanedFile,
			Severity:        rec.SeverityLow,
			Description:     fmt.Sprintf("%s is on disk but nothing tracks it", name),
			FilePath:        path,
			Filename:        name,
			SuggestedAction: rec.ActionRepair,
			AutoRepairable:  true,
			Details: rec.OrphanedFileDetails{
				FilePath: path,
				Size:     info.Size(),
				ModTime:  info.ModTime(),
			},
		})
		return
	}

	e.checkSize(name, path, info, trackedRec, trackedSynced, report)
	e.checkMtimeDrift(name, path, info, trackedRec, report)
}

// checkSize flags ledger/disk size divergence beyond both the relative and
// the absolute tolerance.
func (e *Engine) checkSize(name, path string, info fs.FileInfo, trackedRec *rec.Recording, trackedSynced *rec.SyncedFile, report *rec.IntegrityReport) {
	var ledgerSize int64
	if trackedSynced != nil {
		ledgerSize = trackedSynced.Size
	} else if trackedRec != nil {
		ledgerSize = trackedRec.Size
	}
	if ledgerSize <= 0 {
		return
	}

	diff := info.Size() - ledgerSize
	if diff < 0 {
		diff = -diff
	}
	relative := float64(diff) / float64(ledgerSize) * 100
	if diff <= e.policy.SizeToleranceBytes || relative <= e.policy.SizeTolerancePercent {
		return
	}

	details := rec.SizeMismatchDetails{
		FilePath:   path,
		LedgerSize: ledgerSize,
		DiskSize:   info.Size(),
	}
	recordingID := ""
	if trackedRec != nil {
		recordingID = trackedRec.ID
		details.RecordingID = trackedRec.ID
	}
	if trackedSynced != nil {
		details.SyncedFileID = trackedSynced.ID
	}
	report.Issues = append(report.Issues, rec.IntegrityIssue{
		ID:              e.idgen.New(),
		Type:            rec.IssueSizeMismatch,
		Severity:        rec.SeverityLow,
		Description:     fmt.Sprintf("%s is %d bytes on disk but the ledger records %d", name, info.Size(), ledgerSize),
		FilePath:        path,
		Filename:        name,
		RecordingID:     recordingID,
		SuggestedAction: rec.ActionRepair,
		AutoRepairable:  true,
		Details:         details,
	})
}

// checkMtimeDrift compares a file's mtime with the date encoded in its
// filename. Small drift is a note; a full day means the timestamp is wrong
// and gets repaired.
func (e *Engine) checkMtimeDrift(name, path string, info fs.FileInfo, trackedRec *rec.Recording, report *rec.IntegrityReport) {
	nameDate, ok := names.Timestamp(name)
	if !ok {
		return
	}
	drift := info.ModTime().Sub(nameDate)
	if drift < 0 {
		drift = -drift
	}
	if drift <= e.policy.MtimeNoteThreshold() {
		return
	}

	recordingID := ""
	if trackedRec != nil {
		recordingID = trackedRec.ID
	}
	issue := rec.IntegrityIssue{
		ID:          e.idgen.New(),
		Type:        rec.IssueDateMismatch,
		FilePath:    path,
		Filename:    name,
		RecordingID: recordingID,
		Details: rec.MtimeDriftDetails{
			RecordingID: recordingID,
			FilePath:    path,
			NameDate:    nameDate,
			ModTime:     info.ModTime(),
			Drift:       drift,
		},
	}
	if drift > e.policy.MtimeHighThreshold() {
		issue.Severity = rec.SeverityHigh
		issue.SuggestedAction = rec.ActionRepair
		issue.AutoRepairable = true
		issue.Description = fmt.Sprintf("%s was modified %s away from its filename date", name, drift.Round(time.Minute))
	} else {
		issue.Severity = rec.SeverityLow
		issue.SuggestedAction = rec.ActionIgnore
		issue.Description = fmt.Sprintf("%s mtime drifts %s from its filename date", name, drift.Round(time.Minute))
	}
	report.Issues = append(report.Issues, issue)
}

// checkRecordedDates flags ledger dates that are unparseable or outside the
// plausible window. Unparseable dates are routed to manual review, never
// silently corrected.
func (e *Engine) checkRecordedDates(recordings []rec.Recording, report *rec.IntegrityReport) {
	now := e.clock.Now()
	for _, r := range recordings {
		var description string
		action := rec.ActionManual
		auto := false

		switch {
		case r.DateRecorded.IsZero():
			description = fmt.Sprintf("%s has no parseable recording date", r.DeviceName)
		case r.DateRecorded.Before(e.policy.DateFloor()):
			description = fmt.Sprintf("%s claims to be recorded in %d", r.DeviceName, r.DateRecorded.Year())
			action = rec.ActionRepair
			auto = true
		case r.DateRecorded.After(now.Add(e.policy.FutureSlack())):
			description = fmt.Sprintf("%s claims to be recorded in the future (%s)", r.DeviceName, r.DateRecorded.Format(time.RFC3339))
			action = rec.ActionRepair
			auto = true
		default:
			continue
		}

		report.Issues = append(report.Issues, rec.IntegrityIssue{
			ID:              e.idgen.New(),
			Type:            rec.IssueDateMismatch,
			Severity:        rec.SeverityMedium,
			Description:     description,
			Filename:        r.DeviceName,
			RecordingID:     r.ID,
			SuggestedAction: action,
			AutoRepairable:  auto,
			Details: rec.ImplausibleDateDetails{
				RecordingID: r.ID,
				Stored:      r.DateRecorded,
				Fallback:    r.CreatedAt,
			},
		})
	}
}

// checkPartials flags leftovers in the partial-transfer directory. Anything
// there survived a crash or failed transfer and is incomplete by definition.
func (e *Engine) checkPartials(report *rec.IntegrityReport) {
	partialDir := filepath.Join(e.dir, download.PartialDir)
	entries, err := os.ReadDir(partialDir)
	if err != nil {
		return // no partial dir means nothing to do
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(partialDir, entry.Name())
		report.Issues = append(report.Issues, rec.IntegrityIssue{
			ID:              e.idgen.New(),
			Type:            rec.IssueIncompleteDownload,
			Severity:        rec.SeverityHigh,
			Description:     fmt.Sprintf("partial transfer %s was never completed", entry.Name()),
			FilePath:        path,
			Filename:        entry.Name(),
			SuggestedAction: rec.ActionDelete,
			AutoRepairable:  true,
			Details: rec.IncompleteDownloadDetails{
				FilePath: path,
				Size:     info.Size(),
				Partial:  true,
			},
		})
	}
}
