package integrity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"recsync/internal/events"
	"recsync/internal/names"
	"recsync/internal/rec"
)

// RepairIssue repairs one issue by id from the most recent report. It is a
// one-shot operation: each routine re-checks its precondition against disk
// so a stale issue fails with rec.ErrRepairPrecondition instead of doing
// damage.
func (e *Engine) RepairIssue(ctx context.Context, issueID string) rec.RepairResult {
	e.mu.Lock()
	report := e.lastReport
	e.mu.Unlock()

	res := rec.RepairResult{IssueID: issueID}
	if report == nil {
		res.Err = fmt.Errorf("no scan has been run: %w", rec.ErrRepairPrecondition)
		e.publishRepair(res)
		return res
	}

	var issue *rec.IntegrityIssue
	for i := range report.Issues {
		if report.Issues[i].ID == issueID {
			issue = &report.Issues[i]
			break
		}
	}
	if issue == nil {
		res.Err = fmt.Errorf("issue %s is not in the latest report: %w", issueID, rec.ErrRepairPrecondition)
		e.publishRepair(res)
		return res
	}

	action, err := e.dispatchRepair(ctx, issue)
	res.OK = err == nil
	res.Action = action
	res.Err = err
	if err != nil {
		e.logger.Warn("repair failed", "issue", issueID, "type", string(issue.Type), "err", err)
	} else {
		e.logger.Info("repaired", "issue", issueID, "type", string(issue.Type), "action", action)
	}
	e.publishRepair(res)
	return res
}

// RepairAllAuto repairs every auto-repairable issue from the latest report.
// A failure on one issue never aborts the batch.
func (e *Engine) RepairAllAuto(ctx context.Context) []rec.RepairResult {
	e.mu.Lock()
	report := e.lastReport
	e.mu.Unlock()

	var results []rec.RepairResult
	if report == nil {
		return results
	}
	for _, issue := range report.AutoRepairable() {
		results = append(results, e.RepairIssue(ctx, issue.ID))
	}
	return results
}

func (e *Engine) publishRepair(res rec.RepairResult) {
	payload := events.RepairPayload{IssueID: res.IssueID, OK: res.OK, Action: res.Action}
	if res.Err != nil {
		payload.Error = res.Err.Error()
	}
	e.bus.Publish(events.Event{Type: events.RepairCompleted, Payload: payload})
}

func (e *Engine) dispatchRepair(ctx context.Context, issue *rec.IntegrityIssue) (string, error) {
	switch d := issue.Details.(type) {
	case rec.OrphanedDownloadDetails:
		return e.repairOrphanedDownload(ctx, d)
	case rec.MissingFileDetails:
		return e.repairMissingFile(ctx, d)
	case rec.OrphanedFileDetails:
		return e.repairOrphanedFile(ctx, d)
	case rec.ImplausibleDateDetails:
		return e.repairImplausibleDate(ctx, issue, d)
	case rec.MtimeDriftDetails:
		return e.repairMtimeDrift(ctx, issue, d)
	case rec.SizeMismatchDetails:
		return e.repairSizeMismatch(ctx, d)
	case rec.IncompleteDownloadDetails:
		return e.repairIncompleteDownload(ctx, d)
	default:
		return "", fmt.Errorf("issue type %s has no repair routine", issue.Type)
	}
}

func (e *Engine) repairOrphanedDownload(ctx context.Context, d rec.OrphanedDownloadDetails) (string, error) {
	if _, err := os.Stat(d.FilePath); err == nil {
		return "", fmt.Errorf("file %s reappeared: %w", d.FilePath, rec.ErrRepairPrecondition)
	}
	if err := e.ledger.ClearLocal(ctx, d.RecordingID); err != nil {
		return "", err
	}
	if !d.OnDevice {
		// Neither on device nor on disk: the sync has effectively failed.
		if err := e.ledger.SetSyncStatus(ctx, d.RecordingID, rec.SyncFailed); err != nil {
			return "", err
		}
		return "cleared dead local path; recording is gone from both device and disk", nil
	}
	return "cleared dead local path; recording remains on device", nil
}

func (e *Engine) repairMissingFile(ctx context.Context, d rec.MissingFileDetails) (string, error) {
	if _, err := os.Stat(d.LocalPath); err == nil {
		return "", fmt.Errorf("file %s reappeared: %w", d.LocalPath, rec.ErrRepairPrecondition)
	}
	if err := e.ledger.DeleteSyncedFile(ctx, d.SyncedFileID); err != nil {
		return "", err
	}
	if d.RecordingID != "" {
		if err := e.ledger.ClearLocal(ctx, d.RecordingID); err != nil {
			return "", err
		}
	}
	return "removed tracking entry for the missing file", nil
}

func (e *Engine) repairOrphanedFile(ctx context.Context, d rec.OrphanedFileDetails) (string, error) {
	info, err := os.Stat(d.FilePath)
	if err != nil {
		return "", fmt.Errorf("file already gone: %w", rec.ErrRepairPrecondition)
	}

	name := filepath.Base(d.FilePath)
	recorded := info.ModTime()
	if ts, ok := names.Timestamp(name); ok {
		recorded = ts
	}

	r, err := e.ledger.AdoptLocalRecording(ctx, name, d.FilePath, info.Size(), recorded)
	if err != nil {
		return "", err
	}
	if err := e.ledger.CreateSyncedFile(ctx, &rec.SyncedFile{
		LocalName:    name,
		OriginalName: r.DeviceName,
		LocalPath:    d.FilePath,
		Size:         info.Size(),
		SyncedAt:     e.clock.Now(),
	}); err != nil {
		return "", err
	}
	return fmt.Sprintf("adopted %s into tracking (%d bytes)", name, info.Size()), nil
}

func (e *Engine) repairImplausibleDate(ctx context.Context, issue *rec.IntegrityIssue, d rec.ImplausibleDateDetails) (string, error) {
	if issue.SuggestedAction == rec.ActionManual {
		return "", fmt.Errorf("unparseable date needs manual review: %w", rec.ErrRepairPrecondition)
	}
	if err := e.ledger.SetDateRecorded(ctx, d.RecordingID, d.Fallback); err != nil {
		return "", err
	}
	return fmt.Sprintf("replaced implausible date with first-seen time %s", d.Fallback.Format("2006-01-02 15:04")), nil
}

func (e *Engine) repairMtimeDrift(ctx context.Context, issue *rec.IntegrityIssue, d rec.MtimeDriftDetails) (string, error) {
	if !issue.AutoRepairable {
		return "", fmt.Errorf("drift below repair threshold, note only: %w", rec.ErrRepairPrecondition)
	}
	if _, err := os.Stat(d.FilePath); err != nil {
		return "", fmt.Errorf("file already gone: %w", rec.ErrRepairPrecondition)
	}
	if err := os.Chtimes(d.FilePath, e.clock.Now(), d.NameDate); err != nil {
		return "", fmt.Errorf("rewriting timestamp: %w", err)
	}
	if d.RecordingID != "" {
		if err := e.ledger.SetDateRecorded(ctx, d.RecordingID, d.NameDate); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("rewrote file timestamp to the filename date %s", d.NameDate.Format("2006-01-02 15:04:05")), nil
}

func (e *Engine) repairSizeMismatch(ctx context.Context, d rec.SizeMismatchDetails) (string, error) {
	info, err := os.Stat(d.FilePath)
	if err != nil {
		return "", fmt.Errorf("file already gone: %w", rec.ErrRepairPrecondition)
	}
	// Disk is truth; the ledger follows.
	if d.RecordingID != "" {
		if err := e.ledger.SetRecordingSize(ctx, d.RecordingID, info.Size()); err != nil {
			return "", err
		}
	}
	if d.SyncedFileID != "" {
		if err := e.ledger.SetSyncedFileSize(ctx, d.SyncedFileID, info.Size()); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("updated ledger size to the on-disk %d bytes", info.Size()), nil
}

func (e *Engine) repairIncompleteDownload(ctx context.Context, d rec.IncompleteDownloadDetails) (string, error) {
	if _, err := os.Stat(d.FilePath); err != nil {
		return "", fmt.Errorf("file already gone: %w", rec.ErrRepairPrecondition)
	}
	if err := os.Remove(d.FilePath); err != nil {
		return "", fmt.Errorf("deleting %s: %w", d.FilePath, err)
	}
	if d.SyncedFileID != "" {
		if err := e.ledger.DeleteSyncedFile(ctx, d.SyncedFileID); err != nil {
			return "", err
		}
	}
	if d.RecordingID != "" {
		if err := e.ledger.ClearLocal(ctx, d.RecordingID); err != nil {
			return "", err
		}
		if err := e.ledger.SetSyncStatus(ctx, d.RecordingID, rec.SyncPending); err != nil {
			return "", err
		}
	}
	return "deleted the incomplete file and reset its tracking", nil
}
