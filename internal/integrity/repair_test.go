package integrity_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"recsync/internal/events"
	"recsync/internal/rec"
)

func TestRepair_OrphanedDownload_ClearsLocalPointer(t *testing.T) {
	fx := newScanFixture(t)
	ctx := context.Background()
	recorded := time.Date(2025, 7, 8, 16, 4, 5, 0, time.UTC)

	r, err := fx.ledger.UpsertDeviceRecording(ctx, "2025Jul08-160405.hda", 8192, 0, recorded)
	if err != nil {
		t.Fatalf("UpsertDeviceRecording() error = %v", err)
	}
	if err := fx.ledger.MarkLocal(ctx, r.ID, filepath.Join(fx.dir, "gone.wav"), 8192); err != nil {
		t.Fatalf("MarkLocal() error = %v", err)
	}

	report, err := fx.engine.RunFullScan(ctx)
	if err != nil {
		t.Fatalf("RunFullScan() error = %v", err)
	}
	issues := issuesOfType(report, rec.IssueOrphanedDownload)
	if len(issues) != 1 {
		t.Fatalf("orphaned_download issues = %d, want 1", len(issues))
	}

	res := fx.engine.RepairIssue(ctx, issues[0].ID)
	if res.Err != nil {
		t.Fatalf("RepairIssue() error = %v", res.Err)
	}
	if !res.OK {
		t.Error("RepairIssue() OK = false")
	}

	got, _ := fx.ledger.GetRecording(ctx, r.ID)
	if got.OnLocal || got.FilePath != "" {
		t.Errorf("local pointer not cleared: on_local=%v file_path=%q", got.OnLocal, got.FilePath)
	}
	// Still on the device, so the sync has not failed; it can be retried.
	if got.SyncStatus == rec.SyncFailed {
		t.Error("recording still on device was marked sync-failed")
	}
}

func TestRepair_OrphanedDownload_GoneEverywhere(t *testing.T) {
	fx := newScanFixture(t)
	ctx := context.Background()

	r, err := fx.ledger.UpsertDeviceRecording(ctx, "2025Jul08-160405.hda", 8192, 0,
		time.Date(2025, 7, 8, 16, 4, 5, 0, time.UTC))
	if err != nil {
		t.Fatalf("UpsertDeviceRecording() error = %v", err)
	}
	if err := fx.ledger.MarkLocal(ctx, r.ID, filepath.Join(fx.dir, "gone.wav"), 8192); err != nil {
		t.Fatalf("MarkLocal() error = %v", err)
	}
	// Deleted on the device too.
	if err := fx.ledger.SetOnDevice(ctx, r.ID, false); err != nil {
		t.Fatalf("SetOnDevice() error = %v", err)
	}

	report, err := fx.engine.RunFullScan(ctx)
	if err != nil {
		t.Fatalf("RunFullScan() error = %v", err)
	}
	issues := issuesOfType(report, rec.IssueOrphanedDownload)
	if len(issues) != 1 {
		t.Fatalf("orphaned_download issues = %d, want 1", len(issues))
	}

	if res := fx.engine.RepairIssue(ctx, issues[0].ID); res.Err != nil {
		t.Fatalf("RepairIssue() error = %v", res.Err)
	}

	got, _ := fx.ledger.GetRecording(ctx, r.ID)
	if got.SyncStatus != rec.SyncFailed {
		t.Errorf("SyncStatus = %q, want %q (gone from both device and disk)", got.SyncStatus, rec.SyncFailed)
	}
}

func TestRepair_OrphanedFile_Adoption(t *testing.T) {
	fx := newScanFixture(t)
	ctx := context.Background()
	nameDate := time.Date(2025, 7, 8, 16, 4, 5, 0, time.UTC)
	path := fx.writeAudio(t, "2025-07-08_16-04-05_found.wav", 8192, nameDate)

	report, err := fx.engine.RunFullScan(ctx)
	if err != nil {
		t.Fatalf("RunFullScan() error = %v", err)
	}
	issues := issuesOfType(report, rec.IssueOrphanedFile)
	if len(issues) != 1 {
		t.Fatalf("orphaned_file issues = %d, want 1", len(issues))
	}

	if res := fx.engine.RepairIssue(ctx, issues[0].ID); res.Err != nil {
		t.Fatalf("RepairIssue() error = %v", res.Err)
	}

	r, err := fx.ledger.GetRecordingByDeviceName(ctx, "2025-07-08_16-04-05_found.wav")
	if err != nil {
		t.Fatalf("GetRecordingByDeviceName() error = %v", err)
	}
	if r == nil {
		t.Fatal("adoption created no recording")
	}
	if r.Location() != rec.LocationLocalOnly {
		t.Errorf("Location() = %q, want %q", r.Location(), rec.LocationLocalOnly)
	}
	if r.FilePath != path {
		t.Errorf("FilePath = %q, want %q", r.FilePath, path)
	}
	// The date comes from the filename, not from when adoption ran.
	if !r.DateRecorded.Equal(nameDate) {
		t.Errorf("DateRecorded = %v, want %v", r.DateRecorded, nameDate)
	}

	// The next scan sees a consistent state.
	report, err = fx.engine.RunFullScan(ctx)
	if err != nil {
		t.Fatalf("second RunFullScan() error = %v", err)
	}
	if len(report.Issues) != 0 {
		t.Errorf("post-adoption scan issues = %d, want 0: %+v", len(report.Issues), report.Issues)
	}
}

func TestRepair_IncompleteDownload_DeletesAndResets(t *testing.T) {
	fx := newScanFixture(t)
	ctx := context.Background()
	recorded := time.Date(2025, 7, 8, 16, 4, 5, 0, time.UTC)

	// A truncated download that somehow got tracked: tiny file plus entries.
	path := fx.writeAudio(t, "2025-07-08_16-04-05.wav", 100, recorded)
	r := fx.trackSynced(t, "2025Jul08-160405.hda", path, 100, recorded)

	report, err := fx.engine.RunFullScan(ctx)
	if err != nil {
		t.Fatalf("RunFullScan() error = %v", err)
	}
	issues := issuesOfType(report, rec.IssueIncompleteDownload)
	if len(issues) != 1 {
		t.Fatalf("incomplete_download issues = %d, want 1", len(issues))
	}

	if res := fx.engine.RepairIssue(ctx, issues[0].ID); res.Err != nil {
		t.Fatalf("RepairIssue() error = %v", res.Err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("incomplete file still on disk after repair")
	}
	got, _ := fx.ledger.GetRecording(ctx, r.ID)
	if got.OnLocal {
		t.Error("on_local still set after repair")
	}
	if got.SyncStatus != rec.SyncPending {
		t.Errorf("SyncStatus = %q, want %q (ready for re-download)", got.SyncStatus, rec.SyncPending)
	}
	sf, _ := fx.ledger.GetSyncedFileByOriginalName(ctx, "2025Jul08-160405.hda")
	if sf != nil {
		t.Errorf("synced-file entry survived repair: %+v", sf)
	}
}

func TestRepair_SizeMismatch_DiskIsTruth(t *testing.T) {
	fx := newScanFixture(t)
	ctx := context.Background()
	recorded := time.Date(2025, 7, 8, 16, 4, 5, 0, time.UTC)

	path := fx.writeAudio(t, "2025-07-08_16-04-05.wav", 90_000, recorded)
	r := fx.trackSynced(t, "2025Jul08-160405.hda", path, 100_000, recorded)

	report, err := fx.engine.RunFullScan(ctx)
	if err != nil {
		t.Fatalf("RunFullScan() error = %v", err)
	}
	issues := issuesOfType(report, rec.IssueSizeMismatch)
	if len(issues) != 1 {
		t.Fatalf("size_mismatch issues = %d, want 1", len(issues))
	}

	if res := fx.engine.RepairIssue(ctx, issues[0].ID); res.Err != nil {
		t.Fatalf("RepairIssue() error = %v", res.Err)
	}

	got, _ := fx.ledger.GetRecording(ctx, r.ID)
	if got.Size != 90_000 {
		t.Errorf("recording size = %d, want the on-disk 90000", got.Size)
	}
	sf, _ := fx.ledger.GetSyncedFileByOriginalName(ctx, "2025Jul08-160405.hda")
	if sf == nil || sf.Size != 90_000 {
		t.Errorf("synced-file size = %+v, want 90000", sf)
	}
}

func TestRepair_MtimeDrift_RewritesTimestamp(t *testing.T) {
	fx := newScanFixture(t)
	ctx := context.Background()
	nameDate := time.Date(2025, 7, 8, 16, 4, 5, 0, time.UTC)

	path := fx.writeAudio(t, "2025-07-08_16-04-05.wav", 8192, nameDate.Add(-72*time.Hour))
	r := fx.trackSynced(t, "2025Jul08-160405.hda", path, 8192, nameDate)

	report, err := fx.engine.RunFullScan(ctx)
	if err != nil {
		t.Fatalf("RunFullScan() error = %v", err)
	}
	var drift *rec.IntegrityIssue
	for i := range report.Issues {
		if _, ok := report.Issues[i].Details.(rec.MtimeDriftDetails); ok {
			drift = &report.Issues[i]
		}
	}
	if drift == nil {
		t.Fatal("no mtime drift issue found")
	}

	if res := fx.engine.RepairIssue(ctx, drift.ID); res.Err != nil {
		t.Fatalf("RepairIssue() error = %v", res.Err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !info.ModTime().UTC().Equal(nameDate) {
		t.Errorf("mtime = %v, want %v", info.ModTime().UTC(), nameDate)
	}
	got, _ := fx.ledger.GetRecording(ctx, r.ID)
	if !got.DateRecorded.Equal(nameDate) {
		t.Errorf("DateRecorded = %v, want %v", got.DateRecorded, nameDate)
	}
}

func TestRepair_ManualDateIsNotAutoRepaired(t *testing.T) {
	fx := newScanFixture(t)
	ctx := context.Background()

	if _, err := fx.ledger.UpsertDeviceRecording(ctx, "VOICE001.hda", 8192, 0, time.Time{}); err != nil {
		t.Fatalf("UpsertDeviceRecording() error = %v", err)
	}

	report, err := fx.engine.RunFullScan(ctx)
	if err != nil {
		t.Fatalf("RunFullScan() error = %v", err)
	}
	if len(report.AutoRepairable()) != 0 {
		t.Errorf("zero-date issue listed as auto-repairable: %+v", report.AutoRepairable())
	}

	issues := issuesOfType(report, rec.IssueDateMismatch)
	if len(issues) != 1 {
		t.Fatalf("date_mismatch issues = %d, want 1", len(issues))
	}
	res := fx.engine.RepairIssue(ctx, issues[0].ID)
	if !errors.Is(res.Err, rec.ErrRepairPrecondition) {
		t.Errorf("RepairIssue() error = %v, want ErrRepairPrecondition", res.Err)
	}
}

func TestRepair_UnknownIssueID(t *testing.T) {
	fx := newScanFixture(t)
	ctx := context.Background()

	if _, err := fx.engine.RunFullScan(ctx); err != nil {
		t.Fatalf("RunFullScan() error = %v", err)
	}

	res := fx.engine.RepairIssue(ctx, "no-such-issue")
	if !errors.Is(res.Err, rec.ErrRepairPrecondition) {
		t.Errorf("RepairIssue() error = %v, want ErrRepairPrecondition", res.Err)
	}
}

func TestRepair_StalePreconditionIsRechecked(t *testing.T) {
	fx := newScanFixture(t)
	ctx := context.Background()

	r, err := fx.ledger.UpsertDeviceRecording(ctx, "2025Jul08-160405.hda", 8192, 0,
		time.Date(2025, 7, 8, 16, 4, 5, 0, time.UTC))
	if err != nil {
		t.Fatalf("UpsertDeviceRecording() error = %v", err)
	}
	missing := filepath.Join(fx.dir, "2025-07-08_16-04-05.wav")
	if err := fx.ledger.MarkLocal(ctx, r.ID, missing, 8192); err != nil {
		t.Fatalf("MarkLocal() error = %v", err)
	}

	report, err := fx.engine.RunFullScan(ctx)
	if err != nil {
		t.Fatalf("RunFullScan() error = %v", err)
	}
	issues := issuesOfType(report, rec.IssueOrphanedDownload)
	if len(issues) != 1 {
		t.Fatalf("orphaned_download issues = %d, want 1", len(issues))
	}

	// The file reappears between scan and repair (restored from backup).
	fx.writeAudio(t, "2025-07-08_16-04-05.wav", 8192, time.Date(2025, 7, 8, 16, 4, 5, 0, time.UTC))

	res := fx.engine.RepairIssue(ctx, issues[0].ID)
	if !errors.Is(res.Err, rec.ErrRepairPrecondition) {
		t.Fatalf("RepairIssue() error = %v, want ErrRepairPrecondition", res.Err)
	}

	// The ledger row was not damaged by the stale repair.
	got, _ := fx.ledger.GetRecording(ctx, r.ID)
	if !got.OnLocal || got.FilePath != missing {
		t.Errorf("ledger row modified by refused repair: %+v", got)
	}
}

func TestRepairAllAuto_FailureDoesNotAbortBatch(t *testing.T) {
	fx := newScanFixture(t)
	ctx := context.Background()
	recorded := time.Date(2025, 7, 8, 16, 4, 5, 0, time.UTC)

	// Two auto-repairable findings: an orphaned disk file and a dangling
	// ledger pointer.
	fx.writeAudio(t, "2025-07-08_16-04-05_found.wav", 8192, recorded)

	r, err := fx.ledger.UpsertDeviceRecording(ctx, "2025Jul09-090000.hda", 8192, 0,
		time.Date(2025, 7, 9, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("UpsertDeviceRecording() error = %v", err)
	}
	ghost := filepath.Join(fx.dir, "ghost.wav")
	if err := fx.ledger.MarkLocal(ctx, r.ID, ghost, 8192); err != nil {
		t.Fatalf("MarkLocal() error = %v", err)
	}

	report, err := fx.engine.RunFullScan(ctx)
	if err != nil {
		t.Fatalf("RunFullScan() error = %v", err)
	}
	if len(report.AutoRepairable()) != 2 {
		t.Fatalf("auto-repairable issues = %d, want 2", len(report.AutoRepairable()))
	}

	// Invalidate the orphaned-download repair's precondition so it fails.
	fx.writeAudio(t, "ghost.wav", 8192, recorded)

	var repaired []events.RepairPayload
	fx.bus.Subscribe(events.RepairCompleted, func(e events.Event) {
		repaired = append(repaired, e.Payload.(events.RepairPayload))
	})

	results := fx.engine.RepairAllAuto(ctx)
	if len(results) != 2 {
		t.Fatalf("RepairAllAuto() returned %d results, want 2", len(results))
	}

	okCount, failCount := 0, 0
	for _, res := range results {
		if res.Err != nil {
			failCount++
		} else {
			okCount++
		}
	}
	if okCount != 1 || failCount != 1 {
		t.Errorf("repair outcomes = %d ok, %d failed, want 1/1", okCount, failCount)
	}
	if len(repaired) != 2 {
		t.Errorf("RepairCompleted events = %d, want 2", len(repaired))
	}
}
