package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"recsync/internal/archive"
	"recsync/internal/config"
	"recsync/internal/device"
	"recsync/internal/download"
	"recsync/internal/encryption"
	"recsync/internal/events"
	"recsync/internal/integrity"
	"recsync/internal/ledger"
	"recsync/internal/protocol"
	"recsync/internal/rec"
	"recsync/internal/vault"
)

// App wires together the ledger, device client, download orchestrator and
// integrity engine for a single invocation. The operation name tags every
// log line the invocation produces.
type App struct {
	Config    *config.Config
	Operation string

	Logger rec.Logger
	Ledger rec.Ledger
	Bus    *events.Bus
	Engine *integrity.Engine

	clock rec.Clock
	idgen rec.IDGenerator

	logFile *os.File

	// Device-side handles, populated by ConnectDevice.
	transport protocol.Transport
	proto     *protocol.Client
	device    *device.Client
	orch      *download.Orchestrator
}

// New constructs the application from a loaded config. operation identifies
// the CLI command being run (e.g. "Sync", "Scan"). New opens the ledger and
// runs the startup consistency pass but leaves the device untouched; callers
// that need the device call ConnectDevice.
func New(cfg *config.Config, operation string) (*App, error) {
	slogger, logFile, err := newLogger(cfg.LogDir, operation)
	if err != nil {
		return nil, err
	}
	logger := &slogAdapter{l: slogger}

	led, err := ledger.NewLedgerFromConfig(cfg.Database)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	clock := rec.RealClock{}
	idgen := rec.UUIDGenerator{}
	bus := events.NewBus()

	engine := integrity.NewEngine(led, bus, logger, clock, idgen, cfg.Storage.RecordingsDir, cfg.Integrity)

	a := &App{
		Config:    cfg,
		Operation: operation,
		Logger:    logger,
		Ledger:    led,
		Bus:       bus,
		Engine:    engine,
		clock:     clock,
		idgen:     idgen,
		logFile:   logFile,
	}

	if _, err := engine.StartupCheck(context.Background()); err != nil {
		a.Close()
		return nil, fmt.Errorf("startup consistency check: %w", err)
	}

	return a, nil
}

// ConnectDevice opens the configured endpoint and performs the handshake.
// It is idempotent within an invocation.
func (a *App) ConnectDevice(ctx context.Context) (*protocol.DeviceInfo, error) {
	if a.device != nil {
		return a.device.Device().Info(), nil
	}

	transport, err := device.OpenEndpoint(a.Config.Device.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("opening device endpoint %s: %w", a.Config.Device.Endpoint, err)
	}

	timeouts := protocol.Timeouts{
		Handshake: a.Config.Device.HandshakeTimeout(),
		Command:   a.Config.Device.CommandTimeout(),
		Transfer:  a.Config.Device.TransferTimeout(),
	}
	proto := protocol.NewClient(transport, a.Logger, timeouts)
	client := device.NewClient(proto, device.NewQueue(), a.Logger)

	info, err := client.Connect(ctx)
	if err != nil {
		proto.Close()
		return nil, err
	}

	a.transport = transport
	a.proto = proto
	a.device = client
	a.orch = download.NewOrchestrator(client, a.Ledger, a.Bus, a.Logger, a.clock, a.Config.Storage.RecordingsDir)
	return info, nil
}

// Device returns the connected device client. ConnectDevice must have been
// called first.
func (a *App) Device() *device.Client { return a.device }

// Orchestrator returns the download orchestrator. ConnectDevice must have
// been called first.
func (a *App) Orchestrator() *download.Orchestrator { return a.orch }

// SyncTime pushes the host clock to the device.
func (a *App) SyncTime(ctx context.Context) (time.Time, error) {
	now := a.clock.Now()
	if err := a.device.SyncTime(ctx, now); err != nil {
		return time.Time{}, err
	}
	return now, nil
}

// ListRecordings refreshes (or serves from cache) the device file listing,
// merged into the ledger.
func (a *App) ListRecordings(ctx context.Context, progress func(found, total int), forceRefresh bool) ([]rec.Recording, error) {
	return a.orch.ListRecordings(ctx, progress, forceRefresh)
}

// Sync lists the device, queues everything not yet on local storage and runs
// the batch to completion.
func (a *App) Sync(ctx context.Context, progress func(found, total int)) (rec.BatchResult, error) {
	recordings, err := a.orch.ListRecordings(ctx, progress, true)
	if err != nil {
		return rec.BatchResult{}, err
	}

	toSync, err := a.orch.FilesToSync(ctx, recordings)
	if err != nil {
		return rec.BatchResult{}, err
	}

	queued := a.orch.QueueDownloads(toSync)
	a.Logger.Info("sync batch prepared", "on_device", len(recordings), "queued", queued)

	return a.orch.Run(ctx), nil
}

// Scan runs a full integrity scan and returns the report.
func (a *App) Scan(ctx context.Context) (*rec.IntegrityReport, error) {
	return a.Engine.RunFullScan(ctx)
}

// Repair attempts to repair a single issue from the latest scan report.
func (a *App) Repair(ctx context.Context, issueID string) rec.RepairResult {
	return a.Engine.RepairIssue(ctx, issueID)
}

// RepairAll repairs every auto-repairable issue from the latest scan report.
func (a *App) RepairAll(ctx context.Context) []rec.RepairResult {
	return a.Engine.RepairAllAuto(ctx)
}

// ArchiveRun uploads all synced recordings to the configured vault.
func (a *App) ArchiveRun(ctx context.Context) (*archive.Result, error) {
	if a.Config.Archive.Type == "" || a.Config.Archive.Type == "none" {
		return nil, fmt.Errorf("no archive vault configured")
	}
	vlt, err := vault.NewVaultFromConfig(ctx, a.Config.Archive)
	if err != nil {
		return nil, err
	}
	enc, err := encryption.NewEncryptorFromConfig(a.Config.Archive.Encryption)
	if err != nil {
		return nil, err
	}
	runner := archive.NewRunner(vlt, enc, a.Ledger, a.Logger)
	return runner.Run(ctx)
}

// ArchiveInit generates the archive encryption key pair protected by the
// given passphrase.
func (a *App) ArchiveInit(passphrase string) error {
	enc := encryption.NewAgeEncryptor(a.Config.Archive.Encryption)
	return enc.Setup(passphrase)
}

// Close releases the device connection, the ledger, and the log file.
func (a *App) Close() error {
	if a.proto != nil {
		a.proto.Close()
		a.proto = nil
		a.device = nil
	}

	var err error
	if a.Ledger != nil {
		err = a.Ledger.Close()
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return err
}
