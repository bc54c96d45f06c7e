package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		BaseDir: "/home/user/.local/share/recsync",
		LogDir:  "/home/user/.local/share/recsync/log",
		Storage: StorageConfig{
			RecordingsDir: "/home/user/.local/share/recsync/recordings",
		},
		Device: DeviceConfig{
			Endpoint:           "/dev/hidraw3",
			HandshakeTimeoutMS: 20000,
			CommandTimeoutMS:   3000,
			TransferTimeoutMS:  8000,
		},
		Database:  DatabaseConfig{Type: "sqlite", DataDir: "/home/user/.local/share/recsync/data"},
		Integrity: DefaultIntegrity(),
		Archive: ArchiveConfig{
			Type:     "s3",
			Name:     "offsite",
			S3Bucket: "recordings",
			S3Region: "us-east-1",
			Encryption: EncryptionConfig{
				Type:           "age",
				PublicKeyPath:  "/keys/archive.pub",
				PrivateKeyPath: "/keys/archive.key",
			},
		},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.BaseDir != original.BaseDir {
		t.Errorf("BaseDir = %q, want %q", got.BaseDir, original.BaseDir)
	}
	if got.Storage.RecordingsDir != original.Storage.RecordingsDir {
		t.Errorf("Storage.RecordingsDir = %q, want %q", got.Storage.RecordingsDir, original.Storage.RecordingsDir)
	}
	if got.Device.Endpoint != "/dev/hidraw3" {
		t.Errorf("Device.Endpoint = %q, want %q", got.Device.Endpoint, "/dev/hidraw3")
	}
	if got.Device.HandshakeTimeoutMS != 20000 {
		t.Errorf("Device.HandshakeTimeoutMS = %d, want 20000", got.Device.HandshakeTimeoutMS)
	}
	if got.Database.Type != "sqlite" {
		t.Errorf("Database.Type = %q, want %q", got.Database.Type, "sqlite")
	}
	if got.Archive.Type != "s3" || got.Archive.S3Bucket != "recordings" {
		t.Errorf("Archive = %+v, want s3/recordings", got.Archive)
	}
	if got.Archive.Encryption.Type != "age" {
		t.Errorf("Archive.Encryption.Type = %q, want %q", got.Archive.Encryption.Type, "age")
	}
	if got.Integrity.SizeToleranceBytes != original.Integrity.SizeToleranceBytes {
		t.Errorf("Integrity.SizeToleranceBytes = %d, want %d",
			got.Integrity.SizeToleranceBytes, original.Integrity.SizeToleranceBytes)
	}
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig("/base")

	if cfg.Storage.RecordingsDir != filepath.Join("/base", "recordings") {
		t.Errorf("RecordingsDir = %q", cfg.Storage.RecordingsDir)
	}
	if cfg.Device.Endpoint != "/dev/hidraw0" {
		t.Errorf("Endpoint = %q, want /dev/hidraw0", cfg.Device.Endpoint)
	}
	if cfg.Device.HandshakeTimeout() != 15*time.Second {
		t.Errorf("HandshakeTimeout() = %v, want 15s", cfg.Device.HandshakeTimeout())
	}
	if cfg.Device.CommandTimeout() != 5*time.Second {
		t.Errorf("CommandTimeout() = %v, want 5s", cfg.Device.CommandTimeout())
	}
	if cfg.Database.Type != "sqlite" {
		t.Errorf("Database.Type = %q, want sqlite", cfg.Database.Type)
	}
	if cfg.Archive.Type != "none" {
		t.Errorf("Archive.Type = %q, want none", cfg.Archive.Type)
	}
}

func TestDefaultIntegrity_Thresholds(t *testing.T) {
	p := DefaultIntegrity()

	if p.SizeTolerancePercent != 5 {
		t.Errorf("SizeTolerancePercent = %v, want 5", p.SizeTolerancePercent)
	}
	if p.SizeToleranceBytes != 1024 {
		t.Errorf("SizeToleranceBytes = %d, want 1024", p.SizeToleranceBytes)
	}
	if p.MtimeNoteThreshold() != time.Hour {
		t.Errorf("MtimeNoteThreshold() = %v, want 1h", p.MtimeNoteThreshold())
	}
	if p.MtimeHighThreshold() != 24*time.Hour {
		t.Errorf("MtimeHighThreshold() = %v, want 24h", p.MtimeHighThreshold())
	}
	if p.DateFloor() != time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC) {
		t.Errorf("DateFloor() = %v, want 2010-01-01", p.DateFloor())
	}
	if p.FutureSlack() != 24*time.Hour {
		t.Errorf("FutureSlack() = %v, want 24h", p.FutureSlack())
	}
}

func TestInit_RefusesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recsync.toml")

	cfg := NewConfig(dir)
	if err := Init(path, cfg); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	if err := Init(path, cfg); err == nil {
		t.Error("Init() on existing file succeeded, want error")
	}
}

func TestReadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recsync.toml")

	want := NewConfig(dir)
	want.Device.Endpoint = "/dev/hidraw7"
	if err := Init(path, want); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	got, err := ReadFromFile(path)
	if err != nil {
		t.Fatalf("ReadFromFile() error = %v", err)
	}
	if got.Device.Endpoint != "/dev/hidraw7" {
		t.Errorf("Device.Endpoint = %q, want /dev/hidraw7", got.Device.Endpoint)
	}
	if got.BaseDir != want.BaseDir {
		t.Errorf("BaseDir = %q, want %q", got.BaseDir, want.BaseDir)
	}
}
