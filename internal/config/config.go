package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for recsync.
type Config struct {
	BaseDir   string          `toml:"base_dir"`
	LogDir    string          `toml:"log_dir"`
	Storage   StorageConfig   `toml:"storage"`
	Device    DeviceConfig    `toml:"device"`
	Database  DatabaseConfig  `toml:"database"`
	Integrity IntegrityConfig `toml:"integrity"`
	Archive   ArchiveConfig   `toml:"archive"`
}

// StorageConfig locates the local recording store.
type StorageConfig struct {
	RecordingsDir string `toml:"recordings_dir"`
}

// DeviceConfig holds the transport endpoint and per-command-class timeouts.
type DeviceConfig struct {
	Endpoint           string `toml:"endpoint"`
	HandshakeTimeoutMS int    `toml:"handshake_timeout_ms"` // connection/handshake allowance
	CommandTimeoutMS   int    `toml:"command_timeout_ms"`   // steady-state commands
	TransferTimeoutMS  int    `toml:"transfer_timeout_ms"`  // per file-data chunk
}

// HandshakeTimeout returns the configured handshake timeout as a duration.
func (d DeviceConfig) HandshakeTimeout() time.Duration {
	return time.Duration(d.HandshakeTimeoutMS) * time.Millisecond
}

// CommandTimeout returns the configured steady-state timeout as a duration.
func (d DeviceConfig) CommandTimeout() time.Duration {
	return time.Duration(d.CommandTimeoutMS) * time.Millisecond
}

// TransferTimeout returns the configured per-chunk transfer timeout.
func (d DeviceConfig) TransferTimeout() time.Duration {
	return time.Duration(d.TransferTimeoutMS) * time.Millisecond
}

// DatabaseConfig represents configuration for the metadata ledger.
// This uses a tagged union pattern - the Type field determines which other
// fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// IntegrityConfig holds the reconciliation policy thresholds. These are
// policy, not hardware law, so they are configurable with conservative
// defaults.
type IntegrityConfig struct {
	// A ledger/disk size difference is flagged only when it exceeds BOTH
	// the relative and the absolute tolerance.
	SizeTolerancePercent float64 `toml:"size_tolerance_percent"`
	SizeToleranceBytes   int64   `toml:"size_tolerance_bytes"`

	// Filename-date vs. mtime drift: past the note threshold it is worth
	// a low-severity mention, past the high threshold it is repaired.
	MtimeNoteThresholdMinutes int `toml:"mtime_note_threshold_minutes"`
	MtimeHighThresholdMinutes int `toml:"mtime_high_threshold_minutes"`

	// Audio files smaller than this are headers-only or empty.
	MinAudioBytes int64 `toml:"min_audio_bytes"`

	// Plausibility window for date_recorded.
	DateFloorYear      int `toml:"date_floor_year"`
	FutureSlackMinutes int `toml:"future_slack_minutes"`
}

// MtimeNoteThreshold returns the low-severity drift threshold.
func (c IntegrityConfig) MtimeNoteThreshold() time.Duration {
	return time.Duration(c.MtimeNoteThresholdMinutes) * time.Minute
}

// MtimeHighThreshold returns the auto-repairable drift threshold.
func (c IntegrityConfig) MtimeHighThreshold() time.Duration {
	return time.Duration(c.MtimeHighThresholdMinutes) * time.Minute
}

// FutureSlack returns how far in the future a recorded date may plausibly be.
func (c IntegrityConfig) FutureSlack() time.Duration {
	return time.Duration(c.FutureSlackMinutes) * time.Minute
}

// DateFloor returns the earliest plausible recording date.
func (c IntegrityConfig) DateFloor() time.Time {
	return time.Date(c.DateFloorYear, 1, 1, 0, 0, 0, 0, time.UTC)
}

// ArchiveConfig configures the off-machine archive vault.
// This uses a tagged union pattern - the Type field determines which other
// fields are relevant.
type ArchiveConfig struct {
	Type string `toml:"type"` // "none", "memory", "filesystem" or "s3"
	Name string `toml:"name"`

	// Filesystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"` // set for MinIO-style deployments
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`

	Encryption EncryptionConfig `toml:"encryption"`
}

// EncryptionConfig holds paths to the age key pair used to encrypt archived
// recordings.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// NewConfig creates a Config with defaults rooted at baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Storage: StorageConfig{
			RecordingsDir: filepath.Join(baseDir, "recordings"),
		},
		Device: DeviceConfig{
			Endpoint:           "/dev/hidraw0",
			HandshakeTimeoutMS: 15000,
			CommandTimeoutMS:   5000,
			TransferTimeoutMS:  10000,
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "data"),
		},
		Integrity: DefaultIntegrity(),
		Archive: ArchiveConfig{
			Type: "none",
			Encryption: EncryptionConfig{
				Type:           "none",
				PublicKeyPath:  filepath.Join(baseDir, "keys", "archive.pub"),
				PrivateKeyPath: filepath.Join(baseDir, "keys", "archive.key"),
			},
		},
	}
}

// DefaultIntegrity returns the stock reconciliation policy.
func DefaultIntegrity() IntegrityConfig {
	return IntegrityConfig{
		SizeTolerancePercent:      5,
		SizeToleranceBytes:        1024,
		MtimeNoteThresholdMinutes: 60,
		MtimeHighThresholdMinutes: 24 * 60,
		MinAudioBytes:             4096,
		DateFloorYear:             2010,
		FutureSlackMinutes:        24 * 60,
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
