package ledger

import (
	"fmt"
	"path/filepath"

	"recsync/internal/config"
	"recsync/internal/rec"
)

// NewLedgerFromConfig creates a Ledger implementation based on the database
// config type.
func NewLedgerFromConfig(cfg config.DatabaseConfig) (rec.Ledger, error) {
	switch cfg.Type {
	case "sqlite", "":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		return NewSQLiteLedger(filepath.Join(cfg.DataDir, "recsync.db"), nil, nil)
	case "memory":
		return NewSQLiteLedger(":memory:", nil, nil)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
