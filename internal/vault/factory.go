package vault

import (
	"context"
	"fmt"

	"recsync/internal/config"
	"recsync/internal/rec"
)

// NewVaultFromConfig creates a Vault implementation based on the archive
// config type.
func NewVaultFromConfig(ctx context.Context, cfg config.ArchiveConfig) (rec.Vault, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryVault(cfg.Name), nil
	case "filesystem":
		if cfg.FSVaultRoot == "" {
			return nil, fmt.Errorf("filesystem vault requires fs_vault_root to be set")
		}
		return NewFileSystemVault(cfg.Name, cfg.FSVaultRoot)
	case "s3":
		return NewS3Vault(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown vault type: %s", cfg.Type)
	}
}
