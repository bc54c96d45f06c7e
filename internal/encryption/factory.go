package encryption

import (
	"fmt"

	"recsync/internal/config"
	"recsync/internal/rec"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration
// type. Type "none" returns (nil, nil): archived recordings are stored as-is.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (rec.Encryptor, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "age":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
