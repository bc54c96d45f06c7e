package rec

import "io"

// Vault provides an interface for archive storage backends. Operations
// stream through io.Reader/io.Writer so large recordings never need to be
// held in memory.
type Vault interface {
	// Put stores an archived recording under name. Storing the same name
	// twice overwrites; callers use Exists for idempotent archiving.
	// size is the number of bytes that will be read from r, or -1 when
	// unknown (encrypted streams).
	Put(name string, r io.Reader, size int64) error

	// Get retrieves an archived recording by name and writes it to w.
	Get(name string, w io.Writer) error

	// Exists reports whether an archived recording with this name is stored.
	Exists(name string) (bool, error)

	// ValidateSetup verifies that the vault is accessible and properly
	// configured.
	ValidateSetup() error
}

// Encryptor encrypts recordings before they leave the machine for a vault.
type Encryptor interface {
	// Setup generates key material protected by the passphrase.
	Setup(passphrase string) error

	// Encrypt reads plaintext from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Decrypt reads ciphertext from r and writes plaintext to w, unlocking
	// the private key with the passphrase.
	Decrypt(passphrase string, r io.Reader, w io.Writer) error
}
