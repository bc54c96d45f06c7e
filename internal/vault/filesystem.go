package vault

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"recsync/internal/rec"
)

// FileSystemVault is a filesystem-based implementation of the Vault
// interface. Archived recordings are stored as flat files under
// <root>/recordings/, written to a temp name and renamed into place so a
// torn write never looks like a finished archive.
type FileSystemVault struct {
	name string
	root string
	dir  string
}

var _ rec.Vault = (*FileSystemVault)(nil)

// NewFileSystemVault creates a filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	dir := filepath.Join(root, "recordings")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}
	return &FileSystemVault{name: name, root: root, dir: dir}, nil
}

// Put stores an archived recording under name.
func (v *FileSystemVault) Put(name string, r io.Reader, size int64) error {
	destPath := filepath.Join(v.dir, name)
	tmpPath := destPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create vault file: %w", err)
	}

	written, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write vault file: %w", err)
	}
	if size >= 0 && written != size {
		os.Remove(tmpPath)
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize vault file: %w", err)
	}
	return nil
}

// Get retrieves an archived recording and writes it to w.
func (v *FileSystemVault) Get(name string, w io.Writer) error {
	f, err := os.Open(filepath.Join(v.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("recording not archived: %s", name)
		}
		return fmt.Errorf("failed to open vault file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read vault file: %w", err)
	}
	return nil
}

// Exists reports whether a recording with this name is archived.
func (v *FileSystemVault) Exists(name string) (bool, error) {
	_, err := os.Stat(filepath.Join(v.dir, name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking vault file: %w", err)
}

// ValidateSetup verifies the vault directory is writable.
func (v *FileSystemVault) ValidateSetup() error {
	probe := filepath.Join(v.dir, ".write-check")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return fmt.Errorf("vault %s is not writable: %w", v.name, err)
	}
	return os.Remove(probe)
}
