// Package archive copies fully-synced local recordings to an off-machine
// vault, optionally encrypting them first.
package archive

import (
	"context"
	"fmt"
	"io"
	"os"

	"recsync/internal/rec"
)

// Result summarizes one archive run.
type Result struct {
	Archived int
	Skipped  int
	Failed   int
	Errors   []error
}

// Runner uploads synced recordings that are not yet in the vault. Archive
// state is derived from the vault itself (Exists), not stored in the
// ledger, so a lost vault simply re-archives.
type Runner struct {
	vault     rec.Vault
	encryptor rec.Encryptor // nil means store plaintext
	ledger    rec.Ledger
	logger    rec.Logger
}

// NewRunner wires an archive runner. encryptor may be nil.
func NewRunner(vault rec.Vault, encryptor rec.Encryptor, ledger rec.Ledger, logger rec.Logger) *Runner {
	return &Runner{vault: vault, encryptor: encryptor, ledger: ledger, logger: logger}
}

// Run archives every tracked synced file missing from the vault. Item
// failures are isolated and collected; the run always returns a summary.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if err := r.vault.ValidateSetup(); err != nil {
		return nil, fmt.Errorf("vault not usable: %w", err)
	}

	synced, err := r.ledger.ListSyncedFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading synced files: %w", err)
	}

	res := &Result{}
	for _, sf := range synced {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		name := sf.LocalName
		if r.encryptor != nil {
			name += ".age"
		}

		exists, err := r.vault.Exists(name)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Errorf("%s: %w", sf.LocalName, err))
			continue
		}
		if exists {
			res.Skipped++
			continue
		}

		if err := r.archiveOne(sf, name); err != nil {
			r.logger.Warn("archive failed", "file", sf.LocalName, "err", err)
			res.Failed++
			res.Errors = append(res.Errors, fmt.Errorf("%s: %w", sf.LocalName, err))
			continue
		}
		r.logger.Info("archived", "file", sf.LocalName, "as", name)
		res.Archived++
	}

	r.logger.Info("archive run complete",
		"archived", res.Archived, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

func (r *Runner) archiveOne(sf rec.SyncedFile, name string) error {
	f, err := os.Open(sf.LocalPath)
	if err != nil {
		return fmt.Errorf("opening local file: %w", err)
	}
	defer f.Close()

	if r.encryptor == nil {
		return r.vault.Put(name, f, sf.Size)
	}

	// Encrypt through a pipe; ciphertext length is unknown up front.
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(r.encryptor.Encrypt(f, pw))
	}()
	if err := r.vault.Put(name, pr, -1); err != nil {
		pr.CloseWithError(err)
		return err
	}
	return nil
}
