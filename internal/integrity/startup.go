package integrity

import (
	"context"
	"fmt"
	"os"
)

// StartupResult summarizes the cheap consistency check run on every launch.
type StartupResult struct {
	StalePathsCleared int
	StatusesReset     int64
}

// StartupCheck is crash recovery, run before anything else touches the
// ledger: recordings claiming no local copy but still pointing at a dead
// path get the pointer cleared, and transcription rows stuck in a working
// state go back to pending.
func (e *Engine) StartupCheck(ctx context.Context) (*StartupResult, error) {
	var res StartupResult

	recordings, err := e.ledger.ListRecordings(ctx)
	if err != nil {
		return nil, fmt.Errorf("startup check: %w", err)
	}
	for _, r := range recordings {
		if r.OnLocal || r.FilePath == "" {
			continue
		}
		if _, err := os.Stat(r.FilePath); err == nil {
			continue
		}
		if err := e.ledger.ClearLocal(ctx, r.ID); err != nil {
			return nil, fmt.Errorf("clearing stale path for %s: %w", r.DeviceName, err)
		}
		res.StalePathsCleared++
	}

	n, err := e.ledger.ResetStuckStatuses(ctx)
	if err != nil {
		return nil, fmt.Errorf("startup check: %w", err)
	}
	res.StatusesReset = n

	e.logger.Info("startup check complete",
		"stale_paths_cleared", res.StalePathsCleared, "statuses_reset", res.StatusesReset)
	return &res, nil
}
