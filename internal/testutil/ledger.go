package testutil

import (
	"testing"

	"recsync/internal/ledger"
	"recsync/internal/rec"
)

// NewTestLedger creates an in-memory SQLite ledger with migrations applied,
// using the given clock and ID generator (nil selects the real ones). The
// ledger is closed automatically when the test completes.
func NewTestLedger(t *testing.T, clock rec.Clock, idgen rec.IDGenerator) rec.Ledger {
	t.Helper()

	l, err := ledger.NewSQLiteLedger(":memory:", clock, idgen)
	if err != nil {
		t.Fatalf("failed to open test ledger: %v", err)
	}

	t.Cleanup(func() {
		l.Close()
	})

	return l
}
