package device

import (
	"fmt"
	"os"

	"recsync/internal/protocol"
)

// OpenEndpoint opens a character-device endpoint (e.g. /dev/hidraw0) as the
// protocol transport. The host USB stack presents the recorder as a
// byte-stream node; everything protocol-specific lives above this.
func OpenEndpoint(path string) (protocol.Transport, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening device endpoint %s: %w", path, err)
	}
	return f, nil
}
