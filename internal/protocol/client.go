package protocol

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"recsync/internal/rec"
)

// Transport is the byte-stream duplex channel supplied by the host
// platform's USB stack. The core depends only on this narrow interface.
type Transport interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error
}

// ConnectionTimeout is the default allowance for the connection handshake.
// Steady-state commands use the shorter CommandTimeout.
const (
	ConnectionTimeout = 15 * time.Second
	CommandTimeout    = 5 * time.Second
	TransferTimeout   = 10 * time.Second
)

// Timeouts carries the per-command-class timeout configuration.
type Timeouts struct {
	Handshake time.Duration
	Command   time.Duration
	Transfer  time.Duration
}

// DefaultTimeouts returns the stock timeout configuration.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Handshake: ConnectionTimeout,
		Command:   CommandTimeout,
		Transfer:  TransferTimeout,
	}
}

// Client provides request/response messaging over a Transport. Each sent
// command carries a monotonically increasing sequence number; the response
// is matched by sequence number, not arrival order, to tolerate out-of-order
// frames from firmware debug paths.
//
// Client does not retry: timeout policy belongs to callers. The command
// queue above it guarantees at most one command in flight; the internal
// mutex only defends against misuse.
type Client struct {
	transport Transport
	logger    rec.Logger
	timeouts  Timeouts
	checksum  bool

	seq    atomic.Uint32
	mu     sync.Mutex
	frames chan Frame

	done    chan struct{}
	once    sync.Once
	readErr error
}

// NewClient starts a background read pump on the transport and returns a
// ready client. Close stops the pump and closes the transport.
func NewClient(transport Transport, logger rec.Logger, timeouts Timeouts) *Client {
	c := &Client{
		transport: transport,
		logger:    logger,
		timeouts:  timeouts,
		checksum:  true,
		frames:    make(chan Frame, 16),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Timeouts returns the client's timeout configuration.
func (c *Client) Timeouts() Timeouts { return c.timeouts }

// readLoop pumps transport bytes through the decoder and hands complete
// frames to the waiting Call. Malformed frames are dropped and logged; they
// never fail the pending request directly (it ages out via timeout instead).
func (c *Client) readLoop() {
	var dec Decoder
	buf := make([]byte, 4096)
	for {
		n, err := c.transport.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			for {
				f, ferr := dec.Next()
				if ferr != nil {
					c.logger.Warn("dropping garbled frame", "err", ferr)
					continue
				}
				if f == nil {
					break
				}
				select {
				case c.frames <- *f:
				default:
					// Receiver is gone or hopelessly behind; dropping is
					// safe because stale frames are discarded by seq anyway.
					c.logger.Warn("dropping unclaimed frame", "cmd", f.Cmd.String(), "seq", f.Seq)
				}
			}
		}
		if err != nil {
			c.once.Do(func() {
				c.readErr = err
				close(c.done)
			})
			return
		}
	}
}

// Call sends one command and waits for its response payload. An empty
// payload is a valid response. The context is checked on entry only: a
// command already on the wire cannot be cancelled, it can only time out.
func (c *Client) Call(ctx context.Context, cmd Command, payload []byte, timeout time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case <-c.done:
		return nil, fmt.Errorf("%s: %w", cmd, rec.ErrDisconnected)
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	seq := c.seq.Add(1)
	frame := EncodeFrame(Frame{Cmd: cmd, Seq: seq, Payload: payload}, c.checksum)
	if _, err := c.transport.Write(frame); err != nil {
		return nil, fmt.Errorf("writing %s: %w: %v", cmd, rec.ErrDisconnected, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case f := <-c.frames:
			if f.Seq != seq {
				c.logger.Debug("discarding stale frame", "cmd", f.Cmd.String(), "seq", f.Seq, "want", seq)
				continue
			}
			if f.Cmd != cmd {
				c.logger.Warn("response command mismatch", "sent", cmd.String(), "got", f.Cmd.String())
				continue
			}
			return f.Payload, nil
		case <-timer.C:
			return nil, fmt.Errorf("%s after %s: %w", cmd, timeout, rec.ErrTimeout)
		case <-c.done:
			return nil, fmt.Errorf("%s: %w", cmd, rec.ErrDisconnected)
		}
	}
}

// Close tears down the transport and unblocks any pending Call.
func (c *Client) Close() error {
	err := c.transport.Close()
	c.once.Do(func() {
		c.readErr = rec.ErrDisconnected
		close(c.done)
	})
	return err
}
