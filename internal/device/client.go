package device

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"recsync/internal/protocol"
	"recsync/internal/rec"
)

// ConnState is the device connection lifecycle.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// Device is the process-lifetime handle for the one live connection.
// It is constructed once at startup and passed by reference; there are no
// package-level singletons.
type Device struct {
	mu       sync.Mutex
	state    ConnState
	info     *protocol.DeviceInfo
	capacity int64
	used     int64
}

// State returns the current connection state.
func (d *Device) State() ConnState {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == "" {
		return StateDisconnected
	}
	return d.state
}

// Info returns the handshake result, or nil before Connect succeeds.
func (d *Device) Info() *protocol.DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

// readChunk caps how many file bytes are requested per command.
const readChunk = 64 * 1024

// Client wraps the protocol client with typed device operations, all
// funneled through the command queue.
type Client struct {
	proto  *protocol.Client
	queue  *Queue
	dev    *Device
	logger rec.Logger
}

// NewClient builds the typed client on top of a protocol client.
func NewClient(proto *protocol.Client, queue *Queue, logger rec.Logger) *Client {
	return &Client{
		proto:  proto,
		queue:  queue,
		dev:    &Device{state: StateDisconnected},
		logger: logger,
	}
}

// Device returns the connection handle.
func (c *Client) Device() *Device { return c.dev }

// call funnels one command through the queue with the given timeout class.
func (c *Client) call(ctx context.Context, cmd protocol.Command, payload []byte, timeout time.Duration) ([]byte, error) {
	var resp []byte
	err := c.queue.WithLock(ctx, func() error {
		var callErr error
		resp, callErr = c.proto.Call(ctx, cmd, payload, timeout)
		return callErr
	})
	return resp, err
}

// Connect performs the handshake and moves the device to connected state.
// Uses the long connection timeout; everything else uses shorter ones.
func (c *Client) Connect(ctx context.Context) (*protocol.DeviceInfo, error) {
	c.dev.mu.Lock()
	c.dev.state = StateConnecting
	c.dev.mu.Unlock()

	resp, err := c.call(ctx, protocol.CmdHandshake, nil, c.proto.Timeouts().Handshake)
	if err != nil {
		c.dev.mu.Lock()
		c.dev.state = StateDisconnected
		c.dev.mu.Unlock()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	info, err := protocol.DecodeDeviceInfo(resp)
	if err != nil {
		c.dev.mu.Lock()
		c.dev.state = StateDisconnected
		c.dev.mu.Unlock()
		return nil, fmt.Errorf("handshake: %w", err)
	}

	c.dev.mu.Lock()
	c.dev.state = StateConnected
	c.dev.info = info
	c.dev.mu.Unlock()

	c.logger.Info("device connected", "model", info.Model, "serial", info.Serial, "firmware", info.Firmware)
	return info, nil
}

// StorageInfo fetches capacity/used bytes and caches them on the handle.
func (c *Client) StorageInfo(ctx context.Context) (*protocol.StorageInfo, error) {
	resp, err := c.call(ctx, protocol.CmdStorageInfo, nil, c.proto.Timeouts().Command)
	if err != nil {
		return nil, fmt.Errorf("storage info: %w", err)
	}
	si, err := protocol.DecodeStorageInfo(resp)
	if err != nil {
		return nil, fmt.Errorf("storage info: %w", err)
	}
	c.dev.mu.Lock()
	c.dev.capacity = si.Capacity
	c.dev.used = si.Used
	c.dev.mu.Unlock()
	return si, nil
}

// Settings fetches the device settings flags.
func (c *Client) Settings(ctx context.Context) (*protocol.Settings, error) {
	resp, err := c.call(ctx, protocol.CmdGetSettings, nil, c.proto.Timeouts().Command)
	if err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	s, err := protocol.DecodeSettings(resp)
	if err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	return s, nil
}

// SyncTime sets the device clock. The response is empty by design.
func (c *Client) SyncTime(ctx context.Context, t time.Time) error {
	if _, err := c.call(ctx, protocol.CmdSetTime, protocol.EncodeSetTime(t), c.proto.Timeouts().Command); err != nil {
		return fmt.Errorf("time sync: %w", err)
	}
	return nil
}

// Ping issues the no-op probe command. Both request and response payloads
// are empty; a successful round trip is the whole point.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.call(ctx, protocol.CmdPing, nil, c.proto.Timeouts().Command); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// ListFiles streams the paginated device listing. progress, when non-nil,
// is invoked with (found, total) as each page arrives. Each page is one
// queue admission, so other commands can interleave between pages.
func (c *Client) ListFiles(ctx context.Context, progress func(found, total int)) ([]protocol.FileEntry, error) {
	var entries []protocol.FileEntry
	for page := uint32(0); ; page++ {
		resp, err := c.call(ctx, protocol.CmdListFiles, protocol.EncodeListFilesRequest(page), c.proto.Timeouts().Command)
		if err != nil {
			return nil, fmt.Errorf("listing page %d: %w", page, err)
		}
		lp, err := protocol.DecodeListPage(resp)
		if err != nil {
			return nil, fmt.Errorf("listing page %d: %w", page, err)
		}
		entries = append(entries, lp.Entries...)
		if progress != nil {
			progress(len(entries), int(lp.Total))
		}
		if len(lp.Entries) == 0 || len(entries) >= int(lp.Total) {
			return entries, nil
		}
	}
}

// ReadFile streams a device file into w, chunk by chunk. Each chunk is one
// queued command. progress, when non-nil, receives the running byte count.
// Returns the number of bytes written; the caller verifies it against the
// device-reported size.
func (c *Client) ReadFile(ctx context.Context, name string, w io.Writer, progress func(done int64)) (int64, error) {
	var done int64
	for {
		req := protocol.EncodeReadFileRequest(name, done, readChunk)
		resp, err := c.call(ctx, protocol.CmdReadFile, req, c.proto.Timeouts().Transfer)
		if err != nil {
			return done, fmt.Errorf("reading %s at offset %d: %w", name, done, err)
		}
		if len(resp) == 0 {
			return done, nil
		}
		n, err := w.Write(resp)
		if err != nil {
			return done + int64(n), fmt.Errorf("writing %s: %w: %v", name, rec.ErrWriteFailed, err)
		}
		done += int64(n)
		if progress != nil {
			progress(done)
		}
		if len(resp) < readChunk {
			return done, nil
		}
	}
}
