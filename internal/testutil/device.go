package testutil

import (
	"fmt"
	"io"
	"sync"
	"time"

	"recsync/internal/protocol"
)

// FakeFile is one recording on the emulated device.
type FakeFile struct {
	Name     string
	Data     []byte
	Duration time.Duration
	Recorded time.Time

	// TruncateAt, when > 0, makes transfers stop delivering data at that
	// offset while the listing still reports len(Data). This simulates a
	// device that lies about a file's size or dies mid-transfer.
	TruncateAt int64
}

// FakeDevice emulates the recorder on the far side of a protocol.Transport.
// Bytes written by the client are decoded into frames, dispatched to
// per-command handlers and answered with response frames carrying the same
// sequence number.
type FakeDevice struct {
	Info     protocol.DeviceInfo
	Storage  protocol.StorageInfo
	Settings protocol.Settings
	PageSize int

	mu       sync.Mutex
	files    []FakeFile
	lastTime time.Time
	dec      protocol.Decoder

	// Mute suppresses responses for the named commands so client timeouts
	// can be exercised.
	Mute map[protocol.Command]bool

	rmu     sync.Mutex
	pending []byte

	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

// NewFakeDevice builds an emulator with plausible identity defaults and the
// given files.
func NewFakeDevice(files ...FakeFile) *FakeDevice {
	return &FakeDevice{
		Info: protocol.DeviceInfo{
			Model:    "VR-220",
			Serial:   "VR220-0042",
			Firmware: "1.4.2",
		},
		Storage:  protocol.StorageInfo{Capacity: 8 << 30, Used: 1 << 20},
		Settings: protocol.Settings{AutoRecord: true},
		PageSize: 32,
		files:    files,
		Mute:     make(map[protocol.Command]bool),
		out:      make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
}

// AddFile appends a recording to the emulated storage.
func (d *FakeDevice) AddFile(f FakeFile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files = append(d.files, f)
}

// SetFiles replaces the emulated storage contents, simulating recordings
// deleted on the device between listings.
func (d *FakeDevice) SetFiles(files ...FakeFile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files = files
}

// LastSyncedTime returns the last timestamp received via set-time.
func (d *FakeDevice) LastSyncedTime() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastTime
}

// Read blocks until the emulator has produced response bytes. Responses
// larger than p are served across successive reads.
func (d *FakeDevice) Read(p []byte) (int, error) {
	d.rmu.Lock()
	defer d.rmu.Unlock()

	if len(d.pending) == 0 {
		select {
		case b := <-d.out:
			d.pending = b
		case <-d.closed:
			return 0, io.EOF
		}
	}
	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

// Write accepts client bytes, decodes complete frames and queues responses.
func (d *FakeDevice) Write(p []byte) (int, error) {
	select {
	case <-d.closed:
		return 0, io.ErrClosedPipe
	default:
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.dec.Feed(p)
	for {
		f, err := d.dec.Next()
		if err != nil {
			continue
		}
		if f == nil {
			break
		}
		if d.Mute[f.Cmd] {
			continue
		}
		payload, err := d.handle(f)
		if err != nil {
			return len(p), err
		}
		resp := protocol.EncodeFrame(protocol.Frame{Cmd: f.Cmd, Seq: f.Seq, Payload: payload}, true)
		select {
		case d.out <- resp:
		case <-d.closed:
			return len(p), io.ErrClosedPipe
		}
	}
	return len(p), nil
}

func (d *FakeDevice) handle(f *protocol.Frame) ([]byte, error) {
	switch f.Cmd {
	case protocol.CmdHandshake:
		return protocol.EncodeDeviceInfo(d.Info), nil

	case protocol.CmdStorageInfo:
		return protocol.EncodeStorageInfo(d.Storage), nil

	case protocol.CmdGetSettings:
		return protocol.EncodeSettings(d.Settings), nil

	case protocol.CmdSetTime:
		t, err := protocol.DecodeSetTime(f.Payload)
		if err != nil {
			return nil, err
		}
		d.lastTime = t
		return nil, nil

	case protocol.CmdPing:
		return nil, nil

	case protocol.CmdListFiles:
		page, err := protocol.DecodeListFilesRequest(f.Payload)
		if err != nil {
			return nil, err
		}
		return d.listPage(page), nil

	case protocol.CmdReadFile:
		name, offset, chunk, err := protocol.DecodeReadFileRequest(f.Payload)
		if err != nil {
			return nil, err
		}
		return d.readChunk(name, offset, chunk)

	default:
		return nil, fmt.Errorf("fake device: unhandled command %s", f.Cmd)
	}
}

func (d *FakeDevice) listPage(page uint32) []byte {
	start := int(page) * d.PageSize
	end := start + d.PageSize
	if start > len(d.files) {
		start = len(d.files)
	}
	if end > len(d.files) {
		end = len(d.files)
	}

	lp := protocol.ListPage{Total: uint32(len(d.files))}
	for _, f := range d.files[start:end] {
		lp.Entries = append(lp.Entries, protocol.FileEntry{
			Name:     f.Name,
			Size:     int64(len(f.Data)),
			Duration: f.Duration,
			Recorded: f.Recorded,
		})
	}
	return protocol.EncodeListPage(lp)
}

func (d *FakeDevice) readChunk(name string, offset int64, chunk uint32) ([]byte, error) {
	for _, f := range d.files {
		if f.Name != name {
			continue
		}
		data := f.Data
		if f.TruncateAt > 0 && f.TruncateAt < int64(len(data)) {
			data = data[:f.TruncateAt]
		}
		if offset >= int64(len(data)) {
			return nil, nil
		}
		end := offset + int64(chunk)
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		return data[offset:end], nil
	}
	return nil, fmt.Errorf("fake device: no such file %q", name)
}

// Close makes subsequent reads fail, as an unplugged cable would.
func (d *FakeDevice) Close() error {
	d.once.Do(func() { close(d.closed) })
	return nil
}

var _ protocol.Transport = (*FakeDevice)(nil)
