package protocol

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"recsync/internal/rec"
)

// Wire frame layout, all integers big-endian:
//
//	magic(2)=0x5A 0xA5 | cmd(2) | seq(4) | flags(1) | length(4) | payload | crc32(4)?
//
// The CRC32 (IEEE) trailer covers cmd through payload and is present only
// when FlagChecksum is set; firmware omits it on bulk file-data frames.

const (
	magic0 = 0x5A
	magic1 = 0xA5

	headerLen = 13

	// FlagChecksum marks a frame carrying a CRC32 trailer.
	FlagChecksum = 0x01

	// maxPayload caps a single frame's payload. Anything larger is treated
	// as a framing desync, not a real frame.
	maxPayload = 1 << 20
)

// Command identifies a device operation.
type Command uint16

const (
	CmdHandshake   Command = 0x01
	CmdStorageInfo Command = 0x02
	CmdGetSettings Command = 0x03
	CmdSetTime     Command = 0x04
	CmdListFiles   Command = 0x05
	CmdReadFile    Command = 0x06
	CmdPing        Command = 0x07
)

func (c Command) String() string {
	switch c {
	case CmdHandshake:
		return "handshake"
	case CmdStorageInfo:
		return "storage-info"
	case CmdGetSettings:
		return "get-settings"
	case CmdSetTime:
		return "set-time"
	case CmdListFiles:
		return "list-files"
	case CmdReadFile:
		return "read-file"
	case CmdPing:
		return "ping"
	default:
		return fmt.Sprintf("cmd(0x%02x)", uint16(c))
	}
}

// Frame is one decoded protocol message. A nil or empty payload is valid:
// several commands are no-ops by design.
type Frame struct {
	Cmd     Command
	Seq     uint32
	Payload []byte
}

// EncodeFrame serializes a frame for the wire.
func EncodeFrame(f Frame, withChecksum bool) []byte {
	total := headerLen + len(f.Payload)
	if withChecksum {
		total += 4
	}
	buf := make([]byte, headerLen, total)
	buf[0] = magic0
	buf[1] = magic1
	binary.BigEndian.PutUint16(buf[2:4], uint16(f.Cmd))
	binary.BigEndian.PutUint32(buf[4:8], f.Seq)
	if withChecksum {
		buf[8] = FlagChecksum
	}
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(f.Payload)))
	buf = append(buf, f.Payload...)
	if withChecksum {
		sum := crc32.ChecksumIEEE(buf[2:])
		buf = binary.BigEndian.AppendUint32(buf, sum)
	}
	return buf
}

// Decoder accumulates transport bytes and yields complete frames. The
// transport delivers data in arbitrary-sized chunks with no message
// boundaries, so partial frames stay buffered until more data arrives.
type Decoder struct {
	buf []byte
}

// Feed appends freshly read transport bytes to the receive buffer.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Next attempts to parse one complete frame from the buffer.
// Returns (nil, nil) when more data is needed. Returns an error wrapping
// rec.ErrMalformedFrame when garbage was dropped; the caller should log and
// call Next again, since a valid frame may follow the garbage.
func (d *Decoder) Next() (*Frame, error) {
	// Resynchronize on the magic marker.
	if len(d.buf) > 0 && d.buf[0] != magic0 {
		n := 1
		for n < len(d.buf) && d.buf[n] != magic0 {
			n++
		}
		d.buf = d.buf[n:]
		return nil, fmt.Errorf("dropped %d bytes before sync marker: %w", n, rec.ErrMalformedFrame)
	}
	if len(d.buf) < headerLen {
		return nil, nil
	}
	if d.buf[1] != magic1 {
		d.buf = d.buf[1:]
		return nil, fmt.Errorf("bad sync marker: %w", rec.ErrMalformedFrame)
	}

	cmd := Command(binary.BigEndian.Uint16(d.buf[2:4]))
	seq := binary.BigEndian.Uint32(d.buf[4:8])
	flags := d.buf[8]
	length := binary.BigEndian.Uint32(d.buf[9:13])

	if length > maxPayload {
		d.buf = d.buf[1:]
		return nil, fmt.Errorf("implausible payload length %d: %w", length, rec.ErrMalformedFrame)
	}

	total := headerLen + int(length)
	if flags&FlagChecksum != 0 {
		total += 4
	}
	if len(d.buf) < total {
		return nil, nil
	}

	if flags&FlagChecksum != 0 {
		want := binary.BigEndian.Uint32(d.buf[total-4 : total])
		got := crc32.ChecksumIEEE(d.buf[2 : headerLen+int(length)])
		if got != want {
			d.buf = d.buf[total:]
			return nil, fmt.Errorf("checksum mismatch on %s seq=%d: %w", cmd, seq, rec.ErrMalformedFrame)
		}
	}

	payload := make([]byte, length)
	copy(payload, d.buf[headerLen:headerLen+int(length)])
	d.buf = d.buf[total:]

	return &Frame{Cmd: cmd, Seq: seq, Payload: payload}, nil
}

// Pending returns the number of buffered bytes awaiting a complete frame.
func (d *Decoder) Pending() int { return len(d.buf) }
