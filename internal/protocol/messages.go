package protocol

import (
	"encoding/binary"
	"fmt"
	"time"

	"recsync/internal/rec"
)

// Typed payload codecs for each command. Strings are length-prefixed with a
// uint16; timestamps travel as unix seconds in a uint64.

// DeviceInfo is the handshake response.
type DeviceInfo struct {
	Model    string
	Serial   string
	Firmware string
}

// StorageInfo reports device storage capacity and usage in bytes.
type StorageInfo struct {
	Capacity int64
	Used     int64
}

// Settings carries the device settings flags this core surfaces.
type Settings struct {
	AutoRecord bool
	AutoPlay   bool
}

// FileEntry is one device file descriptor from a listing page.
type FileEntry struct {
	Name     string
	Size     int64
	Duration time.Duration
	Recorded time.Time
}

// ListPage is one page of a paginated file listing.
type ListPage struct {
	Total   uint32
	Entries []FileEntry
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func readString(buf []byte) (string, []byte, error) {
	if len(buf) < 2 {
		return "", nil, fmt.Errorf("truncated string length: %w", rec.ErrMalformedFrame)
	}
	n := int(binary.BigEndian.Uint16(buf))
	buf = buf[2:]
	if len(buf) < n {
		return "", nil, fmt.Errorf("truncated string body: %w", rec.ErrMalformedFrame)
	}
	return string(buf[:n]), buf[n:], nil
}

// DecodeDeviceInfo parses a handshake response payload.
func DecodeDeviceInfo(payload []byte) (*DeviceInfo, error) {
	var info DeviceInfo
	var err error
	if info.Model, payload, err = readString(payload); err != nil {
		return nil, fmt.Errorf("device info model: %w", err)
	}
	if info.Serial, payload, err = readString(payload); err != nil {
		return nil, fmt.Errorf("device info serial: %w", err)
	}
	if info.Firmware, _, err = readString(payload); err != nil {
		return nil, fmt.Errorf("device info firmware: %w", err)
	}
	return &info, nil
}

// EncodeDeviceInfo builds a handshake response payload. Used by device
// emulators in tests; real firmware produces the same layout.
func EncodeDeviceInfo(info DeviceInfo) []byte {
	buf := appendString(nil, info.Model)
	buf = appendString(buf, info.Serial)
	return appendString(buf, info.Firmware)
}

// DecodeStorageInfo parses a storage-info response payload.
func DecodeStorageInfo(payload []byte) (*StorageInfo, error) {
	if len(payload) < 16 {
		return nil, fmt.Errorf("storage info payload %d bytes: %w", len(payload), rec.ErrMalformedFrame)
	}
	return &StorageInfo{
		Capacity: int64(binary.BigEndian.Uint64(payload[0:8])),
		Used:     int64(binary.BigEndian.Uint64(payload[8:16])),
	}, nil
}

// EncodeStorageInfo builds a storage-info response payload.
func EncodeStorageInfo(si StorageInfo) []byte {
	buf := binary.BigEndian.AppendUint64(nil, uint64(si.Capacity))
	return binary.BigEndian.AppendUint64(buf, uint64(si.Used))
}

// DecodeSettings parses a get-settings response payload.
func DecodeSettings(payload []byte) (*Settings, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("settings payload empty: %w", rec.ErrMalformedFrame)
	}
	return &Settings{
		AutoRecord: payload[0]&0x01 != 0,
		AutoPlay:   payload[0]&0x02 != 0,
	}, nil
}

// EncodeSettings builds a get-settings response payload.
func EncodeSettings(s Settings) []byte {
	var flags byte
	if s.AutoRecord {
		flags |= 0x01
	}
	if s.AutoPlay {
		flags |= 0x02
	}
	return []byte{flags}
}

// EncodeSetTime builds a set-time request payload. The response is empty.
func EncodeSetTime(t time.Time) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(t.Unix()))
}

// DecodeSetTime parses a set-time request payload.
func DecodeSetTime(payload []byte) (time.Time, error) {
	if len(payload) < 8 {
		return time.Time{}, fmt.Errorf("set-time payload %d bytes: %w", len(payload), rec.ErrMalformedFrame)
	}
	return time.Unix(int64(binary.BigEndian.Uint64(payload)), 0).UTC(), nil
}

// EncodeListFilesRequest builds a list-files request for the given page.
func EncodeListFilesRequest(page uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, page)
}

// DecodeListFilesRequest parses a list-files request payload.
func DecodeListFilesRequest(payload []byte) (uint32, error) {
	if len(payload) < 4 {
		return 0, fmt.Errorf("list-files request %d bytes: %w", len(payload), rec.ErrMalformedFrame)
	}
	return binary.BigEndian.Uint32(payload), nil
}

// DecodeListPage parses one page of a file listing.
func DecodeListPage(payload []byte) (*ListPage, error) {
	if len(payload) < 6 {
		return nil, fmt.Errorf("list page header %d bytes: %w", len(payload), rec.ErrMalformedFrame)
	}
	page := &ListPage{Total: binary.BigEndian.Uint32(payload[0:4])}
	count := int(binary.BigEndian.Uint16(payload[4:6]))
	payload = payload[6:]

	for i := 0; i < count; i++ {
		var e FileEntry
		var err error
		if e.Name, payload, err = readString(payload); err != nil {
			return nil, fmt.Errorf("list entry %d name: %w", i, err)
		}
		if len(payload) < 20 {
			return nil, fmt.Errorf("list entry %d truncated: %w", i, rec.ErrMalformedFrame)
		}
		e.Size = int64(binary.BigEndian.Uint64(payload[0:8]))
		e.Duration = time.Duration(binary.BigEndian.Uint32(payload[8:12])) * time.Millisecond
		e.Recorded = time.Unix(int64(binary.BigEndian.Uint64(payload[12:20])), 0).UTC()
		payload = payload[20:]
		page.Entries = append(page.Entries, e)
	}
	return page, nil
}

// EncodeListPage builds one page of a file listing.
func EncodeListPage(page ListPage) []byte {
	buf := binary.BigEndian.AppendUint32(nil, page.Total)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(page.Entries)))
	for _, e := range page.Entries {
		buf = appendString(buf, e.Name)
		buf = binary.BigEndian.AppendUint64(buf, uint64(e.Size))
		buf = binary.BigEndian.AppendUint32(buf, uint32(e.Duration/time.Millisecond))
		buf = binary.BigEndian.AppendUint64(buf, uint64(e.Recorded.Unix()))
	}
	return buf
}

// EncodeReadFileRequest builds a read-file request for one chunk.
// The response payload is the raw chunk; a short or empty chunk means EOF.
func EncodeReadFileRequest(name string, offset int64, chunk uint32) []byte {
	buf := appendString(nil, name)
	buf = binary.BigEndian.AppendUint64(buf, uint64(offset))
	return binary.BigEndian.AppendUint32(buf, chunk)
}

// DecodeReadFileRequest parses a read-file request payload.
func DecodeReadFileRequest(payload []byte) (name string, offset int64, chunk uint32, err error) {
	name, payload, err = readString(payload)
	if err != nil {
		return "", 0, 0, fmt.Errorf("read-file name: %w", err)
	}
	if len(payload) < 12 {
		return "", 0, 0, fmt.Errorf("read-file request truncated: %w", rec.ErrMalformedFrame)
	}
	offset = int64(binary.BigEndian.Uint64(payload[0:8]))
	chunk = binary.BigEndian.Uint32(payload[8:12])
	return name, offset, chunk, nil
}
