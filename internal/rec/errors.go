package rec

import "errors"

// Transport errors. These surface to the immediate caller of a device
// command; the command queue itself stays serviceable after any of them.
var (
	ErrTimeout        = errors.New("device command timed out")
	ErrDeviceBusy     = errors.New("device busy")
	ErrDisconnected   = errors.New("device disconnected")
	ErrMalformedFrame = errors.New("malformed frame")
)

// Download errors. Isolated per batch item; one file's failure never
// poisons sibling downloads.
var (
	ErrWriteFailed      = errors.New("local write failed")
	ErrSizeMismatch     = errors.New("transferred size does not match device-reported size")
	ErrDownloadCancelled = errors.New("download cancelled")
)

// ErrRepairPrecondition means an issue from the last report no longer
// matches disk state, e.g. the file it described is already gone.
var ErrRepairPrecondition = errors.New("repair precondition failed")
