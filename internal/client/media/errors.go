package media

import (
	"errors"
	"fmt"
)

var (
	ErrCaptureUnavailable = errors.New("capture unavailable")
	ErrDeviceNotFound     = errors.New("capture device not found")
	ErrDeviceBusy         = errors.New("capture device busy")
)

// Error reports a failed operation on a capture device.
type Error struct {
	Op     string
	Device string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("media: %s %s: %v", e.Op, e.Device, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
