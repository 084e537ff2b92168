package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceNotConnected is returned when a device call is made without a live session.
	ErrDeviceNotConnected = errors.New("device not connected")
	// ErrUnknownDevice is returned for device ids that were never registered.
	ErrUnknownDevice = errors.New("unknown device")
)

// ConnectError reports a failed attempt to open a session.
type ConnectError struct {
	DeviceID string
	Reason   string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to device %s failed: %s", e.DeviceID, e.Reason)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// DuplicateDeviceError is returned when registering an id that is connected
// under a different address.
type DuplicateDeviceError struct {
	DeviceID  string
	Connected string
	Requested string
}

func (e *DuplicateDeviceError) Error() string {
	return fmt.Sprintf("device %s is connected at %s, cannot re-register at %s", e.DeviceID, e.Connected, e.Requested)
}
