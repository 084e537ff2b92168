// Package device defines the contract between the attendance core and the
// drivers that speak to biometric time-clock terminals.
package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	// DefaultPort is the UDP/TCP port terminals listen on out of the box.
	DefaultPort = 4370
	// DefaultTimeout bounds every call made to a terminal.
	DefaultTimeout = 5 * time.Second
	// DefaultInPort is the inbound port used by the terminal for realtime events.
	DefaultInPort = 1
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config identifies one terminal and how to reach it.
type Config struct {
	DeviceID string        `mapstructure:"device_id" json:"deviceId" validate:"required"`
	Name     string        `mapstructure:"name" json:"name,omitempty"`
	IP       string        `mapstructure:"ip" json:"ip" validate:"required,ip|hostname"`
	Port     int           `mapstructure:"port" json:"port" validate:"min=1,max=65535"`
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout" validate:"gte=0"`
	InPort   int           `mapstructure:"inport" json:"inport" validate:"min=0,max=65535"`
}

// WithDefaults fills zero port, timeout and inbound port.
func (c Config) WithDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.InPort == 0 {
		c.InPort = DefaultInPort
	}
	return c
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid device config %q: %w", c.DeviceID, err)
	}
	return nil
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.IP, strconv.Itoa(c.Port))
}

// RawPunch is one uninterpreted log entry as returned by a terminal.
type RawPunch = map[string]any

// User is an enrolled terminal user.
type User struct {
	UID    string `json:"uid"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Role   int    `json:"role"`
	CardNo string `json:"cardno"`
}

// Info summarizes terminal state.
type Info struct {
	SerialNumber string `json:"serialNumber,omitempty"`
	DeviceName   string `json:"deviceName,omitempty"`
	Firmware     string `json:"firmware,omitempty"`
	UserCount    int    `json:"userCounts"`
	LogCount     int    `json:"logCounts"`
	LogCapacity  int    `json:"logCapacity"`
}

// IsZero reports whether the terminal returned no information at all.
func (i Info) IsZero() bool {
	return i == Info{}
}

// Session is one live connection to a terminal. Sessions are not safe for
// concurrent use; the registry serializes access.
type Session interface {
	Info(ctx context.Context) (Info, error)
	Users(ctx context.Context) ([]User, error)
	// AttendanceLogs returns the terminal's log buffer. With full set the
	// driver asks for the complete historical buffer and returns
	// ErrFullSyncUnsupported if the terminal rejects that request.
	AttendanceLogs(ctx context.Context, full bool) ([]RawPunch, error)
	ClearLog(ctx context.Context) error
	Close() error
}

// Capability is what a session knows about a terminal feature.
type Capability int

const (
	CapabilityUnknown Capability = iota
	CapabilitySupported
	CapabilityUnsupported
)

func (c Capability) String() string {
	switch c {
	case CapabilitySupported:
		return "supported"
	case CapabilityUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// FullSyncCapability is implemented by sessions that can report whether the
// terminal accepts full-buffer log requests.
type FullSyncCapability interface {
	FullSyncSupport() Capability
}

// Driver opens sessions to terminals.
type Driver interface {
	CreateSession(ctx context.Context, cfg Config) (Session, error)
}

// ErrFullSyncUnsupported is returned when a terminal rejects a full-buffer log request.
var ErrFullSyncUnsupported = errors.New("full sync not supported by device")

// ErrMalformedLog matches any MalformedLogError.
var ErrMalformedLog = errors.New("malformed log payload")

// MalformedLogError reports a log payload that is not a sequence of records.
type MalformedLogError struct {
	Got string
}

func (e *MalformedLogError) Error() string {
	return fmt.Sprintf("malformed log payload: expected a sequence, got %s", e.Got)
}

// Is makes errors.Is(err, ErrMalformedLog) match.
func (e *MalformedLogError) Is(target error) bool {
	return target == ErrMalformedLog
}
