// Package devicetest provides a scriptable in-memory device.Driver for tests.
package devicetest

import (
	"context"
	"errors"
	"sync"
	"time"

	"procodus.dev/timeclock/internal/device"
)

// Terminal scripts the behavior of one fake terminal.
type Terminal struct {
	ConnectErr error
	Info       device.Info
	Users      []device.User
	// Logs is returned for incremental requests, and for full requests when FullLogs is nil.
	Logs     []device.RawPunch
	FullLogs []device.RawPunch
	// LogsErr is returned by every AttendanceLogs call when set.
	LogsErr error
	// FullErr is returned by full requests when set.
	FullErr error
	// Capability is reported through device.FullSyncCapability.
	Capability device.Capability
	// Delay is applied to every call; calls honor context cancellation.
	Delay time.Duration
}

// Driver is a fake device.Driver keyed by device id.
type Driver struct {
	mu        sync.Mutex
	terminals map[string]*Terminal
	opened    map[string]int
	closed    map[string]int
	calls     []string
	cleared   map[string]int
}

// NewDriver creates an empty fake driver.
func NewDriver() *Driver {
	return &Driver{
		terminals: make(map[string]*Terminal),
		opened:    make(map[string]int),
		closed:    make(map[string]int),
		cleared:   make(map[string]int),
	}
}

// Set scripts the terminal for id.
func (d *Driver) Set(id string, t *Terminal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.terminals[id] = t
}

// Opened returns how many sessions were created for id.
func (d *Driver) Opened(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened[id]
}

// Closed returns how many sessions were closed for id.
func (d *Driver) Closed(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed[id]
}

// Cleared returns how many times the log of id was cleared.
func (d *Driver) Cleared(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cleared[id]
}

// Calls returns the recorded calls as "id:op" strings.
func (d *Driver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.calls))
	copy(out, d.calls)
	return out
}

func (d *Driver) record(id, op string) {
	d.mu.Lock()
	d.calls = append(d.calls, id+":"+op)
	d.mu.Unlock()
}

// CreateSession implements device.Driver.
func (d *Driver) CreateSession(ctx context.Context, cfg device.Config) (device.Session, error) {
	d.mu.Lock()
	t, ok := d.terminals[cfg.DeviceID]
	d.mu.Unlock()
	if !ok {
		return nil, errors.New("no route to host")
	}
	d.record(cfg.DeviceID, "connect")

	if err := wait(ctx, t.Delay); err != nil {
		return nil, err
	}
	if t.ConnectErr != nil {
		return nil, t.ConnectErr
	}

	d.mu.Lock()
	d.opened[cfg.DeviceID]++
	d.mu.Unlock()
	return &session{driver: d, id: cfg.DeviceID, t: t}, nil
}

func wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

type session struct {
	driver *Driver
	id     string
	t      *Terminal
}

func (s *session) FullSyncSupport() device.Capability {
	return s.t.Capability
}

func (s *session) Info(ctx context.Context) (device.Info, error) {
	s.driver.record(s.id, "info")
	if err := wait(ctx, s.t.Delay); err != nil {
		return device.Info{}, err
	}
	return s.t.Info, nil
}

func (s *session) Users(ctx context.Context) ([]device.User, error) {
	s.driver.record(s.id, "users")
	if err := wait(ctx, s.t.Delay); err != nil {
		return nil, err
	}
	return s.t.Users, nil
}

func (s *session) AttendanceLogs(ctx context.Context, full bool) ([]device.RawPunch, error) {
	if full {
		s.driver.record(s.id, "logs-full")
	} else {
		s.driver.record(s.id, "logs")
	}
	if err := wait(ctx, s.t.Delay); err != nil {
		return nil, err
	}
	if s.t.LogsErr != nil {
		return nil, s.t.LogsErr
	}
	if full {
		if s.t.FullErr != nil {
			return nil, s.t.FullErr
		}
		if s.t.FullLogs != nil {
			return s.t.FullLogs, nil
		}
	}
	return s.t.Logs, nil
}

func (s *session) ClearLog(ctx context.Context) error {
	s.driver.record(s.id, "clear")
	if err := wait(ctx, s.t.Delay); err != nil {
		return err
	}
	s.driver.mu.Lock()
	s.driver.cleared[s.id]++
	s.driver.mu.Unlock()
	return nil
}

func (s *session) Close() error {
	s.driver.record(s.id, "close")
	s.driver.mu.Lock()
	s.driver.closed[s.id]++
	s.driver.mu.Unlock()
	return nil
}

var _ device.Driver = (*Driver)(nil)
