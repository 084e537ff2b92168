// Package store persists devices, attendance events, daily facts, employees
// and leave records, in PostgreSQL through gorm or in memory.
package store

import (
	"context"
	"time"

	"procodus.dev/timeclock/internal/attendance"
	"procodus.dev/timeclock/internal/device"
)

// DeviceStore is the configuration table of terminals.
type DeviceStore interface {
	// Devices returns every active device configuration ordered by id.
	Devices(ctx context.Context) ([]device.Config, error)
	// SaveDevice creates or updates a device configuration.
	SaveDevice(ctx context.Context, cfg device.Config) error
	// RecordSync stores the outcome of the latest sync of a device.
	RecordSync(ctx context.Context, deviceID string, count int, at time.Time) error
}

// Store is everything the attendance core persists.
type Store interface {
	attendance.EventStore
	attendance.FactStore
	attendance.LeaveStore
	attendance.Directory
	DeviceStore

	AddLeave(ctx context.Context, l attendance.Leave) error
	AddShortLeave(ctx context.Context, sl attendance.ShortLeave) error
	Close() error
}
