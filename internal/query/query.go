// Package query is the read surface over attendance facts and device sync
// state used by the HTTP API and the CLI.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"procodus.dev/timeclock/internal/attendance"
	"procodus.dev/timeclock/internal/syncer"
)

// ErrInvalidRange is returned when a date range ends before it starts.
var ErrInvalidRange = errors.New("invalid date range")

// SyncController runs and reports device syncs.
type SyncController interface {
	Status() []syncer.Status
	Trigger(ctx context.Context, target string, mode syncer.Mode) (map[string]int, error)
}

// Config holds the configuration for a Service.
type Config struct {
	Facts     attendance.FactStore
	Leaves    attendance.LeaveStore
	Directory attendance.Directory
	Policies  attendance.PolicySource
	Calendar  *attendance.Calendar
	// Sync is optional; without it the sync operations fail.
	Sync   SyncController
	Logger *slog.Logger
}

// Service answers report queries.
type Service struct {
	facts     attendance.FactStore
	leaves    attendance.LeaveStore
	directory attendance.Directory
	policies  attendance.PolicySource
	calendar  *attendance.Calendar
	sync      SyncController
	logger    *slog.Logger
}

// New creates a Service.
func New(cfg *Config) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("query config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Facts == nil || cfg.Leaves == nil || cfg.Directory == nil {
		return nil, errors.New("fact, leave and directory stores are required")
	}
	if cfg.Policies == nil || cfg.Calendar == nil {
		return nil, errors.New("policies and calendar are required")
	}
	return &Service{
		facts:     cfg.Facts,
		leaves:    cfg.Leaves,
		directory: cfg.Directory,
		policies:  cfg.Policies,
		calendar:  cfg.Calendar,
		sync:      cfg.Sync,
		logger:    cfg.Logger,
	}, nil
}

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	From time.Time
	To   time.Time
}

func (r DateRange) validate() error {
	if r.From.IsZero() || r.To.IsZero() {
		return fmt.Errorf("%w: both ends are required", ErrInvalidRange)
	}
	if r.To.Before(r.From) {
		return fmt.Errorf("%w: %s is before %s", ErrInvalidRange,
			r.To.Format(attendance.DateLayout), r.From.Format(attendance.DateLayout))
	}
	return nil
}

// FactQuery selects daily facts. EmployeeRef and Group are optional.
type FactQuery struct {
	EmployeeRef string
	Group       string
	Range       DateRange
}

// GetDailyFacts returns the stored facts matching q ordered by date and employee.
func (s *Service) GetDailyFacts(ctx context.Context, q FactQuery) ([]attendance.Fact, error) {
	if err := q.Range.validate(); err != nil {
		return nil, err
	}
	return s.facts.Facts(ctx, attendance.FactFilter{
		EmployeeRef: q.EmployeeRef,
		Group:       q.Group,
		From:        q.Range.From,
		To:          q.Range.To,
	})
}

// DeviceSyncStatus is the reported state of one device.
type DeviceSyncStatus struct {
	Connected     bool      `json:"connected"`
	LastSyncCount int       `json:"lastSyncCount"`
	LastSyncAt    time.Time `json:"lastSyncAt"`
	LastError     string    `json:"lastError,omitempty"`
}

// GetDeviceSyncStatus returns the sync state keyed by device id.
func (s *Service) GetDeviceSyncStatus() map[string]DeviceSyncStatus {
	out := map[string]DeviceSyncStatus{}
	if s.sync == nil {
		return out
	}
	for _, st := range s.sync.Status() {
		out[st.DeviceID] = DeviceSyncStatus{
			Connected:     st.Connected,
			LastSyncCount: st.LastSyncCount,
			LastSyncAt:    st.LastSyncAt,
			LastError:     st.LastError,
		}
	}
	return out
}

// TriggerSync syncs one device, or every device when target is syncer.AllDevices.
func (s *Service) TriggerSync(ctx context.Context, target string, mode syncer.Mode) (map[string]int, error) {
	if s.sync == nil {
		return nil, errors.New("sync is not available")
	}
	s.logger.Info("sync triggered", "target", target, "mode", mode)
	return s.sync.Trigger(ctx, target, mode)
}
