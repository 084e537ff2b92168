package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"procodus.dev/timeclock/internal/attendance"
	"procodus.dev/timeclock/internal/device"
	"procodus.dev/timeclock/internal/punch"
)

// GormConfig holds the configuration for a GormStore.
type GormConfig struct {
	DB *gorm.DB
	// Location is the zone of stored calendar dates. Defaults to time.Local.
	Location *time.Location
	Logger   *slog.Logger
}

// GormStore is the PostgreSQL Store.
type GormStore struct {
	db     *gorm.DB
	loc    *time.Location
	logger *slog.Logger
}

// NewGormStore wraps an open database.
func NewGormStore(cfg *GormConfig) (*GormStore, error) {
	if cfg == nil {
		return nil, errors.New("store config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.DB == nil {
		return nil, errors.New("database cannot be nil")
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &GormStore{db: cfg.DB, loc: loc, logger: cfg.Logger}, nil
}

// DB returns the underlying connection.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// Close implements Store.
func (s *GormStore) Close() error {
	return CloseDB(s.db, s.logger)
}

// SaveEvents implements attendance.EventStore. Rows are inserted one at a time
// so that conflicting rows can be told apart from inserted ones.
func (s *GormStore) SaveEvents(ctx context.Context, events []punch.Event) ([]punch.Event, error) {
	var inserted []punch.Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, e := range events {
			row := AttendanceEvent{
				EmployeeRef:    e.EmployeeRef,
				OccurredAt:     e.OccurredAt.UTC().Truncate(time.Second),
				SourceDeviceID: e.SourceDeviceID,
				Direction:      string(e.Direction),
			}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
			if res.Error != nil {
				return fmt.Errorf("failed to insert event: %w", res.Error)
			}
			if res.RowsAffected == 1 {
				inserted = append(inserted, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// EventsBetween implements attendance.EventStore.
func (s *GormStore) EventsBetween(ctx context.Context, employeeRef string, from, to time.Time) ([]punch.Event, error) {
	q := s.db.WithContext(ctx).
		Where("occurred_at >= ? AND occurred_at < ?", from.UTC(), to.UTC())
	if employeeRef != "" {
		q = q.Where("employee_ref = ?", employeeRef)
	}

	var rows []AttendanceEvent
	if err := q.Order("occurred_at, source_device_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	out := make([]punch.Event, 0, len(rows))
	for _, r := range rows {
		out = append(out, punch.Event{
			EmployeeRef:    r.EmployeeRef,
			OccurredAt:     r.OccurredAt.In(s.loc),
			Direction:      punch.Direction(r.Direction),
			SourceDeviceID: r.SourceDeviceID,
		})
	}
	return out, nil
}

// UpsertFact implements attendance.FactStore.
func (s *GormStore) UpsertFact(ctx context.Context, f attendance.Fact) error {
	row := factRow(f)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "employee_ref"}, {Name: "date"}},
			UpdateAll: true,
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert fact: %w", err)
	}
	return nil
}

// Facts implements attendance.FactStore.
func (s *GormStore) Facts(ctx context.Context, filter attendance.FactFilter) ([]attendance.Fact, error) {
	q := s.db.WithContext(ctx).Model(&DailyFact{})
	if filter.EmployeeRef != "" {
		q = q.Where("employee_ref = ?", filter.EmployeeRef)
	}
	if filter.Group != "" {
		q = q.Where("group_name = ?", filter.Group)
	}
	if !filter.From.IsZero() {
		q = q.Where("date >= ?", filter.From.In(s.loc).Format(attendance.DateLayout))
	}
	if !filter.To.IsZero() {
		q = q.Where("date <= ?", filter.To.In(s.loc).Format(attendance.DateLayout))
	}

	var rows []DailyFact
	if err := q.Order("date, employee_ref").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query facts: %w", err)
	}

	out := make([]attendance.Fact, 0, len(rows))
	for _, r := range rows {
		f, err := r.toFact(s.loc)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// ApprovedLeaveOn implements attendance.LeaveStore.
func (s *GormStore) ApprovedLeaveOn(ctx context.Context, employeeRef string, day time.Time) (bool, error) {
	key := day.In(s.loc).Format(attendance.DateLayout)

	var count int64
	err := s.db.WithContext(ctx).Model(&Leave{}).
		Where("employee_ref = ? AND status = ? AND start_date <= ? AND end_date >= ?",
			employeeRef, LeaveApproved, key, key).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to query leaves: %w", err)
	}
	return count > 0, nil
}

// ShortLeaves implements attendance.LeaveStore.
func (s *GormStore) ShortLeaves(ctx context.Context, employeeRef string, from, to time.Time) ([]attendance.ShortLeave, error) {
	q := s.db.WithContext(ctx).
		Where("date >= ? AND date < ?",
			from.In(s.loc).Format(attendance.DateLayout),
			to.In(s.loc).Format(attendance.DateLayout))
	if employeeRef != "" {
		q = q.Where("employee_ref = ?", employeeRef)
	}

	var rows []ShortLeave
	if err := q.Order("date, start_time").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query short leaves: %w", err)
	}

	out := make([]attendance.ShortLeave, 0, len(rows))
	for _, r := range rows {
		sl, err := r.toShortLeave(s.loc)
		if err != nil {
			return nil, err
		}
		out = append(out, sl)
	}
	return out, nil
}

// AddLeave implements Store.
func (s *GormStore) AddLeave(ctx context.Context, l attendance.Leave) error {
	row := leaveRow(l, s.loc)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert leave: %w", err)
	}
	return nil
}

// AddShortLeave implements Store.
func (s *GormStore) AddShortLeave(ctx context.Context, sl attendance.ShortLeave) error {
	row := shortLeaveRow(sl, s.loc)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert short leave: %w", err)
	}
	return nil
}

// GroupOf implements attendance.Directory.
func (s *GormStore) GroupOf(ctx context.Context, employeeRef string) (string, bool, error) {
	var e Employee
	err := s.db.WithContext(ctx).Where("ref = ?", employeeRef).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query employee: %w", err)
	}
	return e.GroupName, true, nil
}

// ActiveEmployees implements attendance.Directory.
func (s *GormStore) ActiveEmployees(ctx context.Context) ([]attendance.Employee, error) {
	var rows []Employee
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("ref").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}

	out := make([]attendance.Employee, 0, len(rows))
	for _, r := range rows {
		out = append(out, attendance.Employee{Ref: r.Ref, Name: r.Name, Group: r.GroupName, Active: r.Active})
	}
	return out, nil
}

// EnsureEmployees implements attendance.Directory. Existing employees are left untouched.
func (s *GormStore) EnsureEmployees(ctx context.Context, employees []attendance.Employee) (int, error) {
	created := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, e := range employees {
			row := Employee{Ref: e.Ref, Name: e.Name, GroupName: e.Group, Active: true}
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "ref"}},
				DoNothing: true,
			}).Create(&row)
			if res.Error != nil {
				return fmt.Errorf("failed to insert employee: %w", res.Error)
			}
			created += int(res.RowsAffected)
		}
		return nil
	})
	return created, err
}

// Devices implements DeviceStore.
func (s *GormStore) Devices(ctx context.Context) ([]device.Config, error) {
	var rows []BiometricDevice
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("device_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}

	out := make([]device.Config, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toConfig())
	}
	return out, nil
}

// SaveDevice implements DeviceStore.
func (s *GormStore) SaveDevice(ctx context.Context, cfg device.Config) error {
	row := &BiometricDevice{DeviceID: cfg.DeviceID, Active: true}
	result := s.db.WithContext(ctx).
		Where("device_id = ?", cfg.DeviceID).
		Assign(map[string]interface{}{
			"name":       cfg.Name,
			"ip":         cfg.IP,
			"port":       cfg.Port,
			"timeout_ms": cfg.Timeout.Milliseconds(),
			"in_port":    cfg.InPort,
			"active":     true,
		}).
		FirstOrCreate(row)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert device: %w", result.Error)
	}
	return nil
}

// RecordSync implements DeviceStore.
func (s *GormStore) RecordSync(ctx context.Context, deviceID string, count int, at time.Time) error {
	at = at.UTC()
	err := s.db.WithContext(ctx).Model(&BiometricDevice{}).
		Where("device_id = ?", deviceID).
		Updates(map[string]interface{}{
			"last_sync_at":    at,
			"last_sync_count": count,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to record sync: %w", err)
	}
	return nil
}

var _ Store = (*GormStore)(nil)
