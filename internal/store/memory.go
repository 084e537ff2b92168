package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"procodus.dev/timeclock/internal/attendance"
	"procodus.dev/timeclock/internal/device"
	"procodus.dev/timeclock/internal/punch"
)

type deviceRow struct {
	cfg       device.Config
	lastSync  time.Time
	lastCount int
}

// MemoryStore keeps everything in process memory. It is used by tests and by
// the "--store memory" mode of the CLI.
type MemoryStore struct {
	loc *time.Location

	mu          sync.RWMutex
	events      map[punch.Key]punch.Event
	facts       map[attendance.FactKey]attendance.Fact
	employees   map[string]attendance.Employee
	leaves      []attendance.Leave
	shortLeaves []attendance.ShortLeave
	devices     map[string]*deviceRow
}

// NewMemoryStore creates an empty store. A nil loc means time.Local.
func NewMemoryStore(loc *time.Location) *MemoryStore {
	if loc == nil {
		loc = time.Local
	}
	return &MemoryStore{
		loc:       loc,
		events:    make(map[punch.Key]punch.Event),
		facts:     make(map[attendance.FactKey]attendance.Fact),
		employees: make(map[string]attendance.Employee),
		devices:   make(map[string]*deviceRow),
	}
}

func (m *MemoryStore) key(t time.Time) string {
	return t.In(m.loc).Format(attendance.DateLayout)
}

// SaveEvents implements attendance.EventStore.
func (m *MemoryStore) SaveEvents(_ context.Context, events []punch.Event) ([]punch.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var inserted []punch.Event
	for _, e := range events {
		e.OccurredAt = e.OccurredAt.Truncate(time.Second)
		k := e.Key()
		if _, ok := m.events[k]; ok {
			continue
		}
		m.events[k] = e
		inserted = append(inserted, e)
	}
	return inserted, nil
}

// EventsBetween implements attendance.EventStore.
func (m *MemoryStore) EventsBetween(_ context.Context, employeeRef string, from, to time.Time) ([]punch.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []punch.Event
	for _, e := range m.events {
		if employeeRef != "" && e.EmployeeRef != employeeRef {
			continue
		}
		if e.OccurredAt.Before(from) || !e.OccurredAt.Before(to) {
			continue
		}
		out = append(out, e)
	}
	punch.SortByTime(out)
	return out, nil
}

// EventCount returns the number of stored events.
func (m *MemoryStore) EventCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// UpsertFact implements attendance.FactStore.
func (m *MemoryStore) UpsertFact(_ context.Context, f attendance.Fact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts[attendance.FactKey{EmployeeRef: f.EmployeeRef, Date: m.key(f.Date)}] = f
	return nil
}

// Facts implements attendance.FactStore.
func (m *MemoryStore) Facts(_ context.Context, filter attendance.FactFilter) ([]attendance.Fact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var from, to string
	if !filter.From.IsZero() {
		from = m.key(filter.From)
	}
	if !filter.To.IsZero() {
		to = m.key(filter.To)
	}

	var out []attendance.Fact
	for k, f := range m.facts {
		if filter.EmployeeRef != "" && k.EmployeeRef != filter.EmployeeRef {
			continue
		}
		if filter.Group != "" && f.Group != filter.Group {
			continue
		}
		if from != "" && k.Date < from {
			continue
		}
		if to != "" && k.Date > to {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].EmployeeRef < out[j].EmployeeRef
	})
	return out, nil
}

// ApprovedLeaveOn implements attendance.LeaveStore.
func (m *MemoryStore) ApprovedLeaveOn(_ context.Context, employeeRef string, day time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k := m.key(day)
	for _, l := range m.leaves {
		if l.EmployeeRef == employeeRef && l.Approved && m.key(l.From) <= k && k <= m.key(l.To) {
			return true, nil
		}
	}
	return false, nil
}

// ShortLeaves implements attendance.LeaveStore.
func (m *MemoryStore) ShortLeaves(_ context.Context, employeeRef string, from, to time.Time) ([]attendance.ShortLeave, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lo, hi := m.key(from), m.key(to)
	var out []attendance.ShortLeave
	for _, sl := range m.shortLeaves {
		if employeeRef != "" && sl.EmployeeRef != employeeRef {
			continue
		}
		if k := m.key(sl.Date); k >= lo && k < hi {
			out = append(out, sl)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Start < out[j].Start
	})
	return out, nil
}

// AddLeave implements Store.
func (m *MemoryStore) AddLeave(_ context.Context, l attendance.Leave) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaves = append(m.leaves, l)
	return nil
}

// AddShortLeave implements Store.
func (m *MemoryStore) AddShortLeave(_ context.Context, sl attendance.ShortLeave) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shortLeaves = append(m.shortLeaves, sl)
	return nil
}

// GroupOf implements attendance.Directory.
func (m *MemoryStore) GroupOf(_ context.Context, employeeRef string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.employees[employeeRef]
	return e.Group, ok, nil
}

// ActiveEmployees implements attendance.Directory.
func (m *MemoryStore) ActiveEmployees(_ context.Context) ([]attendance.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []attendance.Employee
	for _, e := range m.employees {
		if e.Active {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out, nil
}

// EnsureEmployees implements attendance.Directory.
func (m *MemoryStore) EnsureEmployees(_ context.Context, employees []attendance.Employee) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	created := 0
	for _, e := range employees {
		if _, ok := m.employees[e.Ref]; ok {
			continue
		}
		e.Active = true
		m.employees[e.Ref] = e
		created++
	}
	return created, nil
}

// PutEmployee creates or replaces an employee.
func (m *MemoryStore) PutEmployee(e attendance.Employee) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[e.Ref] = e
}

// Devices implements DeviceStore.
func (m *MemoryStore) Devices(_ context.Context) ([]device.Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]device.Config, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d.cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

// SaveDevice implements DeviceStore.
func (m *MemoryStore) SaveDevice(_ context.Context, cfg device.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[cfg.DeviceID]; ok {
		d.cfg = cfg
		return nil
	}
	m.devices[cfg.DeviceID] = &deviceRow{cfg: cfg}
	return nil
}

// RecordSync implements DeviceStore.
func (m *MemoryStore) RecordSync(_ context.Context, deviceID string, count int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[deviceID]; ok {
		d.lastSync = at
		d.lastCount = count
	}
	return nil
}

// LastSync returns what RecordSync stored for deviceID.
func (m *MemoryStore) LastSync(deviceID string) (time.Time, int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[deviceID]
	if !ok {
		return time.Time{}, 0, false
	}
	return d.lastSync, d.lastCount, true
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
