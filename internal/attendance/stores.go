package attendance

import (
	"context"
	"time"

	"procodus.dev/timeclock/internal/punch"
)

// EventStore persists attendance events. Saving is idempotent on punch.Key.
type EventStore interface {
	// SaveEvents stores events and returns the ones that were not already stored.
	SaveEvents(ctx context.Context, events []punch.Event) ([]punch.Event, error)
	// EventsBetween returns events in [from, to). An empty employeeRef matches everyone.
	EventsBetween(ctx context.Context, employeeRef string, from, to time.Time) ([]punch.Event, error)
}

// FactFilter selects facts. Empty fields match everything; From and To are
// inclusive calendar days.
type FactFilter struct {
	EmployeeRef string
	Group       string
	From        time.Time
	To          time.Time
}

// FactStore holds one fact per employee and day.
type FactStore interface {
	// UpsertFact replaces the whole fact stored under (EmployeeRef, Date).
	UpsertFact(ctx context.Context, f Fact) error
	Facts(ctx context.Context, filter FactFilter) ([]Fact, error)
}

// LeaveStore is the read side of leave bookkeeping.
type LeaveStore interface {
	// ApprovedLeaveOn reports whether an approved full-day leave covers day.
	ApprovedLeaveOn(ctx context.Context, employeeRef string, day time.Time) (bool, error)
	// ShortLeaves returns short-leave requests dated in [from, to).
	ShortLeaves(ctx context.Context, employeeRef string, from, to time.Time) ([]ShortLeave, error)
}

// Employee is an entry of the employee directory.
type Employee struct {
	Ref    string
	Name   string
	Group  string
	Active bool
}

// Directory resolves employees and their groups.
type Directory interface {
	GroupOf(ctx context.Context, employeeRef string) (group string, found bool, err error)
	ActiveEmployees(ctx context.Context) ([]Employee, error)
	// EnsureEmployees adds employees that are not yet known and returns how many were added.
	EnsureEmployees(ctx context.Context, employees []Employee) (int, error)
}
