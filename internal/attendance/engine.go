package attendance

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/timeclock/internal/punch"
	"procodus.dev/timeclock/pkg/metrics"
)

const lockStripes = 64

// Config holds the configuration for an Engine.
type Config struct {
	Events    EventStore
	Facts     FactStore
	Leaves    LeaveStore
	Directory Directory
	Policies  PolicySource
	Calendar  *Calendar
	Logger    *slog.Logger
	Metrics   *metrics.DerivationMetrics
}

// Engine stores incoming events and keeps the affected daily facts current.
// Each (employee, day) is recomputed from its full event set under a lock, so
// concurrent ingestion from several devices converges on the same fact.
type Engine struct {
	events    EventStore
	facts     FactStore
	leaves    LeaveStore
	directory Directory
	policies  PolicySource
	calendar  *Calendar
	logger    *slog.Logger
	metrics   *metrics.DerivationMetrics

	locks [lockStripes]sync.Mutex
}

// NewEngine creates an Engine.
func NewEngine(cfg *Config) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Events == nil || cfg.Facts == nil || cfg.Leaves == nil || cfg.Directory == nil {
		return nil, errors.New("event, fact, leave and directory stores are required")
	}
	if cfg.Policies == nil {
		return nil, errors.New("policy source cannot be nil")
	}
	if cfg.Calendar == nil {
		return nil, errors.New("calendar cannot be nil")
	}

	return &Engine{
		events:    cfg.Events,
		facts:     cfg.Facts,
		leaves:    cfg.Leaves,
		directory: cfg.Directory,
		policies:  cfg.Policies,
		calendar:  cfg.Calendar,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}, nil
}

// Calendar returns the engine's calendar.
func (e *Engine) Calendar() *Calendar {
	return e.calendar
}

// IngestResult summarizes one Ingest call.
type IngestResult struct {
	Received     int
	Inserted     int
	FactsUpdated int
}

// Ingest stores events and recomputes the fact of every (employee, day) the
// batch touches, including days whose events were already stored, so a
// redelivered batch repairs a recompute that failed earlier. Re-ingesting
// stored events leaves the facts unchanged.
// Recompute failures for individual days are joined into the returned error
// after every day has been attempted.
func (e *Engine) Ingest(ctx context.Context, events []punch.Event) (IngestResult, error) {
	res := IngestResult{Received: len(events)}
	if len(events) == 0 {
		return res, nil
	}

	batch := punch.Dedupe(events)
	inserted, err := e.events.SaveEvents(ctx, batch)
	if err != nil {
		return res, fmt.Errorf("save events: %w", err)
	}
	res.Inserted = len(inserted)

	if e.metrics != nil {
		e.metrics.EventsIngested.WithLabelValues("inserted").Add(float64(len(inserted)))
		e.metrics.EventsIngested.WithLabelValues("duplicate").Add(float64(len(events) - len(inserted)))
	}

	var errs []error
	for _, k := range e.affected(batch) {
		day, err := e.calendar.ParseDay(k.Date)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := e.DeriveDay(ctx, k.EmployeeRef, day); err != nil {
			errs = append(errs, err)
			continue
		}
		res.FactsUpdated++
	}

	if len(inserted) > 0 {
		e.logger.Debug("events ingested",
			"received", res.Received,
			"inserted", res.Inserted,
			"facts_updated", res.FactsUpdated)
	}
	return res, errors.Join(errs...)
}

// Deliver ingests a batch synced from deviceID.
func (e *Engine) Deliver(ctx context.Context, deviceID string, events []punch.Event) error {
	if _, err := e.Ingest(ctx, events); err != nil {
		return fmt.Errorf("ingest batch from %s: %w", deviceID, err)
	}
	return nil
}

func (e *Engine) affected(events []punch.Event) []FactKey {
	seen := make(map[FactKey]struct{})
	var keys []FactKey
	for _, ev := range events {
		k := FactKey{EmployeeRef: ev.EmployeeRef, Date: e.calendar.Key(ev.OccurredAt)}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Date != keys[j].Date {
			return keys[i].Date < keys[j].Date
		}
		return keys[i].EmployeeRef < keys[j].EmployeeRef
	})
	return keys
}

func (e *Engine) lock(k FactKey) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k.EmployeeRef))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(k.Date))
	return &e.locks[h.Sum32()%lockStripes]
}

func (e *Engine) failed(stage string) {
	if e.metrics != nil {
		e.metrics.DerivationErrors.WithLabelValues(stage).Inc()
	}
}

// policyFor resolves the employee's group policy, falling back to the default group.
func (e *Engine) policyFor(ctx context.Context, employeeRef string) (Policy, error) {
	group, found, err := e.directory.GroupOf(ctx, employeeRef)
	if err != nil {
		return Policy{}, err
	}
	if !found || group == "" {
		group = e.policies.DefaultGroup()
	}

	p, ok := e.policies.Policy(group)
	if !ok {
		e.logger.Warn("no policy for group, using default",
			"employee", employeeRef,
			"group", group)
		p, ok = e.policies.Policy(e.policies.DefaultGroup())
		if !ok {
			return Policy{}, fmt.Errorf("no policy for group %q or default group", group)
		}
	}
	return p, nil
}

// DeriveDay recomputes and stores the fact of one employee on one day.
func (e *Engine) DeriveDay(ctx context.Context, employeeRef string, day time.Time) (Fact, error) {
	day = e.calendar.Day(day)
	key := FactKey{EmployeeRef: employeeRef, Date: day.Format(DateLayout)}

	mu := e.lock(key)
	mu.Lock()
	defer mu.Unlock()

	if e.metrics != nil {
		timer := prometheus.NewTimer(e.metrics.DerivationDuration)
		defer timer.ObserveDuration()
	}

	in, err := e.load(ctx, employeeRef, day)
	if err != nil {
		return Fact{}, fmt.Errorf("derive %s on %s: %w", employeeRef, key.Date, err)
	}

	fact := Derive(in)
	if err := e.facts.UpsertFact(ctx, fact); err != nil {
		e.failed("store")
		return Fact{}, fmt.Errorf("store fact %s on %s: %w", employeeRef, key.Date, err)
	}

	if e.metrics != nil {
		e.metrics.FactsWritten.WithLabelValues(string(fact.Status)).Inc()
	}
	return fact, nil
}

func (e *Engine) load(ctx context.Context, employeeRef string, day time.Time) (DayInput, error) {
	next := day.AddDate(0, 0, 1)

	events, err := e.events.EventsBetween(ctx, employeeRef, day, next)
	if err != nil {
		e.failed("load")
		return DayInput{}, fmt.Errorf("load events: %w", err)
	}

	policy, err := e.policyFor(ctx, employeeRef)
	if err != nil {
		e.failed("policy")
		return DayInput{}, err
	}

	onLeave, err := e.leaves.ApprovedLeaveOn(ctx, employeeRef, day)
	if err != nil {
		e.failed("load")
		return DayInput{}, fmt.Errorf("load leave: %w", err)
	}

	in := DayInput{
		EmployeeRef: employeeRef,
		Day:         day,
		Events:      events,
		Policy:      policy,
		WorkingDay:  e.calendar.IsWorkingDay(day),
		OnLeave:     onLeave,
	}

	monthStart := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, day.Location())
	shorts, err := e.leaves.ShortLeaves(ctx, employeeRef, monthStart, next)
	if err != nil {
		e.failed("load")
		return DayInput{}, fmt.Errorf("load short leaves: %w", err)
	}
	for i := range shorts {
		sl := shorts[i]
		if e.calendar.Key(sl.Date) == day.Format(DateLayout) {
			if in.ShortLeave == nil || (!in.ShortLeave.Qualifies(policy.ShortLeave) && sl.Qualifies(policy.ShortLeave)) {
				in.ShortLeave = &sl
			}
			continue
		}
		if sl.Qualifies(policy.ShortLeave) {
			in.ShortLeavesUsed++
		}
	}
	return in, nil
}

// RederiveRequest selects the facts to recompute.
type RederiveRequest struct {
	// EmployeeRef limits the run to one employee when set.
	EmployeeRef string
	From        time.Time
	To          time.Time
}

// Rederive recomputes every (employee, day) with stored events in the
// inclusive range, e.g. after a policy change. Returns the number of facts written.
func (e *Engine) Rederive(ctx context.Context, req RederiveRequest) (int, error) {
	from := e.calendar.Day(req.From)
	to := e.calendar.Day(req.To).AddDate(0, 0, 1)
	if !to.After(from) {
		return 0, fmt.Errorf("invalid range %s to %s", req.From.Format(DateLayout), req.To.Format(DateLayout))
	}

	events, err := e.events.EventsBetween(ctx, req.EmployeeRef, from, to)
	if err != nil {
		return 0, fmt.Errorf("load events: %w", err)
	}

	written := 0
	var errs []error
	for _, k := range e.affected(events) {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		day, _ := e.calendar.ParseDay(k.Date)
		if _, err := e.DeriveDay(ctx, k.EmployeeRef, day); err != nil {
			errs = append(errs, err)
			continue
		}
		written++
	}

	e.logger.Info("facts rederived",
		"employee", req.EmployeeRef,
		"from", from.Format(DateLayout),
		"to", req.To.Format(DateLayout),
		"written", written)
	return written, errors.Join(errs...)
}

// SweepAbsences writes facts for active employees with no events on a
// working day, so that absence and leave are recorded. Non-working days are
// skipped. Returns the number of facts written.
func (e *Engine) SweepAbsences(ctx context.Context, day time.Time) (int, error) {
	day = e.calendar.Day(day)
	if !e.calendar.IsWorkingDay(day) {
		return 0, nil
	}

	employees, err := e.directory.ActiveEmployees(ctx)
	if err != nil {
		return 0, fmt.Errorf("list employees: %w", err)
	}
	events, err := e.events.EventsBetween(ctx, "", day, day.AddDate(0, 0, 1))
	if err != nil {
		return 0, fmt.Errorf("load events: %w", err)
	}

	present := make(map[string]bool, len(events))
	for _, ev := range events {
		present[ev.EmployeeRef] = true
	}

	written := 0
	var errs []error
	for _, emp := range employees {
		if present[emp.Ref] {
			continue
		}
		if _, err := e.DeriveDay(ctx, emp.Ref, day); err != nil {
			errs = append(errs, err)
			continue
		}
		written++
	}

	e.logger.Info("absence sweep done", "date", day.Format(DateLayout), "written", written)
	return written, errors.Join(errs...)
}
