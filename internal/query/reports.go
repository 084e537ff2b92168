package query

import (
	"context"
	"math"
	"sort"
	"time"

	"procodus.dev/timeclock/internal/attendance"
)

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// OfferSummary totals the 1/4 allowance of one employee over a range.
type OfferSummary struct {
	EmployeeRef     string  `json:"employeeRef"`
	Group           string  `json:"group"`
	DaysWorked      int     `json:"daysWorked"`
	OvertimeDays    int     `json:"overtimeDays"`
	OvertimeMinutes int     `json:"overtimeMinutes"`
	OfferHours      float64 `json:"offerHours"`
	AveragePerDay   float64 `json:"averagePerDay"`
}

// OfferAttendance sums offer hours per employee. Offer hours are summed from
// the per-day values so each day keeps its own quarter-hour rounding.
func (s *Service) OfferAttendance(ctx context.Context, r DateRange, group string) ([]OfferSummary, error) {
	facts, err := s.GetDailyFacts(ctx, FactQuery{Group: group, Range: r})
	if err != nil {
		return nil, err
	}

	byRef := map[string]*OfferSummary{}
	for _, f := range facts {
		if f.PunchCount == 0 {
			continue
		}
		sum, ok := byRef[f.EmployeeRef]
		if !ok {
			sum = &OfferSummary{EmployeeRef: f.EmployeeRef, Group: f.Group}
			byRef[f.EmployeeRef] = sum
		}
		sum.DaysWorked++
		if f.OfferHours > 0 {
			sum.OvertimeDays++
		}
		sum.OvertimeMinutes += f.OvertimeMinutes
		sum.OfferHours += f.OfferHours
	}

	out := make([]OfferSummary, 0, len(byRef))
	for _, sum := range byRef {
		if sum.DaysWorked > 0 {
			sum.AveragePerDay = round2(sum.OfferHours / float64(sum.DaysWorked))
		}
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeRef < out[j].EmployeeRef })
	return out, nil
}

// ShortLeaveUsage is the monthly short-leave balance of one employee.
type ShortLeaveUsage struct {
	EmployeeRef  string     `json:"employeeRef"`
	Name         string     `json:"name,omitempty"`
	Group        string     `json:"group"`
	Used         int        `json:"used"`
	Allowed      int        `json:"allowed"`
	Remaining    int        `json:"remaining"`
	UsagePercent float64    `json:"usagePercent"`
	LastUsed     *time.Time `json:"lastUsed,omitempty"`
}

// ShortLeaveUsage reports, for every active employee, the qualifying short
// leaves taken in the month containing month.
func (s *Service) ShortLeaveUsage(ctx context.Context, month time.Time, group string) ([]ShortLeaveUsage, error) {
	loc := s.calendar.Location()
	month = month.In(loc)
	start := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, loc)
	end := start.AddDate(0, 1, 0)

	employees, err := s.directory.ActiveEmployees(ctx)
	if err != nil {
		return nil, err
	}
	leaves, err := s.leaves.ShortLeaves(ctx, "", start, end)
	if err != nil {
		return nil, err
	}

	byRef := map[string][]attendance.ShortLeave{}
	for _, sl := range leaves {
		byRef[sl.EmployeeRef] = append(byRef[sl.EmployeeRef], sl)
	}

	out := make([]ShortLeaveUsage, 0, len(employees))
	for _, e := range employees {
		g := e.Group
		if g == "" {
			g = s.policies.DefaultGroup()
		}
		if group != "" && g != group {
			continue
		}
		p, ok := s.policies.Policy(g)
		if !ok {
			p, _ = s.policies.Policy(s.policies.DefaultGroup())
		}

		u := ShortLeaveUsage{EmployeeRef: e.Ref, Name: e.Name, Group: g, Allowed: p.ShortLeave.MaxPerMonth}
		for _, sl := range byRef[e.Ref] {
			if !sl.Qualifies(p.ShortLeave) {
				continue
			}
			u.Used++
			if u.LastUsed == nil || sl.Date.After(*u.LastUsed) {
				d := sl.Date
				u.LastUsed = &d
			}
		}
		u.Remaining = max(0, u.Allowed-u.Used)
		if u.Allowed > 0 {
			u.UsagePercent = round2(float64(u.Used) / float64(u.Allowed) * 100)
		}
		out = append(out, u)
	}
	return out, nil
}

// LateArrival is one late or half-day fact.
type LateArrival struct {
	EmployeeRef string            `json:"employeeRef"`
	Group       string            `json:"group"`
	Date        string            `json:"date"`
	FirstIn     time.Time         `json:"firstIn"`
	MinutesLate int               `json:"minutesLate"`
	IsHalfDay   bool              `json:"isHalfDay"`
	Status      attendance.Status `json:"status"`
}

// LateArrivals lists late and half-day arrivals. Minutes late are measured
// from the group's grace period, also for half days.
func (s *Service) LateArrivals(ctx context.Context, r DateRange, group string) ([]LateArrival, error) {
	facts, err := s.GetDailyFacts(ctx, FactQuery{Group: group, Range: r})
	if err != nil {
		return nil, err
	}

	loc := s.calendar.Location()
	var out []LateArrival
	for _, f := range facts {
		if (!f.IsLate && !f.IsHalfDay) || f.FirstIn == nil {
			continue
		}
		minutes := f.LateMinutes
		if f.IsHalfDay {
			if p, ok := s.policies.Policy(f.Group); ok {
				minutes = max(0, int(attendance.ClockOf(*f.FirstIn, loc)-p.GracePeriodUntil))
			}
		}
		out = append(out, LateArrival{
			EmployeeRef: f.EmployeeRef,
			Group:       f.Group,
			Date:        s.calendar.Key(f.Date),
			FirstIn:     *f.FirstIn,
			MinutesLate: minutes,
			IsHalfDay:   f.IsHalfDay,
			Status:      f.Status,
		})
	}
	return out, nil
}
