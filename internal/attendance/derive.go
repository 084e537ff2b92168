package attendance

import (
	"math"
	"time"

	"procodus.dev/timeclock/internal/punch"
)

// offerBlockMinutes is the granularity of offer hours.
const offerBlockMinutes = 15

// DayInput is everything Derive needs for one employee on one day.
type DayInput struct {
	EmployeeRef string
	// Day is local midnight of the date being derived.
	Day        time.Time
	Events     []punch.Event
	Policy     Policy
	WorkingDay bool
	// OnLeave is true when an approved full-day leave covers the day.
	OnLeave bool
	// ShortLeave is the day's short-leave request, if any.
	ShortLeave *ShortLeave
	// ShortLeavesUsed counts qualifying short leaves earlier in the same month.
	ShortLeavesUsed int
}

// Derive computes the attendance fact for one employee and day. It is a pure
// function of its input; the order of in.Events does not matter.
func Derive(in DayInput) Fact {
	loc := in.Day.Location()
	f := Fact{
		EmployeeRef:  in.EmployeeRef,
		Date:         in.Day,
		Group:        in.Policy.Group,
		IsWorkingDay: in.WorkingDay,
		PunchCount:   len(in.Events),
	}

	events := make([]punch.Event, len(in.Events))
	copy(events, in.Events)
	punch.SortByTime(events)

	if len(events) > 0 {
		first := events[0].OccurredAt.In(loc)
		f.FirstIn = &first
		if len(events) > 1 {
			last := events[len(events)-1].OccurredAt.In(loc)
			f.LastOut = &last
			f.WorkedMinutes = max(0, int(last.Sub(first)/time.Minute))
		}

		p := in.Policy
		inClock := ClockOf(first, loc)
		if in.WorkingDay {
			if inClock > p.GracePeriodUntil {
				f.IsLate = true
				f.LateMinutes = int(inClock - p.GracePeriodUntil)
			}
			if p.HasHalfDay() && inClock > p.HalfDayAfter && inClock < p.HalfDayBefore {
				f.IsHalfDay = true
				f.IsLate = false
				f.LateMinutes = 0
			}
		}

		if f.LastOut != nil && inClock >= p.OvertimeEligibleFrom {
			basis := f.WorkedMinutes
			if in.WorkingDay {
				basis -= p.RequiredMinutes
			}
			f.OvertimeMinutes = max(0, basis)
		}
	}

	f.OvertimeHours = math.Round(float64(f.OvertimeMinutes)/60*100) / 100
	f.OfferHours = OfferHours(f.OvertimeMinutes)

	if sl := in.ShortLeave; sl != nil && sl.Qualifies(in.Policy.ShortLeave) {
		f.OnShortLeave = true
		quota := in.Policy.ShortLeave.MaxPerMonth
		f.ShortLeaveQuotaExceeded = quota > 0 && in.ShortLeavesUsed+1 > quota
	}

	switch {
	case in.OnLeave:
		f.Status = StatusOnLeave
	case len(events) == 0:
		f.Status = StatusAbsent
	case f.IsHalfDay:
		f.Status = StatusHalfDay
	case f.IsLate:
		f.Status = StatusLate
	default:
		f.Status = StatusPresent
	}
	return f
}

// OfferHours converts overtime minutes to allowance hours, rounded down to
// whole 15 minute blocks.
func OfferHours(overtimeMinutes int) float64 {
	if overtimeMinutes <= 0 {
		return 0
	}
	blocks := overtimeMinutes / offerBlockMinutes
	return float64(blocks) * offerBlockMinutes / 60
}
