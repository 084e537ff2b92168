package store

import (
	"fmt"
	"time"

	"procodus.dev/timeclock/internal/attendance"
	"procodus.dev/timeclock/internal/device"
)

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func inPtr(t *time.Time, loc *time.Location) *time.Time {
	if t == nil {
		return nil
	}
	l := t.In(loc)
	return &l
}

func factRow(f attendance.Fact) DailyFact {
	return DailyFact{
		EmployeeRef:             f.EmployeeRef,
		Date:                    f.Date.Format(attendance.DateLayout),
		GroupName:               f.Group,
		FirstIn:                 utcPtr(f.FirstIn),
		LastOut:                 utcPtr(f.LastOut),
		PunchCount:              f.PunchCount,
		WorkedMinutes:           f.WorkedMinutes,
		Status:                  string(f.Status),
		IsWorkingDay:            f.IsWorkingDay,
		IsLate:                  f.IsLate,
		LateMinutes:             f.LateMinutes,
		IsHalfDay:               f.IsHalfDay,
		OnShortLeave:            f.OnShortLeave,
		ShortLeaveQuotaExceeded: f.ShortLeaveQuotaExceeded,
		OvertimeMinutes:         f.OvertimeMinutes,
		OvertimeHours:           f.OvertimeHours,
		OfferHours:              f.OfferHours,
	}
}

func (r DailyFact) toFact(loc *time.Location) (attendance.Fact, error) {
	date, err := time.ParseInLocation(attendance.DateLayout, r.Date, loc)
	if err != nil {
		return attendance.Fact{}, fmt.Errorf("fact %s: bad date %q: %w", r.EmployeeRef, r.Date, err)
	}
	return attendance.Fact{
		EmployeeRef:             r.EmployeeRef,
		Date:                    date,
		Group:                   r.GroupName,
		FirstIn:                 inPtr(r.FirstIn, loc),
		LastOut:                 inPtr(r.LastOut, loc),
		PunchCount:              r.PunchCount,
		WorkedMinutes:           r.WorkedMinutes,
		Status:                  attendance.Status(r.Status),
		IsWorkingDay:            r.IsWorkingDay,
		IsLate:                  r.IsLate,
		LateMinutes:             r.LateMinutes,
		IsHalfDay:               r.IsHalfDay,
		OnShortLeave:            r.OnShortLeave,
		ShortLeaveQuotaExceeded: r.ShortLeaveQuotaExceeded,
		OvertimeMinutes:         r.OvertimeMinutes,
		OvertimeHours:           r.OvertimeHours,
		OfferHours:              r.OfferHours,
	}, nil
}

func leaveRow(l attendance.Leave, loc *time.Location) Leave {
	status := LeavePending
	if l.Approved {
		status = LeaveApproved
	}
	return Leave{
		EmployeeRef: l.EmployeeRef,
		StartDate:   l.From.In(loc).Format(attendance.DateLayout),
		EndDate:     l.To.In(loc).Format(attendance.DateLayout),
		Kind:        l.Kind,
		Status:      status,
	}
}

func shortLeaveRow(sl attendance.ShortLeave, loc *time.Location) ShortLeave {
	status := LeavePending
	if sl.Approved {
		status = LeaveApproved
	}
	return ShortLeave{
		EmployeeRef: sl.EmployeeRef,
		Date:        sl.Date.In(loc).Format(attendance.DateLayout),
		StartTime:   sl.Start.String(),
		EndTime:     sl.End.String(),
		Status:      status,
	}
}

func (r ShortLeave) toShortLeave(loc *time.Location) (attendance.ShortLeave, error) {
	date, err := time.ParseInLocation(attendance.DateLayout, r.Date, loc)
	if err != nil {
		return attendance.ShortLeave{}, fmt.Errorf("short leave %d: bad date %q: %w", r.ID, r.Date, err)
	}
	start, err := attendance.ParseClock(r.StartTime)
	if err != nil {
		return attendance.ShortLeave{}, fmt.Errorf("short leave %d: %w", r.ID, err)
	}
	end, err := attendance.ParseClock(r.EndTime)
	if err != nil {
		return attendance.ShortLeave{}, fmt.Errorf("short leave %d: %w", r.ID, err)
	}
	return attendance.ShortLeave{
		EmployeeRef: r.EmployeeRef,
		Date:        date,
		Start:       start,
		End:         end,
		Approved:    r.Status == LeaveApproved,
	}, nil
}

func (r BiometricDevice) toConfig() device.Config {
	return device.Config{
		DeviceID: r.DeviceID,
		Name:     r.Name,
		IP:       r.IP,
		Port:     r.Port,
		Timeout:  time.Duration(r.TimeoutMS) * time.Millisecond,
		InPort:   r.InPort,
	}
}
