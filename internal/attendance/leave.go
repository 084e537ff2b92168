package attendance

import (
	"time"
)

// Leave is a full-day leave record.
type Leave struct {
	EmployeeRef string
	From        time.Time
	To          time.Time
	Kind        string
	Approved    bool
}

// ShortLeave is a request to leave for part of a day.
type ShortLeave struct {
	EmployeeRef string
	Date        time.Time
	Start       ClockTime
	End         ClockTime
	Approved    bool
}

// Qualifies reports whether the request counts as a short leave under p:
// it must be approved when pre-approval is required and fall inside the
// morning or evening window.
func (s ShortLeave) Qualifies(p ShortLeavePolicy) bool {
	if p.PreApprovalRequired && !s.Approved {
		return false
	}
	return p.Morning.Covers(s.Start, s.End) || p.Evening.Covers(s.Start, s.End)
}
