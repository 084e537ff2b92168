// Package attendance derives daily attendance facts from punch events and
// group policies, and keeps them current as events arrive.
package attendance

import (
	"time"
)

// Status is the resolved attendance state of an employee on one day.
type Status string

const (
	StatusPresent Status = "Present"
	StatusAbsent  Status = "Absent"
	StatusLate    Status = "Late"
	StatusHalfDay Status = "HalfDay"
	StatusOnLeave Status = "OnLeave"
)

// Fact is the derived attendance of one employee on one calendar day. A Fact
// is always recomputed in full from every event of the day.
type Fact struct {
	EmployeeRef string     `json:"employeeRef"`
	Date        time.Time  `json:"date"`
	Group       string     `json:"group"`
	FirstIn     *time.Time `json:"firstIn,omitempty"`
	LastOut     *time.Time `json:"lastOut,omitempty"`
	PunchCount  int        `json:"punchCount"`

	WorkedMinutes int    `json:"workedMinutes"`
	Status        Status `json:"status"`
	IsWorkingDay  bool   `json:"isWorkingDay"`
	IsLate        bool   `json:"isLate"`
	LateMinutes   int    `json:"lateMinutes"`
	IsHalfDay     bool   `json:"isHalfDay"`

	OnShortLeave            bool `json:"onShortLeave"`
	ShortLeaveQuotaExceeded bool `json:"shortLeaveQuotaExceeded"`

	OvertimeMinutes int     `json:"overtimeMinutes"`
	OvertimeHours   float64 `json:"overtimeHours"`
	OfferHours      float64 `json:"offerHours"`
}

// FactKey identifies a fact.
type FactKey struct {
	EmployeeRef string
	Date        string // YYYY-MM-DD
}
