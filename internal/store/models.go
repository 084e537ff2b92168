package store

import (
	"time"

	"gorm.io/gorm"
)

// BiometricDevice is a configured terminal.
type BiometricDevice struct {
	LastSyncAt    *time.Time
	CreatedAt     time.Time      `gorm:"autoCreateTime"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime"`
	DeletedAt     gorm.DeletedAt `gorm:"index"`
	DeviceID      string         `gorm:"uniqueIndex;not null"`
	Name          string
	IP            string `gorm:"not null"`
	Port          int    `gorm:"not null"`
	TimeoutMS     int64
	InPort        int
	LastSyncCount int
	Active        bool `gorm:"not null;default:true"`
	ID            uint `gorm:"primaryKey"`
}

// TableName specifies the table name for BiometricDevice model.
func (BiometricDevice) TableName() string {
	return "biometric_devices"
}

// AttendanceEvent is a stored punch. The unique index makes re-sync idempotent.
type AttendanceEvent struct {
	OccurredAt     time.Time `gorm:"uniqueIndex:idx_event_key,priority:2;index:idx_event_employee_time,priority:2;not null"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	EmployeeRef    string    `gorm:"uniqueIndex:idx_event_key,priority:1;index:idx_event_employee_time,priority:1;not null"`
	SourceDeviceID string    `gorm:"uniqueIndex:idx_event_key,priority:3;not null"`
	Direction      string    `gorm:"not null"`
	ID             uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for AttendanceEvent model.
func (AttendanceEvent) TableName() string {
	return "attendance_events"
}

// DailyFact is the stored form of attendance.Fact, one row per employee and day.
type DailyFact struct {
	FirstIn                 *time.Time
	LastOut                 *time.Time
	UpdatedAt               time.Time `gorm:"autoUpdateTime"`
	EmployeeRef             string    `gorm:"uniqueIndex:idx_fact_key,priority:1;not null"`
	Date                    string    `gorm:"uniqueIndex:idx_fact_key,priority:2;index:idx_fact_date;type:char(10);not null"`
	GroupName               string    `gorm:"index"`
	Status                  string    `gorm:"not null"`
	PunchCount              int
	WorkedMinutes           int
	LateMinutes             int
	OvertimeMinutes         int
	OvertimeHours           float64
	OfferHours              float64
	IsWorkingDay            bool
	IsLate                  bool
	IsHalfDay               bool
	OnShortLeave            bool
	ShortLeaveQuotaExceeded bool
	ID                      uint `gorm:"primaryKey"`
}

// TableName specifies the table name for DailyFact model.
func (DailyFact) TableName() string {
	return "daily_attendance_facts"
}

// Employee is an entry of the employee directory.
type Employee struct {
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
	Ref       string    `gorm:"uniqueIndex;not null"`
	Name      string
	GroupName string `gorm:"index;not null"`
	Active    bool   `gorm:"not null;default:true"`
	ID        uint   `gorm:"primaryKey"`
}

// TableName specifies the table name for Employee model.
func (Employee) TableName() string {
	return "employees"
}

// Leave status values.
const (
	LeaveApproved = "approved"
	LeavePending  = "pending"
)

// Leave is a full-day leave record. Dates are YYYY-MM-DD and inclusive.
type Leave struct {
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	EmployeeRef string    `gorm:"index;not null"`
	StartDate   string    `gorm:"type:char(10);not null"`
	EndDate     string    `gorm:"type:char(10);not null"`
	Kind        string
	Status      string `gorm:"not null"`
	ID          uint   `gorm:"primaryKey"`
}

// TableName specifies the table name for Leave model.
func (Leave) TableName() string {
	return "leaves"
}

// ShortLeave is a part-day leave request. Times are "15:04".
type ShortLeave struct {
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	EmployeeRef string    `gorm:"index:idx_short_leave_employee_date,priority:1;not null"`
	Date        string    `gorm:"index:idx_short_leave_employee_date,priority:2;type:char(10);not null"`
	StartTime   string    `gorm:"type:char(5);not null"`
	EndTime     string    `gorm:"type:char(5);not null"`
	Status      string    `gorm:"not null"`
	ID          uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for ShortLeave model.
func (ShortLeave) TableName() string {
	return "short_leaves"
}

// AllModels returns every model for migration.
func AllModels() []any {
	return []any{
		&BiometricDevice{},
		&AttendanceEvent{},
		&DailyFact{},
		&Employee{},
		&Leave{},
		&ShortLeave{},
	}
}
