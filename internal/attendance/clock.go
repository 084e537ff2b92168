package attendance

import (
	"fmt"
	"time"
)

// ClockTime is a wall-clock time of day in minutes after midnight.
type ClockTime int

// ParseClock parses "15:04".
func ParseClock(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return ClockTime(t.Hour()*60 + t.Minute()), nil
}

// ClockOf returns the wall-clock time of t in loc, truncated to the minute.
func ClockOf(t time.Time, loc *time.Location) ClockTime {
	t = t.In(loc)
	return ClockTime(t.Hour()*60 + t.Minute())
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Window is an inclusive range of clock times.
type Window struct {
	Start ClockTime
	End   ClockTime
}

// IsZero reports whether the window is unset.
func (w Window) IsZero() bool {
	return w.Start == 0 && w.End == 0
}

// Covers reports whether [start, end] lies inside the window.
func (w Window) Covers(start, end ClockTime) bool {
	return !w.IsZero() && start >= w.Start && end <= w.End && start <= end
}
