package attendance

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the canonical date key format.
const DateLayout = "2006-01-02"

// Calendar decides which dates are working days.
type Calendar struct {
	loc      *time.Location
	weekend  map[time.Weekday]bool
	holidays map[string]bool
}

// NewCalendar builds a calendar. weekendDays are English weekday names and
// holidays are YYYY-MM-DD dates. A nil loc means time.Local.
func NewCalendar(loc *time.Location, weekendDays, holidays []string) (*Calendar, error) {
	if loc == nil {
		loc = time.Local
	}
	c := &Calendar{
		loc:      loc,
		weekend:  make(map[time.Weekday]bool),
		holidays: make(map[string]bool),
	}

	for _, name := range weekendDays {
		d, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
		c.weekend[d] = true
	}
	for _, h := range holidays {
		d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(h), loc)
		if err != nil {
			return nil, fmt.Errorf("invalid holiday %q: %w", h, err)
		}
		c.holidays[d.Format(DateLayout)] = true
	}
	return c, nil
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// Location returns the calendar's time zone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Day returns local midnight of the calendar day containing t.
func (c *Calendar) Day(t time.Time) time.Time {
	y, m, d := t.In(c.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.loc)
}

// Key returns the YYYY-MM-DD key of the calendar day containing t.
func (c *Calendar) Key(t time.Time) string {
	return t.In(c.loc).Format(DateLayout)
}

// ParseDay parses a YYYY-MM-DD date in the calendar's zone.
func (c *Calendar) ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, c.loc)
}

// IsWorkingDay reports whether day is neither a weekend day nor a holiday.
func (c *Calendar) IsWorkingDay(day time.Time) bool {
	day = day.In(c.loc)
	return !c.weekend[day.Weekday()] && !c.holidays[day.Format(DateLayout)]
}

// Days returns every calendar day in [from, to].
func (c *Calendar) Days(from, to time.Time) []time.Time {
	var out []time.Time
	end := c.Day(to)
	for d := c.Day(from); !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}
