package generator

import (
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// Rates controls how often the generator emits irregular records.
type Rates struct {
	// Absent is the chance an employee has no punches on a day.
	Absent float64
	// Late is the chance the first punch lands well after the habitual time.
	Late float64
	// Garbage is the chance of an extra record dated in the terminal's factory year.
	Garbage float64
	// MissingUID is the chance of an extra record with no usable identifier.
	MissingUID float64
	// Duplicate is the chance a punch is logged twice.
	Duplicate float64
}

// DefaultRates mirrors what real terminals produce on an ordinary day.
func DefaultRates() Rates {
	return Rates{
		Absent:     0.05,
		Late:       0.15,
		Garbage:    0.02,
		MissingUID: 0.02,
		Duplicate:  0.05,
	}
}

// PunchGenerator emits raw terminal log entries for a workforce.
type PunchGenerator struct {
	faker *gofakeit.Faker
	staff []Employee
	rates Rates
	loc   *time.Location
}

// NewPunchGenerator creates a generator. A nil loc means time.Local.
func NewPunchGenerator(f *gofakeit.Faker, staff []Employee, rates Rates, loc *time.Location) *PunchGenerator {
	if loc == nil {
		loc = time.Local
	}
	return &PunchGenerator{faker: f, staff: staff, rates: rates, loc: loc}
}

// identifier keys used by the various terminal firmware families
var uidKeys = []string{"uid", "deviceUserId", "userId", "userSn", "user_id"}

// Day returns the raw log entries produced on the given calendar day.
func (g *PunchGenerator) Day(day time.Time) []map[string]any {
	y, m, d := day.In(g.loc).Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, g.loc)

	var out []map[string]any
	for _, e := range g.staff {
		if g.chance(g.rates.Absent) {
			continue
		}

		in := e.ArrivalMinute + g.faker.IntRange(-10, 10)
		if g.chance(g.rates.Late) {
			in += g.faker.IntRange(20, 240)
		}
		out = append(out, g.entry(e.UID, midnight.Add(time.Duration(in)*time.Minute), 0))

		outMin := e.DepartureMinute + g.faker.IntRange(-15, 30)
		if outMin > in {
			out = append(out, g.entry(e.UID, midnight.Add(time.Duration(outMin)*time.Minute), 1))
		}

		if g.chance(g.rates.Duplicate) {
			dup := make(map[string]any, len(out[len(out)-1]))
			for k, v := range out[len(out)-1] {
				dup[k] = v
			}
			out = append(out, dup)
		}
	}

	if g.chance(g.rates.Garbage) {
		e := g.staff[g.faker.IntRange(0, len(g.staff)-1)]
		out = append(out, g.entry(e.UID, time.Date(2000, 1, 1, 0, g.faker.IntRange(0, 59), 0, 0, g.loc), 0))
	}
	if g.chance(g.rates.MissingUID) {
		out = append(out, map[string]any{
			"uid":        "0",
			"recordTime": midnight.Add(9 * time.Hour).Format(time.RFC3339),
			"state":      0,
			"type":       1,
		})
	}
	return out
}

// Range returns the log entries for every day in [from, to].
func (g *PunchGenerator) Range(from, to time.Time) []map[string]any {
	var out []map[string]any
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		out = append(out, g.Day(d)...)
	}
	return out
}

func (g *PunchGenerator) entry(uid string, at time.Time, state int) map[string]any {
	key := uidKeys[g.faker.IntRange(0, len(uidKeys)-1)]

	var ts any
	switch g.faker.IntRange(0, 2) {
	case 0:
		ts = at
	case 1:
		ts = at.Format(time.RFC3339)
	default:
		ts = at.Unix()
	}

	return map[string]any{
		key:          uid,
		"recordTime": ts,
		"state":      state,
		"type":       1,
	}
}

func (g *PunchGenerator) chance(p float64) bool {
	return p > 0 && g.faker.Float64() < p
}
