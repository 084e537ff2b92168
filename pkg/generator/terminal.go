// Package generator produces synthetic biometric terminals, enrolled users and
// raw punch logs for simulation and testing.
package generator

import (
	"strconv"

	"github.com/brianvoe/gofakeit/v7"
)

// Terminal describes a synthetic time-clock terminal.
type Terminal struct {
	Serial       string `fake:"{uuid}"`
	Name         string `fake:"{company}"`
	Location     string `fake:"{city}, {state}"`
	MacAddress   string `fake:"{macaddress}"`
	IPAddress    string `fake:"{ipv4address}"`
	Firmware     string `fake:"{appversion}"`
	UserCapacity int    `fake:"{number:1000,5000}"`
	LogCapacity  int    `fake:"{number:50000,200000}"`
}

// NewTerminal returns a random terminal profile drawn from f.
func NewTerminal(f *gofakeit.Faker) *Terminal {
	var t Terminal
	if err := f.Struct(&t); err != nil {
		return nil
	}
	return &t
}

// Employee is a synthetic enrolled user with a personal arrival habit.
type Employee struct {
	UID        string
	Name       string
	CardNumber string
	// ArrivalMinute is the habitual minute-of-day of the first punch.
	ArrivalMinute int
	// DepartureMinute is the habitual minute-of-day of the last punch.
	DepartureMinute int
}

// NewWorkforce returns n employees with sequential numeric UIDs starting at 1.
func NewWorkforce(f *gofakeit.Faker, n int) []Employee {
	staff := make([]Employee, 0, n)
	for i := 1; i <= n; i++ {
		staff = append(staff, Employee{
			UID:             strconv.Itoa(i),
			Name:            f.Name(),
			CardNumber:      f.Numerify("########"),
			ArrivalMinute:   f.IntRange(8*60+30, 9*60+5),
			DepartureMinute: f.IntRange(16*60+45, 18*60+30),
		})
	}
	return staff
}
