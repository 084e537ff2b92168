package generator_test

import (
	"time"

	"github.com/brianvoe/gofakeit/v7"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/timeclock/pkg/generator"
)

var _ = Describe("PunchGenerator", func() {
	var (
		faker *gofakeit.Faker
		staff []generator.Employee
		day   time.Time
	)

	BeforeEach(func() {
		faker = gofakeit.New(42)
		staff = generator.NewWorkforce(faker, 20)
		day = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	})

	It("should assign sequential non-zero identifiers", func() {
		Expect(staff).To(HaveLen(20))
		Expect(staff[0].UID).To(Equal("1"))
		Expect(staff[19].UID).To(Equal("20"))
		for _, e := range staff {
			Expect(e.ArrivalMinute).To(BeNumerically("<", e.DepartureMinute))
		}
	})

	It("should emit an in and out punch per present employee without irregular rates", func() {
		gen := generator.NewPunchGenerator(faker, staff, generator.Rates{}, time.UTC)
		entries := gen.Day(day)
		Expect(entries).To(HaveLen(40))
		for _, e := range entries {
			Expect(e).To(HaveKey("recordTime"))
			Expect(e).To(HaveKeyWithValue("type", 1))
		}
	})

	It("should emit garbage and anonymous records when forced", func() {
		gen := generator.NewPunchGenerator(faker, staff, generator.Rates{Garbage: 1, MissingUID: 1}, time.UTC)
		entries := gen.Day(day)
		Expect(entries).To(HaveLen(42))
		Expect(entries).To(ContainElement(HaveKeyWithValue("uid", "0")))
	})

	It("should be reproducible for the same seed", func() {
		a := generator.NewPunchGenerator(gofakeit.New(7), generator.NewWorkforce(gofakeit.New(7), 5), generator.DefaultRates(), time.UTC)
		b := generator.NewPunchGenerator(gofakeit.New(7), generator.NewWorkforce(gofakeit.New(7), 5), generator.DefaultRates(), time.UTC)
		Expect(a.Range(day, day.AddDate(0, 0, 2))).To(Equal(b.Range(day, day.AddDate(0, 0, 2))))
	})

	It("should generate a terminal profile", func() {
		t := generator.NewTerminal(faker)
		Expect(t).NotTo(BeNil())
		Expect(t.Serial).NotTo(BeEmpty())
		Expect(t.IPAddress).NotTo(BeEmpty())
	})
})
