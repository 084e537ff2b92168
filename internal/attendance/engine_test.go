package attendance_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"procodus.dev/timeclock/internal/attendance"
	"procodus.dev/timeclock/internal/punch"
	"procodus.dev/timeclock/internal/store"
	"procodus.dev/timeclock/pkg/logger"
	"procodus.dev/timeclock/pkg/metrics"
)

type failingFacts struct {
	*store.MemoryStore
}

func (failingFacts) UpsertFact(context.Context, attendance.Fact) error {
	return errors.New("disk full")
}

var _ = Describe("Engine", func() {
	var (
		ctx    context.Context
		loc    *time.Location
		mem    *store.MemoryStore
		cal    *attendance.Calendar
		set    *attendance.PolicySet
		met    *metrics.DerivationMetrics
		engine *attendance.Engine
		monday time.Time
	)

	ev := func(ref string, day time.Time, clock string, dir punch.Direction, deviceID string) punch.Event {
		c, err := attendance.ParseClock(clock)
		Expect(err).NotTo(HaveOccurred())
		return punch.Event{
			EmployeeRef:    ref,
			OccurredAt:     day.Add(time.Duration(c) * time.Minute),
			Direction:      dir,
			SourceDeviceID: deviceID,
		}
	}

	fact := func(ref string, day time.Time) attendance.Fact {
		facts, err := mem.Facts(ctx, attendance.FactFilter{EmployeeRef: ref, From: day, To: day})
		Expect(err).NotTo(HaveOccurred())
		Expect(facts).To(HaveLen(1))
		return facts[0]
	}

	newEngine := func(facts attendance.FactStore) *attendance.Engine {
		e, err := attendance.NewEngine(&attendance.Config{
			Events:    mem,
			Facts:     facts,
			Leaves:    mem,
			Directory: mem,
			Policies:  set,
			Calendar:  cal,
			Logger:    logger.Discard(),
			Metrics:   met,
		})
		Expect(err).NotTo(HaveOccurred())
		return e
	}

	BeforeEach(func() {
		ctx = context.Background()
		loc = time.FixedZone("UTC+5:30", 5*3600+1800)
		mem = store.NewMemoryStore(loc)
		monday = time.Date(2024, 3, 4, 0, 0, 0, 0, loc)

		var err error
		cal, err = attendance.NewCalendar(loc, []string{"saturday", "sunday"}, nil)
		Expect(err).NotTo(HaveOccurred())
		set, err = attendance.NewPolicySet(map[string]attendance.PolicyConfig{
			"group_a": groupA(),
			"group_b": {GracePeriodUntil: "09:00", RequiredHours: 9},
		}, "group_a")
		Expect(err).NotTo(HaveOccurred())
		met = metrics.NewDerivationMetrics(prometheus.NewRegistry())

		mem.PutEmployee(attendance.Employee{Ref: "1", Group: "group_a", Active: true})
		mem.PutEmployee(attendance.Employee{Ref: "2", Group: "group_b", Active: true})
		mem.PutEmployee(attendance.Employee{Ref: "3", Group: "group_a", Active: true})

		engine = newEngine(mem)
	})

	Describe("NewEngine", func() {
		It("should validate its configuration", func() {
			_, err := attendance.NewEngine(nil)
			Expect(err).To(MatchError(ContainSubstring("config cannot be nil")))

			_, err = attendance.NewEngine(&attendance.Config{Logger: logger.Discard()})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Ingest", func() {
		It("should store events and derive the affected days", func() {
			res, err := engine.Ingest(ctx, []punch.Event{
				ev("1", monday, "08:10", punch.In, "gate"),
				ev("1", monday, "17:30", punch.Out, "gate"),
				ev("2", monday, "09:20", punch.In, "gate"),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res).To(Equal(attendance.IngestResult{Received: 3, Inserted: 3, FactsUpdated: 2}))

			f := fact("1", monday)
			Expect(f.Group).To(Equal("group_a"))
			Expect(f.Status).To(Equal(attendance.StatusPresent))
			Expect(f.OvertimeMinutes).To(Equal(80))

			f = fact("2", monday)
			Expect(f.Group).To(Equal("group_b"))
			Expect(f.Status).To(Equal(attendance.StatusLate))
			Expect(f.LateMinutes).To(Equal(20))

			Expect(testutil.ToFloat64(met.EventsIngested.WithLabelValues("inserted"))).To(Equal(3.0))
			Expect(testutil.ToFloat64(met.FactsWritten.WithLabelValues("Late"))).To(Equal(1.0))
		})

		It("should be idempotent when the same log is ingested twice", func() {
			events := []punch.Event{
				ev("1", monday, "08:10", punch.In, "gate"),
				ev("1", monday, "17:30", punch.Out, "gate"),
				ev("1", monday.AddDate(0, 0, 1), "09:10", punch.In, "gate"),
			}
			_, err := engine.Ingest(ctx, events)
			Expect(err).NotTo(HaveOccurred())
			before, err := mem.Facts(ctx, attendance.FactFilter{})
			Expect(err).NotTo(HaveOccurred())

			res, err := engine.Ingest(ctx, events)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Inserted).To(BeZero())
			Expect(res.FactsUpdated).To(Equal(2))

			after, err := mem.Facts(ctx, attendance.FactFilter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(after).To(Equal(before))
			Expect(mem.EventCount()).To(Equal(3))
		})

		It("should converge when two devices deliver the same employee concurrently", func() {
			gate := []punch.Event{ev("1", monday, "08:00", punch.In, "gate")}
			back := []punch.Event{ev("1", monday, "18:00", punch.Out, "back")}

			var wg sync.WaitGroup
			for _, batch := range [][]punch.Event{gate, back} {
				wg.Add(1)
				go func(b []punch.Event) {
					defer GinkgoRecover()
					defer wg.Done()
					Expect(engine.Deliver(ctx, b[0].SourceDeviceID, b)).To(Succeed())
				}(batch)
			}
			wg.Wait()

			f := fact("1", monday)
			Expect(f.PunchCount).To(Equal(2))
			Expect(f.WorkedMinutes).To(Equal(600))
		})

		It("should fall back to the default group for unknown employees", func() {
			_, err := engine.Ingest(ctx, []punch.Event{ev("99", monday, "08:45", punch.In, "gate")})
			Expect(err).NotTo(HaveOccurred())
			f := fact("99", monday)
			Expect(f.Group).To(Equal("group_a"))
			Expect(f.Status).To(Equal(attendance.StatusHalfDay))
		})

		It("should report store failures after attempting every day", func() {
			failing := newEngine(failingFacts{mem})
			res, err := failing.Ingest(ctx, []punch.Event{
				ev("1", monday, "08:00", punch.In, "gate"),
				ev("2", monday, "08:00", punch.In, "gate"),
			})
			Expect(err).To(MatchError(ContainSubstring("disk full")))
			Expect(res.Inserted).To(Equal(2))
			Expect(res.FactsUpdated).To(BeZero())
			Expect(testutil.ToFloat64(met.DerivationErrors.WithLabelValues("store"))).To(Equal(2.0))
		})

		It("should recompute stored days when a failed batch is delivered again", func() {
			batch := []punch.Event{
				ev("1", monday, "08:05", punch.In, "gate"),
				ev("1", monday, "17:20", punch.Out, "gate"),
			}
			_, err := newEngine(failingFacts{mem}).Ingest(ctx, batch)
			Expect(err).To(HaveOccurred())
			facts, err := mem.Facts(ctx, attendance.FactFilter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(BeEmpty())

			res, err := engine.Ingest(ctx, batch)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Inserted).To(BeZero())
			Expect(res.FactsUpdated).To(Equal(1))

			f := fact("1", monday)
			Expect(f.PunchCount).To(Equal(2))
			Expect(f.Status).To(Equal(attendance.StatusPresent))
		})
	})

	Describe("DeriveDay", func() {
		It("should apply approved leave", func() {
			Expect(mem.AddLeave(ctx, attendance.Leave{EmployeeRef: "3", From: monday, To: monday, Approved: true})).To(Succeed())
			f, err := engine.DeriveDay(ctx, "3", monday.Add(10*time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(f.Status).To(Equal(attendance.StatusOnLeave))
			Expect(f.Date).To(Equal(monday))
		})

		It("should count earlier short leaves of the month against the quota", func() {
			for _, d := range []int{1, 2} {
				Expect(mem.AddShortLeave(ctx, attendance.ShortLeave{
					EmployeeRef: "1", Date: monday.AddDate(0, 0, -d), Start: 8 * 60, End: 9 * 60, Approved: true,
				})).To(Succeed())
			}
			Expect(mem.AddShortLeave(ctx, attendance.ShortLeave{
				EmployeeRef: "1", Date: monday, Start: 15 * 60, End: 16 * 60, Approved: true,
			})).To(Succeed())

			f, err := engine.DeriveDay(ctx, "1", monday)
			Expect(err).NotTo(HaveOccurred())
			Expect(f.OnShortLeave).To(BeTrue())
			Expect(f.ShortLeaveQuotaExceeded).To(BeTrue())
		})
	})

	Describe("Rederive", func() {
		It("should recompute stored days after a policy change", func() {
			_, err := engine.Ingest(ctx, []punch.Event{
				ev("2", monday, "08:50", punch.In, "gate"),
				ev("2", monday, "18:00", punch.Out, "gate"),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(fact("2", monday).Status).To(Equal(attendance.StatusPresent))

			set, err = attendance.NewPolicySet(map[string]attendance.PolicyConfig{
				"group_a": groupA(),
				"group_b": {GracePeriodUntil: "08:30", RequiredHours: 9},
			}, "group_a")
			Expect(err).NotTo(HaveOccurred())
			engine = newEngine(mem)

			n, err := engine.Rederive(ctx, attendance.RederiveRequest{From: monday, To: monday.AddDate(0, 0, 6)})
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))
			Expect(fact("2", monday).Status).To(Equal(attendance.StatusLate))
		})

		It("should reject an inverted range", func() {
			_, err := engine.Rederive(ctx, attendance.RederiveRequest{From: monday, To: monday.AddDate(0, 0, -2)})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("SweepAbsences", func() {
		It("should write absent facts for employees without punches", func() {
			_, err := engine.Ingest(ctx, []punch.Event{ev("1", monday, "08:00", punch.In, "gate")})
			Expect(err).NotTo(HaveOccurred())

			n, err := engine.SweepAbsences(ctx, monday)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(2))

			f := fact("2", monday)
			Expect(f.Status).To(Equal(attendance.StatusAbsent))
			Expect(f.OvertimeHours).To(BeZero())
			Expect(f.OfferHours).To(BeZero())
			Expect(fact("1", monday).Status).To(Equal(attendance.StatusPresent))
		})

		It("should skip non-working days", func() {
			n, err := engine.SweepAbsences(ctx, monday.AddDate(0, 0, 5))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())
		})
	})
})
