package store_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/timeclock/internal/attendance"
	"procodus.dev/timeclock/internal/device"
	"procodus.dev/timeclock/internal/punch"
	"procodus.dev/timeclock/internal/store"
)

var _ = Describe("MemoryStore", func() {
	var (
		ctx context.Context
		s   *store.MemoryStore
		loc *time.Location
		day time.Time
	)

	at := func(h, m int) time.Time {
		return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
	}

	BeforeEach(func() {
		ctx = context.Background()
		loc = time.FixedZone("UTC+5", 5*3600)
		s = store.NewMemoryStore(loc)
		day = time.Date(2024, 3, 4, 0, 0, 0, 0, loc)
	})

	Describe("events", func() {
		It("should insert each event key once", func() {
			e := punch.Event{EmployeeRef: "7", OccurredAt: at(9, 0), Direction: punch.In, SourceDeviceID: "d1"}

			inserted, err := s.SaveEvents(ctx, []punch.Event{e})
			Expect(err).NotTo(HaveOccurred())
			Expect(inserted).To(HaveLen(1))

			other := e
			other.SourceDeviceID = "d2"
			inserted, err = s.SaveEvents(ctx, []punch.Event{e, other})
			Expect(err).NotTo(HaveOccurred())
			Expect(inserted).To(ConsistOf(other))
			Expect(s.EventCount()).To(Equal(2))
		})

		It("should return events in a half-open range ordered by time", func() {
			_, err := s.SaveEvents(ctx, []punch.Event{
				{EmployeeRef: "7", OccurredAt: at(17, 0), Direction: punch.Out, SourceDeviceID: "d1"},
				{EmployeeRef: "7", OccurredAt: at(9, 0), Direction: punch.In, SourceDeviceID: "d1"},
				{EmployeeRef: "8", OccurredAt: at(9, 5), Direction: punch.In, SourceDeviceID: "d1"},
				{EmployeeRef: "7", OccurredAt: at(24, 0), Direction: punch.In, SourceDeviceID: "d1"},
			})
			Expect(err).NotTo(HaveOccurred())

			events, err := s.EventsBetween(ctx, "7", day, day.AddDate(0, 0, 1))
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(HaveLen(2))
			Expect(events[0].OccurredAt).To(Equal(at(9, 0)))

			all, err := s.EventsBetween(ctx, "", day, day.AddDate(0, 0, 1))
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(3))
		})
	})

	Describe("facts", func() {
		It("should replace the fact of the same employee and day", func() {
			Expect(s.UpsertFact(ctx, attendance.Fact{EmployeeRef: "7", Date: day, Status: attendance.StatusAbsent, Group: "office"})).To(Succeed())
			Expect(s.UpsertFact(ctx, attendance.Fact{EmployeeRef: "7", Date: day, Status: attendance.StatusPresent, Group: "office"})).To(Succeed())
			Expect(s.UpsertFact(ctx, attendance.Fact{EmployeeRef: "7", Date: day.AddDate(0, 0, 1), Status: attendance.StatusLate, Group: "office"})).To(Succeed())
			Expect(s.UpsertFact(ctx, attendance.Fact{EmployeeRef: "8", Date: day, Status: attendance.StatusPresent, Group: "factory"})).To(Succeed())

			facts, err := s.Facts(ctx, attendance.FactFilter{EmployeeRef: "7", From: day, To: day})
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(HaveLen(1))
			Expect(facts[0].Status).To(Equal(attendance.StatusPresent))

			facts, err = s.Facts(ctx, attendance.FactFilter{Group: "office"})
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(HaveLen(2))

			facts, err = s.Facts(ctx, attendance.FactFilter{From: day, To: day})
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(HaveLen(2))
			Expect(facts[0].EmployeeRef).To(Equal("7"))
		})
	})

	Describe("leaves", func() {
		It("should only report approved leave covering the day", func() {
			Expect(s.AddLeave(ctx, attendance.Leave{EmployeeRef: "7", From: day, To: day.AddDate(0, 0, 2), Approved: true})).To(Succeed())
			Expect(s.AddLeave(ctx, attendance.Leave{EmployeeRef: "8", From: day, To: day})).To(Succeed())

			Expect(s.ApprovedLeaveOn(ctx, "7", day.AddDate(0, 0, 2))).To(BeTrue())
			Expect(s.ApprovedLeaveOn(ctx, "7", day.AddDate(0, 0, 3))).To(BeFalse())
			Expect(s.ApprovedLeaveOn(ctx, "8", day)).To(BeFalse())
		})

		It("should return short leaves in range", func() {
			for i := 0; i < 3; i++ {
				Expect(s.AddShortLeave(ctx, attendance.ShortLeave{EmployeeRef: "7", Date: day.AddDate(0, 0, i), Start: 9 * 60, End: 10 * 60})).To(Succeed())
			}
			got, err := s.ShortLeaves(ctx, "7", day, day.AddDate(0, 0, 2))
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(2))
		})
	})

	Describe("directory", func() {
		It("should add unknown employees only", func() {
			n, err := s.EnsureEmployees(ctx, []attendance.Employee{{Ref: "1", Group: "office"}, {Ref: "2", Group: "office"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(2))

			n, err = s.EnsureEmployees(ctx, []attendance.Employee{{Ref: "1", Group: "factory"}, {Ref: "3", Group: "factory"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			group, found, err := s.GroupOf(ctx, "1")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeTrue())
			Expect(group).To(Equal("office"))

			_, found, _ = s.GroupOf(ctx, "99")
			Expect(found).To(BeFalse())

			s.PutEmployee(attendance.Employee{Ref: "2", Group: "office", Active: false})
			active, err := s.ActiveEmployees(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(HaveLen(2))
			Expect(active[0].Ref).To(Equal("1"))
		})
	})

	Describe("devices", func() {
		It("should upsert configurations and record syncs", func() {
			cfg := device.Config{DeviceID: "gate", IP: "10.0.0.5", Port: 4370}
			Expect(s.SaveDevice(ctx, cfg)).To(Succeed())
			cfg.IP = "10.0.0.6"
			Expect(s.SaveDevice(ctx, cfg)).To(Succeed())
			Expect(s.SaveDevice(ctx, device.Config{DeviceID: "back", IP: "10.0.0.7", Port: 4370})).To(Succeed())

			devices, err := s.Devices(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(devices).To(HaveLen(2))
			Expect(devices[0].DeviceID).To(Equal("back"))
			Expect(devices[1].IP).To(Equal("10.0.0.6"))

			now := time.Now()
			Expect(s.RecordSync(ctx, "gate", 12, now)).To(Succeed())
			last, count, ok := s.LastSync("gate")
			Expect(ok).To(BeTrue())
			Expect(count).To(Equal(12))
			Expect(last).To(Equal(now))
		})
	})
})
