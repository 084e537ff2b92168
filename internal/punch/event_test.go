package punch_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/timeclock/internal/punch"
)

var _ = Describe("Event", func() {
	base := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

	It("should key events by employee, whole second and device", func() {
		a := punch.Event{EmployeeRef: "1", OccurredAt: base, SourceDeviceID: "d1", Direction: punch.In}
		b := punch.Event{EmployeeRef: "1", OccurredAt: base.Add(300 * time.Millisecond).In(time.Local), SourceDeviceID: "d1", Direction: punch.Out}
		Expect(a.Key()).To(Equal(b.Key()))

		c := a
		c.SourceDeviceID = "d2"
		Expect(a.Key()).NotTo(Equal(c.Key()))
	})

	It("should keep the first occurrence when deduplicating", func() {
		events := []punch.Event{
			{EmployeeRef: "1", OccurredAt: base, SourceDeviceID: "d1", Direction: punch.In},
			{EmployeeRef: "2", OccurredAt: base, SourceDeviceID: "d1", Direction: punch.In},
			{EmployeeRef: "1", OccurredAt: base, SourceDeviceID: "d1", Direction: punch.Unknown},
		}
		out := punch.Dedupe(events)
		Expect(out).To(HaveLen(2))
		Expect(out[0].Direction).To(Equal(punch.In))
		Expect(events[2].Direction).To(Equal(punch.Unknown))
	})

	It("should sort independent of arrival order", func() {
		a := punch.Event{EmployeeRef: "1", OccurredAt: base, SourceDeviceID: "d2"}
		b := punch.Event{EmployeeRef: "1", OccurredAt: base, SourceDeviceID: "d1"}
		c := punch.Event{EmployeeRef: "1", OccurredAt: base.Add(-time.Hour), SourceDeviceID: "d3"}

		x := []punch.Event{a, b, c}
		y := []punch.Event{b, c, a}
		punch.SortByTime(x)
		punch.SortByTime(y)
		Expect(x).To(Equal(y))
		Expect(x[0].SourceDeviceID).To(Equal("d3"))
	})
})

var _ = Describe("Batch codec", func() {
	It("should round trip a batch through protobuf", func() {
		at := time.Date(2024, 3, 4, 9, 0, 0, 0, time.FixedZone("+0530", 19800))
		in := punch.NewBatch("gate-1", []punch.Event{
			{EmployeeRef: "7", OccurredAt: at, Direction: punch.In, SourceDeviceID: "gate-1"},
			{EmployeeRef: "8", OccurredAt: at.Add(8 * time.Hour), Direction: punch.Out, SourceDeviceID: "gate-1"},
		})

		data, err := punch.MarshalBatch(in)
		Expect(err).NotTo(HaveOccurred())

		out, err := punch.UnmarshalBatch(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.ID).To(Equal(in.ID))
		Expect(out.DeviceID).To(Equal("gate-1"))
		Expect(out.SyncedAt.Equal(in.SyncedAt)).To(BeTrue())
		Expect(out.Events).To(HaveLen(2))
		for i := range in.Events {
			Expect(out.Events[i].Key()).To(Equal(in.Events[i].Key()))
			Expect(out.Events[i].Direction).To(Equal(in.Events[i].Direction))
		}
	})

	It("should reject bytes that are not a batch", func() {
		_, err := punch.UnmarshalBatch([]byte{0xff, 0xff, 0xff})
		Expect(err).To(HaveOccurred())
	})
})
