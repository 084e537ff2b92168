package attendance_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/timeclock/internal/attendance"
)

var _ = Describe("ClockTime", func() {
	It("should parse and format wall-clock times", func() {
		c, err := attendance.ParseClock("16:45")
		Expect(err).NotTo(HaveOccurred())
		Expect(int(c)).To(Equal(16*60 + 45))
		Expect(c.String()).To(Equal("16:45"))
	})

	It("should reject malformed times", func() {
		_, err := attendance.ParseClock("4:45 PM")
		Expect(err).To(HaveOccurred())
	})

	It("should read the clock in the given zone", func() {
		loc := time.FixedZone("UTC+5:30", 5*3600+1800)
		t := time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC)
		Expect(attendance.ClockOf(t, loc).String()).To(Equal("08:30"))
	})

	DescribeTable("window coverage",
		func(start, end string, expected bool) {
			w := attendance.Window{Start: 8 * 60, End: 10 * 60}
			s, _ := attendance.ParseClock(start)
			e, _ := attendance.ParseClock(end)
			Expect(w.Covers(s, e)).To(Equal(expected))
		},
		Entry("inside", "08:30", "09:30", true),
		Entry("exact bounds", "08:00", "10:00", true),
		Entry("starts early", "07:59", "09:00", false),
		Entry("ends late", "09:00", "10:01", false),
		Entry("reversed", "09:30", "09:00", false),
	)

	It("should never cover with an unset window", func() {
		Expect(attendance.Window{}.Covers(0, 0)).To(BeFalse())
	})
})
