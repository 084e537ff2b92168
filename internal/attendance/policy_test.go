package attendance_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/timeclock/internal/attendance"
)

func groupA() attendance.PolicyConfig {
	return attendance.PolicyConfig{
		GracePeriodUntil:     "08:30",
		HalfDayAfter:         "08:30",
		HalfDayBefore:        "12:00",
		RequiredHours:        8,
		OvertimeEligibleFrom: "00:00",
		ShortLeave: attendance.ShortLeaveConfig{
			MaxPerMonth:  2,
			MorningStart: "08:00",
			MorningEnd:   "10:00",
			EveningStart: "15:00",
			EveningEnd:   "17:00",
		},
	}
}

var _ = Describe("Policy", func() {
	Describe("Compile", func() {
		It("should convert a valid configuration", func() {
			p, err := groupA().Compile("group_a")
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Group).To(Equal("group_a"))
			Expect(p.GracePeriodUntil.String()).To(Equal("08:30"))
			Expect(p.HalfDayBefore.String()).To(Equal("12:00"))
			Expect(p.RequiredMinutes).To(Equal(480))
			Expect(p.HasHalfDay()).To(BeTrue())
			Expect(p.ShortLeave.MaxPerMonth).To(Equal(2))
			Expect(p.ShortLeave.Evening.End.String()).To(Equal("17:00"))
		})

		It("should allow a policy without half-day window", func() {
			cfg := groupA()
			cfg.HalfDayAfter, cfg.HalfDayBefore = "", ""
			p, err := cfg.Compile("group_b")
			Expect(err).NotTo(HaveOccurred())
			Expect(p.HasHalfDay()).To(BeFalse())
		})

		DescribeTable("invalid configurations",
			func(mutate func(*attendance.PolicyConfig), contains string) {
				cfg := groupA()
				mutate(&cfg)
				_, err := cfg.Compile("group_a")
				Expect(err).To(MatchError(ContainSubstring(contains)))
			},
			Entry("missing grace period", func(c *attendance.PolicyConfig) { c.GracePeriodUntil = "" }, "GracePeriodUntil"),
			Entry("malformed time", func(c *attendance.PolicyConfig) { c.OvertimeEligibleFrom = "4:45pm" }, "OvertimeEligibleFrom"),
			Entry("negative hours", func(c *attendance.PolicyConfig) { c.RequiredHours = -1 }, "RequiredHours"),
			Entry("half-day bound missing", func(c *attendance.PolicyConfig) { c.HalfDayBefore = "" }, "set together"),
			Entry("half-day bounds reversed", func(c *attendance.PolicyConfig) { c.HalfDayBefore = "08:00" }, "must be after"),
			Entry("open short-leave window", func(c *attendance.PolicyConfig) { c.ShortLeave.EveningEnd = "" }, "both start and end"),
		)
	})

	Describe("PolicySet", func() {
		It("should resolve groups and the default", func() {
			set, err := attendance.NewPolicySet(map[string]attendance.PolicyConfig{
				"group_a": groupA(),
				"group_b": {GracePeriodUntil: "09:00", RequiredHours: 9},
			}, "group_a")
			Expect(err).NotTo(HaveOccurred())
			Expect(set.Groups()).To(Equal([]string{"group_a", "group_b"}))
			Expect(set.DefaultGroup()).To(Equal("group_a"))

			p, ok := set.Policy("group_b")
			Expect(ok).To(BeTrue())
			Expect(p.RequiredMinutes).To(Equal(540))

			_, ok = set.Policy("group_c")
			Expect(ok).To(BeFalse())
		})

		It("should require the default group to exist", func() {
			_, err := attendance.NewPolicySet(map[string]attendance.PolicyConfig{"group_a": groupA()}, "office")
			Expect(err).To(MatchError(ContainSubstring("default group")))
		})

		It("should require at least one group", func() {
			_, err := attendance.NewPolicySet(nil, "group_a")
			Expect(err).To(HaveOccurred())
		})
	})
})
