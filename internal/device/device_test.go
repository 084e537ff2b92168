package device_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/timeclock/internal/device"
)

var _ = Describe("Config", func() {
	It("should fill defaults", func() {
		cfg := device.Config{DeviceID: "gate-1", IP: "10.0.0.5"}.WithDefaults()
		Expect(cfg.Port).To(Equal(device.DefaultPort))
		Expect(cfg.Timeout).To(Equal(device.DefaultTimeout))
		Expect(cfg.InPort).To(Equal(device.DefaultInPort))
		Expect(cfg.Address()).To(Equal("10.0.0.5:4370"))
	})

	It("should keep explicit values", func() {
		cfg := device.Config{DeviceID: "gate-1", IP: "10.0.0.5", Port: 5005, Timeout: time.Second, InPort: 7}.WithDefaults()
		Expect(cfg.Port).To(Equal(5005))
		Expect(cfg.Timeout).To(Equal(time.Second))
		Expect(cfg.InPort).To(Equal(7))
	})

	DescribeTable("Validate",
		func(cfg device.Config, valid bool) {
			err := cfg.WithDefaults().Validate()
			if valid {
				Expect(err).NotTo(HaveOccurred())
			} else {
				Expect(err).To(HaveOccurred())
			}
		},
		Entry("ipv4 address", device.Config{DeviceID: "a", IP: "192.168.1.201"}, true),
		Entry("hostname", device.Config{DeviceID: "a", IP: "clock-lobby"}, true),
		Entry("missing id", device.Config{IP: "192.168.1.201"}, false),
		Entry("missing ip", device.Config{DeviceID: "a"}, false),
		Entry("port out of range", device.Config{DeviceID: "a", IP: "10.0.0.1", Port: 70000}, false),
	)
})

var _ = Describe("DecodeLogs", func() {
	rec := map[string]any{"uid": "7", "recordTime": "2024-03-04T09:00:00Z"}

	It("should accept a bare sequence", func() {
		logs, err := device.DecodeLogs([]any{rec, rec})
		Expect(err).NotTo(HaveOccurred())
		Expect(logs).To(HaveLen(2))
	})

	It("should accept an object with a data sequence", func() {
		logs, err := device.DecodeLogs(map[string]any{"data": []any{rec}})
		Expect(err).NotTo(HaveOccurred())
		Expect(logs).To(HaveLen(1))
		Expect(logs[0]).To(HaveKeyWithValue("uid", "7"))
	})

	It("should skip elements that are not records", func() {
		logs, err := device.DecodeLogs([]any{rec, nil, "junk", 3})
		Expect(err).NotTo(HaveOccurred())
		Expect(logs).To(HaveLen(1))
	})

	It("should return an empty slice for an empty sequence", func() {
		logs, err := device.DecodeLogs([]any{})
		Expect(err).NotTo(HaveOccurred())
		Expect(logs).To(BeEmpty())
	})

	DescribeTable("should reject payloads that are not sequences",
		func(payload any) {
			_, err := device.DecodeLogs(payload)
			Expect(err).To(MatchError(device.ErrMalformedLog))

			var mle *device.MalformedLogError
			Expect(errors.As(err, &mle)).To(BeTrue())
		},
		Entry("null", nil),
		Entry("string", "error: device busy"),
		Entry("object without data", map[string]any{"err": "timeout"}),
		Entry("object with scalar data", map[string]any{"data": 12}),
	)
})

var _ = Describe("DecodeUsers", func() {
	It("should coerce numeric identifiers", func() {
		users, err := device.DecodeUsers([]any{
			map[string]any{"uid": float64(12), "userId": "A-12", "name": "Nimal", "role": float64(14)},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(users).To(ConsistOf(device.User{UID: "12", UserID: "A-12", Name: "Nimal", Role: 14}))
	})
})

var _ = Describe("Info", func() {
	It("should report empty info as zero", func() {
		Expect(device.Info{}.IsZero()).To(BeTrue())
		Expect(device.Info{UserCount: 1}.IsZero()).To(BeFalse())
	})
})
