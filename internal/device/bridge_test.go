package device_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/timeclock/internal/device"
	"procodus.dev/timeclock/pkg/logger"
)

var _ = Describe("BridgeDriver", func() {
	var (
		srv       *httptest.Server
		mu        sync.Mutex
		requests  []string
		fullCode  int
		fullSync  any
		openError bool
		openBody  map[string]any
		cfg       device.Config
	)

	BeforeEach(func() {
		requests = nil
		fullCode = http.StatusOK
		fullSync = nil
		openError = false
		cfg = device.Config{DeviceID: "gate-1", IP: "10.0.0.9"}.WithDefaults()

		srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			requests = append(requests, r.Method+" "+r.URL.RequestURI())
			mu.Unlock()

			w.Header().Set("Content-Type", "application/json")
			switch {
			case r.Method == http.MethodPost && r.URL.Path == "/sessions":
				if openError {
					http.Error(w, "ETIMEDOUT", http.StatusBadGateway)
					return
				}
				mu.Lock()
				_ = json.NewDecoder(r.Body).Decode(&openBody)
				mu.Unlock()
				resp := map[string]any{"sessionId": "s1"}
				if fullSync != nil {
					resp["fullSync"] = fullSync
				}
				_ = json.NewEncoder(w).Encode(resp)
			case r.URL.Path == "/sessions/s1/info":
				_, _ = w.Write([]byte(`{"userCounts":3,"logCounts":40,"logCapacity":100000}`))
			case r.URL.Path == "/sessions/s1/users":
				_, _ = w.Write([]byte(`[{"uid":1,"userId":"1","name":"Kamal"}]`))
			case r.Method == http.MethodGet && r.URL.Path == "/sessions/s1/attendances":
				if r.URL.Query().Get("full") == "1" {
					if fullCode != http.StatusOK {
						w.WriteHeader(fullCode)
						return
					}
					_, _ = w.Write([]byte(`{"data":[{"uid":"1"},{"uid":"2"},{"uid":"3"}]}`))
					return
				}
				_, _ = w.Write([]byte(`{"data":[{"uid":"1"}]}`))
			case r.Method == http.MethodDelete:
				w.WriteHeader(http.StatusNoContent)
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		DeferCleanup(srv.Close)
	})

	newDriver := func() *device.BridgeDriver {
		d, err := device.NewBridgeDriver(&device.BridgeConfig{BaseURL: srv.URL, Logger: logger.Discard()})
		Expect(err).NotTo(HaveOccurred())
		return d
	}

	It("should reject a bad configuration", func() {
		_, err := device.NewBridgeDriver(&device.BridgeConfig{BaseURL: srv.URL})
		Expect(err).To(MatchError(ContainSubstring("logger cannot be nil")))
		_, err = device.NewBridgeDriver(&device.BridgeConfig{BaseURL: "not a url", Logger: logger.Discard()})
		Expect(err).To(HaveOccurred())
	})

	It("should run a full session round trip", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s, err := newDriver().CreateSession(ctx, cfg)
		Expect(err).NotTo(HaveOccurred())

		info, err := s.Info(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.LogCount).To(Equal(40))

		users, err := s.Users(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(users).To(HaveLen(1))
		Expect(users[0].UID).To(Equal("1"))

		logs, err := s.AttendanceLogs(ctx, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(logs).To(HaveLen(1))

		logs, err = s.AttendanceLogs(ctx, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(logs).To(HaveLen(3))

		Expect(s.ClearLog(ctx)).To(Succeed())
		Expect(s.Close()).To(Succeed())

		mu.Lock()
		defer mu.Unlock()
		Expect(openBody).To(HaveKeyWithValue("ip", "10.0.0.9"))
		Expect(openBody).To(HaveKeyWithValue("timeout", BeNumerically("==", 5000)))
		Expect(requests).To(ContainElements(
			"GET /sessions/s1/attendances?full=1",
			"DELETE /sessions/s1/attendances",
			"DELETE /sessions/s1",
		))
	})

	It("should map 501 on a full request to ErrFullSyncUnsupported", func() {
		fullCode = http.StatusNotImplemented
		s, err := newDriver().CreateSession(context.Background(), cfg)
		Expect(err).NotTo(HaveOccurred())

		_, err = s.AttendanceLogs(context.Background(), true)
		Expect(err).To(MatchError(device.ErrFullSyncUnsupported))
		Expect(s.(device.FullSyncCapability).FullSyncSupport()).To(Equal(device.CapabilityUnsupported))
	})

	It("should not treat other full request failures as unsupported", func() {
		fullCode = http.StatusInternalServerError
		s, err := newDriver().CreateSession(context.Background(), cfg)
		Expect(err).NotTo(HaveOccurred())

		_, err = s.AttendanceLogs(context.Background(), true)
		Expect(err).To(HaveOccurred())
		Expect(err).NotTo(MatchError(device.ErrFullSyncUnsupported))
	})

	DescribeTable("should report the capability announced on open",
		func(announced any, want device.Capability) {
			fullSync = announced
			s, err := newDriver().CreateSession(context.Background(), cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.(device.FullSyncCapability).FullSyncSupport()).To(Equal(want))
		},
		Entry("not announced", nil, device.CapabilityUnknown),
		Entry("supported", true, device.CapabilitySupported),
		Entry("unsupported", false, device.CapabilityUnsupported),
	)

	It("should surface open failures", func() {
		openError = true
		_, err := newDriver().CreateSession(context.Background(), cfg)
		Expect(err).To(MatchError(ContainSubstring("502")))
	})
})
