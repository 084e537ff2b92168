package bridge_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/timeclock/internal/bridge"
	"procodus.dev/timeclock/internal/device"
	"procodus.dev/timeclock/pkg/logger"
)

var _ = Describe("Bridge Server", func() {
	var (
		ctx     context.Context
		sim     *device.SimulatedDriver
		server  *bridge.Server
		httpSrv *httptest.Server
		client  *device.BridgeDriver
		cfg     device.Config
		full    device.Capability
	)

	BeforeEach(func() {
		ctx = context.Background()
		full = device.CapabilitySupported
		cfg = device.Config{DeviceID: "gate", IP: "10.1.1.20", Timeout: 2 * time.Second}.WithDefaults()
	})

	JustBeforeEach(func() {
		now := time.Date(2024, 3, 6, 18, 0, 0, 0, time.UTC)
		var err error
		sim, err = device.NewSimulatedDriver(&device.SimulatedConfig{
			Seed:        7,
			Users:       20,
			HistoryDays: 2,
			FullSync:    full,
			Location:    time.UTC,
			Logger:      logger.Discard(),
			Now:         func() time.Time { return now },
		})
		Expect(err).NotTo(HaveOccurred())

		server, err = bridge.NewServer(&bridge.ServerConfig{Logger: logger.Discard(), Driver: sim, HTTPPort: 8090})
		Expect(err).NotTo(HaveOccurred())
		httpSrv = httptest.NewServer(server.Handler())
		DeferCleanup(httpSrv.Close)

		client, err = device.NewBridgeDriver(&device.BridgeConfig{BaseURL: httpSrv.URL, Logger: logger.Discard()})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewServer", func() {
		It("should reject a nil config", func() {
			_, err := bridge.NewServer(nil)
			Expect(err).To(MatchError("server config cannot be nil"))
		})

		DescribeTable("invalid configurations",
			func(cfg *bridge.ServerConfig, msg string) {
				_, err := bridge.NewServer(cfg)
				Expect(err).To(MatchError(msg))
			},
			Entry("no logger", &bridge.ServerConfig{HTTPPort: 1}, "logger cannot be nil"),
			Entry("no driver", &bridge.ServerConfig{Logger: logger.Discard(), HTTPPort: 1}, "device driver cannot be nil"),
		)

		It("should require a positive port", func() {
			_, err := bridge.NewServer(&bridge.ServerConfig{Logger: logger.Discard(), Driver: sim})
			Expect(err).To(MatchError("HTTP port must be positive"))
		})
	})

	It("should serve a simulated terminal to the bridge driver", func() {
		session, err := client.CreateSession(ctx, cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(server.OpenSessions()).To(Equal(1))

		capable, ok := session.(device.FullSyncCapability)
		Expect(ok).To(BeTrue())
		Expect(capable.FullSyncSupport()).To(Equal(device.CapabilitySupported))

		info, err := session.Info(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.UserCount).To(Equal(20))

		users, err := session.Users(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(users).To(HaveLen(20))

		logs, err := session.AttendanceLogs(ctx, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(logs).NotTo(BeEmpty())

		again, err := session.AttendanceLogs(ctx, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(again).To(BeEmpty())

		all, err := session.AttendanceLogs(ctx, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveLen(len(logs)))

		Expect(session.Close()).To(Succeed())
		Expect(server.OpenSessions()).To(BeZero())
	})

	Context("when the terminal rejects full sync", func() {
		BeforeEach(func() {
			full = device.CapabilityUnsupported
		})

		It("should surface the rejection to the driver", func() {
			session, err := client.CreateSession(ctx, cfg)
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = session.Close() }()

			_, err = session.AttendanceLogs(ctx, true)
			Expect(err).To(MatchError(device.ErrFullSyncUnsupported))
		})
	})

	It("should answer 404 for an unknown session", func() {
		res, err := http.Get(httpSrv.URL + "/sessions/nope/info")
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = res.Body.Close() }()
		Expect(res.StatusCode).To(Equal(http.StatusNotFound))
	})

	It("should close held sessions on shutdown", func() {
		_, err := client.CreateSession(ctx, cfg)
		Expect(err).NotTo(HaveOccurred())

		Expect(server.Shutdown()).To(Succeed())
		Expect(server.OpenSessions()).To(BeZero())
	})
})
