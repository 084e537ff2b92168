package logger_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/timeclock/pkg/logger"
)

var _ = Describe("Logger", func() {
	decode := func(buf *bytes.Buffer) map[string]interface{} {
		var entry map[string]interface{}
		Expect(json.Unmarshal(buf.Bytes(), &entry)).To(Succeed())
		return entry
	}

	Describe("New", func() {
		It("should fall back to defaults with a nil config", func() {
			Expect(logger.New(nil)).NotTo(BeNil())
		})

		It("should emit JSON with the standard keys", func() {
			buf := &bytes.Buffer{}
			log := logger.New(&logger.Config{Level: slog.LevelInfo, Output: buf})

			log.Info("sync finished", "device_id", "dev-1", "records", 12)

			entry := decode(buf)
			Expect(entry).To(HaveKey("time"))
			Expect(entry).To(HaveKeyWithValue("level", "INFO"))
			Expect(entry).To(HaveKeyWithValue("msg", "sync finished"))
			Expect(entry).To(HaveKeyWithValue("records", float64(12)))
		})
	})

	Describe("ParseLevel", func() {
		DescribeTable("should parse level strings",
			func(input string, expected slog.Level) {
				Expect(logger.ParseLevel(input)).To(Equal(expected))
			},
			Entry("debug", "debug", slog.LevelDebug),
			Entry("upper case", "DEBUG", slog.LevelDebug),
			Entry("info", "info", slog.LevelInfo),
			Entry("warn", "warn", slog.LevelWarn),
			Entry("warning", "warning", slog.LevelWarn),
			Entry("error", "error", slog.LevelError),
			Entry("invalid defaults to info", "verbose", slog.LevelInfo),
			Entry("empty defaults to info", "", slog.LevelInfo),
		)
	})

	Describe("level filtering", func() {
		It("should drop records below the configured level", func() {
			buf := &bytes.Buffer{}
			log := logger.New(&logger.Config{Level: slog.LevelWarn, Output: buf})

			log.Info("ignored")
			Expect(strings.TrimSpace(buf.String())).To(BeEmpty())

			log.Warn("kept")
			Expect(buf.String()).To(ContainSubstring("kept"))
		})
	})

	Describe("context helpers", func() {
		It("should tag records with component and device", func() {
			buf := &bytes.Buffer{}
			base := logger.New(&logger.Config{Level: slog.LevelInfo, Output: buf})

			logger.WithDevice(logger.WithComponent(base, "registry"), "gate-1").Info("connected")

			entry := decode(buf)
			Expect(entry).To(HaveKeyWithValue("component", "registry"))
			Expect(entry).To(HaveKeyWithValue("device_id", "gate-1"))
		})
	})

	Describe("Discard", func() {
		It("should not panic when logging at any level", func() {
			log := logger.Discard()
			Expect(func() { log.Error("nothing to see") }).NotTo(Panic())
		})
	})
})
