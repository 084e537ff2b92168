package mq_test

import (
	"context"
	"log/slog"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/timeclock/pkg/mq"
)

var _ = Describe("MQ Client", func() {
	var logger *slog.Logger

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	})

	newClient := func(url string) *mq.Client {
		client, err := mq.New(&mq.Config{
			URL:       url,
			QueueName: "attendance-events",
			Logger:    logger,
		})
		Expect(err).NotTo(HaveOccurred())
		return client
	}

	Describe("New", func() {
		It("should create a new client instance", func() {
			client := newClient("amqp://localhost:5672")
			Expect(client).NotTo(BeNil())
			Expect(client.QueueName()).To(Equal("attendance-events"))
			_ = client.Close()
		})

		DescribeTable("should reject invalid configuration",
			func(cfg *mq.Config, msg string) {
				client, err := mq.New(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring(msg))
				Expect(client).To(BeNil())
			},
			Entry("nil config", nil, "config cannot be nil"),
			Entry("nil logger", &mq.Config{URL: "amqp://x", QueueName: "q"}, "logger cannot be nil"),
			Entry("empty queue", &mq.Config{URL: "amqp://x", Logger: slog.Default()}, "queue name"),
			Entry("empty url", &mq.Config{QueueName: "q", Logger: slog.Default()}, "broker url"),
		)
	})

	Context("when not connected", func() {
		var client *mq.Client

		BeforeEach(func() {
			client = newClient("amqp://invalid:5672")
			time.Sleep(100 * time.Millisecond)
		})

		AfterEach(func() {
			_ = client.Close()
		})

		It("should stop retrying Push when the context expires", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
			defer cancel()

			start := time.Now()
			err := client.Push(ctx, []byte("batch"))
			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(time.Since(start)).To(BeNumerically(">=", 100*time.Millisecond))
		})

		It("should give up after max retry attempts", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			start := time.Now()
			err := client.Push(ctx, []byte("batch"))
			elapsed := time.Since(start)

			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("maximum retry attempts exceeded"))
			// 100ms + 200ms + 400ms + 800ms + 1600ms
			Expect(elapsed).To(BeNumerically(">=", 3*time.Second))
			Expect(elapsed).To(BeNumerically("<", 10*time.Second))
		})

		It("should fail UnsafePush immediately", func() {
			err := client.UnsafePush(context.Background(), []byte("batch"))
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("not connected"))
		})

		It("should fail Consume", func() {
			_, err := client.Consume()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("not connected"))
		})

		It("should report already closed on Close", func() {
			err := client.Close()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("already closed"))
		})

		It("should return shutdown error to a pending Push once closed", func() {
			errCh := make(chan error, 1)
			go func() {
				errCh <- client.Push(context.Background(), []byte("batch"))
			}()

			time.Sleep(50 * time.Millisecond)
			_ = client.Close()

			var err error
			Eventually(errCh, 2*time.Second).Should(Receive(&err))
			Expect(err.Error()).To(ContainSubstring("shutting down"))
		})

		It("should tolerate concurrent Close calls", func() {
			done := make(chan bool, 3)
			for i := 0; i < 3; i++ {
				go func() {
					_ = client.Close()
					done <- true
				}()
			}
			for i := 0; i < 3; i++ {
				Eventually(done).Should(Receive())
			}
		})
	})
})
