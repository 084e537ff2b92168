package server_test

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
	"procodus.dev/timeclock/internal/server"
	"procodus.dev/timeclock/pkg/logger"
	"procodus.dev/timeclock/pkg/metrics"
	"procodus.dev/timeclock/pkg/mq/mock"
)

type fakeIngester struct {
	mu     sync.Mutex
	events []punch.Event
	err    error
}

func (f *fakeIngester) Ingest(_ context.Context, events []punch.Event) (attendance.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return attendance.IngestResult{}, f.err
	}
	f.events = append(f.events, events...)
	return attendance.IngestResult{Received: len(events), Inserted: len(events)}, nil
}

func (f *fakeIngester) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func sampleBatch() []byte {
	at := time.Date(2024, 3, 4, 2, 40, 0, 0, time.UTC)
	data, err := punch.MarshalBatch(punch.NewBatch("gate", []punch.Event{
		{EmployeeRef: "1", OccurredAt: at, Direction: punch.In, SourceDeviceID: "gate"},
		{EmployeeRef: "1", OccurredAt: at.Add(9 * time.Hour), Direction: punch.Out, SourceDeviceID: "gate"},
	}))
	Expect(err).NotTo(HaveOccurred())
	return data
}

var _ = Describe("Consumer", func() {
	var (
		ctx      context.Context
		cancel   context.CancelFunc
		client   *mock.MockClient
		ingester *fakeIngester
		m        *metrics.MQMetrics
		consumer *server.Consumer
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		client = mock.NewMockClient()
		ingester = &fakeIngester{}
		m = metrics.NewMQMetrics(prometheus.NewRegistry())

		var err error
		consumer, err = server.NewConsumer(&server.ConsumerConfig{
			Logger:       logger.Discard(),
			Client:       client,
			Ingester:     ingester,
			QueueName:    "punches",
			Metrics:      m,
			StartTimeout: 200 * time.Millisecond,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		cancel()
	})

	Describe("NewConsumer", func() {
		It("should reject a nil config", func() {
			_, err := server.NewConsumer(nil)
			Expect(err).To(MatchError("consumer config cannot be nil"))
		})

		It("should require a logger, client and ingester", func() {
			_, err := server.NewConsumer(&server.ConsumerConfig{Client: client, Ingester: ingester})
			Expect(err).To(MatchError("logger cannot be nil"))

			_, err = server.NewConsumer(&server.ConsumerConfig{Logger: logger.Discard(), Ingester: ingester})
			Expect(err).To(MatchError("mq client cannot be nil"))

			_, err = server.NewConsumer(&server.ConsumerConfig{Logger: logger.Discard(), Client: client})
			Expect(err).To(MatchError("ingester cannot be nil"))
		})
	})

	Context("when started", func() {
		JustBeforeEach(func() {
			Expect(consumer.Start(ctx)).To(Succeed())
		})

		It("should ingest a batch and ack it", func() {
			ack := &mock.Acknowledger{}
			client.Deliver(sampleBatch(), ack)

			Eventually(ingester.count).Should(Equal(2))
			Eventually(func() int { acks, _ := ack.Counts(); return acks }).Should(Equal(1))
			Eventually(func() float64 {
				return testutil.ToFloat64(m.BatchesIngested.WithLabelValues("punches"))
			}).Should(Equal(1.0))
			Eventually(func() int { return testutil.CollectAndCount(m.EventsPerBatch) }).Should(Equal(1))
		})

		It("should ack and drop an undecodable batch", func() {
			ack := &mock.Acknowledger{}
			client.Deliver([]byte("not a batch"), ack)

			Eventually(func() int { acks, _ := ack.Counts(); return acks }).Should(Equal(1))
			Expect(ingester.count()).To(BeZero())
			Expect(testutil.ToFloat64(m.BatchFailures.WithLabelValues("punches", "decode"))).To(Equal(1.0))
		})

		Context("and ingestion fails", func() {
			BeforeEach(func() {
				ingester.err = errors.New("database unavailable")
			})

			It("should requeue the batch", func() {
				ack := &mock.Acknowledger{}
				client.Deliver(sampleBatch(), ack)

				Eventually(func() int { _, nacks := ack.Counts(); return nacks }).Should(Equal(1))
				Expect(ack.Requeue).To(Equal(1))
				Expect(testutil.ToFloat64(m.BatchFailures.WithLabelValues("punches", "ingest"))).To(Equal(1.0))
			})
		})

		It("should close the client on stop", func() {
			cancel()
			Expect(consumer.Stop()).To(Succeed())
			Expect(client.CloseCalls).To(Equal(1))
		})
	})

	It("should fail to start when the queue cannot be consumed", func() {
		client.ConsumeError = errors.New("channel closed")
		Expect(consumer.Start(ctx)).To(MatchError(ContainSubstring("failed to start consuming")))
		Expect(client.ConsumeCalls).To(BeNumerically(">=", 1))
	})
})
