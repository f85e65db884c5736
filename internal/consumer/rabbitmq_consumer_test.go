package consumer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CyberwizD/Distributed-Notification-System/services/intimation_notifier/internal/models"
	"github.com/CyberwizD/Distributed-Notification-System/services/intimation_notifier/pkg/logger"
	"github.com/CyberwizD/Distributed-Notification-System/services/intimation_notifier/pkg/metrics"
)

type fakeAcknowledger struct {
	mu       sync.Mutex
	acked    []uint64
	nacked   []uint64
	rejected []uint64
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = append(a.nacked, tag)
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejected = append(a.rejected, tag)
	return nil
}

func deliveries(ack amqp.Acknowledger, bodies ...string) chan amqp.Delivery {
	ch := make(chan amqp.Delivery, len(bodies))
	for i, body := range bodies {
		ch <- amqp.Delivery{Acknowledger: ack, DeliveryTag: uint64(i + 1), Body: []byte(body)}
	}
	return ch
}

func TestRabbitMQConsumerAcksFailedEvents(t *testing.T) {
	ack := &fakeAcknowledger{}
	d := &fakeDispatcher{err: fmt.Errorf("%w: load tokens: timeout", models.ErrStoreUnavailable)}
	h := NewEventHandler(d, metrics.New(), logger.Discard())
	c := NewRabbitMQConsumer(nil, RabbitOptions{Queue: "notifier.employee.events", WorkerCount: 2}, h.HandleMessage, logger.Discard())

	ch := deliveries(ack,
		`{"type":"IntimationCreatedKafkaEvent","id":7,"reason":"doctor visit"}`,
		`{"type":"EmployeeDeletedKafkaEvent","id":3}`,
		`not json`,
	)
	close(ch)

	err := c.consume(context.Background(), ch)

	assert.ErrorContains(t, err, "delivery channel closed")
	assert.ElementsMatch(t, []uint64{1, 2, 3}, ack.acked)
	assert.Empty(t, ack.nacked)
	assert.Empty(t, ack.rejected)
	assert.Len(t, d.events, 2)
}

func TestRabbitMQConsumerAcksAfterPanic(t *testing.T) {
	ack := &fakeAcknowledger{}
	c := NewRabbitMQConsumer(nil, RabbitOptions{Queue: "q", WorkerCount: 1}, func(context.Context, []byte) error {
		panic("boom")
	}, logger.Discard())

	c.handle(context.Background(), amqp.Delivery{Acknowledger: ack, DeliveryTag: 42, Body: []byte("{}")})

	assert.Equal(t, []uint64{42}, ack.acked)
}

func TestRabbitMQConsumerStopsOnCancel(t *testing.T) {
	c := NewRabbitMQConsumer(nil, RabbitOptions{Queue: "q"}, noopHandler, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.consume(ctx, make(chan amqp.Delivery)) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}
