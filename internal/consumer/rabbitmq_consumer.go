package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"
)

// RabbitOptions configures queue declaration and worker handling.
type RabbitOptions struct {
	Queue       string
	Exchange    string
	Prefetch    int
	WorkerCount int
}

// RabbitMQConsumer consumes employee events from a durable queue. When an
// exchange is configured the queue is bound to it for every routing key.
// Deliveries are acked whatever the handler returns; nothing is requeued.
type RabbitMQConsumer struct {
	conn        *amqp.Connection
	queue       string
	exchange    string
	prefetch    int
	workerCount int
	handler     MessageHandler
	logger      *slog.Logger
}

// DialRabbitMQ connects to the broker and returns a consumer for opts.Queue.
func DialRabbitMQ(url string, opts RabbitOptions, handler MessageHandler, logger *slog.Logger) (*RabbitMQConsumer, error) {
	if url == "" {
		return nil, fmt.Errorf("rabbitmq consumer requires a url")
	}
	if opts.Queue == "" {
		return nil, fmt.Errorf("rabbitmq consumer requires a queue")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	return NewRabbitMQConsumer(conn, opts, handler, logger), nil
}

func NewRabbitMQConsumer(conn *amqp.Connection, opts RabbitOptions, handler MessageHandler, logger *slog.Logger) *RabbitMQConsumer {
	if opts.Prefetch <= 0 {
		opts.Prefetch = 50
	}
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 5
	}
	return &RabbitMQConsumer{
		conn:        conn,
		queue:       opts.Queue,
		exchange:    opts.Exchange,
		prefetch:    opts.Prefetch,
		workerCount: opts.WorkerCount,
		handler:     handler,
		logger:      logger.With(slog.String("broker", "rabbitmq"), slog.String("queue", opts.Queue)),
	}
}

func (c *RabbitMQConsumer) Start(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := c.setupQueue(ch); err != nil {
		return fmt.Errorf("queue setup failed: %w", err)
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("qos configuration failed: %w", err)
	}

	deliveries, err := ch.Consume(
		c.queue,
		"",
		false, // autoAck
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	c.logger.Info("consumer started", slog.Int("workers", c.workerCount))
	return c.consume(ctx, deliveries)
}

// consume runs the worker pool until ctx is done or the broker closes the
// delivery channel.
func (c *RabbitMQConsumer) consume(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	workCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	for i := 0; i < c.workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-deliveries:
					if !ok {
						return
					}
					c.handle(workCtx, msg)
				}
			}
		}()
	}

	stopped := make(chan struct{})
	go func() {
		wg.Wait()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		<-stopped
		return nil
	case <-stopped:
		if ctx.Err() != nil {
			return nil
		}
		return errors.New("rabbitmq delivery channel closed")
	}
}

func (c *RabbitMQConsumer) handle(ctx context.Context, msg amqp.Delivery) {
	runHandler(ctx, c.handler, msg.Body, c.logger.With(slog.Uint64("delivery_tag", msg.DeliveryTag)))
	if err := msg.Ack(false); err != nil {
		c.logger.Warn("ack failed", slog.Any("error", err))
	}
}

func (c *RabbitMQConsumer) setupQueue(ch *amqp.Channel) error {
	if _, err := ch.QueueDeclare(
		c.queue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return err
	}
	if c.exchange == "" {
		return nil
	}

	if err := ch.ExchangeDeclare(
		c.exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return err
	}
	return ch.QueueBind(
		c.queue,
		"#",
		c.exchange,
		false,
		nil,
	)
}

func (c *RabbitMQConsumer) Close() error {
	return c.conn.Close()
}
