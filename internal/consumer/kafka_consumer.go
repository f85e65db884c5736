package consumer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaOptions configures the Kafka consumer group reader.
type KafkaOptions struct {
	Brokers     []string
	GroupID     string
	Topic       string
	WorkerCount int
}

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer reads the employee topic as part of a consumer group.
// Offsets are committed as soon as a message is fetched, so a message is
// handled at most once even when handling fails.
type KafkaConsumer struct {
	reader      messageReader
	handler     MessageHandler
	workerCount int
	logger      *slog.Logger
}

func NewKafkaConsumer(opts KafkaOptions, handler MessageHandler, logger *slog.Logger) (*KafkaConsumer, error) {
	if len(opts.Brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer requires at least one broker")
	}
	if opts.GroupID == "" {
		return nil, fmt.Errorf("kafka consumer requires group id")
	}
	if opts.Topic == "" {
		return nil, fmt.Errorf("kafka consumer requires a topic")
	}
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 5
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  opts.Brokers,
		GroupID:  opts.GroupID,
		Topic:    opts.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	return &KafkaConsumer{
		reader:      reader,
		handler:     handler,
		workerCount: opts.WorkerCount,
		logger:      logger.With(slog.String("broker", "kafka"), slog.String("topic", opts.Topic)),
	}, nil
}

func (c *KafkaConsumer) Start(ctx context.Context) error {
	// Fetched messages are already committed; let workers finish them
	// after shutdown starts.
	workCtx := context.WithoutCancel(ctx)

	msgs := make(chan kafka.Message, c.workerCount)
	var wg sync.WaitGroup
	for i := 0; i < c.workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range msgs {
				log := c.logger.With(slog.Int("partition", msg.Partition), slog.Int64("offset", msg.Offset))
				runHandler(workCtx, c.handler, msg.Value, log)
			}
		}()
	}
	defer func() {
		close(msgs)
		wg.Wait()
	}()

	c.logger.Info("consumer started", slog.Int("workers", c.workerCount))
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			c.logger.Warn("fetch failed", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Warn("commit failed", slog.Int64("offset", msg.Offset), slog.Any("error", err))
		}
		msgs <- msg
	}
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
