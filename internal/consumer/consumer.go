package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/CyberwizD/Distributed-Notification-System/services/intimation_notifier/internal/config"
)

// MessageHandler processes one raw broker message.
type MessageHandler func(ctx context.Context, body []byte) error

// Consumer pulls messages from a broker and feeds them to a MessageHandler
// until its context is cancelled.
type Consumer interface {
	Start(ctx context.Context) error
	Close() error
}

// New builds the consumer selected by cfg.BrokerType.
func New(cfg *config.Config, handler MessageHandler, logger *slog.Logger) (Consumer, error) {
	switch cfg.BrokerType {
	case config.BrokerKafka:
		return NewKafkaConsumer(KafkaOptions{
			Brokers:     cfg.KafkaBrokers,
			GroupID:     cfg.KafkaGroupID,
			Topic:       cfg.KafkaTopic,
			WorkerCount: cfg.WorkerCount,
		}, handler, logger)
	case config.BrokerRabbitMQ:
		return DialRabbitMQ(cfg.RabbitURL, RabbitOptions{
			Queue:       cfg.EventQueue,
			Exchange:    cfg.EventExchange,
			Prefetch:    cfg.PrefetchCount,
			WorkerCount: cfg.WorkerCount,
		}, handler, logger)
	default:
		return nil, fmt.Errorf("unsupported broker type %q", cfg.BrokerType)
	}
}

// runHandler shields the worker from a panicking handler.
func runHandler(ctx context.Context, handler MessageHandler, body []byte, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("message handler panicked", slog.Any("panic", r))
		}
	}()
	if err := handler(ctx, body); err != nil {
		logger.Debug("message handler returned error", slog.Any("error", err))
	}
}
