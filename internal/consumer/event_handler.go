package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/CyberwizD/Distributed-Notification-System/services/intimation_notifier/internal/models"
	"github.com/CyberwizD/Distributed-Notification-System/services/intimation_notifier/pkg/metrics"
)

// EventDispatcher applies a decoded event.
type EventDispatcher interface {
	Handle(ctx context.Context, evt *models.Event) error
}

// EventHandler decodes broker messages and passes them to the dispatcher.
// Messages that cannot be handled are logged and counted as dropped.
type EventHandler struct {
	dispatcher EventDispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewEventHandler(dispatcher EventDispatcher, metrics *metrics.Metrics, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger,
	}
}

// HandleMessage satisfies MessageHandler.
func (h *EventHandler) HandleMessage(ctx context.Context, body []byte) error {
	log := h.logger.With(slog.String("message_id", uuid.NewString()))

	evt, err := models.DecodeEvent(body)
	if err != nil {
		h.metrics.IncDropped(dropMalformed)
		log.Warn("dropping undecodable message", slog.Int("bytes", len(body)), slog.Any("error", err))
		return err
	}

	started := time.Now()
	if err := h.dispatcher.Handle(ctx, evt); err != nil {
		reason := dropReason(err)
		h.metrics.IncDropped(reason)
		log.Error("dropping event",
			slog.String("type", string(evt.Type)),
			slog.Int64("employee_id", evt.EmployeeID),
			slog.String("reason", reason),
			slog.Any("error", err),
		)
		return err
	}
	log.Debug("event handled", slog.String("type", string(evt.Type)), slog.Duration("took", time.Since(started)))
	return nil
}

const (
	dropMalformed        = "malformed"
	dropStoreUnavailable = "store_unavailable"
	dropUnknown          = "unknown"
)

func dropReason(err error) string {
	switch {
	case errors.Is(err, models.ErrStoreUnavailable):
		return dropStoreUnavailable
	case errors.Is(err, models.ErrMalformedEvent):
		return dropMalformed
	default:
		return dropUnknown
	}
}
