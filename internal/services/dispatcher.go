package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/CyberwizD/Distributed-Notification-System/services/intimation_notifier/internal/models"
	"github.com/CyberwizD/Distributed-Notification-System/services/intimation_notifier/pkg/metrics"
)

// TokenRegistry is the part of the token store the dispatcher needs.
type TokenRegistry interface {
	LoadAll(ctx context.Context) ([]models.TokenRecord, error)
	Insert(ctx context.Context, employeeID int64, name string) error
	Remove(ctx context.Context, employeeID int64) error
}

// Timeouts bound the store calls made while handling an event and each
// asynchronous channel send.
type Timeouts struct {
	Store time.Duration
	Send  time.Duration
}

// Dispatcher applies employee events to the registry and fans intimation
// events out to the push and mail channels. It keeps no per-event state, so
// Handle may be called from many goroutines at once.
type Dispatcher struct {
	registry TokenRegistry
	renderer *Renderer
	push     PushSender
	mail     MailSender
	metrics  *metrics.Metrics
	logger   *slog.Logger
	timeouts Timeouts

	inflight sync.WaitGroup
}

// NewDispatcher wires a dispatcher. mail may be nil when no mailing list is configured.
func NewDispatcher(
	registry TokenRegistry,
	renderer *Renderer,
	push PushSender,
	mail MailSender,
	metrics *metrics.Metrics,
	logger *slog.Logger,
	timeouts Timeouts,
) *Dispatcher {
	if timeouts.Store <= 0 {
		timeouts.Store = 5 * time.Second
	}
	if timeouts.Send <= 0 {
		timeouts.Send = 10 * time.Second
	}
	return &Dispatcher{
		registry: registry,
		renderer: renderer,
		push:     push,
		mail:     mail,
		metrics:  metrics,
		logger:   logger,
		timeouts: timeouts,
	}
}

// Handle processes one decoded event. Returned errors are ErrStoreUnavailable
// from the registry; channel failures never surface here.
func (d *Dispatcher) Handle(ctx context.Context, evt *models.Event) error {
	if !evt.Type.Known() {
		d.logger.Debug("ignoring event", slog.String("type", string(evt.Type)))
		return nil
	}

	started := time.Now()
	d.metrics.IncConsumed(string(evt.Type))
	defer func() { d.metrics.ObserveHandle(string(evt.Type), time.Since(started)) }()

	log := d.logger.With(
		slog.String("type", string(evt.Type)),
		slog.Int64("employee_id", evt.EmployeeID),
	)

	switch {
	case evt.Type == models.EventEmployeeAdded:
		storeCtx, cancel := context.WithTimeout(ctx, d.timeouts.Store)
		defer cancel()
		if err := d.registry.Insert(storeCtx, evt.EmployeeID, evt.Name); err != nil {
			return err
		}
		log.Info("employee registered")
		return nil

	case evt.Type == models.EventEmployeeDeleted, evt.Type == models.EventEmployeeTerminated:
		storeCtx, cancel := context.WithTimeout(ctx, d.timeouts.Store)
		defer cancel()
		if err := d.registry.Remove(storeCtx, evt.EmployeeID); err != nil {
			return err
		}
		log.Info("employee removed")
		return nil

	case evt.Type.IsIntimation():
		if evt.Intimation == nil {
			return fmt.Errorf("%w: %s without intimation body", models.ErrMalformedEvent, evt.Type)
		}
		return d.dispatchIntimation(ctx, evt.Intimation, log)
	}
	return nil
}

func (d *Dispatcher) dispatchIntimation(ctx context.Context, evt *models.IntimationEvent, log *slog.Logger) error {
	storeCtx, cancel := context.WithTimeout(ctx, d.timeouts.Store)
	records, err := d.registry.LoadAll(storeCtx)
	cancel()
	if err != nil {
		return err
	}

	recipients := BuildRecipients(records, evt.EmployeeID)

	var n models.RenderedNotification
	if evt.Kind == models.IntimationCancelled {
		n = d.renderer.RenderCancellation(evt, recipients.ActorName)
	} else {
		n = d.renderer.RenderIntimation(evt, recipients.ActorName)
	}
	data := notificationData(evt, recipients.Names[evt.EmployeeID])

	log.Info("dispatching notification",
		slog.String("title", n.Title),
		slog.Int("push_tokens", len(recipients.Tokens)),
	)

	if len(recipients.Tokens) > 0 {
		tokens := recipients.Tokens
		d.sendAsync(ctx, d.push.Name(), log, func(ctx context.Context) error {
			return d.push.Send(ctx, n, data, tokens)
		})
	}
	if d.mail != nil {
		d.sendAsync(ctx, d.mail.Name(), log, func(ctx context.Context) error {
			return d.mail.Send(ctx, n)
		})
	}
	return nil
}

// sendAsync runs a channel send without blocking the caller. The send gets
// its own deadline and outlives cancellation of the event context.
func (d *Dispatcher) sendAsync(ctx context.Context, channel string, log *slog.Logger, send func(context.Context) error) {
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				d.metrics.IncChannelSend(channel, "failed")
				log.Error("channel send panicked", slog.String("channel", channel), slog.Any("panic", r))
			}
		}()

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeouts.Send)
		defer cancel()

		if err := send(sendCtx); err != nil {
			d.metrics.IncChannelSend(channel, "failed")
			log.Error("channel send failed", slog.String("channel", channel), slog.Any("error", err))
			return
		}
		d.metrics.IncChannelSend(channel, "sent")
	}()
}

// Wait blocks until in-flight channel sends finish or ctx is done. When ctx
// ends first the helper goroutine stays until the remaining sends return,
// each bounded by the send timeout.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// notificationData is the structured payload attached to push messages.
func notificationData(evt *models.IntimationEvent, name string) map[string]string {
	requests := evt.Requests
	if requests == nil {
		requests = []models.IntimationRequest{}
	}
	encoded, err := json.Marshal(requests)
	if err != nil {
		encoded = []byte("[]")
	}

	lastModified := ""
	if !evt.LastModified.IsZero() {
		lastModified = evt.LastModified.Format(time.RFC3339)
	}
	return map[string]string{
		"empId":        strconv.FormatInt(evt.EmployeeID, 10),
		"empName":      name,
		"reason":       evt.Reason,
		"lastModified": lastModified,
		"requests":     string(encoded),
		"kind":         string(evt.Kind),
	}
}
