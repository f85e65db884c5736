package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/CyberwizD/Distributed-Notification-System/services/intimation_notifier/internal/models"
	"github.com/CyberwizD/Distributed-Notification-System/services/intimation_notifier/pkg/metrics"
)

// PushChannel sends rendered notifications through a push provider, skipping
// tokens that were previously reported invalid.
type PushChannel struct {
	provider   PushProvider
	suppressor TokenSuppressor
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewPushChannel builds a push channel. suppressor may be nil.
func NewPushChannel(provider PushProvider, suppressor TokenSuppressor, metrics *metrics.Metrics, logger *slog.Logger) *PushChannel {
	return &PushChannel{
		provider:   provider,
		suppressor: suppressor,
		metrics:    metrics,
		logger:     logger,
	}
}

func (c *PushChannel) Name() string {
	return "push"
}

func (c *PushChannel) Send(ctx context.Context, n models.RenderedNotification, data map[string]string, tokens []string) error {
	active := c.filterTokens(ctx, tokens)
	if len(active) == 0 {
		c.logger.Debug("no active push tokens", slog.Int64("employee_id", n.RecipientEmployeeID))
		return nil
	}

	results, err := c.provider.Send(ctx, &PushPayload{
		Tokens: active,
		Title:  n.Title,
		Body:   n.Body,
		Data:   data,
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", models.ErrChannelSend, c.provider.Name(), err)
	}
	return c.handleResults(ctx, results)
}

// filterTokens drops suppressed tokens. The suppression cache is advisory:
// when it cannot be read every token is used.
func (c *PushChannel) filterTokens(ctx context.Context, tokens []string) []string {
	if c.suppressor == nil || len(tokens) == 0 {
		return tokens
	}
	active, err := c.suppressor.FilterSuppressed(ctx, tokens)
	if err != nil {
		c.logger.Warn("token suppression lookup failed", slog.Any("error", err))
		return tokens
	}
	return active
}

func (c *PushChannel) handleResults(ctx context.Context, results []models.PushResult) error {
	var failures []string
	for _, res := range results {
		if res.Status == models.ResultDelivered {
			continue
		}
		failures = append(failures, res.Error)
		if c.suppressor != nil && isTokenFatal(res.Error) {
			if err := c.suppressor.SuppressToken(ctx, res.Token); err != nil {
				c.logger.Warn("failed to suppress token", slog.Any("error", err))
				continue
			}
			c.metrics.IncSuppressed()
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("%w: %s rejected %d of %d tokens: %s",
			models.ErrChannelSend, c.provider.Name(), len(failures), len(results), strings.Join(failures, ", "))
	}
	return nil
}
