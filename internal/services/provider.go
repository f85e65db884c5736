package services

import (
	"context"

	"github.com/CyberwizD/Distributed-Notification-System/services/intimation_notifier/internal/models"
)

// PushPayload is the fully rendered payload handed to a provider.
type PushPayload struct {
	Tokens []string
	Title  string
	Body   string
	Data   map[string]string
}

// PushProvider represents a downstream push provider (FCM, OneSignal, etc).
type PushProvider interface {
	Name() string
	Send(ctx context.Context, payload *PushPayload) ([]models.PushResult, error)
}

// PushSender delivers a rendered notification to device tokens.
type PushSender interface {
	Name() string
	Send(ctx context.Context, n models.RenderedNotification, data map[string]string, tokens []string) error
}

// MailSender delivers a rendered notification to the configured mailing list.
type MailSender interface {
	Name() string
	Send(ctx context.Context, n models.RenderedNotification) error
}

// TokenSuppressor tracks tokens the provider has rejected for good.
type TokenSuppressor interface {
	FilterSuppressed(ctx context.Context, tokens []string) ([]string, error)
	SuppressToken(ctx context.Context, token string) error
}
