package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/CyberwizD/Distributed-Notification-System/services/intimation_notifier/internal/models"
)

// FCMProvider sends notifications via the Firebase Cloud Messaging HTTP API.
type FCMProvider struct {
	serverKey string
	endpoint  string
	client    *http.Client
	logger    *slog.Logger
}

func NewFCMProvider(serverKey, endpoint string, timeout time.Duration, logger *slog.Logger) *FCMProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FCMProvider{
		serverKey: serverKey,
		endpoint:  endpoint,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

func (p *FCMProvider) Name() string {
	return "fcm"
}

type fcmRequest struct {
	RegistrationIDs []string          `json:"registration_ids"`
	Priority        string            `json:"priority"`
	Notification    fcmNotification   `json:"notification"`
	Data            map[string]string `json:"data,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		MessageID string `json:"message_id"`
		Error     string `json:"error"`
	} `json:"results"`
}

// Send posts one multicast message and maps the per-token results back onto
// the tokens in request order.
func (p *FCMProvider) Send(ctx context.Context, payload *PushPayload) ([]models.PushResult, error) {
	regIDs := make([]string, 0, len(payload.Tokens))
	for _, token := range payload.Tokens {
		if token != "" {
			regIDs = append(regIDs, token)
		}
	}
	if len(regIDs) == 0 {
		return nil, fmt.Errorf("fcm: no tokens supplied")
	}

	body, err := json.Marshal(fcmRequest{
		RegistrationIDs: regIDs,
		Priority:        "high",
		Notification:    fcmNotification{Title: payload.Title, Body: payload.Body},
		Data:            payload.Data,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+p.serverKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fcm: received status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var fcmResp fcmResponse
	if err := json.NewDecoder(resp.Body).Decode(&fcmResp); err != nil {
		return nil, fmt.Errorf("fcm: decode response: %w", err)
	}
	p.logger.Debug("fcm multicast sent",
		slog.Int("tokens", len(regIDs)),
		slog.Int("success", fcmResp.Success),
		slog.Int("failure", fcmResp.Failure),
	)

	results := make([]models.PushResult, 0, len(fcmResp.Results))
	for idx, res := range fcmResp.Results {
		token := ""
		if idx < len(regIDs) {
			token = regIDs[idx]
		}
		status := models.ResultDelivered
		if res.Error != "" {
			status = models.ResultFailed
		}
		results = append(results, models.PushResult{
			Token:     token,
			Provider:  p.Name(),
			Status:    status,
			MessageID: res.MessageID,
			Error:     res.Error,
		})
	}
	return results, nil
}

func isTokenFatal(err string) bool {
	switch err {
	case "NotRegistered", "InvalidRegistration", "MismatchSenderId":
		return true
	default:
		return false
	}
}
