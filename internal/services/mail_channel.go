package services

import (
	"context"
	"fmt"
	"mime"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/CyberwizD/Distributed-Notification-System/services/intimation_notifier/internal/models"
)

// sendMailHook allows tests to override SMTP sending behavior.
var sendMailHook = smtp.SendMail

// MailChannel sends every notification to a fixed mailing list over SMTP.
type MailChannel struct {
	Host string
	Port int
	User string
	Pass string
	From string
	To   []string
}

func (m *MailChannel) Name() string {
	return "mail"
}

// Send mails the notification title as subject and the body as plain text.
// The SMTP exchange itself cannot be interrupted; ctx only bounds how long
// the caller waits for it.
func (m *MailChannel) Send(ctx context.Context, n models.RenderedNotification) error {
	if len(m.To) == 0 {
		return nil
	}

	var auth smtp.Auth
	if m.User != "" {
		auth = smtp.PlainAuth("", m.User, m.Pass, m.Host)
	}
	addr := m.Host + ":" + strconv.Itoa(m.Port)
	msg := m.message(n)

	done := make(chan error, 1)
	go func() {
		done <- sendMailHook(addr, auth, m.From, m.To, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: smtp %s: %w", models.ErrChannelSend, addr, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: smtp %s: %w", models.ErrChannelSend, addr, ctx.Err())
	}
}

func (m *MailChannel) message(n models.RenderedNotification) []byte {
	var b strings.Builder
	b.WriteString("From: " + m.From + "\r\n")
	b.WriteString("To: " + strings.Join(m.To, ",") + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", n.Title) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(n.Body)
	return []byte(b.String())
}
