package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/smtp"
	"time"

	"github.com/admincore/admincore/internal/models"
)

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// httpSender posts a channel-shaped JSON payload to the recipient URL.
type httpSender struct {
	client *http.Client
	build  func(alert *models.SystemAlert, kind models.AlertKind) any
}

func (s *httpSender) Send(ctx context.Context, n *models.AlertNotification, alert *models.SystemAlert, kind models.AlertKind) error {
	body, err := json.Marshal(s.build(alert, kind))
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.Recipient, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "AdminCore-Notifier/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d from webhook", resp.StatusCode)
	}
	return nil
}

// SMTPConfig is the outbound mail relay. A nil config downgrades email
// delivery to a log line, which keeps development environments quiet.
type SMTPConfig struct {
	Host string
	Port int
	From string
	User string
	Pass string
}

type emailSender struct {
	cfg *SMTPConfig
	log *slog.Logger
}

func (s *emailSender) Send(ctx context.Context, n *models.AlertNotification, alert *models.SystemAlert, kind models.AlertKind) error {
	if s.cfg == nil || s.cfg.Host == "" {
		s.log.Info("email relay not configured, logging notification",
			"recipient", n.Recipient, "subject", n.Subject)
		return nil
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		s.cfg.From, n.Recipient, n.Subject, n.Message)
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.User != "" {
		auth = smtp.PlainAuth("", s.cfg.User, s.cfg.Pass, s.cfg.Host)
	}
	if err := smtp.SendMail(addr, auth, s.cfg.From, []string{n.Recipient}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// smsSender has no provider wired; it logs the message so the delivery row
// still settles. Plug a real provider in through Dispatcher.Register.
type smsSender struct {
	log *slog.Logger
}

func (s *smsSender) Send(ctx context.Context, n *models.AlertNotification, alert *models.SystemAlert, kind models.AlertKind) error {
	s.log.Info("sms provider not configured, logging notification",
		"recipient", n.Recipient, "message", n.Message)
	return nil
}
