package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"yoyaku/backend/internal/domain"
)

// SMTPEmailSender delivers to the shop's configured recipient list over a
// single SMTP relay.
type SMTPEmailSender struct {
	Addr string
	From string
	Auth smtp.Auth
}

func (s *SMTPEmailSender) Send(ctx context.Context, d domain.NotificationDelivery) (int, error) {
	recipients := d.ChannelConfig.EmailRecipients
	if len(recipients) == 0 {
		return 0, errors.New("no email recipients configured")
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", s.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(recipients, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", d.Subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(d.Body)
	msg.WriteString("\r\n")

	if err := smtp.SendMail(s.Addr, s.Auth, s.From, recipients, msg.Bytes()); err != nil {
		return 0, err
	}
	return 250, nil
}

// SlackWebhookSender posts the message to the webhook URL snapshotted on the
// delivery.
type SlackWebhookSender struct {
	Client *http.Client
}

func (s *SlackWebhookSender) Send(ctx context.Context, d domain.NotificationDelivery) (int, error) {
	url := d.ChannelConfig.SlackWebhookURL
	if url == "" {
		return 0, errors.New("no slack webhook configured")
	}

	payload, err := json.Marshal(map[string]string{
		"text": d.Subject + "\n" + d.Body,
	})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client().Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (s *SlackWebhookSender) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return http.DefaultClient
}

const defaultLinePushEndpoint = "https://api.line.me/v2/bot/message/push"

// LineSender pushes through the LINE Messaging API using the channel token
// snapshotted on the delivery.
type LineSender struct {
	Client   *http.Client
	Endpoint string
}

func (s *LineSender) Send(ctx context.Context, d domain.NotificationDelivery) (int, error) {
	cfg := d.ChannelConfig
	if cfg.LineToken == "" {
		return 0, errors.New("no line token configured")
	}

	payload, err := json.Marshal(map[string]any{
		"to": cfg.LineTo,
		"messages": []map[string]string{
			{"type": "text", "text": d.Subject + "\n" + d.Body},
		},
	})
	if err != nil {
		return 0, err
	}

	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = defaultLinePushEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.LineToken)

	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("line push returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// LogSender is the always-on sink for environments without external
// channels. It cannot fail.
type LogSender struct {
	Log *slog.Logger
}

func (s *LogSender) Send(ctx context.Context, d domain.NotificationDelivery) (int, error) {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("notification",
		slog.String("reservation_id", d.ReservationID.String()),
		slog.String("event", string(d.Event)),
		slog.String("subject", d.Subject),
		slog.String("body", d.Body),
	)
	return 200, nil
}
