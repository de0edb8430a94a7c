package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"yoyaku/backend/internal/domain"
)

func TestSlackWebhookSender(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q, want application/json", ct)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := &SlackWebhookSender{Client: srv.Client()}
	code, err := sender.Send(context.Background(), domain.NotificationDelivery{
		Subject:       "subject",
		Body:          "body",
		ChannelConfig: domain.ChannelConfig{SlackWebhookURL: srv.URL},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if code != http.StatusOK {
		t.Fatalf("code = %d, want 200", code)
	}
	if gotBody["text"] != "subject\nbody" {
		t.Fatalf("payload text = %q, want subject and body", gotBody["text"])
	}
}

func TestSlackWebhookSender_Errors(t *testing.T) {
	sender := &SlackWebhookSender{}
	if _, err := sender.Send(context.Background(), domain.NotificationDelivery{}); err == nil {
		t.Fatalf("expected error without a webhook URL")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	sender = &SlackWebhookSender{Client: srv.Client()}
	code, err := sender.Send(context.Background(), domain.NotificationDelivery{
		ChannelConfig: domain.ChannelConfig{SlackWebhookURL: srv.URL},
	})
	if err == nil {
		t.Fatalf("expected error on non-2xx response")
	}
	if code != http.StatusForbidden {
		t.Fatalf("code = %d, want 403", code)
	}
}

func TestLineSender(t *testing.T) {
	var gotAuth string
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotPayload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := &LineSender{Client: srv.Client(), Endpoint: srv.URL}
	code, err := sender.Send(context.Background(), domain.NotificationDelivery{
		Subject:       "subject",
		Body:          "body",
		ChannelConfig: domain.ChannelConfig{LineToken: "tok", LineTo: "U123"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if code != http.StatusOK {
		t.Fatalf("code = %d, want 200", code)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("authorization = %q, want bearer token", gotAuth)
	}
	if gotPayload["to"] != "U123" {
		t.Fatalf("to = %v, want U123", gotPayload["to"])
	}
	msgs, ok := gotPayload["messages"].([]any)
	if !ok || len(msgs) != 1 {
		t.Fatalf("messages = %v, want one entry", gotPayload["messages"])
	}
	msg := msgs[0].(map[string]any)
	if msg["type"] != "text" || !strings.Contains(msg["text"].(string), "subject") {
		t.Fatalf("message = %v, want text entry with subject", msg)
	}
}

func TestLineSender_MissingToken(t *testing.T) {
	sender := &LineSender{}
	if _, err := sender.Send(context.Background(), domain.NotificationDelivery{}); err == nil {
		t.Fatalf("expected error without a token")
	}
}

func TestSMTPEmailSender_NoRecipients(t *testing.T) {
	sender := &SMTPEmailSender{Addr: "localhost:25", From: "noreply@example.com"}
	if _, err := sender.Send(context.Background(), domain.NotificationDelivery{}); err == nil {
		t.Fatalf("expected error without recipients")
	}
}

func TestLogSender(t *testing.T) {
	sender := &LogSender{}
	code, err := sender.Send(context.Background(), domain.NotificationDelivery{Subject: "s", Body: "b"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if code != 200 {
		t.Fatalf("code = %d, want 200", code)
	}
}
