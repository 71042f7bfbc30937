package email

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{name: "empty config", config: Config{}, expected: false},
		{name: "missing host", config: Config{Port: "587", From: "test@example.com"}, expected: false},
		{name: "missing port", config: Config{Host: "smtp.example.com", From: "test@example.com"}, expected: false},
		{name: "missing from", config: Config{Host: "smtp.example.com", Port: "587"}, expected: false},
		{name: "fully configured", config: Config{Host: "smtp.example.com", Port: "587", From: "test@example.com"}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}

	var nilSvc *Service
	if nilSvc.IsConfigured() {
		t.Error("nil service should not be configured")
	}
}

type captured struct {
	addr string
	from string
	to   []string
	msg  string
}

func newCapturingService(t *testing.T) (*Service, *captured) {
	t.Helper()
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "noreply@example.com", FromName: "Plate"})
	c := &captured{}
	svc.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		c.addr, c.from, c.to, c.msg = addr, from, to, string(msg)
		return nil
	}
	return svc, c
}

func TestSendVerificationEmail(t *testing.T) {
	svc, c := newCapturingService(t)
	if err := svc.SendVerificationEmail("ada@example.com", "Ada", "https://plate.test/verify?token=abc123"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if c.addr != "smtp.example.com:587" || c.from != "noreply@example.com" || len(c.to) != 1 || c.to[0] != "ada@example.com" {
		t.Fatalf("unexpected envelope %+v", c)
	}
	for _, want := range []string{"From: Plate <noreply@example.com>", "Subject: Verify your Plate account", "Hi Ada", "https://plate.test/verify?token=abc123", "multipart/alternative"} {
		if !strings.Contains(c.msg, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestSendPasswordResetEmailMentionsExpiry(t *testing.T) {
	svc, c := newCapturingService(t)
	if err := svc.SendPasswordResetEmail("ada@example.com", "Ada", "https://plate.test/reset?token=xyz789"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(c.msg, "1 hour") || !strings.Contains(c.msg, "https://plate.test/reset?token=xyz789") {
		t.Fatalf("unexpected message %s", c.msg)
	}
}

func TestSendInviteEscapesNames(t *testing.T) {
	svc, c := newCapturingService(t)
	if err := svc.SendInviteEmail("bo@example.com", "<b>Eve</b>", "member", "https://plate.test"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if strings.Contains(c.msg, "<p><b>Eve</b>") {
		t.Fatal("inviter name was not escaped in HTML body")
	}
	if !strings.Contains(c.msg, "as member") {
		t.Fatalf("role missing: %s", c.msg)
	}
}

func TestSendRejectsHeaderInjection(t *testing.T) {
	svc, _ := newCapturingService(t)
	if err := svc.SendHTMLEmail([]string{"a@example.com\r\nBcc: x@example.com"}, "hi", "t", "<p>t</p>"); err == nil {
		t.Fatal("expected error for recipient with newline")
	}
}

func TestSendWhenNotConfigured(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendNotificationEmail("a@example.com", "A", "New comment", "Bo commented", ""); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
