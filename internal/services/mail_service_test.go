package services

import (
	"net/smtp"
	"strings"
	"testing"
	"time"

	"folio/internal/config"
	"folio/internal/models"
)

func TestMailServiceDisabledWithoutConfig(t *testing.T) {
	s := NewMailService(config.SMTPConfig{Host: "smtp.example.com"})
	if s.Enabled {
		t.Fatal("mail service should be disabled with partial config")
	}
	called := false
	s.send = func(string, smtp.Auth, string, []string, []byte) error {
		called = true
		return nil
	}
	s.SendReplyNotification(&models.Comment{Email: "a@example.com"}, &models.Comment{Name: "Bob"}, "https://x")
	if called {
		t.Error("disabled service must not send")
	}
}

func TestMailServiceReplyNotification(t *testing.T) {
	s := NewMailService(config.SMTPConfig{
		Host: "smtp.example.com", Port: "587", Username: "u", Password: "p", From: "blog@example.com",
	})

	type sent struct {
		addr string
		to   []string
		msg  string
	}
	done := make(chan sent, 1)
	s.send = func(addr string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		done <- sent{addr, to, string(msg)}
		return nil
	}

	parent := &models.Comment{Name: "Ada", Email: "ada@example.com", Body: "first <thoughts>"}
	reply := &models.Comment{Name: "Bob", Body: "I agree"}
	s.SendReplyNotification(parent, reply, "https://example.com/blog/p#comment-1")

	select {
	case got := <-done:
		if got.addr != "smtp.example.com:587" {
			t.Errorf("addr = %q", got.addr)
		}
		if len(got.to) != 1 || got.to[0] != "ada@example.com" {
			t.Errorf("to = %v", got.to)
		}
		if !strings.Contains(got.msg, "Subject: Bob replied to your comment") {
			t.Errorf("missing subject in %q", got.msg)
		}
		if !strings.Contains(got.msg, "first &lt;thoughts&gt;") {
			t.Error("template should escape comment bodies")
		}
		if !strings.Contains(got.msg, "https://example.com/blog/p#comment-1") {
			t.Error("missing link")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification was not sent")
	}
}

func TestMailServiceSubjectCannotInjectHeaders(t *testing.T) {
	s := NewMailService(config.SMTPConfig{
		Host: "smtp.example.com", Port: "587", Username: "u", Password: "p", From: "blog@example.com",
	})
	done := make(chan string, 1)
	s.send = func(_ string, _ smtp.Auth, _ string, _ []string, msg []byte) error {
		done <- string(msg)
		return nil
	}

	parent := &models.Comment{Name: "Ada", Email: "ada@example.com", Body: "hi"}
	reply := &models.Comment{Name: "Eve\r\nBcc: victim@evil.io\nX", Body: "spam"}
	s.SendReplyNotification(parent, reply, "https://example.com/blog/p#comment-1")

	var msg string
	select {
	case msg = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("notification was not sent")
	}

	headers := msg
	if i := strings.Index(msg, "\r\n\r\n"); i >= 0 {
		headers = msg[:i]
	}
	for _, line := range strings.Split(strings.ReplaceAll(headers, "\r\n", "\n"), "\n") {
		if strings.HasPrefix(strings.ToLower(line), "bcc:") {
			t.Fatalf("injected header line %q in message:\n%s", line, msg)
		}
	}
	if !strings.Contains(msg, "Subject: =?utf-8?q?") {
		t.Errorf("subject with control characters should be encoded:\n%s", msg)
	}
}
