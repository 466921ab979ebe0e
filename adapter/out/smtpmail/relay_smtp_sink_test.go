package smtpmail

import (
	"context"
	"net/smtp"
	"strings"
	"testing"

	"relay_server/core/domain"
	"relay_server/pkg/crypto"
)

func newTestSink(appURL string) (*Sink, *[][]byte) {
	sink := NewSink(Config{
		SenderEmail:    "relay@example.com",
		SenderPassword: "app-password",
		Server:         "smtp.example.com",
		Port:           587,
		AppURL:         appURL,
	}, crypto.NewActionSigner("test-secret"))

	var sent [][]byte
	sink.send = func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		sent = append(sent, msg)
		return nil
	}
	return sink, &sent
}

func TestForwardBuildsMultipartMessage(t *testing.T) {
	sink, sent := newTestSink("https://relay.example.com")

	err := sink.Forward(context.Background(), &domain.Email{
		Sender:  "Amazon <no-reply@amazon.com>",
		Subject: "Your order has shipped",
		Body:    "Order #123 total $42.00",
	}, "wife@example.com")
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(*sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(*sent))
	}

	msg := string((*sent)[0])
	for _, want := range []string{
		"To: wife@example.com",
		"Fwd:",
		"multipart/alternative",
		"text/plain",
		"text/html",
		"Order #123 total $42.00",
		"/api/actions/quick?",
		"cmd=STOP",
		"arg=amazon",
		"sig=",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestForwardMailtoFallbackWithoutAppURL(t *testing.T) {
	sink, sent := newTestSink("")

	err := sink.Forward(context.Background(), &domain.Email{
		Sender:  "orders@store.com",
		Subject: "Receipt",
		Body:    "total $5",
	}, "wife@example.com")
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	msg := string((*sent)[0])
	if !strings.Contains(msg, "mailto:relay@example.com") {
		t.Error("expected mailto fallback link")
	}
	if strings.Contains(msg, "/api/actions/quick") {
		t.Error("http action links must not appear without an app url")
	}
}

func TestForwardRequiresCredentials(t *testing.T) {
	sink := NewSink(Config{}, nil)
	err := sink.Forward(context.Background(), &domain.Email{Subject: "x"}, "wife@example.com")
	if err == nil {
		t.Fatal("expected error without credentials")
	}
}

func TestSimpleSenderName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Amazon <no-reply@amazon.com>", "amazon"},
		{"orders@store.co.uk", "store"},
		{"plain-text-no-address", "sender"},
		{"x@y", "y"},
	}
	for _, tt := range tests {
		if got := simpleSenderName(tt.in); got != tt.want {
			t.Errorf("simpleSenderName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
