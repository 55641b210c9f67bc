package account

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestLogSender(t *testing.T) {
	t.Run("withholds the code by default", func(t *testing.T) {
		var buf bytes.Buffer
		sender := &LogSender{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

		if err := sender.Send(context.Background(), "user@example.com", "123456"); err != nil {
			t.Fatalf("send failed: %v", err)
		}

		logged := buf.String()
		if strings.Contains(logged, "123456") {
			t.Fatal("verification code must not reach the log")
		}
		if !strings.Contains(logged, "user@example.com") {
			t.Error("expected the identifier in the log")
		}
	})

	t.Run("reveals the code only when asked", func(t *testing.T) {
		var buf bytes.Buffer
		sender := &LogSender{
			Logger:      slog.New(slog.NewTextHandler(&buf, nil)),
			RevealCodes: true,
		}

		if err := sender.Send(context.Background(), "user@example.com", "123456"); err != nil {
			t.Fatalf("send failed: %v", err)
		}

		if !strings.Contains(buf.String(), "123456") {
			t.Fatal("expected the code in development logging")
		}
	})
}
