package account

import (
	"context"
	"log/slog"
)

// Sender delivers a verification code to the identity's channel. Deployments
// plug in an email or SMS gateway; the default just logs.
type Sender interface {
	Send(ctx context.Context, identifier string, code string) error
}

// LogSender writes codes to the log instead of delivering them, a
// development stand-in for a real gateway. The plaintext code only appears
// when RevealCodes is set; production wiring must leave it off so codes
// never reach the logs.
type LogSender struct {
	Logger      *slog.Logger
	RevealCodes bool
}

func (s *LogSender) Send(ctx context.Context, identifier string, code string) error {
	if s.RevealCodes {
		s.Logger.Info("verification code issued",
			slog.String("identifier", identifier),
			slog.String("code", code),
		)
		return nil
	}

	s.Logger.Info("verification code issued",
		slog.String("identifier", identifier),
	)
	return nil
}
