package delivery

import (
	"context"
	"log/slog"
)

// LogSender writes codes to a logger instead of sending them. It is meant
// for local development, where no mail or SMS gateway is configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Deliver(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "verification code",
		"identifier", msg.Identifier,
		"channel", string(msg.Channel),
		"purpose", msg.Purpose,
		"code", msg.Code,
		"expires_at", msg.ExpiresAt,
	)
	return nil
}
