package mail

import (
	"context"
	"log/slog"
	"strings"
)

// LogSender logs verification emails instead of sending them. It is meant
// for local development only.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// SendVerification logs the recipient at info level with the token cut off
// the link. The full link carries a live credential, so it only goes out at
// debug level; run with log.level=debug to click through signups locally.
func (s *LogSender) SendVerification(ctx context.Context, msg Verification) error {
	s.logger.InfoContext(ctx, "verification email",
		slog.String("to", msg.To),
		slog.String("subject", verificationSubject),
		slog.String("link", redactToken(msg.Link)),
	)
	s.logger.DebugContext(ctx, "verification link", slog.String("to", msg.To), slog.String("link", msg.Link))
	return nil
}

// redactToken replaces the last path segment of a verification link.
func redactToken(link string) string {
	i := strings.LastIndex(link, "/")
	if i < 0 || i == len(link)-1 {
		return link
	}
	return link[:i+1] + "REDACTED"
}
