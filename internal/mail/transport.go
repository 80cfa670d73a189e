package mail

import (
	"context"
	"log/slog"
	"strings"
)

// Transport hands a fully rendered message to an outbound relay.
type Transport interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogTransport only logs messages. It is used when no relay is configured.
type LogTransport struct{}

func (LogTransport) Send(ctx context.Context, to, subject, _ string) error {
	slog.InfoContext(ctx, "mail transport disabled, message logged only",
		"recipient", RedactAddress(to),
		"subject", subject,
	)
	return nil
}

// RedactAddress masks the local part of an address for logging:
// "jane@example.com" becomes "j***@example.com".
func RedactAddress(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at <= 0 {
		return "***"
	}
	return addr[:1] + "***" + addr[at:]
}
