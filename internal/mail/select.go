package mail

import (
	"context"
	"fmt"
)

// Settings selects and configures the outbound transport.
type Settings struct {
	Transport string // smtp, ses or log
	SMTPHost  string
	SMTPPort  int
	SMTPUser  string
	SMTPPass  string
	SES       SESConfig
	From      string
	FromName  string
}

// NewTransport builds the transport named by s.Transport.
func NewTransport(ctx context.Context, s Settings) (Transport, error) {
	switch s.Transport {
	case "smtp":
		return NewSMTPClient(s.SMTPHost, s.SMTPPort, s.SMTPUser, s.SMTPPass, s.From, s.FromName), nil
	case "ses":
		ses := s.SES
		ses.From = s.From
		ses.FromName = s.FromName
		return NewSESTransport(ctx, ses)
	case "log", "":
		return LogTransport{}, nil
	default:
		return nil, fmt.Errorf("unknown mail transport %q", s.Transport)
	}
}
