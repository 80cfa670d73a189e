package mail

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/smtp"
)

// smtpSendMail is swapped out in tests.
var smtpSendMail = smtp.SendMail

// SMTPClient wraps net/smtp to provide a simple interface for sending emails.
type SMTPClient struct {
	host     string
	port     int
	user     string
	pass     string
	from     string
	fromName string
}

// NewSMTPClient creates a new SMTPClient with the given SMTP server configuration.
func NewSMTPClient(host string, port int, user, pass, from, fromName string) *SMTPClient {
	return &SMTPClient{
		host:     host,
		port:     port,
		user:     user,
		pass:     pass,
		from:     from,
		fromName: fromName,
	}
}

// Send delivers an HTML email to the specified recipient. It uses PlainAuth
// when credentials are configured. net/smtp has no context support, so a
// cancelled ctx abandons the in-flight call and returns ctx.Err().
func (c *SMTPClient) Send(ctx context.Context, to, subject, body string) error {
	auth, err := c.auth()
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	msg := c.buildMessage(to, subject, body)

	done := make(chan error, 1)
	go func() {
		done <- smtpSendMail(addr, auth, c.from, []string{to}, msg)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *SMTPClient) auth() (smtp.Auth, error) {
	if c.user == "" && c.pass == "" {
		return nil, nil
	}
	if c.user == "" || c.pass == "" {
		return nil, errors.New("smtp credentials incomplete: both user and password are required")
	}
	return smtp.PlainAuth("", c.user, c.pass, c.host), nil
}

func (c *SMTPClient) buildMessage(to, subject, body string) []byte {
	from := c.from
	if c.fromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", c.fromName), c.from)
	}

	headers := fmt.Sprintf(
		"From: %s\r\n"+
			"To: %s\r\n"+
			"Reply-To: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/html; charset=\"UTF-8\"\r\n"+
			"X-Mailer: courier\r\n"+
			"\r\n",
		from, to, c.from, mime.QEncoding.Encode("utf-8", subject),
	)

	return []byte(headers + body)
}
