package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wneessen/go-mail"
)

// SMTPConfig holds the credentials and endpoint for the SMTP transport.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPTransport delivers messages over SMTP with implicit TLS (port 465 by
// convention, matching the provider defaults this service is pointed at).
type SMTPTransport struct {
	cfg    SMTPConfig
	logger *slog.Logger
}

// NewSMTPTransport validates credentials and creates the transport.
func NewSMTPTransport(cfg SMTPConfig, logger *slog.Logger) (*SMTPTransport, error) {
	if cfg.Host == "" || cfg.Username == "" || cfg.Password == "" || cfg.From == "" {
		return nil, fmt.Errorf("smtp transport: host, username, password, and from address are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 465
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPTransport{cfg: cfg, logger: logger}, nil
}

// Deliver sends one plain-text message to a single recipient. A fresh
// connection per attempt keeps recipients isolated from each other's
// session state.
func (t *SMTPTransport) Deliver(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(t.cfg.From); err != nil {
		return &DeliveryError{Kind: FailTransport, Err: fmt.Errorf("set from address: %w", err)}
	}
	if err := msg.To(to); err != nil {
		return &DeliveryError{Kind: FailRejected, Err: fmt.Errorf("set recipient: %w", err)}
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	client, err := mail.NewClient(t.cfg.Host,
		mail.WithPort(t.cfg.Port),
		mail.WithSSL(),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(t.cfg.Username),
		mail.WithPassword(t.cfg.Password),
	)
	if err != nil {
		return &DeliveryError{Kind: FailTransport, Err: fmt.Errorf("create smtp client: %w", err)}
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return t.wrapSendError(err)
	}
	return nil
}

// wrapSendError maps go-mail errors onto the failure taxonomy.
func (t *SMTPTransport) wrapSendError(err error) error {
	var se *mail.SendError
	if errors.As(err, &se) {
		switch se.Reason {
		case mail.ErrSMTPRcptTo:
			return &DeliveryError{Kind: FailRejected, Err: err}
		case mail.ErrSMTPMailFrom:
			return &DeliveryError{Kind: FailRejected, Err: err}
		}
	}
	// Leave context and auth errors to classify().
	return err
}
