package mailer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/wneessen/go-mail"

	"rentwatch/config"
)

// ErrNotConfigured is returned on send when SMTP host or credentials are
// missing.
var ErrNotConfigured = errors.New("smtp not configured")

// Message is one plain-text email.
type Message struct {
	To          string
	CC          []string
	Subject     string
	Body        string
	Attachments []string
}

// SMTPSender submits messages over SMTP with STARTTLS and PLAIN auth. A new
// connection is dialed per message.
type SMTPSender struct {
	cfg config.SMTPConfig
	log *logrus.Entry
}

func NewSMTPSender(cfg config.SMTPConfig, log *logrus.Entry) *SMTPSender {
	return &SMTPSender{cfg: cfg, log: log.WithField("component", "mailer")}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if s.cfg.Host == "" || s.cfg.Username == "" || s.cfg.Password == "" {
		return ErrNotConfigured
	}

	m, err := s.build(msg)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(s.cfg.Host,
		mail.WithPort(s.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(s.cfg.Username),
		mail.WithPassword(s.cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}

	s.log.WithFields(logrus.Fields{"to": msg.To, "cc": len(msg.CC)}).Debug("message submitted")
	return nil
}

func (s *SMTPSender) build(msg Message) (*mail.Msg, error) {
	if msg.To == "" {
		return nil, errors.New("message has no recipient")
	}

	m := mail.NewMsg()
	from := s.cfg.From
	if from == "" {
		from = s.cfg.Username
	}
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("to address: %w", err)
	}
	if len(msg.CC) > 0 {
		if err := m.Cc(msg.CC...); err != nil {
			return nil, fmt.Errorf("cc address: %w", err)
		}
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)

	for _, path := range msg.Attachments {
		m.AttachFile(path, mail.WithFileName(filepath.Base(path)))
	}
	return m, nil
}
