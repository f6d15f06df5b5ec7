package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/punchamoorthee/leadops/internal/config"
)

// ErrNotConfigured is returned by a mailer with no SMTP host.
var ErrNotConfigured = errors.New("smtp is not configured")

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// SMTPMailer sends through one SMTP relay. Ports 465 and 993 use implicit
// TLS; anything else must offer STARTTLS.
type SMTPMailer struct {
	cfg config.SMTPConfig
}

func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) Configured() bool {
	return m.cfg.Host != "" && m.cfg.From != ""
}

func (m *SMTPMailer) Send(ctx context.Context, msg *Message) error {
	if !m.Configured() {
		return ErrNotConfigured
	}

	mm, err := m.build(msg)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(m.cfg.Host, m.clientOptions()...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, mm); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (m *SMTPMailer) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTimeout(m.cfg.Timeout),
	}
	if m.cfg.Port == 465 || m.cfg.Port == 993 {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}
	return opts
}

func (m *SMTPMailer) build(msg *Message) (*mail.Msg, error) {
	mm := mail.NewMsg()
	if err := mm.FromFormat(m.cfg.FromName, m.cfg.From); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := mm.To(msg.To...); err != nil {
		return nil, fmt.Errorf("to addresses: %w", err)
	}
	if len(msg.CC) > 0 {
		if err := mm.Cc(msg.CC...); err != nil {
			return nil, fmt.Errorf("cc addresses: %w", err)
		}
	}
	if len(msg.BCC) > 0 {
		if err := mm.Bcc(msg.BCC...); err != nil {
			return nil, fmt.Errorf("bcc addresses: %w", err)
		}
	}
	mm.Subject(msg.Subject)
	mm.SetDate()
	mm.SetMessageID()
	mm.SetBodyString(mail.TypeTextPlain, msg.Text)
	mm.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	for _, a := range msg.Attachments {
		if a.Name == "" {
			mm.AttachFile(a.Path)
			continue
		}
		mm.AttachFile(a.Path, mail.WithFileName(a.Name))
	}
	return mm, nil
}
