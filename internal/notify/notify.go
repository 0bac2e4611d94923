// Package notify delivers export files to people. Senders are pluggable so
// the export workflow does not depend on any particular mail setup.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/wneessen/go-mail"

	"docchat/internal/config"
)

var ErrNotConfigured = errors.New("notification sender is not configured")

// Message is one email with a single attachment to all recipients.
type Message struct {
	To         []string
	Subject    string
	Body       string
	Attachment string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// New returns the sender selected by cfg.Driver: smtp, sendmail or noop.
func New(cfg *config.NotifyConfig) (Sender, error) {
	switch strings.ToLower(cfg.Driver) {
	case "smtp":
		if cfg.SMTP.Host == "" {
			return nil, fmt.Errorf("%w: smtp host missing", ErrNotConfigured)
		}
		return &SMTPSender{cfg: cfg.SMTP}, nil
	case "sendmail":
		return &SendmailSender{Path: cfg.SendmailPath, From: cfg.SMTP.From}, nil
	case "", "noop":
		return NoopSender{}, nil
	default:
		return nil, fmt.Errorf("unknown notify driver %q", cfg.Driver)
	}
}

// buildMessage assembles the MIME message shared by the mail senders.
func buildMessage(from string, m Message) (*mail.Msg, error) {
	if len(m.To) == 0 {
		return nil, errors.New("no recipients")
	}
	msg := mail.NewMsg()
	if from != "" {
		if err := msg.From(from); err != nil {
			return nil, fmt.Errorf("invalid sender %q: %w", from, err)
		}
	}
	if err := msg.To(m.To...); err != nil {
		return nil, fmt.Errorf("invalid recipients: %w", err)
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(mail.TypeTextPlain, m.Body)
	if m.Attachment != "" {
		msg.AttachFile(m.Attachment)
	}
	return msg, nil
}

// SMTPSender delivers through an SMTP relay.
type SMTPSender struct {
	cfg config.SMTPConfig
}

func (s *SMTPSender) Name() string { return "smtp" }

func (s *SMTPSender) Send(ctx context.Context, m Message) error {
	msg, err := buildMessage(s.cfg.From, m)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// SendmailSender hands the message to the local mail agent.
type SendmailSender struct {
	Path string
	From string
}

func (s *SendmailSender) Name() string { return "sendmail" }

func (s *SendmailSender) Send(ctx context.Context, m Message) error {
	msg, err := buildMessage(s.From, m)
	if err != nil {
		return err
	}
	if err := msg.WriteToSendmailWithContext(ctx, s.Path); err != nil {
		return fmt.Errorf("sendmail: %w", err)
	}
	return nil
}

// NoopSender only logs what would have been sent.
type NoopSender struct{}

func (NoopSender) Name() string { return "noop" }

func (NoopSender) Send(ctx context.Context, m Message) error {
	log.Info().
		Str("to", strings.Join(m.To, ";")).
		Str("subject", m.Subject).
		Str("attachment", m.Attachment).
		Msg("Notification not sent (noop sender)")
	return nil
}

// Recorder keeps every message in memory. Err, when set, fails each send.
type Recorder struct {
	Err error

	mu   sync.Mutex
	sent []Message
}

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) Send(ctx context.Context, m Message) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, m)
	return nil
}

// Sent returns the recorded messages.
func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.sent...)
}
