// Package mail renders and sends transactional email.
package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/xid"
	gomail "github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/helpdeskhq/ticket-triage/internal/config"
)

// Message is a single HTML email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

func (m Message) validate() error {
	if strings.TrimSpace(m.To) == "" || strings.TrimSpace(m.Subject) == "" || strings.TrimSpace(m.HTML) == "" {
		return errors.New("mail: recipient, subject and body are required")
	}
	return nil
}

// Receipt identifies an accepted message.
type Receipt struct {
	MessageID string
}

// Gateway delivers messages.
type Gateway interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// NewGateway returns an SMTP gateway when a host is configured and a logging gateway otherwise.
func NewGateway(cfg config.MailConfig, logger *zap.Logger) Gateway {
	if strings.TrimSpace(cfg.Host) == "" {
		logger.Warn("MAIL_HOST not provided; emails will only be logged")
		return &LogGateway{logger: logger}
	}
	return &SMTPGateway{cfg: cfg}
}

// SMTPGateway sends through an SMTP relay, upgrading to TLS when the server offers it.
type SMTPGateway struct {
	cfg config.MailConfig
}

// Send dials, sends one message and disconnects. The receipt carries the Message-ID
// header the relay accepted.
func (g *SMTPGateway) Send(ctx context.Context, msg Message) (Receipt, error) {
	m, err := g.build(msg)
	if err != nil {
		return Receipt{}, err
	}

	opts := []gomail.Option{
		gomail.WithPort(g.cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if g.cfg.Timeout() > 0 {
		opts = append(opts, gomail.WithTimeout(g.cfg.Timeout()))
	}
	if g.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(g.cfg.Username),
			gomail.WithPassword(g.cfg.Password),
		)
	}

	client, err := gomail.NewClient(g.cfg.Host, opts...)
	if err != nil {
		return Receipt{}, fmt.Errorf("mail: client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return Receipt{}, fmt.Errorf("mail: send to %s: %w", msg.To, err)
	}
	return Receipt{MessageID: m.GetMessageID()}, nil
}

func (g *SMTPGateway) build(msg Message) (*gomail.Msg, error) {
	if err := msg.validate(); err != nil {
		return nil, err
	}
	m := gomail.NewMsg()
	from := g.cfg.From
	if from == "" {
		from = g.cfg.Username
	}
	if err := m.FromFormat(g.cfg.FromName, from); err != nil {
		return nil, fmt.Errorf("mail: from address: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("mail: recipient: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetMessageID()
	m.SetBodyString(gomail.TypeTextHTML, msg.HTML)
	return m, nil
}

// LogGateway records messages instead of sending them.
type LogGateway struct {
	logger *zap.Logger
}

// NewLogGateway creates a gateway that only logs.
func NewLogGateway(logger *zap.Logger) *LogGateway {
	return &LogGateway{logger: logger}
}

func (g *LogGateway) Send(_ context.Context, msg Message) (Receipt, error) {
	if err := msg.validate(); err != nil {
		return Receipt{}, err
	}
	receipt := Receipt{MessageID: "<" + xid.New().String() + "@log.local>"}
	g.logger.Info("email (not sent)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("message_id", receipt.MessageID),
		zap.Int("bytes", len(msg.HTML)))
	return receipt, nil
}
