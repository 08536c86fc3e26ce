package alert

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// SMTPConfig holds the mail relay settings
type SMTPConfig struct {
	Host     string
	Port     int
	Sender   string
	Password string
}

// SMTPNotifier sends alerts as plain-text e-mail through an authenticated
// SMTP relay
type SMTPNotifier struct {
	cfg    SMTPConfig
	logger *zap.Logger
}

func NewSMTPNotifier(cfg SMTPConfig, logger *zap.Logger) (*SMTPNotifier, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Sender == "" {
		return nil, fmt.Errorf("smtp sender is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPNotifier{cfg: cfg, logger: logger}, nil
}

// buildMessage composes the e-mail for an alert
func (n *SMTPNotifier) buildMessage(a Alert) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(n.cfg.Sender); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(a.Recipient); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(a.Subject())
	msg.SetBodyString(mail.TypeTextPlain, a.Body())
	return msg, nil
}

func (n *SMTPNotifier) Notify(ctx context.Context, a Alert) error {
	if err := a.Validate(); err != nil {
		return err
	}

	msg, err := n.buildMessage(a)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDispatch, err)
	}

	client, err := mail.NewClient(n.cfg.Host,
		mail.WithPort(n.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(n.cfg.Sender),
		mail.WithPassword(n.cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to create mail client: %v", ErrDispatch, err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrDispatch, err)
	}

	n.logger.Info("Spoilage alert sent",
		zap.String("recipient", a.Recipient),
		zap.String("container_id", a.ContainerID),
		zap.String("rack_id", a.RackID),
		zap.String("status", string(a.Status)),
	)
	return nil
}
