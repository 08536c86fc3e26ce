package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BatFabn/WarehouseContainerManager/internal/fusion"
)

// ErrDispatch is returned when a notification could not be handed to the sink
var ErrDispatch = errors.New("alert dispatch failed")

// Alert is one spoilage notification
type Alert struct {
	Recipient   string
	ContainerID string
	RackID      string
	Produce     fusion.ProduceType
	Status      fusion.Status
	Timestamp   time.Time
}

// Subject returns the e-mail subject line
func (a Alert) Subject() string {
	return fmt.Sprintf("Spoilage Alert - Container #%s Rack #%s", a.ContainerID, a.RackID)
}

// Body returns the plain-text message
func (a Alert) Body() string {
	return fmt.Sprintf(
		"The system has detected that %s in container #%s and rack #%s is %s. Please take necessary action.",
		a.Produce, a.ContainerID, a.RackID, a.Status,
	)
}

// Validate rejects alerts that cannot be delivered
func (a Alert) Validate() error {
	if strings.TrimSpace(a.Recipient) == "" {
		return fmt.Errorf("%w: recipient email is empty", ErrDispatch)
	}
	return nil
}

// Notifier delivers spoilage alerts
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// LogNotifier only logs alerts. Used when no SMTP server is configured.
type LogNotifier struct {
	Logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{Logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, a Alert) error {
	if err := a.Validate(); err != nil {
		return err
	}

	n.Logger.Warn("Spoilage alert",
		zap.String("recipient", a.Recipient),
		zap.String("container_id", a.ContainerID),
		zap.String("rack_id", a.RackID),
		zap.String("fruit", string(a.Produce)),
		zap.String("status", string(a.Status)),
		zap.Time("timestamp", a.Timestamp),
	)
	return nil
}
