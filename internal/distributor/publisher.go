package distributor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BatFabn/WarehouseContainerManager/internal/models"
)

// Publisher puts composed sensor messages on the event channel
type Publisher interface {
	Publish(ctx context.Context, msg *models.SensorMessage) error
}

// RawPublisher sends an encoded message to the channel topic
type RawPublisher interface {
	Publish(ctx context.Context, body []byte) error
}

// ChannelPublisher encodes messages as JSON for the event channel
type ChannelPublisher struct {
	channel RawPublisher
}

func NewChannelPublisher(channel RawPublisher) *ChannelPublisher {
	return &ChannelPublisher{channel: channel}
}

func (p *ChannelPublisher) Publish(ctx context.Context, msg *models.SensorMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal sensor message: %w", err)
	}
	return p.channel.Publish(ctx, body)
}
