package consumer

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// MessageHandler handles the raw JSON body of one delivery
type MessageHandler interface {
	HandleMessage(ctx context.Context, body []byte) error
}

// ProcessMessage runs one delivery through handler:
// ACK on success, NACK without requeue on failure.
// It returns the handler error so callers can count discards.
func ProcessMessage(
	ctx context.Context,
	logger *zap.Logger,
	queue string,
	msg amqp.Delivery,
	handler MessageHandler,
) error {
	logger.Debug("Received message from queue",
		zap.String("queue", queue),
		zap.Uint64("delivery_tag", msg.DeliveryTag),
	)

	if err := handler.HandleMessage(ctx, msg.Body); err != nil {
		logger.Error("Failed to process message from queue, discarding",
			zap.String("queue", queue),
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.ByteString("body", truncate(msg.Body, 512)),
			zap.Error(err),
		)
		rejectMessage(logger, msg)
		return err
	}

	if err := msg.Ack(false); err != nil {
		logger.Error("Failed to ack message from queue",
			zap.String("queue", queue),
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
		return nil
	}

	logger.Debug("Message from queue processed successfully",
		zap.String("queue", queue),
		zap.Uint64("delivery_tag", msg.DeliveryTag),
	)
	return nil
}

// rejectMessage rejects a message (NACK with requeue=false). A failed NACK
// is only logged; the broker redelivers once the channel is gone.
func rejectMessage(logger *zap.Logger, msg amqp.Delivery) {
	if err := msg.Nack(false, false); err != nil {
		logger.Error("Failed to nack a message",
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
