package worker

import (
	"context"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// WakeListener bridges RabbitMQ wake-up messages into a signal channel for
// the poll loop. Messages only carry a nudge; the job row in the store is
// the source of truth, so every delivery is acked regardless of content and
// a dropped signal costs at most one poll interval.
func WakeListener(ctx context.Context, logger *slog.Logger, deliveries <-chan amqp.Delivery) <-chan struct{} {
	wake := make(chan struct{}, 1)

	go func() {
		defer close(wake)
		for {
			select {
			case <-ctx.Done():
				return
			case delivery, ok := <-deliveries:
				if !ok {
					logger.Warn("wake-up delivery channel closed")
					return
				}
				if err := delivery.Ack(false); err != nil {
					logger.Warn("failed to ack wake-up message", slog.String("error", err.Error()))
				}
				select {
				case wake <- struct{}{}:
				default:
					// a poll is already pending
				}
			}
		}
	}()

	return wake
}
