package domain

import "context"

// MessageBus carries inbound messages from the feed to the relay controller.
// Publish blocks while the bus is full and never drops a message; it fails
// only when ctx ends or the bus is closed.
type MessageBus interface {
	Publish(ctx context.Context, msg InboundMessage) error
	Subscribe() <-chan InboundMessage
	Close()
}
