package domain

import "context"

// Feed is the inbound side: a subscription to the source channel.
// Start blocks, publishing messages in receipt order until ctx is cancelled
// (returns nil) or the connection fails (returns an ErrConnectionFault or
// ErrAuthorizationFault wrapped error).
type Feed interface {
	Start(ctx context.Context, bus MessageBus) error
}

// Outbound is the destination-side client.
type Outbound interface {
	SendMessage(ctx context.Context, chatID int64, text string) (int, error)
	EditMessage(ctx context.Context, chatID int64, messageID int, text string) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}
