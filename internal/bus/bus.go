// Package bus is the in-process queue between the Telegram feed and the
// relay controller.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"signalrelay/internal/domain"
)

const defaultBufferSize = 100

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("bus closed")

// Queue is a buffered, lossless FIFO of inbound posts. A fresh queue is
// created for every pipeline run.
//
// Publish never drops: when the buffer is full it waits for the consumer
// for as long as it takes, or until the publisher's ctx ends. The feed
// acknowledges an update to Telegram only after Publish returns nil, so a
// post that could not be queued is delivered again on the next run.
type Queue struct {
	inbound chan domain.InboundMessage
	mu      sync.RWMutex
	closed  bool
	logger  *slog.Logger
}

// New creates a queue holding up to bufferSize posts (100 when <= 0).
func New(bufferSize int, logger *slog.Logger) *Queue {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Queue{
		inbound: make(chan domain.InboundMessage, bufferSize),
		logger:  logger,
	}
}

// Publish enqueues msg, blocking while the buffer is full. It returns
// ctx.Err() if ctx ends first and ErrClosed after Close. Close waits for
// blocked publishers to return.
func (q *Queue) Publish(ctx context.Context, msg domain.InboundMessage) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.logger.Warn("publish on closed bus", "msg_id", msg.ID)
		return ErrClosed
	}

	select {
	case q.inbound <- msg:
		return nil
	default:
	}

	q.logger.Warn("inbound bus full, waiting for the relay to catch up",
		"msg_id", msg.ID, "kind", msg.Kind(), "buffer", cap(q.inbound))
	select {
	case q.inbound <- msg:
		q.logger.Debug("queued after wait", "msg_id", msg.ID)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns the receive side. It is closed by Close.
func (q *Queue) Subscribe() <-chan domain.InboundMessage {
	return q.inbound
}

// Close stops intake; buffered posts can still be drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.inbound)
	}
}
