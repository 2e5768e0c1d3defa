package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"signalrelay/internal/domain"
	"signalrelay/internal/metrics"
	"signalrelay/internal/normalize"
)

const defaultWorkers = 4

// Controller turns inbound channel posts into destination messages and keeps
// the edit correlation between them.
//
// Per source id: Unseen -> Relayed -> (Updated | Removed). A rejected post
// leaves the id Unseen, so a later edit can still make it forwardable.
// Removed is terminal: once the copy is deleted every later event for the id
// is dropped.
type Controller struct {
	normalizer normalize.Normalizer
	store      Store
	deliverer  *Deliverer
	chatID     int64
	workers    int
	logger     *slog.Logger
}

// ControllerConfig holds the controller's collaborators.
type ControllerConfig struct {
	Normalizer normalize.Normalizer
	Store      Store
	Deliverer  *Deliverer
	ChatID     int64 // destination chat
	Workers    int   // max source ids processed at once (default 4)
	Logger     *slog.Logger
}

func NewController(cfg ControllerConfig) *Controller {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	return &Controller{
		normalizer: cfg.Normalizer,
		store:      cfg.Store,
		deliverer:  cfg.Deliverer,
		chatID:     cfg.ChatID,
		workers:    cfg.Workers,
		logger:     cfg.Logger,
	}
}

// Run consumes inbound until it is closed or ctx is done, then waits for
// in-flight events to finish.
func (c *Controller) Run(ctx context.Context, inbound <-chan domain.InboundMessage) {
	c.logger.Info("relay controller started",
		"workers", c.workers, "mode", c.normalizer.Mode(), "dest_chat", c.chatID)

	d := newDispatcher(c.workers)
	defer d.wait()

	handle := func(ctx context.Context, msg domain.InboundMessage) {
		if err := c.Handle(ctx, msg); err != nil {
			c.logger.Error("event not relayed", "msg_id", msg.ID, "kind", msg.Kind(), "err", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("relay controller stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				c.logger.Info("inbound closed, relay controller draining")
				return
			}
			d.submit(ctx, msg, handle)
		}
	}
}

// Handle processes one event to completion, retries included.
func (c *Controller) Handle(ctx context.Context, msg domain.InboundMessage) error {
	if msg.Edited {
		metrics.EventsEdit.Inc()
	} else {
		metrics.EventsNew.Inc()
	}
	c.logger.Info("inbound event", "msg_id", msg.ID, "kind", msg.Kind(), "text_len", len(msg.Text))

	removed, err := c.store.IsRemoved(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("lookup relay record: %w", err)
	}
	if removed {
		metrics.Ignored.Inc()
		c.logger.Info("relayed copy was removed, ignoring event", "msg_id", msg.ID, "kind", msg.Kind())
		return nil
	}

	payload := c.normalizer.Normalize(msg.Text, msg.Links)

	destID, found, err := c.store.Lookup(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("lookup relay record: %w", err)
	}
	if !found {
		return c.relayNew(ctx, msg, payload)
	}
	if !msg.Edited {
		c.logger.Warn("duplicate new event for relayed message, ignoring", "msg_id", msg.ID, "dest_id", destID)
		return nil
	}
	return c.relayEdit(ctx, msg, destID, payload)
}

func (c *Controller) relayNew(ctx context.Context, msg domain.InboundMessage, p normalize.Payload) error {
	if p.Rejected {
		metrics.Rejected.Inc()
		c.logger.Info("message rejected by normalizer", "msg_id", msg.ID, "kind", msg.Kind())
		return nil
	}
	if p.Empty() {
		metrics.Rejected.Inc()
		c.logger.Info("nothing left after normalization, skipping", "msg_id", msg.ID)
		return nil
	}

	destID, err := c.deliverer.Deliver(ctx, Operation{Kind: OpSend, ChatID: c.chatID, Text: p.Text})
	if err != nil {
		return err
	}
	if err := c.store.Record(ctx, msg.ID, destID); err != nil {
		// The copy is out; without a record later edits are sent as new messages.
		return fmt.Errorf("store relay record: %w", err)
	}
	metrics.Forwarded.Inc()
	c.logger.Info("message relayed", "msg_id", msg.ID, "dest_id", destID)
	return nil
}

func (c *Controller) relayEdit(ctx context.Context, msg domain.InboundMessage, destID int, p normalize.Payload) error {
	if p.Empty() {
		if _, err := c.deliverer.Deliver(ctx, Operation{Kind: OpDelete, ChatID: c.chatID, MessageID: destID}); err != nil {
			return err
		}
		if err := c.store.MarkRemoved(ctx, msg.ID); err != nil {
			return fmt.Errorf("remove relay record: %w", err)
		}
		metrics.Deleted.Inc()
		c.logger.Info("relayed message removed after edit", "msg_id", msg.ID, "dest_id", destID)
		return nil
	}

	_, err := c.deliverer.Deliver(ctx, Operation{Kind: OpEdit, ChatID: c.chatID, MessageID: destID, Text: p.Text})
	if errors.Is(err, domain.ErrMessageGone) {
		// The copy was deleted in the destination; forget it and relay afresh.
		if err := c.store.Remove(ctx, msg.ID); err != nil {
			return fmt.Errorf("remove relay record: %w", err)
		}
		c.logger.Warn("destination message gone, relaying edit as new", "msg_id", msg.ID, "dest_id", destID)
		return c.relayNew(ctx, msg, p)
	}
	if err != nil {
		return err
	}
	metrics.Edited.Inc()
	c.logger.Info("relayed message updated", "msg_id", msg.ID, "dest_id", destID)
	return nil
}
