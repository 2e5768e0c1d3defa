package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"signalrelay/internal/domain"
	"signalrelay/internal/metrics"
)

// ErrDeliveryExhausted is returned once every attempt (or every allowed
// rate-limit wait) has been used.
var ErrDeliveryExhausted = errors.New("delivery attempts exhausted")

// OpKind is the outbound call an Operation performs.
type OpKind int

const (
	OpSend OpKind = iota
	OpEdit
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpSend:
		return "send"
	case OpEdit:
		return "edit"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", int(k))
	}
}

// Operation is one outbound call against the destination chat.
type Operation struct {
	Kind      OpKind
	ChatID    int64
	MessageID int // target for edit and delete
	Text      string
}

// RetryPolicy bounds how hard Deliver tries.
type RetryPolicy struct {
	MaxAttempts int
	RetryDelay  time.Duration
	// RateLimitPadding is added to every server-imposed wait.
	RateLimitPadding time.Duration
	// MaxRateLimitWaits caps flood waits per call; they do not use up attempts.
	// Zero means no cap.
	MaxRateLimitWaits  int
	NotifyOnExhaustion bool
	// MessagesPerMinute paces calls with a token bucket of ThrottleBurst.
	// Zero disables pacing.
	MessagesPerMinute float64
	ThrottleBurst     int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:        3,
		RetryDelay:         time.Second,
		RateLimitPadding:   5 * time.Second,
		MaxRateLimitWaits:  10,
		NotifyOnExhaustion: true,
		MessagesPerMinute:  20,
		ThrottleBurst:      5,
	}
}

// Deliverer wraps single outbound calls with the retry policy.
type Deliverer struct {
	client   domain.Outbound
	policy   RetryPolicy
	throttle *Throttle
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewDeliverer(client domain.Outbound, policy RetryPolicy, logger *slog.Logger) *Deliverer {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	return &Deliverer{
		client:   client,
		policy:   policy,
		throttle: NewThrottle(policy.ThrottleBurst, policy.MessagesPerMinute),
		logger:   logger,
		sleep:    sleepContext,
	}
}

// Deliver performs op and returns the destination message id (send only).
//
// A rate-limit error sleeps for the requested wait plus padding and retries
// the same attempt. A permission error or a vanished target message aborts at
// once. Any other error is retried after RetryDelay; the last failure triggers
// one best-effort notice to the destination chat.
func (d *Deliverer) Deliver(ctx context.Context, op Operation) (int, error) {
	start := time.Now()
	defer metrics.DeliveryLatency.Since(start)

	var lastErr error
	waits := 0
	for attempt := 0; attempt < d.policy.MaxAttempts; {
		if err := d.throttle.Wait(ctx); err != nil {
			return 0, err
		}
		id, err := d.call(ctx, op)
		if err == nil {
			return id, nil
		}
		lastErr = err

		var rl *domain.RateLimitedError
		if errors.As(err, &rl) {
			waits++
			if d.policy.MaxRateLimitWaits > 0 && waits > d.policy.MaxRateLimitWaits {
				d.logger.Error("too many rate-limit waits, giving up",
					"op", op.Kind, "waits", waits-1, "msg_id", op.MessageID)
				metrics.ExhaustedFails.Inc()
				return 0, fmt.Errorf("%w: %s after %d rate-limit waits: %w", ErrDeliveryExhausted, op.Kind, waits-1, err)
			}
			wait := rl.RetryAfter + d.policy.RateLimitPadding
			d.logger.Warn("telegram rate limit, waiting",
				"op", op.Kind, "retry_after", rl.RetryAfter, "wait", wait, "attempt", attempt+1)
			metrics.RateLimitWaits.Inc()
			if err := d.sleep(ctx, wait); err != nil {
				return 0, err
			}
			continue
		}

		if errors.Is(err, domain.ErrPermissionDenied) {
			d.logger.Error("bot cannot write to destination chat, dropping event",
				"op", op.Kind, "chat_id", op.ChatID, "err", err)
			metrics.PermissionFails.Inc()
			return 0, fmt.Errorf("%s: %w", op.Kind, err)
		}

		if errors.Is(err, domain.ErrMessageGone) {
			d.logger.Warn("destination message gone", "op", op.Kind, "dest_id", op.MessageID)
			return 0, fmt.Errorf("%s: %w", op.Kind, err)
		}

		attempt++
		d.logger.Error("delivery attempt failed",
			"op", op.Kind, "attempt", attempt, "max_attempts", d.policy.MaxAttempts, "err", err)
		if attempt == d.policy.MaxAttempts {
			d.notifyFailure(ctx, op, err)
			break
		}
		if err := d.sleep(ctx, d.policy.RetryDelay); err != nil {
			return 0, err
		}
	}

	metrics.ExhaustedFails.Inc()
	return 0, fmt.Errorf("%w: %s after %d attempts: %w", ErrDeliveryExhausted, op.Kind, d.policy.MaxAttempts, lastErr)
}

func (d *Deliverer) call(ctx context.Context, op Operation) (int, error) {
	switch op.Kind {
	case OpSend:
		return d.client.SendMessage(ctx, op.ChatID, op.Text)
	case OpEdit:
		return op.MessageID, d.client.EditMessage(ctx, op.ChatID, op.MessageID, op.Text)
	case OpDelete:
		return op.MessageID, d.client.DeleteMessage(ctx, op.ChatID, op.MessageID)
	default:
		return 0, fmt.Errorf("unknown operation %s", op.Kind)
	}
}

// notifyFailure posts a diagnostic to the destination chat. It is not retried.
func (d *Deliverer) notifyFailure(ctx context.Context, op Operation, err error) {
	if !d.policy.NotifyOnExhaustion {
		return
	}
	text := fmt.Sprintf("Relay error: %s failed after %d attempts: %v", op.Kind, d.policy.MaxAttempts, err)
	if _, nerr := d.client.SendMessage(ctx, op.ChatID, text); nerr != nil {
		d.logger.Warn("failure notice not delivered", "err", nerr)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
