package relay

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// call is one recorded outbound request.
type call struct {
	Op        string
	ChatID    int64
	MessageID int
	Text      string
}

// fakeOutbound records calls and pops scripted errors per operation.
type fakeOutbound struct {
	mu     sync.Mutex
	calls  []call
	errs   map[string][]error
	nextID int
	delay  time.Duration
}

func newFakeOutbound() *fakeOutbound {
	return &fakeOutbound{errs: make(map[string][]error), nextID: 100}
}

// failNext queues errors returned by the next calls of op, in order.
func (f *fakeOutbound) failNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[op] = append(f.errs[op], errs...)
}

func (f *fakeOutbound) record(c call) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if q := f.errs[c.Op]; len(q) > 0 {
		f.errs[c.Op] = q[1:]
		return q[0]
	}
	return nil
}

func (f *fakeOutbound) SendMessage(_ context.Context, chatID int64, text string) (int, error) {
	if err := f.record(call{Op: "send", ChatID: chatID, Text: text}); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return f.nextID, nil
}

func (f *fakeOutbound) EditMessage(_ context.Context, chatID int64, messageID int, text string) error {
	return f.record(call{Op: "edit", ChatID: chatID, MessageID: messageID, Text: text})
}

func (f *fakeOutbound) DeleteMessage(_ context.Context, chatID int64, messageID int) error {
	return f.record(call{Op: "delete", ChatID: chatID, MessageID: messageID})
}

func (f *fakeOutbound) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeOutbound) count(op string) int {
	n := 0
	for _, c := range f.snapshot() {
		if c.Op == op {
			n++
		}
	}
	return n
}

// fakeSleeper records requested sleeps without waiting.
type fakeSleeper struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (s *fakeSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.slept = append(s.slept, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *fakeSleeper) durations() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.slept...)
}

func transient(detail string) error {
	return fmt.Errorf("telegram: %s", detail)
}
