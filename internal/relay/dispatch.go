package relay

import (
	"context"
	"sync"

	"signalrelay/internal/domain"
	"signalrelay/internal/metrics"
)

// dispatcher runs events for distinct source ids concurrently while keeping
// events for the same id strictly in receipt order. Each active id owns one
// goroutine that drains its queue; sem bounds the number of active ids.
type dispatcher struct {
	mu      sync.Mutex
	pending map[int][]domain.InboundMessage // present while a worker owns the id
	sem     chan struct{}
	wg      sync.WaitGroup
}

func newDispatcher(workers int) *dispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &dispatcher{
		pending: make(map[int][]domain.InboundMessage),
		sem:     make(chan struct{}, workers),
	}
}

// submit must be called from a single goroutine.
func (d *dispatcher) submit(ctx context.Context, msg domain.InboundMessage, handle func(context.Context, domain.InboundMessage)) {
	d.mu.Lock()
	if q, busy := d.pending[msg.ID]; busy {
		d.pending[msg.ID] = append(q, msg)
		d.mu.Unlock()
		return
	}
	d.pending[msg.ID] = nil
	d.mu.Unlock()

	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		d.mu.Lock()
		delete(d.pending, msg.ID)
		d.mu.Unlock()
		return
	}

	d.wg.Add(1)
	metrics.InFlight.Inc()
	go func() {
		defer d.wg.Done()
		defer metrics.InFlight.Dec()
		defer func() { <-d.sem }()

		cur := msg
		for {
			handle(ctx, cur)

			d.mu.Lock()
			q := d.pending[cur.ID]
			if len(q) == 0 {
				delete(d.pending, cur.ID)
				d.mu.Unlock()
				return
			}
			cur, d.pending[cur.ID] = q[0], q[1:]
			d.mu.Unlock()
		}
	}()
}

// wait blocks until every queued event has been handled.
func (d *dispatcher) wait() {
	d.wg.Wait()
}
