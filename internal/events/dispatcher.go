package events

import (
	"context"
	"sync"

	"casedata/internal/domain"
	"casedata/internal/logger"
)

// Event is published after a mutation commits. Errand is a private snapshot of the saved aggregate.
type Event struct {
	Type   string
	Errand domain.Errand
}

type Handler func(ctx context.Context, evt Event)

// Dispatcher queues committed events and hands them to a handler from a single goroutine, in
// publication order.
type Dispatcher struct {
	queue   chan Event
	handler Handler
	log     *logger.Logger
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(size int, handler Handler, log *logger.Logger) *Dispatcher {
	if size < 1 {
		size = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	d := &Dispatcher{
		queue:   make(chan Event, size),
		handler: handler,
		log:     log,
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for evt := range d.queue {
		d.handle(evt)
	}
}

func (d *Dispatcher) handle(evt Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("dispatcher: handler panicked", "type", evt.Type, "errand_id", evt.Errand.ID, "panic", r)
		}
	}()
	d.handler(context.Background(), evt)
}

// Publish enqueues evt, blocking while the queue is full. Events published after Close are dropped.
func (d *Dispatcher) Publish(evt Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn("dispatcher: closed, dropping event", "type", evt.Type, "errand_id", evt.Errand.ID)
		return
	}
	evt.Errand = evt.Errand.Clone()
	d.queue <- evt
}

// Close stops accepting events and waits until the queued ones are handled.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
}
