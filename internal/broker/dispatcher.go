package broker

import (
	"sync"
)

const defaultDispatchQueue = 256

// Dispatcher is a Hooks that queues every event on a channel consumed by a
// single goroutine, so the wrapped hooks never run on a transport goroutine
// and see events one at a time in arrival order.
type Dispatcher struct {
	next   Hooks
	events chan Event
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts a dispatcher delivering to next. A non-positive size
// uses the default queue length.
func NewDispatcher(next Hooks, size int) *Dispatcher {
	if size <= 0 {
		size = defaultDispatchQueue
	}
	d := &Dispatcher{
		next:   next,
		events: make(chan Event, size),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.events {
		switch e := ev.(type) {
		case ConnectEvent:
			d.next.OnConnect(e)
		case PublishEvent:
			d.next.OnPublish(e)
		case SubscribeEvent:
			d.next.OnSubscribe(e)
		case MessageEvent:
			d.next.OnMessage(e)
		}
	}
}

// enqueue blocks while the queue is full. Events after Close are dropped.
func (d *Dispatcher) enqueue(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	d.events <- ev
}

func (d *Dispatcher) OnConnect(e ConnectEvent)     { d.enqueue(e) }
func (d *Dispatcher) OnPublish(e PublishEvent)     { d.enqueue(e) }
func (d *Dispatcher) OnSubscribe(e SubscribeEvent) { d.enqueue(e) }
func (d *Dispatcher) OnMessage(e MessageEvent)     { d.enqueue(e) }

// Close stops accepting events and waits until queued ones are delivered.
// It is safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
	d.mu.Unlock()
	<-d.done
}
