// Package eventbus provides an in-process pub/sub bus for realtime events.
// The realtime client publishes what the server pushed; forms and list
// views subscribe and react.
package eventbus

import (
	"context"
	"sync"

	"github.com/golang/glog"

	"github.com/matthewbaird/desk/internal/event"
)

// Handler processes an event. Implementations must be safe for calls from
// the bus goroutine.
type Handler interface {
	HandleEvent(ctx context.Context, evt event.Event) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt event.Event) error

func (f HandlerFunc) HandleEvent(ctx context.Context, evt event.Event) error {
	return f(ctx, evt)
}

// Bus is an in-process event bus. Events are published to a buffered
// channel and dispatched to all subscribers in a single consumer goroutine,
// so subscribers see events in publish order.
type Bus struct {
	mu          sync.RWMutex
	subscribers []namedHandler
	events      chan event.Event
	done        chan struct{}
	stopOnce    sync.Once
}

type namedHandler struct {
	name    string
	handler Handler
}

// New creates a Bus with the given channel buffer size.
func New(bufSize int) *Bus {
	if bufSize < 1 {
		bufSize = 256
	}
	return &Bus{
		events: make(chan event.Event, bufSize),
		done:   make(chan struct{}),
	}
}

// Subscribe registers a named handler. Subscribing again under the same
// name replaces the previous handler.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subscribers {
		if s.name == name {
			b.subscribers[i].handler = h
			return
		}
	}
	b.subscribers = append(b.subscribers, namedHandler{name: name, handler: h})
}

// Unsubscribe removes a named handler.
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.subscribers[:0]
	for _, s := range b.subscribers {
		if s.name != name {
			out = append(out, s)
		}
	}
	b.subscribers = out
}

// Publish sends an event to the bus. Non-blocking: if the buffer is full
// the event is dropped and a warning is logged.
func (b *Bus) Publish(ctx context.Context, evt event.Event) {
	select {
	case b.events <- evt:
	default:
		glog.Warningf("eventbus: buffer full, dropping %s (%s)", evt, evt.ID)
	}
}

// Start begins the consumer goroutine. It processes events until the
// context is cancelled or Stop is called.
func (b *Bus) Start(ctx context.Context) {
	go func() {
		defer close(b.done)
		for {
			select {
			case evt, ok := <-b.events:
				if !ok {
					return
				}
				b.Dispatch(ctx, evt)
			case <-ctx.Done():
				// Drain remaining events before exiting.
				for {
					select {
					case evt, ok := <-b.events:
						if !ok {
							return
						}
						b.Dispatch(ctx, evt)
					default:
						return
					}
				}
			}
		}
	}()
}

// Stop closes the bus and waits for the consumer goroutine to finish.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.events) })
	<-b.done
}

// Dispatch delivers evt to every subscriber synchronously.
func (b *Bus) Dispatch(ctx context.Context, evt event.Event) {
	b.mu.RLock()
	subs := append([]namedHandler(nil), b.subscribers...)
	b.mu.RUnlock()

	for _, s := range subs {
		if err := s.handler.HandleEvent(ctx, evt); err != nil {
			glog.Errorf("eventbus: %s handler error for %s: %v", s.name, evt, err)
		}
	}
}
