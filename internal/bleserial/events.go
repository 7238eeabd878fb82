package bleserial

import (
	"log/slog"
	"sync"

	"github.com/cskr/pubsub/v2"
)

// EventType identifies what happened on the link.
type EventType int

const (
	// EventConnect fires once a session is active and the device name is known.
	EventConnect EventType = iota
	// EventDisconnect fires when an active session ends.
	EventDisconnect
	// EventReceive carries bytes notified by the device. They are already
	// in the receive buffer when the event is delivered.
	EventReceive
	// EventWriteFailed carries a payload that could not be written.
	EventWriteFailed
)

func (t EventType) String() string {
	switch t {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventReceive:
		return "receive"
	case EventWriteFailed:
		return "write_failed"
	default:
		return "unknown"
	}
}

// Event is delivered to the registered Listener and to Subscribe channels.
type Event struct {
	Type EventType
	Data []byte
}

// Listener receives events. It runs on the dispatcher goroutine and may call
// back into the Serial that produced the event.
type Listener interface {
	HandleEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

// HandleEvent calls f(e).
func (f ListenerFunc) HandleEvent(e Event) { f(e) }

const eventTopic = "events"

type dispatch struct {
	ev       Event
	listener Listener
}

// dispatcher delivers events in emission order on its own goroutine.
type dispatcher struct {
	queue *queue[dispatch]
	tap   *pubsub.PubSub[string, Event]
	log   *slog.Logger

	tapMu   sync.Mutex
	tapDown bool

	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

func newDispatcher(log *slog.Logger) *dispatcher {
	d := &dispatcher{
		queue:   newQueue[dispatch](),
		tap:     pubsub.New[string, Event](16),
		log:     log,
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// emit queues ev for l. l may be nil when only tap subscribers should see it.
func (d *dispatcher) emit(ev Event, l Listener) {
	d.queue.push(dispatch{ev: ev, listener: l})
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case <-d.stopped:
			return
		case <-d.queue.ready():
		}
		for {
			select {
			case <-d.stopped:
				return
			default:
			}
			item, ok, closed := d.queue.pop()
			if closed {
				return
			}
			if !ok {
				break
			}
			d.publish(item.ev)
			if item.listener != nil {
				d.deliver(item)
			}
		}
	}
}

func (d *dispatcher) deliver(item dispatch) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("[BLE] Event listener panicked", "event", item.ev.Type.String(), "panic", r)
		}
	}()
	item.listener.HandleEvent(item.ev)
}

func (d *dispatcher) publish(ev Event) {
	d.tapMu.Lock()
	defer d.tapMu.Unlock()
	if !d.tapDown {
		d.tap.TryPub(ev, eventTopic)
	}
}

// subscribe returns a lossy channel of events and its cancel function.
// After stop the channel is already closed.
func (d *dispatcher) subscribe() (<-chan Event, func()) {
	d.tapMu.Lock()
	defer d.tapMu.Unlock()
	if d.tapDown {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	ch := d.tap.Sub(eventTopic)
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			go func() {
				d.tapMu.Lock()
				defer d.tapMu.Unlock()
				if !d.tapDown {
					d.tap.Unsub(ch, eventTopic)
				}
			}()
		})
	}
}

// stop drops pending events and closes every subscription channel. It does
// not wait for a listener call in progress.
func (d *dispatcher) stop() {
	d.stopOnce.Do(func() {
		close(d.stopped)
		d.queue.close()
		d.tapMu.Lock()
		d.tapDown = true
		d.tap.Shutdown()
		d.tapMu.Unlock()
	})
}
