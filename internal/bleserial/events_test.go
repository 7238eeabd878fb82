package bleserial

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestEventTypeString(t *testing.T) {
	tests := map[EventType]string{
		EventConnect:     "connect",
		EventDisconnect:  "disconnect",
		EventReceive:     "receive",
		EventWriteFailed: "write_failed",
		EventType(42):    "unknown",
	}
	for typ, want := range tests {
		if got := typ.String(); got != want {
			t.Errorf("EventType(%d).String() = %q, want %q", int(typ), got, want)
		}
	}
}

func TestDispatcherKeepsOrder(t *testing.T) {
	d := newDispatcher(slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer d.stop()

	got := make(chan byte, 100)
	l := ListenerFunc(func(e Event) { got <- e.Data[0] })
	for i := 0; i < 100; i++ {
		d.emit(Event{Type: EventReceive, Data: []byte{byte(i)}}, l)
	}

	for want := 0; want < 100; want++ {
		select {
		case b := <-got:
			if int(b) != want {
				t.Fatalf("event %d delivered as %d", want, b)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out at event %d", want)
		}
	}
}

func TestDispatcherStopDropsEvents(t *testing.T) {
	d := newDispatcher(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ch, cancel := d.subscribe()
	defer cancel()

	d.stop()
	called := make(chan struct{}, 1)
	d.emit(Event{Type: EventConnect}, ListenerFunc(func(Event) { called <- struct{}{} }))

	select {
	case <-called:
		t.Error("listener called after stop")
	case <-time.After(50 * time.Millisecond):
	}
	if _, ok := <-ch; ok {
		t.Error("subscription channel still open after stop")
	}

	late, _ := d.subscribe()
	if _, ok := <-late; ok {
		t.Error("subscribe after stop returned an open channel")
	}
}

func TestFallbackName(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"AA:BB:CC:DD:EE:FF", "RTL-UART-CCBBAA"},
		{"00:E0:4C:12:34:56", "RTL-UART-4CE000"},
		{"bogus", "RTL-UART"},
	}
	for _, tt := range tests {
		if got := fallbackName(tt.addr); got != tt.want {
			t.Errorf("fallbackName(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}
