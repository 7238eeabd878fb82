package bleserial

import (
	"context"
	"log/slog"
	"time"
)

type source int

const (
	sourceRequest source = iota
	sourceNotify
	sourceTimer
)

type muxItem struct {
	src  source
	req  request
	note Notification
}

// multiplexer merges the request queue, the notification stream and the
// liveness ticker of one session in arrival order.
type multiplexer struct {
	reqs  *queue[request]
	notes <-chan Notification
	tick  <-chan time.Time
}

// next blocks for the next item. Any source ending is returned as an error.
func (m *multiplexer) next(ctx context.Context) (muxItem, error) {
	for {
		select {
		case <-ctx.Done():
			return muxItem{}, ctx.Err()
		case <-m.reqs.ready():
			r, ok, closed := m.reqs.pop()
			if closed {
				return muxItem{}, errRequestsClosed
			}
			if !ok {
				continue
			}
			return muxItem{src: sourceRequest, req: r}, nil
		case n, ok := <-m.notes:
			if !ok {
				return muxItem{}, errNotifyClosed
			}
			return muxItem{src: sourceNotify, note: n}, nil
		case <-m.tick:
			return muxItem{src: sourceTimer}, nil
		}
	}
}

// serve runs the active session until a source ends or shutdown is requested.
func (s *Serial) serve(ctx context.Context, conn Connection, chars uartChars, notes <-chan Notification, reqs *queue[request], log *slog.Logger) error {
	ticker := time.NewTicker(s.opts.LivenessInterval)
	defer ticker.Stop()
	m := &multiplexer{reqs: reqs, notes: notes, tick: ticker.C}

	for {
		item, err := m.next(ctx)
		if err != nil {
			log.Debug("[BLE] Session stream ended", "error", err)
			return err
		}
		switch item.src {
		case sourceNotify:
			if item.note.UUID != ReadCharUUID {
				continue
			}
			data := make([]byte, len(item.note.Value))
			copy(data, item.note.Value)
			s.state.appendRx(item.note.Value)
			s.emit(Event{Type: EventReceive, Data: data})
		case sourceTimer:
			if !conn.IsConnected() {
				log.Debug("[BLE] Liveness check failed")
				return errLinkLost
			}
		case sourceRequest:
			switch item.req.kind {
			case reqSetBaud:
				s.applyBaud(ctx, chars.baud, item.req.baud, log)
			case reqWrite:
				s.writeData(chars.write, item.req.data, log)
			case reqShutdown:
				return errShutdown
			}
		}
	}
}

// writeData sends one payload with a few retries.
func (s *Serial) writeData(c Characteristic, data []byte, log *slog.Logger) {
	var err error
	for i := 0; i < writeDataTries; i++ {
		if err = c.Write(data, WithResponse); err == nil {
			return
		}
	}
	log.Warn("[BLE] Write failed", "bytes", len(data), "error", err)
	s.emit(Event{Type: EventWriteFailed, Data: data})
}
