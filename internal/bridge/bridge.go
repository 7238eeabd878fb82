// Package bridge exposes a BLE serial link on an MQTT broker.
package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/wuwbobo2021/rtl8762c-ble-uart/internal/bleserial"
	"github.com/wuwbobo2021/rtl8762c-ble-uart/internal/term"
)

// Serial is the part of *bleserial.Serial the bridge uses.
type Serial interface {
	Write(p []byte) (int, error)
	DrainReadBuf() []byte
	SetBaudRate(baud uint32) (uint32, error)
	IsConnected() bool
}

// Publisher sends MQTT messages. *Client implements it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Bridge forwards serial events to the broker and broker messages to the
// serial link. Register it with Serial.OnEvent and subscribe HandleMessage
// to the TX and Baud topics.
type Bridge struct {
	serial Serial
	pub    Publisher
	topics Topics
	qos    byte
	log    *slog.Logger
}

// New returns a Bridge. A nil logger means slog.Default().
func New(serial Serial, pub Publisher, topics Topics, qos byte, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{serial: serial, pub: pub, topics: topics, qos: qos, log: log}
}

// HandleEvent implements bleserial.Listener.
func (b *Bridge) HandleEvent(e bleserial.Event) {
	switch e.Type {
	case bleserial.EventConnect:
		b.publish(b.topics.Status(), []byte(StatusOnline), true)
	case bleserial.EventDisconnect:
		b.publish(b.topics.Status(), []byte(StatusOffline), true)
	case bleserial.EventReceive:
		// The buffer may hold more than this event carries if an earlier
		// drain was skipped; send everything.
		data := b.serial.DrainReadBuf()
		if len(data) == 0 {
			return
		}
		b.publish(b.topics.RX(), data, false)
	case bleserial.EventWriteFailed:
		b.publish(b.topics.Error(), []byte(term.FormatHex(e.Data)), false)
	}
}

// PublishStatus republishes the current link status, e.g. after the broker
// connection was restored.
func (b *Bridge) PublishStatus() {
	status := StatusOffline
	if b.serial.IsConnected() {
		status = StatusOnline
	}
	b.publish(b.topics.Status(), []byte(status), true)
}

// HandleMessage processes a message from the TX or Baud topic.
func (b *Bridge) HandleMessage(topic string, payload []byte) error {
	switch topic {
	case b.topics.TX():
		if len(payload) == 0 {
			return nil
		}
		if _, err := b.serial.Write(payload); err != nil {
			if errors.Is(err, bleserial.ErrNotConnected) {
				b.log.Warn("[MQTT] Dropping write while disconnected", "bytes", len(payload))
				return nil
			}
			return fmt.Errorf("bridge: write: %w", err)
		}
		return nil

	case b.topics.Baud():
		baud, err := strconv.ParseUint(strings.TrimSpace(string(payload)), 10, 32)
		if err != nil || baud == 0 {
			return fmt.Errorf("bridge: invalid baud rate %q", payload)
		}
		// SetBaudRate blocks for up to several seconds.
		go func(want uint32) {
			got, err := b.serial.SetBaudRate(want)
			if err != nil {
				b.log.Warn("[MQTT] Baud rate not applied", "requested", want, "current", got, "error", err)
				return
			}
			b.log.Info("[MQTT] Baud rate set", "baud", got)
		}(uint32(baud))
		return nil

	default:
		return fmt.Errorf("bridge: unexpected topic %q", topic)
	}
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	if err := b.pub.Publish(topic, payload, b.qos, retained); err != nil {
		b.log.Warn("[MQTT] Publish failed", "topic", topic, "error", err)
	}
}

var _ bleserial.Listener = (*Bridge)(nil)
