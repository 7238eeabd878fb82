package bridge

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/wuwbobo2021/rtl8762c-ble-uart/internal/bleserial"
	"github.com/wuwbobo2021/rtl8762c-ble-uart/internal/config"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTopics(t *testing.T) {
	for _, prefix := range []string{"lab/uart", "lab/uart/"} {
		tp := Topics{Prefix: prefix}
		tests := []struct{ got, want string }{
			{tp.RX(), "lab/uart/rx"},
			{tp.TX(), "lab/uart/tx"},
			{tp.Baud(), "lab/uart/baud"},
			{tp.Status(), "lab/uart/status"},
			{tp.Error(), "lab/uart/error"},
		}
		for _, tt := range tests {
			if tt.got != tt.want {
				t.Errorf("prefix %q: got %q, want %q", prefix, tt.got, tt.want)
			}
		}
	}
}

func TestHandleEvent(t *testing.T) {
	ser := newMockSerial()
	ser.rx = []byte("hello world")
	pub := &mockPublisher{}
	b := New(ser, pub, Topics{Prefix: "u"}, 1, discard())

	b.HandleEvent(bleserial.Event{Type: bleserial.EventConnect})
	b.HandleEvent(bleserial.Event{Type: bleserial.EventReceive, Data: []byte("hello")})
	b.HandleEvent(bleserial.Event{Type: bleserial.EventReceive, Data: []byte("late")})
	b.HandleEvent(bleserial.Event{Type: bleserial.EventWriteFailed, Data: []byte{0x01, 0xFF}})
	b.HandleEvent(bleserial.Event{Type: bleserial.EventDisconnect})

	want := []published{
		{"u/status", "online", 1, true},
		{"u/rx", "hello world", 1, false},
		{"u/error", "01 ff", 1, false},
		{"u/status", "offline", 1, true},
	}
	got := pub.messages()
	if len(got) != len(want) {
		t.Fatalf("published %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestHandleEventPublishErrorIgnored(t *testing.T) {
	pub := &mockPublisher{err: ErrNotConnected}
	b := New(newMockSerial(), pub, Topics{Prefix: "u"}, 0, discard())
	b.HandleEvent(bleserial.Event{Type: bleserial.EventConnect})
	if len(pub.messages()) != 1 {
		t.Fatal("publish should have been attempted")
	}
}

func TestPublishStatus(t *testing.T) {
	ser := newMockSerial()
	pub := &mockPublisher{}
	b := New(ser, pub, Topics{Prefix: "u"}, 1, discard())

	b.PublishStatus()
	ser.connected = false
	b.PublishStatus()

	got := pub.messages()
	if len(got) != 2 || got[0].payload != "online" || got[1].payload != "offline" {
		t.Fatalf("published %+v", got)
	}
}

func TestHandleMessageTX(t *testing.T) {
	ser := newMockSerial()
	b := New(ser, &mockPublisher{}, Topics{Prefix: "u"}, 1, discard())

	if err := b.HandleMessage("u/tx", []byte("AT\r\n")); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if err := b.HandleMessage("u/tx", nil); err != nil {
		t.Fatalf("empty payload error = %v", err)
	}
	w := ser.writes()
	if len(w) != 1 || !bytes.Equal(w[0], []byte("AT\r\n")) {
		t.Errorf("writes = %q", w)
	}
}

func TestHandleMessageTXErrors(t *testing.T) {
	ser := newMockSerial()
	b := New(ser, &mockPublisher{}, Topics{Prefix: "u"}, 1, discard())

	ser.writeErr = bleserial.ErrNotConnected
	if err := b.HandleMessage("u/tx", []byte("x")); err != nil {
		t.Errorf("disconnected write should be dropped, got %v", err)
	}

	ser.writeErr = bleserial.ErrChannelClosed
	if err := b.HandleMessage("u/tx", []byte("x")); !errors.Is(err, bleserial.ErrChannelClosed) {
		t.Errorf("error = %v, want ErrChannelClosed", err)
	}
}

func TestHandleMessageBaud(t *testing.T) {
	ser := newMockSerial()
	b := New(ser, &mockPublisher{}, Topics{Prefix: "u"}, 1, discard())

	if err := b.HandleMessage("u/baud", []byte(" 115200\n")); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	select {
	case got := <-ser.bauds:
		if got != 115200 {
			t.Errorf("SetBaudRate(%d), want 115200", got)
		}
	case <-time.After(time.Second):
		t.Fatal("SetBaudRate was not called")
	}

	for _, bad := range []string{"", "fast", "0", "-9600", "99999999999"} {
		if err := b.HandleMessage("u/baud", []byte(bad)); err == nil {
			t.Errorf("HandleMessage(baud %q) should fail", bad)
		}
	}
}

func TestHandleMessageUnknownTopic(t *testing.T) {
	b := New(newMockSerial(), &mockPublisher{}, Topics{Prefix: "u"}, 1, discard())
	if err := b.HandleMessage("u/rx", []byte("x")); err == nil {
		t.Error("expected error for unexpected topic")
	}
}

func TestClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker:      "tcp://broker.local:1883",
		ClientID:    "bench-1",
		Username:    "user",
		Password:    "secret",
		TopicPrefix: "lab/uart",
		QoS:         1,
	}
	c := newClient(cfg, discard())
	opts := c.clientOptions()

	if len(opts.Servers) != 1 || opts.Servers[0].String() != cfg.Broker {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "bench-1" || opts.Username != "user" || opts.Password != "secret" {
		t.Errorf("identity = %q %q %q", opts.ClientID, opts.Username, opts.Password)
	}
	if !opts.WillEnabled || opts.WillTopic != "lab/uart/status" || string(opts.WillPayload) != "offline" || !opts.WillRetained {
		t.Errorf("will = %v %q %q %v", opts.WillEnabled, opts.WillTopic, opts.WillPayload, opts.WillRetained)
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect should be enabled")
	}
}

func TestClientNotConnected(t *testing.T) {
	c := newClient(config.MQTTConfig{TopicPrefix: "u"}, discard())

	if err := c.Publish("u/rx", []byte("x"), 0, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if err := c.Publish("", nil, 0, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish(\"\") error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("u/rx", nil, 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Publish(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Subscribe("u/tx", 0, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil) error = %v, want ErrSubscribeFailed", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestWrapHandler(t *testing.T) {
	c := newClient(config.MQTTConfig{}, discard())

	var got string
	h := c.wrapHandler(func(topic string, payload []byte) error {
		got = topic + "=" + string(payload)
		return errors.New("ignored")
	})
	h(nil, mockMessage{topic: "u/tx", payload: []byte("hi")})
	if got != "u/tx=hi" {
		t.Errorf("handler saw %q", got)
	}

	panicky := c.wrapHandler(func(string, []byte) error { panic("boom") })
	panicky(nil, mockMessage{topic: "u/tx"})
}
