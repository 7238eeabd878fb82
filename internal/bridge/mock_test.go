package bridge

import (
	"sync"

	"github.com/wuwbobo2021/rtl8762c-ble-uart/internal/bleserial"
)

type published struct {
	topic    string
	payload  string
	qos      byte
	retained bool
}

type mockPublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *mockPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, payload: string(payload), qos: qos, retained: retained})
	return p.err
}

func (p *mockPublisher) messages() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

type mockSerial struct {
	mu        sync.Mutex
	connected bool
	rx        []byte
	written   [][]byte
	writeErr  error
	bauds     chan uint32
}

func newMockSerial() *mockSerial {
	return &mockSerial{connected: true, bauds: make(chan uint32, 4)}
}

func (s *mockSerial) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	s.written = append(s.written, append([]byte(nil), p...))
	return len(p), nil
}

func (s *mockSerial) DrainReadBuf() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.rx
	s.rx = nil
	return out
}

func (s *mockSerial) SetBaudRate(baud uint32) (uint32, error) {
	s.bauds <- baud
	return baud, nil
}

func (s *mockSerial) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *mockSerial) writes() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.written...)
}

// mockMessage implements pahomqtt.Message.
type mockMessage struct {
	topic   string
	payload []byte
}

func (m mockMessage) Duplicate() bool   { return false }
func (m mockMessage) Qos() byte         { return 0 }
func (m mockMessage) Retained() bool    { return false }
func (m mockMessage) Topic() string     { return m.topic }
func (m mockMessage) MessageID() uint16 { return 0 }
func (m mockMessage) Payload() []byte   { return m.payload }
func (m mockMessage) Ack()              {}

var _ Serial = (*bleserial.Serial)(nil)
