package bleserial

import (
	"errors"

	"github.com/smallnest/ringbuffer"
)

const defaultRxBufferSize = 4096

// rxBuffer is the receive FIFO shared between the supervisor and readers.
// It grows instead of dropping bytes. Callers hold the shared state lock.
type rxBuffer struct {
	rb   *ringbuffer.RingBuffer
	size int
}

func newRxBuffer(size int) *rxBuffer {
	if size <= 0 {
		size = defaultRxBufferSize
	}
	return &rxBuffer{rb: ringbuffer.New(size), size: size}
}

// append stores p after the bytes already buffered.
func (b *rxBuffer) append(p []byte) {
	if len(p) == 0 {
		return
	}
	if b.rb.Free() < len(p) {
		b.grow(b.rb.Length() + len(p))
	}
	for len(p) > 0 {
		n, err := b.rb.Write(p)
		p = p[n:]
		if err != nil && len(p) > 0 {
			b.grow(b.rb.Length() + len(p))
		}
	}
}

// read moves up to len(p) of the oldest bytes into p.
func (b *rxBuffer) read(p []byte) int {
	if len(p) == 0 || b.rb.IsEmpty() {
		return 0
	}
	n, err := b.rb.Read(p)
	if errors.Is(err, ringbuffer.ErrIsEmpty) {
		return 0
	}
	return n
}

// drain returns all buffered bytes and empties the buffer.
func (b *rxBuffer) drain() []byte {
	out := make([]byte, b.rb.Length())
	n := 0
	for n < len(out) {
		m := b.read(out[n:])
		if m == 0 {
			break
		}
		n += m
	}
	return out[:n]
}

func (b *rxBuffer) len() int { return b.rb.Length() }

func (b *rxBuffer) grow(need int) {
	size := b.size * 2
	for size < need {
		size *= 2
	}
	pending := b.drain()
	b.rb = ringbuffer.New(size)
	b.size = size
	if len(pending) > 0 {
		_, _ = b.rb.Write(pending)
	}
}
