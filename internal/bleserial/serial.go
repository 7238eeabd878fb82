package bleserial

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Southclaws/fault/ftag"
	"tinygo.org/x/bluetooth"
)

// Options configures a Serial.
type Options struct {
	// ReadTimeout bounds each Read call.
	ReadTimeout time.Duration

	// SettleDelay is waited before every scan.
	SettleDelay time.Duration

	// ScanAttempts and ScanInterval control how long a scan looks for the device.
	ScanAttempts int
	ScanInterval time.Duration

	// LivenessInterval is how often an active link is checked.
	LivenessInterval time.Duration

	// ReadPollInterval is the sleep between receive buffer polls in Read.
	ReadPollInterval time.Duration

	// BaudPollAttempts and BaudPollInterval control how the device is polled
	// after a baud rate write.
	BaudPollAttempts int
	BaudPollInterval time.Duration

	// SetBaudPollAttempts and SetBaudPollInterval control how long
	// SetBaudRate waits for the new rate.
	SetBaudPollAttempts int
	SetBaudPollInterval time.Duration

	// ShutdownTimeout bounds Close as a whole.
	ShutdownTimeout time.Duration

	// RxBufferSize is the initial receive buffer capacity.
	RxBufferSize int

	// Baud, if non-zero, is applied to the device on every connect.
	Baud uint32

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns the standard timings.
func DefaultOptions() Options {
	return Options{
		ReadTimeout:         500 * time.Millisecond,
		SettleDelay:         1500 * time.Millisecond,
		ScanAttempts:        10,
		ScanInterval:        time.Second,
		LivenessInterval:    2 * time.Second,
		ReadPollInterval:    30 * time.Millisecond,
		BaudPollAttempts:    10,
		BaudPollInterval:    400 * time.Millisecond,
		SetBaudPollAttempts: 10,
		SetBaudPollInterval: time.Second,
		ShutdownTimeout:     2 * time.Second,
		RxBufferSize:        defaultRxBufferSize,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = d.ReadTimeout
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = d.SettleDelay
	}
	if o.ScanAttempts <= 0 {
		o.ScanAttempts = d.ScanAttempts
	}
	if o.ScanInterval <= 0 {
		o.ScanInterval = d.ScanInterval
	}
	if o.LivenessInterval <= 0 {
		o.LivenessInterval = d.LivenessInterval
	}
	if o.ReadPollInterval <= 0 {
		o.ReadPollInterval = d.ReadPollInterval
	}
	if o.BaudPollAttempts <= 0 {
		o.BaudPollAttempts = d.BaudPollAttempts
	}
	if o.BaudPollInterval <= 0 {
		o.BaudPollInterval = d.BaudPollInterval
	}
	if o.SetBaudPollAttempts <= 0 {
		o.SetBaudPollAttempts = d.SetBaudPollAttempts
	}
	if o.SetBaudPollInterval <= 0 {
		o.SetBaudPollInterval = d.SetBaudPollInterval
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = d.ShutdownTimeout
	}
	if o.RxBufferSize <= 0 {
		o.RxBufferSize = d.RxBufferSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Serial is a byte stream over the UART service of one BLE device. The
// connection is managed in the background; methods are safe for concurrent use.
type Serial struct {
	adapter Adapter
	opts    Options
	log     *slog.Logger

	state *sharedState
	disp  *dispatcher

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	closed atomic.Bool
}

// New validates address and starts the connection supervisor. It does not
// wait for the device.
func New(adapter Adapter, address string, opts Options) (*Serial, error) {
	addr, err := CanonicalAddress(address)
	if err != nil {
		return nil, constructionError(err, "parse-address", "invalid address", ftag.InvalidArgument)
	}
	if adapter == nil {
		return nil, constructionError(ErrNoAdapter, "adapter", "runtime unavailable", ftag.Internal)
	}
	opts = opts.withDefaults()
	log := opts.Logger.With("address", addr)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Serial{
		adapter: adapter,
		opts:    opts,
		log:     log,
		state:   newSharedState(addr, opts.RxBufferSize, opts.Baud),
		disp:    newDispatcher(log),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Open builds a Serial over the system BLE adapter with default options.
func Open(address string, readTimeout time.Duration) (*Serial, error) {
	opts := DefaultOptions()
	opts.ReadTimeout = readTimeout
	return New(NewTinyGoAdapter(), address, opts)
}

// CanonicalAddress validates a "AA:BB:CC:DD:EE:FF" address and returns it
// in upper case.
func CanonicalAddress(address string) (string, error) {
	if len(address) != 17 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	for i := 2; i < len(address); i += 3 {
		if address[i] != ':' {
			return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
		}
	}
	mac, err := bluetooth.ParseMAC(strings.ToUpper(address))
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidAddress, address, err)
	}
	return mac.String(), nil
}

// Address returns the canonical device address.
func (s *Serial) Address() string { return s.state.addr }

// IsConnected reports whether a session is active.
func (s *Serial) IsConnected() bool { return s.state.active() }

// DeviceName returns the name of the connected device.
func (s *Serial) DeviceName() (string, bool) { return s.state.deviceName() }

// BaudRate returns the device baud rate while connected.
func (s *Serial) BaudRate() (uint32, bool) {
	if !s.state.active() {
		return 0, false
	}
	return s.state.baudRate(), true
}

// SetBaudRate asks the device to switch to baud and waits until it reports
// an acceptable rate. On failure the returned value is the best-known baud
// rate, 0 if not connected. The rate is remembered and applied again after
// every reconnect.
func (s *Serial) SetBaudRate(baud uint32) (uint32, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	if baud == 0 {
		cur, _ := s.BaudRate()
		return cur, ErrInvalidBaud
	}
	s.state.setPreferred(baud)
	ok, accepted := s.state.send(request{kind: reqSetBaud, baud: baud})
	if !ok {
		return 0, ErrNotConnected
	}
	if !accepted {
		return s.state.baudRate(), ErrChannelClosed
	}

	for i := 0; i < s.opts.SetBaudPollAttempts; i++ {
		time.Sleep(s.opts.SetBaudPollInterval)
		if s.closed.Load() {
			return 0, ErrClosed
		}
		if cur, ok := s.BaudRate(); ok && Acceptable(cur, baud) {
			return cur, nil
		}
	}
	cur, _ := s.BaudRate()
	return cur, ErrBaudNotApplied
}

// DrainReadBuf empties the receive buffer and returns its content.
func (s *Serial) DrainReadBuf() []byte { return s.state.drainRx() }

// Buffered returns the number of bytes waiting in the receive buffer.
func (s *Serial) Buffered() int { return s.state.buffered() }

// OnEvent replaces the event listener. A nil listener removes it.
func (s *Serial) OnEvent(l Listener) { s.state.setListener(l) }

// Subscribe returns a channel receiving every event until cancel is called
// or the Serial is closed. Slow subscribers miss events.
func (s *Serial) Subscribe() (<-chan Event, func()) { return s.disp.subscribe() }

// Read fills p from the receive buffer, waiting up to the read timeout.
// It returns early only once p is full. ErrReadTimeout is returned if no
// byte arrived at all.
func (s *Serial) Read(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	deadline := time.Now().Add(s.opts.ReadTimeout)
	n := 0
	for {
		n += s.state.readRx(p[n:])
		if n == len(p) {
			return n, nil
		}
		left := time.Until(deadline)
		if left <= 0 {
			break
		}
		time.Sleep(min(s.opts.ReadPollInterval, left))
	}
	if n > 0 {
		return n, nil
	}
	return 0, ErrReadTimeout
}

// Write queues p for transmission and returns immediately. A failed
// transmission is reported as an EventWriteFailed.
func (s *Serial) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	data := make([]byte, len(p))
	copy(data, p)
	ok, accepted := s.state.send(request{kind: reqWrite, data: data})
	if !ok {
		return 0, ErrNotConnected
	}
	if !accepted {
		return 0, ErrChannelClosed
	}
	return len(p), nil
}

// Close stops the supervisor and releases the device. Data queued by Write
// before Close is still sent if the link allows it.
func (s *Serial) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	deadline := time.Now().Add(s.opts.ShutdownTimeout)
	if s.state.active() {
		if q := s.state.currentQueue(); q != nil && q.push(request{kind: reqShutdown}) {
			s.waitDone(deadline)
		}
	}
	s.cancel()
	if !s.waitDone(deadline) {
		s.log.Warn("[BLE] Supervisor did not stop in time", "timeout", s.opts.ShutdownTimeout)
	}
	s.disp.stop()
	s.state.reset()
	return nil
}

// waitDone waits for the supervisor to exit, no later than deadline.
func (s *Serial) waitDone(deadline time.Time) bool {
	t := time.NewTimer(time.Until(deadline))
	defer t.Stop()
	select {
	case <-s.done:
		return true
	case <-t.C:
		return false
	}
}

// emit hands ev to the dispatcher with the listener registered right now.
func (s *Serial) emit(ev Event) {
	s.disp.emit(ev, s.state.currentListener())
}
