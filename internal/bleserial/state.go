package bleserial

import "sync"

// requestKind identifies a command sent from the facade to the session.
type requestKind int

const (
	reqSetBaud requestKind = iota
	reqWrite
	reqShutdown
)

type request struct {
	kind requestKind
	baud uint32
	data []byte
}

// sharedState is everything the facade and the supervisor both touch.
// The device address is fixed at construction.
type sharedState struct {
	addr string

	mu        sync.Mutex
	name      string // empty while no session is active
	baud      uint32
	preferred uint32 // last requested baud, re-applied on reconnect
	rx        *rxBuffer
	requests  *queue[request]
	listener  Listener
}

func newSharedState(addr string, rxSize int, preferred uint32) *sharedState {
	return &sharedState{
		addr:      addr,
		baud:      DefaultBaud,
		preferred: preferred,
		rx:        newRxBuffer(rxSize),
	}
}

// beginSession installs a fresh request queue and clears the device name.
// It reports whether a session was active before.
func (st *sharedState) beginSession(q *queue[request]) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	wasActive := st.name != ""
	st.name = ""
	st.requests = q
	return wasActive
}

func (st *sharedState) setName(name string) {
	st.mu.Lock()
	st.name = name
	st.mu.Unlock()
}

func (st *sharedState) deviceName() (string, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.name, st.name != ""
}

func (st *sharedState) active() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.name != ""
}

func (st *sharedState) setBaud(b uint32) {
	st.mu.Lock()
	st.baud = b
	st.mu.Unlock()
}

func (st *sharedState) baudRate() uint32 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.baud
}

func (st *sharedState) setPreferred(b uint32) {
	st.mu.Lock()
	st.preferred = b
	st.mu.Unlock()
}

func (st *sharedState) preferredBaud() uint32 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.preferred
}

func (st *sharedState) appendRx(p []byte) {
	st.mu.Lock()
	st.rx.append(p)
	st.mu.Unlock()
}

func (st *sharedState) readRx(p []byte) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.rx.read(p)
}

func (st *sharedState) drainRx() []byte {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.rx.drain()
}

func (st *sharedState) buffered() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.rx.len()
}

// send pushes r onto the current session's queue. ok is false when there is
// no active session; accepted is false when the queue was already closed.
func (st *sharedState) send(r request) (ok, accepted bool) {
	st.mu.Lock()
	q := st.requests
	active := st.name != ""
	st.mu.Unlock()
	if !active || q == nil {
		return false, false
	}
	return true, q.push(r)
}

// currentQueue returns the request queue of the running session, if any.
func (st *sharedState) currentQueue() *queue[request] {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.requests
}

func (st *sharedState) setListener(l Listener) {
	st.mu.Lock()
	st.listener = l
	st.mu.Unlock()
}

func (st *sharedState) currentListener() Listener {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.listener
}

// reset drops everything after Close.
func (st *sharedState) reset() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.name = ""
	st.requests = nil
	st.listener = nil
	st.rx = newRxBuffer(st.rx.size)
}
