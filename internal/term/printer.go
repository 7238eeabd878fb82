package term

import (
	"fmt"
	"io"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ugorji/go/codec"
)

// Output formats accepted by NewPrinter.
const (
	OutputText = "text"
	OutputJSON = "json"
)

// record is one JSON line.
type record struct {
	Time    string `json:"time"`
	Event   string `json:"event"`
	Name    string `json:"name,omitempty"`
	Baud    uint32 `json:"baud,omitempty"`
	Text    string `json:"text,omitempty"`
	Hex     string `json:"hex,omitempty"`
	Message string `json:"message,omitempty"`
}

// Printer writes terminal output either as human readable lines or as
// JSON lines. It is safe for concurrent use.
type Printer struct {
	mu      sync.Mutex
	w       io.Writer
	json    bool
	hexMode bool
	now     func() time.Time

	handle codec.JsonHandle
	enc    *codec.Encoder
}

// NewPrinter returns a Printer for the given output format. In hex mode
// received data is always shown as hex.
func NewPrinter(w io.Writer, output string, hexMode bool) *Printer {
	p := &Printer{
		w:       w,
		json:    output == OutputJSON,
		hexMode: hexMode,
		now:     time.Now,
	}
	p.handle.TypeInfos = codec.NewTypeInfos([]string{"json"})
	p.enc = codec.NewEncoder(w, &p.handle)
	return p
}

// Connected reports a new session.
func (p *Printer) Connected(name string, baud uint32) {
	p.emit(record{Event: "connect", Name: name, Baud: baud},
		fmt.Sprintf("connected to %s, baud rate %d", name, baud))
}

// Disconnected reports the end of a session.
func (p *Printer) Disconnected() {
	p.emit(record{Event: "disconnect"}, "disconnected")
}

// Received shows bytes from the device. Text output falls back to hex for
// data that is not valid UTF-8.
func (p *Printer) Received(data []byte) {
	r := record{Event: "receive", Hex: FormatHex(data)}
	shown := r.Hex
	if !p.hexMode && utf8.Valid(data) {
		r.Text = string(data)
		shown = r.Text
	}
	p.emit(r, "recv: "+shown)
}

// WriteFailed shows a payload the device did not accept.
func (p *Printer) WriteFailed(data []byte) {
	r := record{Event: "write_failed", Hex: FormatHex(data)}
	p.emit(r, "write failed: "+r.Hex)
}

// Baud reports the outcome of a baud rate change.
func (p *Printer) Baud(want, got uint32, err error) {
	if err != nil {
		p.emit(record{Event: "baud", Baud: got, Message: err.Error()},
			fmt.Sprintf("baud rate not set: requested %d, current %d (%v)", want, got, err))
		return
	}
	p.emit(record{Event: "baud", Baud: got},
		fmt.Sprintf("baud rate set: requested %d, current %d", want, got))
}

// Info prints a free-form message.
func (p *Printer) Info(msg string) {
	p.emit(record{Event: "info", Message: msg}, msg)
}

func (p *Printer) emit(r record, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.json {
		fmt.Fprintln(p.w, text)
		return
	}
	r.Time = p.now().UTC().Format(time.RFC3339Nano)
	p.enc.Reset(p.w)
	if err := p.enc.Encode(r); err != nil {
		fmt.Fprintf(p.w, "{\"event\":\"error\",\"message\":%q}\n", err.Error())
		return
	}
	io.WriteString(p.w, "\n")
}
