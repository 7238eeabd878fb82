package bleserial

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
)

// Errors returned synchronously by Serial. Use errors.Is to check for them.
var (
	// ErrInvalidAddress is returned by New when the device address is malformed.
	ErrInvalidAddress = errors.New("bleserial: invalid device address")

	// ErrNoAdapter is returned by New when no BLE adapter is available.
	ErrNoAdapter = errors.New("bleserial: no BLE adapter")

	// ErrNotConnected is returned when no session is active.
	ErrNotConnected = errors.New("bleserial: not connected")

	// ErrReadTimeout is returned by Read when no byte arrived before the deadline.
	ErrReadTimeout = fmt.Errorf("bleserial: read timed out: %w", os.ErrDeadlineExceeded)

	// ErrChannelClosed is returned by Write when the session ended while the
	// request was being handed over.
	ErrChannelClosed = errors.New("bleserial: request channel closed")

	// ErrInvalidBaud is returned by SetBaudRate for a zero baud rate.
	ErrInvalidBaud = errors.New("bleserial: invalid baud rate")

	// ErrBaudNotApplied is returned by SetBaudRate when the device did not
	// report an acceptable baud rate in time.
	ErrBaudNotApplied = errors.New("bleserial: baud rate not applied")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("bleserial: closed")
)

// Step failures inside the supervisor. They never leave the package.
var (
	errDeviceNotFound  = errors.New("target device not found")
	errMissingChar     = errors.New("missing UART characteristic")
	errShortBaud       = errors.New("baud value shorter than 4 bytes")
	errShutdown        = errors.New("shutdown requested")
	errRequestsClosed  = errors.New("request channel closed")
	errNotifyClosed    = errors.New("notification stream ended")
	errLinkLost        = errors.New("link lost")
	errDescUnsupported = errors.New("descriptor writes not supported")
)

// constructionError tags a failure of New for callers that inspect fault metadata.
func constructionError(err error, at, msg string, kind ftag.Kind) error {
	return fault.Wrap(err,
		fctx.With(context.Background(), "error_at", at),
		ftag.With(kind),
		fmsg.With(msg),
	)
}
