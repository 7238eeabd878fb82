package bleserial

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"time"
)

const (
	// DefaultBaud is reported until the device tells otherwise.
	DefaultBaud uint32 = 9600

	baudTolerance   = 0.05
	baudReadTries   = 3
	baudWriteTries  = 3
	writeDataTries  = 3
	baudValueLength = 4
)

// EncodeBaud returns the 4-byte little-endian encoding of baud.
func EncodeBaud(baud uint32) []byte {
	b := make([]byte, baudValueLength)
	binary.LittleEndian.PutUint32(b, baud)
	return b
}

// DecodeBaud reads a baud rate from the first 4 bytes of b.
// Extra bytes are ignored.
func DecodeBaud(b []byte) (uint32, error) {
	if len(b) < baudValueLength {
		return 0, fmt.Errorf("bleserial: decode baud (%d bytes): %w", len(b), errShortBaud)
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Acceptable reports whether the device baud b is close enough to the
// wanted baud w. The bit periods 1/b and 1/w may differ by at most 5%.
// A zero rate is never acceptable.
func Acceptable(b, w uint32) bool {
	if b == 0 || w == 0 {
		return false
	}
	tb := 1 / float64(b)
	tw := 1 / float64(w)
	return math.Abs(tb-tw)/tw <= baudTolerance
}

// readBaud reads the baud characteristic, tolerating a few failed or
// malformed reads.
func readBaud(c Characteristic) (uint32, error) {
	var lastErr error
	for i := 0; i < baudReadTries; i++ {
		v, err := c.Read()
		if err != nil {
			lastErr = err
			continue
		}
		baud, err := DecodeBaud(v)
		if err != nil {
			lastErr = err
			continue
		}
		return baud, nil
	}
	return 0, fmt.Errorf("bleserial: read baud: %w", lastErr)
}

// applyBaud writes want to the baud characteristic and polls it until the
// device reports an acceptable value. On success the shared baud is updated.
// Failure is only logged.
func (s *Serial) applyBaud(ctx context.Context, c Characteristic, want uint32, log *slog.Logger) {
	value := EncodeBaud(want)
	var err error
	for i := 0; i < baudWriteTries; i++ {
		if err = c.Write(value, WithoutResponse); err == nil {
			break
		}
	}
	if err != nil {
		log.Warn("[BLE] Baud write failed", "baud", want, "error", err)
		return
	}

	for i := 0; i < s.opts.BaudPollAttempts; i++ {
		if !sleepCtx(ctx, s.opts.BaudPollInterval) {
			return
		}
		got, err := readBaud(c)
		if err != nil {
			log.Debug("[BLE] Baud poll failed", "error", err)
			continue
		}
		if Acceptable(got, want) {
			s.state.setBaud(got)
			log.Info("[BLE] Baud rate set", "baud", got, "requested", want)
			return
		}
	}
	log.Warn("[BLE] Device did not accept baud rate", "requested", want)
}

// sleepCtx sleeps for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
