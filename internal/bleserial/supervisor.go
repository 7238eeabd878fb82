package bleserial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// uartChars are the negotiated characteristics of one session.
type uartChars struct {
	baud  Characteristic
	write Characteristic
	read  Characteristic
}

// run loops over sessions until shutdown. Every failed step starts over.
func (s *Serial) run() {
	defer close(s.done)
	for {
		err := s.runSession(s.ctx)
		if errors.Is(err, errShutdown) || s.ctx.Err() != nil {
			s.state.setName("")
			s.log.Info("[BLE] Supervisor stopped")
			return
		}
		s.log.Debug("[BLE] Session ended", "error", err)
	}
}

func (s *Serial) runSession(ctx context.Context) error {
	log := s.log.With("session", uuid.NewString())
	reqs := newQueue[request]()
	defer reqs.close()

	if wasActive := s.state.beginSession(reqs); wasActive {
		log.Info("[BLE] Disconnected")
		s.emit(Event{Type: EventDisconnect})
	}

	if !sleepCtx(ctx, s.opts.SettleDelay) {
		return ctx.Err()
	}

	dev, err := s.scan(ctx, log)
	if err != nil {
		return err
	}

	conn, err := s.adapter.Connect(ctx, s.state.addr)
	if err != nil {
		log.Debug("[BLE] Connect failed", "error", err)
		return fmt.Errorf("bleserial: connect: %w", err)
	}
	defer func() {
		if err := conn.Disconnect(); err != nil {
			log.Debug("[BLE] Disconnect failed", "error", err)
		}
	}()

	chars, err := discover(conn)
	if err != nil {
		log.Debug("[BLE] Discovery failed", "error", err)
		return err
	}

	baud, err := readBaud(chars.baud)
	if err != nil {
		log.Debug("[BLE] Baud check failed", "error", err)
		return err
	}
	s.state.setBaud(baud)

	if err := chars.read.WriteDescriptor(CCCDUUID, enableNotifyValue); err != nil {
		log.Debug("[BLE] CCCD write failed", "error", err)
	}
	notes, err := conn.Subscribe(chars.read)
	if err != nil {
		log.Debug("[BLE] Subscribe failed", "error", err)
		return fmt.Errorf("bleserial: subscribe: %w", err)
	}

	if want := s.state.preferredBaud(); want != 0 && !Acceptable(baud, want) {
		reqs.push(request{kind: reqSetBaud, baud: want})
	}

	name := dev.Name
	if name == "" {
		name = fallbackName(s.state.addr)
	}
	s.state.setName(name)
	log.Info("[BLE] Connected", "name", name, "baud", baud)
	s.emit(Event{Type: EventConnect})

	return s.serve(ctx, conn, chars, notes, reqs, log)
}

// scan looks for the target address among peripherals advertising the
// UART service.
func (s *Serial) scan(ctx context.Context, log *slog.Logger) (Device, error) {
	if err := s.adapter.Enable(); err != nil {
		log.Debug("[BLE] Enable failed", "error", err)
		return Device{}, fmt.Errorf("bleserial: enable: %w", err)
	}
	if err := s.adapter.Scan(ctx, ServiceUUID); err != nil {
		log.Debug("[BLE] Scan failed", "error", err)
		return Device{}, fmt.Errorf("bleserial: scan: %w", err)
	}
	defer func() {
		if err := s.adapter.StopScan(); err != nil {
			log.Debug("[BLE] Stop scan failed", "error", err)
		}
	}()

	for attempt := 1; attempt <= s.opts.ScanAttempts; attempt++ {
		if !sleepCtx(ctx, s.opts.ScanInterval) {
			return Device{}, ctx.Err()
		}
		devices, err := s.adapter.Discovered()
		if err != nil {
			log.Debug("[BLE] Listing devices failed", "attempt", attempt, "error", err)
			continue
		}
		for _, d := range devices {
			if strings.EqualFold(d.Address, s.state.addr) {
				return d, nil
			}
		}
	}
	log.Debug("[BLE] Device not found", "attempts", s.opts.ScanAttempts)
	return Device{}, fmt.Errorf("bleserial: scan: %w", errDeviceNotFound)
}

func discover(conn Connection) (uartChars, error) {
	list, err := conn.DiscoverCharacteristics(ServiceUUID)
	if err != nil {
		return uartChars{}, fmt.Errorf("bleserial: discover: %w", err)
	}
	var chars uartChars
	for _, c := range list {
		switch c.UUID() {
		case BaudCharUUID:
			chars.baud = c
		case WriteCharUUID:
			chars.write = c
		case ReadCharUUID:
			chars.read = c
		}
	}
	if chars.baud == nil || chars.write == nil || chars.read == nil {
		return uartChars{}, fmt.Errorf("bleserial: discover: %w", errMissingChar)
	}
	return chars, nil
}

// fallbackName names a device that advertises no local name after the
// three most significant octets of its address, lowest first:
// AA:BB:CC:DD:EE:FF becomes RTL-UART-CCBBAA.
func fallbackName(addr string) string {
	parts := strings.Split(strings.ToUpper(addr), ":")
	if len(parts) != 6 {
		return "RTL-UART"
	}
	return "RTL-UART-" + parts[2] + parts[1] + parts[0]
}
