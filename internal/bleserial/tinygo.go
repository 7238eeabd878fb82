package bleserial

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"tinygo.org/x/bluetooth"
)

// maxAttrValue is the largest GATT attribute value.
const maxAttrValue = 512

// TinyGoAdapter implements Adapter over tinygo.org/x/bluetooth.
// Device addresses are upper-case "AA:BB:CC:DD:EE:FF" strings.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter

	enableMu sync.Mutex
	enabled  bool

	scanMu   sync.Mutex
	scanning bool
	scanErr  error
	scanDone chan struct{}

	discovered *xsync.MapOf[string, Device]
	conns      *xsync.MapOf[string, *tinyGoConnection]
}

// NewTinyGoAdapter returns an adapter backed by the default system adapter.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:    bluetooth.DefaultAdapter,
		discovered: xsync.NewMapOf[string, Device](),
		conns:      xsync.NewMapOf[string, *tinyGoConnection](),
	}
}

func (a *TinyGoAdapter) Enable() error {
	a.enableMu.Lock()
	defer a.enableMu.Unlock()
	if a.enabled {
		return nil
	}
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("bleserial: enable adapter: %w", err)
	}

	// The platform stack reports link loss through this adapter-wide handler.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		if conn, ok := a.conns.LoadAndDelete(strings.ToUpper(device.Address.String())); ok {
			conn.markLost()
		}
	})
	a.enabled = true
	return nil
}

// Scan starts a background scan that records every peripheral advertising
// service. The scan runs until StopScan or until ctx is done.
func (a *TinyGoAdapter) Scan(ctx context.Context, service bluetooth.UUID) error {
	a.scanMu.Lock()
	defer a.scanMu.Unlock()
	if a.scanning {
		return nil
	}
	a.discovered.Clear()
	a.scanning = true
	a.scanErr = nil
	done := make(chan struct{})
	a.scanDone = done

	go func() {
		err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !result.HasServiceUUID(service) {
				return
			}
			addr := strings.ToUpper(result.Address.String())
			a.discovered.Store(addr, Device{
				Address: addr,
				Name:    result.LocalName(),
				RSSI:    int(result.RSSI),
			})
		})
		a.scanMu.Lock()
		a.scanning = false
		if err != nil {
			a.scanErr = fmt.Errorf("bleserial: scan: %w", err)
		}
		a.scanMu.Unlock()
		close(done)
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = a.adapter.StopScan()
		case <-done:
		}
	}()
	return nil
}

func (a *TinyGoAdapter) StopScan() error {
	a.scanMu.Lock()
	running := a.scanning
	done := a.scanDone
	a.scanMu.Unlock()
	if !running {
		return nil
	}
	if err := a.adapter.StopScan(); err != nil {
		return fmt.Errorf("bleserial: stop scan: %w", err)
	}
	<-done
	return nil
}

// Discovered returns the peripherals seen since the last Scan call. A scan
// that ended with an error reports it here.
func (a *TinyGoAdapter) Discovered() ([]Device, error) {
	a.scanMu.Lock()
	err := a.scanErr
	a.scanMu.Unlock()
	if err != nil {
		return nil, err
	}
	var devices []Device
	a.discovered.Range(func(_ string, d Device) bool {
		devices = append(devices, d)
		return true
	})
	return devices, nil
}

func (a *TinyGoAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(address)

	device, err := awaitConnect(ctx, func() (bluetooth.Device, error) {
		return a.adapter.Connect(addr, bluetooth.ConnectionParams{})
	}, func(d bluetooth.Device) { _ = d.Disconnect() })
	if err != nil {
		return nil, fmt.Errorf("bleserial: connect to %s: %w", address, err)
	}
	conn := &tinyGoConnection{
		adapter: a,
		address: strings.ToUpper(address),
		device:  &device,
		gone:    make(chan struct{}),
	}
	a.conns.Store(conn.address, conn)
	return conn, nil
}

// awaitConnect runs dial until it returns or ctx is done. The platform
// connect cannot be cancelled, so a link that comes up after ctx is done is
// handed to release instead of being left open.
func awaitConnect[D any](ctx context.Context, dial func() (D, error), release func(D)) (D, error) {
	type connectResult struct {
		device D
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := dial()
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				release(r.device)
			}
		}()
		var zero D
		return zero, ctx.Err()
	case r := <-ch:
		return r.device, r.err
	}
}

var _ Adapter = (*TinyGoAdapter)(nil)

type tinyGoConnection struct {
	adapter *TinyGoAdapter
	address string
	device  *bluetooth.Device

	mu       sync.RWMutex
	lost     bool
	notifyCh chan Notification

	goneOnce sync.Once
	gone     chan struct{}
}

func (c *tinyGoConnection) DiscoverCharacteristics(service bluetooth.UUID) ([]Characteristic, error) {
	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{service})
	if err != nil {
		return nil, fmt.Errorf("bleserial: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("bleserial: service %s not found", service.String())
	}
	chars, err := svcs[0].DiscoverCharacteristics(nil)
	if err != nil {
		return nil, fmt.Errorf("bleserial: discover characteristics: %w", err)
	}
	out := make([]Characteristic, 0, len(chars))
	for i := range chars {
		out = append(out, &tinyGoCharacteristic{char: &chars[i], address: c.address})
	}
	return out, nil
}

// Subscribe enables notifications and forwards them on a channel that is
// closed when the link is lost or Disconnect is called.
func (c *tinyGoConnection) Subscribe(ch Characteristic) (<-chan Notification, error) {
	tc, ok := ch.(*tinyGoCharacteristic)
	if !ok {
		return nil, fmt.Errorf("bleserial: subscribe: foreign characteristic %T", ch)
	}
	c.mu.Lock()
	if c.lost {
		c.mu.Unlock()
		return nil, fmt.Errorf("bleserial: subscribe: %w", errLinkLost)
	}
	if c.notifyCh == nil {
		c.notifyCh = make(chan Notification, 64)
	}
	out := c.notifyCh
	c.mu.Unlock()

	uuid := tc.UUID()
	err := tc.char.EnableNotifications(func(buf []byte) {
		value := make([]byte, len(buf))
		copy(value, buf)
		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.lost {
			return
		}
		select {
		case out <- Notification{UUID: uuid, Value: value}:
		case <-c.gone:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("bleserial: enable notifications: %w", err)
	}
	return out, nil
}

func (c *tinyGoConnection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.lost
}

func (c *tinyGoConnection) Disconnect() error {
	c.adapter.conns.Delete(c.address)
	c.markLost()
	if err := c.device.Disconnect(); err != nil {
		return fmt.Errorf("bleserial: disconnect: %w", err)
	}
	return nil
}

// markLost closes the notification channel exactly once. gone is closed
// first so a callback blocked on a full channel lets go of the read lock.
func (c *tinyGoConnection) markLost() {
	c.goneOnce.Do(func() { close(c.gone) })
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lost {
		return
	}
	c.lost = true
	if c.notifyCh != nil {
		close(c.notifyCh)
	}
}

type tinyGoCharacteristic struct {
	char    *bluetooth.DeviceCharacteristic
	address string

	// BlueZ object path, resolved on the first acknowledged write (Linux).
	pathMu  sync.Mutex
	busPath string
}

func (c *tinyGoCharacteristic) UUID() bluetooth.UUID { return c.char.UUID() }

func (c *tinyGoCharacteristic) Read() ([]byte, error) {
	buf := make([]byte, maxAttrValue)
	n, err := c.char.Read(buf)
	if err != nil {
		return nil, err
	}
	if n > len(buf) {
		n = len(buf)
	}
	return buf[:n], nil
}

// Write sends data as a write command or, for WithResponse, as an
// acknowledged write request through writeRequest.
func (c *tinyGoCharacteristic) Write(data []byte, mode WriteMode) error {
	if mode == WithoutResponse {
		_, err := c.char.WriteWithoutResponse(data)
		return err
	}
	return c.writeRequest(data)
}

// WriteDescriptor is not offered by tinygo; EnableNotifications writes the
// CCCD itself.
func (c *tinyGoCharacteristic) WriteDescriptor(uuid bluetooth.UUID, _ []byte) error {
	return fmt.Errorf("bleserial: write descriptor %s: %w: %w", uuid.String(), errDescUnsupported, errors.ErrUnsupported)
}
