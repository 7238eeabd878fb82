// Package bleserial turns the three-characteristic UART service of an
// RTL8762C BLE bridge into a blocking byte-stream transport. A background
// supervisor scans for the bridge, connects, negotiates the baud rate,
// subscribes to notifications and reconnects whenever the link drops.
package bleserial

import (
	"context"

	"tinygo.org/x/bluetooth"
)

// UART service UUIDs (16-bit values on the Bluetooth base UUID).
var (
	ServiceUUID   = bluetooth.New16BitUUID(0xA00A)
	BaudCharUUID  = bluetooth.New16BitUUID(0xB001)
	WriteCharUUID = bluetooth.New16BitUUID(0xB002)
	ReadCharUUID  = bluetooth.New16BitUUID(0xB003)

	// CCCDUUID is the Client Characteristic Configuration descriptor.
	CCCDUUID = bluetooth.New16BitUUID(0x2902)
)

// enableNotifyValue is written to the CCCD of the read characteristic.
var enableNotifyValue = []byte{0x01, 0x00}

// WriteMode selects between acknowledged and unacknowledged GATT writes.
type WriteMode int

const (
	// WithResponse waits for the peripheral to acknowledge the write.
	WithResponse WriteMode = iota
	// WithoutResponse returns as soon as the write is queued.
	WithoutResponse
)

// Device represents a discovered BLE peripheral.
type Device struct {
	Address string
	Name    string
	RSSI    int
}

// Notification is a characteristic value pushed by the peripheral.
type Notification struct {
	UUID  bluetooth.UUID
	Value []byte
}

// Characteristic represents a GATT characteristic on a connected peripheral.
type Characteristic interface {
	UUID() bluetooth.UUID
	// Read returns the current value of the characteristic.
	Read() ([]byte, error)
	// Write replaces the characteristic value.
	Write(data []byte, mode WriteMode) error
	// WriteDescriptor writes a descriptor of this characteristic.
	WriteDescriptor(uuid bluetooth.UUID, value []byte) error
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristics lists the characteristics of a service.
	DiscoverCharacteristics(service bluetooth.UUID) ([]Characteristic, error)
	// Subscribe enables notifications on c. The returned channel is closed
	// when the link drops or Disconnect is called.
	Subscribe(c Characteristic) (<-chan Notification, error)
	// IsConnected reports whether the link is still up.
	IsConnected() bool
	// Disconnect terminates the connection.
	Disconnect() error
}

// Adapter abstracts the platform BLE stack.
type Adapter interface {
	// Enable powers on the BLE adapter. It may be called repeatedly.
	Enable() error
	// Scan starts discovering peripherals advertising the given service.
	// It returns once the scan is running; results accumulate until StopScan.
	Scan(ctx context.Context, service bluetooth.UUID) error
	// StopScan stops a running scan.
	StopScan() error
	// Discovered returns the peripherals seen by the current scan.
	Discovered() ([]Device, error)
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}
