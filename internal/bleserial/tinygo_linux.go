package bleserial

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	bluezService       = "org.bluez"
	bluezGattChar      = "org.bluez.GattCharacteristic1"
	bluezObjectManager = "org.freedesktop.DBus.ObjectManager"
)

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// writeRequest sends an acknowledged write. tinygo only exposes write
// commands on BlueZ, so the request goes to GattCharacteristic1.WriteValue
// directly.
func (c *tinyGoCharacteristic) writeRequest(data []byte) error {
	// Shared connection, not closed here.
	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("bleserial: system bus: %w", err)
	}
	path, err := c.objectPath(conn)
	if err != nil {
		return err
	}
	opts := map[string]dbus.Variant{"type": dbus.MakeVariant("request")}
	if err := conn.Object(bluezService, path).Call(bluezGattChar+".WriteValue", 0, data, opts).Err; err != nil {
		return fmt.Errorf("bleserial: write request: %w", err)
	}
	return nil
}

func (c *tinyGoCharacteristic) objectPath(conn *dbus.Conn) (dbus.ObjectPath, error) {
	c.pathMu.Lock()
	defer c.pathMu.Unlock()
	if c.busPath != "" {
		return dbus.ObjectPath(c.busPath), nil
	}

	var objects managedObjects
	if err := conn.Object(bluezService, "/").Call(bluezObjectManager+".GetManagedObjects", 0).Store(&objects); err != nil {
		return "", fmt.Errorf("bleserial: get managed objects: %w", err)
	}
	path, err := findCharacteristicPath(objects, c.address, c.UUID().String())
	if err != nil {
		return "", err
	}
	c.busPath = string(path)
	return path, nil
}

// findCharacteristicPath returns the GattCharacteristic1 object with the
// given UUID under the device at address. BlueZ names device objects
// .../dev_AA_BB_CC_DD_EE_FF.
func findCharacteristicPath(objects managedObjects, address, uuid string) (dbus.ObjectPath, error) {
	devPart := "/dev_" + strings.ReplaceAll(strings.ToUpper(address), ":", "_") + "/"
	for path, ifaces := range objects {
		props, ok := ifaces[bluezGattChar]
		if !ok || !strings.Contains(string(path), devPart) {
			continue
		}
		v, ok := props["UUID"]
		if !ok {
			continue
		}
		if s, ok := v.Value().(string); ok && strings.EqualFold(s, uuid) {
			return path, nil
		}
	}
	return "", fmt.Errorf("bleserial: characteristic %s of %s not on the bus", uuid, address)
}
