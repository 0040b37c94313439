// Package bluez checks that the BlueZ daemon can serve BLE scans before an adapter is opened.
package bluez

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/tiltbrew/tilt-bridge/internal/log"
)

const (
	busName      = "org.bluez"
	adapterIface = "org.bluez.Adapter1"
	propsIface   = "org.freedesktop.DBus.Properties"

	// DefaultAdapter is used when no adapter ID is configured.
	DefaultAdapter = "hci0"
)

var (
	ErrServiceUnavailable = errors.New("org.bluez not found on system bus")
	ErrPoweredOff         = errors.New("bluetooth adapter is powered off")
)

// Bus is the subset of a D-Bus connection used by Probe.
type Bus interface {
	Names() ([]string, error)
	Property(path dbus.ObjectPath, iface, prop string) (dbus.Variant, error)
	Close() error
}

// SystemBus connects to the D-Bus system bus.
func SystemBus() (Bus, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	return &systemBus{conn: conn}, nil
}

type systemBus struct {
	conn *dbus.Conn
}

func (b *systemBus) Names() ([]string, error) {
	var names []string
	if err := b.conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return nil, fmt.Errorf("list bus names: %w", err)
	}
	return names, nil
}

func (b *systemBus) Property(path dbus.ObjectPath, iface, prop string) (dbus.Variant, error) {
	var v dbus.Variant
	err := b.conn.Object(busName, path).Call(propsIface+".Get", 0, iface, prop).Store(&v)
	return v, err
}

func (b *systemBus) Close() error {
	return b.conn.Close()
}

// AdapterPath returns the object path of the adapter with the given ID.
func AdapterPath(id string) dbus.ObjectPath {
	if id == "" {
		id = DefaultAdapter
	}
	return dbus.ObjectPath("/org/bluez/" + id)
}

// Probe returns nil if BlueZ is on bus and the adapter id is powered on.
func Probe(bus Bus, id string) error {
	names, err := bus.Names()
	if err != nil {
		return err
	}
	found := false
	for _, n := range names {
		if n == busName {
			found = true
			break
		}
	}
	if !found {
		return ErrServiceUnavailable
	}

	path := AdapterPath(id)
	v, err := bus.Property(path, adapterIface, "Powered")
	if err != nil {
		return fmt.Errorf("read %s Powered: %w", path, err)
	}
	powered, ok := v.Value().(bool)
	if !ok {
		return fmt.Errorf("property Powered of %s is not bool", path)
	}
	if !powered {
		return fmt.Errorf("%w: %s", ErrPoweredOff, path)
	}
	log.Debug("BlueZ adapter %s is powered on", path)
	return nil
}

// ProbeSystem runs Probe against the system bus.
func ProbeSystem(id string) error {
	bus, err := SystemBus()
	if err != nil {
		return err
	}
	defer bus.Close()
	return Probe(bus, id)
}

// RemediationSteps lists the fixes for errors returned by Probe.
func RemediationSteps(err error) []string {
	switch {
	case errors.Is(err, ErrPoweredOff):
		return []string{"the adapter is powered on (bluetoothctl power on)"}
	case errors.Is(err, ErrServiceUnavailable):
		return []string{"bluetooth.service is running (systemctl start bluetooth)"}
	default:
		return []string{
			"dbus is running and the system bus socket is reachable",
			"containers have access to the host's D-Bus socket (-v /var/run/dbus:/var/run/dbus)",
		}
	}
}
