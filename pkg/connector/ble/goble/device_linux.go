package goble

import (
	"fmt"
	"strconv"
	"strings"

	goble "github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/go-ble/ble/linux/hci/cmd"
)

// Tilts only broadcast, so passive scanning at a 50% duty cycle is enough.
var scanParams = cmd.LESetScanParameters{
	LEScanType:           0,    // Passive scanning
	LEScanInterval:       0x60, // 60ms
	LEScanWindow:         0x30, // 30ms
	OwnAddressType:       0,    // Public
	ScanningFilterPolicy: 0,    // Accept all
}

func IsAdapterError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "operation not permitted") ||
		strings.Contains(msg, "no devices available") ||
		strings.Contains(msg, "can't init hci")
}

func AdapterErrorHelpMessage(err error) string {
	return "Failed to initialize BLE adapter: \n\t" + err.Error() + "\n" +
		"Raw HCI access requires CAP_NET_ADMIN and CAP_NET_RAW, e.g.\n" +
		"\tsudo setcap 'cap_net_raw,cap_net_admin+eip' $(which tilt-control)\n" +
		"and the adapter must not be claimed by bluetoothd (sudo hciconfig hci0 down)."
}

// RemediationSteps lists what to check when the adapter cannot be initialized.
func RemediationSteps() []string {
	return []string{
		"the binary has CAP_NET_ADMIN and CAP_NET_RAW (setcap 'cap_net_raw,cap_net_admin+eip')",
		"an HCI device is present (hciconfig -a)",
		"bluetoothd is not holding the device, or use the tinygo backend instead",
	}
}

func newAdapter(id string) (goble.Device, error) {
	options := []goble.Option{goble.OptScanParams(scanParams)}
	if id != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(id, "hci"))
		if err != nil {
			return nil, fmt.Errorf("%w: '%s'", ErrAdapterInvalidID, id)
		}
		options = append(options, goble.OptDeviceID(n))
	}
	device, err := linux.NewDevice(options...)
	if err != nil {
		return nil, fmt.Errorf("ble: failed to open HCI device: %w", err)
	}
	return device, nil
}
