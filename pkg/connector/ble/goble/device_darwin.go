package goble

import (
	goble "github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"

	"github.com/tiltbrew/tilt-bridge/internal/log"
)

func IsAdapterError(_ error) bool {
	return false
}

func AdapterErrorHelpMessage(err error) string {
	return err.Error()
}

// RemediationSteps lists what to check when the adapter cannot be initialized.
func RemediationSteps() []string {
	return []string{
		"Bluetooth is turned on in System Settings",
		"the terminal running this program is allowed to use Bluetooth (Privacy & Security > Bluetooth)",
	}
}

func newAdapter(id string) (goble.Device, error) {
	if id != "" {
		log.Warning("Darwin does not support specifying a Bluetooth adapter ID")
		return nil, ErrAdapterInvalidID
	}
	device, err := darwin.NewDevice()
	if err != nil {
		return nil, err
	}
	return device, nil
}
