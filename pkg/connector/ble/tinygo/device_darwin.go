package tinygo

import (
	"tinygo.org/x/bluetooth"
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

func newAdapter(id string) (*bluetooth.Adapter, error) {
	if id != "" {
		return nil, ErrAdapterInvalidID
	}
	return bluetooth.DefaultAdapter, nil
}
