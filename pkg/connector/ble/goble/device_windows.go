package goble

import (
	"errors"

	goble "github.com/go-ble/ble"
)

func IsAdapterError(_ error) bool {
	return false
}

func AdapterErrorHelpMessage(err error) string {
	return err.Error()
}

// RemediationSteps lists what to check when the adapter cannot be initialized.
func RemediationSteps() []string {
	return []string{"use the tinygo backend on Windows"}
}

func newAdapter(_ string) (goble.Device, error) {
	return nil, errors.New("not supported on Windows")
}
