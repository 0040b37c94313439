// Package goble scans with github.com/go-ble/ble.
package goble

import (
	"context"
	"errors"

	goble "github.com/go-ble/ble"

	"github.com/tiltbrew/tilt-bridge/internal/log"
	"github.com/tiltbrew/tilt-bridge/pkg/connector/ble"
	"github.com/tiltbrew/tilt-bridge/pkg/protocol"
)

var ErrAdapterInvalidID = protocol.NewError("the bluetooth adapter ID is invalid", false)

// NewAdapter opens the HCI device identified by id, e.g. "hci0". An empty id selects the first
// device.
func NewAdapter(id string) (*Adapter, error) {
	device, err := newAdapter(id)
	if err != nil {
		return nil, err
	}
	return &Adapter{device: device}, nil
}

// Adapter implements ble.Adapter.
type Adapter struct {
	device goble.Device
}

// Scan blocks until ctx is canceled or the scan fails. Duplicate advertisements are reported
// so that every Tilt broadcast yields a reading.
func (a *Adapter) Scan(ctx context.Context, handler func(ble.Advertisement)) error {
	if a.device == nil {
		return protocol.NewError(ble.ErrScannerUnavailable, false)
	}
	err := a.device.Scan(ctx, true, func(adv goble.Advertisement) {
		handler(toAdvertisement(adv))
	})
	// device.Scan always returns an error on MacOS because it only terminates once ctx is done.
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close stops the HCI device.
func (a *Adapter) Close() error {
	if a.device == nil {
		return nil
	}
	device := a.device
	a.device = nil
	log.Debug("Closing BLE adapter")
	return device.Stop()
}

func toAdvertisement(adv goble.Advertisement) ble.Advertisement {
	a := ble.Advertisement{
		Address:   adv.Addr().String(),
		LocalName: adv.LocalName(),
		RSSI:      int16(adv.RSSI()),
	}
	if companyID, data, ok := protocol.SplitManufacturerData(adv.ManufacturerData()); ok {
		a.ManufacturerData = []ble.ManufacturerData{{CompanyID: companyID, Data: data}}
	}
	return a
}
