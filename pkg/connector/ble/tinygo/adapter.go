// Package tinygo scans with tinygo.org/x/bluetooth.
package tinygo

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/tiltbrew/tilt-bridge/internal/log"
	"github.com/tiltbrew/tilt-bridge/pkg/connector/ble"
	"github.com/tiltbrew/tilt-bridge/pkg/protocol"
)

var ErrAdapterInvalidID = protocol.NewError("the bluetooth adapter ID is invalid", false)

// stopRetryInterval paces StopScan retries while a canceled scan is still running.
const stopRetryInterval = 100 * time.Millisecond

// NewAdapter enables the adapter identified by id. An empty id selects the default adapter.
func NewAdapter(id string) (*Adapter, error) {
	device, err := newAdapter(id)
	if err != nil {
		return nil, fmt.Errorf("ble: failed to create device: %w", err)
	}
	if err = device.Enable(); err != nil {
		return nil, fmt.Errorf("ble: failed to enable device: %w", err)
	}
	return &Adapter{device: device}, nil
}

// Adapter implements ble.Adapter.
type Adapter struct {
	lock   sync.Mutex
	device *bluetooth.Adapter
}

// Scan blocks until ctx is canceled or the scan fails.
func (a *Adapter) Scan(ctx context.Context, handler func(ble.Advertisement)) error {
	a.lock.Lock()
	device := a.device
	a.lock.Unlock()
	if device == nil {
		return protocol.NewError(ble.ErrScannerUnavailable, false)
	}
	// The library has no context support, so a scan started after ctx is done would never stop.
	if err := ctx.Err(); err != nil {
		return err
	}

	stopScan := func() {
		if err := device.StopScan(); err != nil {
			if strings.Contains(err.Error(), "no scan in progress") {
				return
			}
			log.Warning("ble: failed to stop scan: %s", err)
		}
	}

	scanDone := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		stopWhenDone(ctx, scanDone, stopRetryInterval, stopScan)
	}()
	// Wait for the stopper so it cannot stop a later scan on the same device.
	defer func() {
		close(scanDone)
		<-stopped
	}()

	err := device.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if ctx.Err() != nil {
			return
		}
		handler(toAdvertisement(result))
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// stopWhenDone calls stop once ctx is done, then again every interval until scanDone is closed.
// A stop issued before the library registers the scan is lost, and a quiet channel may never
// deliver another advertisement to notice the cancellation.
func stopWhenDone(ctx context.Context, scanDone <-chan struct{}, interval time.Duration, stop func()) {
	select {
	case <-scanDone:
		return
	case <-ctx.Done():
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-scanDone:
			return
		default:
		}
		stop()
		select {
		case <-scanDone:
			return
		case <-ticker.C:
		}
	}
}

// Close releases the adapter. Scans in progress must be canceled first.
func (a *Adapter) Close() error {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.device = nil
	return nil
}

func toAdvertisement(result bluetooth.ScanResult) ble.Advertisement {
	a := ble.Advertisement{
		Address:   result.Address.String(),
		LocalName: result.LocalName(),
		RSSI:      result.RSSI,
	}
	for _, md := range result.ManufacturerData() {
		a.ManufacturerData = append(a.ManufacturerData, ble.ManufacturerData{
			CompanyID: md.CompanyID,
			Data:      md.Data,
		})
	}
	return a
}
