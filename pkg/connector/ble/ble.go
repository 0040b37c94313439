// Package ble implements the native scanning module on top of a host BLE adapter.
//
// Advertisements are decoded as Tilt iBeacons and published on an event emitter under
// protocol.ScanResultsEvent. Backends live in the tinygo and goble subpackages.
package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tiltbrew/tilt-bridge/internal/log"
	"github.com/tiltbrew/tilt-bridge/pkg/protocol"
)

const (
	// ErrScannerUnavailable is reported through onError when no adapter is present.
	ErrScannerUnavailable = "Bluetooth LE Scanner not available"

	// Advertisements buffered between the radio and the emitter. Tilts broadcast roughly once
	// per second each, so a full buffer means the consumer is stuck.
	inboxSize = 32
)

// CodedError is implemented by adapter errors that carry a numeric failure code.
type CodedError interface {
	error
	Code() int
}

// Publisher receives decoded events.
type Publisher interface {
	Emit(event string, payload *structpb.Struct) int
}

// Module scans with an Adapter and publishes Tilt advertisements. It implements
// connector.Module.
type Module struct {
	adapter Adapter
	events  Publisher

	lock   sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewModule returns a Module publishing on events. A nil adapter yields a module whose scans
// fail with ErrScannerUnavailable.
func NewModule(adapter Adapter, events Publisher) *Module {
	return &Module{adapter: adapter, events: events}
}

// Multiply returns a*b.
func (m *Module) Multiply(_ context.Context, a, b float64) (float64, error) {
	return a * b, nil
}

// StartScanning starts a background scan. It has no effect if a scan is already running.
func (m *Module) StartScanning(onSuccess func(), onError func(message string)) {
	if m.adapter == nil {
		onError(ErrScannerUnavailable)
		return
	}

	m.lock.Lock()
	if m.done != nil {
		m.lock.Unlock()
		log.Debug("BLE scan already running")
		onSuccess()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.lock.Unlock()

	inbox := make(chan Advertisement, inboxSize)
	go m.dispatch(ctx, inbox)
	go func() {
		err := m.adapter.Scan(ctx, func(a Advertisement) {
			select {
			case inbox <- a:
			default:
				log.Warning("Dropping advertisement from %s: consumer is not keeping up", a.Address)
			}
		})

		m.lock.Lock()
		if m.done == done {
			m.cancel = nil
			m.done = nil
		}
		m.lock.Unlock()
		cancel()
		close(done)

		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("BLE scan failed: %s", err)
			onError(scanFailedMessage(err))
		}
	}()
	log.Debug("BLE scan started")
	onSuccess()
}

// StopScanning cancels the running scan and waits for the adapter to release the radio.
func (m *Module) StopScanning() {
	m.lock.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.done = nil
	m.lock.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Debug("BLE scan stopped")
}

// Close stops scanning and closes the adapter.
func (m *Module) Close() error {
	m.StopScanning()
	if m.adapter == nil {
		return nil
	}
	return m.adapter.Close()
}

func (m *Module) dispatch(ctx context.Context, inbox <-chan Advertisement) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-inbox:
			if payload := decode(a); payload != nil {
				m.events.Emit(protocol.ScanResultsEvent, payload)
			}
		}
	}
}

// decode returns the event payload for a, or nil if a is not a Tilt advertisement.
func decode(a Advertisement) *structpb.Struct {
	for _, md := range a.ManufacturerData {
		if md.CompanyID != protocol.AppleCompanyID {
			continue
		}
		adv, err := protocol.ParseTilt(md.CompanyID, md.Data)
		if err != nil {
			if !errors.Is(err, protocol.ErrNotTilt) {
				log.Debug("Ignoring beacon from %s: %s", a.Address, err)
			}
			return nil
		}
		return protocol.EncodeEvent(adv, a.Address, int(a.RSSI))
	}
	return nil
}

func scanFailedMessage(err error) string {
	var coded CodedError
	if errors.As(err, &coded) {
		return fmt.Sprintf("Scan failed with error code: %d", coded.Code())
	}
	return fmt.Sprintf("Scan failed: %s", err)
}
