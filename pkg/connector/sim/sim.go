// Package sim provides a ble.Adapter that broadcasts synthetic Tilt advertisements. It is used
// for demos and for running the bridge on machines without a Bluetooth radio.
package sim

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/tiltbrew/tilt-bridge/pkg/connector/ble"
	"github.com/tiltbrew/tilt-bridge/pkg/protocol"
)

// DefaultInterval matches the broadcast period of a Tilt.
const DefaultInterval = time.Second

// Hydrometer is the simulated state of one Tilt.
type Hydrometer struct {
	Color       string
	Temperature float64 // Degrees Fahrenheit
	Gravity     float64
	// Attenuation per broadcast; a fermenting beer loses gravity over time.
	GravityStep float64
	RSSI        int16
}

// Adapter implements ble.Adapter.
type Adapter struct {
	interval time.Duration

	lock        sync.Mutex
	hydrometers []Hydrometer
	ticks       int
}

// NewAdapter returns an Adapter broadcasting for each hydrometer every interval.
func NewAdapter(interval time.Duration, hydrometers ...Hydrometer) (*Adapter, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	for _, h := range hydrometers {
		if _, ok := protocol.ColorUUID(h.Color); !ok {
			return nil, fmt.Errorf("sim: unknown Tilt colour '%s'", h.Color)
		}
	}
	return &Adapter{interval: interval, hydrometers: hydrometers}, nil
}

// Scan broadcasts until ctx is canceled.
func (a *Adapter) Scan(ctx context.Context, handler func(ble.Advertisement)) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			adverts, err := a.tick()
			if err != nil {
				return err
			}
			for _, adv := range adverts {
				handler(adv)
			}
		}
	}
}

// Close has no effect.
func (a *Adapter) Close() error {
	return nil
}

func (a *Adapter) tick() ([]ble.Advertisement, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.ticks++

	adverts := make([]ble.Advertisement, 0, len(a.hydrometers))
	for i := range a.hydrometers {
		h := &a.hydrometers[i]
		// Temperature wanders by up to a degree over a minute.
		temp := h.Temperature + math.Sin(float64(a.ticks)/10)
		data, err := protocol.EncodeTilt(h.Color, int16(math.Round(temp)), int16(math.Round(h.Gravity*1000)), -59)
		if err != nil {
			return nil, err
		}
		adverts = append(adverts, ble.Advertisement{
			Address: fmt.Sprintf("5A:11:00:00:00:%02X", i+1),
			RSSI:    h.RSSI,
			ManufacturerData: []ble.ManufacturerData{
				{CompanyID: protocol.AppleCompanyID, Data: data},
			},
		})
		if h.Gravity-h.GravityStep >= 1.0 {
			h.Gravity -= h.GravityStep
		}
	}
	return adverts, nil
}
