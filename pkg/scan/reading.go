package scan

import (
	"errors"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tiltbrew/tilt-bridge/pkg/protocol"
)

// Reading is a decoded Tilt advertisement. Readings are values; a session never modifies a
// Reading after publishing it.
type Reading struct {
	DeviceID    string
	Temperature float64 // Degrees Fahrenheit
	Gravity     float64 // Specific gravity
	ObservedAt  time.Time

	// Optional fields; nil when the native payload did not carry them.
	UUID    *string
	Address *string
	RSSI    *int
}

// Celsius returns the temperature in degrees Celsius.
func (r Reading) Celsius() float64 {
	return (r.Temperature - 32) * 5 / 9
}

// Struct converts r into a protobuf Struct using the native payload keys, plus "observedAt".
func (r Reading) Struct() *structpb.Struct {
	fields := map[string]*structpb.Value{
		protocol.KeyDevice:      structpb.NewStringValue(r.DeviceID),
		protocol.KeyTemperature: structpb.NewNumberValue(r.Temperature),
		protocol.KeyGravity:     structpb.NewNumberValue(r.Gravity),
		"observedAt":            structpb.NewStringValue(r.ObservedAt.UTC().Format(time.RFC3339Nano)),
	}
	if r.UUID != nil {
		fields[protocol.KeyUUID] = structpb.NewStringValue(*r.UUID)
	}
	if r.Address != nil {
		fields[protocol.KeyDeviceAddress] = structpb.NewStringValue(*r.Address)
	}
	if r.RSSI != nil {
		fields[protocol.KeyRSSI] = structpb.NewNumberValue(float64(*r.RSSI))
	}
	return &structpb.Struct{Fields: fields}
}

// readingFromEvent validates ev. It returns ok == false without a warning when the event has no
// device identifier; such events are noise. A device field of the wrong type or an empty payload
// is malformed, not absent, and yields a warning.
func readingFromEvent(ev protocol.Event, decodeErr error, now time.Time) (reading Reading, ok bool, warning *protocol.DecodeWarning) {
	var w *protocol.DecodeWarning
	if errors.As(decodeErr, &w) && (w.Field == protocol.KeyDevice || w.Field == "") {
		return Reading{}, false, w
	}
	if ev.Device == nil || *ev.Device == "" {
		return Reading{}, false, nil
	}
	if decodeErr != nil {
		if w, isWarning := decodeErr.(*protocol.DecodeWarning); isWarning {
			return Reading{}, false, w
		}
		return Reading{}, false, &protocol.DecodeWarning{Reason: decodeErr.Error()}
	}
	if ev.Temperature == nil {
		return Reading{}, false, &protocol.DecodeWarning{Field: protocol.KeyTemperature, Reason: "is missing"}
	}
	if ev.Gravity == nil {
		return Reading{}, false, &protocol.DecodeWarning{Field: protocol.KeyGravity, Reason: "is missing"}
	}
	return Reading{
		DeviceID:    *ev.Device,
		Temperature: *ev.Temperature,
		Gravity:     *ev.Gravity,
		ObservedAt:  now,
		UUID:        ev.UUID,
		Address:     ev.Address,
		RSSI:        ev.RSSI,
	}, true, nil
}
