package protocol

import (
	"encoding/hex"
	"math"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"
)

// ScanResultsEvent is the name of the event channel native modules publish advertisements on.
const ScanResultsEvent = "onScanResults"

// Payload keys used on the ScanResultsEvent channel.
const (
	KeyDevice        = "device"
	KeyTemperature   = "temperature"
	KeyGravity       = "gravity"
	KeyUUID          = "uuid"
	KeyDeviceAddress = "deviceAddress"
	KeyRSSI          = "rssi"
	KeyRawData       = "rawData"
)

// Event is a decoded ScanResultsEvent payload. Every field is optional; nil means the key was
// absent from the payload.
type Event struct {
	Device      *string
	Temperature *float64
	Gravity     *float64
	UUID        *string
	Address     *string
	RSSI        *int
}

// EncodeEvent builds the payload a native module publishes for adv.
func EncodeEvent(adv *Advertisement, address string, rssi int) *structpb.Struct {
	fields := map[string]*structpb.Value{
		KeyUUID:        structpb.NewStringValue(adv.UUID),
		KeyDevice:      structpb.NewStringValue(adv.Color),
		KeyTemperature: structpb.NewNumberValue(adv.Temperature),
		KeyGravity:     structpb.NewNumberValue(adv.Gravity),
		KeyRSSI:        structpb.NewNumberValue(float64(rssi)),
		KeyRawData:     structpb.NewStringValue(strings.ToUpper(hex.EncodeToString(adv.RawData))),
	}
	if address != "" {
		fields[KeyDeviceAddress] = structpb.NewStringValue(address)
	}
	return &structpb.Struct{Fields: fields}
}

// DecodeEvent extracts the known fields of payload. Decoding continues past a malformed field so
// that callers can inspect the device identifier; the first problem is returned as a
// *DecodeWarning.
func DecodeEvent(payload *structpb.Struct) (Event, error) {
	var ev Event
	var warning *DecodeWarning
	note := func(w *DecodeWarning) {
		if warning == nil {
			warning = w
		}
	}

	if payload == nil {
		return ev, &DecodeWarning{Reason: "empty payload"}
	}
	fields := payload.GetFields()

	str := func(key string) *string {
		v, ok := fields[key]
		if !ok || isNull(v) {
			return nil
		}
		s, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			note(&DecodeWarning{Field: key, Reason: "is not a string"})
			return nil
		}
		return &s.StringValue
	}
	num := func(key string) *float64 {
		v, ok := fields[key]
		if !ok || isNull(v) {
			return nil
		}
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			note(&DecodeWarning{Field: key, Reason: "is not a number"})
			return nil
		}
		if math.IsNaN(n.NumberValue) || math.IsInf(n.NumberValue, 0) {
			note(&DecodeWarning{Field: key, Reason: "is not finite"})
			return nil
		}
		return &n.NumberValue
	}

	ev.Device = str(KeyDevice)
	ev.Temperature = num(KeyTemperature)
	ev.Gravity = num(KeyGravity)
	ev.UUID = str(KeyUUID)
	ev.Address = str(KeyDeviceAddress)
	if rssi := num(KeyRSSI); rssi != nil {
		r := int(*rssi)
		ev.RSSI = &r
	}

	if warning != nil {
		return ev, warning
	}
	return ev, nil
}

func isNull(v *structpb.Value) bool {
	_, ok := v.GetKind().(*structpb.Value_NullValue)
	return ok || v.GetKind() == nil
}
