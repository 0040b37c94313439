package ble

import (
	"context"
)

// ManufacturerData is one manufacturer specific data element of an advertisement.
type ManufacturerData struct {
	CompanyID uint16
	Data      []byte // Payload without the company identifier
}

// Advertisement is a BLE advertisement as reported by an Adapter.
type Advertisement struct {
	Address          string
	LocalName        string
	RSSI             int16
	ManufacturerData []ManufacturerData
}

// Adapter is a BLE radio capable of passive discovery.
type Adapter interface {
	// Scan blocks, passing every advertisement to handler, until ctx is canceled or the scan
	// fails. When ctx is canceled, Scan returns ctx.Err().
	Scan(ctx context.Context, handler func(Advertisement)) error
	Close() error
}
