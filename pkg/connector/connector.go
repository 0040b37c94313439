// Package connector defines the native scanning layer consumed by a scan session.
//
// A native [Module] starts and stops the radio scan and publishes advertisements on an
// [EventSource] under [protocol.ScanResultsEvent]. Modules are reached through a [Binding], which
// turns a missing module into a *protocol.LinkError on first use.
package connector

//go:generate mockgen -destination=../../mocks/connector.go -package=mocks -mock_names=Module=Module,EventSource=EventSource,Subscription=Subscription . Module,EventSource,Subscription

import (
	"context"

	"google.golang.org/protobuf/types/known/structpb"
)

// ModuleName identifies the native module in link errors.
const ModuleName = "Tilt"

// Module is the native BLE scanning surface.
type Module interface {
	// Multiply returns a*b. It performs no I/O and is used to verify the module is linked.
	Multiply(ctx context.Context, a, b float64) (float64, error)

	// StartScanning begins publishing advertisements. Failures, including ones detected before the
	// scan starts, are reported through onError rather than a return value. Either callback may
	// be invoked before StartScanning returns. Advertisements must not be published on the
	// calling goroutine before StartScanning returns.
	StartScanning(onSuccess func(), onError func(message string))

	// StopScanning ends the current scan. Calling it when no scan is running has no effect.
	StopScanning()
}

// Listener receives event payloads. Listeners are invoked synchronously, in emission order,
// on the goroutine that emitted the event.
type Listener func(payload *structpb.Struct)

// Subscription is a registered Listener.
type Subscription interface {
	// Remove unregisters the listener. Repeated calls have no effect.
	Remove()
}

// EventSource delivers native events to listeners.
type EventSource interface {
	AddListener(event string, listener Listener) Subscription
}
