package connector

import (
	"context"

	"github.com/tiltbrew/tilt-bridge/internal/log"
	"github.com/tiltbrew/tilt-bridge/pkg/protocol"
)

// Binding guards access to a native Module. Presence is decided once, when the Binding is
// created; afterwards every guarded call on a missing module fails with the same
// *protocol.LinkError.
type Binding struct {
	module Module
	err    *protocol.LinkError
}

// Bind wraps module. A nil module yields a Binding whose calls fail with a LinkError listing
// protocol.DefaultLinkSteps.
func Bind(module Module) *Binding {
	if module == nil {
		return Unlinked(nil)
	}
	return &Binding{module: module}
}

// Unlinked returns a Binding for a module that could not be loaded because of cause. The steps
// replace the default remediation list when provided.
func Unlinked(cause error, steps ...string) *Binding {
	err := &protocol.LinkError{Module: ModuleName, Cause: cause, Steps: steps}
	log.Error("%s", err)
	return &Binding{err: err}
}

// Module returns the bound module or the link error.
func (b *Binding) Module() (Module, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.module, nil
}

// Linked returns nil if a module is bound.
func (b *Binding) Linked() error {
	_, err := b.Module()
	return err
}

// Multiply forwards to the native module.
func (b *Binding) Multiply(ctx context.Context, x, y float64) (float64, error) {
	m, err := b.Module()
	if err != nil {
		return 0, err
	}
	return m.Multiply(ctx, x, y)
}
