// Package permission acquires the operating system capabilities required for BLE scanning.
//
// A [Gate] requests each capability of the scanning bundle in a fixed order through a
// [Requester] and reduces the outcomes to a single authorization decision. Platforms whose
// permissions are declared statically (desktop operating systems) skip the prompts entirely;
// see [Policy] and [DefaultPolicy].
package permission

//go:generate mockgen -destination=../../mocks/requester.go -package=mocks -mock_names=Requester=Requester . Requester

import (
	"context"
	"fmt"
	"strings"

	"github.com/tiltbrew/tilt-bridge/internal/log"
	"github.com/tiltbrew/tilt-bridge/pkg/protocol"
)

// Capability identifies one OS permission needed for scanning.
type Capability int

const (
	CapabilityScan Capability = iota
	CapabilityConnect
	CapabilityFineLocation
	CapabilityCoarseLocation
)

// Bundle lists the capabilities requested by a Gate, in request order.
var Bundle = []Capability{
	CapabilityScan,
	CapabilityConnect,
	CapabilityFineLocation,
	CapabilityCoarseLocation,
}

var capabilityNames = map[Capability]string{
	CapabilityScan:           "scan",
	CapabilityConnect:        "connect",
	CapabilityFineLocation:   "fine-location",
	CapabilityCoarseLocation: "coarse-location",
}

var capabilityIDs = map[Capability]string{
	CapabilityScan:           "android.permission.BLUETOOTH_SCAN",
	CapabilityConnect:        "android.permission.BLUETOOTH_CONNECT",
	CapabilityFineLocation:   "android.permission.ACCESS_FINE_LOCATION",
	CapabilityCoarseLocation: "android.permission.ACCESS_COARSE_LOCATION",
}

func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}
	return fmt.Sprintf("capability(%d)", int(c))
}

// ID returns the platform permission identifier of c.
func (c Capability) ID() string {
	return capabilityIDs[c]
}

// ParseCapability converts a name returned by Capability.String back into a Capability.
func ParseCapability(name string) (Capability, error) {
	for c, n := range capabilityNames {
		if strings.EqualFold(n, name) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown capability '%s'", name)
}

// Status is the outcome of a single permission request.
type Status int

const (
	StatusUnrequested Status = iota
	StatusGranted
	StatusDenied
)

func (s Status) String() string {
	switch s {
	case StatusGranted:
		return "granted"
	case StatusDenied:
		return "denied"
	default:
		return "unrequested"
	}
}

// ParseStatus converts "granted" or "denied" into a Status.
func ParseStatus(name string) (Status, error) {
	switch strings.ToLower(name) {
	case "granted":
		return StatusGranted, nil
	case "denied":
		return StatusDenied, nil
	}
	return StatusUnrequested, fmt.Errorf("unknown permission status '%s'", name)
}

// Prompt configures the dialog shown when a capability is requested.
type Prompt struct {
	Title          string
	Message        string
	ButtonPositive string
	ButtonNegative string
}

var defaultPrompts = map[Capability]Prompt{
	CapabilityScan: {
		Title:   "Bluetooth scan permission",
		Message: "Tilt hydrometers are found by scanning for nearby Bluetooth devices.",
	},
	CapabilityConnect: {
		Title:   "Bluetooth connect permission",
		Message: "Bluetooth access is needed to receive readings from your Tilt.",
	},
	CapabilityFineLocation: {
		Title:   "Location permission",
		Message: "Bluetooth scanning requires precise location access on this device.",
	},
	CapabilityCoarseLocation: {
		Title:   "Location permission",
		Message: "Bluetooth scanning requires approximate location access on this device.",
	},
}

// DefaultPrompt returns the prompt configuration used for c unless overridden.
func DefaultPrompt(c Capability) Prompt {
	p := defaultPrompts[c]
	p.ButtonPositive = "OK"
	p.ButtonNegative = "Cancel"
	return p
}

// Requester is the operating system permission API. Implementations may block until the user
// answers a prompt. Requesting an already granted capability must return StatusGranted.
type Requester interface {
	RequestPermission(ctx context.Context, capability Capability, prompt Prompt) (Status, error)
}

// Authorization records the outcome of each capability in the bundle.
type Authorization struct {
	grants map[Capability]Status
}

func newAuthorization() *Authorization {
	return &Authorization{grants: make(map[Capability]Status, len(Bundle))}
}

// Granted returns an Authorization in which every capability is granted.
func Granted() *Authorization {
	a := newAuthorization()
	for _, c := range Bundle {
		a.grants[c] = StatusGranted
	}
	return a
}

// Status returns the outcome recorded for c.
func (a *Authorization) Status(c Capability) Status {
	return a.grants[c]
}

// Authorized returns true iff every capability in the bundle was granted.
func (a *Authorization) Authorized() bool {
	for _, c := range Bundle {
		if a.grants[c] != StatusGranted {
			return false
		}
	}
	return true
}

// Denied lists the capabilities that were refused, in request order.
func (a *Authorization) Denied() []Capability {
	var denied []Capability
	for _, c := range Bundle {
		if a.grants[c] == StatusDenied {
			denied = append(denied, c)
		}
	}
	return denied
}

var (
	// ErrUnsupported indicates the platform defines no permission set for BLE scanning.
	ErrUnsupported = protocol.NewError("platform has no permission model for bluetooth scanning", false)
)

// DeniedError is returned when one or more capabilities were refused.
type DeniedError struct {
	Capabilities []Capability
}

func (e *DeniedError) Error() string {
	names := make([]string, len(e.Capabilities))
	for i, c := range e.Capabilities {
		names[i] = c.String()
	}
	return "permission denied: " + strings.Join(names, ", ")
}

func (e *DeniedError) Temporary() bool {
	return false
}

// Gate requests the capability bundle according to a platform Policy.
type Gate struct {
	policy    Policy
	requester Requester
	prompts   map[Capability]Prompt
}

// NewGate returns a Gate that issues requests through requester. The requester may be nil when
// the policy never prompts.
func NewGate(policy Policy, requester Requester) *Gate {
	prompts := make(map[Capability]Prompt, len(Bundle))
	for _, c := range Bundle {
		prompts[c] = DefaultPrompt(c)
	}
	return &Gate{policy: policy, requester: requester, prompts: prompts}
}

// SetPrompt overrides the prompt shown for c.
func (g *Gate) SetPrompt(c Capability, p Prompt) {
	g.prompts[c] = p
}

// Policy returns the platform policy of g.
func (g *Gate) Policy() Policy {
	return g.policy
}

// RequestAuthorization requests every capability of the bundle sequentially.
//
// If any capability is denied, the returned error is a *DeniedError and the Authorization
// describes all four outcomes. A Requester failure aborts the remaining requests.
func (g *Gate) RequestAuthorization(ctx context.Context) (*Authorization, error) {
	switch g.policy {
	case PolicyNoPrompt:
		log.Debug("Permissions are static on this platform; skipping prompts")
		return Granted(), nil
	case PolicyPrompt:
	default:
		return nil, ErrUnsupported
	}
	if g.requester == nil {
		return nil, ErrUnsupported
	}

	auth := newAuthorization()
	for _, c := range Bundle {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		status, err := g.requester.RequestPermission(ctx, c, g.prompts[c])
		if err != nil {
			return nil, fmt.Errorf("permission: failed to request %s: %w", c, err)
		}
		log.Debug("Permission %s: %s", c.ID(), status)
		if status != StatusGranted {
			status = StatusDenied
		}
		auth.grants[c] = status
	}

	if denied := auth.Denied(); len(denied) > 0 {
		return auth, &DeniedError{Capabilities: denied}
	}
	return auth, nil
}
