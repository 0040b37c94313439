// Package scan manages the lifecycle of a BLE scan for Tilt hydrometers.
//
// A [Session] acquires permissions, starts the native scan, decodes advertisement events into
// [Reading] values and publishes them, together with state changes, to subscribers. Only the
// latest reading is retained.
//
// # Examples
//
//	emitter := connector.NewEmitter()
//	session := scan.NewSession(connector.Bind(module), emitter, permission.NewGate(policy, requester))
//	handle := session.Subscribe(func(u scan.Update) {
//		if u.Reading != nil {
//			fmt.Println(u.Reading.DeviceID, u.Reading.Gravity)
//		}
//	})
//	defer session.Unsubscribe(handle)
//	if _, err := session.Start(ctx); err != nil {
//		return err
//	}
//	defer session.Stop()
package scan

import (
	"context"
	"sort"
	"sync"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tiltbrew/tilt-bridge/internal/log"
	"github.com/tiltbrew/tilt-bridge/pkg/connector"
	"github.com/tiltbrew/tilt-bridge/pkg/permission"
	"github.com/tiltbrew/tilt-bridge/pkg/protocol"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateAuthorizing
	StateScanning
)

func (s State) String() string {
	switch s {
	case StateAuthorizing:
		return "authorizing"
	case StateScanning:
		return "scanning"
	default:
		return "idle"
	}
}

// Update is delivered to subscribers. State is always set; at most one of Reading, Warning and
// Err is non-nil.
type Update struct {
	State   State
	Reading *Reading
	// Warning describes an advertisement that was dropped. The session keeps scanning.
	Warning *protocol.DecodeWarning
	// Err is set when the native scan failed and the session returned to idle.
	Err error
}

// Subscriber receives updates. Subscribers are called synchronously: readings on the goroutine
// that delivers native events, state changes on the goroutine calling Start or Stop. They may
// call any Session method.
type Subscriber func(Update)

// Handle identifies a subscription.
type Handle uint64

// Snapshot is a read-only view of a Session.
type Snapshot struct {
	State  State
	Latest *Reading // nil until the first reading arrives
}

// Scanning returns true if the session is scanning.
func (s Snapshot) Scanning() bool {
	return s.State == StateScanning
}

// Authorizer acquires the capabilities required to scan.
type Authorizer interface {
	RequestAuthorization(ctx context.Context) (*permission.Authorization, error)
}

// Session owns one scan at a time. It is safe for concurrent use.
type Session struct {
	binding *connector.Binding
	events  connector.EventSource
	gate    Authorizer
	now     func() time.Time

	// native serializes calls that start or stop the native scan. It is never held while
	// subscribers run. Lock order: native, then lock.
	native sync.Mutex

	lock         sync.Mutex
	state        State
	generation   uint64 // incremented whenever a scan attempt starts or ends
	starting     uint64 // generation whose StartScanning call is in progress
	subscription connector.Subscription
	latest       *Reading
	failure      error
	failedGen    uint64
	nextHandle   Handle
	subscribers  map[Handle]Subscriber
}

// Option configures a Session.
type Option func(*Session)

// WithClock overrides the clock used to timestamp readings.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// NewSession returns an idle Session. The binding and events must refer to the same native
// module: the module publishes on events, and the session listens while scanning.
func NewSession(binding *connector.Binding, events connector.EventSource, gate Authorizer, options ...Option) *Session {
	s := &Session{
		binding:     binding,
		events:      events,
		gate:        gate,
		now:         time.Now,
		subscribers: make(map[Handle]Subscriber),
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Start requests permissions and begins scanning.
//
// If the session is not idle, Start has no effect and returns the current state along with
// protocol.ErrAlreadyActive. If the native module is missing, Start returns a
// *protocol.LinkError without requesting permissions. Permission failures leave the session
// idle and are returned as-is (see package permission). If Stop is called while permissions
// are being requested, Start returns protocol.ErrScanCanceled once they resolve. If the native
// module reports an error before StartScanning returns, Start returns a
// *protocol.ScanFailedError.
//
// Readings may be published before subscribers receive the StateScanning update.
func (s *Session) Start(ctx context.Context) (State, error) {
	module, err := s.binding.Module()
	if err != nil {
		return s.State(), err
	}

	s.lock.Lock()
	if s.state != StateIdle {
		state := s.state
		s.lock.Unlock()
		log.Debug("Ignoring start request while %s", state)
		return state, protocol.ErrAlreadyActive
	}
	s.generation++
	gen := s.generation
	s.state = StateAuthorizing
	subscribers := s.snapshotSubscribers()
	s.lock.Unlock()
	notify(subscribers, Update{State: StateAuthorizing})

	auth, err := s.gate.RequestAuthorization(ctx)

	s.native.Lock()
	s.lock.Lock()
	if s.generation != gen {
		state := s.state
		s.lock.Unlock()
		s.native.Unlock()
		log.Info("Scan stopped while waiting for permissions")
		return state, protocol.ErrScanCanceled
	}
	if err == nil && auth == nil {
		err = &permission.DeniedError{Capabilities: permission.Bundle}
	} else if err == nil && !auth.Authorized() {
		err = &permission.DeniedError{Capabilities: auth.Denied()}
	}
	if err != nil {
		s.generation++
		s.state = StateIdle
		subscribers = s.snapshotSubscribers()
		s.lock.Unlock()
		s.native.Unlock()
		log.Warning("Scan not authorized: %s", err)
		notify(subscribers, Update{State: StateIdle})
		return StateIdle, err
	}

	s.subscription = s.events.AddListener(protocol.ScanResultsEvent, func(payload *structpb.Struct) {
		s.handleEvent(gen, payload)
	})
	s.state = StateScanning
	s.starting = gen
	s.lock.Unlock()

	module.StartScanning(func() {
		log.Debug("Native scan started")
	}, func(message string) {
		s.fail(gen, module, message)
	})

	s.lock.Lock()
	s.starting = 0
	if s.failedGen == gen {
		// The module failed during StartScanning; fail left the teardown to us.
		failure := s.failure
		subscription := s.subscription
		s.subscription = nil
		subscribers = s.snapshotSubscribers()
		s.lock.Unlock()

		module.StopScanning()
		if subscription != nil {
			subscription.Remove()
		}
		s.native.Unlock()
		notify(subscribers, Update{State: StateIdle, Err: failure})
		return StateIdle, failure
	}
	subscribers = s.snapshotSubscribers()
	s.lock.Unlock()
	s.native.Unlock()

	log.Info("Scanning for Tilt hydrometers")
	notify(subscribers, Update{State: StateScanning})
	return StateScanning, nil
}

// Stop ends the current scan. Stopping an idle session has no effect. Stopping a session that
// is waiting for permissions returns it to idle immediately; the scan is not started when the
// permissions resolve.
func (s *Session) Stop() {
	s.lock.Lock()
	switch s.state {
	case StateIdle:
		s.lock.Unlock()
		return
	case StateAuthorizing:
		s.generation++
		s.state = StateIdle
		subscribers := s.snapshotSubscribers()
		s.lock.Unlock()
		log.Info("Scan canceled during authorization")
		notify(subscribers, Update{State: StateIdle})
		return
	}
	s.lock.Unlock()

	s.native.Lock()
	s.lock.Lock()
	if s.state != StateScanning {
		// Another Stop, or a native failure, got here first.
		s.lock.Unlock()
		s.native.Unlock()
		return
	}
	s.generation++
	s.state = StateIdle
	subscription := s.subscription
	s.subscription = nil
	subscribers := s.snapshotSubscribers()
	s.lock.Unlock()

	if module, err := s.binding.Module(); err == nil {
		module.StopScanning()
	}
	if subscription != nil {
		subscription.Remove()
	}
	s.native.Unlock()

	log.Info("Scan stopped")
	notify(subscribers, Update{State: StateIdle})
}

// Close stops any scan in progress. It is intended for process shutdown.
func (s *Session) Close() {
	s.Stop()
}

// Subscribe registers fn for updates until Unsubscribe is called.
func (s *Session) Subscribe(fn Subscriber) Handle {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.nextHandle++
	s.subscribers[s.nextHandle] = fn
	return s.nextHandle
}

// Unsubscribe releases a subscription. Unknown handles are ignored.
func (s *Session) Unsubscribe(h Handle) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.subscribers, h)
}

// State returns the current state.
func (s *Session) State() State {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

// Snapshot returns the current state and the latest reading.
func (s *Session) Snapshot() Snapshot {
	s.lock.Lock()
	defer s.lock.Unlock()
	snap := Snapshot{State: s.state}
	if s.latest != nil {
		latest := *s.latest
		snap.Latest = &latest
	}
	return snap
}

func (s *Session) handleEvent(gen uint64, payload *structpb.Struct) {
	ev, decodeErr := protocol.DecodeEvent(payload)
	reading, ok, warning := readingFromEvent(ev, decodeErr, s.now())
	if !ok && warning == nil {
		return
	}

	s.lock.Lock()
	if s.generation != gen || s.state != StateScanning {
		s.lock.Unlock()
		return
	}
	if warning != nil {
		subscribers := s.snapshotSubscribers()
		s.lock.Unlock()
		log.Warning("Dropping advertisement: %s", warning)
		notify(subscribers, Update{State: StateScanning, Warning: warning})
		return
	}
	s.latest = &reading
	subscribers := s.snapshotSubscribers()
	s.lock.Unlock()

	log.Debug("Reading from %s: %.1fF %.3f", reading.DeviceID, reading.Temperature, reading.Gravity)
	published := reading
	notify(subscribers, Update{State: StateScanning, Reading: &published})
}

func (s *Session) fail(gen uint64, module connector.Module, message string) {
	err := &protocol.ScanFailedError{Message: message}
	log.Error("%s", err)

	s.lock.Lock()
	if s.generation != gen || s.state != StateScanning {
		s.lock.Unlock()
		return
	}
	if s.starting == gen {
		// Start holds s.native and finishes the teardown once StartScanning returns.
		s.generation++
		s.state = StateIdle
		s.failure = err
		s.failedGen = gen
		s.lock.Unlock()
		return
	}
	s.lock.Unlock()

	s.native.Lock()
	s.lock.Lock()
	if s.generation != gen || s.state != StateScanning {
		s.lock.Unlock()
		s.native.Unlock()
		return
	}
	s.generation++
	s.state = StateIdle
	s.failure = err
	s.failedGen = gen
	subscription := s.subscription
	s.subscription = nil
	subscribers := s.snapshotSubscribers()
	s.lock.Unlock()

	module.StopScanning()
	if subscription != nil {
		subscription.Remove()
	}
	s.native.Unlock()
	notify(subscribers, Update{State: StateIdle, Err: err})
}

// snapshotSubscribers must be called with s.lock held. Subscribers are returned in
// subscription order.
func (s *Session) snapshotSubscribers() []Subscriber {
	handles := make([]Handle, 0, len(s.subscribers))
	for h := range s.subscribers {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	subscribers := make([]Subscriber, len(handles))
	for i, h := range handles {
		subscribers[i] = s.subscribers[h]
	}
	return subscribers
}

func notify(subscribers []Subscriber, u Update) {
	for _, fn := range subscribers {
		fn(u)
	}
}
