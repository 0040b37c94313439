package scan_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tiltbrew/tilt-bridge/mocks"
	"github.com/tiltbrew/tilt-bridge/pkg/connector"
	"github.com/tiltbrew/tilt-bridge/pkg/permission"
	"github.com/tiltbrew/tilt-bridge/pkg/protocol"
	"github.com/tiltbrew/tilt-bridge/pkg/scan"
)

var observedAt = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu      sync.Mutex
	updates []scan.Update
}

func (r *recorder) record(u scan.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) readings() []scan.Reading {
	r.mu.Lock()
	defer r.mu.Unlock()
	var readings []scan.Reading
	for _, u := range r.updates {
		if u.Reading != nil {
			readings = append(readings, *u.Reading)
		}
	}
	return readings
}

func (r *recorder) warnings() []*protocol.DecodeWarning {
	r.mu.Lock()
	defer r.mu.Unlock()
	var warnings []*protocol.DecodeWarning
	for _, u := range r.updates {
		if u.Warning != nil {
			warnings = append(warnings, u.Warning)
		}
	}
	return warnings
}

func (r *recorder) states() []scan.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var states []scan.State
	for _, u := range r.updates {
		if u.Reading == nil && u.Warning == nil {
			states = append(states, u.State)
		}
	}
	return states
}

// blockingGate resolves authorization only when released.
type blockingGate struct {
	release chan struct{}
}

func (g *blockingGate) RequestAuthorization(ctx context.Context) (*permission.Authorization, error) {
	select {
	case <-g.release:
		return permission.Granted(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// countingEvents wraps an EventSource and counts how often its subscriptions are removed.
type countingEvents struct {
	connector.EventSource
	removes atomic.Int32
}

func (c *countingEvents) AddListener(event string, listener connector.Listener) connector.Subscription {
	return &countingSubscription{Subscription: c.EventSource.AddListener(event, listener), removes: &c.removes}
}

type countingSubscription struct {
	connector.Subscription
	removes *atomic.Int32
}

func (s *countingSubscription) Remove() {
	s.removes.Add(1)
	s.Subscription.Remove()
}

func payload(fields map[string]interface{}) *structpb.Struct {
	p, err := structpb.NewStruct(fields)
	Expect(err).ToNot(HaveOccurred())
	return p
}

var _ = Describe("Session", func() {
	var (
		ctrl    *gomock.Controller
		module  *mocks.Module
		emitter *connector.Emitter
		gate    *permission.Gate
		session *scan.Session
		updates *recorder
		ctx     context.Context
	)

	newSession := func(binding *connector.Binding, events connector.EventSource, authorizer scan.Authorizer) *scan.Session {
		s := scan.NewSession(binding, events, authorizer, scan.WithClock(func() time.Time { return observedAt }))
		s.Subscribe(updates.record)
		return s
	}

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		module = mocks.NewModule(ctrl)
		emitter = connector.NewEmitter()
		gate = permission.NewGate(permission.PolicyNoPrompt, nil)
		updates = &recorder{}
		ctx = context.Background()
		session = newSession(connector.Bind(module), emitter, gate)
		DeferCleanup(func() {
			ctrl.Finish()
		})
	})

	Context("round trip", func() {
		It("publishes readings between start and stop", func() {
			module.EXPECT().StartScanning(gomock.Any(), gomock.Any()).Times(1)
			module.EXPECT().StopScanning().Times(1)

			state, err := session.Start(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(state).To(Equal(scan.StateScanning))
			Expect(session.Snapshot().Scanning()).To(BeTrue())
			Expect(emitter.ListenerCount(protocol.ScanResultsEvent)).To(Equal(1))

			emitter.Emit(protocol.ScanResultsEvent, payload(map[string]interface{}{
				"device":      "T-Red",
				"temperature": 68.2,
				"gravity":     1.050,
			}))

			readings := updates.readings()
			Expect(readings).To(HaveLen(1))
			Expect(readings[0].DeviceID).To(Equal("T-Red"))
			Expect(readings[0].Temperature).To(Equal(68.2))
			Expect(readings[0].Gravity).To(Equal(1.050))
			Expect(readings[0].ObservedAt).To(Equal(observedAt))

			snap := session.Snapshot()
			Expect(snap.Latest).ToNot(BeNil())
			Expect(snap.Latest.DeviceID).To(Equal("T-Red"))

			session.Stop()
			Expect(session.State()).To(Equal(scan.StateIdle))
			Expect(emitter.ListenerCount(protocol.ScanResultsEvent)).To(BeZero())

			emitter.Emit(protocol.ScanResultsEvent, payload(map[string]interface{}{
				"device":      "T-Red",
				"temperature": 70.0,
				"gravity":     1.040,
			}))
			Expect(updates.readings()).To(HaveLen(1))
			Expect(updates.states()).To(Equal([]scan.State{scan.StateAuthorizing, scan.StateScanning, scan.StateIdle}))
		})

		It("keeps the latest reading after stopping", func() {
			module.EXPECT().StartScanning(gomock.Any(), gomock.Any())
			module.EXPECT().StopScanning()

			_, err := session.Start(ctx)
			Expect(err).ToNot(HaveOccurred())
			for _, gravity := range []float64{1.050, 1.049, 1.048} {
				emitter.Emit(protocol.ScanResultsEvent, payload(map[string]interface{}{
					"device": "Blue", "temperature": 66.0, "gravity": gravity,
				}))
			}
			session.Stop()

			snap := session.Snapshot()
			Expect(snap.Scanning()).To(BeFalse())
			Expect(snap.Latest.Gravity).To(Equal(1.048))
		})

		It("notifies every subscriber in subscription order", func() {
			module.EXPECT().StartScanning(gomock.Any(), gomock.Any())
			var order []string
			session.Subscribe(func(u scan.Update) {
				if u.Reading != nil {
					order = append(order, "second")
				}
			})
			session.Subscribe(func(u scan.Update) {
				if u.Reading != nil {
					order = append(order, "third")
				}
			})

			_, err := session.Start(ctx)
			Expect(err).ToNot(HaveOccurred())
			emitter.Emit(protocol.ScanResultsEvent, payload(map[string]interface{}{
				"device": "Green", "temperature": 64.0, "gravity": 1.010,
			}))
			Expect(updates.readings()).To(HaveLen(1))
			Expect(order).To(Equal([]string{"second", "third"}))
		})

		It("stops notifying unsubscribed callbacks", func() {
			module.EXPECT().StartScanning(gomock.Any(), gomock.Any())
			calls := 0
			h := session.Subscribe(func(scan.Update) { calls++ })

			_, err := session.Start(ctx)
			Expect(err).ToNot(HaveOccurred())
			before := calls
			session.Unsubscribe(h)
			session.Unsubscribe(h)
			emitter.Emit(protocol.ScanResultsEvent, payload(map[string]interface{}{
				"device": "Green", "temperature": 64.0, "gravity": 1.010,
			}))
			Expect(calls).To(Equal(before))
		})
	})

	Context("re-entrancy", func() {
		It("does not register a second native scan", func() {
			module.EXPECT().StartScanning(gomock.Any(), gomock.Any()).Times(1)

			_, err := session.Start(ctx)
			Expect(err).ToNot(HaveOccurred())
			state, err := session.Start(ctx)
			Expect(err).To(MatchError(protocol.ErrAlreadyActive))
			Expect(state).To(Equal(scan.StateScanning))
			Expect(protocol.Temporary(err)).To(BeTrue())
			Expect(emitter.ListenerCount(protocol.ScanResultsEvent)).To(Equal(1))
		})

		It("unregisters the native subscription exactly once on double stop", func() {
			events := mocks.NewEventSource(ctrl)
			subscription := mocks.NewSubscription(ctrl)
			events.EXPECT().AddListener(protocol.ScanResultsEvent, gomock.Any()).Return(subscription).Times(1)
			subscription.EXPECT().Remove().Times(1)
			module.EXPECT().StartScanning(gomock.Any(), gomock.Any()).Times(1)
			module.EXPECT().StopScanning().Times(1)

			s := newSession(connector.Bind(module), events, gate)
			_, err := s.Start(ctx)
			Expect(err).ToNot(HaveOccurred())
			s.Stop()
			s.Stop()
			s.Close()
			Expect(s.State()).To(Equal(scan.StateIdle))
		})

		It("unregisters exactly once when concurrent stops race in-flight events", func() {
			const cycles = 50
			events := &countingEvents{EventSource: emitter}
			module.EXPECT().StartScanning(gomock.Any(), gomock.Any()).Times(cycles)
			module.EXPECT().StopScanning().Times(cycles)
			reading := payload(map[string]interface{}{
				"device": "Yellow", "temperature": 66.0, "gravity": 1.020,
			})

			s := newSession(connector.Bind(module), events, gate)
			for i := 0; i < cycles; i++ {
				_, err := s.Start(ctx)
				Expect(err).ToNot(HaveOccurred())

				var wg sync.WaitGroup
				for j := 0; j < 4; j++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						for k := 0; k < 20; k++ {
							emitter.Emit(protocol.ScanResultsEvent, reading)
						}
					}()
				}
				for j := 0; j < 2; j++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						s.Stop()
					}()
				}
				wg.Wait()

				Expect(s.State()).To(Equal(scan.StateIdle))
				Expect(events.removes.Load()).To(Equal(int32(i + 1)))
				delivered := len(updates.readings())
				Expect(emitter.Emit(protocol.ScanResultsEvent, reading)).To(BeZero())
				Expect(updates.readings()).To(HaveLen(delivered))
			}
			Expect(emitter.ListenerCount(protocol.ScanResultsEvent)).To(BeZero())
		})

		It("ignores stop while idle", func() {
			session.Stop()
			Expect(session.State()).To(Equal(scan.StateIdle))
			Expect(updates.states()).To(BeEmpty())
		})

		It("allows a subscriber to stop the session from a reading callback", func() {
			module.EXPECT().StartScanning(gomock.Any(), gomock.Any())
			module.EXPECT().StopScanning()
			session.Subscribe(func(u scan.Update) {
				if u.Reading != nil {
					session.Stop()
				}
			})

			_, err := session.Start(ctx)
			Expect(err).ToNot(HaveOccurred())
			emitter.Emit(protocol.ScanResultsEvent, payload(map[string]interface{}{
				"device": "Pink", "temperature": 60.0, "gravity": 1.000,
			}))
			Expect(session.State()).To(Equal(scan.StateIdle))
		})

		It("can be restarted after stopping", func() {
			module.EXPECT().StartScanning(gomock.Any(), gomock.Any()).Times(2)
			module.EXPECT().StopScanning().Times(2)

			for i := 0; i < 2; i++ {
				_, err := session.Start(ctx)
				Expect(err).ToNot(HaveOccurred())
				session.Stop()
			}
			Expect(emitter.ListenerCount(protocol.ScanResultsEvent)).To(BeZero())
		})
	})

	Context("event filtering", func() {
		BeforeEach(func() {
			module.EXPECT().StartScanning(gomock.Any(), gomock.Any())
			_, err := session.Start(ctx)
			Expect(err).ToNot(HaveOccurred())
		})

		It("drops events without a device silently", func() {
			emitter.Emit(protocol.ScanResultsEvent, payload(map[string]interface{}{
				"temperature": 68.0,
				"gravity":     1.050,
			}))
			emitter.Emit(protocol.ScanResultsEvent, payload(map[string]interface{}{
				"device":      "",
				"temperature": "garbage",
			}))
			Expect(updates.readings()).To(BeEmpty())
			Expect(updates.warnings()).To(BeEmpty())
			Expect(session.Snapshot().Latest).To(BeNil())
		})

		It("reports malformed events as warnings and keeps scanning", func() {
			emitter.Emit(protocol.ScanResultsEvent, payload(map[string]interface{}{
				"device":      "Red",
				"temperature": "warm",
				"gravity":     1.050,
			}))
			emitter.Emit(protocol.ScanResultsEvent, payload(map[string]interface{}{
				"device":      "Red",
				"temperature": 68.0,
			}))

			warnings := updates.warnings()
			Expect(warnings).To(HaveLen(2))
			Expect(warnings[0].Field).To(Equal(protocol.KeyTemperature))
			Expect(warnings[1].Field).To(Equal(protocol.KeyGravity))
			Expect(session.State()).To(Equal(scan.StateScanning))
			Expect(session.Snapshot().Latest).To(BeNil())

			emitter.Emit(protocol.ScanResultsEvent, payload(map[string]interface{}{
				"device": "Red", "temperature": 68.0, "gravity": 1.050,
			}))
			Expect(updates.readings()).To(HaveLen(1))
		})

		It("reports a device field of the wrong type as a warning", func() {
			emitter.Emit(protocol.ScanResultsEvent, payload(map[string]interface{}{
				"device":      42.0,
				"temperature": 68.0,
				"gravity":     1.050,
			}))

			warnings := updates.warnings()
			Expect(warnings).To(HaveLen(1))
			Expect(warnings[0].Field).To(Equal(protocol.KeyDevice))
			Expect(updates.readings()).To(BeEmpty())
			Expect(session.State()).To(Equal(scan.StateScanning))
		})

		It("reports an empty payload as a warning", func() {
			emitter.Emit(protocol.ScanResultsEvent, nil)

			warnings := updates.warnings()
			Expect(warnings).To(HaveLen(1))
			Expect(warnings[0].Field).To(BeEmpty())
			Expect(session.State()).To(Equal(scan.StateScanning))
		})

		It("carries optional payload fields", func() {
			data, err := protocol.EncodeTilt("Orange", 67, 1031, -59)
			Expect(err).ToNot(HaveOccurred())
			adv, err := protocol.ParseTilt(protocol.AppleCompanyID, data)
			Expect(err).ToNot(HaveOccurred())
			emitter.Emit(protocol.ScanResultsEvent, protocol.EncodeEvent(adv, "C4:7C:8D:6A:00:01", -80))

			readings := updates.readings()
			Expect(readings).To(HaveLen(1))
			Expect(readings[0].DeviceID).To(Equal("Orange"))
			Expect(*readings[0].Address).To(Equal("C4:7C:8D:6A:00:01"))
			Expect(*readings[0].RSSI).To(Equal(-80))
			Expect(*readings[0].UUID).To(Equal(adv.UUID))
		})
	})

	Context("authorization", func() {
		var requester *mocks.Requester

		BeforeEach(func() {
			requester = mocks.NewRequester(ctrl)
		})

		It("stays idle when a capability is denied", func() {
			for _, c := range permission.Bundle {
				status := permission.StatusGranted
				if c == permission.CapabilityFineLocation {
					status = permission.StatusDenied
				}
				requester.EXPECT().RequestPermission(gomock.Any(), c, gomock.Any()).Return(status, nil)
			}
			s := newSession(connector.Bind(module), emitter, permission.NewGate(permission.PolicyPrompt, requester))

			state, err := s.Start(ctx)
			Expect(state).To(Equal(scan.StateIdle))
			var denied *permission.DeniedError
			Expect(errors.As(err, &denied)).To(BeTrue())
			Expect(denied.Capabilities).To(Equal([]permission.Capability{permission.CapabilityFineLocation}))
			Expect(emitter.ListenerCount(protocol.ScanResultsEvent)).To(BeZero())
			Expect(updates.states()).To(Equal([]scan.State{scan.StateAuthorizing, scan.StateIdle}))
		})

		It("reports unsupported platforms", func() {
			s := newSession(connector.Bind(module), emitter, permission.NewGate(permission.PolicyUnsupported, requester))
			state, err := s.Start(ctx)
			Expect(state).To(Equal(scan.StateIdle))
			Expect(err).To(MatchError(permission.ErrUnsupported))
		})

		It("starts without prompting when permissions are static", func() {
			static := permission.NewStaticRequester(nil)
			module.EXPECT().StartScanning(gomock.Any(), gomock.Any())
			s := newSession(connector.Bind(module), emitter, permission.NewGate(permission.PolicyNoPrompt, static))

			state, err := s.Start(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(state).To(Equal(scan.StateScanning))
			Expect(static.Calls()).To(BeZero())
		})

		It("does not scan when stopped during authorization", func() {
			blocking := &blockingGate{release: make(chan struct{})}
			s := newSession(connector.Bind(module), emitter, blocking)

			results := make(chan error, 1)
			go func() {
				defer GinkgoRecover()
				_, err := s.Start(ctx)
				results <- err
			}()
			Eventually(s.State).Should(Equal(scan.StateAuthorizing))

			state, err := s.Start(ctx)
			Expect(state).To(Equal(scan.StateAuthorizing))
			Expect(err).To(MatchError(protocol.ErrAlreadyActive))

			s.Stop()
			Expect(s.State()).To(Equal(scan.StateIdle))
			close(blocking.release)

			Eventually(results).Should(Receive(MatchError(protocol.ErrScanCanceled)))
			Expect(s.State()).To(Equal(scan.StateIdle))
			Expect(emitter.ListenerCount(protocol.ScanResultsEvent)).To(BeZero())
		})

		It("returns to idle when the context is canceled", func() {
			blocking := &blockingGate{release: make(chan struct{})}
			s := newSession(connector.Bind(module), emitter, blocking)
			canceled, cancel := context.WithCancel(ctx)
			cancel()

			state, err := s.Start(canceled)
			Expect(state).To(Equal(scan.StateIdle))
			Expect(err).To(MatchError(context.Canceled))
		})
	})

	Context("native failures", func() {
		It("fails fast when the native module is missing", func() {
			requester := mocks.NewRequester(ctrl)
			s := newSession(connector.Bind(nil), emitter, permission.NewGate(permission.PolicyPrompt, requester))

			state, err := s.Start(ctx)
			Expect(state).To(Equal(scan.StateIdle))
			Expect(protocol.IsLinkError(err)).To(BeTrue())
			Expect(updates.states()).To(BeEmpty())
			s.Stop()
		})

		It("reports errors raised while starting the scan", func() {
			module.EXPECT().StartScanning(gomock.Any(), gomock.Any()).Do(func(_ func(), onError func(string)) {
				onError("Bluetooth LE Scanner not available")
			})
			module.EXPECT().StopScanning().Times(1)

			state, err := session.Start(ctx)
			Expect(state).To(Equal(scan.StateIdle))
			var failed *protocol.ScanFailedError
			Expect(errors.As(err, &failed)).To(BeTrue())
			Expect(failed.Message).To(Equal("Bluetooth LE Scanner not available"))
			Expect(emitter.ListenerCount(protocol.ScanResultsEvent)).To(BeZero())

			session.Stop()
		})

		It("tears down when the scan fails later", func() {
			var onError func(string)
			module.EXPECT().StartScanning(gomock.Any(), gomock.Any()).Do(func(onSuccess func(), fail func(string)) {
				onSuccess()
				onError = fail
			})
			module.EXPECT().StopScanning().Times(1)

			_, err := session.Start(ctx)
			Expect(err).ToNot(HaveOccurred())

			onError("Scan failed with error code: 2")
			onError("Scan failed with error code: 2")
			Expect(session.State()).To(Equal(scan.StateIdle))
			Expect(emitter.ListenerCount(protocol.ScanResultsEvent)).To(BeZero())

			var failures []error
			for _, u := range updates.updates {
				if u.Err != nil {
					failures = append(failures, u.Err)
				}
			}
			Expect(failures).To(HaveLen(1))
			session.Stop()
		})
	})
})
