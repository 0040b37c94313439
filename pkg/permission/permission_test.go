package permission_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/tiltbrew/tilt-bridge/mocks"
	"github.com/tiltbrew/tilt-bridge/pkg/permission"
	"github.com/tiltbrew/tilt-bridge/pkg/protocol"
)

var _ = Describe("Gate", func() {
	var (
		ctrl      *gomock.Controller
		requester *mocks.Requester
		ctx       context.Context
	)

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		requester = mocks.NewRequester(ctrl)
		ctx = context.Background()
		DeferCleanup(func() {
			ctrl.Finish()
		})
	})

	expectRequests := func(outcomes ...permission.Status) {
		var calls []any
		for i, c := range permission.Bundle {
			calls = append(calls, requester.EXPECT().
				RequestPermission(gomock.Any(), c, permission.DefaultPrompt(c)).
				Return(outcomes[i], nil))
		}
		gomock.InOrder(calls...)
	}

	Describe("RequestAuthorization", func() {
		It("authorizes when every capability is granted", func() {
			expectRequests(permission.StatusGranted, permission.StatusGranted, permission.StatusGranted, permission.StatusGranted)
			gate := permission.NewGate(permission.PolicyPrompt, requester)
			auth, err := gate.RequestAuthorization(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(auth.Authorized()).To(BeTrue())
			Expect(auth.Denied()).To(BeEmpty())
		})

		DescribeTable("denies and lists exactly the refused capabilities",
			func(outcomes []permission.Status, denied []permission.Capability) {
				expectRequests(outcomes...)
				gate := permission.NewGate(permission.PolicyPrompt, requester)
				auth, err := gate.RequestAuthorization(ctx)

				var deniedErr *permission.DeniedError
				Expect(errors.As(err, &deniedErr)).To(BeTrue())
				Expect(deniedErr.Capabilities).To(Equal(denied))
				Expect(auth.Authorized()).To(BeFalse())
				Expect(auth.Denied()).To(Equal(denied))
			},
			Entry("scan",
				[]permission.Status{permission.StatusDenied, permission.StatusGranted, permission.StatusGranted, permission.StatusGranted},
				[]permission.Capability{permission.CapabilityScan}),
			Entry("connect",
				[]permission.Status{permission.StatusGranted, permission.StatusDenied, permission.StatusGranted, permission.StatusGranted},
				[]permission.Capability{permission.CapabilityConnect}),
			Entry("fine location",
				[]permission.Status{permission.StatusGranted, permission.StatusGranted, permission.StatusDenied, permission.StatusGranted},
				[]permission.Capability{permission.CapabilityFineLocation}),
			Entry("coarse location",
				[]permission.Status{permission.StatusGranted, permission.StatusGranted, permission.StatusGranted, permission.StatusDenied},
				[]permission.Capability{permission.CapabilityCoarseLocation}),
			Entry("location only",
				[]permission.Status{permission.StatusGranted, permission.StatusGranted, permission.StatusDenied, permission.StatusDenied},
				[]permission.Capability{permission.CapabilityFineLocation, permission.CapabilityCoarseLocation}),
			Entry("everything",
				[]permission.Status{permission.StatusDenied, permission.StatusDenied, permission.StatusDenied, permission.StatusDenied},
				permission.Bundle),
		)

		It("treats an unanswered request as denied", func() {
			expectRequests(permission.StatusGranted, permission.StatusUnrequested, permission.StatusGranted, permission.StatusGranted)
			gate := permission.NewGate(permission.PolicyPrompt, requester)
			auth, err := gate.RequestAuthorization(ctx)
			Expect(err).To(HaveOccurred())
			Expect(auth.Status(permission.CapabilityConnect)).To(Equal(permission.StatusDenied))
		})

		It("skips prompts when permissions are static", func() {
			gate := permission.NewGate(permission.PolicyNoPrompt, requester)
			auth, err := gate.RequestAuthorization(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(auth.Authorized()).To(BeTrue())
		})

		It("fails on platforms without a permission model", func() {
			gate := permission.NewGate(permission.PolicyUnsupported, requester)
			_, err := gate.RequestAuthorization(ctx)
			Expect(err).To(MatchError(permission.ErrUnsupported))
			Expect(protocol.Temporary(err)).To(BeFalse())
		})

		It("stops at the first requester failure", func() {
			failure := errors.New("activity detached")
			requester.EXPECT().
				RequestPermission(gomock.Any(), permission.CapabilityScan, gomock.Any()).
				Return(permission.StatusUnrequested, failure)
			gate := permission.NewGate(permission.PolicyPrompt, requester)
			_, err := gate.RequestAuthorization(ctx)
			Expect(err).To(MatchError(failure))
		})

		It("uses overridden prompts", func() {
			custom := permission.Prompt{Title: "Scan?", Message: "Please"}
			for _, c := range permission.Bundle {
				prompt := permission.DefaultPrompt(c)
				if c == permission.CapabilityScan {
					prompt = custom
				}
				requester.EXPECT().RequestPermission(gomock.Any(), c, prompt).Return(permission.StatusGranted, nil)
			}
			gate := permission.NewGate(permission.PolicyPrompt, requester)
			gate.SetPrompt(permission.CapabilityScan, custom)
			_, err := gate.RequestAuthorization(ctx)
			Expect(err).ToNot(HaveOccurred())
		})

		It("returns the context error when canceled", func() {
			canceled, cancel := context.WithCancel(ctx)
			cancel()
			gate := permission.NewGate(permission.PolicyPrompt, requester)
			_, err := gate.RequestAuthorization(canceled)
			Expect(err).To(MatchError(context.Canceled))
		})
	})

	Describe("StaticRequester", func() {
		It("answers from its table and counts round trips", func() {
			static := permission.NewStaticRequester(map[permission.Capability]permission.Status{
				permission.CapabilityScan:           permission.StatusGranted,
				permission.CapabilityConnect:        permission.StatusGranted,
				permission.CapabilityFineLocation:   permission.StatusGranted,
				permission.CapabilityCoarseLocation: permission.StatusGranted,
			})
			gate := permission.NewGate(permission.PolicyPrompt, static)
			for i := 0; i < 2; i++ {
				auth, err := gate.RequestAuthorization(ctx)
				Expect(err).ToNot(HaveOccurred())
				Expect(auth.Authorized()).To(BeTrue())
			}
			Expect(static.Calls()).To(Equal(8))
		})

		It("denies capabilities missing from its table", func() {
			static := permission.NewStaticRequester(map[permission.Capability]permission.Status{
				permission.CapabilityScan: permission.StatusGranted,
			})
			_, err := permission.NewGate(permission.PolicyPrompt, static).RequestAuthorization(ctx)
			var deniedErr *permission.DeniedError
			Expect(errors.As(err, &deniedErr)).To(BeTrue())
			Expect(deniedErr.Error()).To(Equal("permission denied: connect, fine-location, coarse-location"))
		})

		It("issues no requests under a no-prompt policy", func() {
			static := permission.NewStaticRequester(nil)
			auth, err := permission.NewGate(permission.PolicyNoPrompt, static).RequestAuthorization(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(auth.Authorized()).To(BeTrue())
			Expect(static.Calls()).To(BeZero())
		})
	})

	Describe("DefaultPolicy", func() {
		DescribeTable("maps operating systems to policies",
			func(goos string, policy permission.Policy) {
				Expect(permission.DefaultPolicy(goos)).To(Equal(policy))
			},
			Entry("android", "android", permission.PolicyPrompt),
			Entry("linux", "linux", permission.PolicyNoPrompt),
			Entry("darwin", "darwin", permission.PolicyNoPrompt),
			Entry("windows", "windows", permission.PolicyNoPrompt),
			Entry("plan9", "plan9", permission.PolicyUnsupported),
		)

		It("parses policy names", func() {
			var p permission.Policy
			Expect(p.Set("PROMPT")).To(Succeed())
			Expect(p).To(Equal(permission.PolicyPrompt))
			Expect(p.Set("none")).To(Succeed())
			Expect(p.String()).To(Equal("none"))
			Expect(p.Set("sometimes")).ToNot(Succeed())
		})
	})

	Describe("Capability", func() {
		It("round trips names", func() {
			for _, c := range permission.Bundle {
				parsed, err := permission.ParseCapability(c.String())
				Expect(err).ToNot(HaveOccurred())
				Expect(parsed).To(Equal(c))
				Expect(c.ID()).To(HavePrefix("android.permission."))
			}
			_, err := permission.ParseCapability("camera")
			Expect(err).To(HaveOccurred())
		})
	})
})
