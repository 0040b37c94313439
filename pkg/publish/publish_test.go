package publish_test

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/jarcoal/httpmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tiltbrew/tilt-bridge/pkg/protocol"
	"github.com/tiltbrew/tilt-bridge/pkg/publish"
	"github.com/tiltbrew/tilt-bridge/pkg/scan"
)

const endpoint = "https://script.example.com/macros/s/abc/exec"

func reading(device string, gravity float64) *scan.Reading {
	return &scan.Reading{
		DeviceID:    device,
		Temperature: 68.2,
		Gravity:     gravity,
		ObservedAt:  time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC),
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

var _ = Describe("CloudLogger", func() {
	var logger *publish.CloudLogger

	BeforeEach(func() {
		var err error
		logger, err = publish.NewCloudLogger(endpoint, time.Hour)
		Expect(err).ToNot(HaveOccurred())
		httpmock.Activate()
		DeferCleanup(httpmock.DeactivateAndReset)
	})

	It("rejects malformed URLs", func() {
		for _, u := range []string{"", "script.example.com/exec", "ftp://example.com/x"} {
			_, err := publish.NewCloudLogger(u, 0)
			Expect(err).To(MatchError(publish.ErrCloudURL))
		}
	})

	It("posts the spreadsheet form", func() {
		var form url.Values
		httpmock.RegisterResponder(http.MethodPost, endpoint, func(r *http.Request) (*http.Response, error) {
			Expect(r.Header.Get("Content-Type")).To(Equal("application/x-www-form-urlencoded"))
			Expect(r.ParseForm()).To(Succeed())
			form = r.PostForm
			return httpmock.NewJsonResponse(http.StatusOK, map[string]interface{}{
				"result": "Success",
			})
		})
		logger.Beers["Red"] = "Stout"
		logger.Comment = "day 3"

		Expect(logger.Post(context.Background(), *reading("Red", 1.0504))).To(Succeed())
		Expect(form.Get("Temp")).To(Equal("68.2"))
		Expect(form.Get("SG")).To(Equal("1.050"))
		Expect(form.Get("Beer")).To(Equal("Stout"))
		Expect(form.Get("Color")).To(Equal("RED"))
		Expect(form.Get("Comment")).To(Equal("day 3"))
		Expect(form.Get("Timepoint")).To(Equal("45292.500000"))
	})

	It("reports HTTP errors", func() {
		httpmock.RegisterResponder(http.MethodPost, endpoint, httpmock.NewStringResponder(http.StatusInternalServerError, "oops"))
		err := logger.Post(context.Background(), *reading("Blue", 1.0))
		Expect(err).To(MatchError(ContainSubstring("500")))
	})

	It("rate limits each device independently", func() {
		httpmock.RegisterResponder(http.MethodPost, endpoint, httpmock.NewStringResponder(http.StatusOK, "{}"))
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error)
		go func() {
			done <- logger.Run(ctx)
		}()

		for i := 0; i < 5; i++ {
			logger.Record(scan.Update{State: scan.StateScanning, Reading: reading("Red", 1.050)})
			logger.Record(scan.Update{State: scan.StateScanning, Reading: reading("Green", 1.040)})
		}
		logger.Record(scan.Update{State: scan.StateIdle})

		Eventually(httpmock.GetTotalCallCount).Should(Equal(2))
		Consistently(httpmock.GetTotalCallCount, 50*time.Millisecond).Should(Equal(2))
		Expect(logger.Dropped()).To(BeZero())

		cancel()
		Eventually(done).Should(Receive(MatchError(context.Canceled)))
	})
})

var _ = Describe("Timepoint", func() {
	It("counts days since the spreadsheet epoch", func() {
		Expect(publish.Timepoint(time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC))).To(BeNumerically("~", 2, 1e-9))
		Expect(publish.Timepoint(time.Date(2024, time.January, 1, 6, 0, 0, 0, time.UTC))).To(BeNumerically("~", 45292.25, 1e-9))
	})

	It("uses the local wall clock", func() {
		zone := time.FixedZone("UTC-5", -5*3600)
		Expect(publish.Timepoint(time.Date(2024, time.January, 1, 6, 0, 0, 0, zone))).To(BeNumerically("~", 45292.25, 1e-9))
	})
})

var _ = Describe("JSONWriter", func() {
	decodeLines := func(buffer *bytes.Buffer) []*structpb.Struct {
		var lines []*structpb.Struct
		scanner := bufio.NewScanner(buffer)
		for scanner.Scan() {
			var s structpb.Struct
			Expect(protojson.Unmarshal(scanner.Bytes(), &s)).To(Succeed())
			lines = append(lines, &s)
		}
		return lines
	}

	It("writes one line per update", func() {
		var buffer bytes.Buffer
		w := publish.NewJSONWriter(&buffer)
		w.Record(scan.Update{State: scan.StateScanning})
		w.Record(scan.Update{State: scan.StateScanning, Reading: reading("Pink", 1.012)})
		w.Record(scan.Update{State: scan.StateScanning, Warning: &protocol.DecodeWarning{Field: "gravity", Reason: "is missing"}})
		w.Record(scan.Update{State: scan.StateIdle, Err: &protocol.ScanFailedError{Message: "Scan failed with error code: 2"}})
		Expect(w.Err()).ToNot(HaveOccurred())

		lines := decodeLines(&buffer)
		Expect(lines).To(HaveLen(4))
		Expect(lines[0].Fields["state"].GetStringValue()).To(Equal("scanning"))
		Expect(lines[1].Fields["device"].GetStringValue()).To(Equal("Pink"))
		Expect(lines[1].Fields["gravity"].GetNumberValue()).To(Equal(1.012))
		Expect(lines[1].Fields["observedAt"].GetStringValue()).To(Equal("2024-01-01T12:00:00Z"))
		Expect(lines[2].Fields["warning"].GetStringValue()).To(ContainSubstring("gravity"))
		Expect(lines[3].Fields["state"].GetStringValue()).To(Equal("idle"))
		Expect(lines[3].Fields["error"].GetStringValue()).To(ContainSubstring("error code: 2"))
	})

	It("stops after a write error", func() {
		w := publish.NewJSONWriter(failingWriter{})
		w.Record(scan.Update{State: scan.StateScanning})
		w.Record(scan.Update{State: scan.StateIdle})
		Expect(w.Err()).To(MatchError("disk full"))
	})
})
