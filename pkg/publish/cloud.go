// Package publish forwards scan readings to external sinks.
package publish

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tiltbrew/tilt-bridge/internal/log"
	"github.com/tiltbrew/tilt-bridge/pkg/protocol"
	"github.com/tiltbrew/tilt-bridge/pkg/scan"
)

const (
	// DefaultCloudInterval is the minimum time between two posts for the same device. Cloud
	// logging spreadsheets reject faster updates.
	DefaultCloudInterval = 15 * time.Minute

	maxResponseLength = 64 * 1024
	queueSize         = 16
)

// ErrCloudURL is returned for malformed cloud logging URLs.
var ErrCloudURL = protocol.NewError("cloud logging URL must be an absolute http(s) URL", false)

// spreadsheetEpoch is day zero of spreadsheet serial dates.
var spreadsheetEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

func buildUserAgent() string {
	const library = "tilt-bridge"
	build, ok := debug.ReadBuildInfo()
	if !ok {
		return library
	}
	var version string
	if build.Main.Version != "(devel)" && build.Main.Version != "" {
		version = build.Main.Version
	} else {
		for _, info := range build.Settings {
			if info.Key == "vcs.revision" {
				if len(info.Value) > 8 {
					version = info.Value[0:8]
				}
				break
			}
		}
	}
	if version == "" {
		return library
	}
	return fmt.Sprintf("%s/%s", library, version)
}

// Timepoint converts t to a spreadsheet serial date in local time.
func Timepoint(t time.Time) float64 {
	_, offset := t.Zone()
	local := t.Add(time.Duration(offset) * time.Second)
	return float64(local.UTC().Sub(spreadsheetEpoch)) / float64(24*time.Hour)
}

// CloudLogger posts readings to a cloud logging endpoint, at most once per Interval for each
// device.
type CloudLogger struct {
	UserAgent string
	// Beers maps device identifiers to beer names. Devices without an entry are logged as
	// DefaultBeer, or "Untitled".
	Beers       map[string]string
	DefaultBeer string
	Comment     string

	endpoint string
	interval time.Duration
	client   http.Client
	queue    chan scan.Reading

	lock     sync.Mutex
	limiters map[string]*rate.Limiter
	dropped  int
}

// NewCloudLogger returns a CloudLogger posting to endpoint. An interval of zero selects
// DefaultCloudInterval.
func NewCloudLogger(endpoint string, interval time.Duration) (*CloudLogger, error) {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, ErrCloudURL
	}
	if interval <= 0 {
		interval = DefaultCloudInterval
	}
	return &CloudLogger{
		UserAgent: buildUserAgent(),
		Beers:     make(map[string]string),
		endpoint:  endpoint,
		interval:  interval,
		queue:     make(chan scan.Reading, queueSize),
		limiters:  make(map[string]*rate.Limiter),
	}, nil
}

// Record is a scan.Subscriber. It queues readings for Run without blocking the session.
func (l *CloudLogger) Record(u scan.Update) {
	if u.Reading == nil || !l.allow(u.Reading.DeviceID) {
		return
	}
	select {
	case l.queue <- *u.Reading:
	default:
		l.lock.Lock()
		l.dropped++
		l.lock.Unlock()
		log.Warning("Cloud logging queue is full; dropping reading from %s", u.Reading.DeviceID)
	}
}

// Dropped returns the number of readings discarded because the queue was full.
func (l *CloudLogger) Dropped() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.dropped
}

func (l *CloudLogger) allow(device string) bool {
	l.lock.Lock()
	limiter, ok := l.limiters[device]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(l.interval), 1)
		l.limiters[device] = limiter
	}
	l.lock.Unlock()
	return limiter.Allow()
}

// Run posts queued readings until ctx is canceled. Failed posts are logged and not retried.
func (l *CloudLogger) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case reading := <-l.queue:
			if err := l.Post(ctx, reading); err != nil {
				log.Error("Cloud logging failed: %s", err)
			}
		}
	}
}

// Post sends reading immediately, bypassing the rate limit.
func (l *CloudLogger) Post(ctx context.Context, reading scan.Reading) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, strings.NewReader(l.form(reading).Encode()))
	if err != nil {
		return fmt.Errorf("error constructing request to %s: %w", l.endpoint, err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	request.Header.Set("User-Agent", l.UserAgent)
	log.Debug("Posting %s reading to %s...", reading.DeviceID, l.endpoint)

	response, err := l.client.Do(request)
	if err != nil {
		return fmt.Errorf("error posting to %s: %w", l.endpoint, err)
	}
	defer response.Body.Close()
	reader := io.LimitedReader{R: response.Body, N: maxResponseLength}
	body, err := io.ReadAll(&reader)
	if err != nil {
		return err
	}
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("http error when posting to %s: %s", l.endpoint, response.Status)
	}
	log.Debug("Received: %s", body)
	return nil
}

func (l *CloudLogger) form(reading scan.Reading) url.Values {
	beer, ok := l.Beers[reading.DeviceID]
	if !ok || beer == "" {
		beer = l.DefaultBeer
	}
	if beer == "" {
		beer = "Untitled"
	}
	return url.Values{
		"Timepoint": {strconv.FormatFloat(Timepoint(reading.ObservedAt), 'f', 6, 64)},
		"Temp":      {strconv.FormatFloat(reading.Temperature, 'f', 1, 64)},
		"SG":        {strconv.FormatFloat(reading.Gravity, 'f', 3, 64)},
		"Beer":      {beer},
		"Color":     {strings.ToUpper(reading.DeviceID)},
		"Comment":   {l.Comment},
	}
}
