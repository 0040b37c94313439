package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"runtime"

	"github.com/tiltbrew/tilt-bridge/internal/log"
	"github.com/tiltbrew/tilt-bridge/pkg/cache"
	"github.com/tiltbrew/tilt-bridge/pkg/connector"
	"github.com/tiltbrew/tilt-bridge/pkg/connector/ble"
	"github.com/tiltbrew/tilt-bridge/pkg/connector/ble/bluez"
	"github.com/tiltbrew/tilt-bridge/pkg/connector/ble/goble"
	"github.com/tiltbrew/tilt-bridge/pkg/connector/ble/tinygo"
	"github.com/tiltbrew/tilt-bridge/pkg/connector/sim"
	"github.com/tiltbrew/tilt-bridge/pkg/permission"
	"github.com/tiltbrew/tilt-bridge/pkg/publish"
	"github.com/tiltbrew/tilt-bridge/pkg/scan"
)

// Bridge bundles a scan session with the native module and sinks configured for it.
type Bridge struct {
	Session *scan.Session
	Binding *connector.Binding
	Events  *connector.Emitter
	Gate    *permission.Gate
	// Readings is nil unless a reading cache file is configured.
	Readings *cache.ReadingCache

	config *Config
	module *ble.Module
	handle scan.Handle
}

// Close stops scanning, releases the adapter and saves the reading cache.
func (b *Bridge) Close() {
	b.Session.Close()
	if b.module != nil {
		if err := b.module.Close(); err != nil {
			log.Warning("Failed to close BLE adapter: %s", err)
		}
	}
	b.UpdateCachedReadings()
	if b.Readings != nil {
		b.Session.Unsubscribe(b.handle)
	}
}

// UpdateCachedReadings writes the reading cache to c.CacheFilename.
//
// If no cache file is configured, then this method does nothing.
func (b *Bridge) UpdateCachedReadings() {
	if b.Readings == nil || b.config.CacheFilename == "" {
		return
	}
	if err := b.Readings.ExportToFile(b.config.CacheFilename); err != nil {
		log.Error("Error updating cache: %s", err)
	}
}

// Connect assembles a Bridge from c.
//
// An unavailable adapter does not cause Connect to fail: the bridge's binding is unlinked and
// scanning fails with a *protocol.LinkError.
func (c *Config) Connect(ctx context.Context) (*Bridge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	backend, err := c.Backend()
	if err != nil {
		return nil, err
	}
	policy, err := c.Policy(runtime.GOOS)
	if err != nil {
		return nil, err
	}

	events := connector.NewEmitter()
	b := &Bridge{Events: events, config: c}

	adapter, err := c.openAdapter(backend)
	if err != nil {
		b.Binding = connector.Unlinked(err, remediationSteps(backend, err)...)
	} else {
		b.module = ble.NewModule(adapter, events)
		b.Binding = connector.Bind(b.module)
	}

	b.Gate = permission.NewGate(policy, c.requester())
	b.Session = scan.NewSession(b.Binding, events, b.Gate)

	if err := c.loadCache(b); err != nil {
		b.Close()
		return nil, err
	}
	log.Debug("Bridge ready (backend %s, permissions %s)", backend, policy)
	return b, nil
}

// CloudLogger returns a CloudLogger for the configured URL, or ErrNoCloudURL.
func (c *Config) CloudLogger() (*publish.CloudLogger, error) {
	url, err := c.CloudLoggingURL()
	if err != nil {
		return nil, err
	}
	logger, err := publish.NewCloudLogger(url, c.CloudInterval)
	if err != nil {
		return nil, err
	}
	logger.DefaultBeer = c.Beer
	return logger, nil
}

func (c *Config) requester() permission.Requester {
	if c.GrantAll {
		grants := make(map[permission.Capability]permission.Status)
		for _, capability := range permission.Bundle {
			grants[capability] = permission.StatusGranted
		}
		return permission.NewStaticRequester(grants)
	}
	return permission.NewTerminalRequester()
}

func (c *Config) openAdapter(backend string) (ble.Adapter, error) {
	switch backend {
	case BackendSim:
		var hydrometers []sim.Hydrometer
		for i, color := range c.Colors() {
			hydrometers = append(hydrometers, sim.Hydrometer{
				Color:       color,
				Temperature: 66 + float64(i),
				Gravity:     1.060 - float64(i)*0.005,
				GravityStep: 0.0001,
				RSSI:        int16(-60 - 5*i),
			})
		}
		adapter, err := sim.NewAdapter(sim.DefaultInterval, hydrometers...)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	case BackendTinyGo:
		if runtime.GOOS == "linux" {
			if err := bluez.ProbeSystem(c.BtAdapterID); err != nil {
				return nil, err
			}
		}
		adapter, err := tinygo.NewAdapter(c.BtAdapterID)
		if err != nil {
			if tinygo.IsAdapterError(err) {
				log.Error("%s", tinygo.AdapterErrorHelpMessage(err))
			}
			return nil, err
		}
		return adapter, nil
	case BackendGoBLE:
		adapter, err := goble.NewAdapter(c.BtAdapterID)
		if err != nil {
			if goble.IsAdapterError(err) {
				log.Error("%s", goble.AdapterErrorHelpMessage(err))
			}
			return nil, err
		}
		return adapter, nil
	}
	return nil, fmt.Errorf("%w '%s'", ErrUnknownBackend, backend)
}

func remediationSteps(backend string, err error) []string {
	switch {
	case errors.Is(err, bluez.ErrServiceUnavailable), errors.Is(err, bluez.ErrPoweredOff):
		return bluez.RemediationSteps(err)
	case backend == BackendTinyGo:
		return tinygo.RemediationSteps()
	case backend == BackendGoBLE:
		return goble.RemediationSteps()
	}
	return nil
}

func (c *Config) loadCache(b *Bridge) error {
	if c.CacheFilename == "" {
		return nil
	}
	log.Debug("Loading cache from %s...", c.CacheFilename)
	readings, err := cache.ImportFromFile(c.CacheFilename)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load reading cache: %s", err)
		}
		// Create a new cache if one couldn't be loaded from the file
		readings = cache.New(0)
	}
	b.Readings = readings
	b.handle = b.Session.Subscribe(readings.Record)
	return nil
}
