package cache

import (
	"encoding/json"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/tiltbrew/tilt-bridge/pkg/scan"
)

// Entry is the cached state of one device.
type Entry struct {
	Temperature float64   `json:"temperature"`
	Gravity     float64   `json:"gravity"`
	ObservedAt  time.Time `json:"observed_at"`
	Address     string    `json:"address,omitempty"`
	RSSI        *int      `json:"rssi,omitempty"`
}

type ReadingCache struct {
	MaxEntries int
	Devices    map[string]Entry `json:"devices"`
	lock       sync.Mutex
}

// New returns a ReadingCache that holds readings for up to maxEntries devices. When full, the
// device that has been silent the longest is evicted.
//
// Set maxEntries to zero for an unbounded cache.
func New(maxEntries int) *ReadingCache {
	return &ReadingCache{
		MaxEntries: maxEntries,
		Devices:    make(map[string]Entry),
	}
}

// Import a ReadingCache using data in r.
// The data should previously have been generated using [ReadingCache.Export].
func Import(r io.Reader) (*ReadingCache, error) {
	var cache ReadingCache
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&cache); err != nil {
		return nil, err
	}
	if cache.Devices == nil {
		cache.Devices = make(map[string]Entry)
	}
	return &cache, nil
}

// ImportFromFile reads a ReadingCache from disk.
func ImportFromFile(filename string) (*ReadingCache, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Import(file)
}

// Export writes a serialized ReadingCache to w.
func (c *ReadingCache) Export(w io.Writer) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	return json.NewEncoder(w).Encode(c)
}

// ExportToFile writes a ReadingCache to disk.
func (c *ReadingCache) ExportToFile(filename string) error {
	file, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	return c.Export(file)
}

// Update the ReadingCache's entry for reading.DeviceID. Readings older than the cached entry are
// ignored.
func (c *ReadingCache) Update(reading scan.Reading) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if current, ok := c.Devices[reading.DeviceID]; ok && current.ObservedAt.After(reading.ObservedAt) {
		return
	}
	entry := Entry{
		Temperature: reading.Temperature,
		Gravity:     reading.Gravity,
		ObservedAt:  reading.ObservedAt,
		RSSI:        reading.RSSI,
	}
	if reading.Address != nil {
		entry.Address = *reading.Address
	}
	c.Devices[reading.DeviceID] = entry

	if c.MaxEntries > 0 && len(c.Devices) > c.MaxEntries {
		// The device just heard is never the one evicted, even if its clock lags the others.
		var oldest string
		var oldestTime time.Time
		for device, e := range c.Devices {
			if device == reading.DeviceID {
				continue
			}
			if oldest == "" || e.ObservedAt.Before(oldestTime) {
				oldest = device
				oldestTime = e.ObservedAt
			}
		}
		delete(c.Devices, oldest)
	}
}

// Record is a scan.Subscriber that caches every published reading.
func (c *ReadingCache) Record(u scan.Update) {
	if u.Reading != nil {
		c.Update(*u.Reading)
	}
}

// GetEntry returns the cached state of device.
func (c *ReadingCache) GetEntry(device string) (Entry, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	entry, ok := c.Devices[device]
	return entry, ok
}

// DeviceIDs returns the cached device identifiers in alphabetical order.
func (c *ReadingCache) DeviceIDs() []string {
	c.lock.Lock()
	defer c.lock.Unlock()

	ids := make([]string, 0, len(c.Devices))
	for id := range c.Devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
