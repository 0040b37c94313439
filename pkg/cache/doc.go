// Package cache remembers the latest reading of every hydrometer seen by a scan session.
//
// A scan session only retains the most recent reading overall. A [ReadingCache] subscribed to the
// session keeps one entry per device, so that a status display can show every Tilt in range.
// Exporting the cache with [ReadingCache.ExportToFile] lets the last known values survive a
// restart.
//
// The same ReadingCache may be subscribed to several sessions.
package cache
