// Package metrics collects counters for the memory, disk and network tiers.
package metrics

import (
	"sync"
	"time"
)

// Tier identifies where a request was satisfied.
type Tier string

// Cache tiers.
const (
	TierMemory  Tier = "memory"
	TierDisk    Tier = "disk"
	TierNetwork Tier = "network"
)

// Metrics tracks hits, misses, evictions and network traffic.
// A nil *Metrics ignores every call.
type Metrics struct {
	mu sync.Mutex

	hits      map[Tier]int64
	misses    map[Tier]int64
	evictions map[Tier]int64
	errors    int64

	bytesServed     int64
	networkRequests int64
	revalidations   int64
	notModified     int64
	bytesDownloaded int64

	startTime    time.Time
	lastHitTime  time.Time
	lastMissTime time.Time
}

// New creates an empty Metrics.
func New() *Metrics {
	return &Metrics{
		hits:      make(map[Tier]int64),
		misses:    make(map[Tier]int64),
		evictions: make(map[Tier]int64),
		startTime: time.Now(),
	}
}

// RecordHit records a hit served from tier.
func (m *Metrics) RecordHit(tier Tier, bytesServed int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hits[tier]++
	m.bytesServed += bytesServed
	m.lastHitTime = time.Now()
}

// RecordMiss records a miss in tier.
func (m *Metrics) RecordMiss(tier Tier) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.misses[tier]++
	m.lastMissTime = time.Now()
}

// RecordEviction records an entry leaving tier because of capacity pressure.
func (m *Metrics) RecordEviction(tier Tier) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictions[tier]++
}

// RecordNetwork records a network round trip. revalidation marks conditional
// requests; notModified marks a 304 answer to one.
func (m *Metrics) RecordNetwork(bytesDownloaded int64, revalidation, notModified bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.networkRequests++
	m.bytesDownloaded += bytesDownloaded
	if revalidation {
		m.revalidations++
	}
	if notModified {
		m.notModified++
	}
}

// RecordError records a failed operation.
func (m *Metrics) RecordError() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors++
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Hits      map[Tier]int64
	Misses    map[Tier]int64
	Evictions map[Tier]int64
	Errors    int64

	// HitRate is hits over lookups across the memory and disk tiers.
	HitRate float64

	BytesServed     int64
	NetworkRequests int64
	Revalidations   int64
	NotModified     int64
	BytesDownloaded int64

	Uptime           time.Duration
	TimeSinceLastHit time.Duration
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		Hits:            copyCounts(m.hits),
		Misses:          copyCounts(m.misses),
		Evictions:       copyCounts(m.evictions),
		Errors:          m.errors,
		BytesServed:     m.bytesServed,
		NetworkRequests: m.networkRequests,
		Revalidations:   m.revalidations,
		NotModified:     m.notModified,
		BytesDownloaded: m.bytesDownloaded,
		Uptime:          time.Since(m.startTime),
	}
	if !m.lastHitTime.IsZero() {
		s.TimeSinceLastHit = time.Since(m.lastHitTime)
	}

	hits := m.hits[TierMemory] + m.hits[TierDisk]
	lookups := hits + m.misses[TierMemory] + m.misses[TierDisk]
	if lookups > 0 {
		s.HitRate = float64(hits) / float64(lookups)
	}
	return s
}

func copyCounts(src map[Tier]int64) map[Tier]int64 {
	dst := make(map[Tier]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
