// Package dedupe provides a session-scoped, memory-only duplicate filter for
// plate sightings. Entries expire after a retention window; everything is
// lost on restart, which is deliberate.
package dedupe

import (
	"log/slog"
	"sync"
	"time"

	"github.com/zombor/plate-watch/internal/vision"
)

const (
	// DefaultRetention is how long a plate counts as a duplicate.
	DefaultRetention = 24 * time.Hour
	// DefaultSweepInterval is how often expired entries are removed.
	DefaultSweepInterval = 1 * time.Hour
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// systemClock provides the current wall-clock time.
type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// Cache is a concurrent map from canonical plate to first-seen time. All
// methods are safe to call from multiple goroutines.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]time.Time

	retention     time.Duration
	sweepInterval time.Duration
	clock         Clock

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewCache creates a new Cache with the system clock.
func NewCache(retention, sweepInterval time.Duration) *Cache {
	return NewCacheWithClock(retention, sweepInterval, systemClock{})
}

// NewCacheWithClock creates a new Cache with a custom clock for testing.
func NewCacheWithClock(retention, sweepInterval time.Duration, clock Clock) *Cache {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &Cache{
		entries:       make(map[string]time.Time),
		retention:     retention,
		sweepInterval: sweepInterval,
		clock:         clock,
		done:          make(chan struct{}),
	}
}

// ignored reports keys that never participate in deduplication: the empty
// string and the no-plate sentinel are not plates.
func ignored(key string) bool {
	return key == "" || key == vision.NoPlateFound
}

// IsDuplicate reports whether key was inserted within the retention window.
// Empty and sentinel keys are never duplicates.
func (c *Cache) IsDuplicate(key string) bool {
	if ignored(key) {
		return false
	}

	c.mu.RLock()
	seen, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	return c.clock.Now().Sub(seen) < c.retention
}

// Insert records key with the current time. Empty and sentinel keys are
// ignored, and re-inserting a present key keeps the original timestamp: the
// first sighting is authoritative for expiry.
func (c *Cache) Insert(key string) {
	if ignored(key) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		c.entries[key] = c.clock.Now()
	}
}

// Sweep removes every entry older than the retention window and returns the
// number removed.
func (c *Cache) Sweep() int {
	cutoff := c.clock.Now().Add(-c.retention)

	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, seen := range c.entries {
		if seen.Before(cutoff) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Start launches the periodic sweep. It runs until Stop is called.
func (c *Cache) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := c.Sweep(); removed > 0 {
					slog.Debug("swept expired plates", "removed", removed)
				}
			case <-c.done:
				return
			}
		}
	}()
}

// Stop terminates the sweep loop and waits for it to exit. Safe to call more
// than once.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
}
