// internal/pipeline/dedup.go - bounded short-window URL dedup
package pipeline

import "time"

// dedupCache suppresses reprocessing of a URL seen within the window. It
// has an explicit capacity: once full, the stalest entry is evicted on
// insert.
type dedupCache struct {
	window   time.Duration
	capacity int
	seen     map[string]time.Time
}

func newDedupCache(window time.Duration, capacity int) *dedupCache {
	return &dedupCache{
		window:   window,
		capacity: capacity,
		seen:     make(map[string]time.Time),
	}
}

// Seen reports whether the URL was marked within the window.
func (d *dedupCache) Seen(url string, now time.Time) bool {
	at, ok := d.seen[url]
	if !ok {
		return false
	}
	if now.Sub(at) >= d.window {
		delete(d.seen, url)
		return false
	}
	return true
}

// Mark records the URL, evicting expired entries first and then the
// stalest entry if still at capacity.
func (d *dedupCache) Mark(url string, now time.Time) {
	if len(d.seen) >= d.capacity {
		for k, at := range d.seen {
			if now.Sub(at) >= d.window {
				delete(d.seen, k)
			}
		}
	}
	if len(d.seen) >= d.capacity {
		var oldestKey string
		var oldestAt time.Time
		for k, at := range d.seen {
			if oldestKey == "" || at.Before(oldestAt) {
				oldestKey = k
				oldestAt = at
			}
		}
		delete(d.seen, oldestKey)
	}
	d.seen[url] = now
}

func (d *dedupCache) Len() int {
	return len(d.seen)
}
