// internal/host/capabilities.go
package host

import (
	"context"
	"time"
)

// HistoryItem is one entry returned by a history search.
type HistoryItem struct {
	URL string `json:"url"`
}

// History is the browser history capability.
type History interface {
	// Search returns history items whose text matches the filter. An empty
	// filter matches everything.
	Search(ctx context.Context, text string, since time.Time, maxResults int) ([]HistoryItem, error)
	DeleteURL(ctx context.Context, url string) error
}

// DataSet selects which origin-scoped data types a removal request covers.
type DataSet struct {
	Cookies        bool `json:"cookies"`
	LocalStorage   bool `json:"local_storage"`
	IndexedDB      bool `json:"indexed_db"`
	ServiceWorkers bool `json:"service_workers"`
	Cache          bool `json:"cache"`
}

func (d DataSet) Empty() bool {
	return !d.Cookies && !d.LocalStorage && !d.IndexedDB && !d.ServiceWorkers && !d.Cache
}

// SiteData is the browsing-data removal capability. An empty hostname list
// means the request is not origin-scoped (used for the global cache clear).
type SiteData interface {
	Remove(ctx context.Context, hostnames []string, set DataSet) error
}

// AlarmInfo describes one registered alarm.
type AlarmInfo struct {
	Name   string
	Period time.Duration
}

// Alarms is the named periodic-alarm capability. Alarms created by this
// system always use the same value for initial delay and period.
type Alarms interface {
	Create(name string, delay, period time.Duration) error
	Exists(name string) (bool, error)
	List() ([]AlarmInfo, error)
	Clear(name string) error
	// OnFire registers the single callback invoked with the alarm name on
	// every firing.
	OnFire(fn func(name string))
}
