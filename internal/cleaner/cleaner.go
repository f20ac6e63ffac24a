// internal/cleaner/cleaner.go - deletion orchestrator
package cleaner

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tracewipe/internal/host"
	"tracewipe/internal/policy"
)

// HistoryResult accounts for one history deletion run. Partial means at
// least one URL was deleted and at least one failed; Success stays true
// in that case and the caller decides how to treat it.
type HistoryResult struct {
	Success bool     `json:"success"`
	Partial bool     `json:"partial"`
	Deleted int      `json:"deleted"`
	Errors  []string `json:"errors,omitempty"`
}

// OpResult is the outcome of a site-data or cache operation. Skipped
// operations are successes that never touched the capability.
type OpResult struct {
	Success bool   `json:"success"`
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ExecResult bundles the sub-operation outcomes of one merged plan.
type ExecResult struct {
	Success  bool           `json:"success"`
	History  *HistoryResult `json:"history,omitempty"`
	SiteData *OpResult      `json:"site_data,omitempty"`
	Cache    *OpResult      `json:"cache,omitempty"`
}

// ExecOptions tunes one ExecuteActions run.
type ExecOptions struct {
	// IncludeSubpages widens history matching from equivalent URLs to the
	// whole path subtree.
	IncludeSubpages bool
	// LogContext tags log lines from this run.
	LogContext string
}

// Cleaner performs erasure through the host capabilities. The global
// cache-clear timestamp lives here because cache clearing has no per-host
// granularity.
type Cleaner struct {
	history  host.History
	siteData host.SiteData
	now      func() time.Time

	searchMax          int
	cacheClearInterval time.Duration

	mu             sync.Mutex
	lastCacheClear time.Time
}

func New(history host.History, siteData host.SiteData, searchMax int, cacheClearInterval time.Duration) *Cleaner {
	return &Cleaner{
		history:            history,
		siteData:           siteData,
		now:                time.Now,
		searchMax:          searchMax,
		cacheClearInterval: cacheClearInterval,
	}
}

// SetClock injects a clock for tests.
func (c *Cleaner) SetClock(now func() time.Time) {
	c.now = now
}

// FindMatchingHistoryURLs searches history with the URL's hostname as the
// text filter and keeps the items the matcher accepts, excluding the URL
// itself. A search failure degrades to an empty result; callers fall back
// to exact-URL deletion.
func (c *Cleaner) FindMatchingHistoryURLs(ctx context.Context, rawURL string, matcher func(base, candidate string) bool) []string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return nil
	}

	items, err := c.history.Search(ctx, stripWWW(u.Hostname()), time.Time{}, c.searchMax)
	if err != nil {
		logrus.WithError(err).WithField("url", rawURL).Warn("History search failed, falling back to exact URL")
		return nil
	}

	var matched []string
	for _, item := range items {
		if item.URL == rawURL {
			continue
		}
		if matcher(rawURL, item.URL) {
			matched = append(matched, item.URL)
		}
	}
	return matched
}

// DeleteHistory removes the exact URL plus every equivalent (or, with
// IncludeSubpages, descendant) history entry. Each deletion is attempted
// independently so one failure does not block the rest.
func (c *Cleaner) DeleteHistory(ctx context.Context, rawURL string, opts ExecOptions) HistoryResult {
	matcher := AreEquivalentHistoryURLs
	if opts.IncludeSubpages {
		matcher = IsHistoryURLInSubtree
	}

	targets := append([]string{rawURL}, c.FindMatchingHistoryURLs(ctx, rawURL, matcher)...)

	var result HistoryResult
	for _, target := range targets {
		if err := c.history.DeleteURL(ctx, target); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", target, err))
			continue
		}
		result.Deleted++
	}

	switch {
	case len(result.Errors) == 0:
		result.Success = true
	case result.Deleted > 0:
		result.Success = true
		result.Partial = true
	default:
		result.Success = false
	}

	logrus.WithFields(logrus.Fields{
		"url":     rawURL,
		"deleted": result.Deleted,
		"errors":  len(result.Errors),
		"context": opts.LogContext,
	}).Debug("History deletion completed")

	return result
}

// DeleteSiteData clears cookies and/or origin-scoped site data for the
// hostname and its www/non-www counterpart in one capability request. An
// empty request short-circuits to a skipped success.
func (c *Cleaner) DeleteSiteData(ctx context.Context, hostname string, actions policy.ActionSet) OpResult {
	set := host.DataSet{
		Cookies:        actions.Cookies == policy.ActionDelete,
		LocalStorage:   actions.SiteData == policy.ActionDelete,
		IndexedDB:      actions.SiteData == policy.ActionDelete,
		ServiceWorkers: actions.SiteData == policy.ActionDelete,
	}
	if set.Empty() {
		return OpResult{Success: true, Skipped: true}
	}
	if hostname == "" {
		return OpResult{Error: "no hostname to scope site-data removal to"}
	}

	if err := c.siteData.Remove(ctx, ExpandHostnames(hostname), set); err != nil {
		return OpResult{Error: err.Error()}
	}
	return OpResult{Success: true}
}

// ClearGlobalCache clears the browser cache, which has no per-host
// granularity, rate-limited to once per configured interval. The
// timestamp only advances on a successful clear, so a failed attempt can
// be retried immediately.
func (c *Cleaner) ClearGlobalCache(ctx context.Context) OpResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.lastCacheClear.IsZero() && now.Sub(c.lastCacheClear) < c.cacheClearInterval {
		return OpResult{Success: true, Skipped: true, Reason: "rate-limited"}
	}

	if err := c.siteData.Remove(ctx, nil, host.DataSet{Cache: true}); err != nil {
		return OpResult{Error: err.Error()}
	}

	c.lastCacheClear = now
	logrus.Debug("Cleared global cache")
	return OpResult{Success: true}
}

// ExecuteActions runs the merged plan for one URL. Overall success
// requires every invoked sub-operation to succeed unconditionally: a
// partial history result counts as overall failure even though its own
// success flag is true, so partially-completed work lands in the retry
// buffer.
func (c *Cleaner) ExecuteActions(ctx context.Context, rawURL string, merged policy.ActionSet, opts ExecOptions) ExecResult {
	result := ExecResult{Success: true}

	if merged.History == policy.ActionDelete {
		hr := c.DeleteHistory(ctx, rawURL, opts)
		result.History = &hr
		if !hr.Success || hr.Partial {
			result.Success = false
		}
	}

	if merged.Cookies == policy.ActionDelete || merged.SiteData == policy.ActionDelete {
		hostname := ""
		if u, err := url.Parse(rawURL); err == nil {
			hostname = u.Hostname()
		}
		sr := c.DeleteSiteData(ctx, hostname, merged)
		result.SiteData = &sr
		if !sr.Success {
			result.Success = false
		}
	}

	if merged.Cache == policy.ActionDelete {
		cr := c.ClearGlobalCache(ctx)
		result.Cache = &cr
		if !cr.Success {
			result.Success = false
		}
	}

	return result
}
