// internal/pipeline/pipeline.go - per-event deletion pipeline
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tracewipe/internal/buffer"
	"tracewipe/internal/cleaner"
	"tracewipe/internal/config"
	"tracewipe/internal/metrics"
	"tracewipe/internal/policy"
	"tracewipe/internal/store"
)

// Trigger identifies which event kind is asking for a deletion.
type Trigger string

const (
	TriggerVisit        Trigger = "visit"
	TriggerTabClose     Trigger = "tab-close"
	TriggerBrowserClose Trigger = "browser-close"
	TriggerManual       Trigger = "manual"
)

const (
	pausedKey     = "paused"
	tabKeyPrefix  = "tab:"
	manualRuleTag = "manual"
)

// tabEntry is the volatile tab→URL record behind tab-close triggers.
type tabEntry struct {
	TabID     int       `json:"tab_id"`
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
}

// Status is the snapshot returned to UI clients.
type Status struct {
	Paused        bool `json:"paused"`
	RuleCount     int  `json:"rule_count"`
	CompiledRules int  `json:"compiled_rules"`
	BufferPending int  `json:"buffer_pending"`
	BufferFailed  int  `json:"buffer_failed"`
	TokensUsed    int  `json:"tokens_used"`
	TokenCapacity int  `json:"token_capacity"`
}

// TestResult is the rule-authoring feedback for one URL.
type TestResult struct {
	URL           string           `json:"url"`
	Matches       []policy.Match   `json:"matches"`
	MergedActions policy.ActionSet `json:"merged_actions"`
	MergedTiming  policy.Timing    `json:"merged_timing"`
}

// Engine owns the shared mutable pipeline state: the compiled rule cache,
// the token bucket, the dedup cache and the pause flag. It is the entry
// point invoked for every triggering event.
type Engine struct {
	cfg      config.EngineConfig
	rules    *policy.Store
	ruleset  *policy.RuleSet
	cleaner  *cleaner.Cleaner
	buf      *buffer.Buffer
	log      *ActionLog
	volatile store.KV
	metrics  *metrics.Collector
	now      func() time.Time

	// SyncAlarms, when set, is invoked with the fresh rule list after
	// every reload so the scheduler can reconcile periodic alarms.
	SyncAlarms func([]policy.Rule) error
	// OnLogEntry, when set, receives every appended audit entry (used for
	// the websocket broadcast).
	OnLogEntry func(LogEntry)

	// The token window and dedup cache are check-then-mutate structures;
	// mu keeps each sequence atomic.
	mu          sync.Mutex
	tokensUsed  int
	windowStart time.Time
	dedup       *dedupCache
}

func NewEngine(cfg config.EngineConfig, rules *policy.Store, ruleset *policy.RuleSet,
	cl *cleaner.Cleaner, buf *buffer.Buffer, log *ActionLog, volatile store.KV,
	collector *metrics.Collector) *Engine {
	return &Engine{
		cfg:      cfg,
		rules:    rules,
		ruleset:  ruleset,
		cleaner:  cl,
		buf:      buf,
		log:      log,
		volatile: volatile,
		metrics:  collector,
		now:      time.Now,
		dedup:    newDedupCache(cfg.DedupWindow, cfg.DedupCapacity),
	}
}

// SetClock injects a clock for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// ReloadRules rebuilds the compiled cache from the persisted rule list
// and lets the scheduler reconcile alarms.
func (e *Engine) ReloadRules() error {
	rules, err := e.rules.List()
	if err != nil {
		return err
	}

	count := e.ruleset.Load(rules)
	e.metrics.UpdateCompiledRules(count)

	if e.SyncAlarms != nil {
		if err := e.SyncAlarms(rules); err != nil {
			return fmt.Errorf("failed to sync alarms: %w", err)
		}
	}
	return nil
}

// ProcessDeletion evaluates one triggering event for one URL. The gates
// run in order: pause, dedup window, rule match, trigger kind, rate
// limit. Rate-limit exhaustion defers to the retry buffer instead of
// executing.
func (e *Engine) ProcessDeletion(ctx context.Context, rawURL string, trigger Trigger) {
	if paused, err := e.Paused(); err != nil {
		logrus.WithError(err).Warn("Failed to read pause flag")
	} else if paused {
		return
	}

	now := e.now()
	e.mu.Lock()
	seen := e.dedup.Seen(rawURL, now)
	e.mu.Unlock()
	if seen {
		return
	}

	matches := e.ruleset.EvaluateURL(rawURL)
	if len(matches) == 0 {
		return
	}

	timing := policy.MergeTiming(matches)
	if !triggerEnabled(timing, trigger) {
		return
	}

	merged := policy.MergeActions(matches)
	hostname := hostnameOf(rawURL)

	if !e.acquireToken(policy.MinSafetyLimit(matches)) {
		e.metrics.RecordDeferral()
		logrus.WithField("url", rawURL).Debug("Rate limited, deferring to retry buffer")
		if err := e.buf.Enqueue(rawURL, hostname, merged, matches[0].RuleID); err != nil {
			logrus.WithError(err).Error("Failed to enqueue rate-limited deletion")
		}
		return
	}

	e.mu.Lock()
	e.dedup.Mark(rawURL, now)
	e.mu.Unlock()

	result := e.cleaner.ExecuteActions(ctx, rawURL, merged, cleaner.ExecOptions{
		LogContext: string(trigger),
	})

	outcome := ResultOK
	if !result.Success {
		outcome = ResultFailed
		if err := e.buf.Enqueue(rawURL, hostname, merged, matches[0].RuleID); err != nil {
			logrus.WithError(err).Error("Failed to enqueue failed deletion")
		}
	} else if result.History != nil {
		e.metrics.RecordHistoryDeleted(result.History.Deleted)
	}
	e.metrics.RecordDeletion(string(trigger), outcome)

	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m.RuleName)
	}
	e.appendLog(LogEntry{
		Timestamp: now,
		URL:       rawURL,
		RuleNames: names,
		Actions:   merged,
		Result:    outcome,
	})

	logrus.WithFields(logrus.Fields{
		"url":     rawURL,
		"trigger": trigger,
		"rules":   names,
		"outcome": outcome,
	}).Info("Processed deletion")
}

// ForgetURL erases every trace kind for one URL immediately, independent
// of the rule set. Failures land in the retry buffer like any other run.
func (e *Engine) ForgetURL(ctx context.Context, rawURL string) cleaner.ExecResult {
	all := policy.ActionSet{
		History:  policy.ActionDelete,
		Cookies:  policy.ActionDelete,
		Cache:    policy.ActionDelete,
		SiteData: policy.ActionDelete,
	}

	result := e.cleaner.ExecuteActions(ctx, rawURL, all, cleaner.ExecOptions{
		IncludeSubpages: true,
		LogContext:      string(TriggerManual),
	})

	outcome := ResultOK
	if !result.Success {
		outcome = ResultFailed
		if err := e.buf.Enqueue(rawURL, hostnameOf(rawURL), all, ""); err != nil {
			logrus.WithError(err).Error("Failed to enqueue manual deletion")
		}
	} else if result.History != nil {
		e.metrics.RecordHistoryDeleted(result.History.Deleted)
	}
	e.metrics.RecordDeletion(string(TriggerManual), outcome)

	e.appendLog(LogEntry{
		Timestamp: e.now(),
		URL:       rawURL,
		RuleNames: []string{manualRuleTag},
		Actions:   all,
		Result:    outcome,
	})
	return result
}

// TestURL evaluates a URL without side effects, for rule authoring
// feedback.
func (e *Engine) TestURL(rawURL string) TestResult {
	matches := e.ruleset.EvaluateURL(rawURL)
	return TestResult{
		URL:           rawURL,
		Matches:       matches,
		MergedActions: policy.MergeActions(matches),
		MergedTiming:  policy.MergeTiming(matches),
	}
}

// Paused reads the pause flag from the volatile store.
func (e *Engine) Paused() (bool, error) {
	v, found, err := e.volatile.Get(pausedKey)
	if err != nil {
		return false, err
	}
	return found && string(v) == "true", nil
}

func (e *Engine) SetPaused(paused bool) error {
	if paused {
		return e.volatile.Set(pausedKey, []byte("true"))
	}
	return e.volatile.Delete(pausedKey)
}

// TrackTab records the volatile tab→URL mapping behind tab-close
// triggers.
func (e *Engine) TrackTab(tabID int, rawURL string) error {
	data, err := json.Marshal(tabEntry{TabID: tabID, URL: rawURL, Timestamp: e.now()})
	if err != nil {
		return err
	}
	return e.volatile.Set(fmt.Sprintf("%s%d", tabKeyPrefix, tabID), data)
}

// HandleTabClose resolves the closed tab to its last URL and runs the
// tab-close trigger for it.
func (e *Engine) HandleTabClose(ctx context.Context, tabID int) {
	key := fmt.Sprintf("%s%d", tabKeyPrefix, tabID)
	data, found, err := e.volatile.Get(key)
	if err != nil {
		logrus.WithError(err).Warn("Failed to read tab tracking entry")
		return
	}
	if !found {
		return
	}

	var entry tabEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		logrus.WithError(err).Warn("Corrupt tab tracking entry")
		e.volatile.Delete(key)
		return
	}
	e.volatile.Delete(key)

	e.ProcessDeletion(ctx, entry.URL, TriggerTabClose)
}

// HandleWindowClose runs the browser-close trigger for every tracked tab
// and clears the tracking map.
func (e *Engine) HandleWindowClose(ctx context.Context) {
	keys, err := e.volatile.Keys(tabKeyPrefix)
	if err != nil {
		logrus.WithError(err).Warn("Failed to list tracked tabs")
		return
	}

	for _, key := range keys {
		data, found, err := e.volatile.Get(key)
		if err != nil || !found {
			continue
		}
		var entry tabEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			e.volatile.Delete(key)
			continue
		}
		e.volatile.Delete(key)
		e.ProcessDeletion(ctx, entry.URL, TriggerBrowserClose)
	}
}

// Status snapshots engine state for the UI.
func (e *Engine) Status() (Status, error) {
	paused, err := e.Paused()
	if err != nil {
		return Status{}, err
	}

	rules, err := e.rules.List()
	if err != nil {
		return Status{}, err
	}

	pending, failed, err := e.buf.Stats()
	if err != nil {
		return Status{}, err
	}

	e.mu.Lock()
	used := e.tokensUsed
	e.mu.Unlock()

	return Status{
		Paused:        paused,
		RuleCount:     len(rules),
		CompiledRules: len(e.ruleset.Compiled()),
		BufferPending: pending,
		BufferFailed:  failed,
		TokensUsed:    used,
		TokenCapacity: e.cfg.MaxDeletesPerMinute,
	}, nil
}

// ActionLog exposes the audit log to the API layer.
func (e *Engine) ActionLog() *ActionLog {
	return e.log
}

// Buffer exposes the retry buffer to the API layer.
func (e *Engine) Buffer() *buffer.Buffer {
	return e.buf
}

// acquireToken admits a run while the deletions this wall-clock minute
// stay under both the global capacity and the smallest per-rule cap
// among the matches. The window refills fully once 60s have elapsed
// since the last refill.
func (e *Engine) acquireToken(ruleLimit int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if e.windowStart.IsZero() || now.Sub(e.windowStart) >= time.Minute {
		e.windowStart = now
		e.tokensUsed = 0
	}

	limit := e.cfg.MaxDeletesPerMinute
	if ruleLimit > 0 && ruleLimit < limit {
		limit = ruleLimit
	}

	if e.tokensUsed >= limit {
		return false
	}
	e.tokensUsed++
	return true
}

func (e *Engine) appendLog(entry LogEntry) {
	if err := e.log.Append(entry); err != nil {
		logrus.WithError(err).Error("Failed to append action log entry")
		return
	}
	if e.OnLogEntry != nil {
		e.OnLogEntry(entry)
	}
}

func triggerEnabled(timing policy.Timing, trigger Trigger) bool {
	switch trigger {
	case TriggerVisit:
		return timing.ASAP
	case TriggerTabClose:
		return timing.OnTabClose
	case TriggerBrowserClose:
		return timing.OnBrowserClose
	case TriggerManual:
		return true
	default:
		return false
	}
}

func hostnameOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
