// internal/pipeline/actionlog.go - durable audit log ring
package pipeline

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"tracewipe/internal/policy"
	"tracewipe/internal/store"
)

const actionLogKey = "action_log"

const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// LogEntry records one deletion execution for the audit trail.
type LogEntry struct {
	Timestamp time.Time        `json:"timestamp"`
	URL       string           `json:"url"`
	RuleNames []string         `json:"rule_names"`
	Actions   policy.ActionSet `json:"actions"`
	Result    string           `json:"result"`
}

// ActionLog is an append-only ring persisted as one JSON collection,
// newest first, bounded at a fixed capacity.
type ActionLog struct {
	kv       store.KV
	mu       sync.Mutex
	capacity int
}

func NewActionLog(kv store.KV, capacity int) *ActionLog {
	return &ActionLog{kv: kv, capacity: capacity}
}

func (l *ActionLog) Append(entry LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load()
	if err != nil {
		return err
	}

	entries = append([]LogEntry{entry}, entries...)
	if len(entries) > l.capacity {
		entries = entries[:l.capacity]
	}
	return l.save(entries)
}

// Recent returns up to limit entries, newest first. A non-positive limit
// returns everything.
func (l *ActionLog) Recent(limit int) ([]LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (l *ActionLog) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.kv.Delete(actionLogKey)
}

func (l *ActionLog) load() ([]LogEntry, error) {
	data, found, err := l.kv.Get(actionLogKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read action log: %w", err)
	}
	if !found {
		return nil, nil
	}

	var entries []LogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal action log: %w", err)
	}
	return entries, nil
}

func (l *ActionLog) save(entries []LogEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal action log: %w", err)
	}
	if err := l.kv.Set(actionLogKey, data); err != nil {
		return fmt.Errorf("failed to write action log: %w", err)
	}
	return nil
}
