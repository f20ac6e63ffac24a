// internal/buffer/buffer.go - durable retry buffer for failed deletions
package buffer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tracewipe/internal/policy"
	"tracewipe/internal/store"
)

const bufferKey = "retry_buffer"

const (
	StatusPending = "pending"
	// StatusFailed marks entries that exhausted their attempts. They are
	// retained for observability, not retried.
	StatusFailed = "failed"
)

// Entry is one deletion attempt waiting to be confirmed.
type Entry struct {
	ID            string           `json:"id"`
	URL           string           `json:"url"`
	Hostname      string           `json:"hostname"`
	Actions       policy.ActionSet `json:"actions"`
	RuleIDMatched string           `json:"rule_id_matched,omitempty"`
	FirstSeenAt   time.Time        `json:"first_seen_at"`
	LastAttemptAt *time.Time       `json:"last_attempt_at,omitempty"`
	Attempts      int              `json:"attempts"`
	Status        string           `json:"status"`
}

// ExecuteFunc applies one buffered deletion; a nil error confirms it.
type ExecuteFunc func(ctx context.Context, entry Entry) error

// Buffer is a durable, bounded, deduplicated queue of deletions not yet
// confirmed successful. The whole collection lives under one store key
// and is read-modify-written as a unit.
type Buffer struct {
	kv  store.KV
	mu  sync.Mutex
	now func() time.Time

	capacity     int
	maxAttempts  int
	retrySpacing time.Duration
	maxAge       time.Duration
}

func New(kv store.KV, capacity, maxAttempts int, retrySpacing, maxAge time.Duration) *Buffer {
	return &Buffer{
		kv:           kv,
		now:          time.Now,
		capacity:     capacity,
		maxAttempts:  maxAttempts,
		retrySpacing: retrySpacing,
		maxAge:       maxAge,
	}
}

// SetClock injects a clock for tests.
func (b *Buffer) SetClock(now func() time.Time) {
	b.now = now
}

// Enqueue adds a deletion attempt. A pending entry for the same URL is
// updated in place instead of duplicated. Inserting past capacity evicts
// the oldest entries by first-seen time regardless of status.
func (b *Buffer) Enqueue(url, hostname string, actions policy.ActionSet, ruleID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := b.load()
	if err != nil {
		return err
	}

	now := b.now()
	updated := false
	for i := range entries {
		if entries[i].Status == StatusPending && entries[i].URL == url {
			entries[i].Actions = actions
			entries[i].LastAttemptAt = &now
			updated = true
			break
		}
	}

	if !updated {
		entries = append(entries, Entry{
			ID:            uuid.New().String(),
			URL:           url,
			Hostname:      hostname,
			Actions:       actions,
			RuleIDMatched: ruleID,
			FirstSeenAt:   now,
			Attempts:      0,
			Status:        StatusPending,
		})
	}

	if len(entries) > b.capacity {
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].FirstSeenAt.Before(entries[j].FirstSeenAt)
		})
		evicted := len(entries) - b.capacity
		entries = entries[evicted:]
		logrus.WithField("evicted", evicted).Warn("Retry buffer over capacity, evicted oldest entries")
	}

	return b.save(entries)
}

// DequeueReady returns pending entries below the attempt ceiling that
// were never attempted or whose last attempt is older than the retry
// spacing.
func (b *Buffer) DequeueReady() ([]Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := b.load()
	if err != nil {
		return nil, err
	}

	now := b.now()
	var ready []Entry
	for _, e := range entries {
		if e.Status != StatusPending || e.Attempts >= b.maxAttempts {
			continue
		}
		if e.LastAttemptAt == nil || now.Sub(*e.LastAttemptAt) >= b.retrySpacing {
			ready = append(ready, e)
		}
	}
	return ready, nil
}

// MarkSuccess removes the entry.
func (b *Buffer) MarkSuccess(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := b.load()
	if err != nil {
		return err
	}

	for i := range entries {
		if entries[i].ID == id {
			entries = append(entries[:i], entries[i+1:]...)
			return b.save(entries)
		}
	}
	return nil
}

// MarkFailed bumps the attempt count and freezes the entry to failed once
// the ceiling is reached. Frozen entries are kept, not deleted.
func (b *Buffer) MarkFailed(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := b.load()
	if err != nil {
		return err
	}

	now := b.now()
	for i := range entries {
		if entries[i].ID == id {
			entries[i].Attempts++
			entries[i].LastAttemptAt = &now
			if entries[i].Attempts >= b.maxAttempts {
				entries[i].Status = StatusFailed
				logrus.WithFields(logrus.Fields{
					"url":      entries[i].URL,
					"attempts": entries[i].Attempts,
				}).Warn("Retry buffer entry exhausted attempts")
			}
			return b.save(entries)
		}
	}
	return nil
}

// TrimExpired purges entries older than the maximum age regardless of
// status. The collection is only written back when something changed.
func (b *Buffer) TrimExpired() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := b.load()
	if err != nil {
		return 0, err
	}

	cutoff := b.now().Add(-b.maxAge)
	kept := entries[:0]
	for _, e := range entries {
		if e.FirstSeenAt.After(cutoff) {
			kept = append(kept, e)
		}
	}

	trimmed := len(entries) - len(kept)
	if trimmed == 0 {
		return 0, nil
	}
	if err := b.save(kept); err != nil {
		return 0, err
	}
	logrus.WithField("trimmed", trimmed).Info("Purged expired retry buffer entries")
	return trimmed, nil
}

// Flush runs every ready entry through the executor sequentially.
// Successes are removed; failures have their attempt count bumped.
func (b *Buffer) Flush(ctx context.Context, execute ExecuteFunc) error {
	if _, err := b.TrimExpired(); err != nil {
		logrus.WithError(err).Warn("Failed to trim expired buffer entries")
	}

	ready, err := b.DequeueReady()
	if err != nil {
		return fmt.Errorf("failed to read retry buffer: %w", err)
	}
	if len(ready) == 0 {
		return nil
	}

	logrus.WithField("entries", len(ready)).Info("Flushing retry buffer")

	for _, entry := range ready {
		if err := execute(ctx, entry); err != nil {
			logrus.WithError(err).WithField("url", entry.URL).Debug("Buffered deletion failed again")
			if err := b.MarkFailed(entry.ID); err != nil {
				return err
			}
			continue
		}
		if err := b.MarkSuccess(entry.ID); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns the pending and failed entry counts.
func (b *Buffer) Stats() (pending, failed int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := b.load()
	if err != nil {
		return 0, 0, err
	}
	for _, e := range entries {
		if e.Status == StatusFailed {
			failed++
		} else {
			pending++
		}
	}
	return pending, failed, nil
}

// Clear drops every entry.
func (b *Buffer) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.kv.Delete(bufferKey)
}

func (b *Buffer) load() ([]Entry, error) {
	data, found, err := b.kv.Get(bufferKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read retry buffer: %w", err)
	}
	if !found {
		return nil, nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal retry buffer: %w", err)
	}
	return entries, nil
}

func (b *Buffer) save(entries []Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal retry buffer: %w", err)
	}
	if err := b.kv.Set(bufferKey, data); err != nil {
		return fmt.Errorf("failed to write retry buffer: %w", err)
	}
	return nil
}
