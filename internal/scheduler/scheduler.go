// internal/scheduler/scheduler.go - alarm reconciliation and routing
package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tracewipe/internal/buffer"
	"tracewipe/internal/cleaner"
	"tracewipe/internal/host"
	"tracewipe/internal/metrics"
	"tracewipe/internal/policy"
)

const (
	// PeriodicAlarmPrefix namespaces per-rule sweep alarms; the rule id
	// follows the prefix.
	PeriodicAlarmPrefix = "periodic:"
	// BufferFlushAlarm is the single fixed-interval retry flush alarm.
	BufferFlushAlarm = "buffer-flush"
)

// Scheduler reconciles host alarms with the rules' periodic triggers and
// routes firings to either a buffer flush or a full-history sweep.
type Scheduler struct {
	alarms  host.Alarms
	rules   *policy.Store
	ruleset *policy.RuleSet
	cleaner *cleaner.Cleaner
	buf     *buffer.Buffer
	history host.History
	metrics *metrics.Collector

	floor         time.Duration
	flushInterval time.Duration
	searchMax     int
}

func New(alarms host.Alarms, rules *policy.Store, ruleset *policy.RuleSet, cl *cleaner.Cleaner,
	buf *buffer.Buffer, history host.History, collector *metrics.Collector,
	floor, flushInterval time.Duration, searchMax int) *Scheduler {
	return &Scheduler{
		alarms:        alarms,
		rules:         rules,
		ruleset:       ruleset,
		cleaner:       cl,
		buf:           buf,
		history:       history,
		metrics:       collector,
		floor:         floor,
		flushInterval: flushInterval,
		searchMax:     searchMax,
	}
}

// Start registers the alarm callback, ensures the flush alarm and
// reconciles per-rule alarms against the persisted rule list.
func (s *Scheduler) Start(ctx context.Context) error {
	s.alarms.OnFire(func(name string) {
		s.HandleAlarm(ctx, name)
	})

	if err := s.EnsureBufferFlushAlarm(); err != nil {
		return err
	}

	rules, err := s.rules.List()
	if err != nil {
		return err
	}
	return s.SyncAlarms(rules)
}

// SyncAlarms ensures exactly one alarm per enabled periodic rule, named
// from the rule id, with max(floor, periodicMinutes) as both delay and
// period. Existing alarms are never recreated so their phase is
// preserved; periodic alarms no longer backed by an enabled rule are
// removed.
func (s *Scheduler) SyncAlarms(rules []policy.Rule) error {
	wanted := make(map[string]time.Duration)
	for i := range rules {
		rule := &rules[i]
		if !rule.Enabled || rule.Timing.PeriodicMinutes == nil {
			continue
		}
		period := time.Duration(*rule.Timing.PeriodicMinutes) * time.Minute
		if period < s.floor {
			period = s.floor
		}
		wanted[PeriodicAlarmPrefix+rule.ID] = period
	}

	for name, period := range wanted {
		exists, err := s.alarms.Exists(name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := s.alarms.Create(name, period, period); err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"alarm":  name,
			"period": period,
		}).Info("Created periodic sweep alarm")
	}

	existing, err := s.alarms.List()
	if err != nil {
		return err
	}
	for _, info := range existing {
		if !strings.HasPrefix(info.Name, PeriodicAlarmPrefix) {
			continue
		}
		if _, ok := wanted[info.Name]; !ok {
			if err := s.alarms.Clear(info.Name); err != nil {
				return err
			}
			logrus.WithField("alarm", info.Name).Info("Removed orphaned sweep alarm")
		}
	}

	return nil
}

// EnsureBufferFlushAlarm idempotently registers the fixed-interval flush
// alarm.
func (s *Scheduler) EnsureBufferFlushAlarm() error {
	exists, err := s.alarms.Exists(BufferFlushAlarm)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.alarms.Create(BufferFlushAlarm, s.flushInterval, s.flushInterval)
}

// HandleAlarm routes one alarm firing.
func (s *Scheduler) HandleAlarm(ctx context.Context, name string) {
	switch {
	case name == BufferFlushAlarm:
		if err := s.buf.Flush(ctx, s.executeEntry); err != nil {
			logrus.WithError(err).Error("Retry buffer flush failed")
		}

	case strings.HasPrefix(name, PeriodicAlarmPrefix):
		s.handlePeriodic(ctx, name)

	default:
		logrus.WithField("alarm", name).Warn("Ignoring unknown alarm")
	}
}

func (s *Scheduler) executeEntry(ctx context.Context, entry buffer.Entry) error {
	result := s.cleaner.ExecuteActions(ctx, entry.URL, entry.Actions, cleaner.ExecOptions{
		LogContext: "buffer-flush",
	})
	if !result.Success {
		return errors.New("deletion still failing")
	}
	if result.History != nil {
		s.metrics.RecordHistoryDeleted(result.History.Deleted)
	}
	return nil
}

func (s *Scheduler) handlePeriodic(ctx context.Context, name string) {
	ruleID := strings.TrimPrefix(name, PeriodicAlarmPrefix)

	rule, err := s.rules.Get(ruleID)
	if err != nil || !rule.Enabled || rule.Timing.PeriodicMinutes == nil {
		// The backing rule is gone or no longer periodic; the alarm heals
		// itself out of existence.
		if err != nil && !errors.Is(err, policy.ErrRuleNotFound) {
			logrus.WithError(err).WithField("rule_id", ruleID).Error("Failed to load rule for sweep")
			return
		}
		if clearErr := s.alarms.Clear(name); clearErr != nil {
			logrus.WithError(clearErr).WithField("alarm", name).Error("Failed to clear stale alarm")
		} else {
			logrus.WithField("alarm", name).Info("Cleared alarm with no backing rule")
		}
		return
	}

	rules, err := s.rules.List()
	if err != nil {
		logrus.WithError(err).Error("Failed to reload rules before sweep")
		return
	}
	count := s.ruleset.Load(rules)
	s.metrics.UpdateCompiledRules(count)

	s.RunSweep(ctx, ruleID)
}

// RunSweep scans the full host history and applies the merged action plan
// to every item matching any compiled rule. The rule whose alarm fired
// only gates whether the alarm still exists; it does not narrow the
// sweep's scope.
func (s *Scheduler) RunSweep(ctx context.Context, triggeredBy string) {
	start := time.Now()

	items, err := s.history.Search(ctx, "", time.Time{}, s.searchMax)
	if err != nil {
		logrus.WithError(err).Error("History scan failed, skipping sweep")
		return
	}

	swept := 0
	failed := 0
	for _, item := range items {
		matches := s.ruleset.EvaluateURL(item.URL)
		if len(matches) == 0 {
			continue
		}

		merged := policy.MergeActions(matches)
		result := s.cleaner.ExecuteActions(ctx, item.URL, merged, cleaner.ExecOptions{
			LogContext: "periodic-sweep",
		})
		if result.Success {
			swept++
			if result.History != nil {
				s.metrics.RecordHistoryDeleted(result.History.Deleted)
			}
		} else {
			failed++
		}
	}

	s.metrics.RecordSweep(time.Since(start))
	logrus.WithFields(logrus.Fields{
		"triggered_by": triggeredBy,
		"scanned":      len(items),
		"swept":        swept,
		"failed":       failed,
		"duration":     time.Since(start),
	}).Info("Periodic sweep completed")
}
