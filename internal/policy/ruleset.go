// internal/policy/ruleset.go - compiled rule cache and URL evaluation
package policy

import (
	"regexp"
	"sync"

	"github.com/sirupsen/logrus"
)

// CompiledRule is the in-memory, enabled-only projection of a Rule.
// Never persisted.
type CompiledRule struct {
	ID      string
	Name    string
	Include []*regexp.Regexp
	Exclude []*regexp.Regexp
	Actions ActionSet
	Timing  Timing
	Safety  Safety
}

// Match records one rule matching one URL.
type Match struct {
	RuleID   string    `json:"rule_id"`
	RuleName string    `json:"rule_name"`
	Actions  ActionSet `json:"actions"`
	Timing   Timing    `json:"timing"`
	Safety   Safety    `json:"safety"`
}

// RuleSet is the process-wide compiled rule cache. Load replaces the
// whole cache atomically; readers keep seeing the old cache until the
// swap completes.
type RuleSet struct {
	mu       sync.RWMutex
	compiled []*CompiledRule
}

func NewRuleSet() *RuleSet {
	return &RuleSet{}
}

// Load compiles the enabled rules and swaps them in, returning how many
// compiled. A rule with any bad include pattern is voided entirely
// (fail-closed); bad exclude patterns are dropped one by one and simply
// fail to exclude (fail-open).
func (rs *RuleSet) Load(rules []Rule) int {
	compiled := make([]*CompiledRule, 0, len(rules))

	for i := range rules {
		rule := &rules[i]
		if !rule.Enabled {
			continue
		}

		cr := &CompiledRule{
			ID:      rule.ID,
			Name:    rule.Name,
			Actions: rule.Actions,
			Timing:  rule.Timing,
			Safety:  rule.Safety,
		}

		ok := len(rule.Match.URLRegex) > 0
		for _, p := range rule.Match.URLRegex {
			re, err := CompilePattern(p)
			if err != nil {
				logrus.WithError(err).WithField("rule", rule.Name).Warn("Include pattern failed to compile, voiding rule")
				ok = false
				break
			}
			cr.Include = append(cr.Include, re)
		}
		if !ok {
			continue
		}

		for _, p := range rule.Match.ExcludeRegex {
			re, err := CompilePattern(p)
			if err != nil {
				logrus.WithError(err).WithField("rule", rule.Name).Warn("Dropping bad exclude pattern")
				continue
			}
			cr.Exclude = append(cr.Exclude, re)
		}

		compiled = append(compiled, cr)
	}

	rs.mu.Lock()
	rs.compiled = compiled
	rs.mu.Unlock()

	logrus.WithField("compiled", len(compiled)).Debug("Reloaded rule cache")
	return len(compiled)
}

// Compiled returns the current cache snapshot.
func (rs *RuleSet) Compiled() []*CompiledRule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.compiled
}

// EvaluateURL returns matches in rule order, not sorted by specificity.
func (rs *RuleSet) EvaluateURL(url string) []Match {
	rs.mu.RLock()
	compiled := rs.compiled
	rs.mu.RUnlock()

	var matches []Match
	for _, cr := range compiled {
		if cr.MatchesURL(url) {
			matches = append(matches, Match{
				RuleID:   cr.ID,
				RuleName: cr.Name,
				Actions:  cr.Actions,
				Timing:   cr.Timing,
				Safety:   cr.Safety,
			})
		}
	}
	return matches
}

// MatchesURL reports whether at least one include pattern matches and no
// exclude pattern does.
func (cr *CompiledRule) MatchesURL(url string) bool {
	included := false
	for _, re := range cr.Include {
		if re.MatchString(url) {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, re := range cr.Exclude {
		if re.MatchString(url) {
			return false
		}
	}
	return true
}

// MergeActions folds the matches into one plan: a kind is delete iff any
// match requests delete. Zero matches keeps everything.
func MergeActions(matches []Match) ActionSet {
	merged := ActionSet{
		History:  ActionKeep,
		Cookies:  ActionKeep,
		Cache:    ActionKeep,
		SiteData: ActionKeep,
	}
	for _, m := range matches {
		if m.Actions.History == ActionDelete {
			merged.History = ActionDelete
		}
		if m.Actions.Cookies == ActionDelete {
			merged.Cookies = ActionDelete
		}
		if m.Actions.Cache == ActionDelete {
			merged.Cache = ActionDelete
		}
		if m.Actions.SiteData == ActionDelete {
			merged.SiteData = ActionDelete
		}
	}
	return merged
}

// MergeTiming ORs the boolean triggers and takes the minimum of the
// non-nil periodic intervals, nil when none specify one.
func MergeTiming(matches []Match) Timing {
	var merged Timing
	for _, m := range matches {
		merged.ASAP = merged.ASAP || m.Timing.ASAP
		merged.OnTabClose = merged.OnTabClose || m.Timing.OnTabClose
		merged.OnBrowserClose = merged.OnBrowserClose || m.Timing.OnBrowserClose
		if m.Timing.PeriodicMinutes != nil {
			if merged.PeriodicMinutes == nil || *m.Timing.PeriodicMinutes < *merged.PeriodicMinutes {
				v := *m.Timing.PeriodicMinutes
				merged.PeriodicMinutes = &v
			}
		}
	}
	return merged
}

// MinSafetyLimit returns the smallest per-rule deletes-per-minute cap
// among the matches, or 0 when there are none.
func MinSafetyLimit(matches []Match) int {
	limit := 0
	for _, m := range matches {
		if m.Safety.MaxDeletesPerMinute > 0 && (limit == 0 || m.Safety.MaxDeletesPerMinute < limit) {
			limit = m.Safety.MaxDeletesPerMinute
		}
	}
	return limit
}
