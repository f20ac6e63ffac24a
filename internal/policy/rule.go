// internal/policy/rule.go
package policy

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

const (
	ActionDelete = "delete"
	ActionKeep   = "keep"
)

// ActionSet declares, per trace kind, whether matching visits have that
// kind erased.
type ActionSet struct {
	History  string `json:"history"`
	Cookies  string `json:"cookies"`
	Cache    string `json:"cache"`
	SiteData string `json:"site_data"`
}

func (a ActionSet) AnyDelete() bool {
	return a.History == ActionDelete || a.Cookies == ActionDelete ||
		a.Cache == ActionDelete || a.SiteData == ActionDelete
}

// MatchSpec holds the regex patterns a rule matches URLs with. A URL
// matches when at least one include pattern matches and no exclude
// pattern does.
type MatchSpec struct {
	URLRegex     []string `json:"url_regex"`
	ExcludeRegex []string `json:"exclude_regex"`
}

// Timing declares which triggers fire a rule. PeriodicMinutes is nil when
// the rule has no periodic sweep.
type Timing struct {
	ASAP            bool `json:"asap"`
	OnTabClose      bool `json:"on_tab_close"`
	OnBrowserClose  bool `json:"on_browser_close"`
	PeriodicMinutes *int `json:"periodic_minutes,omitempty"`
}

// Safety bounds how aggressively a rule's deletions run.
type Safety struct {
	MaxDeletesPerMinute int `json:"max_deletes_per_minute"`
	CooldownSeconds     int `json:"cooldown_seconds"`
}

type Rule struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	Match     MatchSpec `json:"match"`
	Actions   ActionSet `json:"actions"`
	Timing    Timing    `json:"timing"`
	Safety    Safety    `json:"safety"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRule returns a rule with documented defaults and a fresh id. Callers
// overlay their own fields before persisting.
func NewRule() *Rule {
	return &Rule{
		ID:      uuid.New().String(),
		Enabled: true,
		Actions: ActionSet{
			History:  ActionDelete,
			Cookies:  ActionKeep,
			Cache:    ActionKeep,
			SiteData: ActionKeep,
		},
		Timing: Timing{ASAP: true},
		Safety: Safety{MaxDeletesPerMinute: 10, CooldownSeconds: 0},
	}
}

// ValidationResult collects every violated invariant; Validate never
// stops at the first problem and never panics.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

func Validate(rule *Rule) ValidationResult {
	var errs []string

	if len(rule.Match.URLRegex) == 0 {
		errs = append(errs, "at least one include pattern is required")
	} else {
		usable := 0
		for _, p := range rule.Match.URLRegex {
			if _, err := CompilePattern(p); err != nil {
				errs = append(errs, err.Error())
			} else {
				usable++
			}
		}
		if usable == 0 {
			errs = append(errs, "no usable include pattern")
		}
	}

	for _, field := range []struct{ name, value string }{
		{"history", rule.Actions.History},
		{"cookies", rule.Actions.Cookies},
		{"cache", rule.Actions.Cache},
		{"site_data", rule.Actions.SiteData},
	} {
		if field.value != ActionDelete && field.value != ActionKeep {
			errs = append(errs, fmt.Sprintf("action %s must be %q or %q", field.name, ActionDelete, ActionKeep))
		}
	}
	if !rule.Actions.AnyDelete() {
		errs = append(errs, "at least one action must be set to delete")
	}

	periodic := rule.Timing.PeriodicMinutes != nil && *rule.Timing.PeriodicMinutes >= 1
	if rule.Timing.PeriodicMinutes != nil && *rule.Timing.PeriodicMinutes < 1 {
		errs = append(errs, "periodic_minutes must be at least 1")
	}
	if !rule.Timing.ASAP && !rule.Timing.OnTabClose && !rule.Timing.OnBrowserClose && !periodic {
		errs = append(errs, "at least one trigger must be enabled")
	}

	if rule.Safety.MaxDeletesPerMinute < 1 {
		errs = append(errs, "max_deletes_per_minute must be at least 1")
	}
	if rule.Safety.CooldownSeconds < 0 {
		errs = append(errs, "cooldown_seconds must not be negative")
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// CompilePattern compiles a single case-insensitive URL pattern. It
// returns a descriptive error for bad patterns instead of panicking.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %v", pattern, err)
	}
	return re, nil
}
