// internal/policy/rulestore.go - persisted rule collection
package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tracewipe/internal/store"
)

const rulesKey = "rules"

var ErrRuleNotFound = errors.New("rule not found")

// Store persists the rule list as one JSON collection under a single
// key. Every mutation reads the whole list, mutates a copy and writes it
// back; the mutex serializes same-key writers in this process.
type Store struct {
	kv  store.KV
	mu  sync.Mutex
	now func() time.Time
}

func NewStore(kv store.KV) *Store {
	return &Store{kv: kv, now: time.Now}
}

func (s *Store) List() ([]Rule, error) {
	data, found, err := s.kv.Get(rulesKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules: %w", err)
	}
	if !found {
		return nil, nil
	}

	var rules []Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rules: %w", err)
	}
	return rules, nil
}

func (s *Store) Get(id string) (*Rule, error) {
	rules, err := s.List()
	if err != nil {
		return nil, err
	}
	for i := range rules {
		if rules[i].ID == id {
			return &rules[i], nil
		}
	}
	return nil, ErrRuleNotFound
}

func (s *Store) Create(rule *Rule) error {
	if result := Validate(rule); !result.Valid {
		return fmt.Errorf("invalid rule: %v", result.Errors)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rules, err := s.List()
	if err != nil {
		return err
	}

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.CreatedAt = s.now()
	rule.UpdatedAt = rule.CreatedAt

	rules = append(rules, *rule)
	return s.save(rules)
}

func (s *Store) Update(rule *Rule) error {
	if result := Validate(rule); !result.Valid {
		return fmt.Errorf("invalid rule: %v", result.Errors)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rules, err := s.List()
	if err != nil {
		return err
	}

	for i := range rules {
		if rules[i].ID == rule.ID {
			rule.CreatedAt = rules[i].CreatedAt
			rule.UpdatedAt = s.now()
			rules[i] = *rule
			return s.save(rules)
		}
	}
	return ErrRuleNotFound
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rules, err := s.List()
	if err != nil {
		return err
	}

	for i := range rules {
		if rules[i].ID == id {
			rules = append(rules[:i], rules[i+1:]...)
			return s.save(rules)
		}
	}
	return ErrRuleNotFound
}

func (s *Store) save(rules []Rule) error {
	data, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}
	if err := s.kv.Set(rulesKey, data); err != nil {
		return fmt.Errorf("failed to write rules: %w", err)
	}
	return nil
}
