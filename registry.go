package quotagate

import (
	"sort"
	"sync"
)

type ruleKey struct {
	domain  string
	keyType KeyType
}

// Registry is the in-memory index of active rules keyed by
// (domain, key type). Reads vastly outnumber writes; a read-write lock
// guarantees a concurrent read during a replacement sees either the old or
// the new rule, never a torn value.
//
// A missing rule is not an error: the façade treats absence as "no limit".
type Registry struct {
	mu    sync.RWMutex
	rules map[ruleKey]Rule
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[ruleKey]Rule)}
}

// Add validates the rule and inserts it, replacing any existing rule for
// the same (domain, key type). On validation failure the registry is
// unchanged.
func (r *Registry) Add(rule Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.rules[ruleKey{rule.Domain, rule.KeyType}] = rule
	r.mu.Unlock()
	return nil
}

// Get returns the rule for (domain, keyType), if any.
func (r *Registry) Get(domain string, keyType KeyType) (Rule, bool) {
	r.mu.RLock()
	rule, ok := r.rules[ruleKey{domain, keyType}]
	r.mu.RUnlock()
	return rule, ok
}

// List returns a snapshot of all rules, ordered by domain then key type.
func (r *Registry) List() []Rule {
	r.mu.RLock()
	out := make([]Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Domain != out[j].Domain {
			return out[i].Domain < out[j].Domain
		}
		return out[i].KeyType < out[j].KeyType
	})
	return out
}

// Len returns the number of active rules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}
