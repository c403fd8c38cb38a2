package rules

import (
	"sort"
	"strings"
	"sync"
)

// Registry maps standard ids to their rule books. Safe for concurrent use;
// a reload swaps a whole book atomically.
type Registry struct {
	mu    sync.RWMutex
	books map[string]*ruleBook
}

type ruleBook struct {
	set   *RuleSet
	rules []Rule
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{books: make(map[string]*ruleBook)}
}

// NewDefaultRegistry returns a registry holding the built-in rule set.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Load(DefaultRuleSet())
	return r
}

func normalizeStandard(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

// Register installs rules for a standard, replacing any previous book.
func (r *Registry) Register(standard string, rules ...Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.books[normalizeStandard(standard)] = &ruleBook{rules: rules}
}

// Load validates a rule set and installs the rules built from it.
func (r *Registry) Load(rs *RuleSet) error {
	if err := rs.Validate(); err != nil {
		return err
	}
	book := &ruleBook{set: rs, rules: BuildRules(rs)}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.books[normalizeStandard(rs.Standard)] = book
	return nil
}

// Rules returns the rules registered for a standard.
func (r *Registry) Rules(standard string) ([]Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.books[normalizeStandard(standard)]
	if !ok {
		return nil, false
	}
	return b.rules, true
}

// Has reports whether a standard is registered.
func (r *Registry) Has(standard string) bool {
	_, ok := r.Rules(standard)
	return ok
}

// RuleSet returns the parameters a standard was loaded from, if any.
func (r *Registry) RuleSet(standard string) (*RuleSet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.books[normalizeStandard(standard)]
	if !ok || b.set == nil {
		return nil, false
	}
	return b.set, true
}

// Standards lists registered standard ids in sorted order.
func (r *Registry) Standards() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.books))
	for s, b := range r.books {
		if b.set != nil {
			s = b.set.Standard
		}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
