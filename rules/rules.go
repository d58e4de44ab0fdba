// Package rules implements the relay node's routing rule engine: CRUD of
// RelayRule rows, signal-type/source matching with a lazily-compiled and
// cached source-filter regex, and payload transform application.
package rules

import (
	"log/slog"
	"regexp"
	"sort"
	"sync"

	"github.com/nohuiam/synapse-relay/pkg/cache"
	"github.com/nohuiam/synapse-relay/types"
)

// maxCachedRegexLen bounds the source strings accepted for regex matching,
// a cheap guard against pathological patterns turning a single match call
// into a ReDoS-scale backtrack.
const maxCachedRegexLen = 256

// Engine holds the rule set and the compiled-regex cache. Safe for
// concurrent use.
type Engine struct {
	mu      sync.RWMutex
	rules   map[int64]*types.RelayRule
	nextID  int64
	regexes cache.Cache[*regexp.Regexp]
	logger  *slog.Logger
}

// New builds an empty rule Engine with a bounded regex cache. A nil logger
// falls back to slog.Default().
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	regexCache, err := cache.NewLRU[*regexp.Regexp](256)
	if err != nil {
		// NewLRU only errors on a non-positive size, which 256 never is.
		panic(err)
	}
	return &Engine{
		rules:   make(map[int64]*types.RelayRule),
		regexes: regexCache,
		logger:  logger,
	}
}

// Add inserts a new rule and returns its assigned id.
func (e *Engine) Add(rule types.RelayRule) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	rule.ID = e.nextID
	e.rules[rule.ID] = &rule
	return rule.ID
}

// Update replaces the rule with the given id. Returns false if no such rule
// exists.
func (e *Engine) Update(id int64, rule types.RelayRule) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.rules[id]; !ok {
		return false
	}
	rule.ID = id
	e.rules[id] = &rule
	return true
}

// Remove deletes the rule with the given id. Returns false if no such rule
// existed.
func (e *Engine) Remove(id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.rules[id]; !ok {
		return false
	}
	delete(e.rules, id)
	return true
}

// List returns every rule, enabled and disabled, sorted by priority
// descending.
func (e *Engine) List() []types.RelayRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]types.RelayRule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// compiledFilter lazily compiles and caches rule.SourceFilter. A compile
// failure is treated as "no filter" rather than rejecting the rule.
func (e *Engine) compiledFilter(pattern string) *regexp.Regexp {
	if pattern == "" || len(pattern) > maxCachedRegexLen {
		return nil
	}
	if re, ok := e.regexes.Get(pattern); ok {
		return re
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil
	}
	if _, err := e.regexes.Set(pattern, re); err != nil {
		e.logger.Warn("rules: regex cache set failed", "pattern", pattern, "error", err)
	}
	return re
}

// Match returns every enabled rule whose signal_pattern matches signalType
// and whose source_filter (if any) matches source, sorted by priority
// descending. Each matched rule's match_count is incremented atomically.
func (e *Engine) Match(signalType uint16, source string) []types.RelayRule {
	e.mu.Lock()
	defer e.mu.Unlock()

	var matched []*types.RelayRule
	for _, r := range e.rules {
		if !r.Enabled || r.SignalPattern != signalType {
			continue
		}
		if re := e.compiledFilter(r.SourceFilter); re != nil && !re.MatchString(source) {
			continue
		}
		matched = append(matched, r)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].Priority > matched[j].Priority })

	out := make([]types.RelayRule, len(matched))
	for i, r := range matched {
		r.MatchCount++
		out[i] = *r
	}
	return out
}

// AutoRelayTargets returns the union of relay_to across every rule matched
// for (signalType, source). Duplicates are collapsed; order is unspecified.
func (e *Engine) AutoRelayTargets(signalType uint16, source string) []string {
	matched := e.Match(signalType, source)
	seen := make(map[string]struct{})
	var out []string
	for _, r := range matched {
		for _, target := range r.RelayTo {
			if _, ok := seen[target]; ok {
				continue
			}
			seen[target] = struct{}{}
			out = append(out, target)
		}
	}
	return out
}

// ApplyTransform produces a new payload object per spec: within one rule,
// keys are applied in spec.Fields order (the spec's own insertion order).
func ApplyTransform(payload map[string]any, spec *types.TransformSpec) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	if spec == nil {
		return out
	}

	for _, field := range spec.Fields {
		op, ok := spec.Ops[field]
		if !ok {
			continue
		}
		switch {
		case op.Delete:
			delete(out, field)
		case op.Rename != "":
			if v, present := out[op.Rename]; present {
				out[field] = v
				delete(out, op.Rename)
			}
		default:
			out[field] = op.Value
		}
	}
	return out
}
