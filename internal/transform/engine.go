package transform

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/core"
)

// RuleSource supplies the persisted rule set for a pair.
type RuleSource interface {
	ListRules(ctx context.Context, tenantID, providerID string) ([]*core.TransformationRule, error)
}

// PrivilegeRanker supplies the external privilege ordering needed by
// highest-privilege match resolution. Higher rank wins.
type PrivilegeRanker interface {
	Rank(entitlement string) int
}

// NodeResolver resolves an ordered hierarchy path to an existing target
// node, for hierarchical rules.
type NodeResolver interface {
	ResolveNode(path []string) (string, bool)
}

// Assignment is one entitlement produced by the forward transformation.
type Assignment struct {
	Entitlement string
	RuleID      string
	Priority    int
}

// Result is the outcome of a forward transformation.
type Result struct {
	Assignments []Assignment

	// Conflict is set when the rule set demands manual review or a
	// required mapping could not be produced.
	Conflict *core.ConflictReport

	Warnings []string
}

// Config configures an Engine.
type Config struct {
	Source   RuleSource
	Ranker   PrivilegeRanker
	Resolver NodeResolver

	// RefreshInterval is the background cache refresh period
	// (default: 5m).
	RefreshInterval time.Duration
}

// Engine evaluates compiled transformation rules. The compiled rule set for
// a pair is cached; the cache is invalidated on rule mutation and refreshed
// on a fixed interval by a single background task, never synchronously per
// call.
type Engine struct {
	source   RuleSource
	ranker   PrivilegeRanker
	resolver NodeResolver
	refresh  time.Duration

	mu    sync.RWMutex
	cache map[string]*ruleSet

	stopCh   chan struct{}
	stopOnce sync.Once
}

type ruleSet struct {
	compiled []*CompiledRule
	loadedAt time.Time
}

// NewEngine creates an engine over the given rule source.
func NewEngine(cfg Config) *Engine {
	refresh := cfg.RefreshInterval
	if refresh == 0 {
		refresh = 5 * time.Minute
	}
	return &Engine{
		source:   cfg.Source,
		ranker:   cfg.Ranker,
		resolver: cfg.Resolver,
		refresh:  refresh,
		cache:    make(map[string]*ruleSet),
		stopCh:   make(chan struct{}),
	}
}

// StartRefresh launches the background cache refresher. Safe to call once.
func (e *Engine) StartRefresh(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(e.refresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stopCh:
				return
			case <-ticker.C:
				e.refreshAll(ctx)
			}
		}
	}()
}

// Stop halts the background refresher.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// Invalidate drops the cached rule set for a pair. Called on rule mutation.
func (e *Engine) Invalidate(tenantID, providerID string) {
	e.mu.Lock()
	delete(e.cache, core.PairKey(tenantID, providerID))
	e.mu.Unlock()
}

func (e *Engine) refreshAll(ctx context.Context) {
	e.mu.RLock()
	keys := make([][2]string, 0, len(e.cache))
	for _, set := range e.cache {
		if len(set.compiled) > 0 {
			r := set.compiled[0].Rule
			keys = append(keys, [2]string{r.TenantID, r.ProviderID})
		}
	}
	e.mu.RUnlock()

	for _, k := range keys {
		if _, err := e.load(ctx, k[0], k[1]); err != nil {
			log.Printf("transform: cache refresh failed tenant=%s provider=%s: %v", k[0], k[1], err)
		}
	}
}

// rules returns the cached compiled set, loading it on first use.
func (e *Engine) rules(ctx context.Context, tenantID, providerID string) (*ruleSet, error) {
	key := core.PairKey(tenantID, providerID)
	e.mu.RLock()
	set, ok := e.cache[key]
	e.mu.RUnlock()
	if ok {
		return set, nil
	}
	return e.load(ctx, tenantID, providerID)
}

func (e *Engine) load(ctx context.Context, tenantID, providerID string) (*ruleSet, error) {
	rules, err := e.source.ListRules(ctx, tenantID, providerID)
	if err != nil {
		return nil, err
	}

	set := &ruleSet{loadedAt: time.Now()}
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		compiled, err := CompileRule(rule)
		if err != nil {
			// Rules are validated at registration; a bad persisted rule
			// is skipped with a log line rather than poisoning the set.
			log.Printf("transform: skipping rule id=%s: %v", rule.ID, err)
			continue
		}
		set.compiled = append(set.compiled, compiled)
	}
	sort.SliceStable(set.compiled, func(i, j int) bool {
		if set.compiled[i].Rule.Priority != set.compiled[j].Rule.Priority {
			return set.compiled[i].Rule.Priority > set.compiled[j].Rule.Priority
		}
		return set.compiled[i].Rule.ID < set.compiled[j].Rule.ID
	})

	e.mu.Lock()
	e.cache[core.PairKey(tenantID, providerID)] = set
	e.mu.Unlock()
	return set, nil
}

// match is one rule that produced a target for the group.
type match struct {
	rule   *CompiledRule
	target string
}

// Apply maps a group to provider entitlements using all enabled rules for
// the pair. user is optional and only consulted by conditional predicates.
func (e *Engine) Apply(ctx context.Context, tenantID, providerID string, group *core.Group, user *core.User) (*Result, error) {
	if group == nil {
		return nil, core.Errorf(core.CodeTransform, false, "group is required")
	}
	set, err := e.rules(ctx, tenantID, providerID)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	var matches []match
	requiredMiss := false

	for _, c := range set.compiled {
		target, applies, ok := e.evalRule(c, group, user)
		if !applies {
			continue
		}
		if !ok {
			// The rule selected this group but produced no target
			// (unresolvable hierarchy).
			if c.Rule.Required {
				requiredMiss = true
			} else {
				res.Warnings = append(res.Warnings, "rule "+c.Rule.ID+" matched group "+group.DisplayName+" but resolved no target")
			}
			continue
		}
		matches = append(matches, match{rule: c, target: target})
	}

	if requiredMiss {
		// A required rule selected this group but produced no target.
		// That blocks the assignment even when other rules matched.
		res.Conflict = transformationConflict(tenantID, providerID, group,
			"required transformation produced no entitlement for group "+group.DisplayName)
	}

	if len(matches) == 0 {
		if res.Conflict == nil {
			res.Warnings = append(res.Warnings, "no transformation rule matched group "+group.DisplayName)
		}
		return res, nil
	}

	// matches arrive priority-ordered because the compiled set is sorted.
	mode := matches[0].rule.Rule.MatchResolution
	if mode == "" {
		mode = core.MatchUnion
	}
	if len(matches) == 1 {
		mode = core.MatchUnion
	}

	switch mode {
	case core.MatchUnion:
		seen := make(map[string]bool)
		for _, m := range matches {
			if seen[m.target] {
				continue
			}
			seen[m.target] = true
			res.Assignments = append(res.Assignments, assignment(m))
		}

	case core.MatchFirstMatch:
		res.Assignments = append(res.Assignments, assignment(matches[0]))

	case core.MatchHighestPrivilege:
		if e.ranker == nil {
			return nil, core.Errorf(core.CodeTransform, false,
				"highest_privilege resolution requires a privilege ranking for pair %s", core.PairKey(tenantID, providerID))
		}
		best := matches[0]
		for _, m := range matches[1:] {
			if e.ranker.Rank(m.target) > e.ranker.Rank(best.target) {
				best = m
			}
		}
		res.Assignments = append(res.Assignments, assignment(best))

	case core.MatchManualReview:
		if res.Conflict == nil {
			res.Conflict = transformationConflict(tenantID, providerID, group,
				"multiple transformation rules matched; assignment requires manual review")
		}

	default:
		return nil, core.Errorf(core.CodeTransform, false, "unknown match resolution %q", mode)
	}

	return res, nil
}

func assignment(m match) Assignment {
	return Assignment{
		Entitlement: m.target,
		RuleID:      m.rule.Rule.ID,
		Priority:    m.rule.Rule.Priority,
	}
}

// evalRule returns (target, patternApplies, resolved).
func (e *Engine) evalRule(c *CompiledRule, group *core.Group, user *core.User) (string, bool, bool) {
	name := group.DisplayName

	switch c.Rule.PatternType {
	case core.PatternExact:
		if name != c.Rule.SourcePattern {
			return "", false, false
		}
		return c.Rule.TargetMapping, true, true

	case core.PatternRegex:
		target, ok := c.expandTemplate(name)
		if !ok {
			return "", false, false
		}
		return target, true, true

	case core.PatternHierarchical:
		delim := c.Delimiter()
		path := splitPath(name, delim)
		if len(path) == 0 || !hasPrefix(path, c.levels) {
			return "", false, false
		}
		if e.resolver == nil {
			return "", true, false
		}
		// Deepest-resolvable wins: walk from the full path upward and use
		// the deepest level that resolves to an existing node.
		for depth := len(path); depth >= 1; depth-- {
			if node, ok := e.resolver.ResolveNode(path[:depth]); ok {
				return node, true, true
			}
		}
		return "", true, false

	case core.PatternConditional:
		for i := range c.Rule.Cases {
			if evalCase(&c.Rule.Cases[i], group, user) {
				return c.Rule.Cases[i].Target, true, true
			}
		}
		return "", false, false
	}
	return "", false, false
}

func splitPath(name, delim string) []string {
	var out []string
	for _, p := range strings.Split(name, delim) {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func hasPrefix(path, prefix []string) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i := range prefix {
		if path[i] != prefix[i] {
			return false
		}
	}
	return true
}

func transformationConflict(tenantID, providerID string, group *core.Group, note string) *core.ConflictReport {
	c := core.NewConflictReport(tenantID, providerID, core.ConflictTransformation,
		core.ResourceTypeGroup, group.ID, group.ExternalID)
	c.ResolutionNotes = note
	c.SuggestedResolution = core.ResolveIgnore
	return c
}
