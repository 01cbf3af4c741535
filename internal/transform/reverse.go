package transform

import (
	"context"
	"sort"
	"strings"

	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/core"
)

// ReverseCandidate is one possible source group for an entitlement.
type ReverseCandidate struct {
	Group    string
	RuleID   string
	Priority int
}

// ReverseResult is the outcome of a reverse transformation. When the
// forward mapping is many-to-one the engine returns every candidate with
// Ambiguous set rather than guessing.
type ReverseResult struct {
	Candidates []ReverseCandidate
	Ambiguous  bool
}

// Reverse maps a provider entitlement back to candidate source groups using
// rules with reverse enabled. The entitlement's own mapped-group list is
// merged in as known candidates. Candidates are ordered by rule priority
// descending, then lexically, so the result is deterministic.
func (e *Engine) Reverse(ctx context.Context, tenantID, providerID string, ent *core.Entitlement) (*ReverseResult, error) {
	if ent == nil {
		return nil, core.Errorf(core.CodeTransform, false, "entitlement is required")
	}
	set, err := e.rules(ctx, tenantID, providerID)
	if err != nil {
		return nil, err
	}

	res := &ReverseResult{}
	seen := make(map[string]bool)
	add := func(c ReverseCandidate) {
		if c.Group == "" || seen[c.Group] {
			return
		}
		seen[c.Group] = true
		res.Candidates = append(res.Candidates, c)
	}

	for _, c := range set.compiled {
		if !c.Rule.ReverseEnabled {
			continue
		}
		switch c.Rule.PatternType {
		case core.PatternExact:
			if ent.Name == c.Rule.TargetMapping {
				add(ReverseCandidate{Group: c.Rule.SourcePattern, RuleID: c.Rule.ID, Priority: c.Rule.Priority})
			}

		case core.PatternRegex:
			group, ambiguous, ok := c.invertRegex(ent.Name)
			if !ok {
				continue
			}
			if ambiguous {
				res.Ambiguous = true
			}
			add(ReverseCandidate{Group: group, RuleID: c.Rule.ID, Priority: c.Rule.Priority})

		case core.PatternConditional:
			// Predicates are not invertible; a case targeting this
			// entitlement marks the reversal ambiguous and contributes
			// no synthesized name.
			for i := range c.Rule.Cases {
				if c.Rule.Cases[i].Target == ent.Name || c.Rule.Cases[i].Target == ent.ID {
					res.Ambiguous = true
				}
			}

		case core.PatternHierarchical:
			// Hierarchy nodes map back through the entitlement's own
			// mapped-group list below.
		}
	}

	// Known mappings tracked on the entitlement itself.
	for _, g := range ent.MappedGroups {
		add(ReverseCandidate{Group: g})
	}

	if len(res.Candidates) > 1 {
		res.Ambiguous = true
	}
	sort.SliceStable(res.Candidates, func(i, j int) bool {
		if res.Candidates[i].Priority != res.Candidates[j].Priority {
			return res.Candidates[i].Priority > res.Candidates[j].Priority
		}
		return res.Candidates[i].Group < res.Candidates[j].Group
	})
	return res, nil
}

// invertRegex substitutes the captured template values back into the source
// pattern. Returns ambiguous=true when the source pattern has captures the
// template never referenced (many group names forward-map to this name) or
// when literal segments could not be decomposed exactly.
func (c *CompiledRule) invertRegex(name string) (string, bool, bool) {
	if c.revRe == nil {
		return "", false, false
	}
	m := c.revRe.FindStringSubmatch(name)
	if m == nil {
		return "", false, false
	}

	// Captured value per source group index, from the template references.
	values := make(map[int]string, len(c.refs))
	for i, ref := range c.refs {
		if i+1 < len(m) {
			// Later references to the same group must agree.
			if prev, ok := values[ref]; ok && prev != m[i+1] {
				return "", false, false
			}
			values[ref] = m[i+1]
		}
	}

	ambiguous := false
	var out strings.Builder
	for _, seg := range c.segments {
		if seg.group == 0 {
			out.WriteString(seg.literal)
			continue
		}
		v, ok := values[seg.group]
		if !ok {
			// Unreferenced capture: any value would forward-map here.
			ambiguous = true
			v = "*"
		}
		out.WriteString(v)
	}
	return out.String(), ambiguous, true
}
