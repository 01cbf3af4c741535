package transform

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/core"
)

// templateRef matches ${n} capture references in a target template.
var templateRef = regexp.MustCompile(`\$\{(\d+)\}`)

// patternSegment is one piece of a decomposed regex source pattern: either
// a literal run or a numbered capture group.
type patternSegment struct {
	literal string
	group   int // 0 for literals
}

// CompiledRule is a transformation rule with its pattern machinery built.
type CompiledRule struct {
	Rule *core.TransformationRule

	// regex rules
	re       *regexp.Regexp
	segments []patternSegment // source pattern decomposition for reversal
	groups   int              // capturing group count in the source pattern
	refs     []int            // capture indexes referenced by the template, in order
	revRe    *regexp.Regexp   // matches an entitlement name back to captures

	// hierarchical rules
	levels []string
}

// CompileRule validates and compiles a rule. It is called at rule
// registration; evaluation never compiles.
func CompileRule(rule *core.TransformationRule) (*CompiledRule, error) {
	if rule == nil {
		return nil, core.Errorf(core.CodeInvalidRule, false, "rule is required")
	}
	c := &CompiledRule{Rule: rule}

	switch rule.PatternType {
	case core.PatternExact:
		if rule.SourcePattern == "" {
			return nil, core.Errorf(core.CodeInvalidRule, false, "rule %s: exact rule needs a source pattern", rule.ID)
		}
		if rule.TargetMapping == "" {
			return nil, core.Errorf(core.CodeInvalidRule, false, "rule %s: exact rule needs a target mapping", rule.ID)
		}

	case core.PatternRegex:
		re, err := regexp.Compile(rule.SourcePattern)
		if err != nil {
			return nil, core.WrapError(core.CodeInvalidRule, false, fmt.Errorf("rule %s: source pattern: %w", rule.ID, err))
		}
		c.re = re
		segments, groups, err := decomposePattern(rule.SourcePattern)
		if err != nil {
			return nil, core.WrapError(core.CodeInvalidRule, false, fmt.Errorf("rule %s: %w", rule.ID, err))
		}
		c.segments = segments
		c.groups = groups

		refs, revRe, err := compileTemplate(rule.TargetMapping, groups)
		if err != nil {
			return nil, core.WrapError(core.CodeInvalidRule, false, fmt.Errorf("rule %s: target mapping: %w", rule.ID, err))
		}
		c.refs = refs
		c.revRe = revRe

	case core.PatternHierarchical:
		delim := rule.Delimiter
		if delim == "" {
			delim = "/"
		}
		if rule.SourcePattern != "" {
			c.levels = strings.Split(rule.SourcePattern, delim)
		}

	case core.PatternConditional:
		if len(rule.Cases) == 0 {
			return nil, core.Errorf(core.CodeInvalidRule, false, "rule %s: conditional rule needs cases", rule.ID)
		}
		for i, cs := range rule.Cases {
			if cs.Target == "" {
				return nil, core.Errorf(core.CodeInvalidRule, false, "rule %s: case %d has no target", rule.ID, i)
			}
			if cs.IsDefault() && i != len(rule.Cases)-1 {
				return nil, core.Errorf(core.CodeInvalidRule, false, "rule %s: catch-all case must be last", rule.ID)
			}
		}

	default:
		return nil, core.Errorf(core.CodeInvalidRule, false, "rule %s: unknown pattern type %q", rule.ID, rule.PatternType)
	}

	return c, nil
}

// Delimiter returns the rule's path delimiter, defaulted.
func (c *CompiledRule) Delimiter() string {
	if c.Rule.Delimiter != "" {
		return c.Rule.Delimiter
	}
	return "/"
}

// decomposePattern splits a regex source pattern into literal runs and
// capturing groups so a forward mapping can be inverted. Nested or
// non-capturing groups keep the pattern valid but make segments inexact;
// those reversals are flagged ambiguous at evaluation time.
func decomposePattern(pattern string) ([]patternSegment, int, error) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(pattern, "^"), "$")

	var segs []patternSegment
	var lit strings.Builder
	groups := 0
	depth := 0

	for i := 0; i < len(trimmed); i++ {
		ch := trimmed[i]
		switch {
		case ch == '\\' && i+1 < len(trimmed):
			if depth == 0 {
				lit.WriteByte(trimmed[i+1])
			}
			i++
		case ch == '(':
			if depth == 0 {
				if lit.Len() > 0 {
					segs = append(segs, patternSegment{literal: lit.String()})
					lit.Reset()
				}
				// non-capturing groups do not get a number
				if !strings.HasPrefix(trimmed[i:], "(?:") {
					groups++
					segs = append(segs, patternSegment{group: groups})
				}
			}
			depth++
		case ch == ')':
			depth--
			if depth < 0 {
				return nil, 0, fmt.Errorf("unbalanced pattern %q", pattern)
			}
		default:
			if depth == 0 {
				lit.WriteByte(ch)
			}
		}
	}
	if depth != 0 {
		return nil, 0, fmt.Errorf("unbalanced pattern %q", pattern)
	}
	if lit.Len() > 0 {
		segs = append(segs, patternSegment{literal: lit.String()})
	}
	return segs, groups, nil
}

// compileTemplate builds the reverse matcher for a target template: literal
// parts are quoted, each ${n} reference becomes a capture. Returns the
// referenced source-capture indexes in template order.
func compileTemplate(template string, sourceGroups int) ([]int, *regexp.Regexp, error) {
	if template == "" {
		return nil, nil, fmt.Errorf("template is required")
	}

	var refs []int
	var pattern strings.Builder
	pattern.WriteString("^")

	last := 0
	for _, loc := range templateRef.FindAllStringSubmatchIndex(template, -1) {
		pattern.WriteString(regexp.QuoteMeta(template[last:loc[0]]))
		n, err := strconv.Atoi(template[loc[2]:loc[3]])
		if err != nil || n < 1 {
			return nil, nil, fmt.Errorf("bad capture reference in %q", template)
		}
		if n > sourceGroups {
			return nil, nil, fmt.Errorf("template references group %d but pattern has %d", n, sourceGroups)
		}
		refs = append(refs, n)
		pattern.WriteString("(.*)")
		last = loc[1]
	}
	pattern.WriteString(regexp.QuoteMeta(template[last:]))
	pattern.WriteString("$")

	revRe, err := regexp.Compile(pattern.String())
	if err != nil {
		return nil, nil, err
	}
	return refs, revRe, nil
}

// expandTemplate renders a target template from a regex match of the group
// name.
func (c *CompiledRule) expandTemplate(name string) (string, bool) {
	m := c.re.FindStringSubmatchIndex(name)
	if m == nil {
		return "", false
	}
	return string(c.re.ExpandString(nil, c.Rule.TargetMapping, name, m)), true
}

// --- Predicate evaluation ---

// evalCase reports whether a conditional case is satisfied by the group
// (and optional user) attributes.
func evalCase(cs *core.ConditionalCase, group *core.Group, user *core.User) bool {
	if cs.IsDefault() {
		return true
	}
	for i := range cs.All {
		if !evalPredicate(&cs.All[i], group, user) {
			return false
		}
	}
	if len(cs.Any) > 0 {
		hit := false
		for i := range cs.Any {
			if evalPredicate(&cs.Any[i], group, user) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

func evalPredicate(p *core.Predicate, group *core.Group, user *core.User) bool {
	val, ok := lookupAttribute(p.Attribute, group, user)
	switch p.Op {
	case core.OpExists:
		return ok
	case core.OpEquals:
		return ok && fmt.Sprint(val) == fmt.Sprint(p.Value)
	case core.OpNotEquals:
		return !ok || fmt.Sprint(val) != fmt.Sprint(p.Value)
	case core.OpContains:
		return ok && strings.Contains(fmt.Sprint(val), fmt.Sprint(p.Value))
	case core.OpPrefix:
		return ok && strings.HasPrefix(fmt.Sprint(val), fmt.Sprint(p.Value))
	}
	return false
}

// lookupAttribute resolves "group.x" / "user.x" / bare attribute names.
// Bare names try the group first, then the user.
func lookupAttribute(name string, group *core.Group, user *core.User) (any, bool) {
	if rest, ok := strings.CutPrefix(name, "group."); ok {
		return groupAttribute(rest, group)
	}
	if rest, ok := strings.CutPrefix(name, "user."); ok {
		return userAttribute(rest, user)
	}
	if v, ok := groupAttribute(name, group); ok {
		return v, true
	}
	return userAttribute(name, user)
}

func groupAttribute(name string, g *core.Group) (any, bool) {
	if g == nil {
		return nil, false
	}
	switch name {
	case "displayName":
		return g.DisplayName, true
	case "externalId":
		return g.ExternalID, g.ExternalID != ""
	}
	v, ok := g.Attributes[name]
	return v, ok
}

func userAttribute(name string, u *core.User) (any, bool) {
	if u == nil {
		return nil, false
	}
	switch name {
	case "userName":
		return u.UserName, true
	case "displayName":
		return u.DisplayName, u.DisplayName != ""
	case "email":
		return u.Email, u.Email != ""
	case "active":
		return u.Active, true
	}
	v, ok := u.Attributes[name]
	return v, ok
}
