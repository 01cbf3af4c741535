package core

// PatternType selects the matching algorithm of a transformation rule.
type PatternType string

const (
	PatternExact        PatternType = "exact"
	PatternRegex        PatternType = "regex"
	PatternHierarchical PatternType = "hierarchical"
	PatternConditional  PatternType = "conditional"
)

// MatchResolution decides the outcome when multiple rules match one group.
type MatchResolution string

const (
	MatchUnion            MatchResolution = "union"
	MatchFirstMatch       MatchResolution = "first_match"
	MatchHighestPrivilege MatchResolution = "highest_privilege"
	MatchManualReview     MatchResolution = "manual_review"
)

// PredicateOp is a conditional-case comparison operator.
type PredicateOp string

const (
	OpEquals    PredicateOp = "equals"
	OpNotEquals PredicateOp = "not_equals"
	OpContains  PredicateOp = "contains"
	OpPrefix    PredicateOp = "prefix"
	OpExists    PredicateOp = "exists"
)

// Predicate tests one user/group attribute.
type Predicate struct {
	Attribute string      `json:"attribute" yaml:"attribute"`
	Op        PredicateOp `json:"op" yaml:"op"`
	Value     any         `json:"value,omitempty" yaml:"value,omitempty"`
}

// ConditionalCase is one entry of a conditional rule's ordered case list.
// All predicates must hold (AND); Any predicates are OR'd and the case
// matches when either set is satisfied. A case with no predicates is the
// conventional catch-all default, placed last.
type ConditionalCase struct {
	All    []Predicate `json:"all,omitempty" yaml:"all,omitempty"`
	Any    []Predicate `json:"any,omitempty" yaml:"any,omitempty"`
	Target string      `json:"target" yaml:"target"`
}

// IsDefault reports whether the case is a predicate-free catch-all.
func (c *ConditionalCase) IsDefault() bool {
	return len(c.All) == 0 && len(c.Any) == 0
}

// TransformationRule maps a group naming pattern onto provider entitlements.
// The pattern must compile/validate at registration time, never at
// evaluation time.
type TransformationRule struct {
	ID            string      `json:"id" yaml:"id"`
	TenantID      string      `json:"tenantId" yaml:"tenantId"`
	ProviderID    string      `json:"providerId" yaml:"providerId"`
	Name          string      `json:"name,omitempty" yaml:"name,omitempty"`
	PatternType   PatternType `json:"patternType" yaml:"patternType"`
	SourcePattern string      `json:"sourcePattern,omitempty" yaml:"sourcePattern,omitempty"`
	TargetMapping string      `json:"targetMapping,omitempty" yaml:"targetMapping,omitempty"`

	// Cases is used only by conditional rules.
	Cases []ConditionalCase `json:"cases,omitempty" yaml:"cases,omitempty"`

	// Delimiter splits hierarchical source patterns. Defaults to "/".
	Delimiter string `json:"delimiter,omitempty" yaml:"delimiter,omitempty"`

	Priority        int             `json:"priority" yaml:"priority"`
	MatchResolution MatchResolution `json:"matchResolution,omitempty" yaml:"matchResolution,omitempty"`
	ReverseEnabled  bool            `json:"reverseEnabled" yaml:"reverseEnabled"`
	Required        bool            `json:"required" yaml:"required"`
	Enabled         bool            `json:"enabled" yaml:"enabled"`
}
