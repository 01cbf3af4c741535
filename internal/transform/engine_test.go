package transform

import (
	"context"
	"testing"

	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/core"
)

type staticRules []*core.TransformationRule

func (s staticRules) ListRules(ctx context.Context, tenantID, providerID string) ([]*core.TransformationRule, error) {
	return s, nil
}

type staticRanker map[string]int

func (r staticRanker) Rank(entitlement string) int { return r[entitlement] }

type staticResolver map[string]string

func (r staticResolver) ResolveNode(path []string) (string, bool) {
	key := ""
	for i, p := range path {
		if i > 0 {
			key += "/"
		}
		key += p
	}
	node, ok := r[key]
	return node, ok
}

func newTestEngine(t *testing.T, rules []*core.TransformationRule, ranker PrivilegeRanker, resolver NodeResolver) *Engine {
	t.Helper()
	for _, r := range rules {
		if _, err := CompileRule(r); err != nil {
			t.Fatalf("rule %s does not compile: %v", r.ID, err)
		}
	}
	e := NewEngine(Config{Source: staticRules(rules), Ranker: ranker, Resolver: resolver})
	t.Cleanup(e.Stop)
	return e
}

func regexRule(id string, priority int, pattern, template string) *core.TransformationRule {
	return &core.TransformationRule{
		ID:             id,
		TenantID:       "t1",
		ProviderID:     "p1",
		PatternType:    core.PatternRegex,
		SourcePattern:  pattern,
		TargetMapping:  template,
		Priority:       priority,
		ReverseEnabled: true,
		Enabled:        true,
	}
}

func TestApplyExactMatch(t *testing.T) {
	e := newTestEngine(t, []*core.TransformationRule{{
		ID: "r1", TenantID: "t1", ProviderID: "p1",
		PatternType:   core.PatternExact,
		SourcePattern: "Finance",
		TargetMapping: "Finance_Role",
		Enabled:       true,
	}}, nil, nil)

	res, err := e.Apply(context.Background(), "t1", "p1", &core.Group{ID: "g1", DisplayName: "Finance"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Assignments) != 1 || res.Assignments[0].Entitlement != "Finance_Role" {
		t.Fatalf("assignments = %+v", res.Assignments)
	}
}

func TestApplyRegexTemplateExpansion(t *testing.T) {
	e := newTestEngine(t, []*core.TransformationRule{
		regexRule("r1", 10, `^Sales-(.*)$`, `Sales_${1}_Rep`),
	}, nil, nil)

	res, err := e.Apply(context.Background(), "t1", "p1", &core.Group{ID: "g1", DisplayName: "Sales-EMEA"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Assignments) != 1 || res.Assignments[0].Entitlement != "Sales_EMEA_Rep" {
		t.Fatalf("assignments = %+v", res.Assignments)
	}
}

func TestApplyNoMatchIsWarningNotError(t *testing.T) {
	e := newTestEngine(t, []*core.TransformationRule{
		regexRule("r1", 10, `^Sales-(.*)$`, `Sales_${1}_Rep`),
	}, nil, nil)

	res, err := e.Apply(context.Background(), "t1", "p1", &core.Group{ID: "g1", DisplayName: "Engineering"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Assignments) != 0 || res.Conflict != nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Warnings) == 0 {
		t.Fatal("expected a warning for the unmatched group")
	}
}

func TestApplyRequiredMissBecomesConflict(t *testing.T) {
	e := newTestEngine(t, []*core.TransformationRule{{
		ID: "r1", TenantID: "t1", ProviderID: "p1",
		PatternType:   core.PatternHierarchical,
		SourcePattern: "Org",
		Required:      true,
		Enabled:       true,
	}}, nil, staticResolver{})

	res, err := e.Apply(context.Background(), "t1", "p1", &core.Group{ID: "g1", DisplayName: "Org/Unknown/Team"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Conflict == nil {
		t.Fatal("expected a transformation conflict for the unresolvable required rule")
	}
	if res.Conflict.ConflictType != core.ConflictTransformation {
		t.Errorf("conflict type = %s", res.Conflict.ConflictType)
	}
}

func TestApplyRequiredMissSurfacesAlongsideOtherMatches(t *testing.T) {
	e := newTestEngine(t, []*core.TransformationRule{
		{
			ID: "r1", TenantID: "t1", ProviderID: "p1",
			PatternType:   core.PatternHierarchical,
			SourcePattern: "Org",
			Required:      true,
			Enabled:       true,
		},
		regexRule("r2", 5, `^Org/(.*)$`, `Org_${1}`),
	}, nil, staticResolver{})

	res, err := e.Apply(context.Background(), "t1", "p1", &core.Group{ID: "g1", DisplayName: "Org/Unknown"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Conflict == nil {
		t.Fatal("unresolvable required rule hidden by another rule's match")
	}
	if res.Conflict.ConflictType != core.ConflictTransformation {
		t.Errorf("conflict type = %s", res.Conflict.ConflictType)
	}
	if len(res.Assignments) != 1 || res.Assignments[0].RuleID != "r2" {
		t.Errorf("assignments = %+v, want the non-required match kept", res.Assignments)
	}
}

func TestApplyFirstMatchHonorsPriority(t *testing.T) {
	low := regexRule("r-low", 1, `^Sales-(.*)$`, `Generic_${1}`)
	high := regexRule("r-high", 100, `^Sales-(.*)$`, `Sales_${1}_Rep`)
	high.MatchResolution = core.MatchFirstMatch

	e := newTestEngine(t, []*core.TransformationRule{low, high}, nil, nil)
	res, err := e.Apply(context.Background(), "t1", "p1", &core.Group{ID: "g1", DisplayName: "Sales-APAC"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Assignments) != 1 {
		t.Fatalf("expected exactly one assignment, got %+v", res.Assignments)
	}
	if res.Assignments[0].Entitlement != "Sales_APAC_Rep" || res.Assignments[0].RuleID != "r-high" {
		t.Errorf("winner = %+v, want the higher-priority rule", res.Assignments[0])
	}
}

func TestApplyUnionDeduplicates(t *testing.T) {
	a := regexRule("r-a", 10, `^Sales-(.*)$`, `Sales_${1}_Rep`)
	b := regexRule("r-b", 5, `^Sales-(.*)$`, `Sales_${1}_Rep`)

	e := newTestEngine(t, []*core.TransformationRule{a, b}, nil, nil)
	res, err := e.Apply(context.Background(), "t1", "p1", &core.Group{ID: "g1", DisplayName: "Sales-US"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Assignments) != 1 {
		t.Fatalf("union did not deduplicate: %+v", res.Assignments)
	}
}

func TestApplyHighestPrivilegeUsesRanker(t *testing.T) {
	a := regexRule("r-a", 10, `^Eng-(.*)$`, `Admin_${1}`)
	a.MatchResolution = core.MatchHighestPrivilege
	b := regexRule("r-b", 5, `^Eng-(.*)$`, `Viewer_${1}`)

	ranker := staticRanker{"Admin_Core": 10, "Viewer_Core": 1}
	e := newTestEngine(t, []*core.TransformationRule{a, b}, ranker, nil)

	res, err := e.Apply(context.Background(), "t1", "p1", &core.Group{ID: "g1", DisplayName: "Eng-Core"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Assignments) != 1 || res.Assignments[0].Entitlement != "Admin_Core" {
		t.Fatalf("assignments = %+v, want Admin_Core only", res.Assignments)
	}
}

func TestApplyManualReviewRaisesConflict(t *testing.T) {
	a := regexRule("r-a", 10, `^Eng-(.*)$`, `Admin_${1}`)
	a.MatchResolution = core.MatchManualReview
	b := regexRule("r-b", 5, `^Eng-(.*)$`, `Viewer_${1}`)

	e := newTestEngine(t, []*core.TransformationRule{a, b}, nil, nil)
	res, err := e.Apply(context.Background(), "t1", "p1", &core.Group{ID: "g1", DisplayName: "Eng-Core"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Conflict == nil || len(res.Assignments) != 0 {
		t.Fatalf("expected manual-review conflict, got %+v", res)
	}
}

func TestApplyHierarchicalDeepestResolvableWins(t *testing.T) {
	e := newTestEngine(t, []*core.TransformationRule{{
		ID: "r1", TenantID: "t1", ProviderID: "p1",
		PatternType:   core.PatternHierarchical,
		SourcePattern: "Org",
		Enabled:       true,
	}}, nil, staticResolver{
		"Org":       "node-root",
		"Org/Sales": "node-sales",
	})

	// Org/Sales/EMEA does not exist; the walk falls back to Org/Sales.
	res, err := e.Apply(context.Background(), "t1", "p1", &core.Group{ID: "g1", DisplayName: "Org/Sales/EMEA"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Assignments) != 1 || res.Assignments[0].Entitlement != "node-sales" {
		t.Fatalf("assignments = %+v, want node-sales", res.Assignments)
	}
}

func TestApplyConditionalCasesEvaluateInOrder(t *testing.T) {
	e := newTestEngine(t, []*core.TransformationRule{{
		ID: "r1", TenantID: "t1", ProviderID: "p1",
		PatternType: core.PatternConditional,
		Enabled:     true,
		Cases: []core.ConditionalCase{
			{
				All:    []core.Predicate{{Attribute: "group.displayName", Op: core.OpPrefix, Value: "Exec"}},
				Target: "Exec_Role",
			},
			{Target: "Default_Role"},
		},
	}}, nil, nil)

	res, err := e.Apply(context.Background(), "t1", "p1", &core.Group{ID: "g1", DisplayName: "Exec-Board"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Assignments) != 1 || res.Assignments[0].Entitlement != "Exec_Role" {
		t.Fatalf("assignments = %+v, want Exec_Role", res.Assignments)
	}

	res, err = e.Apply(context.Background(), "t1", "p1", &core.Group{ID: "g2", DisplayName: "Interns"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Assignments) != 1 || res.Assignments[0].Entitlement != "Default_Role" {
		t.Fatalf("assignments = %+v, want the catch-all", res.Assignments)
	}
}

func TestCompileRuleRejectsBadTemplateReference(t *testing.T) {
	_, err := CompileRule(regexRule("r1", 1, `^Sales-(.*)$`, `Sales_${2}_Rep`))
	if !core.IsCode(err, core.CodeInvalidRule) {
		t.Fatalf("err = %v, want invalid-rule code", err)
	}
}

func TestCompileRuleRejectsUnbalancedPattern(t *testing.T) {
	_, err := CompileRule(regexRule("r1", 1, `^Sales-(.*$`, `Sales_${1}`))
	if !core.IsCode(err, core.CodeInvalidRule) {
		t.Fatalf("err = %v, want invalid-rule code", err)
	}
}
