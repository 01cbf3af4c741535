package detect

import (
	"testing"
	"time"

	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/core"
)

func change(id string, ct core.DriftType, attrs ...string) *core.ChangeRecord {
	rec := &core.ChangeRecord{
		ResourceType: core.ResourceTypeUser,
		ResourceID:   id,
		ChangeType:   ct,
		ChangedAt:    time.Now().UTC(),
	}
	for _, a := range attrs {
		rec.Attributes = append(rec.Attributes, core.AttributeChange{Attribute: a})
	}
	return rec
}

func TestDetectConflictsDualModificationNeedsOverlap(t *testing.T) {
	source := []*core.ChangeRecord{change("u1", core.DriftModified, "displayName", "email")}
	prov := []*core.ChangeRecord{change("u1", core.DriftModified, "email", "phone")}

	conflicts := DetectConflicts("t1", "p1", source, prov)
	if len(conflicts) != 1 {
		t.Fatalf("expected one conflict, got %d", len(conflicts))
	}
	c := conflicts[0]
	if c.ConflictType != core.ConflictDualModification {
		t.Errorf("conflict type = %s", c.ConflictType)
	}
	if len(c.ConflictingAttributes) != 1 || c.ConflictingAttributes[0] != "email" {
		t.Errorf("conflicting attributes = %v, want [email]", c.ConflictingAttributes)
	}
	if c.SuggestedResolution != core.ResolveUseMostRecent {
		t.Errorf("suggested resolution = %s", c.SuggestedResolution)
	}
}

func TestDetectConflictsDisjointAttributesDoNotConflict(t *testing.T) {
	source := []*core.ChangeRecord{change("u1", core.DriftModified, "displayName")}
	prov := []*core.ChangeRecord{change("u1", core.DriftModified, "phone")}

	if conflicts := DetectConflicts("t1", "p1", source, prov); len(conflicts) != 0 {
		t.Fatalf("disjoint changes reported as conflict: %+v", conflicts[0])
	}
}

func TestDetectConflictsDeleteModify(t *testing.T) {
	source := []*core.ChangeRecord{change("u1", core.DriftDeleted)}
	prov := []*core.ChangeRecord{change("u1", core.DriftModified, "email")}

	conflicts := DetectConflicts("t1", "p1", source, prov)
	if len(conflicts) != 1 || conflicts[0].ConflictType != core.ConflictDeleteModify {
		t.Fatalf("expected delete/modify conflict, got %+v", conflicts)
	}
}

func TestDetectConflictsBothDeletedConverge(t *testing.T) {
	source := []*core.ChangeRecord{change("u1", core.DriftDeleted)}
	prov := []*core.ChangeRecord{change("u1", core.DriftDeleted)}

	if conflicts := DetectConflicts("t1", "p1", source, prov); len(conflicts) != 0 {
		t.Fatalf("converged deletions reported as conflict: %+v", conflicts)
	}
}

func TestDetectConflictsDualCreateIsUniquenessViolation(t *testing.T) {
	source := []*core.ChangeRecord{change("u1", core.DriftAdded, "userName")}
	prov := []*core.ChangeRecord{change("u1", core.DriftAdded, "userName")}

	conflicts := DetectConflicts("t1", "p1", source, prov)
	if len(conflicts) != 1 || conflicts[0].ConflictType != core.ConflictUniqueness {
		t.Fatalf("expected uniqueness violation, got %+v", conflicts)
	}
}

func TestDetectConflictsChangeOnOneSideOnly(t *testing.T) {
	prov := []*core.ChangeRecord{change("u1", core.DriftModified, "email")}

	if conflicts := DetectConflicts("t1", "p1", nil, prov); len(conflicts) != 0 {
		t.Fatalf("unilateral change reported as conflict: %+v", conflicts)
	}
}
