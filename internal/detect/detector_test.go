package detect

import (
	"testing"

	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/core"
)

func snapshotWith(users []*core.User, groups []*core.Group) *core.Snapshot {
	s := core.NewSnapshot("t1", "p1")
	for _, u := range users {
		s.AddUser(u)
	}
	for _, g := range groups {
		s.AddGroup(g)
	}
	return s
}

func user(id, userName string, active bool) *core.User {
	return &core.User{ID: id, UserName: userName, Active: active}
}

func TestDetectChangesIdenticalSnapshotsProduceNoDrift(t *testing.T) {
	a := snapshotWith(
		[]*core.User{user("u1", "alice", true), user("u2", "bob", true)},
		[]*core.Group{{ID: "g1", DisplayName: "Sales", Members: []string{"u1", "u2"}}},
	)
	b := snapshotWith(
		[]*core.User{user("u1", "alice", true), user("u2", "bob", true)},
		[]*core.Group{{ID: "g1", DisplayName: "Sales", Members: []string{"u2", "u1"}}},
	)

	if reports := DetectChanges(a, b); len(reports) != 0 {
		t.Fatalf("expected no drift, got %d reports: %+v", len(reports), reports[0])
	}
}

func TestDetectChangesAddedAndDeletedAreSymmetric(t *testing.T) {
	empty := snapshotWith(nil, nil)
	one := snapshotWith([]*core.User{user("u1", "alice", true)}, nil)

	forward := DetectChanges(empty, one)
	if len(forward) != 1 || forward[0].DriftType != core.DriftAdded {
		t.Fatalf("expected one added report, got %+v", forward)
	}
	if forward[0].Severity != core.SeverityLow {
		t.Errorf("added severity = %s, want low", forward[0].Severity)
	}

	backward := DetectChanges(one, empty)
	if len(backward) != 1 || backward[0].DriftType != core.DriftDeleted {
		t.Fatalf("expected one deleted report, got %+v", backward)
	}
	if backward[0].Severity != core.SeverityHigh {
		t.Errorf("deleted severity = %s, want high", backward[0].Severity)
	}
}

func TestDetectChangesModifiedCarriesBeforeAfter(t *testing.T) {
	prev := snapshotWith([]*core.User{user("u1", "alice", true)}, nil)
	curr := snapshotWith([]*core.User{user("u1", "alice.b", true)}, nil)

	reports := DetectChanges(prev, curr)
	if len(reports) != 1 {
		t.Fatalf("expected one report, got %d", len(reports))
	}
	r := reports[0]
	if r.DriftType != core.DriftModified {
		t.Fatalf("drift type = %s, want modified", r.DriftType)
	}
	if len(r.Changes) != 1 || r.Changes[0].Attribute != "userName" {
		t.Fatalf("unexpected changes: %+v", r.Changes)
	}
	if r.Changes[0].Before != "alice" || r.Changes[0].After != "alice.b" {
		t.Errorf("before/after = %v/%v", r.Changes[0].Before, r.Changes[0].After)
	}
	if r.Severity != core.SeverityHigh {
		t.Errorf("identity attribute change severity = %s, want high", r.Severity)
	}
}

func TestDetectChangesMembershipIsIndependentOfAttributes(t *testing.T) {
	prev := snapshotWith(nil, []*core.Group{{ID: "g1", DisplayName: "Sales", Members: []string{"u1"}}})
	curr := snapshotWith(nil, []*core.Group{{ID: "g1", DisplayName: "Sales EMEA", Members: []string{"u1", "u2"}}})

	reports := DetectChanges(prev, curr)
	if len(reports) != 2 {
		t.Fatalf("expected attribute and membership reports, got %d", len(reports))
	}
	var sawModified, sawMembership bool
	for _, r := range reports {
		switch r.DriftType {
		case core.DriftModified:
			sawModified = true
		case core.DriftMembershipMismatch:
			sawMembership = true
			if len(r.Membership.Added) != 1 || r.Membership.Added[0] != "u2" {
				t.Errorf("membership delta = %+v", r.Membership)
			}
		}
	}
	if !sawModified || !sawMembership {
		t.Errorf("missing report kind: modified=%v membership=%v", sawModified, sawMembership)
	}
}

func TestDetectChangesIdentityPrefersExternalID(t *testing.T) {
	prev := snapshotWith([]*core.User{{ID: "internal-a", ExternalID: "ext-1", UserName: "alice"}}, nil)
	curr := snapshotWith([]*core.User{{ID: "internal-b", ExternalID: "ext-1", UserName: "alice"}}, nil)

	// Same external id means same resource even when internal ids differ;
	// internal id churn alone is not drift.
	for _, r := range DetectChanges(prev, curr) {
		if r.DriftType == core.DriftAdded || r.DriftType == core.DriftDeleted {
			t.Fatalf("internal id churn reported as %s", r.DriftType)
		}
	}
}

func TestDetectChangesMultiValuedAttributesCompareAsSets(t *testing.T) {
	a := user("u1", "alice", true)
	a.Attributes = map[string]any{"roles": []string{"admin", "auditor"}}
	b := user("u1", "alice", true)
	b.Attributes = map[string]any{"roles": []string{"auditor", "admin"}}

	reports := DetectChanges(snapshotWith([]*core.User{a}, nil), snapshotWith([]*core.User{b}, nil))
	if len(reports) != 0 {
		t.Fatalf("reordered multi-valued attribute reported as drift: %+v", reports[0].Changes)
	}
}

func TestDetectMismatchReportsAttributeMismatch(t *testing.T) {
	a := snapshotWith([]*core.User{user("u1", "alice", true)}, nil)
	b := snapshotWith([]*core.User{user("u1", "alice", false)}, nil)

	reports := DetectMismatch(a, b)
	if len(reports) != 1 || reports[0].DriftType != core.DriftAttributeMismatch {
		t.Fatalf("expected attribute mismatch, got %+v", reports)
	}
}

func TestSnapshotChecksumIsOrderIndependent(t *testing.T) {
	a := snapshotWith(
		[]*core.User{user("u1", "alice", true), user("u2", "bob", false)},
		[]*core.Group{{ID: "g1", DisplayName: "Sales", Members: []string{"u2", "u1"}}},
	)
	b := snapshotWith(
		[]*core.User{user("u2", "bob", false), user("u1", "alice", true)},
		[]*core.Group{{ID: "g1", DisplayName: "Sales", Members: []string{"u1", "u2"}}},
	)

	if SnapshotChecksum(a) != SnapshotChecksum(b) {
		t.Fatal("checksum differs for identical content in different order")
	}

	b.Users["u1"].Active = false
	if SnapshotChecksum(a) == SnapshotChecksum(b) {
		t.Fatal("checksum identical after content change")
	}
}

func TestSnapshotChecksumIgnoresVolatileMeta(t *testing.T) {
	u1 := user("u1", "alice", true)
	u2 := user("u1", "alice", true)
	u2.Meta = core.ResourceMeta{Version: "W/\"2\""}

	a := snapshotWith([]*core.User{u1}, nil)
	b := snapshotWith([]*core.User{u2}, nil)
	if SnapshotChecksum(a) != SnapshotChecksum(b) {
		t.Fatal("checksum depends on volatile metadata")
	}
}
