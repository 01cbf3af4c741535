package reconcile

import (
	"context"
	"sync"
	"testing"

	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/core"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/detect"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/provider/memory"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/store"
)

// captureSink records audit entries for assertions.
type captureSink struct {
	mu      sync.Mutex
	entries []*core.AuditEntry
}

func (s *captureSink) Append(ctx context.Context, entries ...*core.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *captureSink) operations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ops []string
	for _, e := range s.entries {
		ops = append(ops, e.Operation)
	}
	return ops
}

func newTestReconciler(strategy core.Strategy) (*Reconciler, *store.MemoryStore, *captureSink) {
	st := store.NewMemoryStore()
	sink := &captureSink{}
	r := New(Config{Store: st, Sink: sink, DefaultStrategy: strategy})
	return r, st, sink
}

func baselineWith(users []*core.User, groups []*core.Group) *core.Snapshot {
	s := core.NewSnapshot("t1", "p1")
	for _, u := range users {
		s.AddUser(u)
	}
	for _, g := range groups {
		s.AddGroup(g)
	}
	return s
}

func driftReport(dt core.DriftType, rt core.ResourceType, id string) *core.DriftReport {
	return core.NewDriftReport("t1", "p1", dt, rt, id, "")
}

func TestAutoApplyRecreatesDeletedUser(t *testing.T) {
	r, st, _ := newTestReconciler(core.StrategyAutoApply)
	conn := memory.New()
	ctx := context.Background()

	alice := &core.User{ID: "u1", UserName: "alice", Active: true}
	baseline := baselineWith([]*core.User{alice}, nil)

	// The provider lost the user.
	out, err := r.ReconcileDrift(ctx, conn, core.DirectionSourceToTarget, baseline,
		[]*core.DriftReport{driftReport(core.DriftDeleted, core.ResourceTypeUser, "u1")})
	if err != nil {
		t.Fatal(err)
	}
	if out.Applied != 1 {
		t.Fatalf("outcome = %+v, want one applied", out)
	}

	restored, err := conn.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("user not recreated: %v", err)
	}
	if restored.UserName != "alice" {
		t.Errorf("recreated user = %+v", restored)
	}

	state, err := st.GetSyncState(ctx, "t1", "p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(state.DriftLog) != 1 || !state.DriftLog[0].Reconciled {
		t.Fatalf("drift log = %+v", state.DriftLog)
	}
}

func TestAutoApplyRemovesAddedResource(t *testing.T) {
	r, _, _ := newTestReconciler(core.StrategyAutoApply)
	conn := memory.New()
	conn.SeedUser(&core.User{ID: "u-rogue", UserName: "rogue"})
	ctx := context.Background()

	out, err := r.ReconcileDrift(ctx, conn, core.DirectionSourceToTarget, baselineWith(nil, nil),
		[]*core.DriftReport{driftReport(core.DriftAdded, core.ResourceTypeUser, "u-rogue")})
	if err != nil {
		t.Fatal(err)
	}
	if out.Applied != 1 {
		t.Fatalf("outcome = %+v", out)
	}
	if _, err := conn.GetUser(ctx, "u-rogue"); !core.IsCode(err, core.CodeNotFound) {
		t.Fatalf("rogue user still present: %v", err)
	}
}

func TestAutoApplyIsConvergentOnDoubleApply(t *testing.T) {
	r, _, _ := newTestReconciler(core.StrategyAutoApply)
	conn := memory.New()
	conn.SeedUser(&core.User{ID: "u1", UserName: "alice.drifted"})
	ctx := context.Background()

	baseline := baselineWith([]*core.User{{ID: "u1", UserName: "alice"}}, nil)
	report := driftReport(core.DriftModified, core.ResourceTypeUser, "u1")

	for i := 0; i < 2; i++ {
		if err := r.autoApply(ctx, conn, core.DirectionSourceToTarget, baseline, report); err != nil {
			t.Fatalf("apply %d: %v", i+1, err)
		}
	}
	u, err := conn.GetUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if u.UserName != "alice" {
		t.Errorf("user = %+v, want reverted to baseline", u)
	}
}

func TestAutoApplyRestoresMembership(t *testing.T) {
	r, _, _ := newTestReconciler(core.StrategyAutoApply)
	conn := memory.New()
	conn.SeedGroup(&core.Group{ID: "g1", DisplayName: "Sales", Members: []string{"u1", "u-extra"}})
	ctx := context.Background()

	report := driftReport(core.DriftMembershipMismatch, core.ResourceTypeGroup, "g1")
	report.Membership = &core.MembershipDelta{Added: []string{"u-extra"}, Removed: []string{"u2"}}

	out, err := r.ReconcileDrift(ctx, conn, core.DirectionSourceToTarget, baselineWith(nil, nil),
		[]*core.DriftReport{report})
	if err != nil {
		t.Fatal(err)
	}
	if out.Applied != 1 {
		t.Fatalf("outcome = %+v", out)
	}

	members, err := conn.GetGroupMembers(ctx, "g1")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{"u1": true, "u2": true}
	if len(members) != 2 || !want[members[0]] || !want[members[1]] {
		t.Errorf("members = %v, want u1 and u2", members)
	}
}

func TestManualReviewBlocksResource(t *testing.T) {
	r, st, sink := newTestReconciler(core.StrategyManualReview)
	conn := memory.New()
	ctx := context.Background()

	out, err := r.ReconcileDrift(ctx, conn, core.DirectionSourceToTarget, baselineWith(nil, nil),
		[]*core.DriftReport{driftReport(core.DriftAdded, core.ResourceTypeUser, "u1")})
	if err != nil {
		t.Fatal(err)
	}
	if out.Deferred != 1 {
		t.Fatalf("outcome = %+v", out)
	}
	if len(conn.Mutations) != 0 {
		t.Errorf("manual review mutated the provider: %v", conn.Mutations)
	}

	state, err := st.GetSyncState(ctx, "t1", "p1")
	if err != nil {
		t.Fatal(err)
	}
	if !state.IsBlocked("u1") {
		t.Fatal("resource not sync-blocked")
	}
	found := false
	for _, op := range sink.operations() {
		if op == "reconcile.manual_review" {
			found = true
		}
	}
	if !found {
		t.Errorf("audit ops = %v, missing manual review entry", sink.operations())
	}
}

func TestBlockedResourceIsSkipped(t *testing.T) {
	r, st, _ := newTestReconciler(core.StrategyAutoApply)
	conn := memory.New()
	conn.SeedUser(&core.User{ID: "u1", UserName: "rogue"})
	ctx := context.Background()

	_, err := store.Update(ctx, st, "t1", "p1", func(s *core.SyncState) error {
		s.Block("u1")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	out, err := r.ReconcileDrift(ctx, conn, core.DirectionSourceToTarget, baselineWith(nil, nil),
		[]*core.DriftReport{driftReport(core.DriftAdded, core.ResourceTypeUser, "u1")})
	if err != nil {
		t.Fatal(err)
	}
	if out.Skipped != 1 {
		t.Fatalf("outcome = %+v, want skip", out)
	}
	if len(conn.Mutations) != 0 {
		t.Errorf("blocked resource was mutated: %v", conn.Mutations)
	}
}

func TestIgnoreStrategyAuditsWithoutMutating(t *testing.T) {
	r, _, sink := newTestReconciler(core.StrategyIgnore)
	conn := memory.New()

	out, err := r.ReconcileDrift(context.Background(), conn, core.DirectionSourceToTarget, baselineWith(nil, nil),
		[]*core.DriftReport{driftReport(core.DriftAdded, core.ResourceTypeUser, "u1")})
	if err != nil {
		t.Fatal(err)
	}
	if out.Ignored != 1 || len(conn.Mutations) != 0 {
		t.Fatalf("outcome = %+v mutations = %v", out, conn.Mutations)
	}
	if len(sink.operations()) == 0 {
		t.Fatal("ignore left no audit trail")
	}
}

func TestTargetToSourceWithoutWriterDegradesToReview(t *testing.T) {
	r, st, _ := newTestReconciler(core.StrategyAutoApply)
	conn := memory.New()
	ctx := context.Background()

	out, err := r.ReconcileDrift(ctx, conn, core.DirectionTargetToSource, baselineWith(nil, nil),
		[]*core.DriftReport{driftReport(core.DriftAdded, core.ResourceTypeUser, "u1")})
	if err != nil {
		t.Fatal(err)
	}
	if out.Deferred != 1 {
		t.Fatalf("outcome = %+v, want deferred", out)
	}
	state, err := st.GetSyncState(ctx, "t1", "p1")
	if err != nil {
		t.Fatal(err)
	}
	if !state.IsBlocked("u1") {
		t.Fatal("degraded resource not blocked for review")
	}
}

func TestTargetToSourceMirrorsDeletion(t *testing.T) {
	st := store.NewMemoryStore()
	src := memory.New()
	src.SeedUser(&core.User{ID: "u1", UserName: "alice"})
	r := New(Config{Store: st, Sink: &captureSink{}, Source: src, DefaultStrategy: core.StrategyAutoApply})
	conn := memory.New()
	ctx := context.Background()

	out, err := r.ReconcileDrift(ctx, conn, core.DirectionTargetToSource, baselineWith(nil, nil),
		[]*core.DriftReport{driftReport(core.DriftDeleted, core.ResourceTypeUser, "u1")})
	if err != nil {
		t.Fatal(err)
	}
	if out.Applied != 1 {
		t.Fatalf("outcome = %+v", out)
	}
	if _, err := src.GetUser(ctx, "u1"); !core.IsCode(err, core.CodeNotFound) {
		t.Fatalf("deletion not mirrored to source: %v", err)
	}
}

func TestRecordConflictsBlocksAndPersists(t *testing.T) {
	r, st, sink := newTestReconciler(core.StrategyAutoApply)
	ctx := context.Background()

	conflicts := detect.DetectConflicts("t1", "p1",
		[]*core.ChangeRecord{{ResourceType: core.ResourceTypeUser, ResourceID: "u1", ChangeType: core.DriftModified,
			Attributes: []core.AttributeChange{{Attribute: "email", Before: "a@x", After: "b@x"}}}},
		[]*core.ChangeRecord{{ResourceType: core.ResourceTypeUser, ResourceID: "u1", ChangeType: core.DriftModified,
			Attributes: []core.AttributeChange{{Attribute: "email", Before: "a@x", After: "c@x"}}}},
	)
	if len(conflicts) != 1 {
		t.Fatalf("conflicts = %+v", conflicts)
	}

	if err := r.RecordConflicts(ctx, conflicts); err != nil {
		t.Fatal(err)
	}

	state, err := st.GetSyncState(ctx, "t1", "p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(state.ConflictLog) != 1 || !state.ConflictLog[0].SyncBlocked {
		t.Fatalf("conflict log = %+v", state.ConflictLog)
	}
	if !state.IsBlocked("u1") {
		t.Fatal("conflicted resource not blocked")
	}
	var sawDetected bool
	for _, op := range sink.operations() {
		if op == "conflict.detected" {
			sawDetected = true
		}
	}
	if !sawDetected {
		t.Errorf("audit ops = %v", sink.operations())
	}
}

func TestFailedApplyIsIsolatedPerResource(t *testing.T) {
	r, st, _ := newTestReconciler(core.StrategyAutoApply)
	conn := memory.New()
	conn.SeedUser(&core.User{ID: "u-ok", UserName: "ok"})
	conn.FailWith("DeleteUser", core.Errorf(core.CodeProviderTransient, true, "boom"))
	ctx := context.Background()

	good := driftReport(core.DriftModified, core.ResourceTypeUser, "u-ok")
	bad := driftReport(core.DriftAdded, core.ResourceTypeUser, "u-bad")
	baseline := baselineWith([]*core.User{{ID: "u-ok", UserName: "ok.fixed"}}, nil)

	out, err := r.ReconcileDrift(ctx, conn, core.DirectionSourceToTarget, baseline,
		[]*core.DriftReport{bad, good})
	if err != nil {
		t.Fatal(err)
	}
	if out.Failed != 1 || out.Applied != 1 {
		t.Fatalf("outcome = %+v, want one failed and one applied", out)
	}

	state, err := st.GetSyncState(ctx, "t1", "p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(state.ErrorLog) == 0 {
		t.Fatal("transient failure left no error-log entry")
	}
}

func TestAutoApplyWithoutBaselineDefersForReview(t *testing.T) {
	r, st, sink := newTestReconciler(core.StrategyAutoApply)
	conn := memory.New()
	ctx := context.Background()

	report := driftReport(core.DriftDeleted, core.ResourceTypeUser, "u2")
	out, err := r.ReconcileDrift(ctx, conn, core.DirectionSourceToTarget, nil, []*core.DriftReport{report})
	if err != nil {
		t.Fatal(err)
	}
	if out.Deferred != 1 || out.Applied != 0 {
		t.Fatalf("outcome = %+v, want the report deferred", out)
	}
	if len(conn.Mutations) != 0 {
		t.Errorf("mutations = %v, want none without a baseline", conn.Mutations)
	}

	state, err := st.GetSyncState(ctx, "t1", "p1")
	if err != nil {
		t.Fatal(err)
	}
	if !state.IsBlocked("u2") {
		t.Error("resource not blocked pending review")
	}
	found := false
	for _, op := range sink.operations() {
		if op == "reconcile.manual_review" {
			found = true
		}
	}
	if !found {
		t.Error("no manual-review audit entry recorded")
	}
}
