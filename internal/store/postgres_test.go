package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/core"
)

func skipIfNoPostgres(t *testing.T) {
	t.Helper()
	if os.Getenv("SYNC_TEST_DATABASE_URL") == "" {
		t.Skip("Skipping integration test: SYNC_TEST_DATABASE_URL not set")
	}
}

func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	t.Setenv("SYNC_DATABASE_URL", os.Getenv("SYNC_TEST_DATABASE_URL"))
	s, err := NewPostgresStoreFromEnv()
	if err != nil {
		t.Fatalf("open postgres store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testPair returns identifiers unique per run so tests do not collide on a
// shared database.
func testPair() (string, string) {
	return "test-" + uuid.NewString()[:8], "pg"
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	skipIfNoPostgres(t)
	s := newTestPostgresStore(t)
	ctx := context.Background()
	tenant, provider := testPair()

	state := core.NewSyncState(tenant, provider)
	state.UserCount = 42
	state.Status = core.SyncCompleted
	state.LastSyncAt = time.Now().UTC().Truncate(time.Millisecond)

	v, err := s.PutSyncState(ctx, state, 0)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if v != 1 {
		t.Errorf("version after insert = %d", v)
	}

	got, err := s.GetSyncState(ctx, tenant, provider)
	if err != nil {
		t.Fatal(err)
	}
	if got.UserCount != 42 || got.Status != core.SyncCompleted || got.Version != 1 {
		t.Errorf("round-tripped state = %+v", got)
	}
}

func TestPostgresStoreVersionConflict(t *testing.T) {
	skipIfNoPostgres(t)
	s := newTestPostgresStore(t)
	ctx := context.Background()
	tenant, provider := testPair()

	state := core.NewSyncState(tenant, provider)
	if _, err := s.PutSyncState(ctx, state, 0); err != nil {
		t.Fatal(err)
	}

	// A writer holding the superseded version must be rejected.
	if _, err := s.PutSyncState(ctx, state, 0); !core.IsCode(err, core.CodeVersionConflict) {
		t.Fatalf("stale write err = %v", err)
	}
	if _, err := s.PutSyncState(ctx, state, 1); err != nil {
		t.Fatalf("current-version write: %v", err)
	}
}

func TestPostgresStoreListByTenant(t *testing.T) {
	skipIfNoPostgres(t)
	s := newTestPostgresStore(t)
	ctx := context.Background()
	tenant, _ := testPair()

	for i := 0; i < 3; i++ {
		state := core.NewSyncState(tenant, fmt.Sprintf("prov-%d", i))
		if _, err := s.PutSyncState(ctx, state, 0); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListSyncStates(ctx, tenant)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("states = %d, want 3", len(all))
	}
	for i, st := range all {
		if want := fmt.Sprintf("prov-%d", i); st.ProviderID != want {
			t.Errorf("order[%d] = %s, want %s", i, st.ProviderID, want)
		}
	}
}

func TestPostgresStoreRules(t *testing.T) {
	skipIfNoPostgres(t)
	s := newTestPostgresStore(t)
	ctx := context.Background()
	tenant, provider := testPair()

	low := &core.TransformationRule{
		ID: uuid.NewString(), TenantID: tenant, ProviderID: provider,
		PatternType: core.PatternExact, SourcePattern: "Eng", TargetMapping: "Eng_Role",
		Priority: 1, Enabled: true,
	}
	high := &core.TransformationRule{
		ID: uuid.NewString(), TenantID: tenant, ProviderID: provider,
		PatternType: core.PatternExact, SourcePattern: "Eng", TargetMapping: "Eng_Admin",
		Priority: 10, Enabled: true,
	}
	for _, r := range []*core.TransformationRule{low, high} {
		if err := s.PutRule(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	rules, err := s.ListRules(ctx, tenant, provider)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 2 || rules[0].ID != high.ID {
		t.Fatalf("rules = %+v, want priority-descending order", rules)
	}

	// Upsert keeps the row count stable.
	high.TargetMapping = "Eng_Superuser"
	if err := s.PutRule(ctx, high); err != nil {
		t.Fatal(err)
	}
	rules, _ = s.ListRules(ctx, tenant, provider)
	if len(rules) != 2 || rules[0].TargetMapping != "Eng_Superuser" {
		t.Fatalf("after upsert: %+v", rules)
	}

	if err := s.DeleteRule(ctx, low.ID); err != nil {
		t.Fatal(err)
	}
	rules, _ = s.ListRules(ctx, tenant, provider)
	if len(rules) != 1 {
		t.Fatalf("after delete: %+v", rules)
	}
}
