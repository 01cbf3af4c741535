package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/core"
)

// MemoryStore is an in-memory Store with the same compare-and-swap
// semantics as the Postgres implementation. It is the dev default and the
// test double.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]*core.SyncState
	rules  map[string]*core.TransformationRule
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]*core.SyncState),
		rules:  make(map[string]*core.TransformationRule),
	}
}

func (s *MemoryStore) GetSyncState(ctx context.Context, tenantID, providerID string) (*core.SyncState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[core.PairKey(tenantID, providerID)]
	if !ok {
		return nil, core.Errorf(core.CodeNotFound, false, "sync state not found for %s", core.PairKey(tenantID, providerID))
	}
	return cloneState(state), nil
}

func (s *MemoryStore) PutSyncState(ctx context.Context, state *core.SyncState, expectedVersion int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := state.Key()
	current, exists := s.states[key]
	switch {
	case !exists && expectedVersion != 0:
		return 0, core.Errorf(core.CodeVersionConflict, true, "sync state %s does not exist (expected version %d)", key, expectedVersion)
	case exists && current.Version != expectedVersion:
		return 0, core.Errorf(core.CodeVersionConflict, true, "sync state %s at version %d, expected %d", key, current.Version, expectedVersion)
	}

	stored := cloneState(state)
	stored.Version = expectedVersion + 1
	s.states[key] = stored
	return stored.Version, nil
}

func (s *MemoryStore) ListSyncStates(ctx context.Context, tenantID string) ([]*core.SyncState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*core.SyncState
	for _, state := range s.states {
		if state.TenantID == tenantID {
			out = append(out, cloneState(state))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (s *MemoryStore) ListRules(ctx context.Context, tenantID, providerID string) ([]*core.TransformationRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*core.TransformationRule
	for _, rule := range s.rules {
		if rule.TenantID == tenantID && rule.ProviderID == providerID {
			out = append(out, cloneRule(rule))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) PutRule(ctx context.Context, rule *core.TransformationRule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.ID] = cloneRule(rule)
	return nil
}

func (s *MemoryStore) DeleteRule(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rules, id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// cloneState deep-copies via the JSON rendering so callers never share
// log slices or blocked maps with the stored document.
func cloneState(state *core.SyncState) *core.SyncState {
	raw, _ := json.Marshal(state)
	var out core.SyncState
	_ = json.Unmarshal(raw, &out)
	return &out
}

func cloneRule(rule *core.TransformationRule) *core.TransformationRule {
	raw, _ := json.Marshal(rule)
	var out core.TransformationRule
	_ = json.Unmarshal(raw, &out)
	return &out
}
