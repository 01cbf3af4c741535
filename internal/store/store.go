// Package store persists sync state and transformation rules. All sync
// state mutation is compare-and-swap on a version token so a concurrent
// poll cycle and a concurrent manual reconciliation cannot silently
// overwrite each other's writes.
package store

import (
	"context"

	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/core"
)

// Store defines the persistence operations of the engine.
type Store interface {
	// GetSyncState fetches the document for a pair. Returns a typed
	// not-found error when the pair has never synced.
	GetSyncState(ctx context.Context, tenantID, providerID string) (*core.SyncState, error)

	// PutSyncState writes the document if its stored version still equals
	// expectedVersion (0 means "must not exist yet"). Returns the new
	// version, or a version-conflict error for a losing writer.
	PutSyncState(ctx context.Context, state *core.SyncState, expectedVersion int64) (int64, error)

	// ListSyncStates returns all documents for a tenant.
	ListSyncStates(ctx context.Context, tenantID string) ([]*core.SyncState, error)

	// ListRules returns the transformation rules for a pair.
	ListRules(ctx context.Context, tenantID, providerID string) ([]*core.TransformationRule, error)

	// PutRule upserts a rule. Pattern validation happens before this call.
	PutRule(ctx context.Context, rule *core.TransformationRule) error

	// DeleteRule removes a rule by id.
	DeleteRule(ctx context.Context, id string) error

	Close() error
}

// maxUpdateAttempts bounds the CAS retry loop; a loop this long means the
// pair is under pathological write contention.
const maxUpdateAttempts = 5

// Update runs a read-modify-write cycle against a pair's sync state with
// compare-and-swap retry: a losing writer re-reads the fresh document and
// reapplies its mutation. A missing document starts from NewSyncState.
func Update(ctx context.Context, s Store, tenantID, providerID string, mutate func(*core.SyncState) error) (*core.SyncState, error) {
	var lastErr error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		state, err := s.GetSyncState(ctx, tenantID, providerID)
		if err != nil {
			if !core.IsCode(err, core.CodeNotFound) {
				return nil, err
			}
			state = core.NewSyncState(tenantID, providerID)
		}
		expected := state.Version

		if err := mutate(state); err != nil {
			return nil, err
		}

		version, err := s.PutSyncState(ctx, state, expected)
		if err == nil {
			state.Version = version
			return state, nil
		}
		if !core.IsCode(err, core.CodeVersionConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}
