// Package direction holds the active sync direction per pair. Exactly one
// direction is active at a time; changes take effect from the next poll
// cycle because the poller reads the direction once at cycle start.
package direction

import (
	"context"

	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/audit"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/core"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/store"
)

// Manager reads and writes the persisted direction for sync pairs.
type Manager struct {
	store store.Store
	sink  audit.Sink
}

// NewManager creates a direction manager over the given store and audit
// sink.
func NewManager(st store.Store, sink audit.Sink) *Manager {
	return &Manager{store: st, sink: sink}
}

// Get returns the active direction for a pair. A pair that has never had a
// direction persisted defaults to source-to-target; the default selection
// is persisted and audited, never silent.
func (m *Manager) Get(ctx context.Context, tenantID, providerID string) (core.SyncDirection, error) {
	state, err := m.store.GetSyncState(ctx, tenantID, providerID)
	if err == nil && state.Direction != "" {
		return state.Direction, nil
	}
	if err != nil && !core.IsCode(err, core.CodeNotFound) {
		return "", err
	}

	updated, err := store.Update(ctx, m.store, tenantID, providerID, func(s *core.SyncState) error {
		if s.Direction == "" {
			s.Direction = core.DirectionSourceToTarget
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	entry := core.NewAuditEntry("system", "direction.default")
	entry.TenantID = tenantID
	entry.ProviderID = providerID
	entry.After = core.DirectionSourceToTarget
	entry.Outcome = "success"
	entry.Notes = "no direction persisted; defaulted to source_to_target on first use"
	if err := m.sink.Append(ctx, entry); err != nil {
		return "", err
	}
	return updated.Direction, nil
}

// Set activates a direction for the pair starting with the next cycle.
func (m *Manager) Set(ctx context.Context, tenantID, providerID string, d core.SyncDirection, actor string) error {
	if d != core.DirectionSourceToTarget && d != core.DirectionTargetToSource {
		return core.Errorf(core.CodeProviderPermanent, false, "unknown sync direction %q", d)
	}

	var before core.SyncDirection
	_, err := store.Update(ctx, m.store, tenantID, providerID, func(s *core.SyncState) error {
		before = s.Direction
		s.Direction = d
		return nil
	})
	if err != nil {
		return err
	}

	entry := core.NewAuditEntry(actor, "direction.set")
	entry.TenantID = tenantID
	entry.ProviderID = providerID
	entry.Before = before
	entry.After = d
	entry.Outcome = "success"
	return m.sink.Append(ctx, entry)
}
