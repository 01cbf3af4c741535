// Package service is the operator query/command surface. It composes the
// store, reconciler, direction manager, and poller behind one struct that
// an outer transport layer (REST, CLI) can call without knowing any engine
// internals.
package service

import (
	"context"
	"sort"

	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/core"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/direction"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/poller"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/reconcile"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/store"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/transform"
)

// Service exposes the engine to operators.
type Service struct {
	store      store.Store
	reconciler *reconcile.Reconciler
	direction  *direction.Manager
	poller     *poller.Poller
	transform  *transform.Engine
}

// New wires the operator surface.
func New(st store.Store, rec *reconcile.Reconciler, dir *direction.Manager, pol *poller.Poller, eng *transform.Engine) *Service {
	return &Service{store: st, reconciler: rec, direction: dir, poller: pol, transform: eng}
}

// ListPendingDrift returns unreconciled drift reports for a tenant,
// optionally filtered to one provider, newest first.
func (s *Service) ListPendingDrift(ctx context.Context, tenantID, providerID string) ([]*core.DriftReport, error) {
	states, err := s.statesFor(ctx, tenantID, providerID)
	if err != nil {
		return nil, err
	}
	var out []*core.DriftReport
	for _, state := range states {
		for _, d := range state.DriftLog {
			if !d.Reconciled {
				out = append(out, d)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObservedAt.After(out[j].ObservedAt) })
	return out, nil
}

// ListPendingConflicts returns unresolved conflict reports for a tenant,
// optionally filtered to one provider, newest first.
func (s *Service) ListPendingConflicts(ctx context.Context, tenantID, providerID string) ([]*core.ConflictReport, error) {
	states, err := s.statesFor(ctx, tenantID, providerID)
	if err != nil {
		return nil, err
	}
	var out []*core.ConflictReport
	for _, state := range states {
		for _, c := range state.ConflictLog {
			if !c.Resolved {
				out = append(out, c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	return out, nil
}

// SubmitDecision applies an operator's resolution to a pending drift or
// conflict report.
func (s *Service) SubmitDecision(ctx context.Context, d reconcile.Decision) error {
	conn := s.poller.Connector(d.TenantID, d.ProviderID)
	if conn == nil {
		return core.Errorf(core.CodeNotFound, false, "no connector for pair %s", core.PairKey(d.TenantID, d.ProviderID))
	}
	baseline := s.poller.Baseline(d.TenantID, d.ProviderID)
	return s.reconciler.ApplyDecision(ctx, conn, baseline, d)
}

// GetDirection returns the pair's active sync direction, persisting and
// auditing the default on first use.
func (s *Service) GetDirection(ctx context.Context, tenantID, providerID string) (core.SyncDirection, error) {
	return s.direction.Get(ctx, tenantID, providerID)
}

// SetDirection changes the pair's sync direction. The change takes effect
// with the next poll cycle; an in-flight cycle completes under the
// direction active when it started.
func (s *Service) SetDirection(ctx context.Context, tenantID, providerID string, d core.SyncDirection, actor string) error {
	return s.direction.Set(ctx, tenantID, providerID, d, actor)
}

// TriggerPoll schedules an immediate out-of-schedule cycle for the pair.
func (s *Service) TriggerPoll(tenantID, providerID string) error {
	if !s.poller.TriggerNow(tenantID, providerID) {
		return core.Errorf(core.CodeNotFound, false, "no schedule for pair %s", core.PairKey(tenantID, providerID))
	}
	return nil
}

// ListPairs reports every scheduled pair with its health/backoff status.
func (s *Service) ListPairs() []poller.PairStatus {
	statuses := s.poller.Status()
	sort.Slice(statuses, func(i, j int) bool {
		if statuses[i].TenantID != statuses[j].TenantID {
			return statuses[i].TenantID < statuses[j].TenantID
		}
		return statuses[i].ProviderID < statuses[j].ProviderID
	})
	return statuses
}

// MapGroup runs the transformation engine for one group, returning the
// provider entitlement assignments it resolves. Operators use it to
// preview what a rule change does before enabling it.
func (s *Service) MapGroup(ctx context.Context, tenantID, providerID string, group *core.Group, user *core.User) (*transform.Result, error) {
	return s.transform.Apply(ctx, tenantID, providerID, group, user)
}

// ReverseMapEntitlement inverts the rule set for one entitlement,
// returning the candidate source groups. Ambiguous inversions are marked
// rather than guessed.
func (s *Service) ReverseMapEntitlement(ctx context.Context, tenantID, providerID string, ent *core.Entitlement) (*transform.ReverseResult, error) {
	return s.transform.Reverse(ctx, tenantID, providerID, ent)
}

// PutRule validates and persists a transformation rule, then invalidates
// the engine's cached rule set for the pair.
func (s *Service) PutRule(ctx context.Context, rule *core.TransformationRule) error {
	if _, err := transform.CompileRule(rule); err != nil {
		return err
	}
	if err := s.store.PutRule(ctx, rule); err != nil {
		return err
	}
	s.transform.Invalidate(rule.TenantID, rule.ProviderID)
	return nil
}

// DeleteRule removes a rule and invalidates the pair's cached rule set.
func (s *Service) DeleteRule(ctx context.Context, tenantID, providerID, id string) error {
	if err := s.store.DeleteRule(ctx, id); err != nil {
		return err
	}
	s.transform.Invalidate(tenantID, providerID)
	return nil
}

// GetSyncState returns the persisted document for one pair.
func (s *Service) GetSyncState(ctx context.Context, tenantID, providerID string) (*core.SyncState, error) {
	return s.store.GetSyncState(ctx, tenantID, providerID)
}

func (s *Service) statesFor(ctx context.Context, tenantID, providerID string) ([]*core.SyncState, error) {
	if providerID != "" {
		state, err := s.store.GetSyncState(ctx, tenantID, providerID)
		if err != nil {
			if core.IsCode(err, core.CodeNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return []*core.SyncState{state}, nil
	}
	all, err := s.store.ListSyncStates(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return all, nil
}
