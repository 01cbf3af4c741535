// Package reconcile applies drift and conflict reports according to the
// configured strategy for a pair. Every outcome (success, failure, or
// deferral) produces an immutable audit entry, and failures are isolated
// per resource so one bad resource cannot abort the remainder of a batch.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/audit"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/core"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/provider"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/store"
)

// Config configures a Reconciler.
type Config struct {
	Store store.Store
	Sink  audit.Sink

	// Source mutates the authoritative source for target-to-source auto
	// apply. Optional; when nil, those actions degrade to manual review.
	Source provider.SourceWriter

	// DefaultStrategy applies to pairs without an explicit entry
	// (default: manual review).
	DefaultStrategy core.Strategy

	// Strategies overrides the default per pair key.
	Strategies map[string]core.Strategy

	// ErrorLogLimit bounds the per-pair error log (default: 200).
	ErrorLogLimit int
}

// Reconciler consumes drift/conflict reports and resolves them against the
// connector and the persisted sync state.
type Reconciler struct {
	store         store.Store
	sink          audit.Sink
	source        provider.SourceWriter
	defaultStrat  core.Strategy
	strategies    map[string]core.Strategy
	errorLogLimit int
}

// New creates a reconciler.
func New(cfg Config) *Reconciler {
	strat := cfg.DefaultStrategy
	if strat == "" {
		strat = core.StrategyManualReview
	}
	limit := cfg.ErrorLogLimit
	if limit == 0 {
		limit = 200
	}
	return &Reconciler{
		store:         cfg.Store,
		sink:          cfg.Sink,
		source:        cfg.Source,
		defaultStrat:  strat,
		strategies:    cfg.Strategies,
		errorLogLimit: limit,
	}
}

// StrategyFor returns the configured strategy for a pair.
func (r *Reconciler) StrategyFor(tenantID, providerID string) core.Strategy {
	if s, ok := r.strategies[core.PairKey(tenantID, providerID)]; ok {
		return s
	}
	return r.defaultStrat
}

// Outcome summarizes one reconciliation batch.
type Outcome struct {
	Applied  int
	Deferred int
	Failed   int
	Ignored  int
	Skipped  int
}

// ReconcileDrift processes a batch of drift reports under the given
// direction. baseline is the last synchronized state, used to rebuild
// resources the provider lost.
func (r *Reconciler) ReconcileDrift(ctx context.Context, conn provider.Connector, dir core.SyncDirection, baseline *core.Snapshot, reports []*core.DriftReport) (*Outcome, error) {
	out := &Outcome{}
	if len(reports) == 0 {
		return out, nil
	}
	tenantID, providerID := reports[0].TenantID, reports[0].ProviderID

	state, err := r.store.GetSyncState(ctx, tenantID, providerID)
	if err != nil && !core.IsCode(err, core.CodeNotFound) {
		return nil, err
	}

	strategy := r.StrategyFor(tenantID, providerID)
	for _, report := range reports {
		key := identityKey(report)
		if state != nil && state.IsBlocked(key) {
			out.Skipped++
			r.audit(ctx, "system", "reconcile.skip_blocked", report, "deferred",
				"resource is sync-blocked pending manual review")
			continue
		}

		switch strategy {
		case core.StrategyIgnore:
			out.Ignored++
			markReconciled(report, ActionIgnored, "system", "strategy is ignore; no mutation performed")
			r.audit(ctx, "system", "reconcile.ignore", report, "success", "")

		case core.StrategyManualReview:
			out.Deferred++
			r.defer_(ctx, report, "strategy is manual review")

		case core.StrategyAutoApply:
			if dir == core.DirectionTargetToSource && r.source == nil {
				// Degrade explicitly rather than silently skipping: the
				// source-side connector is an external collaborator that
				// is not wired in.
				out.Deferred++
				r.defer_(ctx, report, "target-to-source auto apply requires a source-side connector; degraded to manual review")
				continue
			}
			if err := r.autoApply(ctx, conn, dir, baseline, report); err != nil {
				if core.IsCode(err, core.CodeProviderPermanent) || !core.IsRetryable(err) {
					// Permanent failures become review items instead of
					// being retried forever.
					out.Deferred++
					r.defer_(ctx, report, "auto apply failed permanently: "+err.Error())
				} else {
					out.Failed++
					r.audit(ctx, "system", "reconcile.auto_apply", report, "failed", err.Error())
					r.logError(ctx, report.TenantID, report.ProviderID, "reconcile.auto_apply", err)
				}
				continue
			}
			out.Applied++
			r.audit(ctx, "system", "reconcile.auto_apply", report, "success", report.ReconcileNotes)

		default:
			out.Failed++
			log.Printf("reconcile: unknown strategy %q for pair=%s", strategy, core.PairKey(tenantID, providerID))
		}
	}

	// Append the processed reports to the pair's drift log.
	_, err = store.Update(ctx, r.store, tenantID, providerID, func(s *core.SyncState) error {
		s.DriftLog = append(s.DriftLog, reports...)
		return nil
	})
	if err != nil {
		return out, fmt.Errorf("append drift log: %w", err)
	}
	return out, nil
}

// RecordConflicts persists conflict reports and blocks the involved
// resources. Conflicts are never auto-resolved; resolution happens only
// through ApplyDecision.
func (r *Reconciler) RecordConflicts(ctx context.Context, conflicts []*core.ConflictReport) error {
	if len(conflicts) == 0 {
		return nil
	}
	tenantID, providerID := conflicts[0].TenantID, conflicts[0].ProviderID

	_, err := store.Update(ctx, r.store, tenantID, providerID, func(s *core.SyncState) error {
		for _, c := range conflicts {
			c.SyncBlocked = true
			s.Block(conflictKey(c))
			s.ConflictLog = append(s.ConflictLog, c)
		}
		s.LastCycle.ConflictsDetected += len(conflicts)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append conflict log: %w", err)
	}

	for _, c := range conflicts {
		entry := core.NewAuditEntry("system", "conflict.detected")
		entry.TenantID = c.TenantID
		entry.ProviderID = c.ProviderID
		entry.ResourceType = c.ResourceType
		entry.ResourceID = c.ResourceID
		entry.Outcome = "deferred"
		entry.Notes = fmt.Sprintf("%s conflict on %v; resource blocked pending resolution", c.ConflictType, c.ConflictingAttributes)
		if err := r.sink.Append(ctx, entry); err != nil {
			log.Printf("reconcile: audit append failed: %v", err)
		}
	}
	return nil
}

// defer_ blocks the resource and records the report for manual review.
func (r *Reconciler) defer_(ctx context.Context, report *core.DriftReport, note string) {
	key := identityKey(report)
	_, err := store.Update(ctx, r.store, report.TenantID, report.ProviderID, func(s *core.SyncState) error {
		s.Block(key)
		return nil
	})
	if err != nil {
		log.Printf("reconcile: block resource key=%s: %v", key, err)
	}
	report.ReconcileNotes = note
	r.audit(ctx, "system", "reconcile.manual_review", report, "deferred", note)
}

func (r *Reconciler) audit(ctx context.Context, actor, op string, report *core.DriftReport, outcome, notes string) {
	entry := core.NewAuditEntry(actor, op)
	entry.TenantID = report.TenantID
	entry.ProviderID = report.ProviderID
	entry.ResourceType = report.ResourceType
	entry.ResourceID = report.ResourceID
	entry.Outcome = outcome
	entry.Notes = notes
	if len(report.Changes) > 0 {
		entry.Before = report.Changes
	}
	if err := r.sink.Append(ctx, entry); err != nil {
		log.Printf("reconcile: audit append failed: %v", err)
	}
}

func (r *Reconciler) logError(ctx context.Context, tenantID, providerID, op string, cause error) {
	_, err := store.Update(ctx, r.store, tenantID, providerID, func(s *core.SyncState) error {
		s.AppendError(core.ErrorEntry{
			At:      time.Now().UTC(),
			Op:      op,
			Code:    core.CodeOf(cause),
			Message: cause.Error(),
		}, r.errorLogLimit)
		return nil
	})
	if err != nil {
		log.Printf("reconcile: error log append failed: %v", err)
	}
}

func markReconciled(report *core.DriftReport, action, actor, notes string) {
	now := time.Now().UTC()
	report.Reconciled = true
	report.ReconcileAction = action
	report.ReconciledBy = actor
	report.ReconcileNotes = notes
	report.ReconciledAt = &now
}

func identityKey(report *core.DriftReport) string {
	if report.ExternalID != "" {
		return report.ExternalID
	}
	return report.ResourceID
}

func conflictKey(c *core.ConflictReport) string {
	if c.ExternalID != "" {
		return c.ExternalID
	}
	return c.ResourceID
}
