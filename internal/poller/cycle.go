package poller

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/core"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/detect"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/provider"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/reconcile"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/store"
)

// runCycle executes one poll for the pair: health gate, paged fetch,
// checksum short-circuit, detect, reconcile, snapshot write, strictly in
// that order. Any error before the snapshot write aborts the cycle and
// leaves the previous snapshot intact.
func (p *Poller) runCycle(ctx context.Context, r *pairRunner) error {
	conn := r.cfg.Connector
	tenantID, providerID := r.cfg.TenantID, r.cfg.ProviderID
	key := core.PairKey(tenantID, providerID)

	// Health gate: no data calls against a connector that reports
	// unhealthy. The failure feeds the same backoff accounting as any
	// other cycle failure.
	health, err := conn.CheckHealth(ctx)
	if err != nil {
		return core.WrapError(core.CodeConnectorUnhealthy, true, err)
	}
	if health == core.HealthUnhealthy {
		return core.Errorf(core.CodeConnectorUnhealthy, true, "connector %s reported unhealthy", conn.ID())
	}

	current, note, err := p.fetchSnapshot(ctx, r)
	if err != nil {
		return err
	}

	sum := detect.SnapshotChecksum(current)
	if r.checksum != "" && sum == r.checksum {
		// Nothing changed since the last cycle; touch the sync timestamp
		// and stop.
		_, err := store.Update(ctx, p.opts.Store, tenantID, providerID, func(s *core.SyncState) error {
			s.LastSyncAt = time.Now().UTC()
			s.Status = core.SyncCompleted
			return nil
		})
		return err
	}

	status := core.SyncCompleted
	var stats core.SyncStats
	if r.baseline == nil {
		// First observation of this pair: record the snapshot as the
		// baseline, no drift to report yet.
		log.Printf("poller: pair=%s initial snapshot users=%d groups=%d", key, len(current.Users), len(current.Groups))
	} else {
		dir, err := p.opts.Direction.Get(ctx, tenantID, providerID)
		if err != nil {
			return fmt.Errorf("resolve direction: %w", err)
		}

		reports := detect.DetectChanges(r.baseline, current)
		if len(reports) > 0 {
			outcome, err := p.opts.Reconciler.ReconcileDrift(ctx, conn, dir, r.baseline, reports)
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			if outcome.Failed > 0 {
				status = core.SyncPartialFailure
			}
			stats = core.SyncStats{
				DriftDetected: len(reports),
				Applied:       outcome.Applied,
				Deferred:      outcome.Deferred,
				Failed:        outcome.Failed,
				Ignored:       outcome.Ignored,
				Skipped:       outcome.Skipped,
			}
			log.Printf("poller: pair=%s drift=%d applied=%d deferred=%d failed=%d ignored=%d skipped=%d",
				key, len(reports), outcome.Applied, outcome.Deferred, outcome.Failed, outcome.Ignored, outcome.Skipped)

			if foldAppliedCorrections(r.baseline, current, reports) {
				sum = detect.SnapshotChecksum(current)
			}
		}
	}

	_, err = store.Update(ctx, p.opts.Store, tenantID, providerID, func(s *core.SyncState) error {
		s.LastSyncAt = time.Now().UTC()
		s.SnapshotChecksum = sum
		s.UserCount = len(current.Users)
		s.GroupCount = len(current.Groups)
		s.Status = status
		s.LastCycle = stats
		return nil
	})
	if err != nil {
		return fmt.Errorf("write snapshot state: %w", err)
	}

	r.baseline = current
	r.checksum = sum

	if note != "" {
		entry := core.NewAuditEntry("system", "poll.cycle")
		entry.TenantID = tenantID
		entry.ProviderID = providerID
		entry.Outcome = "success"
		entry.Notes = note
		if err := p.opts.Sink.Append(ctx, entry); err != nil {
			log.Printf("poller: audit append failed: %v", err)
		}
	}
	return nil
}

// fetchSnapshot pulls the full user and group population, paging until the
// provider-declared total is reached. Capabilities gate each listing; the
// returned note documents anything skipped.
func (p *Poller) fetchSnapshot(ctx context.Context, r *pairRunner) (*core.Snapshot, string, error) {
	conn := r.cfg.Connector
	caps := conn.GetCapabilities()
	snap := core.NewSnapshot(r.cfg.TenantID, r.cfg.ProviderID)
	note := ""

	pageSize := caps.DefaultPageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	if caps.SupportsUsers {
		if err := p.fetchUsers(ctx, r, snap, pageSize); err != nil {
			return nil, "", fmt.Errorf("list users: %w", err)
		}
	} else {
		note = "connector does not support users; user listing skipped"
	}

	if caps.SupportsGroups {
		if err := p.fetchGroups(ctx, r, snap, pageSize); err != nil {
			return nil, "", fmt.Errorf("list groups: %w", err)
		}
	} else {
		if note != "" {
			note += "; "
		}
		note += "connector does not support groups; group listing skipped"
	}
	return snap, note, nil
}

func (p *Poller) fetchUsers(ctx context.Context, r *pairRunner, snap *core.Snapshot, pageSize int) error {
	conn := r.cfg.Connector
	caps := conn.GetCapabilities()

	opts := providerListOptions(caps.SupportsCursor, pageSize)
	for {
		page, err := conn.ListUsers(ctx, opts)
		if err != nil {
			return err
		}
		for _, u := range page.Users {
			snap.AddUser(u)
		}
		if done := advance(&opts, caps.SupportsCursor, page.NextCursor, len(page.Users), len(snap.Users), page.TotalResults); done {
			return nil
		}
	}
}

func (p *Poller) fetchGroups(ctx context.Context, r *pairRunner, snap *core.Snapshot, pageSize int) error {
	conn := r.cfg.Connector
	caps := conn.GetCapabilities()

	opts := providerListOptions(caps.SupportsCursor, pageSize)
	for {
		page, err := conn.ListGroups(ctx, opts)
		if err != nil {
			return err
		}
		for _, g := range page.Groups {
			snap.AddGroup(g)
		}
		if done := advance(&opts, caps.SupportsCursor, page.NextCursor, len(page.Groups), len(snap.Groups), page.TotalResults); done {
			return nil
		}
	}
}

// foldAppliedCorrections rewrites the freshly fetched snapshot so resources
// the reconciler just corrected carry their baseline form again. The fetch
// happened before the corrections ran, so without this fold the next cycle
// would classify the engine's own writes as inverse drift and revert them.
// Deferred, ignored, and failed reports keep their observed values. Reports
// true when anything changed, which obliges a checksum recompute.
func foldAppliedCorrections(baseline, current *core.Snapshot, reports []*core.DriftReport) bool {
	folded := false
	for _, rep := range reports {
		if !rep.Reconciled || !reconcile.CorrectedProvider(rep.ReconcileAction) {
			continue
		}
		key := rep.ExternalID
		if key == "" {
			key = rep.ResourceID
		}
		switch rep.DriftType {
		case core.DriftAdded:
			// The extraneous resource was deleted from the provider.
			if rep.ResourceType == core.ResourceTypeUser {
				delete(current.Users, key)
			} else {
				delete(current.Groups, key)
			}
			folded = true
		default:
			// The resource was rewritten to its baseline form.
			if rep.ResourceType == core.ResourceTypeUser {
				if u := baseline.Users[key]; u != nil {
					current.Users[key] = u
					folded = true
				}
			} else if g := baseline.Groups[key]; g != nil {
				current.Groups[key] = g
				folded = true
			}
		}
	}
	return folded
}

func providerListOptions(cursor bool, pageSize int) provider.ListOptions {
	o := provider.ListOptions{Count: pageSize}
	if !cursor {
		o.StartIndex = 1
	}
	return o
}

// advance moves opts to the next page. It reports done when the declared
// total is reached, the cursor is exhausted, or the provider returns an
// empty page (a guard against totals that never reconcile).
func advance(opts *provider.ListOptions, cursor bool, nextCursor string, pageLen, collected, total int) bool {
	if pageLen == 0 {
		return true
	}
	if total > 0 && collected >= total {
		return true
	}
	if cursor {
		if nextCursor == "" {
			return true
		}
		opts.Cursor = nextCursor
		return false
	}
	opts.StartIndex += pageLen
	return false
}
