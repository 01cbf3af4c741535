package reconcile

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/core"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/provider"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/store"
)

// Decision is an operator's explicit resolution for a pending drift or
// conflict report.
type Decision struct {
	TenantID   string
	ProviderID string
	ReportID   string

	Resolution core.ResolutionChoice

	// CustomValues supplies attribute values for the custom resolution.
	CustomValues map[string]any

	// DirectionOverride applies this one decision under a direction other
	// than the pair's active one. Optional.
	DirectionOverride core.SyncDirection

	Actor string
	Notes string
}

// ApplyDecision resolves a pending report. Drift decisions route through
// the auto-apply code path under the decided direction; conflict decisions
// apply the selected resolution. Either way the resource's sync block is
// cleared and the outcome is audited.
func (r *Reconciler) ApplyDecision(ctx context.Context, conn provider.Connector, baseline *core.Snapshot, d Decision) error {
	state, err := r.store.GetSyncState(ctx, d.TenantID, d.ProviderID)
	if err != nil {
		return err
	}

	dir := state.Direction
	if d.DirectionOverride != "" {
		dir = d.DirectionOverride
	}
	if dir == "" {
		dir = core.DirectionSourceToTarget
	}

	if drift := findDrift(state, d.ReportID); drift != nil {
		return r.decideDrift(ctx, conn, dir, baseline, state, drift, d)
	}
	if conflict := findConflict(state, d.ReportID); conflict != nil {
		return r.decideConflict(ctx, conn, dir, conflict, d)
	}
	return core.Errorf(core.CodeNotFound, false, "no pending report %s for pair %s", d.ReportID, core.PairKey(d.TenantID, d.ProviderID))
}

func (r *Reconciler) decideDrift(ctx context.Context, conn provider.Connector, dir core.SyncDirection, baseline *core.Snapshot, state *core.SyncState, drift *core.DriftReport, d Decision) error {
	if d.Resolution == core.ResolveIgnore {
		return r.finishDrift(ctx, drift, d, ActionIgnoredByOperator, "operator chose to ignore the drift")
	}

	if dir == core.DirectionTargetToSource && r.source == nil {
		return core.Errorf(core.CodeProviderPermanent, false,
			"target-to-source apply requires a source-side connector")
	}
	if err := r.autoApply(ctx, conn, dir, baseline, drift); err != nil {
		r.audit(ctx, d.Actor, "reconcile.decision", drift, "failed", err.Error())
		return err
	}
	notes := d.Notes
	if notes == "" {
		notes = drift.ReconcileNotes
	}
	return r.finishDrift(ctx, drift, d, drift.ReconcileAction, notes)
}

// finishDrift clears the block and persists the reconciled report.
func (r *Reconciler) finishDrift(ctx context.Context, drift *core.DriftReport, d Decision, action, notes string) error {
	markReconciled(drift, action, d.Actor, notes)
	key := identityKey(drift)
	_, err := store.Update(ctx, r.store, d.TenantID, d.ProviderID, func(s *core.SyncState) error {
		s.Unblock(key)
		if stored := findDrift(s, drift.ID); stored != nil {
			*stored = *drift
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.audit(ctx, d.Actor, "reconcile.decision", drift, "success", notes)
	return nil
}

func (r *Reconciler) decideConflict(ctx context.Context, conn provider.Connector, dir core.SyncDirection, conflict *core.ConflictReport, d Decision) error {
	resolution := d.Resolution
	if resolution == core.ResolveUseMostRecent {
		resolution = mostRecentSide(conflict)
	}

	var applyErr error
	switch resolution {
	case core.ResolveIgnore:
		// Recorded, unblocked, nothing mutated.

	case core.ResolveUseSourceValue:
		applyErr = r.pushAttributes(ctx, conn, conflict, afterValues(conflict.SourceChange))

	case core.ResolveUseProviderValue:
		applyErr = r.pushToSource(ctx, conn, conflict)

	case core.ResolveMergeValues:
		merged, err := mergeMultiValued(conflict)
		if err != nil {
			return err
		}
		applyErr = r.pushAttributes(ctx, conn, conflict, merged)

	case core.ResolveCustom:
		if len(d.CustomValues) == 0 {
			return core.Errorf(core.CodeProviderPermanent, false, "custom resolution requires values")
		}
		applyErr = r.pushAttributes(ctx, conn, conflict, d.CustomValues)

	default:
		return core.Errorf(core.CodeProviderPermanent, false, "unknown resolution %q", d.Resolution)
	}
	if applyErr != nil {
		conflict.EscalationCount++
		r.auditConflict(ctx, d.Actor, conflict, "failed", applyErr.Error())
		return applyErr
	}

	conflict.Resolved = true
	conflict.SyncBlocked = false
	conflict.Resolution = d.Resolution
	conflict.ResolutionNotes = d.Notes

	key := conflictKey(conflict)
	_, err := store.Update(ctx, r.store, d.TenantID, d.ProviderID, func(s *core.SyncState) error {
		s.Unblock(key)
		if stored := findConflict(s, conflict.ID); stored != nil {
			*stored = *conflict
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.auditConflict(ctx, d.Actor, conflict, "success", d.Notes)
	return nil
}

// pushAttributes writes the winning attribute values to the provider.
func (r *Reconciler) pushAttributes(ctx context.Context, conn provider.Connector, conflict *core.ConflictReport, values map[string]any) error {
	if len(values) == 0 {
		return nil
	}
	if conflict.ResourceType == core.ResourceTypeUser {
		u, err := conn.GetUser(ctx, conflict.ResourceID)
		if err != nil {
			return err
		}
		for name, v := range values {
			setUserAttribute(u, name, v)
		}
		_, err = conn.UpdateUser(ctx, u)
		return err
	}
	g, err := conn.GetGroup(ctx, conflict.ResourceID)
	if err != nil {
		return err
	}
	for name, v := range values {
		setGroupAttribute(g, name, v)
	}
	_, err = conn.UpdateGroup(ctx, g)
	return err
}

// pushToSource mirrors the provider's current resource into the source.
func (r *Reconciler) pushToSource(ctx context.Context, conn provider.Connector, conflict *core.ConflictReport) error {
	if r.source == nil {
		return core.Errorf(core.CodeProviderPermanent, false,
			"use_provider_value requires a source-side connector")
	}
	if conflict.ResourceType == core.ResourceTypeUser {
		u, err := conn.GetUser(ctx, conflict.ResourceID)
		if err != nil {
			return err
		}
		_, err = r.source.UpdateUser(ctx, u)
		return err
	}
	g, err := conn.GetGroup(ctx, conflict.ResourceID)
	if err != nil {
		return err
	}
	_, err = r.source.UpdateGroup(ctx, g)
	return err
}

func (r *Reconciler) auditConflict(ctx context.Context, actor string, c *core.ConflictReport, outcome, notes string) {
	entry := core.NewAuditEntry(actor, "conflict.resolve")
	entry.TenantID = c.TenantID
	entry.ProviderID = c.ProviderID
	entry.ResourceType = c.ResourceType
	entry.ResourceID = c.ResourceID
	entry.Before = c.ConflictingAttributes
	entry.After = c.Resolution
	entry.Outcome = outcome
	entry.Notes = notes
	if err := r.sink.Append(ctx, entry); err != nil {
		log.Printf("reconcile: audit append failed: %v", err)
	}
}

// mostRecentSide resolves use_most_recent by change timestamp.
func mostRecentSide(c *core.ConflictReport) core.ResolutionChoice {
	var srcAt, provAt time.Time
	if c.SourceChange != nil {
		srcAt = c.SourceChange.ChangedAt
	}
	if c.ProviderChange != nil {
		provAt = c.ProviderChange.ChangedAt
	}
	if provAt.After(srcAt) {
		return core.ResolveUseProviderValue
	}
	return core.ResolveUseSourceValue
}

// afterValues extracts the side's post-change attribute values, restricted
// to the conflicting set when known.
func afterValues(change *core.ChangeRecord) map[string]any {
	if change == nil {
		return nil
	}
	out := make(map[string]any, len(change.Attributes))
	for _, a := range change.Attributes {
		out[a.Attribute] = a.After
	}
	return out
}

// mergeMultiValued unions both sides' multi-valued attribute values.
// Scalar attributes cannot be merged.
func mergeMultiValued(c *core.ConflictReport) (map[string]any, error) {
	src := afterValues(c.SourceChange)
	prov := afterValues(c.ProviderChange)
	out := make(map[string]any)
	for _, name := range c.ConflictingAttributes {
		merged, ok := unionValues(src[name], prov[name])
		if !ok {
			return nil, core.Errorf(core.CodeProviderPermanent, false,
				"attribute %s is not multi-valued; merge_values cannot apply", name)
		}
		out[name] = merged
	}
	return out, nil
}

func unionValues(a, b any) ([]string, bool) {
	as, aok := toStrings(a)
	bs, bok := toStrings(b)
	if !aok || !bok {
		return nil, false
	}
	seen := make(map[string]bool)
	var out []string
	for _, v := range append(as, bs...) {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out, true
}

func toStrings(v any) ([]string, bool) {
	switch vals := v.(type) {
	case []string:
		return vals, true
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			out = append(out, fmt.Sprint(item))
		}
		return out, true
	}
	return nil, false
}

func setUserAttribute(u *core.User, name string, v any) {
	switch name {
	case "userName":
		u.UserName = fmt.Sprint(v)
	case "displayName":
		u.DisplayName = fmt.Sprint(v)
	case "email":
		u.Email = fmt.Sprint(v)
	case "active":
		b, _ := v.(bool)
		u.Active = b
	default:
		if u.Attributes == nil {
			u.Attributes = make(map[string]any)
		}
		u.Attributes[name] = v
	}
}

func setGroupAttribute(g *core.Group, name string, v any) {
	switch name {
	case "displayName":
		g.DisplayName = fmt.Sprint(v)
	default:
		if g.Attributes == nil {
			g.Attributes = make(map[string]any)
		}
		g.Attributes[name] = v
	}
}

func findDrift(state *core.SyncState, id string) *core.DriftReport {
	for _, d := range state.DriftLog {
		if d.ID == id {
			return d
		}
	}
	return nil
}

func findConflict(state *core.SyncState, id string) *core.ConflictReport {
	for _, c := range state.ConflictLog {
		if c.ID == id {
			return c
		}
	}
	return nil
}
