package reconcile

import (
	"context"

	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/core"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/provider"
)

// Actions recorded on drift reports when a correction is applied.
const (
	ActionRecreatedOnProvider  = "recreated_on_provider"
	ActionRemovedFromProvider  = "removed_from_provider"
	ActionRevertedAttributes   = "reverted_attributes"
	ActionReconciledMembership = "reconciled_membership"
	ActionDeletedOnSource      = "deleted_on_source"
	ActionMirroredToSource     = "mirrored_to_source"
	ActionMirroredMembership   = "mirrored_membership_to_source"
	ActionIgnored              = "ignored"
	ActionIgnoredByOperator    = "ignored_by_operator"
)

// CorrectedProvider reports whether the action rewrote the provider back
// to its baseline form. The poller folds such corrections out of the next
// baseline snapshot so its own writes are not classified as fresh drift.
func CorrectedProvider(action string) bool {
	switch action {
	case ActionRecreatedOnProvider, ActionRemovedFromProvider,
		ActionRevertedAttributes, ActionReconciledMembership:
		return true
	}
	return false
}

// autoApply corrects one drifted resource. Under source-to-target the
// provider is rewritten to match the baseline (the source's last known
// state); under target-to-source the mirror action is issued against the
// source writer. Actions tolerate already-converged targets so applying
// the same report twice reaches the same terminal state.
func (r *Reconciler) autoApply(ctx context.Context, conn provider.Connector, dir core.SyncDirection, baseline *core.Snapshot, report *core.DriftReport) error {
	if dir == core.DirectionTargetToSource {
		return r.applyToSource(ctx, conn, baseline, report)
	}
	return r.applyToProvider(ctx, conn, baseline, report)
}

func (r *Reconciler) applyToProvider(ctx context.Context, conn provider.Connector, baseline *core.Snapshot, report *core.DriftReport) error {
	key := identityKey(report)

	// Drift logs outlive the process but baseline snapshots do not. After
	// a restart a correction that rebuilds from the baseline has nothing
	// to rebuild from until a poll cycle completes.
	if baseline == nil {
		switch report.DriftType {
		case core.DriftDeleted, core.DriftModified, core.DriftAttributeMismatch:
			return core.Errorf(core.CodeProviderPermanent, false,
				"no baseline snapshot held for pair %s; a poll cycle must complete before %s drift can be corrected",
				core.PairKey(report.TenantID, report.ProviderID), report.DriftType)
		}
	}

	switch report.DriftType {
	case core.DriftDeleted:
		// Provider lost a resource the source still has: recreate it from
		// the last synchronized state.
		if report.ResourceType == core.ResourceTypeUser {
			u := baseline.Users[key]
			if u == nil {
				return core.Errorf(core.CodeProviderPermanent, false, "no baseline user %s to recreate", key)
			}
			if _, err := conn.CreateUser(ctx, u); err != nil {
				if !core.IsCode(err, core.CodeProviderPermanent) {
					return err
				}
				// Already present again; converge by updating.
				if _, err := conn.UpdateUser(ctx, u); err != nil {
					return err
				}
			}
		} else {
			g := baseline.Groups[key]
			if g == nil {
				return core.Errorf(core.CodeProviderPermanent, false, "no baseline group %s to recreate", key)
			}
			if _, err := conn.CreateGroup(ctx, g); err != nil {
				if !core.IsCode(err, core.CodeProviderPermanent) {
					return err
				}
				if _, err := conn.UpdateGroup(ctx, g); err != nil {
					return err
				}
			}
		}
		markReconciled(report, ActionRecreatedOnProvider, "system", "recreated from last synchronized state")

	case core.DriftAdded:
		// Provider gained a resource the source never had: remove it.
		var err error
		if report.ResourceType == core.ResourceTypeUser {
			err = conn.DeleteUser(ctx, report.ResourceID)
		} else {
			err = conn.DeleteGroup(ctx, report.ResourceID)
		}
		if err != nil && !core.IsCode(err, core.CodeNotFound) {
			return err
		}
		markReconciled(report, ActionRemovedFromProvider, "system", "removed resource absent from source")

	case core.DriftModified, core.DriftAttributeMismatch:
		if report.ResourceType == core.ResourceTypeUser {
			u := baseline.Users[key]
			if u == nil {
				return core.Errorf(core.CodeProviderPermanent, false, "no baseline user %s to revert to", key)
			}
			if _, err := conn.UpdateUser(ctx, u); err != nil {
				return err
			}
		} else {
			g := baseline.Groups[key]
			if g == nil {
				return core.Errorf(core.CodeProviderPermanent, false, "no baseline group %s to revert to", key)
			}
			if _, err := conn.UpdateGroup(ctx, g); err != nil {
				return err
			}
		}
		markReconciled(report, ActionRevertedAttributes, "system", "reverted modified attributes to last synchronized values")

	case core.DriftMembershipMismatch:
		if report.Membership == nil {
			return core.Errorf(core.CodeProviderPermanent, false, "membership report %s carries no delta", report.ID)
		}
		// Invert the observed delta: members the provider gained are
		// removed, members it lost are added back.
		for _, member := range report.Membership.Added {
			if err := conn.RemoveUserFromGroup(ctx, report.ResourceID, member); err != nil && !core.IsCode(err, core.CodeNotFound) {
				return err
			}
		}
		for _, member := range report.Membership.Removed {
			if err := conn.AddUserToGroup(ctx, report.ResourceID, member); err != nil {
				return err
			}
		}
		markReconciled(report, ActionReconciledMembership, "system", "restored membership from added/removed diff")

	default:
		return core.Errorf(core.CodeProviderPermanent, false, "unknown drift type %q", report.DriftType)
	}
	return nil
}

// applyToSource mirrors the provider's observed state into the source.
func (r *Reconciler) applyToSource(ctx context.Context, conn provider.Connector, baseline *core.Snapshot, report *core.DriftReport) error {
	key := identityKey(report)

	switch report.DriftType {
	case core.DriftDeleted:
		var err error
		if report.ResourceType == core.ResourceTypeUser {
			err = r.source.DeleteUser(ctx, report.ResourceID)
		} else {
			err = r.source.DeleteGroup(ctx, report.ResourceID)
		}
		if err != nil && !core.IsCode(err, core.CodeNotFound) {
			return err
		}
		markReconciled(report, ActionDeletedOnSource, "system", "mirrored provider deletion to source")

	case core.DriftAdded, core.DriftModified, core.DriftAttributeMismatch:
		if report.ResourceType == core.ResourceTypeUser {
			u, err := conn.GetUser(ctx, report.ResourceID)
			if err != nil {
				return err
			}
			if report.DriftType == core.DriftAdded {
				if _, err := r.source.CreateUser(ctx, u); err != nil {
					return err
				}
			} else if _, err := r.source.UpdateUser(ctx, u); err != nil {
				return err
			}
		} else {
			g, err := conn.GetGroup(ctx, report.ResourceID)
			if err != nil {
				return err
			}
			if report.DriftType == core.DriftAdded {
				if _, err := r.source.CreateGroup(ctx, g); err != nil {
					return err
				}
			} else if _, err := r.source.UpdateGroup(ctx, g); err != nil {
				return err
			}
		}
		markReconciled(report, ActionMirroredToSource, "system", "mirrored provider change to source")

	case core.DriftMembershipMismatch:
		if report.Membership == nil {
			return core.Errorf(core.CodeProviderPermanent, false, "membership report %s carries no delta", report.ID)
		}
		if baseline == nil {
			return core.Errorf(core.CodeProviderPermanent, false,
				"no baseline snapshot held for pair %s; a poll cycle must complete before membership can be mirrored",
				core.PairKey(report.TenantID, report.ProviderID))
		}
		g := baseline.Groups[key]
		if g == nil {
			return core.Errorf(core.CodeProviderPermanent, false, "no baseline group %s for membership mirror", key)
		}
		updated := *g
		updated.Members = applyMembershipDelta(g.Members, report.Membership)
		if _, err := r.source.UpdateGroup(ctx, &updated); err != nil {
			return err
		}
		markReconciled(report, ActionMirroredMembership, "system", "mirrored provider membership to source")

	default:
		return core.Errorf(core.CodeProviderPermanent, false, "unknown drift type %q", report.DriftType)
	}
	return nil
}

// applyMembershipDelta produces the member list after the observed
// added/removed diff.
func applyMembershipDelta(members []string, delta *core.MembershipDelta) []string {
	removed := make(map[string]bool, len(delta.Removed))
	for _, m := range delta.Removed {
		removed[m] = true
	}
	out := make([]string, 0, len(members)+len(delta.Added))
	present := make(map[string]bool)
	for _, m := range members {
		if removed[m] {
			continue
		}
		out = append(out, m)
		present[m] = true
	}
	for _, m := range delta.Added {
		if !present[m] {
			out = append(out, m)
		}
	}
	return out
}
