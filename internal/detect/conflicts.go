package detect

import (
	"sort"

	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/core"
)

// DetectConflicts intersects the change-sets independently observed on the
// source and provider sides since last sync. A resource changed on both
// sides with overlapping attribute names is a dual modification; a deletion
// on one side against a modification on the other is a delete/modify
// conflict. Disjoint attribute changes on the same resource never conflict.
func DetectConflicts(tenantID, providerID string, sourceChanges, providerChanges []*core.ChangeRecord) []*core.ConflictReport {
	bySource := make(map[string]*core.ChangeRecord, len(sourceChanges))
	for _, c := range sourceChanges {
		bySource[changeKey(c)] = c
	}

	var conflicts []*core.ConflictReport
	for _, pc := range providerChanges {
		sc, ok := bySource[changeKey(pc)]
		if !ok {
			continue
		}

		switch {
		case sc.ChangeType == core.DriftDeleted && pc.ChangeType == core.DriftDeleted:
			// Both sides converged on deletion; nothing to resolve.

		case sc.ChangeType == core.DriftDeleted || pc.ChangeType == core.DriftDeleted:
			c := newConflict(tenantID, providerID, core.ConflictDeleteModify, sc, pc)
			c.SuggestedResolution = core.ResolveUseMostRecent
			conflicts = append(conflicts, c)

		case sc.ChangeType == core.DriftAdded && pc.ChangeType == core.DriftAdded:
			// Same identity created independently on both sides.
			c := newConflict(tenantID, providerID, core.ConflictUniqueness, sc, pc)
			c.ConflictingAttributes = intersectAttributes(sc, pc)
			c.SuggestedResolution = core.ResolveUseMostRecent
			conflicts = append(conflicts, c)

		default:
			overlap := intersectAttributes(sc, pc)
			if len(overlap) == 0 {
				continue
			}
			c := newConflict(tenantID, providerID, core.ConflictDualModification, sc, pc)
			c.ConflictingAttributes = overlap
			c.SuggestedResolution = core.ResolveUseMostRecent
			conflicts = append(conflicts, c)
		}
	}
	return conflicts
}

func changeKey(c *core.ChangeRecord) string {
	return string(c.ResourceType) + ":" + c.IdentityKey()
}

func newConflict(tenantID, providerID string, ct core.ConflictType, sc, pc *core.ChangeRecord) *core.ConflictReport {
	c := core.NewConflictReport(tenantID, providerID, ct, sc.ResourceType, sc.ResourceID, sc.ExternalID)
	c.SourceChange = sc
	c.ProviderChange = pc
	return c
}

func intersectAttributes(a, b *core.ChangeRecord) []string {
	inA := make(map[string]bool, len(a.Attributes))
	for _, name := range a.AttributeNames() {
		inA[name] = true
	}
	var out []string
	seen := make(map[string]bool)
	for _, name := range b.AttributeNames() {
		if inA[name] && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
