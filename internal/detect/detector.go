// Package detect compares state snapshots and divergent change-sets to
// produce drift and conflict reports. It performs no I/O; identity is
// external id with internal id as fallback, volatile metadata is excluded,
// and multi-valued attributes compare as sets.
package detect

import (
	"fmt"
	"sort"

	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/core"
)

// DetectChanges diffs two time-ordered snapshots of the same system and
// returns one drift report per diverged resource. Group membership
// differences are reported as an independent membership-mismatch report.
func DetectChanges(prev, curr *core.Snapshot) []*core.DriftReport {
	return diffSnapshots(prev, curr, core.DriftModified)
}

// DetectMismatch diffs two live systems against each other. It is the same
// structural walk as DetectChanges but both-present divergence is reported
// as an attribute mismatch rather than a modification.
func DetectMismatch(a, b *core.Snapshot) []*core.DriftReport {
	return diffSnapshots(a, b, core.DriftAttributeMismatch)
}

func diffSnapshots(prev, curr *core.Snapshot, bothKind core.DriftType) []*core.DriftReport {
	tenantID, providerID := pairOf(prev, curr)
	var reports []*core.DriftReport

	// Users.
	for _, key := range sortedUserKeys(curr) {
		u := curr.Users[key]
		old, ok := prev.Users[key]
		if !ok {
			r := core.NewDriftReport(tenantID, providerID, core.DriftAdded, core.ResourceTypeUser, u.ID, u.ExternalID)
			r.Severity = core.SeverityLow
			reports = append(reports, r)
			continue
		}
		if changes := diffUserAttributes(old, u); len(changes) > 0 {
			r := core.NewDriftReport(tenantID, providerID, bothKind, core.ResourceTypeUser, u.ID, u.ExternalID)
			r.Changes = changes
			r.Severity = modifiedSeverity(changes)
			reports = append(reports, r)
		}
	}
	for _, key := range sortedUserKeys(prev) {
		if _, ok := curr.Users[key]; ok {
			continue
		}
		old := prev.Users[key]
		r := core.NewDriftReport(tenantID, providerID, core.DriftDeleted, core.ResourceTypeUser, old.ID, old.ExternalID)
		r.Severity = core.SeverityHigh
		reports = append(reports, r)
	}

	// Groups.
	for _, key := range sortedGroupKeys(curr) {
		g := curr.Groups[key]
		old, ok := prev.Groups[key]
		if !ok {
			r := core.NewDriftReport(tenantID, providerID, core.DriftAdded, core.ResourceTypeGroup, g.ID, g.ExternalID)
			r.Severity = core.SeverityLow
			reports = append(reports, r)
			continue
		}
		if changes := diffGroupAttributes(old, g); len(changes) > 0 {
			r := core.NewDriftReport(tenantID, providerID, bothKind, core.ResourceTypeGroup, g.ID, g.ExternalID)
			r.Changes = changes
			r.Severity = modifiedSeverity(changes)
			reports = append(reports, r)
		}
		// Membership drift is independent of attribute drift on the same
		// group.
		if delta := diffMembers(old.Members, g.Members); delta != nil {
			r := core.NewDriftReport(tenantID, providerID, core.DriftMembershipMismatch, core.ResourceTypeGroup, g.ID, g.ExternalID)
			r.Membership = delta
			r.Severity = core.SeverityMedium
			reports = append(reports, r)
		}
	}
	for _, key := range sortedGroupKeys(prev) {
		if _, ok := curr.Groups[key]; ok {
			continue
		}
		old := prev.Groups[key]
		r := core.NewDriftReport(tenantID, providerID, core.DriftDeleted, core.ResourceTypeGroup, old.ID, old.ExternalID)
		r.Severity = core.SeverityHigh
		reports = append(reports, r)
	}

	return reports
}

func pairOf(a, b *core.Snapshot) (string, string) {
	if b != nil && (b.TenantID != "" || b.ProviderID != "") {
		return b.TenantID, b.ProviderID
	}
	if a != nil {
		return a.TenantID, a.ProviderID
	}
	return "", ""
}

// identityAttributes escalate severity when they drift.
var identityAttributes = map[string]bool{
	"active":      true,
	"userName":    true,
	"displayName": true,
}

func modifiedSeverity(changes []core.AttributeChange) core.Severity {
	for _, c := range changes {
		if identityAttributes[c.Attribute] {
			return core.SeverityHigh
		}
	}
	return core.SeverityMedium
}

func diffUserAttributes(old, curr *core.User) []core.AttributeChange {
	var changes []core.AttributeChange
	appendScalar(&changes, "userName", old.UserName, curr.UserName)
	appendScalar(&changes, "displayName", old.DisplayName, curr.DisplayName)
	appendScalar(&changes, "email", old.Email, curr.Email)
	if old.Active != curr.Active {
		changes = append(changes, core.AttributeChange{Attribute: "active", Before: old.Active, After: curr.Active})
	}
	changes = append(changes, diffAttributeMaps(old.Attributes, curr.Attributes)...)
	return changes
}

func diffGroupAttributes(old, curr *core.Group) []core.AttributeChange {
	var changes []core.AttributeChange
	appendScalar(&changes, "displayName", old.DisplayName, curr.DisplayName)
	changes = append(changes, diffAttributeMaps(old.Attributes, curr.Attributes)...)
	return changes
}

func appendScalar(changes *[]core.AttributeChange, name, before, after string) {
	if before != after {
		*changes = append(*changes, core.AttributeChange{Attribute: name, Before: before, After: after})
	}
}

// diffAttributeMaps deep-compares extension attributes. Multi-valued
// attributes are compared as sets so reordering alone is never drift.
func diffAttributeMaps(old, curr map[string]any) []core.AttributeChange {
	var changes []core.AttributeChange

	names := make(map[string]bool, len(old)+len(curr))
	for k := range old {
		names[k] = true
	}
	for k := range curr {
		names[k] = true
	}
	sorted := make([]string, 0, len(names))
	for k := range names {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		before, inOld := old[name]
		after, inCurr := curr[name]
		switch {
		case inOld && !inCurr:
			changes = append(changes, core.AttributeChange{Attribute: name, Before: before})
		case !inOld && inCurr:
			changes = append(changes, core.AttributeChange{Attribute: name, After: after})
		case !valuesEqual(before, after):
			changes = append(changes, core.AttributeChange{Attribute: name, Before: before, After: after})
		}
	}
	return changes
}

// valuesEqual compares attribute values; slices compare as unordered sets.
func valuesEqual(a, b any) bool {
	as, aok := toSet(a)
	bs, bok := toSet(b)
	if aok != bok {
		return false
	}
	if aok {
		if len(as) != len(bs) {
			return false
		}
		for v := range as {
			if !bs[v] {
				return false
			}
		}
		return true
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toSet(v any) (map[string]bool, bool) {
	switch vals := v.(type) {
	case []string:
		set := make(map[string]bool, len(vals))
		for _, s := range vals {
			set[s] = true
		}
		return set, true
	case []any:
		set := make(map[string]bool, len(vals))
		for _, s := range vals {
			set[fmt.Sprint(s)] = true
		}
		return set, true
	}
	return nil, false
}

// diffMembers returns the added/removed member sets, or nil when equal.
func diffMembers(old, curr []string) *core.MembershipDelta {
	oldSet := make(map[string]bool, len(old))
	for _, m := range old {
		oldSet[m] = true
	}
	currSet := make(map[string]bool, len(curr))
	for _, m := range curr {
		currSet[m] = true
	}

	var delta core.MembershipDelta
	for m := range currSet {
		if !oldSet[m] {
			delta.Added = append(delta.Added, m)
		}
	}
	for m := range oldSet {
		if !currSet[m] {
			delta.Removed = append(delta.Removed, m)
		}
	}
	if len(delta.Added) == 0 && len(delta.Removed) == 0 {
		return nil
	}
	sort.Strings(delta.Added)
	sort.Strings(delta.Removed)
	return &delta
}

func sortedUserKeys(s *core.Snapshot) []string {
	keys := make([]string, 0, len(s.Users))
	for k := range s.Users {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedGroupKeys(s *core.Snapshot) []string {
	keys := make([]string, 0, len(s.Groups))
	for k := range s.Groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
