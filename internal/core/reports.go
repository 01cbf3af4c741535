package core

import (
	"time"

	"github.com/google/uuid"
)

// DriftType classifies a unilateral divergence.
type DriftType string

const (
	DriftAdded              DriftType = "added"
	DriftDeleted            DriftType = "deleted"
	DriftModified           DriftType = "modified"
	DriftAttributeMismatch  DriftType = "attribute_mismatch"
	DriftMembershipMismatch DriftType = "membership_mismatch"
)

// Severity ranks how urgent a drift report is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ConflictType classifies a both-sides-changed divergence.
type ConflictType string

const (
	ConflictDualModification ConflictType = "dual_modification"
	ConflictDeleteModify     ConflictType = "delete_modify"
	ConflictUniqueness       ConflictType = "uniqueness_violation"
	ConflictTransformation   ConflictType = "transformation_conflict"
)

// ResolutionChoice is an explicit conflict resolution selection.
type ResolutionChoice string

const (
	ResolveUseSourceValue   ResolutionChoice = "use_source_value"
	ResolveUseProviderValue ResolutionChoice = "use_provider_value"
	ResolveUseMostRecent    ResolutionChoice = "use_most_recent"
	ResolveMergeValues      ResolutionChoice = "merge_values"
	ResolveIgnore           ResolutionChoice = "ignore"
	ResolveCustom           ResolutionChoice = "custom"
)

// AttributeChange is one attribute's before/after pair.
type AttributeChange struct {
	Attribute string `json:"attribute"`
	Before    any    `json:"before,omitempty"`
	After     any    `json:"after,omitempty"`
}

// MembershipDelta lists members added to and removed from a group.
type MembershipDelta struct {
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// DriftReport records one detected divergence for one resource. Reports are
// created by the change detector, mutated only by the reconciler (marking
// reconciled), and appended to the pair's drift log for audit.
type DriftReport struct {
	ID           string       `json:"id"`
	TenantID     string       `json:"tenantId"`
	ProviderID   string       `json:"providerId"`
	ObservedAt   time.Time    `json:"observedAt"`
	DriftType    DriftType    `json:"driftType"`
	ResourceType ResourceType `json:"resourceType"`
	ResourceID   string       `json:"resourceId"`
	ExternalID   string       `json:"externalId,omitempty"`
	Severity     Severity     `json:"severity"`

	Changes    []AttributeChange `json:"changes,omitempty"`
	Membership *MembershipDelta  `json:"membership,omitempty"`

	Reconciled      bool       `json:"reconciled"`
	ReconcileAction string     `json:"reconcileAction,omitempty"`
	ReconciledBy    string     `json:"reconciledBy,omitempty"`
	ReconcileNotes  string     `json:"reconcileNotes,omitempty"`
	ReconciledAt    *time.Time `json:"reconciledAt,omitempty"`
}

// NewDriftReport allocates a report with id and timestamp filled in.
func NewDriftReport(tenantID, providerID string, dt DriftType, rt ResourceType, resourceID, externalID string) *DriftReport {
	return &DriftReport{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		ProviderID:   providerID,
		ObservedAt:   time.Now().UTC(),
		DriftType:    dt,
		ResourceType: rt,
		ResourceID:   resourceID,
		ExternalID:   externalID,
	}
}

// ChangeRecord describes one side's observed change of one resource since
// the last sync. It is the input to conflict detection.
type ChangeRecord struct {
	ResourceType ResourceType      `json:"resourceType"`
	ResourceID   string            `json:"resourceId"`
	ExternalID   string            `json:"externalId,omitempty"`
	ChangeType   DriftType         `json:"changeType"` // added, modified, deleted
	ChangedAt    time.Time         `json:"changedAt"`
	Attributes   []AttributeChange `json:"attributes,omitempty"`
}

// IdentityKey returns the conflict-matching key for the record.
func (c *ChangeRecord) IdentityKey() string {
	if c.ExternalID != "" {
		return c.ExternalID
	}
	return c.ResourceID
}

// AttributeNames returns the set of changed attribute names.
func (c *ChangeRecord) AttributeNames() []string {
	names := make([]string, 0, len(c.Attributes))
	for _, a := range c.Attributes {
		names = append(names, a.Attribute)
	}
	return names
}

// ConflictReport records a resource changed on both sides since last sync.
// It is resolved only through an explicit reconciler/operator action.
type ConflictReport struct {
	ID           string       `json:"id"`
	TenantID     string       `json:"tenantId"`
	ProviderID   string       `json:"providerId"`
	DetectedAt   time.Time    `json:"detectedAt"`
	ConflictType ConflictType `json:"conflictType"`
	ResourceType ResourceType `json:"resourceType"`
	ResourceID   string       `json:"resourceId"`
	ExternalID   string       `json:"externalId,omitempty"`

	SourceChange   *ChangeRecord `json:"sourceChange,omitempty"`
	ProviderChange *ChangeRecord `json:"providerChange,omitempty"`

	ConflictingAttributes []string         `json:"conflictingAttributes,omitempty"`
	SuggestedResolution   ResolutionChoice `json:"suggestedResolution,omitempty"`
	Resolution            ResolutionChoice `json:"resolution,omitempty"`
	ResolutionNotes       string           `json:"resolutionNotes,omitempty"`
	Resolved              bool             `json:"resolved"`
	SyncBlocked           bool             `json:"syncBlocked"`
	EscalationCount       int              `json:"escalationCount"`
}

// NewConflictReport allocates a conflict report with id and timestamp set.
func NewConflictReport(tenantID, providerID string, ct ConflictType, rt ResourceType, resourceID, externalID string) *ConflictReport {
	return &ConflictReport{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		ProviderID:   providerID,
		DetectedAt:   time.Now().UTC(),
		ConflictType: ct,
		ResourceType: rt,
		ResourceID:   resourceID,
		ExternalID:   externalID,
	}
}

// AuditEntry is one immutable audit record. Entries are appended to a sink
// and never read back by the engine itself.
type AuditEntry struct {
	ID           string       `json:"id"`
	At           time.Time    `json:"at"`
	Actor        string       `json:"actor"`
	Operation    string       `json:"operation"`
	TenantID     string       `json:"tenantId,omitempty"`
	ProviderID   string       `json:"providerId,omitempty"`
	ResourceType ResourceType `json:"resourceType,omitempty"`
	ResourceID   string       `json:"resourceId,omitempty"`
	Before       any          `json:"before,omitempty"`
	After        any          `json:"after,omitempty"`
	Outcome      string       `json:"outcome"` // "success", "failed", "deferred"
	Notes        string       `json:"notes,omitempty"`
}

// NewAuditEntry allocates an audit entry stamped now.
func NewAuditEntry(actor, operation string) *AuditEntry {
	return &AuditEntry{
		ID:        uuid.NewString(),
		At:        time.Now().UTC(),
		Actor:     actor,
		Operation: operation,
	}
}
