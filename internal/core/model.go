package core

import (
	"time"
)

// ResourceType identifies the kind of synchronized resource.
type ResourceType string

const (
	ResourceTypeUser  ResourceType = "User"
	ResourceTypeGroup ResourceType = "Group"
)

// SyncDirection selects which side is authoritative for auto-applied changes.
type SyncDirection string

const (
	DirectionSourceToTarget SyncDirection = "source_to_target"
	DirectionTargetToSource SyncDirection = "target_to_source"
)

// HealthStatus is the result of a connector health probe.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// ResourceMeta carries volatile metadata that is excluded from drift
// comparison (timestamps and version tags churn on every write).
type ResourceMeta struct {
	Created      time.Time `json:"created,omitempty"`
	LastModified time.Time `json:"lastModified,omitempty"`
	Version      string    `json:"version,omitempty"`
}

// User is the engine's view of an identity on either side of a sync pair.
type User struct {
	ID          string         `json:"id"`
	ExternalID  string         `json:"externalId,omitempty"`
	UserName    string         `json:"userName"`
	DisplayName string         `json:"displayName,omitempty"`
	Email       string         `json:"email,omitempty"`
	Active      bool           `json:"active"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	Meta        ResourceMeta   `json:"meta,omitempty"`
}

// IdentityKey returns the key under which two records are considered the
// same resource: external id when present, internal id as fallback.
func (u *User) IdentityKey() string {
	if u.ExternalID != "" {
		return u.ExternalID
	}
	return u.ID
}

// Group is a flat membership set plus arbitrary attributes.
type Group struct {
	ID          string         `json:"id"`
	ExternalID  string         `json:"externalId,omitempty"`
	DisplayName string         `json:"displayName"`
	Members     []string       `json:"members,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	Meta        ResourceMeta   `json:"meta,omitempty"`
}

// IdentityKey returns the diffing key for the group.
func (g *Group) IdentityKey() string {
	if g.ExternalID != "" {
		return g.ExternalID
	}
	return g.ID
}

// Snapshot is the full observed state of one side of a pair at one instant.
type Snapshot struct {
	TenantID   string            `json:"tenantId"`
	ProviderID string            `json:"providerId"`
	TakenAt    time.Time         `json:"takenAt"`
	Users      map[string]*User  `json:"users"`
	Groups     map[string]*Group `json:"groups"`
}

// NewSnapshot returns an empty snapshot for the pair, stamped now.
func NewSnapshot(tenantID, providerID string) *Snapshot {
	return &Snapshot{
		TenantID:   tenantID,
		ProviderID: providerID,
		TakenAt:    time.Now().UTC(),
		Users:      make(map[string]*User),
		Groups:     make(map[string]*Group),
	}
}

// AddUser indexes a user under its identity key.
func (s *Snapshot) AddUser(u *User) {
	if u == nil {
		return
	}
	s.Users[u.IdentityKey()] = u
}

// AddGroup indexes a group under its identity key.
func (s *Snapshot) AddGroup(g *Group) {
	if g == nil {
		return
	}
	s.Groups[g.IdentityKey()] = g
}

// Entitlement is a provider-side access construct (role, org node,
// permission set) that groups map onto. MappedGroups supports reverse
// lookup during drift detection.
type Entitlement struct {
	ID           string   `json:"id"`
	ProviderID   string   `json:"providerId"`
	Kind         string   `json:"kind"` // "role", "org_node", "permission_set"
	Name         string   `json:"name"`
	MappedGroups []string `json:"mappedGroups,omitempty"`
}

// PairKey is the canonical key for a (tenant, provider) sync pair.
func PairKey(tenantID, providerID string) string {
	return tenantID + "/" + providerID
}
