// Package provider defines the contracts that all provider connectors must
// implement.
//
// Architecture:
//
//	Connector     - Full data-plane contract (user/group CRUD, paged lists,
//	                membership, entitlement mapping, health, capabilities)
//	SourceWriter  - Mutation contract toward the authoritative source,
//	                required only for target-to-source auto apply
//
// Connectors register factories with the global Registry from init(), and
// are instantiated per (tenant, provider) pair from configuration.
package provider

import (
	"context"

	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/core"
)

// Connector is the contract consumed by the polling service and the
// reconciler. No component outside a connector implementation may branch on
// a provider identifier; provider differences are expressed through
// Capabilities and health probes only.
type Connector interface {
	// ID returns the template identifier (e.g., "http.scim", "memory").
	ID() string

	// CheckHealth probes connectivity. An unhealthy result short-circuits
	// the poll cycle before any data call.
	CheckHealth(ctx context.Context) (core.HealthStatus, error)

	// GetCapabilities returns the set of supported operations.
	GetCapabilities() *Capabilities

	// --- Users ---

	CreateUser(ctx context.Context, u *core.User) (*core.User, error)
	GetUser(ctx context.Context, id string) (*core.User, error)
	UpdateUser(ctx context.Context, u *core.User) (*core.User, error)
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context, opts ListOptions) (*UserPage, error)

	// --- Groups ---

	CreateGroup(ctx context.Context, g *core.Group) (*core.Group, error)
	GetGroup(ctx context.Context, id string) (*core.Group, error)
	UpdateGroup(ctx context.Context, g *core.Group) (*core.Group, error)
	DeleteGroup(ctx context.Context, id string) error
	ListGroups(ctx context.Context, opts ListOptions) (*GroupPage, error)

	// --- Membership ---

	AddUserToGroup(ctx context.Context, groupID, userID string) error
	RemoveUserFromGroup(ctx context.Context, groupID, userID string) error
	GetGroupMembers(ctx context.Context, groupID string) ([]string, error)

	// --- Entitlements ---

	MapGroupToEntitlement(ctx context.Context, groupID, entitlementID string) error
	MapEntitlementToGroup(ctx context.Context, entitlementID string) (*core.Entitlement, error)

	// Close releases any resources held by the connector.
	Close() error
}

// SourceWriter mutates the authoritative source. It is the contract point
// for target-to-source auto apply; when no implementation is wired, the
// reconciler degrades those actions to manual review.
type SourceWriter interface {
	CreateUser(ctx context.Context, u *core.User) (*core.User, error)
	UpdateUser(ctx context.Context, u *core.User) (*core.User, error)
	DeleteUser(ctx context.Context, id string) error
	CreateGroup(ctx context.Context, g *core.Group) (*core.Group, error)
	UpdateGroup(ctx context.Context, g *core.Group) (*core.Group, error)
	DeleteGroup(ctx context.Context, id string) error
}

// ListOptions selects one page of a list call. Cursor takes precedence over
// StartIndex when the connector supports it.
type ListOptions struct {
	StartIndex int    // 1-based offset, SCIM style
	Count      int    // page size; 0 means connector default
	Cursor     string // opaque continuation token
}

// UserPage is one page of a user listing with the provider-declared total.
type UserPage struct {
	Users        []*core.User
	TotalResults int
	NextCursor   string
}

// GroupPage is one page of a group listing with the provider-declared total.
type GroupPage struct {
	Groups       []*core.Group
	TotalResults int
	NextCursor   string
}
