// Package memory implements an in-process connector backed by maps. It is
// the development default and the test double for the polling and
// reconciliation paths: state is seedable, health and per-operation
// failures are scriptable, and every mutation is recorded.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/core"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/provider"
)

// TemplateID is the registry identifier for this connector.
const TemplateID = "memory"

func init() {
	provider.Register(TemplateID, func(cfg map[string]any) (provider.Connector, error) {
		return New(), nil
	})
}

// Connector is an in-memory Connector and SourceWriter.
type Connector struct {
	mu sync.Mutex

	users  map[string]*core.User
	groups map[string]*core.Group

	// entitlements is keyed by entitlement id.
	entitlements map[string]*core.Entitlement

	health core.HealthStatus

	// failures maps an operation name ("ListUsers", "CreateUser", ...) to
	// the error its next calls return. Clear with ClearFailure.
	failures map[string]error

	// Mutations records every write in call order, newest last, as
	// "op:id" strings.
	Mutations []string

	pageSize int
}

var _ provider.Connector = (*Connector)(nil)
var _ provider.SourceWriter = (*Connector)(nil)

// New returns an empty healthy connector.
func New() *Connector {
	return &Connector{
		users:        make(map[string]*core.User),
		groups:       make(map[string]*core.Group),
		entitlements: make(map[string]*core.Entitlement),
		health:       core.HealthHealthy,
		failures:     make(map[string]error),
		pageSize:     50,
	}
}

func (c *Connector) ID() string { return TemplateID }

// SetHealth scripts the next health probe result.
func (c *Connector) SetHealth(h core.HealthStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health = h
}

// FailWith makes every subsequent call of op return err.
func (c *Connector) FailWith(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[op] = err
}

// ClearFailure removes a scripted failure.
func (c *Connector) ClearFailure(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.failures, op)
}

// SeedUser inserts a user without recording a mutation.
func (c *Connector) SeedUser(u *core.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[u.ID] = cloneUser(u)
}

// SeedGroup inserts a group without recording a mutation.
func (c *Connector) SeedGroup(g *core.Group) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups[g.ID] = cloneGroup(g)
}

// SeedEntitlement inserts an entitlement without recording a mutation.
func (c *Connector) SeedEntitlement(e *core.Entitlement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entitlements[e.ID] = e
}

func (c *Connector) CheckHealth(ctx context.Context) (core.HealthStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failures["CheckHealth"]; err != nil {
		return core.HealthUnhealthy, err
	}
	return c.health, nil
}

func (c *Connector) GetCapabilities() *provider.Capabilities {
	return &provider.Capabilities{
		SupportsUsers:        true,
		SupportsGroups:       true,
		SupportsMembership:   true,
		SupportsEntitlements: true,
		SupportsWrite:        true,
		DefaultPageSize:      c.pageSize,
	}
}

func (c *Connector) fail(op string) error {
	return c.failures[op]
}

func (c *Connector) CreateUser(ctx context.Context, u *core.User) (*core.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("CreateUser"); err != nil {
		return nil, err
	}
	created := cloneUser(u)
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	if _, exists := c.users[created.ID]; exists {
		return nil, core.Errorf(core.CodeProviderPermanent, false, "user %s already exists", created.ID)
	}
	c.users[created.ID] = created
	c.Mutations = append(c.Mutations, "CreateUser:"+created.ID)
	return cloneUser(created), nil
}

func (c *Connector) GetUser(ctx context.Context, id string) (*core.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("GetUser"); err != nil {
		return nil, err
	}
	u, ok := c.users[id]
	if !ok {
		return nil, core.Errorf(core.CodeNotFound, false, "user %s not found", id)
	}
	return cloneUser(u), nil
}

func (c *Connector) UpdateUser(ctx context.Context, u *core.User) (*core.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("UpdateUser"); err != nil {
		return nil, err
	}
	if _, ok := c.users[u.ID]; !ok {
		return nil, core.Errorf(core.CodeNotFound, false, "user %s not found", u.ID)
	}
	c.users[u.ID] = cloneUser(u)
	c.Mutations = append(c.Mutations, "UpdateUser:"+u.ID)
	return cloneUser(u), nil
}

func (c *Connector) DeleteUser(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("DeleteUser"); err != nil {
		return err
	}
	if _, ok := c.users[id]; !ok {
		return core.Errorf(core.CodeNotFound, false, "user %s not found", id)
	}
	delete(c.users, id)
	c.Mutations = append(c.Mutations, "DeleteUser:"+id)
	return nil
}

func (c *Connector) ListUsers(ctx context.Context, opts provider.ListOptions) (*provider.UserPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("ListUsers"); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(c.users))
	for id := range c.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	start, count := pageWindow(opts, c.pageSize, len(ids))
	page := &provider.UserPage{TotalResults: len(ids)}
	for _, id := range ids[start : start+count] {
		page.Users = append(page.Users, cloneUser(c.users[id]))
	}
	return page, nil
}

func (c *Connector) CreateGroup(ctx context.Context, g *core.Group) (*core.Group, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("CreateGroup"); err != nil {
		return nil, err
	}
	created := cloneGroup(g)
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	if _, exists := c.groups[created.ID]; exists {
		return nil, core.Errorf(core.CodeProviderPermanent, false, "group %s already exists", created.ID)
	}
	c.groups[created.ID] = created
	c.Mutations = append(c.Mutations, "CreateGroup:"+created.ID)
	return cloneGroup(created), nil
}

func (c *Connector) GetGroup(ctx context.Context, id string) (*core.Group, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("GetGroup"); err != nil {
		return nil, err
	}
	g, ok := c.groups[id]
	if !ok {
		return nil, core.Errorf(core.CodeNotFound, false, "group %s not found", id)
	}
	return cloneGroup(g), nil
}

func (c *Connector) UpdateGroup(ctx context.Context, g *core.Group) (*core.Group, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("UpdateGroup"); err != nil {
		return nil, err
	}
	if _, ok := c.groups[g.ID]; !ok {
		return nil, core.Errorf(core.CodeNotFound, false, "group %s not found", g.ID)
	}
	c.groups[g.ID] = cloneGroup(g)
	c.Mutations = append(c.Mutations, "UpdateGroup:"+g.ID)
	return cloneGroup(g), nil
}

func (c *Connector) DeleteGroup(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("DeleteGroup"); err != nil {
		return err
	}
	if _, ok := c.groups[id]; !ok {
		return core.Errorf(core.CodeNotFound, false, "group %s not found", id)
	}
	delete(c.groups, id)
	c.Mutations = append(c.Mutations, "DeleteGroup:"+id)
	return nil
}

func (c *Connector) ListGroups(ctx context.Context, opts provider.ListOptions) (*provider.GroupPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("ListGroups"); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(c.groups))
	for id := range c.groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	start, count := pageWindow(opts, c.pageSize, len(ids))
	page := &provider.GroupPage{TotalResults: len(ids)}
	for _, id := range ids[start : start+count] {
		page.Groups = append(page.Groups, cloneGroup(c.groups[id]))
	}
	return page, nil
}

func (c *Connector) AddUserToGroup(ctx context.Context, groupID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("AddUserToGroup"); err != nil {
		return err
	}
	g, ok := c.groups[groupID]
	if !ok {
		return core.Errorf(core.CodeNotFound, false, "group %s not found", groupID)
	}
	for _, m := range g.Members {
		if m == userID {
			return nil
		}
	}
	g.Members = append(g.Members, userID)
	c.Mutations = append(c.Mutations, fmt.Sprintf("AddUserToGroup:%s/%s", groupID, userID))
	return nil
}

func (c *Connector) RemoveUserFromGroup(ctx context.Context, groupID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("RemoveUserFromGroup"); err != nil {
		return err
	}
	g, ok := c.groups[groupID]
	if !ok {
		return core.Errorf(core.CodeNotFound, false, "group %s not found", groupID)
	}
	kept := g.Members[:0]
	for _, m := range g.Members {
		if m != userID {
			kept = append(kept, m)
		}
	}
	g.Members = kept
	c.Mutations = append(c.Mutations, fmt.Sprintf("RemoveUserFromGroup:%s/%s", groupID, userID))
	return nil
}

func (c *Connector) GetGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("GetGroupMembers"); err != nil {
		return nil, err
	}
	g, ok := c.groups[groupID]
	if !ok {
		return nil, core.Errorf(core.CodeNotFound, false, "group %s not found", groupID)
	}
	out := make([]string, len(g.Members))
	copy(out, g.Members)
	return out, nil
}

func (c *Connector) MapGroupToEntitlement(ctx context.Context, groupID, entitlementID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("MapGroupToEntitlement"); err != nil {
		return err
	}
	e, ok := c.entitlements[entitlementID]
	if !ok {
		return core.Errorf(core.CodeNotFound, false, "entitlement %s not found", entitlementID)
	}
	for _, g := range e.MappedGroups {
		if g == groupID {
			return nil
		}
	}
	e.MappedGroups = append(e.MappedGroups, groupID)
	c.Mutations = append(c.Mutations, fmt.Sprintf("MapGroupToEntitlement:%s/%s", groupID, entitlementID))
	return nil
}

func (c *Connector) MapEntitlementToGroup(ctx context.Context, entitlementID string) (*core.Entitlement, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail("MapEntitlementToGroup"); err != nil {
		return nil, err
	}
	e, ok := c.entitlements[entitlementID]
	if !ok {
		return nil, core.Errorf(core.CodeNotFound, false, "entitlement %s not found", entitlementID)
	}
	out := *e
	out.MappedGroups = append([]string(nil), e.MappedGroups...)
	return &out, nil
}

func (c *Connector) Close() error { return nil }

// pageWindow resolves opts against the dataset size, returning the start
// offset and item count for the page.
func pageWindow(opts provider.ListOptions, defaultCount, total int) (int, int) {
	count := opts.Count
	if count <= 0 {
		count = defaultCount
	}
	start := opts.StartIndex - 1
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	if start+count > total {
		count = total - start
	}
	return start, count
}

func cloneUser(u *core.User) *core.User {
	out := *u
	if u.Attributes != nil {
		out.Attributes = make(map[string]any, len(u.Attributes))
		for k, v := range u.Attributes {
			out.Attributes[k] = v
		}
	}
	return &out
}

func cloneGroup(g *core.Group) *core.Group {
	out := *g
	out.Members = append([]string(nil), g.Members...)
	if g.Attributes != nil {
		out.Attributes = make(map[string]any, len(g.Attributes))
		for k, v := range g.Attributes {
			out.Attributes[k] = v
		}
	}
	return &out
}
