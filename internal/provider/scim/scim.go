// Package scim implements a generic connector for SCIM 2.0 REST services.
// Any provider exposing /Users and /Groups per RFC 7644 can be synchronized
// through it; provider-specific behavior is confined to connector
// configuration, never to engine code.
package scim

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/core"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/provider"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/provider/httpapi"
)

// TemplateID is the registry identifier for this connector.
const TemplateID = "http.scim"

const patchOpSchema = "urn:ietf:params:scim:api:messages:2.0:PatchOp"

func init() {
	provider.Register(TemplateID, func(cfg map[string]any) (provider.Connector, error) {
		return NewFromConfig(cfg)
	})
}

// Connector talks SCIM 2.0 over the shared rate-limited HTTP client.
type Connector struct {
	client   *httpapi.Client
	pageSize int
	readOnly bool
}

var _ provider.Connector = (*Connector)(nil)

// NewFromConfig builds a connector from a template config map. Recognized
// keys: baseUrl (required), token | username/password | apiKeyHeader/apiKey,
// pageSize, rateLimit, readOnly.
func NewFromConfig(cfg map[string]any) (*Connector, error) {
	baseURL, _ := cfg["baseUrl"].(string)
	if baseURL == "" {
		return nil, fmt.Errorf("scim connector: baseUrl is required")
	}

	cc := httpapi.DefaultClientConfig()
	cc.BaseURL = baseURL
	cc.Auth = authFromConfig(cfg)
	if rl, ok := numberValue(cfg["rateLimit"]); ok && rl > 0 {
		cc.RateLimit = rl
	}

	pageSize := 100
	if ps, ok := numberValue(cfg["pageSize"]); ok && ps > 0 {
		pageSize = int(ps)
	}
	readOnly, _ := cfg["readOnly"].(bool)

	return &Connector{
		client:   httpapi.NewClient(cc),
		pageSize: pageSize,
		readOnly: readOnly,
	}, nil
}

// New builds a connector around an existing client, for tests.
func New(client *httpapi.Client, pageSize int) *Connector {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Connector{client: client, pageSize: pageSize}
}

func authFromConfig(cfg map[string]any) httpapi.AuthConfig {
	if token, _ := cfg["token"].(string); token != "" {
		return httpapi.BearerToken{Token: token}
	}
	if user, _ := cfg["username"].(string); user != "" {
		pass, _ := cfg["password"].(string)
		return httpapi.BasicAuth{Username: user, Password: pass}
	}
	if header, _ := cfg["apiKeyHeader"].(string); header != "" {
		key, _ := cfg["apiKey"].(string)
		return httpapi.APIKey{Header: header, Key: key}
	}
	return httpapi.NoAuth{}
}

func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func (c *Connector) ID() string { return TemplateID }

// CheckHealth probes /ServiceProviderConfig. Every SCIM 2.0 service must
// serve it unauthenticated or under the same credentials as data calls.
func (c *Connector) CheckHealth(ctx context.Context) (core.HealthStatus, error) {
	resp, err := c.client.Get(ctx, "/ServiceProviderConfig", nil)
	if err != nil {
		if core.IsCode(err, core.CodeRateLimited) {
			return core.HealthDegraded, nil
		}
		return core.HealthUnhealthy, nil
	}
	if !resp.IsSuccess() {
		return core.HealthUnhealthy, nil
	}
	return core.HealthHealthy, nil
}

func (c *Connector) GetCapabilities() *provider.Capabilities {
	return &provider.Capabilities{
		SupportsUsers:      true,
		SupportsGroups:     true,
		SupportsMembership: true,
		SupportsWrite:      !c.readOnly,
		DefaultPageSize:    c.pageSize,
	}
}

func (c *Connector) CreateUser(ctx context.Context, u *core.User) (*core.User, error) {
	if err := c.writable(); err != nil {
		return nil, err
	}
	resp, err := c.client.Post(ctx, "/Users", toSCIMUser(u))
	if err != nil {
		return nil, err
	}
	return decodeUser(resp)
}

func (c *Connector) GetUser(ctx context.Context, id string) (*core.User, error) {
	resp, err := c.client.Get(ctx, "/Users/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	return decodeUser(resp)
}

func (c *Connector) UpdateUser(ctx context.Context, u *core.User) (*core.User, error) {
	if err := c.writable(); err != nil {
		return nil, err
	}
	resp, err := c.client.Put(ctx, "/Users/"+url.PathEscape(u.ID), toSCIMUser(u))
	if err != nil {
		return nil, err
	}
	return decodeUser(resp)
}

func (c *Connector) DeleteUser(ctx context.Context, id string) error {
	if err := c.writable(); err != nil {
		return err
	}
	_, err := c.client.Delete(ctx, "/Users/"+url.PathEscape(id))
	return err
}

func (c *Connector) ListUsers(ctx context.Context, opts provider.ListOptions) (*provider.UserPage, error) {
	resp, err := c.client.Get(ctx, "/Users", c.listQuery(opts))
	if err != nil {
		return nil, err
	}
	var list scimListResponse[scimUser]
	if err := resp.JSON(&list); err != nil {
		return nil, core.WrapError(core.CodeProviderPermanent, false, fmt.Errorf("decode user list: %w", err))
	}
	page := &provider.UserPage{TotalResults: list.TotalResults}
	for i := range list.Resources {
		page.Users = append(page.Users, list.Resources[i].toCore())
	}
	return page, nil
}

func (c *Connector) CreateGroup(ctx context.Context, g *core.Group) (*core.Group, error) {
	if err := c.writable(); err != nil {
		return nil, err
	}
	resp, err := c.client.Post(ctx, "/Groups", toSCIMGroup(g))
	if err != nil {
		return nil, err
	}
	return decodeGroup(resp)
}

func (c *Connector) GetGroup(ctx context.Context, id string) (*core.Group, error) {
	resp, err := c.client.Get(ctx, "/Groups/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	return decodeGroup(resp)
}

func (c *Connector) UpdateGroup(ctx context.Context, g *core.Group) (*core.Group, error) {
	if err := c.writable(); err != nil {
		return nil, err
	}
	resp, err := c.client.Put(ctx, "/Groups/"+url.PathEscape(g.ID), toSCIMGroup(g))
	if err != nil {
		return nil, err
	}
	return decodeGroup(resp)
}

func (c *Connector) DeleteGroup(ctx context.Context, id string) error {
	if err := c.writable(); err != nil {
		return err
	}
	_, err := c.client.Delete(ctx, "/Groups/"+url.PathEscape(id))
	return err
}

func (c *Connector) ListGroups(ctx context.Context, opts provider.ListOptions) (*provider.GroupPage, error) {
	resp, err := c.client.Get(ctx, "/Groups", c.listQuery(opts))
	if err != nil {
		return nil, err
	}
	var list scimListResponse[scimGroup]
	if err := resp.JSON(&list); err != nil {
		return nil, core.WrapError(core.CodeProviderPermanent, false, fmt.Errorf("decode group list: %w", err))
	}
	page := &provider.GroupPage{TotalResults: list.TotalResults}
	for i := range list.Resources {
		page.Groups = append(page.Groups, list.Resources[i].toCore())
	}
	return page, nil
}

func (c *Connector) AddUserToGroup(ctx context.Context, groupID, userID string) error {
	return c.patchMembers(ctx, groupID, "add", userID)
}

func (c *Connector) RemoveUserFromGroup(ctx context.Context, groupID, userID string) error {
	return c.patchMembers(ctx, groupID, "remove", userID)
}

func (c *Connector) patchMembers(ctx context.Context, groupID, op, userID string) error {
	if err := c.writable(); err != nil {
		return err
	}
	body := map[string]any{
		"schemas": []string{patchOpSchema},
		"Operations": []map[string]any{{
			"op":    op,
			"path":  "members",
			"value": []map[string]string{{"value": userID}},
		}},
	}
	_, err := c.client.Patch(ctx, "/Groups/"+url.PathEscape(groupID), body)
	return err
}

func (c *Connector) GetGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	g, err := c.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return g.Members, nil
}

// SCIM has no standard entitlement resource; providers expose roles and
// permission sets through proprietary extensions that need their own
// connector template.
func (c *Connector) MapGroupToEntitlement(ctx context.Context, groupID, entitlementID string) error {
	return core.Errorf(core.CodeProviderPermanent, false, "scim connector does not support entitlements")
}

func (c *Connector) MapEntitlementToGroup(ctx context.Context, entitlementID string) (*core.Entitlement, error) {
	return nil, core.Errorf(core.CodeProviderPermanent, false, "scim connector does not support entitlements")
}

func (c *Connector) Close() error { return nil }

func (c *Connector) writable() error {
	if c.readOnly {
		return core.Errorf(core.CodeProviderPermanent, false, "connector is configured read-only")
	}
	return nil
}

func (c *Connector) listQuery(opts provider.ListOptions) url.Values {
	q := url.Values{}
	count := opts.Count
	if count <= 0 {
		count = c.pageSize
	}
	q.Set("count", strconv.Itoa(count))
	start := opts.StartIndex
	if start <= 0 {
		start = 1
	}
	q.Set("startIndex", strconv.Itoa(start))
	return q
}

func decodeUser(resp *httpapi.Response) (*core.User, error) {
	var su scimUser
	if err := resp.JSON(&su); err != nil {
		return nil, core.WrapError(core.CodeProviderPermanent, false, fmt.Errorf("decode user: %w", err))
	}
	return su.toCore(), nil
}

func decodeGroup(resp *httpapi.Response) (*core.Group, error) {
	var sg scimGroup
	if err := resp.JSON(&sg); err != nil {
		return nil, core.WrapError(core.CodeProviderPermanent, false, fmt.Errorf("decode group: %w", err))
	}
	return sg.toCore(), nil
}
