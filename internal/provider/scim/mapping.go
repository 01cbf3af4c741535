package scim

import (
	"time"

	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/core"
)

const (
	userSchema  = "urn:ietf:params:scim:schemas:core:2.0:User"
	groupSchema = "urn:ietf:params:scim:schemas:core:2.0:Group"
)

type scimListResponse[T any] struct {
	TotalResults int `json:"totalResults"`
	StartIndex   int `json:"startIndex"`
	ItemsPerPage int `json:"itemsPerPage"`
	Resources    []T `json:"Resources"`
}

type scimMeta struct {
	Created      time.Time `json:"created,omitempty"`
	LastModified time.Time `json:"lastModified,omitempty"`
	Version      string    `json:"version,omitempty"`
}

type scimEmail struct {
	Value   string `json:"value"`
	Type    string `json:"type,omitempty"`
	Primary bool   `json:"primary,omitempty"`
}

type scimUser struct {
	Schemas     []string    `json:"schemas,omitempty"`
	ID          string      `json:"id,omitempty"`
	ExternalID  string      `json:"externalId,omitempty"`
	UserName    string      `json:"userName"`
	DisplayName string      `json:"displayName,omitempty"`
	Emails      []scimEmail `json:"emails,omitempty"`
	Active      bool        `json:"active"`
	Meta        *scimMeta   `json:"meta,omitempty"`
}

func (s *scimUser) toCore() *core.User {
	u := &core.User{
		ID:          s.ID,
		ExternalID:  s.ExternalID,
		UserName:    s.UserName,
		DisplayName: s.DisplayName,
		Active:      s.Active,
	}
	for _, e := range s.Emails {
		if e.Primary || u.Email == "" {
			u.Email = e.Value
		}
	}
	if s.Meta != nil {
		u.Meta = core.ResourceMeta{
			Created:      s.Meta.Created,
			LastModified: s.Meta.LastModified,
			Version:      s.Meta.Version,
		}
	}
	return u
}

func toSCIMUser(u *core.User) *scimUser {
	s := &scimUser{
		Schemas:     []string{userSchema},
		ID:          u.ID,
		ExternalID:  u.ExternalID,
		UserName:    u.UserName,
		DisplayName: u.DisplayName,
		Active:      u.Active,
	}
	if u.Email != "" {
		s.Emails = []scimEmail{{Value: u.Email, Primary: true}}
	}
	return s
}

type scimMember struct {
	Value   string `json:"value"`
	Display string `json:"display,omitempty"`
}

type scimGroup struct {
	Schemas     []string     `json:"schemas,omitempty"`
	ID          string       `json:"id,omitempty"`
	ExternalID  string       `json:"externalId,omitempty"`
	DisplayName string       `json:"displayName"`
	Members     []scimMember `json:"members,omitempty"`
	Meta        *scimMeta    `json:"meta,omitempty"`
}

func (s *scimGroup) toCore() *core.Group {
	g := &core.Group{
		ID:          s.ID,
		ExternalID:  s.ExternalID,
		DisplayName: s.DisplayName,
	}
	for _, m := range s.Members {
		g.Members = append(g.Members, m.Value)
	}
	if s.Meta != nil {
		g.Meta = core.ResourceMeta{
			Created:      s.Meta.Created,
			LastModified: s.Meta.LastModified,
			Version:      s.Meta.Version,
		}
	}
	return g
}

func toSCIMGroup(g *core.Group) *scimGroup {
	s := &scimGroup{
		Schemas:     []string{groupSchema},
		ID:          g.ID,
		ExternalID:  g.ExternalID,
		DisplayName: g.DisplayName,
	}
	for _, m := range g.Members {
		s.Members = append(s.Members, scimMember{Value: m})
	}
	return s
}
