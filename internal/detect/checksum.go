package detect

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/core"
)

// canonicalUser is the checksum rendering of a user: identity-keyed, no
// volatile metadata, map keys serialized in sorted order by encoding/json.
type canonicalUser struct {
	Key         string         `json:"key"`
	UserName    string         `json:"userName"`
	DisplayName string         `json:"displayName,omitempty"`
	Email       string         `json:"email,omitempty"`
	Active      bool           `json:"active"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

type canonicalGroup struct {
	Key         string         `json:"key"`
	DisplayName string         `json:"displayName"`
	Members     []string       `json:"members,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// SnapshotChecksum computes an order-independent content hash of a
// snapshot. Identical states always hash identically regardless of listing
// or member order, which lets the poller short-circuit a cycle when nothing
// changed.
func SnapshotChecksum(s *core.Snapshot) string {
	h := sha256.New()

	for _, key := range sortedUserKeys(s) {
		u := s.Users[key]
		cu := canonicalUser{
			Key:         key,
			UserName:    u.UserName,
			DisplayName: u.DisplayName,
			Email:       u.Email,
			Active:      u.Active,
			Attributes:  canonicalAttributes(u.Attributes),
		}
		line, _ := json.Marshal(cu)
		h.Write(line)
		h.Write([]byte{'\n'})
	}

	for _, key := range sortedGroupKeys(s) {
		g := s.Groups[key]
		members := append([]string(nil), g.Members...)
		sort.Strings(members)
		cg := canonicalGroup{
			Key:         key,
			DisplayName: g.DisplayName,
			Members:     members,
			Attributes:  canonicalAttributes(g.Attributes),
		}
		line, _ := json.Marshal(cg)
		h.Write(line)
		h.Write([]byte{'\n'})
	}

	return hex.EncodeToString(h.Sum(nil))
}

// canonicalAttributes sorts multi-valued attributes so set-equal values
// render identically.
func canonicalAttributes(attrs map[string]any) map[string]any {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		switch vals := v.(type) {
		case []string:
			sorted := append([]string(nil), vals...)
			sort.Strings(sorted)
			out[k] = sorted
		case []any:
			sorted := make([]string, 0, len(vals))
			for _, item := range vals {
				sorted = append(sorted, fmt.Sprint(item))
			}
			sort.Strings(sorted)
			out[k] = sorted
		default:
			out[k] = v
		}
	}
	return out
}
