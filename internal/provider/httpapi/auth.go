package httpapi

import (
	"encoding/base64"
	"net/http"
)

// AuthConfig applies authentication to an outgoing request.
type AuthConfig interface {
	Apply(req *http.Request)
}

// NoAuth sends requests unauthenticated.
type NoAuth struct{}

func (a NoAuth) Apply(req *http.Request) {}

// BasicAuth uses HTTP Basic Authentication.
type BasicAuth struct {
	Username string
	Password string
}

// Apply adds the Basic auth header to the request.
func (a BasicAuth) Apply(req *http.Request) {
	if a.Username == "" && a.Password == "" {
		return
	}
	credentials := base64.StdEncoding.EncodeToString([]byte(a.Username + ":" + a.Password))
	req.Header.Set("Authorization", "Basic "+credentials)
}

// BearerToken uses Bearer token authentication.
type BearerToken struct {
	Token string
}

// Apply adds the Bearer token header to the request.
func (a BearerToken) Apply(req *http.Request) {
	if a.Token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+a.Token)
}

// APIKey uses API key header authentication.
type APIKey struct {
	Key    string
	Header string // Header name (default: X-API-Key)
}

// Apply adds the API key header to the request.
func (a APIKey) Apply(req *http.Request) {
	if a.Key == "" {
		return
	}
	header := a.Header
	if header == "" {
		header = "X-API-Key"
	}
	req.Header.Set(header, a.Key)
}
