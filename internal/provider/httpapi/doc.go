// Package httpapi provides the shared HTTP plumbing for REST provider
// connectors.
//
// Structure:
//
//	client.go     - HTTP client with rate limiting, retry and backoff
//	auth.go       - Authentication strategies (Basic, Bearer, API key)
package httpapi
