// Package audit writes immutable audit entries to an append-only sink.
// Entries are consumed by an external observability collaborator; the
// engine itself never reads them back.
package audit

import (
	"context"
	"log"

	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/core"
)

// Sink accepts append-only audit entries.
type Sink interface {
	Append(ctx context.Context, entries ...*core.AuditEntry) error
}

// LogSink writes entries to the process log. It is the dev fallback and is
// also composed next to the object sink so terminal error paths are always
// visible.
type LogSink struct{}

func (LogSink) Append(ctx context.Context, entries ...*core.AuditEntry) error {
	for _, e := range entries {
		log.Printf("audit: op=%s actor=%s tenant=%s provider=%s resource=%s/%s outcome=%s notes=%q",
			e.Operation, e.Actor, e.TenantID, e.ProviderID, e.ResourceType, e.ResourceID, e.Outcome, e.Notes)
	}
	return nil
}

// MultiSink fans entries out to several sinks; the first error wins but all
// sinks are attempted.
type MultiSink []Sink

func (m MultiSink) Append(ctx context.Context, entries ...*core.AuditEntry) error {
	var first error
	for _, s := range m {
		if err := s.Append(ctx, entries...); err != nil && first == nil {
			first = err
		}
	}
	return first
}
