// Package core holds the shared data model for the reconciliation engine:
// resource snapshots, drift/conflict reports, sync state, transformation
// rules, audit entries, and the typed error taxonomy.
//
// Everything here is plain data. Behaviour lives in the packages that
// consume it (detect, transform, reconcile, poller).
package core
