package provider

// Capabilities declares which operations a connector supports. The poller
// and reconciler consult these flags instead of branching on connector
// identity.
type Capabilities struct {
	SupportsUsers        bool
	SupportsGroups       bool
	SupportsMembership   bool
	SupportsEntitlements bool

	// SupportsCursor indicates opaque-cursor pagination; otherwise the
	// connector pages by startIndex/count.
	SupportsCursor bool

	// SupportsWrite is false for read-only connectors; auto apply against
	// a read-only connector degrades to manual review.
	SupportsWrite bool

	DefaultPageSize int
}
