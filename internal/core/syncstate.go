package core

import "time"

// SyncStatus is the outcome of the most recent poll cycle for a pair.
type SyncStatus string

const (
	SyncInProgress     SyncStatus = "in_progress"
	SyncCompleted      SyncStatus = "completed"
	SyncPartialFailure SyncStatus = "partial_failure"
	SyncFailed         SyncStatus = "failed"
)

// Strategy selects how the reconciler handles detected divergence.
type Strategy string

const (
	StrategyAutoApply    Strategy = "auto_apply"
	StrategyManualReview Strategy = "manual_review"
	StrategyIgnore       Strategy = "ignore"
)

// SyncStats summarizes the outcome of the most recent poll cycle.
type SyncStats struct {
	DriftDetected     int `json:"driftDetected"`
	ConflictsDetected int `json:"conflictsDetected"`
	Applied           int `json:"applied"`
	Deferred          int `json:"deferred"`
	Failed            int `json:"failed"`
	Ignored           int `json:"ignored"`
	Skipped           int `json:"skipped"`
}

// ErrorEntry is one row of a pair's error log.
type ErrorEntry struct {
	At      time.Time `json:"at"`
	Op      string    `json:"op"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message"`
}

// SyncState is the persisted document for one (tenant, provider) pair.
// Exactly one exists per pair; all mutation is compare-and-swap on Version
// so a concurrent poll cycle and a concurrent manual reconciliation cannot
// silently overwrite each other.
type SyncState struct {
	TenantID         string        `json:"tenantId"`
	ProviderID       string        `json:"providerId"`
	LastSyncAt       time.Time     `json:"lastSyncAt"`
	SnapshotChecksum string        `json:"snapshotChecksum,omitempty"`
	UserCount        int           `json:"userCount"`
	GroupCount       int           `json:"groupCount"`
	Status           SyncStatus    `json:"status"`
	Direction        SyncDirection `json:"direction,omitempty"`
	LastCycle        SyncStats     `json:"lastCycle"`

	DriftLog    []*DriftReport    `json:"driftLog,omitempty"`
	ConflictLog []*ConflictReport `json:"conflictLog,omitempty"`
	ErrorLog    []ErrorEntry      `json:"errorLog,omitempty"`

	// Blocked holds identity keys of resources under manual review; auto
	// apply skips them until an explicit resolution clears the entry.
	Blocked map[string]bool `json:"blocked,omitempty"`

	// Version is the optimistic-concurrency token. Zero means "never
	// persisted".
	Version int64 `json:"version"`
}

// NewSyncState returns the initial document for a pair.
func NewSyncState(tenantID, providerID string) *SyncState {
	return &SyncState{
		TenantID:   tenantID,
		ProviderID: providerID,
		Status:     SyncInProgress,
		Blocked:    make(map[string]bool),
	}
}

// Key returns the pair key for the document.
func (s *SyncState) Key() string { return PairKey(s.TenantID, s.ProviderID) }

// IsBlocked reports whether the resource identity key is under manual review.
func (s *SyncState) IsBlocked(identityKey string) bool {
	return s.Blocked != nil && s.Blocked[identityKey]
}

// Block marks a resource as sync-blocked.
func (s *SyncState) Block(identityKey string) {
	if s.Blocked == nil {
		s.Blocked = make(map[string]bool)
	}
	s.Blocked[identityKey] = true
}

// Unblock clears a resource's sync-blocked mark.
func (s *SyncState) Unblock(identityKey string) {
	delete(s.Blocked, identityKey)
}

// AppendError adds an error-log entry, keeping at most limit entries
// (oldest dropped first). limit <= 0 means unbounded.
func (s *SyncState) AppendError(e ErrorEntry, limit int) {
	s.ErrorLog = append(s.ErrorLog, e)
	if limit > 0 && len(s.ErrorLog) > limit {
		s.ErrorLog = s.ErrorLog[len(s.ErrorLog)-limit:]
	}
}
