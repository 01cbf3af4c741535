package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/core"
)

// PostgresStore implements Store backed by Postgres. Sync state documents
// are stored as jsonb with a version column compared in the WHERE clause of
// every update.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStoreFromEnv opens a store using SYNC_DATABASE_URL/DATABASE_URL.
func NewPostgresStoreFromEnv() (*PostgresStore, error) {
	dsn := os.Getenv("SYNC_DATABASE_URL")
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, errors.New("SYNC_DATABASE_URL/DATABASE_URL not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return NewPostgresStoreWithDB(db)
}

// NewPostgresStoreWithDB reuses an existing *sql.DB.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if err := ensureTables(db); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func ensureTables(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sync_state (
  tenant_id text NOT NULL,
  provider_id text NOT NULL,
  doc jsonb NOT NULL,
  version bigint NOT NULL DEFAULT 0,
  updated_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (tenant_id, provider_id)
);
CREATE TABLE IF NOT EXISTS transformation_rules (
  id text PRIMARY KEY,
  tenant_id text NOT NULL,
  provider_id text NOT NULL,
  priority int NOT NULL DEFAULT 0,
  enabled boolean NOT NULL DEFAULT true,
  doc jsonb NOT NULL,
  updated_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS transformation_rules_pair_idx
  ON transformation_rules (tenant_id, provider_id);
`
	_, err := db.Exec(ddl)
	return err
}

func (s *PostgresStore) GetSyncState(ctx context.Context, tenantID, providerID string) (*core.SyncState, error) {
	const q = `SELECT doc, version FROM sync_state WHERE tenant_id = $1 AND provider_id = $2`

	var raw []byte
	var version int64
	err := s.db.QueryRowContext(ctx, q, tenantID, providerID).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.Errorf(core.CodeNotFound, false, "sync state not found for %s", core.PairKey(tenantID, providerID))
	}
	if err != nil {
		return nil, fmt.Errorf("get sync state: %w", err)
	}

	var state core.SyncState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode sync state: %w", err)
	}
	state.Version = version
	return &state, nil
}

func (s *PostgresStore) PutSyncState(ctx context.Context, state *core.SyncState, expectedVersion int64) (int64, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return 0, fmt.Errorf("encode sync state: %w", err)
	}

	if expectedVersion == 0 {
		const ins = `
INSERT INTO sync_state (tenant_id, provider_id, doc, version, updated_at)
VALUES ($1, $2, $3, 1, now())
ON CONFLICT (tenant_id, provider_id) DO NOTHING`
		res, err := s.db.ExecContext(ctx, ins, state.TenantID, state.ProviderID, raw)
		if err != nil {
			return 0, fmt.Errorf("insert sync state: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return 0, core.Errorf(core.CodeVersionConflict, true, "sync state %s already exists", state.Key())
		}
		return 1, nil
	}

	const upd = `
UPDATE sync_state
SET doc = $3, version = version + 1, updated_at = now()
WHERE tenant_id = $1 AND provider_id = $2 AND version = $4`
	res, err := s.db.ExecContext(ctx, upd, state.TenantID, state.ProviderID, raw, expectedVersion)
	if err != nil {
		return 0, fmt.Errorf("update sync state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, core.Errorf(core.CodeVersionConflict, true, "sync state %s not at version %d", state.Key(), expectedVersion)
	}
	return expectedVersion + 1, nil
}

func (s *PostgresStore) ListSyncStates(ctx context.Context, tenantID string) ([]*core.SyncState, error) {
	const q = `SELECT doc, version FROM sync_state WHERE tenant_id = $1 ORDER BY provider_id`

	rows, err := s.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list sync states: %w", err)
	}
	defer rows.Close()

	var out []*core.SyncState
	for rows.Next() {
		var raw []byte
		var version int64
		if err := rows.Scan(&raw, &version); err != nil {
			return nil, err
		}
		var state core.SyncState
		if err := json.Unmarshal(raw, &state); err != nil {
			return nil, fmt.Errorf("decode sync state: %w", err)
		}
		state.Version = version
		out = append(out, &state)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListRules(ctx context.Context, tenantID, providerID string) ([]*core.TransformationRule, error) {
	const q = `
SELECT doc FROM transformation_rules
WHERE tenant_id = $1 AND provider_id = $2
ORDER BY priority DESC, id`

	rows, err := s.db.QueryContext(ctx, q, tenantID, providerID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []*core.TransformationRule
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rule core.TransformationRule
		if err := json.Unmarshal(raw, &rule); err != nil {
			return nil, fmt.Errorf("decode rule: %w", err)
		}
		out = append(out, &rule)
	}
	return out, rows.Err()
}

func (s *PostgresStore) PutRule(ctx context.Context, rule *core.TransformationRule) error {
	raw, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("encode rule: %w", err)
	}

	const q = `
INSERT INTO transformation_rules (id, tenant_id, provider_id, priority, enabled, doc, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (id) DO UPDATE
SET tenant_id = EXCLUDED.tenant_id,
    provider_id = EXCLUDED.provider_id,
    priority = EXCLUDED.priority,
    enabled = EXCLUDED.enabled,
    doc = EXCLUDED.doc,
    updated_at = now()`
	_, err = s.db.ExecContext(ctx, q, rule.ID, rule.TenantID, rule.ProviderID, rule.Priority, rule.Enabled, raw)
	if err != nil {
		return fmt.Errorf("put rule: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteRule(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM transformation_rules WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }
