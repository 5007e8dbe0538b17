package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryNamespace is the first half of the two-int advisory lock key
// used to serialise appends. The second half is derived from the tenant
// id, so appends for different tenants never contend.
const advisoryNamespace = int32(0x41_4C) // "AL"

// PostgresStore persists audit chains to PostgreSQL. It implements the
// Store interface.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given
// connection pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Append implements Store.
// It acquires a per-tenant PostgreSQL advisory lock, reads the chain
// tail, links and hashes the record, and inserts it — all within one
// transaction, so a rejected write leaves no partial state.
func (s *PostgresStore) Append(ctx context.Context, record *Record) error {
	meta, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Transaction-scoped advisory lock keyed on the tenant. Released
	// automatically on commit or rollback.
	if _, err := tx.Exec(ctx,
		"SELECT pg_advisory_xact_lock($1, hashtext($2))",
		advisoryNamespace, record.TenantID,
	); err != nil {
		return fmt.Errorf("%w: acquire advisory lock: %v", ErrStoreUnavailable, err)
	}

	prevHash := SentinelHash
	err = tx.QueryRow(ctx,
		"SELECT hash FROM audit_records WHERE tenant_id = $1 ORDER BY seq DESC LIMIT 1",
		record.TenantID,
	).Scan(&prevHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: read chain tail: %v", ErrStoreUnavailable, err)
	}

	record.PreviousHash = prevHash
	record.Hash = ComputeHash(record)

	if _, err := tx.Exec(ctx,
		`INSERT INTO audit_records (
			id, tenant_id, timestamp, event_type, entity, entity_id, action,
			user_id, user_name, user_role, ip_address, user_agent, session_id,
			metadata, prev_hash, hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		record.ID, record.TenantID, record.Timestamp, record.EventType,
		record.Entity, record.EntityID, record.Action,
		record.UserID, record.UserName, record.UserRole,
		record.IPAddress, record.UserAgent, record.SessionID,
		meta, record.PreviousHash, record.Hash,
	); err != nil {
		return fmt.Errorf("%w: insert record: %v", ErrStoreUnavailable, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrStoreUnavailable, err)
	}

	s.logger.Debug("audit record appended",
		zap.String("tenant_id", record.TenantID),
		zap.String("record_id", record.ID),
		zap.String("event_type", record.EventType),
	)
	return nil
}

// Range implements Store. Records come back ordered by insertion
// sequence, which is the append order the verifier and exporter expect.
func (s *PostgresStore) Range(ctx context.Context, tenantID string, from, to time.Time) ([]*Record, error) {
	query := `SELECT id, tenant_id, timestamp, event_type, entity, entity_id, action,
			user_id, user_name, user_role, ip_address, user_agent, session_id,
			metadata, prev_hash, hash
		FROM audit_records WHERE tenant_id = $1`
	args := []any{tenantID}
	if !from.IsZero() {
		args = append(args, from)
		query += fmt.Sprintf(" AND timestamp >= $%d", len(args))
	}
	if !to.IsZero() {
		args = append(args, to)
		query += fmt.Sprintf(" AND timestamp <= $%d", len(args))
	}
	query += " ORDER BY seq ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query records: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r := &Record{}
		var meta []byte
		if err := rows.Scan(
			&r.ID, &r.TenantID, &r.Timestamp, &r.EventType,
			&r.Entity, &r.EntityID, &r.Action,
			&r.UserID, &r.UserName, &r.UserRole,
			&r.IPAddress, &r.UserAgent, &r.SessionID,
			&meta, &r.PreviousHash, &r.Hash,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &r.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate records: %v", ErrStoreUnavailable, err)
	}
	return out, nil
}

// Head implements Store.
func (s *PostgresStore) Head(ctx context.Context, tenantID string) (string, error) {
	hash := SentinelHash
	err := s.pool.QueryRow(ctx,
		"SELECT hash FROM audit_records WHERE tenant_id = $1 ORDER BY seq DESC LIMIT 1",
		tenantID,
	).Scan(&hash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: read head: %v", ErrStoreUnavailable, err)
	}
	return hash, nil
}

// Tenants implements Store.
func (s *PostgresStore) Tenants(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT DISTINCT tenant_id FROM audit_records")
	if err != nil {
		return nil, fmt.Errorf("%w: list tenants: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tenant id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate tenants: %v", ErrStoreUnavailable, err)
	}
	return out, nil
}

// Count implements Store.
func (s *PostgresStore) Count(ctx context.Context, tenantID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM audit_records WHERE tenant_id = $1", tenantID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count records: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}
