package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable wraps any failure of the durable store. An append
// that fails with it leaves no partial record and does not advance the
// tenant's head hash.
var ErrStoreUnavailable = errors.New("ledger store unavailable")

// ErrInvalidDraft is returned when an append draft already carries hash
// fields or lacks required classification fields.
var ErrInvalidDraft = errors.New("invalid record draft")

// Store is the durable append/range contract for the audit ledger.
// Append must be linearizable per tenant: it reads the tenant's chain
// tail, fills PreviousHash and Hash on the draft, and persists — all
// atomically with respect to other appends for the same tenant.
// Range returns records in append order. Tenants are fully isolated;
// no implementation may require cross-tenant locking.
type Store interface {
	Append(ctx context.Context, record *Record) error
	Range(ctx context.Context, tenantID string, from, to time.Time) ([]*Record, error)

	// Head returns the hash of the tenant's most recent record, or
	// SentinelHash for an empty chain.
	Head(ctx context.Context, tenantID string) (string, error)

	// Count returns the number of records in the tenant's chain.
	Count(ctx context.Context, tenantID string) (int, error)

	// Tenants returns the ids of all tenants with at least one record.
	Tenants(ctx context.Context) ([]string, error)
}
