package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Draft carries the caller-supplied fields of a record to append. Hash
// and PreviousHash are never part of a draft — the chain link is
// computed at append time.
type Draft struct {
	Entity    string         `json:"entity"`
	EntityID  string         `json:"entityId"`
	Action    string         `json:"action"`
	EventType string         `json:"eventType,omitempty"` // defaults to "entity.action"
	UserID    string         `json:"userId"`
	UserName  string         `json:"userName"`
	UserRole  string         `json:"userRole"`
	IPAddress string         `json:"ipAddress"`
	UserAgent string         `json:"userAgent,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Service coordinates appends and reads for the audit ledger. Append
// serialisation itself lives in the Store (per-tenant lock); the
// service owns draft validation, id and timestamp assignment, and the
// verification entry points.
type Service struct {
	store  Store
	now    func() time.Time
	logger *zap.Logger
}

// NewService creates a ledger Service on top of the given store.
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		now:    time.Now,
		logger: logger,
	}
}

// SetClock overrides the wall-clock source. Tests use this to build
// deterministic chains.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Append validates the draft, stamps identity and time, and persists
// the record through the store's per-tenant append discipline. On store
// failure nothing is persisted and the head hash does not advance.
func (s *Service) Append(ctx context.Context, tenantID string, draft Draft) (*Record, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id required", ErrInvalidDraft)
	}
	if draft.Entity == "" || draft.Action == "" {
		return nil, fmt.Errorf("%w: entity and action required", ErrInvalidDraft)
	}

	eventType := draft.EventType
	if eventType == "" {
		eventType = draft.Entity + "." + draft.Action
	}

	record := &Record{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		// Truncated to microseconds so the canonical timestamp survives
		// a round trip through timestamptz storage and re-hashes to the
		// same digest at verification time.
		Timestamp: s.now().UTC().Truncate(time.Microsecond),
		EventType: eventType,
		Entity:    draft.Entity,
		EntityID:  draft.EntityID,
		Action:    draft.Action,
		UserID:    draft.UserID,
		UserName:  draft.UserName,
		UserRole:  draft.UserRole,
		IPAddress: draft.IPAddress,
		UserAgent: draft.UserAgent,
		SessionID: draft.SessionID,
		Metadata:  draft.Metadata,
	}

	if err := s.store.Append(ctx, record); err != nil {
		return nil, err
	}

	s.logger.Debug("ledger append",
		zap.String("tenant_id", tenantID),
		zap.String("record_id", record.ID),
		zap.String("event_type", record.EventType),
	)
	return record, nil
}

// Range returns the tenant's records in append order, optionally
// bounded by the from/to window (zero times mean unbounded).
func (s *Service) Range(ctx context.Context, tenantID string, from, to time.Time) ([]*Record, error) {
	return s.store.Range(ctx, tenantID, from, to)
}

// Tenants returns the ids of all tenants with at least one record.
func (s *Service) Tenants(ctx context.Context) ([]string, error) {
	return s.store.Tenants(ctx)
}

// Head returns the tenant's record count and current head hash.
func (s *Service) Head(ctx context.Context, tenantID string) (int, string, error) {
	n, err := s.store.Count(ctx, tenantID)
	if err != nil {
		return 0, "", err
	}
	head, err := s.store.Head(ctx, tenantID)
	if err != nil {
		return 0, "", err
	}
	return n, head, nil
}

// VerifyChain recomputes the tenant's full chain and reports on its
// integrity. A broken chain is a result, not an error: the error return
// is non-nil only when the store itself cannot be read.
func (s *Service) VerifyChain(ctx context.Context, tenantID string) (*ChainIntegrityReport, error) {
	records, err := s.store.Range(ctx, tenantID, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	report := VerifyRecords(tenantID, records, s.now().UTC())
	if !report.IsValid {
		s.logger.Warn("chain integrity check failed",
			zap.String("tenant_id", tenantID),
			zap.Int("invalid_records", report.InvalidRecords),
			zap.Int("gaps", len(report.Gaps)),
		)
	}
	return report, nil
}

// Stats derives summary counts over the tenant's full chain and embeds
// a fresh integrity report, so a stats call is also an implicit
// integrity check.
func (s *Service) Stats(ctx context.Context, tenantID string) (*TenantStats, error) {
	records, err := s.store.Range(ctx, tenantID, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	stats := AggregateStats(records, now)
	stats.TenantID = tenantID
	stats.ChainIntegrity = VerifyRecords(tenantID, records, now)
	return stats, nil
}
