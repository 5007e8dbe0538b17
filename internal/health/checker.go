// Package health runs periodic background integrity sweeps over every
// tenant's chain, so tampering surfaces without anyone asking for a
// verification.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chainproof/ledgerd/internal/ledger"
)

// Config holds integrity sweep configuration.
type Config struct {
	SweepInterval time.Duration
	SweepTimeout  time.Duration
}

// ChainVerifier lists tenants and verifies their chains. The ledger
// service satisfies it.
type ChainVerifier interface {
	Tenants(ctx context.Context) ([]string, error)
	VerifyChain(ctx context.Context, tenantID string) (*ledger.ChainIntegrityReport, error)
}

// MetricsRecordFunc is an optional callback for recording sweep results.
type MetricsRecordFunc func(valid bool)

// Sweeper runs periodic chain integrity sweeps across all tenants.
type Sweeper struct {
	verifier  ChainVerifier
	cfg       Config
	onMetrics MetricsRecordFunc
	logger    *zap.Logger

	mu      sync.Mutex
	lastRun map[string]bool // tenant -> last sweep result
}

// New creates a new Sweeper.
func New(verifier ChainVerifier, cfg Config, logger *zap.Logger) *Sweeper {
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 15 * time.Minute
	}
	if cfg.SweepTimeout == 0 {
		cfg.SweepTimeout = time.Minute
	}
	return &Sweeper{
		verifier: verifier,
		cfg:      cfg,
		logger:   logger,
		lastRun:  make(map[string]bool),
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (s *Sweeper) SetMetricsRecord(fn MetricsRecordFunc) {
	s.onMetrics = fn
}

// Start runs the sweep loop until stop is closed.
func (s *Sweeper) Start(stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SweepTimeout)
			s.SweepAll(ctx)
			cancel()
		case <-stop:
			return
		}
	}
}

// SweepAll verifies every tenant's chain once. A tenant flipping from
// valid to invalid is logged at error level; staying invalid only at
// warn, so a standing alarm does not drown the log.
func (s *Sweeper) SweepAll(ctx context.Context) {
	tenants, err := s.verifier.Tenants(ctx)
	if err != nil {
		s.logger.Error("integrity sweep: list tenants", zap.Error(err))
		return
	}

	for _, tenantID := range tenants {
		report, err := s.verifier.VerifyChain(ctx, tenantID)
		if err != nil {
			s.logger.Error("integrity sweep: verify",
				zap.String("tenant_id", tenantID), zap.Error(err))
			continue
		}

		if s.onMetrics != nil {
			s.onMetrics(report.IsValid)
		}

		s.mu.Lock()
		wasValid, seen := s.lastRun[tenantID]
		s.lastRun[tenantID] = report.IsValid
		s.mu.Unlock()

		switch {
		case report.IsValid:
			s.logger.Debug("integrity sweep: chain ok",
				zap.String("tenant_id", tenantID),
				zap.Int("records", report.TotalRecords))
		case !seen || wasValid:
			s.logger.Error("integrity sweep: chain became INVALID",
				zap.String("tenant_id", tenantID),
				zap.Int("invalid_records", report.InvalidRecords),
				zap.Int("gaps", len(report.Gaps)),
				zap.Strings("errors", report.Errors))
		default:
			s.logger.Warn("integrity sweep: chain still invalid",
				zap.String("tenant_id", tenantID),
				zap.Int("invalid_records", report.InvalidRecords))
		}
	}
}

// LastResult reports the most recent sweep outcome for a tenant. The
// second return is false if the tenant has not been swept yet.
func (s *Sweeper) LastResult(tenantID string) (valid, swept bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	valid, swept = s.lastRun[tenantID]
	return valid, swept
}
