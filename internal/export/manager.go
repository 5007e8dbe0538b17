package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chainproof/ledgerd/internal/ledger"
)

// ErrExpired is returned by Content after a completed export's download
// window has lapsed. The job record itself remains readable.
var ErrExpired = errors.New("export download expired")

// downloadValidity is how long a completed export stays downloadable.
const downloadValidity = 24 * time.Hour

// defaultWorkers is the render pool size when the caller passes 0.
const defaultWorkers = 4

// RecordSource supplies the records an export covers. The ledger
// service satisfies it.
type RecordSource interface {
	Range(ctx context.Context, tenantID string, from, to time.Time) ([]*ledger.Record, error)
}

// MetricsRecorder observes terminal job transitions. Wired to the
// Prometheus collectors by the API layer; nil means no-op.
type MetricsRecorder func(format Format, status Status, duration time.Duration, size int)

// Manager owns the export job lifecycle: admission, background
// rendering on a worker pool, signing, cancellation and download.
// Jobs move pending -> processing -> completed|failed; transitions are
// serialized so a cancel racing a render never resurrects a job.
type Manager struct {
	store  JobStore
	source RecordSource
	logger *zap.Logger
	now    func() time.Time

	queue chan string
	wg    sync.WaitGroup
	base  context.Context
	stop  context.CancelFunc

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	record MetricsRecorder
}

// NewManager creates a Manager and starts its render workers.
func NewManager(store JobStore, source RecordSource, logger *zap.Logger, workers int) *Manager {
	if workers <= 0 {
		workers = defaultWorkers
	}
	base, stop := context.WithCancel(context.Background())
	m := &Manager{
		store:   store,
		source:  source,
		logger:  logger,
		now:     time.Now,
		queue:   make(chan string, workers*16),
		base:    base,
		stop:    stop,
		cancels: make(map[string]context.CancelFunc),
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	return m
}

// SetClock overrides the manager's clock. Tests only.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// SetMetricsRecorder installs the terminal-transition observer.
func (m *Manager) SetMetricsRecorder(rec MetricsRecorder) { m.record = rec }

// Close drains the worker pool. In-flight renders finish; queued jobs
// not yet picked up stay pending in the store.
func (m *Manager) Close() {
	m.stop()
	close(m.queue)
	m.wg.Wait()
}

// CreateExport admits an export request. An invalid configuration
// still produces a job so callers can inspect the failure reason; the
// job is born failed and the error is recorded, not returned. A valid
// request is persisted pending and queued for rendering.
func (m *Manager) CreateExport(ctx context.Context, cfg Config) (*Job, error) {
	job := &Job{
		ID:        uuid.NewString(),
		TenantID:  cfg.TenantID,
		Config:    cfg,
		Status:    StatusPending,
		CreatedAt: m.now().UTC(),
	}

	if err := cfg.Validate(); err != nil {
		job.Status = StatusFailed
		job.FailureReason = err.Error()
		if cerr := m.store.Create(ctx, job); cerr != nil {
			return nil, fmt.Errorf("create export job: %w", cerr)
		}
		m.logger.Warn("export rejected",
			zap.String("job_id", job.ID),
			zap.String("tenant_id", cfg.TenantID),
			zap.String("reason", job.FailureReason))
		m.observe(job, 0)
		return job, nil
	}

	if err := m.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create export job: %w", err)
	}

	select {
	case m.queue <- job.ID:
	default:
		// Queue full: render inline rather than drop the job.
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.process(job.ID)
		}()
	}

	m.logger.Info("export queued",
		zap.String("job_id", job.ID),
		zap.String("tenant_id", cfg.TenantID),
		zap.String("format", string(cfg.Format)))
	return job, nil
}

// GetExport returns a job by id.
func (m *Manager) GetExport(ctx context.Context, id string) (*Job, error) {
	return m.store.Get(ctx, id)
}

// ListExports returns the tenant's jobs newest-first.
func (m *Manager) ListExports(ctx context.Context, tenantID string) ([]*Job, error) {
	return m.store.ListByTenant(ctx, tenantID)
}

// Sign attaches the signer identity and a certificate to a completed
// export. An empty certificate gets one derived from the checksum,
// signer and signing time. Only completed jobs are signable; anything
// else reports ErrNotFound so callers cannot probe job state through
// this endpoint.
func (m *Manager) Sign(ctx context.Context, id, signedBy, certificate string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusCompleted {
		return nil, ErrNotFound
	}

	if certificate == "" {
		certificate = signingCertificate(job.Checksum, signedBy, m.now().UTC())
	}
	job.SignedBy = signedBy
	job.Certificate = certificate
	if err := m.store.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("sign export %s: %w", id, err)
	}

	m.logger.Info("export signed",
		zap.String("job_id", id),
		zap.String("signed_by", signedBy))
	return job, nil
}

// Cancel marks a pending or processing job failed and interrupts its
// render. It never touches the ledger: appended records stay appended.
// Cancelling a job already in a terminal state is an error.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	switch job.Status {
	case StatusCompleted, StatusFailed:
		return fmt.Errorf("export %s already %s", id, job.Status)
	}

	if cancel, ok := m.cancels[id]; ok {
		cancel()
	}

	job.Status = StatusFailed
	job.FailureReason = "cancelled"
	if err := m.store.Update(ctx, job); err != nil {
		return fmt.Errorf("cancel export %s: %w", id, err)
	}

	m.logger.Info("export cancelled", zap.String("job_id", id))
	m.observe(job, 0)
	return nil
}

// Content returns the rendered bytes for a completed export, honoring
// the download expiry.
func (m *Manager) Content(ctx context.Context, id string) ([]byte, *Job, error) {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != StatusCompleted {
		return nil, nil, ErrNotFound
	}
	if job.ExpiresAt != nil && m.now().After(*job.ExpiresAt) {
		return nil, nil, ErrExpired
	}
	content, err := m.store.Content(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return content, job, nil
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for id := range m.queue {
		m.process(id)
	}
}

// process renders one job end to end. Every state read-modify-write
// happens under mu so Cancel observes consistent status.
func (m *Manager) process(id string) {
	ctx, cancel := context.WithCancel(m.base)
	started := m.now()

	m.mu.Lock()
	job, err := m.store.Get(ctx, id)
	if err != nil || job.Status != StatusPending {
		// Cancelled (or lost) while queued.
		m.mu.Unlock()
		cancel()
		return
	}
	job.Status = StatusProcessing
	if err := m.store.Update(ctx, job); err != nil {
		m.mu.Unlock()
		cancel()
		m.logger.Error("export transition failed", zap.String("job_id", id), zap.Error(err))
		return
	}
	m.cancels[id] = cancel
	m.mu.Unlock()

	defer func() {
		cancel()
		m.mu.Lock()
		delete(m.cancels, id)
		m.mu.Unlock()
	}()

	cfg := job.Config
	records, err := m.source.Range(ctx, cfg.TenantID, cfg.StartDate, cfg.EndDate)
	if err != nil {
		m.fail(id, started, fmt.Sprintf("load records: %v", err))
		return
	}
	content, err := Render(records, cfg)
	if err != nil {
		m.fail(id, started, fmt.Sprintf("render %s: %v", cfg.Format, err))
		return
	}

	sum := sha256.Sum256(content)
	checksum := hex.EncodeToString(sum[:])

	m.mu.Lock()
	defer m.mu.Unlock()

	// Reload before completing: a cancel may have landed mid-render.
	job, err = m.store.Get(ctx, id)
	if err != nil || job.Status != StatusProcessing {
		return
	}
	if err := m.store.SaveContent(ctx, id, content); err != nil {
		m.failLocked(job, started, fmt.Sprintf("store content: %v", err))
		return
	}

	completed := m.now().UTC()
	expires := completed.Add(downloadValidity)
	job.Status = StatusCompleted
	job.RecordCount = len(records)
	job.FileSize = len(content)
	job.Checksum = checksum
	job.DownloadRef = "/api/v1/exports/" + id + "/download"
	job.CompletedAt = &completed
	job.ExpiresAt = &expires
	if err := m.store.Update(ctx, job); err != nil {
		m.logger.Error("export completion lost", zap.String("job_id", id), zap.Error(err))
		return
	}

	m.logger.Info("export completed",
		zap.String("job_id", id),
		zap.String("tenant_id", cfg.TenantID),
		zap.String("format", string(cfg.Format)),
		zap.Int("records", len(records)),
		zap.Int("bytes", len(content)))
	m.observe(job, m.now().Sub(started))
}

func (m *Manager) fail(id string, started time.Time, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, err := m.store.Get(context.Background(), id)
	if err != nil || job.Status != StatusProcessing {
		return
	}
	m.failLocked(job, started, reason)
}

func (m *Manager) failLocked(job *Job, started time.Time, reason string) {
	job.Status = StatusFailed
	job.FailureReason = reason
	if err := m.store.Update(context.Background(), job); err != nil {
		m.logger.Error("export failure lost", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	m.logger.Warn("export failed",
		zap.String("job_id", job.ID),
		zap.String("reason", reason))
	m.observe(job, m.now().Sub(started))
}

func (m *Manager) observe(job *Job, d time.Duration) {
	if m.record != nil {
		m.record(job.Config.Format, job.Status, d, job.FileSize)
	}
}

// signingCertificate derives the certificate body attached by Sign:
// a digest binding the file checksum, signer and signing time.
func signingCertificate(checksum, signedBy string, at time.Time) string {
	sum := sha256.Sum256([]byte(checksum + "|" + signedBy + "|" + at.Format(time.RFC3339)))
	return "LEDGERD-CERT-" + hex.EncodeToString(sum[:])
}
