package export

import "context"

// JobStore persists export jobs and their rendered content. Content is
// stored separately from the job row so listings stay cheap.
type JobStore interface {
	Create(ctx context.Context, job *Job) error
	Update(ctx context.Context, job *Job) error

	// Get returns ErrNotFound for an unknown job id.
	Get(ctx context.Context, id string) (*Job, error)

	// ListByTenant returns the tenant's jobs newest-first.
	ListByTenant(ctx context.Context, tenantID string) ([]*Job, error)

	SaveContent(ctx context.Context, jobID string, content []byte) error
	Content(ctx context.Context, jobID string) ([]byte, error)
}
