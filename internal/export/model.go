package export

import (
	"errors"
	"fmt"
	"time"
)

// Format is an export output format. The rendered bytes of every format
// are part of the external contract: regulators verify the checksum
// against the exact file content.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXML  Format = "xml"
	FormatSAFT Format = "saft"
)

// ErrUnsupportedFormat rejects an export configuration that names an
// unknown format. The job transitions to failed with this reason.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ErrNotFound is returned by job lookups and by Sign when the job does
// not exist or is not in a signable state.
var ErrNotFound = errors.New("export job not found")

// Status is the lifecycle state of an export job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Config is the snapshot of an export request. It is stored on the job
// verbatim; rendering is a pure function of (records, config).
type Config struct {
	TenantID           string    `json:"tenantId"`
	StartDate          time.Time `json:"startDate"`
	EndDate            time.Time `json:"endDate"`
	Format             Format    `json:"format"`
	AuditStandard      string    `json:"auditStandard,omitempty"` // e.g. "SAF-T", "SOC2"
	IncludeAttachments bool      `json:"includeAttachments,omitempty"`
	IncludeSignatures  bool      `json:"includeSignatures,omitempty"`
}

// Validate checks the config before a job is admitted.
func (c Config) Validate() error {
	if c.TenantID == "" {
		return fmt.Errorf("tenant id required")
	}
	switch c.Format {
	case FormatJSON, FormatCSV, FormatXML, FormatSAFT:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, c.Format)
	}
}

// Filename returns the deterministic download filename for the config.
func (c Config) Filename() string {
	ext := string(c.Format)
	if c.Format == FormatSAFT {
		ext = "xml"
	}
	return fmt.Sprintf("audit_%s_%s_%s.%s",
		c.TenantID,
		c.StartDate.UTC().Format("2006-01-02"),
		c.EndDate.UTC().Format("2006-01-02"),
		ext,
	)
}

// ContentType returns the MIME type served for the rendered file.
func (c Config) ContentType() string {
	switch c.Format {
	case FormatJSON:
		return "application/json"
	case FormatCSV:
		return "text/csv"
	default:
		return "application/xml"
	}
}

// Job is one export request and its result. Jobs are mutable only
// through the lifecycle transitions the Manager applies.
type Job struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Config   Config `json:"config"`
	Status   Status `json:"status"`

	RecordCount int    `json:"recordCount"`
	FileSize    int    `json:"fileSize"`
	Checksum    string `json:"checksum,omitempty"`
	DownloadRef string `json:"downloadRef,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`

	SignedBy    string `json:"signedBy,omitempty"`
	Certificate string `json:"certificate,omitempty"`

	FailureReason string `json:"failureReason,omitempty"`
}
