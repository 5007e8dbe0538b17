// Package client provides the Go SDK for the ledgerd audit service:
// appending records, reading and verifying chains, and driving the
// export job lifecycle.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"
)

// ErrNotFound is returned for unknown records, jobs, or jobs owned by
// another tenant.
var ErrNotFound = errors.New("not found")

// ErrExpired is returned by Download after the export's download
// window has lapsed.
var ErrExpired = errors.New("export download expired")

// Record is one audit ledger entry as returned by the service.
type Record struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenantId"`
	Timestamp    time.Time      `json:"timestamp"`
	EventType    string         `json:"eventType"`
	Entity       string         `json:"entity"`
	EntityID     string         `json:"entityId"`
	Action       string         `json:"action"`
	UserID       string         `json:"userId"`
	UserName     string         `json:"userName,omitempty"`
	UserRole     string         `json:"userRole,omitempty"`
	IPAddress    string         `json:"ipAddress,omitempty"`
	UserAgent    string         `json:"userAgent,omitempty"`
	SessionID    string         `json:"sessionId,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Hash         string         `json:"hash"`
	PreviousHash string         `json:"previousHash"`
}

// Draft is the payload for AppendRecord.
type Draft struct {
	Entity    string         `json:"entity"`
	EntityID  string         `json:"entityId,omitempty"`
	Action    string         `json:"action"`
	EventType string         `json:"eventType,omitempty"`
	UserID    string         `json:"userId,omitempty"`
	UserName  string         `json:"userName,omitempty"`
	UserRole  string         `json:"userRole,omitempty"`
	IPAddress string         `json:"ipAddress,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Gap is a suspicious silence in a chain's timeline.
type Gap struct {
	From                   time.Time `json:"from"`
	To                     time.Time `json:"to"`
	MissingRecordsEstimate int       `json:"missingRecordsEstimate"`
}

// IntegrityReport is the result of a chain verification.
type IntegrityReport struct {
	TenantID       string     `json:"tenantId"`
	CheckedAt      time.Time  `json:"checkedAt"`
	IsValid        bool       `json:"isValid"`
	TotalRecords   int        `json:"totalRecords"`
	ValidRecords   int        `json:"validRecords"`
	InvalidRecords int        `json:"invalidRecords"`
	FirstRecordAt  *time.Time `json:"firstRecordAt,omitempty"`
	LastRecordAt   *time.Time `json:"lastRecordAt,omitempty"`
	Gaps           []Gap      `json:"gaps,omitempty"`
	Errors         []string   `json:"errors,omitempty"`
}

// Stats summarises a tenant's ledger.
type Stats struct {
	TenantID         string           `json:"tenantId"`
	TotalRecords     int              `json:"totalRecords"`
	ByEntity         map[string]int   `json:"byEntity"`
	ByAction         map[string]int   `json:"byAction"`
	ByUser           map[string]int   `json:"byUser"`
	RecordsToday     int              `json:"recordsToday"`
	RecordsThisWeek  int              `json:"recordsThisWeek"`
	RecordsThisMonth int              `json:"recordsThisMonth"`
	ChainIntegrity   *IntegrityReport `json:"chainIntegrity"`
}

// Head is the tip of a tenant's chain.
type Head struct {
	Records int    `json:"records"`
	Head    string `json:"head"`
}

// ExportRequest is the payload for CreateExport.
type ExportRequest struct {
	StartDate         time.Time `json:"startDate"`
	EndDate           time.Time `json:"endDate"`
	Format            string    `json:"format"`
	AuditStandard     string    `json:"auditStandard,omitempty"`
	IncludeSignatures bool      `json:"includeSignatures,omitempty"`
}

// ExportJob is one export request and its current state.
type ExportJob struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenantId"`
	Status        string     `json:"status"`
	RecordCount   int        `json:"recordCount"`
	FileSize      int        `json:"fileSize"`
	Checksum      string     `json:"checksum,omitempty"`
	DownloadRef   string     `json:"downloadRef,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	SignedBy      string     `json:"signedBy,omitempty"`
	Certificate   string     `json:"certificate,omitempty"`
	FailureReason string     `json:"failureReason,omitempty"`
}

// Client is the ledgerd SDK entry point. All calls are scoped to the
// tenant the client was created with.
type Client struct {
	baseURL    string
	tenantID   string
	httpClient *http.Client
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the request timeout on the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a Client for the given service base URL and tenant.
func New(baseURL, tenantID string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		tenantID:   tenantID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// AppendRecord appends one audit record to the tenant's chain.
func (c *Client) AppendRecord(ctx context.Context, draft Draft) (*Record, error) {
	var record Record
	if err := c.do(ctx, http.MethodPost, "/api/v1/audit/records", draft, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Records returns the tenant's records in append order. Zero times
// leave the corresponding window edge unbounded.
func (c *Client) Records(ctx context.Context, from, to time.Time) ([]*Record, error) {
	q := url.Values{}
	if !from.IsZero() {
		q.Set("from", from.UTC().Format(time.RFC3339))
	}
	if !to.IsZero() {
		q.Set("to", to.UTC().Format(time.RFC3339))
	}
	path := "/api/v1/audit/records"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Records []*Record `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// Verify asks the service to recompute the tenant's full chain.
func (c *Client) Verify(ctx context.Context) (*IntegrityReport, error) {
	var report IntegrityReport
	if err := c.do(ctx, http.MethodGet, "/api/v1/audit/verify", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Stats returns summary counts plus an embedded integrity report.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.do(ctx, http.MethodGet, "/api/v1/audit/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Head returns the chain length and current head hash.
func (c *Client) Head(ctx context.Context) (*Head, error) {
	var head Head
	if err := c.do(ctx, http.MethodGet, "/api/v1/audit/head", nil, &head); err != nil {
		return nil, err
	}
	return &head, nil
}

// CreateExport admits an export job. Rendering is asynchronous: poll
// GetExport (or use WaitExport) until the job reaches a terminal state.
func (c *Client) CreateExport(ctx context.Context, req ExportRequest) (*ExportJob, error) {
	var job ExportJob
	if err := c.do(ctx, http.MethodPost, "/api/v1/exports", req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetExport returns an export job by id.
func (c *Client) GetExport(ctx context.Context, id string) (*ExportJob, error) {
	var job ExportJob
	if err := c.do(ctx, http.MethodGet, "/api/v1/exports/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListExports returns the tenant's export jobs newest-first.
func (c *Client) ListExports(ctx context.Context) ([]*ExportJob, error) {
	var resp struct {
		Exports []*ExportJob `json:"exports"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/exports", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Exports, nil
}

// WaitExport polls an export job until it reaches a terminal state or
// the context is done.
func (c *Client) WaitExport(ctx context.Context, id string, interval time.Duration) (*ExportJob, error) {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := c.GetExport(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status == "completed" || job.Status == "failed" {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// SignExport attaches the signer identity to a completed export. An
// empty certificate lets the server derive one from the checksum.
func (c *Client) SignExport(ctx context.Context, id, signedBy, certificate string) (*ExportJob, error) {
	var job ExportJob
	body := map[string]string{"signedBy": signedBy}
	if certificate != "" {
		body["certificate"] = certificate
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/exports/"+url.PathEscape(id)+"/sign", body, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// CancelExport marks a pending or processing export failed.
func (c *Client) CancelExport(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/exports/"+url.PathEscape(id)+"/cancel", nil, nil)
}

// Download fetches the rendered export file. The returned filename
// comes from the server's Content-Disposition header.
func (c *Client) Download(ctx context.Context, id string) (content []byte, filename string, err error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/exports/"+url.PathEscape(id)+"/download", nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", statusError(resp)
	}

	content, err = io.ReadAll(io.LimitReader(resp.Body, 1<<28))
	if err != nil {
		return nil, "", fmt.Errorf("read download body: %w", err)
	}

	filename = filenameFromDisposition(resp.Header.Get("Content-Disposition"))
	return content, filename, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Tenant-ID", c.tenantID)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	req, err := c.newRequest(ctx, method, path, payload)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<24))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// statusError converts a non-2xx response into an error, mapping the
// well-known statuses onto sentinel errors.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var apiErr struct {
		Error string `json:"error"`
	}
	msg := ""
	if json.Unmarshal(body, &apiErr) == nil {
		msg = apiErr.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case http.StatusGone:
		return fmt.Errorf("%w: %s", ErrExpired, msg)
	default:
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, msg)
	}
}

// filenameFromDisposition extracts the filename parameter from a
// Content-Disposition header, if present.
func filenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return params["filename"]
}
