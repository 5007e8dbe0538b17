package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chainproof/ledgerd/internal/export"
)

// ExportHandler exposes the export job lifecycle over HTTP: creation,
// listing, signing, cancellation and download.
type ExportHandler struct {
	mgr    *export.Manager
	logger *zap.Logger
}

// NewExportHandler creates a new ExportHandler.
func NewExportHandler(mgr *export.Manager, logger *zap.Logger) *ExportHandler {
	return &ExportHandler{mgr: mgr, logger: logger}
}

// Register mounts the export routes on the given router group.
func (h *ExportHandler) Register(rg *gin.RouterGroup) {
	e := rg.Group("/exports")
	{
		e.POST("", h.CreateExport)
		e.GET("", h.ListExports)
		e.GET("/:id", h.GetExport)
		e.POST("/:id/sign", h.SignExport)
		e.POST("/:id/cancel", h.CancelExport)
		e.GET("/:id/download", h.Download)
	}
}

// exportRequest is the wire shape of an export creation request. Dates
// are RFC 3339.
type exportRequest struct {
	StartDate          time.Time `json:"startDate"`
	EndDate            time.Time `json:"endDate"`
	Format             string    `json:"format"`
	AuditStandard      string    `json:"auditStandard"`
	IncludeAttachments bool      `json:"includeAttachments"`
	IncludeSignatures  bool      `json:"includeSignatures"`
}

// CreateExport handles POST /exports — admits an export job. The job is
// rendered asynchronously, so the response is 202 with the job in its
// initial state; an unsupported format comes back as an already-failed
// job, not an HTTP error.
func (h *ExportHandler) CreateExport(c *gin.Context) {
	tenantID, ok := tenant(c)
	if !ok {
		return
	}

	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	job, err := h.mgr.CreateExport(c.Request.Context(), export.Config{
		TenantID:           tenantID,
		StartDate:          req.StartDate,
		EndDate:            req.EndDate,
		Format:             export.Format(req.Format),
		AuditStandard:      req.AuditStandard,
		IncludeAttachments: req.IncludeAttachments,
		IncludeSignatures:  req.IncludeSignatures,
	})
	if err != nil {
		h.logger.Error("create export failed", zap.String("tenant_id", tenantID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to create export"})
		return
	}

	c.JSON(http.StatusAccepted, job)
}

// ListExports handles GET /exports — the tenant's jobs newest-first.
func (h *ExportHandler) ListExports(c *gin.Context) {
	tenantID, ok := tenant(c)
	if !ok {
		return
	}

	jobs, err := h.mgr.ListExports(c.Request.Context(), tenantID)
	if err != nil {
		h.logger.Error("list exports failed", zap.String("tenant_id", tenantID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to list exports"})
		return
	}
	if jobs == nil {
		jobs = []*export.Job{}
	}

	c.JSON(http.StatusOK, gin.H{
		"exports": jobs,
		"count":   len(jobs),
	})
}

// GetExport handles GET /exports/:id.
func (h *ExportHandler) GetExport(c *gin.Context) {
	job, ok := h.tenantJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, job)
}

// signRequest carries the signer identity for SignExport. Certificate
// is optional; the manager derives one when absent.
type signRequest struct {
	SignedBy    string `json:"signedBy" binding:"required"`
	Certificate string `json:"certificate"`
}

// SignExport handles POST /exports/:id/sign — attaches the signer and
// certificate to a completed export.
func (h *ExportHandler) SignExport(c *gin.Context) {
	if _, ok := h.tenantJob(c); !ok {
		return
	}

	var req signRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "signedBy is required"})
		return
	}

	job, err := h.mgr.Sign(c.Request.Context(), c.Param("id"), req.SignedBy, req.Certificate)
	if err != nil {
		if errors.Is(err, export.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "export not found or not completed"})
			return
		}
		h.logger.Error("sign export failed", zap.String("job_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to sign export"})
		return
	}

	c.JSON(http.StatusOK, job)
}

// CancelExport handles POST /exports/:id/cancel — marks a pending or
// processing job failed. Ledger records are untouched.
func (h *ExportHandler) CancelExport(c *gin.Context) {
	if _, ok := h.tenantJob(c); !ok {
		return
	}

	if err := h.mgr.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, export.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "export not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// Download handles GET /exports/:id/download — streams the rendered
// file with its deterministic filename. Expired downloads are 410.
func (h *ExportHandler) Download(c *gin.Context) {
	if _, ok := h.tenantJob(c); !ok {
		return
	}

	content, job, err := h.mgr.Content(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, export.ErrExpired):
			c.JSON(http.StatusGone, gin.H{"error": "export download expired"})
		case errors.Is(err, export.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "export not found or not completed"})
		default:
			h.logger.Error("download failed", zap.String("job_id", c.Param("id")), zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to read export"})
		}
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+job.Config.Filename()+`"`)
	c.Header("X-Checksum-SHA256", job.Checksum)
	c.Data(http.StatusOK, job.Config.ContentType(), content)
}

// tenantJob loads the job named in the path and enforces that it
// belongs to the request's tenant. Cross-tenant ids read as not found.
func (h *ExportHandler) tenantJob(c *gin.Context) (*export.Job, bool) {
	tenantID, ok := tenant(c)
	if !ok {
		return nil, false
	}

	job, err := h.mgr.GetExport(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, export.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "export not found"})
			return nil, false
		}
		h.logger.Error("get export failed", zap.String("job_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to read export"})
		return nil, false
	}
	if job.TenantID != tenantID {
		c.JSON(http.StatusNotFound, gin.H{"error": "export not found"})
		return nil, false
	}
	return job, true
}
