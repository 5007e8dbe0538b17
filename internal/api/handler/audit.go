package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chainproof/ledgerd/internal/ledger"
)

// tenantHeader carries the tenant identity on every audit request.
const tenantHeader = "X-Tenant-ID"

// AuditHandler exposes HTTP endpoints for the audit ledger: appends,
// range reads, integrity verification and summary statistics.
type AuditHandler struct {
	svc    *ledger.Service
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(svc *ledger.Service, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{svc: svc, logger: logger}
}

// Register mounts the audit routes on the given router group.
func (h *AuditHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/audit")
	{
		a.POST("/records", h.AppendRecord)
		a.GET("/records", h.ListRecords)
		a.GET("/verify", h.Verify)
		a.GET("/stats", h.Stats)
		a.GET("/head", h.Head)
	}
}

// tenant extracts the tenant id header, aborting with 400 if absent.
func tenant(c *gin.Context) (string, bool) {
	id := c.GetHeader(tenantHeader)
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + tenantHeader + " header"})
		return "", false
	}
	return id, true
}

// AppendRecord handles POST /audit/records — appends one record to the
// tenant's chain.
func (h *AuditHandler) AppendRecord(c *gin.Context) {
	tenantID, ok := tenant(c)
	if !ok {
		return
	}

	var draft ledger.Draft
	if err := c.ShouldBindJSON(&draft); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if draft.IPAddress == "" {
		draft.IPAddress = c.ClientIP()
	}
	if draft.UserAgent == "" {
		draft.UserAgent = c.Request.UserAgent()
	}

	record, err := h.svc.Append(c.Request.Context(), tenantID, draft)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidDraft) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("append failed", zap.String("tenant_id", tenantID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to append record"})
		return
	}

	RecordAppend(tenantID)
	c.JSON(http.StatusCreated, record)
}

// ListRecords handles GET /audit/records?from=&to= — returns the
// tenant's records in append order, optionally bounded by an RFC 3339
// time window.
func (h *AuditHandler) ListRecords(c *gin.Context) {
	tenantID, ok := tenant(c)
	if !ok {
		return
	}

	from, ok := timeQuery(c, "from")
	if !ok {
		return
	}
	to, ok := timeQuery(c, "to")
	if !ok {
		return
	}

	records, err := h.svc.Range(c.Request.Context(), tenantID, from, to)
	if err != nil {
		h.logger.Error("range failed", zap.String("tenant_id", tenantID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to read records"})
		return
	}
	if records == nil {
		records = []*ledger.Record{}
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"count":   len(records),
	})
}

// Verify handles GET /audit/verify — recomputes the tenant's full chain
// and reports integrity. A broken chain is still a 200: the report IS
// the answer.
func (h *AuditHandler) Verify(c *gin.Context) {
	tenantID, ok := tenant(c)
	if !ok {
		return
	}

	report, err := h.svc.VerifyChain(c.Request.Context(), tenantID)
	if err != nil {
		h.logger.Error("verify failed", zap.String("tenant_id", tenantID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to verify chain"})
		return
	}

	RecordVerification(report.IsValid)
	c.JSON(http.StatusOK, report)
}

// Stats handles GET /audit/stats — summary counts plus an embedded
// integrity report.
func (h *AuditHandler) Stats(c *gin.Context) {
	tenantID, ok := tenant(c)
	if !ok {
		return
	}

	stats, err := h.svc.Stats(c.Request.Context(), tenantID)
	if err != nil {
		h.logger.Error("stats failed", zap.String("tenant_id", tenantID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to compute stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// Head handles GET /audit/head — returns the chain length and current
// head hash.
func (h *AuditHandler) Head(c *gin.Context) {
	tenantID, ok := tenant(c)
	if !ok {
		return
	}

	count, head, err := h.svc.Head(c.Request.Context(), tenantID)
	if err != nil {
		h.logger.Error("head failed", zap.String("tenant_id", tenantID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to read chain head"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records": count,
		"head":    head,
	})
}

// timeQuery parses an optional RFC 3339 query parameter, aborting with
// 400 on malformed input. A missing parameter yields the zero time.
func timeQuery(c *gin.Context, name string) (time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be RFC 3339"})
		return time.Time{}, false
	}
	return t, true
}
