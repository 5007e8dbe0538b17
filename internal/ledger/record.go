package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// SentinelHash is the previous-hash value of the first record in a
// tenant's chain. All subsequent records chain from their predecessor's
// content hash.
const SentinelHash = ""

// TimestampLayout is the canonical timestamp encoding used for hashing
// and for all export formats. Auditors re-deriving a record hash from an
// exported file must reproduce this format exactly.
const TimestampLayout = time.RFC3339Nano

// Record is a single immutable entry in a tenant's audit ledger.
type Record struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	Timestamp time.Time `json:"timestamp"`

	EventType string `json:"eventType"` // "entity.action" composite
	Entity    string `json:"entity"`
	EntityID  string `json:"entityId"`
	Action    string `json:"action"`

	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	UserRole  string `json:"userRole"`
	IPAddress string `json:"ipAddress"`
	UserAgent string `json:"userAgent,omitempty"`
	SessionID string `json:"sessionId,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`

	Hash         string `json:"hash"`
	PreviousHash string `json:"previousHash"`
	Signature    string `json:"signature,omitempty"` // reserved, never set at append time
}

// ComputeHash returns the hex-encoded SHA-256 content hash of a record.
// The digest covers a fixed, ordered field subset; PreviousHash is part
// of the input, Hash itself is not. Pure function, no I/O.
func ComputeHash(r *Record) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s|%s|%s",
		r.ID, r.Timestamp.UTC().Format(TimestampLayout),
		r.EventType, r.Entity, r.EntityID, r.Action,
		r.UserID, r.PreviousHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}
