package export

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/chainproof/ledgerd/internal/ledger"
)

// Render serialises an ordered record slice into the configured format.
// It is a pure function of (records, config): identical inputs must
// reproduce identical bytes, because the checksum computed over the
// output is the auditor's proof that the export itself was not
// tampered with. The rendered header's generation timestamp is the
// selection window end, never wall clock.
func Render(records []*ledger.Record, cfg Config) ([]byte, error) {
	switch cfg.Format {
	case FormatJSON:
		return renderJSON(records, cfg)
	case FormatCSV:
		return renderCSV(records, cfg)
	case FormatXML:
		return renderXML(records, cfg)
	case FormatSAFT:
		return renderSAFT(records, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, cfg.Format)
	}
}

// ── JSON ─────────────────────────────────────────────────────────────

type jsonHeader struct {
	TenantID     string `json:"tenantId"`
	PeriodStart  string `json:"periodStart"`
	PeriodEnd    string `json:"periodEnd"`
	TotalRecords int    `json:"totalRecords"`
	GeneratedAt  string `json:"generatedAt"`
}

type jsonFile struct {
	Header  jsonHeader       `json:"header"`
	Records []*ledger.Record `json:"records"`
}

func renderJSON(records []*ledger.Record, cfg Config) ([]byte, error) {
	if records == nil {
		records = []*ledger.Record{}
	}
	doc := jsonFile{
		Header: jsonHeader{
			TenantID:     cfg.TenantID,
			PeriodStart:  cfg.StartDate.UTC().Format(ledger.TimestampLayout),
			PeriodEnd:    cfg.EndDate.UTC().Format(ledger.TimestampLayout),
			TotalRecords: len(records),
			GeneratedAt:  cfg.EndDate.UTC().Format(ledger.TimestampLayout),
		},
		Records: records,
	}
	return json.MarshalIndent(doc, "", "  ")
}

// ── CSV ──────────────────────────────────────────────────────────────

// csvHeader is the fixed 13-column header. Column names and order are
// part of the external contract and must not change without a version
// bump.
const csvHeader = "Record ID,Timestamp,Event Type,Entity,Entity ID,Action,User ID,User Name,Role,IP Address,Session ID,Hash,Previous Hash"

func csvQuote(v string) string {
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}

func renderCSV(records []*ledger.Record, cfg Config) ([]byte, error) {
	lines := make([]string, 0, len(records)+1)
	lines = append(lines, csvHeader)
	for _, r := range records {
		cols := []string{
			r.ID,
			r.Timestamp.UTC().Format(ledger.TimestampLayout),
			r.EventType,
			r.Entity,
			r.EntityID,
			r.Action,
			r.UserID,
			r.UserName,
			r.UserRole,
			r.IPAddress,
			r.SessionID,
			r.Hash,
			r.PreviousHash,
		}
		for i, c := range cols {
			cols[i] = csvQuote(c)
		}
		lines = append(lines, strings.Join(cols, ","))
	}
	return []byte(strings.Join(lines, "\n")), nil
}

// ── XML ──────────────────────────────────────────────────────────────

type xmlHeader struct {
	TenantID     string `xml:"TenantID"`
	PeriodStart  string `xml:"PeriodStart"`
	PeriodEnd    string `xml:"PeriodEnd"`
	TotalRecords int    `xml:"TotalRecords"`
	GeneratedAt  string `xml:"GeneratedAt"`
}

type xmlUser struct {
	UserID   string `xml:"UserID"`
	UserName string `xml:"UserName"`
	Role     string `xml:"Role"`
}

type xmlSource struct {
	IPAddress string `xml:"IPAddress"`
	SessionID string `xml:"SessionID,omitempty"`
	UserAgent string `xml:"UserAgent,omitempty"`
}

type xmlIntegrity struct {
	Hash         string `xml:"Hash"`
	PreviousHash string `xml:"PreviousHash"`
	Signature    string `xml:"Signature,omitempty"`
}

type xmlRecord struct {
	RecordID  string       `xml:"RecordID"`
	Timestamp string       `xml:"Timestamp"`
	EventType string       `xml:"EventType"`
	Entity    string       `xml:"Entity"`
	EntityID  string       `xml:"EntityID"`
	Action    string       `xml:"Action"`
	User      xmlUser      `xml:"User"`
	Source    xmlSource    `xml:"Source"`
	Integrity xmlIntegrity `xml:"Integrity"`
}

type xmlAuditFile struct {
	XMLName xml.Name    `xml:"AuditFile"`
	Header  xmlHeader   `xml:"Header"`
	Records []xmlRecord `xml:"AuditRecords>AuditRecord"`
}

func renderXML(records []*ledger.Record, cfg Config) ([]byte, error) {
	doc := xmlAuditFile{
		Header: xmlHeader{
			TenantID:     cfg.TenantID,
			PeriodStart:  cfg.StartDate.UTC().Format(ledger.TimestampLayout),
			PeriodEnd:    cfg.EndDate.UTC().Format(ledger.TimestampLayout),
			TotalRecords: len(records),
			GeneratedAt:  cfg.EndDate.UTC().Format(ledger.TimestampLayout),
		},
	}
	for _, r := range records {
		rec := xmlRecord{
			RecordID:  r.ID,
			Timestamp: r.Timestamp.UTC().Format(ledger.TimestampLayout),
			EventType: r.EventType,
			Entity:    r.Entity,
			EntityID:  r.EntityID,
			Action:    r.Action,
			User: xmlUser{
				UserID:   r.UserID,
				UserName: r.UserName,
				Role:     r.UserRole,
			},
			Source: xmlSource{
				IPAddress: r.IPAddress,
				SessionID: r.SessionID,
				UserAgent: r.UserAgent,
			},
			Integrity: xmlIntegrity{
				Hash:         r.Hash,
				PreviousHash: r.PreviousHash,
			},
		}
		if cfg.IncludeSignatures {
			rec.Integrity.Signature = r.Signature
		}
		doc.Records = append(doc.Records, rec)
	}
	return marshalXMLDocument(doc)
}

// ── SAF-T (OECD audit-file subset) ───────────────────────────────────

type saftSelectionCriteria struct {
	SelectionStartDate string `xml:"SelectionStartDate"`
	SelectionEndDate   string `xml:"SelectionEndDate"`
}

type saftHeader struct {
	AuditFileVersion  string                `xml:"AuditFileVersion"`
	Sender            string                `xml:"Sender"`
	SelectionCriteria saftSelectionCriteria `xml:"SelectionCriteria"`
	NumberOfEntries   int                   `xml:"NumberOfEntries"`
}

type saftEntry struct {
	RecordID        string `xml:"RecordID"`
	Period          int    `xml:"Period"`
	TransactionDate string `xml:"TransactionDate"`
	TransactionType string `xml:"TransactionType"`
	Description     string `xml:"Description"`
	UserID          string `xml:"UserID"`
	SourceID        string `xml:"SourceID"`
	Hash            string `xml:"Hash"`
}

type saftFile struct {
	XMLName xml.Name    `xml:"AuditFile"`
	Header  saftHeader  `xml:"Header"`
	Entries []saftEntry `xml:"SourceDocuments>AuditTrail>AuditEntry"`
}

// saftVersion identifies the audit-file layout handed to tax
// authorities. Bump on any structural change.
const saftVersion = "1.0"

func renderSAFT(records []*ledger.Record, cfg Config) ([]byte, error) {
	doc := saftFile{
		Header: saftHeader{
			AuditFileVersion: saftVersion,
			Sender:           cfg.TenantID,
			SelectionCriteria: saftSelectionCriteria{
				SelectionStartDate: cfg.StartDate.UTC().Format("2006-01-02"),
				SelectionEndDate:   cfg.EndDate.UTC().Format("2006-01-02"),
			},
			NumberOfEntries: len(records),
		},
	}
	for _, r := range records {
		ts := r.Timestamp.UTC()
		doc.Entries = append(doc.Entries, saftEntry{
			RecordID:        r.ID,
			Period:          int(ts.Month()),
			TransactionDate: ts.Format("2006-01-02"),
			TransactionType: r.Action,
			Description:     fmt.Sprintf("%s %s %s", r.Action, r.Entity, r.EntityID),
			UserID:          r.UserID,
			SourceID:        r.IPAddress,
			Hash:            r.Hash,
		})
	}
	return marshalXMLDocument(doc)
}

func marshalXMLDocument(doc any) ([]byte, error) {
	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal xml: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.Write(body)
	return buf.Bytes(), nil
}
