package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chainproof/ledgerd/pkg/client"
)

// ── Stub server ─────────────────────────────────────────────────────

func stubLedgerServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	requireTenant := func(w http.ResponseWriter, r *http.Request) bool {
		if r.Header.Get("X-Tenant-ID") == "" {
			http.Error(w, `{"error":"missing X-Tenant-ID header"}`, http.StatusBadRequest)
			return false
		}
		return true
	}

	mux.HandleFunc("/api/v1/audit/records", func(w http.ResponseWriter, r *http.Request) {
		if !requireTenant(w, r) {
			return
		}
		switch r.Method {
		case http.MethodPost:
			var draft map[string]any
			json.NewDecoder(r.Body).Decode(&draft) //nolint:errcheck
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{
				"id":           "rec-1",
				"tenantId":     r.Header.Get("X-Tenant-ID"),
				"timestamp":    "2025-03-10T00:00:00Z",
				"eventType":    "invoice.CREATE",
				"entity":       draft["entity"],
				"action":       draft["action"],
				"hash":         "aaaa",
				"previousHash": "",
			})
		case http.MethodGet:
			if from := r.URL.Query().Get("from"); from != "" && from != "2025-03-01T00:00:00Z" {
				http.Error(w, `{"error":"unexpected window"}`, http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"records": []map[string]any{{"id": "rec-1", "hash": "aaaa"}},
				"count":   1,
			})
		}
	})

	mux.HandleFunc("/api/v1/audit/verify", func(w http.ResponseWriter, r *http.Request) {
		if !requireTenant(w, r) {
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"tenantId":     r.Header.Get("X-Tenant-ID"),
			"isValid":      false,
			"totalRecords": 2,
			"errors":       []string{"Record rec-2: Hash mismatch"},
		})
	})

	mux.HandleFunc("/api/v1/audit/head", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"records": 2, "head": "bbbb"})
	})

	mux.HandleFunc("/api/v1/exports", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]any{"id": "job-1", "status": "pending"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"exports": []map[string]any{{"id": "job-1", "status": "completed"}},
			"count":   1,
		})
	})

	var polls int
	mux.HandleFunc("/api/v1/exports/", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch {
		case strings.HasSuffix(path, "/download"):
			if strings.Contains(path, "gone-job") {
				http.Error(w, `{"error":"export download expired"}`, http.StatusGone)
				return
			}
			w.Header().Set("Content-Disposition", `attachment; filename="audit_t1_2025-03-01_2025-03-31.csv"`)
			w.Header().Set("Content-Type", "text/csv")
			w.Write([]byte("Record ID,Timestamp\n")) //nolint:errcheck
		case strings.HasSuffix(path, "/sign"):
			json.NewEncoder(w).Encode(map[string]any{
				"id": "job-1", "status": "completed", "signedBy": "auditor",
			})
		case strings.Contains(path, "missing"):
			http.Error(w, `{"error":"export not found"}`, http.StatusNotFound)
		default:
			polls++
			status := "processing"
			if polls >= 2 {
				status = "completed"
			}
			json.NewEncoder(w).Encode(map[string]any{"id": "job-1", "status": status})
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T) *client.Client {
	t.Helper()
	srv := stubLedgerServer(t)
	return client.New(srv.URL, "t1")
}

func TestAppendRecord(t *testing.T) {
	c := newTestClient(t)

	rec, err := c.AppendRecord(context.Background(), client.Draft{
		Entity: "invoice", Action: "CREATE", UserID: "u1",
	})
	if err != nil {
		t.Fatalf("AppendRecord: %v", err)
	}
	if rec.ID != "rec-1" || rec.EventType != "invoice.CREATE" {
		t.Errorf("record = %+v", rec)
	}
	if rec.PreviousHash != "" {
		t.Errorf("previousHash = %q, want sentinel", rec.PreviousHash)
	}
}

func TestRecords_window(t *testing.T) {
	c := newTestClient(t)

	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	records, err := c.Records(context.Background(), from, time.Time{})
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(records) != 1 || records[0].ID != "rec-1" {
		t.Errorf("records = %+v", records)
	}
}

func TestVerify(t *testing.T) {
	c := newTestClient(t)

	report, err := c.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if report.IsValid {
		t.Error("expected invalid report")
	}
	if len(report.Errors) != 1 || !strings.Contains(report.Errors[0], "Hash mismatch") {
		t.Errorf("errors = %v", report.Errors)
	}
}

func TestHead(t *testing.T) {
	c := newTestClient(t)

	head, err := c.Head(context.Background())
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if head.Records != 2 || head.Head != "bbbb" {
		t.Errorf("head = %+v", head)
	}
}

func TestWaitExport_pollsToTerminal(t *testing.T) {
	c := newTestClient(t)

	job, err := c.WaitExport(context.Background(), "job-1", 5*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitExport: %v", err)
	}
	if job.Status != "completed" {
		t.Errorf("status = %s", job.Status)
	}
}

func TestSignExport(t *testing.T) {
	c := newTestClient(t)

	job, err := c.SignExport(context.Background(), "job-1", "auditor", "")
	if err != nil {
		t.Fatalf("SignExport: %v", err)
	}
	if job.SignedBy != "auditor" {
		t.Errorf("signedBy = %q", job.SignedBy)
	}
}

func TestDownload(t *testing.T) {
	c := newTestClient(t)

	content, filename, err := c.Download(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if filename != "audit_t1_2025-03-01_2025-03-31.csv" {
		t.Errorf("filename = %q", filename)
	}
	if !strings.HasPrefix(string(content), "Record ID") {
		t.Errorf("content = %q", content)
	}
}

func TestDownload_expired(t *testing.T) {
	c := newTestClient(t)

	_, _, err := c.Download(context.Background(), "gone-job")
	if !errors.Is(err, client.ErrExpired) {
		t.Errorf("err = %v, want ErrExpired", err)
	}
}

func TestGetExport_notFound(t *testing.T) {
	c := newTestClient(t)

	_, err := c.GetExport(context.Background(), "missing")
	if !errors.Is(err, client.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
