package ledger_test

import (
	"testing"
	"time"

	"github.com/chainproof/ledgerd/internal/ledger"
)

func appendN(t *testing.T, svc *ledger.Service, tenant string, n int) {
	t.Helper()
	actions := []string{"CREATE", "UPDATE", "DELETE"}
	for i := 0; i < n; i++ {
		mustAppend(t, svc, tenant, ledger.Draft{
			Entity:   "invoice",
			EntityID: "inv-1",
			Action:   actions[i%len(actions)],
			UserID:   "u1",
		})
	}
}

func tenantRecords(t *testing.T, svc *ledger.Service, tenant string) []*ledger.Record {
	t.Helper()
	recs, err := svc.Range(ctx, tenant, time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	return recs
}

func TestVerifyRecords_emptyChainIsValid(t *testing.T) {
	report := ledger.VerifyRecords("t1", nil, time.Now().UTC())
	if !report.IsValid {
		t.Error("empty chain should be valid")
	}
	if report.TotalRecords != 0 || report.FirstRecordAt != nil || report.LastRecordAt != nil {
		t.Error("empty chain should report zero records and no timestamps")
	}
}

func TestVerifyRecords_detectsTamperedField(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, stepClock(start, time.Minute))
	appendN(t, svc, "t1", 5)

	recs := tenantRecords(t, svc, "t1")
	tampered := recs[2]
	tampered.Action = "DELETE_EVERYTHING"

	report, err := svc.VerifyChain(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if report.IsValid {
		t.Fatal("tampered chain reported valid")
	}
	if report.InvalidRecords != 1 {
		t.Errorf("InvalidRecords = %d, want exactly 1", report.InvalidRecords)
	}
	want := "Record " + tampered.ID + ": Hash mismatch"
	if len(report.Errors) != 1 || report.Errors[0] != want {
		t.Errorf("errors = %v, want [%q]", report.Errors, want)
	}
}

// A single corrupted record must not cascade: the verifier compares the
// following record against the corrupted record's stored hash, which is
// what append time saw, so the rest of the chain stays valid.
func TestVerifyRecords_mismatchDoesNotCascade(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, stepClock(start, time.Minute))
	appendN(t, svc, "t1", 10)

	recs := tenantRecords(t, svc, "t1")
	recs[4].UserID = "intruder"

	report, err := svc.VerifyChain(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if report.InvalidRecords != 1 || report.ValidRecords != 9 {
		t.Errorf("valid=%d invalid=%d, want 9/1", report.ValidRecords, report.InvalidRecords)
	}
}

func TestVerifyRecords_detectsChainBreak(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, stepClock(start, time.Minute))
	appendN(t, svc, "t1", 3)

	// Forge the last record: re-link it to a bogus predecessor and
	// recompute its content hash so the forgery is self-consistent.
	recs := tenantRecords(t, svc, "t1")
	forged := recs[2]
	forged.PreviousHash = "deadbeef"
	forged.Hash = ledger.ComputeHash(forged)

	report, err := svc.VerifyChain(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if report.IsValid {
		t.Fatal("forged link reported valid")
	}
	want := "Record " + forged.ID + ": Chain break detected"
	found := false
	for _, e := range report.Errors {
		if e == want {
			found = true
		}
		if e == "Record "+forged.ID+": Hash mismatch" {
			t.Error("chain break misreported as hash mismatch")
		}
	}
	if !found {
		t.Errorf("errors = %v, want chain break for %s", report.Errors, forged.ID)
	}
}

func TestVerifyRecords_detectsGap(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, stepClock(start, 25*time.Hour))
	appendN(t, svc, "t1", 2)

	report, err := svc.VerifyChain(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Gaps) != 1 {
		t.Fatalf("expected exactly 1 gap, got %d", len(report.Gaps))
	}
	gap := report.Gaps[0]
	if !gap.From.Equal(start) || !gap.To.Equal(start.Add(25*time.Hour)) {
		t.Errorf("gap window = %v..%v, want the two record timestamps", gap.From, gap.To)
	}
	if gap.MissingRecordsEstimate != 1 {
		t.Errorf("MissingRecordsEstimate = %d, want 1", gap.MissingRecordsEstimate)
	}
	// All hashes are intact; the gap alone makes the report invalid.
	if report.InvalidRecords != 0 {
		t.Errorf("InvalidRecords = %d, want 0", report.InvalidRecords)
	}
	if report.IsValid {
		t.Error("report with a gap must not be valid")
	}
}

func TestVerifyRecords_justUnderGapThreshold(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, stepClock(start, 23*time.Hour))
	appendN(t, svc, "t1", 2)

	report, err := svc.VerifyChain(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Gaps) != 0 {
		t.Errorf("expected no gaps at 23h spacing, got %d", len(report.Gaps))
	}
	if !report.IsValid {
		t.Errorf("expected valid report, errors: %v", report.Errors)
	}
}
