package health_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chainproof/ledgerd/internal/health"
	"github.com/chainproof/ledgerd/internal/ledger"
)

func seededService(t *testing.T) *ledger.Service {
	t.Helper()
	svc := ledger.NewService(ledger.NewMemoryStore(), zap.NewNop())
	ctx := context.Background()
	for _, tenant := range []string{"t1", "t2"} {
		for i := 0; i < 3; i++ {
			if _, err := svc.Append(ctx, tenant, ledger.Draft{
				Entity: "invoice", Action: "CREATE", UserID: "u1",
			}); err != nil {
				t.Fatalf("seed append: %v", err)
			}
		}
	}
	return svc
}

func TestSweepAll_validChains(t *testing.T) {
	svc := seededService(t)
	sweeper := health.New(svc, health.Config{}, zap.NewNop())

	var results []bool
	sweeper.SetMetricsRecord(func(valid bool) { results = append(results, valid) })

	sweeper.SweepAll(context.Background())

	if len(results) != 2 {
		t.Fatalf("swept %d tenants, want 2", len(results))
	}
	for i, valid := range results {
		if !valid {
			t.Errorf("sweep %d reported invalid on a clean chain", i)
		}
	}
	if valid, swept := sweeper.LastResult("t1"); !swept || !valid {
		t.Errorf("LastResult(t1) = %v, %v", valid, swept)
	}
}

func TestSweepAll_detectsTampering(t *testing.T) {
	svc := seededService(t)
	sweeper := health.New(svc, health.Config{SweepInterval: time.Minute}, zap.NewNop())

	records, err := svc.Range(context.Background(), "t2", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	records[1].Action = "DELETE"

	sweeper.SweepAll(context.Background())

	if valid, swept := sweeper.LastResult("t2"); !swept || valid {
		t.Errorf("LastResult(t2) = %v, %v; want invalid", valid, swept)
	}
	if valid, _ := sweeper.LastResult("t1"); !valid {
		t.Error("t1 should remain valid")
	}
}
