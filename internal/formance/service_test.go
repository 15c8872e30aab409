package formance

import (
	"math/big"
	"strings"
	"testing"
	"time"

	"metered-assistant-go/internal/models"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
)

// ---------- Unit tests for pure helpers (no Formance stack needed) ----------

func TestBuildPosting(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name       string
		txn        models.Transaction
		wantSource string
		wantAmount string
	}{
		{
			name:       "welcome bonus from world",
			txn:        models.Transaction{Id: "t1", AccountId: "a1", Amount: 100, Reason: models.ReasonWelcomeBonus, CreatedAt: created},
			wantSource: "source = @world",
			wantAmount: "100",
		},
		{
			name:       "admin credit from world",
			txn:        models.Transaction{Id: "t2", AccountId: "a1", Amount: 5, Reason: models.ReasonAdminCredit},
			wantSource: "source = @world",
			wantAmount: "5",
		},
		{
			name:       "refund from platform",
			txn:        models.Transaction{Id: "t3", AccountId: "a1", Amount: 1, Reason: models.ReasonRefund},
			wantSource: "source = @platform:usage",
			wantAmount: "1",
		},
		{
			name:       "usage debit to platform",
			txn:        models.Transaction{Id: "t4", AccountId: "a1", Amount: -1, Reason: models.ReasonUsageDebit},
			wantSource: "source = @accounts:$account_id",
			wantAmount: "1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			postTx, err := buildPosting(tt.txn)
			if err != nil {
				t.Fatalf("buildPosting failed: %v", err)
			}
			if postTx.Reference == nil || *postTx.Reference != tt.txn.Id {
				t.Errorf("expected reference %q", tt.txn.Id)
			}
			if !strings.Contains(postTx.Script.Plain, tt.wantSource) {
				t.Errorf("script missing %q", tt.wantSource)
			}
			vars := postTx.Script.Vars
			if vars["amount"] != tt.wantAmount {
				t.Errorf("amount = %q, want %q", vars["amount"], tt.wantAmount)
			}
			if vars["asset"] != "CREDIT/0" {
				t.Errorf("asset = %q, want CREDIT/0", vars["asset"])
			}
			if vars["account_id"] != "a1" {
				t.Errorf("account_id = %q, want a1", vars["account_id"])
			}
			if tt.txn.CreatedAt.IsZero() != (postTx.Timestamp == nil) {
				t.Errorf("timestamp presence mismatch")
			}
		})
	}
}

func TestBuildPosting_ZeroAmount(t *testing.T) {
	if _, err := buildPosting(models.Transaction{Id: "t0"}); err == nil {
		t.Error("expected error for zero amount")
	}
}

func TestRequestMetadata(t *testing.T) {
	meta := requestMetadata(&models.RequestContext{ExternalId: "1001", RequestId: "req-7"})
	if meta["external_id"] != "1001" || meta["request_id"] != "req-7" {
		t.Errorf("unexpected metadata %v", meta)
	}
	if _, ok := meta["model"]; ok {
		t.Error("empty model should be omitted")
	}
}

func TestVolumeBalance(t *testing.T) {
	vols := map[string]shared.V2Volume{
		"CREDIT/0": {Input: big.NewInt(105), Output: big.NewInt(3)},
	}
	if got := volumeBalance(vols, "CREDIT/0"); got == nil || got.Int64() != 102 {
		t.Errorf("expected 102, got %v", got)
	}

	vols["CREDIT/0"] = shared.V2Volume{Input: big.NewInt(1), Output: big.NewInt(1), Balance: big.NewInt(7)}
	if got := volumeBalance(vols, "CREDIT/0"); got == nil || got.Int64() != 7 {
		t.Errorf("expected explicit balance 7, got %v", got)
	}

	if volumeBalance(vols, "USD/2") != nil {
		t.Error("expected nil for missing asset")
	}
}

func TestIsConflictError(t *testing.T) {
	// nil error should not be a conflict
	if isConflictError(nil) {
		t.Error("nil should not be a conflict error")
	}
}
