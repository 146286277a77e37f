package handlers

import (
	"net/http"
	"testing"

	"github.com/Fantasim/btcoracle/internal/config"
	"github.com/Fantasim/btcoracle/internal/db"
)

const mintHash = "ab00000000000000000000000000000000000000000000000000000000000000"

func seedJournal(t *testing.T, database *db.DB) {
	t.Helper()

	for _, burnID := range []string{"1", "2", "3"} {
		if _, _, err := database.ClaimPayout(burnID, "tb1qdest", "1000"); err != nil {
			t.Fatalf("ClaimPayout() error = %v", err)
		}
	}
	row, _ := database.GetPayoutByBurnID("2")
	if err := database.MarkPayoutSigned(row.ID, "cd00", "0100", "200", "800"); err != nil {
		t.Fatalf("MarkPayoutSigned() error = %v", err)
	}

	if _, err := database.RecordMint(db.MintRow{
		BTCTxHash:  mintHash,
		Claimant:   "0x9999999999999999999999999999999999999999",
		Sender:     "mzsender",
		AmountSats: "42000",
		EVMTxHash:  "0xminted",
		Status:     config.MintStatusSubmitted,
	}); err != nil {
		t.Fatalf("RecordMint() error = %v", err)
	}
}

func TestListPayouts(t *testing.T) {
	database := setupTestDB(t)
	seedJournal(t, database)

	tests := []struct {
		name      string
		target    string
		wantCount int
	}{
		{"all", "/api/payouts", 3},
		{"by status", "/api/payouts?status=signed", 1},
		{"status is case-insensitive", "/api/payouts?status=BUILDING", 2},
		{"limit", "/api/payouts?limit=2", 2},
		{"bad limit falls back to default", "/api/payouts?limit=abc", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, "/api/payouts", ListPayouts(database), tt.target)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200. body: %s", w.Code, w.Body.String())
			}

			var rows []db.PayoutRow
			decodeData(t, w, &rows)
			if len(rows) != tt.wantCount {
				t.Errorf("rows = %d, want %d", len(rows), tt.wantCount)
			}
		})
	}
}

func TestListPayouts_UnknownStatus(t *testing.T) {
	database := setupTestDB(t)

	w := serve(t, "/api/payouts", ListPayouts(database), "/api/payouts?status=pending")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if code := decodeErrorCode(t, w); code != config.ErrorInvalidRequest {
		t.Errorf("error code = %q, want %q", code, config.ErrorInvalidRequest)
	}
}

func TestGetPayout(t *testing.T) {
	database := setupTestDB(t)
	seedJournal(t, database)

	w := serve(t, "/api/payouts/{burnId}", GetPayout(database), "/api/payouts/2")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200. body: %s", w.Code, w.Body.String())
	}

	var row db.PayoutRow
	decodeData(t, w, &row)
	if row.BurnID != "2" || row.Status != config.PayoutStatusSigned || row.BTCTxHash != "cd00" {
		t.Errorf("row = %+v", row)
	}
	if row.RawTx != "" {
		t.Error("raw transaction exposed over the API")
	}

	w = serve(t, "/api/payouts/{burnId}", GetPayout(database), "/api/payouts/99")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing payout status = %d, want 404", w.Code)
	}
}

func TestMints(t *testing.T) {
	database := setupTestDB(t)
	seedJournal(t, database)

	w := serve(t, "/api/mints", ListMints(database), "/api/mints")
	var rows []db.MintRow
	decodeData(t, w, &rows)
	if len(rows) != 1 || rows[0].AmountSats != "42000" {
		t.Errorf("rows = %+v", rows)
	}

	w = serve(t, "/api/mints/{txHash}", GetMint(database), "/api/mints/AB00000000000000000000000000000000000000000000000000000000000000")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200. body: %s", w.Code, w.Body.String())
	}
	var row db.MintRow
	decodeData(t, w, &row)
	if row.Status != config.MintStatusSubmitted || row.EVMTxHash != "0xminted" {
		t.Errorf("row = %+v", row)
	}

	w = serve(t, "/api/mints/{txHash}", GetMint(database), "/api/mints/ff")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing mint status = %d, want 404", w.Code)
	}
}
