package db

import (
	"testing"

	"github.com/Fantasim/btcoracle/internal/config"
)

func TestRecordMint(t *testing.T) {
	d := setupTestDB(t)

	rejected := MintRow{
		BTCTxHash: "aa", Claimant: "0x1", Sender: "", AmountSats: "0",
		Status: config.MintStatusRejected, Error: "ambiguous sender",
	}
	stored, err := d.RecordMint(rejected)
	if err != nil {
		t.Fatalf("RecordMint(rejected) error = %v", err)
	}
	if !stored {
		t.Error("RecordMint(rejected) stored = false")
	}

	submitted := MintRow{
		BTCTxHash: "aa", Claimant: "0x2", Sender: "mipc", AmountSats: "5000",
		EVMTxHash: "0xbeef", Status: config.MintStatusSubmitted,
	}
	stored, err = d.RecordMint(submitted)
	if err != nil {
		t.Fatalf("RecordMint(submitted) error = %v", err)
	}
	if !stored {
		t.Error("RecordMint() did not replace a rejected record")
	}

	got, err := d.GetMint("aa")
	if err != nil {
		t.Fatalf("GetMint() error = %v", err)
	}
	if got.Status != config.MintStatusSubmitted || got.Claimant != "0x2" || got.Error != "" || got.EVMTxHash != "0xbeef" {
		t.Errorf("GetMint() = %+v", got)
	}

	stored, err = d.RecordMint(MintRow{BTCTxHash: "aa", Claimant: "0x3", Status: config.MintStatusRejected})
	if err != nil {
		t.Fatalf("RecordMint() after submit error = %v", err)
	}
	if stored {
		t.Error("RecordMint() overwrote a submitted mint")
	}

	got, _ = d.GetMint("aa")
	if got.Claimant != "0x2" {
		t.Errorf("claimant = %s after ignored record, want 0x2", got.Claimant)
	}
}

func TestGetMint_Missing(t *testing.T) {
	d := setupTestDB(t)

	got, err := d.GetMint("missing")
	if err != nil {
		t.Fatalf("GetMint() error = %v", err)
	}
	if got != nil {
		t.Errorf("GetMint() = %+v, want nil", got)
	}
}

func TestListMints(t *testing.T) {
	d := setupTestDB(t)

	for _, h := range []string{"a", "b"} {
		if _, err := d.RecordMint(MintRow{BTCTxHash: h, Claimant: "0x1", Status: config.MintStatusSubmitted}); err != nil {
			t.Fatalf("RecordMint(%s) error = %v", h, err)
		}
	}

	mints, err := d.ListMints(1)
	if err != nil {
		t.Fatalf("ListMints() error = %v", err)
	}
	if len(mints) != 1 || mints[0].BTCTxHash != "b" {
		t.Errorf("ListMints(1) = %+v, want newest only", mints)
	}
}
