package db

import (
	"testing"

	"github.com/Fantasim/btcoracle/internal/config"
)

func TestEnsureProviderHealth(t *testing.T) {
	d := setupTestDB(t)

	if err := d.EnsureProviderHealth("blockstream", "esplora"); err != nil {
		t.Fatalf("EnsureProviderHealth() error = %v", err)
	}
	if err := d.RecordCircuitTransition("blockstream", config.CircuitOpen, 3); err != nil {
		t.Fatalf("RecordCircuitTransition() error = %v", err)
	}
	// A restart must not reset the recorded state.
	if err := d.EnsureProviderHealth("blockstream", "esplora"); err != nil {
		t.Fatalf("EnsureProviderHealth() again error = %v", err)
	}

	got, err := d.GetProviderHealth("blockstream")
	if err != nil {
		t.Fatalf("GetProviderHealth() error = %v", err)
	}
	if got.CircuitState != config.CircuitOpen || got.Status != config.ProviderStatusDown {
		t.Errorf("got %+v, want open/down", got)
	}
}

func TestRecordCircuitTransition(t *testing.T) {
	tests := []struct {
		state       string
		wantStatus  string
		wantSuccess bool
		wantError   bool
	}{
		{config.CircuitOpen, config.ProviderStatusDown, false, true},
		{config.CircuitHalfOpen, config.ProviderStatusDegraded, false, false},
		{config.CircuitClosed, config.ProviderStatusHealthy, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			d := setupTestDB(t)
			if err := d.EnsureProviderHealth("node", "node"); err != nil {
				t.Fatalf("EnsureProviderHealth() error = %v", err)
			}

			if err := d.RecordCircuitTransition("node", tt.state, 2); err != nil {
				t.Fatalf("RecordCircuitTransition() error = %v", err)
			}

			got, err := d.GetProviderHealth("node")
			if err != nil {
				t.Fatalf("GetProviderHealth() error = %v", err)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", got.Status, tt.wantStatus)
			}
			if got.ConsecutiveFails != 2 {
				t.Errorf("consecutiveFails = %d, want 2", got.ConsecutiveFails)
			}
			if (got.LastSuccess != "") != tt.wantSuccess {
				t.Errorf("lastSuccess = %q", got.LastSuccess)
			}
			if (got.LastError != "") != tt.wantError {
				t.Errorf("lastError = %q", got.LastError)
			}
		})
	}
}

func TestRecordCircuitTransition_UnknownProvider(t *testing.T) {
	d := setupTestDB(t)

	if err := d.RecordCircuitTransition("ghost", config.CircuitOpen, 1); err != nil {
		t.Errorf("RecordCircuitTransition() unknown provider error = %v, want nil", err)
	}
	got, err := d.GetProviderHealth("ghost")
	if err != nil {
		t.Fatalf("GetProviderHealth() error = %v", err)
	}
	if got != nil {
		t.Errorf("GetProviderHealth() = %+v, want nil", got)
	}
}

func TestGetAllProviderHealth(t *testing.T) {
	d := setupTestDB(t)

	for _, name := range []string{"mempool", "blockstream"} {
		if err := d.EnsureProviderHealth(name, "esplora"); err != nil {
			t.Fatalf("EnsureProviderHealth(%s) error = %v", name, err)
		}
	}

	all, err := d.GetAllProviderHealth()
	if err != nil {
		t.Fatalf("GetAllProviderHealth() error = %v", err)
	}
	if len(all) != 2 || all[0].ProviderName != "blockstream" {
		t.Errorf("GetAllProviderHealth() = %+v", all)
	}
}
