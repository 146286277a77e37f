package handlers

import (
	"net/http"
	"testing"

	"github.com/Fantasim/btcoracle/internal/config"
)

type fakeConn struct {
	url          string
	reconnecting bool
}

func (c fakeConn) EVMURL() string     { return c.url }
func (c fakeConn) Reconnecting() bool { return c.reconnecting }
func (c fakeConn) BreakerStates() map[string]string {
	return map[string]string{"esplora": config.CircuitClosed, "node": config.CircuitOpen}
}

func TestHealthHandler(t *testing.T) {
	cfg := &config.Config{Network: "testnet", ContractAddress: "0x00000000000000000000000000000000000000aa"}

	tests := []struct {
		name       string
		conn       fakeConn
		wantStatus string
	}{
		{"connected", fakeConn{url: "http://rpc"}, "ok"},
		{"reconnecting", fakeConn{url: "http://rpc", reconnecting: true}, "degraded"},
		{"disconnected", fakeConn{}, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, "/api/health", HealthHandler(cfg, tt.conn, "1.2.3"), "/api/health")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}

			var got healthResponse
			decodeData(t, w, &got)

			if got.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", got.Status, tt.wantStatus)
			}
			if got.Version != "1.2.3" || got.Network != "testnet" || got.Contract != cfg.ContractAddress {
				t.Errorf("got %+v", got)
			}
			if got.Breakers["node"] != config.CircuitOpen {
				t.Errorf("breakers = %v", got.Breakers)
			}
		})
	}
}
