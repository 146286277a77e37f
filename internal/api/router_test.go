package api

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/Fantasim/btcoracle/internal/config"
	"github.com/Fantasim/btcoracle/internal/db"
)

type idleConn struct{}

func (idleConn) EVMURL() string                   { return "http://rpc.local" }
func (idleConn) Reconnecting() bool               { return false }
func (idleConn) BreakerStates() map[string]string { return map[string]string{} }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "router.sqlite"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := database.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	return NewRouter(database, idleConn{}, &config.Config{Network: "testnet"})
}

func TestNewRouter(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name   string
		method string
		host   string
		path   string
		want   int
	}{
		{"health", http.MethodGet, "localhost:8090", "/api/health", http.StatusOK},
		{"provider health", http.MethodGet, "localhost:8090", "/api/health/providers", http.StatusOK},
		{"payouts", http.MethodGet, "127.0.0.1:8090", "/api/payouts", http.StatusOK},
		{"mints", http.MethodGet, "127.0.0.1:8090", "/api/mints", http.StatusOK},
		{"unknown payout", http.MethodGet, "localhost", "/api/payouts/7", http.StatusNotFound},
		{"unknown route", http.MethodGet, "localhost", "/api/nope", http.StatusNotFound},
		{"external host", http.MethodGet, "oracle.example.com", "/api/health", http.StatusForbidden},
		{"mutation", http.MethodPost, "localhost", "/api/payouts", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Host = tt.host
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("%s %s = %d, want %d. body: %s", tt.method, tt.path, w.Code, tt.want, w.Body.String())
			}
		})
	}
}
