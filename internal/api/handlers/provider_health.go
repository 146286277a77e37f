package handlers

import (
	"log/slog"
	"net/http"

	"github.com/Fantasim/btcoracle/internal/config"
	"github.com/Fantasim/btcoracle/internal/db"
)

// ProviderHealthStore reads stored provider health.
type ProviderHealthStore interface {
	GetAllProviderHealth() ([]db.ProviderHealthRow, error)
}

// GetProviderHealth returns a handler for GET /api/health/providers, listing
// the last stored breaker state of every Bitcoin provider.
func GetProviderHealth(store ProviderHealthStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("provider health requested", "remoteAddr", r.RemoteAddr)

		rows, err := store.GetAllProviderHealth()
		if err != nil {
			slog.Error("failed to get provider health", "error", err)
			writeError(w, http.StatusInternalServerError, config.ErrorDatabase, "failed to fetch provider health")
			return
		}
		if rows == nil {
			rows = []db.ProviderHealthRow{}
		}

		slog.Debug("provider health response", "providerCount", len(rows))
		writeJSON(w, http.StatusOK, rows)
	}
}
