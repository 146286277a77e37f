package handlers

import (
	"log/slog"
	"net/http"

	"github.com/Fantasim/btcoracle/internal/config"
)

// ConnectionStatus reports the live state of the oracle's chain connections.
type ConnectionStatus interface {
	EVMURL() string
	Reconnecting() bool
	BreakerStates() map[string]string
}

type healthResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version"`
	Network      string            `json:"network"`
	Contract     string            `json:"contract"`
	EVMConnected bool              `json:"evmConnected"`
	Reconnecting bool              `json:"reconnecting"`
	Breakers     map[string]string `json:"breakers"`
}

// HealthHandler returns a handler for GET /api/health. The status is
// "degraded" while the EVM connection is down or being re-established.
func HealthHandler(cfg *config.Config, conn ConnectionStatus, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("health check requested", "remoteAddr", r.RemoteAddr)

		resp := healthResponse{
			Status:       "ok",
			Version:      version,
			Network:      cfg.Network,
			Contract:     cfg.ContractAddress,
			EVMConnected: conn.EVMURL() != "",
			Reconnecting: conn.Reconnecting(),
			Breakers:     conn.BreakerStates(),
		}
		if !resp.EVMConnected || resp.Reconnecting {
			resp.Status = "degraded"
		}

		writeJSON(w, http.StatusOK, resp)
	}
}
