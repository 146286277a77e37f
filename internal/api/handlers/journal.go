package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Fantasim/btcoracle/internal/config"
	"github.com/Fantasim/btcoracle/internal/db"
)

// JournalStore reads the payout and mint journal.
type JournalStore interface {
	ListPayouts(status string, limit int) ([]db.PayoutRow, error)
	GetPayoutByBurnID(burnID string) (*db.PayoutRow, error)
	ListMints(limit int) ([]db.MintRow, error)
	GetMint(btcTxHash string) (*db.MintRow, error)
}

var payoutStatuses = map[string]bool{
	config.PayoutStatusBuilding:  true,
	config.PayoutStatusSigned:    true,
	config.PayoutStatusBroadcast: true,
	config.PayoutStatusValidated: true,
	config.PayoutStatusFailed:    true,
}

// ListPayouts handles GET /api/payouts?status=&limit=.
func ListPayouts(store JournalStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		status := strings.ToLower(r.URL.Query().Get("status"))
		if status != "" && !payoutStatuses[status] {
			slog.Warn("invalid payout status filter", "status", status)
			writeError(w, http.StatusBadRequest, config.ErrorInvalidRequest, "unknown payout status: "+status)
			return
		}
		limit := parseIntParam(r, "limit", config.JournalListLimit)

		rows, err := store.ListPayouts(status, limit)
		if err != nil {
			slog.Error("failed to list payouts", "status", status, "error", err)
			writeError(w, http.StatusInternalServerError, config.ErrorDatabase, "failed to list payouts")
			return
		}
		if rows == nil {
			rows = []db.PayoutRow{}
		}

		slog.Debug("payouts listed",
			"status", status,
			"count", len(rows),
			"duration", time.Since(start),
		)
		writeJSON(w, http.StatusOK, rows)
	}
}

// GetPayout handles GET /api/payouts/{burnId}.
func GetPayout(store JournalStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		burnID := chi.URLParam(r, "burnId")

		row, err := store.GetPayoutByBurnID(burnID)
		if err != nil {
			slog.Error("failed to get payout", "burnId", burnID, "error", err)
			writeError(w, http.StatusInternalServerError, config.ErrorDatabase, "failed to get payout")
			return
		}
		if row == nil {
			writeError(w, http.StatusNotFound, config.ErrorNotFound, "no payout for burn "+burnID)
			return
		}
		writeJSON(w, http.StatusOK, row)
	}
}

// ListMints handles GET /api/mints?limit=.
func ListMints(store JournalStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := store.ListMints(parseIntParam(r, "limit", config.JournalListLimit))
		if err != nil {
			slog.Error("failed to list mints", "error", err)
			writeError(w, http.StatusInternalServerError, config.ErrorDatabase, "failed to list mints")
			return
		}
		if rows == nil {
			rows = []db.MintRow{}
		}
		writeJSON(w, http.StatusOK, rows)
	}
}

// GetMint handles GET /api/mints/{txHash}.
func GetMint(store JournalStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		txHash := strings.ToLower(chi.URLParam(r, "txHash"))

		row, err := store.GetMint(txHash)
		if err != nil {
			slog.Error("failed to get mint", "txHash", txHash, "error", err)
			writeError(w, http.StatusInternalServerError, config.ErrorDatabase, "failed to get mint")
			return
		}
		if row == nil {
			writeError(w, http.StatusNotFound, config.ErrorNotFound, "no mint for deposit "+txHash)
			return
		}
		writeJSON(w, http.StatusOK, row)
	}
}
