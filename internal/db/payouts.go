package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Fantasim/btcoracle/internal/config"
)

// PayoutRow is one burn payout in the journal. Amounts are decimal satoshi strings.
type PayoutRow struct {
	ID          string `json:"id"`
	BurnID      string `json:"burnId"`
	Destination string `json:"destination"`
	AmountSats  string `json:"amountSats"`
	FeeSats     string `json:"feeSats"`
	ChangeSats  string `json:"changeSats"`
	BTCTxHash   string `json:"btcTxHash,omitempty"`
	RawTx       string `json:"-"`
	EVMTxHash   string `json:"evmTxHash,omitempty"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

const payoutColumns = `id, burn_id, destination, amount_sats, fee_sats, change_sats,
	COALESCE(btc_tx_hash, ''), COALESCE(raw_tx, ''), COALESCE(evm_tx_hash, ''),
	status, COALESCE(error, ''), created_at, updated_at`

// ClaimPayout records that a payout for burnID is being built. When a row
// already exists it is returned with claimed=false, except that a failed
// payout is reset to building and claimed again.
func (d *DB) ClaimPayout(burnID, destination, amountSats string) (row *PayoutRow, claimed bool, err error) {
	id := uuid.NewString()

	result, err := d.conn.Exec(
		`INSERT INTO payouts (id, burn_id, destination, amount_sats, status)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(burn_id) DO UPDATE SET
		   id = excluded.id,
		   destination = excluded.destination,
		   amount_sats = excluded.amount_sats,
		   fee_sats = '0',
		   change_sats = '0',
		   btc_tx_hash = NULL,
		   raw_tx = NULL,
		   evm_tx_hash = NULL,
		   status = excluded.status,
		   error = NULL,
		   updated_at = datetime('now')
		 WHERE payouts.status = ?`,
		id, burnID, destination, amountSats, config.PayoutStatusBuilding,
		config.PayoutStatusFailed,
	)
	if err != nil {
		return nil, false, fmt.Errorf("claim payout for burn %s: %w", burnID, err)
	}

	n, _ := result.RowsAffected()

	row, err = d.GetPayoutByBurnID(burnID)
	if err != nil {
		return nil, false, err
	}
	if row == nil {
		return nil, false, fmt.Errorf("claim payout for burn %s: row missing after insert", burnID)
	}

	claimed = n > 0 && row.ID == id
	slog.Info("payout claim",
		"burnId", burnID,
		"payoutId", row.ID,
		"claimed", claimed,
		"status", row.Status,
	)

	return row, claimed, nil
}

// FailInterruptedPayouts marks every payout still building as failed and
// returns how many were reset. A building row never reached the contract or
// the network, so it is safe to build again. Call it before handling events.
func (d *DB) FailInterruptedPayouts() (int64, error) {
	result, err := d.conn.Exec(
		`UPDATE payouts SET status = ?, error = ?, updated_at = datetime('now') WHERE status = ?`,
		config.PayoutStatusFailed, "interrupted before signing", config.PayoutStatusBuilding,
	)
	if err != nil {
		return 0, fmt.Errorf("fail interrupted payouts: %w", err)
	}

	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Warn("interrupted payouts reset", "count", n)
	}
	return n, nil
}

// MarkPayoutSigned stores the signed transaction of a payout.
func (d *DB) MarkPayoutSigned(id, btcTxHash, rawTx, feeSats, changeSats string) error {
	return d.updatePayout(id,
		`UPDATE payouts SET status = ?, btc_tx_hash = ?, raw_tx = ?, fee_sats = ?, change_sats = ?,
		   updated_at = datetime('now')
		 WHERE id = ?`,
		config.PayoutStatusSigned, btcTxHash, rawTx, feeSats, changeSats, id,
	)
}

// SetPayoutEVMTx stores the hash of the burnSigned contract transaction.
func (d *DB) SetPayoutEVMTx(id, evmTxHash string) error {
	return d.updatePayout(id,
		`UPDATE payouts SET evm_tx_hash = ?, updated_at = datetime('now') WHERE id = ?`,
		evmTxHash, id,
	)
}

// SetPayoutStatus moves a payout to status, recording errMsg when non-empty.
func (d *DB) SetPayoutStatus(id, status, errMsg string) error {
	return d.updatePayout(id,
		`UPDATE payouts SET status = ?, error = NULLIF(?, ''), updated_at = datetime('now') WHERE id = ?`,
		status, errMsg, id,
	)
}

func (d *DB) updatePayout(id, query string, args ...any) error {
	result, err := d.conn.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("update payout %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("update payout %s: %w", id, sql.ErrNoRows)
	}
	slog.Debug("payout updated", "payoutId", id)
	return nil
}

// GetPayoutByBurnID returns the payout for burnID, or nil if none exists.
func (d *DB) GetPayoutByBurnID(burnID string) (*PayoutRow, error) {
	row := d.conn.QueryRow(`SELECT `+payoutColumns+` FROM payouts WHERE burn_id = ?`, burnID)

	p, err := scanPayout(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query payout for burn %s: %w", burnID, err)
	}
	return p, nil
}

// ListPayouts returns the most recent payouts, optionally filtered by status.
func (d *DB) ListPayouts(status string, limit int) ([]PayoutRow, error) {
	if limit <= 0 || limit > config.JournalListLimit {
		limit = config.JournalListLimit
	}

	query := `SELECT ` + payoutColumns + ` FROM payouts`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	defer rows.Close()

	var out []PayoutRow
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payout: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payouts: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayout(s rowScanner) (*PayoutRow, error) {
	var p PayoutRow
	if err := s.Scan(
		&p.ID, &p.BurnID, &p.Destination, &p.AmountSats, &p.FeeSats, &p.ChangeSats,
		&p.BTCTxHash, &p.RawTx, &p.EVMTxHash,
		&p.Status, &p.Error, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}
