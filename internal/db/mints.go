package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Fantasim/btcoracle/internal/config"
)

// MintRow is one mint decision for a Bitcoin deposit.
type MintRow struct {
	ID         string `json:"id"`
	BTCTxHash  string `json:"btcTxHash"`
	Claimant   string `json:"claimant"`
	Sender     string `json:"sender"`
	AmountSats string `json:"amountSats"`
	EVMTxHash  string `json:"evmTxHash,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	CreatedAt  string `json:"createdAt"`
	UpdatedAt  string `json:"updatedAt"`
}

const mintColumns = `id, btc_tx_hash, claimant, sender, amount_sats,
	COALESCE(evm_tx_hash, ''), status, COALESCE(error, ''), created_at, updated_at`

// RecordMint stores the outcome for m.BTCTxHash. A submitted mint is final:
// later records for the same deposit are ignored and RecordMint reports false.
func (d *DB) RecordMint(m MintRow) (bool, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	result, err := d.conn.Exec(
		`INSERT INTO mints (id, btc_tx_hash, claimant, sender, amount_sats, evm_tx_hash, status, error)
		 VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), ?, NULLIF(?, ''))
		 ON CONFLICT(btc_tx_hash) DO UPDATE SET
		   claimant = excluded.claimant,
		   sender = excluded.sender,
		   amount_sats = excluded.amount_sats,
		   evm_tx_hash = excluded.evm_tx_hash,
		   status = excluded.status,
		   error = excluded.error,
		   updated_at = datetime('now')
		 WHERE mints.status != ?`,
		m.ID, m.BTCTxHash, m.Claimant, m.Sender, m.AmountSats, m.EVMTxHash, m.Status, m.Error,
		config.MintStatusSubmitted,
	)
	if err != nil {
		return false, fmt.Errorf("record mint %s: %w", m.BTCTxHash, err)
	}

	n, _ := result.RowsAffected()
	slog.Info("mint recorded",
		"txHash", m.BTCTxHash,
		"claimant", m.Claimant,
		"status", m.Status,
		"stored", n > 0,
	)
	return n > 0, nil
}

// GetMint returns the mint record for a Bitcoin transaction, or nil if none exists.
func (d *DB) GetMint(btcTxHash string) (*MintRow, error) {
	row := d.conn.QueryRow(`SELECT `+mintColumns+` FROM mints WHERE btc_tx_hash = ?`, btcTxHash)

	m, err := scanMint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query mint %s: %w", btcTxHash, err)
	}
	return m, nil
}

// ListMints returns the most recent mint records.
func (d *DB) ListMints(limit int) ([]MintRow, error) {
	if limit <= 0 || limit > config.JournalListLimit {
		limit = config.JournalListLimit
	}

	rows, err := d.conn.Query(
		`SELECT `+mintColumns+` FROM mints ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list mints: %w", err)
	}
	defer rows.Close()

	var out []MintRow
	for rows.Next() {
		m, err := scanMint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mint: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mints: %w", err)
	}
	return out, nil
}

func scanMint(s rowScanner) (*MintRow, error) {
	var m MintRow
	if err := s.Scan(
		&m.ID, &m.BTCTxHash, &m.Claimant, &m.Sender, &m.AmountSats,
		&m.EVMTxHash, &m.Status, &m.Error, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &m, nil
}
