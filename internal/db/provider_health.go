package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Fantasim/btcoracle/internal/config"
)

// ProviderHealthRow is the last known health of one Bitcoin provider.
type ProviderHealthRow struct {
	ProviderName     string `json:"name"`
	ProviderKind     string `json:"kind"`
	Status           string `json:"status"`
	ConsecutiveFails int    `json:"consecutiveFails"`
	LastSuccess      string `json:"lastSuccess,omitempty"`
	LastError        string `json:"lastError,omitempty"`
	CircuitState     string `json:"circuitState"`
	UpdatedAt        string `json:"updatedAt"`
}

const providerHealthColumns = `provider_name, provider_kind, status, consecutive_fails,
	COALESCE(last_success, ''), COALESCE(last_error, ''), circuit_state, updated_at`

// EnsureProviderHealth creates a healthy row for a provider that has none.
func (d *DB) EnsureProviderHealth(name, kind string) error {
	_, err := d.conn.Exec(
		`INSERT INTO provider_health (provider_name, provider_kind, status, circuit_state)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(provider_name) DO UPDATE SET provider_kind = excluded.provider_kind`,
		name, kind, config.ProviderStatusHealthy, config.CircuitClosed,
	)
	if err != nil {
		return fmt.Errorf("ensure provider health %s: %w", name, err)
	}
	return nil
}

// statusForCircuit derives the health status from a breaker state.
func statusForCircuit(state string) string {
	switch state {
	case config.CircuitOpen:
		return config.ProviderStatusDown
	case config.CircuitHalfOpen:
		return config.ProviderStatusDegraded
	default:
		return config.ProviderStatusHealthy
	}
}

// RecordCircuitTransition stores a breaker state change. Closing the breaker
// counts as a success; opening it as an error.
func (d *DB) RecordCircuitTransition(name, state string, consecutiveFails int) error {
	var stamp string
	switch state {
	case config.CircuitClosed:
		stamp = "last_success = datetime('now'),"
	case config.CircuitOpen:
		stamp = "last_error = datetime('now'),"
	}

	result, err := d.conn.Exec(
		`UPDATE provider_health
		 SET `+stamp+`
		     circuit_state = ?,
		     status = ?,
		     consecutive_fails = ?,
		     updated_at = datetime('now')
		 WHERE provider_name = ?`,
		state, statusForCircuit(state), consecutiveFails, name,
	)
	if err != nil {
		return fmt.Errorf("record circuit transition %s: %w", name, err)
	}

	if n, _ := result.RowsAffected(); n == 0 {
		slog.Warn("provider not found for circuit transition", "provider", name)
		return nil
	}

	slog.Debug("provider circuit state stored",
		"provider", name,
		"circuitState", state,
		"consecutiveFails", consecutiveFails,
	)
	return nil
}

// GetProviderHealth returns one provider's health, or nil if unknown.
func (d *DB) GetProviderHealth(name string) (*ProviderHealthRow, error) {
	row := d.conn.QueryRow(`SELECT `+providerHealthColumns+` FROM provider_health WHERE provider_name = ?`, name)

	ph, err := scanProviderHealth(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query provider health %s: %w", name, err)
	}
	return ph, nil
}

// GetAllProviderHealth returns every provider's health ordered by name.
func (d *DB) GetAllProviderHealth() ([]ProviderHealthRow, error) {
	rows, err := d.conn.Query(`SELECT ` + providerHealthColumns + ` FROM provider_health ORDER BY provider_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("query provider health: %w", err)
	}
	defer rows.Close()

	var out []ProviderHealthRow
	for rows.Next() {
		ph, err := scanProviderHealth(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provider health row: %w", err)
		}
		out = append(out, *ph)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate provider health rows: %w", err)
	}
	return out, nil
}

func scanProviderHealth(s rowScanner) (*ProviderHealthRow, error) {
	var ph ProviderHealthRow
	if err := s.Scan(
		&ph.ProviderName, &ph.ProviderKind, &ph.Status, &ph.ConsecutiveFails,
		&ph.LastSuccess, &ph.LastError, &ph.CircuitState, &ph.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ph, nil
}
