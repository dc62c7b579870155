package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// RefreshBalanceProjection recomputes the address_balances materialised
// view from the current unspent set, then reconciles the holders table, per
// spec.md §4.7. minInterval and forced implement the single-writer gate: a
// refresh runs only if none is already in progress and either minInterval
// has elapsed since the last one or forced is set (the coordinator's
// checkpoint-triggered refresh). A concurrent or too-soon request returns
// immediately without blocking commit.
func (s *Store) RefreshBalanceProjection(ctx context.Context, minInterval time.Duration, forced bool) error {
	acquired, err := s.acquireRefresh(ctx, minInterval, forced)
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	defer s.releaseRefresh(ctx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin refresh: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()

	if _, err := tx.ExecContext(ctx, `DELETE FROM address_balances`); err != nil {
		return fmt.Errorf("storage: clear address_balances: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO address_balances (address, total_balance, utxo_count, last_refreshed_at)
		SELECT address, SUM(amount), COUNT(*), ?
		FROM utxos
		WHERE spent = 0 AND token_ref IS NULL AND address IS NOT NULL
		GROUP BY address`, now,
	); err != nil {
		return fmt.Errorf("storage: rebuild address_balances: %w", err)
	}

	if err := reconcileHolders(ctx, tx, now); err != nil {
		return err
	}

	return tx.Commit()
}

func reconcileHolders(ctx context.Context, tx *sql.Tx, now int64) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE holders SET rxd_balance = 0, last_seen_at = ?
		WHERE address NOT IN (SELECT address FROM address_balances)`, now,
	); err != nil {
		return fmt.Errorf("storage: zero stale holder balances: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO holders (address, rxd_balance, token_balances, first_seen_at, last_seen_at)
		SELECT address, total_balance, '{}', ?, ?
		FROM address_balances
		ON CONFLICT(address) DO UPDATE SET rxd_balance = excluded.rxd_balance, last_seen_at = excluded.last_seen_at`,
		now, now,
	); err != nil {
		return fmt.Errorf("storage: upsert holder rxd balances: %w", err)
	}

	// token_balances are aggregated independently of the RXD projection,
	// per spec.md §4.7.
	rows, err := tx.QueryContext(ctx, `
		SELECT address, token_ref, SUM(amount)
		FROM utxos
		WHERE spent = 0 AND token_ref IS NOT NULL AND address IS NOT NULL
		GROUP BY address, token_ref`)
	if err != nil {
		return fmt.Errorf("storage: aggregate token balances: %w", err)
	}
	perAddress := make(map[string]map[string]int64)
	for rows.Next() {
		var addr, ref string
		var amount int64
		if err := rows.Scan(&addr, &ref, &amount); err != nil {
			rows.Close()
			return fmt.Errorf("storage: scan token balance row: %w", err)
		}
		if perAddress[addr] == nil {
			perAddress[addr] = make(map[string]int64)
		}
		perAddress[addr][ref] = amount
	}
	rows.Close()

	for addr, balances := range perAddress {
		data, err := json.Marshal(balances)
		if err != nil {
			return fmt.Errorf("storage: marshal token balances for %s: %w", addr, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO holders (address, rxd_balance, token_balances, first_seen_at, last_seen_at)
			VALUES (?, 0, ?, ?, ?)
			ON CONFLICT(address) DO UPDATE SET token_balances = excluded.token_balances, last_seen_at = excluded.last_seen_at`,
			addr, string(data), now, now,
		); err != nil {
			return fmt.Errorf("storage: upsert holder token balances for %s: %w", addr, err)
		}
	}
	return nil
}

func (s *Store) acquireRefresh(ctx context.Context, minInterval time.Duration, forced bool) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("storage: begin refresh gate: %w", err)
	}
	defer tx.Rollback()

	var refreshing bool
	var lastRefreshedAt int64
	err = tx.QueryRowContext(ctx, `SELECT refreshing, last_refreshed_at FROM refresh_state WHERE name = 'address_balances'`).Scan(&refreshing, &lastRefreshedAt)
	if err != nil {
		return false, fmt.Errorf("storage: read refresh_state: %w", err)
	}
	if refreshing {
		return false, nil
	}
	if !forced && time.Since(time.Unix(lastRefreshedAt, 0)) < minInterval {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE refresh_state SET refreshing = 1 WHERE name = 'address_balances'`); err != nil {
		return false, fmt.Errorf("storage: acquire refresh gate: %w", err)
	}
	return true, tx.Commit()
}

func (s *Store) releaseRefresh(ctx context.Context) {
	s.db.ExecContext(ctx, `UPDATE refresh_state SET refreshing = 0, last_refreshed_at = ? WHERE name = 'address_balances'`, time.Now().Unix())
}
