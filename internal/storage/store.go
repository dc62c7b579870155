// Package storage is the Storage Engine (C6) and Balance Projection (C7):
// a SQLite-backed relational store committed one block per transaction,
// grounded on the teacher's indexers/pcx/indexers/historical_rewards package
// (database/sql + mattn/go-sqlite3, WAL mode, schema-on-Init). JSON columns
// (token protocols, metadata, holder token_balances) use goccy/go-json, a
// drop-in encoding/json replacement already present in the teacher's
// dependency graph.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"

	"github.com/radiant-io/rxindexer/internal/glyph"
	"github.com/radiant-io/rxindexer/internal/parser"
	"github.com/radiant-io/rxindexer/internal/rxerrors"
)

// Store is the indexer's single relational store. All public methods are
// safe for concurrent read use; writes (CommitBlock, UnwindTo) are expected
// to be serialized by the Sync Coordinator's single commit thread.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures schema and the singleton sync_state/refresh_state rows exist.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create dir: %w", err)
		}
	}

	dsn := path + "?mode=rwc&_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline; WAL still allows concurrent readers on other handles

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}

	if _, err := db.Exec(`INSERT OR IGNORE INTO sync_state (id, current_height, current_hash, current_chainwork, is_syncing, last_updated_at) VALUES (1, 0, '', '0', 0, ?)`, time.Now().Unix()); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: seed sync_state: %w", err)
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO refresh_state (name, refreshing, last_refreshed_at) VALUES ('address_balances', 0, 0)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: seed refresh_state: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for the Query Service (C8), which only
// ever reads.
func (s *Store) DB() *sql.DB {
	return s.db
}

// GetTip returns the sync_state singleton's current position.
func (s *Store) GetTip(ctx context.Context) (height uint64, hash string, chainwork string, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT current_height, current_hash, current_chainwork FROM sync_state WHERE id = 1`)
	if err := row.Scan(&height, &hash, &chainwork); err != nil {
		return 0, "", "", fmt.Errorf("storage: get_tip: %w", err)
	}
	return height, hash, chainwork, nil
}

// BlockHashAtHeight returns the canonical-chain block hash stored at
// height, or ok=false if nothing is stored there yet.
func (s *Store) BlockHashAtHeight(ctx context.Context, height uint64) (hash string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT hash FROM blocks WHERE height = ?`, height).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage: block_hash_at_height: %w", err)
	}
	return hash, true, nil
}

// CommitBlock atomically applies one BlockMutation. It is safe to retry with
// the same mutation: inserts are absorbed by unique-key conflicts and
// already-spent UTXOs are left untouched on a repeat spend.
func (s *Store) CommitBlock(ctx context.Context, m parser.BlockMutation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin commit_block: %w", err)
	}
	defer tx.Rollback()

	var existingHash sql.NullString
	if err := tx.QueryRowContext(ctx, `SELECT hash FROM blocks WHERE height = ?`, m.Block.Height).Scan(&existingHash); err == nil {
		if existingHash.String != m.Block.Hash {
			return fmt.Errorf("%w: height %d already has hash %s, got %s", rxerrors.ErrConflictingBlock, m.Block.Height, existingHash.String, m.Block.Hash)
		}
	} else if err != sql.ErrNoRows {
		return fmt.Errorf("storage: check existing block: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO blocks (hash, height, prev_hash, merkle_root, timestamp, version, bits, nonce, chainwork, tx_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Block.Hash, m.Block.Height, m.Block.PrevHash, m.Block.MerkleRoot, m.Block.Timestamp,
		m.Block.Version, m.Block.Bits, m.Block.Nonce, m.Block.Chainwork, m.Block.TxCount,
	); err != nil {
		return fmt.Errorf("storage: insert block: %w", err)
	}

	for _, txm := range m.Txs {
		if err := commitTx(ctx, tx, m.Block, txm); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sync_state (id, current_height, current_hash, current_chainwork, is_syncing, last_updated_at)
		VALUES (1, ?, ?, ?, 0, ?)
		ON CONFLICT(id) DO UPDATE SET current_height = excluded.current_height, current_hash = excluded.current_hash,
			current_chainwork = excluded.current_chainwork, last_updated_at = excluded.last_updated_at`,
		m.Block.Height, m.Block.Hash, m.Block.Chainwork, time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("storage: advance sync_state: %w", err)
	}

	return tx.Commit()
}

func commitTx(ctx context.Context, tx *sql.Tx, block parser.BlockRecord, txm parser.TxMutation) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO transactions (txid, block_hash, block_height, index_in_block, timestamp, size, locktime, input_count, output_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txm.Tx.TxID, txm.Tx.BlockHash, txm.Tx.BlockHeight, txm.Tx.IndexInBlock, txm.Tx.Timestamp,
		txm.Tx.Size, txm.Tx.LockTime, txm.Tx.InputCount, txm.Tx.OutputCount,
	); err != nil {
		return fmt.Errorf("storage: insert transaction %s: %w", txm.Tx.TxID, err)
	}

	for _, sp := range txm.Spends {
		res, err := tx.ExecContext(ctx, `
			UPDATE utxos SET spent = 1, spent_by_txid = ?
			WHERE txid = ? AND vout = ? AND spent = 0`,
			sp.SpendingTxID, sp.PrevTxID, sp.PrevVout,
		)
		if err != nil {
			return fmt.Errorf("storage: apply spend %s:%d: %w", sp.PrevTxID, sp.PrevVout, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			var alreadySpentBy sql.NullString
			err := tx.QueryRowContext(ctx, `SELECT spent_by_txid FROM utxos WHERE txid = ? AND vout = ?`, sp.PrevTxID, sp.PrevVout).Scan(&alreadySpentBy)
			if err == sql.ErrNoRows {
				return fmt.Errorf("%w: %s:%d", rxerrors.ErrMissingPrevout, sp.PrevTxID, sp.PrevVout)
			}
			if err != nil {
				return fmt.Errorf("storage: check spend %s:%d: %w", sp.PrevTxID, sp.PrevVout, err)
			}
			if alreadySpentBy.String != sp.SpendingTxID {
				return fmt.Errorf("%w: %s:%d spent by %s, then by %s", rxerrors.ErrIntegrityViolation, sp.PrevTxID, sp.PrevVout, alreadySpentBy.String, sp.SpendingTxID)
			}
			// Same spender: idempotent retry, nothing to do.
		}
	}

	for _, c := range txm.Credits {
		var addr any
		if c.HasAddress {
			addr = c.Address
		}
		var tokenRef any
		if c.HasTokenRef {
			tokenRef = c.TokenRef
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO utxos (txid, vout, address, amount, token_ref, spent, spent_by_txid, block_height, block_hash)
			VALUES (?, ?, ?, ?, ?, 0, NULL, ?, ?)`,
			c.TxID, c.Vout, addr, c.Amount.Int64(), tokenRef, c.BlockHeight, c.BlockHash,
		); err != nil {
			return fmt.Errorf("storage: insert credit %s:%d: %w", c.TxID, c.Vout, err)
		}
	}

	for _, ev := range txm.TokenEvents {
		if err := applyTokenEvent(ctx, tx, block, ev); err != nil {
			return err
		}
	}

	return nil
}

func applyTokenEvent(ctx context.Context, tx *sql.Tx, block parser.BlockRecord, ev parser.TokenEvent) error {
	switch ev.Kind {
	case parser.TokenMint:
		protocolsJSON, _ := json.Marshal(ev.Metadata.Protocols)
		metadataJSON, err := marshalTokenMetadata(ev.Metadata)
		if err != nil {
			return fmt.Errorf("storage: marshal token metadata for %s: %w", ev.Ref, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO glyph_tokens (ref, type, protocols, metadata, genesis_txid, genesis_block_height, current_txid, current_vout)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.Ref, string(ev.Metadata.Type), string(protocolsJSON), string(metadataJSON),
			ev.ToTxID, block.Height, ev.ToTxID, ev.ToVout,
		); err != nil {
			return fmt.Errorf("storage: insert token %s: %w", ev.Ref, err)
		}
		return insertTokenMutation(ctx, tx, ev.Ref, block.Height, ev.ToTxID, ev.ToVout, "mint")

	case parser.TokenTransfer:
		if _, err := tx.ExecContext(ctx, `UPDATE glyph_tokens SET current_txid = ?, current_vout = ? WHERE ref = ?`, ev.ToTxID, ev.ToVout, ev.Ref); err != nil {
			return fmt.Errorf("storage: update token %s current location: %w", ev.Ref, err)
		}
		return insertTokenMutation(ctx, tx, ev.Ref, block.Height, ev.ToTxID, ev.ToVout, "transfer")

	case parser.TokenBurn:
		return insertTokenMutation(ctx, tx, ev.Ref, block.Height, ev.FromTxID, ev.FromVout, "burn")
	}
	return nil
}

func insertTokenMutation(ctx context.Context, tx *sql.Tx, ref string, height uint64, txid string, vout uint32, kind string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO token_mutations (ref, height, txid, vout, kind) VALUES (?, ?, ?, ?, ?)`, ref, height, txid, vout, kind)
	if err != nil {
		return fmt.Errorf("storage: log token mutation %s: %w", ref, err)
	}
	return nil
}

// tokenMetadataJSON is the shape persisted in glyph_tokens.metadata — the
// subset of TokenDescriptor that spec.md §4.8's get_token response exposes.
type tokenMetadataJSON struct {
	Name        string   `json:"name,omitempty"`
	Ticker      string   `json:"ticker,omitempty"`
	Decimals    int      `json:"decimals,omitempty"`
	Supply      uint64   `json:"supply,omitempty"`
	IconRef     string   `json:"icon_ref,omitempty"`
	TokenID     string   `json:"tokenID,omitempty"`
	ContractRef string   `json:"contract_ref,omitempty"`
	Algorithm   int      `json:"algorithm,omitempty"`
	Difficulty  uint64   `json:"difficulty,omitempty"`
	Reward      uint64   `json:"reward,omitempty"`
	MediaRefs   []string `json:"media,omitempty"`
}

func marshalTokenMetadata(d *glyph.TokenDescriptor) ([]byte, error) {
	return json.Marshal(tokenMetadataJSON{
		Name:        d.Name,
		Ticker:      d.Ticker,
		Decimals:    d.Decimals,
		Supply:      d.Supply,
		IconRef:     d.IconRef,
		TokenID:     d.TokenID,
		ContractRef: d.ContractRef,
		Algorithm:   d.Algorithm,
		Difficulty:  d.Difficulty,
		Reward:      d.Reward,
		MediaRefs:   d.MediaRefs,
	})
}

// UnwindTo reverts all storage state above height H, per spec.md §4.6.
func (s *Store) UnwindTo(ctx context.Context, height uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin unwind_to: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE utxos SET spent = 0, spent_by_txid = NULL
		WHERE spent_by_txid IN (SELECT txid FROM transactions WHERE block_height > ?)`, height); err != nil {
		return fmt.Errorf("storage: unwind spent flags: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM utxos WHERE block_height > ?`, height); err != nil {
		return fmt.Errorf("storage: unwind utxos: %w", err)
	}

	if err := revertTokenPointers(ctx, tx, height); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM token_mutations WHERE height > ?`, height); err != nil {
		return fmt.Errorf("storage: unwind token_mutations: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE block_height > ?`, height); err != nil {
		return fmt.Errorf("storage: unwind transactions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM blocks WHERE height > ?`, height); err != nil {
		return fmt.Errorf("storage: unwind blocks: %w", err)
	}

	var newHash, newChainwork sql.NullString
	if height > 0 {
		err := tx.QueryRowContext(ctx, `SELECT hash, chainwork FROM blocks WHERE height = ?`, height).Scan(&newHash, &newChainwork)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: no block remains at height %d after unwind", rxerrors.ErrIntegrityViolation, height)
		}
		if err != nil {
			return fmt.Errorf("storage: read post-unwind tip: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sync_state SET current_height = ?, current_hash = ?, current_chainwork = ?, last_updated_at = ? WHERE id = 1`,
		height, newHash.String, newChainwork.String, time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("storage: reset sync_state after unwind: %w", err)
	}

	return tx.Commit()
}

// revertTokenPointers moves each token whose current_* location was unwound
// back to its most recent surviving mutation, or deletes the token outright
// if even its genesis mutation is above height — per the token-mutation log
// design noted as an Open Question resolution.
func revertTokenPointers(ctx context.Context, tx *sql.Tx, height uint64) error {
	rows, err := tx.QueryContext(ctx, `SELECT DISTINCT ref FROM token_mutations WHERE height > ?`, height)
	if err != nil {
		return fmt.Errorf("storage: find unwound token refs: %w", err)
	}
	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			rows.Close()
			return fmt.Errorf("storage: scan unwound token ref: %w", err)
		}
		refs = append(refs, ref)
	}
	rows.Close()

	for _, ref := range refs {
		var txid string
		var vout uint32
		err := tx.QueryRowContext(ctx, `
			SELECT txid, vout FROM token_mutations
			WHERE ref = ? AND height <= ?
			ORDER BY height DESC, id DESC LIMIT 1`, ref, height).Scan(&txid, &vout)
		if err == sql.ErrNoRows {
			if _, err := tx.ExecContext(ctx, `DELETE FROM glyph_tokens WHERE ref = ?`, ref); err != nil {
				return fmt.Errorf("storage: delete unwound genesis token %s: %w", ref, err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("storage: find prior location for token %s: %w", ref, err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE glyph_tokens SET current_txid = ?, current_vout = ? WHERE ref = ?`, txid, vout, ref); err != nil {
			return fmt.Errorf("storage: revert token %s pointer: %w", ref, err)
		}
	}
	return nil
}
