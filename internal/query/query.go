// Package query is the Query Service (C8): read-only operations, each built
// from a few projection queries or indexed UTXO scans, over the Storage
// Engine's database handle. It never mutates state — the HTTP layer in internal/api
// is the only consumer, per spec.md §9's "deep framework inheritance"
// guidance of keeping the HTTP adapter outside this core.
package query

import (
	"context"
	"database/sql"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/radiant-io/rxindexer/internal/fixedpoint"
)

// Service answers read-only queries against the indexer's database.
type Service struct {
	db *sql.DB
}

// New wraps an open *sql.DB. The caller (composition root) owns the
// lifetime of db; Service never closes it.
func New(db *sql.DB) *Service {
	return &Service{db: db}
}

// Balance is the result of GetBalance.
type Balance struct {
	Address       string
	RXDBalance    fixedpoint.Amount
	TokenBalances map[string]fixedpoint.Amount
	UTXOCount     int
}

// GetBalance reads from the holder table; if the address has never been
// seen by a projection refresh, it falls back to a live UTXO aggregation
// per spec.md §4.8.
func (s *Service) GetBalance(ctx context.Context, address string) (Balance, error) {
	var rxd int64
	var tokenJSON string
	err := s.db.QueryRowContext(ctx, `SELECT rxd_balance, token_balances FROM holders WHERE address = ?`, address).Scan(&rxd, &tokenJSON)
	if err == nil {
		tokens, decodeErr := decodeTokenBalances(tokenJSON)
		if decodeErr != nil {
			return Balance{}, decodeErr
		}
		count, err := s.utxoCount(ctx, address)
		if err != nil {
			return Balance{}, err
		}
		return Balance{Address: address, RXDBalance: fixedpoint.FromInt64(rxd), TokenBalances: tokens, UTXOCount: count}, nil
	}
	if err != sql.ErrNoRows {
		return Balance{}, fmt.Errorf("query: get_balance(%s): %w", address, err)
	}

	return s.liveBalance(ctx, address)
}

func (s *Service) liveBalance(ctx context.Context, address string) (Balance, error) {
	var rxd sql.NullInt64
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(amount), COUNT(*) FROM utxos
		WHERE address = ? AND spent = 0 AND token_ref IS NULL`, address).Scan(&rxd, &count)
	if err != nil {
		return Balance{}, fmt.Errorf("query: live balance for %s: %w", address, err)
	}

	tokens := make(map[string]fixedpoint.Amount)
	rows, err := s.db.QueryContext(ctx, `
		SELECT token_ref, SUM(amount) FROM utxos
		WHERE address = ? AND spent = 0 AND token_ref IS NOT NULL
		GROUP BY token_ref`, address)
	if err != nil {
		return Balance{}, fmt.Errorf("query: live token balances for %s: %w", address, err)
	}
	defer rows.Close()
	for rows.Next() {
		var ref string
		var amt int64
		if err := rows.Scan(&ref, &amt); err != nil {
			return Balance{}, fmt.Errorf("query: scan live token balance: %w", err)
		}
		tokens[ref] = fixedpoint.FromInt64(amt)
	}

	return Balance{Address: address, RXDBalance: fixedpoint.FromInt64(rxd.Int64), TokenBalances: tokens, UTXOCount: count}, nil
}

func (s *Service) utxoCount(ctx context.Context, address string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM utxos WHERE address = ? AND spent = 0 AND token_ref IS NULL`, address).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("query: utxo_count(%s): %w", address, err)
	}
	return count, nil
}

func decodeTokenBalances(raw string) (map[string]fixedpoint.Amount, error) {
	var ints map[string]int64
	if err := json.Unmarshal([]byte(raw), &ints); err != nil {
		return nil, fmt.Errorf("query: decode token_balances: %w", err)
	}
	out := make(map[string]fixedpoint.Amount, len(ints))
	for k, v := range ints {
		out[k] = fixedpoint.FromInt64(v)
	}
	return out, nil
}

// UTXOEntry is one row of a ListUTXOs page.
type UTXOEntry struct {
	TxID        string
	Vout        uint32
	Amount      fixedpoint.Amount
	TokenRef    string
	HasTokenRef bool
	Spent       bool
	BlockHeight uint64
}

// ListUTXOs returns a stably-ordered page of UTXOs for address.
func (s *Service) ListUTXOs(ctx context.Context, address string, unspentOnly bool, page, pageSize int) ([]UTXOEntry, error) {
	if pageSize <= 0 || pageSize > 1000 {
		pageSize = 100
	}
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	query := `SELECT txid, vout, amount, token_ref, spent, block_height FROM utxos WHERE address = ?`
	if unspentOnly {
		query += ` AND spent = 0`
	}
	query += ` ORDER BY block_height, txid, vout LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, address, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("query: list_utxos(%s): %w", address, err)
	}
	defer rows.Close()

	var entries []UTXOEntry
	for rows.Next() {
		var e UTXOEntry
		var tokenRef sql.NullString
		var spent int
		var amount int64
		if err := rows.Scan(&e.TxID, &e.Vout, &amount, &tokenRef, &spent, &e.BlockHeight); err != nil {
			return nil, fmt.Errorf("query: scan utxo row: %w", err)
		}
		e.Amount = fixedpoint.FromInt64(amount)
		e.HasTokenRef = tokenRef.Valid
		e.TokenRef = tokenRef.String
		e.Spent = spent != 0
		entries = append(entries, e)
	}
	return entries, nil
}

// TxOutput is one output of GetTransaction's result.
type TxOutput struct {
	Vout     uint32
	Address  string
	Amount   fixedpoint.Amount
	TokenRef string
	Spent    bool
}

// TxInput is one resolved input of GetTransaction's result.
type TxInput struct {
	PrevTxID string
	PrevVout uint32
	Address  string
	Amount   fixedpoint.Amount
}

// Transaction is the full result of GetTransaction.
type Transaction struct {
	TxID        string
	BlockHash   string
	BlockHeight uint64
	Inputs      []TxInput
	Outputs     []TxOutput
}

// ErrNotFound is returned by any Query Service lookup whose identifier does
// not exist.
var ErrNotFound = sql.ErrNoRows

// GetTransaction returns a transaction with its outputs' spent-status and,
// where the spent prevout is itself indexed, its inputs' resolved amounts.
func (s *Service) GetTransaction(ctx context.Context, txid string) (Transaction, error) {
	var t Transaction
	t.TxID = txid
	err := s.db.QueryRowContext(ctx, `SELECT block_hash, block_height FROM transactions WHERE txid = ?`, txid).Scan(&t.BlockHash, &t.BlockHeight)
	if err == sql.ErrNoRows {
		return Transaction{}, ErrNotFound
	}
	if err != nil {
		return Transaction{}, fmt.Errorf("query: get_transaction(%s): %w", txid, err)
	}

	outRows, err := s.db.QueryContext(ctx, `
		SELECT vout, COALESCE(address, ''), amount, token_ref, spent FROM utxos WHERE txid = ? ORDER BY vout`, txid)
	if err != nil {
		return Transaction{}, fmt.Errorf("query: get_transaction(%s) outputs: %w", txid, err)
	}
	defer outRows.Close()
	for outRows.Next() {
		var o TxOutput
		var tokenRef sql.NullString
		var spent int
		var amount int64
		if err := outRows.Scan(&o.Vout, &o.Address, &amount, &tokenRef, &spent); err != nil {
			return Transaction{}, fmt.Errorf("query: scan output row: %w", err)
		}
		o.Amount = fixedpoint.FromInt64(amount)
		o.TokenRef = tokenRef.String
		o.Spent = spent != 0
		t.Outputs = append(t.Outputs, o)
	}

	inRows, err := s.db.QueryContext(ctx, `SELECT prev_txid, prev_vout FROM (
		SELECT txid AS prev_txid, vout AS prev_vout, spent_by_txid FROM utxos
	) WHERE spent_by_txid = ?`, txid)
	if err != nil {
		return Transaction{}, fmt.Errorf("query: get_transaction(%s) inputs: %w", txid, err)
	}
	defer inRows.Close()
	for inRows.Next() {
		var in TxInput
		if err := inRows.Scan(&in.PrevTxID, &in.PrevVout); err != nil {
			return Transaction{}, fmt.Errorf("query: scan input row: %w", err)
		}
		var addr sql.NullString
		var amount int64
		s.db.QueryRowContext(ctx, `SELECT address, amount FROM utxos WHERE txid = ? AND vout = ?`, in.PrevTxID, in.PrevVout).Scan(&addr, &amount)
		in.Address = addr.String
		in.Amount = fixedpoint.FromInt64(amount)
		t.Inputs = append(t.Inputs, in)
	}

	return t, nil
}

// Token is the result of GetToken.
type Token struct {
	Ref                string
	Type               string
	Protocols          []int
	MetadataJSON       string
	GenesisTxID        string
	GenesisBlockHeight uint64
	CurrentTxID        string
	CurrentVout        uint32
}

// GetToken returns a token's record and opaque metadata JSON blob.
func (s *Service) GetToken(ctx context.Context, ref string) (Token, error) {
	var t Token
	t.Ref = ref
	var protocolsJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT type, protocols, metadata, genesis_txid, genesis_block_height, current_txid, current_vout
		FROM glyph_tokens WHERE ref = ?`, ref).Scan(
		&t.Type, &protocolsJSON, &t.MetadataJSON, &t.GenesisTxID, &t.GenesisBlockHeight, &t.CurrentTxID, &t.CurrentVout,
	)
	if err == sql.ErrNoRows {
		return Token{}, ErrNotFound
	}
	if err != nil {
		return Token{}, fmt.Errorf("query: get_token(%s): %w", ref, err)
	}
	if err := json.Unmarshal([]byte(protocolsJSON), &t.Protocols); err != nil {
		return Token{}, fmt.Errorf("query: decode protocols for %s: %w", ref, err)
	}
	return t, nil
}

// CountHolders counts addresses holding at least minBalance of asset.
// asset="RXD" uses the balance projection; any other value is treated as a
// Glyph ref and counts against the holder table's token_balances.
func (s *Service) CountHolders(ctx context.Context, asset string, minBalance fixedpoint.Amount) (int, error) {
	if asset == "RXD" {
		var count int
		err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM address_balances WHERE total_balance >= ?`, minBalance.Int64()).Scan(&count)
		if err != nil {
			return 0, fmt.Errorf("query: count_holders(RXD): %w", err)
		}
		return count, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT token_balances FROM holders WHERE token_balances != '{}'`)
	if err != nil {
		return 0, fmt.Errorf("query: count_holders(%s): %w", asset, err)
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return 0, fmt.Errorf("query: scan holder token_balances: %w", err)
		}
		balances, err := decodeTokenBalances(raw)
		if err != nil {
			return 0, err
		}
		if bal, ok := balances[asset]; ok && bal.Int64() >= minBalance.Int64() {
			count++
		}
	}
	return count, nil
}

// BlockTx is one row of GetBlockTxs.
type BlockTx struct {
	TxID         string
	IndexInBlock int
	InputCount   int
	OutputCount  int
}

// GetBlockTxs returns a page of transaction summaries for a block height.
func (s *Service) GetBlockTxs(ctx context.Context, height uint64, page int) ([]BlockTx, error) {
	const pageSize = 100
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	rows, err := s.db.QueryContext(ctx, `
		SELECT txid, index_in_block, input_count, output_count FROM transactions
		WHERE block_height = ? ORDER BY index_in_block LIMIT ? OFFSET ?`, height, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("query: get_block_txs(%d): %w", height, err)
	}
	defer rows.Close()
	var out []BlockTx
	for rows.Next() {
		var t BlockTx
		if err := rows.Scan(&t.TxID, &t.IndexInBlock, &t.InputCount, &t.OutputCount); err != nil {
			return nil, fmt.Errorf("query: scan block tx row: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}
