package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/radiant-io/rxindexer/internal/fixedpoint"
	"github.com/radiant-io/rxindexer/internal/glyph"
	"github.com/radiant-io/rxindexer/internal/parser"
	"github.com/radiant-io/rxindexer/internal/rxerrors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rxindexer.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func amount(s string) fixedpoint.Amount {
	a, err := fixedpoint.ParseDecimalString(s)
	if err != nil {
		panic(err)
	}
	return a
}

func coinbaseBlock(height uint64, hash, prevHash, addr, amt string) parser.BlockMutation {
	return parser.BlockMutation{
		Block: parser.BlockRecord{Hash: hash, PrevHash: prevHash, Height: height, Chainwork: "0x1"},
		Txs: []parser.TxMutation{
			{
				Tx: parser.TxRecord{TxID: hash + "-coinbase", BlockHash: hash, BlockHeight: height},
				Credits: []parser.UTXOCredit{
					{TxID: hash + "-coinbase", Vout: 0, Address: addr, HasAddress: true, Amount: amount(amt), BlockHeight: height, BlockHash: hash},
				},
			},
		},
	}
}

func TestCommitBlock_S1(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := coinbaseBlock(0, "h0", "", "addrA", "50.00000000")
	if err := s.CommitBlock(ctx, m); err != nil {
		t.Fatalf("CommitBlock: %v", err)
	}
	if err := s.CommitBlock(ctx, coinbaseBlock(1, "h1", "h0", "addrX", "0")); err != nil {
		t.Fatalf("CommitBlock height 1: %v", err)
	}
	if err := s.CommitBlock(ctx, coinbaseBlock(2, "h2", "h1", "addrX", "0")); err != nil {
		t.Fatalf("CommitBlock height 2: %v", err)
	}

	height, hash, _, err := s.GetTip(ctx)
	if err != nil {
		t.Fatalf("GetTip: %v", err)
	}
	if height != 2 || hash != "h2" {
		t.Fatalf("tip = (%d, %s), want (2, h2)", height, hash)
	}

	if err := s.RefreshBalanceProjection(ctx, 0, true); err != nil {
		t.Fatalf("RefreshBalanceProjection: %v", err)
	}

	var total int64
	var count int
	row := s.db.QueryRowContext(ctx, `SELECT total_balance, utxo_count FROM address_balances WHERE address = ?`, "addrA")
	if err := row.Scan(&total, &count); err != nil {
		t.Fatalf("scan address_balances: %v", err)
	}
	if fixedpoint.FromInt64(total).String() != "50.00000000" || count != 1 {
		t.Fatalf("addrA balance = %s count = %d", fixedpoint.FromInt64(total).String(), count)
	}
}

func TestCommitBlock_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	m := coinbaseBlock(0, "h0", "", "addrA", "50.00000000")

	if err := s.CommitBlock(ctx, m); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	if err := s.CommitBlock(ctx, m); err != nil {
		t.Fatalf("retry commit: %v", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM utxos`).Scan(&count); err != nil {
		t.Fatalf("count utxos: %v", err)
	}
	if count != 1 {
		t.Fatalf("utxo count after retry = %d, want 1", count)
	}
}

func TestCommitBlock_MissingPrevout(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := parser.BlockMutation{
		Block: parser.BlockRecord{Hash: "h0", Height: 0},
		Txs: []parser.TxMutation{
			{
				Tx:     parser.TxRecord{TxID: "tx1", BlockHash: "h0", BlockHeight: 0},
				Spends: []parser.Spend{{PrevTxID: "nonexistent", PrevVout: 0, SpendingTxID: "tx1"}},
			},
		},
	}
	err := s.CommitBlock(ctx, m)
	if !errors.Is(err, rxerrors.ErrMissingPrevout) {
		t.Fatalf("err = %v, want ErrMissingPrevout", err)
	}
}

func TestCommitBlock_ConflictingBlock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CommitBlock(ctx, coinbaseBlock(0, "h0", "", "addrA", "50")); err != nil {
		t.Fatalf("commit: %v", err)
	}
	err := s.CommitBlock(ctx, coinbaseBlock(0, "h0-alt", "", "addrA", "50"))
	if !errors.Is(err, rxerrors.ErrConflictingBlock) {
		t.Fatalf("err = %v, want ErrConflictingBlock", err)
	}
}

func TestUnwindTo_ReorgRoundTrip(t *testing.T) {
	// P3: commit B0..B3(T), unwind to 2, commit B3'(T'), compare against
	// directly committing B0..B2 then B3'.
	ctx := context.Background()

	buildT := func(s *Store) {
		s.CommitBlock(ctx, coinbaseBlock(0, "h0", "", "A", "50.00000000"))
		s.CommitBlock(ctx, coinbaseBlock(1, "h1", "h0", "X", "0"))
		s.CommitBlock(ctx, coinbaseBlock(2, "h2", "h1", "X", "0"))
	}

	spendTx := func(height uint64, hash, prevHash, spendTxID string, outputs map[string]string) parser.BlockMutation {
		credits := make([]parser.UTXOCredit, 0, len(outputs))
		for addr, amt := range outputs {
			credits = append(credits, parser.UTXOCredit{TxID: spendTxID, Vout: 0, Address: addr, HasAddress: true, Amount: amount(amt), BlockHeight: height, BlockHash: hash})
		}
		return parser.BlockMutation{
			Block: parser.BlockRecord{Hash: hash, PrevHash: prevHash, Height: height, Chainwork: "0x1"},
			Txs: []parser.TxMutation{
				{
					Tx:      parser.TxRecord{TxID: spendTxID, BlockHash: hash, BlockHeight: height},
					Spends:  []parser.Spend{{PrevTxID: "h0-coinbase", PrevVout: 0, SpendingTxID: spendTxID}},
					Credits: credits,
				},
			},
		}
	}

	// Path 1: B0..B2, B3(T) sending to C, then reorg to B3'(T') sending to D.
	s1 := openTestStore(t)
	buildT(s1)
	if err := s1.CommitBlock(ctx, spendTx(3, "h3", "h2", "T", map[string]string{"C": "49.99990000"})); err != nil {
		t.Fatalf("commit T: %v", err)
	}
	if err := s1.UnwindTo(ctx, 2); err != nil {
		t.Fatalf("UnwindTo(2): %v", err)
	}
	if err := s1.CommitBlock(ctx, spendTx(3, "h3p", "h2", "Tp", map[string]string{"D": "49.99990000"})); err != nil {
		t.Fatalf("commit T': %v", err)
	}

	// Path 2: B0..B2, B3'(T') directly.
	s2 := openTestStore(t)
	buildT(s2)
	if err := s2.CommitBlock(ctx, spendTx(3, "h3p", "h2", "Tp", map[string]string{"D": "49.99990000"})); err != nil {
		t.Fatalf("direct commit T': %v", err)
	}

	for _, s := range []*Store{s1, s2} {
		if err := s.RefreshBalanceProjection(ctx, 0, true); err != nil {
			t.Fatalf("refresh: %v", err)
		}
	}

	h1, hash1, _, _ := s1.GetTip(ctx)
	h2, hash2, _, _ := s2.GetTip(ctx)
	if h1 != h2 || hash1 != hash2 {
		t.Fatalf("tips diverge: (%d,%s) vs (%d,%s)", h1, hash1, h2, hash2)
	}

	var balD1, balD2 int64
	s1.db.QueryRowContext(ctx, `SELECT COALESCE((SELECT total_balance FROM address_balances WHERE address='D'), 0)`).Scan(&balD1)
	s2.db.QueryRowContext(ctx, `SELECT COALESCE((SELECT total_balance FROM address_balances WHERE address='D'), 0)`).Scan(&balD2)
	if balD1 != balD2 {
		t.Fatalf("D balance diverges: %d vs %d", balD1, balD2)
	}

	var traceOfT int
	s1.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE txid = 'T'`).Scan(&traceOfT)
	if traceOfT != 0 {
		t.Fatalf("unwound transaction T still present")
	}
}

func TestRefreshBalanceProjection_S2(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.CommitBlock(ctx, coinbaseBlock(0, "h0", "", "A", "50.00000000")); err != nil {
		t.Fatalf("commit coinbase: %v", err)
	}
	if err := s.CommitBlock(ctx, coinbaseBlock(1, "h1", "h0", "X", "0")); err != nil {
		t.Fatalf("commit h1: %v", err)
	}
	if err := s.CommitBlock(ctx, coinbaseBlock(2, "h2", "h1", "X", "0")); err != nil {
		t.Fatalf("commit h2: %v", err)
	}

	spendMutation := parser.BlockMutation{
		Block: parser.BlockRecord{Hash: "h3", PrevHash: "h2", Height: 3, Chainwork: "0x1"},
		Txs: []parser.TxMutation{
			{
				Tx:     parser.TxRecord{TxID: "T", BlockHash: "h3", BlockHeight: 3},
				Spends: []parser.Spend{{PrevTxID: "h0-coinbase", PrevVout: 0, SpendingTxID: "T"}},
				Credits: []parser.UTXOCredit{
					{TxID: "T", Vout: 0, Address: "A", HasAddress: true, Amount: amount("25.00000000"), BlockHeight: 3, BlockHash: "h3"},
					{TxID: "T", Vout: 1, Address: "B", HasAddress: true, Amount: amount("24.99990000"), BlockHeight: 3, BlockHash: "h3"},
				},
			},
		},
	}
	if err := s.CommitBlock(ctx, spendMutation); err != nil {
		t.Fatalf("commit spend: %v", err)
	}
	if err := s.RefreshBalanceProjection(ctx, 0, true); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	balances := map[string]string{}
	rows, err := s.db.QueryContext(ctx, `SELECT address, total_balance FROM address_balances`)
	if err != nil {
		t.Fatalf("query balances: %v", err)
	}
	for rows.Next() {
		var addr string
		var bal int64
		rows.Scan(&addr, &bal)
		balances[addr] = fixedpoint.FromInt64(bal).String()
	}
	rows.Close()

	if balances["A"] != "25.00000000" || balances["B"] != "24.99990000" {
		t.Fatalf("balances = %+v", balances)
	}
}

func TestCommitBlock_TokenMintAndQuery(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	d := glyph.TokenDescriptor{Type: glyph.TypeFungible, Name: "Test", Decimals: 8, Supply: 1000000}
	m := parser.BlockMutation{
		Block: parser.BlockRecord{Hash: "h0", Height: 0},
		Txs: []parser.TxMutation{
			{
				Tx: parser.TxRecord{TxID: "mintTx", BlockHash: "h0", BlockHeight: 0},
				Credits: []parser.UTXOCredit{
					{TxID: "mintTx", Vout: 0, HasTokenRef: true, TokenRef: "deadbeef:0", Amount: amount("0"), BlockHeight: 0, BlockHash: "h0"},
				},
				TokenEvents: []parser.TokenEvent{
					{Kind: parser.TokenMint, Ref: "deadbeef:0", Metadata: &d, ToTxID: "mintTx", ToVout: 0},
				},
			},
		},
	}
	if err := s.CommitBlock(ctx, m); err != nil {
		t.Fatalf("commit: %v", err)
	}

	var typ, metadataJSON string
	if err := s.db.QueryRowContext(ctx, `SELECT type, metadata FROM glyph_tokens WHERE ref = ?`, "deadbeef:0").Scan(&typ, &metadataJSON); err != nil {
		t.Fatalf("query token: %v", err)
	}
	if typ != "fungible" {
		t.Fatalf("type = %q", typ)
	}
}

func TestAcquireRefresh_RespectsMinInterval(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	acquired, err := s.acquireRefresh(ctx, time.Hour, false)
	if err != nil || !acquired {
		t.Fatalf("first acquire should succeed: %v %v", acquired, err)
	}
	s.releaseRefresh(ctx)

	acquired, err = s.acquireRefresh(ctx, time.Hour, false)
	if err != nil {
		t.Fatalf("acquireRefresh: %v", err)
	}
	if acquired {
		t.Fatal("second acquire within min interval should be refused")
	}

	acquired, err = s.acquireRefresh(ctx, time.Hour, true)
	if err != nil || !acquired {
		t.Fatalf("forced acquire should succeed: %v %v", acquired, err)
	}
}
