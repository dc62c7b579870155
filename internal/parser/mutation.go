// Package parser is the Block Parser (C4): it turns one fetched RawBlock
// into an ordered, storage-ready BlockMutation. It is pure — it never talks
// to the network or a database — grounded on the teacher's indexers/pcx/indexers
// packages, each of which reduces one chain's raw data into typed records
// for its own store.
package parser

import (
	"github.com/radiant-io/rxindexer/internal/fixedpoint"
	"github.com/radiant-io/rxindexer/internal/glyph"
)

// BlockRecord is the Block entity from the data model (spec.md §3).
type BlockRecord struct {
	Hash              string
	PrevHash          string
	Height            uint64
	MerkleRoot        string
	Timestamp         int64
	Version           int32
	Bits              string
	Nonce             uint32
	Chainwork         string
	TxCount           int
}

// TxRecord is the Transaction entity.
type TxRecord struct {
	TxID         string
	BlockHash    string
	BlockHeight  uint64
	IndexInBlock int
	Timestamp    int64
	Size         int
	LockTime     uint32
	InputCount   int
	OutputCount  int
}

// Spend is one input's consumption of a prior UTXO.
type Spend struct {
	PrevTxID     string
	PrevVout     uint32
	SpendingTxID string
}

// UTXOCredit is one output becoming a new unspent UTXO.
type UTXOCredit struct {
	TxID        string
	Vout        uint32
	Address     string
	HasAddress  bool
	Amount      fixedpoint.Amount
	TokenRef    string
	HasTokenRef bool
	BlockHeight uint64
	BlockHash   string
}

// TokenEventKind distinguishes the three ways a Glyph token's state can
// change within a block, per spec.md §4.4.
type TokenEventKind int

const (
	TokenMint TokenEventKind = iota
	TokenTransfer
	TokenBurn
)

// TokenEvent is one Mint, Transfer, or Burn produced while parsing a
// transaction.
type TokenEvent struct {
	Kind       TokenEventKind
	Ref        string
	Metadata   *glyph.TokenDescriptor // set for Mint, nil otherwise
	FromTxID   string                 // Transfer, Burn
	FromVout   uint32
	ToTxID     string // Mint, Transfer
	ToVout     uint32
}

// TxMutation groups everything one transaction contributes to a
// BlockMutation, in the canonical application order: spends, then credits,
// then token events.
type TxMutation struct {
	Tx          TxRecord
	Spends      []Spend
	Credits     []UTXOCredit
	TokenEvents []TokenEvent
}

// BlockMutation is the Block Parser's complete, ordered output for one
// block.
type BlockMutation struct {
	Block BlockRecord
	Txs   []TxMutation
}
