// Package rxerrors collects the sentinel errors shared across components, in
// place of exceptions-for-control-flow (spec.md §9): expected failure modes
// are values checked with errors.Is, reserving panics for integrity
// violations that truly cannot be recovered from.
package rxerrors

import "errors"

var (
	// ErrHeightBeyondTip is returned by the Node Client when asked for a
	// block at a height past the node's reported tip.
	ErrHeightBeyondTip = errors.New("rpcclient: height beyond tip")

	// ErrNodeUnavailable is returned while the Node Client's circuit
	// breaker is open.
	ErrNodeUnavailable = errors.New("rpcclient: node unavailable (circuit open)")

	// ErrMalformedMetadata is returned by the CBOR Metadata Decoder when a
	// Glyph payload cannot be decoded into a TokenDescriptor. The Block
	// Parser treats this as non-fatal: the envelope is dropped and the
	// transaction is still indexed as a plain UTXO mutation.
	ErrMalformedMetadata = errors.New("glyph: malformed metadata")

	// ErrConflictingBlock is returned by commit_block when a height is
	// already occupied by a different hash — the signal that a reorg has
	// happened upstream.
	ErrConflictingBlock = errors.New("storage: conflicting block at height")

	// ErrMissingPrevout is returned by commit_block when a spend
	// references a UTXO the store has never seen.
	ErrMissingPrevout = errors.New("storage: missing prevout for spend")

	// ErrDeepReorg is returned by the Sync Coordinator when the divergent
	// suffix is longer than reorg_limit; it halts the coordinator pending
	// operator intervention.
	ErrDeepReorg = errors.New("sync: reorg exceeds configured limit")

	// ErrIntegrityViolation marks a storage-level inconsistency that
	// should never occur under correct operation (e.g. a UTXO spent by two
	// different transactions, or no block left at the unwind_to height).
	ErrIntegrityViolation = errors.New("storage: integrity violation")
)
