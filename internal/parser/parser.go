package parser

import (
	"encoding/hex"
	"log"

	"github.com/radiant-io/rxindexer/internal/fixedpoint"
	"github.com/radiant-io/rxindexer/internal/glyph"
	"github.com/radiant-io/rxindexer/internal/rpcclient"
	"github.com/radiant-io/rxindexer/internal/script"
)

// ParseBlock reduces one fetched RawBlock into a BlockMutation. addrVersion
// is the base58check version byte used to derive payee addresses from
// standard scriptPubKeys. The parser never touches storage or the network;
// same input always yields the same output.
func ParseBlock(block rpcclient.RawBlock, addrVersion byte) (BlockMutation, error) {
	mutation := BlockMutation{
		Block: BlockRecord{
			Hash:       block.Hash,
			PrevHash:   block.PreviousBlockHash,
			Height:     block.Height,
			MerkleRoot: block.MerkleRoot,
			Timestamp:  block.Time,
			Version:    block.Version,
			Bits:       block.Bits,
			Nonce:      block.Nonce,
			Chainwork:  block.Chainwork,
			TxCount:    len(block.Tx),
		},
		Txs: make([]TxMutation, 0, len(block.Tx)),
	}

	for i, tx := range block.Tx {
		mutation.Txs = append(mutation.Txs, parseTx(tx, i, block, addrVersion))
	}
	return mutation, nil
}

func parseTx(t rpcclient.RawTx, indexInBlock int, block rpcclient.RawBlock, addrVersion byte) TxMutation {
	isCoinbase := len(t.Vin) > 0 && t.Vin[0].Coinbase != ""

	tm := TxMutation{
		Tx: TxRecord{
			TxID:         t.TxID,
			BlockHash:    block.Hash,
			BlockHeight:  block.Height,
			IndexInBlock: indexInBlock,
			Timestamp:    block.Time,
			Size:         t.Size,
			LockTime:     t.LockTime,
			InputCount:   len(t.Vin),
			OutputCount:  len(t.Vout),
		},
	}

	// Spends: coinbase transactions have none.
	if !isCoinbase {
		for _, vin := range t.Vin {
			tm.Spends = append(tm.Spends, Spend{
				PrevTxID:     vin.TxID,
				PrevVout:     vin.Vout,
				SpendingTxID: t.TxID,
			})
		}
	}

	// Phase 1: scan outputs (and, for transfer/burn detection, spent
	// prevouts) for Radiant inline-ref pushes.
	outputRefs := make(map[int]string, len(t.Vout))
	for _, vout := range t.Vout {
		scriptBytes, err := hex.DecodeString(vout.ScriptPubKey.Hex)
		if err != nil {
			continue
		}
		if refs := script.RefPushes(scriptBytes); len(refs) > 0 {
			if ref, ok := canonicalRef(refs[0]); ok {
				outputRefs[int(vout.N)] = ref
			}
		}
	}

	inputRefs := make(map[int]string, len(t.Vin))
	for vi, vin := range t.Vin {
		if vin.Prevout == nil {
			continue
		}
		scriptBytes, err := hex.DecodeString(vin.Prevout.ScriptPubKey.Hex)
		if err != nil {
			continue
		}
		if refs := script.RefPushes(scriptBytes); len(refs) > 0 {
			if ref, ok := canonicalRef(refs[0]); ok {
				inputRefs[vi] = ref
			}
		}
	}

	minted := make(map[int]bool) // output index already explained by a Mint

	// Phase 2: scan inputs for Glyph reveals (v1 standalone, v2 Style B).
	for _, vin := range t.Vin {
		scriptBytes, err := hex.DecodeString(vin.ScriptSig.Hex)
		if err != nil {
			continue
		}
		env, ok := script.DetectEnvelope(scriptBytes, false)
		if !ok || env.Kind != script.KindReveal {
			continue
		}
		bindReveal(env, outputRefs, minted, &tm)
	}

	// Phase 2b: no input reveal bound anything; fall back to scanning
	// outputs for v2 Style A OP_RETURN reveals.
	if len(minted) == 0 {
		for _, vout := range t.Vout {
			scriptBytes, err := hex.DecodeString(vout.ScriptPubKey.Hex)
			if err != nil {
				continue
			}
			env, ok := script.DetectEnvelope(scriptBytes, true)
			if !ok || env.Kind != script.KindReveal {
				continue
			}
			bindReveal(env, outputRefs, minted, &tm)
		}
	}

	// Credits: one per output, in order, with token_ref set where Phase 1
	// or a reveal bound one.
	for _, vout := range t.Vout {
		amount, err := fixedpoint.ParseDecimalString(vout.Value)
		if err != nil {
			log.Printf("parser: tx %s output %d: %v", t.TxID, vout.N, err)
			continue
		}

		scriptBytes, _ := hex.DecodeString(vout.ScriptPubKey.Hex)
		addr, hasAddr := script.DeriveAddress(scriptBytes, addrVersion)

		ref, hasRef := outputRefs[int(vout.N)]

		tm.Credits = append(tm.Credits, UTXOCredit{
			TxID:        t.TxID,
			Vout:        vout.N,
			Address:     addr,
			HasAddress:  hasAddr,
			Amount:      amount,
			TokenRef:    ref,
			HasTokenRef: hasRef,
			BlockHeight: block.Height,
			BlockHash:   block.Hash,
		})
	}

	// Transfer/Burn: an output ref not explained by a Mint in this tx is
	// either carrying forward a ref-bearing input (Transfer) or consuming
	// one with no surviving output (Burn).
	consumedInputRef := make(map[string]int) // ref -> vin index, first match wins
	for vi, ref := range inputRefs {
		if _, taken := consumedInputRef[ref]; !taken {
			consumedInputRef[ref] = vi
		}
	}

	for outIdx, ref := range outputRefs {
		if minted[outIdx] {
			continue
		}
		if vi, ok := consumedInputRef[ref]; ok {
			tm.TokenEvents = append(tm.TokenEvents, TokenEvent{
				Kind:     TokenTransfer,
				Ref:      ref,
				FromTxID: t.Vin[vi].TxID,
				FromVout: t.Vin[vi].Vout,
				ToTxID:   t.TxID,
				ToVout:   uint32(outIdx),
			})
			delete(consumedInputRef, ref)
		}
	}
	for ref, vi := range consumedInputRef {
		tm.TokenEvents = append(tm.TokenEvents, TokenEvent{
			Kind:     TokenBurn,
			Ref:      ref,
			FromTxID: t.Vin[vi].TxID,
			FromVout: t.Vin[vi].Vout,
		})
	}

	return tm
}

// bindReveal decodes one envelope's metadata and, if it matches an
// unexplained output ref (or no output ref is explicit, per v2's
// metadata shape), records a Mint event and marks that output bound.
func bindReveal(env *script.Envelope, outputRefs map[int]string, minted map[int]bool, tm *TxMutation) {
	descriptor, err := glyph.DecodeMetadata(env.RawMetadata)
	if err != nil {
		log.Printf("parser: tx %s: %v", tm.Tx.TxID, err)
		return
	}

	targetOut, ref, ok := matchOutputRef(descriptor, outputRefs, minted)
	if !ok {
		return
	}

	minted[targetOut] = true
	d := descriptor
	tm.TokenEvents = append(tm.TokenEvents, TokenEvent{
		Kind:     TokenMint,
		Ref:      ref,
		Metadata: &d,
		ToTxID:   tm.Tx.TxID,
		ToVout:   uint32(targetOut),
	})
}

// matchOutputRef picks which output a reveal's metadata binds to: the
// output whose ref equals the descriptor's explicit Ref (v1), or, absent an
// explicit ref (v2 has none), the first unbound ref-bearing output — per
// spec.md §4.4's "first successful reveal whose ref matches an output ref"
// tie-break.
func matchOutputRef(d glyph.TokenDescriptor, outputRefs map[int]string, minted map[int]bool) (int, string, bool) {
	if d.Ref != "" {
		for idx, ref := range outputRefs {
			if ref == d.Ref && !minted[idx] {
				return idx, ref, true
			}
		}
		return 0, "", false
	}
	// Deterministic pick: lowest output index among unbound ref bearers.
	bestIdx := -1
	for idx := range outputRefs {
		if minted[idx] {
			continue
		}
		if bestIdx == -1 || idx < bestIdx {
			bestIdx = idx
		}
	}
	if bestIdx == -1 {
		return 0, "", false
	}
	return bestIdx, outputRefs[bestIdx], true
}
