// Package script parses Bitcoin-style scripts into push sequences and
// detects Glyph protocol envelopes within them, per spec.md §4.2. Push
// decoding follows the standard Bitcoin-script encodings (direct pushes,
// PUSHDATA1/2/4); address derivation for standard scriptPubKeys reuses
// btcutil/base58, the same library the teacher uses for Avalanche X/P-chain
// address encoding (pchain/client.go).
package script

import (
	"encoding/binary"
)

// Opcodes relevant to push decoding.
const (
	opZero       = 0x00
	opPushData1  = 0x4c
	opPushData2  = 0x4d
	opPushData4  = 0x4e
	opReturn     = 0x6a
	op3          = 0x53 // OP_3, used by v2 Style B's marker sequence

	// Radiant inline-ref opcodes: each pushes a fixed 36-byte ref payload
	// (txid || vout) directly, without a preceding length byte.
	opPushInputRef       = 0xd0
	opPushInputRefSingleton = 0xd1
	opRefSpendable       = 0xd2
	opPushOutputRefSingleton = 0xd3
	opPushInputRefOutput = 0xd8

	refPayloadSize = 36
)

// inlineRefOpcodes is the set of Radiant ref-push opcodes recognized by
// Phase 1 of the Block Parser's two-phase ref scan (spec.md §4.4).
var inlineRefOpcodes = map[byte]bool{
	opPushInputRef:           true,
	opPushInputRefSingleton:  true,
	opRefSpendable:           true,
	opPushOutputRefSingleton: true,
	opPushInputRefOutput:     true,
}

// Op is one decoded script element: either a data push (Data non-nil) or a
// bare opcode.
type Op struct {
	Opcode byte
	Data   []byte // nil for non-push opcodes
}

// IsRef reports whether this Op is a Radiant inline-ref push, and if so
// returns its 36-byte payload.
func (o Op) IsRef() (ref []byte, ok bool) {
	if inlineRefOpcodes[o.Opcode] && len(o.Data) == refPayloadSize {
		return o.Data, true
	}
	return nil, false
}

// ParsePushes walks raw script bytes into an ordered sequence of Ops. It
// never returns an error: a script that runs out of bytes mid-push is
// truncated at the last well-formed Op, matching how a real node would
// simply fail to recognize anything useful past that point.
func ParsePushes(script []byte) []Op {
	var ops []Op
	i := 0
	for i < len(script) {
		b := script[i]
		i++

		switch {
		case b == opZero:
			ops = append(ops, Op{Opcode: b, Data: []byte{}})

		case b >= 0x01 && b <= 0x4b:
			n := int(b)
			if i+n > len(script) {
				return ops
			}
			ops = append(ops, Op{Opcode: b, Data: script[i : i+n]})
			i += n

		case b == opPushData1:
			if i+1 > len(script) {
				return ops
			}
			n := int(script[i])
			i++
			if i+n > len(script) {
				return ops
			}
			ops = append(ops, Op{Opcode: b, Data: script[i : i+n]})
			i += n

		case b == opPushData2:
			if i+2 > len(script) {
				return ops
			}
			n := int(binary.LittleEndian.Uint16(script[i : i+2]))
			i += 2
			if i+n > len(script) {
				return ops
			}
			ops = append(ops, Op{Opcode: b, Data: script[i : i+n]})
			i += n

		case b == opPushData4:
			if i+4 > len(script) {
				return ops
			}
			n := int(binary.LittleEndian.Uint32(script[i : i+4]))
			i += 4
			if i+n > len(script) {
				return ops
			}
			ops = append(ops, Op{Opcode: b, Data: script[i : i+n]})
			i += n

		case inlineRefOpcodes[b]:
			if i+refPayloadSize > len(script) {
				return ops
			}
			ops = append(ops, Op{Opcode: b, Data: script[i : i+refPayloadSize]})
			i += refPayloadSize

		default:
			ops = append(ops, Op{Opcode: b})
		}
	}
	return ops
}

// RefPushes returns the 36-byte ref payload of every Radiant inline-ref push
// found in script, in order — the Block Parser's Phase 1 scan.
func RefPushes(script []byte) [][]byte {
	var refs [][]byte
	for _, op := range ParsePushes(script) {
		if ref, ok := op.IsRef(); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}
