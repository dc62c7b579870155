package script

import "bytes"

// EnvelopeKind distinguishes a Glyph commit (hash of future metadata) from a
// reveal (the metadata itself), per the GLOSSARY.
type EnvelopeKind int

const (
	KindReveal EnvelopeKind = iota
	KindCommit
)

// Envelope is the script-level Glyph marker the Block Parser hands to the
// CBOR Metadata Decoder (for reveals); the Block Parser skips commits. It
// carries no protocol set: the v2 protocol IDs live inside the CBOR payload
// and are read by package glyph into TokenDescriptor.Protocols.
type Envelope struct {
	Version     int
	Kind        EnvelopeKind
	RawMetadata []byte // CBOR bytes for a reveal; raw commit bytes for a commit
}

var glyMarker = []byte("gly")

// isCBORMap reports whether data's leading byte encodes a CBOR map (major
// type 5): definite-length maps are 0xa0-0xbb, indefinite maps are 0xbf.
// This is the minimal peek DetectEnvelope needs for the disambiguation rule
// in spec.md §4.2 — a full decode is package glyph's job.
func isCBORMap(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	b := data[0]
	return b >= 0xa0 && b <= 0xbb || b == 0xbf
}

// DetectEnvelope implements the three-form Glyph envelope detection table
// from spec.md §4.2. script is either an input's scriptSig (isOutput=false)
// or an output's scriptPubKey (isOutput=true).
func DetectEnvelope(script []byte, isOutput bool) (*Envelope, bool) {
	if isOutput {
		return detectStyleA(script)
	}
	return detectInputForms(script)
}

// detectStyleA looks for a v2 Style A envelope: OP_RETURN followed by a
// single push beginning with "gly" + version byte + flags byte.
func detectStyleA(script []byte) (*Envelope, bool) {
	ops := ParsePushes(script)
	for i, op := range ops {
		if op.Opcode != opReturn {
			continue
		}
		if i+1 >= len(ops) {
			return nil, false
		}
		marker := ops[i+1]
		if len(marker.Data) < 5 || !bytes.Equal(marker.Data[:3], glyMarker) {
			continue
		}
		version := int(marker.Data[3])
		flags := marker.Data[4]
		isReveal := flags&0x80 != 0 // bit 7, authoritative per §4.2

		if isReveal {
			if i+2 >= len(ops) {
				return nil, false
			}
			return &Envelope{Version: version, Kind: KindReveal, RawMetadata: ops[i+2].Data}, true
		}

		// Commit layout: commit hash + optional content root/controller,
		// carried in the remainder of the marker push itself.
		return &Envelope{Version: version, Kind: KindCommit, RawMetadata: marker.Data[5:]}, true
	}
	return nil, false
}

// detectInputForms looks for a v1 envelope (standalone "gly" push) or a v2
// Style B envelope (OP_3, then "gly" push, then payload push) in an input's
// scriptSig.
func detectInputForms(script []byte) (*Envelope, bool) {
	ops := ParsePushes(script)
	for i, op := range ops {
		if len(op.Data) != 3 || !bytes.Equal(op.Data, glyMarker) {
			continue
		}
		if i+1 >= len(ops) {
			return nil, false
		}
		payload := ops[i+1]

		styleB := i > 0 && ops[i-1].Opcode == op3

		// Disambiguation rule: try CBOR-map decode of the payload first.
		if isCBORMap(payload.Data) {
			version := 1
			if styleB {
				version = 2
			}
			return &Envelope{Version: version, Kind: KindReveal, RawMetadata: payload.Data}, true
		}

		if !styleB {
			// A standalone "gly" push whose payload isn't a CBOR map isn't
			// a recognized v1 form (v1 has no commit variant).
			continue
		}

		// v2 Style B commit: payload = version || flags || commit.
		if len(payload.Data) < 2 {
			continue
		}
		version := int(payload.Data[0])
		return &Envelope{Version: version, Kind: KindCommit, RawMetadata: payload.Data[2:]}, true
	}
	return nil, false
}
