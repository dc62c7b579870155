package parser

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// canonicalRef converts a 36-byte Radiant ref payload (32-byte txid in raw
// node byte order, 4-byte little-endian vout) into the wire/storage form
// this indexer standardises on: lowercase-hex txid (display byte order) and
// decimal vout, joined by a colon. spec.md §9 leaves the choice between this
// and a concatenated-hex form open; "txid:vout" is picked here and used
// consistently everywhere a ref is produced or compared.
func canonicalRef(payload []byte) (string, bool) {
	if len(payload) != 36 {
		return "", false
	}
	txid := reverseHex(payload[:32])
	vout := binary.LittleEndian.Uint32(payload[32:36])
	return fmt.Sprintf("%s:%d", txid, vout), true
}

// reverseHex hex-encodes b in reversed byte order, matching how a node
// reports txids in RPC responses versus their on-the-wire (reversed) form.
func reverseHex(b []byte) string {
	rev := make([]byte, len(b))
	for i, c := range b {
		rev[len(b)-1-i] = c
	}
	return hex.EncodeToString(rev)
}
