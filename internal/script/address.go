package script

import (
	"crypto/sha256"

	"github.com/btcsuite/btcutil/base58"
)

// Standard P2PKH opcodes.
const (
	opDup          = 0x76
	opHash160      = 0xa9
	opEqualVerify  = 0x88
	opCheckSig     = 0xac
	hash160Size    = 20
)

// DeriveAddress derives the payee address for a standard pay-to-public-key-hash
// scriptPubKey (OP_DUP OP_HASH160 <20 bytes> OP_EQUALVERIFY OP_CHECKSIG),
// base58check-encoded with the given version byte. Non-standard scripts
// return ok=false — the Block Parser stores such outputs with address=null,
// per spec.md §4.4.
func DeriveAddress(scriptPubKey []byte, addrVersion byte) (address string, ok bool) {
	if len(scriptPubKey) != 25 {
		return "", false
	}
	if scriptPubKey[0] != opDup || scriptPubKey[1] != opHash160 {
		return "", false
	}
	if scriptPubKey[2] != hash160Size {
		return "", false
	}
	if scriptPubKey[23] != opEqualVerify || scriptPubKey[24] != opCheckSig {
		return "", false
	}
	hash := scriptPubKey[3:23]
	return encodeBase58Check(addrVersion, hash), true
}

func encodeBase58Check(version byte, payload []byte) string {
	buf := make([]byte, 0, 1+len(payload)+4)
	buf = append(buf, version)
	buf = append(buf, payload...)

	checksum := doubleSHA256(buf)[:4]
	buf = append(buf, checksum...)
	return base58.Encode(buf)
}

func doubleSHA256(b []byte) []byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return second[:]
}
