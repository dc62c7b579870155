// Package glyph is the CBOR Metadata Decoder (C3): it turns the raw CBOR
// bytes a Glyph envelope reveals into a typed TokenDescriptor, per spec.md
// §4.3. It uses github.com/fxamacker/cbor/v2, the CBOR codec family this
// corpus's UTXO-chain projects (blinklabs-io/gouroboros, Salvionied/apollo)
// reach for when a chain encodes structured metadata directly on-chain.
package glyph

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/radiant-io/rxindexer/internal/rxerrors"
)

// TokenType is the Glyph token kind, derived either directly (v1's "type"
// field) or from the v2 protocol-ID array.
type TokenType string

const (
	TypeFungible    TokenType = "fungible"
	TypeNonFungible TokenType = "non-fungible"
	TypeDMint       TokenType = "dmint"
	TypeContainer   TokenType = "container"
	TypeDat         TokenType = "dat"
	TypeUnknown     TokenType = "unknown"
)

// protocolTypeTable maps a v2 protocol ID to the token type it implies, per
// spec.md §4.3's "p→type" table. Only the IDs spec.md names are mapped;
// unmapped IDs are preserved in Protocols but don't influence Type.
var protocolTypeTable = map[int]TokenType{
	1: TypeFungible,
	2: TypeNonFungible,
	4: TypeDMint,
	7: TypeContainer,
}

// TokenDescriptor is the decoded, typed result of a Glyph reveal. Unknown
// fields are preserved as opaque CBOR bytes in Extra rather than exposed as a
// raw map, per spec.md §9's guidance against leaking dynamic CBOR shapes.
type TokenDescriptor struct {
	Version int
	Type    TokenType
	Ref     string

	Name     string
	Ticker   string
	Decimals int
	Supply   uint64
	Attrs    map[string]any
	IconRef  string

	Protocols   []int
	TokenID     string
	WantTokenID string
	Flags       uint64
	ContractRef string
	Algorithm   int
	Difficulty  uint64
	Reward      uint64
	MediaRefs   []string

	Extra cbor.RawMessage
}

// DecodeMetadata decodes raw CBOR bytes (an Envelope's RawMetadata for a
// reveal) into a TokenDescriptor. It is strict about root shape (must be a
// map) and required fields, tolerant of unknown ones.
func DecodeMetadata(raw []byte) (TokenDescriptor, error) {
	var fields map[string]cbor.RawMessage
	if err := cbor.Unmarshal(raw, &fields); err != nil {
		return TokenDescriptor{}, fmt.Errorf("%w: root is not a CBOR map: %v", rxerrors.ErrMalformedMetadata, err)
	}

	if _, hasType := fields["type"]; hasType {
		return decodeV1(fields)
	}
	if _, hasP := fields["p"]; hasP {
		return decodeV2(fields)
	}
	return TokenDescriptor{}, fmt.Errorf("%w: missing required 'type' (v1) or 'p' (v2) field", rxerrors.ErrMalformedMetadata)
}

func decodeV1(fields map[string]cbor.RawMessage) (TokenDescriptor, error) {
	d := TokenDescriptor{Version: 1}

	var typ string
	if err := unmarshalField(fields, "type", &typ); err != nil {
		return TokenDescriptor{}, err
	}
	switch typ {
	case "fungible":
		d.Type = TypeFungible
	case "non-fungible":
		d.Type = TypeNonFungible
	case "dmint":
		d.Type = TypeDMint
	default:
		return TokenDescriptor{}, fmt.Errorf("%w: unknown v1 type %q", rxerrors.ErrMalformedMetadata, typ)
	}

	unmarshalField(fields, "ref", &d.Ref)
	unmarshalField(fields, "name", &d.Name)
	unmarshalField(fields, "ticker", &d.Ticker)
	unmarshalField(fields, "decimals", &d.Decimals)
	unmarshalField(fields, "supply", &d.Supply)
	unmarshalField(fields, "attrs", &d.Attrs)
	unmarshalField(fields, "icon_ref", &d.IconRef)

	d.Extra = extraFields(fields, "type", "ref", "name", "ticker", "decimals", "supply", "attrs", "icon_ref")
	return d, nil
}

func decodeV2(fields map[string]cbor.RawMessage) (TokenDescriptor, error) {
	d := TokenDescriptor{Version: 2}

	if err := unmarshalField(fields, "p", &d.Protocols); err != nil {
		return TokenDescriptor{}, err
	}
	if len(d.Protocols) == 0 {
		return TokenDescriptor{}, fmt.Errorf("%w: v2 'p' must be a non-empty protocol list", rxerrors.ErrMalformedMetadata)
	}
	d.Type = TypeUnknown
	for _, p := range d.Protocols {
		if t, ok := protocolTypeTable[p]; ok {
			d.Type = t
			break
		}
	}

	unmarshalField(fields, "tokenID", &d.TokenID)
	unmarshalField(fields, "want_tokenID", &d.WantTokenID)
	unmarshalField(fields, "flags", &d.Flags)
	unmarshalField(fields, "name", &d.Name)
	unmarshalField(fields, "ticker", &d.Ticker)
	unmarshalField(fields, "decimals", &d.Decimals)
	unmarshalField(fields, "contract_ref", &d.ContractRef)
	unmarshalField(fields, "algorithm", &d.Algorithm)
	unmarshalField(fields, "difficulty", &d.Difficulty)
	unmarshalField(fields, "reward", &d.Reward)
	unmarshalField(fields, "media", &d.MediaRefs)

	d.Extra = extraFields(fields,
		"p", "tokenID", "want_tokenID", "flags", "name", "ticker", "decimals",
		"contract_ref", "algorithm", "difficulty", "reward", "media",
	)
	return d, nil
}

// unmarshalField decodes fields[key] into out if present. A missing key is
// not an error — callers check required fields explicitly.
func unmarshalField(fields map[string]cbor.RawMessage, key string, out any) error {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	if err := cbor.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: field %q: %v", rxerrors.ErrMalformedMetadata, key, err)
	}
	return nil
}

// extraFields re-encodes every field not in known as a CBOR map, preserving
// unrecognized metadata as opaque bytes instead of a live map[string]any.
func extraFields(fields map[string]cbor.RawMessage, known ...string) cbor.RawMessage {
	knownSet := make(map[string]bool, len(known))
	for _, k := range known {
		knownSet[k] = true
	}
	rest := make(map[string]cbor.RawMessage)
	for k, v := range fields {
		if !knownSet[k] {
			rest[k] = v
		}
	}
	if len(rest) == 0 {
		return nil
	}
	data, err := cbor.Marshal(rest)
	if err != nil {
		return nil
	}
	return data
}
