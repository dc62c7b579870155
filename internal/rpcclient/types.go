package rpcclient

// RawBlock mirrors the verbose=2 shape of Radiant's getblock RPC response:
// a full header plus fully decoded transactions (including prevout data for
// each input, when the node provides it).
type RawBlock struct {
	Hash              string  `json:"hash"`
	Confirmations     int64   `json:"confirmations"`
	Height            uint64  `json:"height"`
	Version           int32   `json:"version"`
	MerkleRoot        string  `json:"merkleroot"`
	Time              int64   `json:"time"`
	Nonce             uint32  `json:"nonce"`
	Bits              string  `json:"bits"`
	Chainwork         string  `json:"chainwork"`
	PreviousBlockHash string  `json:"previousblockhash"`
	NextBlockHash     string  `json:"nextblockhash,omitempty"`
	Tx                []RawTx `json:"tx"`
}

// RawTx mirrors a verbose transaction, whether embedded in a verbose=2 block
// or fetched standalone via getrawtransaction(txid, true).
type RawTx struct {
	TxID        string    `json:"txid"`
	Hash        string    `json:"hash"`
	Version     int32     `json:"version"`
	Size        int       `json:"size"`
	LockTime    uint32    `json:"locktime"`
	Vin         []RawVin  `json:"vin"`
	Vout        []RawVout `json:"vout"`
	BlockHash   string    `json:"blockhash,omitempty"`
	Time        int64     `json:"time,omitempty"`
	BlockHeight uint64    `json:"-"` // not decoded from the node; the Block Parser uses the block's height instead
}

// RawVin is one transaction input. Coinbase is non-empty exactly for
// coinbase transactions, in which case TxID/Vout/ScriptSig are unused.
type RawVin struct {
	TxID      string        `json:"txid,omitempty"`
	Vout      uint32        `json:"vout"`
	ScriptSig RawScriptSig  `json:"scriptSig"`
	Sequence  uint32        `json:"sequence"`
	Coinbase  string        `json:"coinbase,omitempty"`
	Prevout   *RawPrevout   `json:"prevout,omitempty"` // populated by verbose=2 on nodes that support it
}

// RawPrevout is the resolved output an input spends, when the node includes
// it inline (Radiant's verbose=2 extension). When absent, the Block Parser
// does not look the prevout up elsewhere: that input's refs are not scanned,
// so no Transfer or Burn is derived from it.
type RawPrevout struct {
	Value        string          `json:"value"`
	ScriptPubKey RawScriptPubKey `json:"scriptPubKey"`
}

// RawScriptSig is an input's unlocking script.
type RawScriptSig struct {
	Hex string `json:"hex"`
}

// RawVout is one transaction output.
type RawVout struct {
	Value        string          `json:"value"`
	N            uint32          `json:"n"`
	ScriptPubKey RawScriptPubKey `json:"scriptPubKey"`
}

// RawScriptPubKey is an output's locking script.
type RawScriptPubKey struct {
	Hex       string   `json:"hex"`
	Type      string   `json:"type"`
	Addresses []string `json:"addresses,omitempty"`
}
