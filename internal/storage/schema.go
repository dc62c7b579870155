package storage

const schema = `
CREATE TABLE IF NOT EXISTS blocks (
	hash         TEXT PRIMARY KEY,
	height       INTEGER NOT NULL UNIQUE,
	prev_hash    TEXT NOT NULL,
	merkle_root  TEXT NOT NULL,
	timestamp    INTEGER NOT NULL,
	version      INTEGER NOT NULL,
	bits         TEXT NOT NULL,
	nonce        INTEGER NOT NULL,
	chainwork    TEXT NOT NULL,
	tx_count     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_blocks_height ON blocks(height);

CREATE TABLE IF NOT EXISTS transactions (
	txid           TEXT PRIMARY KEY,
	block_hash     TEXT NOT NULL REFERENCES blocks(hash),
	block_height   INTEGER NOT NULL,
	index_in_block INTEGER NOT NULL,
	timestamp      INTEGER NOT NULL,
	size           INTEGER NOT NULL,
	locktime       INTEGER NOT NULL,
	input_count    INTEGER NOT NULL,
	output_count   INTEGER NOT NULL,
	UNIQUE(block_hash, index_in_block)
);
CREATE INDEX IF NOT EXISTS idx_transactions_height ON transactions(block_height);

CREATE TABLE IF NOT EXISTS utxos (
	txid          TEXT NOT NULL,
	vout          INTEGER NOT NULL,
	address       TEXT,
	amount        INTEGER NOT NULL,
	token_ref     TEXT,
	spent         INTEGER NOT NULL DEFAULT 0,
	spent_by_txid TEXT,
	block_height  INTEGER NOT NULL,
	block_hash    TEXT NOT NULL,
	PRIMARY KEY (txid, vout)
);
CREATE INDEX IF NOT EXISTS idx_utxos_address ON utxos(address) WHERE spent = 0;
CREATE INDEX IF NOT EXISTS idx_utxos_token_ref ON utxos(token_ref) WHERE spent = 0;
CREATE INDEX IF NOT EXISTS idx_utxos_height ON utxos(block_height);
CREATE INDEX IF NOT EXISTS idx_utxos_spent_by ON utxos(spent_by_txid);

CREATE TABLE IF NOT EXISTS glyph_tokens (
	ref                  TEXT PRIMARY KEY,
	type                 TEXT NOT NULL,
	protocols            TEXT NOT NULL DEFAULT '[]',
	metadata             TEXT NOT NULL DEFAULT '{}',
	genesis_txid         TEXT NOT NULL,
	genesis_block_height INTEGER NOT NULL,
	current_txid         TEXT NOT NULL,
	current_vout         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS token_mutations (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	ref    TEXT NOT NULL,
	height INTEGER NOT NULL,
	txid   TEXT NOT NULL,
	vout   INTEGER NOT NULL,
	kind   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_token_mutations_ref_height ON token_mutations(ref, height);

CREATE TABLE IF NOT EXISTS address_balances (
	address           TEXT PRIMARY KEY,
	total_balance     INTEGER NOT NULL,
	utxo_count        INTEGER NOT NULL,
	last_refreshed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS holders (
	address        TEXT PRIMARY KEY,
	rxd_balance    INTEGER NOT NULL DEFAULT 0,
	token_balances TEXT NOT NULL DEFAULT '{}',
	first_seen_at  INTEGER NOT NULL,
	last_seen_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_state (
	id               INTEGER PRIMARY KEY CHECK (id = 1),
	current_height   INTEGER NOT NULL,
	current_hash     TEXT NOT NULL,
	current_chainwork TEXT NOT NULL,
	is_syncing       INTEGER NOT NULL DEFAULT 0,
	last_error       TEXT,
	last_updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS refresh_state (
	name              TEXT PRIMARY KEY,
	refreshing        INTEGER NOT NULL DEFAULT 0,
	last_refreshed_at INTEGER NOT NULL DEFAULT 0
);
`
