package store

// schema is applied with CREATE TABLE IF NOT EXISTS at startup, matching
// the data model of spec.md §3. There is no separate migration tool in
// this stack; the schema is small and versioned by the binary itself.
const schema = `
CREATE TABLE IF NOT EXISTS blocks (
	id         SERIAL PRIMARY KEY,
	height     INTEGER NOT NULL UNIQUE,
	hash       BYTEA NOT NULL UNIQUE,
	prevhash   BYTEA NOT NULL,
	time       INTEGER NOT NULL,
	tree       BYTEA NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	id             SERIAL PRIMARY KEY,
	txid           BYTEA NOT NULL UNIQUE,
	block_id       INTEGER REFERENCES blocks(id),
	tx_index       INTEGER,
	created        TIMESTAMPTZ NOT NULL DEFAULT now(),
	expiry_height  INTEGER,
	raw            BYTEA
);

CREATE TABLE IF NOT EXISTS viewing_keys (
	id                 SERIAL PRIMARY KEY,
	key                TEXT NOT NULL UNIQUE,
	diversifier_cursor NUMERIC(39,0) NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS accounts (
	id      SERIAL PRIMARY KEY,
	address TEXT NOT NULL UNIQUE,
	fvk_id  INTEGER REFERENCES viewing_keys(id)
);

CREATE TABLE IF NOT EXISTS notes (
	id          SERIAL PRIMARY KEY,
	tx_id       INTEGER NOT NULL REFERENCES transactions(id),
	output_index INTEGER NOT NULL,
	account_id  INTEGER NOT NULL REFERENCES accounts(id),
	address     TEXT NOT NULL,
	diversifier BYTEA NOT NULL,
	position    BIGINT NOT NULL,
	value       BIGINT NOT NULL,
	rcm         BYTEA NOT NULL,
	memo        BYTEA,
	nf          BYTEA NOT NULL UNIQUE,
	is_change   BOOLEAN NOT NULL DEFAULT FALSE,
	height      INTEGER NOT NULL,
	spent_tx    INTEGER REFERENCES transactions(id),
	payment     INTEGER,
	UNIQUE (tx_id, output_index)
);

CREATE TABLE IF NOT EXISTS witnesses (
	note_id      INTEGER NOT NULL REFERENCES notes(id),
	block_height INTEGER NOT NULL,
	data         BYTEA NOT NULL,
	PRIMARY KEY (note_id, block_height)
);

CREATE TABLE IF NOT EXISTS utxos (
	id           SERIAL PRIMARY KEY,
	tx_hash      BYTEA NOT NULL,
	output_index INTEGER NOT NULL,
	account_id   INTEGER NOT NULL REFERENCES accounts(id),
	address      TEXT NOT NULL,
	value        BIGINT NOT NULL,
	script       BYTEA NOT NULL,
	height       INTEGER NOT NULL,
	spent        BOOLEAN NOT NULL DEFAULT FALSE,
	spent_height INTEGER,
	payment      INTEGER,
	UNIQUE (tx_hash, output_index)
);

CREATE TABLE IF NOT EXISTS payments (
	id             SERIAL PRIMARY KEY,
	datetime       TIMESTAMPTZ NOT NULL DEFAULT now(),
	account_id     INTEGER NOT NULL REFERENCES accounts(id),
	sender         TEXT NOT NULL,
	recipient      TEXT NOT NULL,
	change_address TEXT NOT NULL,
	amount         BIGINT NOT NULL,
	paid           BOOLEAN NOT NULL DEFAULT FALSE,
	txid           BYTEA
);

CREATE TABLE IF NOT EXISTS notifications (
	id              SERIAL PRIMARY KEY,
	datetime        TIMESTAMPTZ NOT NULL DEFAULT now(),
	outgoing        BOOLEAN NOT NULL,
	tx_hash         BYTEA NOT NULL,
	account_id      INTEGER NOT NULL REFERENCES accounts(id),
	tx_output_index INTEGER NOT NULL,
	amount          BIGINT NOT NULL,
	block           INTEGER NOT NULL,
	delivered       BOOLEAN NOT NULL DEFAULT FALSE,
	UNIQUE (tx_hash, tx_output_index, outgoing)
);

CREATE INDEX IF NOT EXISTS idx_notes_account ON notes(account_id);
CREATE INDEX IF NOT EXISTS idx_notes_payment ON notes(payment);
CREATE INDEX IF NOT EXISTS idx_utxos_account ON utxos(account_id);
CREATE INDEX IF NOT EXISTS idx_utxos_payment ON utxos(payment);
CREATE INDEX IF NOT EXISTS idx_witnesses_height ON witnesses(block_height);
CREATE INDEX IF NOT EXISTS idx_notifications_undelivered ON notifications(delivered) WHERE NOT delivered;
`
