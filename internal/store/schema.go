package store

// schema creates the seven entity tables and the secondary indexes
// needed for deck/note-type/card/review lookups. CREATE TABLE/INDEX
// IF NOT EXISTS makes this idempotent, since the schema has had no
// versioned migrations yet.
const schema = `
CREATE TABLE IF NOT EXISTS deck (
	id                 TEXT PRIMARY KEY,
	user_id            TEXT NOT NULL,
	name               TEXT NOT NULL,
	description        TEXT,
	new_cards_per_day  INTEGER NOT NULL DEFAULT 20,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL,
	deleted_at         TEXT,
	sync_version       INTEGER NOT NULL DEFAULT 0,
	_synced            INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_deck_user_id ON deck(user_id);
CREATE INDEX IF NOT EXISTS idx_deck_updated_at ON deck(updated_at);

CREATE TABLE IF NOT EXISTS note_type (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	name            TEXT NOT NULL,
	front_template  TEXT NOT NULL,
	back_template   TEXT NOT NULL,
	is_reversible   INTEGER NOT NULL DEFAULT 0,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL,
	deleted_at      TEXT,
	sync_version    INTEGER NOT NULL DEFAULT 0,
	_synced         INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_note_type_user_id ON note_type(user_id);
CREATE INDEX IF NOT EXISTS idx_note_type_updated_at ON note_type(updated_at);

CREATE TABLE IF NOT EXISTS note_field_type (
	id             TEXT PRIMARY KEY,
	note_type_id   TEXT NOT NULL,
	name           TEXT NOT NULL,
	"order"        INTEGER NOT NULL,
	field_type     TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL,
	deleted_at     TEXT,
	sync_version   INTEGER NOT NULL DEFAULT 0,
	_synced        INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_note_field_type_note_type_id ON note_field_type(note_type_id);
CREATE INDEX IF NOT EXISTS idx_note_field_type_updated_at ON note_field_type(updated_at);

CREATE TABLE IF NOT EXISTS note (
	id             TEXT PRIMARY KEY,
	deck_id        TEXT NOT NULL,
	note_type_id   TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL,
	deleted_at     TEXT,
	sync_version   INTEGER NOT NULL DEFAULT 0,
	_synced        INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_note_deck_id ON note(deck_id);
CREATE INDEX IF NOT EXISTS idx_note_note_type_id ON note(note_type_id);
CREATE INDEX IF NOT EXISTS idx_note_updated_at ON note(updated_at);

CREATE TABLE IF NOT EXISTS note_field_value (
	id                  TEXT PRIMARY KEY,
	note_id             TEXT NOT NULL,
	note_field_type_id  TEXT NOT NULL,
	value               TEXT NOT NULL,
	created_at          TEXT NOT NULL,
	updated_at          TEXT NOT NULL,
	sync_version        INTEGER NOT NULL DEFAULT 0,
	_synced             INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_note_field_value_note_id ON note_field_value(note_id);
CREATE INDEX IF NOT EXISTS idx_note_field_value_note_field_type_id ON note_field_value(note_field_type_id);
CREATE INDEX IF NOT EXISTS idx_note_field_value_updated_at ON note_field_value(updated_at);

CREATE TABLE IF NOT EXISTS card (
	id              TEXT PRIMARY KEY,
	deck_id         TEXT NOT NULL,
	note_id         TEXT,
	is_reversed     INTEGER,
	front           TEXT NOT NULL,
	back            TEXT NOT NULL,
	state           INTEGER NOT NULL DEFAULT 0,
	due             TEXT NOT NULL,
	stability       REAL NOT NULL DEFAULT 0,
	difficulty      REAL NOT NULL DEFAULT 0,
	elapsed_days    INTEGER NOT NULL DEFAULT 0,
	scheduled_days  INTEGER NOT NULL DEFAULT 0,
	reps            INTEGER NOT NULL DEFAULT 0,
	lapses          INTEGER NOT NULL DEFAULT 0,
	last_review     TEXT,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL,
	deleted_at      TEXT,
	sync_version    INTEGER NOT NULL DEFAULT 0,
	_synced         INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_card_deck_id ON card(deck_id);
CREATE INDEX IF NOT EXISTS idx_card_note_id ON card(note_id);
CREATE INDEX IF NOT EXISTS idx_card_state ON card(state);
CREATE INDEX IF NOT EXISTS idx_card_due ON card(due);
CREATE INDEX IF NOT EXISTS idx_card_updated_at ON card(updated_at);

CREATE TABLE IF NOT EXISTS review_log (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	card_id         TEXT NOT NULL,
	rating          INTEGER NOT NULL,
	state           INTEGER NOT NULL,
	scheduled_days  INTEGER NOT NULL DEFAULT 0,
	elapsed_days    INTEGER NOT NULL DEFAULT 0,
	reviewed_at     TEXT NOT NULL,
	duration_ms     INTEGER,
	sync_version    INTEGER NOT NULL DEFAULT 0,
	_synced         INTEGER NOT NULL DEFAULT 0,
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_review_log_card_id ON review_log(card_id);
CREATE INDEX IF NOT EXISTS idx_review_log_reviewed_at ON review_log(reviewed_at);
`
