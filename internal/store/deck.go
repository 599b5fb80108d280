package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/marcus/cardsync/internal/model"
)

// CreateDeck inserts a new deck. If e.ID is empty a new one is generated.
// Returns ErrDuplicateID if a deck with that id already exists.
func (s *Store) CreateDeck(e *model.Deck) error {
	if e.ID == "" {
		e.ID = model.NewID()
	}
	now := time.Now()
	e.CreatedAt = now
	e.UpdatedAt = now
	e.Synced = false

	return s.withWriteLock(func() error {
		_, err := s.conn.Exec(`
			INSERT INTO deck (id, user_id, name, description, new_cards_per_day, created_at, updated_at, deleted_at, sync_version, _synced)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		`, e.ID, e.UserID, e.Name, nullableStringToSQL(e.Description), e.NewCardsPerDay,
			formatTime(e.CreatedAt), formatTime(e.UpdatedAt), nullableTimeToSQL(e.DeletedAt), e.SyncVersion)
		if isUniqueViolation(err) {
			return ErrDuplicateID
		}
		return err
	})
}

func scanDeck(row interface{ Scan(...any) error }) (*model.Deck, error) {
	var e model.Deck
	var description sql.NullString
	var createdAt, updatedAt string
	var deletedAt sql.NullString
	var synced int
	err := row.Scan(&e.ID, &e.UserID, &e.Name, &description, &e.NewCardsPerDay,
		&createdAt, &updatedAt, &deletedAt, &e.SyncVersion, &synced)
	if err != nil {
		return nil, err
	}
	e.Description = sqlToNullableString(description)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	e.DeletedAt = sqlToNullableTime(deletedAt)
	e.Synced = synced != 0
	return &e, nil
}

const deckColumns = `id, user_id, name, description, new_cards_per_day, created_at, updated_at, deleted_at, sync_version, _synced`

// FindDeckByID returns the deck, or nil if it doesn't exist. Soft-deleted
// rows are still returned — callers that need to exclude them check
// DeletedAt.
func (s *Store) FindDeckByID(id string) (*model.Deck, error) {
	row := s.conn.QueryRow(`SELECT `+deckColumns+` FROM deck WHERE id = ?`, id)
	e, err := scanDeck(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// FindDecksByUser returns all non-deleted decks owned by userID.
func (s *Store) FindDecksByUser(userID string) ([]*model.Deck, error) {
	rows, err := s.conn.Query(`SELECT `+deckColumns+` FROM deck WHERE user_id = ? AND deleted_at IS NULL ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Deck
	for rows.Next() {
		e, err := scanDeck(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateDeck persists changes to an existing deck, bumping sync_version and
// marking it dirty.
func (s *Store) UpdateDeck(e *model.Deck) error {
	e.UpdatedAt = time.Now()
	e.SyncVersion++
	e.Synced = false
	return s.withWriteLock(func() error {
		res, err := s.conn.Exec(`
			UPDATE deck SET name = ?, description = ?, new_cards_per_day = ?, updated_at = ?, sync_version = ?, _synced = 0
			WHERE id = ?
		`, e.Name, nullableStringToSQL(e.Description), e.NewCardsPerDay, formatTime(e.UpdatedAt), e.SyncVersion, e.ID)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("deck not found: %s", e.ID)
		}
		return nil
	})
}

// DeleteDeck soft-deletes a deck.
func (s *Store) DeleteDeck(id string) error {
	now := time.Now()
	return s.withWriteLock(func() error {
		_, err := s.conn.Exec(`
			UPDATE deck SET deleted_at = ?, updated_at = ?, sync_version = sync_version + 1, _synced = 0
			WHERE id = ?
		`, formatTime(now), formatTime(now), id)
		return err
	})
}

// FindUnsyncedDecks returns every deck row with _synced = 0.
func (s *Store) FindUnsyncedDecks() ([]*model.Deck, error) {
	rows, err := s.conn.Query(`SELECT ` + deckColumns + ` FROM deck WHERE _synced = 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Deck
	for rows.Next() {
		e, err := scanDeck(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountDecks returns the total number of deck rows, including soft-deleted.
func (s *Store) CountDecks() (int, error) {
	var n int
	err := s.conn.QueryRow(`SELECT COUNT(1) FROM deck`).Scan(&n)
	return n, err
}

// FindDecksPage returns every deck row (including soft-deleted) ordered by
// id, windowed by offset/limit. Used by the CRDT migration's batched walk.
func (s *Store) FindDecksPage(offset, limit int) ([]*model.Deck, error) {
	rows, err := s.conn.Query(`SELECT `+deckColumns+` FROM deck ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Deck
	for rows.Next() {
		e, err := scanDeck(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkDeckSyncedTx marks a single deck row synced at the given version,
// within an already-open transaction (used by the sync queue's atomic
// multi-kind markSynced).
func MarkDeckSyncedTx(tx *sql.Tx, id string, syncVersion int) error {
	_, err := tx.Exec(`UPDATE deck SET _synced = 1, sync_version = ? WHERE id = ?`, syncVersion, id)
	return err
}

// UpsertDeckFromServerTx overwrites (or inserts) a deck with server state,
// marking it synced. Used when applying pulled rows.
func UpsertDeckFromServerTx(tx *sql.Tx, e *model.Deck) error {
	_, err := tx.Exec(`
		INSERT INTO deck (id, user_id, name, description, new_cards_per_day, created_at, updated_at, deleted_at, sync_version, _synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id, name = excluded.name, description = excluded.description,
			new_cards_per_day = excluded.new_cards_per_day, updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at, sync_version = excluded.sync_version, _synced = 1
	`, e.ID, e.UserID, e.Name, nullableStringToSQL(e.Description), e.NewCardsPerDay,
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt), nullableTimeToSQL(e.DeletedAt), e.SyncVersion)
	return err
}
