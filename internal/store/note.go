package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/marcus/cardsync/internal/model"
)

const noteColumns = `id, deck_id, note_type_id, created_at, updated_at, deleted_at, sync_version, _synced`

func scanNote(row interface{ Scan(...any) error }) (*model.Note, error) {
	var e model.Note
	var createdAt, updatedAt string
	var deletedAt sql.NullString
	var synced int
	err := row.Scan(&e.ID, &e.DeckID, &e.NoteTypeID, &createdAt, &updatedAt, &deletedAt, &e.SyncVersion, &synced)
	if err != nil {
		return nil, err
	}
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	e.DeletedAt = sqlToNullableTime(deletedAt)
	e.Synced = synced != 0
	return &e, nil
}

// CreateNote inserts a new note.
func (s *Store) CreateNote(e *model.Note) error {
	if e.ID == "" {
		e.ID = model.NewID()
	}
	now := time.Now()
	e.CreatedAt = now
	e.UpdatedAt = now
	e.Synced = false

	return s.withWriteLock(func() error {
		_, err := s.conn.Exec(`
			INSERT INTO note (id, deck_id, note_type_id, created_at, updated_at, deleted_at, sync_version, _synced)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		`, e.ID, e.DeckID, e.NoteTypeID, formatTime(e.CreatedAt), formatTime(e.UpdatedAt), nullableTimeToSQL(e.DeletedAt), e.SyncVersion)
		if isUniqueViolation(err) {
			return ErrDuplicateID
		}
		return err
	})
}

// FindNoteByID returns the note, or nil if it doesn't exist.
func (s *Store) FindNoteByID(id string) (*model.Note, error) {
	row := s.conn.QueryRow(`SELECT `+noteColumns+` FROM note WHERE id = ?`, id)
	e, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// FindNotesByDeck returns all non-deleted notes in a deck.
func (s *Store) FindNotesByDeck(deckID string) ([]*model.Note, error) {
	rows, err := s.conn.Query(`SELECT `+noteColumns+` FROM note WHERE deck_id = ? AND deleted_at IS NULL ORDER BY created_at`, deckID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Note
	for rows.Next() {
		e, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateNote persists changes to an existing note (deck/note-type reassignment).
func (s *Store) UpdateNote(e *model.Note) error {
	e.UpdatedAt = time.Now()
	e.SyncVersion++
	e.Synced = false
	return s.withWriteLock(func() error {
		res, err := s.conn.Exec(`
			UPDATE note SET deck_id = ?, note_type_id = ?, updated_at = ?, sync_version = ?, _synced = 0
			WHERE id = ?
		`, e.DeckID, e.NoteTypeID, formatTime(e.UpdatedAt), e.SyncVersion, e.ID)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("note not found: %s", e.ID)
		}
		return nil
	})
}

// DeleteNote soft-deletes a note and cascades the soft-delete to every card
// generated from it, in one atomic write (a note's
// cards cannot outlive it).
func (s *Store) DeleteNote(id string) error {
	now := time.Now()
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			UPDATE note SET deleted_at = ?, updated_at = ?, sync_version = sync_version + 1, _synced = 0
			WHERE id = ?
		`, formatTime(now), formatTime(now), id); err != nil {
			return fmt.Errorf("soft-delete note: %w", err)
		}
		if _, err := tx.Exec(`
			UPDATE card SET deleted_at = ?, updated_at = ?, sync_version = sync_version + 1, _synced = 0
			WHERE note_id = ? AND deleted_at IS NULL
		`, formatTime(now), formatTime(now), id); err != nil {
			return fmt.Errorf("cascade delete cards: %w", err)
		}
		return nil
	})
}

// FindUnsyncedNotes returns every note row with _synced = 0.
func (s *Store) FindUnsyncedNotes() ([]*model.Note, error) {
	rows, err := s.conn.Query(`SELECT ` + noteColumns + ` FROM note WHERE _synced = 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Note
	for rows.Next() {
		e, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountNotes returns the total number of note rows, including soft-deleted.
func (s *Store) CountNotes() (int, error) {
	var n int
	err := s.conn.QueryRow(`SELECT COUNT(1) FROM note`).Scan(&n)
	return n, err
}

// FindNotesPage returns every note row (including soft-deleted) ordered by
// id, windowed by offset/limit. Used by the CRDT migration's batched walk.
func (s *Store) FindNotesPage(offset, limit int) ([]*model.Note, error) {
	rows, err := s.conn.Query(`SELECT `+noteColumns+` FROM note ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Note
	for rows.Next() {
		e, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func MarkNoteSyncedTx(tx *sql.Tx, id string, syncVersion int) error {
	_, err := tx.Exec(`UPDATE note SET _synced = 1, sync_version = ? WHERE id = ?`, syncVersion, id)
	return err
}

func UpsertNoteFromServerTx(tx *sql.Tx, e *model.Note) error {
	_, err := tx.Exec(`
		INSERT INTO note (id, deck_id, note_type_id, created_at, updated_at, deleted_at, sync_version, _synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(id) DO UPDATE SET
			deck_id = excluded.deck_id, note_type_id = excluded.note_type_id,
			updated_at = excluded.updated_at, deleted_at = excluded.deleted_at,
			sync_version = excluded.sync_version, _synced = 1
	`, e.ID, e.DeckID, e.NoteTypeID, formatTime(e.CreatedAt), formatTime(e.UpdatedAt), nullableTimeToSQL(e.DeletedAt), e.SyncVersion)
	return err
}
