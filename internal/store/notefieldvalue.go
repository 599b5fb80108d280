package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/marcus/cardsync/internal/model"
)

const noteFieldValueColumns = `id, note_id, note_field_type_id, value, created_at, updated_at, sync_version, _synced`

func scanNoteFieldValue(row interface{ Scan(...any) error }) (*model.NoteFieldValue, error) {
	var e model.NoteFieldValue
	var createdAt, updatedAt string
	var synced int
	err := row.Scan(&e.ID, &e.NoteID, &e.NoteFieldTypeID, &e.Value, &createdAt, &updatedAt, &e.SyncVersion, &synced)
	if err != nil {
		return nil, err
	}
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	e.Synced = synced != 0
	return &e, nil
}

// CreateNoteFieldValue inserts a new field value.
func (s *Store) CreateNoteFieldValue(e *model.NoteFieldValue) error {
	if e.ID == "" {
		e.ID = model.NewID()
	}
	now := time.Now()
	e.CreatedAt = now
	e.UpdatedAt = now
	e.Synced = false

	return s.withWriteLock(func() error {
		_, err := s.conn.Exec(`
			INSERT INTO note_field_value (id, note_id, note_field_type_id, value, created_at, updated_at, sync_version, _synced)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		`, e.ID, e.NoteID, e.NoteFieldTypeID, e.Value, formatTime(e.CreatedAt), formatTime(e.UpdatedAt), e.SyncVersion)
		if isUniqueViolation(err) {
			return ErrDuplicateID
		}
		return err
	})
}

// FindNoteFieldValueByID returns the field value, or nil if it doesn't exist.
func (s *Store) FindNoteFieldValueByID(id string) (*model.NoteFieldValue, error) {
	row := s.conn.QueryRow(`SELECT `+noteFieldValueColumns+` FROM note_field_value WHERE id = ?`, id)
	e, err := scanNoteFieldValue(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// FindNoteFieldValuesByNote returns every field value belonging to a note.
func (s *Store) FindNoteFieldValuesByNote(noteID string) ([]*model.NoteFieldValue, error) {
	rows, err := s.conn.Query(`SELECT `+noteFieldValueColumns+` FROM note_field_value WHERE note_id = ?`, noteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.NoteFieldValue
	for rows.Next() {
		e, err := scanNoteFieldValue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateNoteFieldValue persists a new value for a field.
func (s *Store) UpdateNoteFieldValue(e *model.NoteFieldValue) error {
	e.UpdatedAt = time.Now()
	e.SyncVersion++
	e.Synced = false
	return s.withWriteLock(func() error {
		res, err := s.conn.Exec(`
			UPDATE note_field_value SET value = ?, updated_at = ?, sync_version = ?, _synced = 0
			WHERE id = ?
		`, e.Value, formatTime(e.UpdatedAt), e.SyncVersion, e.ID)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("note field value not found: %s", e.ID)
		}
		return nil
	})
}

// DeleteNoteFieldValue hard-deletes a field value — it carries no
// soft-delete state of its own: its lifetime follows the
// owning note.
func (s *Store) DeleteNoteFieldValue(id string) error {
	return s.withWriteLock(func() error {
		_, err := s.conn.Exec(`DELETE FROM note_field_value WHERE id = ?`, id)
		return err
	})
}

// FindUnsyncedNoteFieldValues returns every field value row with _synced = 0.
func (s *Store) FindUnsyncedNoteFieldValues() ([]*model.NoteFieldValue, error) {
	rows, err := s.conn.Query(`SELECT ` + noteFieldValueColumns + ` FROM note_field_value WHERE _synced = 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.NoteFieldValue
	for rows.Next() {
		e, err := scanNoteFieldValue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountNoteFieldValues returns the total number of field value rows.
func (s *Store) CountNoteFieldValues() (int, error) {
	var n int
	err := s.conn.QueryRow(`SELECT COUNT(1) FROM note_field_value`).Scan(&n)
	return n, err
}

// FindNoteFieldValuesPage returns every field value row ordered by id,
// windowed by offset/limit. Used by the CRDT migration's batched walk.
func (s *Store) FindNoteFieldValuesPage(offset, limit int) ([]*model.NoteFieldValue, error) {
	rows, err := s.conn.Query(`SELECT `+noteFieldValueColumns+` FROM note_field_value ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.NoteFieldValue
	for rows.Next() {
		e, err := scanNoteFieldValue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func MarkNoteFieldValueSyncedTx(tx *sql.Tx, id string, syncVersion int) error {
	_, err := tx.Exec(`UPDATE note_field_value SET _synced = 1, sync_version = ? WHERE id = ?`, syncVersion, id)
	return err
}

func UpsertNoteFieldValueFromServerTx(tx *sql.Tx, e *model.NoteFieldValue) error {
	_, err := tx.Exec(`
		INSERT INTO note_field_value (id, note_id, note_field_type_id, value, created_at, updated_at, sync_version, _synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(id) DO UPDATE SET
			note_id = excluded.note_id, note_field_type_id = excluded.note_field_type_id,
			value = excluded.value, updated_at = excluded.updated_at,
			sync_version = excluded.sync_version, _synced = 1
	`, e.ID, e.NoteID, e.NoteFieldTypeID, e.Value, formatTime(e.CreatedAt), formatTime(e.UpdatedAt), e.SyncVersion)
	return err
}
