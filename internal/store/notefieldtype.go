package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/marcus/cardsync/internal/model"
)

const noteFieldTypeColumns = `id, note_type_id, name, "order", field_type, created_at, updated_at, deleted_at, sync_version, _synced`

func scanNoteFieldType(row interface{ Scan(...any) error }) (*model.NoteFieldType, error) {
	var e model.NoteFieldType
	var fieldType string
	var createdAt, updatedAt string
	var deletedAt sql.NullString
	var synced int
	err := row.Scan(&e.ID, &e.NoteTypeID, &e.Name, &e.Order, &fieldType,
		&createdAt, &updatedAt, &deletedAt, &e.SyncVersion, &synced)
	if err != nil {
		return nil, err
	}
	e.FieldType = model.FieldType(fieldType)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	e.DeletedAt = sqlToNullableTime(deletedAt)
	e.Synced = synced != 0
	return &e, nil
}

// CreateNoteFieldType inserts a new note field type.
func (s *Store) CreateNoteFieldType(e *model.NoteFieldType) error {
	if e.ID == "" {
		e.ID = model.NewID()
	}
	now := time.Now()
	e.CreatedAt = now
	e.UpdatedAt = now
	e.Synced = false

	return s.withWriteLock(func() error {
		_, err := s.conn.Exec(`
			INSERT INTO note_field_type (id, note_type_id, name, "order", field_type, created_at, updated_at, deleted_at, sync_version, _synced)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		`, e.ID, e.NoteTypeID, e.Name, e.Order, string(e.FieldType),
			formatTime(e.CreatedAt), formatTime(e.UpdatedAt), nullableTimeToSQL(e.DeletedAt), e.SyncVersion)
		if isUniqueViolation(err) {
			return ErrDuplicateID
		}
		return err
	})
}

// FindNoteFieldTypeByID returns the note field type, or nil if it doesn't exist.
func (s *Store) FindNoteFieldTypeByID(id string) (*model.NoteFieldType, error) {
	row := s.conn.QueryRow(`SELECT `+noteFieldTypeColumns+` FROM note_field_type WHERE id = ?`, id)
	e, err := scanNoteFieldType(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// FindNoteFieldTypesByNoteType returns all non-deleted field types for a
// note type, ordered by their display order.
func (s *Store) FindNoteFieldTypesByNoteType(noteTypeID string) ([]*model.NoteFieldType, error) {
	rows, err := s.conn.Query(`SELECT `+noteFieldTypeColumns+` FROM note_field_type WHERE note_type_id = ? AND deleted_at IS NULL ORDER BY "order"`, noteTypeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.NoteFieldType
	for rows.Next() {
		e, err := scanNoteFieldType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateNoteFieldType persists changes to an existing field type.
func (s *Store) UpdateNoteFieldType(e *model.NoteFieldType) error {
	e.UpdatedAt = time.Now()
	e.SyncVersion++
	e.Synced = false
	return s.withWriteLock(func() error {
		res, err := s.conn.Exec(`
			UPDATE note_field_type SET name = ?, "order" = ?, field_type = ?, updated_at = ?, sync_version = ?, _synced = 0
			WHERE id = ?
		`, e.Name, e.Order, string(e.FieldType), formatTime(e.UpdatedAt), e.SyncVersion, e.ID)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("note field type not found: %s", e.ID)
		}
		return nil
	})
}

// DeleteNoteFieldType soft-deletes a field type.
func (s *Store) DeleteNoteFieldType(id string) error {
	now := time.Now()
	return s.withWriteLock(func() error {
		_, err := s.conn.Exec(`
			UPDATE note_field_type SET deleted_at = ?, updated_at = ?, sync_version = sync_version + 1, _synced = 0
			WHERE id = ?
		`, formatTime(now), formatTime(now), id)
		return err
	})
}

// FindUnsyncedNoteFieldTypes returns every field type row with _synced = 0.
func (s *Store) FindUnsyncedNoteFieldTypes() ([]*model.NoteFieldType, error) {
	rows, err := s.conn.Query(`SELECT ` + noteFieldTypeColumns + ` FROM note_field_type WHERE _synced = 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.NoteFieldType
	for rows.Next() {
		e, err := scanNoteFieldType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountNoteFieldTypes returns the total number of field type rows,
// including soft-deleted.
func (s *Store) CountNoteFieldTypes() (int, error) {
	var n int
	err := s.conn.QueryRow(`SELECT COUNT(1) FROM note_field_type`).Scan(&n)
	return n, err
}

// FindNoteFieldTypesPage returns every field type row (including
// soft-deleted) ordered by id, windowed by offset/limit. Used by the CRDT
// migration's batched walk.
func (s *Store) FindNoteFieldTypesPage(offset, limit int) ([]*model.NoteFieldType, error) {
	rows, err := s.conn.Query(`SELECT `+noteFieldTypeColumns+` FROM note_field_type ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.NoteFieldType
	for rows.Next() {
		e, err := scanNoteFieldType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func MarkNoteFieldTypeSyncedTx(tx *sql.Tx, id string, syncVersion int) error {
	_, err := tx.Exec(`UPDATE note_field_type SET _synced = 1, sync_version = ? WHERE id = ?`, syncVersion, id)
	return err
}

func UpsertNoteFieldTypeFromServerTx(tx *sql.Tx, e *model.NoteFieldType) error {
	_, err := tx.Exec(`
		INSERT INTO note_field_type (id, note_type_id, name, "order", field_type, created_at, updated_at, deleted_at, sync_version, _synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(id) DO UPDATE SET
			note_type_id = excluded.note_type_id, name = excluded.name, "order" = excluded."order",
			field_type = excluded.field_type, updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at, sync_version = excluded.sync_version, _synced = 1
	`, e.ID, e.NoteTypeID, e.Name, e.Order, string(e.FieldType),
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt), nullableTimeToSQL(e.DeletedAt), e.SyncVersion)
	return err
}
