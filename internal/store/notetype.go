package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/marcus/cardsync/internal/model"
)

const noteTypeColumns = `id, user_id, name, front_template, back_template, is_reversible, created_at, updated_at, deleted_at, sync_version, _synced`

func scanNoteType(row interface{ Scan(...any) error }) (*model.NoteType, error) {
	var e model.NoteType
	var createdAt, updatedAt string
	var deletedAt sql.NullString
	var isReversible, synced int
	err := row.Scan(&e.ID, &e.UserID, &e.Name, &e.FrontTemplate, &e.BackTemplate, &isReversible,
		&createdAt, &updatedAt, &deletedAt, &e.SyncVersion, &synced)
	if err != nil {
		return nil, err
	}
	e.IsReversible = isReversible != 0
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	e.DeletedAt = sqlToNullableTime(deletedAt)
	e.Synced = synced != 0
	return &e, nil
}

// CreateNoteType inserts a new note type.
func (s *Store) CreateNoteType(e *model.NoteType) error {
	if e.ID == "" {
		e.ID = model.NewID()
	}
	now := time.Now()
	e.CreatedAt = now
	e.UpdatedAt = now
	e.Synced = false

	return s.withWriteLock(func() error {
		_, err := s.conn.Exec(`
			INSERT INTO note_type (id, user_id, name, front_template, back_template, is_reversible, created_at, updated_at, deleted_at, sync_version, _synced)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		`, e.ID, e.UserID, e.Name, e.FrontTemplate, e.BackTemplate, e.IsReversible,
			formatTime(e.CreatedAt), formatTime(e.UpdatedAt), nullableTimeToSQL(e.DeletedAt), e.SyncVersion)
		if isUniqueViolation(err) {
			return ErrDuplicateID
		}
		return err
	})
}

// FindNoteTypeByID returns the note type, or nil if it doesn't exist.
func (s *Store) FindNoteTypeByID(id string) (*model.NoteType, error) {
	row := s.conn.QueryRow(`SELECT `+noteTypeColumns+` FROM note_type WHERE id = ?`, id)
	e, err := scanNoteType(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// FindNoteTypesByUser returns all non-deleted note types owned by userID.
func (s *Store) FindNoteTypesByUser(userID string) ([]*model.NoteType, error) {
	rows, err := s.conn.Query(`SELECT `+noteTypeColumns+` FROM note_type WHERE user_id = ? AND deleted_at IS NULL ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.NoteType
	for rows.Next() {
		e, err := scanNoteType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateNoteType persists changes to an existing note type.
func (s *Store) UpdateNoteType(e *model.NoteType) error {
	e.UpdatedAt = time.Now()
	e.SyncVersion++
	e.Synced = false
	return s.withWriteLock(func() error {
		res, err := s.conn.Exec(`
			UPDATE note_type SET name = ?, front_template = ?, back_template = ?, is_reversible = ?, updated_at = ?, sync_version = ?, _synced = 0
			WHERE id = ?
		`, e.Name, e.FrontTemplate, e.BackTemplate, e.IsReversible, formatTime(e.UpdatedAt), e.SyncVersion, e.ID)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("note type not found: %s", e.ID)
		}
		return nil
	})
}

// DeleteNoteType soft-deletes a note type.
func (s *Store) DeleteNoteType(id string) error {
	now := time.Now()
	return s.withWriteLock(func() error {
		_, err := s.conn.Exec(`
			UPDATE note_type SET deleted_at = ?, updated_at = ?, sync_version = sync_version + 1, _synced = 0
			WHERE id = ?
		`, formatTime(now), formatTime(now), id)
		return err
	})
}

// FindUnsyncedNoteTypes returns every note type row with _synced = 0.
func (s *Store) FindUnsyncedNoteTypes() ([]*model.NoteType, error) {
	rows, err := s.conn.Query(`SELECT ` + noteTypeColumns + ` FROM note_type WHERE _synced = 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.NoteType
	for rows.Next() {
		e, err := scanNoteType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountNoteTypes returns the total number of note type rows, including
// soft-deleted.
func (s *Store) CountNoteTypes() (int, error) {
	var n int
	err := s.conn.QueryRow(`SELECT COUNT(1) FROM note_type`).Scan(&n)
	return n, err
}

// FindNoteTypesPage returns every note type row (including soft-deleted)
// ordered by id, windowed by offset/limit. Used by the CRDT migration's
// batched walk.
func (s *Store) FindNoteTypesPage(offset, limit int) ([]*model.NoteType, error) {
	rows, err := s.conn.Query(`SELECT `+noteTypeColumns+` FROM note_type ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.NoteType
	for rows.Next() {
		e, err := scanNoteType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func MarkNoteTypeSyncedTx(tx *sql.Tx, id string, syncVersion int) error {
	_, err := tx.Exec(`UPDATE note_type SET _synced = 1, sync_version = ? WHERE id = ?`, syncVersion, id)
	return err
}

func UpsertNoteTypeFromServerTx(tx *sql.Tx, e *model.NoteType) error {
	_, err := tx.Exec(`
		INSERT INTO note_type (id, user_id, name, front_template, back_template, is_reversible, created_at, updated_at, deleted_at, sync_version, _synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id, name = excluded.name, front_template = excluded.front_template,
			back_template = excluded.back_template, is_reversible = excluded.is_reversible,
			updated_at = excluded.updated_at, deleted_at = excluded.deleted_at,
			sync_version = excluded.sync_version, _synced = 1
	`, e.ID, e.UserID, e.Name, e.FrontTemplate, e.BackTemplate, e.IsReversible,
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt), nullableTimeToSQL(e.DeletedAt), e.SyncVersion)
	return err
}
