package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/marcus/cardsync/internal/model"
)

const cardColumns = `id, deck_id, note_id, is_reversed, front, back, state, due, stability, difficulty,
	elapsed_days, scheduled_days, reps, lapses, last_review, created_at, updated_at, deleted_at, sync_version, _synced`

func scanCard(row interface{ Scan(...any) error }) (*model.Card, error) {
	var e model.Card
	var noteID sql.NullString
	var isReversed sql.NullBool
	var state int
	var due string
	var lastReview, createdAt, updatedAt string
	var deletedAt sql.NullString
	var synced int
	err := row.Scan(&e.ID, &e.DeckID, &noteID, &isReversed, &e.Front, &e.Back, &state, &due,
		&e.Stability, &e.Difficulty, &e.ElapsedDays, &e.ScheduledDays, &e.Reps, &e.Lapses,
		&nullableStringScan{&lastReview}, &createdAt, &updatedAt, &deletedAt, &e.SyncVersion, &synced)
	if err != nil {
		return nil, err
	}
	e.NoteID = sqlToNullableString(noteID)
	e.IsReversed = sqlToNullableBool(isReversed)
	e.State = model.CardState(state)
	e.Due = parseTime(due)
	if lastReview != "" {
		t := parseTime(lastReview)
		e.LastReview = &t
	}
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	e.DeletedAt = sqlToNullableTime(deletedAt)
	e.Synced = synced != 0
	return &e, nil
}

// nullableStringScan adapts a nullable TEXT column into a plain string via
// sql.Scanner, leaving it "" when NULL.
type nullableStringScan struct{ dst *string }

func (n *nullableStringScan) Scan(v any) error {
	if v == nil {
		*n.dst = ""
		return nil
	}
	switch t := v.(type) {
	case string:
		*n.dst = t
	case []byte:
		*n.dst = string(t)
	default:
		return fmt.Errorf("unsupported scan type %T", v)
	}
	return nil
}

// CreateCard inserts a new card.
func (s *Store) CreateCard(e *model.Card) error {
	if e.ID == "" {
		e.ID = model.NewID()
	}
	now := time.Now()
	e.CreatedAt = now
	e.UpdatedAt = now
	e.Synced = false

	return s.withWriteLock(func() error {
		_, err := s.conn.Exec(`
			INSERT INTO card (id, deck_id, note_id, is_reversed, front, back, state, due, stability, difficulty,
				elapsed_days, scheduled_days, reps, lapses, last_review, created_at, updated_at, deleted_at, sync_version, _synced)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		`, e.ID, e.DeckID, nullableStringToSQL(e.NoteID), nullableBoolToSQL(e.IsReversed), e.Front, e.Back,
			int(e.State), formatTime(e.Due), e.Stability, e.Difficulty, e.ElapsedDays, e.ScheduledDays,
			e.Reps, e.Lapses, nullableTimeToSQL(e.LastReview), formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
			nullableTimeToSQL(e.DeletedAt), e.SyncVersion)
		if isUniqueViolation(err) {
			return ErrDuplicateID
		}
		return err
	})
}

// FindCardByID returns the card, or nil if it doesn't exist.
func (s *Store) FindCardByID(id string) (*model.Card, error) {
	row := s.conn.QueryRow(`SELECT `+cardColumns+` FROM card WHERE id = ?`, id)
	e, err := scanCard(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// FindCardsByDeck returns all non-deleted cards in a deck.
func (s *Store) FindCardsByDeck(deckID string) ([]*model.Card, error) {
	rows, err := s.conn.Query(`SELECT `+cardColumns+` FROM card WHERE deck_id = ? AND deleted_at IS NULL ORDER BY created_at`, deckID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCards(rows)
}

// FindDueCards returns non-deleted cards in review/relearning states whose
// due timestamp is at or before asOf, ordered soonest-due first.
func (s *Store) FindDueCards(userDeckIDs []string, asOf time.Time, limit int) ([]*model.Card, error) {
	if len(userDeckIDs) == 0 {
		return nil, nil
	}
	placeholders, args := inClause(userDeckIDs)
	args = append(args, formatTime(asOf))
	query := `SELECT ` + cardColumns + ` FROM card
		WHERE deck_id IN (` + placeholders + `) AND deleted_at IS NULL
		AND state IN (` + fmt.Sprint(int(model.StateReview)) + `, ` + fmt.Sprint(int(model.StateRelearning)) + `)
		AND due <= ? ORDER BY due`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCards(rows)
}

// FindNewCards returns non-deleted cards still in the New state, ordered by
// creation time (oldest first), capped at limit (a deck's daily new-card
// budget, Deck.NewCardsPerDay).
func (s *Store) FindNewCards(deckID string, limit int) ([]*model.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM card WHERE deck_id = ? AND deleted_at IS NULL AND state = ? ORDER BY created_at`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.conn.Query(query, deckID, int(model.StateNew))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCards(rows)
}

func scanCards(rows *sql.Rows) ([]*model.Card, error) {
	var out []*model.Card
	for rows.Next() {
		e, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func inClause(ids []string) (string, []any) {
	placeholders := ""
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args[i] = id
	}
	return placeholders, args
}

// UpdateCard persists scheduling state changes after a review.
func (s *Store) UpdateCard(e *model.Card) error {
	e.UpdatedAt = time.Now()
	e.SyncVersion++
	e.Synced = false
	return s.withWriteLock(func() error {
		res, err := s.conn.Exec(`
			UPDATE card SET front = ?, back = ?, state = ?, due = ?, stability = ?, difficulty = ?,
				elapsed_days = ?, scheduled_days = ?, reps = ?, lapses = ?, last_review = ?, updated_at = ?, sync_version = ?, _synced = 0
			WHERE id = ?
		`, e.Front, e.Back, int(e.State), formatTime(e.Due), e.Stability, e.Difficulty, e.ElapsedDays,
			e.ScheduledDays, e.Reps, e.Lapses, nullableTimeToSQL(e.LastReview), formatTime(e.UpdatedAt), e.SyncVersion, e.ID)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("card not found: %s", e.ID)
		}
		return nil
	})
}

// DeleteCard soft-deletes a card.
func (s *Store) DeleteCard(id string) error {
	now := time.Now()
	return s.withWriteLock(func() error {
		_, err := s.conn.Exec(`
			UPDATE card SET deleted_at = ?, updated_at = ?, sync_version = sync_version + 1, _synced = 0
			WHERE id = ?
		`, formatTime(now), formatTime(now), id)
		return err
	})
}

// FindUnsyncedCards returns every card row with _synced = 0.
func (s *Store) FindUnsyncedCards() ([]*model.Card, error) {
	rows, err := s.conn.Query(`SELECT ` + cardColumns + ` FROM card WHERE _synced = 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCards(rows)
}

// CountCards returns the total number of card rows, including soft-deleted.
func (s *Store) CountCards() (int, error) {
	var n int
	err := s.conn.QueryRow(`SELECT COUNT(1) FROM card`).Scan(&n)
	return n, err
}

// FindCardsPage returns every card row (including soft-deleted) ordered by
// id, windowed by offset/limit. Used by the CRDT migration's batched walk.
func (s *Store) FindCardsPage(offset, limit int) ([]*model.Card, error) {
	rows, err := s.conn.Query(`SELECT `+cardColumns+` FROM card ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCards(rows)
}

func MarkCardSyncedTx(tx *sql.Tx, id string, syncVersion int) error {
	_, err := tx.Exec(`UPDATE card SET _synced = 1, sync_version = ? WHERE id = ?`, syncVersion, id)
	return err
}

func UpsertCardFromServerTx(tx *sql.Tx, e *model.Card) error {
	_, err := tx.Exec(`
		INSERT INTO card (id, deck_id, note_id, is_reversed, front, back, state, due, stability, difficulty,
			elapsed_days, scheduled_days, reps, lapses, last_review, created_at, updated_at, deleted_at, sync_version, _synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(id) DO UPDATE SET
			deck_id = excluded.deck_id, note_id = excluded.note_id, is_reversed = excluded.is_reversed,
			front = excluded.front, back = excluded.back, state = excluded.state, due = excluded.due,
			stability = excluded.stability, difficulty = excluded.difficulty, elapsed_days = excluded.elapsed_days,
			scheduled_days = excluded.scheduled_days, reps = excluded.reps, lapses = excluded.lapses,
			last_review = excluded.last_review, updated_at = excluded.updated_at, deleted_at = excluded.deleted_at,
			sync_version = excluded.sync_version, _synced = 1
	`, e.ID, e.DeckID, nullableStringToSQL(e.NoteID), nullableBoolToSQL(e.IsReversed), e.Front, e.Back,
		int(e.State), formatTime(e.Due), e.Stability, e.Difficulty, e.ElapsedDays, e.ScheduledDays,
		e.Reps, e.Lapses, nullableTimeToSQL(e.LastReview), formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
		nullableTimeToSQL(e.DeletedAt), e.SyncVersion)
	return err
}
