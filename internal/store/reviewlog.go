package store

import (
	"database/sql"
	"time"

	"github.com/marcus/cardsync/internal/model"
)

const reviewLogColumns = `id, user_id, card_id, rating, state, scheduled_days, elapsed_days, reviewed_at, duration_ms, sync_version, _synced, created_at`

func scanReviewLog(row interface{ Scan(...any) error }) (*model.ReviewLog, error) {
	var e model.ReviewLog
	var rating, state int
	var reviewedAt, createdAt string
	var durationMs sql.NullInt64
	var synced int
	err := row.Scan(&e.ID, &e.UserID, &e.CardID, &rating, &state, &e.ScheduledDays, &e.ElapsedDays,
		&reviewedAt, &durationMs, &e.SyncVersion, &synced, &createdAt)
	if err != nil {
		return nil, err
	}
	e.Rating = model.Rating(rating)
	e.State = model.CardState(state)
	e.ReviewedAt = parseTime(reviewedAt)
	e.CreatedAt = parseTime(createdAt)
	if durationMs.Valid {
		e.DurationMs = &durationMs.Int64
	}
	e.Synced = synced != 0
	return &e, nil
}

// CreateReviewLog appends a new review record. Review logs are
// append-only: there is no Update or Delete.
func (s *Store) CreateReviewLog(e *model.ReviewLog) error {
	if e.ID == "" {
		e.ID = model.NewID()
	}
	e.CreatedAt = time.Now()
	e.Synced = false

	var durationMs sql.NullInt64
	if e.DurationMs != nil {
		durationMs = sql.NullInt64{Int64: *e.DurationMs, Valid: true}
	}

	return s.withWriteLock(func() error {
		_, err := s.conn.Exec(`
			INSERT INTO review_log (id, user_id, card_id, rating, state, scheduled_days, elapsed_days, reviewed_at, duration_ms, sync_version, _synced, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
		`, e.ID, e.UserID, e.CardID, int(e.Rating), int(e.State), e.ScheduledDays, e.ElapsedDays,
			formatTime(e.ReviewedAt), durationMs, e.SyncVersion, formatTime(e.CreatedAt))
		if isUniqueViolation(err) {
			return ErrDuplicateID
		}
		return err
	})
}

// FindReviewLogByID returns the review log, or nil if it doesn't exist.
func (s *Store) FindReviewLogByID(id string) (*model.ReviewLog, error) {
	row := s.conn.QueryRow(`SELECT `+reviewLogColumns+` FROM review_log WHERE id = ?`, id)
	e, err := scanReviewLog(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// FindReviewLogsByCard returns every review of a card, oldest first.
func (s *Store) FindReviewLogsByCard(cardID string) ([]*model.ReviewLog, error) {
	rows, err := s.conn.Query(`SELECT `+reviewLogColumns+` FROM review_log WHERE card_id = ? ORDER BY reviewed_at`, cardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReviewLogs(rows)
}

// FindReviewLogsByDateRange returns reviews for userID within [from, to).
func (s *Store) FindReviewLogsByDateRange(userID string, from, to time.Time) ([]*model.ReviewLog, error) {
	rows, err := s.conn.Query(`
		SELECT `+reviewLogColumns+` FROM review_log
		WHERE user_id = ? AND reviewed_at >= ? AND reviewed_at < ?
		ORDER BY reviewed_at
	`, userID, formatTime(from), formatTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReviewLogs(rows)
}

func scanReviewLogs(rows *sql.Rows) ([]*model.ReviewLog, error) {
	var out []*model.ReviewLog
	for rows.Next() {
		e, err := scanReviewLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FindUnsyncedReviewLogs returns every review log row with _synced = 0.
func (s *Store) FindUnsyncedReviewLogs() ([]*model.ReviewLog, error) {
	rows, err := s.conn.Query(`SELECT ` + reviewLogColumns + ` FROM review_log WHERE _synced = 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReviewLogs(rows)
}

// CountReviewLogs returns the total number of review log rows.
func (s *Store) CountReviewLogs() (int, error) {
	var n int
	err := s.conn.QueryRow(`SELECT COUNT(1) FROM review_log`).Scan(&n)
	return n, err
}

// FindReviewLogsPage returns every review log row ordered by id, windowed
// by offset/limit. Used by the CRDT migration's batched walk.
func (s *Store) FindReviewLogsPage(offset, limit int) ([]*model.ReviewLog, error) {
	rows, err := s.conn.Query(`SELECT `+reviewLogColumns+` FROM review_log ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReviewLogs(rows)
}

func MarkReviewLogSyncedTx(tx *sql.Tx, id string, syncVersion int) error {
	_, err := tx.Exec(`UPDATE review_log SET _synced = 1, sync_version = ? WHERE id = ?`, syncVersion, id)
	return err
}

// UpsertReviewLogFromServerTx inserts a pulled review log. Review logs are
// append-only and immutable once written, so conflicting ids are simply
// left as-is rather than overwritten.
func UpsertReviewLogFromServerTx(tx *sql.Tx, e *model.ReviewLog) error {
	var durationMs sql.NullInt64
	if e.DurationMs != nil {
		durationMs = sql.NullInt64{Int64: *e.DurationMs, Valid: true}
	}
	_, err := tx.Exec(`
		INSERT INTO review_log (id, user_id, card_id, rating, state, scheduled_days, elapsed_days, reviewed_at, duration_ms, sync_version, _synced, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(id) DO NOTHING
	`, e.ID, e.UserID, e.CardID, int(e.Rating), int(e.State), e.ScheduledDays, e.ElapsedDays,
		formatTime(e.ReviewedAt), durationMs, e.SyncVersion, formatTime(e.CreatedAt))
	return err
}
