// Package wire defines the JSON payload shapes exchanged with the sync
// server: the per-kind field sets, the push request/response
// envelopes, and the pull result envelope.
package wire

import (
	"context"
	"time"

	"github.com/marcus/cardsync/internal/model"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func formatNullableTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseNullableTime(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t := parseTime(*s)
	return &t
}

// Deck is the wire shape of a Deck row.
type Deck struct {
	ID             string  `json:"id"`
	UserID         string  `json:"userId"`
	Name           string  `json:"name"`
	Description    *string `json:"description,omitempty"`
	NewCardsPerDay int     `json:"newCardsPerDay"`
	CreatedAt      string  `json:"createdAt"`
	UpdatedAt      string  `json:"updatedAt"`
	DeletedAt      *string `json:"deletedAt,omitempty"`
	SyncVersion    int     `json:"syncVersion"`
}

func DeckToWire(e *model.Deck) Deck {
	return Deck{
		ID: e.ID, UserID: e.UserID, Name: e.Name, Description: e.Description,
		NewCardsPerDay: e.NewCardsPerDay,
		CreatedAt:      formatTime(e.CreatedAt), UpdatedAt: formatTime(e.UpdatedAt),
		DeletedAt: formatNullableTime(e.DeletedAt), SyncVersion: e.SyncVersion,
	}
}

func DeckFromWire(w Deck) *model.Deck {
	return &model.Deck{
		Envelope: model.Envelope{
			ID: w.ID, CreatedAt: parseTime(w.CreatedAt), UpdatedAt: parseTime(w.UpdatedAt),
			DeletedAt: parseNullableTime(w.DeletedAt), SyncVersion: w.SyncVersion, Synced: true,
		},
		UserID: w.UserID, Name: w.Name, Description: w.Description, NewCardsPerDay: w.NewCardsPerDay,
	}
}

// NoteType is the wire shape of a NoteType row.
type NoteType struct {
	ID            string  `json:"id"`
	UserID        string  `json:"userId"`
	Name          string  `json:"name"`
	FrontTemplate string  `json:"frontTemplate"`
	BackTemplate  string  `json:"backTemplate"`
	IsReversible  bool    `json:"isReversible"`
	CreatedAt     string  `json:"createdAt"`
	UpdatedAt     string  `json:"updatedAt"`
	DeletedAt     *string `json:"deletedAt,omitempty"`
	SyncVersion   int     `json:"syncVersion"`
}

func NoteTypeToWire(e *model.NoteType) NoteType {
	return NoteType{
		ID: e.ID, UserID: e.UserID, Name: e.Name, FrontTemplate: e.FrontTemplate, BackTemplate: e.BackTemplate,
		IsReversible: e.IsReversible, CreatedAt: formatTime(e.CreatedAt), UpdatedAt: formatTime(e.UpdatedAt),
		DeletedAt: formatNullableTime(e.DeletedAt), SyncVersion: e.SyncVersion,
	}
}

func NoteTypeFromWire(w NoteType) *model.NoteType {
	return &model.NoteType{
		Envelope: model.Envelope{
			ID: w.ID, CreatedAt: parseTime(w.CreatedAt), UpdatedAt: parseTime(w.UpdatedAt),
			DeletedAt: parseNullableTime(w.DeletedAt), SyncVersion: w.SyncVersion, Synced: true,
		},
		UserID: w.UserID, Name: w.Name, FrontTemplate: w.FrontTemplate, BackTemplate: w.BackTemplate, IsReversible: w.IsReversible,
	}
}

// NoteFieldType is the wire shape of a NoteFieldType row.
type NoteFieldType struct {
	ID          string  `json:"id"`
	NoteTypeID  string  `json:"noteTypeId"`
	Name        string  `json:"name"`
	Order       int     `json:"order"`
	FieldType   string  `json:"fieldType"`
	CreatedAt   string  `json:"createdAt"`
	UpdatedAt   string  `json:"updatedAt"`
	DeletedAt   *string `json:"deletedAt,omitempty"`
	SyncVersion int     `json:"syncVersion"`
}

func NoteFieldTypeToWire(e *model.NoteFieldType) NoteFieldType {
	return NoteFieldType{
		ID: e.ID, NoteTypeID: e.NoteTypeID, Name: e.Name, Order: e.Order, FieldType: string(e.FieldType),
		CreatedAt: formatTime(e.CreatedAt), UpdatedAt: formatTime(e.UpdatedAt),
		DeletedAt: formatNullableTime(e.DeletedAt), SyncVersion: e.SyncVersion,
	}
}

func NoteFieldTypeFromWire(w NoteFieldType) *model.NoteFieldType {
	return &model.NoteFieldType{
		Envelope: model.Envelope{
			ID: w.ID, CreatedAt: parseTime(w.CreatedAt), UpdatedAt: parseTime(w.UpdatedAt),
			DeletedAt: parseNullableTime(w.DeletedAt), SyncVersion: w.SyncVersion, Synced: true,
		},
		NoteTypeID: w.NoteTypeID, Name: w.Name, Order: w.Order, FieldType: model.FieldType(w.FieldType),
	}
}

// Note is the wire shape of a Note row.
type Note struct {
	ID          string  `json:"id"`
	DeckID      string  `json:"deckId"`
	NoteTypeID  string  `json:"noteTypeId"`
	CreatedAt   string  `json:"createdAt"`
	UpdatedAt   string  `json:"updatedAt"`
	DeletedAt   *string `json:"deletedAt,omitempty"`
	SyncVersion int     `json:"syncVersion"`
}

func NoteToWire(e *model.Note) Note {
	return Note{
		ID: e.ID, DeckID: e.DeckID, NoteTypeID: e.NoteTypeID,
		CreatedAt: formatTime(e.CreatedAt), UpdatedAt: formatTime(e.UpdatedAt),
		DeletedAt: formatNullableTime(e.DeletedAt), SyncVersion: e.SyncVersion,
	}
}

func NoteFromWire(w Note) *model.Note {
	return &model.Note{
		Envelope: model.Envelope{
			ID: w.ID, CreatedAt: parseTime(w.CreatedAt), UpdatedAt: parseTime(w.UpdatedAt),
			DeletedAt: parseNullableTime(w.DeletedAt), SyncVersion: w.SyncVersion, Synced: true,
		},
		DeckID: w.DeckID, NoteTypeID: w.NoteTypeID,
	}
}

// NoteFieldValue is the wire shape of a NoteFieldValue row. No deletedAt:
// its lifetime follows the parent Note.
type NoteFieldValue struct {
	ID              string `json:"id"`
	NoteID          string `json:"noteId"`
	NoteFieldTypeID string `json:"noteFieldTypeId"`
	Value           string `json:"value"`
	CreatedAt       string `json:"createdAt"`
	UpdatedAt       string `json:"updatedAt"`
	SyncVersion     int    `json:"syncVersion"`
}

func NoteFieldValueToWire(e *model.NoteFieldValue) NoteFieldValue {
	return NoteFieldValue{
		ID: e.ID, NoteID: e.NoteID, NoteFieldTypeID: e.NoteFieldTypeID, Value: e.Value,
		CreatedAt: formatTime(e.CreatedAt), UpdatedAt: formatTime(e.UpdatedAt), SyncVersion: e.SyncVersion,
	}
}

func NoteFieldValueFromWire(w NoteFieldValue) *model.NoteFieldValue {
	return &model.NoteFieldValue{
		ID: w.ID, CreatedAt: parseTime(w.CreatedAt), UpdatedAt: parseTime(w.UpdatedAt), SyncVersion: w.SyncVersion, Synced: true,
		NoteID: w.NoteID, NoteFieldTypeID: w.NoteFieldTypeID, Value: w.Value,
	}
}

// Card is the wire shape of a Card row.
type Card struct {
	ID            string  `json:"id"`
	DeckID        string  `json:"deckId"`
	NoteID        *string `json:"noteId,omitempty"`
	IsReversed    *bool   `json:"isReversed,omitempty"`
	Front         string  `json:"front"`
	Back          string  `json:"back"`
	State         int     `json:"state"`
	Due           string  `json:"due"`
	Stability     float64 `json:"stability"`
	Difficulty    float64 `json:"difficulty"`
	ElapsedDays   int     `json:"elapsedDays"`
	ScheduledDays int     `json:"scheduledDays"`
	Reps          int     `json:"reps"`
	Lapses        int     `json:"lapses"`
	LastReview    *string `json:"lastReview,omitempty"`
	CreatedAt     string  `json:"createdAt"`
	UpdatedAt     string  `json:"updatedAt"`
	DeletedAt     *string `json:"deletedAt,omitempty"`
	SyncVersion   int     `json:"syncVersion"`
}

func CardToWire(e *model.Card) Card {
	return Card{
		ID: e.ID, DeckID: e.DeckID, NoteID: e.NoteID, IsReversed: e.IsReversed,
		Front: e.Front, Back: e.Back, State: int(e.State), Due: formatTime(e.Due),
		Stability: e.Stability, Difficulty: e.Difficulty, ElapsedDays: e.ElapsedDays,
		ScheduledDays: e.ScheduledDays, Reps: e.Reps, Lapses: e.Lapses,
		LastReview: formatNullableTime(e.LastReview),
		CreatedAt:  formatTime(e.CreatedAt), UpdatedAt: formatTime(e.UpdatedAt),
		DeletedAt: formatNullableTime(e.DeletedAt), SyncVersion: e.SyncVersion,
	}
}

func CardFromWire(w Card) *model.Card {
	return &model.Card{
		Envelope: model.Envelope{
			ID: w.ID, CreatedAt: parseTime(w.CreatedAt), UpdatedAt: parseTime(w.UpdatedAt),
			DeletedAt: parseNullableTime(w.DeletedAt), SyncVersion: w.SyncVersion, Synced: true,
		},
		DeckID: w.DeckID, NoteID: w.NoteID, IsReversed: w.IsReversed, Front: w.Front, Back: w.Back,
		State: model.CardState(w.State), Due: parseTime(w.Due), Stability: w.Stability, Difficulty: w.Difficulty,
		ElapsedDays: w.ElapsedDays, ScheduledDays: w.ScheduledDays, Reps: w.Reps, Lapses: w.Lapses,
		LastReview: parseNullableTime(w.LastReview),
	}
}

// ReviewLog is the wire shape of a ReviewLog row. Append-only: no
// deletedAt, no syncVersion mutation once written.
type ReviewLog struct {
	ID            string `json:"id"`
	UserID        string `json:"userId"`
	CardID        string `json:"cardId"`
	Rating        int    `json:"rating"`
	State         int    `json:"state"`
	ScheduledDays int    `json:"scheduledDays"`
	ElapsedDays   int    `json:"elapsedDays"`
	ReviewedAt    string `json:"reviewedAt"`
	DurationMs    *int64 `json:"durationMs,omitempty"`
	CreatedAt     string `json:"createdAt"`
	SyncVersion   int    `json:"syncVersion"`
}

func ReviewLogToWire(e *model.ReviewLog) ReviewLog {
	return ReviewLog{
		ID: e.ID, UserID: e.UserID, CardID: e.CardID, Rating: int(e.Rating), State: int(e.State),
		ScheduledDays: e.ScheduledDays, ElapsedDays: e.ElapsedDays, ReviewedAt: formatTime(e.ReviewedAt),
		DurationMs: e.DurationMs, CreatedAt: formatTime(e.CreatedAt), SyncVersion: e.SyncVersion,
	}
}

func ReviewLogFromWire(w ReviewLog) *model.ReviewLog {
	return &model.ReviewLog{
		ID: w.ID, UserID: w.UserID, CardID: w.CardID, Rating: model.Rating(w.Rating), State: model.CardState(w.State),
		ScheduledDays: w.ScheduledDays, ElapsedDays: w.ElapsedDays, ReviewedAt: parseTime(w.ReviewedAt),
		DurationMs: w.DurationMs, CreatedAt: parseTime(w.CreatedAt), SyncVersion: w.SyncVersion, Synced: true,
	}
}

// Ack is the {id, syncVersion} acceptance record a push response returns
// per accepted row.
type Ack struct {
	ID          string `json:"id"`
	SyncVersion int    `json:"syncVersion"`
}

// Conflicts lists the ids the server flagged as conflicting, per kind.
// ReviewLogs carry no conflict list: they are append-only and immutable.
type Conflicts struct {
	Decks           []string `json:"decks,omitempty"`
	NoteTypes       []string `json:"noteTypes,omitempty"`
	NoteFieldTypes  []string `json:"noteFieldTypes,omitempty"`
	Notes           []string `json:"notes,omitempty"`
	NoteFieldValues []string `json:"noteFieldValues,omitempty"`
	Cards           []string `json:"cards,omitempty"`
}

// PushBody is the request payload sent to pushToServer.
type PushBody struct {
	Decks           []Deck           `json:"decks"`
	NoteTypes       []NoteType       `json:"noteTypes"`
	NoteFieldTypes  []NoteFieldType  `json:"noteFieldTypes"`
	Notes           []Note           `json:"notes"`
	NoteFieldValues []NoteFieldValue `json:"noteFieldValues"`
	Cards           []Card           `json:"cards"`
	ReviewLogs      []ReviewLog      `json:"reviewLogs"`
	CrdtChanges     map[string]string `json:"crdtChanges,omitempty"`
}

// PushResponse is the result returned by pushToServer.
type PushResponse struct {
	Decks           []Ack     `json:"decks"`
	NoteTypes       []Ack     `json:"noteTypes"`
	NoteFieldTypes  []Ack     `json:"noteFieldTypes"`
	Notes           []Ack     `json:"notes"`
	NoteFieldValues []Ack     `json:"noteFieldValues"`
	Cards           []Ack     `json:"cards"`
	ReviewLogs      []Ack     `json:"reviewLogs"`
	Conflicts       Conflicts `json:"conflicts"`
}

// PullResult is the result returned by pullFromServer.
type PullResult struct {
	Decks              []Deck            `json:"decks"`
	NoteTypes          []NoteType        `json:"noteTypes"`
	NoteFieldTypes     []NoteFieldType   `json:"noteFieldTypes"`
	Notes              []Note            `json:"notes"`
	NoteFieldValues    []NoteFieldValue  `json:"noteFieldValues"`
	Cards              []Card            `json:"cards"`
	ReviewLogs         []ReviewLog       `json:"reviewLogs"`
	CurrentSyncVersion int               `json:"currentSyncVersion"`
	CrdtChanges        map[string]string `json:"crdtChanges,omitempty"`
}

// CrdtSyncPayload is one base64-encoded CRDT document as exchanged with
// the server, keyed by "{entityType}:{entityId}".
type CrdtSyncPayload struct {
	DocumentID string `json:"documentId"`
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	Binary     string `json:"binary"`
}

// PushToServerFunc pushes a batch of local changes and CRDT binaries to
// the remote server.
type PushToServerFunc func(ctx context.Context, body PushBody) (PushResponse, error)

// PullFromServerFunc pulls every change since lastSyncVersion from the
// remote server.
type PullFromServerFunc func(ctx context.Context, lastSyncVersion int) (PullResult, error)
