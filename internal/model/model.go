// Package model defines the domain entities (Deck, NoteType, NoteFieldType,
// Note, NoteFieldValue, Card, ReviewLog) synchronized by this module, along
// with their shared envelope and enumerations.
package model

import (
	"time"

	"github.com/google/uuid"
)

// NewID returns a new random entity identifier.
func NewID() string {
	return uuid.NewString()
}

// CardState is the FSRS scheduling state of a Card.
type CardState int

const (
	StateNew CardState = iota
	StateLearning
	StateReview
	StateRelearning
)

var cardStateNames = [...]string{"new", "learning", "review", "relearning"}

func (s CardState) String() string {
	if int(s) < 0 || int(s) >= len(cardStateNames) {
		return "unknown"
	}
	return cardStateNames[s]
}

// Rating is the grade a user gives a card during review.
type Rating int

const (
	RatingAgain Rating = iota + 1
	RatingHard
	RatingGood
	RatingEasy
)

var ratingNames = [...]string{"", "again", "hard", "good", "easy"}

func (r Rating) String() string {
	if int(r) < 0 || int(r) >= len(ratingNames) {
		return "unknown"
	}
	return ratingNames[r]
}

// FieldType is the closed set of NoteFieldType kinds.
type FieldType string

const FieldTypeText FieldType = "text"

// Envelope holds the fields common to every soft-deletable entity.
type Envelope struct {
	ID          string     `json:"id"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
	SyncVersion int        `json:"syncVersion"`
	Synced      bool       `json:"-"`
}

// Deck is a collection of cards owned by a user.
type Deck struct {
	Envelope
	UserID         string  `json:"userId"`
	Name           string  `json:"name"`
	Description    *string `json:"description,omitempty"`
	NewCardsPerDay int     `json:"newCardsPerDay"`
}

// NoteType describes a note schema: its render templates and field layout.
type NoteType struct {
	Envelope
	UserID        string `json:"userId"`
	Name          string `json:"name"`
	FrontTemplate string `json:"frontTemplate"`
	BackTemplate  string `json:"backTemplate"`
	IsReversible  bool   `json:"isReversible"`
}

// NoteFieldType is one field slot in a NoteType's schema.
type NoteFieldType struct {
	Envelope
	NoteTypeID string    `json:"noteTypeId"`
	Name       string    `json:"name"`
	Order      int       `json:"order"`
	FieldType  FieldType `json:"fieldType"`
}

// Note is a single fact, typed by a NoteType and owned by a Deck.
type Note struct {
	Envelope
	DeckID     string `json:"deckId"`
	NoteTypeID string `json:"noteTypeId"`
}

// NoteFieldValue is the value of one NoteFieldType on one Note.
// It carries no soft-delete state: its lifetime follows the Note.
type NoteFieldValue struct {
	ID              string    `json:"id"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	SyncVersion     int       `json:"syncVersion"`
	Synced          bool      `json:"-"`
	NoteID          string    `json:"noteId"`
	NoteFieldTypeID string    `json:"noteFieldTypeId"`
	Value           string    `json:"value"`
}

// Card is a single reviewable flashcard with FSRS scheduling state.
type Card struct {
	Envelope
	DeckID        string     `json:"deckId"`
	NoteID        *string    `json:"noteId,omitempty"`
	IsReversed    *bool      `json:"isReversed,omitempty"`
	Front         string     `json:"front"`
	Back          string     `json:"back"`
	State         CardState  `json:"state"`
	Due           time.Time  `json:"due"`
	Stability     float64    `json:"stability"`
	Difficulty    float64    `json:"difficulty"`
	ElapsedDays   int        `json:"elapsedDays"`
	ScheduledDays int        `json:"scheduledDays"`
	Reps          int        `json:"reps"`
	Lapses        int        `json:"lapses"`
	LastReview    *time.Time `json:"lastReview,omitempty"`
}

// ReviewLog is an append-only record of a single card review.
type ReviewLog struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	CardID        string     `json:"cardId"`
	Rating        Rating     `json:"rating"`
	State         CardState  `json:"state"`
	ScheduledDays int        `json:"scheduledDays"`
	ElapsedDays   int        `json:"elapsedDays"`
	ReviewedAt    time.Time  `json:"reviewedAt"`
	DurationMs    *int64     `json:"durationMs,omitempty"`
	SyncVersion   int        `json:"syncVersion"`
	Synced        bool       `json:"-"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// EntityType is the canonical set of entity kinds tracked by the sync core,
// in the dependency order required for applying pulled rows.
type EntityType string

const (
	EntityNoteType      EntityType = "noteType"
	EntityNoteFieldType EntityType = "noteFieldType"
	EntityDeck          EntityType = "deck"
	EntityNote          EntityType = "note"
	EntityNoteFieldValue EntityType = "noteFieldValue"
	EntityCard          EntityType = "card"
	EntityReviewLog     EntityType = "reviewLog"
)

// DependencyOrder is the mandatory application order for pulled rows.
var DependencyOrder = []EntityType{
	EntityNoteType,
	EntityNoteFieldType,
	EntityDeck,
	EntityNote,
	EntityNoteFieldValue,
	EntityCard,
	EntityReviewLog,
}
