package crdt

import (
	"testing"
	"time"

	"github.com/marcus/cardsync/internal/model"
)

func TestDeckRoundTrip(t *testing.T) {
	desc := "beginner vocabulary"
	now := time.Now().UTC().Truncate(time.Millisecond)
	deck := &model.Deck{
		Envelope: model.Envelope{
			ID:        model.NewID(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		UserID:         "user-1",
		Name:           "Spanish",
		Description:    &desc,
		NewCardsPerDay: 20,
	}

	doc := DeckToCrdt("actor-1", deck)
	back := CrdtToDeck(doc)

	if back.ID != deck.ID || back.UserID != deck.UserID || back.Name != deck.Name {
		t.Fatalf("round trip mismatch: got %+v", back)
	}
	if back.Description == nil || *back.Description != desc {
		t.Fatalf("description round trip mismatch: got %v", back.Description)
	}
	if back.NewCardsPerDay != deck.NewCardsPerDay {
		t.Fatalf("newCardsPerDay = %d, want %d", back.NewCardsPerDay, deck.NewCardsPerDay)
	}
	if !back.UpdatedAt.Equal(now) {
		t.Fatalf("updatedAt = %v, want %v", back.UpdatedAt, now)
	}
}

func TestDeckRoundTripPreservesSoftDelete(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	deck := &model.Deck{
		Envelope: model.Envelope{
			ID:        model.NewID(),
			CreatedAt: now,
			UpdatedAt: now,
			DeletedAt: &now,
		},
		UserID: "user-1",
		Name:   "Archived",
	}

	doc := DeckToCrdt("actor-1", deck)
	if !IsDeleted(doc) {
		t.Fatal("expected deleted meta flag for a deck with DeletedAt set")
	}
	back := CrdtToDeck(doc)
	if back.DeletedAt == nil {
		t.Fatal("expected DeletedAt to round trip")
	}
}

func TestCardRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	noteID := "note-1"
	reversed := true
	card := &model.Card{
		Envelope: model.Envelope{
			ID:        model.NewID(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		DeckID:        "deck-1",
		NoteID:        &noteID,
		IsReversed:    &reversed,
		Front:         "bonjour",
		Back:          "hello",
		State:         model.StateReview,
		Due:           now.Add(24 * time.Hour),
		Stability:     3.2,
		Difficulty:    5.1,
		ElapsedDays:   2,
		ScheduledDays: 4,
		Reps:          3,
		Lapses:        1,
		LastReview:    &now,
	}

	doc := CardToCrdt("actor-1", card)
	back := CrdtToCard(doc)

	if back.Front != card.Front || back.Back != card.Back {
		t.Fatalf("front/back mismatch: got %+v", back)
	}
	if back.State != model.StateReview {
		t.Fatalf("state = %v, want StateReview", back.State)
	}
	if back.NoteID == nil || *back.NoteID != noteID {
		t.Fatalf("noteId round trip mismatch: got %v", back.NoteID)
	}
	if back.IsReversed == nil || !*back.IsReversed {
		t.Fatalf("isReversed round trip mismatch: got %v", back.IsReversed)
	}
	if back.Stability != card.Stability || back.Difficulty != card.Difficulty {
		t.Fatalf("stability/difficulty mismatch: got %+v", back)
	}
	if back.LastReview == nil || !back.LastReview.Equal(now) {
		t.Fatalf("lastReview round trip mismatch: got %v", back.LastReview)
	}
}

func TestReviewLogRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	duration := int64(4200)
	rl := &model.ReviewLog{
		ID:            model.NewID(),
		UserID:        "user-1",
		CardID:        "card-1",
		Rating:        model.RatingGood,
		State:         model.StateReview,
		ScheduledDays: 4,
		ElapsedDays:   2,
		ReviewedAt:    now,
		DurationMs:    &duration,
		CreatedAt:     now,
	}

	doc := ReviewLogToCrdt("actor-1", rl)
	back := CrdtToReviewLog(doc)

	if back.Rating != model.RatingGood || back.State != model.StateReview {
		t.Fatalf("rating/state mismatch: got %+v", back)
	}
	if back.DurationMs == nil || *back.DurationMs != duration {
		t.Fatalf("durationMs round trip mismatch: got %v", back.DurationMs)
	}
	if !back.ReviewedAt.Equal(now) {
		t.Fatalf("reviewedAt = %v, want %v", back.ReviewedAt, now)
	}
}
