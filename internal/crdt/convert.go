package crdt

import (
	"time"

	"github.com/marcus/cardsync/internal/model"
)

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullableMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return millis(*t)
}

func toNullableTime(v any) *time.Time {
	if v == nil {
		return nil
	}
	ms, ok := toInt64(v)
	if !ok {
		return nil
	}
	t := fromMillis(ms)
	return &t
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	default:
		return 0, false
	}
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func toNullableString(v any) *string {
	if v == nil {
		return nil
	}
	s := toString(v)
	return &s
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	}
	return 0
}

func toInt(v any) int {
	n, _ := toInt64(v)
	return int(n)
}

func toBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func toNullableBool(v any) *bool {
	if v == nil {
		return nil
	}
	b := toBool(v)
	return &b
}

// DeckToCrdt builds a CRDT document from a Deck row.
func DeckToCrdt(actor string, e *model.Deck) *Doc {
	data := map[string]any{
		"id":             e.ID,
		"userId":         e.UserID,
		"name":           e.Name,
		"description":    nullableString(e.Description),
		"newCardsPerDay": e.NewCardsPerDay,
		"createdAt":      millis(e.CreatedAt),
		"deletedAt":      nullableMillis(e.DeletedAt),
	}
	doc := CreateDocument(actor, data, millis(e.UpdatedAt))
	doc.Meta.Deleted = e.DeletedAt != nil
	return doc
}

// CrdtToDeck reconstructs a Deck from a CRDT document. SyncVersion is
// reset to 0 on reconstruction — the sync layer populates it.
func CrdtToDeck(doc *Doc) *model.Deck {
	d := doc.Data
	return &model.Deck{
		Envelope: model.Envelope{
			ID:        doc.Meta.EntityID,
			CreatedAt: fromMillis(toInt64Or(d["createdAt"])),
			UpdatedAt: fromMillis(doc.Meta.LastModified),
			DeletedAt: toNullableTime(d["deletedAt"]),
		},
		UserID:         toString(d["userId"]),
		Name:           toString(d["name"]),
		Description:    toNullableString(d["description"]),
		NewCardsPerDay: toInt(d["newCardsPerDay"]),
	}
}

// NoteTypeToCrdt builds a CRDT document from a NoteType row.
func NoteTypeToCrdt(actor string, e *model.NoteType) *Doc {
	data := map[string]any{
		"id":            e.ID,
		"userId":        e.UserID,
		"name":          e.Name,
		"frontTemplate": e.FrontTemplate,
		"backTemplate":  e.BackTemplate,
		"isReversible":  e.IsReversible,
		"createdAt":     millis(e.CreatedAt),
		"deletedAt":     nullableMillis(e.DeletedAt),
	}
	doc := CreateDocument(actor, data, millis(e.UpdatedAt))
	doc.Meta.Deleted = e.DeletedAt != nil
	return doc
}

// CrdtToNoteType reconstructs a NoteType from a CRDT document.
func CrdtToNoteType(doc *Doc) *model.NoteType {
	d := doc.Data
	return &model.NoteType{
		Envelope: model.Envelope{
			ID:        doc.Meta.EntityID,
			CreatedAt: fromMillis(toInt64Or(d["createdAt"])),
			UpdatedAt: fromMillis(doc.Meta.LastModified),
			DeletedAt: toNullableTime(d["deletedAt"]),
		},
		UserID:        toString(d["userId"]),
		Name:          toString(d["name"]),
		FrontTemplate: toString(d["frontTemplate"]),
		BackTemplate:  toString(d["backTemplate"]),
		IsReversible:  toBool(d["isReversible"]),
	}
}

// NoteFieldTypeToCrdt builds a CRDT document from a NoteFieldType row.
func NoteFieldTypeToCrdt(actor string, e *model.NoteFieldType) *Doc {
	data := map[string]any{
		"id":         e.ID,
		"noteTypeId": e.NoteTypeID,
		"name":       e.Name,
		"order":      e.Order,
		"fieldType":  string(e.FieldType),
		"createdAt":  millis(e.CreatedAt),
		"deletedAt":  nullableMillis(e.DeletedAt),
	}
	doc := CreateDocument(actor, data, millis(e.UpdatedAt))
	doc.Meta.Deleted = e.DeletedAt != nil
	return doc
}

// CrdtToNoteFieldType reconstructs a NoteFieldType from a CRDT document.
func CrdtToNoteFieldType(doc *Doc) *model.NoteFieldType {
	d := doc.Data
	return &model.NoteFieldType{
		Envelope: model.Envelope{
			ID:        doc.Meta.EntityID,
			CreatedAt: fromMillis(toInt64Or(d["createdAt"])),
			UpdatedAt: fromMillis(doc.Meta.LastModified),
			DeletedAt: toNullableTime(d["deletedAt"]),
		},
		NoteTypeID: toString(d["noteTypeId"]),
		Name:       toString(d["name"]),
		Order:      toInt(d["order"]),
		FieldType:  model.FieldType(toString(d["fieldType"])),
	}
}

// NoteToCrdt builds a CRDT document from a Note row.
func NoteToCrdt(actor string, e *model.Note) *Doc {
	data := map[string]any{
		"id":         e.ID,
		"deckId":     e.DeckID,
		"noteTypeId": e.NoteTypeID,
		"createdAt":  millis(e.CreatedAt),
		"deletedAt":  nullableMillis(e.DeletedAt),
	}
	doc := CreateDocument(actor, data, millis(e.UpdatedAt))
	doc.Meta.Deleted = e.DeletedAt != nil
	return doc
}

// CrdtToNote reconstructs a Note from a CRDT document.
func CrdtToNote(doc *Doc) *model.Note {
	d := doc.Data
	return &model.Note{
		Envelope: model.Envelope{
			ID:        doc.Meta.EntityID,
			CreatedAt: fromMillis(toInt64Or(d["createdAt"])),
			UpdatedAt: fromMillis(doc.Meta.LastModified),
			DeletedAt: toNullableTime(d["deletedAt"]),
		},
		DeckID:     toString(d["deckId"]),
		NoteTypeID: toString(d["noteTypeId"]),
	}
}

// NoteFieldValueToCrdt builds a CRDT document from a NoteFieldValue row.
// NoteFieldValue carries no soft-delete state of its own.
func NoteFieldValueToCrdt(actor string, e *model.NoteFieldValue) *Doc {
	data := map[string]any{
		"id":              e.ID,
		"noteId":          e.NoteID,
		"noteFieldTypeId": e.NoteFieldTypeID,
		"value":           e.Value,
		"createdAt":       millis(e.CreatedAt),
	}
	return CreateDocument(actor, data, millis(e.UpdatedAt))
}

// CrdtToNoteFieldValue reconstructs a NoteFieldValue from a CRDT document.
func CrdtToNoteFieldValue(doc *Doc) *model.NoteFieldValue {
	d := doc.Data
	return &model.NoteFieldValue{
		ID:              doc.Meta.EntityID,
		CreatedAt:       fromMillis(toInt64Or(d["createdAt"])),
		UpdatedAt:       fromMillis(doc.Meta.LastModified),
		NoteID:          toString(d["noteId"]),
		NoteFieldTypeID: toString(d["noteFieldTypeId"]),
		Value:           toString(d["value"]),
	}
}

// CardToCrdt builds a CRDT document from a Card row.
func CardToCrdt(actor string, e *model.Card) *Doc {
	data := map[string]any{
		"id":            e.ID,
		"deckId":        e.DeckID,
		"noteId":        nullableString(e.NoteID),
		"isReversed":    nullableBool(e.IsReversed),
		"front":         e.Front,
		"back":          e.Back,
		"state":         int(e.State),
		"due":           millis(e.Due),
		"stability":     e.Stability,
		"difficulty":    e.Difficulty,
		"elapsedDays":   e.ElapsedDays,
		"scheduledDays": e.ScheduledDays,
		"reps":          e.Reps,
		"lapses":        e.Lapses,
		"lastReview":    nullableMillis(e.LastReview),
		"createdAt":     millis(e.CreatedAt),
		"deletedAt":     nullableMillis(e.DeletedAt),
	}
	doc := CreateDocument(actor, data, millis(e.UpdatedAt))
	doc.Meta.Deleted = e.DeletedAt != nil
	return doc
}

// CrdtToCard reconstructs a Card from a CRDT document.
func CrdtToCard(doc *Doc) *model.Card {
	d := doc.Data
	var lastReview *time.Time
	if ms, ok := toInt64(d["lastReview"]); ok {
		t := fromMillis(ms)
		lastReview = &t
	}
	return &model.Card{
		Envelope: model.Envelope{
			ID:        doc.Meta.EntityID,
			CreatedAt: fromMillis(toInt64Or(d["createdAt"])),
			UpdatedAt: fromMillis(doc.Meta.LastModified),
			DeletedAt: toNullableTime(d["deletedAt"]),
		},
		DeckID:        toString(d["deckId"]),
		NoteID:        toNullableString(d["noteId"]),
		IsReversed:    toNullableBool(d["isReversed"]),
		Front:         toString(d["front"]),
		Back:          toString(d["back"]),
		State:         model.CardState(toInt(d["state"])),
		Due:           fromMillis(toInt64Or(d["due"])),
		Stability:     toFloat(d["stability"]),
		Difficulty:    toFloat(d["difficulty"]),
		ElapsedDays:   toInt(d["elapsedDays"]),
		ScheduledDays: toInt(d["scheduledDays"]),
		Reps:          toInt(d["reps"]),
		Lapses:        toInt(d["lapses"]),
		LastReview:    lastReview,
	}
}

// ReviewLogToCrdt builds a CRDT document from a ReviewLog row. ReviewLog
// is append-only and never soft-deleted.
func ReviewLogToCrdt(actor string, e *model.ReviewLog) *Doc {
	data := map[string]any{
		"id":            e.ID,
		"userId":        e.UserID,
		"cardId":        e.CardID,
		"rating":        int(e.Rating),
		"state":         int(e.State),
		"scheduledDays": e.ScheduledDays,
		"elapsedDays":   e.ElapsedDays,
		"reviewedAt":    millis(e.ReviewedAt),
		"durationMs":    nullableInt64(e.DurationMs),
		"createdAt":     millis(e.CreatedAt),
	}
	return CreateDocument(actor, data, millis(e.CreatedAt))
}

// CrdtToReviewLog reconstructs a ReviewLog from a CRDT document.
func CrdtToReviewLog(doc *Doc) *model.ReviewLog {
	d := doc.Data
	var durationMs *int64
	if ms, ok := toInt64(d["durationMs"]); ok {
		durationMs = &ms
	}
	return &model.ReviewLog{
		ID:            doc.Meta.EntityID,
		UserID:        toString(d["userId"]),
		CardID:        toString(d["cardId"]),
		Rating:        model.Rating(toInt(d["rating"])),
		State:         model.CardState(toInt(d["state"])),
		ScheduledDays: toInt(d["scheduledDays"]),
		ElapsedDays:   toInt(d["elapsedDays"]),
		ReviewedAt:    fromMillis(toInt64Or(d["reviewedAt"])),
		DurationMs:    durationMs,
		CreatedAt:     fromMillis(toInt64Or(d["createdAt"])),
	}
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableBool(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}

func nullableInt64(i *int64) any {
	if i == nil {
		return nil
	}
	return *i
}

func toInt64Or(v any) int64 {
	n, _ := toInt64(v)
	return n
}
