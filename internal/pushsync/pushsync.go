// Package pushsync implements the push half of a sync cycle: read
// pending local changes, attach their CRDT binaries, hand them to the
// injected transport, and mark accepted rows synced.
package pushsync

import (
	"context"
	"fmt"

	"github.com/marcus/cardsync/internal/crdt"
	"github.com/marcus/cardsync/internal/crdtstore"
	"github.com/marcus/cardsync/internal/model"
	"github.com/marcus/cardsync/internal/syncqueue"
	"github.com/marcus/cardsync/internal/wire"
)

// Result is the outcome of one Push call.
type Result struct {
	Pushed   int
	Response wire.PushResponse
}

// Push runs the push algorithm: if there is nothing pending it returns
// immediately without calling the transport. On
// success it marks every accepted row synced via the queue — including
// rows the server also flagged as conflicting, since acceptance and
// conflict are independent outcomes. Storing the resulting
// CRDT binaries with the server's newly assigned syncVersion is the sync
// manager's job, not this package's: Push hands the server's reply back
// in Result.Response, whose per-kind acks carry the syncVersion each
// accepted row received.
func Push(ctx context.Context, q *syncqueue.Queue, actorID string, pushToServer wire.PushToServerFunc) (Result, error) {
	pending, err := q.GetPendingChanges()
	if err != nil {
		return Result{}, fmt.Errorf("read pending changes: %w", err)
	}
	if pending.Total() == 0 {
		return Result{}, nil
	}

	body := buildPushBody(actorID, pending)

	resp, err := pushToServer(ctx, body)
	if err != nil {
		return Result{}, fmt.Errorf("push to server: %w", err)
	}

	if err := q.MarkSynced(toSyncResults(resp)); err != nil {
		return Result{}, fmt.Errorf("mark synced: %w", err)
	}

	return Result{Pushed: pending.Total(), Response: resp}, nil
}

func buildPushBody(actorID string, p *syncqueue.PendingChanges) wire.PushBody {
	var body wire.PushBody
	changes := make(map[string]string)

	for _, e := range p.NoteTypes {
		body.NoteTypes = append(body.NoteTypes, wire.NoteTypeToWire(e))
		putChange(changes, model.EntityNoteType, e.ID, crdt.NoteTypeToCrdt(actorID, e))
	}
	for _, e := range p.NoteFieldTypes {
		body.NoteFieldTypes = append(body.NoteFieldTypes, wire.NoteFieldTypeToWire(e))
		putChange(changes, model.EntityNoteFieldType, e.ID, crdt.NoteFieldTypeToCrdt(actorID, e))
	}
	for _, e := range p.Decks {
		body.Decks = append(body.Decks, wire.DeckToWire(e))
		putChange(changes, model.EntityDeck, e.ID, crdt.DeckToCrdt(actorID, e))
	}
	for _, e := range p.Notes {
		body.Notes = append(body.Notes, wire.NoteToWire(e))
		putChange(changes, model.EntityNote, e.ID, crdt.NoteToCrdt(actorID, e))
	}
	for _, e := range p.NoteFieldValues {
		body.NoteFieldValues = append(body.NoteFieldValues, wire.NoteFieldValueToWire(e))
		putChange(changes, model.EntityNoteFieldValue, e.ID, crdt.NoteFieldValueToCrdt(actorID, e))
	}
	for _, e := range p.Cards {
		body.Cards = append(body.Cards, wire.CardToWire(e))
		putChange(changes, model.EntityCard, e.ID, crdt.CardToCrdt(actorID, e))
	}
	for _, e := range p.ReviewLogs {
		body.ReviewLogs = append(body.ReviewLogs, wire.ReviewLogToWire(e))
		putChange(changes, model.EntityReviewLog, e.ID, crdt.ReviewLogToCrdt(actorID, e))
	}

	body.CrdtChanges = changes
	return body
}

func putChange(changes map[string]string, entityType model.EntityType, entityID string, doc *crdt.Doc) {
	binary, err := crdt.SaveDocument(doc)
	if err != nil {
		return
	}
	changes[string(entityType)+":"+entityID] = crdtstore.BinaryToBase64(binary)
}

func toSyncResults(resp wire.PushResponse) syncqueue.SyncResults {
	return syncqueue.SyncResults{
		NoteTypes:       resp.NoteTypes,
		NoteFieldTypes:  resp.NoteFieldTypes,
		Decks:           resp.Decks,
		Notes:           resp.Notes,
		NoteFieldValues: resp.NoteFieldValues,
		Cards:           resp.Cards,
		ReviewLogs:      resp.ReviewLogs,
	}
}
