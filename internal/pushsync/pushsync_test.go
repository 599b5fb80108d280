package pushsync

import (
	"context"
	"testing"

	"github.com/marcus/cardsync/internal/crdtstore"
	"github.com/marcus/cardsync/internal/model"
	"github.com/marcus/cardsync/internal/store"
	"github.com/marcus/cardsync/internal/syncqueue"
	"github.com/marcus/cardsync/internal/wire"
)

func newTestQueue(t *testing.T) (*syncqueue.Queue, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	cs, err := crdtstore.Open(st)
	if err != nil {
		t.Fatalf("crdtstore.Open: %v", err)
	}
	return syncqueue.New(st, cs), st
}

func TestPushWithNothingPendingSkipsTransport(t *testing.T) {
	q, _ := newTestQueue(t)
	called := false
	transport := func(ctx context.Context, body wire.PushBody) (wire.PushResponse, error) {
		called = true
		return wire.PushResponse{}, nil
	}

	result, err := Push(context.Background(), q, "actor-1", transport)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if called {
		t.Fatal("transport should not be called when there is nothing pending")
	}
	if result.Pushed != 0 {
		t.Fatalf("Pushed = %d, want 0", result.Pushed)
	}
}

func TestPushSendsPendingRowsAndCrdtChanges(t *testing.T) {
	q, st := newTestQueue(t)
	deck := &model.Deck{UserID: "user-1", Name: "Spanish"}
	if err := st.CreateDeck(deck); err != nil {
		t.Fatalf("CreateDeck: %v", err)
	}

	var sentBody wire.PushBody
	transport := func(ctx context.Context, body wire.PushBody) (wire.PushResponse, error) {
		sentBody = body
		return wire.PushResponse{Decks: []wire.Ack{{ID: deck.ID, SyncVersion: 1}}}, nil
	}

	result, err := Push(context.Background(), q, "actor-1", transport)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if result.Pushed != 1 {
		t.Fatalf("Pushed = %d, want 1", result.Pushed)
	}
	if len(sentBody.Decks) != 1 || sentBody.Decks[0].ID != deck.ID {
		t.Fatalf("unexpected push body decks: %+v", sentBody.Decks)
	}
	if _, ok := sentBody.CrdtChanges["deck:"+deck.ID]; !ok {
		t.Fatalf("expected crdt change for deck %s, got keys %v", deck.ID, sentBody.CrdtChanges)
	}

	pending, err := q.GetPendingChanges()
	if err != nil {
		t.Fatalf("GetPendingChanges: %v", err)
	}
	if pending.Total() != 0 {
		t.Fatalf("expected deck to be marked synced after push, pending=%+v", pending)
	}
}

func TestPushMarksConflictingRowsSyncedToo(t *testing.T) {
	q, st := newTestQueue(t)
	deck := &model.Deck{UserID: "user-1", Name: "Spanish"}
	if err := st.CreateDeck(deck); err != nil {
		t.Fatalf("CreateDeck: %v", err)
	}

	transport := func(ctx context.Context, body wire.PushBody) (wire.PushResponse, error) {
		return wire.PushResponse{
			Decks:     []wire.Ack{{ID: deck.ID, SyncVersion: 1}},
			Conflicts: wire.Conflicts{Decks: []string{deck.ID}},
		}, nil
	}

	result, err := Push(context.Background(), q, "actor-1", transport)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(result.Response.Conflicts.Decks) != 1 {
		t.Fatalf("expected the conflict to be reported in the push result")
	}

	pending, err := q.GetPendingChanges()
	if err != nil {
		t.Fatalf("GetPendingChanges: %v", err)
	}
	if pending.Total() != 0 {
		t.Fatalf("a row accepted and flagged conflicting is still marked synced: pending=%+v", pending)
	}
}

func TestPushPropagatesTransportError(t *testing.T) {
	q, st := newTestQueue(t)
	deck := &model.Deck{UserID: "user-1", Name: "Spanish"}
	if err := st.CreateDeck(deck); err != nil {
		t.Fatalf("CreateDeck: %v", err)
	}

	transport := func(ctx context.Context, body wire.PushBody) (wire.PushResponse, error) {
		return wire.PushResponse{}, context.DeadlineExceeded
	}

	if _, err := Push(context.Background(), q, "actor-1", transport); err == nil {
		t.Fatal("expected Push to propagate the transport error")
	}

	pending, err := q.GetPendingChanges()
	if err != nil {
		t.Fatalf("GetPendingChanges: %v", err)
	}
	if pending.Total() != 1 {
		t.Fatalf("a failed push must leave the row pending, got %+v", pending)
	}
}
