package resolver

import (
	"testing"
	"time"

	"github.com/marcus/cardsync/internal/crdt"
	"github.com/marcus/cardsync/internal/crdtstore"
	"github.com/marcus/cardsync/internal/model"
	"github.com/marcus/cardsync/internal/store"
	"github.com/marcus/cardsync/internal/wire"
)

func newTestStack(t *testing.T) (*store.Store, *crdtstore.Store) {
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
	return st, cs
}

func TestResolveAdoptsServerRowWhenLocalMissing(t *testing.T) {
	st, cs := newTestStack(t)

	deckID := model.NewID()
	serverDeck := wire.Deck{
		ID: deckID, UserID: "user-1", Name: "From server",
		CreatedAt: "2024-01-01T00:00:00Z", UpdatedAt: "2024-01-01T00:00:00Z", SyncVersion: 2,
	}

	resolutions, err := Resolve(st, cs, "actor-1",
		Conflicts{Decks: []string{deckID}},
		wire.PullResult{Decks: []wire.Deck{serverDeck}},
	)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(resolutions) != 1 || resolutions[0].Merged {
		t.Fatalf("expected one unmerged server-wins resolution, got %+v", resolutions)
	}

	found, err := st.FindDeckByID(deckID)
	if err != nil || found == nil {
		t.Fatalf("expected server deck to be adopted locally, err=%v found=%v", err, found)
	}
	if found.Name != "From server" {
		t.Fatalf("name = %q, want From server", found.Name)
	}
}

func TestResolveSkipsWhenLocalOnly(t *testing.T) {
	st, cs := newTestStack(t)
	deck := &model.Deck{UserID: "user-1", Name: "Local only"}
	if err := st.CreateDeck(deck); err != nil {
		t.Fatalf("CreateDeck: %v", err)
	}

	resolutions, err := Resolve(st, cs, "actor-1",
		Conflicts{Decks: []string{deck.ID}},
		wire.PullResult{},
	)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(resolutions) != 0 {
		t.Fatalf("expected no resolution for a locally-only row, got %+v", resolutions)
	}

	found, err := st.FindDeckByID(deck.ID)
	if err != nil || found == nil || found.Name != "Local only" {
		t.Fatalf("local row should be untouched, err=%v found=%v", err, found)
	}
}

func TestResolveSkipsWhenNeitherSideHasTheRow(t *testing.T) {
	st, cs := newTestStack(t)
	resolutions, err := Resolve(st, cs, "actor-1",
		Conflicts{Decks: []string{model.NewID()}},
		wire.PullResult{},
	)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(resolutions) != 0 {
		t.Fatalf("expected no resolution, got %+v", resolutions)
	}
}

func TestResolveMergesWhenBothDocumentsAvailable(t *testing.T) {
	st, cs := newTestStack(t)

	deck := &model.Deck{UserID: "user-1", Name: "Local edit", NewCardsPerDay: 10}
	if err := st.CreateDeck(deck); err != nil {
		t.Fatalf("CreateDeck: %v", err)
	}

	localDoc := crdt.DeckToCrdt("actor-local", deck)
	localBinary, err := crdt.SaveDocument(localDoc)
	if err != nil {
		t.Fatalf("SaveDocument local: %v", err)
	}
	if err := cs.Set(&crdtstore.Document{EntityType: model.EntityDeck, EntityID: deck.ID, Binary: localBinary, LastSyncedAt: time.Now()}); err != nil {
		t.Fatalf("cs.Set local: %v", err)
	}

	serverDeck := &model.Deck{
		Envelope: model.Envelope{ID: deck.ID, CreatedAt: deck.CreatedAt, UpdatedAt: deck.UpdatedAt.Add(time.Hour)},
		UserID:   "user-1", Name: "Server edit", NewCardsPerDay: 10,
	}
	serverDoc := crdt.DeckToCrdt("actor-server", serverDeck)
	serverBinary, err := crdt.SaveDocument(serverDoc)
	if err != nil {
		t.Fatalf("SaveDocument server: %v", err)
	}

	wireServerDeck := wire.DeckToWire(serverDeck)
	wireServerDeck.SyncVersion = 5

	resolutions, err := Resolve(st, cs, "actor-1",
		Conflicts{Decks: []string{deck.ID}},
		wire.PullResult{
			Decks:       []wire.Deck{wireServerDeck},
			CrdtChanges: map[string]string{"deck:" + deck.ID: crdtstore.BinaryToBase64(serverBinary)},
		},
	)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(resolutions) != 1 || !resolutions[0].Merged {
		t.Fatalf("expected a merged resolution, got %+v", resolutions)
	}

	found, err := st.FindDeckByID(deck.ID)
	if err != nil || found == nil {
		t.Fatalf("FindDeckByID: err=%v found=%v", err, found)
	}
	if found.Name != "Server edit" {
		t.Fatalf("name = %q, want Server edit (later timestamp wins)", found.Name)
	}

	mergedDoc, err := cs.Get(model.EntityDeck, deck.ID)
	if err != nil || mergedDoc == nil {
		t.Fatalf("expected merged document to be persisted, err=%v doc=%v", err, mergedDoc)
	}
}

// TestResolvePrefersStoredLocalDocOverSynthesis sets up a local row whose
// live UpdatedAt is LATER than the server's write, but whose last
// successfully stored CRDT document predates the server's write. A
// resolver that ignores the stored document and re-synthesizes one from
// the live row would have the local (later) timestamp win; the correct
// behavior is for the server's write -- later than the stored document --
// to win the merge.
func TestResolvePrefersStoredLocalDocOverSynthesis(t *testing.T) {
	st, cs := newTestStack(t)

	deck := &model.Deck{UserID: "user-1", Name: "Original name", NewCardsPerDay: 10}
	if err := st.CreateDeck(deck); err != nil {
		t.Fatalf("CreateDeck: %v", err)
	}

	storedDoc := crdt.DeckToCrdt("actor-local", deck)
	storedBinary, err := crdt.SaveDocument(storedDoc)
	if err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	if err := cs.Set(&crdtstore.Document{EntityType: model.EntityDeck, EntityID: deck.ID, Binary: storedBinary, LastSyncedAt: time.Now()}); err != nil {
		t.Fatalf("cs.Set: %v", err)
	}

	// Server wrote shortly after the stored document but before the
	// local row's later (unsynced) edit below.
	storedModified := time.UnixMilli(crdt.GetLastModified(storedDoc)).UTC()
	serverDeck := &model.Deck{
		Envelope: model.Envelope{ID: deck.ID, CreatedAt: deck.CreatedAt, UpdatedAt: storedModified.Add(time.Millisecond)},
		UserID:   "user-1", Name: "Server edit", NewCardsPerDay: 10,
	}
	serverDocObj := crdt.DeckToCrdt("actor-server", serverDeck)
	serverBinary, err := crdt.SaveDocument(serverDocObj)
	if err != nil {
		t.Fatalf("SaveDocument server: %v", err)
	}
	wireServerDeck := wire.DeckToWire(serverDeck)

	time.Sleep(2 * time.Millisecond)
	deck.Name = "Later unsynced local edit"
	if err := st.UpdateDeck(deck); err != nil {
		t.Fatalf("UpdateDeck: %v", err)
	}

	resolutions, err := Resolve(st, cs, "actor-1",
		Conflicts{Decks: []string{deck.ID}},
		wire.PullResult{
			Decks:       []wire.Deck{wireServerDeck},
			CrdtChanges: map[string]string{"deck:" + deck.ID: crdtstore.BinaryToBase64(serverBinary)},
		},
	)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(resolutions) != 1 || !resolutions[0].Merged {
		t.Fatalf("expected a merged resolution, got %+v", resolutions)
	}

	found, err := st.FindDeckByID(deck.ID)
	if err != nil || found == nil {
		t.Fatalf("FindDeckByID: err=%v found=%v", err, found)
	}
	if found.Name != "Server edit" {
		t.Fatalf("name = %q, want Server edit (resolver must merge against the stored document, not the live row's later edit)", found.Name)
	}
}
