package pullsync

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

func TestPullAppliesRowsAndAdvancesWatermark(t *testing.T) {
	q, st := newTestQueue(t)

	deck := wire.Deck{
		ID: model.NewID(), UserID: "user-1", Name: "Spanish",
		CreatedAt: "2024-01-01T00:00:00Z", UpdatedAt: "2024-01-01T00:00:00Z",
	}
	transport := func(ctx context.Context, since int) (wire.PullResult, error) {
		if since != 0 {
			t.Fatalf("expected initial pull to start at watermark 0, got %d", since)
		}
		return wire.PullResult{Decks: []wire.Deck{deck}, CurrentSyncVersion: 7}, nil
	}

	result, err := Pull(context.Background(), q, transport)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if result.Applied != 1 {
		t.Fatalf("Applied = %d, want 1", result.Applied)
	}

	found, err := st.FindDeckByID(deck.ID)
	if err != nil || found == nil {
		t.Fatalf("expected pulled deck to be stored, err=%v found=%v", err, found)
	}

	v, err := q.GetLastSyncVersion()
	if err != nil {
		t.Fatalf("GetLastSyncVersion: %v", err)
	}
	if v != 7 {
		t.Fatalf("watermark = %d, want 7", v)
	}
}

func TestPullWithNoCurrentSyncVersionAdvanceLeavesWatermark(t *testing.T) {
	q, _ := newTestQueue(t)
	transport := func(ctx context.Context, since int) (wire.PullResult, error) {
		return wire.PullResult{CurrentSyncVersion: 0}, nil
	}

	if _, err := Pull(context.Background(), q, transport); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	v, err := q.GetLastSyncVersion()
	if err != nil {
		t.Fatalf("GetLastSyncVersion: %v", err)
	}
	if v != 0 {
		t.Fatalf("watermark = %d, want unchanged at 0", v)
	}
}

func TestPullPassesCurrentWatermarkToTransport(t *testing.T) {
	q, _ := newTestQueue(t)
	if err := q.StartSync(); err != nil {
		t.Fatalf("StartSync: %v", err)
	}
	if err := q.CompleteSync(3); err != nil {
		t.Fatalf("CompleteSync: %v", err)
	}

	var gotSince int
	transport := func(ctx context.Context, since int) (wire.PullResult, error) {
		gotSince = since
		return wire.PullResult{CurrentSyncVersion: 3}, nil
	}
	if _, err := Pull(context.Background(), q, transport); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if gotSince != 3 {
		t.Fatalf("transport called with since=%d, want 3", gotSince)
	}
}

func TestPullPropagatesTransportError(t *testing.T) {
	q, _ := newTestQueue(t)
	transport := func(ctx context.Context, since int) (wire.PullResult, error) {
		return wire.PullResult{}, context.DeadlineExceeded
	}
	if _, err := Pull(context.Background(), q, transport); err == nil {
		t.Fatal("expected Pull to propagate the transport error")
	}
}
