package crdtstore

import (
	"testing"
	"time"

	"github.com/marcus/cardsync/internal/model"
	"github.com/marcus/cardsync/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	cs, err := Open(st)
	if err != nil {
		t.Fatalf("crdtstore.Open: %v", err)
	}
	return cs
}

func TestSetGetDocument(t *testing.T) {
	cs := openTestStore(t)
	doc := &Document{EntityType: model.EntityDeck, EntityID: "d1", Binary: []byte("hello"), LastSyncedAt: time.Now()}
	if err := cs.Set(doc); err != nil {
		t.Fatalf("Set: %v", err)
	}

	found, err := cs.Get(model.EntityDeck, "d1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found == nil || string(found.Binary) != "hello" {
		t.Fatalf("unexpected document: %+v", found)
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	cs := openTestStore(t)
	found, err := cs.Get(model.EntityDeck, "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found != nil {
		t.Fatalf("expected nil, got %+v", found)
	}
}

func TestSetOverwritesExisting(t *testing.T) {
	cs := openTestStore(t)
	doc := &Document{EntityType: model.EntityCard, EntityID: "c1", Binary: []byte("v1"), LastSyncedAt: time.Now()}
	if err := cs.Set(doc); err != nil {
		t.Fatalf("Set: %v", err)
	}
	doc.Binary = []byte("v2")
	if err := cs.Set(doc); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	found, err := cs.Get(model.EntityCard, "c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(found.Binary) != "v2" {
		t.Fatalf("binary = %q, want v2", found.Binary)
	}
}

func TestBulkPutAndCountTotal(t *testing.T) {
	cs := openTestStore(t)
	docs := []*Document{
		{EntityType: model.EntityDeck, EntityID: "d1", Binary: []byte("a"), LastSyncedAt: time.Now()},
		{EntityType: model.EntityCard, EntityID: "c1", Binary: []byte("b"), LastSyncedAt: time.Now()},
	}
	if err := cs.BulkPut(docs); err != nil {
		t.Fatalf("BulkPut: %v", err)
	}
	total, err := cs.CountTotal()
	if err != nil {
		t.Fatalf("CountTotal: %v", err)
	}
	if total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}
}

func TestMetadataWatermarkRoundTrip(t *testing.T) {
	cs := openTestStore(t)
	m, err := cs.GetMetadata()
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if m.SyncVersionWatermark != 0 {
		t.Fatalf("initial watermark = %d, want 0", m.SyncVersionWatermark)
	}

	if err := cs.SetMetadata(&Metadata{SyncVersionWatermark: 5}); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	m, err = cs.GetMetadata()
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if m.SyncVersionWatermark != 5 {
		t.Fatalf("watermark = %d, want 5", m.SyncVersionWatermark)
	}
}

func TestSetMetadataIsPartialUpdate(t *testing.T) {
	cs := openTestStore(t)
	if err := cs.SetMetadata(&Metadata{ActorID: "actor-1"}); err != nil {
		t.Fatalf("SetMetadata actor: %v", err)
	}
	if err := cs.SetMetadata(&Metadata{SyncVersionWatermark: 3}); err != nil {
		t.Fatalf("SetMetadata watermark: %v", err)
	}
	m, err := cs.GetMetadata()
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if m.ActorID != "actor-1" {
		t.Fatalf("actor id lost after partial update: %+v", m)
	}
	if m.SyncVersionWatermark != 3 {
		t.Fatalf("watermark = %d, want 3", m.SyncVersionWatermark)
	}
}

func TestResetSyncStatePreservesActorID(t *testing.T) {
	cs := openTestStore(t)
	if err := cs.SetMetadata(&Metadata{ActorID: "actor-1", SyncVersionWatermark: 10}); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	if err := cs.ResetSyncState(); err != nil {
		t.Fatalf("ResetSyncState: %v", err)
	}
	m, err := cs.GetMetadata()
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if m.SyncVersionWatermark != 0 {
		t.Fatalf("watermark = %d, want 0 after reset", m.SyncVersionWatermark)
	}
	if m.ActorID != "actor-1" {
		t.Fatalf("actor id should survive reset, got %q", m.ActorID)
	}
}

func TestMigrationStatusRoundTrip(t *testing.T) {
	cs := openTestStore(t)
	status, err := cs.GetMigrationStatus()
	if err != nil {
		t.Fatalf("GetMigrationStatus: %v", err)
	}
	if status != nil {
		t.Fatalf("expected nil status before migration, got %+v", status)
	}

	want := &MigrationStatus{
		Version:     1,
		CompletedAt: time.Now().UTC().Truncate(time.Second),
		Counts:      map[model.EntityType]int{model.EntityDeck: 3, model.EntityCard: 7},
	}
	if err := cs.SetMigrationStatus(want); err != nil {
		t.Fatalf("SetMigrationStatus: %v", err)
	}
	got, err := cs.GetMigrationStatus()
	if err != nil {
		t.Fatalf("GetMigrationStatus: %v", err)
	}
	if got == nil || got.Version != 1 || got.Counts[model.EntityDeck] != 3 || got.Counts[model.EntityCard] != 7 {
		t.Fatalf("unexpected migration status: %+v", got)
	}
}

func TestBinaryBase64RoundTrip(t *testing.T) {
	b := []byte{0, 1, 2, 255, 254}
	encoded := BinaryToBase64(b)
	decoded, err := Base64ToBinary(encoded)
	if err != nil {
		t.Fatalf("Base64ToBinary: %v", err)
	}
	if string(decoded) != string(b) {
		t.Fatalf("round trip mismatch: got %v, want %v", decoded, b)
	}
}
