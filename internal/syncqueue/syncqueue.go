// Package syncqueue is the single point of contact between the sync
// algorithm and the local store: it reads pending (unsynced) rows,
// commits push/pull results atomically across every entity table, and
// tracks the cooperative single-flight sync state machine.
package syncqueue

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/marcus/cardsync/internal/crdtstore"
	"github.com/marcus/cardsync/internal/model"
	"github.com/marcus/cardsync/internal/store"
	"github.com/marcus/cardsync/internal/wire"
)

// State is the sync state machine's current phase.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateError   State = "error"
)

// Status is a snapshot of the queue's sync state, delivered to subscribers.
type Status struct {
	State                State
	LastError            string
	LastSyncAt            time.Time
	SyncVersionWatermark  int
}

// PendingChanges is every unsynced row across the seven entity kinds.
type PendingChanges struct {
	NoteTypes       []*model.NoteType
	NoteFieldTypes  []*model.NoteFieldType
	Decks           []*model.Deck
	Notes           []*model.Note
	NoteFieldValues []*model.NoteFieldValue
	Cards           []*model.Card
	ReviewLogs      []*model.ReviewLog
}

func (p *PendingChanges) Total() int {
	return len(p.NoteTypes) + len(p.NoteFieldTypes) + len(p.Decks) + len(p.Notes) +
		len(p.NoteFieldValues) + len(p.Cards) + len(p.ReviewLogs)
}

// SyncResults is the per-kind acceptance list (id, new syncVersion) a push
// response reports, used to mark local rows synced in one write.
type SyncResults struct {
	NoteTypes       []wire.Ack
	NoteFieldTypes  []wire.Ack
	Decks           []wire.Ack
	Notes           []wire.Ack
	NoteFieldValues []wire.Ack
	Cards           []wire.Ack
	ReviewLogs      []wire.Ack
}

// PulledRows is the set of server rows pulled since the last watermark,
// in wire form.
type PulledRows struct {
	NoteTypes       []wire.NoteType
	NoteFieldTypes  []wire.NoteFieldType
	Decks           []wire.Deck
	Notes           []wire.Note
	NoteFieldValues []wire.NoteFieldValue
	Cards           []wire.Card
	ReviewLogs      []wire.ReviewLog
}

func (p *PulledRows) Total() int {
	return len(p.NoteTypes) + len(p.NoteFieldTypes) + len(p.Decks) + len(p.Notes) +
		len(p.NoteFieldValues) + len(p.Cards) + len(p.ReviewLogs)
}

// Queue coordinates reads/writes against the local store on behalf of the
// push, pull, resolver and sync-manager packages.
type Queue struct {
	st   *store.Store
	crdt *crdtstore.Store

	mu          sync.Mutex
	state       State
	lastError   string
	subscribers map[int]func(Status)
	nextSubID   int
}

// New builds a Queue over the given local store and CRDT sync state store.
func New(st *store.Store, crdt *crdtstore.Store) *Queue {
	return &Queue{st: st, crdt: crdt, state: StateIdle, subscribers: make(map[int]func(Status))}
}

// GetPendingChanges reads every unsynced row, across all seven kinds.
func (q *Queue) GetPendingChanges() (*PendingChanges, error) {
	var p PendingChanges
	var err error
	if p.NoteTypes, err = q.st.FindUnsyncedNoteTypes(); err != nil {
		return nil, fmt.Errorf("find unsynced note types: %w", err)
	}
	if p.NoteFieldTypes, err = q.st.FindUnsyncedNoteFieldTypes(); err != nil {
		return nil, fmt.Errorf("find unsynced note field types: %w", err)
	}
	if p.Decks, err = q.st.FindUnsyncedDecks(); err != nil {
		return nil, fmt.Errorf("find unsynced decks: %w", err)
	}
	if p.Notes, err = q.st.FindUnsyncedNotes(); err != nil {
		return nil, fmt.Errorf("find unsynced notes: %w", err)
	}
	if p.NoteFieldValues, err = q.st.FindUnsyncedNoteFieldValues(); err != nil {
		return nil, fmt.Errorf("find unsynced note field values: %w", err)
	}
	if p.Cards, err = q.st.FindUnsyncedCards(); err != nil {
		return nil, fmt.Errorf("find unsynced cards: %w", err)
	}
	if p.ReviewLogs, err = q.st.FindUnsyncedReviewLogs(); err != nil {
		return nil, fmt.Errorf("find unsynced review logs: %w", err)
	}
	return &p, nil
}

// GetPendingCount is the total number of unsynced rows across all kinds.
func (q *Queue) GetPendingCount() (int, error) {
	p, err := q.GetPendingChanges()
	if err != nil {
		return 0, err
	}
	return p.Total(), nil
}

// HasPendingChanges reports whether any row is unsynced.
func (q *Queue) HasPendingChanges() (bool, error) {
	n, err := q.GetPendingCount()
	return n > 0, err
}

// GetLastSyncVersion returns the persisted sync-version watermark,
// starting at 0 for a client that has never synced.
func (q *Queue) GetLastSyncVersion() (int, error) {
	m, err := q.crdt.GetMetadata()
	if err != nil {
		return 0, err
	}
	return m.SyncVersionWatermark, nil
}

// StartSync transitions Idle -> Syncing, enforcing the single-flight
// discipline: it fails while a sync is already in progress. It does not
// check connectivity; Manager.Sync rejects an offline client before
// calling it.
func (q *Queue) StartSync() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state == StateSyncing {
		return fmt.Errorf("Sync already in progress")
	}
	q.state = StateSyncing
	q.lastError = ""
	q.notifyLocked()
	return nil
}

// CompleteSync transitions Syncing -> Idle and advances the persisted
// watermark. newWatermark must never move the watermark backwards
// (the watermark must be monotonically non-decreasing).
func (q *Queue) CompleteSync(newWatermark int) error {
	current, err := q.GetLastSyncVersion()
	if err != nil {
		return err
	}
	if newWatermark > current {
		now := time.Now()
		if err := q.crdt.SetMetadata(&crdtstore.Metadata{LastSyncAt: &now, SyncVersionWatermark: newWatermark}); err != nil {
			return err
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.state = StateIdle
	q.lastError = ""
	q.notifyLocked()
	return nil
}

// FailSync transitions Syncing -> Error, recording msg for inspection.
func (q *Queue) FailSync(msg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.state = StateError
	q.lastError = msg
	q.notifyLocked()
	return nil
}

// Status returns the current sync state snapshot.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statusLocked()
}

func (q *Queue) statusLocked() Status {
	m, _ := q.crdt.GetMetadata()
	s := Status{State: q.state, LastError: q.lastError, SyncVersionWatermark: m.SyncVersionWatermark}
	if m.LastSyncAt != nil {
		s.LastSyncAt = *m.LastSyncAt
	}
	return s
}

// Subscribe registers fn to receive every subsequent status change, and
// returns an unsubscribe handle.
func (q *Queue) Subscribe(fn func(Status)) func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.nextSubID
	q.nextSubID++
	q.subscribers[id] = fn
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.subscribers, id)
	}
}

func (q *Queue) notifyLocked() {
	status := q.statusLocked()
	for _, fn := range q.subscribers {
		fn(status)
	}
}

// MarkSynced commits every accepted row's (id, syncVersion) across all
// kinds in a single local-store transaction, so a crash mid-write can
// never leave some kinds marked synced and others not.
func (q *Queue) MarkSynced(r SyncResults) error {
	return q.st.Atomic(func(tx *sql.Tx) error {
		for _, a := range r.NoteTypes {
			if err := store.MarkNoteTypeSyncedTx(tx, a.ID, a.SyncVersion); err != nil {
				return err
			}
		}
		for _, a := range r.NoteFieldTypes {
			if err := store.MarkNoteFieldTypeSyncedTx(tx, a.ID, a.SyncVersion); err != nil {
				return err
			}
		}
		for _, a := range r.Decks {
			if err := store.MarkDeckSyncedTx(tx, a.ID, a.SyncVersion); err != nil {
				return err
			}
		}
		for _, a := range r.Notes {
			if err := store.MarkNoteSyncedTx(tx, a.ID, a.SyncVersion); err != nil {
				return err
			}
		}
		for _, a := range r.NoteFieldValues {
			if err := store.MarkNoteFieldValueSyncedTx(tx, a.ID, a.SyncVersion); err != nil {
				return err
			}
		}
		for _, a := range r.Cards {
			if err := store.MarkCardSyncedTx(tx, a.ID, a.SyncVersion); err != nil {
				return err
			}
		}
		for _, a := range r.ReviewLogs {
			if err := store.MarkReviewLogSyncedTx(tx, a.ID, a.SyncVersion); err != nil {
				return err
			}
		}
		return nil
	})
}

// ApplyPulledChanges upserts every pulled row in the mandatory dependency
// order (model.DependencyOrder), all within a single transaction, marking
// every row _synced=true as it lands.
func (q *Queue) ApplyPulledChanges(rows PulledRows) error {
	if rows.Total() == 0 {
		return nil
	}
	return q.st.Atomic(func(tx *sql.Tx) error {
		for _, w := range rows.NoteTypes {
			if err := store.UpsertNoteTypeFromServerTx(tx, wire.NoteTypeFromWire(w)); err != nil {
				return err
			}
		}
		for _, w := range rows.NoteFieldTypes {
			if err := store.UpsertNoteFieldTypeFromServerTx(tx, wire.NoteFieldTypeFromWire(w)); err != nil {
				return err
			}
		}
		for _, w := range rows.Decks {
			if err := store.UpsertDeckFromServerTx(tx, wire.DeckFromWire(w)); err != nil {
				return err
			}
		}
		for _, w := range rows.Notes {
			if err := store.UpsertNoteFromServerTx(tx, wire.NoteFromWire(w)); err != nil {
				return err
			}
		}
		for _, w := range rows.NoteFieldValues {
			if err := store.UpsertNoteFieldValueFromServerTx(tx, wire.NoteFieldValueFromWire(w)); err != nil {
				return err
			}
		}
		for _, w := range rows.Cards {
			if err := store.UpsertCardFromServerTx(tx, wire.CardFromWire(w)); err != nil {
				return err
			}
		}
		for _, w := range rows.ReviewLogs {
			if err := store.UpsertReviewLogFromServerTx(tx, wire.ReviewLogFromWire(w)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Reset clears the queue's transient sync-machine state (phase and last
// error) back to Idle and wipes the persisted watermark and last-sync
// timestamp. Used at logout and for debug resets. Unlike CompleteSync,
// this is the one place the watermark is allowed to move backwards.
func (q *Queue) Reset() error {
	if err := q.crdt.ResetSyncState(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.state = StateIdle
	q.lastError = ""
	q.notifyLocked()
	return nil
}
