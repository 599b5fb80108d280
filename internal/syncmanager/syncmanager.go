// Package syncmanager drives one full sync cycle end to end: push, pull,
// conflict resolution and CRDT metadata bookkeeping, plus the
// online/offline state machine and debounced reconnect sync.
package syncmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marcus/cardsync/internal/crdt"
	"github.com/marcus/cardsync/internal/crdtstore"
	"github.com/marcus/cardsync/internal/model"
	"github.com/marcus/cardsync/internal/pullsync"
	"github.com/marcus/cardsync/internal/pushsync"
	"github.com/marcus/cardsync/internal/resolver"
	"github.com/marcus/cardsync/internal/store"
	"github.com/marcus/cardsync/internal/syncqueue"
	"github.com/marcus/cardsync/internal/wire"
)

// EventType discriminates the events a Manager emits to subscribers.
type EventType string

const (
	EventOnline               EventType = "online"
	EventOffline              EventType = "offline"
	EventSyncStart            EventType = "sync_start"
	EventSyncComplete         EventType = "sync_complete"
	EventSyncError            EventType = "sync_error"
	EventCrdtDocumentsStored  EventType = "crdt_documents_stored"
)

// Event is one state transition or milestone of a sync cycle.
type Event struct {
	Type   EventType
	Result *CycleResult
	Err    error
	Count  int
}

// CycleResult summarizes one completed sync cycle.
type CycleResult struct {
	Pushed      int
	Pulled      int
	DocsStored  int
	Conflicts   int
	Resolutions []resolver.Resolution
}

// ConnectivitySource is the host-provided signal a Manager subscribes to
// while started: fn is invoked with the current online state on every
// transition. The returned func unsubscribes.
type ConnectivitySource interface {
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// Manager is the top-level sync coordinator: one per local store.
type Manager struct {
	queue   *syncqueue.Queue
	st      *store.Store
	crdt    *crdtstore.Store
	actorID string

	pushToServer   wire.PushToServerFunc
	pullFromServer wire.PullFromServerFunc

	debounce time.Duration

	mu             sync.Mutex
	online         bool
	reconnectTimer *time.Timer
	subscribers    map[int]func(Event)
	nextSubID      int

	unsubscribeConn func()

	syncMu  sync.Mutex
	syncing bool
}

// New builds a Manager. debounce is the delay after a reconnect before a
// sync cycle is triggered automatically (default 1000ms).
func New(queue *syncqueue.Queue, st *store.Store, crdt *crdtstore.Store, actorID string, debounce time.Duration, pushToServer wire.PushToServerFunc, pullFromServer wire.PullFromServerFunc) *Manager {
	return &Manager{
		queue: queue, st: st, crdt: crdt, actorID: actorID,
		pushToServer: pushToServer, pullFromServer: pullFromServer,
		debounce: debounce, online: true, subscribers: make(map[int]func(Event)),
	}
}

// Start subscribes to source's connectivity signal so that reconnects
// trigger a debounced sync automatically. Calling Start twice while
// already started is a no-op.
func (m *Manager) Start(ctx context.Context, source ConnectivitySource) {
	m.mu.Lock()
	if m.unsubscribeConn != nil {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	unsubscribe := source.Subscribe(func(online bool) {
		m.SetOnline(ctx, online)
	})

	m.mu.Lock()
	if m.unsubscribeConn != nil {
		// Lost a race with a concurrent Start/Stop; drop our own
		// subscription rather than leaking it.
		m.mu.Unlock()
		unsubscribe()
		return
	}
	m.unsubscribeConn = unsubscribe
	m.mu.Unlock()
}

// Stop unsubscribes from the connectivity source and cancels any pending
// debounced reconnect sync. A no-op if not started.
func (m *Manager) Stop() {
	m.mu.Lock()
	unsubscribe := m.unsubscribeConn
	m.unsubscribeConn = nil
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// IsSyncing reports whether a sync cycle is currently in flight.
func (m *Manager) IsSyncing() bool {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()
	return m.syncing
}

// Subscribe registers fn to receive every subsequent event, and returns
// an unsubscribe handle.
func (m *Manager) Subscribe(fn func(Event)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}

func (m *Manager) emit(ev Event) {
	m.mu.Lock()
	subs := make([]func(Event), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	m.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// SetOnline updates connectivity state. Going online schedules a
// debounced sync cycle; rapid online/offline flaps each reset the
// debounce timer so only the last transition fires a cycle.
func (m *Manager) SetOnline(ctx context.Context, online bool) {
	m.mu.Lock()
	wasOnline := m.online
	m.online = online
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if online && !wasOnline {
		m.reconnectTimer = time.AfterFunc(m.debounce, func() {
			_, _ = m.Sync(ctx)
		})
	}
	m.mu.Unlock()

	if online {
		m.emit(Event{Type: EventOnline})
	} else {
		m.emit(Event{Type: EventOffline})
	}
}

func (m *Manager) isOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Sync runs one full sync cycle:
//  1. startSync (guards: offline, already syncing)
//  2. push pending changes, storing their CRDT binaries
//  3. pull changes since the watermark
//  4. resolve any conflicts the push reported
//  5. emit sync_complete, or failSync + sync_error on any failure
//
// Single-flight is enforced by the Manager's own in-memory flag, not by
// the queue's reported state: pull's internal CompleteSync call flips the
// queue back to idle before conflict resolution runs, so relying on
// queue state alone would leave a window where a second Sync call could
// start while this one is still resolving conflicts.
func (m *Manager) Sync(ctx context.Context) (CycleResult, error) {
	if !m.isOnline() {
		return CycleResult{}, fmt.Errorf("Offline")
	}

	m.syncMu.Lock()
	if m.syncing {
		m.syncMu.Unlock()
		return CycleResult{}, fmt.Errorf("sync already in progress")
	}
	m.syncing = true
	m.syncMu.Unlock()
	defer func() {
		m.syncMu.Lock()
		m.syncing = false
		m.syncMu.Unlock()
	}()

	if err := m.queue.StartSync(); err != nil {
		return CycleResult{}, err
	}
	m.emit(Event{Type: EventSyncStart})

	result, err := m.runCycle(ctx)
	if err != nil {
		_ = m.queue.FailSync(err.Error())
		m.emit(Event{Type: EventSyncError, Err: err})
		return CycleResult{}, err
	}

	m.emit(Event{Type: EventSyncComplete, Result: &result})
	return result, nil
}

// runCycle executes one sync cycle's step list: snapshot
// pending changes before push (step 2) so that step 4's CRDT bookkeeping
// has the pre-push rows to build documents from, run push then pull, then
// resolve any reported conflicts.
func (m *Manager) runCycle(ctx context.Context) (CycleResult, error) {
	snapshot, err := m.queue.GetPendingChanges()
	if err != nil {
		return CycleResult{}, fmt.Errorf("snapshot pending changes: %w", err)
	}

	pushResult, err := pushsync.Push(ctx, m.queue, m.actorID, m.pushToServer)
	if err != nil {
		return CycleResult{}, fmt.Errorf("push: %w", err)
	}

	docsStored, err := m.storeCrdtDocuments(snapshot, pushResult.Response)
	if err != nil {
		return CycleResult{}, fmt.Errorf("store crdt documents: %w", err)
	}
	if docsStored > 0 {
		m.emit(Event{Type: EventCrdtDocumentsStored, Count: docsStored})
	}

	pullResult, err := pullsync.Pull(ctx, m.queue, m.pullFromServer)
	if err != nil {
		return CycleResult{}, fmt.Errorf("pull: %w", err)
	}

	var resolutions []resolver.Resolution
	if hasConflicts(pushResult.Response.Conflicts) {
		resolutions, err = resolver.Resolve(m.st, m.crdt, m.actorID, pushResult.Response.Conflicts, pullResult.Raw)
		if err != nil {
			return CycleResult{}, fmt.Errorf("resolve conflicts: %w", err)
		}
	}

	return CycleResult{
		Pushed:      pushResult.Pushed,
		Pulled:      pullResult.Applied,
		DocsStored:  docsStored,
		Conflicts:   len(resolutions),
		Resolutions: resolutions,
	}, nil
}

// storeCrdtDocuments builds and bulk-persists the CRDT binary for every
// entity in snapshot whose id the server accepted, stamped with the
// syncVersion the server newly assigned it.
func (m *Manager) storeCrdtDocuments(snapshot *syncqueue.PendingChanges, resp wire.PushResponse) (int, error) {
	var docs []*crdtstore.Document

	versions := func(acks []wire.Ack) map[string]int {
		out := make(map[string]int, len(acks))
		for _, a := range acks {
			out[a.ID] = a.SyncVersion
		}
		return out
	}

	noteTypeV, noteFieldTypeV := versions(resp.NoteTypes), versions(resp.NoteFieldTypes)
	deckV, noteV := versions(resp.Decks), versions(resp.Notes)
	fieldValueV, cardV, reviewLogV := versions(resp.NoteFieldValues), versions(resp.Cards), versions(resp.ReviewLogs)

	now := time.Now()
	for _, e := range snapshot.NoteTypes {
		if v, ok := noteTypeV[e.ID]; ok {
			docs = append(docs, storedDoc(model.EntityNoteType, e.ID, crdt.NoteTypeToCrdt(m.actorID, e), v, now))
		}
	}
	for _, e := range snapshot.NoteFieldTypes {
		if v, ok := noteFieldTypeV[e.ID]; ok {
			docs = append(docs, storedDoc(model.EntityNoteFieldType, e.ID, crdt.NoteFieldTypeToCrdt(m.actorID, e), v, now))
		}
	}
	for _, e := range snapshot.Decks {
		if v, ok := deckV[e.ID]; ok {
			docs = append(docs, storedDoc(model.EntityDeck, e.ID, crdt.DeckToCrdt(m.actorID, e), v, now))
		}
	}
	for _, e := range snapshot.Notes {
		if v, ok := noteV[e.ID]; ok {
			docs = append(docs, storedDoc(model.EntityNote, e.ID, crdt.NoteToCrdt(m.actorID, e), v, now))
		}
	}
	for _, e := range snapshot.NoteFieldValues {
		if v, ok := fieldValueV[e.ID]; ok {
			docs = append(docs, storedDoc(model.EntityNoteFieldValue, e.ID, crdt.NoteFieldValueToCrdt(m.actorID, e), v, now))
		}
	}
	for _, e := range snapshot.Cards {
		if v, ok := cardV[e.ID]; ok {
			docs = append(docs, storedDoc(model.EntityCard, e.ID, crdt.CardToCrdt(m.actorID, e), v, now))
		}
	}
	for _, e := range snapshot.ReviewLogs {
		if v, ok := reviewLogV[e.ID]; ok {
			docs = append(docs, storedDoc(model.EntityReviewLog, e.ID, crdt.ReviewLogToCrdt(m.actorID, e), v, now))
		}
	}

	if len(docs) == 0 {
		return 0, nil
	}
	if err := m.crdt.BulkPut(docs); err != nil {
		return 0, err
	}
	return len(docs), nil
}

func storedDoc(entityType model.EntityType, entityID string, doc *crdt.Doc, syncVersion int, now time.Time) *crdtstore.Document {
	binary, _ := crdt.SaveDocument(doc)
	return &crdtstore.Document{
		EntityType:   entityType,
		EntityID:     entityID,
		Binary:       binary,
		LastSyncedAt: now,
		SyncVersion:  syncVersion,
	}
}

func hasConflicts(c wire.Conflicts) bool {
	return len(c.Decks) > 0 || len(c.NoteTypes) > 0 || len(c.NoteFieldTypes) > 0 ||
		len(c.Notes) > 0 || len(c.NoteFieldValues) > 0 || len(c.Cards) > 0
}
