// Package resolver implements the conflict resolution algorithm: for
// each id the server flagged as conflicting, merge the local and server
// CRDT documents (or adopt the server row verbatim when no CRDT binary
// is available on either side) and write the outcome back to the local
// store.
package resolver

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/marcus/cardsync/internal/crdt"
	"github.com/marcus/cardsync/internal/crdtstore"
	"github.com/marcus/cardsync/internal/model"
	"github.com/marcus/cardsync/internal/store"
	"github.com/marcus/cardsync/internal/wire"
)

// Resolution records how one conflicting id was resolved. The outcome
// label is "server_wins" in every case, even when a CRDT merge actually
// ran, since the merged document's conflicting fields still follow
// whichever write is later.
type Resolution struct {
	EntityType model.EntityType
	EntityID   string
	Outcome    string // "server_wins"
	Merged     bool   // true if a CRDT merge actually ran, false if the server row was adopted verbatim
}

// Conflicts is the server's six-kind conflicting-id report from a push
// response. ReviewLogs never conflict, since they are append-only and
// immutable once written.
type Conflicts = wire.Conflicts

// Resolve walks every conflicting id the server reported, resolving each
// against the rows and CRDT binaries present in pull.
func Resolve(st *store.Store, cs *crdtstore.Store, actorID string, conflicts Conflicts, pull wire.PullResult) ([]Resolution, error) {
	var out []Resolution
	changes := pull.CrdtChanges

	serverDecks := indexByID(pull.Decks, func(d wire.Deck) string { return d.ID })
	r, err := resolveKind(st, conflicts.Decks, model.EntityDeck, cs, actorID, changes,
		func(id string) (bool, error) { e, err := st.FindDeckByID(id); return e != nil, wrapErr(err) },
		func(id string) (*crdt.Doc, bool) {
			if doc, ok := loadStoredLocalDoc(cs, model.EntityDeck, id); ok {
				return doc, true
			}
			e, err := st.FindDeckByID(id)
			if err != nil || e == nil {
				return nil, false
			}
			return crdt.DeckToCrdt(actorID, e), true
		},
		serverDecks,
		func(row wire.Deck) *model.Deck { return wire.DeckFromWire(row) },
		func(doc *crdt.Doc) *model.Deck { return crdt.CrdtToDeck(doc) },
		func(tx *sql.Tx, e *model.Deck) error { return store.UpsertDeckFromServerTx(tx, e) },
		func(row wire.Deck) int { return row.SyncVersion },
	)
	if err != nil {
		return nil, err
	}
	out = append(out, r...)

	serverNoteTypes := indexByID(pull.NoteTypes, func(d wire.NoteType) string { return d.ID })
	r, err = resolveKind(st, conflicts.NoteTypes, model.EntityNoteType, cs, actorID, changes,
		func(id string) (bool, error) { e, err := st.FindNoteTypeByID(id); return e != nil, wrapErr(err) },
		func(id string) (*crdt.Doc, bool) {
			if doc, ok := loadStoredLocalDoc(cs, model.EntityNoteType, id); ok {
				return doc, true
			}
			e, err := st.FindNoteTypeByID(id)
			if err != nil || e == nil {
				return nil, false
			}
			return crdt.NoteTypeToCrdt(actorID, e), true
		},
		serverNoteTypes,
		func(row wire.NoteType) *model.NoteType { return wire.NoteTypeFromWire(row) },
		func(doc *crdt.Doc) *model.NoteType { return crdt.CrdtToNoteType(doc) },
		func(tx *sql.Tx, e *model.NoteType) error { return store.UpsertNoteTypeFromServerTx(tx, e) },
		func(row wire.NoteType) int { return row.SyncVersion },
	)
	if err != nil {
		return nil, err
	}
	out = append(out, r...)

	serverNoteFieldTypes := indexByID(pull.NoteFieldTypes, func(d wire.NoteFieldType) string { return d.ID })
	r, err = resolveKind(st, conflicts.NoteFieldTypes, model.EntityNoteFieldType, cs, actorID, changes,
		func(id string) (bool, error) { e, err := st.FindNoteFieldTypeByID(id); return e != nil, wrapErr(err) },
		func(id string) (*crdt.Doc, bool) {
			if doc, ok := loadStoredLocalDoc(cs, model.EntityNoteFieldType, id); ok {
				return doc, true
			}
			e, err := st.FindNoteFieldTypeByID(id)
			if err != nil || e == nil {
				return nil, false
			}
			return crdt.NoteFieldTypeToCrdt(actorID, e), true
		},
		serverNoteFieldTypes,
		func(row wire.NoteFieldType) *model.NoteFieldType { return wire.NoteFieldTypeFromWire(row) },
		func(doc *crdt.Doc) *model.NoteFieldType { return crdt.CrdtToNoteFieldType(doc) },
		func(tx *sql.Tx, e *model.NoteFieldType) error { return store.UpsertNoteFieldTypeFromServerTx(tx, e) },
		func(row wire.NoteFieldType) int { return row.SyncVersion },
	)
	if err != nil {
		return nil, err
	}
	out = append(out, r...)

	serverNotes := indexByID(pull.Notes, func(d wire.Note) string { return d.ID })
	r, err = resolveKind(st, conflicts.Notes, model.EntityNote, cs, actorID, changes,
		func(id string) (bool, error) { e, err := st.FindNoteByID(id); return e != nil, wrapErr(err) },
		func(id string) (*crdt.Doc, bool) {
			if doc, ok := loadStoredLocalDoc(cs, model.EntityNote, id); ok {
				return doc, true
			}
			e, err := st.FindNoteByID(id)
			if err != nil || e == nil {
				return nil, false
			}
			return crdt.NoteToCrdt(actorID, e), true
		},
		serverNotes,
		func(row wire.Note) *model.Note { return wire.NoteFromWire(row) },
		func(doc *crdt.Doc) *model.Note { return crdt.CrdtToNote(doc) },
		func(tx *sql.Tx, e *model.Note) error { return store.UpsertNoteFromServerTx(tx, e) },
		func(row wire.Note) int { return row.SyncVersion },
	)
	if err != nil {
		return nil, err
	}
	out = append(out, r...)

	serverNoteFieldValues := indexByID(pull.NoteFieldValues, func(d wire.NoteFieldValue) string { return d.ID })
	r, err = resolveKind(st, conflicts.NoteFieldValues, model.EntityNoteFieldValue, cs, actorID, changes,
		func(id string) (bool, error) { e, err := st.FindNoteFieldValueByID(id); return e != nil, wrapErr(err) },
		func(id string) (*crdt.Doc, bool) {
			if doc, ok := loadStoredLocalDoc(cs, model.EntityNoteFieldValue, id); ok {
				return doc, true
			}
			e, err := st.FindNoteFieldValueByID(id)
			if err != nil || e == nil {
				return nil, false
			}
			return crdt.NoteFieldValueToCrdt(actorID, e), true
		},
		serverNoteFieldValues,
		func(row wire.NoteFieldValue) *model.NoteFieldValue { return wire.NoteFieldValueFromWire(row) },
		func(doc *crdt.Doc) *model.NoteFieldValue { return crdt.CrdtToNoteFieldValue(doc) },
		func(tx *sql.Tx, e *model.NoteFieldValue) error { return store.UpsertNoteFieldValueFromServerTx(tx, e) },
		func(row wire.NoteFieldValue) int { return row.SyncVersion },
	)
	if err != nil {
		return nil, err
	}
	out = append(out, r...)

	serverCards := indexByID(pull.Cards, func(d wire.Card) string { return d.ID })
	r, err = resolveKind(st, conflicts.Cards, model.EntityCard, cs, actorID, changes,
		func(id string) (bool, error) { e, err := st.FindCardByID(id); return e != nil, wrapErr(err) },
		func(id string) (*crdt.Doc, bool) {
			if doc, ok := loadStoredLocalDoc(cs, model.EntityCard, id); ok {
				return doc, true
			}
			e, err := st.FindCardByID(id)
			if err != nil || e == nil {
				return nil, false
			}
			return crdt.CardToCrdt(actorID, e), true
		},
		serverCards,
		func(row wire.Card) *model.Card { return wire.CardFromWire(row) },
		func(doc *crdt.Doc) *model.Card { return crdt.CrdtToCard(doc) },
		func(tx *sql.Tx, e *model.Card) error { return store.UpsertCardFromServerTx(tx, e) },
		func(row wire.Card) int { return row.SyncVersion },
	)
	if err != nil {
		return nil, err
	}
	out = append(out, r...)

	return out, nil
}

func wrapErr(err error) error { return err }

func indexByID[T any](rows []T, id func(T) string) map[string]T {
	m := make(map[string]T, len(rows))
	for _, r := range rows {
		m[id(r)] = r
	}
	return m
}

// loadStoredLocalDoc looks up the previously persisted local CRDT binary
// for id, if one was ever stored. Its absence is not an error: callers
// fall back to synthesizing a fresh document from the live local row.
func loadStoredLocalDoc(cs *crdtstore.Store, entityType model.EntityType, id string) (*crdt.Doc, bool) {
	rec, err := cs.Get(entityType, id)
	if err != nil || rec == nil || len(rec.Binary) == 0 {
		return nil, false
	}
	doc, err := crdt.LoadDocument(rec.Binary)
	if err != nil {
		return nil, false
	}
	return doc, true
}

// loadServerDoc locates the optional server-side CRDT binary from
// crdtChanges (keyed by "{entityType}:{entityId}") and decodes it. A
// missing key or malformed base64/binary is reported as absent, not an
// error — the caller falls back to adopting the server row verbatim.
func loadServerDoc(crdtChanges map[string]string, entityType model.EntityType, id string) (*crdt.Doc, bool) {
	encoded, ok := crdtChanges[string(entityType)+":"+id]
	if !ok {
		return nil, false
	}
	binary, err := crdtstore.Base64ToBinary(encoded)
	if err != nil {
		return nil, false
	}
	doc, err := crdt.LoadDocument(binary)
	if err != nil {
		return nil, false
	}
	return doc, true
}

// resolveKind resolves every conflicting id of one entity kind: a row
// present only on the server is adopted as-is, a row present only
// locally is left alone for the next push, and a row present on both
// sides is CRDT-merged when both a local and a server document are
// available, or otherwise settled by adopting the server row verbatim.
//
//   - localExists reports whether a local row exists for id.
//   - loadLocalDoc returns the local CRDT document for id, preferring the
//     previously stored local binary and falling back to synthesizing
//     one from the current local row.
//   - serverRows is the pulled rows of this kind, indexed by id.
//   - serverEntityFrom/fromDoc/upsertTx convert between wire, domain and
//     document forms and write the outcome back to the local store.
func resolveKind[W any, E any](
	st *store.Store,
	ids []string,
	entityType model.EntityType,
	cs *crdtstore.Store,
	actorID string,
	crdtChanges map[string]string,
	localExists func(id string) (bool, error),
	loadLocalDoc func(id string) (*crdt.Doc, bool),
	serverRows map[string]W,
	serverEntityFrom func(W) *E,
	fromDoc func(*crdt.Doc) *E,
	upsertTx func(*sql.Tx, *E) error,
	serverSyncVersion func(W) int,
) ([]Resolution, error) {
	var out []Resolution
	for _, id := range ids {
		hasLocal, err := localExists(id)
		if err != nil {
			return nil, err
		}
		serverRow, hasServer := serverRows[id]

		switch {
		case !hasLocal && !hasServer:
			continue
		case !hasLocal && hasServer:
			entity := serverEntityFrom(serverRow)
			if err := st.Atomic(func(tx *sql.Tx) error { return upsertTx(tx, entity) }); err != nil {
				return nil, err
			}
			out = append(out, Resolution{EntityType: entityType, EntityID: id, Outcome: "server_wins"})
		case hasLocal && !hasServer:
			continue
		default:
			localDoc, haveLocalDoc := loadLocalDoc(id)
			serverDoc, haveServerDoc := loadServerDoc(crdtChanges, entityType, id)
			merged := false
			var finalEntity *E
			if haveLocalDoc && haveServerDoc {
				result := crdt.MergeDocuments(localDoc, serverDoc)
				doc := &crdtstore.Document{
					EntityType:   entityType,
					EntityID:     id,
					Binary:       result.Binary,
					LastSyncedAt: time.Now(),
					SyncVersion:  serverSyncVersion(serverRow),
				}
				if err := cs.Set(doc); err != nil {
					return nil, fmt.Errorf("store merged document: %w", err)
				}
				finalEntity = fromDoc(result.Merged)
				merged = true
			} else {
				finalEntity = serverEntityFrom(serverRow)
			}
			if err := st.Atomic(func(tx *sql.Tx) error { return upsertTx(tx, finalEntity) }); err != nil {
				return nil, err
			}
			out = append(out, Resolution{EntityType: entityType, EntityID: id, Outcome: "server_wins", Merged: merged})
		}
	}
	return out, nil
}
