// Package migration is the one-time CRDT seeder: it walks every local
// row across all seven entity tables and materializes its CRDT document
// binary into the CRDT sync state, so a client that accumulated rows
// before this sync core existed gets a consistent starting point.
package migration

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/marcus/cardsync/internal/crdt"
	"github.com/marcus/cardsync/internal/crdtstore"
	"github.com/marcus/cardsync/internal/model"
	"github.com/marcus/cardsync/internal/store"
)

// MigrationVersion is bumped whenever the CRDT document shape changes in
// a way that requires every row to be re-seeded.
const MigrationVersion = 1

// DefaultBatchSize is the offset/limit window size runMigrationWithBatching
// uses when the caller doesn't specify one.
const DefaultBatchSize = 200

// Result is what runMigration/runMigrationWithBatching return.
type Result struct {
	WasRun bool
	Status *crdtstore.MigrationStatus
	Err    error
}

// Progress is emitted once per batch by runMigrationWithBatching's
// onProgress callback.
type Progress struct {
	EntityType model.EntityType
	Current    int // rows processed for this entity type so far
	Total      int // total rows for this entity type
	Processed  int // rows processed across all entity types so far
	Percentage float64
}

// Migrator owns the local store and CRDT sync state store the migration
// walks.
type Migrator struct {
	st  *store.Store
	cs  *crdtstore.Store
	now func() time.Time
}

// New builds a Migrator over the given local store and CRDT sync state
// store.
func New(st *store.Store, cs *crdtstore.Store) *Migrator {
	return &Migrator{st: st, cs: cs, now: time.Now}
}

// IsMigrationCompleted reports whether the stored migration version is at
// least MigrationVersion.
func (m *Migrator) IsMigrationCompleted() (bool, error) {
	status, err := m.cs.GetMigrationStatus()
	if err != nil {
		return false, err
	}
	return status != nil && status.Version >= MigrationVersion, nil
}

// RunMigration performs the one-shot, unbatched walk: every row of every
// table is loaded in full, converted and bulk-put in a single pass.
func (m *Migrator) RunMigration(actorID string) Result {
	done, err := m.IsMigrationCompleted()
	if err != nil {
		return Result{WasRun: false, Err: err}
	}
	if done {
		status, err := m.cs.GetMigrationStatus()
		if err != nil {
			return Result{WasRun: false, Err: err}
		}
		return Result{WasRun: false, Status: status}
	}

	counts := make(map[model.EntityType]int)
	var docs []*crdtstore.Document

	for _, et := range model.DependencyOrder {
		rows, err := m.loadAll(et, actorID)
		if err != nil {
			return Result{WasRun: true, Err: fmt.Errorf("load %s rows: %w", et, err)}
		}
		for _, d := range rows {
			docs = append(docs, d)
		}
		counts[et] = len(rows)
	}

	if err := m.cs.BulkPut(docs); err != nil {
		return Result{WasRun: true, Err: fmt.Errorf("bulk put migrated documents: %w", err)}
	}

	status := &crdtstore.MigrationStatus{Version: MigrationVersion, CompletedAt: m.now(), Counts: counts}
	if err := m.cs.SetMigrationStatus(status); err != nil {
		return Result{WasRun: true, Err: fmt.Errorf("write migration status: %w", err)}
	}
	slog.Info("crdt migration completed", "version", MigrationVersion, "counts", counts)
	return Result{WasRun: true, Status: status}
}

// RunMigrationWithBatching performs the same migration as RunMigration,
// but walks each entity table in offset/limit windows of batchSize rows,
// bulk-putting per batch and invoking onProgress after each one. A
// batchSize <= 0 falls back to DefaultBatchSize.
func (m *Migrator) RunMigrationWithBatching(actorID string, batchSize int, onProgress func(Progress)) Result {
	done, err := m.IsMigrationCompleted()
	if err != nil {
		return Result{WasRun: false, Err: err}
	}
	if done {
		status, err := m.cs.GetMigrationStatus()
		if err != nil {
			return Result{WasRun: false, Err: err}
		}
		return Result{WasRun: false, Status: status}
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	totals := make(map[model.EntityType]int)
	for _, et := range model.DependencyOrder {
		n, err := m.countRows(et)
		if err != nil {
			return Result{WasRun: true, Err: fmt.Errorf("count %s rows: %w", et, err)}
		}
		totals[et] = n
	}
	grandTotal := 0
	for _, n := range totals {
		grandTotal += n
	}

	counts := make(map[model.EntityType]int)
	processed := 0

	for _, et := range model.DependencyOrder {
		total := totals[et]
		for offset := 0; offset < total; offset += batchSize {
			batch, err := m.loadPage(et, offset, batchSize, actorID)
			if err != nil {
				return Result{WasRun: true, Err: fmt.Errorf("load %s page at %d: %w", et, offset, err)}
			}
			if err := m.cs.BulkPut(batch); err != nil {
				return Result{WasRun: true, Err: fmt.Errorf("bulk put %s batch: %w", et, err)}
			}
			counts[et] += len(batch)
			processed += len(batch)

			if onProgress != nil {
				pct := 0.0
				if grandTotal > 0 {
					pct = float64(processed) / float64(grandTotal) * 100
				}
				onProgress(Progress{
					EntityType: et,
					Current:    counts[et],
					Total:      total,
					Processed:  processed,
					Percentage: pct,
				})
			}
		}
		if total == 0 {
			counts[et] = 0
		}
	}

	status := &crdtstore.MigrationStatus{Version: MigrationVersion, CompletedAt: m.now(), Counts: counts}
	if err := m.cs.SetMigrationStatus(status); err != nil {
		return Result{WasRun: true, Err: fmt.Errorf("write migration status: %w", err)}
	}
	slog.Info("crdt migration completed", "version", MigrationVersion, "counts", counts, "batchSize", batchSize)
	return Result{WasRun: true, Status: status}
}

// ResetMigration clears the persisted migration status record so the
// next RunMigration/RunMigrationWithBatching call starts over. Dev/test
// only.
func (m *Migrator) ResetMigration() error {
	return m.cs.ClearMigrationStatus()
}

// ClearAllCrdtState wipes every stored CRDT document in addition to the
// migration status record. Dev/test only.
func (m *Migrator) ClearAllCrdtState() error {
	if err := m.cs.Clear(); err != nil {
		return err
	}
	return m.cs.ClearMigrationStatus()
}

// countRows returns the row count for one entity type's table.
func (m *Migrator) countRows(et model.EntityType) (int, error) {
	switch et {
	case model.EntityNoteType:
		return m.st.CountNoteTypes()
	case model.EntityNoteFieldType:
		return m.st.CountNoteFieldTypes()
	case model.EntityDeck:
		return m.st.CountDecks()
	case model.EntityNote:
		return m.st.CountNotes()
	case model.EntityNoteFieldValue:
		return m.st.CountNoteFieldValues()
	case model.EntityCard:
		return m.st.CountCards()
	case model.EntityReviewLog:
		return m.st.CountReviewLogs()
	default:
		return 0, fmt.Errorf("unknown entity type %q", et)
	}
}

// loadAll loads every row of one entity type's table and converts it to
// a CRDT document, carrying the row's current syncVersion.
func (m *Migrator) loadAll(et model.EntityType, actorID string) ([]*crdtstore.Document, error) {
	n, err := m.countRows(et)
	if err != nil {
		return nil, err
	}
	return m.loadPage(et, 0, n+1, actorID)
}

// loadPage loads one offset/limit window of one entity type's table and
// converts each row to a CRDT document.
func (m *Migrator) loadPage(et model.EntityType, offset, limit int, actorID string) ([]*crdtstore.Document, error) {
	now := m.now()

	switch et {
	case model.EntityNoteType:
		rows, err := m.st.FindNoteTypesPage(offset, limit)
		if err != nil {
			return nil, err
		}
		out := make([]*crdtstore.Document, 0, len(rows))
		for _, e := range rows {
			d, err := docFor(model.EntityNoteType, e.ID, crdt.NoteTypeToCrdt(actorID, e), e.SyncVersion, now)
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
		return out, nil
	case model.EntityNoteFieldType:
		rows, err := m.st.FindNoteFieldTypesPage(offset, limit)
		if err != nil {
			return nil, err
		}
		out := make([]*crdtstore.Document, 0, len(rows))
		for _, e := range rows {
			d, err := docFor(model.EntityNoteFieldType, e.ID, crdt.NoteFieldTypeToCrdt(actorID, e), e.SyncVersion, now)
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
		return out, nil
	case model.EntityDeck:
		rows, err := m.st.FindDecksPage(offset, limit)
		if err != nil {
			return nil, err
		}
		out := make([]*crdtstore.Document, 0, len(rows))
		for _, e := range rows {
			d, err := docFor(model.EntityDeck, e.ID, crdt.DeckToCrdt(actorID, e), e.SyncVersion, now)
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
		return out, nil
	case model.EntityNote:
		rows, err := m.st.FindNotesPage(offset, limit)
		if err != nil {
			return nil, err
		}
		out := make([]*crdtstore.Document, 0, len(rows))
		for _, e := range rows {
			d, err := docFor(model.EntityNote, e.ID, crdt.NoteToCrdt(actorID, e), e.SyncVersion, now)
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
		return out, nil
	case model.EntityNoteFieldValue:
		rows, err := m.st.FindNoteFieldValuesPage(offset, limit)
		if err != nil {
			return nil, err
		}
		out := make([]*crdtstore.Document, 0, len(rows))
		for _, e := range rows {
			d, err := docFor(model.EntityNoteFieldValue, e.ID, crdt.NoteFieldValueToCrdt(actorID, e), e.SyncVersion, now)
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
		return out, nil
	case model.EntityCard:
		rows, err := m.st.FindCardsPage(offset, limit)
		if err != nil {
			return nil, err
		}
		out := make([]*crdtstore.Document, 0, len(rows))
		for _, e := range rows {
			d, err := docFor(model.EntityCard, e.ID, crdt.CardToCrdt(actorID, e), e.SyncVersion, now)
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
		return out, nil
	case model.EntityReviewLog:
		rows, err := m.st.FindReviewLogsPage(offset, limit)
		if err != nil {
			return nil, err
		}
		out := make([]*crdtstore.Document, 0, len(rows))
		for _, e := range rows {
			d, err := docFor(model.EntityReviewLog, e.ID, crdt.ReviewLogToCrdt(actorID, e), e.SyncVersion, now)
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown entity type %q", et)
	}
}

func docFor(et model.EntityType, id string, doc *crdt.Doc, syncVersion int, now time.Time) (*crdtstore.Document, error) {
	bin, err := crdt.SaveDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("encode %s document %s: %w", et, id, err)
	}
	return &crdtstore.Document{
		EntityType:   et,
		EntityID:     id,
		Binary:       bin,
		LastSyncedAt: now,
		SyncVersion:  syncVersion,
	}, nil
}
