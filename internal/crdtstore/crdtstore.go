// Package crdtstore is the CRDT sync state store: a persistent
// (entityType, entityId) -> CRDT binary map, plus the singleton sync
// metadata record (last-sync timestamp, sync-version watermark, actor
// identity) and the one-time migration status record.
package crdtstore

import (
	"database/sql"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/marcus/cardsync/internal/model"
	"github.com/marcus/cardsync/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS crdt_document (
	document_id    TEXT PRIMARY KEY,
	entity_type    TEXT NOT NULL,
	entity_id      TEXT NOT NULL,
	binary         BLOB NOT NULL,
	last_synced_at TEXT NOT NULL,
	sync_version   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_crdt_document_entity_type ON crdt_document(entity_type);

CREATE TABLE IF NOT EXISTS crdt_metadata (
	key                   TEXT PRIMARY KEY,
	last_sync_at          TEXT,
	sync_version_watermark INTEGER NOT NULL DEFAULT 0,
	actor_id              TEXT,
	migration_version     INTEGER NOT NULL DEFAULT 0,
	migration_completed_at TEXT,
	migration_counts      TEXT
);
`

const metadataKey = "sync-metadata"

// Document is one persisted CRDT binary and its sync bookkeeping.
type Document struct {
	EntityType   model.EntityType
	EntityID     string
	Binary       []byte
	LastSyncedAt time.Time
	SyncVersion  int
}

// Metadata is the singleton sync-state record.
type Metadata struct {
	LastSyncAt          *time.Time
	SyncVersionWatermark int
	ActorID             string
}

// MigrationStatus is the one-time CRDT migration status record.
type MigrationStatus struct {
	Version     int
	CompletedAt time.Time
	Counts      map[model.EntityType]int
}

// CrdtSyncPayload is the wire form of one CRDT document, base64-encoded
// for transport.
type CrdtSyncPayload struct {
	DocumentID string `json:"documentId"`
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	Binary     string `json:"binary"`
}

// Store wraps the local store's connection to add the CRDT tables.
type Store struct {
	st *store.Store
}

// Open ensures the CRDT tables exist on the given local store and returns
// a Store over them. The CRDT sync state lives in the same SQLite file as
// the entity tables so that bulk-put/bulk-delete can share the local
// store's write lock and transaction (bulk-put and bulk-delete each run
// in a single transaction).
func Open(st *store.Store) (*Store, error) {
	if _, err := st.Conn().Exec(schema); err != nil {
		return nil, fmt.Errorf("create crdt schema: %w", err)
	}
	return &Store{st: st}, nil
}

func documentID(entityType model.EntityType, entityID string) string {
	return string(entityType) + ":" + entityID
}

// Get returns the document for (entityType, entityId), or nil if absent.
func (s *Store) Get(entityType model.EntityType, entityID string) (*Document, error) {
	row := s.st.Conn().QueryRow(`
		SELECT entity_type, entity_id, binary, last_synced_at, sync_version
		FROM crdt_document WHERE document_id = ?
	`, documentID(entityType, entityID))
	return scanDocument(row)
}

// Has reports whether a document exists for (entityType, entityId).
func (s *Store) Has(entityType model.EntityType, entityID string) (bool, error) {
	var n int
	err := s.st.Conn().QueryRow(`SELECT COUNT(1) FROM crdt_document WHERE document_id = ?`, documentID(entityType, entityID)).Scan(&n)
	return n > 0, err
}

func scanDocument(row interface{ Scan(...any) error }) (*Document, error) {
	var d Document
	var entityType, lastSyncedAt string
	err := row.Scan(&entityType, &d.EntityID, &d.Binary, &lastSyncedAt, &d.SyncVersion)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d.EntityType = model.EntityType(entityType)
	d.LastSyncedAt = parseTime(lastSyncedAt)
	return &d, nil
}

// Set stores (or overwrites) the document for (entityType, entityId).
func (s *Store) Set(d *Document) error {
	return s.set(s.st.Conn(), d)
}

func (s *Store) set(exec execer, d *Document) error {
	_, err := exec.Exec(`
		INSERT INTO crdt_document (document_id, entity_type, entity_id, binary, last_synced_at, sync_version)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			binary = excluded.binary, last_synced_at = excluded.last_synced_at, sync_version = excluded.sync_version
	`, documentID(d.EntityType, d.EntityID), string(d.EntityType), d.EntityID, d.Binary, formatTime(d.LastSyncedAt), d.SyncVersion)
	return err
}

// Delete removes the document for (entityType, entityId). A no-op if absent.
func (s *Store) Delete(entityType model.EntityType, entityID string) error {
	_, err := s.st.Conn().Exec(`DELETE FROM crdt_document WHERE document_id = ?`, documentID(entityType, entityID))
	return err
}

// ListByType returns every document of a given entity type.
func (s *Store) ListByType(entityType model.EntityType) ([]*Document, error) {
	rows, err := s.st.Conn().Query(`
		SELECT entity_type, entity_id, binary, last_synced_at, sync_version
		FROM crdt_document WHERE entity_type = ?
	`, string(entityType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountByType returns the number of documents of a given entity type.
func (s *Store) CountByType(entityType model.EntityType) (int, error) {
	var n int
	err := s.st.Conn().QueryRow(`SELECT COUNT(1) FROM crdt_document WHERE entity_type = ?`, string(entityType)).Scan(&n)
	return n, err
}

// CountTotal returns the total number of documents stored.
func (s *Store) CountTotal() (int, error) {
	var n int
	err := s.st.Conn().QueryRow(`SELECT COUNT(1) FROM crdt_document`).Scan(&n)
	return n, err
}

// DeleteByType removes every document of a given entity type.
func (s *Store) DeleteByType(entityType model.EntityType) error {
	_, err := s.st.Conn().Exec(`DELETE FROM crdt_document WHERE entity_type = ?`, string(entityType))
	return err
}

// BulkPut stores many documents in a single transaction.
func (s *Store) BulkPut(docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}
	return s.st.Atomic(func(tx *sql.Tx) error {
		for _, d := range docs {
			if err := s.set(tx, d); err != nil {
				return err
			}
		}
		return nil
	})
}

// BulkDelete removes many documents in a single transaction.
func (s *Store) BulkDelete(keys []struct {
	EntityType model.EntityType
	EntityID   string
}) error {
	if len(keys) == 0 {
		return nil
	}
	return s.st.Atomic(func(tx *sql.Tx) error {
		for _, k := range keys {
			if _, err := tx.Exec(`DELETE FROM crdt_document WHERE document_id = ?`, documentID(k.EntityType, k.EntityID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// SyncedSince returns every document whose LastSyncedAt is at or after t.
func (s *Store) SyncedSince(t time.Time) ([]*Document, error) {
	rows, err := s.st.Conn().Query(`
		SELECT entity_type, entity_id, binary, last_synced_at, sync_version
		FROM crdt_document WHERE last_synced_at >= ?
	`, formatTime(t))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Clear removes every stored CRDT document. Used by migration reset and
// tests only.
func (s *Store) Clear() error {
	_, err := s.st.Conn().Exec(`DELETE FROM crdt_document`)
	return err
}

// GetMetadata reads the singleton sync metadata record. Missing or
// corrupt fields default to zero values, matching the
// partial-update contract.
func (s *Store) GetMetadata() (*Metadata, error) {
	var lastSyncAt sql.NullString
	var watermark int
	var actorID sql.NullString
	err := s.st.Conn().QueryRow(`
		SELECT last_sync_at, sync_version_watermark, actor_id FROM crdt_metadata WHERE key = ?
	`, metadataKey).Scan(&lastSyncAt, &watermark, &actorID)
	if err == sql.ErrNoRows {
		return &Metadata{}, nil
	}
	if err != nil {
		return nil, err
	}
	m := &Metadata{SyncVersionWatermark: watermark, ActorID: actorID.String}
	if lastSyncAt.Valid {
		t := parseTime(lastSyncAt.String)
		m.LastSyncAt = &t
	}
	return m, nil
}

// SetMetadata partially updates the singleton sync metadata record: a nil
// LastSyncAt, a zero watermark and an empty actor id preserve their
// existing values (ResetSyncState is what zeroes the watermark).
func (s *Store) SetMetadata(patch *Metadata) error {
	current, err := s.GetMetadata()
	if err != nil {
		return err
	}
	if patch.LastSyncAt != nil {
		current.LastSyncAt = patch.LastSyncAt
	}
	if patch.SyncVersionWatermark != 0 {
		current.SyncVersionWatermark = patch.SyncVersionWatermark
	}
	if patch.ActorID != "" {
		current.ActorID = patch.ActorID
	}

	var lastSyncAt sql.NullString
	if current.LastSyncAt != nil {
		lastSyncAt = sql.NullString{String: formatTime(*current.LastSyncAt), Valid: true}
	}

	_, err = s.st.Conn().Exec(`
		INSERT INTO crdt_metadata (key, last_sync_at, sync_version_watermark, actor_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			last_sync_at = excluded.last_sync_at,
			sync_version_watermark = excluded.sync_version_watermark,
			actor_id = excluded.actor_id
	`, metadataKey, lastSyncAt, current.SyncVersionWatermark, current.ActorID)
	return err
}

// GetMigrationStatus reads the one-time CRDT migration status record.
// It returns nil ("migration not yet run") when there is no record or its
// version is 0; an existing record is returned even when its counts are
// absent or cannot be parsed.
func (s *Store) GetMigrationStatus() (*MigrationStatus, error) {
	var version int
	var completedAt sql.NullString
	var counts sql.NullString
	err := s.st.Conn().QueryRow(`
		SELECT migration_version, migration_completed_at, migration_counts FROM crdt_metadata WHERE key = ?
	`, metadataKey).Scan(&version, &completedAt, &counts)
	if err == sql.ErrNoRows || version == 0 {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	status := &MigrationStatus{Version: version, Counts: make(map[model.EntityType]int)}
	if completedAt.Valid {
		status.CompletedAt = parseTime(completedAt.String)
	}
	if counts.Valid {
		status.Counts = decodeCounts(counts.String)
	}
	return status, nil
}

// SetMigrationStatus writes the migration status record on successful
// completion. A failed migration must never call this: on error, status
// is not written, so the next attempt starts from scratch.
func (s *Store) SetMigrationStatus(status *MigrationStatus) error {
	_, err := s.st.Conn().Exec(`
		INSERT INTO crdt_metadata (key, migration_version, migration_completed_at, migration_counts)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			migration_version = excluded.migration_version,
			migration_completed_at = excluded.migration_completed_at,
			migration_counts = excluded.migration_counts
	`, metadataKey, status.Version, formatTime(status.CompletedAt), encodeCounts(status.Counts))
	return err
}

// ResetSyncState zeroes the persisted watermark and last-sync timestamp,
// leaving the actor id untouched. Used at logout and for debug resets:
// the watermark and last-sync timestamp are cleared, but the
// actor identity survives.
func (s *Store) ResetSyncState() error {
	_, err := s.st.Conn().Exec(`
		UPDATE crdt_metadata SET last_sync_at = NULL, sync_version_watermark = 0 WHERE key = ?
	`, metadataKey)
	return err
}

// ClearMigrationStatus resets the migration status record. Dev/test only.
func (s *Store) ClearMigrationStatus() error {
	_, err := s.st.Conn().Exec(`
		UPDATE crdt_metadata SET migration_version = 0, migration_completed_at = NULL, migration_counts = NULL WHERE key = ?
	`, metadataKey)
	return err
}

func encodeCounts(counts map[model.EntityType]int) string {
	var b []byte
	first := true
	for _, et := range model.DependencyOrder {
		if !first {
			b = append(b, ',')
		}
		first = false
		b = append(b, []byte(fmt.Sprintf("%s=%d", et, counts[et]))...)
	}
	return string(b)
}

func decodeCounts(s string) map[model.EntityType]int {
	out := make(map[model.EntityType]int)
	if s == "" {
		return out
	}
	pair := ""
	for _, r := range s + "," {
		if r == ',' {
			eq := -1
			for i, c := range pair {
				if c == '=' {
					eq = i
					break
				}
			}
			if eq >= 0 {
				var n int
				fmt.Sscanf(pair[eq+1:], "%d", &n)
				out[model.EntityType(pair[:eq])] = n
			}
			pair = ""
			continue
		}
		pair += string(r)
	}
	return out
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// BinaryToBase64 encodes a CRDT document binary for transport.
func BinaryToBase64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

// Base64ToBinary decodes a transport-encoded CRDT document binary.
// Malformed input is reported, not panicked on — the resolver treats it
// the same as an absent binary.
func Base64ToBinary(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
