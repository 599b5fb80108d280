// Package crdt implements the per-entity CRDT document layer: a minimal
// {meta,data} envelope with scalar last-writer-wins merge semantics,
// binary encoding via msgpack, and the actor identity every document
// is stamped with at creation.
package crdt

import (
	"bytes"
	"fmt"

	"github.com/hashicorp/go-msgpack/v2/codec"
)

// Meta is the envelope metadata every CRDT document carries.
type Meta struct {
	EntityID     string `codec:"entityId"`
	LastModified int64  `codec:"lastModified"` // epoch milliseconds
	Deleted      bool   `codec:"deleted"`
}

// change is one recorded write, holding the full data snapshot the document
// had after it; used to derive hasConflicts and to support incremental
// save/load and getChanges/applyChanges.
type change struct {
	Actor     string         `codec:"actor"`
	Seq       int            `codec:"seq"`
	Data      map[string]any `codec:"data"`
	Timestamp int64          `codec:"timestamp"`
}

// Doc is an immutable CRDT document handle. Every mutating operation
// (updateDocument, applyChanges, mergeDocuments) returns a new Doc rather
// than mutating in place.
type Doc struct {
	Meta    Meta
	Data    map[string]any
	actor   string
	changes []change
	fields  map[string]fieldWrite
}

// wireDoc is the msgpack-serializable form of Doc.
type wireDoc struct {
	Meta    Meta                  `codec:"meta"`
	Data    map[string]any        `codec:"data"`
	Actor   string                `codec:"actor"`
	Changes []change              `codec:"changes"`
	Fields  map[string]fieldWrite `codec:"fields"`
}

func cloneFieldWrites(m map[string]fieldWrite) map[string]fieldWrite {
	out := make(map[string]fieldWrite, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var mh = func() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	// Decode msgpack strings held in interface values as Go strings, not
	// []byte, so string fields of a loaded document compare and convert
	// like the ones it was saved with.
	h.RawToString = true
	return h
}()

// CreateDocument initializes a fresh CRDT document from a plain data
// record, stamped with the given actor identity.
func CreateDocument(actor string, data map[string]any, lastModifiedMillis int64) *Doc {
	d := &Doc{
		Meta: Meta{
			EntityID:     fmt.Sprint(data["id"]),
			LastModified: lastModifiedMillis,
			Deleted:      false,
		},
		Data:  cloneMap(data),
		actor: actor,
	}
	d.changes = []change{{
		Actor:     actor,
		Seq:       0,
		Data:      cloneMap(data),
		Timestamp: lastModifiedMillis,
	}}
	fields := make(map[string]fieldWrite, len(data))
	for k, v := range data {
		fields[k] = fieldWrite{Value: v, Timestamp: lastModifiedMillis, Actor: actor}
	}
	d.fields = fields
	return d
}

// UpdateDocument applies mutator to a copy of doc's data inside a new
// change record, and returns a new immutable handle. mutator must be pure:
// it receives a copy of the current data and returns the next full data
// snapshot.
func UpdateDocument(doc *Doc, mutator func(map[string]any) map[string]any, lastModifiedMillis int64) *Doc {
	next := mutator(cloneMap(doc.Data))
	fields := cloneFieldWrites(doc.fields)
	for k, v := range next {
		if old, ok := doc.Data[k]; !ok || !equalValue(old, v) {
			fields[k] = fieldWrite{Value: v, Timestamp: lastModifiedMillis, Actor: doc.actor}
		}
	}
	out := &Doc{
		Meta: Meta{
			EntityID:     doc.Meta.EntityID,
			LastModified: lastModifiedMillis,
			Deleted:      doc.Meta.Deleted,
		},
		Data:    next,
		actor:   doc.actor,
		changes: append(append([]change{}, doc.changes...), change{Actor: doc.actor, Seq: len(doc.changes), Data: cloneMap(next), Timestamp: lastModifiedMillis}),
		fields:  fields,
	}
	return out
}

// MarkDeleted returns a copy of doc with meta.deleted set. Field write
// provenance is untouched — deletion is a document-level flag, not a
// field write.
func MarkDeleted(doc *Doc, lastModifiedMillis int64) *Doc {
	out := *doc
	out.Meta.Deleted = true
	out.Meta.LastModified = lastModifiedMillis
	out.changes = append(append([]change{}, doc.changes...), change{Actor: doc.actor, Seq: len(doc.changes), Data: cloneMap(doc.Data), Timestamp: lastModifiedMillis})
	out.fields = cloneFieldWrites(doc.fields)
	return &out
}

// SaveDocument fully serializes doc to its binary form.
func SaveDocument(doc *Doc) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, mh)
	w := wireDoc{Meta: doc.Meta, Data: doc.Data, Actor: doc.actor, Changes: doc.changes, Fields: doc.fields}
	if err := enc.Encode(&w); err != nil {
		return nil, fmt.Errorf("encode crdt document: %w", err)
	}
	return buf.Bytes(), nil
}

// LoadDocument deserializes a full document binary.
func LoadDocument(b []byte) (*Doc, error) {
	var w wireDoc
	dec := codec.NewDecoder(bytes.NewReader(b), mh)
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("decode crdt document: %w", err)
	}
	return &Doc{Meta: w.Meta, Data: w.Data, actor: w.Actor, changes: w.Changes, fields: w.Fields}, nil
}

// SaveIncremental serializes only the changes recorded since the document
// was first created or last compacted.
func SaveIncremental(doc *Doc) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, mh)
	if err := enc.Encode(&doc.changes); err != nil {
		return nil, fmt.Errorf("encode crdt changes: %w", err)
	}
	return buf.Bytes(), nil
}

// LoadIncremental replays a serialized change set onto doc, returning a
// new handle with those changes appended and its data advanced to the
// final change's snapshot.
func LoadIncremental(doc *Doc, b []byte) (*Doc, error) {
	var incoming []change
	dec := codec.NewDecoder(bytes.NewReader(b), mh)
	if err := dec.Decode(&incoming); err != nil {
		return nil, fmt.Errorf("decode crdt changes: %w", err)
	}
	boxed := make([]any, len(incoming))
	for i, c := range incoming {
		boxed[i] = c
	}
	return ApplyChanges(doc, boxed), nil
}

// GetChanges returns the changes present in newDoc but not in oldDoc,
// identified by sequence number.
func GetChanges(oldDoc, newDoc *Doc) []any {
	out := make([]any, 0, len(newDoc.changes))
	for _, c := range newDoc.changes[minInt(len(oldDoc.changes), len(newDoc.changes)):] {
		out = append(out, c)
	}
	return out
}

// ApplyChanges appends a set of changes (as produced by GetChanges or
// decoded from LoadIncremental) to doc, advancing Data and Meta to the
// final change's snapshot. Changes already present (by Seq) are skipped,
// which is what makes this operation idempotent.
func ApplyChanges(doc *Doc, changes []any) *Doc {
	out := *doc
	out.changes = append([]change{}, doc.changes...)
	out.fields = cloneFieldWrites(doc.fields)
	for _, raw := range changes {
		c, ok := raw.(change)
		if !ok {
			continue
		}
		if c.Seq < len(out.changes) {
			continue
		}
		for k, v := range c.Data {
			if old, ok := out.Data[k]; !ok || !equalValue(old, v) {
				out.fields[k] = fieldWrite{Value: v, Timestamp: c.Timestamp, Actor: c.Actor}
			}
		}
		out.changes = append(out.changes, c)
		out.Data = cloneMap(c.Data)
		out.Meta.LastModified = c.Timestamp
	}
	return &out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
