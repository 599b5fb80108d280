package crdt

import (
	"testing"
)

func TestCreateDocumentStampsMeta(t *testing.T) {
	doc := CreateDocument("actor-1", map[string]any{"id": "d1", "name": "Spanish"}, 1000)
	if doc.Meta.EntityID != "d1" {
		t.Fatalf("entity id = %q, want d1", doc.Meta.EntityID)
	}
	if doc.Meta.LastModified != 1000 {
		t.Fatalf("lastModified = %d, want 1000", doc.Meta.LastModified)
	}
	if doc.Meta.Deleted {
		t.Fatal("new document should not be deleted")
	}
	if doc.Data["name"] != "Spanish" {
		t.Fatalf("data[name] = %v, want Spanish", doc.Data["name"])
	}
}

func TestUpdateDocumentIsPure(t *testing.T) {
	doc := CreateDocument("actor-1", map[string]any{"id": "d1", "name": "Spanish"}, 1000)
	updated := UpdateDocument(doc, func(data map[string]any) map[string]any {
		data["name"] = "French"
		return data
	}, 2000)

	if doc.Data["name"] != "Spanish" {
		t.Fatalf("original document mutated: %v", doc.Data["name"])
	}
	if updated.Data["name"] != "French" {
		t.Fatalf("updated.Data[name] = %v, want French", updated.Data["name"])
	}
	if updated.Meta.LastModified != 2000 {
		t.Fatalf("lastModified = %d, want 2000", updated.Meta.LastModified)
	}
}

func TestMarkDeleted(t *testing.T) {
	doc := CreateDocument("actor-1", map[string]any{"id": "d1"}, 1000)
	deleted := MarkDeleted(doc, 2000)
	if !deleted.Meta.Deleted {
		t.Fatal("expected deleted meta flag")
	}
	if doc.Meta.Deleted {
		t.Fatal("original document mutated")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	doc := CreateDocument("actor-1", map[string]any{"id": "d1", "name": "Spanish"}, 1000)
	doc = UpdateDocument(doc, func(data map[string]any) map[string]any {
		data["name"] = "French"
		return data
	}, 2000)

	b, err := SaveDocument(doc)
	if err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	loaded, err := LoadDocument(b)
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	if loaded.Data["name"] != "French" {
		t.Fatalf("loaded.Data[name] = %v, want French", loaded.Data["name"])
	}
	if loaded.Meta.LastModified != 2000 {
		t.Fatalf("loaded lastModified = %d, want 2000", loaded.Meta.LastModified)
	}
	if len(loaded.changes) != len(doc.changes) {
		t.Fatalf("loaded changes = %d, want %d", len(loaded.changes), len(doc.changes))
	}
}

func TestGetChangesApplyChangesRoundTrip(t *testing.T) {
	base := CreateDocument("actor-1", map[string]any{"id": "d1", "name": "Spanish"}, 1000)
	advanced := UpdateDocument(base, func(data map[string]any) map[string]any {
		data["name"] = "French"
		return data
	}, 2000)

	diff := GetChanges(base, advanced)
	if len(diff) != 1 {
		t.Fatalf("expected 1 new change, got %d", len(diff))
	}

	replayed := ApplyChanges(base, diff)
	if replayed.Data["name"] != "French" {
		t.Fatalf("replayed.Data[name] = %v, want French", replayed.Data["name"])
	}
	if replayed.Meta.LastModified != 2000 {
		t.Fatalf("replayed lastModified = %d, want 2000", replayed.Meta.LastModified)
	}
}

func TestApplyChangesIsIdempotent(t *testing.T) {
	base := CreateDocument("actor-1", map[string]any{"id": "d1", "name": "Spanish"}, 1000)
	advanced := UpdateDocument(base, func(data map[string]any) map[string]any {
		data["name"] = "French"
		return data
	}, 2000)
	diff := GetChanges(base, advanced)

	once := ApplyChanges(base, diff)
	twice := ApplyChanges(once, diff)

	if len(once.changes) != len(twice.changes) {
		t.Fatalf("re-applying known changes grew history: %d -> %d", len(once.changes), len(twice.changes))
	}
	if twice.Data["name"] != "French" {
		t.Fatalf("twice.Data[name] = %v, want French", twice.Data["name"])
	}
}

func TestSaveIncrementalLoadIncremental(t *testing.T) {
	base := CreateDocument("actor-1", map[string]any{"id": "d1", "name": "Spanish"}, 1000)
	advanced := UpdateDocument(base, func(data map[string]any) map[string]any {
		data["name"] = "French"
		return data
	}, 2000)

	incBytes, err := SaveIncremental(advanced)
	if err != nil {
		t.Fatalf("SaveIncremental: %v", err)
	}

	replayed, err := LoadIncremental(base, incBytes)
	if err != nil {
		t.Fatalf("LoadIncremental: %v", err)
	}
	if replayed.Data["name"] != "French" {
		t.Fatalf("replayed.Data[name] = %v, want French", replayed.Data["name"])
	}
}

func TestMergeDocumentsLastWriterWins(t *testing.T) {
	base := CreateDocument("actor-a", map[string]any{"id": "c1", "front": "bonjour", "back": "hello"}, 1000)

	local := UpdateDocument(base, func(data map[string]any) map[string]any {
		data["front"] = "bonjour (local)"
		return data
	}, 2000)
	remote := UpdateDocument(base, func(data map[string]any) map[string]any {
		data["front"] = "bonjour (remote)"
		return data
	}, 3000)

	result := MergeDocuments(local, remote)
	if !result.HasChanges {
		t.Fatal("expected merge to report changes")
	}
	if result.Merged.Data["front"] != "bonjour (remote)" {
		t.Fatalf("front = %v, want bonjour (remote) (later timestamp wins)", result.Merged.Data["front"])
	}
	if result.Merged.Data["back"] != "hello" {
		t.Fatalf("back = %v, want hello (unchanged field preserved)", result.Merged.Data["back"])
	}
}

func TestMergeDocumentsTieBreaksOnActor(t *testing.T) {
	base := CreateDocument("actor-a", map[string]any{"id": "c1", "front": "x"}, 1000)

	local := &Doc{
		Meta:  Meta{EntityID: "c1", LastModified: 2000},
		Data:  map[string]any{"front": "local-value"},
		actor: "actor-aaa",
	}
	local.changes = []change{{Actor: "actor-aaa", Seq: 0, Data: local.Data, Timestamp: 2000}}

	remote := &Doc{
		Meta:  Meta{EntityID: "c1", LastModified: 2000},
		Data:  map[string]any{"front": "remote-value"},
		actor: "actor-zzz",
	}
	remote.changes = []change{{Actor: "actor-zzz", Seq: 0, Data: remote.Data, Timestamp: 2000}}

	result := MergeDocuments(local, remote)
	if result.Merged.Data["front"] != "remote-value" {
		t.Fatalf("front = %v, want remote-value (actor-zzz > actor-aaa breaks the timestamp tie)", result.Merged.Data["front"])
	}
	_ = base
}

func TestMergeDocumentsIsCommutative(t *testing.T) {
	base := CreateDocument("actor-a", map[string]any{"id": "c1", "front": "x", "back": "y"}, 1000)
	local := UpdateDocument(base, func(data map[string]any) map[string]any {
		data["front"] = "local"
		return data
	}, 2000)
	remote := UpdateDocument(base, func(data map[string]any) map[string]any {
		data["back"] = "remote"
		return data
	}, 1500)

	ab := MergeDocuments(local, remote)
	ba := MergeDocuments(remote, local)

	if ab.Merged.Data["front"] != ba.Merged.Data["front"] || ab.Merged.Data["back"] != ba.Merged.Data["back"] {
		t.Fatalf("merge not commutative: ab=%v ba=%v", ab.Merged.Data, ba.Merged.Data)
	}
}

// TestMergeDocumentsIsAssociativeAcrossThreeDocuments exercises the
// scenario where a naive re-derivation of per-field timestamps from a
// merged document's concatenated change history would misattribute a
// field's write to the wrong timestamp on a second merge: A writes x
// at t=200, B writes x at t=10 (nothing else touches x), C writes only
// y at t=300. merge(merge(A,B),C) and merge(A,merge(B,C)) must agree.
func TestMergeDocumentsIsAssociativeAcrossThreeDocuments(t *testing.T) {
	base := CreateDocument("actor-base", map[string]any{"id": "c1", "x": "x0", "y": "y0"}, 0)

	a := UpdateDocument(base, func(data map[string]any) map[string]any {
		data["x"] = "a200"
		return data
	}, 200)
	a.actor = "actor-A"

	b := UpdateDocument(base, func(data map[string]any) map[string]any {
		data["x"] = "b10"
		return data
	}, 10)
	b.actor = "actor-B"

	c := UpdateDocument(base, func(data map[string]any) map[string]any {
		data["y"] = "c300"
		return data
	}, 300)
	c.actor = "actor-C"

	left := MergeDocuments(MergeDocuments(a, b).Merged, c)
	right := MergeDocuments(a, MergeDocuments(b, c).Merged)

	if left.Merged.Data["x"] != right.Merged.Data["x"] {
		t.Fatalf("merge not associative on x: merge(merge(A,B),C)=%v merge(A,merge(B,C))=%v",
			left.Merged.Data["x"], right.Merged.Data["x"])
	}
	if left.Merged.Data["y"] != right.Merged.Data["y"] {
		t.Fatalf("merge not associative on y: merge(merge(A,B),C)=%v merge(A,merge(B,C))=%v",
			left.Merged.Data["y"], right.Merged.Data["y"])
	}
	if left.Merged.Data["x"] != "a200" {
		t.Fatalf("x = %v, want a200 (timestamp 200 beats 10 regardless of merge order)", left.Merged.Data["x"])
	}
	if left.Merged.Data["y"] != "c300" {
		t.Fatalf("y = %v, want c300", left.Merged.Data["y"])
	}
}

func TestMergeDocumentsFieldProvenanceSurvivesSaveLoad(t *testing.T) {
	base := CreateDocument("actor-base", map[string]any{"id": "c1", "x": "x0", "y": "y0"}, 0)
	a := UpdateDocument(base, func(data map[string]any) map[string]any {
		data["x"] = "a200"
		return data
	}, 200)
	b := UpdateDocument(base, func(data map[string]any) map[string]any {
		data["x"] = "b10"
		return data
	}, 10)
	b.actor = "actor-B"

	merged := MergeDocuments(a, b).Merged
	binary, err := SaveDocument(merged)
	if err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	loaded, err := LoadDocument(binary)
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}

	c := UpdateDocument(base, func(data map[string]any) map[string]any {
		data["y"] = "c300"
		return data
	}, 300)
	c.actor = "actor-C"

	result := MergeDocuments(loaded, c)
	if result.Merged.Data["x"] != "a200" {
		t.Fatalf("x = %v, want a200 (field provenance must survive a save/load round trip)", result.Merged.Data["x"])
	}
}

func TestMergeDocumentsIsIdempotent(t *testing.T) {
	base := CreateDocument("actor-a", map[string]any{"id": "c1", "front": "x"}, 1000)
	remote := UpdateDocument(base, func(data map[string]any) map[string]any {
		data["front"] = "remote"
		return data
	}, 2000)

	once := MergeDocuments(base, remote)
	twice := MergeDocuments(once.Merged, remote)

	if once.Merged.Data["front"] != twice.Merged.Data["front"] {
		t.Fatalf("merge not idempotent: once=%v twice=%v", once.Merged.Data["front"], twice.Merged.Data["front"])
	}
}

func TestHasConflictsDetectsConcurrentEdits(t *testing.T) {
	base := CreateDocument("actor-a", map[string]any{"id": "c1", "front": "x"}, 1000)
	local := UpdateDocument(base, func(data map[string]any) map[string]any {
		data["front"] = "local"
		return data
	}, 2000)
	remote := UpdateDocument(base, func(data map[string]any) map[string]any {
		data["front"] = "remote"
		return data
	}, 2000)

	if !HasConflicts(local, remote) {
		t.Fatal("expected concurrent divergent edits to be flagged as conflicting")
	}
}

func TestHasConflictsFalseWhenOneIsAncestorOfOther(t *testing.T) {
	base := CreateDocument("actor-a", map[string]any{"id": "c1", "front": "x"}, 1000)
	advanced := UpdateDocument(base, func(data map[string]any) map[string]any {
		data["front"] = "y"
		return data
	}, 2000)

	if HasConflicts(base, advanced) {
		t.Fatal("a strict history extension should not be reported as a conflict")
	}
}

func TestGetLastModifiedAndIsDeleted(t *testing.T) {
	doc := CreateDocument("actor-a", map[string]any{"id": "c1"}, 1234)
	if GetLastModified(doc) != 1234 {
		t.Fatalf("GetLastModified = %d, want 1234", GetLastModified(doc))
	}
	if IsDeleted(doc) {
		t.Fatal("new document should not be deleted")
	}
	deleted := MarkDeleted(doc, 5678)
	if !IsDeleted(deleted) {
		t.Fatal("expected IsDeleted true after MarkDeleted")
	}
}
