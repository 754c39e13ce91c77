package storage

import (
	"bytes"
	"testing"
)

func testBatcher(t *testing.T, db DB) {
	t.Helper()
	batcher, ok := db.(Batcher)
	if !ok {
		t.Fatal("DB does not implement Batcher")
	}

	db.Put([]byte("keep"), []byte("original"))
	db.Put([]byte("remove"), []byte("gone-soon"))

	b := batcher.NewBatch()
	if err := b.Put([]byte("new"), []byte("v1")); err != nil {
		t.Fatalf("batch Put: %v", err)
	}
	if err := b.Put([]byte("keep"), []byte("overwritten")); err != nil {
		t.Fatalf("batch Put overwrite: %v", err)
	}
	if err := b.Delete([]byte("remove")); err != nil {
		t.Fatalf("batch Delete: %v", err)
	}

	// Commit not yet called: DB state should be untouched.
	if _, err := db.Get([]byte("new")); err == nil {
		t.Fatal("uncommitted batch write is already visible")
	}

	if err := b.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := db.Get([]byte("new"))
	if err != nil || !bytes.Equal(got, []byte("v1")) {
		t.Fatalf("Get(new) = %q, %v", got, err)
	}
	got, err = db.Get([]byte("keep"))
	if err != nil || !bytes.Equal(got, []byte("overwritten")) {
		t.Fatalf("Get(keep) = %q, %v", got, err)
	}
	if ok, _ := db.Has([]byte("remove")); ok {
		t.Fatal("remove key still present after committed batch delete")
	}
}

func TestMemoryDBBatch(t *testing.T) {
	db := NewMemory()
	defer db.Close()
	testBatcher(t, db)
}

func TestBadgerDBBatch(t *testing.T) {
	dir := t.TempDir()
	db, err := NewBadger(dir)
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	defer db.Close()
	testBatcher(t, db)
}

func TestPrefixDBBatchDelegatesToInnerBatcher(t *testing.T) {
	inner := NewMemory()
	db := NewPrefixDB(inner, []byte("ns/"))

	b := db.NewBatch()
	if err := b.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := b.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := inner.Get([]byte("ns/k"))
	if err != nil || !bytes.Equal(got, []byte("v")) {
		t.Fatalf("inner.Get = %q, %v", got, err)
	}
}

func TestPrefixDBBatchFallsBackWithoutBatcher(t *testing.T) {
	// A DB type that embeds MemoryDB (so it satisfies DB) but whose
	// PrefixDB wrapper is built over a plain DB interface value lacking
	// the Batcher type assertion, i.e. the fallback path, is exercised
	// by wrapping the plain interface type rather than the concrete one.
	var inner DB = struct{ DB }{NewMemory()}
	db := NewPrefixDB(inner, []byte("fb/"))

	b := db.NewBatch()
	if err := b.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := b.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	got, err := inner.Get([]byte("fb/k"))
	if err != nil || !bytes.Equal(got, []byte("v")) {
		t.Fatalf("Get = %q, %v", got, err)
	}
}
