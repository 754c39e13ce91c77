package storage

import "testing"

func TestFixedKVRejectsOversizedPut(t *testing.T) {
	db := NewFixedKV(NewMemory(), 4)
	if err := db.Put([]byte("k"), []byte("1234")); err != nil {
		t.Fatalf("Put at bound: %v", err)
	}
	if err := db.Put([]byte("k2"), []byte("12345")); err == nil {
		t.Fatal("expected error for value exceeding bound")
	}
}

func TestFixedKVBatchRejectsOversizedPut(t *testing.T) {
	db := NewFixedKV(NewMemory(), 4)
	b := db.NewBatch()
	if err := b.Put([]byte("k"), []byte("12345")); err == nil {
		t.Fatal("expected error for oversized batch Put")
	}
}
