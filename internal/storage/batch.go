package storage

// Batch accumulates writes for atomic commit. UtxoStore.IngestBlock and
// OutPointsCache mutations span several keys across several regions per
// block; without a batch a crash mid-ingest could leave the store with
// half a block applied, which PartialStableBlock resumption is not
// equipped to detect on its own.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	// Commit atomically applies every Put/Delete recorded so far. A Batch
	// must not be reused after Commit.
	Commit() error
}

// Batcher is implemented by a DB that can produce atomic Batch instances.
// Not every DB needs to implement it — PrefixDB falls back to sequential,
// non-atomic writes when its inner DB doesn't.
type Batcher interface {
	NewBatch() Batch
}
