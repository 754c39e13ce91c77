package storage

import "fmt"

// FixedKV wraps a DB region and enforces a maximum value length, mirroring
// what a size-class partition promises its caller: every value routed to
// the small or medium UtxoStore backend is bounded, so the
// backend can reject anything that would silently break that invariant
// rather than let an oversized entry sit alongside values the class was
// picked to fit.
type FixedKV struct {
	DB
	maxValueLen int
}

// NewFixedKV wraps db, rejecting Put calls whose value exceeds maxValueLen.
func NewFixedKV(db DB, maxValueLen int) *FixedKV {
	return &FixedKV{DB: db, maxValueLen: maxValueLen}
}

// Put stores key/value, failing if value is longer than this partition's
// bound.
func (f *FixedKV) Put(key, value []byte) error {
	if len(value) > f.maxValueLen {
		return fmt.Errorf("storage: value length %d exceeds size-class bound %d", len(value), f.maxValueLen)
	}
	return f.DB.Put(key, value)
}

// NewBatch returns a batch that enforces the same bound on every Put,
// delegating to the inner DB's Batcher when available.
func (f *FixedKV) NewBatch() Batch {
	batcher, ok := f.DB.(Batcher)
	if !ok {
		return &fixedFallbackBatch{db: f}
	}
	return &fixedBatch{inner: batcher.NewBatch(), maxValueLen: f.maxValueLen}
}

type fixedBatch struct {
	inner       Batch
	maxValueLen int
}

func (fb *fixedBatch) Put(key, value []byte) error {
	if len(value) > fb.maxValueLen {
		return fmt.Errorf("storage: value length %d exceeds size-class bound %d", len(value), fb.maxValueLen)
	}
	return fb.inner.Put(key, value)
}

func (fb *fixedBatch) Delete(key []byte) error { return fb.inner.Delete(key) }
func (fb *fixedBatch) Commit() error           { return fb.inner.Commit() }

type fixedFallbackBatch struct {
	db  *FixedKV
	ops []memoryOp
}

func (fb *fixedFallbackBatch) Put(key, value []byte) error {
	if len(value) > fb.db.maxValueLen {
		return fmt.Errorf("storage: value length %d exceeds size-class bound %d", len(value), fb.db.maxValueLen)
	}
	fb.ops = append(fb.ops, memoryOp{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
	return nil
}

func (fb *fixedFallbackBatch) Delete(key []byte) error {
	fb.ops = append(fb.ops, memoryOp{key: append([]byte(nil), key...), delete: true})
	return nil
}

func (fb *fixedFallbackBatch) Commit() error {
	for _, op := range fb.ops {
		if op.delete {
			if err := fb.db.DB.Delete(op.key); err != nil {
				return err
			}
		} else if err := fb.db.DB.Put(op.key, op.value); err != nil {
			return err
		}
	}
	return nil
}
