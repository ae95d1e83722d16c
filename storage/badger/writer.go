package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/transitstore/storage"
)

type taskKind uint8

const (
	// taskPut writes key (physical) with value.
	taskPut taskKind = iota + 1
	// taskClear removes every row of store.
	taskClear
	// taskDrop removes store and its catalog entry.
	taskDrop
	// taskDeletePrefix removes every physical key starting with key.
	taskDeletePrefix
	// taskDeleteKey removes the physical key.
	taskDeleteKey
	// taskDeleteIndexRows runs the index deletion protocol for the
	// type-qualified entity key.
	taskDeleteIndexRows
	// taskStop ends the writer after everything before it is committed.
	taskStop
)

type task struct {
	kind  taskKind
	store string
	key   []byte
	value []byte
}

func (t task) size() int64 {
	return int64(len(t.key) + len(t.value))
}

type writer struct {
	tasks chan task
	done  chan struct{}
}

// batch groups drained tasks by the order in which they are committed:
// drops, clears, deletions, then puts.
type batch struct {
	drops   []string
	clears  []string
	deletes []task
	puts    []task
	stores  map[string]struct{}
	// indexed holds the entity keys of forward index rows put in this batch.
	indexed map[string]struct{}
	count   int
	size    int64
}

func (b *batch) add(t task) {
	b.count++
	switch t.kind {
	case taskDrop:
		b.drops = append(b.drops, t.store)
	case taskClear:
		b.clears = append(b.clears, t.store)
	case taskDeletePrefix, taskDeleteKey, taskDeleteIndexRows:
		b.deletes = append(b.deletes, t)
	case taskPut:
		b.puts = append(b.puts, t)
		b.size += t.size()
		if b.stores == nil {
			b.stores = make(map[string]struct{})
		}
		b.stores[t.store] = struct{}{}
		if t.store == string(storage.IndexEmbedding) || t.store == string(storage.IndexReferencing) {
			if key, _, ok := splitRow(t.store, t.key, nil); ok {
				if b.indexed == nil {
					b.indexed = make(map[string]struct{})
				}
				b.indexed[string(key)] = struct{}{}
			}
		}
	}
}

// conflicts reports whether t deletes something already put in b. Deletes
// run before puts, so such a task has to start the next batch.
func (b *batch) conflicts(t task) bool {
	switch t.kind {
	case taskDeleteIndexRows:
		_, ok := b.indexed[string(t.key)]
		return ok
	case taskDeleteKey:
		for _, p := range b.puts {
			if bytes.Equal(p.key, t.key) {
				return true
			}
		}
	case taskDeletePrefix:
		for _, p := range b.puts {
			if bytes.HasPrefix(p.key, t.key) {
				return true
			}
		}
	}
	return false
}

func (b *batch) empty() bool {
	return b.count == 0
}

// enqueue hands tasks to the writer, starting it if needed. It blocks while
// the queue is full. Writes through a read-only engine are dropped.
func (e *Engine) enqueue(ctx context.Context, tasks ...task) error {
	if e.cfg.ReadOnly || len(tasks) == 0 {
		return nil
	}
	e.writerMu.RLock()
	defer e.writerMu.RUnlock()

	if e.db.IsClosed() {
		return storage.ErrStorageClosed
	}
	if err := e.fatalError(); err != nil {
		return err
	}
	w := e.startWriter()
	for _, t := range tasks {
		select {
		case w.tasks <- t:
			e.metrics.queueDepth.Inc()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (e *Engine) startWriter() *writer {
	e.startMu.Lock()
	defer e.startMu.Unlock()
	if e.writer == nil {
		e.writer = &writer{
			tasks: make(chan task, e.cfg.QueueSize),
			done:  make(chan struct{}),
		}
		go e.runWriter(e.writer)
	}
	return e.writer
}

// BlockUntilDone waits until every queued write is committed and stops the
// writer; the next write starts a fresh one. It returns the fatal write
// error, if any.
func (e *Engine) BlockUntilDone() error {
	if e.cfg.ReadOnly {
		return nil
	}
	e.writerMu.Lock()
	defer e.writerMu.Unlock()
	e.stopWriterLocked()
	return e.fatalError()
}

func (e *Engine) stopWriterLocked() {
	e.startMu.Lock()
	w := e.writer
	e.startMu.Unlock()
	if w == nil {
		return
	}
	w.tasks <- task{kind: taskStop}
	e.metrics.queueDepth.Inc()
	<-w.done

	e.startMu.Lock()
	e.writer = nil
	e.startMu.Unlock()
}

func (e *Engine) runWriter(w *writer) {
	defer close(w.done)
	idle := time.NewTimer(e.cfg.IdleTimeout)
	idle.Stop()
	var carry *task
	for {
		b, next, stop := e.drain(w.tasks, idle, carry)
		carry = next
		if !b.empty() {
			if err := e.fatalError(); err != nil {
				e.logger.Debug("discarding batch after fatal write error", "tasks", b.count)
			} else {
				e.commitBatch(b)
			}
		}
		if stop {
			return
		}
	}
}

// drain starts the batch with first, or blocks for a task when first is
// nil, then collects more until the batch is full by count or payload, no
// task arrives within the idle timeout, or a task conflicts with the batch.
// A conflicting task is returned to start the next batch.
func (e *Engine) drain(tasks <-chan task, idle *time.Timer, first *task) (b *batch, carry *task, stop bool) {
	b = &batch{}
	if first != nil {
		b.add(*first)
	} else {
		t := <-tasks
		e.metrics.queueDepth.Dec()
		if t.kind == taskStop {
			return b, nil, true
		}
		b.add(t)
	}

	for b.count < e.cfg.BatchSize && b.size < e.cfg.MaxBatchMemory {
		idle.Reset(e.cfg.IdleTimeout)
		select {
		case t := <-tasks:
			idle.Stop()
			e.metrics.queueDepth.Dec()
			if t.kind == taskStop {
				return b, nil, true
			}
			if b.conflicts(t) {
				return b, &t, false
			}
			b.add(t)
		case <-idle.C:
			return b, nil, false
		}
	}
	return b, nil, false
}

// commitBatch commits b, growing the capacity and retrying as long as the
// batch does not fit. A batch is never dropped because the store is full.
func (e *Engine) commitBatch(b *batch) {
	start := time.Now()
	for {
		err := e.commit(b)
		var full *storage.MapFullError
		if errors.As(err, &full) {
			e.logger.Info("storage full, resizing", "shortfall", full.Shortfall)
			if gerr := e.grow(full.Shortfall); gerr != nil {
				e.setFatal(gerr)
				return
			}
			continue
		}
		if err != nil {
			e.setFatal(fmt.Errorf("commit batch: %w", err))
			return
		}
		break
	}
	e.metrics.batches.Inc()
	e.metrics.tasks.Add(float64(b.count))
	e.metrics.commitSeconds.Observe(time.Since(start).Seconds())
}

func (e *Engine) commit(b *batch) error {
	e.resizeMu.RLock()
	defer e.resizeMu.RUnlock()

	used := e.used.Load()
	if need := used + b.size; need > e.allocated {
		return &storage.MapFullError{Shortfall: need - e.allocated}
	}

	bt := newBatchTxn(e.db)
	defer bt.discard()

	var freed int64
	for _, store := range b.drops {
		n, err := bt.deletePrefix(makeStorePrefix(store))
		if err != nil {
			return err
		}
		freed += n
		if err := bt.delete(makeCatalogKey(store)); err != nil {
			return err
		}
	}
	for _, store := range b.clears {
		n, err := bt.deletePrefix(makeStorePrefix(store))
		if err != nil {
			return err
		}
		freed += n
	}
	for _, t := range b.deletes {
		var n int64
		var err error
		switch t.kind {
		case taskDeletePrefix:
			n, err = bt.deletePrefix(t.key)
		case taskDeleteKey:
			n, err = bt.deleteKey(t.key)
		case taskDeleteIndexRows:
			n, err = e.deleteIndexRows(bt, t.key)
		}
		if err != nil {
			return err
		}
		freed += n
	}

	for store := range b.stores {
		if err := bt.set(makeCatalogKey(store), nil); err != nil {
			return err
		}
	}
	for _, t := range b.puts {
		n, err := bt.existingSize(t.key)
		if err != nil {
			return err
		}
		freed += n
		if err := bt.set(t.key, t.value); err != nil {
			return err
		}
	}

	newUsed := max(used+b.size-freed, 0)
	if err := bt.set(usedKey, encodeSize(newUsed)); err != nil {
		return err
	}
	if err := bt.commit(); err != nil {
		return err
	}
	e.used.Store(newUsed)

	for _, store := range b.drops {
		e.forgetStore(store)
	}
	return nil
}

// grow raises the capacity by at least the growth increment or minIncrease,
// capped at the maximum size.
func (e *Engine) grow(minIncrease int64) error {
	e.resizeMu.Lock()
	defer e.resizeMu.Unlock()

	current := e.allocated
	next := min(current+max(e.cfg.growth(), minIncrease), e.cfg.MaxSize)
	if next <= current {
		return fmt.Errorf("%w: %d bytes allocated, maximum %d", storage.ErrMapSizeExceeded, current, e.cfg.MaxSize)
	}
	err := e.db.Update(func(txn *badger.Txn) error {
		return txn.Set(allocatedKey, encodeSize(next))
	})
	if err != nil {
		return err
	}
	e.logger.Info("resizing storage", "from", current, "to", next)
	e.allocated = next
	e.metrics.resizes.Inc()
	return nil
}

func (e *Engine) setFatal(err error) {
	e.fatalMu.Lock()
	defer e.fatalMu.Unlock()
	if e.fatal == nil {
		e.fatal = err
		e.logger.Error("write path stopped", "err", err)
	}
}

func (e *Engine) fatalError() error {
	e.fatalMu.Lock()
	defer e.fatalMu.Unlock()
	return e.fatal
}

// batchTxn is a write transaction that commits and continues in a fresh
// transaction when BadgerDB reports it as too big.
type batchTxn struct {
	db  *badger.DB
	txn *badger.Txn
}

func newBatchTxn(db *badger.DB) *batchTxn {
	return &batchTxn{db: db, txn: db.NewTransaction(true)}
}

func (bt *batchTxn) rollover() error {
	if err := bt.txn.Commit(); err != nil {
		return err
	}
	bt.txn = bt.db.NewTransaction(true)
	return nil
}

func (bt *batchTxn) set(key, value []byte) error {
	err := bt.txn.Set(key, value)
	if errors.Is(err, badger.ErrTxnTooBig) {
		if err := bt.rollover(); err != nil {
			return err
		}
		return bt.txn.Set(key, value)
	}
	return err
}

func (bt *batchTxn) delete(key []byte) error {
	err := bt.txn.Delete(key)
	if errors.Is(err, badger.ErrTxnTooBig) {
		if err := bt.rollover(); err != nil {
			return err
		}
		return bt.txn.Delete(key)
	}
	return err
}

func (bt *batchTxn) commit() error {
	return bt.txn.Commit()
}

func (bt *batchTxn) discard() {
	bt.txn.Discard()
}

// existingSize returns the size of the row stored under key, or zero.
func (bt *batchTxn) existingSize(key []byte) (int64, error) {
	item, err := bt.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return int64(len(key)) + item.ValueSize(), nil
}

func (bt *batchTxn) deleteKey(key []byte) (int64, error) {
	n, err := bt.existingSize(key)
	if err != nil || n == 0 {
		return 0, err
	}
	return n, bt.delete(key)
}

// rawItem is a physical row collected before it is modified.
type rawItem struct {
	key  []byte
	size int64
}

// collect gathers the keys under prefix. Rows are never deleted while an
// iterator is open.
func (bt *batchTxn) collect(prefix []byte) []rawItem {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := bt.txn.NewIterator(opts)
	defer it.Close()

	var items []rawItem
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		items = append(items, rawItem{
			key:  item.KeyCopy(nil),
			size: int64(len(item.Key())) + item.ValueSize(),
		})
	}
	return items
}

func (bt *batchTxn) deletePrefix(prefix []byte) (int64, error) {
	var freed int64
	for _, item := range bt.collect(prefix) {
		if err := bt.delete(item.key); err != nil {
			return freed, err
		}
		freed += item.size
	}
	return freed, nil
}

// deleteIndexRows removes every embedding and referencing row keyed by
// entityKey, together with the inverse rows pointing back at it. An inverse
// row is only removed when its relation re-encodes to exactly entityKey and
// carries the same path as the forward row.
func (e *Engine) deleteIndexRows(bt *batchTxn, entityKey []byte) (int64, error) {
	pairs := [][2]storage.Index{
		{storage.IndexEmbedding, storage.IndexEmbeddingInverse},
		{storage.IndexReferencing, storage.IndexReferencingInwards},
	}
	var freed int64
	for _, pair := range pairs {
		forwardPrefix := makeMultiPrefix(string(pair[0]), entityKey)
		for _, row := range bt.collect(forwardPrefix) {
			rel, err := e.relations.Decode(row.key[len(forwardPrefix):])
			if err != nil {
				return freed, fmt.Errorf("%s row of %s: %w", pair[0], entityKey, err)
			}

			otherKey := e.serializer.EncodeKey(rel.ID, rel.Version, rel.Type, true)
			inversePrefix := makeMultiPrefix(string(pair[1]), otherKey)
			for _, inv := range bt.collect(inversePrefix) {
				back, err := e.relations.Decode(inv.key[len(inversePrefix):])
				if err != nil {
					return freed, fmt.Errorf("%s row of %s: %w", pair[1], otherKey, err)
				}
				backKey := e.serializer.EncodeKey(back.ID, back.Version, back.Type, true)
				if !bytes.Equal(backKey, entityKey) || !back.Path.Equal(rel.Path) {
					continue
				}
				if err := bt.delete(inv.key); err != nil {
					return freed, err
				}
				freed += inv.size
			}

			if err := bt.delete(row.key); err != nil {
				return freed, err
			}
			freed += row.size
		}
	}
	return freed, nil
}
