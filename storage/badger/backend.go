package badger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/poiesic/transitstore/core"
	"github.com/poiesic/transitstore/storage"
)

// Engine is the BadgerDB storage engine. It owns the database handle, the
// sub-store catalog, the entity cache and the background writer.
//
// All mutations go through a bounded queue consumed by a single writer
// goroutine that is started on the first write. Reads run directly on
// BadgerDB snapshots. Only one read-write engine can hold a directory at a
// time; BadgerDB's directory lock enforces this across processes.
type Engine struct {
	db         *badger.DB
	cfg        *Config
	serializer *storage.Serializer
	relations  *storage.RelationCodec
	cache      *storage.EntityCache
	logger     *slog.Logger
	metrics    *metrics

	storesMu sync.RWMutex
	stores   map[string]struct{}

	// resizeMu serializes capacity changes against commits.
	resizeMu  sync.RWMutex
	allocated int64
	used      atomic.Int64

	// Producers hold writerMu for reading while they enqueue; stopping the
	// writer holds it exclusively so the stop task is the last one queued.
	writerMu sync.RWMutex
	startMu  sync.Mutex
	writer   *writer

	fatalMu sync.Mutex
	fatal   error

	warned    sync.Map
	closeOnce sync.Once
}

var _ storage.Store = (*Engine)(nil)

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Info(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// Open opens an engine. A nil cfg uses DefaultConfig, which requires a path,
// so callers normally pass NewConfig(...). In read-write mode the directory
// is created if it doesn't exist.
func Open(serializer *storage.Serializer, cfg *Config) (*Engine, error) {
	if serializer == nil {
		return nil, errors.New("engine: serializer is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.logger()

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		info, err := os.Stat(cfg.Path)
		if err != nil {
			if !os.IsNotExist(err) || cfg.ReadOnly {
				return nil, err
			}
			if err := os.MkdirAll(cfg.Path, 0755); err != nil {
				return nil, err
			}
		} else if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", cfg.Path)
		}
		opts = badger.DefaultOptions(cfg.Path).WithReadOnly(cfg.ReadOnly)
	}

	// Entities are compressed by the serializer. There is a single writer,
	// so conflict detection is not needed.
	opts = opts.
		WithLogger(&badgerLoggerAdapter{logger: logger}).
		WithCompression(options.None).
		WithDetectConflicts(false)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	m, err := newMetrics(cfg.Registerer)
	if err != nil {
		db.Close()
		return nil, err
	}
	cache, err := storage.NewActiveLRUCache[*core.Entity](cfg.CacheSize,
		storage.WithCacheCounters(m.cacheHits, m.cacheMisses))
	if err != nil {
		db.Close()
		return nil, err
	}

	e := &Engine{
		db:         db,
		cfg:        cfg,
		serializer: serializer,
		relations:  storage.NewRelationCodec(serializer.Registry()),
		cache:      cache,
		logger:     logger,
		metrics:    m,
		stores:     make(map[string]struct{}),
	}
	if err := e.init(); err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

// init loads the persisted capacity and, in read-write mode, makes sure the
// index and metadata stores exist.
func (e *Engine) init() error {
	var allocated, used int64
	err := e.db.View(func(txn *badger.Txn) error {
		var err error
		if allocated, err = readSize(txn, allocatedKey); err != nil {
			return err
		}
		used, err = readSize(txn, usedKey)
		return err
	})
	if err != nil {
		return err
	}
	e.allocated = max(allocated, e.cfg.InitialSize)
	e.used.Store(used)

	if e.cfg.ReadOnly {
		return nil
	}
	err = e.db.Update(func(txn *badger.Txn) error {
		for _, idx := range storage.Indexes {
			if err := txn.Set(makeCatalogKey(string(idx)), nil); err != nil {
				return err
			}
		}
		if err := txn.Set(makeCatalogKey(storage.MetadataStore), nil); err != nil {
			return err
		}
		return txn.Set(allocatedKey, encodeSize(e.allocated))
	})
	if err != nil {
		return err
	}
	e.logger.Debug("opened storage engine",
		"path", e.cfg.Path, "in_memory", e.cfg.InMemory,
		"allocated", e.allocated, "used", used)
	return nil
}

// WithEngine opens an engine, runs fn, and always flushes and closes the
// engine afterwards, also when fn panics.
func WithEngine(serializer *storage.Serializer, cfg *Config, fn func(*Engine) error) (err error) {
	e, err := Open(serializer, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(e)
}

// Close flushes pending writes and closes the database.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		err = e.BlockUntilDone()
		if cerr := e.db.Close(); cerr != nil {
			e.logger.Error("error closing badger database", "err", cerr)
			if err == nil {
				err = cerr
			}
		}
	})
	return err
}

// IsClosed returns true if the database is closed.
func (e *Engine) IsClosed() bool {
	return e.db.IsClosed()
}

// ReadOnly reports whether the engine was opened read-only.
func (e *Engine) ReadOnly() bool {
	return e.cfg.ReadOnly
}

// Serializer returns the codec used for keys and stored entities.
func (e *Engine) Serializer() *storage.Serializer {
	return e.serializer
}

// Registry returns the type registry.
func (e *Engine) Registry() *core.Registry {
	return e.serializer.Registry()
}

// Cache returns the entity cache.
func (e *Engine) Cache() *storage.EntityCache {
	return e.cache
}

// CleanCache drops all cached entities.
func (e *Engine) CleanCache() {
	e.cache.Drop()
}

// Logger returns the engine logger.
func (e *Engine) Logger() *slog.Logger {
	return e.logger
}

// storeExists reports whether a sub-store has been created. Only positive
// answers are cached.
func (e *Engine) storeExists(name string) (bool, error) {
	e.storesMu.RLock()
	_, ok := e.stores[name]
	e.storesMu.RUnlock()
	if ok {
		return true, nil
	}

	err := e.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(makeCatalogKey(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		ok = true
		return nil
	})
	if err != nil || !ok {
		return false, err
	}
	e.storesMu.Lock()
	e.stores[name] = struct{}{}
	e.storesMu.Unlock()
	return true, nil
}

func (e *Engine) forgetStore(name string) {
	e.storesMu.Lock()
	delete(e.stores, name)
	e.storesMu.Unlock()
}

// warnOnce logs a warning the first time msg is seen with the same detail
// on this engine.
func (e *Engine) warnOnce(msg, detail string) {
	if _, seen := e.warned.LoadOrStore(msg+"\x00"+detail, struct{}{}); seen {
		return
	}
	e.logger.Warn(msg, "detail", detail)
}

func readSize(txn *badger.Txn, key []byte) (int64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var size int64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("%w: size record has %d bytes", storage.ErrTruncatedData, len(val))
		}
		size = int64(binary.BigEndian.Uint64(val))
		return nil
	})
	return size, err
}

func encodeSize(size int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(size))
}
