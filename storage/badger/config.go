// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package badger

import (
	"errors"
	"log/slog"
	"time"

	"github.com/poiesic/transitstore/storage"
	"github.com/prometheus/client_golang/prometheus"
)

// Defaults for engine configuration.
const (
	DefaultInitialSize    int64 = 1 << 30
	DefaultMaxSize        int64 = 36 << 30
	DefaultBatchSize            = 10_000
	DefaultMaxBatchMemory int64 = 4 << 30
	DefaultQueueSize            = 1000
	DefaultIdleTimeout          = 30 * time.Millisecond
)

// Config holds configuration for an Engine.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory keeps all data in memory. Useful for testing.
	InMemory bool

	// ReadOnly opens the store without any write infrastructure.
	// Writes through a read-only engine are silently ignored.
	ReadOnly bool

	// InitialSize is the byte capacity allocated when the store is created.
	InitialSize int64

	// GrowthSize is the minimum capacity increase on resize.
	// Zero means InitialSize (linear growth).
	GrowthSize int64

	// MaxSize is the hard capacity ceiling. Growing past it is fatal.
	MaxSize int64

	// BatchSize caps the number of tasks committed in one transaction.
	BatchSize int

	// MaxBatchMemory caps the payload bytes committed in one transaction.
	MaxBatchMemory int64

	// QueueSize bounds the write queue. Producers block when it is full.
	QueueSize int

	// IdleTimeout ends a partially filled batch when no task arrives in time.
	IdleTimeout time.Duration

	// CacheSize is the capacity of the entity cache.
	CacheSize int

	// Logger receives engine and BadgerDB logs. Default: slog.Default().
	Logger *slog.Logger

	// Registerer receives the engine metrics. Nil disables registration.
	Registerer prometheus.Registerer
}

// Option is a functional option for configuring a Config.
type Option func(*Config)

// WithPath sets the database directory.
func WithPath(path string) Option {
	return func(c *Config) {
		c.Path = path
	}
}

// WithInMemory enables in-memory mode.
func WithInMemory() Option {
	return func(c *Config) {
		c.InMemory = true
	}
}

// WithReadOnly opens the store read-only.
func WithReadOnly() Option {
	return func(c *Config) {
		c.ReadOnly = true
	}
}

// WithSizes sets the initial capacity, growth increment and ceiling.
func WithSizes(initial, growth, max int64) Option {
	return func(c *Config) {
		c.InitialSize = initial
		c.GrowthSize = growth
		c.MaxSize = max
	}
}

// WithBatch sets the per-transaction task and payload caps.
func WithBatch(size int, maxMemory int64) Option {
	return func(c *Config) {
		c.BatchSize = size
		c.MaxBatchMemory = maxMemory
	}
}

// WithQueueSize sets the write queue capacity.
func WithQueueSize(size int) Option {
	return func(c *Config) {
		c.QueueSize = size
	}
}

// WithIdleTimeout sets how long the writer waits for more work before
// committing a partial batch.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.IdleTimeout = d
	}
}

// WithCacheSize sets the entity cache capacity.
func WithCacheSize(size int) Option {
	return func(c *Config) {
		c.CacheSize = size
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithRegisterer registers engine metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registerer = reg
	}
}

// DefaultConfig returns a Config with the default capacities.
func DefaultConfig() *Config {
	return &Config{
		InitialSize:    DefaultInitialSize,
		MaxSize:        DefaultMaxSize,
		BatchSize:      DefaultBatchSize,
		MaxBatchMemory: DefaultMaxBatchMemory,
		QueueSize:      DefaultQueueSize,
		IdleTimeout:    DefaultIdleTimeout,
		CacheSize:      storage.DefaultCacheSize,
	}
}

// NewConfig creates a Config with the default values and applies opts.
//
// Example:
//
//	cfg := NewConfig(
//	    WithPath("/var/lib/transit"),
//	    WithSizes(64<<20, 64<<20, 4<<30),
//	)
func NewConfig(opts ...Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func (c *Config) growth() int64 {
	if c.GrowthSize > 0 {
		return c.GrowthSize
	}
	return c.InitialSize
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Validate checks that the configuration is complete and consistent.
func (c *Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return errors.New("engine config: Path is required unless InMemory is set")
	}
	if c.InMemory && c.ReadOnly {
		return errors.New("engine config: an in-memory store cannot be read-only")
	}
	if c.InitialSize <= 0 {
		return errors.New("engine config: InitialSize must be positive")
	}
	if c.GrowthSize < 0 {
		return errors.New("engine config: GrowthSize must not be negative")
	}
	if c.MaxSize < c.InitialSize {
		return errors.New("engine config: MaxSize must be at least InitialSize")
	}
	if c.BatchSize < 1 {
		return errors.New("engine config: BatchSize must be at least 1")
	}
	if c.MaxBatchMemory <= 0 {
		return errors.New("engine config: MaxBatchMemory must be positive")
	}
	if c.QueueSize < 1 {
		return errors.New("engine config: QueueSize must be at least 1")
	}
	if c.IdleTimeout <= 0 {
		return errors.New("engine config: IdleTimeout must be positive")
	}
	if c.CacheSize < 1 {
		return errors.New("engine config: CacheSize must be at least 1")
	}
	return nil
}
