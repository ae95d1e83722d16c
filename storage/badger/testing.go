package badger

import (
	"github.com/poiesic/transitstore/core"
	"github.com/poiesic/transitstore/storage"
)

// NewMemoryEngine creates an in-memory engine over the default transit
// registry for testing. Entities are stored uncompressed, so closing the
// engine releases everything. Options are applied after WithInMemory.
func NewMemoryEngine(opts ...Option) (*Engine, error) {
	serializer, err := storage.NewSerializer(core.TransitRegistry(), storage.WithCompression(false))
	if err != nil {
		return nil, err
	}
	cfg := NewConfig(append([]Option{WithInMemory()}, opts...)...)
	return Open(serializer, cfg)
}
