package badger

import (
	"bytes"
	"fmt"

	"github.com/poiesic/transitstore/storage"
)

// Physical key spaces. Sub-stores are emulated with a name prefix.
const (
	catalogPrefix byte = 0x01 // catalogPrefix|name
	dataPrefix    byte = 0x02 // dataPrefix|name|0x00|key[|0x00|value]
	systemPrefix  byte = 0x03

	nameTerminator byte = 0x00
)

var (
	allocatedKey = []byte{systemPrefix, 'a', 'l', 'l', 'o', 'c'}
	usedKey      = []byte{systemPrefix, 'u', 's', 'e', 'd'}
)

// isMultiValue reports whether a sub-store holds several values per key.
func isMultiValue(store string) bool {
	for _, idx := range storage.Indexes {
		if store == string(idx) {
			return true
		}
	}
	return false
}

// makeCatalogKey generates the key recording that a sub-store exists.
func makeCatalogKey(store string) []byte {
	buf := make([]byte, 0, 1+len(store))
	buf = append(buf, catalogPrefix)
	return append(buf, store...)
}

// makeStorePrefix generates the prefix shared by all rows of a sub-store.
// Format: 0x02|name|0x00
func makeStorePrefix(store string) []byte {
	buf := make([]byte, 0, 2+len(store))
	buf = append(buf, dataPrefix)
	buf = append(buf, store...)
	return append(buf, nameTerminator)
}

// makeRowKey generates the physical key of a single-value row.
func makeRowKey(store string, key []byte) []byte {
	return append(makeStorePrefix(store), key...)
}

// makeRowPrefix generates the prefix of all rows whose key starts with prefix.
func makeRowPrefix(store string, prefix []byte) []byte {
	return append(makeStorePrefix(store), prefix...)
}

// makeMultiPrefix generates the prefix of all values stored under exactly key.
// Format: 0x02|name|0x00|key|0x00
func makeMultiPrefix(store string, key []byte) []byte {
	return append(makeRowKey(store, key), nameTerminator)
}

// makeMultiKey generates the physical key of one (key, value) pair of a
// multi-value store. The badger value stays empty.
func makeMultiKey(store string, key, value []byte) ([]byte, error) {
	if bytes.IndexByte(key, nameTerminator) >= 0 {
		return nil, fmt.Errorf("%w: multi-value key %q contains a zero byte", storage.ErrInvalidKey, key)
	}
	buf := makeMultiPrefix(store, key)
	return append(buf, value...), nil
}

// splitRow recovers the logical key and value of a physical row.
func splitRow(store string, physical, value []byte) (key, val []byte, ok bool) {
	prefix := makeStorePrefix(store)
	if !bytes.HasPrefix(physical, prefix) {
		return nil, nil, false
	}
	rest := physical[len(prefix):]
	if !isMultiValue(store) {
		return rest, value, true
	}
	i := bytes.IndexByte(rest, nameTerminator)
	if i < 0 {
		return nil, nil, false
	}
	return rest[:i], rest[i+1:], true
}
