package storage

import (
	"bytes"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/poiesic/transitstore/core"
)

// Bytes with a fixed meaning inside encoded keys.
const (
	Separator byte = '-'
	Special   byte = '*'
	WordMask  byte = '#'
)

// KeyCodec encodes (id, version, type) triples into sortable keys made of
// upper-case letters, digits, the word mask and the separator. The type
// name is masked out of ids and versions to keep keys short.
type KeyCodec struct {
	byCode map[string]string
}

// NewKeyCodec builds a codec that can decode keys of every registered type.
func NewKeyCodec(registry *core.Registry) *KeyCodec {
	kc := &KeyCodec{byCode: make(map[string]string)}
	for _, name := range registry.Names() {
		kc.byCode[string(encodeString(name, ""))] = name
	}
	return kc
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

// maskWord replaces every occurrence of word in value that stands as a
// whole word, with word boundaries taken over Unicode letters and digits.
func maskWord(value, word string) string {
	if word == "" {
		return value
	}
	var b strings.Builder
	last, from := 0, 0
	for {
		i := strings.Index(value[from:], word)
		if i < 0 {
			break
		}
		start := from + i
		end := start + len(word)
		if boundaryBefore(value, start) && boundaryAfter(value, end) {
			b.WriteString(value[last:start])
			b.WriteByte(WordMask)
			last, from = end, end
			continue
		}
		_, size := utf8.DecodeRuneInString(value[start:])
		from = start + size
	}
	b.WriteString(value[last:])
	return b.String()
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i == len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func encodeString(value, mask string) []byte {
	value = strings.ToUpper(value)
	if mask != "" {
		value = maskWord(value, mask)
	}
	out := make([]byte, 0, len(value))
	for _, r := range value {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == rune(WordMask):
			out = append(out, byte(r))
		default:
			out = append(out, Special)
		}
	}
	return out
}

// EncodeKey encodes a key. An empty id or version is omitted, as is the
// version "any". With includeType the upper-cased type name leads the key.
// A key with id but no version is a prefix of every version of that id.
func (kc *KeyCodec) EncodeKey(id, version, typeName string, includeType bool) []byte {
	mask := strings.ToUpper(typeName)
	buf := make([]byte, 0, len(typeName)+len(id)+len(version)+2)
	if includeType {
		buf = append(buf, encodeString(typeName, "")...)
		buf = append(buf, Separator)
	}
	if id != "" {
		buf = append(buf, encodeString(id, mask)...)
		buf = append(buf, Separator)
	}
	if version != "" && version != core.VersionAny {
		buf = append(buf, encodeString(version, mask)...)
	}
	return buf
}

// TypePrefix returns the prefix shared by all type-qualified keys of typeName.
func (kc *KeyCodec) TypePrefix(typeName string) []byte {
	return kc.EncodeKey("", "", typeName, true)
}

// DecodeKey splits a type-qualified key into its type name and the encoded
// id and version. Keys that do not have exactly three parts, or whose type
// is unknown, do not decode. Masked ids containing the separator are a
// known limitation.
func (kc *KeyCodec) DecodeKey(key []byte) (typeName string, remainder []byte, ok bool) {
	parts := bytes.Split(key, []byte{Separator})
	if len(parts) != 3 {
		return "", nil, false
	}
	typeName, ok = kc.byCode[string(parts[0])]
	if !ok {
		return "", nil, false
	}
	return typeName, bytes.Join(parts[1:], []byte{Separator}), true
}
