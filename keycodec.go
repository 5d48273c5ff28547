package entitygraph

import "encoding/binary"

// Key is the byte-string form of an entity identifier as stored in a tree.
// Ordering on Key bytes must match the ordering callers expect from
// prefix scans, which is why unsigned integers are encoded big-endian
// rather than in the machine's native byte order.
type Key []byte

// ID is anything that can be turned into a Key. Entities that declare a
// bare `id` field, or an explicit id field via struct tag, ultimately
// resolve to one of the concrete ID types below.
type ID interface {
	EncodeKey() Key
}

// Uint32ID is a fixed-width 4-byte big-endian unsigned integer id.
type Uint32ID uint32

func (v Uint32ID) EncodeKey() Key {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	return b
}

// Uint64ID is a fixed-width 8-byte big-endian unsigned integer id.
type Uint64ID uint64

func (v Uint64ID) EncodeKey() Key {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

// StringID is a raw, unescaped string id. Because it is variable length
// it must be the last component of a TupleID, or the only component of
// an id, or prefix scans against it become ambiguous.
type StringID string

func (v StringID) EncodeKey() Key {
	return Key(v)
}

// TupleID concatenates the encodings of its parts in order, giving a
// compound key such as (parent_key, local_id). Because encoding is a
// plain concatenation, any prefix of the parts (e.g. just parent_key)
// is a valid prefix of the full key, which is what lets GetChildren
// work as a prefix scan over a parent's local id space.
type TupleID []ID

func (t TupleID) EncodeKey() Key {
	var out Key
	for _, part := range t {
		out = append(out, part.EncodeKey()...)
	}
	return out
}

// decodeUint32Suffix reads the trailing 4 bytes of a key as a big-endian
// uint32. Used by the auto-increment counters to recover the highest
// local id already assigned under a parent prefix.
func decodeUint32Suffix(k Key) (uint32, bool) {
	if len(k) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(k[len(k)-4:]), true
}
