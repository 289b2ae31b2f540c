// Package fingerprint computes short deterministic digests over ordered sequences of
// strings and integers. A fingerprint identifies the content a derived record was
// computed from; callers must sort their input before hashing when the source
// collection has no inherent order.
package fingerprint

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Size is the digest length in bytes. The hex form is twice as long.
const Size = 16

// domainKey separates fingerprints from any other BLAKE3 use of the same bytes.
// Changing it invalidates every stored fingerprint.
var domainKey = [32]byte{
	'c', 'h', 'a', 't', 'd', 'i', 'g', 'e', 's', 't', '.', 'f', 'i', 'n', 'g', 'e',
	'r', 'p', 'r', 'i', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

const (
	tagString byte = 's'
	tagInt    byte = 'i'
)

// Builder accumulates a canonical serialization of a sequence. Each member is
// written as a type tag followed by its length-prefixed bytes, so ["a,b"] and
// ["a", "b"] never collide.
type Builder struct {
	hasher *blake3.Hasher
	n      int
}

// New returns an empty Builder.
func New() *Builder {
	hasher, err := blake3.NewKeyed(domainKey[:])
	if err != nil {
		panic("fingerprint: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return &Builder{hasher: hasher}
}

// String appends a string member.
func (b *Builder) String(s string) *Builder {
	var hdr [9]byte
	hdr[0] = tagString
	binary.BigEndian.PutUint64(hdr[1:], uint64(len(s)))
	_, _ = b.hasher.Write(hdr[:])
	_, _ = b.hasher.WriteString(s)
	b.n++
	return b
}

// Int appends an integer member.
func (b *Builder) Int(v int64) *Builder {
	var buf [9]byte
	buf[0] = tagInt
	binary.BigEndian.PutUint64(buf[1:], uint64(v))
	_, _ = b.hasher.Write(buf[:])
	b.n++
	return b
}

// Len returns the number of members written so far.
func (b *Builder) Len() int {
	return b.n
}

// Sum returns the hex-encoded digest. The member count is folded in so an empty
// sequence still has a well-defined fingerprint.
func (b *Builder) Sum() string {
	var trailer [9]byte
	trailer[0] = 'n'
	binary.BigEndian.PutUint64(trailer[1:], uint64(b.n))
	_, _ = b.hasher.Write(trailer[:])
	sum := b.hasher.Sum(nil)
	return hex.EncodeToString(sum[:Size])
}

// Strings fingerprints items in the order given.
func Strings(items ...string) string {
	b := New()
	for _, s := range items {
		b.String(s)
	}
	return b.Sum()
}

// Ints fingerprints ids in the order given.
func Ints(ids ...int64) string {
	b := New()
	for _, id := range ids {
		b.Int(id)
	}
	return b.Sum()
}
