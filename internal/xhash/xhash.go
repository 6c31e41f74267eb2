// Package xhash provides the 63-bit hash primitive shared by the string
// pool, the feature table, and the lock-free split-ordered map (spec.md
// §3, §9). The top bit is always cleared so the lock-free list can use it
// as a dummy/real node discriminator, following original_source's
// hsh_buffer/hsh_string convention of masking the result of its Spooky
// hash to 63 bits. logfst swaps the bespoke Spooky implementation for
// xxhash (already the teacher's hash of choice in
// internal/core/file_content_store.go) since spec.md §9 only requires a
// fast, well-distributed, non-cryptographic hash, not a specific
// algorithm.
package xhash

import "github.com/cespare/xxhash/v2"

// mask63 clears the high bit of a 64-bit hash, reserved by the split-ordered
// map (§4.2) for the dummy-node discriminator: after bit reversal it becomes
// the list key's low bit.
const mask63 = uint64(0x7FFFFFFFFFFFFFFF)

// Bytes hashes a raw byte slice to a 63-bit value.
func Bytes(buf []byte) uint64 {
	return xxhash.Sum64(buf) & mask63
}

// String hashes a string to a 63-bit value.
func String(s string) uint64 {
	return xxhash.Sum64String(s) & mask63
}

// Combine folds a sequence of already-computed hashes into a single
// 63-bit hash, for feature ids built from several pattern-item hashes
// (spec.md §4.6: "the pattern's hashes ... are reduced through
// add_feature to a feature record").
func Combine(hashes ...uint64) uint64 {
	d := xxhash.New()
	var buf [8]byte
	for _, h := range hashes {
		putUint64(buf[:], h)
		_, _ = d.Write(buf[:])
	}
	return d.Sum64() & mask63
}

func putUint64(b []byte, v uint64) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	b[4] = byte(v >> 32)
	b[5] = byte(v >> 40)
	b[6] = byte(v >> 48)
	b[7] = byte(v >> 56)
}

// Reverse reverses the bit order of v, used by the lock-free split-ordered
// list to turn an ascending key sequence into the list's traversal order
// (original_source bit_reverse, §4.1/§4.2).
func Reverse(v uint64) uint64 {
	const (
		m0 = uint64(0x5555555555555555)
		m1 = uint64(0x3333333333333333)
		m2 = uint64(0x0F0F0F0F0F0F0F0F)
		m3 = uint64(0x00FF00FF00FF00FF)
		m4 = uint64(0x0000FFFF0000FFFF)
	)
	v = ((v >> 1) & m0) | ((v & m0) << 1)
	v = ((v >> 2) & m1) | ((v & m1) << 2)
	v = ((v >> 4) & m2) | ((v & m2) << 4)
	v = ((v >> 8) & m3) | ((v & m3) << 8)
	v = ((v >> 16) & m4) | ((v & m4) << 16)
	v = (v >> 32) | (v << 32)
	return v
}

// ClearHighestSetBit clears the most significant set bit of v, used to find
// a split-ordered bucket's parent bucket index (original_source
// bit_clearmsb, §4.2: map_getbkt recurses toward bucket 0 via this).
func ClearHighestSetBit(v uint64) uint64 {
	if v == 0 {
		return 0
	}
	t := v
	t |= t >> 1
	t |= t >> 2
	t |= t >> 4
	t |= t >> 8
	t |= t >> 16
	t |= t >> 32
	return v & (t >> 1)
}
