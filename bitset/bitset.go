package bitset

import "math/bits"

func NewBitSet(len uint64) BitSet {
	words := (len + 63) / 64
	return make([]uint64, words)
}

// BitSet is a dense set of small non-negative integers.
type BitSet []uint64

// Len returns the number of bits the set can hold without growing.
func (b BitSet) Len() uint64 {
	return uint64(len(b)) * 64
}

// Grow returns a set able to hold index, reusing b when it is already large enough.
func (b BitSet) Grow(index uint64) BitSet {
	words := index/64 + 1
	if uint64(len(b)) >= words {
		return b
	}
	grown := make([]uint64, words)
	copy(grown, b)
	return grown
}

func (b BitSet) IsSet(index uint64) bool {
	wordPosition := index / 64
	if wordPosition >= uint64(len(b)) {
		return false
	}
	return b[wordPosition]&(uint64(1)<<(index%64)) != 0
}

func (b BitSet) Set(index uint64) {
	b[index/64] |= uint64(1) << (index % 64)
}

func (b BitSet) Unset(index uint64) {
	wordPosition := index / 64
	if wordPosition >= uint64(len(b)) {
		return
	}
	b[wordPosition] &^= uint64(1) << (index % 64)
}

func (b BitSet) Clear() {
	for i := range b {
		b[i] = 0
	}
}

// Count returns the number of set bits.
func (b BitSet) Count() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}

// ForEach calls fn for every set bit in ascending order.
func (b BitSet) ForEach(fn func(index uint64)) {
	for i, w := range b {
		for w != 0 {
			tz := bits.TrailingZeros64(w)
			fn(uint64(i)*64 + uint64(tz))
			w &= w - 1
		}
	}
}
