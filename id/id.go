// Package id generates diagnostic request identifiers for replicated exec
// requests. Identifiers are never consulted for correctness, only for
// correlating a request across logs on different nodes.
package id

// State is the 256-bit xoshiro256** generator state, split across four
// 64-bit words, as used to mint per-leader request IDs.
//
// xoshiro256** was developed by David Blackman and Sebastiano Vigna and
// released into the public domain.
// See https://xoshiro.di.unimi.it/xoshiro256starstar.c.
type State struct {
	data [4]uint64
}

// NewState seeds a generator from four non-zero-in-aggregate words. Callers
// that need disjoint streams across many leaders should seed one root State
// and call Jump to derive each leader's own State, rather than picking seeds
// by hand.
func NewState(s0, s1, s2, s3 uint64) *State {
	return &State{data: [4]uint64{s0, s1, s2, s3}}
}

func rotl(x uint64, k uint) uint64 {
	return (x << k) | (x >> (64 - k))
}

// Next returns the next 64-bit output and advances the generator.
func (s *State) Next() uint64 {
	result := rotl(s.data[1]*5, 7) * 9
	t := s.data[1] << 17

	s.data[2] ^= s.data[0]
	s.data[3] ^= s.data[1]
	s.data[1] ^= s.data[2]
	s.data[0] ^= s.data[3]

	s.data[2] ^= t

	s.data[3] = rotl(s.data[3], 45)

	return result
}

// jump is the fixed jump polynomial equivalent to 2^128 calls to Next. It is
// used to give each of many generators derived from one seed a long,
// non-overlapping subsequence, so that distinct clients (leaders) produce
// disjoint ID streams.
var jump = [4]uint64{
	0x180ec6d33cfd0aba,
	0xd5a61266f0c9392c,
	0xa9582618e03fc9aa,
	0x39abdc4529b1661c,
}

// Jump advances s as if Next had been called 2^128 times, and mutates s in
// place to the new position. It is typically called once per leader,
// starting from a shared root state, so that every leader's generator
// occupies a disjoint, non-overlapping region of the output stream.
func (s *State) Jump() {
	var s0, s1, s2, s3 uint64
	for _, word := range jump {
		for b := uint(0); b < 64; b++ {
			if word&(uint64(1)<<b) != 0 {
				s0 ^= s.data[0]
				s1 ^= s.data[1]
				s2 ^= s.data[2]
				s3 ^= s.data[3]
			}
			s.Next()
		}
	}
	s.data[0] = s0
	s.data[1] = s1
	s.data[2] = s2
	s.data[3] = s3
}

// Size is the length in bytes of a request ID.
const Size = 16

// serverMarker occupies the last byte of a server-generated request ID, to
// distinguish it from a client-chosen one.
const serverMarker = 0xFF

// Next mints a new 16-byte request ID: the first 8 bytes carry the next
// PRNG output (little-endian, matching the source's direct memcpy of the
// uint64), and byte 15 is fixed to 0xFF.
func Next(s *State) [Size]byte {
	var buf [Size]byte
	v := s.Next()
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	buf[15] = serverMarker
	return buf
}

// Extract recovers the PRNG output embedded in the first 8 bytes of a
// request ID.
func Extract(buf [Size]byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(buf[i]) << (8 * i)
	}
	return v
}

// IsServerGenerated reports whether buf carries the in-band marker placed
// by Next, as opposed to a client-chosen request ID.
func IsServerGenerated(buf [Size]byte) bool {
	return buf[15] == serverMarker
}
