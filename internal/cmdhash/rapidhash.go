// Package cmdhash computes the 64-bit command hash recorded in the build
// log, using the rapidhash mixing function (a 64x64->128 multiply-fold
// hash) rather than any cryptographic digest -- the core only needs a
// cheap, stable fingerprint of a command line, not tamper resistance.
package cmdhash

import (
	"encoding/binary"

	"lukechampine.com/uint128"
)

const seed uint64 = 0xbdd89aa982704029

var secret = [3]uint64{0x2d358dccaa6c78a5, 0x8bb84b93962eacc9, 0x4b33a62ed433d4a3}

func mum(a, b uint64) (uint64, uint64) {
	r := uint128.From64(a).Mul(uint128.From64(b))
	return r.Lo, r.Hi
}

func mix(a, b uint64) uint64 {
	lo, hi := mum(a, b)
	return lo ^ hi
}

func readSmall(p []byte, k int) uint64 {
	return uint64(p[0])<<56 | uint64(p[k>>1])<<32 | uint64(p[k-1])
}

func rapidhash(key []byte) uint64 {
	p := key
	n := len(p)
	s := seed ^ mix(seed^secret[0], secret[1]) ^ uint64(n)
	var a, b uint64

	switch {
	case n == 0:
		a, b = 0, 0
	case n < 4:
		a, b = readSmall(p, n), 0
	case n <= 16:
		a = uint64(binary.LittleEndian.Uint32(p))<<32 | uint64(binary.LittleEndian.Uint32(p[n-4:]))
		delta := (n & 24) >> (n >> 3)
		b = uint64(binary.LittleEndian.Uint32(p[delta:]))<<32 | uint64(binary.LittleEndian.Uint32(p[n-4-delta:]))
	default:
		i := n
		if i > 48 {
			see1, see2 := s, s
			for i >= 48 {
				s = mix(binary.LittleEndian.Uint64(p)^secret[0], binary.LittleEndian.Uint64(p[8:])^s)
				see1 = mix(binary.LittleEndian.Uint64(p[16:])^secret[1], binary.LittleEndian.Uint64(p[24:])^see1)
				see2 = mix(binary.LittleEndian.Uint64(p[32:])^secret[2], binary.LittleEndian.Uint64(p[40:])^see2)
				p = p[48:]
				i -= 48
			}
			s ^= see1 ^ see2
		}
		if i > 16 {
			s = mix(binary.LittleEndian.Uint64(p)^secret[2], binary.LittleEndian.Uint64(p[8:])^s^secret[1])
			if i > 32 {
				s = mix(binary.LittleEndian.Uint64(p[16:])^secret[2], binary.LittleEndian.Uint64(p[24:])^s)
			}
		}
		a = binary.LittleEndian.Uint64(key[n-16:])
		b = binary.LittleEndian.Uint64(key[n-8:])
	}
	a ^= secret[1]
	b ^= s
	lo, hi := mum(a, b)
	return mix(lo^secret[0]^uint64(n), hi^secret[1])
}

// HashCommand returns the 64-bit fingerprint recorded in the build log
// for a fully-evaluated command string (response-file content included
// when the edge has one -- the caller is responsible for appending it
// before hashing, matching Edge.EvaluateCommand(true)).
func HashCommand(command string) uint64 {
	return rapidhash([]byte(command))
}
