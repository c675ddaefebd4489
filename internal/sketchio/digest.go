package sketchio

import "encoding/binary"

// Uint32LE reads the low 4 bytes of an externally produced hash digest as
// a little-endian uint32. It fails with HashWidthError if fewer than 4
// bytes are supplied; a caller-supplied sub-32-bit hash is never silently
// zero-extended.
func Uint32LE(digest []byte) (uint32, error) {
	if len(digest) < 4 {
		return 0, &HashWidthError{Got: len(digest), Want: 4}
	}
	return binary.LittleEndian.Uint32(digest[:4]), nil
}

// Uint64LE reads the low 8 bytes of an externally produced hash digest as
// a little-endian uint64. It fails with HashWidthError if fewer than 8
// bytes are supplied.
func Uint64LE(digest []byte) (uint64, error) {
	if len(digest) < 8 {
		return 0, &HashWidthError{Got: len(digest), Want: 8}
	}
	return binary.LittleEndian.Uint64(digest[:8]), nil
}
