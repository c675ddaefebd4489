package sketchio

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the byte length of the magic+version prefix every sketch's
// encoded form starts with.
const HeaderSize = 6

// PutHeader writes a 4-byte magic tag followed by a little-endian uint16
// version into buf[:HeaderSize]. buf must have length >= HeaderSize.
func PutHeader(buf []byte, magic [4]byte, version uint16) {
	copy(buf[0:4], magic[:])
	binary.LittleEndian.PutUint16(buf[4:6], version)
}

// ReadHeader validates the magic tag and returns the version found at the
// start of data. It fails with SerializationError on a short buffer or a
// mismatched magic tag.
func ReadHeader(data []byte, wantMagic [4]byte) (version uint16, rest []byte, err error) {
	if len(data) < HeaderSize {
		return 0, nil, &SerializationError{Reason: fmt.Sprintf("buffer too short: got %d bytes, need at least %d", len(data), HeaderSize)}
	}
	var gotMagic [4]byte
	copy(gotMagic[:], data[0:4])
	if gotMagic != wantMagic {
		return 0, nil, &SerializationError{Reason: fmt.Sprintf("bad magic: got %q, want %q", gotMagic, wantMagic)}
	}
	version = binary.LittleEndian.Uint16(data[4:6])
	return version, data[HeaderSize:], nil
}
