package minhash

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/KaneFu/datasketch/internal/sketchio"
)

var bbitMagic = [4]byte{'B', 'B', 'M', '1'}

const bbitVersion = 1

// BBitMinHash is a lossy, serialization-oriented projection of a MinHash
// signature onto the low b bits per register. It carries no permutation
// coefficients and so cannot be merged or used to build another BBitMinHash
// — only compared to another BBitMinHash sharing (b, num_perm, seed).
//
// See "Building a better bit hashing scheme" (the b-Bit MinWise Hashing
// paper) for the estimator's derivation: a naive collision rate
// overestimates Jaccard because of spurious low-bit collisions, so the
// raw rate is shifted by the expected collision rate under independence.
type BBitMinHash struct {
	b       int
	numPerm int
	seed    int64
	L       []uint64
}

// NewBBit projects m onto its low b bits. b must be in [1, 64].
func NewBBit(m *MinHash, b int) (*BBitMinHash, error) {
	if b < 1 || b > 64 {
		return nil, &sketchio.ParameterError{Param: "b", Value: b, Want: "in [1, 64]"}
	}
	mask := bbitMask(b)
	l := make([]uint64, m.numPerm)
	for i, h := range m.H {
		l[i] = h & mask
	}
	return &BBitMinHash{b: b, numPerm: m.numPerm, seed: m.seed, L: l}, nil
}

func bbitMask(b int) uint64 {
	if b >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(b)) - 1
}

// B returns the number of low bits retained per register.
func (bm *BBitMinHash) B() int { return bm.b }

// NumPerm returns the number of registers.
func (bm *BBitMinHash) NumPerm() int { return bm.numPerm }

// Seed returns the source MinHash's permutation-family seed.
func (bm *BBitMinHash) Seed() int64 { return bm.seed }

func (bm *BBitMinHash) checkCompatible(op string, other *BBitMinHash) error {
	if bm.b != other.b {
		return &sketchio.IncompatibleSketchError{Op: op, Reason: "b mismatch"}
	}
	if bm.numPerm != other.numPerm {
		return &sketchio.IncompatibleSketchError{Op: op, Reason: "num_perm mismatch"}
	}
	if bm.seed != other.seed {
		return &sketchio.IncompatibleSketchError{Op: op, Reason: "seed mismatch"}
	}
	return nil
}

// Jaccard returns the unbiased b-bit Jaccard estimator between bm and
// other, clamped to 0 if the raw correction would go negative. As b
// grows this collapses toward the raw collision rate.
func (bm *BBitMinHash) Jaccard(other *BBitMinHash) (float64, error) {
	if err := bm.checkCompatible("jaccard", other); err != nil {
		return 0, err
	}
	var agree int
	for i := range bm.L {
		if bm.L[i] == other.L[i] {
			agree++
		}
	}
	c := float64(agree) / float64(bm.numPerm)

	minCollision := math.Pow(2, -float64(bm.b))
	est := (c - minCollision) / (1 - minCollision)
	if est < 0 {
		est = 0
	}
	return est, nil
}

// Bytesize returns the exact length of bm's encoded form.
func (bm *BBitMinHash) Bytesize() int {
	packed := (bm.numPerm*bm.b + 7) / 8
	return sketchio.HeaderSize + 1 + 4 + 4 + packed
}

// MarshalBinary encodes bm as magic, version, b (u8), seed (u32),
// num_perm (u32), and L packed at b bits per register, least-significant
// bit first.
func (bm *BBitMinHash) MarshalBinary() ([]byte, error) {
	buf := make([]byte, bm.Bytesize())
	sketchio.PutHeader(buf, bbitMagic, bbitVersion)

	off := sketchio.HeaderSize
	buf[off] = byte(bm.b)
	off++
	binary.LittleEndian.PutUint32(buf[off:], uint32(bm.seed))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(bm.numPerm))
	off += 4
	packBits(buf[off:], bm.L, bm.b)
	return buf, nil
}

// UnmarshalBinary decodes a buffer produced by MarshalBinary into bm.
func (bm *BBitMinHash) UnmarshalBinary(data []byte) error {
	version, rest, err := sketchio.ReadHeader(data, bbitMagic)
	if err != nil {
		return err
	}
	if version != bbitVersion {
		return &sketchio.SerializationError{Reason: fmt.Sprintf("unsupported bbit-minhash version %d", version)}
	}
	if len(rest) < 9 {
		return &sketchio.SerializationError{Reason: "truncated bbit-minhash header"}
	}
	b := int(rest[0])
	seed := int64(binary.LittleEndian.Uint32(rest[1:5]))
	numPerm := int(binary.LittleEndian.Uint32(rest[5:9]))
	rest = rest[9:]

	wantPacked := (numPerm*b + 7) / 8
	if len(rest) != wantPacked {
		return &sketchio.SerializationError{Reason: fmt.Sprintf("expected %d packed bytes, got %d", wantPacked, len(rest))}
	}

	bm.b = b
	bm.seed = seed
	bm.numPerm = numPerm
	bm.L = unpackBits(rest, numPerm, b)
	return nil
}

// LoadBBit decodes a buffer produced by MarshalBinary into a new
// BBitMinHash.
func LoadBBit(data []byte) (*BBitMinHash, error) {
	bm := &BBitMinHash{}
	if err := bm.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return bm, nil
}

// packBits writes the low b bits of each value into dst, least-significant
// bit first, with no padding between values.
func packBits(dst []byte, values []uint64, b int) {
	bitPos := 0
	for _, v := range values {
		for i := 0; i < b; i++ {
			if (v>>uint(i))&1 != 0 {
				dst[bitPos/8] |= 1 << uint(bitPos%8)
			}
			bitPos++
		}
	}
}

// unpackBits is the inverse of packBits.
func unpackBits(src []byte, n, b int) []uint64 {
	out := make([]uint64, n)
	bitPos := 0
	for i := 0; i < n; i++ {
		var v uint64
		for j := 0; j < b; j++ {
			byteIdx, bitIdx := bitPos/8, uint(bitPos%8)
			if (src[byteIdx]>>bitIdx)&1 != 0 {
				v |= 1 << uint(j)
			}
			bitPos++
		}
		out[i] = v
	}
	return out
}
