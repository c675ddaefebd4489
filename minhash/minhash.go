// Package minhash implements MinHash and b-bit MinHash, probabilistic
// sketches for estimating Jaccard similarity and set cardinality over a
// stream of already-hashed elements.
//
// A MinHash signature is built from num_perm independent universal hash
// permutations h_i(x) = (a_i*x + b_i) mod M, M = 2^61-1 a Mersenne prime.
// Two sketches built with the same (seed, num_perm) always draw the same
// (a_i, b_i), which is what makes them mergeable and comparable without
// coordination — see the permutation cache in permutationsFor below.
//
// This package never hashes anything itself: callers hash their own
// elements (SHA-1, Murmur3, xxhash, whatever) and pass the digest bytes to
// Digest, which reads only the low-order bytes it needs.
package minhash

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"math/rand"
	"sync"

	"github.com/KaneFu/datasketch/internal/sketchio"
)

// mersennePrime is M = 2^61 - 1, the modulus of the permutation family.
const mersennePrime = (1 << 61) - 1

var minhashMagic = [4]byte{'M', 'H', 'S', '1'}

const minhashVersion = 1

// Re-exported so callers can errors.As against a single shared taxonomy
// without importing internal/sketchio directly.
type (
	ParameterError           = sketchio.ParameterError
	IncompatibleSketchError  = sketchio.IncompatibleSketchError
	HashWidthError           = sketchio.HashWidthError
	SerializationError       = sketchio.SerializationError
)

// permutationSet holds the (A, B) coefficient arrays for one (seed,
// num_perm) pair. It is built once and never mutated again, so it can be
// shared read-only across every MinHash constructed with those
// parameters.
type permutationSet struct {
	A, B []uint64
}

var (
	permCacheMu sync.Mutex
	permCache   = map[permutationKey]*permutationSet{}
)

type permutationKey struct {
	seed    int64
	numPerm int
}

// permutationsFor returns the shared (A, B) arrays for (seed, numPerm),
// generating them on first use. Identical (seed, numPerm) pairs always
// resolve to the same arrays, including across independently constructed
// sketches — this is the cross-process reproducibility contract.
func permutationsFor(seed int64, numPerm int) *permutationSet {
	key := permutationKey{seed, numPerm}

	permCacheMu.Lock()
	defer permCacheMu.Unlock()
	if p, ok := permCache[key]; ok {
		return p
	}

	rng := rand.New(rand.NewSource(seed))
	a := make([]uint64, numPerm)
	b := make([]uint64, numPerm)
	for i := 0; i < numPerm; i++ {
		// a in [1, M), b in [0, M)
		a[i] = uint64(rng.Int63n(mersennePrime-1)) + 1
		b[i] = uint64(rng.Int63n(mersennePrime))
	}
	p := &permutationSet{A: a, B: b}
	permCache[key] = p
	return p
}

// permute computes (a*x + b) mod M. a and b are < M (~2^61) and x is a
// 32-bit value, so the product doesn't fit a uint64; we compute the full
// 128-bit product and fold it down using the Mersenne-prime identity
// 2^64 ≡ 8 (mod 2^61-1).
func permute(a, x, b uint64) uint64 {
	hi, lo := bits.Mul64(a, x)
	lo, carry := bits.Add64(lo, b, 0)
	hi += carry

	v := (lo & mersennePrime) + (hi<<3 | lo>>61)
	if v >= mersennePrime {
		v -= mersennePrime
	}
	return v
}

// MinHash is an array of num_perm running minima under a deterministic
// permutation family. The zero value is not usable; construct with New.
type MinHash struct {
	seed    int64
	numPerm int
	perm    *permutationSet
	H       []uint64
}

// config holds the options accumulated by New.
type config struct {
	seed    int64
	numPerm int
}

// Option configures a MinHash at construction. Options validate eagerly;
// New returns a ParameterError rather than a partially built sketch.
type Option func(*config) error

// WithSeed sets the permutation-family seed. Default 1.
func WithSeed(seed int64) Option {
	return func(c *config) error {
		c.seed = seed
		return nil
	}
}

// WithNumPerm sets the number of permutation registers. Default 128.
func WithNumPerm(numPerm int) Option {
	return func(c *config) error {
		if numPerm < 1 {
			return &sketchio.ParameterError{Param: "num_perm", Value: numPerm, Want: ">= 1"}
		}
		c.numPerm = numPerm
		return nil
	}
}

// New constructs an empty MinHash. Every register starts at the sentinel
// M-1, the maximum value a register can hold.
func New(opts ...Option) (*MinHash, error) {
	cfg := config{seed: 1, numPerm: 128}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	h := make([]uint64, cfg.numPerm)
	for i := range h {
		h[i] = mersennePrime - 1
	}
	return &MinHash{
		seed:    cfg.seed,
		numPerm: cfg.numPerm,
		perm:    permutationsFor(cfg.seed, cfg.numPerm),
		H:       h,
	}, nil
}

// Seed returns the permutation-family seed.
func (m *MinHash) Seed() int64 { return m.seed }

// NumPerm returns the number of registers.
func (m *MinHash) NumPerm() int { return m.numPerm }

// Registers returns a copy of the register array H.
func (m *MinHash) Registers() []uint64 {
	out := make([]uint64, len(m.H))
	copy(out, m.H)
	return out
}

// Digest ingests one set element's hash digest. It reads the low 4 bytes
// of digest as a little-endian uint32 and updates every register with the
// running minimum under its permutation. It fails with HashWidthError if
// fewer than 4 bytes are supplied — a short digest is never zero-extended.
func (m *MinHash) Digest(digest []byte) error {
	x, err := sketchio.Uint32LE(digest)
	if err != nil {
		return err
	}
	xw := uint64(x)
	for i := 0; i < m.numPerm; i++ {
		v := permute(m.perm.A[i], xw, m.perm.B[i])
		if v < m.H[i] {
			m.H[i] = v
		}
	}
	return nil
}

// checkCompatible returns an IncompatibleSketchError if m and other don't
// share (seed, num_perm).
func (m *MinHash) checkCompatible(op string, other *MinHash) error {
	if m.seed != other.seed {
		return &sketchio.IncompatibleSketchError{Op: op, Reason: "seed mismatch"}
	}
	if m.numPerm != other.numPerm {
		return &sketchio.IncompatibleSketchError{Op: op, Reason: "num_perm mismatch"}
	}
	return nil
}

// Merge combines other's signature into m by taking the elementwise
// minimum, i.e. the signature of the union of the two underlying sets.
// merge is commutative, associative, and idempotent.
func (m *MinHash) Merge(other *MinHash) error {
	if err := m.checkCompatible("merge", other); err != nil {
		return err
	}
	for i := range m.H {
		if other.H[i] < m.H[i] {
			m.H[i] = other.H[i]
		}
	}
	return nil
}

// Jaccard estimates the Jaccard similarity between m and other's
// underlying sets as the fraction of registers that agree.
func (m *MinHash) Jaccard(other *MinHash) (float64, error) {
	if err := m.checkCompatible("jaccard", other); err != nil {
		return 0, err
	}
	var agree int
	for i := range m.H {
		if m.H[i] == other.H[i] {
			agree++
		}
	}
	return float64(agree) / float64(m.numPerm), nil
}

// Count estimates the cardinality of the underlying set. On a fully
// empty sketch (every register still at its sentinel) this evaluates to
// 0 without any special case.
func (m *MinHash) Count() float64 {
	var sum float64
	for _, h := range m.H {
		sum += float64(h+1) / float64(mersennePrime)
	}
	return float64(m.numPerm)/sum - 1
}

// Bytesize returns the exact length of m's encoded form.
func (m *MinHash) Bytesize() int {
	return sketchio.HeaderSize + 4 + 4 + 8*m.numPerm
}

// MarshalBinary encodes m as magic, version, seed (u32), num_perm (u32),
// and H as num_perm little-endian u64s. The permutation coefficients A
// and B are not persisted; they are recomputed from (seed, num_perm) on
// load.
func (m *MinHash) MarshalBinary() ([]byte, error) {
	buf := make([]byte, m.Bytesize())
	sketchio.PutHeader(buf, minhashMagic, minhashVersion)

	off := sketchio.HeaderSize
	binary.LittleEndian.PutUint32(buf[off:], uint32(m.seed))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(m.numPerm))
	off += 4
	for _, h := range m.H {
		binary.LittleEndian.PutUint64(buf[off:], h)
		off += 8
	}
	return buf, nil
}

// UnmarshalBinary decodes a buffer produced by MarshalBinary into m,
// recomputing the shared permutation tables for the decoded (seed,
// num_perm).
func (m *MinHash) UnmarshalBinary(data []byte) error {
	version, rest, err := sketchio.ReadHeader(data, minhashMagic)
	if err != nil {
		return err
	}
	if version != minhashVersion {
		return &sketchio.SerializationError{Reason: fmt.Sprintf("unsupported minhash version %d", version)}
	}
	if len(rest) < 8 {
		return &sketchio.SerializationError{Reason: "truncated minhash header"}
	}
	seed := int64(binary.LittleEndian.Uint32(rest[0:4]))
	numPerm := int(binary.LittleEndian.Uint32(rest[4:8]))
	rest = rest[8:]

	want := numPerm * 8
	if len(rest) != want {
		return &sketchio.SerializationError{Reason: fmt.Sprintf("expected %d bytes of registers, got %d", want, len(rest))}
	}

	h := make([]uint64, numPerm)
	for i := range h {
		h[i] = binary.LittleEndian.Uint64(rest[i*8:])
	}

	m.seed = seed
	m.numPerm = numPerm
	m.perm = permutationsFor(seed, numPerm)
	m.H = h
	return nil
}

// Load decodes a buffer produced by MarshalBinary into a new MinHash.
func Load(data []byte) (*MinHash, error) {
	m := &MinHash{}
	if err := m.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return m, nil
}

// Equal reports whether m and other have matching seed, num_perm, and
// registers. Since A and B are a pure function of (seed, num_perm), this
// is equivalent to the spec's four-way equality check.
func (m *MinHash) Equal(other *MinHash) bool {
	if other == nil || m.seed != other.seed || m.numPerm != other.numPerm {
		return false
	}
	for i := range m.H {
		if m.H[i] != other.H[i] {
			return false
		}
	}
	return true
}
