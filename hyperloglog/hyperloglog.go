// Package hyperloglog implements HyperLogLog and HyperLogLog++, register-
// array cardinality estimators. Both variants share the same register
// update shape — m = 2^p small registers tracking the longest run of
// leading zeros seen in any hashed element's remaining bits — and the
// same bias-correction constant alphaM; they differ in hash width (32
// bits for HyperLogLog, 64 for HyperLogLog++) and in the small-range
// correction applied by Count.
package hyperloglog

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/KaneFu/datasketch/internal/sketchio"
)

const (
	minP    = 4
	maxPHLL = 16
)

var hllMagic = [4]byte{'H', 'L', 'L', '1'}

const hllVersion = 1

// Re-exported so callers can errors.As against a single shared taxonomy.
type (
	ParameterError          = sketchio.ParameterError
	IncompatibleSketchError = sketchio.IncompatibleSketchError
	HashWidthError          = sketchio.HashWidthError
	SerializationError      = sketchio.SerializationError
)

// HyperLogLog is a 32-bit-hash cardinality estimator with m = 2^p
// registers.
type HyperLogLog struct {
	p uint8
	m uint32
	R []uint8
}

type config struct {
	p uint8
}

// Option configures a HyperLogLog or HyperLogLogPlus at construction.
type Option func(*config) error

// WithP sets the precision p. Default 8.
func WithP(p uint8) Option {
	return func(c *config) error {
		c.p = p
		return nil
	}
}

// New constructs an empty HyperLogLog with m = 2^p registers, all zero.
// p must be in [4, 16].
func New(opts ...Option) (*HyperLogLog, error) {
	cfg := config{p: 8}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if cfg.p < minP || cfg.p > maxPHLL {
		return nil, &sketchio.ParameterError{Param: "p", Value: cfg.p, Want: "in [4, 16]"}
	}
	m := uint32(1) << cfg.p
	return &HyperLogLog{p: cfg.p, m: m, R: make([]uint8, m)}, nil
}

// P returns the precision.
func (h *HyperLogLog) P() uint8 { return h.p }

// M returns the register count 2^p.
func (h *HyperLogLog) M() uint32 { return h.m }

// Add ingests one element's 32-bit hash digest (low 4 bytes,
// little-endian) and updates the appropriate register.
func (h *HyperLogLog) Add(digest []byte) error {
	x, err := sketchio.Uint32LE(digest)
	if err != nil {
		return err
	}
	j := x & (h.m - 1)
	wprime := x >> h.p
	r := rho32(wprime, h.p)
	if r > h.R[j] {
		h.R[j] = r
	}
	return nil
}

// rho32 is one plus the number of leading zeros of wprime within its
// (32-p)-bit field, with rho(0) = (32-p)+1.
func rho32(wprime uint32, p uint8) uint8 {
	width := 32 - int(p)
	if wprime == 0 {
		return uint8(width + 1)
	}
	return uint8(bits.LeadingZeros32(wprime<<p) + 1)
}

// Merge combines other's registers into h by taking the elementwise
// maximum. Fails with IncompatibleSketchError on mismatched p.
func (h *HyperLogLog) Merge(other *HyperLogLog) error {
	if h.p != other.p {
		return &sketchio.IncompatibleSketchError{Op: "merge", Reason: "p mismatch"}
	}
	for i := range h.R {
		if other.R[i] > h.R[i] {
			h.R[i] = other.R[i]
		}
	}
	return nil
}

const twoPow32 = 4294967296.0

// Count returns the cardinality estimate, applying the small- and
// large-range corrections described in the HyperLogLog paper.
func (h *HyperLogLog) Count() float64 {
	m := float64(h.m)
	e := rawEstimate(h.R, h.m)

	if e <= 2.5*m {
		if v := countZeros(h.R); v > 0 {
			return m * math.Log(m/float64(v))
		}
		return e
	}
	if e > twoPow32/30 {
		return -twoPow32 * math.Log(1-e/twoPow32)
	}
	return e
}

// rawEstimate computes the alpha-corrected harmonic-mean estimator shared
// by HyperLogLog and HyperLogLogPlus.
func rawEstimate(r []uint8, m uint32) float64 {
	var sum float64
	for _, v := range r {
		sum += 1.0 / float64(uint64(1)<<uint(v))
	}
	fm := float64(m)
	return alphaM(m) * fm * fm / sum
}

// alphaM is the bias-correction constant for m registers, tabulated for
// m in {16, 32, 64} and given by the general formula otherwise.
func alphaM(m uint32) float64 {
	switch m {
	case 16:
		return 0.673102023867666
	case 32:
		return 0.6971226338010241
	case 64:
		return 0.7092084528700233
	default:
		return 0.7213 / (1 + 1.079/float64(m))
	}
}

func countZeros(r []uint8) int {
	var v int
	for _, x := range r {
		if x == 0 {
			v++
		}
	}
	return v
}

// Bytesize returns the exact length of h's encoded form.
func (h *HyperLogLog) Bytesize() int {
	return sketchio.HeaderSize + 1 + int(h.m)
}

// MarshalBinary encodes h as magic, version, p (u8), and R (2^p u8s).
func (h *HyperLogLog) MarshalBinary() ([]byte, error) {
	buf := make([]byte, h.Bytesize())
	sketchio.PutHeader(buf, hllMagic, hllVersion)
	off := sketchio.HeaderSize
	buf[off] = h.p
	off++
	copy(buf[off:], h.R)
	return buf, nil
}

// UnmarshalBinary decodes a buffer produced by MarshalBinary into h.
func (h *HyperLogLog) UnmarshalBinary(data []byte) error {
	version, rest, err := sketchio.ReadHeader(data, hllMagic)
	if err != nil {
		return err
	}
	if version != hllVersion {
		return &sketchio.SerializationError{Reason: fmt.Sprintf("unsupported hyperloglog version %d", version)}
	}
	if len(rest) < 1 {
		return &sketchio.SerializationError{Reason: "truncated hyperloglog header"}
	}
	p := rest[0]
	if p < minP || p > maxPHLL {
		return &sketchio.SerializationError{Reason: fmt.Sprintf("invalid precision %d", p)}
	}
	m := uint32(1) << p
	rest = rest[1:]
	if uint32(len(rest)) != m {
		return &sketchio.SerializationError{Reason: fmt.Sprintf("expected %d registers, got %d", m, len(rest))}
	}

	h.p = p
	h.m = m
	h.R = append([]uint8(nil), rest...)
	return nil
}

// Load decodes a buffer produced by MarshalBinary into a new HyperLogLog.
func Load(data []byte) (*HyperLogLog, error) {
	h := &HyperLogLog{}
	if err := h.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return h, nil
}

// Equal reports whether h and other have the same precision and
// registers.
func (h *HyperLogLog) Equal(other *HyperLogLog) bool {
	if other == nil || h.p != other.p || len(h.R) != len(other.R) {
		return false
	}
	for i := range h.R {
		if h.R[i] != other.R[i] {
			return false
		}
	}
	return true
}
