package hyperloglog

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/KaneFu/datasketch/internal/sketchio"
)

const maxPHLLPlus = 18

var hllPlusMagic = [4]byte{'H', 'L', 'P', '1'}

const hllPlusVersion = 1

// HyperLogLogPlus is a 64-bit-hash cardinality estimator using the
// HyperLogLog++ bias-correction scheme. It shares its register shape and
// alphaM constant with HyperLogLog but has no large-range correction —
// the 64-bit hash's dynamic range makes it unnecessary.
type HyperLogLogPlus struct {
	p uint8
	m uint32
	R []uint8
}

// NewPlus constructs an empty HyperLogLogPlus with m = 2^p registers.
// p must be in [4, 18].
func NewPlus(opts ...Option) (*HyperLogLogPlus, error) {
	cfg := config{p: 8}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if cfg.p < minP || cfg.p > maxPHLLPlus {
		return nil, &sketchio.ParameterError{Param: "p", Value: cfg.p, Want: "in [4, 18]"}
	}
	m := uint32(1) << cfg.p
	return &HyperLogLogPlus{p: cfg.p, m: m, R: make([]uint8, m)}, nil
}

// P returns the precision.
func (h *HyperLogLogPlus) P() uint8 { return h.p }

// M returns the register count 2^p.
func (h *HyperLogLogPlus) M() uint32 { return h.m }

// Add ingests one element's 64-bit hash digest (low 8 bytes,
// little-endian) and updates the appropriate register.
func (h *HyperLogLogPlus) Add(digest []byte) error {
	x, err := sketchio.Uint64LE(digest)
	if err != nil {
		return err
	}
	j := uint32(x & (uint64(h.m) - 1))
	wprime := x >> h.p
	r := rho64(wprime, h.p)
	if r > h.R[j] {
		h.R[j] = r
	}
	return nil
}

// rho64 is one plus the number of leading zeros of wprime within its
// (64-p)-bit field, with rho(0) = (64-p)+1.
func rho64(wprime uint64, p uint8) uint8 {
	width := 64 - int(p)
	if wprime == 0 {
		return uint8(width + 1)
	}
	return uint8(bits.LeadingZeros64(wprime<<p) + 1)
}

// Merge combines other's registers into h by taking the elementwise
// maximum. Fails with IncompatibleSketchError on mismatched p.
func (h *HyperLogLogPlus) Merge(other *HyperLogLogPlus) error {
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

// Count returns the cardinality estimate using the HyperLogLog++
// bias-corrected estimator with a linear-counting fallback; there is no
// large-range correction.
func (h *HyperLogLogPlus) Count() float64 {
	m := float64(h.m)
	e := rawEstimate(h.R, h.m)

	if e <= 5*m {
		e -= h.estimateBias(e)
	}

	if v := countZeros(h.R); v > 0 {
		lc := m * math.Log(m/float64(v))
		if lc <= hllPlusThreshold[h.p-minP] {
			return lc
		}
	}
	return e
}

// estimateBias linearly interpolates the bias correction for a raw
// estimate, clamping to the table's first or last entry outside its
// range.
func (h *HyperLogLogPlus) estimateBias(est float64) float64 {
	estTable := rawEstimateData[h.p-minP]
	biasTable := biasData[h.p-minP]

	if est <= estTable[0] {
		return biasTable[0]
	}
	if est >= estTable[len(estTable)-1] {
		return biasTable[len(biasTable)-1]
	}

	i := 0
	for i < len(estTable) && estTable[i] < est {
		i++
	}
	e0, b0 := estTable[i-1], biasTable[i-1]
	e1, b1 := estTable[i], biasTable[i]

	frac := (est - e0) / (e1 - e0)
	return b0 + frac*(b1-b0)
}

// Bytesize returns the exact length of h's encoded form.
func (h *HyperLogLogPlus) Bytesize() int {
	return sketchio.HeaderSize + 1 + int(h.m)
}

// MarshalBinary encodes h as magic, version, p (u8), and R (2^p u8s).
// HyperLogLogPlus uses a distinct magic tag from HyperLogLog so loads
// can't silently cross variants.
func (h *HyperLogLogPlus) MarshalBinary() ([]byte, error) {
	buf := make([]byte, h.Bytesize())
	sketchio.PutHeader(buf, hllPlusMagic, hllPlusVersion)
	off := sketchio.HeaderSize
	buf[off] = h.p
	off++
	copy(buf[off:], h.R)
	return buf, nil
}

// UnmarshalBinary decodes a buffer produced by MarshalBinary into h.
func (h *HyperLogLogPlus) UnmarshalBinary(data []byte) error {
	version, rest, err := sketchio.ReadHeader(data, hllPlusMagic)
	if err != nil {
		return err
	}
	if version != hllPlusVersion {
		return &sketchio.SerializationError{Reason: fmt.Sprintf("unsupported hyperloglog++ version %d", version)}
	}
	if len(rest) < 1 {
		return &sketchio.SerializationError{Reason: "truncated hyperloglog++ header"}
	}
	p := rest[0]
	if p < minP || p > maxPHLLPlus {
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

// LoadPlus decodes a buffer produced by MarshalBinary into a new
// HyperLogLogPlus.
func LoadPlus(data []byte) (*HyperLogLogPlus, error) {
	h := &HyperLogLogPlus{}
	if err := h.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return h, nil
}

// Equal reports whether h and other have the same precision and
// registers.
func (h *HyperLogLogPlus) Equal(other *HyperLogLogPlus) bool {
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
