// Package lsh implements a band-based MinHash LSH index: given a query
// MinHash signature, it returns the keys of previously inserted
// signatures whose true Jaccard similarity likely exceeds a configured
// threshold, in time sub-linear in the number of indexed keys.
//
// The index partitions each signature's num_perm registers into b
// contiguous bands of r registers (b*r <= num_perm) and hashes each band
// to a signature used as a hash-table key. Two signatures that agree on
// any entire band are reported as candidates. (b, r) are chosen at
// construction by numerically minimizing a false-positive/false-negative
// weighted error over the search grid — see optimalParams.
package lsh

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"

	"gonum.org/v1/gonum/integrate"

	"github.com/KaneFu/datasketch/internal/sketchio"
	"github.com/KaneFu/datasketch/minhash"
)

var lshMagic = [4]byte{'L', 'S', 'H', '1'}

const lshVersion = 1

// integrationSamples is the number of subintervals used to numerically
// integrate the false-positive/false-negative probability curves. The
// spec's floor is 1000; Simpson's rule at this sample count is stable
// well past the required 1e-6.
const integrationSamples = 1000

// Re-exported so callers can errors.As against a single shared taxonomy.
type (
	ParameterError          = sketchio.ParameterError
	IncompatibleSketchError = sketchio.IncompatibleSketchError
	DuplicateKeyError       = sketchio.DuplicateKeyError
	SerializationError      = sketchio.SerializationError
)

// Weights trades off false positives against false negatives when
// choosing (b, r); FP and FN must each lie in (0, 1) and sum to 1.
type Weights struct {
	FP, FN float64
}

// Index is a MinHash LSH index. All sketches indexed must share Index's
// num_perm and seed.
type Index struct {
	threshold float64
	numPerm   int
	weights   Weights
	seed      int64

	b, r   int
	tables []map[string][]string // tables[t][signature] = keys
	keys   map[string][]string   // keys[key][t] = signature in band t
}

type config struct {
	threshold float64
	numPerm   int
	weights   Weights
	seed      int64
}

// Option configures an Index at construction.
type Option func(*config) error

// WithThreshold sets the Jaccard similarity threshold. Default 0.5.
func WithThreshold(t float64) Option {
	return func(c *config) error {
		if t <= 0 || t >= 1 {
			return &sketchio.ParameterError{Param: "threshold", Value: t, Want: "in (0, 1)"}
		}
		c.threshold = t
		return nil
	}
}

// WithNumPerm sets the number of MinHash registers the index expects.
// Default 128.
func WithNumPerm(n int) Option {
	return func(c *config) error {
		if n < 1 {
			return &sketchio.ParameterError{Param: "num_perm", Value: n, Want: ">= 1"}
		}
		c.numPerm = n
		return nil
	}
}

// WithWeights sets the false-positive/false-negative trade-off. Both
// values must lie in (0, 1) and sum to 1. Default (0.5, 0.5).
func WithWeights(fp, fn float64) Option {
	return func(c *config) error {
		if fp <= 0 || fp >= 1 || fn <= 0 || fn >= 1 {
			return &sketchio.ParameterError{Param: "weights", Value: [2]float64{fp, fn}, Want: "each in (0, 1)"}
		}
		if math.Abs(fp+fn-1) > 1e-9 {
			return &sketchio.ParameterError{Param: "weights", Value: [2]float64{fp, fn}, Want: "summing to 1"}
		}
		c.weights = Weights{FP: fp, FN: fn}
		return nil
	}
}

// WithSeed sets the permutation-family seed sketches inserted into this
// index must share. Default 1, matching minhash.New's default.
func WithSeed(seed int64) Option {
	return func(c *config) error {
		c.seed = seed
		return nil
	}
}

// New constructs an empty Index, deriving (b, r) from threshold, numPerm,
// and weights via optimalParams.
func New(opts ...Option) (*Index, error) {
	cfg := config{threshold: 0.5, numPerm: 128, weights: Weights{FP: 0.5, FN: 0.5}, seed: 1}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	b, r := optimalParams(cfg.numPerm, cfg.threshold, cfg.weights)
	tables := make([]map[string][]string, b)
	for i := range tables {
		tables[i] = map[string][]string{}
	}
	return &Index{
		threshold: cfg.threshold,
		numPerm:   cfg.numPerm,
		weights:   cfg.weights,
		seed:      cfg.seed,
		b:         b,
		r:         r,
		tables:    tables,
		keys:      map[string][]string{},
	}, nil
}

// Params returns the chosen band count b and rows-per-band r.
func (idx *Index) Params() (b, r int) { return idx.b, idx.r }

// optimalParams searches the integer grid {(b, r) : b*r <= numPerm} for
// the pair minimizing weights.FP*FP(b,r) + weights.FN*FN(b,r), ties
// broken toward larger b. The search and the integration underneath it
// are both deterministic, so (b, r) reproduces byte-identically across
// runs for the same (threshold, numPerm, weights).
func optimalParams(numPerm int, threshold float64, w Weights) (b, r int) {
	const tol = 1e-9
	bestErr := math.Inf(1)
	bestB, bestR := 1, 1

	for bb := 1; bb <= numPerm; bb++ {
		for rr := 1; bb*rr <= numPerm; rr++ {
			fp := integrateFP(bb, rr, threshold)
			fn := integrateFN(bb, rr, threshold)
			errVal := w.FP*fp + w.FN*fn

			switch {
			case errVal < bestErr-tol:
				bestErr, bestB, bestR = errVal, bb, rr
			case math.Abs(errVal-bestErr) <= tol && bb > bestB:
				bestErr, bestB, bestR = errVal, bb, rr
			}
		}
	}
	return bestB, bestR
}

// integrateFP computes FP(b,r) = integral_0^threshold (1-(1-s^r)^b) ds.
func integrateFP(b, r int, threshold float64) float64 {
	f := func(s float64) float64 {
		return 1.0 - math.Pow(1.0-math.Pow(s, float64(r)), float64(b))
	}
	return integrateSampled(f, 0, threshold)
}

// integrateFN computes FN(b,r) = integral_threshold^1 (1-s^r)^b ds.
func integrateFN(b, r int, threshold float64) float64 {
	f := func(s float64) float64 {
		return math.Pow(1.0-math.Pow(s, float64(r)), float64(b))
	}
	return integrateSampled(f, threshold, 1)
}

// integrateSampled evaluates f at integrationSamples+1 evenly spaced
// points over [a, b] and integrates with gonum's composite Simpson's
// rule.
func integrateSampled(f func(float64) float64, a, b float64) float64 {
	n := integrationSamples
	x := make([]float64, n+1)
	y := make([]float64, n+1)
	step := (b - a) / float64(n)
	for i := 0; i <= n; i++ {
		xi := a + float64(i)*step
		x[i] = xi
		y[i] = f(xi)
	}
	return integrate.Simpsons(x, y)
}

// bandSignature hashes the little-endian concatenation of a band's
// register contents into a fixed-width, collision-resistant key.
func bandSignature(band []uint64) string {
	buf := make([]byte, 8*len(band))
	for i, v := range band {
		binary.LittleEndian.PutUint64(buf[i*8:], v)
	}
	sum := sha256.Sum256(buf)
	return string(sum[:])
}

// signatures computes the index's b band signatures for a register
// array of length num_perm.
func (idx *Index) signatures(regs []uint64) []string {
	sigs := make([]string, idx.b)
	for t := 0; t < idx.b; t++ {
		sigs[t] = bandSignature(regs[t*idx.r : (t+1)*idx.r])
	}
	return sigs
}

func (idx *Index) checkCompatible(op string, m *minhash.MinHash) error {
	if m.NumPerm() != idx.numPerm {
		return &sketchio.IncompatibleSketchError{Op: op, Reason: "num_perm mismatch"}
	}
	if m.Seed() != idx.seed {
		return &sketchio.IncompatibleSketchError{Op: op, Reason: "seed mismatch"}
	}
	return nil
}

// Insert adds key with MinHash signature m to the index. It fails with
// IncompatibleSketchError if m's num_perm or seed don't match the
// index's, and with DuplicateKeyError if key is already indexed — a
// repeat Insert never silently replaces the existing entry.
func (idx *Index) Insert(key string, m *minhash.MinHash) error {
	if err := idx.checkCompatible("insert", m); err != nil {
		return err
	}
	if _, exists := idx.keys[key]; exists {
		return &sketchio.DuplicateKeyError{Key: key}
	}

	sigs := idx.signatures(m.Registers())
	for t, sig := range sigs {
		idx.tables[t][sig] = append(idx.tables[t][sig], key)
	}
	idx.keys[key] = sigs
	return nil
}

// Contains reports whether key has been inserted.
func (idx *Index) Contains(key string) bool {
	_, ok := idx.keys[key]
	return ok
}

// Query returns, in unspecified order with duplicates removed, the keys
// whose indexed signature shares at least one band with m's.
func (idx *Index) Query(m *minhash.MinHash) ([]string, error) {
	if err := idx.checkCompatible("query", m); err != nil {
		return nil, err
	}

	sigs := idx.signatures(m.Registers())
	seen := make(map[string]struct{})
	var out []string
	for t, sig := range sigs {
		for _, k := range idx.tables[t][sig] {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				out = append(out, k)
			}
		}
	}
	return out, nil
}

// Bytesize returns the exact length of idx's encoded form.
func (idx *Index) Bytesize() int {
	buf, _ := idx.MarshalBinary()
	return len(buf)
}

// MarshalBinary encodes idx as magic, version, threshold (f64), num_perm
// (u32), weights (2 x f64), (b, r) (2 x u32), then each band's table as
// (count, (sig_len, sig_bytes, key_count, (key_len, key_bytes)...)...).
// The permutation-family seed is a construction-time parameter, not part
// of this byte layout (see DESIGN.md).
func (idx *Index) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	header := make([]byte, sketchio.HeaderSize)
	sketchio.PutHeader(header, lshMagic, lshVersion)
	buf.Write(header)

	writeFloat64(&buf, idx.threshold)
	writeUint32(&buf, uint32(idx.numPerm))
	writeFloat64(&buf, idx.weights.FP)
	writeFloat64(&buf, idx.weights.FN)
	writeUint32(&buf, uint32(idx.b))
	writeUint32(&buf, uint32(idx.r))

	for _, table := range idx.tables {
		writeUint32(&buf, uint32(len(table)))
		for sig, keys := range table {
			writeUint32(&buf, uint32(len(sig)))
			buf.WriteString(sig)
			writeUint32(&buf, uint32(len(keys)))
			for _, k := range keys {
				writeUint32(&buf, uint32(len(k)))
				buf.WriteString(k)
			}
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a buffer produced by MarshalBinary into idx.
// The decoded index's seed is reset to the package default (1); the
// caller must re-apply WithSeed-equivalent bookkeeping out of band if a
// non-default seed was in use (see DESIGN.md).
func (idx *Index) UnmarshalBinary(data []byte) error {
	version, rest, err := sketchio.ReadHeader(data, lshMagic)
	if err != nil {
		return err
	}
	if version != lshVersion {
		return &sketchio.SerializationError{Reason: fmt.Sprintf("unsupported lsh version %d", version)}
	}

	r := &byteReader{data: rest}
	threshold, err := r.f64()
	if err != nil {
		return err
	}
	numPerm, err := r.u32()
	if err != nil {
		return err
	}
	wfp, err := r.f64()
	if err != nil {
		return err
	}
	wfn, err := r.f64()
	if err != nil {
		return err
	}
	b, err := r.u32()
	if err != nil {
		return err
	}
	rr, err := r.u32()
	if err != nil {
		return err
	}

	tables := make([]map[string][]string, b)
	for t := range tables {
		count, err := r.u32()
		if err != nil {
			return err
		}
		table := make(map[string][]string, count)
		for i := uint32(0); i < count; i++ {
			sigLen, err := r.u32()
			if err != nil {
				return err
			}
			sigBytes, err := r.bytes(int(sigLen))
			if err != nil {
				return err
			}
			keyCount, err := r.u32()
			if err != nil {
				return err
			}
			keys := make([]string, keyCount)
			for j := uint32(0); j < keyCount; j++ {
				keyLen, err := r.u32()
				if err != nil {
					return err
				}
				keyBytes, err := r.bytes(int(keyLen))
				if err != nil {
					return err
				}
				keys[j] = string(keyBytes)
			}
			table[string(sigBytes)] = keys
		}
		tables[t] = table
	}

	idx.threshold = threshold
	idx.numPerm = int(numPerm)
	idx.weights = Weights{FP: wfp, FN: wfn}
	idx.b = int(b)
	idx.r = int(rr)
	idx.tables = tables
	idx.seed = 1

	idx.keys = map[string][]string{}
	for t, table := range idx.tables {
		for sig, ks := range table {
			for _, k := range ks {
				if idx.keys[k] == nil {
					idx.keys[k] = make([]string, idx.b)
				}
				idx.keys[k][t] = sig
			}
		}
	}
	return nil
}

// Load decodes a buffer produced by MarshalBinary into a new Index.
func Load(data []byte) (*Index, error) {
	idx := &Index{}
	if err := idx.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return idx, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeFloat64(buf *bytes.Buffer, v float64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v))
	buf.Write(tmp[:])
}

// byteReader is a bounds-checked cursor over a decode buffer.
type byteReader struct {
	data []byte
	off  int
}

func (r *byteReader) u32() (uint32, error) {
	if r.off+4 > len(r.data) {
		return 0, &sketchio.SerializationError{Reason: "truncated lsh buffer"}
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v, nil
}

func (r *byteReader) f64() (float64, error) {
	if r.off+8 > len(r.data) {
		return 0, &sketchio.SerializationError{Reason: "truncated lsh buffer"}
	}
	v := binary.LittleEndian.Uint64(r.data[r.off:])
	r.off += 8
	return math.Float64frombits(v), nil
}

func (r *byteReader) bytes(n int) ([]byte, error) {
	if r.off+n > len(r.data) {
		return nil, &sketchio.SerializationError{Reason: "truncated lsh buffer"}
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}
