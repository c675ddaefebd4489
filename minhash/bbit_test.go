package minhash

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBBit_RejectsOutOfRangeB(t *testing.T) {
	m, err := New(WithNumPerm(16))
	require.NoError(t, err)
	_, err = NewBBit(m, 0)
	require.Error(t, err)
	_, err = NewBBit(m, 65)
	require.Error(t, err)
}

// A b-bit projection of identical sketches is identical, and a 64-bit
// projection (no information lost) converges to the same estimate as
// the full MinHash Jaccard.
func TestBBit_SelfAndConvergence(t *testing.T) {
	m1, err := New(WithNumPerm(128))
	require.NoError(t, err)
	m2, err := New(WithNumPerm(128))
	require.NoError(t, err)
	digestAll(t, m1, tokens)
	digestAll(t, m2, tokens[:len(tokens)-2])

	fullJ, err := m1.Jaccard(m2)
	require.NoError(t, err)

	bm1, err := NewBBit(m1, 64)
	require.NoError(t, err)
	bm2, err := NewBBit(m2, 64)
	require.NoError(t, err)
	bJ, err := bm1.Jaccard(bm2)
	require.NoError(t, err)

	assert.InDelta(t, fullJ, bJ, 1e-9)

	selfJ, err := bm1.Jaccard(bm1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, selfJ)
}

// A low b (e.g. 1 bit) is lossy: the estimator must still land in [0, 1]
// and must not go negative even when the raw collision rate undershoots
// the expected-by-chance floor.
func TestBBit_EstimatorBounded(t *testing.T) {
	m1, err := New(WithNumPerm(128))
	require.NoError(t, err)
	m2, err := New(WithNumPerm(128))
	require.NoError(t, err)
	digestAll(t, m1, []string{"a", "b", "c"})
	digestAll(t, m2, []string{"x", "y", "z"})

	bm1, err := NewBBit(m1, 1)
	require.NoError(t, err)
	bm2, err := NewBBit(m2, 1)
	require.NoError(t, err)

	j, err := bm1.Jaccard(bm2)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, j, 0.0)
	assert.LessOrEqual(t, j, 1.0)
}

// Scenario E: identical registers give b=1 Jaccard exactly 1.0; unrelated
// random MinHashes give an estimate near 0, not near the 0.5 a naive
// single-bit collision rate would suggest.
func TestScenarioE_BBitJaccard(t *testing.T) {
	m, err := New(WithNumPerm(128))
	require.NoError(t, err)
	digestAll(t, m, tokens)

	bmSelf1, err := NewBBit(m, 1)
	require.NoError(t, err)
	bmSelf2, err := NewBBit(m, 1)
	require.NoError(t, err)
	j, err := bmSelf1.Jaccard(bmSelf2)
	require.NoError(t, err)
	assert.Equal(t, 1.0, j)

	other, err := New(WithNumPerm(128))
	require.NoError(t, err)
	independentWords := make([]string, 300)
	for i := range independentWords {
		independentWords[i] = fmt.Sprintf("independent-%d", i)
	}
	digestAll(t, other, independentWords)

	bmOther, err := NewBBit(other, 1)
	require.NoError(t, err)
	jInd, err := bmSelf1.Jaccard(bmOther)
	require.NoError(t, err)
	assert.Less(t, jInd, 0.3)
}

func TestBBit_IncompatibleParams(t *testing.T) {
	m1, err := New(WithNumPerm(32))
	require.NoError(t, err)
	m2, err := New(WithNumPerm(64))
	require.NoError(t, err)
	digestAll(t, m1, tokens)
	digestAll(t, m2, tokens)

	bm1, err := NewBBit(m1, 4)
	require.NoError(t, err)
	bm2, err := NewBBit(m2, 4)
	require.NoError(t, err)

	_, err = bm1.Jaccard(bm2)
	require.Error(t, err)
	var ie *IncompatibleSketchError
	assert.ErrorAs(t, err, &ie)
}

func TestBBit_RoundTrip(t *testing.T) {
	m, err := New(WithSeed(3), WithNumPerm(40))
	require.NoError(t, err)
	digestAll(t, m, tokens)

	for _, b := range []int{1, 4, 8, 17, 64} {
		bm, err := NewBBit(m, b)
		require.NoError(t, err)

		data, err := bm.MarshalBinary()
		require.NoError(t, err)
		assert.Equal(t, bm.Bytesize(), len(data))

		loaded, err := LoadBBit(data)
		require.NoError(t, err)
		assert.Equal(t, bm.b, loaded.b)
		assert.Equal(t, bm.seed, loaded.seed)
		assert.Equal(t, bm.numPerm, loaded.numPerm)
		assert.Equal(t, bm.L, loaded.L)
	}
}

func TestPackUnpackBits_RoundTrip(t *testing.T) {
	values := []uint64{0, 1, 255, 42, 1023, 7}
	for _, b := range []int{1, 3, 8, 10} {
		mask := bbitMask(b)
		masked := make([]uint64, len(values))
		for i, v := range values {
			masked[i] = v & mask
		}
		packed := make([]byte, (len(values)*b+7)/8)
		packBits(packed, masked, b)
		got := unpackBits(packed, len(values), b)
		assert.Equal(t, masked, got)
	}
}
