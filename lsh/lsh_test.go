package lsh

import (
	"crypto/sha1"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaneFu/datasketch/minhash"
)

func sha1Digest(s string) []byte {
	sum := sha1.Sum([]byte(s))
	return sum[:]
}

func sketchFor(t *testing.T, opts []minhash.Option, words []string) *minhash.MinHash {
	t.Helper()
	m, err := minhash.New(opts...)
	require.NoError(t, err)
	for _, w := range words {
		require.NoError(t, m.Digest(sha1Digest(w)))
	}
	return m
}

func TestNew_Defaults(t *testing.T) {
	idx, err := New()
	require.NoError(t, err)
	b, r := idx.Params()
	assert.Greater(t, b, 0)
	assert.Greater(t, r, 0)
	assert.LessOrEqual(t, b*r, 128)
}

func TestWithThreshold_RejectsOutOfRange(t *testing.T) {
	_, err := New(WithThreshold(0))
	require.Error(t, err)
	_, err = New(WithThreshold(1))
	require.Error(t, err)
}

func TestWithWeights_RejectsBadInputs(t *testing.T) {
	_, err := New(WithWeights(0.5, 0.6))
	require.Error(t, err)
	_, err = New(WithWeights(0, 1))
	require.Error(t, err)
}

// Invariant: (b, r) derivation is a pure deterministic function of
// (threshold, num_perm, weights) — repeated construction reproduces the
// exact same partition.
func TestOptimalParams_Deterministic(t *testing.T) {
	idx1, err := New(WithThreshold(0.6), WithNumPerm(64))
	require.NoError(t, err)
	idx2, err := New(WithThreshold(0.6), WithNumPerm(64))
	require.NoError(t, err)
	b1, r1 := idx1.Params()
	b2, r2 := idx2.Params()
	assert.Equal(t, b1, b2)
	assert.Equal(t, r1, r2)
}

// Invariant: a key is always found by querying its own signature.
func TestQuery_FindsSelf(t *testing.T) {
	idx, err := New(WithThreshold(0.5), WithNumPerm(64))
	require.NoError(t, err)
	opts := []minhash.Option{minhash.WithNumPerm(64)}

	m := sketchFor(t, opts, []string{"a", "b", "c", "d", "e"})
	require.NoError(t, idx.Insert("doc1", m))

	got, err := idx.Query(m)
	require.NoError(t, err)
	assert.Contains(t, got, "doc1")
}

// Scenario C: near-duplicate documents above threshold are returned by a
// query built from one of them.
func TestQuery_FindsNearDuplicate(t *testing.T) {
	idx, err := New(WithThreshold(0.5), WithNumPerm(128))
	require.NoError(t, err)
	opts := []minhash.Option{minhash.WithNumPerm(128)}

	base := []string{
		"the", "quick", "brown", "fox", "jumps", "over",
		"a", "lazy", "dog", "near", "the", "river", "bank",
	}
	near := append(append([]string{}, base...), "today")

	m1 := sketchFor(t, opts, base)
	m2 := sketchFor(t, opts, near)
	require.NoError(t, idx.Insert("base-doc", m1))

	got, err := idx.Query(m2)
	require.NoError(t, err)
	assert.Contains(t, got, "base-doc")
}

func TestInsert_RejectsIncompatibleSketch(t *testing.T) {
	idx, err := New(WithNumPerm(64))
	require.NoError(t, err)
	m := sketchFor(t, []minhash.Option{minhash.WithNumPerm(32)}, []string{"a"})
	err = idx.Insert("x", m)
	require.Error(t, err)
	var ie *IncompatibleSketchError
	assert.ErrorAs(t, err, &ie)
}

func TestInsert_RejectsWrongSeed(t *testing.T) {
	idx, err := New(WithNumPerm(64), WithSeed(1))
	require.NoError(t, err)
	m := sketchFor(t, []minhash.Option{minhash.WithNumPerm(64), minhash.WithSeed(2)}, []string{"a"})
	err = idx.Insert("x", m)
	require.Error(t, err)
	var ie *IncompatibleSketchError
	assert.ErrorAs(t, err, &ie)
}

func TestInsert_RejectsDuplicateKey(t *testing.T) {
	idx, err := New(WithNumPerm(64))
	require.NoError(t, err)
	opts := []minhash.Option{minhash.WithNumPerm(64)}
	m := sketchFor(t, opts, []string{"a", "b"})

	require.NoError(t, idx.Insert("dup", m))
	err = idx.Insert("dup", m)
	require.Error(t, err)
	var de *DuplicateKeyError
	assert.ErrorAs(t, err, &de)
}

func TestContains(t *testing.T) {
	idx, err := New(WithNumPerm(32))
	require.NoError(t, err)
	m := sketchFor(t, []minhash.Option{minhash.WithNumPerm(32)}, []string{"a"})
	assert.False(t, idx.Contains("k"))
	require.NoError(t, idx.Insert("k", m))
	assert.True(t, idx.Contains("k"))
}

func TestQuery_NoMatchForDisjointSets(t *testing.T) {
	idx, err := New(WithThreshold(0.7), WithNumPerm(128))
	require.NoError(t, err)
	opts := []minhash.Option{minhash.WithNumPerm(128)}

	words := make([]string, 200)
	for i := range words {
		words[i] = fmt.Sprintf("left-%d", i)
	}
	other := make([]string, 200)
	for i := range other {
		other[i] = fmt.Sprintf("right-%d", i)
	}

	m1 := sketchFor(t, opts, words)
	m2 := sketchFor(t, opts, other)
	require.NoError(t, idx.Insert("left-doc", m1))

	got, err := idx.Query(m2)
	require.NoError(t, err)
	assert.NotContains(t, got, "left-doc")
}

func TestRoundTrip(t *testing.T) {
	idx, err := New(WithThreshold(0.4), WithNumPerm(48))
	require.NoError(t, err)
	opts := []minhash.Option{minhash.WithNumPerm(48)}

	m1 := sketchFor(t, opts, []string{"a", "b", "c"})
	m2 := sketchFor(t, opts, []string{"d", "e", "f"})
	require.NoError(t, idx.Insert("doc1", m1))
	require.NoError(t, idx.Insert("doc2", m2))

	data, err := idx.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, idx.Bytesize(), len(data))

	loaded, err := Load(data)
	require.NoError(t, err)

	b1, r1 := idx.Params()
	b2, r2 := loaded.Params()
	assert.Equal(t, b1, b2)
	assert.Equal(t, r1, r2)
	assert.True(t, loaded.Contains("doc1"))
	assert.True(t, loaded.Contains("doc2"))

	got, err := loaded.Query(m1)
	require.NoError(t, err)
	assert.Contains(t, got, "doc1")
}

func TestLoad_RejectsBadMagic(t *testing.T) {
	_, err := Load([]byte("not an lsh index buffer"))
	require.Error(t, err)
	var se *SerializationError
	assert.ErrorAs(t, err, &se)
}

func TestBandSignature_Deterministic(t *testing.T) {
	a := bandSignature([]uint64{1, 2, 3})
	b := bandSignature([]uint64{1, 2, 3})
	c := bandSignature([]uint64{1, 2, 4})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
