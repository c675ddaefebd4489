// Package sketchio holds the pieces shared by every sketch implementation
// in this module: the error taxonomy, the low-order-bytes hash adapter, and
// the framed binary header used by every sketch's MarshalBinary.
//
// None of it is exported to callers of minhash, hyperloglog, or lsh
// directly; each of those packages re-exports the error types as aliases so
// a caller never needs to import this package by name.
package sketchio

import "fmt"

// ParameterError reports an invalid construction parameter: an
// out-of-range p or b, a non-positive num_perm, weights that don't sum to
// one, or a threshold outside (0, 1).
type ParameterError struct {
	Param string
	Value interface{}
	Want  string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("sketch: invalid %s=%v, want %s", e.Param, e.Value, e.Want)
}

// IncompatibleSketchError reports an operation attempted across two
// sketches (or a sketch and an LSH index) whose num_perm, seed, p, or b
// don't match.
type IncompatibleSketchError struct {
	Op     string
	Reason string
}

func (e *IncompatibleSketchError) Error() string {
	return fmt.Sprintf("sketch: %s: %s", e.Op, e.Reason)
}

// HashWidthError reports a digest shorter than the sketch's required hash
// width.
type HashWidthError struct {
	Got, Want int
}

func (e *HashWidthError) Error() string {
	return fmt.Sprintf("sketch: digest too short: got %d bytes, need at least %d", e.Got, e.Want)
}

// DuplicateKeyError reports an LSH Insert on a key already present in the
// index.
type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("sketch: key %q already indexed", e.Key)
}

// SerializationError reports a bad magic tag, a version mismatch, or a
// truncated buffer on load.
type SerializationError struct {
	Reason string
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("sketch: serialization: %s", e.Reason)
}
