// Package wire holds the little-endian primitives shared by every envelope payload.
//
// Strings and byte blocks carry an int32 length prefix where -1 encodes null and 0
// encodes empty. Nested blocks carry an int32 byte length followed by the block.
package wire

import "errors"

const nullLength int32 = -1

var (
	ErrTruncated     = errors.New("wire: truncated data")
	ErrInvalidLength = errors.New("wire: invalid length")
)

// NullString is a string that distinguishes null from empty on the wire.
type NullString struct {
	Value string
	Valid bool
}

// Str returns a non-null NullString.
func Str(s string) NullString {
	return NullString{Value: s, Valid: true}
}

// String returns the value, or "" when null.
func (s NullString) String() string {
	return s.Value
}

// IsNull reports whether s encodes the null marker.
func (s NullString) IsNull() bool {
	return !s.Valid
}
