// Package bfloat16 holds the 16 bits "brain float" storage type used for blobs of dtype BFloat16.
//
// Only storage and conversion are provided: the compiler never does arithmetic on it, kernels convert
// to float32 first.
package bfloat16

import (
	"math"
	"strconv"
)

// BFloat16 keeps the upper 16 bits of an IEEE 754 float32: same exponent range, 7 bits of mantissa.
type BFloat16 uint16

// Float32 widens f to a float32, exactly.
func (f BFloat16) Float32() float32 {
	return math.Float32frombits(uint32(f) << 16)
}

// FromFloat32 converts a float32 to a BFloat16 by truncation.
func FromFloat32(x float32) BFloat16 {
	return BFloat16(math.Float32bits(x) >> 16)
}

// FromFloat64 converts a float64 to a BFloat16, going through float32.
func FromFloat64(x float64) BFloat16 {
	return FromFloat32(float32(x))
}

// String implements fmt.Stringer.
func (f BFloat16) String() string {
	return strconv.FormatFloat(float64(f.Float32()), 'f', -1, 32)
}
