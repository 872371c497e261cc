package dtypes

// DType is an enum representing the element data type of a blob.
//
// The numeric values follow the XLA/PJRT buffer type numbering, so plans written by other tools keep
// the same integer codes.
type DType int32

//go:generate go tool enumer -type DType -trimprefix=DType -output=gen_dtype_enumer.go dtype_enum.go

const (
	// InvalidDType is the zero value, used for blobs whose type has not been inferred yet.
	InvalidDType DType = 0

	// Bool is a two-state boolean.
	Bool DType = 1

	// Int8 and the following are signed integral values of fixed width.
	Int8  DType = 2
	Int16 DType = 3
	Int32 DType = 4
	Int64 DType = 5

	// Uint8 and the following are unsigned integral values of fixed width.
	Uint8  DType = 6
	Uint16 DType = 7
	Uint32 DType = 8
	Uint64 DType = 9

	// Float16 is the IEEE half-precision float.
	Float16 DType = 10
	Float32 DType = 11
	Float64 DType = 12

	// BFloat16 is the truncated 16 bits "brain" float: 1 bit for the sign, 8 bits for the exponent
	// and 7 bits for the mantissa.
	BFloat16 DType = 13
)
