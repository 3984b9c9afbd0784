package jam

import (
	"errors"
)

var (
	// errFirstByteNineByteSerialization is returned when the first byte has wrong value in 9-byte serialization
	errFirstByteNineByteSerialization = errors.New("expected first byte to be 255 for 9-byte serialization")
	ErrInvalidPointer                 = errors.New("invalid pointer")
	ErrDecodingBool                   = errors.New("error decoding boolean")
	ErrTrailingBytes                  = errors.New("trailing bytes after value")
	ErrLengthExceedsInput             = errors.New("length prefix exceeds remaining input")

	ErrUnsupportedType                   = "unsupported type: %v"
	ErrReadingBytes                      = "error reading bytes: %w"
	ErrDecodingUint                      = "error decoding uint: %w"
	ErrEncodingStructField               = "encoding struct field '%s': %w"
	ErrDecodingStructField               = "decoding struct field '%s': %w"
	ErrConflictingTags                   = "field '%s': length and encoding tags are mutually exclusive"
	ErrInvalidLengthValue                = "field '%s': invalid length: %w"
	ErrUnSuportedFieldForCompactEncoding = "compact encoding is not supported for %v"
	ErrValueOverflow                     = "value %d overflows %v"
	ErrNegativeCompact                   = "negative value %d cannot be compact encoded"
)
