package jam

import (
	"encoding/binary"
	"math"
)

// SerializeUint64 encodes x in one to nine bytes. The count of leading one
// bits of the prefix byte is the number of bytes that follow.
func SerializeUint64(x uint64) []byte {
	var l uint8
	for l = 0; l < 8; l++ {
		if x < (1 << (7 * (l + 1))) {
			break
		}
	}
	bytes := make([]byte, 0, l+1)
	if l < 8 {
		prefix := uint8((256 - (1 << (8 - l))) + (x>>(8*l))&math.MaxUint8)
		bytes = append(bytes, prefix)
	} else {
		bytes = append(bytes, math.MaxUint8)
	}
	for i := 0; i < int(l); i++ {
		bytes = append(bytes, uint8((x>>(8*i))&math.MaxUint8))
	}
	return bytes
}

// DeserializeUint64WithLength decodes serialized, whose prefix announced l
// following bytes.
func DeserializeUint64WithLength(serialized []byte, l uint8, u *uint64) error {
	*u = 0

	n := len(serialized)
	if n == 0 {
		return nil
	}

	if n > 8 {
		if serialized[0] != math.MaxUint8 {
			return errFirstByteNineByteSerialization
		}
		*u = binary.LittleEndian.Uint64(serialized[1:9])
		return nil
	}

	for i := uint8(0); i < l; i++ {
		*u |= uint64(serialized[i+1]) << (8 * i)
	}
	*u |= uint64(serialized[0]&(math.MaxUint8>>l)) << (8 * l)

	return nil
}
