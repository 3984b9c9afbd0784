package jam

// serializeTrivialNatural writes the l low-order bytes of x, little endian.
func serializeTrivialNatural(x uint64, l uint) []byte {
	bytes := make([]byte, l)
	for i := uint(0); i < l && i < 8; i++ {
		bytes[i] = byte(x >> (8 * i))
	}
	return bytes
}

// deserializeTrivialNatural reads a little endian integer. Bytes past the
// eighth must be zero.
func deserializeTrivialNatural(serialized []byte) (uint64, bool) {
	var x uint64
	for i, b := range serialized {
		if i >= 8 {
			if b != 0 {
				return 0, false
			}
			continue
		}
		x |= uint64(b) << (8 * i)
	}
	return x, true
}
