package jam

import (
	"fmt"
	"strconv"
	"strings"
)

func parseTag(tag string) map[string]string {
	result := make(map[string]string)
	pairs := strings.Split(tag, ",")
	for _, pair := range pairs {
		kv := strings.Split(pair, "=")
		if len(kv) == 2 {
			result[kv[0]] = kv[1]
		}
	}
	return result
}

// fieldEncoding is what a `jam` struct tag asks for.
type fieldEncoding struct {
	skip    bool
	length  uint
	compact bool
}

func parseFieldTag(name, tag string) (fieldEncoding, error) {
	if tag == "-" {
		return fieldEncoding{skip: true}, nil
	}
	values := parseTag(tag)
	encoding, hasEncoding := values["encoding"]
	length, hasLength := values["length"]
	if hasLength && hasEncoding {
		return fieldEncoding{}, fmt.Errorf(ErrConflictingTags, name)
	}
	var fe fieldEncoding
	if hasLength {
		size, err := strconv.ParseUint(length, 10, 64)
		if err != nil {
			return fieldEncoding{}, fmt.Errorf(ErrInvalidLengthValue, name, err)
		}
		fe.length = uint(size)
	}
	fe.compact = hasEncoding && encoding == "compact"
	return fe, nil
}
