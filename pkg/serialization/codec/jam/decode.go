package jam

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"math/bits"
	"reflect"
)

// Unmarshal decodes data into dst, which must be a non-nil pointer. Every
// byte of data has to be consumed.
func Unmarshal(data []byte, dst interface{}) error {
	dstv := reflect.ValueOf(dst)
	if dstv.Kind() != reflect.Ptr || dstv.IsNil() {
		return ErrInvalidPointer
	}
	br := byteReader{Reader: bytes.NewReader(data)}
	if err := br.unmarshal(dstv.Elem()); err != nil {
		return err
	}
	if br.Len() != 0 {
		return fmt.Errorf("%w: %d", ErrTrailingBytes, br.Len())
	}
	return nil
}

type byteReader struct {
	*bytes.Reader
}

func (br *byteReader) unmarshal(value reflect.Value) error {
	switch value.Kind() {
	case reflect.Bool:
		return br.decodeBool(value)
	case reflect.Int, reflect.Uint:
		return br.decodeCompactInto(value)
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return br.decodeFixedWidth(value, uint(value.Type().Size()))
	case reflect.Ptr:
		present, err := br.readPresence()
		if err != nil {
			return err
		}
		if !present {
			value.Set(reflect.Zero(value.Type()))
			return nil
		}
		elem := reflect.New(value.Type().Elem())
		if err := br.unmarshal(elem.Elem()); err != nil {
			return err
		}
		value.Set(elem)
		return nil
	case reflect.Struct:
		return br.decodeStruct(value)
	case reflect.Array:
		return br.decodeArray(value)
	case reflect.Slice:
		return br.decodeSlice(value)
	default:
		return fmt.Errorf(ErrUnsupportedType, value.Type())
	}
}

func (br *byteReader) read(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(br, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf(ErrReadingBytes, err)
	}
	return buf, nil
}

func (br *byteReader) decodeStruct(value reflect.Value) error {
	t := value.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		fe, err := parseFieldTag(field.Name, field.Tag.Get("jam"))
		if err != nil {
			return err
		}
		if fe.skip {
			continue
		}
		fieldVal := value.Field(i)
		switch {
		case fe.length > 0:
			err = br.decodeFixedWidth(fieldVal, fe.length)
		case fe.compact:
			err = br.decodeCompactInto(fieldVal)
		default:
			err = br.unmarshal(fieldVal)
		}
		if err != nil {
			return fmt.Errorf(ErrDecodingStructField, field.Name, err)
		}
	}
	return nil
}

func (br *byteReader) decodeArray(value reflect.Value) error {
	if value.Type().Elem() == byteType {
		buf, err := br.read(value.Len())
		if err != nil {
			return err
		}
		reflect.Copy(value, reflect.ValueOf(buf))
		return nil
	}
	for i := 0; i < value.Len(); i++ {
		if err := br.unmarshal(value.Index(i)); err != nil {
			return err
		}
	}
	return nil
}

func (br *byteReader) decodeSlice(value reflect.Value) error {
	n, err := br.decodeCompact()
	if err != nil {
		return err
	}
	// Every encoded element takes at least one byte, so a length past the
	// remaining input is corrupt and would otherwise drive a huge allocation.
	if n > uint64(br.Len()) && value.Type().Elem().Size() > 0 {
		return fmt.Errorf("%w: %d > %d", ErrLengthExceedsInput, n, br.Len())
	}
	if n == 0 {
		value.Set(reflect.Zero(value.Type()))
		return nil
	}
	if value.Type().Elem() == byteType {
		buf, err := br.read(int(n))
		if err != nil {
			return err
		}
		s := reflect.MakeSlice(value.Type(), int(n), int(n))
		reflect.Copy(s, reflect.ValueOf(buf))
		value.Set(s)
		return nil
	}
	s := reflect.Zero(value.Type())
	for i := uint64(0); i < n; i++ {
		elem := reflect.New(value.Type().Elem()).Elem()
		if err := br.unmarshal(elem); err != nil {
			return err
		}
		s = reflect.Append(s, elem)
	}
	value.Set(s)
	return nil
}

func (br *byteReader) decodeBool(value reflect.Value) error {
	b, err := br.read(1)
	if err != nil {
		return err
	}
	switch b[0] {
	case 0:
		value.SetBool(false)
	case 1:
		value.SetBool(true)
	default:
		return ErrDecodingBool
	}
	return nil
}

func (br *byteReader) readPresence() (bool, error) {
	var present bool
	if err := br.decodeBool(reflect.ValueOf(&present).Elem()); err != nil {
		return false, ErrInvalidPointer
	}
	return present, nil
}

func (br *byteReader) decodeCompact() (uint64, error) {
	prefix, err := br.read(1)
	if err != nil {
		return 0, fmt.Errorf(ErrDecodingUint, err)
	}
	l := uint8(bits.LeadingZeros8(^prefix[0]))
	rest, err := br.read(int(l))
	if err != nil {
		return 0, fmt.Errorf(ErrDecodingUint, err)
	}
	var v uint64
	if err := DeserializeUint64WithLength(append(prefix, rest...), l, &v); err != nil {
		return 0, fmt.Errorf(ErrDecodingUint, err)
	}
	return v, nil
}

func (br *byteReader) decodeCompactInto(value reflect.Value) error {
	v, err := br.decodeCompact()
	if err != nil {
		return err
	}
	if k := value.Kind(); k >= reflect.Int && k <= reflect.Int64 && v > math.MaxInt64 {
		return fmt.Errorf(ErrValueOverflow, v, value.Type())
	}
	return setInteger(value, v, 8)
}

func (br *byteReader) decodeFixedWidth(value reflect.Value, l uint) error {
	if value.Kind() == reflect.Ptr {
		present, err := br.readPresence()
		if err != nil {
			return err
		}
		if !present {
			value.Set(reflect.Zero(value.Type()))
			return nil
		}
		elem := reflect.New(value.Type().Elem())
		if err := br.decodeFixedWidth(elem.Elem(), l); err != nil {
			return err
		}
		value.Set(elem)
		return nil
	}
	buf, err := br.read(int(l))
	if err != nil {
		return fmt.Errorf(ErrDecodingUint, err)
	}
	x, ok := deserializeTrivialNatural(buf)
	if !ok {
		return fmt.Errorf(ErrValueOverflow, x, value.Type())
	}
	return setInteger(value, x, l)
}

// setInteger stores x, read from l bytes, into an integer value. Signed
// values narrower than eight bytes are sign extended.
func setInteger(value reflect.Value, x uint64, l uint) error {
	switch value.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v := int64(x)
		if l < 8 {
			shift := 64 - 8*l
			v = int64(x<<shift) >> shift
		}
		if value.OverflowInt(v) {
			return fmt.Errorf(ErrValueOverflow, x, value.Type())
		}
		value.SetInt(v)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if value.OverflowUint(x) {
			return fmt.Errorf(ErrValueOverflow, x, value.Type())
		}
		value.SetUint(x)
	default:
		return fmt.Errorf(ErrUnsupportedType, value.Type())
	}
	return nil
}
