package jam

import (
	"bytes"
	"fmt"
	"io"
	"reflect"
)

var byteType = reflect.TypeOf(byte(0))

// Marshal encodes v. Fixed size integers are written little endian at their
// natural width, int, uint and every length prefix use the compact natural
// encoding, structs are their exported fields in order and a pointer is a
// presence byte followed by the value it points to.
func Marshal(v interface{}) ([]byte, error) {
	buffer := bytes.NewBuffer(nil)
	bw := byteWriter{Writer: buffer}
	if err := bw.marshal(reflect.ValueOf(v)); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

type byteWriter struct {
	io.Writer
}

func (bw *byteWriter) marshal(val reflect.Value) error {
	switch val.Kind() {
	case reflect.Bool:
		return bw.encodeBool(val.Bool())
	case reflect.Int, reflect.Uint:
		return bw.encodeCompact(val)
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return bw.encodeFixedWidth(val, uint(val.Type().Size()))
	case reflect.Ptr:
		if err := bw.encodeBool(!val.IsNil()); err != nil {
			return err
		}
		if val.IsNil() {
			return nil
		}
		return bw.marshal(val.Elem())
	case reflect.Struct:
		return bw.encodeStruct(val)
	case reflect.Array:
		return bw.encodeArray(val)
	case reflect.Slice:
		return bw.encodeSlice(val)
	case reflect.Invalid:
		return fmt.Errorf(ErrUnsupportedType, nil)
	default:
		return fmt.Errorf(ErrUnsupportedType, val.Type())
	}
}

func (bw *byteWriter) encodeStruct(val reflect.Value) error {
	t := val.Type()
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
		fieldVal := val.Field(i)
		switch {
		case fe.length > 0:
			err = bw.encodeFixedWidth(fieldVal, fe.length)
		case fe.compact:
			err = bw.encodeCompact(fieldVal)
		default:
			err = bw.marshal(fieldVal)
		}
		if err != nil {
			return fmt.Errorf(ErrEncodingStructField, field.Name, err)
		}
	}
	return nil
}

func (bw *byteWriter) encodeArray(val reflect.Value) error {
	if val.Type().Elem() == byteType {
		buf := make([]byte, val.Len())
		for i := range buf {
			buf[i] = byte(val.Index(i).Uint())
		}
		_, err := bw.Write(buf)
		return err
	}
	for i := 0; i < val.Len(); i++ {
		if err := bw.marshal(val.Index(i)); err != nil {
			return err
		}
	}
	return nil
}

func (bw *byteWriter) encodeSlice(val reflect.Value) error {
	if _, err := bw.Write(SerializeUint64(uint64(val.Len()))); err != nil {
		return err
	}
	if val.Type().Elem() == byteType {
		_, err := bw.Write(val.Bytes())
		return err
	}
	for i := 0; i < val.Len(); i++ {
		if err := bw.marshal(val.Index(i)); err != nil {
			return err
		}
	}
	return nil
}

func (bw *byteWriter) encodeBool(b bool) error {
	var v byte
	if b {
		v = 1
	}
	_, err := bw.Write([]byte{v})
	return err
}

// encodeCompact writes any integer kind in the general natural form.
func (bw *byteWriter) encodeCompact(val reflect.Value) error {
	var x uint64
	switch val.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if val.Int() < 0 {
			return fmt.Errorf(ErrNegativeCompact, val.Int())
		}
		x = uint64(val.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		x = val.Uint()
	default:
		return fmt.Errorf(ErrUnSuportedFieldForCompactEncoding, val.Type())
	}
	_, err := bw.Write(SerializeUint64(x))
	return err
}

// encodeFixedWidth writes an integer in exactly l bytes. A pointer gets the
// presence byte first.
func (bw *byteWriter) encodeFixedWidth(val reflect.Value, l uint) error {
	if val.Kind() == reflect.Ptr {
		if err := bw.encodeBool(!val.IsNil()); err != nil {
			return err
		}
		if val.IsNil() {
			return nil
		}
		val = val.Elem()
	}
	var x uint64
	switch val.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		x = uint64(val.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		x = val.Uint()
	default:
		return fmt.Errorf(ErrUnsupportedType, val.Type())
	}
	_, err := bw.Write(serializeTrivialNatural(x, l))
	return err
}
