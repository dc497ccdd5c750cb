package fitsSource

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"
)

//ToInt converts header or table values to int64. Floats are accepted if they have no fractional part
func ToInt(name string, v interface{}) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		return int64(x), nil
	case *big.Int:
		if x.IsInt64() {
			return x.Int64(), nil
		}
	case float32:
		if float32(int64(x)) == x {
			return int64(x), nil
		}
	case float64:
		if float64(int64(x)) == x {
			return int64(x), nil
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
			return i, nil
		}
	}
	return 0, &ConversionError{Name: name, Value: v, Want: "int"}
}

//ToFloat converts header or table values to float64
func ToFloat(name string, v interface{}) (float64, error) {
	switch x := v.(type) {
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return f, nil
		}
		return 0, &ConversionError{Name: name, Value: v, Want: "float"}
	}
	i, err := ToInt(name, v)
	if err != nil {
		return 0, &ConversionError{Name: name, Value: v, Want: "float"}
	}
	return float64(i), nil
}

//ToString converts header or table values to strings. Logical values become "T" or "F", numbers are rejected
func ToString(name string, v interface{}) (string, error) {
	switch x := v.(type) {
	case bool:
		if x {
			return "T", nil
		}
		return "F", nil
	case string:
		return strings.TrimRight(x, " "), nil
	case []byte:
		return strings.TrimRight(string(x), " \x00"), nil
	}
	return "", &ConversionError{Name: name, Value: v, Want: "string"}
}

//ToInts converts array valued table cells (slices or arrays of numbers) to []int64
func ToInts(name string, v interface{}) ([]int64, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		//scalar cells are treated as arrays of length 1
		i, err := ToInt(name, v)
		if err != nil {
			return nil, err
		}
		return []int64{i}, nil
	}
	res := make([]int64, rv.Len())
	for i := range res {
		var err error
		if res[i], err = ToInt(name, rv.Index(i).Interface()); err != nil {
			return nil, err
		}
	}
	return res, nil
}

//RowValue looks up column in row
func RowValue(row Row, column string) (interface{}, error) {
	v, ok := row[column]
	if !ok {
		return nil, fmt.Errorf("column %v : %w", column, ErrKeyNotFound)
	}
	return v, nil
}

//DecodeImage converts the big endian raw image bytes with the given BITPIX to float32, applying
//value = bzero + bscale*raw. Only the first count values are decoded
func DecodeImage(raw []byte, bitpix int, bscale, bzero float64, count int) ([]float32, error) {
	bytesPerValue := int(math.Abs(float64(bitpix))) / 8
	if bytesPerValue == 0 {
		return nil, fmt.Errorf("invalid BITPIX %v", bitpix)
	}
	if count < 0 || count*bytesPerValue > len(raw) {
		return nil, fmt.Errorf("image has %v values, requested %v", len(raw)/bytesPerValue, count)
	}
	scaled := bscale != 1 || bzero != 0
	out := make([]float32, count)
	for i := range out {
		b := raw[i*bytesPerValue : (i+1)*bytesPerValue]
		var v float64
		switch bitpix {
		case 8:
			v = float64(b[0])
		case 16:
			v = float64(int16(binary.BigEndian.Uint16(b)))
		case 32:
			v = float64(int32(binary.BigEndian.Uint32(b)))
		case 64:
			v = float64(int64(binary.BigEndian.Uint64(b)))
		case -32:
			if !scaled {
				out[i] = math.Float32frombits(binary.BigEndian.Uint32(b))
				continue
			}
			v = float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
		case -64:
			v = math.Float64frombits(binary.BigEndian.Uint64(b))
		default:
			return nil, fmt.Errorf("unsupported BITPIX %v", bitpix)
		}
		if scaled {
			v = bzero + bscale*v
		}
		out[i] = float32(v)
	}
	return out, nil
}
