package cborval

import (
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode

func init() {
	opts := cbor.EncOptions{Sort: cbor.SortCanonical}
	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic(err)
	}
}

// Decode parses CBOR bytes into a value tree.
func Decode(data []byte) (Value, error) {
	var raw interface{}
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal CBOR: %w", err)
	}
	return FromInterface(raw)
}

// Encode serialises a value tree to canonical CBOR. Decode(Encode(v)) is
// structurally equal to v.
func Encode(v Value) ([]byte, error) {
	native, err := toInterface(v)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(native)
}

// FromInterface converts a decoded fxamacker value into the tree.
func FromInterface(raw interface{}) (Value, error) {
	switch v := raw.(type) {
	case nil:
		return Null{}, nil
	case bool:
		return Bool(v), nil
	case uint64:
		return NewIntegerFromBig(new(big.Int).SetUint64(v)), nil
	case int64:
		return NewInteger(v), nil
	case int:
		return NewInteger(int64(v)), nil
	case big.Int:
		return NewIntegerFromBig(&v), nil
	case *big.Int:
		return NewIntegerFromBig(v), nil
	case float64:
		return Float(v), nil
	case float32:
		return Float(v), nil
	case []byte:
		return Bytes(v), nil
	case string:
		return Text(v), nil
	case []interface{}:
		arr := make(Array, 0, len(v))
		for _, item := range v {
			converted, err := FromInterface(item)
			if err != nil {
				return nil, err
			}
			arr = append(arr, converted)
		}
		return arr, nil
	case map[interface{}]interface{}:
		m := make(Map, 0, len(v))
		for key, item := range v {
			keyText, ok := key.(string)
			if !ok {
				return nil, fmt.Errorf("unsupported map key type: %T", key)
			}
			converted, err := FromInterface(item)
			if err != nil {
				return nil, err
			}
			m = append(m, Entry{Key: Text(keyText), Value: converted})
		}
		return m, nil
	case map[string]interface{}:
		m := make(Map, 0, len(v))
		for key, item := range v {
			converted, err := FromInterface(item)
			if err != nil {
				return nil, err
			}
			m = append(m, Entry{Key: Text(key), Value: converted})
		}
		return m, nil
	case cbor.Tag:
		inner, err := FromInterface(v.Content)
		if err != nil {
			return nil, err
		}
		return Tag{Number: v.Number, Value: inner}, nil
	default:
		return nil, fmt.Errorf("unsupported CBOR value type: %T", raw)
	}
}

func toInterface(v Value) (interface{}, error) {
	switch val := v.(type) {
	case Null:
		return nil, nil
	case Bool:
		return bool(val), nil
	case Integer:
		b := val.Big()
		if b.IsInt64() {
			return b.Int64(), nil
		}
		return b, nil
	case Float:
		return float64(val), nil
	case Bytes:
		return []byte(val), nil
	case Text:
		return string(val), nil
	case Array:
		arr := make([]interface{}, 0, len(val))
		for _, item := range val {
			converted, err := toInterface(item)
			if err != nil {
				return nil, err
			}
			arr = append(arr, converted)
		}
		return arr, nil
	case Map:
		m := make(map[string]interface{}, len(val))
		for _, e := range val {
			converted, err := toInterface(e.Value)
			if err != nil {
				return nil, err
			}
			m[string(e.Key)] = converted
		}
		return m, nil
	case Tag:
		inner, err := toInterface(val.Value)
		if err != nil {
			return nil, err
		}
		return cbor.Tag{Number: val.Number, Content: inner}, nil
	default:
		return nil, fmt.Errorf("unsupported value kind: %T", v)
	}
}

// ToJSON projects a value to a JSON-friendly tree for display: integers
// collapse to int64 (or decimal strings beyond that), bytes become data
// URIs, tags are stripped.
func ToJSON(v Value) interface{} {
	switch val := Untag(v).(type) {
	case Null:
		return nil
	case Bool:
		return bool(val)
	case Integer:
		if i, ok := val.Int64(); ok {
			return i
		}
		return val.Big().String()
	case Float:
		return float64(val)
	case Bytes:
		return "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(val)
	case Text:
		return string(val)
	case Array:
		arr := make([]interface{}, 0, len(val))
		for _, item := range val {
			arr = append(arr, ToJSON(item))
		}
		return arr
	case Map:
		m := make(map[string]interface{}, len(val))
		for _, e := range val {
			m[string(e.Key)] = ToJSON(e.Value)
		}
		return m
	default:
		return nil
	}
}
