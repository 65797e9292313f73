// Package jsonval implements the dynamic JSON value tree used by the JSON
// framers: a tagged union over object/array/string/number/bool/null with
// map-like and array-like access, parsed with jsoniter for speed on
// trace-sized line volumes.
package jsonval

import (
	"bytes"
	"io"

	jsoniter "github.com/json-iterator/go"
)

// Kind tags which shape a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Value is a lazily-useful, immutable JSON value tree. Zero Value is a
// JSON null.
type Value struct {
	kind   Kind
	b      bool
	num    float64
	str    string
	arr    []Value
	obj    map[string]Value
	keys   []string // insertion order, for stable Items()/iteration
}

var Null = Value{kind: KindNull}

func Bool(b bool) Value    { return Value{kind: KindBool, b: b} }
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }
func String(s string) Value  { return Value{kind: KindString, str: s} }

// Kind reports the value's tag.
func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) Bool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

func (v Value) Number() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

func (v Value) String() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// Len returns the number of elements/keys for array/object kinds, 0
// otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindObject:
		return len(v.keys)
	default:
		return 0
	}
}

// Index returns the i'th array element, or Null with ok=false if v is not
// an array or i is out of bounds. A JSON null element (a real array slot
// holding `null`) is returned as Null with ok=true, matching the source
// behavior where a null entry is a legitimate, present value.
func (v Value) Index(i int) (Value, bool) {
	if v.kind != KindArray || i < 0 || i >= len(v.arr) {
		return Null, false
	}
	return v.arr[i], true
}

// Get looks up a key on an object. Absent keys return (Null, false); keys
// present with a JSON null value return (Null, true) — the two are
// distinguishable, mirroring dict.get() semantics where "missing" and
// "present but None" are different questions.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Null, false
	}
	val, ok := v.obj[key]
	return val, ok
}

// GetOr is Get with a default for the not-present case.
func (v Value) GetOr(key string, def Value) Value {
	if val, ok := v.Get(key); ok {
		return val
	}
	return def
}

// Keys returns an object's keys in the order they appeared in the source
// JSON text.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	return v.keys
}

// Items returns an object's key/value pairs in source order.
func (v Value) Items() []KV {
	if v.kind != KindObject {
		return nil
	}
	out := make([]KV, 0, len(v.keys))
	for _, k := range v.keys {
		out = append(out, KV{Key: k, Value: v.obj[k]})
	}
	return out
}

// Values returns an array's elements in order, or an object's values in key
// order (matching dict.values()-style iteration).
func (v Value) Values() []Value {
	switch v.kind {
	case KindArray:
		return v.arr
	case KindObject:
		out := make([]Value, 0, len(v.keys))
		for _, k := range v.keys {
			out = append(out, v.obj[k])
		}
		return out
	default:
		return nil
	}
}

// KV is one object entry, in Items().
type KV struct {
	Key   string
	Value Value
}

var jsonAPI = jsoniter.ConfigFastest

// Parse parses a single line of JSON text into a Value tree. Malformed
// input is the caller's concern: framers that want "null on failure"
// semantics (reader.ReadLinesJSON and friends) catch the error
// themselves and substitute Null, since Parse itself reports parse
// failures rather than swallowing them.
//
// Decoding goes through jsoniter's streaming Iterator rather than
// Unmarshal into interface{}: an Unmarshal into map[string]interface{}
// loses the source field order entirely (Go map iteration is
// randomized), which would make Keys()/Items() nondeterministic across
// runs on the very same line. ReadObjectCB visits keys in the order they
// appear in the input, so that order is preserved all the way through.
func Parse(line []byte) (Value, error) {
	iter := jsonAPI.BorrowIterator(line)
	defer jsonAPI.ReturnIterator(iter)

	v := decodeValue(iter)
	if iter.Error != nil && iter.Error != io.EOF {
		return Null, iter.Error
	}
	return v, nil
}

func decodeValue(iter *jsoniter.Iterator) Value {
	switch iter.WhatIsNext() {
	case jsoniter.NilValue:
		iter.ReadNil()
		return Null
	case jsoniter.BoolValue:
		return Bool(iter.ReadBool())
	case jsoniter.NumberValue:
		return Number(iter.ReadFloat64())
	case jsoniter.StringValue:
		return String(iter.ReadString())
	case jsoniter.ArrayValue:
		var arr []Value
		iter.ReadArrayCB(func(it *jsoniter.Iterator) bool {
			arr = append(arr, decodeValue(it))
			return true
		})
		return Value{kind: KindArray, arr: arr}
	case jsoniter.ObjectValue:
		var keys []string
		obj := make(map[string]Value)
		iter.ReadObjectCB(func(it *jsoniter.Iterator, key string) bool {
			keys = append(keys, key)
			obj[key] = decodeValue(it)
			return true
		})
		return Value{kind: KindObject, obj: obj, keys: keys}
	default:
		iter.Skip()
		return Null
	}
}

// MarshalJSON implements json.Marshaler, re-emitting the value tree as
// canonical JSON text. It is not guaranteed byte-identical to whatever
// was originally parsed (numbers are reformatted via their float64
// value, for instance), only semantically equivalent.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		if v.b {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case KindNumber:
		// ConfigFastest rounds floats to 6 decimal places; the standard
		// library compatible config keeps full float64 precision.
		return jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(v.num)
	case KindString:
		return jsonAPI.Marshal(v.str)
	case KindArray:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, e := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := e.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case KindObject:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range v.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := jsonAPI.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := v.obj[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return []byte("null"), nil
	}
}
