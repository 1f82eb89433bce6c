// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/ipapatch

package plist

import (
	"bytes"
	"math"
	"time"
)

// Kind identifies the variant held by a Value.
type Kind uint8

// Value kinds. The zero Kind marks an invalid (unset) Value.
const (
	KindInvalid Kind = iota
	KindString
	KindInteger
	KindReal
	KindBoolean
	KindData
	KindDate
	KindArray
	KindDict
)

// String returns the plist element name for the kind.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindBoolean:
		return "boolean"
	case KindData:
		return "data"
	case KindDate:
		return "date"
	case KindArray:
		return "array"
	case KindDict:
		return "dict"
	default:
		return "invalid"
	}
}

// Value is one node of a property tree.
// Exactly one payload field is meaningful, selected by kind.
type Value struct {
	date  time.Time
	dict  *Dict
	str   string
	data  []byte
	array []Value
	real  float64
	num   int64
	kind  Kind
	flag  bool
}

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Integer returns an integer value.
func Integer(n int64) Value { return Value{kind: KindInteger, num: n} }

// Real returns a floating-point value.
func Real(f float64) Value { return Value{kind: KindReal, real: f} }

// Boolean returns a boolean value.
func Boolean(b bool) Value { return Value{kind: KindBoolean, flag: b} }

// Data returns a raw byte blob value. The slice is not copied.
func Data(b []byte) Value {
	if b == nil {
		b = []byte{}
	}

	return Value{kind: KindData, data: b}
}

// Date returns a date value normalized to UTC.
func Date(t time.Time) Value { return Value{kind: KindDate, date: t.UTC()} }

// Array returns an ordered sequence value.
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}

	return Value{kind: KindArray, array: items}
}

// Map returns a dictionary value backed by d. A nil d yields an empty dictionary.
func Map(d *Dict) Value {
	if d == nil {
		d = NewDict()
	}

	return Value{kind: KindDict, dict: d}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether v holds any variant.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// AsString returns the string payload and whether v is a string.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsInteger returns the integer payload and whether v is an integer.
func (v Value) AsInteger() (int64, bool) { return v.num, v.kind == KindInteger }

// AsReal returns the floating-point payload and whether v is a real.
func (v Value) AsReal() (float64, bool) { return v.real, v.kind == KindReal }

// AsBoolean returns the boolean payload and whether v is a boolean.
func (v Value) AsBoolean() (bool, bool) { return v.flag, v.kind == KindBoolean }

// AsData returns the blob payload and whether v is data.
func (v Value) AsData() ([]byte, bool) { return v.data, v.kind == KindData }

// AsDate returns the date payload and whether v is a date.
func (v Value) AsDate() (time.Time, bool) { return v.date, v.kind == KindDate }

// AsArray returns the sequence payload and whether v is an array.
func (v Value) AsArray() ([]Value, bool) { return v.array, v.kind == KindArray }

// AsDict returns the dictionary payload and whether v is a dict.
func (v Value) AsDict() (*Dict, bool) { return v.dict, v.kind == KindDict }

// DictEntry is one key/value pair of a Dict.
type DictEntry struct {
	Value Value
	Key   string
}

// Dict is an ordered string-keyed mapping. Keys are unique and keep insertion order.
type Dict struct {
	index   map[string]int
	entries []DictEntry
}

// NewDict returns an empty dictionary.
func NewDict() *Dict {
	return &Dict{index: make(map[string]int)}
}

// Set stores value under key. An existing key keeps its position.
func (d *Dict) Set(key string, value Value) {
	if d.index == nil {
		d.index = make(map[string]int)
	}

	if i, ok := d.index[key]; ok {
		d.entries[i].Value = value
		return
	}

	d.index[key] = len(d.entries)
	d.entries = append(d.entries, DictEntry{Key: key, Value: value})
}

// Get returns the value stored under key.
func (d *Dict) Get(key string) (Value, bool) {
	if d == nil {
		return Value{}, false
	}

	i, ok := d.index[key]
	if !ok {
		return Value{}, false
	}

	return d.entries[i].Value, true
}

// Len returns the number of entries.
func (d *Dict) Len() int {
	if d == nil {
		return 0
	}

	return len(d.entries)
}

// Keys returns keys in insertion order.
func (d *Dict) Keys() []string {
	if d == nil {
		return nil
	}

	keys := make([]string, len(d.entries))
	for i := range d.entries {
		keys[i] = d.entries[i].Key
	}

	return keys
}

// Entries returns a copy of entries in insertion order.
func (d *Dict) Entries() []DictEntry {
	if d == nil {
		return nil
	}

	out := make([]DictEntry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Equal reports whether a and b are the same logical tree.
// Arrays compare in order; dictionaries compare by key set regardless of order.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}

	switch a.kind {
	case KindInvalid:
		return true
	case KindString:
		return a.str == b.str
	case KindInteger:
		return a.num == b.num
	case KindReal:
		return a.real == b.real || (math.IsNaN(a.real) && math.IsNaN(b.real))
	case KindBoolean:
		return a.flag == b.flag
	case KindData:
		return bytes.Equal(a.data, b.data)
	case KindDate:
		return a.date.Equal(b.date)
	case KindArray:
		if len(a.array) != len(b.array) {
			return false
		}
		for i := range a.array {
			if !Equal(a.array[i], b.array[i]) {
				return false
			}
		}
		return true
	case KindDict:
		if a.dict.Len() != b.dict.Len() {
			return false
		}
		for _, entry := range a.dict.Entries() {
			other, ok := b.dict.Get(entry.Key)
			if !ok || !Equal(entry.Value, other) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
