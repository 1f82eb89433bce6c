// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/ipapatch

package plist

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"
	"unicode/utf16"
)

// flatObject is one entry of the flattened object table.
type flatObject struct {
	value Value
	// refs holds child references: elements for arrays, keys then values for dicts.
	refs []uint64
}

// scalarKey identifies a scalar object for uniquing.
type scalarKey struct {
	text string
	bits uint64
	kind Kind
}

// binaryEncoder flattens a tree into an object table.
type binaryEncoder struct {
	unique  map[scalarKey]uint64
	objects []flatObject
}

// EncodeBinary encodes v as a "bplist00" buffer.
// The output depends only on the tree, so equal trees yield identical bytes.
func EncodeBinary(v Value) ([]byte, error) {
	e := &binaryEncoder{unique: make(map[scalarKey]uint64)}
	if _, err := e.flatten(v, 0); err != nil {
		return nil, err
	}

	refSize := minUintWidth(uint64(len(e.objects)))

	var buf bytes.Buffer
	buf.Write(binaryMagic)

	offsets := make([]uint64, len(e.objects))
	for i := range e.objects {
		offsets[i] = uint64(buf.Len())
		writeObject(&buf, &e.objects[i], refSize)
	}

	tableOffset := uint64(buf.Len())
	offsetSize := minUintWidth(tableOffset)
	for _, off := range offsets {
		writeUint(&buf, off, offsetSize)
	}

	var trailer [trailerSize]byte
	// bytes 0..5 are unused and sort version, all zero
	trailer[6] = byte(offsetSize)
	trailer[7] = byte(refSize)
	binary.BigEndian.PutUint64(trailer[8:16], uint64(len(e.objects)))
	binary.BigEndian.PutUint64(trailer[16:24], 0)
	binary.BigEndian.PutUint64(trailer[24:32], tableOffset)
	buf.Write(trailer[:])

	return buf.Bytes(), nil
}

// flatten appends v and its children to the object table in CoreFoundation order
// and returns the reference of v.
func (e *binaryEncoder) flatten(v Value, depth int) (uint64, error) {
	if depth > maxDepth {
		return 0, fmt.Errorf("%w: nesting deeper than %d", ErrInvalidValue, maxDepth)
	}

	switch v.kind {
	case KindInvalid:
		return 0, fmt.Errorf("%w: unset value", ErrInvalidValue)
	case KindArray:
		ref := e.add(v)
		refs := make([]uint64, len(v.array))
		for i := range v.array {
			child, err := e.flatten(v.array[i], depth+1)
			if err != nil {
				return 0, err
			}
			refs[i] = child
		}
		e.objects[ref].refs = refs
		return ref, nil
	case KindDict:
		ref := e.add(v)
		entries := v.dict.Entries()
		refs := make([]uint64, 2*len(entries))
		for i := range entries {
			child, err := e.flatten(String(entries[i].Key), depth+1)
			if err != nil {
				return 0, err
			}
			refs[i] = child
		}
		for i := range entries {
			child, err := e.flatten(entries[i].Value, depth+1)
			if err != nil {
				return 0, err
			}
			refs[len(entries)+i] = child
		}
		e.objects[ref].refs = refs
		return ref, nil
	case KindString, KindInteger, KindReal, KindBoolean, KindData, KindDate:
		key := scalarKeyOf(v)
		if ref, ok := e.unique[key]; ok {
			return ref, nil
		}
		ref := e.add(v)
		e.unique[key] = ref
		return ref, nil
	default:
		return 0, fmt.Errorf("%w: kind %d", ErrInvalidValue, v.kind)
	}
}

// add appends v to the object table and returns its reference.
func (e *binaryEncoder) add(v Value) uint64 {
	e.objects = append(e.objects, flatObject{value: v})
	return uint64(len(e.objects) - 1)
}

// scalarKeyOf returns the uniquing key of a scalar value.
func scalarKeyOf(v Value) scalarKey {
	key := scalarKey{kind: v.kind}
	switch v.kind {
	case KindString:
		key.text = v.str
	case KindInteger:
		key.bits = uint64(v.num)
	case KindReal:
		key.bits = math.Float64bits(v.real)
	case KindBoolean:
		if v.flag {
			key.bits = 1
		}
	case KindData:
		key.text = string(v.data)
	case KindDate:
		key.bits = math.Float64bits(appleSeconds(v.date))
	}

	return key
}

// writeObject writes one flattened object.
func writeObject(buf *bytes.Buffer, obj *flatObject, refSize int) {
	v := obj.value
	switch v.kind {
	case KindBoolean:
		if v.flag {
			buf.WriteByte(0x09)
		} else {
			buf.WriteByte(0x08)
		}
	case KindInteger:
		writeInt(buf, v.num)
	case KindReal:
		buf.WriteByte(markerReal<<4 | 0x3)
		writeUint(buf, math.Float64bits(v.real), 8)
	case KindDate:
		buf.WriteByte(markerDate<<4 | 0x3)
		writeUint(buf, math.Float64bits(appleSeconds(v.date)), 8)
	case KindData:
		writeMarker(buf, markerData, len(v.data))
		buf.Write(v.data)
	case KindString:
		writeString(buf, v.str)
	case KindArray:
		writeMarker(buf, markerArray, len(obj.refs))
		for _, ref := range obj.refs {
			writeUint(buf, ref, refSize)
		}
	case KindDict:
		writeMarker(buf, markerDict, len(obj.refs)/2)
		for _, ref := range obj.refs {
			writeUint(buf, ref, refSize)
		}
	}
}

// writeString writes s as ASCII when 7-bit clean and as UTF-16BE otherwise.
func writeString(buf *bytes.Buffer, s string) {
	if isASCII(s) {
		writeMarker(buf, markerASCII, len(s))
		buf.WriteString(s)
		return
	}

	units := utf16.Encode([]rune(s))
	writeMarker(buf, markerUTF16, len(units))
	for _, u := range units {
		writeUint(buf, uint64(u), 2)
	}
}

// writeMarker writes a marker with an inline count, or 0xF plus an int object.
func writeMarker(buf *bytes.Buffer, kind byte, count int) {
	if count < 0x0f {
		buf.WriteByte(kind<<4 | byte(count))
		return
	}

	buf.WriteByte(kind<<4 | 0x0f)
	writeInt(buf, int64(count))
}

// writeInt writes an int object using the smallest unsigned width for non-negative values.
func writeInt(buf *bytes.Buffer, n int64) {
	switch {
	case n >= 0 && n <= math.MaxUint8:
		buf.WriteByte(markerInt<<4 | 0x0)
		writeUint(buf, uint64(n), 1)
	case n >= 0 && n <= math.MaxUint16:
		buf.WriteByte(markerInt<<4 | 0x1)
		writeUint(buf, uint64(n), 2)
	case n >= 0 && n <= math.MaxUint32:
		buf.WriteByte(markerInt<<4 | 0x2)
		writeUint(buf, uint64(n), 4)
	default:
		buf.WriteByte(markerInt<<4 | 0x3)
		writeUint(buf, uint64(n), 8)
	}
}

// writeUint writes the low width bytes of n big-endian.
func writeUint(buf *bytes.Buffer, n uint64, width int) {
	for i := width - 1; i >= 0; i-- {
		buf.WriteByte(byte(n >> (8 * uint(i))))
	}
}

// minUintWidth returns the smallest of 1, 2, 4, 8 bytes that holds n.
func minUintWidth(n uint64) int {
	switch {
	case n <= math.MaxUint8:
		return 1
	case n <= math.MaxUint16:
		return 2
	case n <= math.MaxUint32:
		return 4
	default:
		return 8
	}
}

// appleSeconds converts t to seconds since 2001-01-01 UTC.
func appleSeconds(t time.Time) float64 {
	return float64(t.Unix()-appleEpochUnix) + float64(t.Nanosecond())/1e9
}

// isASCII reports whether s holds only 7-bit bytes.
func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}

	return true
}
