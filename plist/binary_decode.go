// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/ipapatch

package plist

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
	"unicode/utf16"
)

// Binary layout constants.
const (
	trailerSize  = 32      // fixed trailer size at end of buffer
	maxDepth     = 512     // max container nesting accepted by decoders and the encoder
	maxTreeNodes = 1 << 20 // max decoded nodes with shared objects counted per reference
	// appleEpochUnix is 2001-01-01T00:00:00Z as Unix seconds.
	appleEpochUnix = 978307200
)

// Binary object markers (high nibble).
const (
	markerSimple = 0x0
	markerInt    = 0x1
	markerReal   = 0x2
	markerDate   = 0x3
	markerData   = 0x4
	markerASCII  = 0x5
	markerUTF16  = 0x6
	markerUID    = 0x8
	markerArray  = 0xA
	markerSet    = 0xC
	markerDict   = 0xD
)

// binaryTrailer holds decoded trailer fields.
type binaryTrailer struct {
	numObjects        uint64
	topObject         uint64
	offsetTableOffset uint64
	offsetIntSize     int
	objectRefSize     int
}

// decodedObject is a decoded object with the size of its expanded subtree.
type decodedObject struct {
	value  Value
	nodes  uint64
	height int
}

// binaryDecoder walks the object table of one binary property list.
// Objects referenced more than once are decoded once and reused.
type binaryDecoder struct {
	visiting map[uint64]struct{}
	decoded  map[uint64]decodedObject
	data     []byte
	offsets  []uint64
	trailer  binaryTrailer
	depth    int
}

// DecodeBinary decodes a "bplist00" buffer.
func DecodeBinary(data []byte) (Value, error) {
	if !IsBinary(data) {
		return Value{}, ErrUnrecognizedFormat
	}

	d := &binaryDecoder{
		data:     data,
		visiting: make(map[uint64]struct{}),
		decoded:  make(map[uint64]decodedObject),
	}
	if err := d.readTrailer(); err != nil {
		return Value{}, err
	}
	if err := d.readOffsets(); err != nil {
		return Value{}, err
	}

	root, err := d.object(d.trailer.topObject)
	if err != nil {
		return Value{}, err
	}

	return root.value, nil
}

// malformed wraps ErrMalformedData with a formatted detail.
func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedData, fmt.Sprintf(format, args...))
}

// readTrailer parses and validates the 32-byte trailer.
func (d *binaryDecoder) readTrailer() error {
	if len(d.data) < len(binaryMagic)+trailerSize {
		return malformed("buffer too short for trailer")
	}

	raw := d.data[len(d.data)-trailerSize:]
	t := binaryTrailer{
		offsetIntSize:     int(raw[6]),
		objectRefSize:     int(raw[7]),
		numObjects:        binary.BigEndian.Uint64(raw[8:16]),
		topObject:         binary.BigEndian.Uint64(raw[16:24]),
		offsetTableOffset: binary.BigEndian.Uint64(raw[24:32]),
	}

	if t.offsetIntSize < 1 || t.offsetIntSize > 8 {
		return malformed("offset int size %d", t.offsetIntSize)
	}
	if t.objectRefSize < 1 || t.objectRefSize > 8 {
		return malformed("object ref size %d", t.objectRefSize)
	}
	if t.numObjects == 0 {
		return malformed("no objects")
	}
	if t.topObject >= t.numObjects {
		return malformed("top object %d out of range %d", t.topObject, t.numObjects)
	}

	areaEnd := uint64(len(d.data) - trailerSize)
	if t.offsetTableOffset < uint64(len(binaryMagic)) || t.offsetTableOffset >= areaEnd {
		return malformed("offset table at %d outside object area", t.offsetTableOffset)
	}
	if t.numObjects > (areaEnd-t.offsetTableOffset)/uint64(t.offsetIntSize) {
		return malformed("offset table for %d objects exceeds buffer", t.numObjects)
	}

	d.trailer = t
	return nil
}

// readOffsets loads the offset table and checks every object offset.
func (d *binaryDecoder) readOffsets() error {
	t := d.trailer
	d.offsets = make([]uint64, t.numObjects)
	width := uint64(t.offsetIntSize)
	for i := uint64(0); i < t.numObjects; i++ {
		at := t.offsetTableOffset + i*width
		off := readUint(d.data[at:at+width], t.offsetIntSize)
		if off < uint64(len(binaryMagic)) || off >= t.offsetTableOffset {
			return malformed("object %d offset %d outside object area", i, off)
		}

		d.offsets[i] = off
	}

	return nil
}

// object decodes the object with the given reference, reusing earlier results.
func (d *binaryDecoder) object(ref uint64) (decodedObject, error) {
	if ref >= uint64(len(d.offsets)) {
		return decodedObject{}, malformed("object reference %d out of range", ref)
	}
	if _, loop := d.visiting[ref]; loop {
		return decodedObject{}, malformed("reference cycle at object %d", ref)
	}
	if obj, ok := d.decoded[ref]; ok {
		if d.depth+obj.height >= maxDepth {
			return decodedObject{}, malformed("nesting deeper than %d", maxDepth)
		}
		return obj, nil
	}
	if d.depth >= maxDepth {
		return decodedObject{}, malformed("nesting deeper than %d", maxDepth)
	}

	off := d.offsets[ref]
	marker := d.data[off]

	var (
		obj decodedObject
		err error
	)
	switch marker >> 4 {
	case markerArray, markerSet:
		obj, err = d.array(ref, off, marker&0x0f)
	case markerDict:
		obj, err = d.dict(ref, off, marker&0x0f)
	default:
		obj.nodes = 1
		obj.value, err = d.scalar(off, marker)
	}
	if err != nil {
		return decodedObject{}, err
	}

	d.decoded[ref] = obj
	return obj, nil
}

// scalar decodes a non-container object at off.
func (d *binaryDecoder) scalar(off uint64, marker byte) (Value, error) {
	kind, info := marker>>4, marker&0x0f

	switch kind {
	case markerSimple:
		switch info {
		case 0x8:
			return Boolean(false), nil
		case 0x9:
			return Boolean(true), nil
		default:
			return Value{}, malformed("unsupported marker 0x%02x", marker)
		}
	case markerInt:
		n, _, err := d.readInt(off+1, info)
		if err != nil {
			return Value{}, err
		}
		return Integer(n), nil
	case markerReal:
		f, err := d.readReal(off+1, info)
		if err != nil {
			return Value{}, err
		}
		return Real(f), nil
	case markerDate:
		if info != 0x3 {
			return Value{}, malformed("date marker 0x%02x", marker)
		}
		f, err := d.readReal(off+1, info)
		if err != nil {
			return Value{}, err
		}
		t, err := dateFromAppleSeconds(f)
		if err != nil {
			return Value{}, err
		}
		return Date(t), nil
	case markerData:
		count, start, err := d.readCount(off, info)
		if err != nil {
			return Value{}, err
		}
		raw, err := d.span(start, count)
		if err != nil {
			return Value{}, err
		}
		out := make([]byte, len(raw))
		copy(out, raw)
		return Data(out), nil
	case markerASCII:
		count, start, err := d.readCount(off, info)
		if err != nil {
			return Value{}, err
		}
		raw, err := d.span(start, count)
		if err != nil {
			return Value{}, err
		}
		return String(string(raw)), nil
	case markerUTF16:
		count, start, err := d.readCount(off, info)
		if err != nil {
			return Value{}, err
		}
		if count > math.MaxUint64/2 {
			return Value{}, malformed("utf16 string length %d", count)
		}
		raw, err := d.span(start, count*2)
		if err != nil {
			return Value{}, err
		}
		units := make([]uint16, count)
		for i := range units {
			units[i] = binary.BigEndian.Uint16(raw[i*2:])
		}
		return String(string(utf16.Decode(units))), nil
	case markerUID:
		if info > 7 {
			return Value{}, malformed("uid width nibble %d", info)
		}
		raw, err := d.span(off+1, uint64(info)+1)
		if err != nil {
			return Value{}, err
		}
		return Integer(int64(readUint(raw, len(raw)))), nil
	default:
		return Value{}, malformed("unsupported marker 0x%02x", marker)
	}
}

// array decodes an array or set object.
func (d *binaryDecoder) array(ref uint64, off uint64, info byte) (decodedObject, error) {
	refs, err := d.readRefs(off, info, 1)
	if err != nil {
		return decodedObject{}, err
	}

	d.enter(ref)
	defer d.leave(ref)

	size := newTreeSize()
	items := make([]Value, len(refs))
	for i, child := range refs {
		obj, err := d.object(child)
		if err != nil {
			return decodedObject{}, err
		}
		if err := size.add(obj); err != nil {
			return decodedObject{}, err
		}

		items[i] = obj.value
	}

	return size.result(Array(items...)), nil
}

// dict decodes a dictionary object. Keys must be strings.
func (d *binaryDecoder) dict(ref uint64, off uint64, info byte) (decodedObject, error) {
	refs, err := d.readRefs(off, info, 2)
	if err != nil {
		return decodedObject{}, err
	}

	d.enter(ref)
	defer d.leave(ref)

	size := newTreeSize()
	n := len(refs) / 2
	out := NewDict()
	for i := 0; i < n; i++ {
		key, err := d.object(refs[i])
		if err != nil {
			return decodedObject{}, err
		}

		name, ok := key.value.AsString()
		if !ok {
			return decodedObject{}, malformed("dict key of kind %s", key.value.Kind())
		}

		v, err := d.object(refs[n+i])
		if err != nil {
			return decodedObject{}, err
		}
		if err := size.add(v); err != nil {
			return decodedObject{}, err
		}

		out.Set(name, v.value)
	}

	return size.result(Map(out)), nil
}

// treeSize accumulates the expanded size of a container's children.
type treeSize struct {
	nodes  uint64
	height int
}

// newTreeSize starts with the container node itself.
func newTreeSize() *treeSize {
	return &treeSize{nodes: 1}
}

// add counts one child and fails once the expanded tree exceeds maxTreeNodes.
func (s *treeSize) add(child decodedObject) error {
	if child.nodes > maxTreeNodes-s.nodes {
		return malformed("expanded tree exceeds %d nodes", maxTreeNodes)
	}

	s.nodes += child.nodes
	s.height = max(s.height, child.height+1)

	return nil
}

// result wraps v with the accumulated size.
func (s *treeSize) result(v Value) decodedObject {
	return decodedObject{value: v, nodes: s.nodes, height: s.height}
}

// enter marks ref as being decoded.
func (d *binaryDecoder) enter(ref uint64) {
	d.visiting[ref] = struct{}{}
	d.depth++
}

// leave clears the in-progress mark of ref.
func (d *binaryDecoder) leave(ref uint64) {
	delete(d.visiting, ref)
	d.depth--
}

// readRefs reads count*perItem object references of a container at off.
func (d *binaryDecoder) readRefs(off uint64, info byte, perItem uint64) ([]uint64, error) {
	count, start, err := d.readCount(off, info)
	if err != nil {
		return nil, err
	}

	width := uint64(d.trailer.objectRefSize)
	if count > d.trailer.offsetTableOffset/(width*perItem) {
		return nil, malformed("container of %d items exceeds buffer", count)
	}

	total := count * perItem
	raw, err := d.span(start, total*width)
	if err != nil {
		return nil, err
	}

	refs := make([]uint64, total)
	for i := range refs {
		at := uint64(i) * width
		refs[i] = readUint(raw[at:at+width], int(width))
	}

	return refs, nil
}

// readCount decodes an object length from the marker nibble or a trailing int object.
// It returns the length and the offset of the first payload byte.
func (d *binaryDecoder) readCount(off uint64, info byte) (uint64, uint64, error) {
	if info != 0x0f {
		return uint64(info), off + 1, nil
	}

	head, err := d.span(off+1, 1)
	if err != nil {
		return 0, 0, err
	}
	if head[0]>>4 != markerInt {
		return 0, 0, malformed("length marker 0x%02x", head[0])
	}

	n, width, err := d.readInt(off+2, head[0]&0x0f)
	if err != nil {
		return 0, 0, err
	}
	if n < 0 {
		return 0, 0, malformed("negative length %d", n)
	}

	return uint64(n), off + 2 + width, nil
}

// readInt decodes a big-endian integer of 2^info bytes at off.
// It returns the value and the byte width consumed.
func (d *binaryDecoder) readInt(off uint64, info byte) (int64, uint64, error) {
	if info > 4 {
		return 0, 0, malformed("integer width nibble %d", info)
	}

	width := uint64(1) << info
	raw, err := d.span(off, width)
	if err != nil {
		return 0, 0, err
	}

	switch width {
	case 1, 2, 4:
		return int64(readUint(raw, int(width))), width, nil
	case 8:
		return int64(binary.BigEndian.Uint64(raw)), width, nil
	default:
		high := binary.BigEndian.Uint64(raw[:8])
		low := binary.BigEndian.Uint64(raw[8:])
		switch {
		case high == 0 && low <= math.MaxInt64:
			return int64(low), width, nil
		case high == math.MaxUint64 && low > math.MaxInt64:
			return int64(low), width, nil
		default:
			return 0, 0, malformed("128-bit integer out of range")
		}
	}
}

// readReal decodes a 4- or 8-byte IEEE float at off.
func (d *binaryDecoder) readReal(off uint64, info byte) (float64, error) {
	switch info {
	case 0x2:
		raw, err := d.span(off, 4)
		if err != nil {
			return 0, err
		}
		return float64(math.Float32frombits(binary.BigEndian.Uint32(raw))), nil
	case 0x3:
		raw, err := d.span(off, 8)
		if err != nil {
			return 0, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(raw)), nil
	default:
		return 0, malformed("real width nibble %d", info)
	}
}

// span returns length bytes at start, bounded by the object area.
func (d *binaryDecoder) span(start uint64, length uint64) ([]byte, error) {
	limit := d.trailer.offsetTableOffset
	if start > limit || length > limit-start {
		return nil, malformed("object data at %d+%d exceeds object area", start, length)
	}

	return d.data[start : start+length], nil
}

// readUint decodes an unsigned big-endian integer of width bytes.
func readUint(raw []byte, width int) uint64 {
	var n uint64
	for i := 0; i < width; i++ {
		n = n<<8 | uint64(raw[i])
	}

	return n
}

// dateFromAppleSeconds converts seconds since 2001-01-01 UTC to time.
func dateFromAppleSeconds(sec float64) (time.Time, error) {
	if math.IsNaN(sec) || math.IsInf(sec, 0) || math.Abs(sec) > 1<<53 {
		return time.Time{}, malformed("date value %v", sec)
	}

	whole := math.Floor(sec)
	nanos := math.Round((sec - whole) * 1e9)
	if nanos >= 1e9 {
		whole++
		nanos = 0
	}

	return time.Unix(int64(whole)+appleEpochUnix, int64(nanos)).UTC(), nil
}
