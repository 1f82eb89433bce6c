// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/ipapatch

/*
Package plist reads binary and XML property lists into an ordered value tree
and writes the tree back in the binary ("bplist00") encoding.

Decoding picks the format from the buffer itself:

	v, err := plist.Decode(data)
	if err != nil {
	    return err
	}
	if d, ok := v.AsDict(); ok {
	    exe, _ := d.Get("CFBundleExecutable")
	    _ = exe
	}

Encoding is deterministic, the same tree always produces the same bytes:

	d := plist.NewDict()
	d.Set("SinfPaths", plist.Array(plist.String("SC_Info/App.sinf")))
	out, err := plist.EncodeBinary(plist.Map(d))
*/
package plist

import "bytes"

// binaryMagic is the fixed header of every binary property list.
var binaryMagic = []byte("bplist00")

// Decode decodes a binary or XML property list.
//
// A buffer starting with the binary magic is decoded as binary only.
// Otherwise a buffer containing "<?xml" or "<plist" is decoded as XML.
func Decode(data []byte) (Value, error) {
	if IsBinary(data) {
		return DecodeBinary(data)
	}

	if looksLikeXML(data) {
		return DecodeXML(data)
	}

	return Value{}, ErrUnrecognizedFormat
}

// IsBinary reports whether data starts with the binary property list magic.
func IsBinary(data []byte) bool {
	return bytes.HasPrefix(data, binaryMagic)
}

// looksLikeXML reports whether data carries a recognizable XML plist root marker.
func looksLikeXML(data []byte) bool {
	return bytes.Contains(data, []byte("<?xml")) || bytes.Contains(data, []byte("<plist"))
}
