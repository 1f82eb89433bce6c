// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/ipapatch

package plist

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"
)

// xmlDateLayout is the date format written by Apple tooling.
const xmlDateLayout = "2006-01-02T15:04:05Z"

// DecodeXML decodes an XML property list.
// The buffer must contain an "<?xml" or "<plist" marker.
func DecodeXML(data []byte) (Value, error) {
	if !looksLikeXML(data) {
		return Value{}, ErrUnrecognizedFormat
	}

	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = true

	start, err := nextStart(dec)
	if err != nil {
		return Value{}, err
	}

	var root Value
	if start.Name.Local == "plist" {
		root, err = decodePlistBody(dec)
	} else {
		root, err = decodeXMLValue(dec, start, 0)
	}
	if err != nil {
		return Value{}, err
	}

	if err := expectXMLEnd(dec); err != nil {
		return Value{}, err
	}

	return root, nil
}

// decodePlistBody decodes the single value inside <plist> and its closing tag.
func decodePlistBody(dec *xml.Decoder) (Value, error) {
	start, err := nextStart(dec)
	if err != nil {
		return Value{}, err
	}

	v, err := decodeXMLValue(dec, start, 0)
	if err != nil {
		return Value{}, err
	}

	for {
		tok, err := nextToken(dec)
		if err != nil {
			return Value{}, err
		}

		switch t := tok.(type) {
		case xml.EndElement:
			return v, nil
		case xml.StartElement:
			return Value{}, malformed("more than one value in <plist>, got <%s>", t.Name.Local)
		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return Value{}, malformed("text after plist value")
			}
		}
	}
}

// decodeXMLValue decodes the element opened by start.
func decodeXMLValue(dec *xml.Decoder, start xml.StartElement, depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, malformed("nesting deeper than %d", maxDepth)
	}

	switch start.Name.Local {
	case "dict":
		return decodeXMLDict(dec, depth)
	case "array":
		return decodeXMLArray(dec, depth)
	case "string":
		text, err := readXMLText(dec)
		if err != nil {
			return Value{}, err
		}
		return String(text), nil
	case "integer":
		text, err := readXMLText(dec)
		if err != nil {
			return Value{}, err
		}
		n, err := parseXMLInteger(strings.TrimSpace(text))
		if err != nil {
			return Value{}, err
		}
		return Integer(n), nil
	case "real":
		text, err := readXMLText(dec)
		if err != nil {
			return Value{}, err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return Value{}, malformed("real %q", text)
		}
		return Real(f), nil
	case "true", "false":
		text, err := readXMLText(dec)
		if err != nil {
			return Value{}, err
		}
		if strings.TrimSpace(text) != "" {
			return Value{}, malformed("text inside <%s>", start.Name.Local)
		}
		return Boolean(start.Name.Local == "true"), nil
	case "date":
		text, err := readXMLText(dec)
		if err != nil {
			return Value{}, err
		}
		t, err := time.Parse(xmlDateLayout, strings.TrimSpace(text))
		if err != nil {
			return Value{}, malformed("date %q", text)
		}
		return Date(t), nil
	case "data":
		text, err := readXMLText(dec)
		if err != nil {
			return Value{}, err
		}
		raw, err := base64.StdEncoding.DecodeString(stripSpace(text))
		if err != nil {
			return Value{}, malformed("data: %v", err)
		}
		return Data(raw), nil
	case "key":
		return Value{}, malformed("<key> outside dict")
	default:
		return Value{}, malformed("unknown element <%s>", start.Name.Local)
	}
}

// decodeXMLDict decodes key/value pairs until </dict>.
func decodeXMLDict(dec *xml.Decoder, depth int) (Value, error) {
	out := NewDict()
	for {
		tok, err := nextToken(dec)
		if err != nil {
			return Value{}, err
		}

		switch t := tok.(type) {
		case xml.EndElement:
			return Map(out), nil
		case xml.StartElement:
			if t.Name.Local != "key" {
				return Value{}, malformed("expected <key> in dict, got <%s>", t.Name.Local)
			}

			key, err := readXMLText(dec)
			if err != nil {
				return Value{}, err
			}

			valueStart, err := nextStart(dec)
			if err != nil {
				return Value{}, malformed("missing value for key %q", key)
			}

			v, err := decodeXMLValue(dec, valueStart, depth+1)
			if err != nil {
				return Value{}, err
			}

			out.Set(key, v)
		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return Value{}, malformed("text inside dict")
			}
		}
	}
}

// decodeXMLArray decodes elements until </array>.
func decodeXMLArray(dec *xml.Decoder, depth int) (Value, error) {
	items := make([]Value, 0, 4)
	for {
		tok, err := nextToken(dec)
		if err != nil {
			return Value{}, err
		}

		switch t := tok.(type) {
		case xml.EndElement:
			return Array(items...), nil
		case xml.StartElement:
			v, err := decodeXMLValue(dec, t, depth+1)
			if err != nil {
				return Value{}, err
			}
			items = append(items, v)
		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return Value{}, malformed("text inside array")
			}
		}
	}
}

// readXMLText collects character data up to the end of the current element.
func readXMLText(dec *xml.Decoder) (string, error) {
	var sb strings.Builder
	for {
		tok, err := nextToken(dec)
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.EndElement:
			return sb.String(), nil
		case xml.StartElement:
			return "", malformed("unexpected <%s> inside text element", t.Name.Local)
		}
	}
}

// nextStart returns the next start element, skipping whitespace, comments and directives.
func nextStart(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := nextToken(dec)
		if err != nil {
			return xml.StartElement{}, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			return t, nil
		case xml.EndElement:
			return xml.StartElement{}, malformed("unexpected </%s>", t.Name.Local)
		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return xml.StartElement{}, malformed("unexpected text %q", string(t))
			}
		}
	}
}

// nextToken reads one token and maps any failure, including early EOF, to ErrMalformedData.
func nextToken(dec *xml.Decoder) (xml.Token, error) {
	tok, err := dec.Token()
	if errors.Is(err, io.EOF) {
		return nil, malformed("unexpected end of document")
	}
	if err != nil {
		return nil, malformed("%v", err)
	}

	return tok, nil
}

// expectXMLEnd checks that only whitespace, comments or directives follow the root.
func expectXMLEnd(dec *xml.Decoder) error {
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return malformed("%v", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			return malformed("content after root element <%s>", t.Name.Local)
		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return malformed("text after root element")
			}
		}
	}
}

// parseXMLInteger parses decimal or 0x-prefixed hexadecimal integers.
func parseXMLInteger(text string) (int64, error) {
	sign := ""
	digits := text
	if strings.HasPrefix(digits, "-") || strings.HasPrefix(digits, "+") {
		sign, digits = digits[:1], digits[1:]
	}

	base := 10
	if strings.HasPrefix(digits, "0x") || strings.HasPrefix(digits, "0X") {
		base, digits = 16, digits[2:]
	}

	n, err := strconv.ParseInt(sign+digits, base, 64)
	if err != nil {
		return 0, malformed("integer %q", text)
	}

	return n, nil
}

// stripSpace removes all ASCII whitespace from s.
func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '\f', '\v':
			return -1
		default:
			return r
		}
	}, s)
}
