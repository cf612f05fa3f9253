// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package psi

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"
)

// The default DVB table is ISO/IEC 6937, which x/text does not carry; its
// printable range overlaps Latin-1 closely enough for service names.
var defaultCharset encoding.Encoding = charmap.ISO8859_1

var iso8859 = map[byte]encoding.Encoding{
	1:  charmap.ISO8859_1,
	2:  charmap.ISO8859_2,
	3:  charmap.ISO8859_3,
	4:  charmap.ISO8859_4,
	5:  charmap.ISO8859_5,
	6:  charmap.ISO8859_6,
	7:  charmap.ISO8859_7,
	8:  charmap.ISO8859_8,
	9:  charmap.ISO8859_9,
	10: charmap.ISO8859_10,
	11: charmap.Windows874,
	13: charmap.ISO8859_13,
	14: charmap.ISO8859_14,
	15: charmap.ISO8859_15,
	16: charmap.ISO8859_16,
}

var utf16BE = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)

// DecodeText decodes a DVB text field (EN 300 468 annex A), honouring the
// leading character table selector.
func DecodeText(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	enc := defaultCharset
	singleByte := true
	switch sel := b[0]; {
	case sel >= 0x20:
	case sel >= 0x01 && sel <= 0x0B:
		enc = iso8859[sel+4]
		b = b[1:]
	case sel == 0x10:
		if len(b) < 3 {
			return ""
		}
		if e, ok := iso8859[b[2]]; ok {
			enc = e
		}
		b = b[3:]
	case sel == 0x11:
		enc, singleByte = utf16BE, false
		b = b[1:]
	case sel == 0x12:
		enc, singleByte = korean.EUCKR, false
		b = b[1:]
	case sel == 0x13:
		enc, singleByte = simplifiedchinese.GBK, false
		b = b[1:]
	case sel == 0x14:
		enc, singleByte = traditionalchinese.Big5, false
		b = b[1:]
	case sel == 0x15:
		if utf8.Valid(b[1:]) {
			return strings.TrimSpace(string(b[1:]))
		}
		b = b[1:]
	default:
		b = b[1:]
	}
	if enc == nil {
		enc = defaultCharset
	}
	if singleByte {
		b = stripControl(b)
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return strings.TrimSpace(string(b))
	}
	return strings.TrimSpace(string(out))
}

// stripControl drops emphasis markers and maps the CR/LF control code.
func stripControl(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		switch {
		case c == 0x8A:
			out = append(out, '\n')
		case c >= 0x80 && c <= 0x9F:
		default:
			out = append(out, c)
		}
	}
	return out
}

// DecodeUTF16 decodes a big-endian UTF-16 field padded with NULs, as used
// by ATSC short channel names.
func DecodeUTF16(b []byte) string {
	out, err := utf16BE.NewDecoder().Bytes(b)
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(out), "\x00 ")
}

// EncodeUTF16 encodes s into a zero padded big-endian UTF-16 field of n bytes.
func EncodeUTF16(s string, n int) []byte {
	out := make([]byte, n)
	enc, err := utf16BE.NewEncoder().Bytes([]byte(s))
	if err == nil {
		copy(out, enc)
	}
	return out
}
