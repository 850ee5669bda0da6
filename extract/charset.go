package extract

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeText converts a part body to a string.
//
// A declared charset wins when it is known. Otherwise valid UTF-8 is taken
// as is, and anything else is read as ISO-8859-1, which maps every byte to
// a rune and therefore never fails.
func DecodeText(body []byte, charset string) string {
	body = bytes.TrimPrefix(body, utf8BOM)

	if charset != "" {
		if enc, err := htmlindex.Get(charset); err == nil {
			if out, err := enc.NewDecoder().Bytes(body); err == nil {
				return string(out)
			}
		}
	}

	if utf8.Valid(body) {
		return string(body)
	}

	out, err := charmap.ISO8859_1.NewDecoder().Bytes(body)
	if err != nil {
		return string(bytes.ToValidUTF8(body, []byte("�")))
	}
	return string(out)
}
