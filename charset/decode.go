// Package charset turns message bodies into text.
package charset

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Default is used when a part does not specify a charset.
const Default = "utf-8"

// Lookup returns the encoding for a charset name. MIME names are tried first,
// then IANA names, then the WHATWG labels browsers understand (e.g. "latin1"
// meaning windows-1252). Empty, us-ascii, utf-8 and unknown charsets resolve
// to UTF-8, and ok is false for unknown charsets.
func Lookup(charset string) (enc encoding.Encoding, ok bool) {
	charset = strings.TrimSpace(strings.ToLower(charset))
	switch charset {
	case "", "us-ascii", "utf-8", "utf8":
		return unicode.UTF8, true
	}
	enc, _ = ianaindex.MIME.Encoding(charset)
	if enc == nil {
		enc, _ = ianaindex.IANA.Encoding(charset)
	}
	if enc == nil {
		enc, _ = htmlindex.Get(charset)
	}
	if enc == nil {
		return unicode.UTF8, false
	}
	return enc, true
}

// Decode returns buf decoded from charset as a string. Decoding never fails:
// invalid byte sequences are replaced with the unicode replacement character
// U+FFFD, and unknown charsets are decoded as UTF-8.
func Decode(charset string, buf []byte) string {
	enc, _ := Lookup(charset)
	s, _, err := transform.String(enc.NewDecoder(), string(buf))
	if err != nil {
		return strings.ToValidUTF8(string(buf), string(utf8.RuneError))
	}
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, string(utf8.RuneError))
	}
	return s
}
