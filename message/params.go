package message

import (
	"regexp"
	"strings"
)

// Params holds the parameters of a header value, keyed by lower case name.
type Params map[string]string

// A parameter is a name, "=" and a value up to the next quote, ";" or "=". The
// value may be quoted with single or double quotes.
var paramRegexp = regexp.MustCompile(`([a-zA-Z0-9]+)=["']?([^"';=]+)["']?;?`)

// ParseParams parses parameters from a header fragment like
// `charset="utf-8"; name=a.txt`. Parsing never fails: fragments that don't
// look like a parameter are skipped and the remaining parameters are still
// returned. For repeated parameters, the last one wins.
//
// Unlike mime.ParseMediaType, this is lenient about quoting and stray
// characters, which are common in the wild.
func ParseParams(s string) Params {
	p := Params{}
	for _, l := range paramRegexp.FindAllStringSubmatch(s, -1) {
		p[strings.ToLower(l[1])] = l[2]
	}
	return p
}

// SplitContentType splits a Content-Type header value on the first ";" into
// the media type and the parameter string. The media type is trimmed and lower
// cased. Without ";", the parameter string is empty.
func SplitContentType(s string) (mediaType, params string) {
	mediaType, params, _ = strings.Cut(s, ";")
	return strings.ToLower(strings.TrimSpace(mediaType)), params
}
