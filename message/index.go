package message

import (
	"strings"

	"github.com/mjl-/msgview/charset"
)

// Classified is a leaf part with the header details needed for display.
type Classified struct {
	Part `yaml:",inline"`

	MediaType   string // Lower case, e.g. "text/html".
	ParamString string // Content-Type after the first ";".
	Params      Params // From Content-Type and Content-Disposition.
	Disposition string
	Filename    string // From "filename" or "name" parameter, or empty.
	Charset     string // From "charset" parameter, or "utf-8".
}

// Index is the result of classifying the parts of a message.
type Index struct {
	// All non-container parts, in the order they were given. Used for listing
	// attachments.
	Parts []Classified

	// First text/html and text/plain parts, nil if absent. They point into Parts.
	HTML  *Classified
	Plain *Classified
}

// IsContainer returns whether the media type is a multipart or an embedded
// message, whose body is never shown itself.
func IsContainer(mediaType string) bool {
	return strings.HasPrefix(mediaType, "multipart") || strings.HasPrefix(mediaType, "message")
}

// Classify returns the header details of a part, and false for container parts.
func Classify(p Part) (Classified, bool) {
	mediaType, paramString := SplitContentType(p.ContentType)
	if IsContainer(mediaType) {
		return Classified{}, false
	}

	params := ParseParams(paramString)
	for k, v := range ParseParams(p.ContentDisposition) {
		params[k] = v
	}

	c := Classified{
		Part:        p,
		MediaType:   mediaType,
		ParamString: paramString,
		Params:      params,
		Disposition: p.ContentDisposition,
		Charset:     charset.Default,
	}
	if s, ok := params["filename"]; ok {
		c.Filename = s
	} else if s, ok := params["name"]; ok {
		c.Filename = s
	}
	if s, ok := params["charset"]; ok {
		c.Charset = s
	}
	return c, true
}

// NewIndex classifies parts, given in storage order. It never fails: parts with
// malformed headers are classified with empty parameters.
func NewIndex(parts []Part) Index {
	var x Index
	html, plain := -1, -1
	for _, p := range parts {
		c, ok := Classify(p)
		if !ok {
			continue
		}
		if html < 0 && c.MediaType == "text/html" {
			html = len(x.Parts)
		} else if plain < 0 && c.MediaType == "text/plain" {
			plain = len(x.Parts)
		}
		x.Parts = append(x.Parts, c)
	}
	if html >= 0 {
		x.HTML = &x.Parts[html]
	}
	if plain >= 0 {
		x.Plain = &x.Parts[plain]
	}
	return x
}
