package sanitize

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/mjl-/msgview/metrics"
	"github.com/mjl-/msgview/mlog"
)

// Elements removed including their content.
var killElements = map[string]bool{
	"script":   true,
	"noscript": true,
	"style":    true,
	"base":     true,
	"title":    true,
	"meta":     true,
	"link":     true,
	"object":   true,
	"embed":    true,
	"applet":   true,
	"param":    true,
	"frame":    true,
	"frameset": true,
	"iframe":   true,
	"input":    true,
	"button":   true,
	"select":   true,
	"textarea": true,
}

// Elements replaced by their content.
var unwrapElements = map[string]bool{
	"html":    true,
	"head":    true,
	"body":    true,
	"form":    true,
	"blink":   true,
	"marquee": true,
}

// Attributes kept by the structural pass. The bluemonday policy narrows
// further per element.
var safeAttrs = map[string]bool{
	"abbr": true, "align": true, "alt": true, "axis": true, "bgcolor": true,
	"border": true, "cellpadding": true, "cellspacing": true, "char": true,
	"charoff": true, "cite": true, "class": true, "clear": true, "color": true,
	"cols": true, "colspan": true, "compact": true, "coords": true,
	"datetime": true, "dir": true, "face": true, "headers": true,
	"height": true, "href": true, "hreflang": true, "hspace": true, "id": true,
	"label": true, "lang": true, "longdesc": true, "name": true,
	"noshade": true, "nowrap": true, "rel": true, "rev": true, "rows": true,
	"rowspan": true, "rules": true, "scope": true, "shape": true, "size": true,
	"span": true, "src": true, "start": true, "style": true, "summary": true,
	"tabindex": true, "target": true, "title": true, "type": true,
	"usemap": true, "valign": true, "value": true, "vspace": true,
	"width": true,
}

// Attributes holding a URL.
var urlAttrs = map[string]bool{
	"href":     true,
	"src":      true,
	"cite":     true,
	"longdesc": true,
	"usemap":   true,
}

// CSS properties allowed in style attributes. Properties that load resources,
// like background-image, are left out.
var styleProperties = []string{
	"background-color", "border", "border-bottom", "border-bottom-color",
	"border-bottom-style", "border-bottom-width", "border-collapse",
	"border-color", "border-left", "border-left-color", "border-left-style",
	"border-left-width", "border-radius", "border-right", "border-right-color",
	"border-right-style", "border-right-width", "border-spacing",
	"border-style", "border-top", "border-top-color", "border-top-style",
	"border-top-width", "border-width", "clear", "color", "direction",
	"display", "float", "font", "font-family", "font-size", "font-style",
	"font-variant", "font-weight", "height", "letter-spacing", "line-height",
	"list-style-type", "margin", "margin-bottom", "margin-left",
	"margin-right", "margin-top", "max-height", "max-width", "min-height",
	"min-width", "padding", "padding-bottom", "padding-left", "padding-right",
	"padding-top", "table-layout", "text-align", "text-decoration",
	"text-indent", "text-transform", "vertical-align", "white-space", "width",
	"word-spacing", "word-wrap",
}

var policy = newPolicy()

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("font", "center", "big", "small", "span", "div", "u", "s", "strike")
	p.AllowAttrs("color", "face", "size").OnElements("font")
	p.AllowAttrs("align", "valign", "bgcolor", "width", "height", "border", "cellpadding", "cellspacing").Globally()
	p.AllowAttrs("style").Globally()
	p.AllowStyles(styleProperties...).Globally()
	p.AllowURLSchemes("cid")
	p.AllowDataURIImages()
	// Images lose their src when images are not shown, they must stay.
	p.AllowNoAttrs().OnElements("img")
	p.AddTargetBlankToFullyQualifiedLinks(true)
	return p
}

// Clean removes page structure, scripts, embedded content, frames,
// stylesheets, form controls and unsafe attributes and URLs from an HTML
// document. The result is an HTML fragment wrapped in a single div.
//
// Clean fails with an *Error of KindSanitize for empty input, input with NUL
// or other control characters, and when parsing fails.
func Clean(log mlog.Log, body []byte) (rbody []byte, rerr error) {
	defer recoverPass(log, KindSanitize, metrics.PanicClean, &rerr)

	if err := validate(body); err != nil {
		return nil, &Error{KindSanitize, err}
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &Error{KindSanitize, fmt.Errorf("parsing html: %w", err)}
	}

	cleanNode(log, doc)

	var b bytes.Buffer
	b.WriteString("<div>")
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&b, c); err != nil {
			return nil, &Error{KindSanitize, fmt.Errorf("writing html: %w", err)}
		}
	}
	b.WriteString("</div>")

	return policy.SanitizeBytes(b.Bytes()), nil
}

// cleanNode removes unwanted nodes and attributes from the descendants of n.
func cleanNode(log mlog.Log, n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		switch c.Type {
		case html.CommentNode, html.DoctypeNode:
			n.RemoveChild(c)
		case html.ElementNode:
			if killElements[c.Data] {
				n.RemoveChild(c)
				break
			}
			cleanNode(log, c)
			cleanAttrs(log, c)
			if unwrapElements[c.Data] {
				for gc := c.FirstChild; gc != nil; gc = c.FirstChild {
					c.RemoveChild(gc)
					n.InsertBefore(gc, c)
				}
				n.RemoveChild(c)
			}
		}
		c = next
	}
}

func cleanAttrs(log mlog.Log, n *html.Node) {
	var l []html.Attribute
	for _, a := range n.Attr {
		k := strings.ToLower(a.Key)
		if a.Namespace != "" || !safeAttrs[k] {
			continue
		}
		if urlAttrs[k] && !safeURL(a.Val) {
			log.Debug("removing unsafe url", slog.String("element", n.Data), slog.String("attr", k))
			continue
		}
		l = append(l, a)
	}
	n.Attr = l
}

// safeURL returns false for javascript:, vbscript: and data: URLs other than
// images.
func safeURL(s string) bool {
	s = strings.Map(func(r rune) rune {
		if r <= ' ' {
			return -1
		}
		return r
	}, strings.ToLower(s))
	switch {
	case strings.HasPrefix(s, "javascript:"), strings.HasPrefix(s, "vbscript:"):
		return false
	case strings.HasPrefix(s, "data:"):
		return strings.HasPrefix(s, "data:image/")
	}
	return true
}
