package sanitize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/mjl-/msgview/metrics"
	"github.com/mjl-/msgview/mlog"
)

// StyleFetcher retrieves linked stylesheets. Implementations may be slow or
// fail, Inline bounds them with a timeout.
type StyleFetcher interface {
	FetchStylesheet(ctx context.Context, url string) ([]byte, error)
}

// Inliner copies CSS rules from style elements, and optionally from linked
// stylesheets, into the style attributes of the elements they match. This
// keeps most of the styling after Clean removes the stylesheets.
type Inliner struct {
	Fetcher StyleFetcher  // If nil, linked stylesheets are ignored.
	Timeout time.Duration // For fetching all linked stylesheets. Zero means only ctx applies.
}

var errCSS = errors.New("malformed css")

// Inline returns the body with styles inlined. If no stylesheets are present
// or no rules match, the original body is returned. On error, the original
// body is returned along with an *Error of KindParseDegraded.
func (in Inliner) Inline(ctx context.Context, log mlog.Log, body []byte) (rbody []byte, rerr error) {
	defer func() {
		if rerr != nil {
			rbody = body
		}
	}()
	defer recoverPass(log, KindParseDegraded, metrics.PanicInline, &rerr)

	fail := func(err error) ([]byte, error) {
		return body, &Error{KindParseDegraded, err}
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return fail(fmt.Errorf("parsing html: %w", err))
	}

	sheets, err := in.stylesheets(ctx, log, doc)
	if err != nil {
		return fail(err)
	}
	if len(sheets) == 0 {
		return body, nil
	}

	var rules []rule
	for _, sheet := range sheets {
		l, err := parseCSS(sheet)
		if err != nil {
			return fail(err)
		}
		rules = append(rules, l...)
	}
	if n := applyRules(log, doc, rules); n == 0 {
		return body, nil
	} else {
		log.Debug("inlined styles", slog.Int("rules", len(rules)), slog.Int("elements", n))
	}

	var b bytes.Buffer
	if err := html.Render(&b, doc); err != nil {
		return fail(fmt.Errorf("writing html: %w", err))
	}
	return b.Bytes(), nil
}

// stylesheets returns the CSS from style elements and linked stylesheets, in
// document order.
func (in Inliner) stylesheets(ctx context.Context, log mlog.Log, doc *html.Node) ([]string, error) {
	if in.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.Timeout)
		defer cancel()
	}

	var sheets []string
	var walk func(n *html.Node) error
	walk = func(n *html.Node) error {
		if n.Type == html.ElementNode && n.Namespace == "" {
			switch n.DataAtom {
			case atom.Style:
				var sb strings.Builder
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					if c.Type == html.TextNode {
						sb.WriteString(c.Data)
					}
				}
				sheets = append(sheets, sb.String())
				return nil
			case atom.Link:
				href := attr(n, "href")
				if href == "" || !hasWord(attr(n, "rel"), "stylesheet") {
					return nil
				}
				if in.Fetcher == nil {
					log.Debug("ignoring linked stylesheet", slog.String("href", href))
					return nil
				}
				buf, err := in.Fetcher.FetchStylesheet(ctx, href)
				if err != nil {
					return fmt.Errorf("fetching stylesheet %q: %w", href, err)
				}
				sheets = append(sheets, string(buf))
				return nil
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	err := walk(doc)
	return sheets, err
}

type decl struct {
	Property  string
	Value     string
	Important bool
}

type rule struct {
	Selector string
	Decls    []decl
}

// parseCSS returns the style rules with declarations from a stylesheet.
// At-rules, e.g. @media and @import, are skipped. Declarations cut off by the
// end of the stylesheet are dropped. Stray closing braces, empty declarations
// and unterminated comments and strings are errors.
func parseCSS(s string) ([]rule, error) {
	sheet, err := parser.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errCSS, err)
	}
	var rules []rule
	for _, r := range sheet.Rules {
		if r.Kind != css.QualifiedRule {
			continue
		}
		if l := cssDecls(r.Declarations); len(l) > 0 {
			rules = append(rules, rule{r.Prelude, l})
		}
	}
	return rules, nil
}

// styleDecls parses the declarations of a style attribute.
func styleDecls(s string) ([]decl, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	// Only terminated declarations get a value.
	if !strings.HasSuffix(s, ";") {
		s += ";"
	}
	l, err := parser.ParseDeclarations(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errCSS, err)
	}
	return cssDecls(l), nil
}

func cssDecls(l []*css.Declaration) []decl {
	var r []decl
	for _, d := range l {
		prop := strings.ToLower(d.Property)
		if prop != "" && d.Value != "" {
			r = append(r, decl{prop, d.Value, d.Important})
		}
	}
	return r
}

// mergeDecls keeps the last value for each property, at the position the
// property was first seen. An important value is only replaced by another
// important value.
func mergeDecls(l []decl) []decl {
	var r []decl
	index := map[string]int{}
	for _, d := range l {
		if i, ok := index[d.Property]; ok {
			if d.Important || !r[i].Important {
				r[i].Value = d.Value
				r[i].Important = d.Important
			}
			continue
		}
		index[d.Property] = len(r)
		r = append(r, d)
	}
	return r
}

func formatDecls(l []decl) string {
	var sb strings.Builder
	for i, d := range l {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(d.Property + ": " + d.Value)
		if d.Important {
			sb.WriteString(" !important")
		}
	}
	return sb.String()
}

// applyRules sets style attributes for elements matched by rules, in order of
// increasing specificity, then order of the rules. Declarations already in a
// style attribute take precedence, unless overridden with !important. A style
// attribute that cannot be parsed is kept as is after the inlined declarations.
// Selectors cascadia cannot parse, e.g. with pseudo-classes like :hover, are
// skipped. The number of changed elements is returned.
func applyRules(log mlog.Log, doc *html.Node, rules []rule) int {
	type match struct {
		spec  cascadia.Specificity
		decls []decl
	}
	matches := map[*html.Node][]match{}
	var nodes []*html.Node
	for _, r := range rules {
		group, err := cascadia.ParseGroup(r.Selector)
		if err != nil {
			log.Debugx("skipping css selector", err, slog.String("selector", r.Selector))
			continue
		}
		for _, sel := range group {
			for _, n := range cascadia.QueryAll(doc, sel) {
				if _, ok := matches[n]; !ok {
					nodes = append(nodes, n)
				}
				matches[n] = append(matches[n], match{sel.Specificity(), r.Decls})
			}
		}
	}

	for _, n := range nodes {
		l := matches[n]
		sort.SliceStable(l, func(i, j int) bool {
			return l[i].spec.Less(l[j].spec)
		})
		var decls []decl
		for _, m := range l {
			decls = append(decls, m.decls...)
		}
		style := attr(n, "style")
		own, err := styleDecls(style)
		if err != nil {
			log.Debugx("parsing style attribute, keeping as is", err, slog.String("style", style))
			setAttr(n, "style", formatDecls(mergeDecls(decls))+"; "+style)
			continue
		}
		decls = append(decls, own...)
		setAttr(n, "style", formatDecls(mergeDecls(decls)))
	}
	return len(nodes)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, value string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: value})
}

func hasWord(s, word string) bool {
	for _, w := range strings.Fields(s) {
		if strings.EqualFold(w, word) {
			return true
		}
	}
	return false
}

// HTTPFetcher fetches stylesheets over HTTP(S).
type HTTPFetcher struct {
	Client  *http.Client // If nil, http.DefaultClient is used.
	MaxSize int64        // Maximum size of a stylesheet. Zero means 1MB.
}

var _ StyleFetcher = HTTPFetcher{}

// FetchStylesheet fetches a stylesheet. Only absolute http and https URLs are
// fetched.
func (f HTTPFetcher) FetchStylesheet(ctx context.Context, s string) (rbuf []byte, rerr error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("parsing url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	maxSize := f.MaxSize
	if maxSize <= 0 {
		maxSize = 1024 * 1024
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %v", err)
	}
	start := time.Now()
	var code int
	defer func() {
		metrics.HTTPClientObserve(ctx, "sanitize", req.Method, code, rerr, start)
	}()
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()
	code = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http get: status %s", resp.Status)
	}
	buf, err := io.ReadAll(io.LimitReader(resp.Body, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading stylesheet: %w", err)
	}
	if int64(len(buf)) > maxSize {
		return nil, fmt.Errorf("stylesheet larger than %d bytes", maxSize)
	}
	return buf, nil
}
