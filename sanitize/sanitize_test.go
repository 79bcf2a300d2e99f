package sanitize

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"
)

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

func tcompare(t *testing.T, got, exp any) {
	t.Helper()
	if !reflect.DeepEqual(got, exp) {
		t.Fatalf("got %v, expected %v", got, exp)
	}
}

func tkind(t *testing.T, err error, exp Kind) {
	t.Helper()
	kind, ok := KindOf(err)
	if !ok || kind != exp {
		t.Fatalf("got error %v, expected kind %q", err, exp)
	}
}

func TestParseCSS(t *testing.T) {
	check := func(css string, exp []rule) {
		t.Helper()
		rules, err := parseCSS(css)
		tcheck(t, err, "parse css")
		tcompare(t, rules, exp)
	}
	checkErr := func(css string) {
		t.Helper()
		_, err := parseCSS(css)
		if !errors.Is(err, errCSS) {
			t.Fatalf("got err %v, expected errCSS", err)
		}
	}

	check("", nil)
	check("x", nil)
	check("p {}", nil)
	check("p { color: red }", []rule{{"p", []decl{{"color", "red", false}}}})
	check("<!-- p{COLOR:red;margin : 0} -->", []rule{{"p", []decl{{"color", "red", false}, {"margin", "0", false}}}})
	check("/* c */ a, b { x: 1 } /* d */", []rule{{"a, b", []decl{{"x", "1", false}}}})
	check(`@charset "utf-8"; @media print { p { color: red } } td { x: url("a;b") }`, []rule{{"td", []decl{{"x", `url("a;b")`, false}}}})
	check("p { color: red !important; margin: 0 }", []rule{{"p", []decl{{"color", "red", true}, {"margin", "0", false}}}})

	// Declarations cut off at the end are dropped, as are rules left without.
	check("p { margin: 0; color: red", []rule{{"p", []decl{{"margin", "0", false}}}})
	check("p { color: red", nil)
	check("@media print { p { color: red }", nil)

	checkErr("/* unterminated")
	checkErr(`p { content: "x }`)
	checkErr("} p { color: red }")
	checkErr("p { a { b: c } }")
	checkErr("p { color: red;; margin: 0 }")
}

func TestStyleDecls(t *testing.T) {
	l, err := styleDecls(" color: green; MARGIN: 0 ")
	tcheck(t, err, "style decls")
	tcompare(t, l, []decl{{"color", "green", false}, {"margin", "0", false}})

	l, err = styleDecls("color: green !important;")
	tcheck(t, err, "style decls")
	tcompare(t, l, []decl{{"color", "green", true}})

	l, err = styleDecls("")
	tcheck(t, err, "style decls")
	tcompare(t, l, []decl(nil))

	_, err = styleDecls("color: green;;")
	if !errors.Is(err, errCSS) {
		t.Fatalf("got err %v, expected errCSS", err)
	}
}

func TestInline(t *testing.T) {
	ctx := context.Background()
	in := Inliner{}

	check := func(body, exp string) {
		t.Helper()
		out, err := in.Inline(ctx, pkglog, []byte(body))
		tcheck(t, err, "inline")
		if !strings.Contains(string(out), exp) {
			t.Fatalf("got %q, expected it to contain %q", out, exp)
		}
	}

	check(`<html><head><style>p { color: red }</style></head><body><p>hi</p></body></html>`, `<p style="color: red">hi</p>`)

	// More specific selectors win, then later rules. Inline style wins over all.
	check(`<style>.x { color: blue } p { color: red; margin: 0 }</style><p class="x">a</p>`, `<p class="x" style="color: blue; margin: 0">a</p>`)
	check(`<style>p { color: red; margin: 0 } p { margin: 1px }</style><p style="color: green">a</p>`, `<p style="color: green; margin: 1px">a</p>`)
	check(`<style>p { color: red !important }</style><p style="color: green">a</p>`, `<p style="color: red !important">a</p>`)
	check(`<style>p { color: red }</style><p style="color: green;; margin: 0">a</p>`, `<p style="color: red; color: green;; margin: 0">a</p>`)
	check(`<style>#a td, b { font-weight: bold }</style><table id="a"><tr><td>x</td></tr></table><b>y</b>`, `<td style="font-weight: bold">x</td>`)

	// Unsupported selectors are skipped, other rules still apply.
	check(`<style>a::before { content: "x" } p { color: red }</style><p>a</p>`, `<p style="color: red">a</p>`)

	// Without stylesheets or matches, the body is returned unchanged.
	const plain = `<p>no styles</p>`
	out, err := in.Inline(ctx, pkglog, []byte(plain))
	tcheck(t, err, "inline")
	tcompare(t, string(out), plain)
	const nomatch = `<style>h1 { color: red }</style><p>x</p>`
	out, err = in.Inline(ctx, pkglog, []byte(nomatch))
	tcheck(t, err, "inline")
	tcompare(t, string(out), nomatch)

	// Linked stylesheets are ignored without fetcher.
	const linked = `<link rel="stylesheet" href="http://localhost/a.css"><p>x</p>`
	out, err = in.Inline(ctx, pkglog, []byte(linked))
	tcheck(t, err, "inline")
	tcompare(t, string(out), linked)

	// Malformed css degrades, the body is unchanged.
	const bad = `<style>p { color: red } }</style><p>x</p>`
	out, err = in.Inline(ctx, pkglog, []byte(bad))
	tkind(t, err, KindParseDegraded)
	tcompare(t, string(out), bad)
}

type fetcherFunc func(ctx context.Context, url string) ([]byte, error)

func (f fetcherFunc) FetchStylesheet(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

func TestInlineFetch(t *testing.T) {
	ctx := context.Background()
	const body = `<link rel="Stylesheet" href="http://localhost/a.css"><p>x</p>`

	var fetched []string
	in := Inliner{Fetcher: fetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
		fetched = append(fetched, url)
		return []byte("p { color: red }"), nil
	})}
	out, err := in.Inline(ctx, pkglog, []byte(body))
	tcheck(t, err, "inline")
	tcompare(t, fetched, []string{"http://localhost/a.css"})
	if !strings.Contains(string(out), `<p style="color: red">x</p>`) {
		t.Fatalf("got %q, expected inlined style", out)
	}

	errFetch := errors.New("fetch failed")
	in.Fetcher = fetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
		return nil, errFetch
	})
	out, err = in.Inline(ctx, pkglog, []byte(body))
	tkind(t, err, KindParseDegraded)
	if !errors.Is(err, errFetch) {
		t.Fatalf("got err %v, expected errFetch", err)
	}
	tcompare(t, string(out), body)

	// A hanging fetch is bounded by the timeout.
	in = Inliner{
		Fetcher: fetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
		Timeout: 10 * time.Millisecond,
	}
	out, err = in.Inline(ctx, pkglog, []byte(body))
	tkind(t, err, KindParseDegraded)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got err %v, expected deadline exceeded", err)
	}
	tcompare(t, string(out), body)

	// A panicking fetcher is contained.
	in = Inliner{Fetcher: fetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
		panic("boom")
	})}
	out, err = in.Inline(ctx, pkglog, []byte(body))
	tkind(t, err, KindParseDegraded)
	tcompare(t, string(out), body)
}

func TestHTTPFetcher(t *testing.T) {
	ctx := context.Background()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a.css":
			fmt.Fprint(w, "p { color: red }")
		case "/big.css":
			fmt.Fprint(w, strings.Repeat("x", 100))
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	f := HTTPFetcher{Client: ts.Client(), MaxSize: 50}
	buf, err := f.FetchStylesheet(ctx, ts.URL+"/a.css")
	tcheck(t, err, "fetch")
	tcompare(t, string(buf), "p { color: red }")

	_, err = f.FetchStylesheet(ctx, ts.URL+"/big.css")
	if err == nil {
		t.Fatalf("fetch of too large stylesheet succeeded")
	}
	_, err = f.FetchStylesheet(ctx, ts.URL+"/missing.css")
	if err == nil {
		t.Fatalf("fetch of missing stylesheet succeeded")
	}
	_, err = f.FetchStylesheet(ctx, "file:///etc/passwd")
	if err == nil {
		t.Fatalf("fetch of file url succeeded")
	}
}

func TestClean(t *testing.T) {
	check := func(body string, contains []string, absent []string) {
		t.Helper()
		out, err := Clean(pkglog, []byte(body))
		tcheck(t, err, "clean")
		s := string(out)
		if !strings.HasPrefix(s, "<div>") || !strings.HasSuffix(s, "</div>") {
			t.Fatalf("got %q, expected div wrapper", s)
		}
		for _, c := range contains {
			if !strings.Contains(s, c) {
				t.Fatalf("got %q, expected it to contain %q", s, c)
			}
		}
		for _, a := range absent {
			if strings.Contains(s, a) {
				t.Fatalf("got %q, expected it not to contain %q", s, a)
			}
		}
	}

	check(`<html><body><style>x</style><img src="http://x/a.png"></body></html>`,
		[]string{`<img src="http://x/a.png"`},
		[]string{"<style", ">x<"})
	check(`<script>alert(1)</script><p>hi</p>`,
		[]string{"<p>hi</p>"},
		[]string{"script", "alert"})
	check(`<html><head><title>Title</title><meta http-equiv="refresh" content="0"><link rel="stylesheet" href="a.css"><base href="http://x/"></head><body><p>text</p></body></html>`,
		[]string{"<p>text</p>"},
		[]string{"Title", "<meta", "<link", "<base", "<html", "<head", "<body"})
	check(`<a href="javascript:alert(1)" onclick="x()">a</a><img src="data:text/html,x" onerror="y()">`,
		[]string{">a"},
		[]string{"javascript", "onclick", "onerror", "data:text/html"})
	check(`<a href=" JaVa	script:alert(1)">a</a>`, nil, []string{"alert"})
	check(`<iframe src="http://x/"></iframe><object data="x"></object><embed src="x"><p>ok</p>`,
		[]string{"<p>ok</p>"},
		[]string{"iframe", "object", "embed"})
	check(`<form action="http://x/"><input name="a"><textarea>t</textarea><button>b</button>text</form>`,
		[]string{"text"},
		[]string{"<form", "<input", "<textarea", "<button"})
	check(`<!-- comment --><marquee>moving</marquee>`,
		[]string{"moving"},
		[]string{"comment", "marquee"})
	check(`<p style="color: red; background-image: url(http://x/a.png)">p</p>`,
		[]string{"color: red"},
		[]string{"background-image"})
	check(`<a href="https://example.org/">link</a>`,
		[]string{`href="https://example.org/"`, `target="_blank"`},
		nil)
	check(`<img src="cid:part1@example.org" alt="inline">`,
		[]string{`src="cid:part1@example.org"`, `alt="inline"`},
		nil)
	check(`<table bgcolor="#fff" width="100%"><tr><td align="center">x</td></tr></table>`,
		[]string{`bgcolor="#fff"`, `align="center"`},
		nil)

	// Cleaning is stable.
	first, err := Clean(pkglog, []byte(`<p>a<b>b</b></p><img src="http://x/a.png">`))
	tcheck(t, err, "clean")
	second, err := Clean(pkglog, []byte(`<p>a<b>b</b></p><img src="http://x/a.png">`))
	tcheck(t, err, "clean")
	tcompare(t, string(first), string(second))

	_, err = Clean(pkglog, []byte("\x00\x01\x02garbage\xff"))
	tkind(t, err, KindSanitize)
	if !errors.Is(err, ErrControl) {
		t.Fatalf("got err %v, expected ErrControl", err)
	}
	_, err = Clean(pkglog, []byte(" \r\n\t"))
	tkind(t, err, KindSanitize)
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("got err %v, expected ErrEmpty", err)
	}
}

func TestStripImages(t *testing.T) {
	out, err := StripImages(pkglog, []byte(`<div><img src="http://x/a.png" srcset="http://x/b.png 2x" alt="a"><p>text</p></div>`))
	tcheck(t, err, "strip images")
	tcompare(t, string(out), `<div><img alt="a"/><p>text</p></div>`)

	out, err = StripImages(pkglog, []byte(`<div>no images</div>`))
	tcheck(t, err, "strip images")
	tcompare(t, string(out), `<div>no images</div>`)

	_, err = StripImages(pkglog, []byte("\x00garbage"))
	tkind(t, err, KindImageFilter)
	_, err = StripImages(pkglog, nil)
	tkind(t, err, KindImageFilter)
}
