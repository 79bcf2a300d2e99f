package webmail

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"runtime/debug"
	"strings"
	"testing"

	"github.com/mjl-/sherpa"

	"github.com/mjl-/msgview/render"
	"github.com/mjl-/msgview/store"
)

var ctxbg = context.Background()

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

func tneedErrorCode(t *testing.T, code string, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		x := recover()
		if x == nil {
			debug.PrintStack()
			t.Fatalf("expected sherpa error, saw success")
		}
		if err, ok := x.(*sherpa.Error); !ok {
			debug.PrintStack()
			t.Fatalf("expected sherpa error, saw %#v", x)
		} else if err.Code != code {
			debug.PrintStack()
			t.Fatalf("expected sherpa error code %q, saw other sherpa error %#v", code, err)
		}
	}()

	fn()
}

const testMessage = "From: <mjl@example.org>\r\n" +
	"Subject: hi\r\n" +
	"Content-Type: multipart/alternative; boundary=x\r\n" +
	"\r\n" +
	"--x\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"plain text\r\n" +
	"--x\r\n" +
	"Content-Type: text/html\r\n" +
	"\r\n" +
	"<style>p { color: red }</style><p>html</p><img src=\"http://example.org/a.png\"><script>alert(1)</script>\r\n" +
	"--x--\r\n"

func testServer(t *testing.T) (*Server, store.Message) {
	t.Helper()
	defaults := render.Preferences{PreferHTMLEmail: true, AskImages: true}
	db, err := store.Open(ctxbg, pkglog, filepath.Join(t.TempDir(), "msgview.db"), defaults)
	tcheck(t, err, "open db")
	t.Cleanup(func() {
		err := db.Close()
		tcheck(t, err, "close db")
	})
	m, err := db.Import(ctxbg, pkglog, "mjl", "inbox", strings.NewReader(testMessage))
	tcheck(t, err, "import")
	return &Server{DB: db, AccountHeader: "X-Account"}, m
}

func TestHandler(t *testing.T) {
	s, m := testServer(t)
	h, err := s.Handler()
	tcheck(t, err, "handler")

	msgPath := fmt.Sprintf("/msg/inbox/%x", m.ID)

	do := func(method, path, account string, expCode int) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest(method, path, nil)
		if account != "" {
			req.Header.Set("X-Account", account)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != expCode {
			t.Fatalf("%s %s: got status %d, expected %d, body %q", method, path, rr.Code, expCode, rr.Body.String())
		}
		return rr
	}

	// Without account header.
	do("GET", msgPath, "", http.StatusUnauthorized)

	// Message of other account, unknown inbox and bad ids.
	do("GET", msgPath, "other", http.StatusNotFound)
	do("GET", fmt.Sprintf("/msg/spam/%x", m.ID), "mjl", http.StatusNotFound)
	do("GET", "/msg/inbox/zz", "mjl", http.StatusNotFound)
	do("GET", "/msg/inbox/0", "mjl", http.StatusNotFound)
	do("GET", "/msg/inbox/ffff", "mjl", http.StatusNotFound)
	do("GET", msgPath+"/bogus", "mjl", http.StatusNotFound)
	do("GET", "/other", "mjl", http.StatusNotFound)

	xm, err := s.DB.Message(ctxbg, "mjl", "inbox", m.ID)
	tcheck(t, err, "get message")
	tcompare(t, xm.Read, false)

	// JSON of message.
	rr := do("GET", msgPath, "mjl", http.StatusOK)
	tcompare(t, rr.Header().Get("Content-Type"), "application/json; charset=utf-8")
	var e render.Email
	err = json.Unmarshal(rr.Body.Bytes(), &e)
	tcheck(t, err, "parse json")
	tcompare(t, e.ID, m.ID)
	tcompare(t, e.Subject, "hi")
	tcompare(t, e.Plain, false)
	tcompare(t, e.AskImages, true)

	xm, err = s.DB.Message(ctxbg, "mjl", "inbox", m.ID)
	tcheck(t, err, "get message")
	tcompare(t, xm.Read, true)
	tcompare(t, xm.Seen, true)

	// Body without remote images.
	rr = do("GET", msgPath+"/body", "mjl", http.StatusOK)
	tcompare(t, rr.Header().Get("Content-Type"), "text/html; charset=utf-8")
	csp := rr.Header().Get("Content-Security-Policy")
	if !strings.Contains(csp, "default-src 'none'") || !strings.Contains(csp, "img-src data:;") {
		t.Fatalf("unexpected csp %q", csp)
	}
	tcompare(t, rr.Header().Get("X-Frame-Options"), "sameorigin")
	body := rr.Body.String()
	if !strings.HasPrefix(body, "<div>") || !strings.Contains(body, "color: red") {
		t.Fatalf("unexpected body %q", body)
	}
	if strings.Contains(body, "example.org/a.png") || strings.Contains(body, "alert") {
		t.Fatalf("body has remote image or script: %q", body)
	}

	// Showing images once.
	rr = do("GET", msgPath+"/body?imgDisplay=1", "mjl", http.StatusOK)
	csp = rr.Header().Get("Content-Security-Policy")
	if !strings.Contains(csp, "img-src data: http: https:") {
		t.Fatalf("csp does not allow remote images: %q", csp)
	}
	if !strings.Contains(rr.Body.String(), `src="http://example.org/a.png"`) {
		t.Fatalf("body without remote image: %q", rr.Body.String())
	}

	// Important toggle.
	do("GET", msgPath+"/important-toggle", "mjl", http.StatusMethodNotAllowed)
	do("POST", msgPath, "mjl", http.StatusMethodNotAllowed)
	rr = do("POST", msgPath+"/important-toggle", "mjl", http.StatusOK)
	var resp struct{ Important bool }
	err = json.Unmarshal(rr.Body.Bytes(), &resp)
	tcheck(t, err, "parse response")
	tcompare(t, resp.Important, true)
	rr = do("POST", msgPath+"/important-toggle", "mjl", http.StatusOK)
	err = json.Unmarshal(rr.Body.Bytes(), &resp)
	tcheck(t, err, "parse response")
	tcompare(t, resp.Important, false)
	do("POST", fmt.Sprintf("/msg/inbox/%x/important-toggle", m.ID+100), "mjl", http.StatusNotFound)

	// Plain text preferred.
	err = s.DB.SavePreferences(ctxbg, "mjl", render.Preferences{})
	tcheck(t, err, "save preferences")
	rr = do("GET", msgPath+"/body", "mjl", http.StatusOK)
	tcompare(t, rr.Header().Get("Content-Type"), "text/plain; charset=utf-8")
	tcompare(t, strings.TrimSpace(rr.Body.String()), "plain text")
}

func TestAPIHTTP(t *testing.T) {
	s, _ := testServer(t)
	h, err := s.Handler()
	tcheck(t, err, "handler")

	req := httptest.NewRequest("POST", "/api/Preferences", strings.NewReader(`{"params": []}`))
	req.Header.Set("X-Account", "mjl")
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	tcompare(t, rr.Code, http.StatusOK)

	var resp struct {
		Result render.Preferences `json:"result"`
	}
	err = json.Unmarshal(rr.Body.Bytes(), &resp)
	tcheck(t, err, "parse response")
	tcompare(t, resp.Result, render.Preferences{PreferHTMLEmail: true, AskImages: true})
}

func TestAPI(t *testing.T) {
	s, m := testServer(t)
	api := API{}
	reqInfo := requestInfo{pkglog, "mjl", s}
	ctx := context.WithValue(ctxbg, requestInfoCtxKey, reqInfo)

	e := api.Message(ctx, "inbox", m.ID, false)
	tcompare(t, e.Subject, "hi")
	tcompare(t, e.AskImages, true)
	tcompare(t, len(e.Attachments), 2)

	e = api.Message(ctx, "inbox", m.ID, true)
	tcompare(t, e.AskImages, false)

	tneedErrorCode(t, "user:notFound", func() { api.Message(ctx, "inbox", m.ID+100, false) })
	tneedErrorCode(t, "user:notFound", func() { api.Message(ctx, "other", m.ID, false) })
	tneedErrorCode(t, "user:notFound", func() { api.ToggleImportant(ctx, "other", m.ID) })

	l := api.Messages(ctx, "inbox")
	tcompare(t, len(l), 1)
	tcompare(t, l[0].Read, true)
	tcompare(t, len(api.Messages(ctx, "other")), 0)

	tcompare(t, api.ToggleImportant(ctx, "inbox", m.ID), true)
	tcompare(t, api.ToggleImportant(ctx, "inbox", m.ID), false)

	tcompare(t, api.Preferences(ctx), render.Preferences{PreferHTMLEmail: true, AskImages: true})
	prefs := render.Preferences{DisplayImages: true}
	api.PreferencesSave(ctx, prefs)
	tcompare(t, api.Preferences(ctx), prefs)

	e = api.Message(ctx, "inbox", m.ID, false)
	tcompare(t, e.Plain, true)
	tcompare(t, strings.TrimSpace(e.Body), "plain text")

	// Other account still has defaults.
	otherCtx := context.WithValue(ctxbg, requestInfoCtxKey, requestInfo{pkglog, "other", s})
	tcompare(t, api.Preferences(otherCtx), render.Preferences{PreferHTMLEmail: true, AskImages: true})

	version, _, _ := api.Version(ctx)
	if version == "" {
		t.Fatalf("empty version")
	}
}
