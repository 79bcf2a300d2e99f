// Package webmail serves rendered messages over HTTP.
//
// Messages are addressed as /msg/<inbox>/<id>, with id in hexadecimal. The
// message itself is returned as JSON, the sanitized body is served separately
// at /msg/<inbox>/<id>/body with a strict Content-Security-Policy, for
// display in a sandboxed iframe. A sherpa JSON API is served at /api/.
//
// Authentication is left to a reverse proxy, which passes the account name in
// a configured request header.
package webmail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/mjl-/sherpa"

	"github.com/mjl-/msgview/metrics"
	"github.com/mjl-/msgview/mlog"
	"github.com/mjl-/msgview/render"
	"github.com/mjl-/msgview/sanitize"
	"github.com/mjl-/msgview/store"
)

var pkglog = mlog.New("webmail", nil)

// Passed to API calls through the context.
type ctxKey string

var requestInfoCtxKey ctxKey = "requestInfo"

type requestInfo struct {
	Log     mlog.Log
	Account string
	Server  *Server
}

var cid atomic.Int64

// Server serves messages from a database.
type Server struct {
	DB            *store.DB
	AccountHeader string           // Request header with the account name, set by a trusted proxy.
	Inliner       sanitize.Inliner // For inlining styles of HTML messages.
}

func xcheckf(ctx context.Context, err error, format string, args ...any) {
	if err == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	errmsg := fmt.Sprintf("%s: %s", msg, err)
	pkglog.WithContext(ctx).Errorx(msg, err)
	panic(&sherpa.Error{Code: "server:error", Message: errmsg})
}

func xcheckuserf(ctx context.Context, err error, format string, args ...any) {
	if err == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	errmsg := fmt.Sprintf("%s: %s", msg, err)
	pkglog.WithContext(ctx).Debugx(msg, err)
	panic(&sherpa.Error{Code: "user:error", Message: errmsg})
}

// xmessageCheck panics with a user:notFound error for absent messages.
func xmessageCheck(ctx context.Context, err error, msg string) {
	if errors.Is(err, store.ErrNotFound) {
		panic(&sherpa.Error{Code: "user:notFound", Message: "message not found"})
	}
	xcheckf(ctx, err, "%s", msg)
}

// xrender renders a message and marks it read.
func (s *Server) xrender(ctx context.Context, log mlog.Log, account, inbox string, id int64, showImages bool) (render.Email, render.Input) {
	in, err := render.Load(ctx, s.DB, s.DB, account, inbox, id)
	xmessageCheck(ctx, err, "loading message")
	in.ShowImages = showImages
	in.Inliner = s.Inliner

	e := render.Render(ctx, log, in)

	err = s.DB.MarkRead(ctx, account, inbox, id)
	xcheckf(ctx, err, "marking message read")
	return e, in
}

// Handler returns the handler for the message view and API.
func (s *Server) Handler() (http.Handler, error) {
	sh, err := makeSherpaHandler()
	if err != nil {
		return nil, err
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.handle(sh, w, r)
	}), nil
}

func (s *Server) handle(apiHandler http.Handler, w http.ResponseWriter, r *http.Request) {
	ctx := context.WithValue(r.Context(), mlog.CidKey, cid.Add(1))
	log := pkglog.WithContext(ctx)

	account := strings.TrimSpace(r.Header.Get(s.AccountHeader))
	if account == "" {
		log.Debug("request without account", slog.String("header", s.AccountHeader))
		http.Error(w, "401 - unauthorized - missing account", http.StatusUnauthorized)
		return
	}
	log = log.With(slog.String("account", account))

	defer func() {
		x := recover()
		if x == nil {
			return
		}
		err, ok := x.(*sherpa.Error)
		if !ok {
			log.Error("handle panic", slog.Any("err", x))
			debug.PrintStack()
			metrics.PanicInc(metrics.PanicWebmail)
			panic(x)
		}
		switch {
		case err.Code == "user:notFound":
			http.NotFound(w, r)
		case strings.HasPrefix(err.Code, "user:"):
			log.Debugx("webmail user error", err)
			http.Error(w, "400 - bad request - "+err.Message, http.StatusBadRequest)
		default:
			log.Errorx("webmail server error", err)
			http.Error(w, "500 - internal server error - "+err.Message, http.StatusInternalServerError)
		}
	}()

	// API calls.
	if strings.HasPrefix(r.URL.Path, "/api/") {
		reqInfo := requestInfo{log, account, s}
		ctx = context.WithValue(ctx, requestInfoCtxKey, reqInfo)
		apiHandler.ServeHTTP(w, r.WithContext(ctx))
		return
	}

	// We are now expecting the following URLs:
	// /msg/<inbox>/<hexid>
	// /msg/<inbox>/<hexid>/{body,important-toggle}
	if !strings.HasPrefix(r.URL.Path, "/msg/") {
		http.NotFound(w, r)
		return
	}
	t := strings.Split(r.URL.Path[len("/msg/"):], "/")
	if len(t) < 2 || len(t) > 3 || t[0] == "" {
		http.NotFound(w, r)
		return
	}
	inbox := t[0]
	id, err := strconv.ParseInt(t[1], 16, 64)
	if err != nil || id <= 0 {
		http.NotFound(w, r)
		return
	}
	log = log.With(slog.String("inbox", inbox), slog.Int64("msgid", id))

	method := func(methods ...string) bool {
		for _, m := range methods {
			if r.Method == m {
				return true
			}
		}
		http.Error(w, "405 - method not allowed - use "+strings.ToLower(strings.Join(methods, " or ")), http.StatusMethodNotAllowed)
		return false
	}

	h := w.Header()
	// As strict as possible: nothing is loaded except inline styles and data:
	// images. With allowExternal, images, styles and fonts from remote URLs are
	// allowed as well.
	headers := func(allowExternal bool) {
		sb := "sandbox allow-popups allow-popups-to-escape-sandbox; "
		var csp string
		if allowExternal {
			csp = sb + "frame-ancestors 'self'; default-src 'none'; img-src data: http: https: 'unsafe-inline'; style-src 'unsafe-inline' data: http: https:; font-src data: http: https: 'unsafe-inline'"
		} else {
			csp = sb + "frame-ancestors 'self'; default-src 'none'; img-src data:; style-src 'unsafe-inline'"
		}
		h.Set("Content-Security-Policy", csp)
		h.Set("X-Frame-Options", "sameorigin")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "no-referrer")
	}

	showImages := r.FormValue("imgDisplay") == "1"

	switch {
	case len(t) == 2:
		if !method("GET", "HEAD") {
			return
		}
		e, _ := s.xrender(ctx, log, account, inbox, id, showImages)
		h.Set("Content-Type", "application/json; charset=utf-8")
		h.Set("Cache-Control", "no-store")
		err := json.NewEncoder(w).Encode(e)
		log.Check(err, "writing message json")

	case t[2] == "body":
		if !method("GET", "HEAD") {
			return
		}
		e, in := s.xrender(ctx, log, account, inbox, id, showImages)
		display, _ := render.ImagePolicy(e.Plain, in.ShowImages, in.Preferences)
		headers(display && !e.Plain)
		if e.Plain {
			h.Set("Content-Type", "text/plain; charset=utf-8")
		} else {
			h.Set("Content-Type", "text/html; charset=utf-8")
		}
		h.Set("Cache-Control", "no-store")
		_, err := w.Write([]byte(e.Body))
		log.Check(err, "writing message body")

	case t[2] == "important-toggle":
		if !method("POST") {
			return
		}
		important, err := s.DB.ToggleImportant(ctx, account, inbox, id)
		xmessageCheck(ctx, err, "toggling important")
		log.Debug("toggled important", slog.Bool("important", important))
		h.Set("Content-Type", "application/json; charset=utf-8")
		err = json.NewEncoder(w).Encode(struct{ Important bool }{important})
		log.Check(err, "writing response")

	default:
		http.NotFound(w, r)
	}
}
