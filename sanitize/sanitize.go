// Package sanitize prepares HTML message bodies for display.
//
// Sanitizing happens in passes, each with its own failure mode:
//
//   - Inliner.Inline copies CSS rules from stylesheets into style attributes.
//     On failure, the body should be used as is.
//   - Clean removes scripts, embedded content, page structure, stylesheets and
//     unsafe attributes. On failure, the HTML must not be shown.
//   - StripImages removes the sources of images, so no remote images are
//     loaded. On failure, the HTML must not be shown.
//
// Each pass returns an *Error with the Kind of the pass when it fails, also
// when the pass panics.
package sanitize

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/mjl-/msgview/metrics"
	"github.com/mjl-/msgview/mlog"
)

var pkglog = mlog.New("sanitize", nil)

// Kind indicates which pass failed.
type Kind string

const (
	KindParseDegraded Kind = "parse-degraded"      // Inlining failed, body unchanged.
	KindSanitize      Kind = "sanitize-failed"     // Cleaning failed.
	KindImageFilter   Kind = "image-filter-failed" // Stripping image sources failed.
)

// Error is returned by a failed pass.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a pass error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

var (
	ErrControl = errors.New("document contains null or control characters")
	ErrEmpty   = errors.New("document is empty")
)

// validate rejects input the passes that must produce HTML cannot handle.
func validate(buf []byte) error {
	if len(bytes.TrimSpace(buf)) == 0 {
		return ErrEmpty
	}
	for _, c := range buf {
		if c < 0x20 && c != '\t' && c != '\n' && c != '\r' && c != '\f' {
			return fmt.Errorf("%w: byte 0x%02x", ErrControl, c)
		}
	}
	return nil
}

// recoverPass turns a panic in a pass into an error of kind. It must be called
// with defer.
func recoverPass(log mlog.Log, kind Kind, where metrics.Panic, rerr *error) {
	x := recover()
	if x == nil {
		return
	}
	log.Error("unhandled panic in html pass", slog.Any("err", x), slog.String("kind", string(kind)))
	debug.PrintStack()
	metrics.PanicInc(where)
	*rerr = &Error{kind, fmt.Errorf("panic: %v", x)}
}
