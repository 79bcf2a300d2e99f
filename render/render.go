// Package render turns a stored message into a body ready for display.
//
// Render selects the part to show, sanitizes HTML, applies the image policy and
// decodes the result to text. Rendering always completes: failures while
// processing HTML turn into warnings and a plain text fallback.
package render

import (
	"context"
	"log/slog"
	"time"

	"github.com/mjl-/msgview/charset"
	"github.com/mjl-/msgview/message"
	"github.com/mjl-/msgview/metrics"
	"github.com/mjl-/msgview/mlog"
	"github.com/mjl-/msgview/sanitize"
)

var pkglog = mlog.New("render", nil)

// DefaultSubject is shown for messages without subject.
const DefaultSubject = "(No subject)"

// WarningKind identifies a problem found while rendering.
type WarningKind string

const (
	// Styles could not be inlined, the message is shown without them.
	WarnPartialParse WarningKind = "partial-parse-failure"

	// The HTML could not be sanitized, the plain text alternative or an empty
	// body is shown instead.
	WarnInvalidHTML WarningKind = "invalid-html-fallback"
)

var warningMessages = map[WarningKind]string{
	WarnPartialParse: "Part of this message could not be parsed - it may not display correctly",
	WarnInvalidHTML:  "This email contained invalid HTML and could not be displayed",
}

// Warning is meant to be shown to the user along with the message.
type Warning struct {
	Kind    WarningKind
	Message string
}

// Envelope holds message-level details from the repository.
type Envelope struct {
	ID      int64
	Subject string
	From    string
	Date    time.Time
	Inbox   string
}

// Input is everything needed to render a message.
type Input struct {
	Envelope    Envelope
	Parts       []message.Part // In storage order.
	Preferences Preferences

	// Show images for this render, e.g. after the user was asked.
	ShowImages bool

	// For inlining styles. With a zero Inliner, only style elements are used.
	Inliner sanitize.Inliner
}

// Email is a rendered message.
type Email struct {
	ID      int64
	Subject string
	From    string
	Date    time.Time
	Inbox   string

	// Body is sanitized HTML, or text if Plain is set.
	Body    string
	Charset string // Charset the body was decoded from.
	Plain   bool

	// All non-container parts, for listing attachments.
	Attachments []message.Classified

	// Remote images were removed, the user can be offered to show them.
	AskImages bool

	Warnings []Warning
}

// Render renders a message. It never fails, a message without viable body is
// rendered with an empty body in plain text mode.
func Render(ctx context.Context, log mlog.Log, in Input) Email {
	start := time.Now()
	log = log.With(slog.Int64("msgid", in.Envelope.ID))

	x := message.NewIndex(in.Parts)
	e := Email{
		ID:          in.Envelope.ID,
		Subject:     in.Envelope.Subject,
		From:        in.Envelope.From,
		Date:        in.Envelope.Date,
		Inbox:       in.Envelope.Inbox,
		Attachments: x.Parts,
	}
	if e.Subject == "" {
		e.Subject = DefaultSubject
	}

	var body []byte
	cs := charset.Default
	var result string

	choice := Select(x.HTML, x.Plain, in.Preferences.PreferHTMLEmail)
	switch choice {
	case ChoiceHTML:
		body, cs = x.HTML.Body, x.HTML.Charset
		result = "html"
	case ChoicePlain:
		body, cs = x.Plain.Body, x.Plain.Charset
		e.Plain = true
		result = "plain"
	case ChoiceNone:
		// A message with a single part of another type is shown as is.
		e.Plain = true
		if len(x.Parts) == 1 {
			body, cs = x.Parts[0].Body, x.Parts[0].Charset
			result = "single"
		} else {
			result = "empty"
		}
	}
	log.Debug("selected body", slog.Any("choice", choice), slog.String("charset", cs))

	warn := func(kind WarningKind) {
		metrics.RenderWarningInc(string(kind))
		e.Warnings = append(e.Warnings, Warning{kind, warningMessages[kind]})
	}

	// handle reacts to a failed pass. Inlining failures leave the body as is,
	// other failures replace the html with the plain text alternative.
	handle := func(err error) {
		kind, _ := sanitize.KindOf(err)
		if kind == sanitize.KindParseDegraded {
			log.Infox("inlining styles, continuing without", err)
			warn(WarnPartialParse)
			return
		}
		log.Infox("sanitizing html, falling back to plain text", err, slog.String("kind", string(kind)))
		warn(WarnInvalidHTML)
		e.Plain = true
		e.AskImages = false
		body, cs = nil, charset.Default
		if x.Plain != nil && len(x.Plain.Body) > 0 {
			body, cs = x.Plain.Body, x.Plain.Charset
		}
		result = "fallback"
	}

	if !e.Plain {
		var err error
		if body, err = in.Inliner.Inline(ctx, log, body); err != nil {
			handle(err)
		}
		if cleaned, err := sanitize.Clean(log, body); err != nil {
			handle(err)
		} else {
			body = cleaned
		}
	}

	display, ask := ImagePolicy(e.Plain, in.ShowImages, in.Preferences)
	e.AskImages = ask
	if !display {
		if stripped, err := sanitize.StripImages(log, body); err != nil {
			handle(err)
		} else {
			body = stripped
		}
	}

	// Decoded last, the html passes work on the original bytes.
	e.Body = charset.Decode(cs, body)
	e.Charset = cs

	metrics.RenderObserve(result, start)
	return e
}
