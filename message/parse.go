package message

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/mjl-/msgview/charset"
	"github.com/mjl-/msgview/mlog"
)

// ErrParse is returned when a raw message cannot be parsed.
var ErrParse = errors.New("parsing message")

// Envelope holds the message-level headers shown with a message.
type Envelope struct {
	Subject string
	From    string
	Date    time.Time // Zero if absent or unparsable.
}

// Parse reads a raw message and returns its envelope and its parts in pre-order
// with nested-set positions. Parts get IDs starting at 1, in order, and
// ParentID refers to those IDs.
//
// Bodies have their content-transfer-encoding removed but are left in their
// original charset. Unknown charsets and transfer encodings are not fatal, the
// body is kept as is.
func Parse(log mlog.Log, r io.Reader) (Envelope, []Part, error) {
	ent, err := gomessage.Read(r)
	if err != nil && !isLenient(err) {
		return Envelope{}, nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if err != nil {
		log.Debugx("reading message (continuing)", err)
	}

	h := mail.Header{Header: ent.Header}
	env := Envelope{
		Subject: headerText(log, ent.Header, "Subject"),
		From:    headerText(log, ent.Header, "From"),
	}
	if date, err := h.Date(); err == nil {
		env.Date = date
	} else if s := ent.Header.Get("Date"); s != "" {
		// Dates in the wild don't always follow RFC 5322.
		if date, err := dateparse.ParseAny(s); err == nil {
			env.Date = date
		} else {
			log.Debugx("parsing date header", err, slog.String("date", s))
		}
	}

	var parts []Part
	counter := 0
	if err := walk(log, ent, 0, &counter, &parts); err != nil {
		return Envelope{}, nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return env, parts, nil
}

func isLenient(err error) bool {
	return gomessage.IsUnknownCharset(err) || gomessage.IsUnknownEncoding(err)
}

// Decodes encoded-words in headers, in any charset known to the charset package.
var wordDecoder = mime.WordDecoder{
	CharsetReader: func(cs string, r io.Reader) (io.Reader, error) {
		enc, ok := charset.Lookup(cs)
		if !ok {
			return nil, fmt.Errorf("unknown charset %q", cs)
		}
		return enc.NewDecoder().Reader(r), nil
	},
}

func headerText(log mlog.Log, h gomessage.Header, k string) string {
	raw := h.Get(k)
	s, err := wordDecoder.DecodeHeader(raw)
	if err != nil {
		log.Debugx("decoding header, using raw value", err, slog.String("header", k))
		return strings.TrimSpace(raw)
	}
	return strings.TrimSpace(s)
}

// walk adds ent and its descendants to parts. Left is assigned when entering a
// part, Right after all descendants are added.
func walk(log mlog.Log, ent *gomessage.Entity, parentID int64, counter *int, parts *[]Part) error {
	*counter++
	i := len(*parts)
	id := int64(i + 1)
	ct := ent.Header.Get("Content-Type")
	if strings.TrimSpace(ct) == "" {
		// Default content-type, RFC 2045 section 5.2.
		ct = "text/plain"
	}
	*parts = append(*parts, Part{
		ID:                 id,
		ContentType:        ct,
		ContentDisposition: ent.Header.Get("Content-Disposition"),
		Left:               *counter,
		ParentID:           parentID,
	})

	if mr := ent.MultipartReader(); mr != nil {
		for {
			child, err := mr.NextPart()
			if err == io.EOF {
				break
			} else if err != nil && !isLenient(err) {
				return fmt.Errorf("reading part: %v", err)
			}
			if err != nil {
				log.Debugx("reading part (continuing)", err)
			}
			if err := walk(log, child, id, counter, parts); err != nil {
				return err
			}
		}
	} else {
		buf, err := io.ReadAll(ent.Body)
		if err != nil {
			return fmt.Errorf("reading body: %v", err)
		}
		(*parts)[i].Body = buf
	}

	*counter++
	(*parts)[i].Right = *counter
	return nil
}
