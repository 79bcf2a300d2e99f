/*
Package store keeps messages, their parts and display preferences in a bstore
database.

Messages belong to an account and an inbox. All lookups are scoped to both: a
message ID from another account or inbox is treated as absent. Parts are
stored with their nested-set positions, as recorded during import, and are
returned in storage order.
*/
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mjl-/bstore"

	"github.com/mjl-/msgview/message"
	"github.com/mjl-/msgview/mlog"
	"github.com/mjl-/msgview/msgvar"
	"github.com/mjl-/msgview/render"
)

var pkglog = mlog.New("store", nil)

var (
	ErrNotFound = errors.New("store: message not found")
	ErrAccount  = errors.New("store: account and inbox required")
)

// Message is a stored message, without its parts.
type Message struct {
	ID       int64
	Account  string    `bstore:"nonzero,index Account+Inbox"`
	Inbox    string    `bstore:"nonzero"`
	Received time.Time `bstore:"default now"`

	// From the message headers, decoded.
	Date    time.Time
	Subject string
	From    string

	Read      bool
	Seen      bool
	Important bool
}

// Part is a MIME part of a message. Containers (multipart, message) are stored
// too, for their positions, with an empty body.
type Part struct {
	ID                 int64
	MessageID          int64 `bstore:"nonzero,ref Message,index MessageID+Left"`
	ContentType        string
	ContentDisposition string
	Left               int
	Right              int
	ParentID           int64 // ID of the parent Part, 0 for the root.
	Body               []byte
}

// Preferences holds the display preferences of an account. Accounts without
// stored preferences get the defaults from the configuration.
type Preferences struct {
	Account         string // Primary key.
	PreferHTMLEmail bool
	AskImages       bool
	DisplayImages   bool
	Updated         time.Time `bstore:"default now"`
}

// DBTypes are the types stored in the database.
var DBTypes = []any{Message{}, Part{}, Preferences{}}

// DB is an open message database.
type DB struct {
	DB       *bstore.DB
	Defaults render.Preferences
}

var _ render.Repository = (*DB)(nil)
var _ render.PreferenceProvider = (*DB)(nil)

// Open opens the database at path, creating it if needed. Defaults are returned
// as preferences for accounts that have not stored any.
func Open(ctx context.Context, log mlog.Log, path string, defaults render.Preferences) (*DB, error) {
	os.MkdirAll(filepath.Dir(path), 0770)
	opts := bstore.Options{Timeout: 5 * time.Second, Perm: 0660, RegisterLogger: msgvar.RegisterLogger(path, log.Logger)}
	db, err := bstore.Open(ctx, path, &opts, DBTypes...)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &DB{db, defaults}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.DB.Close()
}

// Import parses a raw message and stores it with its parts in the inbox of an
// account. The parts get new IDs, parent references are adjusted to match.
func (d *DB) Import(ctx context.Context, log mlog.Log, account, inbox string, r io.Reader) (Message, error) {
	if account == "" || inbox == "" {
		return Message{}, ErrAccount
	}

	env, parts, err := message.Parse(log, r)
	if err != nil {
		return Message{}, err
	}

	m := Message{
		Account:  account,
		Inbox:    inbox,
		Received: time.Now(),
		Date:     env.Date,
		Subject:  env.Subject,
		From:     env.From,
	}
	err = d.DB.Write(ctx, func(tx *bstore.Tx) error {
		if err := tx.Insert(&m); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		// Parts are in pre-order, parents are inserted before their children.
		ids := map[int64]int64{}
		for _, p := range parts {
			sp := Part{
				MessageID:          m.ID,
				ContentType:        p.ContentType,
				ContentDisposition: p.ContentDisposition,
				Left:               p.Left,
				Right:              p.Right,
				ParentID:           ids[p.ParentID],
				Body:               p.Body,
			}
			if err := tx.Insert(&sp); err != nil {
				return fmt.Errorf("insert part: %w", err)
			}
			ids[p.ID] = sp.ID
		}
		return nil
	})
	if err != nil {
		return Message{}, err
	}
	log.Info("message imported",
		slog.String("account", account),
		slog.String("inbox", inbox),
		slog.Int64("msgid", m.ID),
		slog.Int("parts", len(parts)))
	return m, nil
}

// xmessage returns the message with id if it is in the inbox of account.
func xmessage(tx *bstore.Tx, account, inbox string, id int64) (Message, error) {
	m := Message{ID: id}
	if err := tx.Get(&m); err == bstore.ErrAbsent {
		return Message{}, ErrNotFound
	} else if err != nil {
		return Message{}, err
	}
	if m.Account != account || m.Inbox != inbox {
		return Message{}, ErrNotFound
	}
	return m, nil
}

// Message returns a message in the inbox of an account.
func (d *DB) Message(ctx context.Context, account, inbox string, id int64) (m Message, rerr error) {
	rerr = d.DB.Read(ctx, func(tx *bstore.Tx) error {
		var err error
		m, err = xmessage(tx, account, inbox, id)
		return err
	})
	return
}

// Messages lists the messages in the inbox of an account, oldest first.
func (d *DB) Messages(ctx context.Context, account, inbox string) ([]Message, error) {
	q := bstore.QueryDB[Message](ctx, d.DB)
	q.FilterNonzero(Message{Account: account, Inbox: inbox})
	q.SortAsc("Received", "ID")
	return q.List()
}

// Envelope returns the message-level details for rendering.
func (d *DB) Envelope(ctx context.Context, account, inbox string, id int64) (render.Envelope, error) {
	m, err := d.Message(ctx, account, inbox, id)
	if err != nil {
		return render.Envelope{}, err
	}
	date := m.Date
	if date.IsZero() {
		date = m.Received
	}
	return render.Envelope{ID: m.ID, Subject: m.Subject, From: m.From, Date: date, Inbox: m.Inbox}, nil
}

// Parts returns the parts of a message in storage order.
func (d *DB) Parts(ctx context.Context, messageID int64) ([]message.Part, error) {
	q := bstore.QueryDB[Part](ctx, d.DB)
	q.FilterNonzero(Part{MessageID: messageID})
	q.SortAsc("ID")
	l, err := q.List()
	if err != nil {
		return nil, fmt.Errorf("list parts: %w", err)
	}
	parts := make([]message.Part, len(l))
	for i, p := range l {
		parts[i] = message.Part{
			ID:                 p.ID,
			MessageID:          p.MessageID,
			ContentType:        p.ContentType,
			ContentDisposition: p.ContentDisposition,
			Left:               p.Left,
			Right:              p.Right,
			ParentID:           p.ParentID,
			Body:               p.Body,
		}
	}
	return parts, nil
}

// MarkRead marks a message as read and seen, as happens when it is viewed.
func (d *DB) MarkRead(ctx context.Context, account, inbox string, id int64) error {
	return d.DB.Write(ctx, func(tx *bstore.Tx) error {
		m, err := xmessage(tx, account, inbox, id)
		if err != nil {
			return err
		}
		if m.Read && m.Seen {
			return nil
		}
		m.Read = true
		m.Seen = true
		return tx.Update(&m)
	})
}

// ToggleImportant flips the important flag of a message and returns the new
// value.
func (d *DB) ToggleImportant(ctx context.Context, account, inbox string, id int64) (important bool, rerr error) {
	rerr = d.DB.Write(ctx, func(tx *bstore.Tx) error {
		m, err := xmessage(tx, account, inbox, id)
		if err != nil {
			return err
		}
		m.Important = !m.Important
		important = m.Important
		return tx.Update(&m)
	})
	return
}

// Preferences returns the preferences of an account, or the defaults.
func (d *DB) Preferences(ctx context.Context, account string) (render.Preferences, error) {
	p := Preferences{Account: account}
	if err := d.DB.Get(ctx, &p); err == bstore.ErrAbsent {
		return d.Defaults, nil
	} else if err != nil {
		return render.Preferences{}, fmt.Errorf("get preferences: %w", err)
	}
	return render.Preferences{
		PreferHTMLEmail: p.PreferHTMLEmail,
		AskImages:       p.AskImages,
		DisplayImages:   p.DisplayImages,
	}, nil
}

// SavePreferences stores the preferences of an account.
func (d *DB) SavePreferences(ctx context.Context, account string, prefs render.Preferences) error {
	if account == "" {
		return ErrAccount
	}
	return d.DB.Write(ctx, func(tx *bstore.Tx) error {
		p := Preferences{Account: account}
		err := tx.Get(&p)
		if err != nil && err != bstore.ErrAbsent {
			return err
		}
		exists := err == nil
		p.PreferHTMLEmail = prefs.PreferHTMLEmail
		p.AskImages = prefs.AskImages
		p.DisplayImages = prefs.DisplayImages
		p.Updated = time.Now()
		if exists {
			return tx.Update(&p)
		}
		return tx.Insert(&p)
	})
}
