package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/mjl-/sconf"

	"github.com/mjl-/msgview/mlog"
)

// Defaults for optional fields.
const (
	DefaultAccountHeader     = "X-Account"
	DefaultFetchTimeout      = 5 * time.Second
	DefaultMaxStylesheetSize = 1024 * 1024
)

// Static is the parsed form of the msgview.conf configuration file.
type Static struct {
	DataDir          string            `sconf-doc:"NOTE: This config file is in 'sconf' format. Indent with tabs. Comments must be on their own line, they don't end a line. Do not escape or quote strings. Details: https://pkg.go.dev/github.com/mjl-/sconf.\n\n\nDirectory where the message database is stored. If this is a relative path, it is relative to the directory of msgview.conf."`
	LogLevel         string            `sconf-doc:"Default log level, one of: error, info, debug, trace."`
	PackageLogLevels map[string]string `sconf:"optional" sconf-doc:"Overrides of log level per package (e.g. render, sanitize, store, webmail)."`
	HTTP             HTTP              `sconf-doc:"Web interface serving rendered messages and the JSON API."`
	Metrics          *Metrics          `sconf:"optional" sconf-doc:"Prometheus metrics. If absent, metrics are not served."`
	Render           Render            `sconf:"optional" sconf-doc:"Settings for rendering HTML messages."`

	DefaultPreferences Preferences `sconf:"optional" sconf-doc:"Display preferences for accounts that have not saved their own. By default, plain text is preferred and remote images are not displayed."`

	// Set by Load.
	Log  map[string]slog.Level `sconf:"-" json:"-"`
	Path string                `sconf:"-" json:"-"`
}

type HTTP struct {
	Address       string `sconf-doc:"Address to listen on, e.g. localhost:8080. The web interface does no authentication itself, it should be behind a reverse proxy that does."`
	AccountHeader string `sconf:"optional" sconf-doc:"Request header set by the authenticating reverse proxy with the account name. Requests without the header are rejected. Default: X-Account."`
}

type Metrics struct {
	Address string `sconf-doc:"Address to serve /metrics on, e.g. localhost:8010."`
}

type Render struct {
	FetchStylesheets  bool          `sconf:"optional" sconf-doc:"Fetch stylesheets linked from HTML messages over HTTP(S) to inline their styles. Fetching reveals to the sender that a message is being viewed. By default only styles in the message itself are used."`
	FetchTimeout      time.Duration `sconf:"optional" sconf-doc:"Maximum time for fetching all stylesheets of a message. If fetching takes longer, the message is shown without inlined styles. Default: 5s."`
	MaxStylesheetSize int64         `sconf:"optional" sconf-doc:"Maximum size of a fetched stylesheet in bytes. Default: 1048576."`
}

// Preferences has the same fields as render.Preferences, and can be converted
// to it.
type Preferences struct {
	PreferHTMLEmail bool `sconf:"optional" sconf-doc:"Show the HTML alternative of a message instead of plain text."`
	AskImages       bool `sconf:"optional" sconf-doc:"Don't load remote images in HTML messages, but offer to load them."`
	DisplayImages   bool `sconf:"optional" sconf-doc:"Load remote images in HTML messages. Ignored if AskImages is set."`
}

// Load parses the config file at path and fills in defaults. A relative
// DataDir is resolved against the directory of the config file. Log levels are
// checked and stored in Log, for use with mlog.SetConfig.
func Load(path string) (Static, error) {
	c := Static{DataDir: "."}
	if err := sconf.ParseFile(path, &c); err != nil {
		return Static{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	c.Path = path

	var errs []error
	addErrorf := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if logLevel, ok := mlog.Levels[c.LogLevel]; ok {
		c.Log = map[string]slog.Level{"": logLevel}
	} else {
		addErrorf("invalid log level %q", c.LogLevel)
		c.Log = map[string]slog.Level{}
	}
	for pkg, s := range c.PackageLogLevels {
		if logLevel, ok := mlog.Levels[s]; ok {
			c.Log[pkg] = logLevel
		} else {
			addErrorf("invalid package log level %q for package %q", s, pkg)
		}
	}

	if c.DataDir == "" {
		addErrorf("DataDir must be set")
	} else if !filepath.IsAbs(c.DataDir) {
		c.DataDir = filepath.Join(filepath.Dir(path), c.DataDir)
	}
	if c.HTTP.Address == "" {
		addErrorf("HTTP.Address must be set")
	}
	if c.HTTP.AccountHeader == "" {
		c.HTTP.AccountHeader = DefaultAccountHeader
	}
	if c.Metrics != nil && c.Metrics.Address == "" {
		addErrorf("Metrics.Address must be set")
	}
	if c.Render.FetchTimeout < 0 {
		addErrorf("Render.FetchTimeout must not be negative")
	} else if c.Render.FetchTimeout == 0 {
		c.Render.FetchTimeout = DefaultFetchTimeout
	}
	if c.Render.MaxStylesheetSize <= 0 {
		c.Render.MaxStylesheetSize = DefaultMaxStylesheetSize
	}

	if len(errs) > 0 {
		return Static{}, errors.Join(errs...)
	}
	return c, nil
}

// DataDirPath returns the path to a file in the data directory.
func (c Static) DataDirPath(name string) string {
	return filepath.Join(c.DataDir, name)
}

// DBPath returns the path of the message database.
func (c Static) DBPath() string {
	return c.DataDirPath("msgview.db")
}

// Example returns a config with all fields set, for documentation and for
// starting out.
func Example() Static {
	return Static{
		DataDir:  "data",
		LogLevel: "info",
		PackageLogLevels: map[string]string{
			"sanitize": "debug",
		},
		HTTP: HTTP{
			Address:       "localhost:8080",
			AccountHeader: DefaultAccountHeader,
		},
		Metrics: &Metrics{Address: "localhost:8010"},
		Render: Render{
			FetchTimeout:      DefaultFetchTimeout,
			MaxStylesheetSize: DefaultMaxStylesheetSize,
		},
		DefaultPreferences: Preferences{AskImages: true},
	}
}

// WriteExample writes the example config with documentation.
func WriteExample(w io.Writer) error {
	c := Example()
	return sconf.WriteDocs(w, &c)
}
