package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mjl-/sconf"

	"github.com/mjl-/msgview/config"
	"github.com/mjl-/msgview/mlog"
	"github.com/mjl-/msgview/msgvar"
	"github.com/mjl-/msgview/render"
	"github.com/mjl-/msgview/sanitize"
	"github.com/mjl-/msgview/store"
)

func envString(k, def string) string {
	s := os.Getenv(k)
	if s == "" {
		return def
	}
	return s
}

var commands = []struct {
	cmd string
	fn  func(c *cmd)
}{
	{"serve", cmdServe},
	{"import", cmdImport},
	{"list", cmdList},
	{"render", cmdRender},
	{"prefs get", cmdPrefsGet},
	{"prefs set", cmdPrefsSet},
	{"config test", cmdConfigTest},
	{"config describe", cmdConfigDescribe},
	{"config example", cmdConfigExample},
	{"version", cmdVersion},
	{"help", cmdHelp},

	// Not listed.
	{"helpall", cmdHelpall},
}

var cmds []cmd

func init() {
	for _, xc := range commands {
		c := cmd{words: strings.Split(xc.cmd, " "), fn: xc.fn}
		cmds = append(cmds, c)
	}
}

type cmd struct {
	words []string
	fn    func(c *cmd)

	// Set before calling command.
	flag     *flag.FlagSet
	flagArgs []string
	_gather  bool // Set when using Parse to gather usage for a command.

	// Set by invoked command or Parse.
	unlisted bool   // If set, command is not listed until at least some words are matched from command.
	params   string // Arguments to command. Multiple lines possible.
	help     string // Additional explanation. First line is synopsis, the rest is only printed for an explicit help/usage for that command.
	args     []string

	log mlog.Log
}

func (c *cmd) Parse() []string {
	// To gather params and usage information, we just run the command but cause this
	// panic after the command has registered its flags and set its params and help
	// information. This is then caught and that info printed.
	if c._gather {
		panic("gather")
	}

	c.flag.Usage = c.Usage
	c.flag.Parse(c.flagArgs)
	c.args = c.flag.Args()
	return c.args
}

func (c *cmd) gather() {
	c.flag = flag.NewFlagSet("msgview "+strings.Join(c.words, " "), flag.ExitOnError)
	c._gather = true
	defer func() {
		x := recover()
		// panic generated by Parse.
		if x != "gather" {
			panic(x)
		}
	}()
	c.fn(c)
}

func (c *cmd) makeUsage() string {
	var r strings.Builder
	cs := "msgview " + strings.Join(c.words, " ")
	for i, line := range strings.Split(strings.TrimSpace(c.params), "\n") {
		s := ""
		if i == 0 {
			s = "usage:"
		}
		if line != "" {
			line = " " + line
		}
		fmt.Fprintf(&r, "%6s %s%s\n", s, cs, line)
	}
	c.flag.SetOutput(&r)
	c.flag.PrintDefaults()
	return r.String()
}

func (c *cmd) printUsage() {
	fmt.Fprint(os.Stderr, c.makeUsage())
	if c.help != "" {
		fmt.Fprint(os.Stderr, "\n"+c.help+"\n")
	}
}

func (c *cmd) Usage() {
	c.printUsage()
	os.Exit(2)
}

func cmdHelp(c *cmd) {
	c.params = "[command ...]"
	c.help = `Prints help about matching commands.

If multiple commands match, they are listed along with the first line of their help text.
If a single command matches, its usage and full help text is printed.
`
	args := c.Parse()
	if len(args) == 0 {
		c.Usage()
	}

	prefix := func(l, pre []string) bool {
		if len(pre) > len(l) {
			return false
		}
		return slices.Equal(pre, l[:len(pre)])
	}

	var partial []cmd
	for _, c := range cmds {
		if slices.Equal(c.words, args) {
			c.gather()
			fmt.Print(c.makeUsage())
			if c.help != "" {
				fmt.Print("\n" + c.help + "\n")
			}
			return
		} else if prefix(c.words, args) {
			partial = append(partial, c)
		}
	}
	if len(partial) == 0 {
		fmt.Fprintf(os.Stderr, "%s: unknown command\n", strings.Join(args, " "))
		os.Exit(2)
	}
	for _, c := range partial {
		c.gather()
		line := "msgview " + strings.Join(c.words, " ")
		fmt.Printf("%s\n", line)
		if c.help != "" {
			fmt.Printf("\t%s\n", strings.Split(c.help, "\n")[0])
		}
	}
}

func cmdHelpall(c *cmd) {
	c.unlisted = true
	c.help = `Print all detailed usage and help information for all listed commands.

Used to generate documentation.
`
	args := c.Parse()
	if len(args) != 0 {
		c.Usage()
	}

	n := 0
	for _, c := range cmds {
		c.gather()
		if c.unlisted {
			continue
		}
		if n > 0 {
			fmt.Fprintf(os.Stderr, "\n")
		}
		n++

		fmt.Fprintf(os.Stderr, "# msgview %s\n\n", strings.Join(c.words, " "))
		if c.help != "" {
			fmt.Fprintln(os.Stderr, c.help+"\n")
		}
		s := c.makeUsage()
		s = "\t" + strings.ReplaceAll(s, "\n", "\n\t")
		fmt.Fprintln(os.Stderr, s)
	}
}

func usage(l []cmd, unlisted bool) {
	var lines []string
	if !unlisted {
		lines = append(lines, "msgview [-config msgview.conf] [-loglevel level] ...")
	}
	for _, c := range l {
		c.gather()
		if c.unlisted && !unlisted {
			continue
		}
		for _, line := range strings.Split(c.params, "\n") {
			x := append([]string{"msgview"}, c.words...)
			if line != "" {
				x = append(x, line)
			}
			lines = append(lines, strings.Join(x, " "))
		}
	}
	for i, line := range lines {
		pre := "       "
		if i == 0 {
			pre = "usage: "
		}
		fmt.Fprintln(os.Stderr, pre+line)
	}
	os.Exit(2)
}

var configPath string
var loglevel string // Empty means the log levels from the config file.

var ctxbg = context.Background()

// mustLoadConfig loads the config file and sets the log levels. A log level
// from the command-line overrides the default level from the config file.
func mustLoadConfig() config.Static {
	conf, err := config.Load(configPath)
	xcheckf(err, "loading config")
	if loglevel != "" {
		level, ok := mlog.Levels[loglevel]
		if !ok {
			log.Fatalf("unknown loglevel %q", loglevel)
		}
		conf.Log[""] = level
	}
	mlog.SetConfig(conf.Log)
	return conf
}

func mustOpenDB(log mlog.Log, conf config.Static) *store.DB {
	db, err := store.Open(ctxbg, log, conf.DBPath(), render.Preferences(conf.DefaultPreferences))
	xcheckf(err, "opening database")
	return db
}

func closeDB(log mlog.Log, db *store.DB) {
	err := db.Close()
	log.Check(err, "closing database")
}

// newInliner returns the style inliner for rendering, fetching linked
// stylesheets only when configured.
func newInliner(conf config.Static) sanitize.Inliner {
	in := sanitize.Inliner{Timeout: conf.Render.FetchTimeout}
	if conf.Render.FetchStylesheets {
		in.Fetcher = sanitize.HTTPFetcher{MaxSize: conf.Render.MaxStylesheetSize}
	}
	return in
}

func main() {
	log.SetFlags(0)

	flag.StringVar(&configPath, "config", envString("MSGVIEWCONF", "msgview.conf"), "configuration file, defaults to $MSGVIEWCONF with a fallback to msgview.conf")
	flag.StringVar(&loglevel, "loglevel", "", "if non-empty, overrides the default log level from the config file")

	flag.Usage = func() { usage(cmds, false) }
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage(cmds, false)
	}

	ll := loglevel
	if ll == "" {
		ll = "info"
	}
	if level, ok := mlog.Levels[ll]; ok {
		// Until a command loads the config file.
		mlog.SetConfig(map[string]slog.Level{"": level})
	} else {
		log.Fatalf("unknown loglevel %q", loglevel)
	}

	var partial []cmd
next:
	for _, c := range cmds {
		for i, w := range c.words {
			if i >= len(args) || w != args[i] {
				if i > 0 {
					partial = append(partial, c)
				}
				continue next
			}
		}
		c.flag = flag.NewFlagSet("msgview "+strings.Join(c.words, " "), flag.ExitOnError)
		c.flagArgs = args[len(c.words):]
		c.log = mlog.New(strings.Join(c.words, ""), nil)
		c.fn(&c)
		return
	}
	if len(partial) > 0 {
		usage(partial, true)
	}
	usage(cmds, false)
}

func xcheckf(err error, format string, args ...any) {
	if err == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	log.Fatalf("%s: %s", msg, err)
}

func cmdConfigTest(c *cmd) {
	c.help = `Parses and validates the configuration file.

If valid, the command exits with status 0. If not valid, all errors encountered
are printed.
`
	args := c.Parse()
	if len(args) != 0 {
		c.Usage()
	}

	_, err := config.Load(configPath)
	var multi interface{ Unwrap() []error }
	if errors.As(err, &multi) && len(multi.Unwrap()) > 1 {
		log.Printf("multiple errors:")
		for _, err := range multi.Unwrap() {
			log.Printf("%s", err)
		}
		os.Exit(1)
	} else if err != nil {
		log.Fatalf("%s", err)
	}
	fmt.Println("config OK")
}

func cmdConfigDescribe(c *cmd) {
	c.params = ">msgview.conf"
	c.help = `Prints an annotated empty configuration for use as msgview.conf.

The configuration file is only read at startup, msgview has to be restarted
for changes to take effect.

This configuration file needs modifications to make it valid.
`
	if len(c.Parse()) != 0 {
		c.Usage()
	}

	var sc config.Static
	err := sconf.Describe(os.Stdout, &sc)
	xcheckf(err, "describing config")
}

func cmdConfigExample(c *cmd) {
	c.params = ">msgview.conf"
	c.help = `Prints a valid example configuration with all fields set.`
	if len(c.Parse()) != 0 {
		c.Usage()
	}

	err := config.WriteExample(os.Stdout)
	xcheckf(err, "writing example config")
}

func cmdVersion(c *cmd) {
	c.help = "Prints this msgview version."
	if len(c.Parse()) != 0 {
		c.Usage()
	}
	fmt.Println(msgvar.Version)
	fmt.Printf("%s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func cmdImport(c *cmd) {
	c.params = "-account account [-inbox inbox] message.eml ..."
	c.help = `Import messages from files into the database.

Each file holds a single raw message. With "-" as file name, a message is read
from standard input. The hexadecimal id of each imported message is printed,
for use with "msgview render" and in URLs of the web interface.
`
	var account string
	inbox := "inbox"
	c.flag.StringVar(&account, "account", "", "account to import messages into")
	c.flag.StringVar(&inbox, "inbox", inbox, "inbox to import messages into")
	args := c.Parse()
	if len(args) == 0 || account == "" {
		c.Usage()
	}

	conf := mustLoadConfig()
	db := mustOpenDB(c.log, conf)
	defer closeDB(c.log, db)

	importFile := func(p string) (store.Message, error) {
		var r io.Reader = os.Stdin
		if p != "-" {
			f, err := os.Open(p)
			if err != nil {
				return store.Message{}, err
			}
			defer func() {
				err := f.Close()
				c.log.Check(err, "closing message file")
			}()
			r = f
		}
		return db.Import(ctxbg, c.log, account, inbox, r)
	}

	for _, p := range args {
		m, err := importFile(p)
		xcheckf(err, "importing %s", p)
		fmt.Printf("%x %s\n", m.ID, p)
	}
}

func cmdList(c *cmd) {
	c.params = "-account account [-inbox inbox]"
	c.help = `List messages in an inbox, oldest first.

Printed per message: hexadecimal id, flags (r for read, i for important),
date, from and subject.
`
	var account string
	inbox := "inbox"
	c.flag.StringVar(&account, "account", "", "account of inbox")
	c.flag.StringVar(&inbox, "inbox", inbox, "inbox to list")
	args := c.Parse()
	if len(args) != 0 || account == "" {
		c.Usage()
	}

	conf := mustLoadConfig()
	db := mustOpenDB(c.log, conf)
	defer closeDB(c.log, db)

	l, err := db.Messages(ctxbg, account, inbox)
	xcheckf(err, "listing messages")
	for _, m := range l {
		flags := ""
		if m.Read {
			flags += "r"
		}
		if m.Important {
			flags += "i"
		}
		if flags == "" {
			flags = "-"
		}
		date := m.Date
		if date.IsZero() {
			date = m.Received
		}
		fmt.Printf("%x\t%s\t%s\t%s\t%s\n", m.ID, flags, date.Format("2006-01-02 15:04"), m.From, m.Subject)
	}
}

func cmdRender(c *cmd) {
	c.params = "-account account [-inbox inbox] [-images] [-yaml] msgid"
	c.help = `Render a stored message and print the result as JSON.

The message id is hexadecimal. The preferences of the account determine whether
the HTML or plain text alternative is shown, and whether remote images are
kept. With -images, remote images are kept regardless of the preferences.

Unlike viewing through the web interface, rendering with this command does not
mark the message as read.
`
	var account string
	inbox := "inbox"
	var images, yamlOutput bool
	c.flag.StringVar(&account, "account", "", "account of message")
	c.flag.StringVar(&inbox, "inbox", inbox, "inbox of message")
	c.flag.BoolVar(&images, "images", false, "keep remote images")
	c.flag.BoolVar(&yamlOutput, "yaml", false, "print as yaml instead of json")
	args := c.Parse()
	if len(args) != 1 || account == "" {
		c.Usage()
	}
	id, err := strconv.ParseInt(args[0], 16, 64)
	xcheckf(err, "parsing message id")

	conf := mustLoadConfig()
	db := mustOpenDB(c.log, conf)
	defer closeDB(c.log, db)

	in, err := render.Load(ctxbg, db, db, account, inbox, id)
	xcheckf(err, "loading message")
	in.ShowImages = images
	in.Inliner = newInliner(conf)
	e := render.Render(ctxbg, c.log, in)

	if yamlOutput {
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		err = enc.Encode(e)
		if err == nil {
			err = enc.Close()
		}
	} else {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "\t")
		enc.SetEscapeHTML(false)
		err = enc.Encode(e)
	}
	xcheckf(err, "write")
}

func cmdPrefsGet(c *cmd) {
	c.params = "-account account"
	c.help = `Print the display preferences of an account.

If the account has not saved preferences, the defaults from the config file
are printed.
`
	var account string
	c.flag.StringVar(&account, "account", "", "account")
	args := c.Parse()
	if len(args) != 0 || account == "" {
		c.Usage()
	}

	conf := mustLoadConfig()
	db := mustOpenDB(c.log, conf)
	defer closeDB(c.log, db)

	prefs, err := db.Preferences(ctxbg, account)
	xcheckf(err, "get preferences")
	err = sconf.Describe(os.Stdout, config.Preferences(prefs))
	xcheckf(err, "write preferences")
}

func cmdPrefsSet(c *cmd) {
	c.params = "-account account [-html] [-ask] [-display]"
	c.help = `Set the display preferences of an account.

All preferences are set, flags that are absent turn a preference off.
`
	var account string
	var prefs render.Preferences
	c.flag.StringVar(&account, "account", "", "account")
	c.flag.BoolVar(&prefs.PreferHTMLEmail, "html", false, "show the html alternative instead of plain text")
	c.flag.BoolVar(&prefs.AskImages, "ask", false, "don't show remote images, but offer to show them")
	c.flag.BoolVar(&prefs.DisplayImages, "display", false, "show remote images, ignored with -ask")
	args := c.Parse()
	if len(args) != 0 || account == "" {
		c.Usage()
	}

	conf := mustLoadConfig()
	db := mustOpenDB(c.log, conf)
	defer closeDB(c.log, db)

	err := db.SavePreferences(ctxbg, account, prefs)
	xcheckf(err, "saving preferences")
	c.log.Info("preferences saved", slog.String("account", account))
}
