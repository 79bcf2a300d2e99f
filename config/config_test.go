package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/mjl-/msgview/mlog"
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

func writeConf(t *testing.T, s string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "msgview.conf")
	err := os.WriteFile(p, []byte(s), 0660)
	tcheck(t, err, "write config")
	return p
}

func TestLoad(t *testing.T) {
	p := writeConf(t, `DataDir: data
LogLevel: info
PackageLogLevels:
	sanitize: debug
HTTP:
	Address: localhost:8080
Render:
	FetchStylesheets: true
	FetchTimeout: 2s
DefaultPreferences:
	AskImages: true
`)
	c, err := Load(p)
	tcheck(t, err, "load")
	tcompare(t, c.DataDir, filepath.Join(filepath.Dir(p), "data"))
	tcompare(t, c.DBPath(), filepath.Join(filepath.Dir(p), "data", "msgview.db"))
	tcompare(t, c.Log, map[string]slog.Level{"": mlog.LevelInfo, "sanitize": mlog.LevelDebug})
	tcompare(t, c.HTTP.AccountHeader, DefaultAccountHeader)
	tcompare(t, c.Metrics == nil, true)
	tcompare(t, c.Render.FetchStylesheets, true)
	tcompare(t, c.Render.FetchTimeout, 2*time.Second)
	tcompare(t, c.Render.MaxStylesheetSize, int64(DefaultMaxStylesheetSize))
	tcompare(t, c.DefaultPreferences, Preferences{AskImages: true})
	tcompare(t, c.Path, p)

	// Absolute DataDir is kept.
	p = writeConf(t, "DataDir: /var/lib/msgview\nLogLevel: error\nHTTP:\n\tAddress: :8080\n")
	c, err = Load(p)
	tcheck(t, err, "load")
	tcompare(t, c.DataDir, "/var/lib/msgview")
	tcompare(t, c.Render.FetchTimeout, DefaultFetchTimeout)
}

func TestLoadErrors(t *testing.T) {
	check := func(s, expErr string) {
		t.Helper()
		_, err := Load(writeConf(t, s))
		if err == nil || !strings.Contains(err.Error(), expErr) {
			t.Fatalf("got err %v, expected error with %q", err, expErr)
		}
	}

	check("DataDir: data\nLogLevel: bogus\nHTTP:\n\tAddress: :8080\n", `invalid log level "bogus"`)
	check("DataDir: data\nLogLevel: info\nPackageLogLevels:\n\tstore: loud\nHTTP:\n\tAddress: :8080\n", `invalid package log level "loud"`)
	check("DataDir: data\nLogLevel: info\nHTTP:\n\tAddress: :8080\nRender:\n\tFetchTimeout: -1s\n", "must not be negative")
	check("DataDir: data\nLogLevel: info\n", "HTTP")
	check("DataDir: data\nLogLevel: info\nHTTP:\n\tAddress: :8080\nUnknown: x\n", "Unknown")

	_, err := Load(filepath.Join(t.TempDir(), "missing.conf"))
	if err == nil {
		t.Fatalf("loading missing file succeeded")
	}
}

func TestExample(t *testing.T) {
	var b bytes.Buffer
	err := WriteExample(&b)
	tcheck(t, err, "write example")

	// The example is a valid config.
	p := writeConf(t, b.String())
	c, err := Load(p)
	tcheck(t, err, "load example")
	tcompare(t, c.HTTP.Address, "localhost:8080")
	tcompare(t, c.Metrics.Address, "localhost:8010")
	tcompare(t, c.DefaultPreferences.AskImages, true)
}
