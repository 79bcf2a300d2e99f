/*
Package config holds the configuration file definition.

msgview uses a single config file, msgview.conf. It is read at startup, changes
take effect after a restart.

Below is an "empty" config file, generated from the config file definition in
the source code, along with comments explaining the fields. Fields named "x"
are placeholders for user-chosen map keys.

# sconf

The config file is in "sconf" format. Properties of sconf files:

  - Indentation with tabs only.
  - "#" as first non-whitespace character makes the line a comment. Lines with a
    value cannot also have a comment.
  - Values don't have syntax indicating their type. For example, strings are
    not quoted/escaped and can never span multiple lines.
  - Fields that are optional can be left out completely. But the value of an
    optional field may itself have required fields.

See https://pkg.go.dev/github.com/mjl-/sconf for details.

# msgview.conf

	# NOTE: This config file is in 'sconf' format. Indent with tabs. Comments must be
	# on their own line, they don't end a line. Do not escape or quote strings.
	# Details: https://pkg.go.dev/github.com/mjl-/sconf.


	# Directory where the message database is stored. If this is a relative path, it
	# is relative to the directory of msgview.conf.
	DataDir:

	# Default log level, one of: error, info, debug, trace.
	LogLevel:

	# Overrides of log level per package (e.g. render, sanitize, store, webmail).
	# (optional)
	PackageLogLevels:
		x:

	# Web interface serving rendered messages and the JSON API.
	HTTP:

		# Address to listen on, e.g. localhost:8080. The web interface does no
		# authentication itself, it should be behind a reverse proxy that does.
		Address:

		# Request header set by the authenticating reverse proxy with the account name.
		# Requests without the header are rejected. Default: X-Account. (optional)
		AccountHeader:

	# Prometheus metrics. If absent, metrics are not served. (optional)
	Metrics:

		# Address to serve /metrics on, e.g. localhost:8010.
		Address:

	# Settings for rendering HTML messages. (optional)
	Render:

		# Fetch stylesheets linked from HTML messages over HTTP(S) to inline their
		# styles. Fetching reveals to the sender that a message is being viewed. By
		# default only styles in the message itself are used. (optional)
		FetchStylesheets: false

		# Maximum time for fetching all stylesheets of a message. If fetching takes
		# longer, the message is shown without inlined styles. Default: 5s. (optional)
		FetchTimeout: 0s

		# Maximum size of a fetched stylesheet in bytes. Default: 1048576. (optional)
		MaxStylesheetSize: 0

	# Display preferences for accounts that have not saved their own. By default,
	# plain text is preferred and remote images are not displayed. (optional)
	DefaultPreferences:

		# Show the HTML alternative of a message instead of plain text. (optional)
		PreferHTMLEmail: false

		# Don't load remote images in HTML messages, but offer to load them. (optional)
		AskImages: false

		# Load remote images in HTML messages. Ignored if AskImages is set. (optional)
		DisplayImages: false
*/
package config
