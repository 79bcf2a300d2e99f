/*
Command msgview renders stored email messages for safe display in a web
browser.

  - Chooses between the HTML and plain text alternatives of a message based on
    account preferences and the structure of the message.
  - Inlines styles from style elements and linked stylesheets into HTML
    bodies, then removes scripts, unsafe elements and attributes.
  - Removes remote images unless the account has chosen to display them, and
    offers to show them once.
  - Falls back to plain text when an HTML body cannot be sanitized.
  - Serves rendered messages over HTTP with a strict Content-Security-Policy
    and a JSON API, behind an authenticating reverse proxy.

# Commands

	msgview [-config msgview.conf] [-loglevel level] ...
	msgview serve
	msgview import -account account [-inbox inbox] message.eml ...
	msgview list -account account [-inbox inbox]
	msgview render -account account [-inbox inbox] [-images] [-yaml] msgid
	msgview prefs get -account account
	msgview prefs set -account account [-html] [-ask] [-display]
	msgview config test
	msgview config describe >msgview.conf
	msgview config example >msgview.conf
	msgview version
	msgview help [command ...]

# msgview serve

Start msgview, serving rendered messages over HTTP.

Messages are served at /msg/<inbox>/<id> as JSON, and their sanitized body at
/msg/<inbox>/<id>/body, for display in a sandboxed iframe. A JSON API is served
at /api/. Requests must have the account header set by an authenticating
reverse proxy, see HTTP.AccountHeader in the config file.

If configured, prometheus metrics are served at /metrics on a separate address.

	usage: msgview serve

# msgview import

Import messages from files into the database.

Each file holds a single raw message. With "-" as file name, a message is read
from standard input. The hexadecimal id of each imported message is printed,
for use with "msgview render" and in URLs of the web interface.

	usage: msgview import -account account [-inbox inbox] message.eml ...
	  -account string
	    	account to import messages into
	  -inbox string
	    	inbox to import messages into (default "inbox")

# msgview list

List messages in an inbox, oldest first.

Printed per message: hexadecimal id, flags (r for read, i for important),
date, from and subject.

	usage: msgview list -account account [-inbox inbox]
	  -account string
	    	account of inbox
	  -inbox string
	    	inbox to list (default "inbox")

# msgview render

Render a stored message and print the result as JSON.

The message id is hexadecimal. The preferences of the account determine whether
the HTML or plain text alternative is shown, and whether remote images are
kept. With -images, remote images are kept regardless of the preferences.

Unlike viewing through the web interface, rendering with this command does not
mark the message as read.

	usage: msgview render -account account [-inbox inbox] [-images] [-yaml] msgid
	  -account string
	    	account of message
	  -images
	    	keep remote images
	  -inbox string
	    	inbox of message (default "inbox")
	  -yaml
	    	print as yaml instead of json

# msgview prefs get

Print the display preferences of an account.

If the account has not saved preferences, the defaults from the config file
are printed.

	usage: msgview prefs get -account account
	  -account string
	    	account

# msgview prefs set

Set the display preferences of an account.

All preferences are set, flags that are absent turn a preference off.

	usage: msgview prefs set -account account [-html] [-ask] [-display]
	  -account string
	    	account
	  -ask
	    	don't show remote images, but offer to show them
	  -display
	    	show remote images, ignored with -ask
	  -html
	    	show the html alternative instead of plain text

# msgview config test

Parses and validates the configuration file.

If valid, the command exits with status 0. If not valid, all errors encountered
are printed.

	usage: msgview config test

# msgview config describe

Prints an annotated empty configuration for use as msgview.conf.

The configuration file is only read at startup, msgview has to be restarted
for changes to take effect.

This configuration file needs modifications to make it valid.

	usage: msgview config describe >msgview.conf

# msgview config example

Prints a valid example configuration with all fields set.

	usage: msgview config example >msgview.conf

# msgview version

Prints this msgview version.

	usage: msgview version

# msgview help

Prints help about matching commands.

If multiple commands match, they are listed along with the first line of their help text.
If a single command matches, its usage and full help text is printed.

	usage: msgview help [command ...]
*/
package main

// NOTE: DO NOT EDIT, this file is generated by gendoc.sh.
