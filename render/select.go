package render

import (
	"github.com/mjl-/msgview/message"
)

// Choice is the outcome of body selection.
type Choice int

const (
	ChoiceNone  Choice = iota // No text/html or text/plain part.
	ChoicePlain               // Show the text/plain part.
	ChoiceHTML                // Show the text/html part.
)

func (c Choice) String() string {
	switch c {
	case ChoicePlain:
		return "plain"
	case ChoiceHTML:
		return "html"
	}
	return "none"
}

// Preferences of an account for displaying messages.
type Preferences struct {
	PreferHTMLEmail bool // Show the HTML alternative instead of plain text.
	AskImages       bool // Don't show remote images, but offer to show them.
	DisplayImages   bool // Show remote images. Ignored when AskImages is set.
}

// Select decides which part is the body of a message, given the first html and
// plain text parts, either of which may be nil.
//
// Alternatives of the same multipart, i.e. siblings, are picked according to
// the preference. Otherwise the part that comes first in the message wins,
// regardless of the preference. When the positions are equal, which only
// happens with corrupt positions, html wins.
func Select(html, plain *message.Classified, preferHTML bool) Choice {
	switch {
	case html == nil && plain == nil:
		return ChoiceNone
	case plain == nil:
		return ChoiceHTML
	case html == nil:
		return ChoicePlain
	case html.SiblingOf(plain.Part):
		if preferHTML {
			return ChoiceHTML
		}
		return ChoicePlain
	case plain.Left < html.Left:
		return ChoicePlain
	default:
		return ChoiceHTML
	}
}

// ImagePolicy returns whether remote images in a body are displayed, and
// whether the user should be asked to display them.
//
// Plain text has no remote images. An explicit request for showing images,
// e.g. after the user was asked, overrides the preferences.
func ImagePolicy(plain, showOnce bool, prefs Preferences) (display, ask bool) {
	switch {
	case plain, showOnce:
		return true, false
	case prefs.AskImages:
		return false, true
	default:
		return prefs.DisplayImages, false
	}
}
