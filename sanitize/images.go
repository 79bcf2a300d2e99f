package sanitize

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/PuerkitoBio/goquery"

	"github.com/mjl-/msgview/metrics"
	"github.com/mjl-/msgview/mlog"
)

// StripImages removes the src and srcset attributes of all img elements, so
// remote images are not loaded. The elements themselves, with their alt text,
// are kept. The body of the resulting document is returned.
//
// StripImages fails with an *Error of KindImageFilter for the same input Clean
// rejects.
func StripImages(log mlog.Log, body []byte) (rbody []byte, rerr error) {
	defer recoverPass(log, KindImageFilter, metrics.PanicImages, &rerr)

	if err := validate(body); err != nil {
		return nil, &Error{KindImageFilter, err}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &Error{KindImageFilter, fmt.Errorf("parsing html: %w", err)}
	}

	imgs := doc.Find("img")
	imgs.RemoveAttr("src").RemoveAttr("srcset")
	log.Debug("removed image sources", slog.Int("images", imgs.Length()))

	s, err := doc.Find("body").Html()
	if err != nil {
		return nil, &Error{KindImageFilter, fmt.Errorf("writing html: %w", err)}
	}
	return []byte(s), nil
}
