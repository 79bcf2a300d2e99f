package webmail

import (
	"context"
	"net/http"
	"runtime"

	"github.com/mjl-/sherpa"
	"github.com/mjl-/sherpadoc"
	"github.com/mjl-/sherpaprom"

	"github.com/mjl-/msgview/msgvar"
	"github.com/mjl-/msgview/render"
	"github.com/mjl-/msgview/store"
)

// API is the sherpa API for viewing messages. Calls are made on behalf of the
// account of the HTTP request.
type API struct{}

func arg(name string, typewords ...string) sherpadoc.Arg {
	return sherpadoc.Arg{Name: name, Typewords: typewords}
}

var apiDoc = sherpadoc.Section{
	Name: "API",
	Docs: "API for viewing rendered messages and changing display preferences.",
	Functions: []*sherpadoc.Function{
		{Name: "Message", Docs: "Message renders a message and marks it read.", Params: []sherpadoc.Arg{arg("inbox", "string"), arg("msgID", "int64"), arg("showImages", "bool")}, Returns: []sherpadoc.Arg{arg("r0", "Email")}},
		{Name: "Messages", Docs: "Messages lists the messages in an inbox.", Params: []sherpadoc.Arg{arg("inbox", "string")}, Returns: []sherpadoc.Arg{arg("r0", "[]", "Message")}},
		{Name: "ToggleImportant", Docs: "ToggleImportant flips the important flag of a message and returns the new value.", Params: []sherpadoc.Arg{arg("inbox", "string"), arg("msgID", "int64")}, Returns: []sherpadoc.Arg{arg("r0", "bool")}},
		{Name: "Preferences", Docs: "Preferences returns the display preferences of the account.", Returns: []sherpadoc.Arg{arg("r0", "Preferences")}},
		{Name: "PreferencesSave", Docs: "PreferencesSave stores the display preferences of the account.", Params: []sherpadoc.Arg{arg("prefs", "Preferences")}},
		{Name: "Version", Docs: "Version returns the version, goos and goarch.", Returns: []sherpadoc.Arg{arg("version", "string"), arg("goos", "string"), arg("goarch", "string")}},
	},
	SherpadocVersion: sherpadoc.SherpadocVersion,
}

var sherpaHandlerOpts *sherpa.HandlerOpts

func makeSherpaHandler() (http.Handler, error) {
	doc := apiDoc
	return sherpa.NewHandler("/api/", msgvar.Version, API{}, &doc, sherpaHandlerOpts)
}

func init() {
	collector, err := sherpaprom.NewCollector("msgviewapi", nil)
	if err != nil {
		pkglog.Fatalx("creating sherpa prometheus collector", err)
	}

	sherpaHandlerOpts = &sherpa.HandlerOpts{Collector: collector, AdjustFunctionNames: "none", NoCORS: true}
	// Just to validate.
	_, err = makeSherpaHandler()
	if err != nil {
		pkglog.Fatalx("sherpa handler", err)
	}
}

// Message renders a message and marks it read. With showImages, remote images
// are shown regardless of preferences. Fails with code "user:notFound" if the
// message does not exist in the inbox of the account.
func (API) Message(ctx context.Context, inbox string, msgID int64, showImages bool) render.Email {
	reqInfo := ctx.Value(requestInfoCtxKey).(requestInfo)
	e, _ := reqInfo.Server.xrender(ctx, reqInfo.Log, reqInfo.Account, inbox, msgID, showImages)
	return e
}

// Messages lists the messages in an inbox, oldest first.
func (API) Messages(ctx context.Context, inbox string) []store.Message {
	reqInfo := ctx.Value(requestInfoCtxKey).(requestInfo)
	l, err := reqInfo.Server.DB.Messages(ctx, reqInfo.Account, inbox)
	xcheckf(ctx, err, "listing messages")
	if l == nil {
		l = []store.Message{}
	}
	return l
}

// ToggleImportant flips the important flag of a message and returns the new
// value.
func (API) ToggleImportant(ctx context.Context, inbox string, msgID int64) bool {
	reqInfo := ctx.Value(requestInfoCtxKey).(requestInfo)
	important, err := reqInfo.Server.DB.ToggleImportant(ctx, reqInfo.Account, inbox, msgID)
	xmessageCheck(ctx, err, "toggling important")
	return important
}

// Preferences returns the display preferences of the account, or the defaults
// if none were saved.
func (API) Preferences(ctx context.Context) render.Preferences {
	reqInfo := ctx.Value(requestInfoCtxKey).(requestInfo)
	prefs, err := reqInfo.Server.DB.Preferences(ctx, reqInfo.Account)
	xcheckf(ctx, err, "get preferences")
	return prefs
}

// PreferencesSave stores the display preferences of the account.
func (API) PreferencesSave(ctx context.Context, prefs render.Preferences) {
	reqInfo := ctx.Value(requestInfoCtxKey).(requestInfo)
	err := reqInfo.Server.DB.SavePreferences(ctx, reqInfo.Account, prefs)
	xcheckuserf(ctx, err, "saving preferences")
}

// Version returns the version, goos and goarch.
func (API) Version(ctx context.Context) (version, goos, goarch string) {
	return msgvar.Version, runtime.GOOS, runtime.GOARCH
}
