package render

import (
	"context"
	"fmt"

	"github.com/mjl-/msgview/message"
)

// Repository provides stored messages. Lookups are scoped to an account and
// inbox, a message in another inbox is not found.
type Repository interface {
	Envelope(ctx context.Context, account, inbox string, id int64) (Envelope, error)
	Parts(ctx context.Context, messageID int64) ([]message.Part, error)
}

// PreferenceProvider provides the display preferences of an account.
type PreferenceProvider interface {
	Preferences(ctx context.Context, account string) (Preferences, error)
}

// Load gathers the input for rendering a message. The caller can set
// Input.ShowImages and Input.Inliner before calling Render.
func Load(ctx context.Context, repo Repository, prefs PreferenceProvider, account, inbox string, id int64) (Input, error) {
	env, err := repo.Envelope(ctx, account, inbox, id)
	if err != nil {
		return Input{}, fmt.Errorf("get message: %w", err)
	}
	parts, err := repo.Parts(ctx, env.ID)
	if err != nil {
		return Input{}, fmt.Errorf("get parts: %w", err)
	}
	p, err := prefs.Preferences(ctx, account)
	if err != nil {
		return Input{}, fmt.Errorf("get preferences: %w", err)
	}
	return Input{Envelope: env, Parts: parts, Preferences: p}, nil
}
