package sync

import (
	"context"

	"github.com/aicove/syncd/internal/apperr"
	"github.com/aicove/syncd/internal/model"
)

// GetScopes returns the user's enabled scopes, or the default set if the
// user has never called PutScopes (spec §4.1).
func (e *Engine) GetScopes(ctx context.Context, userID int64) (*model.SyncScope, error) {
	s, err := e.store.GetScopes(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("get scopes", err)
	}

	if s == nil {
		return &model.SyncScope{UserID: userID, EnabledScopes: model.DefaultScopes}, nil
	}

	return s, nil
}

// PutScopes replaces the enabled set, rejecting any tag outside the closed
// vocabulary.
func (e *Engine) PutScopes(ctx context.Context, userID int64, scopes []string) (*model.SyncScope, error) {
	for _, s := range scopes {
		if _, ok := model.ValidScopes[s]; !ok {
			return nil, apperr.InvalidArgument("unknown scope %q", s)
		}
	}

	rec, err := e.store.PutScopes(ctx, userID, scopes, now())
	if err != nil {
		return nil, apperr.Internal("put scopes", err)
	}

	return rec, nil
}

func hasAny(enabled map[string]struct{}, tags ...string) bool {
	for _, t := range tags {
		if _, ok := enabled[t]; ok {
			return true
		}
	}
	return false
}

func enabledSet(scopes []string) map[string]struct{} {
	m := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		m[s] = struct{}{}
	}
	return m
}
