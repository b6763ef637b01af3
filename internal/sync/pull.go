package sync

import (
	"context"

	"github.com/aicove/syncd/internal/apperr"
	"github.com/aicove/syncd/internal/crypto"
	"github.com/aicove/syncd/internal/model"
)

// Pull is the incremental change feed (C3, spec §4.3). It consults C1 to
// decide which resource classes to stream, then reads C2 for rows newer than
// the supplied per-class cursor.
func (e *Engine) Pull(ctx context.Context, userID int64, req PullRequest) (*PullResponse, error) {
	scopes, err := e.GetScopes(ctx, userID)
	if err != nil {
		return nil, err
	}
	enabled := enabledSet(scopes.EnabledScopes)

	limit := req.Limit
	if limit <= 0 {
		limit = 500
	}

	resp := &PullResponse{ServerTime: now()}

	if hasAny(enabled, model.ScopeCharactersCards, model.ScopeChatHistory) {
		convs, err := e.store.ListConversationsSince(ctx, userID, req.ConversationsSince, limit)
		if err != nil {
			return nil, apperr.Internal("list conversations", err)
		}
		resp.Conversations = filterDeleted(convs, req.IncludeDeleted, func(c model.Conversation) bool { return c.DeletedAt != nil })
	}

	if hasAny(enabled, model.ScopeChatHistory) {
		msgs, err := e.store.ListMessagesSince(ctx, userID, req.MessagesSince, limit)
		if err != nil {
			return nil, apperr.Internal("list messages", err)
		}

		if err := e.attachBlocks(ctx, userID, msgs); err != nil {
			return nil, err
		}

		resp.Messages = filterDeleted(msgs, req.IncludeDeleted, func(m model.SyncMessage) bool { return m.DeletedAt != nil })
	}

	if hasAny(enabled, model.ScopeProvidersConfig, model.ScopeProvidersKeys) {
		provs, err := e.store.ListProvidersSince(ctx, userID, req.ProvidersSince, limit)
		if err != nil {
			return nil, apperr.Internal("list providers", err)
		}

		decryptKeys := hasAny(enabled, model.ScopeProvidersKeys)
		for i := range provs {
			if decryptKeys {
				provs[i].APIKeys = crypto.DecryptKeys(provs[i].EncryptedKeys, e.kek)
			}
		}

		resp.Providers = filterDeleted(provs, req.IncludeDeleted, func(p model.Provider) bool { return p.DeletedAt != nil })
	}

	return resp, nil
}

// RecycleBin returns every resource currently in the recycle bin (deleted
// but not yet reaped), regardless of scope gating.
func (e *Engine) RecycleBin(ctx context.Context, userID int64) (*PullResponse, error) {
	ts := now()

	convs, err := e.store.ListRecycledConversations(ctx, userID, ts)
	if err != nil {
		return nil, apperr.Internal("list recycled conversations", err)
	}

	msgs, err := e.store.ListRecycledMessages(ctx, userID, ts)
	if err != nil {
		return nil, apperr.Internal("list recycled messages", err)
	}

	if err := e.attachBlocks(ctx, userID, msgs); err != nil {
		return nil, err
	}

	provs, err := e.store.ListRecycledProviders(ctx, userID, ts)
	if err != nil {
		return nil, apperr.Internal("list recycled providers", err)
	}

	return &PullResponse{
		Conversations: convs,
		Messages:      msgs,
		Providers:     provs,
		ServerTime:    ts,
	}, nil
}

func (e *Engine) attachBlocks(ctx context.Context, userID int64, msgs []model.SyncMessage) error {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}

	blocksByMsg, err := e.store.ListBlocksByMessages(ctx, userID, ids)
	if err != nil {
		return apperr.Internal("list blocks", err)
	}

	for i := range msgs {
		msgs[i].Blocks = blocksByMsg[msgs[i].ID]
	}

	return nil
}

func filterDeleted[T any](rows []T, includeDeleted bool, isDeleted func(T) bool) []T {
	if includeDeleted {
		return rows
	}

	kept := rows[:0]
	for _, r := range rows {
		if !isDeleted(r) {
			kept = append(kept, r)
		}
	}

	return kept
}
