// Package store defines the persistence interface the sync engine runs
// against, and selects a concrete backend (sqlite3 or postgres) from
// configuration.
package store

import (
	"context"
	"errors"

	"github.com/aicove/syncd/internal/config"
	"github.com/aicove/syncd/internal/model"
	"github.com/aicove/syncd/internal/store/postgres"
	"github.com/aicove/syncd/internal/store/sqlite3"
)

// Storer is the full persistence surface C1-C6 run against. Methods on
// user-owned rows filter by userID and never return a permission error: Get
// methods return nil for a row owned by someone else, and mutations return
// model.ErrNotFound. The block methods key on message ids only.
type Storer interface {
	// Tx runs fn inside a single database transaction; every Storer method
	// called with the ctx passed to fn participates in that transaction.
	// Nested calls to Tx are not supported and will error.
	Tx(ctx context.Context, fn func(ctx context.Context) error) error

	// C1 Scope Registry.
	GetScopes(ctx context.Context, userID int64) (*model.SyncScope, error)
	PutScopes(ctx context.Context, userID int64, scopes []string, ts int64) (*model.SyncScope, error)

	// C2 Conversations.
	GetConversation(ctx context.Context, userID int64, id string) (*model.Conversation, error)
	UpsertConversation(ctx context.Context, userID int64, conv model.Conversation, ts int64) (rec *model.Conversation, created bool, err error)
	ListConversationsSince(ctx context.Context, userID int64, since int64, limit int) ([]model.Conversation, error)
	ListRecycledConversations(ctx context.Context, userID int64, now int64) ([]model.Conversation, error)
	SoftDeleteConversation(ctx context.Context, userID int64, id string, ts, purgeAt int64) error
	RestoreConversation(ctx context.Context, userID int64, id string) error
	TouchConversationPreview(ctx context.Context, userID int64, id, preview string, ts int64) error

	// C2 Messages.
	GetMessage(ctx context.Context, userID int64, id string) (*model.SyncMessage, error)
	InsertMessage(ctx context.Context, userID int64, msg model.SyncMessage) error
	ListMessagesSince(ctx context.Context, userID int64, since int64, limit int) ([]model.SyncMessage, error)
	ListMessagesByConversation(ctx context.Context, userID int64, conversationID string) ([]model.SyncMessage, error)
	ListRecycledMessages(ctx context.Context, userID int64, now int64) ([]model.SyncMessage, error)
	SoftDeleteMessage(ctx context.Context, userID int64, id string, ts, purgeAt int64) error
	SoftDeleteMessagesByConversation(ctx context.Context, userID int64, conversationID string, ts, purgeAt int64) error
	RestoreMessage(ctx context.Context, userID int64, id string) error
	RestoreMessagesByConversation(ctx context.Context, userID int64, conversationID string) error
	SetMessageReplacedBy(ctx context.Context, userID int64, id, replacedBy string) error

	// C2 Blocks.
	InsertBlocks(ctx context.Context, userID int64, messageID string, blocks []model.MessageBlock) error
	ListBlocksByMessages(ctx context.Context, userID int64, messageIDs []string) (map[string][]model.MessageBlock, error)

	// C2 Providers.
	GetProvider(ctx context.Context, userID int64, id string) (*model.Provider, error)
	UpsertProvider(ctx context.Context, userID int64, p model.Provider, ts int64, setKeys bool, encryptedKeys string) (rec *model.Provider, created bool, err error)
	ListProvidersSince(ctx context.Context, userID int64, since int64, limit int) ([]model.Provider, error)
	ListRecycledProviders(ctx context.Context, userID int64, now int64) ([]model.Provider, error)
	SoftDeleteProvider(ctx context.Context, userID int64, id string, ts, purgeAt int64) error
	RestoreProvider(ctx context.Context, userID int64, id string) error

	// SyncOperation idempotency ledger.
	GetOperation(ctx context.Context, userID int64, opID string) (*model.SyncOperation, error)
	PutOperation(ctx context.Context, op model.SyncOperation) error
	TruncateOperationsOlderThan(ctx context.Context, before int64) (int64, error)

	// SyncCursor convenience bookmarks.
	GetCursor(ctx context.Context, userID int64, deviceID string) (*model.SyncCursor, error)
	PutCursor(ctx context.Context, cursor model.SyncCursor) error

	// C6 Reaper.
	PurgeExpired(ctx context.Context, now int64) (conversations, messages, providers int64, err error)

	// AdminStats supports the admin-overview add-on.
	AdminStats(ctx context.Context) (map[string]int64, error)

	Close()
}

// New creates a Storer from configuration, preferring postgres when both are
// configured (it supports horizontal scaling per spec §6; sqlite is the
// single-process fallback).
func New(ctx context.Context, cfg config.Store) (Storer, error) {
	if cfg.Postgres != nil {
		return postgres.New(ctx, cfg.Postgres)
	}

	if cfg.SQLite != nil {
		return sqlite3.New(ctx, cfg.SQLite)
	}

	return nil, errors.New("no store configured")
}
