// Package memory is an in-memory Storer: maps guarded by a mutex, useful for
// tests that want the full C1-C6 contract without a real database. Data does
// not survive process restarts.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/aicove/syncd/internal/model"
)

type cursorKey struct {
	userID   int64
	deviceID string
}

type opKey struct {
	userID int64
	opID   string
}

type Memory struct {
	mu sync.Mutex

	scopes        map[int64]model.SyncScope
	conversations map[string]model.Conversation
	messages      map[string]model.SyncMessage
	blocks        map[string][]model.MessageBlock // message id -> blocks
	providers     map[string]model.Provider
	operations    map[opKey]model.SyncOperation
	cursors       map[cursorKey]model.SyncCursor
}

func New() *Memory {
	slog.Info("using in-memory store (data will not persist across restarts)")

	return &Memory{
		scopes:        make(map[int64]model.SyncScope),
		conversations: make(map[string]model.Conversation),
		messages:      make(map[string]model.SyncMessage),
		blocks:        make(map[string][]model.MessageBlock),
		providers:     make(map[string]model.Provider),
		operations:    make(map[opKey]model.SyncOperation),
		cursors:       make(map[cursorKey]model.SyncCursor),
	}
}

func (m *Memory) Close() {}

// Tx marks ctx as inside a transaction and runs fn. Each store method takes
// the mutex on its own, so there is no rollback: writes fn made before
// returning an error are kept. Nested Tx is not supported, matching the
// other backends.
type txKey struct{}

func (m *Memory) Tx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fmt.Errorf("memory: nested Tx is not supported")
	}

	return fn(context.WithValue(ctx, txKey{}, true))
}

// ─── Scopes ───

func (m *Memory) GetScopes(_ context.Context, userID int64) (*model.SyncScope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.scopes[userID]
	if !ok {
		return nil, nil
	}

	return &s, nil
}

func (m *Memory) PutScopes(_ context.Context, userID int64, scopes []string, ts int64) (*model.SyncScope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := model.SyncScope{UserID: userID, EnabledScopes: scopes, UpdatedAt: ts}
	m.scopes[userID] = s

	return &s, nil
}

// ─── Conversations ───

func (m *Memory) GetConversation(_ context.Context, userID int64, id string) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok || c.UserID != userID {
		return nil, nil
	}

	return &c, nil
}

func (m *Memory) UpsertConversation(_ context.Context, userID int64, conv model.Conversation, ts int64) (*model.Conversation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.conversations[conv.ID]
	created := !ok || existing.UserID != userID

	if !created {
		conv.ParentConversationID = existing.ParentConversationID
		conv.ForkFromMessageID = existing.ForkFromMessageID
		conv.CreatedAt = existing.CreatedAt
	} else {
		conv.CreatedAt = ts
	}

	conv.UserID = userID
	conv.UpdatedAt = ts
	m.conversations[conv.ID] = conv

	return &conv, created, nil
}

func (m *Memory) ListConversationsSince(_ context.Context, userID int64, since int64, limit int) ([]model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []model.Conversation
	for _, c := range m.conversations {
		if c.UserID == userID && c.UpdatedAt > since {
			result = append(result, c)
		}
	}

	sortByUpdatedAt(result)

	return limitConversations(result, limit), nil
}

func (m *Memory) ListRecycledConversations(_ context.Context, userID int64, now int64) ([]model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []model.Conversation
	for _, c := range m.conversations {
		if c.UserID == userID && c.DeletedAt != nil && c.PurgeAt != nil && *c.PurgeAt > now {
			result = append(result, c)
		}
	}

	sortByUpdatedAt(result)

	return result, nil
}

func (m *Memory) SoftDeleteConversation(_ context.Context, userID int64, id string, ts, purgeAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok || c.UserID != userID {
		return fmt.Errorf("conversation %q: %w", id, model.ErrNotFound)
	}

	c.DeletedAt = &ts
	c.PurgeAt = &purgeAt
	c.UpdatedAt = ts
	m.conversations[id] = c

	return nil
}

func (m *Memory) RestoreConversation(_ context.Context, userID int64, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok || c.UserID != userID {
		return fmt.Errorf("conversation %q: %w", id, model.ErrNotFound)
	}

	c.DeletedAt = nil
	c.PurgeAt = nil
	m.conversations[id] = c

	return nil
}

func (m *Memory) TouchConversationPreview(_ context.Context, userID int64, id, preview string, ts int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok || c.UserID != userID {
		return fmt.Errorf("conversation %q: %w", id, model.ErrNotFound)
	}

	c.LastMessage = preview
	c.LastMessageTime = ts
	c.UpdatedAt = ts
	m.conversations[id] = c

	return nil
}

// ─── Messages ───

func (m *Memory) GetMessage(_ context.Context, userID int64, id string) (*model.SyncMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok || msg.UserID != userID {
		return nil, nil
	}

	return &msg, nil
}

func (m *Memory) InsertMessage(_ context.Context, userID int64, msg model.SyncMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg.UserID = userID
	m.messages[msg.ID] = msg

	return nil
}

func (m *Memory) ListMessagesSince(_ context.Context, userID int64, since int64, limit int) ([]model.SyncMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []model.SyncMessage
	for _, msg := range m.messages {
		if msg.UserID == userID && msg.CreatedAt > since {
			result = append(result, msg)
		}
	}

	sortByCreatedAt(result)

	return limitMessages(result, limit), nil
}

func (m *Memory) ListMessagesByConversation(_ context.Context, userID int64, conversationID string) ([]model.SyncMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []model.SyncMessage
	for _, msg := range m.messages {
		if msg.UserID == userID && msg.ConversationID == conversationID {
			result = append(result, msg)
		}
	}

	sortByCreatedAt(result)

	return result, nil
}

func (m *Memory) ListRecycledMessages(_ context.Context, userID int64, now int64) ([]model.SyncMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []model.SyncMessage
	for _, msg := range m.messages {
		if msg.UserID == userID && msg.DeletedAt != nil && msg.PurgeAt != nil && *msg.PurgeAt > now {
			result = append(result, msg)
		}
	}

	sortByCreatedAt(result)

	return result, nil
}

func (m *Memory) SoftDeleteMessage(_ context.Context, userID int64, id string, ts, purgeAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok || msg.UserID != userID {
		return fmt.Errorf("message %q: %w", id, model.ErrNotFound)
	}

	msg.DeletedAt = &ts
	msg.PurgeAt = &purgeAt
	m.messages[id] = msg

	return nil
}

func (m *Memory) SoftDeleteMessagesByConversation(_ context.Context, userID int64, conversationID string, ts, purgeAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, msg := range m.messages {
		if msg.UserID == userID && msg.ConversationID == conversationID {
			msg.DeletedAt = &ts
			msg.PurgeAt = &purgeAt
			m.messages[id] = msg
		}
	}

	return nil
}

func (m *Memory) RestoreMessage(_ context.Context, userID int64, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok || msg.UserID != userID {
		return fmt.Errorf("message %q: %w", id, model.ErrNotFound)
	}

	msg.DeletedAt = nil
	msg.PurgeAt = nil
	m.messages[id] = msg

	return nil
}

func (m *Memory) RestoreMessagesByConversation(_ context.Context, userID int64, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, msg := range m.messages {
		if msg.UserID == userID && msg.ConversationID == conversationID {
			msg.DeletedAt = nil
			msg.PurgeAt = nil
			m.messages[id] = msg
		}
	}

	return nil
}

func (m *Memory) SetMessageReplacedBy(_ context.Context, userID int64, id, replacedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok || msg.UserID != userID {
		return fmt.Errorf("message %q: %w", id, model.ErrNotFound)
	}

	msg.ReplacedBy = replacedBy
	m.messages[id] = msg

	return nil
}

// ─── Blocks ───

func (m *Memory) InsertBlocks(_ context.Context, _ int64, messageID string, blocks []model.MessageBlock) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks[messageID] = append(m.blocks[messageID], blocks...)

	return nil
}

func (m *Memory) ListBlocksByMessages(_ context.Context, _ int64, messageIDs []string) (map[string][]model.MessageBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make(map[string][]model.MessageBlock, len(messageIDs))
	for _, id := range messageIDs {
		if bs, ok := m.blocks[id]; ok {
			sorted := slices.Clone(bs)
			slices.SortFunc(sorted, func(a, b model.MessageBlock) int {
				return int(a.SortOrder - b.SortOrder)
			})
			result[id] = sorted
		}
	}

	return result, nil
}

// ─── Providers ───

func (m *Memory) GetProvider(_ context.Context, userID int64, id string) (*model.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.providers[id]
	if !ok || p.UserID != userID {
		return nil, nil
	}

	return &p, nil
}

func (m *Memory) UpsertProvider(_ context.Context, userID int64, p model.Provider, ts int64, setKeys bool, encryptedKeys string) (*model.Provider, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.providers[p.ID]
	created := !ok || existing.UserID != userID

	keys := encryptedKeys
	if !created && !setKeys {
		keys = existing.EncryptedKeys
	}
	if created && !setKeys {
		keys = "[]"
	}

	if !created {
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = ts
	}

	p.UserID = userID
	p.UpdatedAt = ts
	p.EncryptedKeys = keys
	m.providers[p.ID] = p

	return &p, created, nil
}

func (m *Memory) ListProvidersSince(_ context.Context, userID int64, since int64, limit int) ([]model.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []model.Provider
	for _, p := range m.providers {
		if p.UserID == userID && p.UpdatedAt > since {
			result = append(result, p)
		}
	}

	sortProvidersByUpdatedAt(result)

	return limitProviders(result, limit), nil
}

func (m *Memory) ListRecycledProviders(_ context.Context, userID int64, now int64) ([]model.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []model.Provider
	for _, p := range m.providers {
		if p.UserID == userID && p.DeletedAt != nil && p.PurgeAt != nil && *p.PurgeAt > now {
			result = append(result, p)
		}
	}

	sortProvidersByUpdatedAt(result)

	return result, nil
}

func (m *Memory) SoftDeleteProvider(_ context.Context, userID int64, id string, ts, purgeAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.providers[id]
	if !ok || p.UserID != userID {
		return fmt.Errorf("provider %q: %w", id, model.ErrNotFound)
	}

	p.DeletedAt = &ts
	p.PurgeAt = &purgeAt
	p.UpdatedAt = ts
	m.providers[id] = p

	return nil
}

func (m *Memory) RestoreProvider(_ context.Context, userID int64, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.providers[id]
	if !ok || p.UserID != userID {
		return fmt.Errorf("provider %q: %w", id, model.ErrNotFound)
	}

	p.DeletedAt = nil
	p.PurgeAt = nil
	m.providers[id] = p

	return nil
}

// ─── Operations ───

func (m *Memory) GetOperation(_ context.Context, userID int64, opID string) (*model.SyncOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, ok := m.operations[opKey{userID, opID}]
	if !ok {
		return nil, nil
	}

	return &op, nil
}

func (m *Memory) PutOperation(_ context.Context, op model.SyncOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.operations[opKey{op.UserID, op.OpID}] = op

	return nil
}

func (m *Memory) TruncateOperationsOlderThan(_ context.Context, before int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k, op := range m.operations {
		if op.CreatedAt < before {
			delete(m.operations, k)
			n++
		}
	}

	return n, nil
}

// ─── Cursors ───

func (m *Memory) GetCursor(_ context.Context, userID int64, deviceID string) (*model.SyncCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cursors[cursorKey{userID, deviceID}]
	if !ok {
		return nil, nil
	}

	return &c, nil
}

func (m *Memory) PutCursor(_ context.Context, c model.SyncCursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cursors[cursorKey{c.UserID, c.DeviceID}] = c

	return nil
}

// ─── Reaper / admin ───

func (m *Memory) PurgeExpired(_ context.Context, now int64) (int64, int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var convCount, msgCount, provCount int64

	for id, c := range m.conversations {
		if c.PurgeAt != nil && *c.PurgeAt <= now {
			delete(m.conversations, id)
			convCount++
		}
	}

	for id, msg := range m.messages {
		if msg.PurgeAt != nil && *msg.PurgeAt <= now {
			delete(m.messages, id)
			delete(m.blocks, id)
			msgCount++
		}
	}

	for id, p := range m.providers {
		if p.PurgeAt != nil && *p.PurgeAt <= now {
			delete(m.providers, id)
			provCount++
		}
	}

	return convCount, msgCount, provCount, nil
}

func (m *Memory) AdminStats(_ context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return map[string]int64{
		"conversations": int64(len(m.conversations)),
		"messages":      int64(len(m.messages)),
		"providers":     int64(len(m.providers)),
		"operations":    int64(len(m.operations)),
	}, nil
}

func sortByUpdatedAt(s []model.Conversation) {
	slices.SortFunc(s, func(a, b model.Conversation) int { return int(a.UpdatedAt - b.UpdatedAt) })
}

func sortByCreatedAt(s []model.SyncMessage) {
	slices.SortFunc(s, func(a, b model.SyncMessage) int { return int(a.CreatedAt - b.CreatedAt) })
}

func sortProvidersByUpdatedAt(s []model.Provider) {
	slices.SortFunc(s, func(a, b model.Provider) int { return int(a.UpdatedAt - b.UpdatedAt) })
}

func limitConversations(s []model.Conversation, limit int) []model.Conversation {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}

func limitMessages(s []model.SyncMessage, limit int) []model.SyncMessage {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}

func limitProviders(s []model.Provider, limit int) []model.Provider {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}
