package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aicove/syncd/internal/model"
	"github.com/doug-martin/goqu/v9"
)

func msgColumns() []any {
	return []any{
		"id", "user_id", "conversation_id", "role", "content", "status",
		"replaced_by", "conflict_of", "deleted_at", "purge_at", "created_at",
	}
}

func scanMessage(row interface{ Scan(...any) error }) (*model.SyncMessage, error) {
	var m model.SyncMessage
	var deletedAt, purgeAt sql.NullInt64
	var replacedBy, conflictOf sql.NullString

	err := row.Scan(
		&m.ID, &m.UserID, &m.ConversationID, &m.Role, &m.Content, &m.Status,
		&replacedBy, &conflictOf, &deletedAt, &purgeAt, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.ReplacedBy = replacedBy.String
	m.ConflictOf = conflictOf.String
	if deletedAt.Valid {
		m.DeletedAt = &deletedAt.Int64
	}
	if purgeAt.Valid {
		m.PurgeAt = &purgeAt.Int64
	}

	return &m, nil
}

func (p *Postgres) GetMessage(ctx context.Context, userID int64, id string) (*model.SyncMessage, error) {
	query, _, err := p.goqu.From(p.tableMessages).
		Select(msgColumns()...).
		Where(goqu.I("user_id").Eq(userID), goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get message query: %w", err)
	}

	m, err := scanMessage(p.exec(ctx).QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message %q: %w", id, err)
	}

	return m, nil
}

func (p *Postgres) InsertMessage(ctx context.Context, userID int64, msg model.SyncMessage) error {
	query, _, err := p.goqu.Insert(p.tableMessages).Rows(goqu.Record{
		"id": msg.ID, "user_id": userID, "conversation_id": msg.ConversationID,
		"role": msg.Role, "content": msg.Content, "status": msg.Status,
		"replaced_by": msg.ReplacedBy, "conflict_of": msg.ConflictOf,
		"created_at": msg.CreatedAt,
	}).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert message query: %w", err)
	}

	if _, err := p.exec(ctx).ExecContext(ctx, query); err != nil {
		return fmt.Errorf("insert message %q: %w", msg.ID, err)
	}

	return nil
}

func (p *Postgres) ListMessagesSince(ctx context.Context, userID int64, since int64, limit int) ([]model.SyncMessage, error) {
	query, _, err := p.goqu.From(p.tableMessages).
		Select(msgColumns()...).
		Where(goqu.I("user_id").Eq(userID), goqu.I("created_at").Gt(since)).
		Order(goqu.I("created_at").Asc()).
		Limit(uint(limit)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list messages query: %w", err)
	}

	return p.queryMessages(ctx, query)
}

func (p *Postgres) ListMessagesByConversation(ctx context.Context, userID int64, conversationID string) ([]model.SyncMessage, error) {
	query, _, err := p.goqu.From(p.tableMessages).
		Select(msgColumns()...).
		Where(goqu.I("user_id").Eq(userID), goqu.I("conversation_id").Eq(conversationID)).
		Order(goqu.I("created_at").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list messages by conversation query: %w", err)
	}

	return p.queryMessages(ctx, query)
}

func (p *Postgres) ListRecycledMessages(ctx context.Context, userID int64, now int64) ([]model.SyncMessage, error) {
	query, _, err := p.goqu.From(p.tableMessages).
		Select(msgColumns()...).
		Where(
			goqu.I("user_id").Eq(userID),
			goqu.I("deleted_at").IsNotNull(),
			goqu.I("purge_at").Gt(now),
		).
		Order(goqu.I("created_at").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build recycled messages query: %w", err)
	}

	return p.queryMessages(ctx, query)
}

func (p *Postgres) queryMessages(ctx context.Context, query string) ([]model.SyncMessage, error) {
	rows, err := p.exec(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var result []model.SyncMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		result = append(result, *m)
	}

	return result, rows.Err()
}

func (p *Postgres) SoftDeleteMessage(ctx context.Context, userID int64, id string, ts, purgeAt int64) error {
	query, _, err := p.goqu.Update(p.tableMessages).
		Set(goqu.Record{"deleted_at": ts, "purge_at": purgeAt}).
		Where(goqu.I("user_id").Eq(userID), goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build soft-delete message query: %w", err)
	}

	res, err := p.exec(ctx).ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("soft-delete message %q: %w", id, err)
	}

	return requireAffected(res, "message", id)
}

func (p *Postgres) SoftDeleteMessagesByConversation(ctx context.Context, userID int64, conversationID string, ts, purgeAt int64) error {
	query, _, err := p.goqu.Update(p.tableMessages).
		Set(goqu.Record{"deleted_at": ts, "purge_at": purgeAt}).
		Where(goqu.I("user_id").Eq(userID), goqu.I("conversation_id").Eq(conversationID)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build soft-delete messages by conversation query: %w", err)
	}

	if _, err := p.exec(ctx).ExecContext(ctx, query); err != nil {
		return fmt.Errorf("soft-delete messages of conversation %q: %w", conversationID, err)
	}

	return nil
}

func (p *Postgres) RestoreMessage(ctx context.Context, userID int64, id string) error {
	query, _, err := p.goqu.Update(p.tableMessages).
		Set(goqu.Record{"deleted_at": nil, "purge_at": nil}).
		Where(goqu.I("user_id").Eq(userID), goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build restore message query: %w", err)
	}

	res, err := p.exec(ctx).ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("restore message %q: %w", id, err)
	}

	return requireAffected(res, "message", id)
}

func (p *Postgres) RestoreMessagesByConversation(ctx context.Context, userID int64, conversationID string) error {
	query, _, err := p.goqu.Update(p.tableMessages).
		Set(goqu.Record{"deleted_at": nil, "purge_at": nil}).
		Where(goqu.I("user_id").Eq(userID), goqu.I("conversation_id").Eq(conversationID)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build restore messages by conversation query: %w", err)
	}

	if _, err := p.exec(ctx).ExecContext(ctx, query); err != nil {
		return fmt.Errorf("restore messages of conversation %q: %w", conversationID, err)
	}

	return nil
}

func (p *Postgres) SetMessageReplacedBy(ctx context.Context, userID int64, id, replacedBy string) error {
	query, _, err := p.goqu.Update(p.tableMessages).
		Set(goqu.Record{"replaced_by": replacedBy}).
		Where(goqu.I("user_id").Eq(userID), goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build set replaced_by query: %w", err)
	}

	res, err := p.exec(ctx).ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("set replaced_by on message %q: %w", id, err)
	}

	return requireAffected(res, "message", id)
}

// ─── Blocks ───

func (p *Postgres) InsertBlocks(ctx context.Context, userID int64, messageID string, blocks []model.MessageBlock) error {
	for _, b := range blocks {
		query, _, err := p.goqu.Insert(p.tableBlocks).Rows(goqu.Record{
			"id": b.ID, "message_id": messageID, "type": b.Type, "status": b.Status,
			"data": string(b.Data), "sort_order": b.SortOrder,
		}).ToSQL()
		if err != nil {
			return fmt.Errorf("build insert block query: %w", err)
		}

		if _, err := p.exec(ctx).ExecContext(ctx, query); err != nil {
			return fmt.Errorf("insert block %q for message %q: %w", b.ID, messageID, err)
		}
	}

	return nil
}

func (p *Postgres) ListBlocksByMessages(ctx context.Context, userID int64, messageIDs []string) (map[string][]model.MessageBlock, error) {
	result := make(map[string][]model.MessageBlock)
	if len(messageIDs) == 0 {
		return result, nil
	}

	ids := make([]any, len(messageIDs))
	for i, id := range messageIDs {
		ids[i] = id
	}

	query, _, err := p.goqu.From(p.tableBlocks).
		Select("id", "message_id", "type", "status", "data", "sort_order").
		Where(goqu.I("message_id").In(ids...)).
		Order(goqu.I("message_id").Asc(), goqu.I("sort_order").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list blocks query: %w", err)
	}

	rows, err := p.exec(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var b model.MessageBlock
		var data string
		if err := rows.Scan(&b.ID, &b.MessageID, &b.Type, &b.Status, &data, &b.SortOrder); err != nil {
			return nil, fmt.Errorf("scan block row: %w", err)
		}
		b.Data = []byte(data)
		result[b.MessageID] = append(result[b.MessageID], b)
	}

	return result, rows.Err()
}
