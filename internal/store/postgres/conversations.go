package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aicove/syncd/internal/model"
	"github.com/doug-martin/goqu/v9"
)

func convColumns() []any {
	return []any{
		"id", "user_id", "title", "display_name", "avatar_ref", "character_image_ref",
		"self_address", "address_user", "voice_file_ref", "persona_prompt",
		"default_provider_id", "session_provider_id", "is_pinned", "is_favorite",
		"is_muted", "sound_enabled", "last_message", "last_message_time", "unread_count",
		"parent_conversation_id", "fork_from_message_id", "conflict_of",
		"deleted_at", "purge_at", "created_at", "updated_at",
	}
}

func scanConversation(row interface{ Scan(...any) error }) (*model.Conversation, error) {
	var c model.Conversation
	var deletedAt, purgeAt sql.NullInt64

	err := row.Scan(
		&c.ID, &c.UserID, &c.Title, &c.DisplayName, &c.AvatarRef, &c.CharacterImageRef,
		&c.SelfAddress, &c.AddressUser, &c.VoiceFileRef, &c.PersonaPrompt,
		&c.DefaultProviderID, &c.SessionProviderID, &c.IsPinned, &c.IsFavorite,
		&c.IsMuted, &c.SoundEnabled, &c.LastMessage, &c.LastMessageTime, &c.UnreadCount,
		&c.ParentConversationID, &c.ForkFromMessageID, &c.ConflictOf,
		&deletedAt, &purgeAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if deletedAt.Valid {
		c.DeletedAt = &deletedAt.Int64
	}
	if purgeAt.Valid {
		c.PurgeAt = &purgeAt.Int64
	}

	return &c, nil
}

func (p *Postgres) GetConversation(ctx context.Context, userID int64, id string) (*model.Conversation, error) {
	query, _, err := p.goqu.From(p.tableConvs).
		Select(convColumns()...).
		Where(goqu.I("user_id").Eq(userID), goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get conversation query: %w", err)
	}

	c, err := scanConversation(p.exec(ctx).QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %q: %w", id, err)
	}

	return c, nil
}

func (p *Postgres) UpsertConversation(ctx context.Context, userID int64, conv model.Conversation, ts int64) (*model.Conversation, bool, error) {
	existing, err := p.GetConversation(ctx, userID, conv.ID)
	if err != nil {
		return nil, false, err
	}

	if existing != nil {
		conv.ParentConversationID = existing.ParentConversationID
		conv.ForkFromMessageID = existing.ForkFromMessageID
		conv.CreatedAt = existing.CreatedAt
		conv.UpdatedAt = ts

		record := goqu.Record{
			"title": conv.Title, "display_name": conv.DisplayName, "avatar_ref": conv.AvatarRef,
			"character_image_ref": conv.CharacterImageRef, "self_address": conv.SelfAddress,
			"address_user": conv.AddressUser, "voice_file_ref": conv.VoiceFileRef,
			"persona_prompt": conv.PersonaPrompt, "default_provider_id": conv.DefaultProviderID,
			"session_provider_id": conv.SessionProviderID, "is_pinned": conv.IsPinned,
			"is_favorite": conv.IsFavorite, "is_muted": conv.IsMuted, "sound_enabled": conv.SoundEnabled,
			"last_message": conv.LastMessage, "last_message_time": conv.LastMessageTime,
			"unread_count": conv.UnreadCount, "updated_at": ts,
		}

		query, _, err := p.goqu.Update(p.tableConvs).Set(record).
			Where(goqu.I("user_id").Eq(userID), goqu.I("id").Eq(conv.ID)).ToSQL()
		if err != nil {
			return nil, false, fmt.Errorf("build update conversation query: %w", err)
		}

		if _, err := p.exec(ctx).ExecContext(ctx, query); err != nil {
			return nil, false, fmt.Errorf("update conversation %q: %w", conv.ID, err)
		}

		return &conv, false, nil
	}

	conv.UserID = userID
	conv.CreatedAt = ts
	conv.UpdatedAt = ts

	query, _, err := p.goqu.Insert(p.tableConvs).Rows(goqu.Record{
		"id": conv.ID, "user_id": userID, "title": conv.Title, "display_name": conv.DisplayName,
		"avatar_ref": conv.AvatarRef, "character_image_ref": conv.CharacterImageRef,
		"self_address": conv.SelfAddress, "address_user": conv.AddressUser,
		"voice_file_ref": conv.VoiceFileRef, "persona_prompt": conv.PersonaPrompt,
		"default_provider_id": conv.DefaultProviderID, "session_provider_id": conv.SessionProviderID,
		"is_pinned": conv.IsPinned, "is_favorite": conv.IsFavorite, "is_muted": conv.IsMuted,
		"sound_enabled": conv.SoundEnabled, "last_message": conv.LastMessage,
		"last_message_time": conv.LastMessageTime, "unread_count": conv.UnreadCount,
		"parent_conversation_id": conv.ParentConversationID, "fork_from_message_id": conv.ForkFromMessageID,
		"conflict_of": conv.ConflictOf, "created_at": ts, "updated_at": ts,
	}).ToSQL()
	if err != nil {
		return nil, false, fmt.Errorf("build insert conversation query: %w", err)
	}

	if _, err := p.exec(ctx).ExecContext(ctx, query); err != nil {
		return nil, false, fmt.Errorf("create conversation %q: %w", conv.ID, err)
	}

	return &conv, true, nil
}

func (p *Postgres) ListConversationsSince(ctx context.Context, userID int64, since int64, limit int) ([]model.Conversation, error) {
	query, _, err := p.goqu.From(p.tableConvs).
		Select(convColumns()...).
		Where(goqu.I("user_id").Eq(userID), goqu.I("updated_at").Gt(since)).
		Order(goqu.I("updated_at").Asc()).
		Limit(uint(limit)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list conversations query: %w", err)
	}

	rows, err := p.exec(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var result []model.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		result = append(result, *c)
	}

	return result, rows.Err()
}

func (p *Postgres) ListRecycledConversations(ctx context.Context, userID int64, now int64) ([]model.Conversation, error) {
	query, _, err := p.goqu.From(p.tableConvs).
		Select(convColumns()...).
		Where(
			goqu.I("user_id").Eq(userID),
			goqu.I("deleted_at").IsNotNull(),
			goqu.I("purge_at").Gt(now),
		).
		Order(goqu.I("updated_at").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build recycled conversations query: %w", err)
	}

	rows, err := p.exec(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list recycled conversations: %w", err)
	}
	defer rows.Close()

	var result []model.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		result = append(result, *c)
	}

	return result, rows.Err()
}

func (p *Postgres) SoftDeleteConversation(ctx context.Context, userID int64, id string, ts, purgeAt int64) error {
	query, _, err := p.goqu.Update(p.tableConvs).
		Set(goqu.Record{"deleted_at": ts, "purge_at": purgeAt, "updated_at": ts}).
		Where(goqu.I("user_id").Eq(userID), goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build soft-delete conversation query: %w", err)
	}

	res, err := p.exec(ctx).ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("soft-delete conversation %q: %w", id, err)
	}

	return requireAffected(res, "conversation", id)
}

func (p *Postgres) RestoreConversation(ctx context.Context, userID int64, id string) error {
	query, _, err := p.goqu.Update(p.tableConvs).
		Set(goqu.Record{"deleted_at": nil, "purge_at": nil}).
		Where(goqu.I("user_id").Eq(userID), goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build restore conversation query: %w", err)
	}

	res, err := p.exec(ctx).ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("restore conversation %q: %w", id, err)
	}

	return requireAffected(res, "conversation", id)
}

func (p *Postgres) TouchConversationPreview(ctx context.Context, userID int64, id, preview string, ts int64) error {
	query, _, err := p.goqu.Update(p.tableConvs).
		Set(goqu.Record{"last_message": preview, "last_message_time": ts, "updated_at": ts}).
		Where(goqu.I("user_id").Eq(userID), goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build touch conversation preview query: %w", err)
	}

	res, err := p.exec(ctx).ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("touch conversation preview %q: %w", id, err)
	}

	return requireAffected(res, "conversation", id)
}

func requireAffected(res sql.Result, kind, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%s %q: %w", kind, id, model.ErrNotFound)
	}

	return nil
}
