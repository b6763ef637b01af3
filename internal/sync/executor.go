package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aicove/syncd/internal/apperr"
	"github.com/aicove/syncd/internal/crypto"
	"github.com/aicove/syncd/internal/model"
	"github.com/google/uuid"
)

// dispatch routes one push operation to its verb, all under ts — the single
// server-chosen timestamp for the whole batch (spec §4.4).
func (e *Engine) dispatch(ctx context.Context, userID int64, op PushOperation, ts int64) (json.RawMessage, error) {
	switch op.OpType {
	case model.OpUpsertConversation:
		return e.upsertConversation(ctx, userID, op.Data, ts)
	case model.OpAppendMessage:
		return e.appendMessage(ctx, userID, op.Data, ts)
	case model.OpDelete:
		return e.softDelete(ctx, userID, op.Data, ts)
	case model.OpRestore:
		return e.restore(ctx, userID, op.Data)
	case model.OpRegen:
		return e.regenerateReplace(ctx, userID, op.Data, ts)
	case model.OpFork:
		return e.fork(ctx, userID, op.Data, ts)
	case model.OpUpsertProvider:
		return e.upsertProvider(ctx, userID, op.Data, ts)
	default:
		return nil, apperr.InvalidArgument("unknown op_type %q", op.OpType)
	}
}

func decodeData[T any](raw json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, apperr.InvalidArgument("malformed operation data: %v", err)
	}
	return v, nil
}

func marshalResult(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, apperr.Internal("marshal result", err)
	}
	return b, nil
}

// ─── upsert-conversation ───

func (e *Engine) upsertConversation(ctx context.Context, userID int64, raw json.RawMessage, ts int64) (json.RawMessage, error) {
	d, err := decodeData[dataUpsertConversation](raw)
	if err != nil {
		return nil, err
	}
	if d.ID == "" {
		return nil, apperr.InvalidArgument("upsert_conversation: id is required")
	}

	conv := model.Conversation{
		ID:                d.ID,
		Title:             e.sanitize(d.Title),
		DisplayName:       e.sanitize(d.DisplayName),
		AvatarRef:         d.AvatarRef,
		CharacterImageRef: d.CharacterImageRef,
		SelfAddress:       d.SelfAddress,
		AddressUser:       d.AddressUser,
		VoiceFileRef:      d.VoiceFileRef,
		PersonaPrompt:     e.sanitize(d.PersonaPrompt),
		DefaultProviderID: d.DefaultProviderID,
		SessionProviderID: d.SessionProviderID,
		IsPinned:          d.IsPinned,
		IsFavorite:        d.IsFavorite,
		IsMuted:           d.IsMuted,
		SoundEnabled:      d.SoundEnabled,
	}

	_, created, err := e.store.UpsertConversation(ctx, userID, conv, ts)
	if err != nil {
		return nil, apperr.Internal("upsert conversation", err)
	}

	return marshalResult(map[string]any{"id": d.ID, "action": actionOf(created)})
}

// ─── append-message ───

func (e *Engine) appendMessage(ctx context.Context, userID int64, raw json.RawMessage, ts int64) (json.RawMessage, error) {
	d, err := decodeData[dataAppendMessage](raw)
	if err != nil {
		return nil, err
	}
	if d.ID == "" || d.ConversationID == "" {
		return nil, apperr.InvalidArgument("append_message: id and conversation_id are required")
	}

	conv, err := e.store.GetConversation(ctx, userID, d.ConversationID)
	if err != nil {
		return nil, apperr.Internal("get conversation", err)
	}
	if conv == nil {
		return nil, apperr.NotFound("conversation %q", d.ConversationID)
	}

	status := d.Status
	if status == "" {
		status = model.MessageStatusSent
	}

	msg := model.SyncMessage{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		Role:           d.Role,
		Content:        e.sanitize(d.Content),
		Status:         status,
		CreatedAt:      ts,
	}

	err = e.store.Tx(ctx, func(ctx context.Context) error {
		if err := e.store.InsertMessage(ctx, userID, msg); err != nil {
			return apperr.Internal("insert message", err)
		}

		if err := e.insertBlocks(ctx, userID, d.ID, d.Blocks); err != nil {
			return err
		}

		return e.touchPreview(ctx, userID, d.ConversationID, msg.Content, ts)
	})
	if err != nil {
		return nil, err
	}

	return marshalResult(map[string]any{"id": d.ID, "action": "created"})
}

func (e *Engine) insertBlocks(ctx context.Context, userID int64, messageID string, blocks []dataBlock) error {
	recs := make([]model.MessageBlock, len(blocks))
	for i, b := range blocks {
		sortOrder := int64(i)
		if b.SortOrder != nil {
			sortOrder = *b.SortOrder
		}

		recs[i] = model.MessageBlock{
			ID:        b.ID,
			MessageID: messageID,
			Type:      b.Type,
			Status:    b.Status,
			Data:      b.Data,
			SortOrder: sortOrder,
		}
	}

	if err := e.store.InsertBlocks(ctx, userID, messageID, recs); err != nil {
		return apperr.Internal("insert blocks", err)
	}

	return nil
}

func (e *Engine) touchPreview(ctx context.Context, userID int64, conversationID, content string, ts int64) error {
	preview := content
	if len([]rune(preview)) > 100 {
		preview = string([]rune(preview)[:100])
	}

	if err := e.store.TouchConversationPreview(ctx, userID, conversationID, preview, ts); err != nil {
		return apperr.Internal("touch conversation preview", err)
	}

	return nil
}

// ─── soft-delete / restore ───

func (e *Engine) softDelete(ctx context.Context, userID int64, raw json.RawMessage, ts int64) (json.RawMessage, error) {
	d, err := decodeData[dataDeleteOrRestore](raw)
	if err != nil {
		return nil, err
	}

	purgeAt := ts + e.recycleWindow.Milliseconds()

	switch d.Type {
	case model.KindConversation:
		if err := e.store.SoftDeleteConversation(ctx, userID, d.ID, ts, purgeAt); err != nil {
			return nil, storeErr("conversation", d.ID, err)
		}
		if err := e.store.SoftDeleteMessagesByConversation(ctx, userID, d.ID, ts, purgeAt); err != nil {
			return nil, apperr.Internal("cascade delete messages", err)
		}
	case model.KindMessage:
		if err := e.store.SoftDeleteMessage(ctx, userID, d.ID, ts, purgeAt); err != nil {
			return nil, storeErr("message", d.ID, err)
		}
	case model.KindProvider:
		if err := e.store.SoftDeleteProvider(ctx, userID, d.ID, ts, purgeAt); err != nil {
			return nil, storeErr("provider", d.ID, err)
		}
	default:
		return nil, apperr.InvalidArgument("delete: unknown type %q", d.Type)
	}

	return marshalResult(map[string]any{"id": d.ID, "type": d.Type, "action": "deleted", "purge_at": purgeAt})
}

func (e *Engine) restore(ctx context.Context, userID int64, raw json.RawMessage) (json.RawMessage, error) {
	d, err := decodeData[dataDeleteOrRestore](raw)
	if err != nil {
		return nil, err
	}

	switch d.Type {
	case model.KindConversation:
		if err := e.store.RestoreConversation(ctx, userID, d.ID); err != nil {
			return nil, storeErr("conversation", d.ID, err)
		}
		if err := e.store.RestoreMessagesByConversation(ctx, userID, d.ID); err != nil {
			return nil, apperr.Internal("cascade restore messages", err)
		}
	case model.KindMessage:
		if err := e.store.RestoreMessage(ctx, userID, d.ID); err != nil {
			return nil, storeErr("message", d.ID, err)
		}
	case model.KindProvider:
		if err := e.store.RestoreProvider(ctx, userID, d.ID); err != nil {
			return nil, storeErr("provider", d.ID, err)
		}
	default:
		return nil, apperr.InvalidArgument("restore: unknown type %q", d.Type)
	}

	return marshalResult(map[string]any{"id": d.ID, "type": d.Type, "action": "restored"})
}

// ─── regenerate-replace ───

func (e *Engine) regenerateReplace(ctx context.Context, userID int64, raw json.RawMessage, ts int64) (json.RawMessage, error) {
	d, err := decodeData[dataRegen](raw)
	if err != nil {
		return nil, err
	}
	if d.OldMessageID == "" || d.NewMessage.ID == "" {
		return nil, apperr.InvalidArgument("regen: old_message_id and new_message.id are required")
	}

	var result json.RawMessage

	err = e.store.Tx(ctx, func(ctx context.Context) error {
		old, err := e.store.GetMessage(ctx, userID, d.OldMessageID)
		if err != nil {
			return apperr.Internal("get old message", err)
		}
		if old == nil {
			return apperr.NotFound("message %q", d.OldMessageID)
		}
		if old.Role != model.RoleAssistant {
			return apperr.InvalidArgument("regen: old message %q is not an assistant message", d.OldMessageID)
		}

		purgeAt := ts + e.recycleWindow.Milliseconds()
		if err := e.store.SoftDeleteMessage(ctx, userID, d.OldMessageID, ts, purgeAt); err != nil {
			return apperr.Internal("soft-delete old message", err)
		}
		if err := e.store.SetMessageReplacedBy(ctx, userID, d.OldMessageID, d.NewMessage.ID); err != nil {
			return apperr.Internal("set replaced_by", err)
		}

		status := d.NewMessage.Status
		if status == "" {
			status = model.MessageStatusSent
		}

		newMsg := model.SyncMessage{
			ID:             d.NewMessage.ID,
			ConversationID: old.ConversationID,
			Role:           model.RoleAssistant,
			Content:        e.sanitize(d.NewMessage.Content),
			Status:         status,
			CreatedAt:      ts,
		}

		if err := e.store.InsertMessage(ctx, userID, newMsg); err != nil {
			return apperr.Internal("insert replacement message", err)
		}

		if err := e.insertBlocks(ctx, userID, d.NewMessage.ID, d.NewMessage.Blocks); err != nil {
			return err
		}

		if err := e.touchPreview(ctx, userID, old.ConversationID, newMsg.Content, ts); err != nil {
			return err
		}

		result, err = marshalResult(map[string]any{
			"old_message_id": d.OldMessageID,
			"new_message_id": d.NewMessage.ID,
			"action":         "replaced",
		})

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// ─── fork ───

func (e *Engine) fork(ctx context.Context, userID int64, raw json.RawMessage, ts int64) (json.RawMessage, error) {
	d, err := decodeData[dataFork](raw)
	if err != nil {
		return nil, err
	}
	if d.ParentConversationID == "" || d.ForkFromMessageID == "" || d.NewConversationID == "" {
		return nil, apperr.InvalidArgument("fork: parent_conversation_id, fork_from_message_id, new_conversation_id are required")
	}

	copyMessages := true
	if d.CopyMessages != nil {
		copyMessages = *d.CopyMessages
	}

	var result json.RawMessage

	err = e.store.Tx(ctx, func(ctx context.Context) error {
		parent, err := e.store.GetConversation(ctx, userID, d.ParentConversationID)
		if err != nil {
			return apperr.Internal("get parent conversation", err)
		}
		if parent == nil {
			return apperr.NotFound("conversation %q", d.ParentConversationID)
		}

		forkPoint, err := e.store.GetMessage(ctx, userID, d.ForkFromMessageID)
		if err != nil {
			return apperr.Internal("get fork-point message", err)
		}
		if forkPoint == nil || forkPoint.ConversationID != parent.ID {
			return apperr.NotFound("message %q in conversation %q", d.ForkFromMessageID, parent.ID)
		}

		title := d.Title
		if title == "" {
			title = parent.Title
		}

		newConv := model.Conversation{
			ID:                   d.NewConversationID,
			Title:                e.sanitize(title),
			DisplayName:          parent.DisplayName,
			AvatarRef:            parent.AvatarRef,
			CharacterImageRef:    parent.CharacterImageRef,
			SelfAddress:          parent.SelfAddress,
			AddressUser:          parent.AddressUser,
			VoiceFileRef:         parent.VoiceFileRef,
			PersonaPrompt:        parent.PersonaPrompt,
			DefaultProviderID:    parent.DefaultProviderID,
			SessionProviderID:    parent.SessionProviderID,
			IsMuted:              parent.IsMuted,
			SoundEnabled:         parent.SoundEnabled,
			IsPinned:             false,
			IsFavorite:           false,
			UnreadCount:          0,
			ParentConversationID: parent.ID,
			ForkFromMessageID:    forkPoint.ID,
		}

		if _, _, err := e.store.UpsertConversation(ctx, userID, newConv, ts); err != nil {
			return apperr.Internal("create forked conversation", err)
		}

		if copyMessages {
			if err := e.copyForkedMessages(ctx, userID, parent.ID, forkPoint, d.NewConversationID); err != nil {
				return err
			}
		}

		result, err = marshalResult(map[string]any{
			"new_conversation_id":    d.NewConversationID,
			"parent_conversation_id": parent.ID,
			"fork_from_message_id":   forkPoint.ID,
			"action":                 "forked",
		})

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (e *Engine) copyForkedMessages(ctx context.Context, userID int64, parentID string, forkPoint *model.SyncMessage, newConvID string) error {
	msgs, err := e.store.ListMessagesByConversation(ctx, userID, parentID)
	if err != nil {
		return apperr.Internal("list parent messages", err)
	}

	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	blocksByMsg, err := e.store.ListBlocksByMessages(ctx, userID, ids)
	if err != nil {
		return apperr.Internal("list parent blocks", err)
	}

	suffix := "_fork_" + shortID(newConvID)

	for _, m := range msgs {
		if m.DeletedAt != nil || m.CreatedAt > forkPoint.CreatedAt {
			continue
		}

		newMsg := model.SyncMessage{
			ID:             m.ID + suffix,
			ConversationID: newConvID,
			Role:           m.Role,
			Content:        m.Content,
			Status:         m.Status,
			CreatedAt:      m.CreatedAt,
		}

		if err := e.store.InsertMessage(ctx, userID, newMsg); err != nil {
			return apperr.Internal("insert forked message", err)
		}

		blocks := blocksByMsg[m.ID]
		if len(blocks) == 0 {
			continue
		}

		newBlocks := make([]model.MessageBlock, len(blocks))
		for i, b := range blocks {
			newBlocks[i] = model.MessageBlock{
				ID:        b.ID + suffix,
				MessageID: newMsg.ID,
				Type:      b.Type,
				Status:    b.Status,
				Data:      b.Data,
				SortOrder: b.SortOrder,
			}
		}

		if err := e.store.InsertBlocks(ctx, userID, newMsg.ID, newBlocks); err != nil {
			return apperr.Internal("insert forked blocks", err)
		}
	}

	return nil
}

func shortID(id string) string {
	if u, err := uuid.Parse(id); err == nil {
		return u.String()[:8]
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// ─── upsert-provider ───

func (e *Engine) upsertProvider(ctx context.Context, userID int64, raw json.RawMessage, ts int64) (json.RawMessage, error) {
	d, err := decodeData[dataUpsertProvider](raw)
	if err != nil {
		return nil, err
	}
	if d.ID == "" {
		return nil, apperr.InvalidArgument("upsert_provider: id is required")
	}

	p := model.Provider{
		ID:            d.ID,
		DisplayName:   e.sanitize(d.DisplayName),
		APIBaseURL:    d.APIBaseURL,
		Enabled:       d.Enabled,
		Capabilities:  d.Capabilities,
		CustomConfig:  d.CustomConfig,
		ModelType:     d.ModelType,
		VisibleModels: d.VisibleModels,
		HiddenModels:  d.HiddenModels,
	}

	setKeys := d.APIKeys != nil
	encryptedKeys := ""
	if setKeys {
		encryptedKeys, err = crypto.EncryptKeys(*d.APIKeys, e.kek)
		if err != nil {
			return nil, apperr.Internal("encrypt provider keys", err)
		}
	}

	_, created, err := e.store.UpsertProvider(ctx, userID, p, ts, setKeys, encryptedKeys)
	if err != nil {
		return nil, apperr.Internal("upsert provider", err)
	}

	return marshalResult(map[string]any{"id": d.ID, "action": actionOf(created)})
}

func actionOf(created bool) string {
	if created {
		return "created"
	}
	return "updated"
}

func storeErr(kind, id string, err error) error {
	if errors.Is(err, model.ErrNotFound) {
		return apperr.NotFound("%s %q", kind, id)
	}
	return apperr.Internal(fmt.Sprintf("%s operation", kind), err)
}
