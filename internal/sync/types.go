// Package sync implements the core sync engine: the scope registry, the
// incremental pull feed, the idempotent push protocol, and the seven
// operation verbs that mutate conversations, messages, blocks, and
// providers.
package sync

import (
	"encoding/json"

	"github.com/aicove/syncd/internal/model"
)

// PushOperation is one entry of a push batch as received over the wire.
type PushOperation struct {
	OpID     string          `json:"op_id"`
	DeviceID string          `json:"device_id"`
	OpType   string          `json:"op_type"`
	Data     json.RawMessage `json:"data"`
}

// PushResult is one entry of a push response, positionally aligned with the
// input operations.
type PushResult struct {
	OpID   string          `json:"op_id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Push result statuses.
const (
	StatusSuccess   = "success"
	StatusDuplicate = "duplicate"
	StatusError     = "error"
)

// PullRequest carries the incremental-feed cursor and filtering knobs.
type PullRequest struct {
	DeviceID           string
	ConversationsSince int64
	MessagesSince      int64
	ProvidersSince     int64
	IncludeDeleted     bool
	Limit              int
}

// PullResponse is the incremental change feed returned by GET /pull and
// GET /recycle-bin (the latter is a pull with deleted-only filtering).
type PullResponse struct {
	Conversations []model.Conversation `json:"conversations"`
	Messages      []model.SyncMessage  `json:"messages"`
	Providers     []model.Provider     `json:"providers"`
	ServerTime    int64                `json:"server_time"`
}

// PurgeResult is the response shape of POST /purge-expired.
type PurgeResult struct {
	Purged     PurgeCounts `json:"purged"`
	ServerTime int64       `json:"server_time"`
}

type PurgeCounts struct {
	Conversations int64 `json:"conversations"`
	Messages      int64 `json:"messages"`
	Providers     int64 `json:"providers"`
}

// ─── op_type payload shapes (spec §6) ───

type dataUpsertConversation struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	DisplayName       string `json:"display_name"`
	AvatarRef         string `json:"avatar_ref"`
	CharacterImageRef string `json:"character_image_ref"`
	SelfAddress       string `json:"self_address"`
	AddressUser       string `json:"address_user"`
	VoiceFileRef      string `json:"voice_file_ref"`
	PersonaPrompt     string `json:"persona_prompt"`
	DefaultProviderID string `json:"default_provider_id"`
	SessionProviderID string `json:"session_provider_id"`
	IsPinned          bool   `json:"is_pinned"`
	IsFavorite        bool   `json:"is_favorite"`
	IsMuted           bool   `json:"is_muted"`
	SoundEnabled      bool   `json:"sound_enabled"`
}

type dataBlock struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data"`
	SortOrder *int64          `json:"sort_order"`
}

type dataAppendMessage struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Role           string      `json:"role"`
	Content        string      `json:"content"`
	Status         string      `json:"status"`
	Blocks         []dataBlock `json:"blocks"`
}

type dataDeleteOrRestore struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type dataRegen struct {
	OldMessageID string            `json:"old_message_id"`
	NewMessage   dataAppendMessage `json:"new_message"`
}

type dataFork struct {
	ParentConversationID string `json:"parent_conversation_id"`
	ForkFromMessageID    string `json:"fork_from_message_id"`
	NewConversationID    string `json:"new_conversation_id"`
	Title                string `json:"title"`
	CopyMessages         *bool  `json:"copy_messages"`
}

type dataUpsertProvider struct {
	ID            string          `json:"id"`
	DisplayName   string          `json:"display_name"`
	APIBaseURL    string          `json:"api_base_url"`
	Enabled       bool            `json:"enabled"`
	Capabilities  []string        `json:"capabilities"`
	CustomConfig  json.RawMessage `json:"custom_config"`
	ModelType     string          `json:"model_type"`
	VisibleModels []string        `json:"visible_models"`
	HiddenModels  []string        `json:"hidden_models"`
	APIKeys       *[]string       `json:"api_keys"`
}
