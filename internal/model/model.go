// Package model holds the sync engine's data model: the record shapes shared
// by the store, the executor, and the HTTP surface. All timestamps are unix
// milliseconds; ids of synced entities are opaque client-chosen strings.
package model

import "errors"

// ErrNotFound is returned by store mutation methods that targeted a row
// which doesn't exist, or doesn't belong to the calling user — the two
// cases are deliberately indistinguishable to prevent id enumeration
// (spec §4.2).
var ErrNotFound = errors.New("model: not found")

// Scope tags are a closed vocabulary; Pull consults them to decide which
// resource classes to stream, Push never blocks writes outside them.
const (
	ScopeChatHistory        = "chat.history"
	ScopeCharactersCards     = "characters.cards"
	ScopeCharactersSettings  = "characters.per_settings"
	ScopeProvidersConfig     = "providers.config"
	ScopeProvidersKeys       = "providers.keys"
	ScopeUserTextInputs      = "user.text_inputs"
)

// ValidScopes is the closed vocabulary from spec §3.
var ValidScopes = map[string]struct{}{
	ScopeChatHistory:        {},
	ScopeCharactersCards:    {},
	ScopeCharactersSettings: {},
	ScopeProvidersConfig:    {},
	ScopeProvidersKeys:      {},
	ScopeUserTextInputs:     {},
}

// DefaultScopes is the set a user starts with before any PUT /scopes.
var DefaultScopes = []string{ScopeChatHistory, ScopeCharactersCards}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message statuses.
const (
	MessageStatusSending = "sending"
	MessageStatusSent    = "sent"
	MessageStatusFailed  = "failed"
)

// Block types.
const (
	BlockMainText = "mainText"
	BlockImage    = "image"
	BlockAudio    = "audio"
	BlockEmoji    = "emoji"
	BlockTool     = "tool"
	BlockThinking = "thinking"
)

// Block statuses.
const (
	BlockStatusPending = "pending"
	BlockStatusSuccess = "success"
	BlockStatusError   = "error"
)

// Recyclable fields are embedded on every soft-deletable resource.
type Recyclable struct {
	DeletedAt *int64 `json:"deleted_at,omitempty"`
	PurgeAt   *int64 `json:"purge_at,omitempty"`
}

// SyncScope is the set of enabled resource classes for one user.
type SyncScope struct {
	UserID        int64    `json:"-"`
	EnabledScopes []string `json:"enabled_scopes"`
	UpdatedAt     int64    `json:"updated_at"`
}

// Conversation is a chat thread plus its character-card metadata.
type Conversation struct {
	ID                 string `json:"id"`
	UserID             int64  `json:"-"`
	Title              string `json:"title"`
	DisplayName        string `json:"display_name"`
	AvatarRef          string `json:"avatar_ref,omitempty"`
	CharacterImageRef  string `json:"character_image_ref,omitempty"`
	SelfAddress        string `json:"self_address,omitempty"`
	AddressUser        string `json:"address_user,omitempty"`
	VoiceFileRef       string `json:"voice_file_ref,omitempty"`
	PersonaPrompt      string `json:"persona_prompt,omitempty"`
	DefaultProviderID  string `json:"default_provider_id,omitempty"`
	SessionProviderID  string `json:"session_provider_id,omitempty"`
	IsPinned           bool   `json:"is_pinned"`
	IsFavorite         bool   `json:"is_favorite"`
	IsMuted            bool   `json:"is_muted"`
	SoundEnabled       bool   `json:"sound_enabled"`
	LastMessage        string `json:"last_message,omitempty"`
	LastMessageTime    int64  `json:"last_message_time,omitempty"`
	UnreadCount        int64  `json:"unread_count"`
	ParentConversationID string `json:"parent_conversation_id,omitempty"`
	ForkFromMessageID  string `json:"fork_from_message_id,omitempty"`
	ConflictOf         string `json:"conflict_of,omitempty"`
	Recyclable
	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// SyncMessage is an immutable utterance belonging to one conversation.
type SyncMessage struct {
	ID             string        `json:"id"`
	UserID         int64         `json:"-"`
	ConversationID string        `json:"conversation_id"`
	Role           string        `json:"role"`
	Content        string        `json:"content"`
	Status         string        `json:"status"`
	ReplacedBy     string        `json:"replaced_by,omitempty"`
	ConflictOf     string        `json:"conflict_of,omitempty"`
	Blocks         []MessageBlock `json:"blocks,omitempty"`
	Recyclable
	CreatedAt int64 `json:"created_at"`
}

// MessageBlock is one structured payload inside a message.
type MessageBlock struct {
	ID        string `json:"id"`
	MessageID string `json:"-"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	Data      []byte `json:"data"`
	SortOrder int64  `json:"sort_order"`
}

// Provider is a user-owned third-party API configuration.
type Provider struct {
	ID              string   `json:"id"`
	UserID          int64    `json:"-"`
	DisplayName     string   `json:"display_name"`
	APIBaseURL      string   `json:"api_base_url"`
	Enabled         bool     `json:"enabled"`
	Capabilities    []string `json:"capabilities,omitempty"`
	CustomConfig    []byte   `json:"custom_config,omitempty"`
	ModelType       string   `json:"model_type,omitempty"`
	VisibleModels   []string `json:"visible_models,omitempty"`
	HiddenModels    []string `json:"hidden_models,omitempty"`
	// EncryptedKeys is the opaque envelope (or legacy JSON array) blob as stored.
	EncryptedKeys string `json:"-"`
	// APIKeys is only populated on responses when providers.keys is in scope.
	APIKeys []string `json:"api_keys,omitempty"`
	Recyclable
	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// SyncOperation is the idempotency record keyed by the client-chosen op_id.
type SyncOperation struct {
	OpID      string `json:"op_id"`
	UserID    int64  `json:"-"`
	DeviceID  string `json:"device_id"`
	OpType    string `json:"op_type"`
	Input     []byte `json:"-"`
	Result    []byte `json:"-"`
	CreatedAt int64  `json:"created_at"`
}

// SyncCursor is an optional per-user-per-device bookmark.
type SyncCursor struct {
	UserID           int64  `json:"-"`
	DeviceID         string `json:"device_id"`
	ConversationsSince int64 `json:"conversations_since"`
	MessagesSince      int64 `json:"messages_since"`
	ProvidersSince     int64 `json:"providers_since"`
	UpdatedAt        int64  `json:"updated_at"`
}

// op_type values accepted by the push endpoint.
const (
	OpUpsertConversation = "upsert_conversation"
	OpAppendMessage      = "append_message"
	OpDelete             = "delete"
	OpRestore            = "restore"
	OpRegen              = "regen"
	OpFork               = "fork"
	OpUpsertProvider     = "upsert_provider"
)

// Resource kinds for delete/restore.
const (
	KindConversation = "conversation"
	KindMessage      = "message"
	KindProvider     = "provider"
)
