// Package models defines the database models for logged Discord messages,
// actions, guild/channel snapshots, and processing checkpoints.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ActionType identifies the kind of Discord event an Action row records.
type ActionType string

const (
	ActionMessageDelete     ActionType = "message_delete"
	ActionMessageEdit       ActionType = "message_edit"
	ActionMessageBulkDelete ActionType = "message_bulk_delete"
	ActionMemberJoin        ActionType = "member_join"
	ActionMemberLeave       ActionType = "member_leave"
	ActionMemberUpdate      ActionType = "member_update"
	ActionMemberBan         ActionType = "member_ban"
	ActionMemberUnban       ActionType = "member_unban"
	ActionChannelCreate     ActionType = "channel_create"
	ActionChannelDelete     ActionType = "channel_delete"
	ActionChannelUpdate     ActionType = "channel_update"
	ActionRoleCreate        ActionType = "role_create"
	ActionRoleDelete        ActionType = "role_delete"
	ActionRoleUpdate        ActionType = "role_update"
	ActionGuildUpdate       ActionType = "guild_update"
	ActionVoiceStateUpdate  ActionType = "voice_state_update"
	ActionInviteCreate      ActionType = "invite_create"
	ActionInviteDelete      ActionType = "invite_delete"
	ActionThreadCreate      ActionType = "thread_create"
	ActionThreadDelete      ActionType = "thread_delete"
	ActionThreadUpdate      ActionType = "thread_update"
	ActionEmojiCreate       ActionType = "emoji_create"
	ActionEmojiDelete       ActionType = "emoji_delete"
	ActionEmojiUpdate       ActionType = "emoji_update"
	ActionWebhookCreate     ActionType = "webhook_create"
	ActionWebhookUpdate     ActionType = "webhook_update"
	ActionWebhookDelete     ActionType = "webhook_delete"
)

// MessageType mirrors the Discord message sub-type. Unknown wire values map
// to MessageTypeDefault rather than failing conversion.
type MessageType string

const (
	MessageTypeDefault              MessageType = "default"
	MessageTypeRecipientAdd         MessageType = "recipient_add"
	MessageTypeRecipientRemove      MessageType = "recipient_remove"
	MessageTypeCall                 MessageType = "call"
	MessageTypeChannelNameChange    MessageType = "channel_name_change"
	MessageTypeChannelIconChange    MessageType = "channel_icon_change"
	MessageTypePinsAdd              MessageType = "pins_add"
	MessageTypeNewMember            MessageType = "new_member"
	MessageTypeGuildBoost           MessageType = "premium_guild_subscription"
	MessageTypeGuildBoostTier1      MessageType = "premium_guild_tier_1"
	MessageTypeGuildBoostTier2      MessageType = "premium_guild_tier_2"
	MessageTypeGuildBoostTier3      MessageType = "premium_guild_tier_3"
	MessageTypeChannelFollowAdd     MessageType = "channel_follow_add"
	MessageTypeThreadCreated        MessageType = "thread_created"
	MessageTypeReply                MessageType = "reply"
	MessageTypeChatInputCommand     MessageType = "chat_input_command"
	MessageTypeThreadStarterMessage MessageType = "thread_starter_message"
	MessageTypeContextMenuCommand   MessageType = "context_menu_command"
)

// JSONMap is a free-form key/value payload stored as a JSON column.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported JSONMap source type %T", src)
	}
}

// JSONList is a list of free-form payloads (attachments, embeds) stored as a
// JSON column.
type JSONList []map[string]any

func (l JSONList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

func (l *JSONList) Scan(src any) error {
	if src == nil {
		*l = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported JSONList source type %T", src)
	}
}

// StringList is a list of snowflake ids stored as a JSON column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(src any) error {
	if src == nil {
		*l = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported StringList source type %T", src)
	}
}

// Message is one logged Discord message. Re-ingesting the same message id
// overwrites the row (upsert on message_id), so replays and edits are
// idempotent.
type Message struct {
	MessageID string  `gorm:"primaryKey" json:"message_id"`
	ChannelID string  `gorm:"index;index:idx_messages_channel_created,priority:1" json:"channel_id"`
	GuildID   *string `gorm:"index" json:"guild_id"`

	Content     string      `json:"content"`
	MessageType MessageType `gorm:"index" json:"message_type"`

	AuthorID            string  `gorm:"index" json:"author_id"`
	AuthorUsername      string  `json:"author_username"`
	AuthorDisplayName   *string `json:"author_display_name"`
	AuthorDiscriminator *string `json:"author_discriminator"`
	AuthorAvatarURL     *string `json:"author_avatar_url"`
	AuthorIsBot         bool    `json:"author_is_bot"`
	AuthorIsSystem      bool    `json:"author_is_system"`

	CreatedAt       time.Time  `gorm:"index;index:idx_messages_channel_created,priority:2" json:"created_at"`
	EditedAt        *time.Time `json:"edited_at"`
	Pinned          bool       `json:"pinned"`
	MentionEveryone bool       `json:"mention_everyone"`
	TTS             bool       `json:"tts"`

	Attachments     JSONList   `gorm:"type:json" json:"attachments"`
	Embeds          JSONList   `gorm:"type:json" json:"embeds"`
	Mentions        StringList `gorm:"type:json" json:"mentions"`
	MentionRoles    StringList `gorm:"type:json" json:"mention_roles"`
	MentionChannels StringList `gorm:"type:json" json:"mention_channels"`

	ThreadID           *string `json:"thread_id"`
	ReferenceMessageID *string `json:"reference_message_id"`
	InteractionType    *string `json:"interaction_type"`
	WebhookID          *string `json:"webhook_id"`

	LoggedAt     time.Time `json:"logged_at"`
	IsBackfilled bool      `json:"is_backfilled"`
}

func (Message) TableName() string { return "discord_messages" }

// Action is one logged Discord event. Actions carry a generated UUID rather
// than a natural key because several event kinds have none.
type Action struct {
	ActionID   string     `gorm:"primaryKey" json:"action_id"`
	ActionType ActionType `gorm:"index" json:"action_type"`
	GuildID    *string    `gorm:"index" json:"guild_id"`
	ChannelID  *string    `gorm:"index" json:"channel_id"`

	UserID      *string `gorm:"index" json:"user_id"`
	Username    *string `json:"username"`
	DisplayName *string `json:"display_name"`

	TargetID   *string `json:"target_id"`
	TargetType *string `json:"target_type"`
	TargetName *string `json:"target_name"`

	ActionData JSONMap `gorm:"type:json" json:"action_data"`
	BeforeData JSONMap `gorm:"type:json" json:"before_data"`
	AfterData  JSONMap `gorm:"type:json" json:"after_data"`

	OccurredAt   time.Time `gorm:"index" json:"occurred_at"`
	LoggedAt     time.Time `json:"logged_at"`
	IsBackfilled bool      `json:"is_backfilled"`
}

func (Action) TableName() string { return "discord_actions" }

// Guild is the latest known descriptive state of a guild. Each write
// overwrites the prior row; no history is kept.
type Guild struct {
	GuildID     string    `gorm:"primaryKey" json:"guild_id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	OwnerID     string    `json:"owner_id"`
	MemberCount int       `json:"member_count"`
	CreatedAt   time.Time `json:"created_at"`
	IconURL     *string   `json:"icon_url"`
	BannerURL   *string   `json:"banner_url"`

	FirstSeen   time.Time `json:"first_seen"`
	LastUpdated time.Time `json:"last_updated"`
}

func (Guild) TableName() string { return "discord_guilds" }

// Channel is the latest known descriptive state of a channel.
type Channel struct {
	ChannelID   string  `gorm:"primaryKey" json:"channel_id"`
	GuildID     *string `gorm:"index" json:"guild_id"`
	Name        string  `json:"name"`
	ChannelType string  `json:"channel_type"`
	Topic       *string `json:"topic"`
	Position    *int    `json:"position"`
	CategoryID  *string `json:"category_id"`

	FirstSeen   time.Time `json:"first_seen"`
	LastUpdated time.Time `json:"last_updated"`
}

func (Channel) TableName() string { return "discord_channels" }

// Checkpoint is a persisted progress marker. One live row exists per
// (checkpoint_type, guild_id, channel_id); updates patch only supplied
// fields. Checkpoints are never deleted.
type Checkpoint struct {
	CheckpointID   string  `gorm:"primaryKey" json:"checkpoint_id"`
	CheckpointType string  `gorm:"index:idx_checkpoint_scope,unique,priority:1" json:"checkpoint_type"`
	GuildID        *string `gorm:"index:idx_checkpoint_scope,unique,priority:2" json:"guild_id"`
	ChannelID      *string `gorm:"index:idx_checkpoint_scope,unique,priority:3" json:"channel_id"`

	LastProcessedID        *string    `json:"last_processed_id"`
	LastProcessedTimestamp *time.Time `json:"last_processed_timestamp"`

	TotalProcessed        int64      `json:"total_processed"`
	LastBackfillCompleted *time.Time `json:"last_backfill_completed"`
	BackfillInProgress    bool       `json:"backfill_in_progress"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Checkpoint) TableName() string { return "discord_checkpoints" }

// CheckpointID builds the deterministic primary key for a checkpoint scope.
func CheckpointID(checkpointType string, guildID, channelID *string) string {
	g := "global"
	if guildID != nil && *guildID != "" {
		g = *guildID
	}
	c := "all"
	if channelID != nil && *channelID != "" {
		c = *channelID
	}
	return fmt.Sprintf("%s_%s_%s", checkpointType, g, c)
}

// Checkpoint types used by the processing and backfill paths.
const (
	CheckpointTypeMessage  = "message"
	CheckpointTypeBackfill = "backfill"
)
