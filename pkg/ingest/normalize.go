package ingest

import (
	"fmt"
	"time"

	"github.com/araddon/dateparse"
	"github.com/bwmarrin/discordgo"

	"github.com/moonyandfriends/badbot-discord-logger/pkg/models"
)

// messageTypeOf maps the Discord wire enum onto the stored message type.
// Anything unrecognized falls back to MessageTypeDefault rather than failing.
func messageTypeOf(t discordgo.MessageType) models.MessageType {
	switch t {
	case discordgo.MessageTypeDefault:
		return models.MessageTypeDefault
	case discordgo.MessageTypeRecipientAdd:
		return models.MessageTypeRecipientAdd
	case discordgo.MessageTypeRecipientRemove:
		return models.MessageTypeRecipientRemove
	case discordgo.MessageTypeCall:
		return models.MessageTypeCall
	case discordgo.MessageTypeChannelNameChange:
		return models.MessageTypeChannelNameChange
	case discordgo.MessageTypeChannelIconChange:
		return models.MessageTypeChannelIconChange
	case discordgo.MessageTypeChannelPinnedMessage:
		return models.MessageTypePinsAdd
	case discordgo.MessageTypeGuildMemberJoin:
		return models.MessageTypeNewMember
	case discordgo.MessageTypeUserPremiumGuildSubscription:
		return models.MessageTypeGuildBoost
	case discordgo.MessageTypeUserPremiumGuildSubscriptionTierOne:
		return models.MessageTypeGuildBoostTier1
	case discordgo.MessageTypeUserPremiumGuildSubscriptionTierTwo:
		return models.MessageTypeGuildBoostTier2
	case discordgo.MessageTypeUserPremiumGuildSubscriptionTierThree:
		return models.MessageTypeGuildBoostTier3
	case discordgo.MessageTypeChannelFollowAdd:
		return models.MessageTypeChannelFollowAdd
	case discordgo.MessageTypeThreadCreated:
		return models.MessageTypeThreadCreated
	case discordgo.MessageTypeReply:
		return models.MessageTypeReply
	case discordgo.MessageTypeChatInputCommand:
		return models.MessageTypeChatInputCommand
	case discordgo.MessageTypeThreadStarterMessage:
		return models.MessageTypeThreadStarterMessage
	case discordgo.MessageTypeContextMenuCommand:
		return models.MessageTypeContextMenuCommand
	default:
		return models.MessageTypeDefault
	}
}

// ConvertMessage normalizes a raw gateway message into the stored model.
// Conversion is pure; a malformed attachment or embed is dropped with a
// warning rather than failing the whole message.
func (i *Ingester) ConvertMessage(m *discordgo.Message, backfilled bool) (*models.Message, error) {
	if m == nil {
		return nil, fmt.Errorf("nil message")
	}
	if m.Author == nil {
		return nil, fmt.Errorf("message %s has no author", m.ID)
	}

	msg := &models.Message{
		MessageID:       m.ID,
		ChannelID:       m.ChannelID,
		GuildID:         optional(m.GuildID),
		Content:         m.Content,
		MessageType:     messageTypeOf(m.Type),
		AuthorID:        m.Author.ID,
		AuthorUsername:  m.Author.Username,
		AuthorIsBot:     m.Author.Bot,
		AuthorIsSystem:  m.Author.System,
		CreatedAt:       m.Timestamp.UTC(),
		EditedAt:        m.EditedTimestamp,
		Pinned:          m.Pinned,
		MentionEveryone: m.MentionEveryone,
		TTS:             m.TTS,
		WebhookID:       optional(m.WebhookID),
		LoggedAt:        time.Now().UTC(),
		IsBackfilled:    backfilled,
	}

	if m.Member != nil && m.Member.Nick != "" {
		msg.AuthorDisplayName = optional(m.Member.Nick)
	} else if m.Author.GlobalName != "" {
		msg.AuthorDisplayName = optional(m.Author.GlobalName)
	}
	msg.AuthorDiscriminator = optional(m.Author.Discriminator)
	msg.AuthorAvatarURL = optional(m.Author.AvatarURL(""))

	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		msg.Attachments = append(msg.Attachments, map[string]any{
			"attachment_id": a.ID,
			"filename":      a.Filename,
			"content_type":  a.ContentType,
			"size":          a.Size,
			"url":           a.URL,
			"proxy_url":     a.ProxyURL,
			"height":        a.Height,
			"width":         a.Width,
		})
	}

	for _, e := range m.Embeds {
		converted, err := convertEmbed(e)
		if err != nil {
			i.logger.Warn("skipping malformed embed", "message_id", m.ID, "err", err)
			continue
		}
		msg.Embeds = append(msg.Embeds, converted)
	}

	for _, u := range m.Mentions {
		if u != nil {
			msg.Mentions = append(msg.Mentions, u.ID)
		}
	}
	msg.MentionRoles = append(msg.MentionRoles, m.MentionRoles...)
	for _, c := range m.MentionChannels {
		if c != nil {
			msg.MentionChannels = append(msg.MentionChannels, c.ID)
		}
	}

	if m.Thread != nil {
		msg.ThreadID = optional(m.Thread.ID)
	}
	if m.MessageReference != nil {
		msg.ReferenceMessageID = optional(m.MessageReference.MessageID)
	}
	if m.Interaction != nil {
		msg.InteractionType = optional(m.Interaction.Type.String())
	}

	return msg, nil
}

func convertEmbed(e *discordgo.MessageEmbed) (map[string]any, error) {
	if e == nil {
		return nil, fmt.Errorf("nil embed")
	}

	embed := map[string]any{
		"title":       e.Title,
		"description": e.Description,
		"url":         e.URL,
		"color":       e.Color,
	}

	if e.Timestamp != "" {
		t, err := dateparse.ParseAny(e.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("bad embed timestamp %q: %w", e.Timestamp, err)
		}
		embed["timestamp"] = t.UTC().Format(time.RFC3339)
	}

	if e.Footer != nil {
		embed["footer"] = map[string]any{"text": e.Footer.Text, "icon_url": e.Footer.IconURL}
	}
	if e.Image != nil {
		embed["image"] = map[string]any{"url": e.Image.URL, "width": e.Image.Width, "height": e.Image.Height}
	}
	if e.Thumbnail != nil {
		embed["thumbnail"] = map[string]any{"url": e.Thumbnail.URL, "width": e.Thumbnail.Width, "height": e.Thumbnail.Height}
	}
	if e.Video != nil {
		embed["video"] = map[string]any{"url": e.Video.URL, "width": e.Video.Width, "height": e.Video.Height}
	}
	if e.Provider != nil {
		embed["provider"] = map[string]any{"name": e.Provider.Name, "url": e.Provider.URL}
	}
	if e.Author != nil {
		embed["author"] = map[string]any{"name": e.Author.Name, "url": e.Author.URL, "icon_url": e.Author.IconURL}
	}

	if len(e.Fields) > 0 {
		fields := make([]any, 0, len(e.Fields))
		for _, f := range e.Fields {
			if f == nil {
				continue
			}
			fields = append(fields, map[string]any{"name": f.Name, "value": f.Value, "inline": f.Inline})
		}
		embed["fields"] = fields
	}

	return embed, nil
}

// ConvertGuild normalizes a gateway guild into the stored snapshot.
func ConvertGuild(g *discordgo.Guild) (*models.Guild, error) {
	if g == nil || g.ID == "" {
		return nil, fmt.Errorf("nil or id-less guild")
	}

	createdAt, err := discordgo.SnowflakeTimestamp(g.ID)
	if err != nil {
		createdAt = time.Time{}
	}

	guild := &models.Guild{
		GuildID:     g.ID,
		Name:        g.Name,
		Description: optional(g.Description),
		OwnerID:     g.OwnerID,
		MemberCount: g.MemberCount,
		CreatedAt:   createdAt.UTC(),
	}
	if g.Icon != "" {
		guild.IconURL = optional(g.IconURL(""))
	}
	if g.Banner != "" {
		guild.BannerURL = optional(g.BannerURL(""))
	}
	return guild, nil
}

// ConvertChannel normalizes a gateway channel into the stored snapshot.
func ConvertChannel(c *discordgo.Channel) (*models.Channel, error) {
	if c == nil || c.ID == "" {
		return nil, fmt.Errorf("nil or id-less channel")
	}

	pos := c.Position
	return &models.Channel{
		ChannelID:   c.ID,
		GuildID:     optional(c.GuildID),
		Name:        c.Name,
		ChannelType: channelTypeName(c.Type),
		Topic:       optional(c.Topic),
		Position:    &pos,
		CategoryID:  optional(c.ParentID),
	}, nil
}

func channelTypeName(t discordgo.ChannelType) string {
	switch t {
	case discordgo.ChannelTypeGuildText:
		return "text"
	case discordgo.ChannelTypeDM:
		return "dm"
	case discordgo.ChannelTypeGuildVoice:
		return "voice"
	case discordgo.ChannelTypeGroupDM:
		return "group_dm"
	case discordgo.ChannelTypeGuildCategory:
		return "category"
	case discordgo.ChannelTypeGuildNews:
		return "news"
	case discordgo.ChannelTypeGuildStore:
		return "store"
	case discordgo.ChannelTypeGuildNewsThread:
		return "news_thread"
	case discordgo.ChannelTypeGuildPublicThread:
		return "public_thread"
	case discordgo.ChannelTypeGuildPrivateThread:
		return "private_thread"
	case discordgo.ChannelTypeGuildStageVoice:
		return "stage_voice"
	case discordgo.ChannelTypeGuildForum:
		return "forum"
	default:
		return fmt.Sprintf("unknown_%d", t)
	}
}

// optional maps an empty string to a nil column value.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
