package ingest

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"github.com/moonyandfriends/badbot-discord-logger/pkg/models"
)

// Register attaches all gateway event handlers to the session. The context
// is captured for the lifetime of the session and bounds the store calls
// the handlers make.
func (i *Ingester) Register(ctx context.Context, s *discordgo.Session) {
	s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		ids := make([]string, 0, len(r.Guilds))
		for _, g := range r.Guilds {
			if g != nil {
				ids = append(ids, g.ID)
			}
		}
		i.markStartupGuilds(ids)
		i.logger.Info("gateway session ready",
			"username", r.User.Username, "guilds", len(ids))
	})

	s.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageCreate) {
		i.guarded(ctx, "message_create", func(ctx context.Context) { i.onMessageCreate(ctx, e) })
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageUpdate) {
		i.guarded(ctx, "message_update", func(ctx context.Context) { i.onMessageUpdate(ctx, e) })
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageDelete) {
		i.guarded(ctx, "message_delete", func(ctx context.Context) { i.onMessageDelete(ctx, e) })
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageDeleteBulk) {
		i.guarded(ctx, "message_bulk_delete", func(ctx context.Context) { i.onMessageDeleteBulk(ctx, e) })
	})

	s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildMemberAdd) {
		i.guarded(ctx, "member_join", func(ctx context.Context) { i.onMemberAdd(ctx, e) })
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildMemberRemove) {
		i.guarded(ctx, "member_leave", func(ctx context.Context) { i.onMemberRemove(ctx, e) })
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildMemberUpdate) {
		i.guarded(ctx, "member_update", func(ctx context.Context) { i.onMemberUpdate(ctx, e) })
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildBanAdd) {
		i.guarded(ctx, "member_ban", func(ctx context.Context) { i.onBanAdd(ctx, e) })
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildBanRemove) {
		i.guarded(ctx, "member_unban", func(ctx context.Context) { i.onBanRemove(ctx, e) })
	})

	s.AddHandler(func(_ *discordgo.Session, e *discordgo.ChannelCreate) {
		i.guarded(ctx, "channel_create", func(ctx context.Context) { i.onChannelCreate(ctx, e) })
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.ChannelUpdate) {
		i.guarded(ctx, "channel_update", func(ctx context.Context) { i.onChannelUpdate(ctx, e) })
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.ChannelDelete) {
		i.guarded(ctx, "channel_delete", func(ctx context.Context) { i.onChannelDelete(ctx, e) })
	})

	s.AddHandler(func(_ *discordgo.Session, e *discordgo.ThreadCreate) {
		i.guarded(ctx, "thread_create", func(ctx context.Context) { i.onThreadCreate(ctx, e) })
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.ThreadUpdate) {
		i.guarded(ctx, "thread_update", func(ctx context.Context) { i.onThreadUpdate(ctx, e) })
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.ThreadDelete) {
		i.guarded(ctx, "thread_delete", func(ctx context.Context) { i.onThreadDelete(ctx, e) })
	})

	s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildRoleCreate) {
		i.guarded(ctx, "role_create", func(ctx context.Context) { i.onRoleCreate(ctx, e) })
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildRoleUpdate) {
		i.guarded(ctx, "role_update", func(ctx context.Context) { i.onRoleUpdate(ctx, e) })
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildRoleDelete) {
		i.guarded(ctx, "role_delete", func(ctx context.Context) { i.onRoleDelete(ctx, e) })
	})

	s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildCreate) {
		i.guarded(ctx, "guild_create", func(ctx context.Context) { i.onGuildCreate(ctx, e) })
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildUpdate) {
		i.guarded(ctx, "guild_update", func(ctx context.Context) { i.onGuildUpdate(ctx, e) })
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildDelete) {
		i.guarded(ctx, "guild_delete", func(ctx context.Context) { i.onGuildDelete(ctx, e) })
	})

	s.AddHandler(func(_ *discordgo.Session, e *discordgo.VoiceStateUpdate) {
		i.guarded(ctx, "voice_state_update", func(ctx context.Context) { i.onVoiceStateUpdate(ctx, e) })
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.InviteCreate) {
		i.guarded(ctx, "invite_create", func(ctx context.Context) { i.onInviteCreate(ctx, e) })
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.InviteDelete) {
		i.guarded(ctx, "invite_delete", func(ctx context.Context) { i.onInviteDelete(ctx, e) })
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildEmojisUpdate) {
		i.guarded(ctx, "emoji_update", func(ctx context.Context) { i.onEmojisUpdate(ctx, e) })
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.WebhooksUpdate) {
		i.guarded(ctx, "webhook_update", func(ctx context.Context) { i.onWebhooksUpdate(ctx, e) })
	})
}

// guarded runs one handler body with panic recovery. A panicking handler
// must never take down the gateway read loop.
func (i *Ingester) guarded(ctx context.Context, event string, fn func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			handlerErrors.WithLabelValues(event).Inc()
			i.logger.Error("recovered panic in event handler", "event", event, "panic", r)
		}
	}()
	eventsReceived.WithLabelValues(event).Inc()
	fn(ctx)
}

// inScope applies the guild/channel inclusion policy for action events.
// An empty guild id means a DM-scope event and follows the DM setting.
func (i *Ingester) inScope(event, guildID, channelID string) bool {
	ok := true
	switch {
	case guildID == "":
		ok = i.cfg.ProcessDMMessages
	case !i.cfg.ShouldProcessGuild(guildID):
		ok = false
	case channelID != "" && !i.cfg.ShouldProcessChannel(channelID):
		ok = false
	}
	if !ok {
		eventsFiltered.WithLabelValues(event).Inc()
	}
	return ok
}

// newAction builds an action skeleton with a fresh id and timestamps.
func newAction(t models.ActionType, guildID, channelID string) *models.Action {
	now := time.Now().UTC()
	return &models.Action{
		ActionID:   uuid.New().String(),
		ActionType: t,
		GuildID:    optional(guildID),
		ChannelID:  optional(channelID),
		OccurredAt: now,
		LoggedAt:   now,
	}
}

func (i *Ingester) onMessageCreate(ctx context.Context, e *discordgo.MessageCreate) {
	if !i.ShouldProcessMessage(e.Message) {
		eventsFiltered.WithLabelValues("message_create").Inc()
		return
	}
	if i.Seen(e.ID) {
		return
	}
	msg, err := i.ConvertMessage(e.Message, false)
	if err != nil {
		handlerErrors.WithLabelValues("message_create").Inc()
		i.logger.Warn("failed to convert message", "message_id", e.ID, "err", err)
		return
	}
	i.MarkSeen(e.ID)
	i.EnqueueMessage(ctx, msg)
}

func (i *Ingester) onMessageUpdate(ctx context.Context, e *discordgo.MessageUpdate) {
	if e.Message == nil || e.Author == nil {
		// Partial edit payloads (embed unfurls etc.) carry no author.
		return
	}
	if !i.ShouldProcessMessage(e.Message) {
		eventsFiltered.WithLabelValues("message_update").Inc()
		return
	}

	// Re-store the message so the row reflects the edited content.
	if msg, err := i.ConvertMessage(e.Message, false); err == nil {
		i.EnqueueMessage(ctx, msg)
	} else {
		i.logger.Warn("failed to convert edited message", "message_id", e.ID, "err", err)
	}

	action := newAction(models.ActionMessageEdit, e.GuildID, e.ChannelID)
	action.UserID = optional(e.Author.ID)
	action.Username = optional(e.Author.Username)
	action.TargetID = optional(e.ID)
	action.TargetType = optional("message")
	action.AfterData = models.JSONMap{"content": e.Content}
	if e.EditedTimestamp != nil {
		action.OccurredAt = e.EditedTimestamp.UTC()
	}
	if e.BeforeUpdate != nil {
		action.BeforeData = models.JSONMap{"content": e.BeforeUpdate.Content}
	}
	i.EnqueueAction(ctx, action)
}

func (i *Ingester) onMessageDelete(ctx context.Context, e *discordgo.MessageDelete) {
	if !i.inScope("message_delete", e.GuildID, e.ChannelID) {
		return
	}
	action := newAction(models.ActionMessageDelete, e.GuildID, e.ChannelID)
	action.TargetID = optional(e.ID)
	action.TargetType = optional("message")
	if e.BeforeDelete != nil && e.BeforeDelete.Author != nil {
		action.UserID = optional(e.BeforeDelete.Author.ID)
		action.Username = optional(e.BeforeDelete.Author.Username)
		action.BeforeData = models.JSONMap{"content": e.BeforeDelete.Content}
	}
	i.EnqueueAction(ctx, action)
}

func (i *Ingester) onMessageDeleteBulk(ctx context.Context, e *discordgo.MessageDeleteBulk) {
	if !i.inScope("message_bulk_delete", e.GuildID, e.ChannelID) {
		return
	}
	action := newAction(models.ActionMessageBulkDelete, e.GuildID, e.ChannelID)
	action.TargetType = optional("message")
	ids := make([]any, 0, len(e.Messages))
	for _, id := range e.Messages {
		ids = append(ids, id)
	}
	action.ActionData = models.JSONMap{"message_ids": ids, "count": len(e.Messages)}
	i.EnqueueAction(ctx, action)
}

func memberData(m *discordgo.Member) models.JSONMap {
	if m == nil {
		return nil
	}
	data := models.JSONMap{"roles": rolesAny(m.Roles)}
	if m.Nick != "" {
		data["nick"] = m.Nick
	}
	if !m.JoinedAt.IsZero() {
		data["joined_at"] = m.JoinedAt.UTC().Format(time.RFC3339)
	}
	return data
}

func rolesAny(roles []string) []any {
	out := make([]any, 0, len(roles))
	for _, r := range roles {
		out = append(out, r)
	}
	return out
}

func (i *Ingester) onMemberAdd(ctx context.Context, e *discordgo.GuildMemberAdd) {
	if e.User == nil || !i.inScope("member_join", e.GuildID, "") {
		return
	}
	action := newAction(models.ActionMemberJoin, e.GuildID, "")
	action.UserID = optional(e.User.ID)
	action.Username = optional(e.User.Username)
	action.DisplayName = optional(e.User.GlobalName)
	action.ActionData = memberData(e.Member)
	if !e.JoinedAt.IsZero() {
		action.OccurredAt = e.JoinedAt.UTC()
	}
	i.EnqueueAction(ctx, action)
}

func (i *Ingester) onMemberRemove(ctx context.Context, e *discordgo.GuildMemberRemove) {
	if e.User == nil || !i.inScope("member_leave", e.GuildID, "") {
		return
	}
	action := newAction(models.ActionMemberLeave, e.GuildID, "")
	action.UserID = optional(e.User.ID)
	action.Username = optional(e.User.Username)
	action.DisplayName = optional(e.User.GlobalName)
	i.EnqueueAction(ctx, action)
}

func (i *Ingester) onMemberUpdate(ctx context.Context, e *discordgo.GuildMemberUpdate) {
	if e.User == nil || !i.inScope("member_update", e.GuildID, "") {
		return
	}
	action := newAction(models.ActionMemberUpdate, e.GuildID, "")
	action.UserID = optional(e.User.ID)
	action.Username = optional(e.User.Username)
	action.DisplayName = optional(e.User.GlobalName)
	action.AfterData = memberData(e.Member)
	if e.BeforeUpdate != nil {
		action.BeforeData = memberData(e.BeforeUpdate)
	}
	i.EnqueueAction(ctx, action)
}

func (i *Ingester) onBanAdd(ctx context.Context, e *discordgo.GuildBanAdd) {
	if e.User == nil || !i.inScope("member_ban", e.GuildID, "") {
		return
	}
	action := newAction(models.ActionMemberBan, e.GuildID, "")
	action.TargetID = optional(e.User.ID)
	action.TargetType = optional("user")
	action.TargetName = optional(e.User.Username)
	i.EnqueueAction(ctx, action)
}

func (i *Ingester) onBanRemove(ctx context.Context, e *discordgo.GuildBanRemove) {
	if e.User == nil || !i.inScope("member_unban", e.GuildID, "") {
		return
	}
	action := newAction(models.ActionMemberUnban, e.GuildID, "")
	action.TargetID = optional(e.User.ID)
	action.TargetType = optional("user")
	action.TargetName = optional(e.User.Username)
	i.EnqueueAction(ctx, action)
}

func channelData(c *discordgo.Channel) models.JSONMap {
	if c == nil {
		return nil
	}
	return models.JSONMap{
		"name":     c.Name,
		"type":     channelTypeName(c.Type),
		"topic":    c.Topic,
		"position": c.Position,
	}
}

// storeChannelSnapshot refreshes the channel row alongside the action log.
func (i *Ingester) storeChannelSnapshot(ctx context.Context, c *discordgo.Channel, event string) {
	snap, err := ConvertChannel(c)
	if err != nil {
		return
	}
	if err := i.store.StoreChannel(ctx, snap); err != nil {
		i.logger.Warn("failed to store channel snapshot",
			"channel_id", snap.ChannelID, "event", event, "err", err)
	}
}

func (i *Ingester) onChannelCreate(ctx context.Context, e *discordgo.ChannelCreate) {
	if e.Channel == nil || !i.inScope("channel_create", e.GuildID, e.ID) {
		return
	}
	i.storeChannelSnapshot(ctx, e.Channel, "channel_create")
	action := newAction(models.ActionChannelCreate, e.GuildID, e.ID)
	action.TargetID = optional(e.ID)
	action.TargetType = optional("channel")
	action.TargetName = optional(e.Name)
	action.ActionData = channelData(e.Channel)
	i.EnqueueAction(ctx, action)
}

func (i *Ingester) onChannelUpdate(ctx context.Context, e *discordgo.ChannelUpdate) {
	if e.Channel == nil || !i.inScope("channel_update", e.GuildID, e.ID) {
		return
	}
	i.storeChannelSnapshot(ctx, e.Channel, "channel_update")
	action := newAction(models.ActionChannelUpdate, e.GuildID, e.ID)
	action.TargetID = optional(e.ID)
	action.TargetType = optional("channel")
	action.TargetName = optional(e.Name)
	action.AfterData = channelData(e.Channel)
	i.EnqueueAction(ctx, action)
}

func (i *Ingester) onChannelDelete(ctx context.Context, e *discordgo.ChannelDelete) {
	if e.Channel == nil || !i.inScope("channel_delete", e.GuildID, e.ID) {
		return
	}
	action := newAction(models.ActionChannelDelete, e.GuildID, e.ID)
	action.TargetID = optional(e.ID)
	action.TargetType = optional("channel")
	action.TargetName = optional(e.Name)
	action.BeforeData = channelData(e.Channel)
	i.EnqueueAction(ctx, action)
}

func (i *Ingester) onThreadCreate(ctx context.Context, e *discordgo.ThreadCreate) {
	if e.Channel == nil || !i.inScope("thread_create", e.GuildID, e.ID) {
		return
	}
	action := newAction(models.ActionThreadCreate, e.GuildID, e.ID)
	action.TargetID = optional(e.ID)
	action.TargetType = optional("thread")
	action.TargetName = optional(e.Name)
	action.ActionData = models.JSONMap{"parent_id": e.ParentID, "newly_created": e.NewlyCreated}
	i.EnqueueAction(ctx, action)
}

func (i *Ingester) onThreadUpdate(ctx context.Context, e *discordgo.ThreadUpdate) {
	if e.Channel == nil || !i.inScope("thread_update", e.GuildID, e.ID) {
		return
	}
	action := newAction(models.ActionThreadUpdate, e.GuildID, e.ID)
	action.TargetID = optional(e.ID)
	action.TargetType = optional("thread")
	action.TargetName = optional(e.Name)
	action.AfterData = channelData(e.Channel)
	if e.BeforeUpdate != nil {
		action.BeforeData = channelData(e.BeforeUpdate)
	}
	i.EnqueueAction(ctx, action)
}

func (i *Ingester) onThreadDelete(ctx context.Context, e *discordgo.ThreadDelete) {
	if e.Channel == nil || !i.inScope("thread_delete", e.GuildID, e.ID) {
		return
	}
	action := newAction(models.ActionThreadDelete, e.GuildID, e.ID)
	action.TargetID = optional(e.ID)
	action.TargetType = optional("thread")
	action.TargetName = optional(e.Name)
	i.EnqueueAction(ctx, action)
}

func roleData(r *discordgo.Role) models.JSONMap {
	if r == nil {
		return nil
	}
	return models.JSONMap{
		"name":        r.Name,
		"color":       r.Color,
		"hoist":       r.Hoist,
		"position":    r.Position,
		"permissions": r.Permissions,
		"mentionable": r.Mentionable,
	}
}

func (i *Ingester) onRoleCreate(ctx context.Context, e *discordgo.GuildRoleCreate) {
	if e.Role == nil || !i.inScope("role_create", e.GuildID, "") {
		return
	}
	action := newAction(models.ActionRoleCreate, e.GuildID, "")
	action.TargetID = optional(e.Role.ID)
	action.TargetType = optional("role")
	action.TargetName = optional(e.Role.Name)
	action.ActionData = roleData(e.Role)
	i.EnqueueAction(ctx, action)
}

func (i *Ingester) onRoleUpdate(ctx context.Context, e *discordgo.GuildRoleUpdate) {
	if e.Role == nil || !i.inScope("role_update", e.GuildID, "") {
		return
	}
	action := newAction(models.ActionRoleUpdate, e.GuildID, "")
	action.TargetID = optional(e.Role.ID)
	action.TargetType = optional("role")
	action.TargetName = optional(e.Role.Name)
	action.AfterData = roleData(e.Role)
	i.EnqueueAction(ctx, action)
}

func (i *Ingester) onRoleDelete(ctx context.Context, e *discordgo.GuildRoleDelete) {
	if !i.inScope("role_delete", e.GuildID, "") {
		return
	}
	action := newAction(models.ActionRoleDelete, e.GuildID, "")
	action.TargetID = optional(e.RoleID)
	action.TargetType = optional("role")
	i.EnqueueAction(ctx, action)
}

// onGuildCreate fires for every guild on connect and whenever the bot joins
// a new guild. It refreshes the guild and channel snapshots and kicks off a
// backfill walk for the guild.
func (i *Ingester) onGuildCreate(ctx context.Context, e *discordgo.GuildCreate) {
	if e.Guild == nil || !i.cfg.ShouldProcessGuild(e.ID) {
		eventsFiltered.WithLabelValues("guild_create").Inc()
		return
	}

	if snap, err := ConvertGuild(e.Guild); err == nil {
		if err := i.store.StoreGuild(ctx, snap); err != nil {
			i.logger.Warn("failed to store guild snapshot", "guild_id", e.ID, "err", err)
		}
	}
	for _, c := range e.Channels {
		i.storeChannelSnapshot(ctx, c, "guild_create")
	}

	i.logger.Info("guild available", "guild_id", e.ID, "name", e.Name,
		"channels", len(e.Channels), "members", e.MemberCount)

	// Guilds present at connect only get a walk when the startup sweep is
	// on; newly joined guilds always do.
	if i.backfill != nil && i.cfg.BackfillEnabled {
		if i.cfg.BackfillOnStartup || !i.isStartupGuild(e.ID) {
			i.backfill.StartGuild(e.ID)
		}
	}
}

func (i *Ingester) onGuildUpdate(ctx context.Context, e *discordgo.GuildUpdate) {
	if e.Guild == nil || !i.inScope("guild_update", e.ID, "") {
		return
	}
	if snap, err := ConvertGuild(e.Guild); err == nil {
		if err := i.store.StoreGuild(ctx, snap); err != nil {
			i.logger.Warn("failed to store guild snapshot", "guild_id", e.ID, "err", err)
		}
	}
	action := newAction(models.ActionGuildUpdate, e.ID, "")
	action.TargetID = optional(e.ID)
	action.TargetType = optional("guild")
	action.TargetName = optional(e.Name)
	action.AfterData = models.JSONMap{"name": e.Name, "owner_id": e.OwnerID}
	i.EnqueueAction(ctx, action)
}

func (i *Ingester) onGuildDelete(ctx context.Context, e *discordgo.GuildDelete) {
	if e.Guild == nil {
		return
	}
	// Unavailable means an outage, not a removal; the guild will come back.
	if e.Unavailable {
		i.logger.Warn("guild unavailable", "guild_id", e.ID)
		return
	}
	i.logger.Info("removed from guild", "guild_id", e.ID)
	if i.backfill != nil {
		i.backfill.CancelGuild(e.ID)
	}
}

func (i *Ingester) onVoiceStateUpdate(ctx context.Context, e *discordgo.VoiceStateUpdate) {
	if e.VoiceState == nil || !i.inScope("voice_state_update", e.GuildID, "") {
		return
	}
	action := newAction(models.ActionVoiceStateUpdate, e.GuildID, e.ChannelID)
	action.UserID = optional(e.UserID)
	action.AfterData = models.JSONMap{
		"channel_id":  e.ChannelID,
		"deaf":        e.Deaf,
		"mute":        e.Mute,
		"self_deaf":   e.SelfDeaf,
		"self_mute":   e.SelfMute,
		"self_stream": e.SelfStream,
		"self_video":  e.SelfVideo,
	}
	if e.BeforeUpdate != nil {
		action.BeforeData = models.JSONMap{
			"channel_id": e.BeforeUpdate.ChannelID,
			"deaf":       e.BeforeUpdate.Deaf,
			"mute":       e.BeforeUpdate.Mute,
			"self_deaf":  e.BeforeUpdate.SelfDeaf,
			"self_mute":  e.BeforeUpdate.SelfMute,
		}
	}
	i.EnqueueAction(ctx, action)
}

func (i *Ingester) onInviteCreate(ctx context.Context, e *discordgo.InviteCreate) {
	if !i.inScope("invite_create", e.GuildID, e.ChannelID) {
		return
	}
	action := newAction(models.ActionInviteCreate, e.GuildID, e.ChannelID)
	action.TargetID = optional(e.Code)
	action.TargetType = optional("invite")
	action.ActionData = models.JSONMap{
		"code":      e.Code,
		"max_age":   e.MaxAge,
		"max_uses":  e.MaxUses,
		"temporary": e.Temporary,
	}
	if e.Inviter != nil {
		action.UserID = optional(e.Inviter.ID)
		action.Username = optional(e.Inviter.Username)
	}
	i.EnqueueAction(ctx, action)
}

func (i *Ingester) onInviteDelete(ctx context.Context, e *discordgo.InviteDelete) {
	if !i.inScope("invite_delete", e.GuildID, e.ChannelID) {
		return
	}
	action := newAction(models.ActionInviteDelete, e.GuildID, e.ChannelID)
	action.TargetID = optional(e.Code)
	action.TargetType = optional("invite")
	i.EnqueueAction(ctx, action)
}

func (i *Ingester) onEmojisUpdate(ctx context.Context, e *discordgo.GuildEmojisUpdate) {
	if !i.inScope("emoji_update", e.GuildID, "") {
		return
	}
	emojis := make([]any, 0, len(e.Emojis))
	for _, em := range e.Emojis {
		if em != nil {
			emojis = append(emojis, map[string]any{"emoji_id": em.ID, "name": em.Name, "animated": em.Animated})
		}
	}
	action := newAction(models.ActionEmojiUpdate, e.GuildID, "")
	action.TargetType = optional("emoji")
	action.ActionData = models.JSONMap{"emojis": emojis, "count": len(emojis)}
	i.EnqueueAction(ctx, action)
}

// onWebhooksUpdate only says that some webhook in a channel changed; the
// payload carries no webhook id or kind, so the action records the channel.
func (i *Ingester) onWebhooksUpdate(ctx context.Context, e *discordgo.WebhooksUpdate) {
	if !i.inScope("webhook_update", e.GuildID, e.ChannelID) {
		return
	}
	action := newAction(models.ActionWebhookUpdate, e.GuildID, e.ChannelID)
	action.TargetType = optional("webhook")
	i.EnqueueAction(ctx, action)
}
