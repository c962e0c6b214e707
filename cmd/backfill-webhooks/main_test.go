package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/moonyandfriends/badbot-discord-logger/pkg/models"
)

func TestWebhookActionRedactsSecrets(t *testing.T) {
	hook := &discordgo.Webhook{
		ID:        "175928847299117063",
		Type:      discordgo.WebhookTypeIncoming,
		GuildID:   "g1",
		ChannelID: "c1",
		Name:      "announcements",
		Token:     "supersecrettoken",
		User:      &discordgo.User{ID: "u1", Username: "alice"},
	}

	action := webhookAction("g1", hook)

	if action.ActionType != models.ActionWebhookCreate {
		t.Errorf("action_type = %q", action.ActionType)
	}
	if !action.IsBackfilled {
		t.Error("migrated rows must be flagged as backfilled")
	}
	if got := action.ActionData["webhook_token"]; got != redacted {
		t.Errorf("webhook_token = %v, want %q", got, redacted)
	}
	if got := action.ActionData["webhook_url"]; got != redacted {
		t.Errorf("webhook_url = %v, want %q", got, redacted)
	}

	// Nothing anywhere in the row may carry the real token.
	raw, err := json.Marshal(action)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(raw), hook.Token) {
		t.Errorf("serialized action leaks the webhook token: %s", raw)
	}

	if action.OccurredAt.Year() != 2016 {
		t.Errorf("occurred_at = %v, want the snowflake creation time", action.OccurredAt)
	}
}
