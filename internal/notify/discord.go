package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Discord embed limits.
const (
	discordTitleMax       = 256
	discordDescriptionMax = 4096
)

// Embed colours. Failures and forced exits are red, everything else green.
const (
	colorOK    = 0x2ecc71
	colorAlarm = 0xe74c3c
)

var alarmWords = []string{"failed", "emergency", "unwound", "vote passed"}

// DiscordSender posts alerts to a Discord webhook as a single embed.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
	now        func() time.Time
}

// NewDiscordSender creates a sender for one webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

type discordPayload struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	body, err := json.Marshal(discordPayload{
		Username: "sovereignd",
		Embeds: []discordEmbed{{
			Title:       truncate(title, discordTitleMax),
			Description: truncate(message, discordDescriptionMax),
			Color:       embedColor(title),
			Timestamp:   d.now().UTC().Format(time.RFC3339),
		}},
	})
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}
	return post(ctx, d.client, "discord", d.webhookURL, body)
}

func (d *DiscordSender) Name() string { return "discord" }

func embedColor(title string) int {
	t := strings.ToLower(title)
	for _, w := range alarmWords {
		if strings.Contains(t, w) {
			return colorAlarm
		}
	}
	return colorOK
}

// truncate cuts s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
