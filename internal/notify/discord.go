package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dmarkhas/solsentry/internal/domain"
)

// DiscordSender delivers events via a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the event to the Discord webhook. Discord returns 204 No
// Content on success.
func (d *DiscordSender) Send(ctx context.Context, evt domain.Event) error {
	payload := map[string]string{
		"content": fmt.Sprintf("**%s**\n%s", evt.Title, evt.Message),
	}
	return postJSON(ctx, d.client, "discord", d.webhookURL, payload)
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
