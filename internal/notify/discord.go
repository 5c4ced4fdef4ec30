package notify

import (
	"context"
	"fmt"
	"net/http"
)

// DiscordSender posts alerts to a channel webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: newWebhookClient()}
}

func (d *DiscordSender) Name() string { return "discord" }

func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	payload := map[string]string{
		"content": fmt.Sprintf("**%s**\n%s", title, message),
	}
	return postJSON(ctx, d.client, d.webhookURL, payload)
}
