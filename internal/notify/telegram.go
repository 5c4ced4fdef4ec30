package notify

import (
	"context"
	"fmt"
	"net/http"
)

// TelegramSender posts alerts to a chat through the Bot API.
type TelegramSender struct {
	token  string
	chatID string
	client *http.Client
}

func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{token: token, chatID: chatID, client: newWebhookClient()}
}

func (t *TelegramSender) Name() string { return "telegram" }

func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	payload := map[string]string{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n%s", title, message),
		"parse_mode": "Markdown",
	}
	return postJSON(ctx, t.client, url, payload)
}
