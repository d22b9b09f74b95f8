// Package transport delivers rendered updates to destinations, either as the
// bot's own identity (Telegram messages that can later be edited) or through
// a destination-owned webhook carrying the service's display name and icon.
package transport

import (
	"context"
	"errors"
)

// ErrMessageGone reports that an edit target no longer exists (deleted
// message, revoked access). Edit-mode dispatch falls back to a new message.
var ErrMessageGone = errors.New("transport: message gone")

// MessageRef identifies a sent message so it can be edited later.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string // "" for plain text, "HTML" for rich rendering
	DisablePreview bool
}

// Sender is the bot-identity transport.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string, opt *SendOptions) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
}

// WebhookMessage is a custom-identity payload: the username and avatar brand
// the message as coming from the watched service rather than the bot.
type WebhookMessage struct {
	Username  string `json:"username,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Content   string `json:"content"`
}

// WebhookSender posts to destination-owned webhook endpoints. Probe runs
// once per subscription; a failure downgrades the subscription to the
// bot-identity transport instead of hard-failing it.
type WebhookSender interface {
	Probe(ctx context.Context, url string) error
	SendWebhook(ctx context.Context, url string, msg WebhookMessage) error
}
