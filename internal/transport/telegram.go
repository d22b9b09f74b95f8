package transport

import (
	"context"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"statuswatch/pkg/logx"
)

// Telegram messages cap out at 4096 characters; stay under it so HTML
// entities added by Telegram-side processing never push a chunk over.
const telegramTextLimit = 4000

// Telegram is the bot-identity transport backed by telebot.
type Telegram struct {
	bot *tele.Bot
	log logx.Logger
}

func NewTelegram(bot *tele.Bot, log logx.Logger) *Telegram {
	return &Telegram{bot: bot, log: log.With(logx.String("comp", "transport.telegram"))}
}

func (t *Telegram) Send(ctx context.Context, chatID int64, text string, opt *SendOptions) (MessageRef, error) {
	if opt == nil {
		opt = &SendOptions{}
	}
	chunks := splitText(text, telegramTextLimit)
	chat := &tele.Chat{ID: chatID}

	var first MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := t.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
		})
		if err != nil {
			if first.ChatID != 0 {
				return first, err
			}
			return MessageRef{}, err
		}
		if i == 0 {
			first = MessageRef{ChatID: chatID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (t *Telegram) Edit(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error {
	if opt == nil {
		opt = &SendOptions{}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	chunks := splitText(text, telegramTextLimit)
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	_, err := t.bot.Edit(m, chunks[0], &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	})
	if err != nil {
		if isMessageGone(err) {
			return fmt.Errorf("%w: %v", ErrMessageGone, err)
		}
		return err
	}

	// Overflow past the first chunk goes out as fresh messages; an edited
	// message cannot grow beyond the platform limit.
	for _, chunk := range chunks[1:] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := t.bot.Send(&tele.Chat{ID: ref.ChatID}, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
		}); err != nil {
			return err
		}
	}
	return nil
}

// isMessageGone classifies Telegram API errors that mean the edit target is
// unrecoverable. Telebot surfaces these as description strings.
func isMessageGone(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "message to edit not found") ||
		strings.Contains(s, "message_id_invalid") ||
		strings.Contains(s, "message can't be edited") ||
		strings.Contains(s, "chat not found")
}

// splitText chunks long text on rune boundaries, preferring to break at a
// newline in the last third of the window.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	var out []string
	start := 0
	for start < len(rs) {
		end := start + limit
		if end >= len(rs) {
			out = append(out, string(rs[start:]))
			break
		}
		cut := end
		for i := end - 1; i > start+limit*2/3; i-- {
			if rs[i] == '\n' {
				cut = i + 1
				break
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:cut]), "\n"))
		start = cut
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
