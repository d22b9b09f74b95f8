// Package bot exposes the host command surface: subscribing destinations to
// services, listing subscriptions and running ad hoc checks. The heavy
// lifting lives in the pipeline packages; this is request/response glue.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"statuswatch/internal/dispatch"
	"statuswatch/internal/feed"
	"statuswatch/internal/status"
	"statuswatch/internal/subs"
	"statuswatch/pkg/logx"
)

const commandTimeout = 30 * time.Second

type Handler struct {
	bot      *tele.Bot
	registry *subs.Registry
	client   *feed.Client
	log      logx.Logger
}

func Register(b *tele.Bot, registry *subs.Registry, client *feed.Client, log logx.Logger) *Handler {
	h := &Handler{bot: b, registry: registry, client: client, log: log.With(logx.String("comp", "bot"))}
	b.Handle("/subscribe", h.adminOnly(h.subscribe))
	b.Handle("/unsubscribe", h.adminOnly(h.unsubscribe))
	b.Handle("/subscriptions", h.list)
	b.Handle("/check", h.check)
	b.Handle("/services", h.services)
	b.Handle("/help", h.help)
	b.Handle("/start", h.help)
	return h
}

// adminOnly restricts subscription changes to chat administrators in group
// chats. Private chats are always allowed.
func (h *Handler) adminOnly(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		chat := c.Chat()
		if chat == nil || c.Sender() == nil {
			return nil
		}
		if chat.Type != tele.ChatPrivate {
			member, err := h.bot.ChatMemberOf(chat, c.Sender())
			if err != nil {
				return c.Reply("Could not verify chat permissions.")
			}
			if member.Role != tele.Creator && member.Role != tele.Administrator {
				return c.Reply("Only chat administrators can change subscriptions.")
			}
		}
		return next(c)
	}
}

// /subscribe <service> [all|latest|edit] [webhook_url]
func (h *Handler) subscribe(c tele.Context) error {
	args := c.Args()
	if len(args) == 0 {
		return c.Reply("Usage: /subscribe <service> [all|latest|edit] [webhook_url]\nSee /services for known services.")
	}
	svc, ok := feed.Lookup(strings.ToLower(args[0]))
	if !ok {
		return c.Reply(fmt.Sprintf("Unknown service %q. See /services.", args[0]))
	}

	mode := status.ModeAll
	if len(args) > 1 {
		m, err := status.ParseMode(args[1])
		if err != nil {
			return c.Reply(err.Error())
		}
		mode = m
	}
	if !svc.SupportsMode(mode) {
		return c.Reply(fmt.Sprintf("%s does not support %s mode.", svc.Name, mode))
	}

	var webhookURL string
	if len(args) > 2 {
		webhookURL = args[2]
		if !strings.HasPrefix(webhookURL, "https://") {
			return c.Reply("Webhook URL must be https.")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	err := h.registry.Subscribe(ctx, subs.Subscription{
		ChatID:     c.Chat().ID,
		ServiceID:  svc.ID,
		Mode:       mode,
		UseWebhook: webhookURL != "",
		WebhookURL: webhookURL,
	})
	if err != nil {
		h.log.Error("subscribe failed", logx.Int64("chat", c.Chat().ID), logx.Err(err))
		return c.Reply("Subscription could not be saved, please try again.")
	}

	transportNote := "bot messages"
	if webhookURL != "" {
		transportNote = "webhook delivery"
	}
	return c.Reply(fmt.Sprintf("Subscribed to %s updates (%s mode, %s).", svc.Name, mode, transportNote))
}

// /unsubscribe <service>
func (h *Handler) unsubscribe(c tele.Context) error {
	args := c.Args()
	if len(args) == 0 {
		return c.Reply("Usage: /unsubscribe <service>")
	}
	serviceID := strings.ToLower(args[0])

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	removed, err := h.registry.Unsubscribe(ctx, c.Chat().ID, serviceID)
	if err != nil {
		h.log.Error("unsubscribe failed", logx.Int64("chat", c.Chat().ID), logx.Err(err))
		return c.Reply("Unsubscribe failed, please try again.")
	}
	if !removed {
		return c.Reply(fmt.Sprintf("This chat is not subscribed to %q.", serviceID))
	}
	return c.Reply(fmt.Sprintf("Unsubscribed from %s.", serviceID))
}

// /subscriptions
func (h *Handler) list(c tele.Context) error {
	list := h.registry.ListChat(c.Chat().ID)
	if len(list) == 0 {
		return c.Reply("No subscriptions in this chat. Use /subscribe to add one.")
	}
	var b strings.Builder
	b.WriteString("Subscriptions in this chat:\n")
	for _, sub := range list {
		transportNote := "bot"
		if sub.UseWebhook {
			transportNote = "webhook"
			if sub.WebhookOK != nil && !*sub.WebhookOK {
				transportNote = "webhook (downgraded to bot)"
			}
		}
		b.WriteString(fmt.Sprintf("- %s: %s mode, %s\n", sub.ServiceID, sub.Mode, transportNote))
	}
	return c.Reply(b.String())
}

// /check <service> performs an ad hoc fetch and replies to this chat only.
// It is a preview: the seen set is neither consulted nor mutated, so the
// scheduled loop still delivers these updates normally.
func (h *Handler) check(c tele.Context) error {
	args := c.Args()
	if len(args) == 0 {
		return c.Reply("Usage: /check <service>")
	}
	svc, ok := feed.Lookup(strings.ToLower(args[0]))
	if !ok {
		return c.Reply(fmt.Sprintf("Unknown service %q. See /services.", args[0]))
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	incidents, err := h.currentIncidents(ctx, svc)
	if err != nil {
		return c.Reply(fmt.Sprintf("Check failed: %v", err))
	}
	if len(incidents) == 0 {
		return c.Reply(fmt.Sprintf("%s reports no incidents.", svc.Name))
	}

	// Most recently updated incident only; /check is a spot check, not a dump.
	latest := incidents[0]
	for _, inc := range incidents[1:] {
		if inc.ActualUpdateTime.After(latest.ActualUpdateTime) {
			latest = inc
		}
	}
	up := status.Update{Incident: latest, NewFields: latest.Fields}
	text := dispatch.Render(svc, up).EmbedAll
	return c.Reply(text, &tele.SendOptions{ParseMode: "HTML", DisableWebPagePreview: true})
}

func (h *Handler) currentIncidents(ctx context.Context, svc status.Service) ([]status.Incident, error) {
	payload, err := h.client.Fetch(ctx, svc, status.KindIncidents)
	if errors.Is(err, feed.ErrNotModified) {
		cached, ok := h.client.Cached(svc, status.KindIncidents)
		if !ok {
			return nil, nil
		}
		payload = cached
	} else if err != nil {
		return nil, err
	}
	return svc.Parser.Parse(payload, status.KindIncidents)
}

// /services
func (h *Handler) services(c tele.Context) error {
	var b strings.Builder
	b.WriteString("Known services:\n")
	for _, s := range feed.Services() {
		b.WriteString(fmt.Sprintf("- %s (%s)\n", s.ID, s.Name))
	}
	return c.Reply(b.String())
}

func (h *Handler) help(c tele.Context) error {
	return c.Reply(strings.TrimSpace(`
I watch service status pages and post new incident updates here.

/subscribe <service> [all|latest|edit] [webhook_url] - watch a service
/unsubscribe <service> - stop watching
/subscriptions - list this chat's subscriptions
/check <service> - show the current status right now
/services - list known services
`))
}
