// Package dispatch fans a genuinely-new update out to every destination
// subscribed to its service. Destinations are independent failure domains:
// one chat's revoked permissions or deleted webhook never blocks the rest.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"statuswatch/internal/ops"
	"statuswatch/internal/status"
	"statuswatch/internal/subs"
	"statuswatch/internal/transport"
	"statuswatch/pkg/logx"
)

const defaultSendTimeout = 15 * time.Second

// RefWriter persists edit message refs and webhook probe outcomes.
// *subs.Registry satisfies it.
type RefWriter interface {
	SetEditRef(ctx context.Context, chatID int64, serviceID, incidentID string, messageID int) error
	SetWebhookOK(ctx context.Context, chatID int64, serviceID string, ok bool) error
}

// Report summarizes one fan-out.
type Report struct {
	ID         string
	IncidentID string
	Sent       int
	Failed     int
	Downgraded int // webhook sends that fell back to bot identity
}

type Dispatcher struct {
	bot         transport.Sender
	webhook     transport.WebhookSender
	refs        RefWriter
	metrics     *ops.Metrics
	log         logx.Logger
	sendTimeout time.Duration
}

func New(bot transport.Sender, webhook transport.WebhookSender, refs RefWriter, metrics *ops.Metrics, log logx.Logger) *Dispatcher {
	return &Dispatcher{
		bot:         bot,
		webhook:     webhook,
		refs:        refs,
		metrics:     metrics,
		log:         log.With(logx.String("comp", "dispatch")),
		sendTimeout: defaultSendTimeout,
	}
}

// SetSendTimeout overrides the per-destination send timeout.
func (d *Dispatcher) SetSendTimeout(t time.Duration) {
	if t > 0 {
		d.sendTimeout = t
	}
}

// Dispatch renders the update once and delivers it to every destination.
// Every destination is attempted exactly once; the returned report is the
// observable join point for "all destinations attempted".
func (d *Dispatcher) Dispatch(ctx context.Context, svc status.Service, up status.Update, dests []subs.Subscription) Report {
	rep := Report{ID: uuid.NewString(), IncidentID: up.Incident.ID}
	if len(dests) == 0 {
		return rep
	}
	start := time.Now()
	rend := Render(svc, up)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, dest := range dests {
		wg.Add(1)
		go func(dest subs.Subscription) {
			defer wg.Done()
			sctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
			defer cancel()

			downgraded, err := d.deliver(sctx, svc, up, rend, dest)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rep.Failed++
				d.log.Warn("destination send failed",
					logx.Int64("chat", dest.ChatID),
					logx.String("service", svc.ID),
					logx.String("incident", up.Incident.ID),
					logx.Err(err))
				return
			}
			rep.Sent++
			if downgraded {
				rep.Downgraded++
			}
		}(dest)
	}
	wg.Wait()

	if d.metrics != nil {
		d.metrics.DispatchReport.Observe(time.Since(start).Seconds())
	}
	d.log.Info("update dispatched",
		logx.String("report", rep.ID),
		logx.String("service", svc.ID),
		logx.String("incident", up.Incident.ID),
		logx.Int("new_fields", len(up.NewFields)),
		logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed))
	return rep
}

// deliver sends to a single destination, honoring its mode and transport.
// It reports whether a webhook subscription was downgraded to bot identity.
func (d *Dispatcher) deliver(ctx context.Context, svc status.Service, up status.Update, rend Renderings, dest subs.Subscription) (bool, error) {
	// Webhooks cannot edit previously-posted messages, so edit mode always
	// rides the bot transport.
	if dest.UseWebhook && dest.Mode != status.ModeEdit {
		ok := d.webhookCapable(ctx, dest)
		if ok {
			err := d.webhook.SendWebhook(ctx, dest.WebhookURL, transport.WebhookMessage{
				Username:  svc.Name,
				AvatarURL: svc.IconURL,
				Content:   rend.ForMode(dest.Mode, false),
			})
			d.countSend("webhook", err)
			return false, err
		}
		// Silent downgrade; the subscription keeps working via the bot.
		err := d.sendBot(ctx, up, rend, dest)
		return err == nil, err
	}
	return false, d.sendBot(ctx, up, rend, dest)
}

func (d *Dispatcher) sendBot(ctx context.Context, up status.Update, rend Renderings, dest subs.Subscription) error {
	opt := &transport.SendOptions{ParseMode: "HTML", DisablePreview: true}

	if dest.Mode == status.ModeEdit {
		text := rend.ForMode(status.ModeEdit, true)
		if msgID, ok := dest.EditRefs[up.Incident.ID]; ok {
			ref := transport.MessageRef{ChatID: dest.ChatID, MessageID: msgID}
			err := d.bot.Edit(ctx, ref, text, opt)
			if err == nil {
				d.countSend("bot", nil)
				return nil
			}
			if !errors.Is(err, transport.ErrMessageGone) {
				d.countSend("bot", err)
				return err
			}
			// The tracked message is gone (deleted, or the bot lost access).
			// Edit mode's contract is one evolving message per incident, so
			// recreate it rather than dropping the update.
			if d.metrics != nil {
				d.metrics.EditFallbacks.Inc()
			}
			d.log.Debug("edit target gone; creating replacement",
				logx.Int64("chat", dest.ChatID), logx.String("incident", up.Incident.ID))
		}
		ref, err := d.bot.Send(ctx, dest.ChatID, text, opt)
		d.countSend("bot", err)
		if err != nil {
			return err
		}
		if d.refs != nil {
			if err := d.refs.SetEditRef(ctx, dest.ChatID, dest.ServiceID, up.Incident.ID, ref.MessageID); err != nil {
				// The message went out; a lost ref only costs one extra
				// message on the next update.
				d.log.Warn("edit ref not persisted", logx.Int64("chat", dest.ChatID), logx.Err(err))
			}
		}
		return nil
	}

	_, err := d.bot.Send(ctx, dest.ChatID, rend.ForMode(dest.Mode, true), opt)
	d.countSend("bot", err)
	return err
}

// webhookCapable returns whether webhook delivery is usable, probing once
// per subscription and persisting the outcome.
func (d *Dispatcher) webhookCapable(ctx context.Context, dest subs.Subscription) bool {
	if dest.WebhookURL == "" {
		return false
	}
	if dest.WebhookOK != nil {
		return *dest.WebhookOK
	}
	err := d.webhook.Probe(ctx, dest.WebhookURL)
	ok := err == nil
	if d.metrics != nil {
		d.metrics.WebhookProbes.WithLabelValues(probeResult(ok)).Inc()
	}
	if !ok {
		d.log.Info("webhook unavailable; subscription downgraded to bot identity",
			logx.Int64("chat", dest.ChatID), logx.String("service", dest.ServiceID), logx.Err(err))
	}
	if d.refs != nil {
		if perr := d.refs.SetWebhookOK(ctx, dest.ChatID, dest.ServiceID, ok); perr != nil {
			d.log.Warn("webhook probe result not persisted", logx.Int64("chat", dest.ChatID), logx.Err(perr))
		}
	}
	return ok
}

func (d *Dispatcher) countSend(transportName string, err error) {
	if d.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	d.metrics.Sends.WithLabelValues(transportName, result).Inc()
}

func probeResult(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
