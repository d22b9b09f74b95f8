// Package subs holds the durable destination -> service subscription map and
// the denormalized "which services have subscribers" index that lets the poll
// loop skip feeds nobody is watching.
package subs

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"statuswatch/internal/status"
	"statuswatch/internal/storage"
	"statuswatch/pkg/logx"
)

// Backend is the durable side of the registry. *storage.Store satisfies it.
type Backend interface {
	ListSubscriptions(ctx context.Context) ([]storage.SubscriptionRow, error)
	UpsertSubscription(ctx context.Context, r storage.SubscriptionRow) error
	DeleteSubscription(ctx context.Context, chatID int64, serviceID string) error
	SetWebhookOK(ctx context.Context, chatID int64, serviceID string, ok bool) error
	ListEditRefs(ctx context.Context) ([]storage.EditRefRow, error)
	PutEditRef(ctx context.Context, r storage.EditRefRow) error
}

// Subscription is one destination's delivery settings for one service.
type Subscription struct {
	ChatID     int64
	ServiceID  string
	Mode       status.Mode
	UseWebhook bool
	WebhookURL string
	// WebhookOK is nil until the webhook capability has been probed once.
	// A failed probe persists false and the subscription silently falls back
	// to bot-identity sends.
	WebhookOK *bool
	// EditRefs maps incident ID -> message ID; only used in edit mode.
	EditRefs map[string]int
}

func (s Subscription) clone() Subscription {
	cp := s
	if s.WebhookOK != nil {
		v := *s.WebhookOK
		cp.WebhookOK = &v
	}
	cp.EditRefs = make(map[string]int, len(s.EditRefs))
	for k, v := range s.EditRefs {
		cp.EditRefs[k] = v
	}
	return cp
}

type key struct {
	chatID    int64
	serviceID string
}

// Registry keeps the subscription map in memory and writes through to the
// backend synchronously, so a crash never loses an acknowledged change.
type Registry struct {
	mu     sync.RWMutex
	subs   map[key]*Subscription
	active map[string]int // serviceID -> subscriber count
	db     Backend
	log    logx.Logger
}

// Load builds the registry from persisted state.
func Load(ctx context.Context, db Backend, log logx.Logger) (*Registry, error) {
	r := &Registry{
		subs:   map[key]*Subscription{},
		active: map[string]int{},
		db:     db,
		log:    log,
	}
	rows, err := db.ListSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load subscriptions: %w", err)
	}
	for _, row := range rows {
		mode, err := status.ParseMode(row.Mode)
		if err != nil {
			log.Warn("dropping subscription with unknown mode",
				logx.Int64("chat", row.ChatID), logx.String("service", row.ServiceID), logx.String("mode", row.Mode))
			continue
		}
		r.subs[key{row.ChatID, row.ServiceID}] = &Subscription{
			ChatID:     row.ChatID,
			ServiceID:  row.ServiceID,
			Mode:       mode,
			UseWebhook: row.UseWebhook,
			WebhookURL: row.WebhookURL,
			WebhookOK:  row.WebhookOK,
			EditRefs:   map[string]int{},
		}
		r.active[row.ServiceID]++
	}
	refs, err := db.ListEditRefs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load edit refs: %w", err)
	}
	for _, ref := range refs {
		if sub := r.subs[key{ref.ChatID, ref.ServiceID}]; sub != nil {
			sub.EditRefs[ref.IncidentID] = ref.MessageID
		}
	}
	log.Info("subscriptions loaded",
		logx.Int("subscriptions", len(r.subs)), logx.Int("services", len(r.active)))
	return r, nil
}

// NewMemory returns a registry without durability, for tests.
func NewMemory() *Registry {
	return &Registry{subs: map[key]*Subscription{}, active: map[string]int{}, log: logx.Nop()}
}

// Subscribe creates or replaces a destination's settings for a service.
func (r *Registry) Subscribe(ctx context.Context, sub Subscription) error {
	if sub.EditRefs == nil {
		sub.EditRefs = map[string]int{}
	}
	if r.db != nil {
		row := storage.SubscriptionRow{
			ChatID:     sub.ChatID,
			ServiceID:  sub.ServiceID,
			Mode:       string(sub.Mode),
			UseWebhook: sub.UseWebhook,
			WebhookURL: sub.WebhookURL,
			WebhookOK:  sub.WebhookOK,
		}
		if err := r.db.UpsertSubscription(ctx, row); err != nil {
			return fmt.Errorf("persist subscription: %w", err)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{sub.ChatID, sub.ServiceID}
	if prev, existed := r.subs[k]; !existed {
		r.active[sub.ServiceID]++
	} else if len(sub.EditRefs) == 0 {
		// A settings change keeps the tracked edit messages; the persisted
		// edit_refs rows survive the upsert, so memory must match.
		for id, mid := range prev.EditRefs {
			sub.EditRefs[id] = mid
		}
	}
	cp := sub.clone()
	r.subs[k] = &cp
	return nil
}

// Unsubscribe removes a destination's subscription. It reports whether a
// subscription existed.
func (r *Registry) Unsubscribe(ctx context.Context, chatID int64, serviceID string) (bool, error) {
	r.mu.RLock()
	_, existed := r.subs[key{chatID, serviceID}]
	r.mu.RUnlock()
	if !existed {
		return false, nil
	}
	if r.db != nil {
		if err := r.db.DeleteSubscription(ctx, chatID, serviceID); err != nil {
			return false, fmt.Errorf("delete subscription: %w", err)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{chatID, serviceID}
	if _, still := r.subs[k]; still {
		delete(r.subs, k)
		if r.active[serviceID] <= 1 {
			delete(r.active, serviceID)
		} else {
			r.active[serviceID]--
		}
	}
	return true, nil
}

// ListDestinations returns copies of every subscription for a service.
func (r *Registry) ListDestinations(serviceID string) []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Subscription
	for _, sub := range r.subs {
		if sub.ServiceID == serviceID {
			out = append(out, sub.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out
}

// ListChat returns copies of every subscription held by one destination.
func (r *Registry) ListChat(chatID int64) []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Subscription
	for _, sub := range r.subs {
		if sub.ChatID == chatID {
			out = append(out, sub.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceID < out[j].ServiceID })
	return out
}

// ActiveServices returns the IDs of services with at least one subscriber.
// The index is maintained incrementally on subscribe/unsubscribe, never
// recomputed per poll.
func (r *Registry) ActiveServices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.active))
	for id := range r.active {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SetEditRef records the message carrying an incident for an edit-mode
// subscription. Called by the dispatcher after a successful send.
func (r *Registry) SetEditRef(ctx context.Context, chatID int64, serviceID, incidentID string, messageID int) error {
	if r.db != nil {
		err := r.db.PutEditRef(ctx, storage.EditRefRow{
			ChatID: chatID, ServiceID: serviceID, IncidentID: incidentID, MessageID: messageID,
		})
		if err != nil {
			return fmt.Errorf("persist edit ref: %w", err)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub := r.subs[key{chatID, serviceID}]; sub != nil {
		sub.EditRefs[incidentID] = messageID
	}
	return nil
}

// SetWebhookOK persists the outcome of the one-time webhook capability probe.
func (r *Registry) SetWebhookOK(ctx context.Context, chatID int64, serviceID string, ok bool) error {
	if r.db != nil {
		if err := r.db.SetWebhookOK(ctx, chatID, serviceID, ok); err != nil {
			return fmt.Errorf("persist webhook probe: %w", err)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub := r.subs[key{chatID, serviceID}]; sub != nil {
		v := ok
		sub.WebhookOK = &v
	}
	return nil
}
