package storage

import "time"

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// SubscriptionRow is the persisted form of one destination/service pair.
type SubscriptionRow struct {
	ChatID     int64
	ServiceID  string
	Mode       string
	UseWebhook bool
	WebhookURL string
	// WebhookOK is nil until the webhook capability has been probed.
	WebhookOK *bool
}

// EditRefRow maps an incident to the message being edited in place for a
// subscription in edit mode.
type EditRefRow struct {
	ChatID     int64
	ServiceID  string
	IncidentID string
	MessageID  int
}
