package subs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statuswatch/internal/status"
)

func TestSubscribeMaintainsActiveIndex(t *testing.T) {
	t.Parallel()
	r := NewMemory()
	ctx := context.Background()

	assert.Empty(t, r.ActiveServices())

	require.NoError(t, r.Subscribe(ctx, Subscription{ChatID: 1, ServiceID: "github", Mode: status.ModeAll}))
	require.NoError(t, r.Subscribe(ctx, Subscription{ChatID: 2, ServiceID: "github", Mode: status.ModeLatest}))
	require.NoError(t, r.Subscribe(ctx, Subscription{ChatID: 1, ServiceID: "discord", Mode: status.ModeEdit}))
	assert.Equal(t, []string{"discord", "github"}, r.ActiveServices())

	// Re-subscribing the same pair replaces settings without double counting.
	require.NoError(t, r.Subscribe(ctx, Subscription{ChatID: 1, ServiceID: "github", Mode: status.ModeEdit}))
	assert.Equal(t, []string{"discord", "github"}, r.ActiveServices())

	removed, err := r.Unsubscribe(ctx, 1, "discord")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, []string{"github"}, r.ActiveServices())

	removed, err = r.Unsubscribe(ctx, 1, "github")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = r.Unsubscribe(ctx, 2, "github")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Empty(t, r.ActiveServices())

	removed, err = r.Unsubscribe(ctx, 2, "github")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestListDestinationsReturnsCopies(t *testing.T) {
	t.Parallel()
	r := NewMemory()
	ctx := context.Background()

	require.NoError(t, r.Subscribe(ctx, Subscription{ChatID: 7, ServiceID: "github", Mode: status.ModeEdit}))
	require.NoError(t, r.SetEditRef(ctx, 7, "github", "inc-1", 42))

	dests := r.ListDestinations("github")
	require.Len(t, dests, 1)
	assert.Equal(t, 42, dests[0].EditRefs["inc-1"])

	// Mutating the copy must not leak into the registry.
	dests[0].EditRefs["inc-1"] = 99
	again := r.ListDestinations("github")
	assert.Equal(t, 42, again[0].EditRefs["inc-1"])
}

func TestResubscribeKeepsEditRefs(t *testing.T) {
	t.Parallel()
	r := NewMemory()
	ctx := context.Background()

	require.NoError(t, r.Subscribe(ctx, Subscription{ChatID: 1, ServiceID: "github", Mode: status.ModeEdit}))
	require.NoError(t, r.SetEditRef(ctx, 1, "github", "inc-1", 42))

	// Changing the mode must not orphan the tracked message.
	require.NoError(t, r.Subscribe(ctx, Subscription{ChatID: 1, ServiceID: "github", Mode: status.ModeAll}))

	dests := r.ListDestinations("github")
	require.Len(t, dests, 1)
	assert.Equal(t, status.ModeAll, dests[0].Mode)
	assert.Equal(t, 42, dests[0].EditRefs["inc-1"])
}

func TestListChat(t *testing.T) {
	t.Parallel()
	r := NewMemory()
	ctx := context.Background()

	require.NoError(t, r.Subscribe(ctx, Subscription{ChatID: 1, ServiceID: "github", Mode: status.ModeAll}))
	require.NoError(t, r.Subscribe(ctx, Subscription{ChatID: 1, ServiceID: "discord", Mode: status.ModeAll}))
	require.NoError(t, r.Subscribe(ctx, Subscription{ChatID: 2, ServiceID: "github", Mode: status.ModeAll}))

	got := r.ListChat(1)
	require.Len(t, got, 2)
	assert.Equal(t, "discord", got[0].ServiceID)
	assert.Equal(t, "github", got[1].ServiceID)
}

func TestSetWebhookOKUpdatesSubscription(t *testing.T) {
	t.Parallel()
	r := NewMemory()
	ctx := context.Background()

	require.NoError(t, r.Subscribe(ctx, Subscription{
		ChatID: 3, ServiceID: "github", Mode: status.ModeAll,
		UseWebhook: true, WebhookURL: "https://example.com/hook",
	}))

	dests := r.ListDestinations("github")
	require.Len(t, dests, 1)
	assert.Nil(t, dests[0].WebhookOK)

	require.NoError(t, r.SetWebhookOK(ctx, 3, "github", false))
	dests = r.ListDestinations("github")
	require.NotNil(t, dests[0].WebhookOK)
	assert.False(t, *dests[0].WebhookOK)
}
