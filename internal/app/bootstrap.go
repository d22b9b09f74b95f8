package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"statuswatch/internal/feed"
	"statuswatch/internal/status"
	"statuswatch/pkg/logx"
)

// schemaVersion is bumped whenever the persisted layout changes in a way
// that requires re-seeding the seen set.
const schemaVersion = 1

const bootstrapTimeout = 3 * time.Minute

// bootstrapIfNeeded seeds the seen set with every update ID currently
// visible upstream, across the whole catalog, without dispatching anything.
// It runs when the persisted schema version is behind current: on first run
// and after storage-format migrations.
func (a *App) bootstrapIfNeeded(ctx context.Context) error {
	stored, err := a.store.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if stored >= schemaVersion {
		return nil
	}

	a.log.Info("seeding seen set before first dispatch",
		logx.Int("stored_version", stored), logx.Int("current_version", schemaVersion))

	bctx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
	defer cancel()

	var ids []string
	for _, svc := range feed.Services() {
		for _, kind := range []status.Kind{status.KindIncidents, status.KindScheduled} {
			got, err := a.collectIDs(bctx, svc, kind)
			if err != nil {
				// Tolerated: IDs missed here surface as one duplicate-looking
				// delivery after the first real subscription, not data loss.
				a.log.Warn("bootstrap fetch failed",
					logx.String("service", svc.ID), logx.String("kind", string(kind)), logx.Err(err))
				continue
			}
			ids = append(ids, got...)
		}
	}

	if err := a.seenStore.Bootstrap(bctx, ids); err != nil {
		return err
	}
	if err := a.store.SetSchemaVersion(bctx, schemaVersion); err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}
	return nil
}

func (a *App) collectIDs(ctx context.Context, svc status.Service, kind status.Kind) ([]string, error) {
	payload, err := a.client.Fetch(ctx, svc, kind)
	if errors.Is(err, feed.ErrNotModified) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	incidents, err := svc.Parser.Parse(payload, kind)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, inc := range incidents {
		for _, f := range inc.Fields {
			ids = append(ids, f.UpdateID)
		}
	}
	return ids, nil
}
