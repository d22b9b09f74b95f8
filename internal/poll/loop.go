// Package poll drives the pipeline: every tick it walks the services that
// have at least one subscriber, fetches both feeds, computes the genuinely
// new updates against the seen set and hands them to the dispatcher.
package poll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"statuswatch/internal/dispatch"
	"statuswatch/internal/feed"
	"statuswatch/internal/ops"
	"statuswatch/internal/seen"
	"statuswatch/internal/status"
	"statuswatch/internal/subs"
	"statuswatch/pkg/logx"
)

const (
	defaultInterval  = 2 * time.Minute
	defaultWorkers   = 4
	defaultUpdateGap = 5 * time.Second
)

type Config struct {
	Interval  time.Duration // poll period; default 2m
	Deadline  time.Duration // per-iteration budget; default 2x interval
	Workers   int           // concurrent service checks; default 4
	UpdateGap time.Duration // pause between distinct dispatched updates
}

func (c *Config) fill() {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.Deadline <= 0 {
		c.Deadline = 2 * c.Interval
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.UpdateGap <= 0 {
		c.UpdateGap = defaultUpdateGap
	}
}

// Snapshot is the loop's liveness state, served by the health endpoint.
type Snapshot struct {
	LastTick      time.Time `json:"last_tick"`
	LastSuccess   time.Time `json:"last_success"`
	LastDuration  string    `json:"last_duration"`
	ActiveServs   int       `json:"active_services"`
	LastDispatch  int       `json:"last_dispatched"`
	ConsecErrors  int       `json:"consecutive_errors"`
	SeenSetSize   int       `json:"seen_set_size"`
	Interval      string    `json:"interval"`
	IterationBusy bool      `json:"iteration_running"`
}

type Loop struct {
	client     *feed.Client
	seenStore  *seen.Store
	registry   *subs.Registry
	dispatcher *dispatch.Dispatcher
	metrics    *ops.Metrics
	log        logx.Logger
	cfg        Config

	// pacer smooths destination-side rate limits: at most one dispatched
	// update per UpdateGap, across all service workers.
	pacer *rate.Limiter

	// watchdog, when set, is pinged on every tick (sd_notify).
	watchdog func()

	// lookup resolves a service ID to its catalog entry; swapped in tests.
	lookup func(id string) (status.Service, bool)

	cron    *cron.Cron
	running atomic.Bool // an iteration is in flight

	mu   sync.Mutex
	snap Snapshot
}

func New(client *feed.Client, seenStore *seen.Store, registry *subs.Registry,
	dispatcher *dispatch.Dispatcher, metrics *ops.Metrics, log logx.Logger, cfg Config) *Loop {
	cfg.fill()
	return &Loop{
		client:     client,
		seenStore:  seenStore,
		registry:   registry,
		dispatcher: dispatcher,
		metrics:    metrics,
		log:        log.With(logx.String("comp", "poll")),
		cfg:        cfg,
		pacer:      rate.NewLimiter(rate.Every(cfg.UpdateGap), 1),
		lookup:     feed.Lookup,
	}
}

// SetWatchdog installs the liveness ping invoked on each tick.
func (l *Loop) SetWatchdog(fn func()) { l.watchdog = fn }

// Start schedules the loop. Ticks never block the cron scheduler: the
// iteration runs in its own goroutine and overlapping ticks are dropped.
func (l *Loop) Start(ctx context.Context) error {
	if l.cron != nil {
		return errors.New("poll loop already started")
	}
	l.cron = cron.New()
	spec := fmt.Sprintf("@every %s", l.cfg.Interval)
	if _, err := l.cron.AddFunc(spec, func() { l.tick(ctx) }); err != nil {
		return fmt.Errorf("schedule poll loop: %w", err)
	}
	l.cron.Start()
	l.log.Info("poll loop started",
		logx.Duration("interval", l.cfg.Interval),
		logx.Duration("deadline", l.cfg.Deadline),
		logx.Int("workers", l.cfg.Workers))
	return nil
}

// Stop halts the schedule and waits for a running cron entry to return.
// An in-flight iteration finishes on its own deadline.
func (l *Loop) Stop() {
	if l.cron == nil {
		return
	}
	<-l.cron.Stop().Done()
	l.log.Info("poll loop stopped")
}

func (l *Loop) tick(ctx context.Context) {
	if l.watchdog != nil {
		l.watchdog()
	}
	if ctx.Err() != nil {
		return
	}
	if !l.running.CompareAndSwap(false, true) {
		// Previous iteration is still inside its deadline; do not stack.
		l.log.Warn("poll tick skipped; previous iteration still running")
		return
	}
	go func() {
		defer l.running.Store(false)
		l.RunOnce(ctx)
	}()
}

// RunOnce executes a full iteration under the configured deadline. Exceeding
// the deadline abandons the remaining services for this cycle only.
func (l *Loop) RunOnce(ctx context.Context) {
	started := time.Now()
	services := l.registry.ActiveServices()

	l.mu.Lock()
	l.snap.LastTick = started
	l.snap.ActiveServs = len(services)
	l.snap.IterationBusy = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.snap.IterationBusy = false
		l.mu.Unlock()
	}()

	if len(services) == 0 {
		l.finish(started, 0, 0)
		return
	}

	ictx, cancel := context.WithTimeout(ctx, l.cfg.Deadline)
	defer cancel()

	var (
		wg         sync.WaitGroup
		sem        = make(chan struct{}, l.cfg.Workers)
		dispatched atomic.Int64
		failures   atomic.Int64
	)
	for _, id := range services {
		svc, ok := l.lookup(id)
		if !ok {
			// A subscription can outlive a catalog entry across upgrades.
			l.log.Warn("subscribed service missing from catalog", logx.String("service", id))
			continue
		}
		select {
		case sem <- struct{}{}:
		case <-ictx.Done():
			l.overrun(services)
			wg.Wait()
			l.finish(started, int(dispatched.Load()), int(failures.Load()))
			return
		}
		wg.Add(1)
		go func(svc status.Service) {
			defer wg.Done()
			defer func() { <-sem }()
			if n, err := l.checkService(ictx, svc); err != nil {
				failures.Add(1)
			} else {
				dispatched.Add(int64(n))
			}
		}(svc)
	}
	wg.Wait()

	if ictx.Err() != nil && ctx.Err() == nil {
		l.overrun(services)
	}
	l.finish(started, int(dispatched.Load()), int(failures.Load()))
}

func (l *Loop) overrun(services []string) {
	l.log.Warn("poll iteration exceeded deadline; remaining services deferred to next tick",
		logx.Duration("deadline", l.cfg.Deadline), logx.Int("services", len(services)))
	if l.metrics != nil {
		l.metrics.PollOverruns.Inc()
	}
}

func (l *Loop) finish(started time.Time, dispatched, failures int) {
	took := time.Since(started)
	if l.metrics != nil {
		l.metrics.PollCycles.Inc()
	}
	l.mu.Lock()
	l.snap.LastDuration = took.String()
	l.snap.LastDispatch = dispatched
	l.snap.SeenSetSize = l.seenStore.Size()
	l.snap.Interval = l.cfg.Interval.String()
	if failures == 0 {
		l.snap.LastSuccess = time.Now()
		l.snap.ConsecErrors = 0
	} else {
		l.snap.ConsecErrors++
	}
	l.mu.Unlock()
	l.log.Debug("poll iteration done",
		logx.Duration("took", took),
		logx.Int("dispatched", dispatched),
		logx.Int("failed_services", failures))
}

// checkService processes one service: incidents first, then scheduled
// maintenances. The kinds run sequentially because maintenance handling may
// rely on incident-derived state from the same cycle.
func (l *Loop) checkService(ctx context.Context, svc status.Service) (dispatched int, err error) {
	for _, kind := range []status.Kind{status.KindIncidents, status.KindScheduled} {
		n, ferr := l.checkFeed(ctx, svc, kind)
		dispatched += n
		if ferr != nil {
			err = ferr
			// A failed incidents feed does not block the scheduled feed.
			continue
		}
	}
	return dispatched, err
}

func (l *Loop) checkFeed(ctx context.Context, svc status.Service, kind status.Kind) (int, error) {
	payload, err := l.client.Fetch(ctx, svc, kind)
	switch {
	case errors.Is(err, feed.ErrNotModified):
		l.countCheck(svc.ID, "not_modified")
		return 0, nil
	case errors.Is(err, feed.ErrUpstream):
		// Expected upstream flakiness; the next poll is the retry.
		l.countCheck(svc.ID, "upstream_error")
		return 0, nil
	case err != nil:
		l.countCheck(svc.ID, "error")
		l.log.Warn("feed check failed",
			logx.String("service", svc.ID), logx.String("kind", string(kind)), logx.Err(err))
		return 0, err
	}

	incidents, err := svc.Parser.Parse(payload, kind)
	if err != nil {
		l.countCheck(svc.ID, "malformed")
		l.log.Warn("malformed feed payload",
			logx.String("service", svc.ID), logx.String("kind", string(kind)), logx.Err(err))
		return 0, err
	}
	l.countCheck(svc.ID, "ok")

	dests := l.registry.ListDestinations(svc.ID)
	if len(dests) == 0 {
		return 0, nil
	}

	dispatched := 0
	for _, inc := range incidents {
		up, ok := l.buildUpdate(inc)
		if !ok {
			// Ghost update: upstream re-delivered known content.
			continue
		}

		// Mark before dispatch. A crash after marking loses at most one
		// delivery; a crash after dispatching but before marking would
		// re-deliver forever.
		ids := newFieldIDs(up.NewFields)
		if err := l.seenStore.MarkSeen(ctx, ids); err != nil {
			l.log.Error("seen-set write failed; skipping dispatch for incident",
				logx.String("service", svc.ID), logx.String("incident", inc.ID), logx.Err(err))
			return dispatched, err
		}
		if l.metrics != nil {
			l.metrics.UpdatesFound.Inc()
		}
		if err := l.pacer.Wait(ctx); err != nil {
			return dispatched, err
		}
		l.dispatcher.Dispatch(ctx, svc, up, dests)
		dispatched++
	}
	return dispatched, nil
}

// buildUpdate computes the genuinely-new subset of an incident's fields.
// It returns false when nothing is new, in which case no Update exists.
func (l *Loop) buildUpdate(inc status.Incident) (status.Update, bool) {
	var fresh []status.UpdateField
	seenIDs := map[string]bool{}
	for _, f := range inc.Fields {
		if seenIDs[f.UpdateID] {
			// Continuation fields share the original's ID; keep them with it.
			if len(fresh) > 0 && fresh[len(fresh)-1].UpdateID == f.UpdateID {
				fresh = append(fresh, f)
			}
			continue
		}
		seenIDs[f.UpdateID] = true
		if l.seenStore.IsNew(f.UpdateID) {
			fresh = append(fresh, f)
		}
	}
	if len(fresh) == 0 {
		return status.Update{}, false
	}
	return status.Update{Incident: inc, NewFields: fresh}, true
}

func newFieldIDs(fields []status.UpdateField) []string {
	seenIDs := map[string]bool{}
	var out []string
	for _, f := range fields {
		if !seenIDs[f.UpdateID] {
			seenIDs[f.UpdateID] = true
			out = append(out, f.UpdateID)
		}
	}
	return out
}

func (l *Loop) countCheck(service, outcome string) {
	if l.metrics != nil {
		l.metrics.ServiceChecks.WithLabelValues(service, outcome).Inc()
	}
}

// Snap returns a copy of the liveness state.
func (l *Loop) Snap() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snap
}

// Healthy reports whether the loop has ticked recently enough to be
// considered alive (three poll periods of slack).
func (l *Loop) Healthy() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.snap.LastTick.IsZero() {
		// Not ticked yet; healthy during startup grace.
		return true
	}
	return time.Since(l.snap.LastTick) < 3*l.cfg.Interval
}
