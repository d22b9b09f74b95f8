// Package app wires the pipeline together and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	tele "gopkg.in/telebot.v4"

	"statuswatch/internal/bot"
	"statuswatch/internal/config"
	"statuswatch/internal/dispatch"
	"statuswatch/internal/feed"
	"statuswatch/internal/ops"
	"statuswatch/internal/poll"
	"statuswatch/internal/seen"
	"statuswatch/internal/storage"
	"statuswatch/internal/subs"
	"statuswatch/internal/transport"
	"statuswatch/pkg/logx"
)

type App struct {
	cfgm     *config.Manager
	log      logx.Logger
	logClose func() error

	store     *storage.Store
	seenStore *seen.Store
	registry  *subs.Registry
	client    *feed.Client
	loop      *poll.Loop
	opsServer *ops.Server

	tbot *tele.Bot

	stopWatch context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	bootLog := logx.NewConsole("INFO")
	cfgm := config.NewManager(cfgPath, bootLog)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, logClose := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	appLog := log.With(logx.String("comp", "app"))

	// Parse every derived setting before opening any resource, so a bad
	// config cannot leave a half-built app holding an open store.
	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	sendTimeout, err := config.ParseDurationField("dispatch.send_timeout", cfg.Dispatch.SendTimeout)
	if err != nil {
		return nil, err
	}
	pollCfg, err := mapPollConfig(cfg)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	ctx := context.Background()
	seenStore, err := seen.Open(ctx, store, log.With(logx.String("comp", "seen")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	registry, err := subs.Load(ctx, store, log.With(logx.String("comp", "subs")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	tbot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Telegram.Token,
		Poller: &tele.LongPoller{Timeout: pollTimeout},
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("telegram bot: %w", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	metrics := ops.NewMetrics(promReg)

	client := feed.NewClient(log)
	dispatcher := dispatch.New(
		transport.NewTelegram(tbot, log),
		transport.NewWebhook(log),
		registry,
		metrics,
		log,
	)
	dispatcher.SetSendTimeout(sendTimeout)

	loop := poll.New(client, seenStore, registry, dispatcher, metrics, log, pollCfg)
	if wd := ops.Watchdog(appLog); wd != nil {
		loop.SetWatchdog(wd)
	}

	a := &App{
		cfgm:      cfgm,
		log:       appLog,
		logClose:  logClose,
		store:     store,
		seenStore: seenStore,
		registry:  registry,
		client:    client,
		loop:      loop,
		tbot:      tbot,
	}
	if cfg.Ops.Enabled {
		a.opsServer = ops.NewServer(cfg.Ops.Addr, pollLiveness{loop}, promReg, log)
	}

	bot.Register(tbot, registry, client, log)
	return a, nil
}

func mapPollConfig(cfg *config.Config) (poll.Config, error) {
	interval, err := config.ParseDurationField("poll.interval", cfg.Poll.Interval)
	if err != nil {
		return poll.Config{}, err
	}
	deadline, err := config.ParseDurationField("poll.deadline", cfg.Poll.Deadline)
	if err != nil {
		return poll.Config{}, err
	}
	gap, err := config.ParseDurationField("poll.update_gap", cfg.Poll.UpdateGap)
	if err != nil {
		return poll.Config{}, err
	}
	return poll.Config{
		Interval:  interval,
		Deadline:  deadline,
		Workers:   cfg.Poll.Workers,
		UpdateGap: gap,
	}, nil
}

// pollLiveness adapts the poll loop to the ops server's Liveness interface.
type pollLiveness struct{ loop *poll.Loop }

func (p pollLiveness) Healthy() bool { return p.loop.Healthy() }
func (p pollLiveness) Snap() any     { return p.loop.Snap() }

func (a *App) Start(ctx context.Context) error {
	// First run (or schema migration): seed the seen set before the loop is
	// allowed to dispatch, so a fresh install doesn't flood every destination
	// with the full incident history.
	if err := a.bootstrapIfNeeded(ctx); err != nil {
		return err
	}

	if a.opsServer != nil {
		a.opsServer.Start()
	}
	if err := a.loop.Start(ctx); err != nil {
		return err
	}

	go a.tbot.Start()
	a.log.Info("telegram polling started")

	// Config hot reload: only the log level is applied live; transport and
	// storage changes need a restart.
	wctx, cancel := context.WithCancel(ctx)
	a.stopWatch = cancel
	a.cfgm.OnChange(func(cfg *config.Config) {
		logx.SetLevel(logx.ParseLevel(cfg.Logging.Level, logx.LevelInfo))
		a.log.Info("log level applied", logx.String("level", cfg.Logging.Level))
	})
	go func() {
		if err := a.cfgm.Watch(wctx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	ops.NotifyReady(a.log)
	a.log.Info("statuswatch running")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.stopWatch != nil {
		a.stopWatch()
	}
	a.loop.Stop()
	if a.opsServer != nil {
		a.opsServer.Stop(ctx)
	}
	if a.tbot != nil {
		a.tbot.Stop()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logClose != nil {
		_ = a.logClose()
	}
	return nil
}
