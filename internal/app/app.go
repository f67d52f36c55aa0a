// Package app assembles the daemon: configuration, logging, storage,
// page contexts, the detection agent, the schedule manager and the
// Telegram surface, with lifecycle in dependency order.
package app

import (
	"context"
	"fmt"
	"time"

	"punchbot/internal/action"
	"punchbot/internal/agent"
	"punchbot/internal/config"
	"punchbot/internal/detect"
	"punchbot/internal/eventbus"
	"punchbot/internal/intent"
	"punchbot/internal/journal"
	"punchbot/internal/messaging"
	"punchbot/internal/notify"
	"punchbot/internal/page"
	"punchbot/internal/scheduler"
	"punchbot/internal/sessions"
	"punchbot/internal/storage"
	"punchbot/internal/telegram"
	"punchbot/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	bus      eventbus.Bus
	store    storage.Store
	registry *sessions.Registry
	jour     *journal.Journal
	sched    *scheduler.Manager
	tg       *telegram.Adapter
	notifier *notify.Service

	runCancel context.CancelFunc
}

// New loads the configuration at path and wires every component.
// Nothing is started; call Start.
func New(path string) (*App, error) {
	a := &App{}

	a.cfgMgr = config.NewManager(path, logx.Nop())
	cfg, err := a.cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	a.logSvc, a.log = logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.cfgMgr.SetLogger(a.log.With(logx.String("component", "config")))

	busyTimeout, err := config.Duration("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return nil, err
	}
	a.store, err = storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, a.log.With(logx.String("component", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	a.bus = eventbus.New()

	cacheTTL, err := config.Duration("page.cache_ttl", cfg.Page.CacheTTL, 30*time.Second)
	if err != nil {
		return nil, err
	}
	fetcher := page.NewFetcher(a.log.With(logx.String("component", "fetch")), cacheTTL)
	a.registry = sessions.NewRegistry(fetcher, a.bus, a.log.With(logx.String("component", "sessions")))

	chain := detect.NewChain(a.log.With(logx.String("component", "detect")))
	exec := action.New(action.Config{}, a.log.With(logx.String("component", "action")))
	ag := agent.New(chain, exec, a.log.With(logx.String("component", "agent")))
	a.registry.SetAttach(ag.Attach)

	a.jour = journal.New(journal.Config{
		ViewSize:    cfg.History.ViewSize,
		PersistSize: cfg.History.PersistSize,
	}, a.store, a.log.With(logx.String("component", "journal")))

	schedCfg, err := schedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.sched = scheduler.New(schedCfg, a.registry, a.jour, a.store, a.bus,
		a.log.With(logx.String("component", "scheduler")))

	pollTimeout, err := config.Duration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	a.tg, err = telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		OwnerIDs:    cfg.Telegram.OwnerIDs,
		ChatID:      cfg.Telegram.ChatID,
		PollTimeout: pollTimeout,
	}, a, a.log.With(logx.String("component", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	a.notifier = notify.New(notify.Config{
		Enabled:    cfg.Notify.Enabled,
		RatePerSec: cfg.Notify.RatePerSec,
	}, a.tg, a.bus, a.log.With(logx.String("component", "notify")))

	a.cfgMgr.OnChange(a.applyConfig)
	return a, nil
}

func schedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	loadGrace, err := config.Duration("schedule.load_grace", cfg.Schedule.LoadGrace, 2*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		AutoSchedule: cfg.Schedule.Auto,
		CheckinTime:  cfg.Schedule.CheckinTime,
		CheckoutTime: cfg.Schedule.CheckoutTime,
		PageURL:      cfg.Page.URL,
		LoadGrace:    loadGrace,
	}, nil
}

// Start brings the daemon up: restore history, arm schedules, open the
// Telegram surface and begin watching the config file.
func (a *App) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(context.Background())
	a.runCancel = cancel

	a.jour.Restore(ctx)
	a.notifier.Start(runCtx)
	a.sched.Start(runCtx)
	a.tg.Start(runCtx)

	go func() {
		if err := a.cfgMgr.Watch(runCtx); err != nil {
			a.log.Warn("config watcher stopped", logx.Err(err))
		}
	}()

	a.log.Info("daemon started")
}

// Stop tears components down in reverse order.
func (a *App) Stop(ctx context.Context) {
	if a.runCancel != nil {
		a.runCancel()
	}
	a.tg.Stop(ctx)
	a.sched.Stop(ctx)
	a.notifier.Stop(ctx)
	a.registry.CloseAll()
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}
	a.log.Info("daemon stopped")
	a.logSvc.Close()
}

// applyConfig handles a live reload. Only logging and schedule settings
// take effect without a restart; everything else needs a new process.
func (a *App) applyConfig(cfg *config.Config) {
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	schedCfg, err := schedulerConfig(cfg)
	if err != nil {
		a.log.Warn("reload: schedule settings rejected", logx.Err(err))
		return
	}
	a.sched.Apply(schedCfg)
}

// ---- telegram.Controller ----

// PerformNow runs the full dispatch pipeline for a manual trigger and
// records the outcome the same way a scheduled firing would.
func (a *App) PerformNow(ctx context.Context, in intent.Intent) (messaging.Response, error) {
	cfg := a.cfgMgr.Get()

	sess, created, err := a.registry.FindOrCreate(ctx, cfg.Page.URL)
	if err != nil {
		a.record(in, journal.KindFailure, "page context unavailable: "+err.Error())
		return messaging.Response{}, err
	}
	if created {
		a.log.Debug("created page context for manual trigger", logx.String("url", cfg.Page.URL))
	}
	sess.SetFocused(true)

	resp, err := messaging.Send(ctx, sess, messaging.NewEnvelope(in))
	switch {
	case err != nil:
		a.record(in, journal.KindFailure, err.Error())
		return messaging.Response{}, err
	case !resp.Success:
		a.record(in, journal.KindFailure, resp.Error)
	default:
		a.record(in, journal.KindSuccess, "via "+resp.Method)
	}
	return resp, nil
}

func (a *App) record(in intent.Intent, kind journal.Kind, detail string) {
	e := journal.Entry{At: time.Now(), Intent: in, Kind: kind, Detail: detail}
	a.jour.Append(context.Background(), e)
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeOutcome, Time: e.At, Data: e})
}

func (a *App) RecentOutcomes() []journal.Entry { return a.jour.Recent() }

func (a *App) SetAuto(on bool) error {
	if on {
		a.sched.EnableAll()
	} else {
		a.sched.DisableAll()
	}
	return nil
}

func (a *App) SetTimes(checkin, checkout string) error {
	return a.sched.SetTimes(checkin, checkout)
}

func (a *App) ScheduleStatus() []scheduler.Info { return a.sched.Snapshot() }
