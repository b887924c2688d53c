// Package app wires the daemon together: config load and hot reload,
// logging, storage, the scheduling engine, calendar feeds, the HTTP
// API, the optional cron trigger, and the optional Telegram notifier.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"timeblock/internal/calendar"
	"timeblock/internal/config"
	"timeblock/internal/engine"
	"timeblock/internal/model"
	"timeblock/internal/notify"
	"timeblock/internal/runtime/supervisor"
	"timeblock/internal/server"
	"timeblock/internal/storage"
	"timeblock/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager
	sup     *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store  *storage.Store
	engine *engine.Service
	notif  *notify.Telegram
	srv    *http.Server

	cronMu    sync.Mutex
	cron      *cron.Cron
	cronEntry cron.EntryID
	cronSpec  string
}

// noBusy is the busy source used when no calendar feeds are
// configured.
type noBusy struct{}

func (noBusy) ListBusyIntervals(context.Context, time.Time, time.Time) ([]model.BusyInterval, error) {
	return nil, nil
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if cfg.Schedule.HorizonDays > 0 {
		if err := store.SeedHorizonDays(context.Background(), cfg.Schedule.HorizonDays); err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	loc := cfg.Location()

	var busy engine.BusySource = noBusy{}
	if cfg.Calendar != nil && len(cfg.Calendar.Feeds) > 0 {
		feeds := make([]calendar.Feed, 0, len(cfg.Calendar.Feeds))
		for _, f := range cfg.Calendar.Feeds {
			feeds = append(feeds, calendar.Feed{ID: f.ID, URL: f.URL})
		}
		busy = calendar.New(feeds, cfg.Calendar.CacheDir, loc,
			log.With(logx.String("comp", "calendar")))
	}

	eng := engine.New(store, store, store, busy, log.With(logx.String("comp", "engine")))

	// Notification is best-effort: a bot that can't be reached at
	// startup disables summaries rather than failing the daemon.
	var notif *notify.Telegram
	if tg := telegramConfig(cfg); tg != nil {
		pollTimeout, err := config.ParseDurationOrDefault("notify.telegram.poll_timeout", tg.PollTimeout, 10*time.Second)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		notif, err = notify.NewTelegram(notify.Config{
			Token:       tg.Token,
			ChatID:      tg.ChatID,
			PollTimeout: pollTimeout,
		}, log.With(logx.String("comp", "notify")))
		if err != nil {
			log.Warn("telegram notifier unavailable; run summaries disabled", logx.Err(err))
			notif = nil
		}
	}
	if notif != nil {
		eng.SetOnRunFinished(notif.RunFinished)
	}

	readTimeout, _ := config.ParseDurationOrDefault("server.read_timeout", cfg.Server.ReadTimeout, 10*time.Second)
	writeTimeout, _ := config.ParseDurationOrDefault("server.write_timeout", cfg.Server.WriteTimeout, 30*time.Second)
	idleTimeout, _ := config.ParseDurationOrDefault("server.idle_timeout", cfg.Server.IdleTimeout, 60*time.Second)
	api := server.New(server.Options{
		Store:            store,
		Engine:           eng,
		Busy:             busy,
		Location:         loc,
		Token:            cfg.Server.Token,
		ReschedulePerMin: cfg.Server.ReschedulePerMin,
		Log:              log.With(logx.String("comp", "http")),
	})
	srv := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      api.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		engine:  eng,
		notif:   notif,
		srv:     srv,
		cron:    cron.New(cron.WithLocation(loc)),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal
// error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	a.sup.Go("http.serve", func(context.Context) error {
		a.log.Info("http server listening", logx.String("addr", a.srv.Addr))
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg := a.cfgm.Get(); cfg != nil {
		a.applyCronSpec(cfg.Schedule.Cron)
	}
	a.cron.Start()

	// Hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: only the latest config matters.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	// Harmless outside systemd; sd_notify is a no-op without the
	// NOTIFY_SOCKET environment.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	a.log.Info("app started")
	return nil
}

// applyReload applies the live-reloadable sections of a new config.
// Sections that need process restart (storage, server, calendar,
// timezone) only log a warning.
func (a *App) applyReload(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(logx.Config{
				Level:   newCfg.Logging.Level,
				Console: newCfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: newCfg.Logging.File.Enabled,
					Path:    newCfg.Logging.File.Path,
				},
			})
		case "schedule":
			a.applyCronSpec(newCfg.Schedule.Cron)
			if newCfg.Schedule.HorizonDays > 0 {
				// Seed-only semantics; an API-set horizon wins.
				_ = a.store.SeedHorizonDays(context.Background(), newCfg.Schedule.HorizonDays)
			}
		case "storage", "server", "calendar", "notify", "timezone":
			a.log.Warn("config section changed; restart required to take effect",
				logx.String("section", s))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// applyCronSpec swaps the periodic trigger. An empty spec disables it.
func (a *App) applyCronSpec(spec string) {
	spec = strings.TrimSpace(spec)
	a.cronMu.Lock()
	defer a.cronMu.Unlock()
	if spec == a.cronSpec {
		return
	}
	if a.cronEntry != 0 {
		a.cron.Remove(a.cronEntry)
		a.cronEntry = 0
	}
	a.cronSpec = spec
	if spec == "" {
		a.log.Info("periodic scheduling disabled")
		return
	}
	id, err := a.cron.AddFunc(spec, a.runScheduled)
	if err != nil {
		// The validator parses the spec before commit; this only
		// triggers for the initial config, which validateConfig covers.
		a.log.Error("invalid cron spec", logx.String("spec", spec), logx.Err(err))
		return
	}
	a.cronEntry = id
	a.log.Info("periodic scheduling enabled", logx.String("spec", spec))
}

// runScheduled is the cron callback. An overlapping firing is skipped,
// not queued.
func (a *App) runScheduled() {
	ctx := context.Background()
	if a.sup != nil {
		ctx = a.sup.Context()
	}
	_, err := a.engine.Run(ctx)
	if errors.Is(err, engine.ErrRunInProgress) {
		a.log.Debug("periodic run skipped; previous run still in flight")
		return
	}
	if err != nil {
		a.log.Error("periodic run failed", logx.Err(err))
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping")

	a.sup.Cancel()

	// Run each shutdown step with an upper bound so one component
	// can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Err(stepCtx.Err()))
		}
	}

	step("http", 3*time.Second, func(c context.Context) error {
		return a.srv.Shutdown(c)
	})
	step("cron", 2*time.Second, func(c context.Context) error {
		select {
		case <-a.cron.Stop().Done():
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	step("supervisor", 2*time.Second, func(c context.Context) error {
		return a.sup.Wait(c)
	})
	step("storage", 1*time.Second, func(context.Context) error {
		return a.store.Close()
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// validateConfig wraps Config.Validate with the checks that need
// app-level knowledge (cron spec syntax).
func validateConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if spec := strings.TrimSpace(cfg.Schedule.Cron); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("schedule.cron: %w", err)
		}
	}
	return nil
}

func telegramConfig(cfg *config.Config) *config.TelegramConfig {
	if cfg.Notify == nil || cfg.Notify.Telegram == nil || !cfg.Notify.Telegram.Enabled {
		return nil
	}
	return cfg.Notify.Telegram
}
