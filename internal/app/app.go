package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"alertbot/internal/config"
	"alertbot/internal/engine"
	"alertbot/internal/registry"
	"alertbot/internal/runtime/supervisor"
	"alertbot/internal/source"
	"alertbot/internal/state"
	"alertbot/internal/transport/telegram"
	logx "alertbot/pkg/logx"
)

const (
	defaultFlushSpec = "@every 5m"
	defaultPruneSpec = "@every 1h"
)

// App wires the full service: config, logging, state, registry, chat
// transport, the fan-out engine, the topic poller and the schedules.
type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store   state.Store
	reg     *registry.Registry
	adapter *telegram.Adapter
	eng     *engine.Engine
	poller  *source.Poller
	cron    *cron.Cron
	sup     *supervisor.Supervisor
}

// New loads the config and initializes logging. Everything else starts in
// Start so a config error fails fast before any goroutine runs.
func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig(cfg.Logging.File),
	})
	mgr.SetLogger(log.With(logx.String("svc", "config")))

	return &App{cfgMgr: mgr, logSvc: logSvc, log: log}, nil
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgMgr.Get()
	if cfg == nil {
		return errors.New("config not loaded")
	}

	engCfg, err := buildEngineConfig(cfg)
	if err != nil {
		return err
	}

	busy, err := config.ParseDurationField("state.busy_timeout", cfg.State.BusyTimeout)
	if err != nil {
		return err
	}
	st, err := state.Open(state.Config{
		Driver:      cfg.State.Driver,
		Path:        cfg.State.Path,
		BusyTimeout: busy,
	}, a.log.With(logx.String("svc", "state")))
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	a.store = st

	a.reg = registry.New(cfg.Registry.Path, a.log.With(logx.String("svc", "registry")))
	if err := a.reg.Load(); err != nil {
		// The registry file is owned externally and may appear later; the
		// watcher picks it up. Until then nobody is selected.
		a.log.Warn("registry unavailable at startup", logx.String("path", cfg.Registry.Path), logx.Err(err))
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	a.adapter, err = telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, a.log.With(logx.String("svc", "telegram")))
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	a.eng = engine.New(engCfg, engine.Deps{
		Store:    a.store,
		Adapter:  a.adapter,
		Snapshot: a.reg.Get,
		Gates:    buildGates(cfg.Engine, a.log),
		Log:      a.log.With(logx.String("svc", "engine")),
	})

	srcTimeout, err := config.ParseDurationOrDefault("source.timeout", cfg.Source.Timeout, 10*time.Second)
	if err != nil {
		return err
	}
	srcInterval, err := config.ParseDurationOrDefault("source.poll_interval", cfg.Source.PollInterval, 30*time.Second)
	if err != nil {
		return err
	}
	topics := make([]source.Topic, 0, len(cfg.Source.Topics))
	for _, t := range cfg.Source.Topics {
		cat := t.Category
		if cat == "" {
			cat = t.Name
		}
		topics = append(topics, source.Topic{Name: t.Name, Category: cat})
	}
	a.poller = source.NewPoller(
		source.NewClient(cfg.Source.BaseURL, srcTimeout),
		topics, srcInterval, a.store,
		a.handleMessage,
		a.log.With(logx.String("svc", "source")),
	)

	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("svc", "supervisor"))))

	a.sup.GoRestart("source.poll", a.poller.Run)
	a.sup.GoRestart("registry.watch", a.reg.Watch)
	a.sup.GoRestart("config.watch", a.cfgMgr.Watch)
	a.sup.Go("config.apply", a.applyConfigUpdates)
	a.sup.Go("telegram.updates", func(ctx context.Context) error {
		a.adapter.Start(ctx)
		return nil
	})

	a.registerCommands()

	if err := a.startSchedules(cfg); err != nil {
		return err
	}

	a.log.Info("started",
		logx.Int("topics", len(topics)),
		logx.String("state_driver", cfg.State.Driver),
		logx.Duration("poll_interval", srcInterval))
	return nil
}

// handleMessage converts one polled source entry into a pipeline event.
func (a *App) handleMessage(ctx context.Context, topic, category string, msg source.Message) {
	prio := msg.Priority
	if prio == 0 {
		prio = 3
	}
	a.eng.Process(ctx, engine.Event{
		Topic:    topic,
		Category: category,
		Title:    msg.Title,
		Message:  msg.Message,
		Priority: prio,
		Time:     time.Unix(msg.Time, 0),
	})
}

// applyConfigUpdates re-applies the logging config on hot reload. The
// pipeline itself keeps its startup config; a restart picks up the rest.
func (a *App) applyConfigUpdates(ctx context.Context) error {
	sub := a.cfgMgr.Subscribe(1)
	defer a.cfgMgr.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg, ok := <-sub:
			if !ok {
				return nil
			}
			if cfg == nil {
				continue
			}
			a.logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File:    logx.FileConfig(cfg.Logging.File),
			})
		}
	}
}

func (a *App) startSchedules(cfg *config.Config) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))

	flushSpec := cfg.Engine.Digest.FlushSpec
	if flushSpec == "" {
		flushSpec = defaultFlushSpec
	}
	if _, err := c.AddFunc(flushSpec, func() {
		a.eng.FlushDigests(a.sup.Context())
	}); err != nil {
		return fmt.Errorf("engine.digest.flush_spec: %w", err)
	}

	pruneSpec := cfg.Engine.Audit.PruneSpec
	if pruneSpec == "" {
		pruneSpec = defaultPruneSpec
	}
	if _, err := c.AddFunc(pruneSpec, func() {
		a.eng.Recorder().Prune(a.sup.Context())
	}); err != nil {
		return fmt.Errorf("engine.audit.prune_spec: %w", err)
	}

	c.Start()
	a.cron = c
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	var firstErr error
	if a.cron != nil {
		select {
		case <-a.cron.Stop().Done():
		case <-ctx.Done():
			firstErr = ctx.Err()
		}
	}
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.log.Info("stopped", logx.Err(firstErr))
	if a.logSvc != nil {
		_ = a.logSvc.Close()
	}
	return firstErr
}

// buildEngineConfig parses the duration-string knobs into the typed
// pipeline config. Zero values fall back inside the engine.
func buildEngineConfig(cfg *config.Config) (engine.Config, error) {
	e := cfg.Engine
	out := engine.Config{
		MessageTargetsMax:      e.MessageTargetsMax,
		MinPriority:            e.MinPriority,
		AlwaysCategory:         e.AlwaysCategory,
		GatedCategory:          e.GatedCategory,
		CriticalKeywords:       e.CriticalKeywords,
		CriticalNegations:      e.CriticalNegations,
		RetryMax:               e.RetryMax,
		RatePerSec:             e.RatePerSec,
		MaxMessageRunes:        e.MaxMessageRunes,
		TransientFailThreshold: e.TransientFailThreshold,
		DigestMaxItems:         e.Digest.MaxItems,
		DigestMaxPreview:       e.Digest.MaxPreview,
		NoiseMarkers:           e.Digest.NoiseMarkers,
		AuditMaxEntries:        e.Audit.MaxEntries,
	}

	fields := []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"engine.dedup_window", e.DedupWindow, &out.DedupWindow},
		{"engine.incident_retention", e.IncidentRetention, &out.IncidentRetention},
		{"engine.ack_ttl", e.AckTTL, &out.AckTTL},
		{"engine.collapse_window", e.CollapseWindow, &out.CollapseWindow},
		{"engine.retry_base", e.RetryBase, &out.RetryBase},
		{"engine.retry_max_delay", e.RetryMaxDelay, &out.RetryMaxDelay},
		{"engine.send_timeout", e.SendTimeout, &out.SendTimeout},
		{"engine.quarantine_duration", e.QuarantineDuration, &out.QuarantineDuration},
		{"engine.audit.retention", e.Audit.Retention, &out.AuditRetention},
	}
	for _, f := range fields {
		d, err := config.ParseDurationField(f.path, f.raw)
		if err != nil {
			return engine.Config{}, err
		}
		*f.dst = d
	}

	for _, t := range cfg.Source.Topics {
		if t.DedupWindow == "" {
			continue
		}
		d, err := config.ParseDurationField("source.topics."+t.Name+".dedup_window", t.DedupWindow)
		if err != nil {
			return engine.Config{}, err
		}
		if out.TopicDedupWindows == nil {
			out.TopicDedupWindows = map[string]time.Duration{}
		}
		out.TopicDedupWindows[t.Name] = d
	}
	return out, nil
}
