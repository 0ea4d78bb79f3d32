// Package app wires the chat assistant together and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"joanabot/internal/admission"
	"joanabot/internal/broadcast"
	"joanabot/internal/completion"
	"joanabot/internal/config"
	"joanabot/internal/conversation"
	"joanabot/internal/eventbus"
	"joanabot/internal/persona"
	"joanabot/internal/retry"
	"joanabot/internal/runtime/supervisor"
	"joanabot/internal/scheduler"
	"joanabot/internal/storage"
	"joanabot/internal/transport/relay"
	"joanabot/internal/transport/telegram"
	"joanabot/internal/transport/webhook"
	"joanabot/internal/transport/ws"
	logx "joanabot/pkg/logx"
)

const (
	scheduleSweep  = "admission.sweep"
	scheduleInvite = "broadcast.invite"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store      storage.Store
	gate       *admission.Gate
	prompts    *persona.FileSource
	client     *completion.Client
	orch       *conversation.Orchestrator
	dispatcher *broadcast.Dispatcher // nil without an outbound transport
	sched      *scheduler.Service
	http       *webhook.Server   // nil when http.addr is empty
	tg         *telegram.Adapter // nil without a token
}

type Option func(*config.ConfigManager)

// WithEnvLookup replaces os.LookupEnv for config overrides.
func WithEnvLookup(fn func(string) (string, bool)) Option {
	return func(m *config.ConfigManager) { m.SetEnvLookup(fn) }
}

func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	for _, o := range opts {
		o(cfgm)
	}
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	bus := eventbus.New()

	store, err := storage.Open(mapStorageConfig(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	a := &App{cfgm: cfgm, log: log.With(logx.String("comp", "app")), logs: logSvc, bus: bus, store: store}
	if err := a.build(cfg, log); err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, log logx.Logger) error {
	a.gate = admission.New(cfg.Admission.CooldownDuration())
	a.prompts = persona.NewFileSource(cfg.Conversation.PromptPath, cfg.Conversation.InvitePath, log.With(logx.String("comp", "persona")))

	cc := cfg.Completion
	dial, respHeader, overall := cc.Timeouts()
	a.client = completion.New(completion.Options{
		URL:             cc.URL,
		APIKey:          cc.APIKey,
		Model:           cc.Model,
		DialTimeout:     dial,
		ResponseTimeout: respHeader,
		RequestTimeout:  overall,
		InputCostPer1K:  cc.InputCostPer1K,
		OutputCostPer1K: cc.OutputCostPer1K,
	}, a.prompts, retry.New(cc.MaxAttempts, cc.Backoff(), log.With(logx.String("comp", "retry"))), log.With(logx.String("comp", "completion")))

	a.orch = conversation.New(a.gate, a.store, a.client, conversation.Options{
		Window: cfg.Conversation.HistoryWindow,
		Bus:    a.bus,
		Log:    log.With(logx.String("comp", "conversation")),
	})

	if tok := strings.TrimSpace(cfg.Telegram.Token); tok != "" {
		tg, err := telegram.New(telegram.Config{Token: tok, PollTimeout: cfg.Telegram.PollTimeoutDuration()},
			a.orch, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		a.tg = tg
	}

	sender, err := a.outboundSender(cfg, log)
	if err != nil {
		return err
	}
	if sender != nil {
		a.dispatcher = broadcast.New(sender, a.client, a.prompts, a.bus, log.With(logx.String("comp", "broadcast")), broadcast.Options{
			Interval:  cfg.Broadcast.IntervalDuration(),
			StatusMax: cfg.Broadcast.MaxStatus,
			StatusTTL: cfg.Broadcast.StatusTTLDuration(),
		})
	} else {
		a.log.Info("broadcast disabled: no outbound transport", logx.String("transport", cfg.Broadcast.Transport))
	}

	a.sched = scheduler.New(scheduler.Config{Timezone: cfg.Scheduler.Timezone}, log.With(logx.String("comp", "scheduler")))
	if err := a.registerSchedules(cfg); err != nil {
		return err
	}

	if addr := strings.TrimSpace(cfg.HTTP.Addr); addr != "" {
		read, write, idle := cfg.HTTP.Timeouts()
		var bc webhook.Broadcaster
		if a.dispatcher != nil {
			bc = a.dispatcher
		}
		a.http = webhook.New(webhook.Config{Addr: addr, ReadTimeout: read, WriteTimeout: write, IdleTimeout: idle},
			a.orch, bc, a.store, a.Health, log.With(logx.String("comp", "http")))
		if cfg.HTTP.WebSocket {
			a.http.Mount("/ws", ws.New(a.orch, log.With(logx.String("comp", "ws"))))
		}
	}
	return nil
}

func (a *App) outboundSender(cfg *config.Config, log logx.Logger) (broadcast.Sender, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Broadcast.Transport)) {
	case "relay":
		if strings.TrimSpace(cfg.Relay.URL) == "" {
			return nil, nil
		}
		cc := cfg.Completion
		r, err := relay.New(relay.Config{URL: cfg.Relay.URL, Timeout: cfg.Relay.TimeoutDuration()},
			retry.New(cc.MaxAttempts, cc.Backoff(), log.With(logx.String("comp", "retry"))),
			log.With(logx.String("comp", "relay")))
		if err != nil {
			return nil, fmt.Errorf("relay: %w", err)
		}
		return r, nil
	case "telegram":
		if a.tg == nil {
			return nil, nil
		}
		return a.tg, nil
	default:
		return nil, fmt.Errorf("unknown broadcast.transport %q", cfg.Broadcast.Transport)
	}
}

func (a *App) registerSchedules(cfg *config.Config) error {
	ttl := cfg.Admission.TTLDuration()
	err := a.sched.AddInterval(scheduleSweep, cfg.Admission.SweepEvery(), 10*time.Second, func(context.Context) error {
		if n := a.gate.Sweep(time.Now(), ttl); n > 0 {
			a.log.Debug("admission records evicted", logx.Int("count", n), logx.Int("remaining", a.gate.Len()))
		}
		return nil
	})
	if err != nil {
		return err
	}

	spec := strings.TrimSpace(cfg.Broadcast.Schedule)
	if !cfg.Scheduler.Enabled || spec == "" {
		a.sched.Remove(scheduleInvite)
		return nil
	}
	if a.dispatcher == nil {
		a.log.Warn("broadcast.schedule ignored: no outbound transport")
		return nil
	}
	return a.sched.AddSchedule(scheduleInvite, spec, 0, a.broadcastInvite)
}

// broadcastInvite generates one invitation and sends it to every stored sender.
func (a *App) broadcastInvite(ctx context.Context) error {
	recipients, err := a.store.ListSenders(ctx)
	if err != nil {
		return fmt.Errorf("list senders: %w", err)
	}
	if len(recipients) == 0 {
		a.log.Info("scheduled broadcast skipped: no senders")
		return nil
	}
	id, err := a.dispatcher.GenerateAndDispatch(context.WithoutCancel(ctx), recipients, 0)
	if err != nil {
		return err
	}
	a.log.Info("scheduled broadcast started", logx.String("job", id), logx.Int("recipients", len(recipients)))
	return nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	}
}

// Orchestrator exposes the message pipeline (CLI and tests).
func (a *App) Orchestrator() *conversation.Orchestrator { return a.orch }

func (a *App) Store() storage.Store { return a.store }

// HTTPHandler returns the API handler, or nil when HTTP is disabled.
func (a *App) HTTPHandler() http.Handler {
	if a.http == nil {
		return nil
	}
	return a.http.Handler()
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Health is rendered by GET /healthz.
func (a *App) Health() any {
	cfg := a.cfgm.Get()
	h := map[string]any{
		"status":            "ok",
		"admission_records": a.gate.Len(),
		"cooldown":          a.gate.Cooldown().String(),
		"history_window":    a.orch.Window(),
		"model":             cfg.Completion.Model,
		"scheduler":         a.sched.Snapshot(),
	}
	sups := map[string]supervisor.Snapshot{}
	if a.sup != nil {
		sups["app"] = a.sup.Snapshot()
	}
	if a.dispatcher != nil {
		sups["broadcast"] = a.dispatcher.Snapshot()
	}
	if a.tg != nil {
		if sup := a.tg.Supervisor(); sup != nil {
			sups["telegram"] = sup.Snapshot()
		}
	}
	h["supervisors"] = sups
	return h
}
