package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"joanabot/internal/config"
	"joanabot/internal/eventbus"
	"joanabot/internal/runtime/supervisor"
	"joanabot/internal/scheduler"
	logx "joanabot/pkg/logx"
)

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: an explicit invite prompt must exist before it is committed
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if p := strings.TrimSpace(cfg.Conversation.InvitePath); p != "" {
			if _, err := os.Stat(p); err != nil {
				return fmt.Errorf("conversation.invite_path: %w", err)
			}
		}
		return nil
	})

	if a.tg != nil {
		a.tg.Start(a.sup.Context())
	}
	if a.http != nil {
		a.sup.Go("http", a.http.Run)
	}
	a.sched.Start(a.sup.Context())

	a.sup.Go0("events", a.logEvents)

	sub := a.cfgm.Subscribe(4)
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("config.apply", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.applyLoop(c, sub)
	})

	cfg := a.cfgm.Get()
	a.log.Info("started",
		logx.String("model", cfg.Completion.Model),
		logx.String("storage", cfg.Storage.Driver),
		logx.String("http", cfg.HTTP.Addr),
		logx.Bool("telegram", a.tg != nil),
		logx.Bool("broadcast", a.dispatcher != nil),
	)
	return nil
}

func (a *App) applyLoop(c context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			if newCfg == nil {
				continue
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	if len(restart) > 0 {
		a.log.Warn("config sections changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogConfig(newCfg))
	a.gate.SetCooldown(newCfg.Admission.CooldownDuration())
	a.orch.SetWindow(newCfg.Conversation.HistoryWindow)
	a.prompts.SetPaths(newCfg.Conversation.PromptPath, newCfg.Conversation.InvitePath)
	if a.dispatcher != nil {
		a.dispatcher.SetInterval(newCfg.Broadcast.IntervalDuration())
	}

	a.sched.Apply(scheduler.Config{Timezone: newCfg.Scheduler.Timezone})
	if slices.Contains(sections, "admission") || slices.Contains(sections, "broadcast") || slices.Contains(sections, "scheduler") {
		if err := a.registerSchedules(newCfg); err != nil {
			a.log.Warn("schedules not updated", logx.Err(err))
		}
	}
}

// logEvents mirrors bus traffic at debug level.
func (a *App) logEvents(ctx context.Context) {
	ch, unsub := a.bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			fields := []logx.Field{logx.String("type", e.Type), logx.String("sender", e.Sender)}
			if e.Type == eventbus.BroadcastFinished {
				fields = append(fields, logx.Any("job", e.Data))
			}
			a.log.Debug("event", fields...)
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	var errs []error
	// step bounds one shutdown stage so a stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

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
			took := time.Since(start)
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Err(stepCtx.Err()))
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	if a.dispatcher != nil {
		step("broadcast", 3*time.Second, a.dispatcher.Stop)
	}
	if a.tg != nil {
		step("telegram", 3*time.Second, a.tg.Stop)
	}
	step("supervisor", 6*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}
