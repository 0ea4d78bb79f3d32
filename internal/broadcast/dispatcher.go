package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"joanabot/internal/eventbus"
	"joanabot/internal/runtime/supervisor"
	logx "joanabot/pkg/logx"
)

type Dispatcher struct {
	sender    Sender
	completer Completer
	prompts   PromptSource
	bus       eventbus.Bus
	log       logx.Logger

	interval atomic.Int64
	stopped  atomic.Bool
	sup      *supervisor.Supervisor

	statusMu  sync.RWMutex
	status    map[string]*JobStatus
	done      map[string]chan struct{}
	statusMax int
	statusTTL time.Duration
}

// New returns a running dispatcher. completer and prompts are only needed by
// GenerateAndDispatch and may be nil otherwise.
func New(sender Sender, completer Completer, prompts PromptSource, bus eventbus.Bus, log logx.Logger, opts Options) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	d := &Dispatcher{
		sender:    sender,
		completer: completer,
		prompts:   prompts,
		bus:       bus,
		log:       log,
		sup:       supervisor.New(context.Background(), supervisor.WithLogger(log)),
		status:    map[string]*JobStatus{},
		done:      map[string]chan struct{}{},
		statusMax: opts.StatusMax,
		statusTTL: opts.StatusTTL,
	}
	d.SetInterval(opts.Interval)
	return d
}

// SetInterval changes the default pacing for jobs dispatched afterwards.
func (d *Dispatcher) SetInterval(v time.Duration) {
	if v <= 0 {
		v = DefaultInterval
	}
	d.interval.Store(int64(v))
}

func (d *Dispatcher) Interval() time.Duration { return time.Duration(d.interval.Load()) }

// Dispatch schedules message for every recipient and returns the job ID
// without waiting for any send. interval <= 0 uses the dispatcher default.
// ctx only guards the call itself; the job runs until done or Stop.
func (d *Dispatcher) Dispatch(ctx context.Context, recipients []string, message string, interval time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	j, err := d.newJob(recipients, interval)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyMessage
	}
	j.text = message
	d.register(j, StateSending)
	d.sup.Go("broadcast."+j.id, func(runCtx context.Context) error {
		d.run(runCtx, j)
		return nil
	})
	return j.id, nil
}

// GenerateAndDispatch asks the completer for one invitation and sends it to
// every recipient. A generation failure ends the job before any send.
// Like Dispatch, ctx does not bound the job.
func (d *Dispatcher) GenerateAndDispatch(ctx context.Context, recipients []string, interval time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if d.completer == nil || d.prompts == nil {
		return "", errors.New("broadcast: no completer configured")
	}
	j, err := d.newJob(recipients, interval)
	if err != nil {
		return "", err
	}
	d.register(j, StateGenerating)
	d.sup.Go("broadcast."+j.id, func(runCtx context.Context) error {
		res := d.completer.Complete(runCtx, "", nil, d.prompts.BroadcastPrompt())
		if !res.OK() {
			d.log.Warn("broadcast generation failed", logx.String("job", j.id), logx.Err(res.Err()))
			d.fail(j.id, res.Err())
			return nil
		}
		j.text = res.Text
		d.setState(j.id, StateSending)
		d.run(runCtx, j)
		return nil
	})
	return j.id, nil
}

func (d *Dispatcher) newJob(recipients []string, interval time.Duration) (job, error) {
	if d.stopped.Load() {
		return job{}, ErrStopped
	}
	snapshot := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if r = strings.TrimSpace(r); r != "" {
			snapshot = append(snapshot, r)
		}
	}
	if len(snapshot) == 0 {
		return job{}, ErrNoRecipients
	}
	if interval <= 0 {
		interval = d.Interval()
	}
	return job{id: "bc_" + uuid.NewString(), recipients: snapshot, interval: interval}, nil
}

func (d *Dispatcher) run(ctx context.Context, j job) {
	start := time.Now()
	d.setRunning(j.id)
	d.bus.Publish(eventbus.Event{Type: eventbus.BroadcastStarted, Data: j.id})
	d.log.Info("broadcast job started", logx.String("job", j.id), logx.Int("total", len(j.recipients)), logx.Duration("interval", j.interval))

	lim := rate.NewLimiter(rate.Every(j.interval), 1)
	for _, r := range j.recipients {
		if err := lim.Wait(ctx); err != nil {
			d.log.Warn("broadcast job canceled", logx.String("job", j.id), logx.Err(err))
			d.fail(j.id, err)
			return
		}
		if err := d.sendOne(ctx, r, j.text); err != nil {
			d.log.Warn("broadcast send failed", logx.String("job", j.id), logx.String("recipient", r), logx.Err(err))
			d.markFail(j.id, r)
			continue
		}
		d.log.Debug("broadcast sent", logx.String("job", j.id), logx.String("recipient", r))
		d.markSent(j.id)
	}
	d.finish(j.id, StateDone, "")

	if st, ok := d.Status(j.id); ok {
		fields := []logx.Field{
			logx.String("job", j.id),
			logx.Int("total", st.Total),
			logx.Int("failed", st.Failed),
			logx.Duration("dur", time.Since(start)),
		}
		if st.Failed > 0 {
			d.log.Warn("broadcast job finished with failures", fields...)
		} else {
			d.log.Info("broadcast job finished", fields...)
		}
	}
}

func (d *Dispatcher) sendOne(ctx context.Context, recipient, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	return d.sender.Send(ctx, recipient, text)
}

// Wait blocks until the job finishes or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context, id string) (JobStatus, error) {
	d.statusMu.RLock()
	ch, ok := d.done[id]
	d.statusMu.RUnlock()
	if !ok {
		st, found := d.Status(id)
		if !found {
			return JobStatus{}, fmt.Errorf("broadcast: unknown job %q", id)
		}
		return st, nil
	}
	select {
	case <-ctx.Done():
		return JobStatus{}, ctx.Err()
	case <-ch:
	}
	st, _ := d.Status(id)
	return st, nil
}

// Snapshot reports the dispatcher's goroutines.
func (d *Dispatcher) Snapshot() supervisor.Snapshot { return d.sup.Snapshot() }

// Stop cancels running jobs and waits for them to return.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.stopped.Store(true)
	start := time.Now()
	err := d.sup.Stop(ctx)
	d.log.Info("dispatcher stopped", logx.Duration("took", time.Since(start)))
	return err
}
