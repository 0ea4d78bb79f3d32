// Package telegram runs the chat over a Telegram bot: text messages go to the
// conversation handler and replies come back to the same chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"joanabot/internal/runtime/supervisor"
	"joanabot/internal/transport"
	logx "joanabot/pkg/logx"
)

const (
	textLimit   = 4000
	typingEvery = 4 * time.Second
)

type Config struct {
	Token       string
	PollTimeout time.Duration

	// offline skips the getMe call; used by tests.
	offline bool
}

type Adapter struct {
	cfg  Config
	log  logx.Logger
	bot  *tele.Bot
	chat transport.Handler

	runMu sync.Mutex
	sup   *supervisor.Supervisor
}

func New(cfg Config, chat transport.Handler, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: cfg.offline,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b, chat: chat}
	a.bot.Handle(tele.OnText, a.onText)
	return a, nil
}

// Supervisor returns the adapter's supervisor (nil if not started).
func (a *Adapter) Supervisor() *supervisor.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

func (a *Adapter) context() context.Context {
	if sup := a.Supervisor(); sup != nil {
		return sup.Context()
	}
	return context.Background()
}

func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Chat == nil {
		return nil
	}
	chat := m.Chat
	sender := strconv.FormatInt(chat.ID, 10)
	ctx := a.context()

	stop := keepTyping(ctx, typingEvery, func() error { return a.bot.Notify(chat, tele.Typing) })
	out := a.chat.Handle(ctx, sender, m.Text)
	stop()

	reply, ok := transport.Render(out)
	if !ok {
		return nil
	}
	if err := a.sendChunks(ctx, chat, reply.Reply); err != nil {
		a.log.Warn("telegram reply failed", logx.String("chat", sender), logx.Err(err))
	}
	return nil
}

// keepTyping shows the "typing" action until the returned stop is called.
// Telegram clears the indicator after about five seconds, so it is renewed.
func keepTyping(ctx context.Context, every time.Duration, notify func() error) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			_ = notify()
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// Send implements broadcast.Sender. recipientID is a numeric chat ID.
func (a *Adapter) Send(ctx context.Context, recipientID, text string) error {
	id, err := strconv.ParseInt(strings.TrimSpace(recipientID), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram recipient %q is not a chat id", recipientID)
	}
	return a.sendChunks(ctx, tele.ChatID(id), text)
}

func (a *Adapter) sendChunks(ctx context.Context, to tele.Recipient, text string) error {
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.bot.Send(to, chunk); err != nil {
			return err
		}
	}
	return nil
}

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries that keep chunks at least a third of the limit.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func (a *Adapter) Start(ctx context.Context) {
	a.runMu.Lock()
	if a.sup != nil {
		a.runMu.Unlock()
		return
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "telegram"))))
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// Start blocks until Stop; an early return while still running is restarted.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		if c.Err() == nil {
			return errors.New("poller exited")
		}
		return nil
	}, 500*time.Millisecond, 10*time.Second)
}

// Stop ends polling. It waits at most two seconds for the long poll to return.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	a.runMu.Unlock()
	if sup == nil {
		return nil
	}
	sup.Cancel()

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}
