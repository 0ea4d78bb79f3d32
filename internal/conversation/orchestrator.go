// Package conversation turns an inbound chat message into a reply.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"joanabot/internal/completion"
	"joanabot/internal/conversation/history"
	"joanabot/internal/eventbus"
	logx "joanabot/pkg/logx"
)

// User-facing texts.
const (
	MsgMissingSender = "❌ Erro: usuário não identificado."
	MsgEmptyMessage  = "Desculpe, não consegui entender sua mensagem. Poderia repetir ou dizer quais ingredientes você tem? 🥺"
	MsgEmptyReply    = "Desculpe, não consegui encontrar uma receita com essas informações. Pode tentar de outro jeito? 😊"
	MsgTimeout       = "❌ Timeout ao se comunicar com a OpenAI. Tente novamente em alguns segundos."
	msgBusyFormat    = "Estou um pouco ocupada agora. (id %s)"
	msgUpstreamFmt   = "❌ Erro ao gerar resposta (%d): %s"
)

type Kind string

const (
	KindReply        Kind = "reply"
	KindSilentReject Kind = "silent_reject"
	KindBadRequest   Kind = "bad_request"
	KindClarify      Kind = "clarify"
	KindFailed       Kind = "failed"
)

// Reasons attached to non-reply outcomes.
const (
	ReasonMissingSender    = "missing_sender"
	ReasonEmptyMessage     = "empty_message"
	ReasonRateLimited      = "rate_limited"
	ReasonEmptyCompletion  = "empty_completion"
	ReasonCompletionFailed = "completion_failed"
)

// Outcome is what a transport renders. KindSilentReject carries no reply and
// should produce no visible message.
type Outcome struct {
	Kind   Kind
	Reply  string
	Reason string

	// Set for KindFailed; also logged, so support can match a user report.
	IncidentID string
	Failure    *completion.Failure
}

type Admitter interface {
	TryAdmit(sender string, now time.Time) bool
}

type Store interface {
	LoadHistory(ctx context.Context, sender string) (*history.History, bool, error)
	SaveHistory(ctx context.Context, h *history.History) error
}

type Completer interface {
	Complete(ctx context.Context, displayName string, window []history.Turn, latest string) completion.Result
}

type Options struct {
	Window int
	Names  NameDetector
	Bus    eventbus.Bus
	Log    logx.Logger
	Now    func() time.Time
}

// Orchestrator runs the admission, history, and completion steps for one message.
type Orchestrator struct {
	gate      Admitter
	store     Store
	completer Completer
	names     NameDetector
	bus       eventbus.Bus
	log       logx.Logger
	now       func() time.Time

	window atomic.Int64

	// Serializes history read-modify-write per sender. Never held across the model call.
	locks [16]sync.Mutex
}

func New(gate Admitter, store Store, completer Completer, opts Options) *Orchestrator {
	o := &Orchestrator{
		gate:      gate,
		store:     store,
		completer: completer,
		names:     opts.Names,
		bus:       opts.Bus,
		log:       opts.Log,
		now:       opts.Now,
	}
	if o.names == nil {
		o.names = NewPatternDetector()
	}
	if o.bus == nil {
		o.bus = eventbus.Nop{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	o.SetWindow(opts.Window)
	return o
}

// SetWindow changes how many trailing turns are sent to the model. Values < 1 mean 10.
func (o *Orchestrator) SetWindow(k int) {
	if k < 1 {
		k = 10
	}
	o.window.Store(int64(k))
}

func (o *Orchestrator) Window() int { return int(o.window.Load()) }

// Handle processes one inbound message. The user's turn is persisted before
// the model is called, so it survives a completion failure.
func (o *Orchestrator) Handle(ctx context.Context, sender, rawText string) Outcome {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		o.log.Warn("message without sender ignored")
		return Outcome{Kind: KindBadRequest, Reply: MsgMissingSender, Reason: ReasonMissingSender}
	}
	text := strings.TrimSpace(rawText)
	if text == "" {
		o.log.Warn("message without text", logx.String("sender", sender))
		return Outcome{Kind: KindClarify, Reply: MsgEmptyMessage, Reason: ReasonEmptyMessage}
	}

	now := o.now()
	if !o.gate.TryAdmit(sender, now) {
		o.log.Info("cooldown active; message dropped", logx.String("sender", sender))
		o.bus.Publish(eventbus.Event{Type: eventbus.MessageRateLimited, Sender: sender, Time: now})
		return Outcome{Kind: KindSilentReject, Reason: ReasonRateLimited}
	}
	o.bus.Publish(eventbus.Event{Type: eventbus.MessageAccepted, Sender: sender, Time: now})
	log := o.log.With(logx.String("sender", sender))
	log.Debug("message accepted", logx.String("text", text))

	h, err := o.appendTurn(ctx, sender, now, func(h *history.History) {
		if name := o.detectName(text); name != "" && name != h.DisplayName {
			log.Info("display name detected", logx.String("name", name))
			h.DisplayName = name
		}
		h.Append(history.RoleUser, text, now)
	})
	persisted := !errors.Is(err, errHistoryUnavailable)
	if err != nil {
		// The user turn could not be stored; answer anyway from what we have.
		log.Warn("history update failed", logx.Err(err))
	}

	window := history.Window(h.Turns, o.Window())
	log.Debug("requesting completion", logx.Int("window", len(window)))
	res := o.completer.Complete(ctx, h.DisplayName, window, text)

	if res.Failure != nil {
		return o.failed(log, sender, res.Failure)
	}

	reply := res.Text
	if !persisted {
		log.Warn("assistant turn not stored; history was unavailable")
	} else if _, err := o.appendTurn(ctx, sender, o.now(), func(h *history.History) {
		h.Append(history.RoleAssistant, reply, o.now())
	}); err != nil {
		log.Warn("history save failed; reply still delivered", logx.Err(err))
	}
	o.bus.Publish(eventbus.Event{Type: eventbus.MessageReplied, Sender: sender, Data: res.Latency})
	log.Info("reply ready", logx.Duration("latency", res.Latency), logx.Int("chars", len(reply)))
	return Outcome{Kind: KindReply, Reply: reply}
}

// errHistoryUnavailable marks a load failure: the stored history is unknown,
// so nothing may be written over it.
var errHistoryUnavailable = errors.New("history unavailable")

// appendTurn loads (or creates) the sender's history, applies mutate, and saves it.
// It always returns a usable history. When the load fails, the history is
// built for this call only and the store is left untouched.
func (o *Orchestrator) appendTurn(ctx context.Context, sender string, now time.Time, mutate func(*history.History)) (*history.History, error) {
	mu := o.lockFor(sender)
	mu.Lock()
	defer mu.Unlock()

	h, found, err := o.store.LoadHistory(ctx, sender)
	if err != nil {
		h = history.New(sender)
		mutate(h)
		return h, fmt.Errorf("%w: %w", errHistoryUnavailable, err)
	}
	if !found || h == nil {
		h = history.New(sender)
	}
	mutate(h)
	if h.UpdatedAt.IsZero() {
		h.UpdatedAt = now
	}
	return h, o.store.SaveHistory(ctx, h)
}

func (o *Orchestrator) detectName(text string) (name string) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Warn("name detection panicked", logx.Any("panic", r))
			name = ""
		}
	}()
	return o.names.DetectName(text)
}

func (o *Orchestrator) failed(log logx.Logger, sender string, f *completion.Failure) Outcome {
	if f.Kind == completion.FailureEmpty {
		log.Warn("model returned an empty reply")
		o.bus.Publish(eventbus.Event{Type: eventbus.MessageFailed, Sender: sender, Data: string(f.Kind)})
		return Outcome{Kind: KindClarify, Reply: MsgEmptyReply, Reason: ReasonEmptyCompletion, Failure: f}
	}

	incident := "busy_" + uuid.NewString()
	var reply string
	switch {
	case f.Kind == completion.FailureTransport && f.Timeout:
		reply = MsgTimeout
	case f.Kind == completion.FailureUpstream && f.Code != 429 && f.Code < 500:
		reply = fmt.Sprintf(msgUpstreamFmt, f.Code, f.Message)
	default:
		reply = fmt.Sprintf(msgBusyFormat, incident)
	}
	log.Warn("completion failed",
		logx.String("incident", incident),
		logx.String("reason", BusyReason(f)),
		logx.String("kind", string(f.Kind)),
		logx.Int("status", f.Code),
		logx.Err(f),
	)
	o.bus.Publish(eventbus.Event{Type: eventbus.MessageFailed, Sender: sender, Data: string(f.Kind)})
	return Outcome{Kind: KindFailed, Reply: reply, Reason: ReasonCompletionFailed, IncidentID: incident, Failure: f}
}

// BusyReason maps a failure to the operational reason code used in logs.
func BusyReason(f *completion.Failure) string {
	switch {
	case f == nil:
		return "UNKNOWN"
	case f.Kind == completion.FailureTransport && f.Timeout:
		return "TIMEOUT"
	case f.Kind == completion.FailureTransport:
		return "NETWORK_ERROR"
	case f.Kind == completion.FailureUpstream && f.Code == 429:
		return "RATE_LIMITED"
	case f.Kind == completion.FailureUpstream && f.Code >= 500:
		return "SERVER_ERROR"
	case f.Kind == completion.FailureUpstream:
		return "INVALID_PAYLOAD"
	default:
		return "UNKNOWN"
	}
}

func (o *Orchestrator) lockFor(sender string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sender))
	return &o.locks[h.Sum32()%uint32(len(o.locks))]
}
