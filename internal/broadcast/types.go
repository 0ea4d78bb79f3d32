package broadcast

import (
	"context"
	"errors"
	"time"

	"joanabot/internal/completion"
	"joanabot/internal/conversation/history"
)

var (
	ErrNoRecipients = errors.New("broadcast: no recipients")
	ErrEmptyMessage = errors.New("broadcast: empty message")
	ErrStopped      = errors.New("broadcast: dispatcher stopped")
)

// Sender delivers one text to one recipient.
type Sender interface {
	Send(ctx context.Context, recipientID, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, recipientID, text string) error

func (f SenderFunc) Send(ctx context.Context, recipientID, text string) error {
	return f(ctx, recipientID, text)
}

// Completer generates the invitation text for GenerateAndDispatch.
type Completer interface {
	Complete(ctx context.Context, displayName string, window []history.Turn, latest string) completion.Result
}

// PromptSource returns the instruction used to generate invitations.
type PromptSource interface {
	BroadcastPrompt() string
}

type State string

const (
	StateGenerating State = "generating"
	StateSending    State = "sending"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// maxFailures bounds the recipient list kept on a status.
const maxFailures = 200

type JobStatus struct {
	ID       string    `json:"id"`
	State    State     `json:"state"`
	Interval string    `json:"interval"`
	Total    int       `json:"total"`
	Sent     int       `json:"sent"`
	Failed   int       `json:"failed"`
	Failures []string  `json:"failures,omitempty"`
	Error    string    `json:"error,omitempty"`
	Running  bool      `json:"running"`
	// CreatedAt is set at dispatch, before generation or the first send.
	CreatedAt time.Time `json:"created_at"`
	StartedAt time.Time `json:"started_at,omitzero"`
	DoneAt    time.Time `json:"done_at,omitzero"`
}

// Options configures a Dispatcher. Zero values use package defaults.
type Options struct {
	Interval  time.Duration
	StatusMax int
	StatusTTL time.Duration
}

const (
	DefaultInterval  = 5 * time.Second
	defaultStatusMax = 200
	defaultStatusTTL = 24 * time.Hour
)

type job struct {
	id         string
	recipients []string
	text       string
	interval   time.Duration
}
