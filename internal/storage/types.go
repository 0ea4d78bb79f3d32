package storage

import (
	"context"
	"errors"
	"time"

	"joanabot/internal/conversation/history"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "memory" (default when Driver is empty)
//   - "file": Path is the snapshot prefix, e.g. ./data/joanabot.json
//   - "sqlite": Path is the database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store persists one History per sender. Implementations are safe for
// concurrent use and never hand out memory shared with their internal state.
type Store interface {
	LoadHistory(ctx context.Context, sender string) (h *history.History, found bool, err error)
	SaveHistory(ctx context.Context, h *history.History) error
	ListSenders(ctx context.Context) ([]string, error)
	Close() error
}
