// Package retry executes HTTP calls with bounded attempts and exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	logx "joanabot/pkg/logx"
)

// Defaults used when MaxAttempts or InitialBackoff are not positive.
const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 800 * time.Millisecond
)

// ErrNoResponse is returned when a call reports neither a response nor an error.
var ErrNoResponse = errors.New("retry: call returned no response")

// Call performs one attempt. It must build a fresh request each time
// because request bodies are consumed by the transport.
type Call func(ctx context.Context) (*http.Response, error)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Retrier retries transport failures and 429/5xx responses.
// Any other status is returned to the caller on the first attempt.
//
// Backoff doubles after every retry starting at InitialBackoff, without jitter.
type Retrier struct {
	MaxAttempts    int
	InitialBackoff time.Duration

	// Sleep defaults to a timer-based, context-aware wait.
	Sleep SleepFunc
	Log   logx.Logger
}

// New returns a Retrier with the default timer-based Sleep.
func New(maxAttempts int, initialBackoff time.Duration, log logx.Logger) *Retrier {
	return &Retrier{MaxAttempts: maxAttempts, InitialBackoff: initialBackoff, Log: log}
}

// Retryable reports whether a response status is worth another attempt.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// Do runs call until it succeeds, returns a terminal status, or attempts run out.
// The final response (even a 5xx) is returned with its body open; the caller closes it.
// On transport failure the last error is returned once all attempts are used.
func (r *Retrier) Do(ctx context.Context, call Call) (*http.Response, error) {
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	backoff := r.InitialBackoff
	if backoff <= 0 {
		backoff = DefaultInitialBackoff
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	log := r.Log
	if log.IsZero() {
		log = logx.Nop()
	}

	for attempt := 1; ; attempt++ {
		resp, err := call(ctx)
		if err != nil {
			if attempt >= maxAttempts || ctx.Err() != nil {
				return nil, err
			}
			log.Debug("transport failure; retrying", logx.Int("attempt", attempt), logx.Duration("wait", backoff), logx.Err(err))
		} else if resp == nil {
			return nil, ErrNoResponse
		} else if !Retryable(resp.StatusCode) || attempt >= maxAttempts {
			return resp, nil
		} else {
			drain(resp)
			log.Debug("transient status; retrying", logx.Int("attempt", attempt), logx.Int("status", resp.StatusCode), logx.Duration("wait", backoff))
		}

		if err := sleep(ctx, backoff); err != nil {
			return nil, fmt.Errorf("retry aborted after attempt %d: %w", attempt, err)
		}
		backoff *= 2
	}
}

// drain releases the connection of a response that will not be returned.
func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
