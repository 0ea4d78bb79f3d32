package retry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	waits []time.Duration
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

type trackedBody struct {
	io.Reader
	closed bool
}

func (b *trackedBody) Close() error {
	b.closed = true
	return nil
}

func response(status int) (*http.Response, *trackedBody) {
	body := &trackedBody{Reader: strings.NewReader("x")}
	return &http.Response{StatusCode: status, Body: body}, body
}

func TestRetriesServerErrorsThenSucceeds(t *testing.T) {
	rec := &recorder{}
	r := &Retrier{MaxAttempts: 3, InitialBackoff: 800 * time.Millisecond, Sleep: rec.sleep}

	var bodies []*trackedBody
	statuses := []int{500, 500, 200}
	calls := 0
	resp, err := r.Do(context.Background(), func(context.Context) (*http.Response, error) {
		res, body := response(statuses[calls])
		bodies = append(bodies, body)
		calls++
		return res, nil
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, calls)
	if diff := cmp.Diff([]time.Duration{800 * time.Millisecond, 1600 * time.Millisecond}, rec.waits); diff != "" {
		t.Fatalf("backoff waits mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, bodies[0].closed, "discarded response must be closed")
	assert.True(t, bodies[1].closed, "discarded response must be closed")
	assert.False(t, bodies[2].closed, "returned response stays open for the caller")
}

func TestBadRequestIsNotRetried(t *testing.T) {
	rec := &recorder{}
	r := &Retrier{MaxAttempts: 3, InitialBackoff: time.Second, Sleep: rec.sleep}

	calls := 0
	resp, err := r.Do(context.Background(), func(context.Context) (*http.Response, error) {
		calls++
		res, _ := response(http.StatusBadRequest)
		return res, nil
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.waits)
}

func TestTooManyRequestsExhaustsAttempts(t *testing.T) {
	rec := &recorder{}
	r := &Retrier{MaxAttempts: 3, InitialBackoff: 100 * time.Millisecond, Sleep: rec.sleep}

	calls := 0
	resp, err := r.Do(context.Background(), func(context.Context) (*http.Response, error) {
		calls++
		res, _ := response(http.StatusTooManyRequests)
		return res, nil
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode, "last response is surfaced once attempts are spent")
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, rec.waits)
}

func TestTransportErrorRetriedThenReturned(t *testing.T) {
	rec := &recorder{}
	r := &Retrier{MaxAttempts: 3, InitialBackoff: 10 * time.Millisecond, Sleep: rec.sleep}
	boom := errors.New("connection reset")

	calls := 0
	_, err := r.Do(context.Background(), func(context.Context) (*http.Response, error) {
		calls++
		return nil, boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
	assert.Len(t, rec.waits, 2)
}

func TestTransportErrorRecovers(t *testing.T) {
	rec := &recorder{}
	r := &Retrier{MaxAttempts: 3, InitialBackoff: 10 * time.Millisecond, Sleep: rec.sleep}

	calls := 0
	resp, err := r.Do(context.Background(), func(context.Context) (*http.Response, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("timeout")
		}
		res, _ := response(http.StatusOK)
		return res, nil
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []time.Duration{10 * time.Millisecond}, rec.waits)
}

func TestCancelledContextStopsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Retrier{MaxAttempts: 5, InitialBackoff: time.Hour}

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := r.Do(ctx, func(context.Context) (*http.Response, error) {
			calls++
			res, _ := response(http.StatusServiceUnavailable)
			return res, nil
		})
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("retrier did not honor cancellation")
	}
	assert.Equal(t, 1, calls)
}

func TestRetryable(t *testing.T) {
	for status, want := range map[int]bool{200: false, 400: false, 404: false, 429: true, 500: true, 503: true} {
		assert.Equal(t, want, Retryable(status), "status %d", status)
	}
}
