package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"joanabot/internal/retry"
	"joanabot/internal/transport"
	logx "joanabot/pkg/logx"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestSendPostsPayload(t *testing.T) {
	var got transport.Inbound
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, err := New(Config{URL: srv.URL}, nil, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background(), "5511999", "Oiie! aqui é a Joana"))
	assert.Equal(t, transport.Inbound{From: "5511999", Text: "Oiie! aqui é a Joana"}, got)
}

func TestSendRetriesBridgeErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := &retry.Retrier{MaxAttempts: 3, InitialBackoff: time.Millisecond, Sleep: noSleep}
	s, err := New(Config{URL: srv.URL}, r, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background(), "a", "b"))
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendReportsTerminalStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown chat", http.StatusNotFound)
	}))
	defer srv.Close()

	s, err := New(Config{URL: srv.URL}, &retry.Retrier{Sleep: noSleep}, logx.Nop())
	require.NoError(t, err)
	err = s.Send(context.Background(), "a", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "unknown chat")
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New(Config{URL: " "}, nil, logx.Nop())
	assert.Error(t, err)
}
