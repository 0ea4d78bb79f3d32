package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"joanabot/internal/config"
	"joanabot/internal/transport"
)

type relaySink struct {
	mu  sync.Mutex
	got []transport.Inbound
}

func (s *relaySink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var in transport.Inbound
	_ = json.NewDecoder(r.Body).Decode(&in)
	s.mu.Lock()
	s.got = append(s.got, in)
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *relaySink) messages() []transport.Inbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.Inbound(nil), s.got...)
}

func newTestApp(t *testing.T, extra string) (*App, *relaySink) {
	t.Helper()
	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Que tal uma omelete?"}}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`))
	}))
	t.Cleanup(llm.Close)
	sink := &relaySink{}
	relaySrv := httptest.NewServer(sink)
	t.Cleanup(relaySrv.Close)

	dir := t.TempDir()
	prompt := filepath.Join(dir, "prompt.txt")
	require.NoError(t, os.WriteFile(prompt, []byte("Você é a Joana."), 0o600))

	body := fmt.Sprintf(`
completion:
  url: %s
  api_key: test
  max_attempts: 1
admission:
  cooldown: 0s
conversation:
  prompt_path: %s
broadcast:
  interval: 10ms
relay:
  url: %s
http:
  addr: 127.0.0.1:0
logging:
  level: error
  console: false
%s`, llm.URL, prompt, relaySrv.URL, extra)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	a, err := New(path, WithEnvLookup(func(string) (string, bool) { return "", false }))
	require.NoError(t, err)
	return a, sink
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	return rec
}

func TestWebhookRoundTrip(t *testing.T) {
	a, _ := newTestApp(t, "")
	require.NoError(t, a.Start(context.Background()))
	defer func() { require.NoError(t, a.Stop(context.Background(), StopAppStop)) }()

	rec := post(t, a.HTTPHandler(), "/api/webhook", `{"from":"alice","text":"Sou a Maria, tenho ovos"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var reply transport.Reply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, "reply", reply.Kind)
	assert.Equal(t, "Que tal uma omelete?", reply.Reply)

	h, found, err := a.Store().LoadHistory(context.Background(), "alice")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Maria", h.DisplayName)
	assert.Len(t, h.Turns, 2)
}

func TestBroadcastThroughRelay(t *testing.T) {
	a, sink := newTestApp(t, "")
	require.NoError(t, a.Start(context.Background()))
	defer func() { require.NoError(t, a.Stop(context.Background(), StopAppStop)) }()

	for _, s := range []string{"5511999990001", "5511999990002"} {
		rec := post(t, a.HTTPHandler(), "/api/webhook", fmt.Sprintf(`{"from":%q,"text":"oi"}`, s))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := post(t, a.HTTPHandler(), "/api/broadcast", `{"message":"Receita nova hoje!"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var accepted struct {
		JobID      string `json:"job_id"`
		Recipients int    `json:"recipients"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.Equal(t, 2, accepted.Recipients)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := a.dispatcher.Wait(ctx, accepted.JobID)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Sent)

	got := sink.messages()
	require.Len(t, got, 2)
	assert.Equal(t, "5511999990001", got[0].From)
	assert.Equal(t, "Receita nova hoje!", got[1].Text)
}

func TestHealth(t *testing.T) {
	a, _ := newTestApp(t, "")
	require.NoError(t, a.Start(context.Background()))
	defer func() { require.NoError(t, a.Stop(context.Background(), StopAppStop)) }()

	rec := httptest.NewRecorder()
	a.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var h map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, "ok", h["status"])
	assert.EqualValues(t, 10, h["history_window"])
	assert.Contains(t, h["supervisors"], "app")
}

func TestApplyConfigIsLive(t *testing.T) {
	a, _ := newTestApp(t, "")
	oldCfg := a.cfgm.Get()

	next := *oldCfg
	next.Admission.Cooldown = "7s"
	next.Conversation.HistoryWindow = 4
	next.Broadcast.Interval = "2s"
	next.Scheduler = config.SchedulerConfig{Enabled: true, Timezone: "UTC"}
	next.Broadcast.Schedule = "0 10 * * *"
	a.applyConfig(oldCfg, &next)

	assert.Equal(t, 7*time.Second, a.gate.Cooldown())
	assert.Equal(t, 4, a.orch.Window())
	assert.Equal(t, 2*time.Second, a.dispatcher.Interval())

	names := map[string]bool{}
	for _, s := range a.sched.Snapshot().Schedules {
		names[s.Name] = true
	}
	assert.True(t, names[scheduleSweep])
	assert.True(t, names[scheduleInvite])

	next2 := next
	next2.Broadcast.Schedule = ""
	a.applyConfig(&next, &next2)
	for _, s := range a.sched.Snapshot().Schedules {
		assert.NotEqual(t, scheduleInvite, s.Name)
	}
	require.NoError(t, a.store.Close())
}

func TestScheduledInviteSendsToStoredSenders(t *testing.T) {
	a, sink := newTestApp(t, "")
	defer a.store.Close()

	out := a.Orchestrator().Handle(context.Background(), "5511999990009", "oi")
	require.NotEmpty(t, out.Reply)

	require.NoError(t, a.broadcastInvite(context.Background()))
	require.Eventually(t, func() bool { return len(sink.messages()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Que tal uma omelete?", sink.messages()[0].Text)
	require.NoError(t, a.dispatcher.Stop(context.Background()))
}

func TestNoOutboundTransportDisablesBroadcast(t *testing.T) {
	a, _ := newTestApp(t, "")
	require.NoError(t, a.store.Close())

	cfg := *a.cfgm.Get()
	cfg.Broadcast.Transport = "telegram"
	b := &App{cfgm: a.cfgm, log: a.log, logs: a.logs, bus: a.bus, store: a.store}
	sender, err := b.outboundSender(&cfg, a.log)
	require.NoError(t, err)
	assert.Nil(t, sender)
}
