package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(kv map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := kv[k]
		return v, ok
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestParseJSONAppliesDefaults(t *testing.T) {
	p := writeFile(t, "config.json", `{"storage":{"driver":"sqlite","path":"./x.db"},"admission":{"cooldown":"5s"}}`)
	m := NewConfigManager(p)
	m.SetEnvLookup(env(nil))

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultCompletionURL, cfg.Completion.URL)
	assert.Equal(t, DefaultModel, cfg.Completion.Model)
	assert.Equal(t, 5*time.Second, cfg.Admission.CooldownDuration())
	assert.Equal(t, DefaultHistoryWindow, cfg.Conversation.HistoryWindow)
	assert.Equal(t, "telegram", cfg.Broadcast.Transport)
	assert.Same(t, cfg, m.Get())
}

func TestParseYAML(t *testing.T) {
	p := writeFile(t, "config.yaml", `
completion:
  model: gpt-4o-mini
  max_attempts: 5
relay:
  url: http://localhost:3000/api/enviar-mensagem
broadcast:
  interval: 2s
`)
	m := NewConfigManager(p)
	m.SetEnvLookup(env(nil))

	cfg, err := m.Parse()
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.Completion.Model)
	assert.Equal(t, 5, cfg.Completion.MaxAttempts)
	assert.Equal(t, "relay", cfg.Broadcast.Transport)
	assert.Equal(t, 2*time.Second, cfg.Broadcast.IntervalDuration())
}

func TestParseRejectsUnknownFields(t *testing.T) {
	p := writeFile(t, "config.json", `{"completion":{"modle":"typo"}}`)
	_, err := NewConfigManager(p).Parse()
	require.Error(t, err)
}

func TestParseRejectsTrailingData(t *testing.T) {
	p := writeFile(t, "config.json", `{} {}`)
	_, err := NewConfigManager(p).Parse()
	require.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	p := writeFile(t, "config.json", `{"completion":{"model":"from-file","api_key":"file-key"}}`)
	m := NewConfigManager(p)
	m.SetEnvLookup(env(map[string]string{
		EnvAPIKey:   "env-key",
		EnvModel:    "from-env",
		EnvCooldown: "1500",
	}))

	cfg, err := m.Parse()
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Completion.APIKey)
	assert.Equal(t, "from-env", cfg.Completion.Model)
	assert.Equal(t, 1500*time.Millisecond, cfg.Admission.CooldownDuration())
}

func TestEnvCooldownAcceptsDuration(t *testing.T) {
	cfg := Default()
	require.NoError(t, ApplyEnv(cfg, env(map[string]string{EnvCooldown: "0s"})))
	assert.Equal(t, time.Duration(0), cfg.Admission.CooldownDuration())

	require.Error(t, ApplyEnv(cfg, env(map[string]string{EnvCooldown: "soon"})))
}

func TestEmptyPathUsesDefaults(t *testing.T) {
	m := NewConfigManager("")
	m.SetEnvLookup(env(map[string]string{EnvAPIKey: "k"}))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "k", cfg.Completion.APIKey)
	assert.Equal(t, DefaultCooldown, cfg.Admission.CooldownDuration())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad duration", func(c *Config) { c.Admission.Cooldown = "three seconds" }},
		{"negative duration", func(c *Config) { c.Broadcast.Interval = "-1s" }},
		{"bad url", func(c *Config) { c.Completion.URL = "not a url" }},
		{"sqlite without path", func(c *Config) { c.Storage = StorageConfig{Driver: "sqlite"} }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }},
		{"bad cron", func(c *Config) { c.Broadcast.Schedule = "every tuesday" }},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }},
		{"unknown transport", func(c *Config) { c.Broadcast.Transport = "pigeon" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}

	require.NoError(t, Validate(Default()))
}

func TestSubscribeKeepsNewest(t *testing.T) {
	m := NewConfigManager("")
	ch := m.Subscribe(1)
	a, b := Default(), Default()
	m.publish(a)
	m.publish(b)
	got := <-ch
	assert.Same(t, b, got)

	m.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestWatchPublishesChanges(t *testing.T) {
	p := writeFile(t, "config.json", `{"admission":{"cooldown":"3s"}}`)
	m := NewConfigManager(p)
	m.SetEnvLookup(env(nil))
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	// Give the watcher time to register before editing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(p, []byte(`{"admission":{"cooldown":"7s"}}`), 0o600))

	select {
	case cfg := <-ch:
		assert.Equal(t, 7*time.Second, cfg.Admission.CooldownDuration())
	case <-time.After(5 * time.Second):
		t.Fatal("no config published after edit")
	}
	cancel()
	<-done
}

func TestSummarizeConfigChange(t *testing.T) {
	a := Default()
	b := Default()
	b.Admission.Cooldown = "10s"
	b.Storage = StorageConfig{Driver: "sqlite", Path: "x.db"}
	b.Completion.APIKey = "secret"

	changed, attrs, restart := SummarizeConfigChange(a, b)
	assert.ElementsMatch(t, []string{"completion", "admission", "storage"}, changed)
	assert.ElementsMatch(t, []string{"completion", "storage"}, restart)
	assert.NotEmpty(t, attrs)
}
