package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultCompletionURL   = "https://api.openai.com/v1/chat/completions"
	DefaultModel           = "o4-mini"
	DefaultCooldown        = 3 * time.Second
	DefaultHistoryWindow   = 10
	DefaultPromptPath      = "./prompt_joana.txt"
	DefaultBroadcastPeriod = 5 * time.Second
	DefaultStorePath       = "./joanabot.db"

	// Default per-1K token prices used for cost estimates in logs.
	DefaultInputCostPer1K  = 0.00110
	DefaultOutputCostPer1K = 0.00440
)

// Environment variables that override the file.
const (
	EnvAPIKey        = "OPENAI_API_KEY"
	EnvAPIURL        = "OPENAI_API_URL"
	EnvModel         = "OPENAI_MODEL"
	EnvTelegramToken = "TELEGRAM_TOKEN"
	EnvCooldown      = "JOANA_COOLDOWN"
	EnvRelayURL      = "JOANA_RELAY_URL"
)

// Default returns a configuration usable without any file.
func Default() *Config {
	cfg := &Config{
		HTTP:    HTTPConfig{Addr: ":8080"},
		Logging: LoggingConfig{Level: "info", Console: true},
		Storage: StorageConfig{Driver: "memory"},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero values in place.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	c := &cfg.Completion
	if strings.TrimSpace(c.URL) == "" {
		c.URL = DefaultCompletionURL
	}
	if strings.TrimSpace(c.Model) == "" {
		c.Model = DefaultModel
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InputCostPer1K == 0 && c.OutputCostPer1K == 0 {
		c.InputCostPer1K = DefaultInputCostPer1K
		c.OutputCostPer1K = DefaultOutputCostPer1K
	}
	if strings.TrimSpace(cfg.Admission.Cooldown) == "" {
		cfg.Admission.Cooldown = DefaultCooldown.String()
	}
	if cfg.Conversation.HistoryWindow <= 0 {
		cfg.Conversation.HistoryWindow = DefaultHistoryWindow
	}
	if strings.TrimSpace(cfg.Conversation.PromptPath) == "" {
		cfg.Conversation.PromptPath = DefaultPromptPath
	}
	if cfg.Broadcast.MaxStatus <= 0 {
		cfg.Broadcast.MaxStatus = 200
	}
	if strings.TrimSpace(cfg.Storage.Driver) == "" {
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			cfg.Storage.Driver = "memory"
		} else {
			cfg.Storage.Driver = "sqlite"
		}
	}
	if strings.TrimSpace(cfg.Broadcast.Transport) == "" {
		if strings.TrimSpace(cfg.Relay.URL) != "" {
			cfg.Broadcast.Transport = "relay"
		} else {
			cfg.Broadcast.Transport = "telegram"
		}
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
}

// ApplyEnv overlays environment variables on cfg. lookup is os.LookupEnv in production.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if cfg == nil {
		return nil
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	if v, ok := get(EnvAPIKey); ok {
		cfg.Completion.APIKey = v
	}
	if v, ok := get(EnvAPIURL); ok {
		cfg.Completion.URL = v
	}
	if v, ok := get(EnvModel); ok {
		cfg.Completion.Model = v
	}
	if v, ok := get(EnvTelegramToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get(EnvRelayURL); ok {
		cfg.Relay.URL = v
	}
	if v, ok := get(EnvCooldown); ok {
		// Plain integers are milliseconds.
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			if ms < 0 {
				return fmt.Errorf("%s: must be >= 0", EnvCooldown)
			}
			v = (time.Duration(ms) * time.Millisecond).String()
		} else if _, err := ParseDurationField(EnvCooldown, v); err != nil {
			return err
		}
		cfg.Admission.Cooldown = v
	}
	return nil
}

// Validate checks a fully defaulted config. It does not touch the network.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	durations := map[string]string{
		"completion.initial_backoff":  cfg.Completion.InitialBackoff,
		"completion.dial_timeout":     cfg.Completion.DialTimeout,
		"completion.response_timeout": cfg.Completion.ResponseTimeout,
		"completion.request_timeout":  cfg.Completion.RequestTimeout,
		"admission.cooldown":          cfg.Admission.Cooldown,
		"admission.ttl":               cfg.Admission.TTL,
		"admission.sweep_interval":    cfg.Admission.SweepInterval,
		"broadcast.interval":          cfg.Broadcast.Interval,
		"broadcast.status_ttl":        cfg.Broadcast.StatusTTL,
		"storage.busy_timeout":        cfg.Storage.BusyTimeout,
		"http.read_timeout":           cfg.HTTP.ReadTimeout,
		"http.write_timeout":          cfg.HTTP.WriteTimeout,
		"http.idle_timeout":           cfg.HTTP.IdleTimeout,
		"telegram.poll_timeout":       cfg.Telegram.PollTimeout,
		"relay.timeout":               cfg.Relay.Timeout,
	}
	for path, raw := range durations {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if u, err := url.Parse(cfg.Completion.URL); err != nil || u.Scheme == "" || u.Host == "" {
		add(fmt.Errorf("completion.url: invalid url %q", cfg.Completion.URL))
	}
	if strings.TrimSpace(cfg.Relay.URL) != "" {
		if u, err := url.Parse(cfg.Relay.URL); err != nil || u.Scheme == "" || u.Host == "" {
			add(fmt.Errorf("relay.url: invalid url %q", cfg.Relay.URL))
		}
	}
	if cfg.Completion.MaxAttempts < 1 {
		add(errors.New("completion.max_attempts: must be >= 1"))
	}
	if cfg.Conversation.HistoryWindow < 1 {
		add(errors.New("conversation.history_window: must be >= 1"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "memory":
	case "file", "sqlite":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add(fmt.Errorf("storage.path: required for driver %q", cfg.Storage.Driver))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Broadcast.Transport)) {
	case "relay", "telegram":
	default:
		add(fmt.Errorf("broadcast.transport: unknown transport %q", cfg.Broadcast.Transport))
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if spec := strings.TrimSpace(cfg.Broadcast.Schedule); spec != "" {
		if _, err := CronParser().Parse(spec); err != nil {
			add(fmt.Errorf("broadcast.schedule: %w", err))
		}
	}
	return errors.Join(errs...)
}

// CronParser accepts 5-field specs, an optional seconds field, and descriptors like "@every 1m".
func CronParser() cron.Parser {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}
