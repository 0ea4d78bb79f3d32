package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "800ms", "3s", "2m").
// Secrets (api_key, telegram.token) are usually supplied through the
// environment instead; see ApplyEnv.
type Config struct {
	Completion   CompletionConfig   `json:"completion"`
	Admission    AdmissionConfig    `json:"admission"`
	Conversation ConversationConfig `json:"conversation"`
	Broadcast    BroadcastConfig    `json:"broadcast"`
	Storage      StorageConfig      `json:"storage"`
	HTTP         HTTPConfig         `json:"http"`
	Telegram     TelegramConfig     `json:"telegram"`
	Relay        RelayConfig        `json:"relay"`
	Scheduler    SchedulerConfig    `json:"scheduler"`
	Logging      LoggingConfig      `json:"logging"`
}

// CompletionConfig points at an OpenAI-compatible chat completions endpoint.
//
// Defaults:
//   - url: https://api.openai.com/v1/chat/completions
//   - model: o4-mini
//   - max_attempts: 3, initial_backoff: 800ms
//   - dial_timeout: 30s, response_timeout: 120s, request_timeout: 180s
type CompletionConfig struct {
	URL    string `json:"url"`
	APIKey string `json:"api_key,omitempty"` // never logged
	Model  string `json:"model"`

	MaxAttempts    int    `json:"max_attempts,omitempty"`
	InitialBackoff string `json:"initial_backoff,omitempty"`

	DialTimeout     string `json:"dial_timeout,omitempty"`
	ResponseTimeout string `json:"response_timeout,omitempty"`
	RequestTimeout  string `json:"request_timeout,omitempty"`

	// Estimated USD cost per 1K tokens, used for logging only.
	InputCostPer1K  float64 `json:"input_cost_per_1k,omitempty"`
	OutputCostPer1K float64 `json:"output_cost_per_1k,omitempty"`
}

// AdmissionConfig controls the per-sender cooldown.
// Cooldown "0s" admits every message.
type AdmissionConfig struct {
	Cooldown string `json:"cooldown"`

	// Records idle longer than TTL are evicted every SweepInterval.
	TTL           string `json:"ttl,omitempty"`
	SweepInterval string `json:"sweep_interval,omitempty"`
}

type ConversationConfig struct {
	HistoryWindow int    `json:"history_window,omitempty"` // default 10
	PromptPath    string `json:"prompt_path,omitempty"`    // default ./prompt_joana.txt
	InvitePath    string `json:"invite_path,omitempty"`    // optional; built-in invitation prompt otherwise
}

// BroadcastConfig controls the broadcast dispatcher.
//
// Schedule is an optional cron expression; when set, an invitation is
// generated and sent to every stored sender on that schedule.
type BroadcastConfig struct {
	Interval  string `json:"interval,omitempty"` // default 5s
	Schedule  string `json:"schedule,omitempty"`
	StatusTTL string `json:"status_ttl,omitempty"` // default 24h
	MaxStatus int    `json:"max_status,omitempty"` // default 200

	// Transport names the outbound sender: "relay" or "telegram".
	// Defaults to relay when relay.url is set, telegram otherwise.
	Transport string `json:"transport,omitempty"`
}

// StorageConfig selects the history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./joanabot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // memory | file | sqlite
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// HTTPConfig controls the inbound webhook server.
// An empty Addr disables it.
type HTTPConfig struct {
	Addr         string `json:"addr"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
	WebSocket    bool   `json:"websocket,omitempty"`
}

// TelegramConfig enables the Telegram transport when Token is set.
type TelegramConfig struct {
	Token       string `json:"token,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// RelayConfig points at an HTTP bridge that delivers outbound messages.
type RelayConfig struct {
	URL     string `json:"url,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}
