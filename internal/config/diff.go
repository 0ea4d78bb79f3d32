package config

import (
	"strings"

	logx "joanabot/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections, safe log
// attributes (never secrets), and the sections that need a restart to apply.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	o, n := oldCfg.Completion, newCfg.Completion
	if o.URL != n.URL || o.Model != n.Model || o.APIKey != n.APIKey ||
		o.MaxAttempts != n.MaxAttempts || o.InitialBackoff != n.InitialBackoff ||
		o.DialTimeout != n.DialTimeout || o.ResponseTimeout != n.ResponseTimeout || o.RequestTimeout != n.RequestTimeout ||
		o.InputCostPer1K != n.InputCostPer1K || o.OutputCostPer1K != n.OutputCostPer1K {
		changed = append(changed, "completion")
		restart = append(restart, "completion")
		attrs = append(attrs,
			logx.String("completion.model", n.Model),
			logx.Bool("completion.api_key_changed", o.APIKey != n.APIKey),
			logx.Int("completion.max_attempts", n.MaxAttempts),
		)
	}

	if oldCfg.Admission != newCfg.Admission {
		changed = append(changed, "admission")
		attrs = append(attrs,
			logx.Duration("admission.cooldown", newCfg.Admission.CooldownDuration()),
			logx.Duration("admission.ttl", newCfg.Admission.TTLDuration()),
		)
	}

	if oldCfg.Conversation != newCfg.Conversation {
		changed = append(changed, "conversation")
		attrs = append(attrs,
			logx.Int("conversation.history_window", newCfg.Conversation.HistoryWindow),
			logx.String("conversation.prompt_path", newCfg.Conversation.PromptPath),
		)
	}

	if oldCfg.Broadcast != newCfg.Broadcast {
		changed = append(changed, "broadcast")
		attrs = append(attrs,
			logx.Duration("broadcast.interval", newCfg.Broadcast.IntervalDuration()),
			logx.String("broadcast.schedule", strings.TrimSpace(newCfg.Broadcast.Schedule)),
		)
		if oldCfg.Broadcast.Transport != newCfg.Broadcast.Transport {
			restart = append(restart, "broadcast")
		}
	}

	sectionsNeedingRestart := []struct {
		name string
		diff bool
	}{
		{"storage", oldCfg.Storage != newCfg.Storage},
		{"http", oldCfg.HTTP != newCfg.HTTP},
		{"telegram", oldCfg.Telegram != newCfg.Telegram},
		{"relay", oldCfg.Relay != newCfg.Relay},
	}
	for _, s := range sectionsNeedingRestart {
		if s.diff {
			changed = append(changed, s.name)
			restart = append(restart, s.name)
		}
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	return changed, attrs, restart
}
