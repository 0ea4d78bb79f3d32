package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a non-negative Go duration. Empty means zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted for zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// durationOr is for already validated configs; invalid values fall back to def.
func durationOr(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("", raw, def)
	if err != nil {
		return def
	}
	return d
}

// Cooldown may legitimately be zero, so it does not substitute a default for "0s".
func (c AdmissionConfig) CooldownDuration() time.Duration {
	if strings.TrimSpace(c.Cooldown) == "" {
		return DefaultCooldown
	}
	d, err := ParseDurationField("admission.cooldown", c.Cooldown)
	if err != nil {
		return DefaultCooldown
	}
	return d
}

func (c AdmissionConfig) TTLDuration() time.Duration {
	return durationOr(c.TTL, 10*time.Minute)
}

func (c AdmissionConfig) SweepEvery() time.Duration {
	return durationOr(c.SweepInterval, time.Minute)
}

func (c CompletionConfig) Backoff() time.Duration {
	return durationOr(c.InitialBackoff, 800*time.Millisecond)
}

func (c CompletionConfig) Timeouts() (dial, response, request time.Duration) {
	return durationOr(c.DialTimeout, 30*time.Second),
		durationOr(c.ResponseTimeout, 120*time.Second),
		durationOr(c.RequestTimeout, 180*time.Second)
}

func (c BroadcastConfig) IntervalDuration() time.Duration {
	return durationOr(c.Interval, DefaultBroadcastPeriod)
}

func (c BroadcastConfig) StatusTTLDuration() time.Duration {
	return durationOr(c.StatusTTL, 24*time.Hour)
}

func (c StorageConfig) BusyTimeoutDuration() time.Duration {
	return durationOr(c.BusyTimeout, 5*time.Second)
}

func (c TelegramConfig) PollTimeoutDuration() time.Duration {
	return durationOr(c.PollTimeout, 10*time.Second)
}

func (c RelayConfig) TimeoutDuration() time.Duration {
	return durationOr(c.Timeout, 30*time.Second)
}

func (c HTTPConfig) Timeouts() (read, write, idle time.Duration) {
	return durationOr(c.ReadTimeout, 15*time.Second),
		durationOr(c.WriteTimeout, 200*time.Second),
		durationOr(c.IdleTimeout, 60*time.Second)
}
