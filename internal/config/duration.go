package config

import (
	"fmt"
	"strings"
	"time"
)

// Durations in the config file are Go duration strings ("90s", "2m"). Empty
// means "use the built-in default"; negatives are rejected at load time so
// the poll loop and transports never see one.

// durationFields lists every duration-typed config field by its path, for
// validation at parse time and for error messages.
func durationFields(cfg *Config) map[string]string {
	return map[string]string{
		"telegram.poll_timeout": cfg.Telegram.PollTimeout,
		"storage.busy_timeout":  cfg.Storage.BusyTimeout,
		"poll.interval":         cfg.Poll.Interval,
		"poll.deadline":         cfg.Poll.Deadline,
		"poll.update_gap":       cfg.Poll.UpdateGap,
		"dispatch.send_timeout": cfg.Dispatch.SendTimeout,
	}
}

// ParseDurationField parses one named duration field; path labels errors
// ("poll.interval: invalid duration ..."). Empty parses to zero.
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

// ParseDurationOrDefault substitutes def for empty or zero values.
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
