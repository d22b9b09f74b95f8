package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Poll     PollConfig     `json:"poll,omitempty"`
	Dispatch DispatchConfig `json:"dispatch,omitempty"`
	Ops      OpsConfig      `json:"ops,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig points at the sqlite database file holding subscriptions
// and the seen-update set.
type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string; 0 keeps the sqlite default.
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// PollConfig controls the background feed poll loop.
//
// All durations are Go duration strings. Defaults (when omitted/zero):
//   - interval: "2m"
//   - deadline: twice the interval
//   - workers: 4
//   - update_gap: "5s" (pause between distinct updates dispatched in a cycle)
type PollConfig struct {
	Interval  string `json:"interval,omitempty"`
	Deadline  string `json:"deadline,omitempty"`
	Workers   int    `json:"workers,omitempty"`
	UpdateGap string `json:"update_gap,omitempty"`
}

// DispatchConfig controls destination delivery.
type DispatchConfig struct {
	// SendTimeout bounds a single destination send. Default "15s".
	SendTimeout string `json:"send_timeout,omitempty"`
}

// OpsConfig controls the operator-facing health/metrics HTTP server.
// Prefer binding to localhost.
type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8090"
}
