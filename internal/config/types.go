package config

// Config is the evsched configuration file.
//
// Durations are Go duration strings ("500ms", "10s", "1m"). The logging and
// observability sections are applied on hot reload; other changes are logged
// and need a restart.
type Config struct {
	Logging       LoggingConfig       `json:"logging"`
	Scheduler     SchedulerConfig     `json:"scheduler"`
	Queue         QueueConfig         `json:"queue"`
	Storage       StorageConfig       `json:"storage"`
	Sink          SinkConfig          `json:"sink"`
	Ownership     OwnershipConfig     `json:"ownership"`
	Observability ObservabilityConfig `json:"observability"`
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

// SchedulerConfig controls trigger evaluation.
//
// With enabled=false definitions are still stored but never armed.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// PoolSize is the number of trigger evaluators. Default 3.
	PoolSize int `json:"pool_size,omitempty"`
	// FireQueueSize buffers firings waiting for an evaluator. Default 256.
	FireQueueSize int `json:"fire_queue_size,omitempty"`
	// Timezone applies to schedules that name none. Default: the system zone.
	Timezone string `json:"timezone,omitempty"`
}

// QueueConfig controls the command queue worker pool.
//
// Defaults: min_workers 5, max_workers 20, idle_timeout "10s",
// shutdown_grace "30s", history_size 200.
type QueueConfig struct {
	MinWorkers    int    `json:"min_workers,omitempty"`
	MaxWorkers    int    `json:"max_workers,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
	ShutdownGrace string `json:"shutdown_grace,omitempty"`
	HistorySize   int    `json:"history_size,omitempty"`
}

// StorageConfig selects the definition store.
//
//	"storage": { "driver": "sqlite", "path": "./evsched.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://..." }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // do not log
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SinkConfig selects where jobs push messages: "log" or "amqp".
type SinkConfig struct {
	Driver     string  `json:"driver"`
	URL        string  `json:"url,omitempty"` // do not log
	Exchange   string  `json:"exchange,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"` // 0 disables limiting
	Burst      int     `json:"burst,omitempty"`
	ServiceID  string  `json:"service_id,omitempty"`
}

// OwnershipConfig selects which definitions this instance arms.
type OwnershipConfig struct {
	Mode  string `json:"mode,omitempty"` // "all" or "hash"
	Index int    `json:"index,omitempty"`
	Count int    `json:"count,omitempty"`
}

// ObservabilityConfig controls the metrics/health/pprof HTTP server.
//
// Prefer binding to localhost. A non-loopback addr needs a token or
// allow_insecure.
type ObservabilityConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default "127.0.0.1:9464"
	Pprof         bool   `json:"pprof,omitempty"`
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging:   LoggingConfig{Level: "info", Console: true},
		Scheduler: SchedulerConfig{Enabled: true},
		Storage:   StorageConfig{Driver: "sqlite", Path: "./evsched.db"},
		Sink:      SinkConfig{Driver: "log"},
	}
}
