package types

// LogConf contains logging specific configuration
type LogConf struct {
	Level string `ini:"level"`
}

// WebConf configures the monitor and status API.
type WebConf struct {
	WebPort     int    `ini:"web_port"`
	WebUser     string `ini:"web_user"`
	WebPassword string `ini:"web_password"`
}

// SimConf holds process level simulator behaviour.
type SimConf struct {
	Topology                   string  `ini:"topology"` // relative to the config dir unless absolute
	DefaultWaitTimeoutSec      int64   `ini:"default_wait_timeout_sec"`
	DefaultHandshakeTimeoutSec int64   `ini:"default_handshake_timeout_sec"`
	BackoffInitialSec          int64   `ini:"backoff_initial_sec"`
	BackoffMaxSec              int64   `ini:"backoff_max_sec"`
	BackoffMultiplier          float64 `ini:"backoff_multiplier"`
	RawLogMaxPerConn           int     `ini:"raw_log_max_per_conn"`
	ExitOnComplete             bool    `ini:"exit_on_complete"`
}

// Config is the process configuration read from eqpsim.ini.
type Config struct {
	LogConf `ini:"log"`
	WebConf `ini:"web"`
	SimConf `ini:"sim"`
}

// DefaultConfig returns the values used when the ini omits a key.
func DefaultConfig() *Config {
	return &Config{
		LogConf: LogConf{Level: "info"},
		SimConf: SimConf{
			Topology:                   "topology.yaml",
			DefaultWaitTimeoutSec:      60,
			DefaultHandshakeTimeoutSec: 60,
			BackoffInitialSec:          1,
			BackoffMaxSec:              30,
			BackoffMultiplier:          2.0,
			RawLogMaxPerConn:           5,
			ExitOnComplete:             true,
		},
	}
}
