package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/arturoeanton/gocommons/utils"
	"github.com/arturoeanton/wshbox/literals"
	"github.com/arturoeanton/wshbox/logger"
	"github.com/arturoeanton/wshbox/rewrite"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of the environment variables overriding the
// configuration file, e.g. WSHBOX_SANDBOX_TIMEOUT_SECONDS.
const EnvPrefix = "WSHBOX"

// Config is the complete run configuration. It is loaded from an optional
// TOML file, then overridden from the environment.
type Config struct {
	Sandbox   SandboxConfig   `toml:"sandbox"`
	Rewrite   RewriteConfig   `toml:"rewrite"`
	Output    OutputConfig    `toml:"output"`
	Database  DatabaseConfig  `toml:"database"`
	Redis     RedisConfig     `toml:"redis"`
	Server    ServerConfig    `toml:"server"`
	RateLimit RateLimitConfig `toml:"rate_limit" split_words:"true"`
	Log       LogConfig       `toml:"log"`
}

// SandboxConfig configures the emulated host and the resource budget.
type SandboxConfig struct {
	TimeoutSeconds int      `toml:"timeout_seconds" split_words:"true"` // Wall clock budget per run (default: 10)
	MaxMemoryMB    int      `toml:"max_memory_mb" split_words:"true"`   // Heap growth budget, 0 disables (default: 1024)
	ScriptEngine   string   `toml:"script_engine" split_words:"true"`   // Reported host executable (default: wscript.exe)
	ScriptName     string   `toml:"script_name" split_words:"true"`     // WScript.ScriptName
	SampleURL      string   `toml:"sample_url" split_words:"true"`      // document.location of the emulated browser
	UserAgent      string   `toml:"user_agent" split_words:"true"`
	Encoding       string   `toml:"encoding"`                          // Force the sample charset instead of detecting it
	Arguments      []string `toml:"arguments"`                         // WScript.Arguments
	HiddenGlobals  []string `toml:"hidden_globals" split_words:"true"` // Interpreter globals removed before the run
	Isolate        bool     `toml:"isolate"`                           // Run each analysis in a worker process (default: true)
	KillGraceMS    int      `toml:"kill_grace_ms" split_words:"true"`  // Time past the timeout before the worker is killed (default: 2000)
}

// RewriteConfig selects the rewrite passes and source-level steps.
type RewriteConfig struct {
	Loops                  bool `toml:"loops"`
	MemberFunctions        bool `toml:"member_functions" split_words:"true"`
	Calls                  bool `toml:"calls"`
	Typeof                 bool `toml:"typeof"`
	Eval                   bool `toml:"eval"`
	Catch                  bool `toml:"catch"`
	DumbConcat             bool `toml:"dumb_concat" split_words:"true"`
	ConditionalCompilation bool `toml:"conditional_compilation" split_words:"true"`
}

// OutputConfig configures the results directory.
type OutputConfig struct {
	Directory string `toml:"directory"` // Empty disables the results directory
	Summary   bool   `toml:"summary"`   // Render summary.txt (default: true)
	Overwrite bool   `toml:"overwrite"` // Reuse an existing results directory
}

// DatabaseConfig configures the SQL IOC sink.
type DatabaseConfig struct {
	Enabled      bool   `toml:"enabled"`
	Driver       string `toml:"driver"` // sqlite3 or postgres (default: sqlite3)
	DSN          string `toml:"dsn"`
	MaxOpenConns int    `toml:"max_open_conns" split_words:"true"` // (default: 4)
	MaxIdleConns int    `toml:"max_idle_conns" split_words:"true"` // (default: 2)
	BatchSize    int    `toml:"batch_size" split_words:"true"`     // Events per insert transaction (default: 100)
}

// RedisConfig configures the event publisher and the shared rate limiter.
type RedisConfig struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Channel  string `toml:"channel"` // (default: wshbox:ioc)
}

// ServerConfig configures the sample submission API.
type ServerConfig struct {
	Addr         string `toml:"addr"`                              // (default: :8080)
	Workers      int    `toml:"workers"`                           // Concurrent analyses (default: 2)
	QueueSize    int    `toml:"queue_size" split_words:"true"`     // Pending submissions (default: 64)
	MaxSampleMB  int    `toml:"max_sample_mb" split_words:"true"`  // Upload size limit (default: 16)
	ResultTTLMin int    `toml:"result_ttl_min" split_words:"true"` // Minutes finished analyses stay available (default: 60)
	AuthToken    string `toml:"auth_token" split_words:"true"`     // Optional bearer token
	HealthPath   string `toml:"health_path" split_words:"true"`    // (default: /health)
	Debug        bool   `toml:"debug"`                             // Register /debug endpoints
	DebugIPs     string `toml:"debug_ips" split_words:"true"`      // Comma separated IPs or CIDRs allowed on /debug
	MetricsPath  string `toml:"metrics_path" split_words:"true"`   // (default: /metrics)
}

// RateLimitConfig configures per-client submission limits.
type RateLimitConfig struct {
	Enabled          bool   `toml:"enabled"`                               // (default: false)
	IPRateLimit      int    `toml:"ip_rate_limit" split_words:"true"`      // Submissions per IP per window (default: 30)
	IPWindowMinutes  int    `toml:"ip_window_minutes" split_words:"true"`  // (default: 1)
	IPBurstSize      int    `toml:"ip_burst_size" split_words:"true"`      // (default: 5)
	Backend          string `toml:"backend"`                               // memory or redis (default: memory)
	CleanupInterval  int    `toml:"cleanup_interval" split_words:"true"`   // Minutes (default: 10)
	RetryAfterHeader bool   `toml:"retry_after_header" split_words:"true"` // (default: true)
	ExcludedIPs      string `toml:"excluded_ips" split_words:"true"`       // Comma separated IPs or CIDRs
	ExcludedPaths    string `toml:"excluded_paths" split_words:"true"`     // Comma separated path prefixes
}

// LogConfig configures the logger.
type LogConfig struct {
	Level string `toml:"level"` // error, warn, info, verbose or debug (default: info)
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Sandbox: SandboxConfig{
			TimeoutSeconds: 10,
			MaxMemoryMB:    1024,
			ScriptEngine:   literals.DEFAULT_ENGINE,
			ScriptName:     literals.SCRIPT_NAME,
			SampleURL:      literals.LOCATION_URL,
			UserAgent:      literals.USER_AGENT,
			HiddenGlobals:  append([]string(nil), DefaultHiddenGlobals...),
			Isolate:        true,
			KillGraceMS:    2000,
		},
		Rewrite: RewriteConfig{
			MemberFunctions:        true,
			Typeof:                 true,
			Eval:                   true,
			Catch:                  true,
			ConditionalCompilation: true,
		},
		Output: OutputConfig{
			Summary: true,
		},
		Database: DatabaseConfig{
			Driver:       "sqlite3",
			DSN:          "wshbox.db",
			MaxOpenConns: 4,
			MaxIdleConns: 2,
			BatchSize:    100,
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Channel: "wshbox:ioc",
		},
		Server: ServerConfig{
			Addr:         ":8080",
			Workers:      2,
			QueueSize:    64,
			MaxSampleMB:  16,
			ResultTTLMin: 60,
			HealthPath:   "/health",
			MetricsPath:  "/metrics",
		},
		RateLimit: RateLimitConfig{
			IPRateLimit:      30,
			IPWindowMinutes:  1,
			IPBurstSize:      5,
			Backend:          "memory",
			CleanupInterval:  10,
			RetryAfterHeader: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads path (when not empty) over the defaults and applies the
// WSHBOX_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if path != "" {
		if !utils.Exists(path) {
			return nil, &ConfigError{Err: fmt.Errorf("config file %s not found", path)}
		}
		data, err := utils.FileToString(path)
		if err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("reading %s: %w", path, err)}
		}
		md, err := toml.Decode(data, config)
		if err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("decoding %s: %w", path, err)}
		}
		for _, key := range md.Undecoded() {
			logger.Warnf("Unknown configuration key %s in %s", key.String(), path)
		}
	}
	if err := envconfig.Process(EnvPrefix, config); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("environment overrides: %w", err)}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks values that would make a run meaningless.
func (c *Config) Validate() error {
	if c.Sandbox.TimeoutSeconds <= 0 {
		return &ConfigError{Err: fmt.Errorf("sandbox.timeout_seconds must be positive, got %d", c.Sandbox.TimeoutSeconds)}
	}
	if c.Sandbox.MaxMemoryMB < 0 {
		return &ConfigError{Err: fmt.Errorf("sandbox.max_memory_mb must not be negative")}
	}
	if c.Sandbox.KillGraceMS < 0 {
		return &ConfigError{Err: fmt.Errorf("sandbox.kill_grace_ms must not be negative")}
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return &ConfigError{Err: err}
	}
	if c.Database.Enabled {
		switch c.Database.Driver {
		case "sqlite3", "postgres":
		default:
			return &ConfigError{Err: fmt.Errorf("unsupported database driver %q", c.Database.Driver)}
		}
	}
	switch strings.ToLower(c.RateLimit.Backend) {
	case "", "memory", "redis":
	default:
		return &ConfigError{Err: fmt.Errorf("unsupported rate limit backend %q", c.RateLimit.Backend)}
	}
	return nil
}

// Limits returns the watchdog budget.
func (c *Config) Limits() Limits {
	limits := DefaultLimits()
	limits.Timeout = time.Duration(c.Sandbox.TimeoutSeconds) * time.Second
	limits.MaxMemoryBytes = int64(c.Sandbox.MaxMemoryMB) * 1024 * 1024
	return limits
}

// KillDeadline is how long a run may take before its process is killed:
// the timeout plus the grace left to the cooperative interruption.
func (c *Config) KillDeadline() time.Duration {
	return time.Duration(c.Sandbox.TimeoutSeconds)*time.Second + time.Duration(c.Sandbox.KillGraceMS)*time.Millisecond
}

// RewriteOptions returns the pipeline pass selection.
func (c *Config) RewriteOptions() rewrite.Options {
	return rewrite.Options{
		Loops:           c.Rewrite.Loops,
		MemberFunctions: c.Rewrite.MemberFunctions,
		Calls:           c.Rewrite.Calls,
		Typeof:          c.Rewrite.Typeof,
		Eval:            c.Rewrite.Eval,
		Catch:           c.Rewrite.Catch,
		DumbConcat:      c.Rewrite.DumbConcat,
	}
}

// LogLevel returns the configured logger level, info when unparsable.
func (c *Config) LogLevel() logger.Level {
	level, err := logger.ParseLevel(c.Log.Level)
	if err != nil {
		return logger.LevelInfo
	}
	return level
}
