package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the voxdialer engine.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	Port int // HTTP listener (dashboard websocket + internal endpoints)

	ARIURL      string
	ARIUsername string
	ARIPassword string

	TTSURL string

	DBHost     string
	DBPort     int
	DBUsername string
	DBPassword string
	DBDatabase string
	DBSSLMode  string

	JWTSecret          string // hex-encoded 32-byte secret for dashboard bearer tokens
	InternalAPISecret  string // shared secret for the narrow internal CRUD surface
	CORSOrigins        string // comma-separated allowed dashboard origins, "*" for all

	Trunks []string // static, ordered list of outbound trunk names tried per attempt

	LogLevel  string
	LogFormat string // "text" or "json"

	// Engine tunables. These are not named in the external spec's env var
	// list but are exposed the same way (CLI flag + env override) so an
	// operator can retune timing without a rebuild.
	BatchMax              int
	SchedulerTick         time.Duration
	RetryBackoff          time.Duration
	StaleLockTimeout      time.Duration
	LockSweepInterval     time.Duration
	TrunkRingTimeout      time.Duration
	CallHardTimeout       time.Duration
	MenuDTMFTimeout       time.Duration
	StepDTMFTimeout       time.Duration
	InterDigitTimeout     time.Duration
	QueueTimeout          time.Duration
	QueueTick             time.Duration
	AgentFinishedDedup    time.Duration
	ARIReconnectBackoff   time.Duration
}

// defaults
const (
	defaultPort      = 3000
	defaultDBPort    = 5432
	defaultDBSSLMode = "disable"
	defaultLogLevel  = "info"
	defaultLogFormat = "text"
)

// envPrefix namespaces tunables that have no spec-mandated name of their
// own; the ARI/TTS/DB/PORT/JWT/INTERNAL_API_SECRET vars keep their exact
// spec-given names with no prefix.
const envPrefix = "VOXDIALER_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("voxdialer", flag.ContinueOnError)

	fs.IntVar(&cfg.Port, "port", defaultPort, "HTTP server listen port")
	fs.StringVar(&cfg.ARIURL, "ari-url", "", "telephony control plane base URL (required)")
	fs.StringVar(&cfg.ARIUsername, "ari-username", "", "telephony control plane basic auth username (required)")
	fs.StringVar(&cfg.ARIPassword, "ari-password", "", "telephony control plane basic auth password (required)")
	fs.StringVar(&cfg.TTSURL, "tts-url", "", "text-to-speech service endpoint (required)")
	fs.StringVar(&cfg.DBHost, "db-host", "", "primary store hostname (required)")
	fs.IntVar(&cfg.DBPort, "db-port", defaultDBPort, "primary store port")
	fs.StringVar(&cfg.DBUsername, "db-username", "", "primary store username (required)")
	fs.StringVar(&cfg.DBPassword, "db-password", "", "primary store password")
	fs.StringVar(&cfg.DBDatabase, "db-database", "", "primary store database name (required)")
	fs.StringVar(&cfg.DBSSLMode, "db-sslmode", defaultDBSSLMode, "primary store sslmode (disable, require, verify-full)")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "hex-encoded 32-byte secret for dashboard bearer tokens (auto-generated if empty)")
	fs.StringVar(&cfg.InternalAPISecret, "internal-api-secret", "", "shared secret for the internal CRUD surface")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "*", "comma-separated allowed dashboard origins, or * for all")
	var trunksFlag string
	fs.StringVar(&trunksFlag, "trunks", "trunk0", "comma-separated, ordered list of outbound trunk names")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")

	fs.IntVar(&cfg.BatchMax, "batch-max", 20, "maximum contacts dialed per scheduler tick per campaign")
	fs.DurationVar(&cfg.SchedulerTick, "scheduler-tick", 1*time.Second, "scheduler polling interval")
	fs.DurationVar(&cfg.RetryBackoff, "retry-backoff", 5*time.Second, "accepted but not read: contact selection always waits a fixed 5s before retrying a failed contact")
	fs.DurationVar(&cfg.StaleLockTimeout, "stale-lock-timeout", 30*time.Second, "age at which a campaign processing lock is considered stale")
	fs.DurationVar(&cfg.LockSweepInterval, "lock-sweep-interval", 5*time.Minute, "interval between stale campaign lock sweeps")
	fs.DurationVar(&cfg.TrunkRingTimeout, "trunk-ring-timeout", 45*time.Second, "per-trunk ring timeout before trying the next trunk")
	fs.DurationVar(&cfg.CallHardTimeout, "call-hard-timeout", 70*time.Second, "hard timeout from attempt start before a forced hangup")
	fs.DurationVar(&cfg.MenuDTMFTimeout, "menu-dtmf-timeout", 8*time.Second, "wait for a menu selection digit after greeting playback")
	fs.DurationVar(&cfg.StepDTMFTimeout, "step-dtmf-timeout", 15*time.Second, "wait for a step capture digit after prompt playback")
	fs.DurationVar(&cfg.InterDigitTimeout, "inter-digit-timeout", 2*time.Second, "wait between digits of a multi-digit capture")
	fs.DurationVar(&cfg.QueueTimeout, "queue-timeout", 300*time.Second, "maximum time a caller waits in the agent queue")
	fs.DurationVar(&cfg.QueueTick, "queue-tick", 2*time.Second, "interval between agent queue assignment passes")
	fs.DurationVar(&cfg.AgentFinishedDedup, "agent-finished-dedup", 10*time.Second, "dedup window for duplicate call-finished notifications")
	fs.DurationVar(&cfg.ARIReconnectBackoff, "ari-reconnect-backoff", 3*time.Second, "fixed backoff between telephony control-plane reconnect attempts")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	trunksSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "trunks" {
			trunksSet = true
		}
	})
	if !trunksSet {
		if val, ok := os.LookupEnv(envPrefix + "TRUNKS"); ok && val != "" {
			trunksFlag = val
		}
	}
	for _, name := range strings.Split(trunksFlag, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			cfg.Trunks = append(cfg.Trunks, name)
		}
	}

	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults. The ARI/TTS/DB/PORT/JWT/internal-secret
// variables use the exact names the telephony platform's operators expect;
// engine tunables live under VOXDIALER_ to avoid colliding with anything else
// in the deployment environment.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	stringEnv := map[string]string{
		"ari-url":              "ARI_URL",
		"ari-username":         "ARI_USERNAME",
		"ari-password":         "ARI_PASSWORD",
		"tts-url":              "TTS_URL",
		"db-host":              "DB_HOST",
		"db-username":          "DB_USERNAME",
		"db-password":          "DB_PASSWORD",
		"db-database":          "DB_DATABASE",
		"db-sslmode":           envPrefix + "DB_SSLMODE",
		"jwt-secret":           "JWT_SECRET",
		"internal-api-secret":  "INTERNAL_API_SECRET",
		"cors-origins":         envPrefix + "CORS_ORIGINS",
		"log-level":            envPrefix + "LOG_LEVEL",
		"log-format":           envPrefix + "LOG_FORMAT",
	}
	for flagName, envVar := range stringEnv {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "ari-url":
			cfg.ARIURL = val
		case "ari-username":
			cfg.ARIUsername = val
		case "ari-password":
			cfg.ARIPassword = val
		case "tts-url":
			cfg.TTSURL = val
		case "db-host":
			cfg.DBHost = val
		case "db-username":
			cfg.DBUsername = val
		case "db-password":
			cfg.DBPassword = val
		case "db-database":
			cfg.DBDatabase = val
		case "db-sslmode":
			cfg.DBSSLMode = val
		case "jwt-secret":
			cfg.JWTSecret = val
		case "internal-api-secret":
			cfg.InternalAPISecret = val
		case "cors-origins":
			cfg.CORSOrigins = val
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		}
	}

	intEnv := map[string]string{
		"port":     "PORT",
		"db-port":  "DB_PORT",
	}
	for flagName, envVar := range intEnv {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		v, err := strconv.Atoi(val)
		if err != nil {
			continue
		}
		switch flagName {
		case "port":
			cfg.Port = v
		case "db-port":
			cfg.DBPort = v
		}
	}

	durationEnv := map[string]*time.Duration{
		envPrefix + "SCHEDULER_TICK":          &cfg.SchedulerTick,
		envPrefix + "RETRY_BACKOFF":           &cfg.RetryBackoff,
		envPrefix + "STALE_LOCK_TIMEOUT":      &cfg.StaleLockTimeout,
		envPrefix + "LOCK_SWEEP_INTERVAL":     &cfg.LockSweepInterval,
		envPrefix + "TRUNK_RING_TIMEOUT":      &cfg.TrunkRingTimeout,
		envPrefix + "CALL_HARD_TIMEOUT":       &cfg.CallHardTimeout,
		envPrefix + "MENU_DTMF_TIMEOUT":       &cfg.MenuDTMFTimeout,
		envPrefix + "STEP_DTMF_TIMEOUT":       &cfg.StepDTMFTimeout,
		envPrefix + "INTER_DIGIT_TIMEOUT":     &cfg.InterDigitTimeout,
		envPrefix + "QUEUE_TIMEOUT":           &cfg.QueueTimeout,
		envPrefix + "QUEUE_TICK":              &cfg.QueueTick,
		envPrefix + "AGENT_FINISHED_DEDUP":    &cfg.AgentFinishedDedup,
		envPrefix + "ARI_RECONNECT_BACKOFF":   &cfg.ARIReconnectBackoff,
	}
	for envVar, field := range durationEnv {
		flagName := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(envVar, envPrefix), "_", "-"))
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		if d, err := time.ParseDuration(val); err == nil {
			*field = d
		}
	}

	if !set["batch-max"] {
		if val, ok := os.LookupEnv(envPrefix + "BATCH_MAX"); ok && val != "" {
			if v, err := strconv.Atoi(val); err == nil {
				cfg.BatchMax = v
			}
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.ARIURL == "" || c.ARIUsername == "" || c.ARIPassword == "" {
		return fmt.Errorf("ARI_URL, ARI_USERNAME, and ARI_PASSWORD are required")
	}
	if c.TTSURL == "" {
		return fmt.Errorf("TTS_URL is required")
	}
	if c.DBHost == "" || c.DBUsername == "" || c.DBDatabase == "" {
		return fmt.Errorf("DB_HOST, DB_USERNAME, and DB_DATABASE are required")
	}
	if c.DBPort < 1 || c.DBPort > 65535 {
		return fmt.Errorf("db-port must be between 1 and 65535, got %d", c.DBPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if c.BatchMax < 1 {
		return fmt.Errorf("batch-max must be at least 1, got %d", c.BatchMax)
	}

	if len(c.Trunks) == 0 {
		return fmt.Errorf("at least one outbound trunk must be configured")
	}

	return nil
}

// DSN returns the libpq connection string for the primary store.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUsername, c.DBPassword, c.DBHost, c.DBPort, c.DBDatabase, c.DBSSLMode)
}

// JWTSecretBytes returns the decoded 32-byte JWT signing secret used for
// dashboard bearer tokens. If no secret is configured, it generates a
// random 32-byte key for the process lifetime; tokens will not survive a
// restart in that case.
func (c *Config) JWTSecretBytes() ([]byte, error) {
	if c.JWTSecret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating jwt secret: %w", err)
		}
		c.JWTSecret = hex.EncodeToString(key)
		slog.Warn("no JWT_SECRET configured, generated ephemeral key (tokens will not survive restart)")
		return key, nil
	}
	key, err := hex.DecodeString(c.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding jwt secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("jwt secret must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
