package config

import (
	"fmt"
	"net"
	"os"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/telekom/mailguard/pkg/audit"
	"github.com/telekom/mailguard/pkg/lockout"
	"github.com/telekom/mailguard/pkg/mail"
	"github.com/telekom/mailguard/pkg/ratelimit"
	"github.com/telekom/mailguard/pkg/telemetry"
)

// Environment variables that override file settings.
const (
	EnvConfigPath      = "MAILGUARD_CONFIG_PATH"
	EnvListenAddress   = "MAILGUARD_LISTEN_ADDRESS"
	EnvFingerprintSalt = "MAILGUARD_FINGERPRINT_SALT"
	EnvStorePath       = "MAILGUARD_STORE_PATH"
	EnvAuditFile       = "MAILGUARD_AUDIT_FILE"
)

// Server timeout defaults. The write timeout must outlast a full send with
// retries (3 attempts of 30s plus backoff).
const (
	DefaultReadTimeout       = 30 * time.Second
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultWriteTimeout      = 120 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultListenAddress     = ":8080"
)

// ServerTimeouts holds the http.Server limits as duration strings. All getters
// are safe on a nil receiver.
type ServerTimeouts struct {
	ReadTimeout       string `yaml:"readTimeout"`
	ReadHeaderTimeout string `yaml:"readHeaderTimeout"`
	WriteTimeout      string `yaml:"writeTimeout"`
	IdleTimeout       string `yaml:"idleTimeout"`
	MaxHeaderBytes    int    `yaml:"maxHeaderBytes"`
}

func (t *ServerTimeouts) GetReadTimeout() time.Duration {
	if t == nil {
		return DefaultReadTimeout
	}
	return parseDurationOrDefault(t.ReadTimeout, DefaultReadTimeout)
}

func (t *ServerTimeouts) GetReadHeaderTimeout() time.Duration {
	if t == nil {
		return DefaultReadHeaderTimeout
	}
	return parseDurationOrDefault(t.ReadHeaderTimeout, DefaultReadHeaderTimeout)
}

func (t *ServerTimeouts) GetWriteTimeout() time.Duration {
	if t == nil {
		return DefaultWriteTimeout
	}
	return parseDurationOrDefault(t.WriteTimeout, DefaultWriteTimeout)
}

func (t *ServerTimeouts) GetIdleTimeout() time.Duration {
	if t == nil {
		return DefaultIdleTimeout
	}
	return parseDurationOrDefault(t.IdleTimeout, DefaultIdleTimeout)
}

func (t *ServerTimeouts) GetMaxHeaderBytes() int {
	if t == nil || t.MaxHeaderBytes <= 0 {
		return DefaultMaxHeaderBytes
	}
	return t.MaxHeaderBytes
}

type Server struct {
	ListenAddress  string          `yaml:"listenAddress"`
	TLSCertFile    string          `yaml:"tlsCertFile"`
	TLSKeyFile     string          `yaml:"tlsKeyFile"`
	TrustedProxies []string        `yaml:"trustedProxies"` // IPs/CIDRs to trust for X-Forwarded-For headers
	Timeouts       *ServerTimeouts `yaml:"timeouts"`
	// ShutdownTimeout bounds graceful shutdown, e.g. "30s".
	ShutdownTimeout string `yaml:"shutdownTimeout"`
	// AllowedOrigins enables CORS for the listed origins. Empty disables CORS.
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// GetServerTimeouts never returns nil.
func (s Server) GetServerTimeouts() *ServerTimeouts {
	if s.Timeouts == nil {
		return &ServerTimeouts{}
	}
	return s.Timeouts
}

func (s Server) GetShutdownTimeout() time.Duration {
	return parseDurationOrDefault(s.ShutdownTimeout, DefaultShutdownTimeout)
}

func (s Server) GetListenAddress() string {
	if s.ListenAddress == "" {
		return DefaultListenAddress
	}
	return s.ListenAddress
}

type Guard struct {
	// FingerprintSalt keys caller fingerprints. Must be at least 16 bytes;
	// when empty a random salt is generated at startup.
	FingerprintSalt      string `yaml:"fingerprintSalt"`
	MaxBodyBytes         int    `yaml:"maxBodyBytes"`
	VerifyOnConfigChange bool   `yaml:"verifyOnConfigChange"`
	// AllowedRecipients are glob patterns such as "*@example.com". Empty
	// allows every recipient.
	AllowedRecipients []string `yaml:"allowedRecipients"`
}

// RatePolicy mirrors ratelimit.Policy with duration strings.
type RatePolicy struct {
	Limit       int    `yaml:"limit"`
	Window      string `yaml:"window"`
	MinInterval string `yaml:"minInterval"`
}

type RateLimits struct {
	Send         *RatePolicy `yaml:"send"`
	ConfigChange *RatePolicy `yaml:"configChange"`
	API          *RatePolicy `yaml:"api"`
	// SendGlobal caps sends across all callers. Disabled when nil.
	SendGlobal      *RatePolicy `yaml:"sendGlobal"`
	CleanupInterval string      `yaml:"cleanupInterval"`
}

type Lockout struct {
	Threshold     int    `yaml:"threshold"`
	Duration      string `yaml:"duration"`
	FailureWindow string `yaml:"failureWindow"`
	// SweepInterval controls how often expired lockout entries are dropped.
	SweepInterval string `yaml:"sweepInterval"`
}

type Transport struct {
	AttemptTimeout string `yaml:"attemptTimeout"`
	MaxAttempts    int    `yaml:"maxAttempts"`
	InitialBackoff string `yaml:"initialBackoff"`
	LocalName      string `yaml:"localName"`
}

// Store backends.
const (
	StoreMemory = "memory"
	StoreBolt   = "bolt"
)

type Store struct {
	// Backend is "bolt" (default) or "memory".
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	// Keyring keeps the relay password in the OS keyring.
	Keyring        bool   `yaml:"keyring"`
	KeyringService string `yaml:"keyringService"`
}

type Audit struct {
	// File appends JSON lines to this path when set.
	File string `yaml:"file"`
	// DisableLogSink turns off audit records in the service log.
	DisableLogSink bool                   `yaml:"disableLogSink"`
	Kafka          *audit.KafkaSinkConfig `yaml:"kafka"`
	CircuitBreaker *CircuitBreaker        `yaml:"circuitBreaker"`
}

type CircuitBreaker struct {
	FailureThreshold int    `yaml:"failureThreshold"`
	OpenTimeout      string `yaml:"openTimeout"`
}

// Tracing configures OpenTelemetry. Disabled unless Enabled is set.
type Tracing struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	// SamplingRate of 0 samples everything.
	SamplingRate float64 `yaml:"samplingRate"`
}

type Config struct {
	Server     Server     `yaml:"server"`
	Guard      Guard      `yaml:"guard"`
	RateLimits RateLimits `yaml:"rateLimits"`
	Lockout    Lockout    `yaml:"lockout"`
	Transport  Transport  `yaml:"transport"`
	Store      Store      `yaml:"store"`
	Audit      Audit      `yaml:"audit"`
	Tracing    Tracing    `yaml:"tracing"`
}

// Load loads the mailguard configuration from a file path.
// If configPath is empty, MAILGUARD_CONFIG_PATH is used, then "./config.yaml".
// MAILGUARD_* variables override the matching file settings.
func Load(configPath ...string) (Config, error) {
	var path string

	switch {
	case len(configPath) > 0 && configPath[0] != "":
		path = configPath[0]
	case os.Getenv(EnvConfigPath) != "":
		path = os.Getenv(EnvConfigPath)
	default:
		path = "./config.yaml"
	}

	var config Config

	content, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("trying to open mailguard config file %s: %w", path, err)
	}

	err = yaml.Unmarshal(content, &config)
	if err != nil {
		return config, fmt.Errorf("error unmarshaling YAML %s: %w", path, err)
	}
	config.applyEnv()
	return config, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvListenAddress); v != "" {
		c.Server.ListenAddress = v
	}
	if v := os.Getenv(EnvFingerprintSalt); v != "" {
		c.Guard.FingerprintSalt = v
	}
	if v := os.Getenv(EnvStorePath); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv(EnvAuditFile); v != "" {
		c.Audit.File = v
	}
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var problems []string
	if c.Guard.FingerprintSalt != "" && len(c.Guard.FingerprintSalt) < 16 {
		problems = append(problems, "guard.fingerprintSalt must be at least 16 bytes")
	}
	for _, p := range c.Guard.AllowedRecipients {
		if _, err := path.Match(p, ""); err != nil {
			problems = append(problems, fmt.Sprintf("guard.allowedRecipients pattern %q is invalid", p))
		}
	}
	switch c.Store.GetBackend() {
	case StoreMemory:
	case StoreBolt:
		if c.Store.Path == "" {
			problems = append(problems, "store.path is required for the bolt backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("store.backend %q is not supported", c.Store.Backend))
	}
	for _, p := range c.Server.TrustedProxies {
		if !validProxy(p) {
			problems = append(problems, fmt.Sprintf("server.trustedProxies entry %q is not an IP address or CIDR", p))
		}
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		problems = append(problems, "server.tlsCertFile and server.tlsKeyFile must be set together")
	}
	if wt, send := c.Server.GetServerTimeouts().GetWriteTimeout(), c.Transport.Options().MaxSendDuration(); wt <= send {
		problems = append(problems, fmt.Sprintf("server.timeouts.writeTimeout %s must exceed the longest send (%s)", wt, send))
	}
	if k := c.Audit.Kafka; k != nil && (len(k.Brokers) == 0 || k.Topic == "") {
		problems = append(problems, "audit.kafka needs brokers and a topic")
	}
	if t := c.Tracing; t.Enabled {
		switch t.Exporter {
		case "", telemetry.ExporterOTLP:
			if t.Endpoint == "" {
				problems = append(problems, "tracing.endpoint is required for the otlp exporter")
			}
		case telemetry.ExporterStdout, telemetry.ExporterNone:
		default:
			problems = append(problems, fmt.Sprintf("tracing.exporter %q is not supported", t.Exporter))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (s Store) GetBackend() string {
	if s.Backend == "" {
		return StoreBolt
	}
	return strings.ToLower(s.Backend)
}

// RateLimitConfig converts the file settings, starting from ratelimit.DefaultConfig.
func (r RateLimits) RateLimitConfig() ratelimit.Config {
	cfg := ratelimit.DefaultConfig()
	apply := func(class ratelimit.Class, p *RatePolicy) {
		if p == nil {
			return
		}
		cur := cfg.Policies[class]
		if p.Limit > 0 {
			cur.Limit = p.Limit
		}
		cur.Window = parseDurationOrDefault(p.Window, cur.Window)
		cur.MinInterval = parseDurationOrDefault(p.MinInterval, cur.MinInterval)
		cfg.Policies[class] = cur
	}
	apply(ratelimit.ClassSend, r.Send)
	apply(ratelimit.ClassConfigChange, r.ConfigChange)
	apply(ratelimit.ClassAPI, r.API)
	if r.SendGlobal != nil {
		cfg.Policies[ratelimit.ClassSendGlobal] = ratelimit.Policy{Window: time.Hour}
		apply(ratelimit.ClassSendGlobal, r.SendGlobal)
	}
	cfg.CleanupInterval = parseDurationOrDefault(r.CleanupInterval, cfg.CleanupInterval)
	return cfg
}

func (l Lockout) LockoutConfig() lockout.Config {
	def := lockout.DefaultConfig()
	cfg := lockout.Config{
		Threshold:     def.Threshold,
		Duration:      parseDurationOrDefault(l.Duration, def.Duration),
		FailureWindow: parseDurationOrDefault(l.FailureWindow, def.FailureWindow),
	}
	if l.Threshold > 0 {
		cfg.Threshold = l.Threshold
	}
	return cfg
}

func (l Lockout) GetSweepInterval() time.Duration {
	return parseDurationOrDefault(l.SweepInterval, time.Minute)
}

func (t Transport) Options() mail.Options {
	o := mail.Options{
		AttemptTimeout: parseDurationOrDefault(t.AttemptTimeout, mail.DefaultAttemptTimeout),
		MaxAttempts:    mail.DefaultMaxAttempts,
		InitialBackoff: parseDurationOrDefault(t.InitialBackoff, mail.DefaultInitialBackoff),
		LocalName:      t.LocalName,
	}
	if t.MaxAttempts > 0 {
		o.MaxAttempts = t.MaxAttempts
	}
	return o
}

// Options converts the tracing settings for telemetry.Init.
func (t Tracing) Options(log *zap.SugaredLogger) telemetry.Options {
	return telemetry.Options{
		Enabled:      t.Enabled,
		Exporter:     t.Exporter,
		Endpoint:     t.Endpoint,
		Insecure:     t.Insecure,
		SamplingRate: t.SamplingRate,
		Logger:       log,
	}
}

func (c *CircuitBreaker) Config() audit.CircuitBreakerConfig {
	def := audit.DefaultCircuitBreakerConfig()
	if c == nil {
		return def
	}
	if c.FailureThreshold > 0 {
		def.FailureThreshold = c.FailureThreshold
	}
	def.OpenTimeout = parseDurationOrDefault(c.OpenTimeout, def.OpenTimeout)
	return def
}

// parseDurationOrDefault returns def for empty, invalid or non-positive values.
// validProxy accepts what gin's SetTrustedProxies accepts.
func validProxy(p string) bool {
	if strings.Contains(p, "/") {
		_, _, err := net.ParseCIDR(p)
		return err == nil
	}
	return net.ParseIP(p) != nil
}

func parseDurationOrDefault(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
