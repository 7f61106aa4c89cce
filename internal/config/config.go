// Package config loads service settings from defaults, an optional YAML
// file, HELPDESK_* environment variables and command-line flags, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"helpdesk.org/internal/notify"
	"helpdesk.org/internal/ratelimit"
)

const (
	EnvDev  = "dev"
	EnvProd = "prod"

	// minSecretBytes applies outside dev.
	minSecretBytes = 32

	devSecret = "helpdesk-dev-secret-do-not-use-in-production"
)

type Config struct {
	Environment string         `yaml:"environment"`
	Service     string         `yaml:"service"`
	Log         LogConfig      `yaml:"log"`
	HTTP        HTTPConfig     `yaml:"http"`
	GRPC        GRPCConfig     `yaml:"grpc"`
	Database    DatabaseConfig `yaml:"database"`
	Auth        AuthConfig     `yaml:"auth"`
	RateLimit   RateLimit      `yaml:"rate_limit"`
	Redis       RedisConfig    `yaml:"redis"`
	Notify      NotifyConfig   `yaml:"notify"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	TrustProxy      bool          `yaml:"trust_proxy"`
}

type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

type AuthConfig struct {
	Secret     string `yaml:"secret"`
	Issuer     string `yaml:"issuer"`
	BcryptCost int    `yaml:"bcrypt_cost"`
	// AdminEmails register with the admin role.
	AdminEmails []string `yaml:"admin_emails"`
}

// RateLimit selects the limiter backend and the named window settings.
type RateLimit struct {
	Backend         string                      `yaml:"backend"`
	JanitorInterval time.Duration               `yaml:"janitor_interval"`
	Limiters        map[string]ratelimit.Config `yaml:"limiters"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type NotifyConfig struct {
	// Mailer is one of "log", "smtp" or "amqp".
	Mailer   string             `yaml:"mailer"`
	Deferred bool               `yaml:"deferred"`
	Product  string             `yaml:"product"`
	SMTP     notify.SMTPConfig  `yaml:"smtp"`
	Queue    notify.QueueConfig `yaml:"amqp"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Environment: EnvDev,
		Service:     "helpdesk-api",
		Log:         LogConfig{Level: "info"},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		GRPC: GRPCConfig{Addr: ":9090"},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Auth: AuthConfig{Issuer: "helpdesk", BcryptCost: 12},
		RateLimit: RateLimit{
			Backend:         "memory",
			JanitorInterval: time.Minute,
			Limiters: map[string]ratelimit.Config{
				ratelimit.Auth:    {Window: 15 * time.Minute, MaxRequests: 5},
				ratelimit.API:     {Window: 15 * time.Minute, MaxRequests: 100},
				ratelimit.Tickets: {Window: time.Hour, MaxRequests: 10},
			},
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Notify: NotifyConfig{
			Mailer:  "log",
			Product: "Helpdesk",
			Queue:   notify.QueueConfig{Exchange: "helpdesk.mail", RoutingKey: "ticket.resolved"},
		},
	}
}

// Load parses args (without the program name) and builds the final config.
// lookupEnv is usually os.LookupEnv. pflag.ErrHelp is returned unchanged.
func Load(args []string, lookupEnv func(string) (string, bool)) (*Config, error) {
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	cfg := Default()

	fs := pflag.NewFlagSet("helpdesk-api", pflag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	env := fs.String("env", cfg.Environment, "environment (dev or prod)")
	httpAddr := fs.String("http-addr", cfg.HTTP.Addr, "HTTP listen address")
	grpcAddr := fs.String("grpc-addr", cfg.GRPC.Addr, "gRPC health listen address")
	logLevel := fs.String("log-level", cfg.Log.Level, "log level (debug, info, warn, error)")
	dsn := fs.String("pg-dsn", "", "PostgreSQL DSN; in-memory stores when empty")
	limiterBackend := fs.String("rate-limit-backend", cfg.RateLimit.Backend, "rate limiter backend (memory or redis)")
	mailer := fs.String("mailer", cfg.Notify.Mailer, "notification mailer (log, smtp or amqp)")
	deferred := fs.Bool("notify-deferred", false, "delay resolution notifications by five minutes")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	path := *configPath
	if path == "" {
		path, _ = lookupEnv("HELPDESK_CONFIG")
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(&cfg, lookupEnv); err != nil {
		return nil, err
	}

	if fs.Changed("env") {
		cfg.Environment = *env
	}
	if fs.Changed("http-addr") {
		cfg.HTTP.Addr = *httpAddr
	}
	if fs.Changed("grpc-addr") {
		cfg.GRPC.Addr = *grpcAddr
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = *logLevel
	}
	if fs.Changed("pg-dsn") {
		cfg.Database.DSN = *dsn
	}
	if fs.Changed("rate-limit-backend") {
		cfg.RateLimit.Backend = *limiterBackend
	}
	if fs.Changed("mailer") {
		cfg.Notify.Mailer = *mailer
	}
	if fs.Changed("notify-deferred") {
		cfg.Notify.Deferred = *deferred
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("HELPDESK_ENV", &cfg.Environment)
	str("HELPDESK_LOG_LEVEL", &cfg.Log.Level)
	str("HELPDESK_HTTP_ADDR", &cfg.HTTP.Addr)
	str("HELPDESK_GRPC_ADDR", &cfg.GRPC.Addr)
	str("HELPDESK_PG_DSN", &cfg.Database.DSN)
	str("HELPDESK_JWT_SECRET", &cfg.Auth.Secret)
	str("HELPDESK_JWT_ISSUER", &cfg.Auth.Issuer)
	str("HELPDESK_RATE_LIMIT_BACKEND", &cfg.RateLimit.Backend)
	str("HELPDESK_REDIS_ADDR", &cfg.Redis.Addr)
	str("HELPDESK_REDIS_PASSWORD", &cfg.Redis.Password)
	str("HELPDESK_MAILER", &cfg.Notify.Mailer)
	str("HELPDESK_SMTP_HOST", &cfg.Notify.SMTP.Host)
	str("HELPDESK_SMTP_USERNAME", &cfg.Notify.SMTP.Username)
	str("HELPDESK_SMTP_PASSWORD", &cfg.Notify.SMTP.Password)
	str("HELPDESK_SMTP_FROM", &cfg.Notify.SMTP.From)
	str("HELPDESK_AMQP_URL", &cfg.Notify.Queue.URL)

	if v, ok := lookup("HELPDESK_ALLOWED_ORIGINS"); ok && v != "" {
		cfg.HTTP.AllowedOrigins = splitList(v)
	}
	if v, ok := lookup("HELPDESK_ADMIN_EMAILS"); ok && v != "" {
		cfg.Auth.AdminEmails = splitList(v)
	}
	if v, ok := lookup("HELPDESK_NOTIFY_DEFERRED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: HELPDESK_NOTIFY_DEFERRED: %w", err)
		}
		cfg.Notify.Deferred = b
	}
	if v, ok := lookup("HELPDESK_SMTP_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: HELPDESK_SMTP_PORT: %w", err)
		}
		cfg.Notify.SMTP.Port = port
	}
	// HELPDESK_RATE_LIMIT_<NAME>=<max>/<window>, e.g. HELPDESK_RATE_LIMIT_AUTH=5/15m
	for _, name := range ratelimit.RequiredLimiters {
		key := "HELPDESK_RATE_LIMIT_" + strings.ToUpper(name)
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		lc, err := parseLimit(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		cfg.RateLimit.Limiters[name] = lc
	}
	return nil
}

func parseLimit(raw string) (ratelimit.Config, error) {
	limit, window, ok := strings.Cut(strings.TrimSpace(raw), "/")
	if !ok {
		return ratelimit.Config{}, errors.New("expected <max>/<window>")
	}
	n, err := strconv.Atoi(strings.TrimSpace(limit))
	if err != nil {
		return ratelimit.Config{}, err
	}
	d, err := time.ParseDuration(strings.TrimSpace(window))
	if err != nil {
		return ratelimit.Config{}, err
	}
	return ratelimit.Config{Window: d, MaxRequests: n}, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) normalize() {
	c.Environment = strings.ToLower(strings.TrimSpace(c.Environment))
	c.RateLimit.Backend = strings.ToLower(strings.TrimSpace(c.RateLimit.Backend))
	c.Notify.Mailer = strings.ToLower(strings.TrimSpace(c.Notify.Mailer))
	if c.Auth.Secret == "" && c.Environment == EnvDev {
		c.Auth.Secret = devSecret
	}
}

// IsDev reports whether the service runs in the dev environment.
func (c *Config) IsDev() bool { return c.Environment == EnvDev }

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvDev, EnvProd:
	default:
		return fmt.Errorf("config: unknown environment %q", c.Environment)
	}
	if c.Auth.Secret == "" {
		return errors.New("config: auth.secret (HELPDESK_JWT_SECRET) is required")
	}
	if !c.IsDev() && (len(c.Auth.Secret) < minSecretBytes || c.Auth.Secret == devSecret) {
		return fmt.Errorf("config: auth.secret must be at least %d bytes and not the dev default", minSecretBytes)
	}
	for _, name := range ratelimit.RequiredLimiters {
		lc, ok := c.RateLimit.Limiters[name]
		if !ok {
			return fmt.Errorf("config: rate_limit.limiters.%s is required", name)
		}
		if err := lc.Validate(); err != nil {
			return fmt.Errorf("config: rate_limit.limiters.%s: %w", name, err)
		}
	}
	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("config: redis.addr is required for the redis rate limit backend")
		}
	default:
		return fmt.Errorf("config: unknown rate limit backend %q", c.RateLimit.Backend)
	}
	switch c.Notify.Mailer {
	case "log":
	case "smtp":
		if c.Notify.SMTP.Host == "" || c.Notify.SMTP.From == "" {
			return errors.New("config: notify.smtp.host and notify.smtp.from are required")
		}
	case "amqp":
		if c.Notify.Queue.URL == "" || c.Notify.Queue.Exchange == "" {
			return errors.New("config: notify.amqp.url and notify.amqp.exchange are required")
		}
	default:
		return fmt.Errorf("config: unknown mailer %q", c.Notify.Mailer)
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return errors.New("config: http.max_body_bytes must be positive")
	}
	return nil
}
