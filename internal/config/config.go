// Package config loads najdeno settings from defaults, an optional YAML file
// and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable. A double underscore
// separates nested keys: NAJDENO_MATCHING__THRESHOLD sets matching.threshold.
const EnvPrefix = "NAJDENO_"

// ConfigPathEnvVar names the variable holding the config file path.
const ConfigPathEnvVar = "NAJDENO_CONFIG"

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Log       LogConfig       `koanf:"log"`
	Matching  MatchingConfig  `koanf:"matching"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Mail      MailConfig      `koanf:"mail"`
	Storage   StorageConfig   `koanf:"storage"`
	Security  SecurityConfig  `koanf:"security"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
	// BaseURL is the public site URL used in email deep links.
	BaseURL string `koanf:"base_url"`
	// WriteTimeout must leave room for a whole submission, see RequestBudget.
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type DatabaseConfig struct {
	Path string `koanf:"path"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	File   string `koanf:"file"`
}

type MatchingConfig struct {
	Threshold      float64 `koanf:"threshold"`
	MinOverlap     int     `koanf:"min_overlap"`
	Policy         string  `koanf:"policy"`
	CandidateLimit int     `koanf:"candidate_limit"`
}

type EmbeddingConfig struct {
	Provider      string        `koanf:"provider"`
	URL           string        `koanf:"url"`
	Mode          string        `koanf:"mode"`
	Timeout       time.Duration `koanf:"timeout"`
	MaxImageBytes int64         `koanf:"max_image_bytes"`
	// Warm loads the extractor at startup instead of on first use.
	Warm bool `koanf:"warm"`
}

type MailConfig struct {
	From         string `koanf:"from"`
	SMTPHost     string `koanf:"smtp_host"`
	SMTPPort     int    `koanf:"smtp_port"`
	SMTPUsername string `koanf:"smtp_username"`
	SMTPPassword string `koanf:"smtp_password"`
	SMTPStartTLS bool   `koanf:"smtp_starttls"`
	// Timeout bounds one notification send, connect to QUIT.
	Timeout time.Duration `koanf:"timeout"`
}

type StorageConfig struct {
	S3Bucket      string        `koanf:"s3_bucket"`
	S3Region      string        `koanf:"s3_region"`
	S3Endpoint    string        `koanf:"s3_endpoint"`
	PublicBaseURL string        `koanf:"public_base_url"`
	PresignTTL    time.Duration `koanf:"presign_ttl"`
}

type SecurityConfig struct {
	CORSOrigins []string      `koanf:"cors_origins"`
	RateLimit   int           `koanf:"rate_limit"` // requests per minute per IP, 0 disables
	TokenTTL    time.Duration `koanf:"token_ttl"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:         ":8080",
			BaseURL:      "http://localhost:8080",
			WriteTimeout: 60 * time.Second,
		},
		Database: DatabaseConfig{Path: "najdeno.sqlite3"},
		Log:      LogConfig{Level: "info", Format: "console"},
		Matching: MatchingConfig{
			Threshold:      0.75,
			MinOverlap:     2,
			Policy:         "first",
			CandidateLimit: 500,
		},
		Embedding: EmbeddingConfig{
			Provider:      "local",
			Mode:          "image",
			Timeout:       10 * time.Second,
			MaxImageBytes: 10 << 20,
			Warm:          true,
		},
		Mail: MailConfig{
			From:         "najdeno@localhost",
			SMTPPort:     587,
			SMTPStartTLS: true,
			Timeout:      10 * time.Second,
		},
		Storage:  StorageConfig{PresignTTL: 15 * time.Minute},
		Security: SecurityConfig{RateLimit: 120, TokenTTL: 24 * time.Hour},
	}
}

// legacyEnv maps unprefixed variables kept for existing deployments.
var legacyEnv = map[string]string{
	"BASE_URL":   "server.base_url",
	"SITE_URL":   "server.base_url",
	"EMAIL_FROM": "mail.from",
}

// Load builds the configuration. Sources in increasing priority: defaults,
// the YAML file at path (or $NAJDENO_CONFIG), legacy variables, NAJDENO_
// variables. A .env file in the working directory is read first if present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(ConfigPathEnvVar)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// SITE_URL wins over BASE_URL when both are set.
	for _, name := range []string{"BASE_URL", "SITE_URL", "EMAIL_FROM"} {
		if v := os.Getenv(name); v != "" {
			if err := k.Set(legacyEnv[name], v); err != nil {
				return nil, fmt.Errorf("applying %s: %w", name, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Security.CORSOrigins = splitList(cfg.Security.CORSOrigins)

	return cfg, nil
}

// envKey turns NAJDENO_MAIL__SMTP_HOST into mail.smtp_host.
func envKey(s string) string {
	if s == ConfigPathEnvVar {
		return ""
	}
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func splitList(in []string) []string {
	var out []string
	for _, v := range in {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// requestSlack covers the database work of a submission.
const requestSlack = 5 * time.Second

// RequestBudget is the longest a submission can take: embedding, two
// notification sends and the database work around them.
func (c *Config) RequestBudget() time.Duration {
	return c.Embedding.Timeout + 2*c.Mail.Timeout + requestSlack
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Addr != "", "server.addr is required")
	u, err := url.Parse(c.Server.BaseURL)
	check(err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "",
		"server.base_url must be an absolute http(s) URL, got %q", c.Server.BaseURL)
	check(c.Database.Path != "", "database.path is required")

	check(oneOf(strings.ToLower(c.Log.Level), "debug", "info", "warn", "warning", "error"),
		"log.level must be debug, info, warn or error, got %q", c.Log.Level)
	check(oneOf(c.Log.Format, "console", "json"), "log.format must be console or json, got %q", c.Log.Format)

	check(c.Matching.Threshold > 0 && c.Matching.Threshold <= 1,
		"matching.threshold must be in (0, 1], got %v", c.Matching.Threshold)
	check(c.Matching.MinOverlap >= 1, "matching.min_overlap must be at least 1, got %d", c.Matching.MinOverlap)
	check(oneOf(c.Matching.Policy, "first", "best"), "matching.policy must be first or best, got %q", c.Matching.Policy)
	check(c.Matching.CandidateLimit >= 1, "matching.candidate_limit must be at least 1, got %d", c.Matching.CandidateLimit)

	check(oneOf(c.Embedding.Provider, "local", "remote"),
		"embedding.provider must be local or remote, got %q", c.Embedding.Provider)
	check(c.Embedding.Provider != "remote" || c.Embedding.URL != "", "embedding.url is required for the remote provider")
	check(oneOf(c.Embedding.Mode, "image", "url"), "embedding.mode must be image or url, got %q", c.Embedding.Mode)
	check(c.Embedding.Timeout > 0, "embedding.timeout must be positive")
	check(c.Embedding.MaxImageBytes > 0, "embedding.max_image_bytes must be positive")

	check(c.Mail.From != "", "mail.from is required")
	check(c.Mail.Timeout > 0, "mail.timeout must be positive")
	check(c.Server.WriteTimeout > 0 && c.RequestBudget() < c.Server.WriteTimeout,
		"server.write_timeout (%s) must exceed embedding.timeout + 2 * mail.timeout + %s (%s)",
		c.Server.WriteTimeout, requestSlack, c.RequestBudget())
	check(c.Mail.SMTPHost == "" || (c.Mail.SMTPPort > 0 && c.Mail.SMTPPort < 65536),
		"mail.smtp_port must be a valid port, got %d", c.Mail.SMTPPort)

	check(c.Storage.S3Bucket == "" || c.Storage.PublicBaseURL != "",
		"storage.public_base_url is required when storage.s3_bucket is set")
	check(c.Storage.PresignTTL > 0, "storage.presign_ttl must be positive")

	check(c.Security.RateLimit >= 0, "security.rate_limit must not be negative")
	check(c.Security.TokenTTL > 0, "security.token_ttl must be positive")

	return errors.Join(errs...)
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
