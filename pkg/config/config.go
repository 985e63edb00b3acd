// Package config loads briefgate settings from an optional YAML file
// overlaid by BRIEFGATE_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/briefgate/pkg/artifacts"
	"github.com/Mindburn-Labs/briefgate/pkg/backends/connector"
	"github.com/Mindburn-Labs/briefgate/pkg/router"
	"github.com/Mindburn-Labs/briefgate/pkg/template"
)

// Config is the full runtime configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`

	Template      TemplateConfig      `yaml:"template"`
	Router        RouterConfig        `yaml:"router"`
	PDFServices   PDFServicesConfig   `yaml:"pdf_services"`
	Budget        BudgetConfig        `yaml:"budget"`
	Ledger        LedgerConfig        `yaml:"ledger"`
	Artifacts     artifacts.Config    `yaml:"artifacts"`
	Observability ObservabilityConfig `yaml:"observability"`
	Batch         BatchConfig         `yaml:"batch"`
	Connector     ConnectorConfig     `yaml:"connector"`
}

type TemplateConfig struct {
	Keyword      string `yaml:"keyword"`
	Name         string `yaml:"name"`
	Dir          string `yaml:"dir"`
	ManifestPath string `yaml:"manifest"`
	BindingsPath string `yaml:"bindings"`
}

type RouterConfig struct {
	Mode           string        `yaml:"mode"`
	PendingPolicy  string        `yaml:"pending_policy"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

type PDFServicesConfig struct {
	BaseURL         string        `yaml:"base_url"`
	TokenURL        string        `yaml:"token_url"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	PollTimeout     time.Duration `yaml:"poll_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	RatePerSecond   float64       `yaml:"rate_per_second"`
	CredentialsPath string        `yaml:"credentials"`
	VaultPath       string        `yaml:"vault_path"`
	VaultProfile    string        `yaml:"vault_profile"`
	Mock            bool          `yaml:"mock"`
}

type BudgetConfig struct {
	// Backend is "memory" or "redis".
	Backend       string `yaml:"backend"`
	PerMinute     int    `yaml:"per_minute"`
	Burst         int    `yaml:"burst"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

type LedgerConfig struct {
	DSN string `yaml:"dsn"`
}

type ObservabilityConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate"`
	Insecure     bool    `yaml:"insecure"`
}

type BatchConfig struct {
	Concurrency int `yaml:"concurrency"`
}

type ConnectorConfig struct {
	Profile string `yaml:"profile"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		LogLevel: "INFO",
		Template: TemplateConfig{
			Keyword: template.DefaultKeyword,
			Name:    template.DefaultTemplateName,
		},
		Router: RouterConfig{
			Mode:           string(router.ModeAuto),
			PendingPolicy:  string(router.PendingWait),
			AttemptTimeout: router.DefaultAttemptTimeout,
		},
		PDFServices: PDFServicesConfig{
			BaseURL:        "https://pdf-services.adobe.io",
			PollInterval:   2 * time.Second,
			PollTimeout:    300 * time.Second,
			RequestTimeout: 60 * time.Second,
			RatePerSecond:  5,
			VaultProfile:   "default",
		},
		Budget: BudgetConfig{Backend: "memory", PerMinute: 30, Burst: 5},
		Ledger: LedgerConfig{DSN: "file:briefgate.db"},
		Artifacts: artifacts.Config{
			Kind: artifacts.KindFS,
			Dir:  "data/artifacts",
		},
		Observability: ObservabilityConfig{OTLPEndpoint: "localhost:4317", SampleRate: 1.0},
		Batch:         BatchConfig{Concurrency: 4},
		Connector:     ConnectorConfig{Profile: string(connector.ProfileStrictLegal)},
	}
}

// Load reads path (optional) and applies the environment. getenv may be nil.
func Load(path string, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	envErr := cfg.applyEnv(getenv)
	if err := errors.Join(envErr, cfg.Validate()); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("BRIEFGATE_LOG_LEVEL", &c.LogLevel)
	str("BRIEFGATE_TEMPLATE_KEYWORD", &c.Template.Keyword)
	str("BRIEFGATE_TEMPLATE_NAME", &c.Template.Name)
	str("BRIEFGATE_TEMPLATE_DIR", &c.Template.Dir)
	str("BRIEFGATE_TEMPLATE_MANIFEST", &c.Template.ManifestPath)
	str("BRIEFGATE_MODE", &c.Router.Mode)
	str("BRIEFGATE_PENDING_POLICY", &c.Router.PendingPolicy)
	dur("BRIEFGATE_ATTEMPT_TIMEOUT", &c.Router.AttemptTimeout)
	str("BRIEFGATE_API_BASE", &c.PDFServices.BaseURL)
	str("BRIEFGATE_TOKEN_URL", &c.PDFServices.TokenURL)
	dur("BRIEFGATE_POLL_INTERVAL", &c.PDFServices.PollInterval)
	dur("BRIEFGATE_POLL_TIMEOUT", &c.PDFServices.PollTimeout)
	dur("BRIEFGATE_REQUEST_TIMEOUT", &c.PDFServices.RequestTimeout)
	str("BRIEFGATE_VAULT_PATH", &c.PDFServices.VaultPath)
	flag("BRIEFGATE_MOCK", &c.PDFServices.Mock)
	str("BRIEFGATE_BUDGET_BACKEND", &c.Budget.Backend)
	num("BRIEFGATE_BUDGET_PER_MINUTE", &c.Budget.PerMinute)
	str("BRIEFGATE_REDIS_ADDR", &c.Budget.RedisAddr)
	str("BRIEFGATE_LEDGER_DSN", &c.Ledger.DSN)
	flag("BRIEFGATE_OTEL_ENABLED", &c.Observability.Enabled)
	str("BRIEFGATE_OTLP_ENDPOINT", &c.Observability.OTLPEndpoint)
	num("BRIEFGATE_BATCH_CONCURRENCY", &c.Batch.Concurrency)
	str("BRIEFGATE_CONNECTOR_PROFILE", &c.Connector.Profile)

	env := artifacts.ConfigFromEnv(getenv)
	if env.Kind != "" {
		c.Artifacts.Kind = env.Kind
	}
	for _, f := range []struct{ src, dst *string }{
		{&env.Dir, &c.Artifacts.Dir},
		{&env.Bucket, &c.Artifacts.Bucket},
		{&env.Region, &c.Artifacts.Region},
		{&env.Endpoint, &c.Artifacts.Endpoint},
		{&env.Prefix, &c.Artifacts.Prefix},
	} {
		if *f.src != "" {
			*f.dst = *f.src
		}
	}
	return errors.Join(errs...)
}

// parseDuration accepts Go durations and bare seconds.
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

// Validate checks enumerations and positive durations.
func (c *Config) Validate() error {
	var errs []error
	if _, err := router.ParseMode(c.Router.Mode); err != nil {
		errs = append(errs, err)
	}
	if _, err := router.ParsePendingPolicy(c.Router.PendingPolicy); err != nil {
		errs = append(errs, err)
	}
	if _, err := connector.ParseProfile(c.Connector.Profile); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	for name, d := range map[string]time.Duration{
		"router.attempt_timeout":       c.Router.AttemptTimeout,
		"pdf_services.poll_interval":   c.PDFServices.PollInterval,
		"pdf_services.poll_timeout":    c.PDFServices.PollTimeout,
		"pdf_services.request_timeout": c.PDFServices.RequestTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	switch c.Budget.Backend {
	case "memory", "none":
	case "redis":
		if c.Budget.RedisAddr == "" {
			errs = append(errs, errors.New("budget.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown budget backend %q", c.Budget.Backend))
	}
	if c.Batch.Concurrency <= 0 {
		errs = append(errs, errors.New("batch.concurrency must be positive"))
	}
	return errors.Join(errs...)
}

// ParseLevel maps DEBUG, INFO, WARN and ERROR to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(s)))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}
