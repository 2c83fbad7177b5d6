// Package config loads application configuration from the environment, an
// optional .env file and an optional YAML tuning file.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// DefaultBaseURL is the Quip platform API root.
const DefaultBaseURL = "https://platform.quip-amazon.com"

// Config holds the application configuration.
type Config struct {
	QuipToken  string `env:"QUIP_API_TOKEN"`
	BaseURL    string `env:"CDP_BASE_URL, overwrite" validate:"required,http_url"`
	ConfigDir  string `env:"CDP_CONFIG_DIR"`
	DebugFlag  string `env:"CDP_DEBUG"`
	LogLevel   string `env:"CDP_LOG_LEVEL, default=info" validate:"oneof=debug info warn error"`
	FolderID   string `env:"CDP_FOLDER_ID"`
	Journal    bool   `env:"CDP_JOURNAL, default=true"`
	HTTPCache  bool   `env:"CDP_HTTP_CACHE, default=false"`
	TuningFile string `env:"CDP_TUNING_FILE"`

	Tuning Tuning
}

// Tuning holds the environment-specific knobs of the resolver and transport.
// Values come from DefaultTuning, then the YAML tuning file, then the
// environment, each layer overriding the previous one.
type Tuning struct {
	LookupBatchSize     int           `env:"CDP_LOOKUP_BATCH_SIZE, overwrite"    yaml:"lookup_batch_size"    validate:"gte=1,lte=1000"`
	AddBatchSize        int           `env:"CDP_ADD_BATCH_SIZE, overwrite"       yaml:"add_batch_size"       validate:"gte=1,lte=1000"`
	FallbackDomains     []string      `env:"CDP_FALLBACK_DOMAINS, overwrite"     yaml:"fallback_domains"     validate:"dive,fqdn"`
	LookupConcurrency   int           `env:"CDP_LOOKUP_CONCURRENCY, overwrite"   yaml:"lookup_concurrency"   validate:"gte=1,lte=32"`
	FallbackConcurrency int           `env:"CDP_FALLBACK_CONCURRENCY, overwrite" yaml:"fallback_concurrency" validate:"gte=1,lte=32"`
	MaxAttempts         int           `env:"CDP_MAX_ATTEMPTS, overwrite"         yaml:"max_attempts"         validate:"gte=1,lte=10"`
	BackoffBase         time.Duration `env:"CDP_BACKOFF_BASE, overwrite"         yaml:"backoff_base"         validate:"gt=0"`
	BackoffMax          time.Duration `env:"CDP_BACKOFF_MAX, overwrite"          yaml:"backoff_max"          validate:"gtefield=BackoffBase"`
	SafetyMargin        time.Duration `env:"CDP_SAFETY_MARGIN, overwrite"        yaml:"safety_margin"        validate:"gte=0"`
	RequestTimeout      time.Duration `env:"CDP_REQUEST_TIMEOUT, overwrite"      yaml:"request_timeout"      validate:"gt=0"`
}

// DefaultTuning returns the built-in tuning values.
func DefaultTuning() Tuning {
	return Tuning{
		LookupBatchSize:     100,
		AddBatchSize:        50,
		FallbackDomains: []string{
			"amazon.com",
			"amazon.co.jp",
			"amazon.fr",
			"amazon.co.uk",
			"amazon.com.au",
			"amazon.de",
			"amazon.es",
			"amazon.it",
		},
		LookupConcurrency:   2,
		FallbackConcurrency: 4,
		MaxAttempts:         4,
		BackoffBase:         500 * time.Millisecond,
		BackoffMax:          30 * time.Second,
		SafetyMargin:        time.Second,
		RequestTimeout:      30 * time.Second,
	}
}

// Debug reports whether CDP_DEBUG enables verbose logging. Accepts 1, true and yes.
func (c *Config) Debug() bool {
	switch strings.ToLower(strings.TrimSpace(c.DebugFlag)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

// HasEnvironmentToken returns true when QUIP_API_TOKEN is set.
func (c *Config) HasEnvironmentToken() bool {
	return strings.TrimSpace(c.QuipToken) != ""
}

// Load reads configuration and returns a validated Config. A .env file in
// the working directory is applied first without overriding variables that
// are already set. All variables are optional.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return load(context.Background(), envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := Config{BaseURL: DefaultBaseURL, Tuning: DefaultTuning()}

	// The tuning file path must be known before the rest of the environment
	// is applied on top of it.
	if path, ok := lookuper.Lookup("CDP_TUNING_FILE"); ok && path != "" {
		if err := readTuningFile(path, &cfg.Tuning); err != nil {
			return nil, err
		}
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.Tuning.FallbackDomains = normalizeDomains(cfg.Tuning.FallbackDomains)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readTuningFile(path string, t *Tuning) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read tuning file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(t); err != nil {
		return fmt.Errorf("parse tuning file %s: %w", path, err)
	}
	return nil
}

func normalizeDomains(domains []string) []string {
	out := make([]string, 0, len(domains))
	seen := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

func validate(cfg *Config) error {
	err := validator.New().Struct(cfg)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
