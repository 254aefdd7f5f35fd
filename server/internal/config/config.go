package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Default values for the collector configuration.
const (
	DefaultHTTPPort       = 8080
	DefaultHitTTL         = 30 * time.Minute
	DefaultMaxBatchHits   = 20
	DefaultMaxHitBytes    = 8 << 10
	DefaultMaxBatchBytes  = 16 << 10
	DefaultStreamInterval = 5 * time.Second
)

// Config holds the collector configuration parsed from the `collector:`
// section of collector.yaml.
type Config struct {
	Collector CollectorConfig `yaml:"collector"`
}

// CollectorConfig holds all collector settings.
type CollectorConfig struct {
	// HTTPPort serves /collect, /batch, the REST API and the hit stream.
	HTTPPort int `yaml:"http_port" validate:"gte=1,lte=65535"`

	// HitTTL is how long a received hit stays queryable.
	HitTTL time.Duration `yaml:"hit_ttl" validate:"gt=0"`

	// MaxBatchHits is the most hits accepted in one /batch body.
	MaxBatchHits int `yaml:"max_batch_hits" validate:"gte=1"`

	// MaxHitBytes bounds one encoded hit; MaxBatchBytes bounds a /batch body.
	MaxHitBytes   int `yaml:"max_hit_bytes" validate:"gte=1"`
	MaxBatchBytes int `yaml:"max_batch_bytes" validate:"gte=1"`

	// StreamInterval is the broadcast period of the /ws/hits stream.
	StreamInterval time.Duration `yaml:"stream_interval" validate:"gt=0"`

	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig controls how the collector authenticates senders.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode" validate:"omitempty,oneof=apikey none"`

	// KeyEnv names the environment variable holding the expected API key.
	KeyEnv string `yaml:"key_env" validate:"required_if=Mode apikey"`

	// Header carries the key. Defaults to "x-api-key".
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// Load reads and parses the config file at path. A missing collector section
// yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("collector config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("collector config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("collector config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Collector: CollectorConfig{
			HTTPPort:       DefaultHTTPPort,
			HitTTL:         DefaultHitTTL,
			MaxBatchHits:   DefaultMaxBatchHits,
			MaxHitBytes:    DefaultMaxHitBytes,
			MaxBatchBytes:  DefaultMaxBatchBytes,
			StreamInterval: DefaultStreamInterval,
		},
	}
}

var structValidator = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

func validate(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			// Namespace is "Config.collector.http_port"; drop the root type.
			_, path, _ := strings.Cut(fe.Namespace(), ".")
			return fmt.Errorf("%s: failed %q check", path, fe.Tag())
		}
		return err
	}
	c := cfg.Collector
	if c.MaxHitBytes > c.MaxBatchBytes {
		return fmt.Errorf("collector.max_hit_bytes %d exceeds max_batch_bytes %d", c.MaxHitBytes, c.MaxBatchBytes)
	}
	return nil
}
