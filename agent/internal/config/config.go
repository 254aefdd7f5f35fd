package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultCollectorURL   = "https://www.google-analytics.com/"
	DefaultMaxBatchSize   = 20
	DefaultFlushInterval  = 20 * time.Second
	DefaultStorageCeiling = 40
	DefaultUploadTimeout  = 10 * time.Second
	DefaultCompression    = "none"

	// MaxBatchSizeLimit is the most hits the collector accepts in one batch.
	MaxBatchSizeLimit = 20

	storeFileName = "pending.json"
	appDirName    = "trackbuf"
)

// ErrMissingTrackingID is returned when neither tracking_id nor the variable
// named by tracking_id_env yields a value. Sending without one would produce
// hits the collector silently discards.
var ErrMissingTrackingID = errors.New("agent.tracking_id is required (set tracking_id or tracking_id_env)")

// Config is the top-level agent configuration file.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all reporter-side settings.
type AgentConfig struct {
	// TrackingID is the collector property id (UA-XXXXX-Y). Prefer
	// TrackingIDEnv so the id does not live in the config file.
	TrackingID string `yaml:"tracking_id"`

	// TrackingIDEnv names the environment variable holding the tracking id.
	TrackingIDEnv string `yaml:"tracking_id_env"`

	// CollectorURL is the base URL; /collect and /batch are resolved against it.
	CollectorURL string `yaml:"collector_url" validate:"required,url"`

	// MaxBatchSize caps the records sent in one upload.
	MaxBatchSize int `yaml:"max_batch_size" validate:"gte=1"`

	// FlushInterval is the period of the timer trigger.
	FlushInterval time.Duration `yaml:"flush_interval" validate:"gt=0"`

	// StorageCeiling is the backlog length that forces an immediate upload.
	StorageCeiling int `yaml:"storage_ceiling" validate:"gte=1"`

	// UploadTimeout bounds a single collector request.
	UploadTimeout time.Duration `yaml:"upload_timeout" validate:"gt=0"`

	// StorePath is the pending-record file. Defaults to
	// <user cache dir>/trackbuf/pending.json.
	StorePath string `yaml:"store_path"`

	// StoreCompression is one of: none | zstd.
	StoreCompression string `yaml:"store_compression" validate:"oneof=none zstd"`

	// StateDir holds the per-install client id. Defaults to the directory
	// containing StorePath.
	StateDir string `yaml:"state_dir"`

	// Quiet suppresses diagnostic logging below WARN.
	Quiet bool `yaml:"quiet"`

	// AdminPort serves /metrics, /healthz and /flush when non-zero.
	AdminPort int `yaml:"admin_port" validate:"gte=0,lte=65535"`

	// App describes the host application for every hit.
	App AppConfig `yaml:"app"`

	// CollectorAuth configures how uploads authenticate to the collector.
	CollectorAuth AuthConfig `yaml:"collector_auth"`

	// TLS holds collector TLS dial options.
	TLS TLSConfig `yaml:"tls"`
}

// AppConfig identifies the application embedding the reporter.
type AppConfig struct {
	Name    string `yaml:"name" validate:"required"`
	ID      string `yaml:"id" validate:"required"`
	Version string `yaml:"version" validate:"required"`
	Build   string `yaml:"build"`

	// ScreenResolution is reported as-is ("1920x1080"); headless hosts
	// leave it empty.
	ScreenResolution string `yaml:"screen_resolution"`
}

// AuthConfig specifies the authentication mode for the collector.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode" validate:"omitempty,oneof=mtls apikey bearer basic none"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file" validate:"required_if=Mode mtls"`
	KeyFile  string `yaml:"key_file" validate:"required_if=Mode mtls"`
	CAFile   string `yaml:"ca_file"`

	// Header is the HTTP header carrying the API key. Defaults to x-api-key.
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env" validate:"required_if=Mode apikey"`

	// TokenEnv is the name of the environment variable that holds the bearer token.
	TokenEnv string `yaml:"token_env" validate:"required_if=Mode bearer"`

	Username    string `yaml:"username" validate:"required_if=Mode basic"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// TLSConfig holds collector TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	// Only use this for internal CAs in development environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// ResolvedTrackingID returns TrackingID, or the value of TrackingIDEnv when
// the literal is empty.
func (a AgentConfig) ResolvedTrackingID() string {
	if a.TrackingID != "" {
		return a.TrackingID
	}
	if a.TrackingIDEnv == "" {
		return ""
	}
	return os.Getenv(a.TrackingIDEnv)
}

// ResolvedStateDir returns StateDir, or the directory holding StorePath.
func (a AgentConfig) ResolvedStateDir() string {
	if a.StateDir != "" {
		return a.StateDir
	}
	return filepath.Dir(a.StorePath)
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if cfg.Agent.StorePath == "" {
		p, err := defaultStorePath()
		if err != nil {
			return nil, fmt.Errorf("config: resolve store path: %w", err)
		}
		cfg.Agent.StorePath = p
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			CollectorURL:     DefaultCollectorURL,
			MaxBatchSize:     DefaultMaxBatchSize,
			FlushInterval:    DefaultFlushInterval,
			StorageCeiling:   DefaultStorageCeiling,
			UploadTimeout:    DefaultUploadTimeout,
			StoreCompression: DefaultCompression,
			Quiet:            true,
		},
	}
}

func defaultStorePath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appDirName, storeFileName), nil
}

// structValidator checks the `validate` struct tags. validator caches
// per-type metadata, so one instance is shared.
var structValidator = newValidator()

// newValidator reports fields by their yaml names so errors match the file.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// fieldPath drops the root type name from a validator namespace
// ("AgentConfig.app.name" → "app.name").
func fieldPath(ns string) string {
	_, rest, ok := strings.Cut(ns, ".")
	if !ok {
		return ns
	}
	return rest
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := cfg.Agent
	if a.ResolvedTrackingID() == "" {
		return ErrMissingTrackingID
	}
	if err := structValidator.Struct(a); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("agent.%s: failed %q check (value %v)", fieldPath(fe.Namespace()), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("agent: %w", err)
	}
	if a.MaxBatchSize > MaxBatchSizeLimit {
		return fmt.Errorf("agent.max_batch_size %d exceeds the collector limit of %d", a.MaxBatchSize, MaxBatchSizeLimit)
	}
	if a.StorageCeiling < a.MaxBatchSize {
		return fmt.Errorf("agent.storage_ceiling %d must be at least max_batch_size %d", a.StorageCeiling, a.MaxBatchSize)
	}
	return nil
}
