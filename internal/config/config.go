package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/tokligence/chatrelay/internal/relay"
)

const (
	defaultConfigFile = "config/relay.yaml"
	defaultEnv        = "dev"
	defaultListenAddr = ":8080"
	defaultRelayURL   = "http://localhost:8080/"
	defaultTimeout    = 60 * time.Second
)

// Upstream providers.
const (
	ProviderOpenAI   = "openai"
	ProviderLoopback = "loopback"
)

// Ledger drivers.
const (
	LedgerSQLite   = "sqlite"
	LedgerPostgres = "postgres"
	LedgerNone     = "none"
)

// Config describes runtime options for the relay daemon and the chat CLI.
type Config struct {
	Environment     string               `yaml:"environment"`
	ListenAddr      string               `yaml:"listen_addr"`
	Upstream        UpstreamConfig       `yaml:"upstream"`
	SystemDirective string               `yaml:"system_directive"`
	Decoding        relay.DecodingParams `yaml:"decoding"`
	Log             LogConfig            `yaml:"log"`
	Ledger          LedgerConfig         `yaml:"ledger"`
	Tracing         TracingConfig        `yaml:"tracing"`
	Client          ClientConfig         `yaml:"client"`
}

// UpstreamConfig selects and configures the generation provider.
type UpstreamConfig struct {
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	Provider string        `yaml:"provider"` // openai|loopback
	Timeout  time.Duration `yaml:"timeout"`  // response header timeout
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type LedgerConfig struct {
	Driver string `yaml:"driver"` // sqlite|postgres|none
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
	Async  bool   `yaml:"async"`
}

type TracingConfig struct {
	Endpoint string `yaml:"endpoint"`
	Headers  string `yaml:"headers"`
}

type ClientConfig struct {
	RelayURL string `yaml:"relay_url"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Environment: defaultEnv,
		ListenAddr:  defaultListenAddr,
		Upstream: UpstreamConfig{
			Model:   relay.DefaultModel,
			Timeout: defaultTimeout,
		},
		SystemDirective: relay.DefaultSystemDirective,
		Decoding:        relay.DefaultDecodingParams(),
		Log:             LogConfig{Level: "info"},
		Ledger:          LedgerConfig{Driver: LedgerSQLite, Path: DefaultLedgerPath()},
		Client:          ClientConfig{RelayURL: defaultRelayURL},
	}
}

// Load reads <root>/.env, then the YAML config file, then CHATRELAY_*
// environment overrides. Later sources win.
func Load(root string) (Config, error) {
	cfg, err := read(root)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadClient reads the same sources as Load but only checks the settings the
// chat CLI uses, so relay-only settings never stop the client from starting.
func LoadClient(root string) (Config, error) {
	cfg, err := read(root)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.ValidateClient(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func read(root string) (Config, error) {
	if root == "" {
		root = "."
	}
	if err := loadDotEnv(filepath.Join(root, ".env")); err != nil {
		return Config{}, err
	}

	cfg := Default()
	path, explicit := configPath(root)
	if err := loadYAML(path, explicit, &cfg); err != nil {
		return Config{}, err
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(cfg.Upstream.Provider) == "" {
		if strings.TrimSpace(cfg.Upstream.APIKey) == "" {
			cfg.Upstream.Provider = ProviderLoopback
		} else {
			cfg.Upstream.Provider = ProviderOpenAI
		}
	}
	cfg.Upstream.Provider = strings.ToLower(strings.TrimSpace(cfg.Upstream.Provider))
	cfg.Ledger.Driver = strings.ToLower(strings.TrimSpace(cfg.Ledger.Driver))
	if cfg.Ledger.Driver == "" {
		cfg.Ledger.Driver = LedgerNone
	}
	return cfg, nil
}

// ValidateClient checks client.relay_url.
func (c Config) ValidateClient() error {
	raw := strings.TrimSpace(c.Client.RelayURL)
	if raw == "" {
		return errors.New("config: client.relay_url required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errors.Wrap(err, "config: client.relay_url")
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Errorf("config: client.relay_url must be an http(s) URL, got %q", raw)
	}
	return nil
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return errors.New("config: listen_addr required")
	}
	if strings.TrimSpace(c.Upstream.Model) == "" {
		return errors.New("config: upstream.model required")
	}
	switch c.Upstream.Provider {
	case ProviderOpenAI:
		if strings.TrimSpace(c.Upstream.APIKey) == "" {
			return errors.New("config: upstream.api_key required for the openai provider")
		}
	case ProviderLoopback:
	default:
		return errors.Errorf("config: unknown upstream.provider %q", c.Upstream.Provider)
	}
	if c.Upstream.Timeout < 0 {
		return errors.New("config: upstream.timeout must not be negative")
	}
	if c.Decoding.MaxTokens <= 0 {
		return errors.New("config: decoding.max_tokens must be positive")
	}
	if c.Decoding.Temperature < 0 || c.Decoding.Temperature > 2 {
		return errors.New("config: decoding.temperature must be within [0, 2]")
	}
	if c.Decoding.TopP < 0 || c.Decoding.TopP > 1 {
		return errors.New("config: decoding.top_p must be within [0, 1]")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		return errors.Wrapf(err, "config: log.level %q", c.Log.Level)
	}
	switch c.Ledger.Driver {
	case LedgerSQLite:
		if strings.TrimSpace(c.Ledger.Path) == "" {
			return errors.New("config: ledger.path required for the sqlite driver")
		}
	case LedgerPostgres:
		if strings.TrimSpace(c.Ledger.DSN) == "" {
			return errors.New("config: ledger.dsn required for the postgres driver")
		}
	case LedgerNone:
	default:
		return errors.Errorf("config: unknown ledger.driver %q", c.Ledger.Driver)
	}
	return nil
}

// DefaultLedgerPath returns ~/.chatrelay/ledger.db, or a relative path when
// the home directory cannot be resolved.
func DefaultLedgerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".chatrelay", "ledger.db")
	}
	return filepath.Join(home, ".chatrelay", "ledger.db")
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "config: stat .env")
	}
	// existing process variables are never overridden
	if err := godotenv.Load(path); err != nil {
		return errors.Wrap(err, "config: load .env")
	}
	return nil
}

func configPath(root string) (string, bool) {
	if p := strings.TrimSpace(os.Getenv("CHATRELAY_CONFIG")); p != "" {
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		return p, true
	}
	return filepath.Join(root, defaultConfigFile), false
}

func loadYAML(path string, explicit bool, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return errors.Wrapf(err, "config: read %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrapf(err, "config: parse %s", path)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.Environment = firstNonEmpty(os.Getenv("CHATRELAY_ENV"), cfg.Environment)
	cfg.ListenAddr = firstNonEmpty(os.Getenv("CHATRELAY_LISTEN_ADDR"), cfg.ListenAddr)

	cfg.Upstream.BaseURL = firstNonEmpty(os.Getenv("CHATRELAY_UPSTREAM_BASE_URL"), cfg.Upstream.BaseURL)
	cfg.Upstream.APIKey = firstNonEmpty(os.Getenv("CHATRELAY_UPSTREAM_API_KEY"), os.Getenv("OPENAI_API_KEY"), cfg.Upstream.APIKey)
	cfg.Upstream.Model = firstNonEmpty(os.Getenv("CHATRELAY_UPSTREAM_MODEL"), cfg.Upstream.Model)
	cfg.Upstream.Provider = firstNonEmpty(os.Getenv("CHATRELAY_UPSTREAM_PROVIDER"), cfg.Upstream.Provider)
	if v := strings.TrimSpace(os.Getenv("CHATRELAY_UPSTREAM_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrap(err, "config: CHATRELAY_UPSTREAM_TIMEOUT")
		}
		cfg.Upstream.Timeout = d
	}

	cfg.SystemDirective = firstNonEmpty(os.Getenv("CHATRELAY_SYSTEM_DIRECTIVE"), cfg.SystemDirective)
	if err := envFloat("CHATRELAY_TEMPERATURE", &cfg.Decoding.Temperature); err != nil {
		return err
	}
	if err := envFloat("CHATRELAY_TOP_P", &cfg.Decoding.TopP); err != nil {
		return err
	}
	if v := strings.TrimSpace(os.Getenv("CHATRELAY_MAX_TOKENS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "config: CHATRELAY_MAX_TOKENS")
		}
		cfg.Decoding.MaxTokens = n
	}

	cfg.Log.Level = firstNonEmpty(os.Getenv("CHATRELAY_LOG_LEVEL"), cfg.Log.Level)
	cfg.Log.File = firstNonEmpty(os.Getenv("CHATRELAY_LOG_FILE"), cfg.Log.File)

	cfg.Ledger.Driver = firstNonEmpty(os.Getenv("CHATRELAY_LEDGER_DRIVER"), cfg.Ledger.Driver)
	cfg.Ledger.Path = firstNonEmpty(os.Getenv("CHATRELAY_LEDGER_PATH"), cfg.Ledger.Path)
	cfg.Ledger.DSN = firstNonEmpty(os.Getenv("CHATRELAY_LEDGER_DSN"), cfg.Ledger.DSN)
	cfg.Ledger.Async = parseOptionalBool(os.Getenv("CHATRELAY_LEDGER_ASYNC"), cfg.Ledger.Async)

	cfg.Tracing.Endpoint = firstNonEmpty(os.Getenv("CHATRELAY_TRACING_ENDPOINT"), cfg.Tracing.Endpoint)
	cfg.Tracing.Headers = firstNonEmpty(os.Getenv("CHATRELAY_TRACING_HEADERS"), cfg.Tracing.Headers)

	cfg.Client.RelayURL = firstNonEmpty(os.Getenv("CHATRELAY_RELAY_URL"), cfg.Client.RelayURL)
	return nil
}

func envFloat(key string, dst *float64) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return errors.Wrapf(err, "config: %s", key)
	}
	*dst = f
	return nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
