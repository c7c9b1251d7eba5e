package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/tokligence/chatrelay/internal/config"
)

// InitOptions configures the scaffolded relay configuration.
type InitOptions struct {
	Root        string
	Environment string
	ListenAddr  string
	Provider    string // openai|loopback
	BaseURL     string
	Model       string
	LedgerPath  string
	Force       bool
}

// ConfigPath returns where Init writes the YAML config under root.
func ConfigPath(root string) string {
	return filepath.Join(root, "config", "relay.yaml")
}

// Init writes config/relay.yaml and .env.example under opts.Root. Existing
// files are kept unless Force is set.
func Init(opts InitOptions) error {
	applyDefaults(&opts)
	if err := Validate(opts); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(opts.Root, "config"), 0o755); err != nil {
		return errors.Wrap(err, "create config dir")
	}

	data, err := yaml.Marshal(template(opts))
	if err != nil {
		return errors.Wrap(err, "encode config")
	}
	header := fmt.Sprintf("# chatrelay settings for %s; CHATRELAY_* environment variables override these\n", opts.Environment)
	if err := writeFile(ConfigPath(opts.Root), header+string(data), opts.Force); err != nil {
		return err
	}
	return writeFile(filepath.Join(opts.Root, ".env.example"), envTemplate(), opts.Force)
}

func applyDefaults(opts *InitOptions) {
	defaults := config.Default()
	if strings.TrimSpace(opts.Root) == "" {
		opts.Root = "."
	}
	if strings.TrimSpace(opts.Environment) == "" {
		opts.Environment = defaults.Environment
	}
	if strings.TrimSpace(opts.ListenAddr) == "" {
		opts.ListenAddr = defaults.ListenAddr
	}
	if strings.TrimSpace(opts.Provider) == "" {
		opts.Provider = config.ProviderLoopback
	}
	if strings.TrimSpace(opts.Model) == "" {
		opts.Model = defaults.Upstream.Model
	}
	if strings.TrimSpace(opts.LedgerPath) == "" {
		opts.LedgerPath = defaults.Ledger.Path
	}
}

// template is the subset of config.Config worth writing out. Secrets are
// left to the environment.
func template(opts InitOptions) config.Config {
	cfg := config.Default()
	cfg.Environment = opts.Environment
	cfg.ListenAddr = opts.ListenAddr
	cfg.Upstream.Provider = opts.Provider
	cfg.Upstream.BaseURL = opts.BaseURL
	cfg.Upstream.Model = opts.Model
	cfg.Ledger.Driver = config.LedgerSQLite
	cfg.Ledger.Path = opts.LedgerPath
	cfg.Log.File = "logs/relayd.log"
	return cfg
}

func envTemplate() string {
	return `# Copy to .env for local development.
CHATRELAY_UPSTREAM_API_KEY=
# CHATRELAY_UPSTREAM_PROVIDER=openai
# CHATRELAY_LEDGER_DRIVER=postgres
# CHATRELAY_LEDGER_DSN=postgres://relay@localhost:5432/relay?sslmode=disable
# CHATRELAY_TRACING_ENDPOINT=localhost:4318
`
}

func writeFile(path, contents string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return errors.Errorf("file already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(contents), 0o644)
}

// Validate checks options without touching the filesystem.
func Validate(opts InitOptions) error {
	applyDefaults(&opts)
	switch strings.ToLower(opts.Provider) {
	case config.ProviderOpenAI, config.ProviderLoopback:
	default:
		return errors.Errorf("unknown provider %q", opts.Provider)
	}
	if opts.BaseURL != "" && !strings.HasPrefix(opts.BaseURL, "http://") && !strings.HasPrefix(opts.BaseURL, "https://") {
		return errors.New("base url must start with http:// or https://")
	}
	return nil
}
