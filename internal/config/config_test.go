package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokligence/chatrelay/internal/relay"
)

var envKeys = []string{
	"CHATRELAY_CONFIG", "CHATRELAY_ENV", "CHATRELAY_LISTEN_ADDR",
	"CHATRELAY_UPSTREAM_BASE_URL", "CHATRELAY_UPSTREAM_API_KEY", "OPENAI_API_KEY",
	"CHATRELAY_UPSTREAM_MODEL", "CHATRELAY_UPSTREAM_PROVIDER", "CHATRELAY_UPSTREAM_TIMEOUT",
	"CHATRELAY_SYSTEM_DIRECTIVE", "CHATRELAY_TEMPERATURE", "CHATRELAY_TOP_P", "CHATRELAY_MAX_TOKENS",
	"CHATRELAY_LOG_LEVEL", "CHATRELAY_LOG_FILE",
	"CHATRELAY_LEDGER_DRIVER", "CHATRELAY_LEDGER_PATH", "CHATRELAY_LEDGER_DSN", "CHATRELAY_LEDGER_ASYNC",
	"CHATRELAY_TRACING_ENDPOINT", "CHATRELAY_TRACING_HEADERS", "CHATRELAY_RELAY_URL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Environment)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, relay.DefaultModel, cfg.Upstream.Model)
	assert.Equal(t, ProviderLoopback, cfg.Upstream.Provider, "no api key selects the loopback provider")
	assert.Equal(t, 60*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, relay.DefaultSystemDirective, cfg.SystemDirective)
	assert.Equal(t, relay.DefaultDecodingParams(), cfg.Decoding)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, LedgerSQLite, cfg.Ledger.Driver)
	assert.NotEmpty(t, cfg.Ledger.Path)
	assert.Equal(t, "http://localhost:8080/", cfg.Client.RelayURL)
}

func TestLoadYAMLFile(t *testing.T) {
	clearEnv(t)
	tmp := t.TempDir()
	writeFile(t, filepath.Join(tmp, "config", "relay.yaml"), `
environment: prod
listen_addr: ":9090"
upstream:
  base_url: https://models.example.com/v1
  api_key: sk-yaml
  model: gpt-4o-mini
  timeout: 15s
decoding:
  max_tokens: 512
log:
  level: debug
  file: /tmp/relay.log
ledger:
  driver: postgres
  dsn: postgres://relay@localhost/relay
  async: true
tracing:
  endpoint: localhost:4318
`)

	cfg, err := Load(tmp)
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Environment)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, ProviderOpenAI, cfg.Upstream.Provider, "an api key selects the openai provider")
	assert.Equal(t, "gpt-4o-mini", cfg.Upstream.Model)
	assert.Equal(t, 15*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, 512, cfg.Decoding.MaxTokens)
	assert.Equal(t, float64(1), cfg.Decoding.TopP, "unset decoding keys keep their defaults")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, LedgerPostgres, cfg.Ledger.Driver)
	assert.True(t, cfg.Ledger.Async)
	assert.Equal(t, "localhost:4318", cfg.Tracing.Endpoint)
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	tmp := t.TempDir()
	writeFile(t, filepath.Join(tmp, "config", "relay.yaml"), "listen_addr: \":9090\"\nledger:\n  async: true\n")

	t.Setenv("CHATRELAY_LISTEN_ADDR", ":7070")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("CHATRELAY_MAX_TOKENS", "128")
	t.Setenv("CHATRELAY_TEMPERATURE", "0.5")
	t.Setenv("CHATRELAY_LEDGER_DRIVER", "NONE")
	t.Setenv("CHATRELAY_LEDGER_ASYNC", "false")
	t.Setenv("CHATRELAY_UPSTREAM_TIMEOUT", "5s")

	cfg, err := Load(tmp)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.ListenAddr)
	assert.Equal(t, "sk-env", cfg.Upstream.APIKey)
	assert.Equal(t, ProviderOpenAI, cfg.Upstream.Provider)
	assert.Equal(t, 128, cfg.Decoding.MaxTokens)
	assert.Equal(t, 0.5, cfg.Decoding.Temperature)
	assert.Equal(t, LedgerNone, cfg.Ledger.Driver)
	assert.False(t, cfg.Ledger.Async)
	assert.Equal(t, 5*time.Second, cfg.Upstream.Timeout)
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	// .env never overrides a variable that is already present
	require.NoError(t, os.Unsetenv("CHATRELAY_UPSTREAM_MODEL"))
	t.Cleanup(func() { os.Unsetenv("CHATRELAY_UPSTREAM_MODEL") })

	tmp := t.TempDir()
	writeFile(t, filepath.Join(tmp, ".env"), "CHATRELAY_UPSTREAM_MODEL=gpt-from-dotenv\n")

	cfg, err := Load(tmp)
	require.NoError(t, err)
	assert.Equal(t, "gpt-from-dotenv", cfg.Upstream.Model)
}

func TestLoadExplicitConfigPath(t *testing.T) {
	clearEnv(t)
	tmp := t.TempDir()
	writeFile(t, filepath.Join(tmp, "alt.yaml"), "environment: staging\n")

	t.Setenv("CHATRELAY_CONFIG", "alt.yaml")
	cfg, err := Load(tmp)
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Environment)

	t.Setenv("CHATRELAY_CONFIG", "missing.yaml")
	_, err = Load(tmp)
	assert.Error(t, err, "an explicitly named config file must exist")
}

func TestLoadValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{name: "malformed yaml", yaml: "listen_addr: [\n"},
		{name: "unknown provider", env: map[string]string{"CHATRELAY_UPSTREAM_PROVIDER": "carrier-pigeon"}},
		{name: "openai without key", env: map[string]string{"CHATRELAY_UPSTREAM_PROVIDER": "openai"}},
		{name: "bad timeout", env: map[string]string{"CHATRELAY_UPSTREAM_TIMEOUT": "soon"}},
		{name: "bad max tokens", env: map[string]string{"CHATRELAY_MAX_TOKENS": "many"}},
		{name: "zero max tokens", yaml: "decoding:\n  max_tokens: 0\n"},
		{name: "temperature out of range", env: map[string]string{"CHATRELAY_TEMPERATURE": "3"}},
		{name: "top_p out of range", env: map[string]string{"CHATRELAY_TOP_P": "1.5"}},
		{name: "bad log level", env: map[string]string{"CHATRELAY_LOG_LEVEL": "loud"}},
		{name: "unknown ledger driver", env: map[string]string{"CHATRELAY_LEDGER_DRIVER": "mongo"}},
		{name: "postgres without dsn", env: map[string]string{"CHATRELAY_LEDGER_DRIVER": "postgres"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			tmp := t.TempDir()
			if tt.yaml != "" {
				writeFile(t, filepath.Join(tmp, "config", "relay.yaml"), tt.yaml)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(tmp)
			assert.Error(t, err)
		})
	}
}

func TestLoadClientIgnoresRelaySettings(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHATRELAY_UPSTREAM_PROVIDER", "openai")
	t.Setenv("CHATRELAY_LEDGER_DRIVER", "postgres")
	t.Setenv("CHATRELAY_RELAY_URL", "http://relay.internal:9000/")
	tmp := t.TempDir()

	_, err := Load(tmp)
	require.Error(t, err, "the relay still refuses an openai provider without a key")

	cfg, err := LoadClient(tmp)
	require.NoError(t, err)
	assert.Equal(t, "http://relay.internal:9000/", cfg.Client.RelayURL)
}

func TestLoadClientRejectsBadRelayURL(t *testing.T) {
	for _, raw := range []string{"localhost:8080", "ftp://relay.internal/", "http://"} {
		t.Run(raw, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("CHATRELAY_RELAY_URL", raw)
			_, err := LoadClient(t.TempDir())
			assert.Error(t, err)
		})
	}
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "  ", "b", "c"))
	assert.Equal(t, "", firstNonEmpty("", " "))
}

func TestParseOptionalBool(t *testing.T) {
	assert.True(t, parseOptionalBool("", true))
	assert.True(t, parseOptionalBool("yes", false))
	assert.True(t, parseOptionalBool("ON", false))
	assert.False(t, parseOptionalBool("0", true))
}
