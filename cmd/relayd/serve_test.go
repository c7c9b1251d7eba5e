package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokligence/chatrelay/internal/adapter/loopback"
	adapteropenai "github.com/tokligence/chatrelay/internal/adapter/openai"
	"github.com/tokligence/chatrelay/internal/config"
	ledgerasync "github.com/tokligence/chatrelay/internal/ledger/async"
	ledgersql "github.com/tokligence/chatrelay/internal/ledger/sqlite"
)

func TestBuildLedger(t *testing.T) {
	cfg := config.Default()

	cfg.Ledger.Driver = config.LedgerNone
	store, err := buildLedger(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, store)

	cfg.Ledger.Driver = config.LedgerSQLite
	cfg.Ledger.Path = filepath.Join(t.TempDir(), "ledger.db")
	store, err = buildLedger(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &ledgersql.Store{}, store)
	summary, err := store.Summary(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Exchanges)
	require.NoError(t, store.Close())

	cfg.Ledger.Path = filepath.Join(t.TempDir(), "async.db")
	cfg.Ledger.Async = true
	store, err = buildLedger(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &ledgerasync.Store{}, store)
	require.NoError(t, store.Close())
}

func TestBuildAdapter(t *testing.T) {
	cfg := config.Default()

	cfg.Upstream.Provider = config.ProviderLoopback
	a, err := buildAdapter(cfg)
	require.NoError(t, err)
	assert.IsType(t, &loopback.LoopbackAdapter{}, a)

	cfg.Upstream.Provider = config.ProviderOpenAI
	cfg.Upstream.APIKey = "sk-test"
	a, err = buildAdapter(cfg)
	require.NoError(t, err)
	assert.IsType(t, &adapteropenai.OpenAIAdapter{}, a)

	cfg.Upstream.APIKey = ""
	_, err = buildAdapter(cfg)
	assert.Error(t, err)

	cfg.Upstream.Provider = "smoke-signals"
	_, err = buildAdapter(cfg)
	assert.Error(t, err)
}

func TestDrainWaitsForStreams(t *testing.T) {
	release := make(chan struct{})
	srv, url := startDrainServer(t, context.Background(), func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-release
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})

	body := make(chan string, 1)
	go func() { body <- get(url) }()
	time.Sleep(50 * time.Millisecond)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()
	cancelled := false
	require.NoError(t, drain(srv, func() { cancelled = true }, 2*time.Second, time.Second, zerolog.Nop()))
	assert.False(t, cancelled, "streams that finish inside the window are not cancelled")
	assert.Equal(t, "data: [DONE]\n\n", <-body)
}

func TestDrainCancelsStreamsPastTimeout(t *testing.T) {
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	srv, url := startDrainServer(t, baseCtx, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		_, _ = io.WriteString(w, "data: {\"error\":{\"message\":\"upstream stream interrupted\"}}\n\n")
	})

	body := make(chan string, 1)
	go func() { body <- get(url) }()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, drain(srv, cancelBase, 50*time.Millisecond, 2*time.Second, zerolog.Nop()))
	assert.Contains(t, <-body, "upstream stream interrupted")
}

func startDrainServer(t *testing.T, base context.Context, h http.HandlerFunc) (*http.Server, string) {
	t.Helper()
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("tcp4 loopback unavailable (%v)", err)
	}
	srv := &http.Server{
		Handler:     h,
		BaseContext: func(net.Listener) context.Context { return base },
	}
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })
	return srv, "http://" + l.Addr().String()
}

func get(url string) string {
	resp, err := http.Get(url)
	if err != nil {
		return err.Error()
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return string(raw)
}
