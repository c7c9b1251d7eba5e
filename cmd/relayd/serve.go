package main

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tokligence/chatrelay/internal/adapter"
	"github.com/tokligence/chatrelay/internal/adapter/loopback"
	adapteropenai "github.com/tokligence/chatrelay/internal/adapter/openai"
	"github.com/tokligence/chatrelay/internal/config"
	"github.com/tokligence/chatrelay/internal/httpserver"
	"github.com/tokligence/chatrelay/internal/ledger"
	ledgerasync "github.com/tokligence/chatrelay/internal/ledger/async"
	ledgerpg "github.com/tokligence/chatrelay/internal/ledger/postgres"
	ledgersql "github.com/tokligence/chatrelay/internal/ledger/sqlite"
	"github.com/tokligence/chatrelay/internal/logging"
	"github.com/tokligence/chatrelay/internal/metrics"
	"github.com/tokligence/chatrelay/internal/relay"
	"github.com/tokligence/chatrelay/internal/tokencount"
	"github.com/tokligence/chatrelay/internal/tracing"
	"github.com/tokligence/chatrelay/internal/version"
)

const (
	shutdownTimeout = 10 * time.Second
	// abortGrace bounds how long cancelled streams get to write their error event.
	abortGrace = 2 * time.Second
)

func runServe(parent context.Context, root string) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}

	logger, logCloser, err := logging.New(logging.Config{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Service: "relayd",
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:       cfg.Tracing.Endpoint,
		Headers:        cfg.Tracing.Headers,
		ServiceName:    "chatrelay",
		ServiceVersion: version.Info(),
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	store, err := buildLedger(cfg, logger)
	if err != nil {
		return err
	}
	if store != nil {
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn().Err(err).Msg("ledger close failed")
			}
		}()
	}

	upstream, err := buildAdapter(cfg)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector()
	rl := relay.New(upstream, relay.Options{
		SystemDirective: cfg.SystemDirective,
		Model:           cfg.Upstream.Model,
		Decoding:        cfg.Decoding,
		Ledger:          store,
		Counter:         tokencount.New(cfg.Upstream.Model),
		Metrics:         collector,
		Logger:          logger,
	})
	server := httpserver.New(rl, httpserver.Options{
		Ledger:  store,
		Metrics: collector,
		Logger:  logger,
		Version: version.Info(),
	})

	// Request contexts do not derive from the signal context: a signal starts
	// a drain, and streams are only cancelled once the drain window has passed.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		// streams run as long as the upstream keeps producing
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}

	logger.Info().
		Str("addr", cfg.ListenAddr).
		Str("provider", cfg.Upstream.Provider).
		Str("model", cfg.Upstream.Model).
		Str("ledger", cfg.Ledger.Driver).
		Str("version", version.Info()).
		Msg("relay server starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("relay server shutting down")
		return drain(srv, cancelBase, shutdownTimeout, abortGrace, logger)
	})
	return g.Wait()
}

// drain stops accepting requests and waits up to timeout for open streams to
// finish. Streams still running after that are cancelled, which ends each of
// them with an error event, and get grace to flush it before the server closes.
func drain(srv *http.Server, cancelBase context.CancelFunc, timeout, grace time.Duration, logger zerolog.Logger) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err == nil {
		return nil
	}

	logger.Warn().Dur("timeout", timeout).Msg("streams still open after drain; cancelling")
	cancelBase()
	graceCtx, cancelGrace := context.WithTimeout(context.Background(), grace)
	defer cancelGrace()
	if err := srv.Shutdown(graceCtx); err != nil {
		_ = srv.Close()
		return errors.Wrap(err, "graceful shutdown")
	}
	return nil
}

func buildLedger(cfg config.Config, logger zerolog.Logger) (ledger.Store, error) {
	var (
		store ledger.Store
		err   error
	)
	switch cfg.Ledger.Driver {
	case config.LedgerSQLite:
		store, err = ledgersql.New(cfg.Ledger.Path)
	case config.LedgerPostgres:
		store, err = ledgerpg.New(cfg.Ledger.DSN, ledgerpg.PoolConfig{
			MaxOpen:     10,
			MaxIdle:     5,
			MaxLifetime: 30 * time.Minute,
			MaxIdleTime: 5 * time.Minute,
		})
	default:
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open %s ledger", cfg.Ledger.Driver)
	}
	if cfg.Ledger.Async {
		l := logger.With().Str("component", "ledger").Logger()
		store = ledgerasync.New(store, ledgerasync.Config{Logger: &l})
	}
	return store, nil
}

func buildAdapter(cfg config.Config) (adapter.StreamingChatAdapter, error) {
	switch cfg.Upstream.Provider {
	case config.ProviderOpenAI:
		a, err := adapteropenai.New(adapteropenai.Config{
			APIKey:        cfg.Upstream.APIKey,
			BaseURL:       cfg.Upstream.BaseURL,
			HeaderTimeout: cfg.Upstream.Timeout,
		})
		if err != nil {
			return nil, errors.Wrap(err, "openai adapter")
		}
		return a, nil
	case config.ProviderLoopback:
		return loopback.New(), nil
	}
	return nil, errors.Errorf("unknown upstream provider %q", cfg.Upstream.Provider)
}
