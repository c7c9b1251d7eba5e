package async

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tokligence/chatrelay/internal/ledger"
)

// ErrClosed is returned by Record after Close.
var ErrClosed = errors.New("async ledger closed")

// Store wraps a ledger.Store with asynchronous batch writes.
// Entries are queued in memory and written in batches so that the relay never
// waits on the database. Entries may be lost if the process crashes before flushing.
type Store struct {
	underlying    ledger.Store
	entryChan     chan ledger.Entry
	batchSize     int
	flushInterval time.Duration
	wg            sync.WaitGroup
	mu            sync.RWMutex
	closed        bool
	logger        zerolog.Logger
}

// Config configures the async ledger behavior.
type Config struct {
	BatchSize     int           // maximum entries per batch (default: 100)
	FlushInterval time.Duration // maximum time between flushes (default: 1s)
	ChannelBuffer int           // queued entries before Record starts dropping (default: 10000)
	NumWorkers    int           // parallel batch writers (default: 1)
	Logger        *zerolog.Logger
}

// New wraps an existing ledger store with async batch writing.
func New(underlying ledger.Store, cfg Config) *Store {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 1 * time.Second
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = 10000
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "async-ledger").Logger()
	}

	s := &Store{
		underlying:    underlying,
		entryChan:     make(chan ledger.Entry, cfg.ChannelBuffer),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		logger:        logger,
	}

	for i := 0; i < cfg.NumWorkers; i++ {
		s.wg.Add(1)
		go s.batchWriter(i)
	}

	s.logger.Info().
		Int("workers", cfg.NumWorkers).
		Int("batch_size", cfg.BatchSize).
		Dur("flush_interval", cfg.FlushInterval).
		Int("buffer", cfg.ChannelBuffer).
		Msg("started")

	return s
}

// batchWriter drains entryChan until it is closed, writing in batches.
func (s *Store) batchWriter(workerID int) {
	defer s.wg.Done()

	batch := make([]ledger.Entry, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		ctx := context.Background()
		written := 0
		for _, entry := range batch {
			if err := s.underlying.Record(ctx, entry); err != nil {
				s.logger.Error().Err(err).Int("worker", workerID).Str("exchange_id", entry.ExchangeID).Msg("write entry")
				continue
			}
			written++
		}
		s.logger.Debug().
			Int("worker", workerID).
			Int("written", written).
			Int("batch", len(batch)).
			Dur("elapsed", time.Since(start)).
			Msg("flushed")
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-s.entryChan:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Record queues an entry for asynchronous writing. It never blocks; when the
// queue is full the entry is dropped and logged.
func (s *Store) Record(ctx context.Context, entry ledger.Entry) error {
	if err := ledger.Validate(entry); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.entryChan <- entry:
	default:
		s.logger.Warn().Str("exchange_id", entry.ExchangeID).Msg("queue full, dropping entry")
	}
	return nil
}

// Summary delegates to the underlying store.
func (s *Store) Summary(ctx context.Context) (ledger.Summary, error) {
	return s.underlying.Summary(ctx)
}

// ListRecent delegates to the underlying store.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]ledger.Entry, error) {
	return s.underlying.ListRecent(ctx, limit)
}

// Close flushes remaining entries and closes the underlying store. Safe to call twice.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.entryChan)
	s.mu.Unlock()

	s.wg.Wait()
	return s.underlying.Close()
}
