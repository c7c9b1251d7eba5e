package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Outcome describes how a relayed exchange ended.
type Outcome string

const (
	// OutcomeCompleted means the upstream stream was exhausted and [DONE] was written.
	OutcomeCompleted Outcome = "completed"
	// OutcomeInterrupted means the upstream failed after the stream had started.
	OutcomeInterrupted Outcome = "interrupted"
	// OutcomeAborted means the downstream client went away before the end.
	OutcomeAborted Outcome = "aborted"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeCompleted, OutcomeInterrupted, OutcomeAborted:
		return true
	}
	return false
}

// Entry represents a single relayed exchange written to the usage ledger.
// Message content is never stored.
type Entry struct {
	ID               int64     `json:"id"`
	ExchangeID       string    `json:"exchange_id"`
	Model            string    `json:"model"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	Fragments        int64     `json:"fragments"`
	Outcome          Outcome   `json:"outcome"`
	DurationMs       int64     `json:"duration_ms"`
	TTFBMs           int64     `json:"ttfb_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// Summary aggregates usage across all recorded exchanges.
type Summary struct {
	Exchanges        int64 `json:"exchanges"`
	Completed        int64 `json:"completed"`
	Interrupted      int64 `json:"interrupted"`
	Aborted          int64 `json:"aborted"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Store defines persistence behaviour for the ledger.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Summary(ctx context.Context) (Summary, error)
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// DefaultListLimit applies when ListRecent is called without a positive limit.
const DefaultListLimit = 50

// Validate checks the fields every backend requires before writing.
func Validate(entry Entry) error {
	if entry.ExchangeID == "" {
		return errors.New("ledger record requires exchange id")
	}
	if !entry.Outcome.Valid() {
		return fmt.Errorf("invalid outcome %q", entry.Outcome)
	}
	if entry.PromptTokens < 0 || entry.CompletionTokens < 0 {
		return errors.New("token counts must not be negative")
	}
	return nil
}
