package metrics

import (
	"sync"
	"time"
)

// Collector tracks HTTP traffic and exchange outcomes for the Prometheus
// text endpoint. A nil *Collector ignores every call.
type Collector struct {
	mu sync.RWMutex

	// HTTP metrics, keyed by route pattern
	totalRequests      map[string]int64
	totalRequestsDur   map[string]int64 // ms
	requestErrors      map[string]int64 // 5xx responses
	requestsInProgress map[string]int64

	// Exchange metrics
	exchanges             map[string]int64 // by outcome
	upstreamFailures      map[string]int64 // by model, exchanges that never started
	fragments             int64
	ttfbMs                int64
	exchangeMs            int64
	totalPromptTokens     int64
	totalCompletionTokens int64
	tokensByModel         map[string]int64

	startTime time.Time
}

// Exchange summarizes one finished exchange.
type Exchange struct {
	Model            string
	Outcome          string
	Fragments        int
	PromptTokens     int
	CompletionTokens int
	TTFB             time.Duration
	Duration         time.Duration
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		totalRequests:      make(map[string]int64),
		totalRequestsDur:   make(map[string]int64),
		requestErrors:      make(map[string]int64),
		requestsInProgress: make(map[string]int64),
		exchanges:          make(map[string]int64),
		upstreamFailures:   make(map[string]int64),
		tokensByModel:      make(map[string]int64),
		startTime:          time.Now(),
	}
}

// RecordRequestStart increments in-progress requests.
func (c *Collector) RecordRequestStart(route string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestsInProgress[route]++
}

// RecordRequestEnd closes a request opened with RecordRequestStart for the same route.
func (c *Collector) RecordRequestEnd(route string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestsInProgress[route]--
	if c.requestsInProgress[route] <= 0 {
		delete(c.requestsInProgress, route)
	}
	c.totalRequests[route]++
	c.totalRequestsDur[route] += duration.Milliseconds()
	if status >= 500 {
		c.requestErrors[route]++
	}
}

// RecordExchange records a finished exchange.
func (c *Collector) RecordExchange(ex Exchange) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchanges[ex.Outcome]++
	c.fragments += int64(ex.Fragments)
	c.ttfbMs += ex.TTFB.Milliseconds()
	c.exchangeMs += ex.Duration.Milliseconds()
	c.totalPromptTokens += int64(ex.PromptTokens)
	c.totalCompletionTokens += int64(ex.CompletionTokens)
	if ex.Model != "" {
		c.tokensByModel[ex.Model] += int64(ex.PromptTokens + ex.CompletionTokens)
	}
}

// RecordUpstreamFailure records an exchange the upstream refused before its first fragment.
func (c *Collector) RecordUpstreamFailure(model string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upstreamFailures[model]++
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	Uptime                int64
	TotalRequests         map[string]int64
	TotalRequestsDur      map[string]int64
	RequestErrors         map[string]int64
	RequestsInProgress    map[string]int64
	Exchanges             map[string]int64
	UpstreamFailures      map[string]int64
	Fragments             int64
	TTFBMs                int64
	ExchangeMs            int64
	TotalPromptTokens     int64
	TotalCompletionTokens int64
	TokensByModel         map[string]int64
}

// GetSnapshot returns a snapshot of current metrics.
func (c *Collector) GetSnapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Uptime:                int64(time.Since(c.startTime).Seconds()),
		TotalRequests:         copyMap(c.totalRequests),
		TotalRequestsDur:      copyMap(c.totalRequestsDur),
		RequestErrors:         copyMap(c.requestErrors),
		RequestsInProgress:    copyMap(c.requestsInProgress),
		Exchanges:             copyMap(c.exchanges),
		UpstreamFailures:      copyMap(c.upstreamFailures),
		Fragments:             c.fragments,
		TTFBMs:                c.ttfbMs,
		ExchangeMs:            c.exchangeMs,
		TotalPromptTokens:     c.totalPromptTokens,
		TotalCompletionTokens: c.totalCompletionTokens,
		TokensByModel:         copyMap(c.tokensByModel),
	}
}

func copyMap(m map[string]int64) map[string]int64 {
	result := make(map[string]int64, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}
