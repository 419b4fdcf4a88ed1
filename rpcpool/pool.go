// Package rpcpool provides failover across a chain's RPC endpoints. The
// aggregator issues many reads per scan; a provider that starts failing is
// sidelined after a few consecutive errors and retried after a cooldown,
// so one flaky endpoint does not poison the whole scan.
package rpcpool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/causelift/campaign-engine/errors"
)

const (
	// unhealthyThreshold is the number of consecutive failures before an
	// endpoint is sidelined.
	unhealthyThreshold = 3

	// recoveryInterval is how long a sidelined endpoint stays out of
	// rotation before it is tried again.
	recoveryInterval = 2 * time.Minute
)

// Endpoint is one RPC URL with health bookkeeping.
type Endpoint struct {
	URL string

	mu                  sync.Mutex
	consecutiveFailures int
	sidelinedAt         time.Time
	requestCount        uint64
	failureCount        uint64
}

// NewEndpoint creates an endpoint for the given URL.
func NewEndpoint(url string) *Endpoint {
	return &Endpoint{URL: url}
}

// available reports whether the endpoint is in rotation.
func (e *Endpoint) available(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.consecutiveFailures < unhealthyThreshold {
		return true
	}
	return now.Sub(e.sidelinedAt) >= recoveryInterval
}

// MarkSuccess records a successful request.
func (e *Endpoint) MarkSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consecutiveFailures = 0
	e.requestCount++
}

// MarkFailure records a failed request, sidelining the endpoint once the
// threshold is crossed.
func (e *Endpoint) MarkFailure() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consecutiveFailures++
	e.requestCount++
	e.failureCount++
	if e.consecutiveFailures == unhealthyThreshold {
		e.sidelinedAt = time.Now()
	}
}

// Stats returns request/failure counters for observability.
func (e *Endpoint) Stats() (requests, failures uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requestCount, e.failureCount
}

// Pool selects endpoints round-robin, skipping sidelined ones.
type Pool struct {
	chainID   string
	endpoints []*Endpoint
	cursor    atomic.Uint64
	logger    zerolog.Logger
}

// NewPool creates a pool over the given URLs.
func NewPool(chainID string, urls []string, logger zerolog.Logger) (*Pool, error) {
	if len(urls) == 0 {
		return nil, errors.NewConfigError("no RPC URLs configured for chain " + chainID)
	}
	endpoints := make([]*Endpoint, len(urls))
	for i, url := range urls {
		endpoints[i] = NewEndpoint(url)
	}
	return &Pool{
		chainID:   chainID,
		endpoints: endpoints,
		logger:    logger.With().Str("component", "rpc_pool").Str("chain", chainID).Logger(),
	}, nil
}

// Select returns the next available endpoint. When every endpoint is
// sidelined the least recently sidelined one is returned anyway: a degraded
// provider beats refusing to scan at all.
func (p *Pool) Select() *Endpoint {
	now := time.Now()
	n := uint64(len(p.endpoints))
	start := p.cursor.Add(1)

	for i := uint64(0); i < n; i++ {
		endpoint := p.endpoints[(start+i)%n]
		if endpoint.available(now) {
			return endpoint
		}
	}

	p.logger.Warn().Msg("all endpoints sidelined, using fallback")
	fallback := p.endpoints[start%n]
	return fallback
}

// Endpoints returns all endpoints, for health reporting.
func (p *Pool) Endpoints() []*Endpoint {
	return p.endpoints
}
