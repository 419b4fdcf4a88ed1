package rpcpool

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) zerolog.Logger {
	return zerolog.New(zerolog.NewTestWriter(t))
}

func TestNewPool_RequiresURLs(t *testing.T) {
	pool, err := NewPool("eip155:1", nil, testLogger(t))
	require.Error(t, err)
	require.Nil(t, pool)
}

func TestPool_RoundRobin(t *testing.T) {
	pool, err := NewPool("eip155:1", []string{"http://a", "http://b"}, testLogger(t))
	require.NoError(t, err)

	first := pool.Select()
	second := pool.Select()
	assert.NotEqual(t, first.URL, second.URL)
}

func TestPool_SkipsSidelinedEndpoint(t *testing.T) {
	pool, err := NewPool("eip155:1", []string{"http://a", "http://b"}, testLogger(t))
	require.NoError(t, err)

	bad := pool.Endpoints()[0]
	for i := 0; i < unhealthyThreshold; i++ {
		bad.MarkFailure()
	}

	for i := 0; i < 4; i++ {
		assert.NotEqual(t, bad.URL, pool.Select().URL)
	}
}

func TestPool_FallbackWhenAllSidelined(t *testing.T) {
	pool, err := NewPool("eip155:1", []string{"http://a"}, testLogger(t))
	require.NoError(t, err)

	only := pool.Endpoints()[0]
	for i := 0; i < unhealthyThreshold; i++ {
		only.MarkFailure()
	}

	// Degraded or not, Select never returns nil.
	require.NotNil(t, pool.Select())
}

func TestEndpoint_RecoveryAfterSuccess(t *testing.T) {
	e := NewEndpoint("http://a")
	e.MarkFailure()
	e.MarkFailure()
	e.MarkSuccess()

	requests, failures := e.Stats()
	assert.Equal(t, uint64(3), requests)
	assert.Equal(t, uint64(2), failures)

	pool := &Pool{chainID: "eip155:1", endpoints: []*Endpoint{e}}
	assert.Equal(t, e, pool.Select())
}
