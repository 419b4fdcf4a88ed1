package cron

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/causelift/campaign-engine/chains/evm"
	"github.com/causelift/campaign-engine/config"
	"github.com/causelift/campaign-engine/db"
	"github.com/causelift/campaign-engine/distribution"
	"github.com/causelift/campaign-engine/governance"
	"github.com/causelift/campaign-engine/store"
)

func testDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func TestRecoveryJob_StartStop(t *testing.T) {
	database := testDB(t)
	engine := distribution.NewEngine(database, nil, nil,
		map[string]evm.ContractVersion{}, nil, time.Minute, zerolog.Nop())

	job := NewRecoveryJob(engine, 50*time.Millisecond, zerolog.Nop())
	require.NoError(t, job.Start(context.Background()))
	require.NoError(t, job.Start(context.Background())) // second start is a no-op

	job.ForceRun()
	time.Sleep(20 * time.Millisecond)

	job.Stop()
	job.Stop() // second stop is a no-op
}

func TestRecoveryJob_RequiresEngine(t *testing.T) {
	job := NewRecoveryJob(nil, time.Second, zerolog.Nop())
	assert.Error(t, job.Start(context.Background()))
}

func TestExpiryJob_SweepsExpiredChanges(t *testing.T) {
	database := testDB(t)
	service := governance.NewService(database, nil, nil,
		map[string]evm.ContractVersion{}, config.GovernanceConfig{ChangeTTLHours: 168}, zerolog.Nop())

	change := &store.PendingSettingsChange{
		ID:            "stale",
		ChainID:       "eip155:1",
		ChangeType:    store.ChangeTypeFee,
		NewValue:      "150",
		ApprovalsJSON: "[]",
		Status:        store.ChangeStatusPending,
		ExecutableAt:  time.Now().Add(-48 * time.Hour),
		ExpiresAt:     time.Now().Add(-time.Hour),
	}
	require.NoError(t, database.Client().Create(change).Error)

	job := NewExpiryJob(service, 20*time.Millisecond, zerolog.Nop())
	require.NoError(t, job.Start(context.Background()))
	defer job.Stop()

	require.Eventually(t, func() bool {
		var stored store.PendingSettingsChange
		if err := database.Client().First(&stored, "id = ?", "stale").Error; err != nil {
			return false
		}
		return stored.Status == store.ChangeStatusExpired
	}, 2*time.Second, 10*time.Millisecond)
}
