package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/causelift/campaign-engine/store"
)

func TestDB_OpenModes(t *testing.T) {
	t.Run("in-memory alias", func(t *testing.T) {
		db, err := OpenInMemoryDB(true)
		require.NoError(t, err)
		require.NotNil(t, db)

		runSampleInsertSelectTest(t, db)
		assert.NoError(t, db.Close())
	})

	t.Run("file-based DB", func(t *testing.T) {
		dir := t.TempDir()
		dbName := "test.db"

		db, err := OpenFileDB(dir, dbName, true)
		require.NoError(t, err)
		require.NotNil(t, db)

		assert.FileExists(t, filepath.Join(dir, dbName))

		runSampleInsertSelectTest(t, db)

		assert.NoError(t, db.Close())
	})

	t.Run("invalid path fails", func(t *testing.T) {
		db, err := OpenFileDB("///invalid", "db.db", true)
		require.ErrorContains(t, err, "failed to prepare database path")
		require.Nil(t, db)
	})
}

func TestPendingDistributionGuard(t *testing.T) {
	db, err := OpenInMemoryDB(true)
	require.NoError(t, err)
	defer db.Close()

	first := store.DistributionRecord{
		ID:              "d-1",
		ContractAddress: "0xv8",
		CampaignID:      7,
		Kind:            store.DistributionKindFunds,
		PendingGuard:    store.DistributionStatusPending,
		Status:          store.DistributionStatusPending,
		TotalAmountWei:  "100",
	}
	require.NoError(t, db.Client().Create(&first).Error)

	// A second pending row for the same (contract, campaign, kind) must hit
	// the unique index.
	second := first
	second.ID = "d-2"
	err = db.Client().Create(&second).Error
	require.Error(t, err)

	// Terminal transition rewrites the guard to the row id, freeing the slot.
	first.Status = store.DistributionStatusCompleted
	first.PendingGuard = first.ID
	require.NoError(t, db.Client().Save(&first).Error)

	second.ID = "d-3"
	require.NoError(t, db.Client().Create(&second).Error)
}

func runSampleInsertSelectTest(t *testing.T, db *DB) {
	campaignID := uint64(26)
	entry := store.CampaignRecord{
		Title:           "Clean Water for Wells",
		ContractAddress: "0xv5",
		CampaignID:      &campaignID,
		Status:          store.CampaignStatusMinted,
		SoldCount:       12,
	}

	err := db.Client().Create(&entry).Error
	require.NoError(t, err)

	var result store.CampaignRecord
	err = db.Client().First(&result).Error
	require.NoError(t, err)
	require.NotNil(t, result.CampaignID)
	assert.Equal(t, uint64(26), *result.CampaignID)
	assert.Equal(t, uint64(12), result.SoldCount)
}
