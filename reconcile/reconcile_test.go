package reconcile

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/causelift/campaign-engine/chains/evm"
	engerrors "github.com/causelift/campaign-engine/errors"
	"github.com/causelift/campaign-engine/ledger"
	"github.com/causelift/campaign-engine/store"
)

var contractV5 = common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")

func snapshot(contract common.Address, id, minted uint64, uri string) *evm.CampaignSnapshot {
	return &evm.CampaignSnapshot{
		ChainID:          "eip155:1",
		ContractAddress:  contract,
		ContractVersion:  evm.VersionV8,
		CampaignID:       id,
		MetadataURI:      uri,
		EditionsMinted:   minted,
		GrossRaisedWei:   big.NewInt(int64(minted) * 1000),
		SubmitterAddress: common.HexToAddress("0x1111111111111111111111111111111111111111"),
	}
}

func record(id uint, contract common.Address, campaignID *uint64, sold uint64, uri string) store.CampaignRecord {
	return store.CampaignRecord{
		Model:           gorm.Model{ID: id},
		ChainID:         "eip155:1",
		ContractAddress: contract.Hex(),
		CampaignID:      campaignID,
		SoldCount:       sold,
		MetadataURI:     uri,
		Status:          store.CampaignStatusMinted,
	}
}

func u64(v uint64) *uint64 { return &v }

func viewWith(snapshots ...*evm.CampaignSnapshot) *ledger.LedgerView {
	view := ledger.NewView()
	var maxID uint64
	for _, s := range snapshots {
		view.AddSnapshot(s)
		if s.CampaignID >= maxID {
			maxID = s.CampaignID + 1
		}
	}
	view.SetScanRange(contractV5, maxID, maxID)
	return view
}

func TestReconcile_CleanMatchProducesNothing(t *testing.T) {
	view := viewWith(snapshot(contractV5, 26, 12, "ipfs://a"))
	records := []store.CampaignRecord{record(1, contractV5, u64(26), 12, "ipfs://a")}

	assert.Empty(t, Reconcile(view, records))
}

func TestReconcile_SoldCountMismatch(t *testing.T) {
	view := viewWith(snapshot(contractV5, 26, 12, "ipfs://a"))
	records := []store.CampaignRecord{record(1, contractV5, u64(26), 9, "ipfs://a")}

	out := Reconcile(view, records)
	require.Len(t, out, 1)
	assert.Equal(t, KindSoldCountMismatch, out[0].Kind)
	assert.Equal(t, uint64(12), out[0].EditionsMinted)
	assert.Equal(t, uint64(9), out[0].CacheSoldCount)
	assert.Equal(t, uint(1), out[0].RecordID)
}

func TestReconcile_OrphanWithSalesIsHighPriority(t *testing.T) {
	// Spec scenario: campaign 38 with 100 editions minted and no record.
	view := viewWith(snapshot(contractV5, 38, 100, "ipfs://orphan"))

	out := Reconcile(view, nil)
	require.Len(t, out, 1)
	assert.Equal(t, KindOrphanOnChain, out[0].Kind)
	assert.Equal(t, PriorityHigh, out[0].Priority)
	assert.Equal(t, uint64(100), out[0].EditionsMinted)
}

func TestReconcile_OrphanWithoutSalesIsLowPriority(t *testing.T) {
	view := viewWith(snapshot(contractV5, 4, 0, "ipfs://dup"))

	out := Reconcile(view, nil)
	require.Len(t, out, 1)
	assert.Equal(t, KindOrphanOnChain, out[0].Kind)
	assert.Equal(t, PriorityLow, out[0].Priority)
}

func TestReconcile_UnlinkedMetadataMatch(t *testing.T) {
	view := viewWith(snapshot(contractV5, 31, 5, "ipfs://retry"))
	// The record claims id 30, which the scan confirms absent, but its URI
	// matches campaign 31. One classification only: the candidate relink.
	records := []store.CampaignRecord{record(7, contractV5, u64(30), 5, "ipfs://retry")}

	out := Reconcile(view, records)
	require.Len(t, out, 1)
	assert.Equal(t, KindUnlinkedMetadataMatch, out[0].Kind)
	assert.Equal(t, uint(7), out[0].RecordID)
	require.NotNil(t, out[0].CampaignID)
	assert.Equal(t, uint64(31), *out[0].CampaignID)
}

func TestReconcile_MissingOnChain(t *testing.T) {
	view := viewWith(snapshot(contractV5, 0, 1, "ipfs://zero"))
	records := []store.CampaignRecord{
		record(1, contractV5, u64(0), 1, "ipfs://zero"),
		record(2, contractV5, u64(99), 3, "ipfs://gone"),
	}

	out := Reconcile(view, records)
	require.Len(t, out, 1)
	assert.Equal(t, KindMissingOnChain, out[0].Kind)
	assert.Equal(t, uint(2), out[0].RecordID)
}

func TestReconcile_FailedReadIsNotMissing(t *testing.T) {
	view := ledger.NewView()
	view.SetScanRange(contractV5, 5, 5)
	view.AddReadFailure(ledger.ReadFailure{
		ChainID:         "eip155:1",
		ContractAddress: contractV5,
		CampaignID:      3,
		Err:             engerrors.NewRPCError("eip155:1", "timeout", nil),
	})

	records := []store.CampaignRecord{record(1, contractV5, u64(3), 2, "ipfs://x")}

	// Record 1's campaign could not be read; it must not be classified.
	assert.Empty(t, Reconcile(view, records))
}

func TestReconcile_DuplicateLink(t *testing.T) {
	// Spec scenario: two records both reference (contract, 26).
	view := viewWith(snapshot(contractV5, 26, 10, "ipfs://a"))
	records := []store.CampaignRecord{
		record(1, contractV5, u64(26), 10, "ipfs://a"),
		record(2, contractV5, u64(26), 10, "ipfs://b"),
	}

	out := Reconcile(view, records)
	require.Len(t, out, 1)
	assert.Equal(t, KindDuplicateLink, out[0].Kind)
	assert.ElementsMatch(t, []uint{1, 2}, out[0].RecordIDs)
}

func TestReconcile_CaseInsensitiveContractMatch(t *testing.T) {
	view := viewWith(snapshot(contractV5, 26, 12, "ipfs://a"))
	rec := record(1, contractV5, u64(26), 12, "ipfs://a")
	rec.ContractAddress = "0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC"
	assert.Empty(t, Reconcile(view, []store.CampaignRecord{rec}))
}

func TestReconcile_EveryPairClassifiedAtMostOnce(t *testing.T) {
	view := viewWith(
		snapshot(contractV5, 0, 3, "ipfs://a"),
		snapshot(contractV5, 1, 0, "ipfs://b"),
		snapshot(contractV5, 2, 7, "ipfs://c"),
	)
	records := []store.CampaignRecord{
		record(1, contractV5, u64(0), 3, "ipfs://a"),  // clean
		record(2, contractV5, u64(2), 4, "ipfs://c"),  // sold mismatch
		record(3, contractV5, u64(50), 0, "ipfs://z"), // missing
	}

	out := Reconcile(view, records)

	seenRecords := map[uint]int{}
	for _, d := range out {
		if d.RecordID != 0 {
			seenRecords[d.RecordID]++
		}
	}
	for id, n := range seenRecords {
		assert.Equal(t, 1, n, "record %d classified %d times", id, n)
	}
	require.Len(t, out, 3) // mismatch, orphan (id 1), missing
}
