package distribution

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/causelift/campaign-engine/chains/evm"
	"github.com/causelift/campaign-engine/db"
	engerrors "github.com/causelift/campaign-engine/errors"
	"github.com/causelift/campaign-engine/store"
)

var testContract = common.HexToAddress("0xdddddddddddddddddddddddddddddddddddddddd")

// fakeChain implements ChainReader and ChainWriter with scriptable state.
type fakeChain struct {
	mu sync.Mutex

	snapshot *evm.CampaignSnapshot
	readErr  error

	submitErr error
	submits   int

	receipt *evm.Receipt
	waitErr error
	// waitGate, when set, blocks WaitMined until closed or the context ends.
	waitGate chan struct{}
}

func (f *fakeChain) ReadCampaign(_ context.Context, _ string, _ common.Address, _ evm.ContractVersion, _ uint64) (*evm.CampaignSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	copied := *f.snapshot
	return &copied, nil
}

func (f *fakeChain) WithdrawFunds(context.Context, string, common.Address, evm.ContractVersion, uint64) (common.Hash, error) {
	return f.recordSubmit()
}

func (f *fakeChain) WithdrawTips(context.Context, string, common.Address, evm.ContractVersion, uint64, *big.Int, *big.Int) (common.Hash, error) {
	return f.recordSubmit()
}

func (f *fakeChain) recordSubmit() (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return common.Hash{}, f.submitErr
	}
	f.submits++
	return common.HexToHash("0xabc123"), nil
}

func (f *fakeChain) WaitMined(ctx context.Context, chainID string, _ common.Hash) (*evm.Receipt, error) {
	f.mu.Lock()
	gate := f.waitGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, engerrors.New(engerrors.ErrCodeTimeout, chainID, "confirmation wait timed out", ctx.Err())
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.waitErr != nil {
		return nil, f.waitErr
	}
	return f.receipt, nil
}

func (f *fakeChain) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

func v8Snapshot(campaignID uint64, gross, tips int64) *evm.CampaignSnapshot {
	return &evm.CampaignSnapshot{
		ChainID:         "eip155:1",
		ContractAddress: testContract,
		ContractVersion: evm.VersionV8,
		CampaignID:      campaignID,
		GrossRaisedWei:  big.NewInt(gross),
		TipsReceivedWei: big.NewInt(tips),
	}
}

func newEngineFixture(t *testing.T, chain *fakeChain, confirmTimeout time.Duration) (*Engine, *db.DB, *store.CampaignRecord) {
	t.Helper()
	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	campaignID := uint64(7)
	campaign := &store.CampaignRecord{
		ChainID:          "eip155:1",
		ContractAddress:  testContract.Hex(),
		CampaignID:       &campaignID,
		Status:           store.CampaignStatusMinted,
		SubmitterAddress: "0x1111111111111111111111111111111111111111",
		NonprofitAddress: "0x2222222222222222222222222222222222222222",
	}
	require.NoError(t, database.Client().Create(campaign).Error)

	versions := map[string]evm.ContractVersion{testContract.Hex(): evm.VersionV8}
	engine := NewEngine(database, chain, chain, versions, nil, confirmTimeout, zerolog.Nop())
	return engine, database, campaign
}

func TestDistribute_FundsHappyPath(t *testing.T) {
	chain := &fakeChain{
		snapshot: v8Snapshot(7, 1000, 0),
		receipt:  &evm.Receipt{TxHash: common.HexToHash("0xabc123"), Success: true},
	}
	engine, database, campaign := newEngineFixture(t, chain, time.Minute)

	record, err := engine.Distribute(context.Background(), "admin", campaign.ID, store.DistributionKindFunds, 0)
	require.NoError(t, err)
	assert.Equal(t, store.DistributionStatusCompleted, record.Status)
	assert.Equal(t, "1000", record.TotalAmountWei)
	assert.Equal(t, "1000", record.SubmitterAmountWei)
	assert.Equal(t, "0", record.NonprofitAmountWei)
	assert.Equal(t, 100, record.SplitPct)
	assert.NotEmpty(t, record.TxHash)
	require.NotNil(t, record.CompletedAt)

	var stored store.DistributionRecord
	require.NoError(t, database.Client().First(&stored, "id = ?", record.ID).Error)
	assert.Equal(t, store.DistributionStatusCompleted, stored.Status)
	assert.Equal(t, record.ID, stored.PendingGuard)

	var cached store.CampaignRecord
	require.NoError(t, database.Client().First(&cached, campaign.ID).Error)
	assert.Equal(t, "1000", cached.DistributedFundsWei)

	var audits []store.AuditLog
	require.NoError(t, database.Client().Where("action = ?", store.AuditActionDistribute).Find(&audits).Error)
	require.Len(t, audits, 1)
	assert.Equal(t, "admin", audits[0].Actor)
}

func TestDistribute_SubtractsCompletedDistributions(t *testing.T) {
	chain := &fakeChain{
		snapshot: v8Snapshot(7, 1000, 0),
		receipt:  &evm.Receipt{Success: true},
	}
	engine, database, campaign := newEngineFixture(t, chain, time.Minute)

	prior := &store.DistributionRecord{
		ID:              "prior",
		ChainID:         "eip155:1",
		ContractAddress: campaign.ContractAddress,
		CampaignID:      7,
		Kind:            store.DistributionKindFunds,
		PendingGuard:    "prior",
		Status:          store.DistributionStatusCompleted,
		TotalAmountWei:  "400",
	}
	require.NoError(t, database.Client().Create(prior).Error)

	record, err := engine.Distribute(context.Background(), "admin", campaign.ID, store.DistributionKindFunds, 0)
	require.NoError(t, err)
	assert.Equal(t, "600", record.TotalAmountWei)
}

func TestDistribute_NothingToDistribute(t *testing.T) {
	chain := &fakeChain{snapshot: v8Snapshot(7, 1000, 0)}
	engine, database, campaign := newEngineFixture(t, chain, time.Minute)

	prior := &store.DistributionRecord{
		ID:              "prior",
		ChainID:         "eip155:1",
		ContractAddress: campaign.ContractAddress,
		CampaignID:      7,
		Kind:            store.DistributionKindFunds,
		PendingGuard:    "prior",
		Status:          store.DistributionStatusCompleted,
		TotalAmountWei:  "1000",
	}
	require.NoError(t, database.Client().Create(prior).Error)

	_, err := engine.Distribute(context.Background(), "admin", campaign.ID, store.DistributionKindFunds, 0)
	require.Error(t, err)
	assert.True(t, engerrors.IsCode(err, engerrors.ErrCodeNothingToDistribute))
	assert.Zero(t, chain.submitCount())

	var count int64
	require.NoError(t, database.Client().Model(&store.DistributionRecord{}).Count(&count).Error)
	assert.EqualValues(t, 1, count) // only the seed row
}

func TestDistribute_TipsSplitFloorsSubmitterShare(t *testing.T) {
	chain := &fakeChain{
		snapshot: v8Snapshot(7, 0, 1001),
		receipt:  &evm.Receipt{Success: true},
	}
	engine, database, campaign := newEngineFixture(t, chain, time.Minute)

	record, err := engine.Distribute(context.Background(), "admin", campaign.ID, store.DistributionKindTips, 70)
	require.NoError(t, err)
	assert.Equal(t, "1001", record.TotalAmountWei)
	assert.Equal(t, "700", record.SubmitterAmountWei)
	assert.Equal(t, "301", record.NonprofitAmountWei)

	var cached store.CampaignRecord
	require.NoError(t, database.Client().First(&cached, campaign.ID).Error)
	assert.Equal(t, "1001", cached.DistributedTipsWei)
	assert.Equal(t, "0", cached.DistributedFundsWei)
}

func TestDistribute_TipsRejectedWithoutTipTracking(t *testing.T) {
	snapshot := v8Snapshot(7, 1000, 0)
	snapshot.ContractVersion = evm.VersionV5
	snapshot.TipsReceivedWei = nil
	chain := &fakeChain{snapshot: snapshot}
	engine, _, campaign := newEngineFixture(t, chain, time.Minute)

	_, err := engine.Distribute(context.Background(), "admin", campaign.ID, store.DistributionKindTips, 50)
	require.Error(t, err)
	assert.True(t, engerrors.IsCode(err, engerrors.ErrCodeValidation))
	assert.Zero(t, chain.submitCount())
}

func TestDistribute_ValidationRejectsBeforeSideEffects(t *testing.T) {
	chain := &fakeChain{snapshot: v8Snapshot(7, 1000, 0)}
	engine, database, campaign := newEngineFixture(t, chain, time.Minute)

	_, err := engine.Distribute(context.Background(), "admin", campaign.ID, "dividends", 0)
	assert.True(t, engerrors.IsCode(err, engerrors.ErrCodeValidation))

	_, err = engine.Distribute(context.Background(), "admin", campaign.ID, store.DistributionKindTips, 101)
	assert.True(t, engerrors.IsCode(err, engerrors.ErrCodeValidation))

	unlinked := &store.CampaignRecord{ChainID: "eip155:1", Status: store.CampaignStatusApproved}
	require.NoError(t, database.Client().Create(unlinked).Error)
	_, err = engine.Distribute(context.Background(), "admin", unlinked.ID, store.DistributionKindFunds, 0)
	assert.True(t, engerrors.IsCode(err, engerrors.ErrCodeValidation))

	var count int64
	require.NoError(t, database.Client().Model(&store.DistributionRecord{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Zero(t, chain.submitCount())
}

func TestDistribute_ConcurrentRequestRejectedFast(t *testing.T) {
	gate := make(chan struct{})
	chain := &fakeChain{
		snapshot: v8Snapshot(7, 1000, 0),
		receipt:  &evm.Receipt{Success: true},
		waitGate: gate,
	}
	engine, database, campaign := newEngineFixture(t, chain, time.Minute)

	firstDone := make(chan error, 1)
	go func() {
		_, err := engine.Distribute(context.Background(), "admin", campaign.ID, store.DistributionKindFunds, 0)
		firstDone <- err
	}()

	// Wait until the first request has submitted and is blocked on
	// confirmation, so its pending row is holding the guard.
	require.Eventually(t, func() bool { return chain.submitCount() == 1 },
		2*time.Second, 5*time.Millisecond)

	_, err := engine.Distribute(context.Background(), "admin", campaign.ID, store.DistributionKindFunds, 0)
	require.Error(t, err)
	assert.True(t, engerrors.IsCode(err, engerrors.ErrCodeDistributionInProgress))

	close(gate)
	require.NoError(t, <-firstDone)

	// Exactly one transfer happened and exactly one record reached a
	// terminal state.
	assert.Equal(t, 1, chain.submitCount())
	var records []store.DistributionRecord
	require.NoError(t, database.Client().Find(&records).Error)
	require.Len(t, records, 1)
	assert.Equal(t, store.DistributionStatusCompleted, records[0].Status)
}

func TestDistribute_SubmitFailureMarksFailedAndReleasesGuard(t *testing.T) {
	chain := &fakeChain{
		snapshot:  v8Snapshot(7, 1000, 0),
		submitErr: engerrors.NewInsufficientFundsError("eip155:1", "relayer balance too low", "500"),
	}
	engine, database, campaign := newEngineFixture(t, chain, time.Minute)

	record, err := engine.Distribute(context.Background(), "admin", campaign.ID, store.DistributionKindFunds, 0)
	require.Error(t, err)
	assert.True(t, engerrors.IsCode(err, engerrors.ErrCodeInsufficientFunds))
	require.NotNil(t, record)
	assert.Equal(t, store.DistributionStatusFailed, record.Status)
	assert.Contains(t, record.FailureReason, "relayer balance too low")

	// The failed row released the pending guard: a fresh attempt can
	// insert its own pending record instead of DISTRIBUTION_IN_PROGRESS.
	_, err = engine.Distribute(context.Background(), "admin", campaign.ID, store.DistributionKindFunds, 0)
	require.Error(t, err)
	assert.True(t, engerrors.IsCode(err, engerrors.ErrCodeInsufficientFunds))

	var records []store.DistributionRecord
	require.NoError(t, database.Client().Order("created_at").Find(&records).Error)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, store.DistributionStatusFailed, r.Status)
	}
}

func TestDistribute_ConfirmationTimeoutLeavesPending(t *testing.T) {
	gate := make(chan struct{}) // never closed: confirmation never arrives
	chain := &fakeChain{
		snapshot: v8Snapshot(7, 1000, 0),
		receipt:  &evm.Receipt{Success: true},
		waitGate: gate,
	}
	engine, database, campaign := newEngineFixture(t, chain, 50*time.Millisecond)

	record, err := engine.Distribute(context.Background(), "admin", campaign.ID, store.DistributionKindFunds, 0)
	require.NoError(t, err)
	assert.Equal(t, store.DistributionStatusPending, record.Status)
	assert.NotEmpty(t, record.TxHash)

	var stored store.DistributionRecord
	require.NoError(t, database.Client().First(&stored, "id = ?", record.ID).Error)
	assert.Equal(t, store.DistributionStatusPending, stored.Status)
	assert.Equal(t, record.TxHash, stored.TxHash)

	// While the record is pending, a second request must not recompute.
	_, err = engine.Distribute(context.Background(), "admin", campaign.ID, store.DistributionKindFunds, 0)
	assert.True(t, engerrors.IsCode(err, engerrors.ErrCodeDistributionInProgress))
	assert.Equal(t, 1, chain.submitCount())
}

func TestRecoverPending_SettlesFromReceiptWithoutResubmitting(t *testing.T) {
	gate := make(chan struct{})
	chain := &fakeChain{
		snapshot: v8Snapshot(7, 1000, 0),
		receipt:  &evm.Receipt{Success: true},
		waitGate: gate,
	}
	engine, database, campaign := newEngineFixture(t, chain, 50*time.Millisecond)

	record, err := engine.Distribute(context.Background(), "admin", campaign.ID, store.DistributionKindFunds, 0)
	require.NoError(t, err)
	require.Equal(t, store.DistributionStatusPending, record.Status)

	// The receipt becomes available; recovery settles from the stored hash.
	chain.mu.Lock()
	chain.waitGate = nil
	chain.mu.Unlock()
	time.Sleep(60 * time.Millisecond) // age the row past the recovery cutoff

	require.NoError(t, engine.RecoverPending(context.Background()))

	var stored store.DistributionRecord
	require.NoError(t, database.Client().First(&stored, "id = ?", record.ID).Error)
	assert.Equal(t, store.DistributionStatusCompleted, stored.Status)
	assert.Equal(t, record.ID, stored.PendingGuard)
	assert.Equal(t, 1, chain.submitCount())

	var cached store.CampaignRecord
	require.NoError(t, database.Client().First(&cached, campaign.ID).Error)
	assert.Equal(t, "1000", cached.DistributedFundsWei)
}

func TestRecoverPending_SkipsRowsWithoutTxHash(t *testing.T) {
	chain := &fakeChain{receipt: &evm.Receipt{Success: true}}
	engine, database, _ := newEngineFixture(t, chain, 10*time.Millisecond)

	orphan := &store.DistributionRecord{
		ID:              "orphan",
		ChainID:         "eip155:1",
		ContractAddress: testContract.Hex(),
		CampaignID:      9,
		Kind:            store.DistributionKindFunds,
		PendingGuard:    store.DistributionStatusPending,
		Status:          store.DistributionStatusPending,
		TotalAmountWei:  "100",
	}
	require.NoError(t, database.Client().Create(orphan).Error)
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, engine.RecoverPending(context.Background()))

	var stored store.DistributionRecord
	require.NoError(t, database.Client().First(&stored, "id = ?", "orphan").Error)
	assert.Equal(t, store.DistributionStatusPending, stored.Status)
}

func TestDistribute_RevertedTransactionMarksFailed(t *testing.T) {
	chain := &fakeChain{
		snapshot: v8Snapshot(7, 1000, 0),
		receipt:  &evm.Receipt{Success: false},
	}
	engine, database, campaign := newEngineFixture(t, chain, time.Minute)

	record, err := engine.Distribute(context.Background(), "admin", campaign.ID, store.DistributionKindFunds, 0)
	require.NoError(t, err)
	assert.Equal(t, store.DistributionStatusFailed, record.Status)
	assert.Contains(t, record.FailureReason, "reverted")

	// A reverted transfer moved no funds, so the cache total stays put.
	var cached store.CampaignRecord
	require.NoError(t, database.Client().First(&cached, campaign.ID).Error)
	assert.Equal(t, "0", cached.DistributedFundsWei)
}

func TestNoDoubleDistributionInvariant(t *testing.T) {
	chain := &fakeChain{
		snapshot: v8Snapshot(7, 1000, 0),
		receipt:  &evm.Receipt{Success: true},
	}
	engine, database, campaign := newEngineFixture(t, chain, time.Minute)
	ctx := context.Background()

	_, err := engine.Distribute(ctx, "admin", campaign.ID, store.DistributionKindFunds, 0)
	require.NoError(t, err)

	_, err = engine.Distribute(ctx, "admin", campaign.ID, store.DistributionKindFunds, 0)
	assert.True(t, engerrors.IsCode(err, engerrors.ErrCodeNothingToDistribute))

	// More funds arrive on-chain; only the delta is distributable.
	chain.mu.Lock()
	chain.snapshot.GrossRaisedWei = big.NewInt(1500)
	chain.mu.Unlock()

	record, err := engine.Distribute(ctx, "admin", campaign.ID, store.DistributionKindFunds, 0)
	require.NoError(t, err)
	assert.Equal(t, "500", record.TotalAmountWei)

	var completed []store.DistributionRecord
	require.NoError(t, database.Client().
		Where("status = ?", store.DistributionStatusCompleted).Find(&completed).Error)
	sum := new(big.Int)
	for i := range completed {
		sum.Add(sum, completed[i].TotalAmount())
	}
	assert.True(t, sum.Cmp(big.NewInt(1500)) <= 0)
	assert.Equal(t, "1500", sum.String())
}
